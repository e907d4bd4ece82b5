package repo

import (
	"context"
	"errors"
	"testing"

	"github.com/tbourn/go-event-gateway/internal/domain"
)

func newSub(tenantID string, types ...string) *domain.WebhookSubscription {
	sub := &domain.WebhookSubscription{
		TenantID:      tenantID,
		URL:           "https://example.com/hook",
		IsActive:      true,
		RetryAttempts: 3,
		RetryDelayMs:  5000,
		TimeoutMs:     30000,
	}
	sub.SetTypes(types)
	return sub
}

func TestSubscriptionCRUD(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	created, err := CreateSubscription(ctx, db, newSub("t1", "MESSAGES_UPSERT"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.ID == "" {
		t.Fatal("id not assigned")
	}

	got, err := GetSubscription(ctx, db, "t1", created.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.URL != "https://example.com/hook" {
		t.Fatalf("url = %q", got.URL)
	}

	// Foreign tenants never see the row.
	if _, err := GetSubscription(ctx, db, "t2", created.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("cross-tenant get err = %v, want ErrNotFound", err)
	}

	got.URL = "https://example.com/hook2"
	got.IsActive = false
	if err := UpdateSubscription(ctx, db, got); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, _ = GetSubscription(ctx, db, "t1", created.ID)
	if got.URL != "https://example.com/hook2" || got.IsActive {
		t.Fatalf("after update: %+v", got)
	}

	if err := DeleteSubscription(ctx, db, "t1", created.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := GetSubscription(ctx, db, "t1", created.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("get after delete err = %v, want ErrNotFound", err)
	}
	if err := DeleteSubscription(ctx, db, "t1", created.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("double delete err = %v, want ErrNotFound", err)
	}
}

func TestListActiveSubscriptions_MatchesExactType(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	matching, _ := CreateSubscription(ctx, db, newSub("t1", "MESSAGES_UPSERT", "CONNECTION_UPDATE"))
	// MESSAGES_UPDATE is a superstring trap for the LIKE prefilter.
	if _, err := CreateSubscription(ctx, db, newSub("t1", "MESSAGES_UPDATE")); err != nil {
		t.Fatalf("create trap: %v", err)
	}
	inactive := newSub("t1", "MESSAGES_UPSERT")
	inactive.IsActive = false
	if _, err := CreateSubscription(ctx, db, inactive); err != nil {
		t.Fatalf("create inactive: %v", err)
	}
	if _, err := CreateSubscription(ctx, db, newSub("t2", "MESSAGES_UPSERT")); err != nil {
		t.Fatalf("create foreign: %v", err)
	}

	subs, err := ListActiveSubscriptions(ctx, db, "t1", "MESSAGES_UPSERT")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(subs) != 1 || subs[0].ID != matching.ID {
		t.Fatalf("expected only the exact active match, got %d", len(subs))
	}
}

func TestListSubscriptions_TenantScoped(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	if _, err := CreateSubscription(ctx, db, newSub("t1", "MESSAGES_UPSERT")); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := CreateSubscription(ctx, db, newSub("t2", "MESSAGES_UPSERT")); err != nil {
		t.Fatalf("create: %v", err)
	}

	subs, err := ListSubscriptions(ctx, db, "t1")
	if err != nil || len(subs) != 1 {
		t.Fatalf("list = %d subs, %v", len(subs), err)
	}
}
