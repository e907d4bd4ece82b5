package repo

import (
	"context"
	"testing"
	"time"

	"github.com/tbourn/go-event-gateway/internal/domain"
)

func TestListDeliveryAttempts_TenantScopedAndPaginated(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	own, _ := CreateSubscription(ctx, db, newSub("t1", "MESSAGES_UPSERT"))
	foreign, _ := CreateSubscription(ctx, db, newSub("t2", "MESSAGES_UPSERT"))

	for i := 0; i < 3; i++ {
		if err := RecordDeliveryAttempt(ctx, db, &domain.DeliveryAttempt{
			SubscriptionID: own.ID,
			EventID:        "e1",
			AttemptNumber:  i + 1,
			Outcome:        domain.DeliveryFailed,
			HTTPStatus:     500,
			CreatedAt:      time.Now().UTC().Add(time.Duration(i) * time.Second),
		}); err != nil {
			t.Fatalf("record %d: %v", i, err)
		}
	}
	if err := RecordDeliveryAttempt(ctx, db, &domain.DeliveryAttempt{
		SubscriptionID: foreign.ID,
		EventID:        "e2",
		AttemptNumber:  1,
		Outcome:        domain.DeliverySuccess,
		HTTPStatus:     200,
	}); err != nil {
		t.Fatalf("record foreign: %v", err)
	}

	attempts, total, err := ListDeliveryAttempts(ctx, db, "t1", 0, 2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 3 {
		t.Fatalf("total = %d, want 3", total)
	}
	if len(attempts) != 2 {
		t.Fatalf("page len = %d, want 2", len(attempts))
	}
	// Newest first.
	if attempts[0].AttemptNumber != 3 {
		t.Fatalf("first item attempt = %d, want 3", attempts[0].AttemptNumber)
	}

	attempts, _, err = ListDeliveryAttempts(ctx, db, "t1", 2, 2)
	if err != nil || len(attempts) != 1 {
		t.Fatalf("second page len = %d, %v", len(attempts), err)
	}
}

func TestSweepDeliveryAttempts(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	sub, _ := CreateSubscription(ctx, db, newSub("t1", "MESSAGES_UPSERT"))

	now := time.Now().UTC()
	for _, at := range []time.Time{now.Add(-100 * time.Hour), now} {
		if err := RecordDeliveryAttempt(ctx, db, &domain.DeliveryAttempt{
			SubscriptionID: sub.ID,
			EventID:        "e1",
			AttemptNumber:  1,
			Outcome:        domain.DeliverySuccess,
			CreatedAt:      at,
		}); err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	removed, err := SweepDeliveryAttempts(ctx, db, now.Add(-72*time.Hour))
	if err != nil || removed != 1 {
		t.Fatalf("removed = %d, %v", removed, err)
	}
	_, total, _ := ListDeliveryAttempts(ctx, db, "t1", 0, 10)
	if total != 1 {
		t.Fatalf("remaining = %d, want 1", total)
	}
}
