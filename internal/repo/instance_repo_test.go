package repo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tbourn/go-event-gateway/internal/domain"
)

func TestGetInstanceByExternalID_PreloadsTenant(t *testing.T) {
	db := newTestDB(t)
	seedTenantInstance(t, db, "t1", "ext-1")

	inst, err := GetInstanceByExternalID(context.Background(), db, "ext-1")
	if err != nil {
		t.Fatalf("GetInstanceByExternalID: %v", err)
	}
	if inst.TenantID != "t1" || inst.Tenant.ID != "t1" {
		t.Fatalf("tenant not preloaded: %+v", inst)
	}
	if inst.Tenant.Plan != domain.PlanFree {
		t.Fatalf("plan = %q", inst.Tenant.Plan)
	}
}

func TestGetInstanceByExternalID_NotFound(t *testing.T) {
	db := newTestDB(t)
	_, err := GetInstanceByExternalID(context.Background(), db, "nope")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestMarkInstanceConnected_ClearsQRAndAnchorsUptime(t *testing.T) {
	db := newTestDB(t)
	inst := seedTenantInstance(t, db, "t1", "ext-1")
	if err := UpdateInstanceQRCode(context.Background(), db, inst.ID, "qr-blob"); err != nil {
		t.Fatalf("UpdateInstanceQRCode: %v", err)
	}

	at := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	if err := MarkInstanceConnected(context.Background(), db, inst.ID, at); err != nil {
		t.Fatalf("MarkInstanceConnected: %v", err)
	}

	got, err := GetInstance(context.Background(), db, inst.ID)
	if err != nil {
		t.Fatalf("GetInstance: %v", err)
	}
	if got.Status != domain.InstanceConnected {
		t.Fatalf("status = %q", got.Status)
	}
	if got.QRCode != "" {
		t.Fatal("QR code must be cleared on connect")
	}
	if got.LastConnectedAt == nil || !got.LastConnectedAt.Equal(at) {
		t.Fatalf("LastConnectedAt = %v", got.LastConnectedAt)
	}
	if got.ConnectedSince == nil || !got.ConnectedSince.Equal(at) {
		t.Fatalf("ConnectedSince = %v", got.ConnectedSince)
	}
}

func TestMarkInstanceStatus_AccumulatesUptime(t *testing.T) {
	db := newTestDB(t)
	inst := seedTenantInstance(t, db, "t1", "ext-1")
	ctx := context.Background()

	at := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	if err := MarkInstanceConnected(ctx, db, inst.ID, at); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := MarkInstanceStatus(ctx, db, inst.ID, domain.InstanceDisconnected, 90*time.Second); err != nil {
		t.Fatalf("disconnect: %v", err)
	}

	got, _ := GetInstance(ctx, db, inst.ID)
	if got.Status != domain.InstanceDisconnected {
		t.Fatalf("status = %q", got.Status)
	}
	if got.ConnectedSince != nil {
		t.Fatal("ConnectedSince must be cleared on disconnect")
	}
	if got.UptimeSeconds != 90 {
		t.Fatalf("UptimeSeconds = %d, want 90", got.UptimeSeconds)
	}

	// A second connected stretch adds on top.
	if err := MarkInstanceConnected(ctx, db, inst.ID, at.Add(time.Hour)); err != nil {
		t.Fatalf("reconnect: %v", err)
	}
	if err := MarkInstanceStatus(ctx, db, inst.ID, domain.InstanceDisconnected, 30*time.Second); err != nil {
		t.Fatalf("second disconnect: %v", err)
	}
	got, _ = GetInstance(ctx, db, inst.ID)
	if got.UptimeSeconds != 120 {
		t.Fatalf("UptimeSeconds = %d, want 120", got.UptimeSeconds)
	}
}

func TestGetTenantInstance_ScopedToTenant(t *testing.T) {
	db := newTestDB(t)
	inst := seedTenantInstance(t, db, "t1", "ext-1")

	if _, err := GetTenantInstance(context.Background(), db, "t1", inst.ID); err != nil {
		t.Fatalf("own tenant: %v", err)
	}
	if _, err := GetTenantInstance(context.Background(), db, "t2", inst.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("foreign tenant err = %v, want ErrNotFound", err)
	}
}

func TestListInstances(t *testing.T) {
	db := newTestDB(t)
	seedTenantInstance(t, db, "t1", "ext-1")
	if _, err := CreateInstance(context.Background(), db, "t1", "ext-2"); err != nil {
		t.Fatalf("CreateInstance: %v", err)
	}

	insts, err := ListInstances(context.Background(), db, "t1")
	if err != nil {
		t.Fatalf("ListInstances: %v", err)
	}
	if len(insts) != 2 {
		t.Fatalf("len = %d, want 2", len(insts))
	}
	if insts, _ := ListInstances(context.Background(), db, "t2"); len(insts) != 0 {
		t.Fatalf("foreign tenant sees %d instances", len(insts))
	}
}
