package repo

import (
	"strings"
	"testing"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite (no CGO)
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-event-gateway/internal/domain"
)

// newTestDB opens a named in-memory SQLite database with the full schema.
// The name is derived from the test so parallel tests never share state.
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := gorm.Open(sqlite.Open("file:"+name+"?mode=memory&cache=shared"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

// seedTenantInstance inserts a tenant and one instance, returning the
// instance with the tenant preloadable.
func seedTenantInstance(t *testing.T, db *gorm.DB, tenantID, externalID string) *domain.Instance {
	t.Helper()
	tenant := &domain.Tenant{ID: tenantID, Name: "Tenant " + tenantID, Plan: domain.PlanFree, IsActive: true}
	if err := db.Create(tenant).Error; err != nil {
		t.Fatalf("seed tenant: %v", err)
	}
	inst := &domain.Instance{
		ID:         "inst-" + externalID,
		TenantID:   tenantID,
		ExternalID: externalID,
		Status:     domain.InstanceDisconnected,
	}
	if err := db.Create(inst).Error; err != nil {
		t.Fatalf("seed instance: %v", err)
	}
	return inst
}
