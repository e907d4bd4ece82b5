// Instance handlers.
//
// Read-only visibility into a tenant's provider connections:
//   - GET /instances          (list)
//   - GET /instances/{id}     (fetch, includes live uptime)
//
// Instance provisioning belongs to the external control plane; the gateway
// only reports the connection state its event handlers maintain.
package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-event-gateway/internal/domain"
	"github.com/tbourn/go-event-gateway/internal/repo"
)

// InstanceResponse is the client-facing instance shape. UptimeSeconds folds
// the current connected stretch into the accumulated total so a dashboard
// never shows a CONNECTED instance with stale uptime.
type InstanceResponse struct {
	ID              string     `json:"id"`
	ExternalID      string     `json:"external_id"`
	Status          string     `json:"status"`
	LastConnectedAt *time.Time `json:"last_connected_at,omitempty"`
	UptimeSeconds   int64      `json:"uptime_seconds"`
	CreatedAt       time.Time  `json:"created_at"`
}

func toInstanceResponse(inst *domain.Instance, now time.Time) InstanceResponse {
	uptime := inst.UptimeSeconds
	if inst.Status == domain.InstanceConnected && inst.ConnectedSince != nil {
		uptime += int64(now.Sub(*inst.ConnectedSince).Seconds())
	}
	return InstanceResponse{
		ID:              inst.ID,
		ExternalID:      inst.ExternalID,
		Status:          inst.Status,
		LastConnectedAt: inst.LastConnectedAt,
		UptimeSeconds:   uptime,
		CreatedAt:       inst.CreatedAt,
	}
}

// ListInstances handles GET /instances.
func (h *Handlers) ListInstances(c *gin.Context) {
	tid := tenantID(c)
	if tid == "" {
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "tenant identity required")
		return
	}
	insts, err := repo.ListInstances(c.Request.Context(), h.db, tid)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "failed to list instances")
		return
	}
	now := time.Now().UTC()
	out := make([]InstanceResponse, 0, len(insts))
	for i := range insts {
		out = append(out, toInstanceResponse(&insts[i], now))
	}
	ok(c, http.StatusOK, gin.H{"instances": out})
}

// GetInstance handles GET /instances/:id.
func (h *Handlers) GetInstance(c *gin.Context) {
	tid := tenantID(c)
	if tid == "" {
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "tenant identity required")
		return
	}
	inst, err := repo.GetTenantInstance(c.Request.Context(), h.db, tid, c.Param("id"))
	if err != nil {
		if err == repo.ErrNotFound {
			fail(c, http.StatusNotFound, ErrCodeNotFound, "instance not found")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "failed to load instance")
		return
	}
	ok(c, http.StatusOK, toInstanceResponse(inst, time.Now().UTC()))
}
