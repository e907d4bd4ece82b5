// Delivery log handlers.
//
// This file exposes the read-only view of the outbound attempt log:
//   - GET /deliveries    (paginated, newest first)
//
// The log is operational data for dashboards and debugging; nothing in the
// gateway reads it back.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-event-gateway/internal/domain"
	"github.com/tbourn/go-event-gateway/internal/repo"
	"github.com/tbourn/go-event-gateway/internal/utils"
)

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

// ListDeliveriesResponse wraps a page of delivery attempts.
type ListDeliveriesResponse struct {
	Attempts   []domain.DeliveryAttempt `json:"attempts"`
	Pagination Pagination               `json:"pagination"`
}

// clampPagination parses and bounds page and page_size query params.
func clampPagination(c *gin.Context) (page, pageSize int) {
	const (
		defaultPage     = 1
		defaultPageSize = 20
		maxPageSize     = 100
	)
	page = utils.AtoiDefault(c.Query("page"), defaultPage)
	if page < 1 {
		page = 1
	}
	pageSize = utils.AtoiDefault(c.Query("page_size"), defaultPageSize)
	if pageSize < 1 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return page, pageSize
}

// ListDeliveries handles GET /deliveries.
func (h *Handlers) ListDeliveries(c *gin.Context) {
	tid := tenantID(c)
	if tid == "" {
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "tenant identity required")
		return
	}
	page, pageSize := clampPagination(c)

	attempts, total, err := repo.ListDeliveryAttempts(c.Request.Context(), h.db, tid, (page-1)*pageSize, pageSize)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "failed to list delivery attempts")
		return
	}
	if attempts == nil {
		attempts = []domain.DeliveryAttempt{}
	}

	totalPages := int((total + int64(pageSize) - 1) / int64(pageSize))
	ok(c, http.StatusOK, ListDeliveriesResponse{
		Attempts: attempts,
		Pagination: Pagination{
			Page:       page,
			PageSize:   pageSize,
			Total:      total,
			TotalPages: totalPages,
			HasNext:    page < totalPages,
		},
	})
}
