// Handler wiring.
//
// Handlers groups the HTTP endpoints for event ingestion and the tenant
// management API. Ingestion goes through the IngestService contract so tests
// can substitute the pipeline; management endpoints read and write through
// the repository layer directly since they are plain CRUD.
package handlers

import (
	"context"

	"gorm.io/gorm"

	"github.com/tbourn/go-event-gateway/internal/ingest"
)

// IngestService is the admission pipeline contract consumed by the webhook
// handler. Implementations must be safe for concurrent use and must honor
// the provided context for cancellation and timeouts.
type IngestService interface {
	// Ingest admits one raw webhook body with its optional signature.
	Ingest(ctx context.Context, body []byte, sig string) (ingest.Result, error)
}

// Handlers groups HTTP endpoints for ingestion, subscriptions, the delivery
// log, and instances.
type Handlers struct {
	ingestSvc IngestService
	db        *gorm.DB
}

// New constructs a Handlers instance bound to the pipeline and database.
func New(ingestSvc IngestService, db *gorm.DB) *Handlers {
	return &Handlers{ingestSvc: ingestSvc, db: db}
}
