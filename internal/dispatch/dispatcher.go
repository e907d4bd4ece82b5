// Package dispatch routes admitted, de-duplicated events to the stateful
// handler owning their category. The table is closed and built in the
// constructor over the event-category enum, replacing runtime
// registration: a category without a handler is a visible omission here,
// not a silent drop at runtime.
//
// The gateway never fails an event solely because no business handler
// exists for its type; such events are still admitted, audited, and
// fanned out, with a debug-level note.
package dispatch

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/tbourn/go-event-gateway/internal/domain"
)

// Handler mutates durable tenant state for one event category. Handlers
// are independently idempotent: the same event id never reaches a handler
// twice (deduplicated upstream), but replays after marker expiry must not
// corrupt state.
type Handler interface {
	// Handle applies the envelope's state mutation. The envelope arrives
	// with TenantID and InstanceID resolved.
	Handle(ctx context.Context, env *domain.Envelope) error
}

// Dispatcher is a pure lookup from event category to handler.
type Dispatcher struct {
	handlers map[domain.EventCategory]Handler
}

// New builds the static dispatch table. Every handled category is listed
// here; adding a category to the domain enum without wiring it surfaces
// in this constructor during review, not in production logs.
func New(db *gorm.DB) *Dispatcher {
	return &Dispatcher{
		handlers: map[domain.EventCategory]Handler{
			domain.CategoryMessage:    &MessageHandler{DB: db},
			domain.CategoryConnection: &ConnectionHandler{DB: db},
			domain.CategoryBotSession: &BotSessionHandler{DB: db},
		},
	}
}

// Dispatch routes the envelope to its category handler. Events whose
// category has no handler are a successful no-op.
func (d *Dispatcher) Dispatch(ctx context.Context, env *domain.Envelope) error {
	cat := env.Event.Category()
	h, ok := d.handlers[cat]
	if !ok {
		log.Debug().
			Str("event", string(env.Event)).
			Str("event_id", env.EventID).
			Msg("no handler registered for event type; accepted as no-op")
		return nil
	}
	if err := h.Handle(ctx, env); err != nil {
		return fmt.Errorf("dispatch %s: %w", env.Event, err)
	}
	return nil
}
