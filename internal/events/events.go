package events

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event names published by the write side.
const (
	TransactionCreated  = "transaction.created"
	TransactionRelinked = "transaction.relinked"
	AccountCreated      = "account.created"
	CategoryCreated     = "category.created"
	CategoryRenamed     = "category.renamed"
	AggregatesRefreshed = "aggregates.refreshed"
)

// Event is a notification that a write happened. Payload carries the
// affected entity id; consumers re-read state from storage, the event is
// only a trigger.
type Event struct {
	Name          string    `json:"name"`
	CorrelationID uuid.UUID `json:"correlationId"`
	OccurredAt    time.Time `json:"occurredAt"`
	Payload       Payload   `json:"payload"`
}

type Payload struct {
	EntityID uuid.UUID `json:"entityId"`
}

// New builds an event with a fresh correlation id and the current time.
func New(name string, entityID uuid.UUID) Event {
	return Event{
		Name:          name,
		CorrelationID: uuid.New(),
		OccurredAt:    time.Now().UTC(),
		Payload:       Payload{EntityID: entityID},
	}
}

// Publisher delivers events best-effort. A failed publish must never fail
// the write that produced the event.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Handler consumes a single event.
type Handler func(ctx context.Context, ev Event)

// Bus is an in-process fanout used when no broker is configured and in
// tests. Handlers run synchronously in registration order.
type Bus struct {
	mu       sync.RWMutex
	handlers []Handler
}

func NewBus() *Bus {
	return &Bus{}
}

// Subscribe registers a handler for every subsequent event.
func (b *Bus) Subscribe(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, h)
}

// Publish fans the event out to all registered handlers. It never returns
// an error; a misbehaving handler only logs.
func (b *Bus) Publish(ctx context.Context, ev Event) error {
	b.mu.RLock()
	handlers := make([]Handler, len(b.handlers))
	copy(handlers, b.handlers)
	b.mu.RUnlock()

	for _, h := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					slog.ErrorContext(ctx, "Event handler panicked",
						"event", ev.Name, "panic", r)
				}
			}()
			h(ctx, ev)
		}()
	}
	return nil
}

// Discard is a Publisher that drops everything. Useful as the default when
// neither AMQP nor an in-process bus is wired.
type Discard struct{}

func (Discard) Publish(context.Context, Event) error { return nil }
