package events

import (
	"context"
	"testing"

	"github.com/google/uuid"
)

func TestNewEvent(t *testing.T) {
	entity := uuid.New()
	ev := New(TransactionCreated, entity)

	if ev.Name != TransactionCreated {
		t.Errorf("expected %s, got %s", TransactionCreated, ev.Name)
	}
	if ev.CorrelationID == uuid.Nil {
		t.Error("expected a correlation id")
	}
	if ev.Payload.EntityID != entity {
		t.Errorf("expected entity %s, got %s", entity, ev.Payload.EntityID)
	}
	if ev.OccurredAt.IsZero() {
		t.Error("expected a timestamp")
	}
}

func TestBusFanoutOrder(t *testing.T) {
	bus := NewBus()
	var got []int
	for i := 0; i < 3; i++ {
		i := i
		bus.Subscribe(func(ctx context.Context, ev Event) {
			got = append(got, i)
		})
	}

	if err := bus.Publish(context.Background(), New(AccountCreated, uuid.New())); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(got) != 3 || got[0] != 0 || got[1] != 1 || got[2] != 2 {
		t.Fatalf("handlers did not run in registration order: %v", got)
	}
}

func TestBusIsolatesPanics(t *testing.T) {
	bus := NewBus()
	bus.Subscribe(func(ctx context.Context, ev Event) {
		panic("boom")
	})
	delivered := false
	bus.Subscribe(func(ctx context.Context, ev Event) {
		delivered = true
	})

	if err := bus.Publish(context.Background(), New(CategoryCreated, uuid.New())); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if !delivered {
		t.Fatal("panic in one handler must not starve the rest")
	}
}

func TestDiscard(t *testing.T) {
	var p Publisher = Discard{}
	if err := p.Publish(context.Background(), New(AggregatesRefreshed, uuid.Nil)); err != nil {
		t.Fatalf("discard must never fail: %v", err)
	}
}
