package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"patrimonio/internal/core"
	"patrimonio/internal/events"
	"patrimonio/internal/storage"
)

// LedgerService orchestrates write operations across SQLite and the event
// publisher. Writes commit first; the matching event is published
// best-effort, since the periodic refresh bounds staleness even when a
// publish is lost.
type LedgerService struct {
	storage   *storage.SQLiteRepository
	publisher events.Publisher
}

func NewLedgerService(st *storage.SQLiteRepository, pub events.Publisher) *LedgerService {
	if pub == nil {
		pub = events.Discard{}
	}
	return &LedgerService{storage: st, publisher: pub}
}

// CreateAccount saves an account and announces it.
func (s *LedgerService) CreateAccount(ctx context.Context, a core.Account) (core.Account, error) {
	created, err := s.storage.CreateAccount(ctx, a)
	if err != nil {
		return core.Account{}, fmt.Errorf("create account: %w", err)
	}
	s.publish(ctx, events.AccountCreated, created.ID)
	return created, nil
}

// CreateCategory saves a category and announces it.
func (s *LedgerService) CreateCategory(ctx context.Context, c core.Category) (core.Category, error) {
	created, err := s.storage.CreateCategory(ctx, c)
	if err != nil {
		return core.Category{}, fmt.Errorf("create category: %w", err)
	}
	s.publish(ctx, events.CategoryCreated, created.ID)
	return created, nil
}

// RenameCategory changes a category's name.
func (s *LedgerService) RenameCategory(ctx context.Context, id uuid.UUID, name string) (core.Category, error) {
	if err := s.storage.RenameCategory(ctx, id, name); err != nil {
		return core.Category{}, err
	}
	s.publish(ctx, events.CategoryRenamed, id)
	return s.storage.GetCategory(ctx, id)
}

// CreateTransaction appends a transaction, updates the account balance and
// announces the write so the aggregates get refreshed.
func (s *LedgerService) CreateTransaction(ctx context.Context, t core.Transaction) (core.Transaction, error) {
	created, err := s.storage.CreateTransaction(ctx, t)
	if err != nil {
		return core.Transaction{}, err
	}
	s.publish(ctx, events.TransactionCreated, created.ID)
	return created, nil
}

// AssignCategory re-links a transaction to a category (or detaches it when
// categoryID is nil) and announces the change.
func (s *LedgerService) AssignCategory(ctx context.Context, txID uuid.UUID, categoryID *uuid.UUID) (core.Transaction, error) {
	if err := s.storage.AssignCategory(ctx, txID, categoryID); err != nil {
		return core.Transaction{}, err
	}
	s.publish(ctx, events.TransactionRelinked, txID)
	return s.storage.GetTransaction(ctx, txID)
}

func (s *LedgerService) publish(ctx context.Context, name string, entityID uuid.UUID) {
	if err := s.publisher.Publish(ctx, events.New(name, entityID)); err != nil {
		slog.ErrorContext(ctx, "Failed to publish event",
			"event", name, "entity_id", entityID, "error", err)
		// The write already committed; refresh staleness is bounded by the
		// periodic interval, so the request still succeeds.
	}
}

// Close closes the underlying storage.
func (s *LedgerService) Close() error {
	if s.storage != nil {
		return s.storage.Close()
	}
	return nil
}
