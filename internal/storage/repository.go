// Package storage is the persistence layer: authoritative tables mutated by
// commands, plus the three derived aggregate tables rebuilt by
// RefreshAggregates and read by the history queries.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"patrimonio/internal/core"

	_ "modernc.org/sqlite"
)

// SQLiteRepository owns the database handle. Command methods run inside a
// single write transaction; query methods read committed state only.
type SQLiteRepository struct {
	db *sql.DB
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if dir := filepath.Dir(dbPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	// WAL keeps history queries readable while a refresh transaction is in
	// flight; busy_timeout covers writer contention between server and worker.
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(10000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{db: db}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// fmtTime stores timestamps as RFC3339 UTC text so SQLite's strftime can
// bucket them and the driver can scan them back into time.Time.
func fmtTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// withTx runs fn inside one write transaction. Commands compose by passing
// the same tx handle down, so a logical operation never nests independent
// transactions; any error rolls back every write of the operation.
func (r *SQLiteRepository) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			slog.ErrorContext(ctx, "Rollback failed", "error", rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// CreateAccount persists a new account with its opening balance.
func (r *SQLiteRepository) CreateAccount(ctx context.Context, a core.Account) (core.Account, error) {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	now := time.Now().UTC()
	a.CreatedAt = now
	a.UpdatedAt = now
	if err := a.Validate(); err != nil {
		return core.Account{}, err
	}

	err := r.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO accounts (id, name, type, balance_cents, currency, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			a.ID.String(), a.Name, string(a.Type), a.Balance.Cents, a.Balance.Currency, fmtTime(a.CreatedAt), fmtTime(a.UpdatedAt))
		return err
	})
	if err != nil {
		return core.Account{}, fmt.Errorf("create account: %w", err)
	}

	slog.InfoContext(ctx, "Account created", "id", a.ID, "name", a.Name, "type", a.Type)
	return a, nil
}

// CreateCategory persists a new category. Names are unique.
func (r *SQLiteRepository) CreateCategory(ctx context.Context, c core.Category) (core.Category, error) {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	c.CreatedAt = time.Now().UTC()
	if err := c.Validate(); err != nil {
		return core.Category{}, err
	}

	err := r.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO categories (id, name, type, color, created_at) VALUES (?, ?, ?, ?, ?)`,
			c.ID.String(), c.Name, string(c.Type), c.Color, fmtTime(c.CreatedAt))
		return err
	})
	if err != nil {
		return core.Category{}, fmt.Errorf("create category: %w", err)
	}

	slog.InfoContext(ctx, "Category created", "id", c.ID, "name", c.Name, "type", c.Type)
	return c, nil
}

// RenameCategory changes a category's name; the only mutation categories allow.
func (r *SQLiteRepository) RenameCategory(ctx context.Context, id uuid.UUID, name string) error {
	if err := core.ValidateName(name); err != nil {
		return err
	}
	return r.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE categories SET name = ? WHERE id = ?`, name, id.String())
		if err != nil {
			return fmt.Errorf("rename category: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("category %s: %w", id, core.ErrNotFound)
		}
		return nil
	})
}

// CreateTransaction appends a transaction and applies its signed amount to
// the account's running balance in the same transaction. A currency mismatch
// between amount and balance aborts the whole command, leaving both tables
// untouched.
func (r *SQLiteRepository) CreateTransaction(ctx context.Context, t core.Transaction) (core.Transaction, error) {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	now := time.Now().UTC()
	t.CreatedAt = now
	t.UpdatedAt = now
	if err := t.Validate(); err != nil {
		return core.Transaction{}, err
	}

	err := r.withTx(ctx, func(tx *sql.Tx) error {
		balance, err := accountBalanceTx(ctx, tx, t.AccountID)
		if err != nil {
			return err
		}
		newBalance, err := balance.Add(t.Amount)
		if err != nil {
			return fmt.Errorf("apply amount to account %s: %w", t.AccountID, err)
		}

		if t.CategoryID != nil {
			if err := categoryExistsTx(ctx, tx, *t.CategoryID); err != nil {
				return err
			}
		}

		var categoryID any
		if t.CategoryID != nil {
			categoryID = t.CategoryID.String()
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO transactions (id, account_id, amount_cents, currency, tx_date, description, category_id, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			t.ID.String(), t.AccountID.String(), t.Amount.Cents, t.Amount.Currency,
			t.Date.ISO(), t.Description, categoryID, fmtTime(t.CreatedAt), fmtTime(t.UpdatedAt)); err != nil {
			return fmt.Errorf("insert transaction: %w", err)
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE accounts SET balance_cents = ?, updated_at = ? WHERE id = ?`,
			newBalance.Cents, fmtTime(now), t.AccountID.String()); err != nil {
			return fmt.Errorf("update account balance: %w", err)
		}
		return nil
	})
	if err != nil {
		return core.Transaction{}, err
	}

	slog.InfoContext(ctx, "Transaction created",
		"id", t.ID,
		"account_id", t.AccountID,
		"amount_cents", t.Amount.Cents,
		"date", t.Date.ISO())
	return t, nil
}

// AssignCategory re-assigns a transaction's category, the only mutation
// transactions allow after creation.
func (r *SQLiteRepository) AssignCategory(ctx context.Context, txID uuid.UUID, categoryID *uuid.UUID) error {
	return r.withTx(ctx, func(tx *sql.Tx) error {
		if categoryID != nil {
			if err := categoryExistsTx(ctx, tx, *categoryID); err != nil {
				return err
			}
		}
		var catValue any
		if categoryID != nil {
			catValue = categoryID.String()
		}
		res, err := tx.ExecContext(ctx,
			`UPDATE transactions SET category_id = ?, updated_at = ? WHERE id = ?`,
			catValue, fmtTime(time.Now()), txID.String())
		if err != nil {
			return fmt.Errorf("assign category: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("transaction %s: %w", txID, core.ErrNotFound)
		}
		return nil
	})
}

func accountBalanceTx(ctx context.Context, tx *sql.Tx, id uuid.UUID) (core.Money, error) {
	var cents int64
	var currency string
	err := tx.QueryRowContext(ctx,
		`SELECT balance_cents, currency FROM accounts WHERE id = ?`, id.String()).
		Scan(&cents, &currency)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Money{}, fmt.Errorf("account %s: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return core.Money{}, fmt.Errorf("read account balance: %w", err)
	}
	return core.Money{Cents: cents, Currency: currency}, nil
}

func categoryExistsTx(ctx context.Context, tx *sql.Tx, id uuid.UUID) error {
	var one int
	err := tx.QueryRowContext(ctx, `SELECT 1 FROM categories WHERE id = ?`, id.String()).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("category %s: %w", id, core.ErrNotFound)
	}
	return err
}

// GetAccount looks up a single account by id.
func (r *SQLiteRepository) GetAccount(ctx context.Context, id uuid.UUID) (core.Account, error) {
	var (
		a        core.Account
		rawID    string
		accType  string
		cents    int64
		currency string
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT id, name, type, balance_cents, currency, created_at, updated_at
		 FROM accounts WHERE id = ?`, id.String()).
		Scan(&rawID, &a.Name, &accType, &cents, &currency, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Account{}, fmt.Errorf("account %s: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return core.Account{}, fmt.Errorf("get account: %w", err)
	}
	a.ID, err = uuid.Parse(rawID)
	if err != nil {
		return core.Account{}, fmt.Errorf("parse account id: %w", err)
	}
	a.Type = core.AccountType(accType)
	a.Balance = core.Money{Cents: cents, Currency: currency}
	return a, nil
}

// GetCategory looks up a single category by id.
func (r *SQLiteRepository) GetCategory(ctx context.Context, id uuid.UUID) (core.Category, error) {
	var (
		c       core.Category
		rawID   string
		catType string
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT id, name, type, color, created_at FROM categories WHERE id = ?`, id.String()).
		Scan(&rawID, &c.Name, &catType, &c.Color, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Category{}, fmt.Errorf("category %s: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return core.Category{}, fmt.Errorf("get category: %w", err)
	}
	c.ID, err = uuid.Parse(rawID)
	if err != nil {
		return core.Category{}, fmt.Errorf("parse category id: %w", err)
	}
	c.Type = core.CategoryType(catType)
	return c, nil
}

// GetTransaction looks up a single transaction by id.
func (r *SQLiteRepository) GetTransaction(ctx context.Context, id uuid.UUID) (core.Transaction, error) {
	var (
		t        core.Transaction
		rawID    string
		rawAcc   string
		cents    int64
		currency string
		date     string
		rawCat   sql.NullString
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT id, account_id, amount_cents, currency, tx_date, description, category_id, created_at, updated_at
		 FROM transactions WHERE id = ?`, id.String()).
		Scan(&rawID, &rawAcc, &cents, &currency, &date, &t.Description, &rawCat, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Transaction{}, fmt.Errorf("transaction %s: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return core.Transaction{}, fmt.Errorf("get transaction: %w", err)
	}
	if t.ID, err = uuid.Parse(rawID); err != nil {
		return core.Transaction{}, fmt.Errorf("parse transaction id: %w", err)
	}
	if t.AccountID, err = uuid.Parse(rawAcc); err != nil {
		return core.Transaction{}, fmt.Errorf("parse account id: %w", err)
	}
	t.Amount = core.Money{Cents: cents, Currency: currency}
	if t.Date, err = core.ParseDate(date); err != nil {
		return core.Transaction{}, fmt.Errorf("parse transaction date: %w", err)
	}
	if rawCat.Valid {
		cat, err := uuid.Parse(rawCat.String)
		if err != nil {
			return core.Transaction{}, fmt.Errorf("parse category id: %w", err)
		}
		t.CategoryID = &cat
	}
	return t, nil
}
