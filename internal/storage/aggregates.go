package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"patrimonio/internal/core"
)

// The three derived aggregates are plain tables recomputed wholesale from the
// authoritative ones. A refresh computes each into a *_next shadow table and
// swaps it in with DROP+RENAME inside the same write transaction, so readers
// observe either the previous snapshot or the new one, never a mix.
//
// The shadow DDL below mirrors migrations/0002_aggregates.up.sql.

type aggregateDef struct {
	name   string
	schema string
	fill   string
}

var aggregateDefs = []aggregateDef{
	{
		name: "category_month_history",
		schema: `(
			category_id TEXT NOT NULL,
			month TEXT NOT NULL,
			name TEXT NOT NULL,
			type TEXT NOT NULL,
			currency TEXT NOT NULL,
			total_cents INTEGER NOT NULL,
			average_cents INTEGER NOT NULL,
			type_total_cents INTEGER NOT NULL,
			type_percentage REAL NOT NULL,
			type_rank INTEGER NOT NULL,
			PRIMARY KEY (category_id, month)
		)`,
		// Sign-aware percentage: a category whose monthly total moves against
		// its type total contributes 0%, so shares never exceed 100 and a
		// refund booked as negative expense cannot produce a negative share.
		fill: `
			WITH monthly AS (
				SELECT t.category_id AS category_id,
				       strftime('%Y-%m-01', t.tx_date) AS month,
				       c.name AS name,
				       c.type AS type,
				       t.currency AS currency,
				       SUM(t.amount_cents) AS total_cents
				FROM transactions t
				JOIN categories c ON c.id = t.category_id
				GROUP BY t.category_id, month, t.currency
			)
			SELECT category_id, month, name, type, currency,
			       total_cents,
			       CAST(ROUND(AVG(total_cents) OVER (PARTITION BY category_id)) AS INTEGER) AS average_cents,
			       SUM(total_cents) OVER (PARTITION BY month, type) AS type_total_cents,
			       CASE
			           WHEN total_cents = 0 OR SUM(total_cents) OVER (PARTITION BY month, type) = 0 THEN 0.0
			           WHEN (total_cents > 0) = (SUM(total_cents) OVER (PARTITION BY month, type) > 0)
			           THEN ROUND(100.0 * ABS(total_cents) / SUM(ABS(total_cents)) OVER (PARTITION BY month, type), 2)
			           ELSE 0.0
			       END AS type_percentage,
			       DENSE_RANK() OVER (PARTITION BY month, type ORDER BY ABS(total_cents) DESC, category_id ASC) AS type_rank
			FROM monthly`,
	},
	{
		name: "account_month_history",
		schema: `(
			account_id TEXT NOT NULL,
			month TEXT NOT NULL,
			name TEXT NOT NULL,
			type TEXT NOT NULL,
			last_updated TIMESTAMP NOT NULL,
			currency TEXT NOT NULL,
			balance_cents INTEGER NOT NULL,
			month_balance_cents INTEGER NOT NULL,
			month_income_cents INTEGER NOT NULL,
			month_expenses_cents INTEGER NOT NULL,
			PRIMARY KEY (account_id, month)
		)`,
		// balance_cents walks backward from the live running balance: the
		// cumulative month_balance sum over later-or-equal months is undone,
		// then the row's own net change re-applied. For the most recent month
		// this reproduces the stored balance exactly. Expenses are negated so
		// ordinary spending reports as a positive figure. Accounts without
		// any transaction surface once, bucketed at their creation month.
		fill: `
			WITH monthly AS (
				SELECT t.account_id AS account_id,
				       strftime('%Y-%m-01', t.tx_date) AS month,
				       SUM(CASE WHEN c.type = 'INCOME' THEN t.amount_cents ELSE 0 END) AS month_income_cents,
				       -SUM(CASE WHEN c.type = 'EXPENSE' THEN t.amount_cents ELSE 0 END) AS month_expenses_cents,
				       SUM(t.amount_cents) AS month_balance_cents
				FROM transactions t
				LEFT JOIN categories c ON c.id = t.category_id
				GROUP BY t.account_id, month
			)
			SELECT m.account_id, m.month, a.name, a.type, a.updated_at AS last_updated, a.currency,
			       a.balance_cents
			           - SUM(m.month_balance_cents) OVER (
			                 PARTITION BY m.account_id ORDER BY m.month DESC
			                 ROWS BETWEEN UNBOUNDED PRECEDING AND CURRENT ROW)
			           + m.month_balance_cents AS balance_cents,
			       m.month_balance_cents, m.month_income_cents, m.month_expenses_cents
			FROM monthly m
			JOIN accounts a ON a.id = m.account_id
			UNION ALL
			SELECT a.id, strftime('%Y-%m-01', a.created_at), a.name, a.type, a.updated_at, a.currency,
			       a.balance_cents, 0, 0, 0
			FROM accounts a
			WHERE NOT EXISTS (SELECT 1 FROM transactions t WHERE t.account_id = a.id)`,
	},
	{
		name: "transaction_history",
		schema: `(
			id TEXT PRIMARY KEY,
			account_id TEXT NOT NULL,
			amount_cents INTEGER NOT NULL,
			currency TEXT NOT NULL,
			tx_date TEXT NOT NULL,
			description TEXT NOT NULL,
			category_id TEXT,
			category_name TEXT NOT NULL DEFAULT '',
			category_type TEXT NOT NULL DEFAULT ''
		)`,
		fill: `
			SELECT t.id, t.account_id, t.amount_cents, t.currency, t.tx_date, t.description,
			       t.category_id, COALESCE(c.name, ''), COALESCE(c.type, '')
			FROM transactions t
			LEFT JOIN categories c ON c.id = t.category_id`,
	},
}

// RefreshAggregates recomputes the three aggregate tables from scratch and
// publishes them atomically. Idempotent and zero-argument; on any failure the
// transaction rolls back and the previous snapshot stays fully queryable.
func (r *SQLiteRepository) RefreshAggregates(ctx context.Context, settlementCurrency string) error {
	if !core.ValidCurrency(settlementCurrency) {
		return fmt.Errorf("%w: %q", core.ErrInvalidCurrency, settlementCurrency)
	}

	start := time.Now()
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		if err := guardSettlementCurrency(ctx, tx, settlementCurrency); err != nil {
			return err
		}
		for _, def := range aggregateDefs {
			shadow := def.name + "_next"
			if _, err := tx.ExecContext(ctx, `DROP TABLE IF EXISTS `+shadow); err != nil {
				return fmt.Errorf("drop stale shadow %s: %w", shadow, err)
			}
			if _, err := tx.ExecContext(ctx, `CREATE TABLE `+shadow+` `+def.schema); err != nil {
				return fmt.Errorf("create shadow %s: %w", shadow, err)
			}
			if _, err := tx.ExecContext(ctx, `INSERT INTO `+shadow+def.fill); err != nil {
				return fmt.Errorf("fill shadow %s: %w", shadow, err)
			}
		}
		// Swap all three inside the same transaction: atomic publish.
		for _, def := range aggregateDefs {
			if _, err := tx.ExecContext(ctx, `DROP TABLE `+def.name); err != nil {
				return fmt.Errorf("drop %s: %w", def.name, err)
			}
			if _, err := tx.ExecContext(ctx, `ALTER TABLE `+def.name+`_next RENAME TO `+def.name); err != nil {
				return fmt.Errorf("publish %s: %w", def.name, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("refresh aggregates: %w", err)
	}

	slog.InfoContext(ctx, "Aggregates refreshed",
		"currency", settlementCurrency,
		"duration_ms", time.Since(start).Milliseconds())
	return nil
}

// guardSettlementCurrency rejects the whole refresh when any stored value is
// tagged with a currency other than the settlement one. Mixing currencies in
// an aggregation bucket is a configuration error, never a coercion.
func guardSettlementCurrency(ctx context.Context, tx *sql.Tx, currency string) error {
	var stray int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM transactions WHERE currency <> ?`, currency).Scan(&stray); err != nil {
		return fmt.Errorf("check transaction currencies: %w", err)
	}
	if stray > 0 {
		return fmt.Errorf("%w: %d transactions outside settlement currency %s",
			core.ErrCurrencyMismatch, stray, currency)
	}
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM accounts WHERE currency <> ?`, currency).Scan(&stray); err != nil {
		return fmt.Errorf("check account currencies: %w", err)
	}
	if stray > 0 {
		return fmt.Errorf("%w: %d accounts outside settlement currency %s",
			core.ErrCurrencyMismatch, stray, currency)
	}
	return nil
}
