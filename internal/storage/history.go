package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"patrimonio/internal/core"
)

// AccountHistoryFilter narrows FindAccountHistory. Nil fields are
// unrestricted; set fields combine conjunctively.
type AccountHistoryFilter struct {
	AccountID *uuid.UUID
	From      *core.Date
	To        *core.Date
}

// CategoryHistoryFilter narrows FindCategoryHistory. MaxCategories limits
// each (month, type) group to the top-ranked categories; zero means no limit.
type CategoryHistoryFilter struct {
	CategoryID    *uuid.UUID
	From          *core.Date
	To            *core.Date
	MaxCategories int
}

// TransactionHistoryFilter narrows FindTransactionHistory.
type TransactionHistoryFilter struct {
	AccountID  *uuid.UUID
	CategoryID *uuid.UUID
	From       *core.Date
	To         *core.Date
}

// FindAccountHistory returns account-month rows ordered by month descending,
// then balance descending. An empty result is success, not an error.
func (r *SQLiteRepository) FindAccountHistory(ctx context.Context, f AccountHistoryFilter) ([]core.AccountMonth, error) {
	query := `SELECT account_id, month, name, type, last_updated, currency,
	                 balance_cents, month_balance_cents, month_income_cents, month_expenses_cents
	          FROM account_month_history`
	var conds []string
	var args []any
	if f.AccountID != nil {
		conds = append(conds, "account_id = ?")
		args = append(args, f.AccountID.String())
	}
	if f.From != nil {
		conds = append(conds, "month >= ?")
		args = append(args, monthFloor(*f.From))
	}
	if f.To != nil {
		conds = append(conds, "month <= ?")
		args = append(args, monthFloor(*f.To))
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY month DESC, balance_cents DESC"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query account history: %w", err)
	}
	defer rows.Close()

	var out []core.AccountMonth
	for rows.Next() {
		var (
			row      core.AccountMonth
			rawID    string
			month    string
			accType  string
			currency string
			balance  int64
			monthBal int64
			income   int64
			expenses int64
		)
		if err := rows.Scan(&rawID, &month, &row.Name, &accType, &row.LastUpdated, &currency,
			&balance, &monthBal, &income, &expenses); err != nil {
			return nil, fmt.Errorf("scan account history row: %w", err)
		}
		if row.AccountID, err = uuid.Parse(rawID); err != nil {
			return nil, fmt.Errorf("parse account id: %w", err)
		}
		if row.Month, err = core.ParseMonth(month); err != nil {
			return nil, fmt.Errorf("parse month %q: %w", month, err)
		}
		row.Type = core.AccountType(accType)
		row.Balance = core.Money{Cents: balance, Currency: currency}
		row.MonthBalance = core.Money{Cents: monthBal, Currency: currency}
		row.MonthIncome = core.Money{Cents: income, Currency: currency}
		row.MonthExpenses = core.Money{Cents: expenses, Currency: currency}
		out = append(out, row)
	}
	return out, rows.Err()
}

// FindCategoryHistory returns category-month rows ordered by month
// descending then rank ascending. When MaxCategories is set, only rows with
// type_rank within the limit survive, per (month, type) group.
func (r *SQLiteRepository) FindCategoryHistory(ctx context.Context, f CategoryHistoryFilter) ([]core.CategoryMonth, error) {
	query := `SELECT category_id, month, name, type, currency,
	                 total_cents, average_cents, type_total_cents, type_percentage, type_rank
	          FROM category_month_history`
	var conds []string
	var args []any
	if f.CategoryID != nil {
		conds = append(conds, "category_id = ?")
		args = append(args, f.CategoryID.String())
	}
	if f.From != nil {
		conds = append(conds, "month >= ?")
		args = append(args, monthFloor(*f.From))
	}
	if f.To != nil {
		conds = append(conds, "month <= ?")
		args = append(args, monthFloor(*f.To))
	}
	if f.MaxCategories > 0 {
		conds = append(conds, "type_rank <= ?")
		args = append(args, f.MaxCategories)
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY month DESC, type_rank ASC"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query category history: %w", err)
	}
	defer rows.Close()

	var out []core.CategoryMonth
	for rows.Next() {
		var (
			row       core.CategoryMonth
			rawID     string
			month     string
			catType   string
			currency  string
			total     int64
			average   int64
			typeTotal int64
		)
		if err := rows.Scan(&rawID, &month, &row.Name, &catType, &currency,
			&total, &average, &typeTotal, &row.Percentage, &row.Rank); err != nil {
			return nil, fmt.Errorf("scan category history row: %w", err)
		}
		if row.CategoryID, err = uuid.Parse(rawID); err != nil {
			return nil, fmt.Errorf("parse category id: %w", err)
		}
		if row.Month, err = core.ParseMonth(month); err != nil {
			return nil, fmt.Errorf("parse month %q: %w", month, err)
		}
		row.Type = core.CategoryType(catType)
		row.Total = core.Money{Cents: total, Currency: currency}
		row.Average = core.Money{Cents: average, Currency: currency}
		row.TypeTotal = core.Money{Cents: typeTotal, Currency: currency}
		out = append(out, row)
	}
	return out, rows.Err()
}

// FindTransactionHistory reads the denormalized transaction view, most
// recent day first.
func (r *SQLiteRepository) FindTransactionHistory(ctx context.Context, f TransactionHistoryFilter) ([]core.TransactionRecord, error) {
	query := `SELECT id, account_id, amount_cents, currency, tx_date, description,
	                 category_id, category_name, category_type
	          FROM transaction_history`
	var conds []string
	var args []any
	if f.AccountID != nil {
		conds = append(conds, "account_id = ?")
		args = append(args, f.AccountID.String())
	}
	if f.CategoryID != nil {
		conds = append(conds, "category_id = ?")
		args = append(args, f.CategoryID.String())
	}
	if f.From != nil {
		conds = append(conds, "tx_date >= ?")
		args = append(args, f.From.ISO())
	}
	if f.To != nil {
		conds = append(conds, "tx_date <= ?")
		args = append(args, f.To.ISO())
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY tx_date DESC, id ASC"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query transaction history: %w", err)
	}
	defer rows.Close()

	var out []core.TransactionRecord
	for rows.Next() {
		var (
			row      core.TransactionRecord
			rawID    string
			rawAcc   string
			cents    int64
			currency string
			date     string
			rawCat   sql.NullString
			catType  string
		)
		if err := rows.Scan(&rawID, &rawAcc, &cents, &currency, &date, &row.Description,
			&rawCat, &row.CategoryName, &catType); err != nil {
			return nil, fmt.Errorf("scan transaction history row: %w", err)
		}
		if row.ID, err = uuid.Parse(rawID); err != nil {
			return nil, fmt.Errorf("parse transaction id: %w", err)
		}
		if row.AccountID, err = uuid.Parse(rawAcc); err != nil {
			return nil, fmt.Errorf("parse account id: %w", err)
		}
		row.Amount = core.Money{Cents: cents, Currency: currency}
		if row.Date, err = core.ParseDate(date); err != nil {
			return nil, fmt.Errorf("parse date %q: %w", date, err)
		}
		if rawCat.Valid {
			cat, err := uuid.Parse(rawCat.String)
			if err != nil {
				return nil, fmt.Errorf("parse category id: %w", err)
			}
			row.CategoryID = &cat
		}
		row.CategoryType = core.CategoryType(catType)
		out = append(out, row)
	}
	return out, rows.Err()
}

// monthFloor maps a date filter bound to its month bucket key.
func monthFloor(d core.Date) string {
	return core.MonthOf(d.Time).ISO()
}
