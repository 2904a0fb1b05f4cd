package core

import (
	"time"

	"github.com/google/uuid"
)

// AccountMonth is one row of the recomputed account-month aggregate: the
// month's income/expense/net totals plus the balance reconstructed backward
// from the account's live running balance.
type AccountMonth struct {
	AccountID     uuid.UUID   `json:"accountId"`
	Month         Month       `json:"month"`
	Name          string      `json:"name"`
	Type          AccountType `json:"type"`
	LastUpdated   time.Time   `json:"lastUpdated"`
	Balance       Money       `json:"balance"`
	MonthBalance  Money       `json:"monthBalance"`
	MonthIncome   Money       `json:"monthIncome"`
	MonthExpenses Money       `json:"monthExpenses"`
}

// CategoryMonth is one row of the recomputed category-month aggregate.
// Average is taken over every month the category appears in, Percentage is
// the sign-aware share of the month's type total and Rank orders same-type
// categories by absolute total, 1 = largest.
type CategoryMonth struct {
	CategoryID uuid.UUID    `json:"categoryId"`
	Month      Month        `json:"month"`
	Name       string       `json:"name"`
	Type       CategoryType `json:"type"`
	Total      Money        `json:"total"`
	Average    Money        `json:"average"`
	TypeTotal  Money        `json:"typeTotal"`
	Percentage float64      `json:"typePercentage"`
	Rank       int          `json:"rank"`
}

// TransactionRecord is the denormalized transaction view row: transaction
// fields joined with the category name and type for read convenience.
type TransactionRecord struct {
	ID           uuid.UUID    `json:"id"`
	AccountID    uuid.UUID    `json:"accountId"`
	Amount       Money        `json:"amount"`
	Date         Date         `json:"date"`
	Description  string       `json:"description"`
	CategoryID   *uuid.UUID   `json:"categoryId,omitempty"`
	CategoryName string       `json:"categoryName,omitempty"`
	CategoryType CategoryType `json:"categoryType,omitempty"`
}

// AccountSnapshot is an account-month row annotated for the net worth
// report: income/expenses aliased as totals for the latest month.
type AccountSnapshot struct {
	AccountID     uuid.UUID   `json:"accountId"`
	Name          string      `json:"name"`
	Type          AccountType `json:"type"`
	Balance       Money       `json:"balance"`
	TotalIncome   Money       `json:"totalIncome"`
	TotalExpenses Money       `json:"totalExpenses"`
}

// TrendPoint is one portfolio-level month in the net worth trend: balances,
// income and expenses summed across every account sharing the month.
type TrendPoint struct {
	Month    Month `json:"month"`
	Balance  Money `json:"balance"`
	Income   Money `json:"income"`
	Expenses Money `json:"expenses"`
}

// NetWorthReport is the composed analytics report: latest-month snapshots,
// top categories split by type and the month-by-month trend series.
type NetWorthReport struct {
	NetWorth      Money             `json:"netWorth"`
	Accounts      []AccountSnapshot `json:"accounts"`
	Expenses      []CategoryMonth   `json:"expenses"`
	Incomes       []CategoryMonth   `json:"incomes"`
	MonthlyTrends []TrendPoint      `json:"monthlyTrends"`
}

// MarshalJSON writes the month bucket as its first-of-month day.
func (m Month) MarshalJSON() ([]byte, error) {
	return []byte(`"` + m.ISO() + `"`), nil
}

func (m *Month) UnmarshalJSON(data []byte) error {
	s := string(data)
	if len(s) >= 2 && s[0] == '"' {
		s = s[1 : len(s)-1]
	}
	parsed, err := ParseMonth(s)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// MarshalJSON writes the calendar day in ISO form.
func (d Date) MarshalJSON() ([]byte, error) {
	return []byte(`"` + d.ISO() + `"`), nil
}

func (d *Date) UnmarshalJSON(data []byte) error {
	s := string(data)
	if len(s) >= 2 && s[0] == '"' {
		s = s[1 : len(s)-1]
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
