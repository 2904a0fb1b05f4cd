package services

import (
	"context"
	"fmt"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"patrimonio/internal/core"
	"patrimonio/internal/storage"
)

// NetWorthQuery shapes a net worth report request. Zero values fall back to
// the service defaults.
type NetWorthQuery struct {
	MonthsOfHistory int
	MaxCategories   int
}

// NetWorthService composes account-month and category-month history into a
// single report. It only reads the aggregate tables; freshness is whatever
// the last refresh produced.
type NetWorthService struct {
	storage            *storage.SQLiteRepository
	settlementCurrency string
	monthsOfHistory    int
	maxCategories      int
}

func NewNetWorthService(st *storage.SQLiteRepository, settlementCurrency string, monthsOfHistory, maxCategories int) *NetWorthService {
	return &NetWorthService{
		storage:            st,
		settlementCurrency: settlementCurrency,
		monthsOfHistory:    monthsOfHistory,
		maxCategories:      maxCategories,
	}
}

// GetNetWorth builds the report for the requested window. The two history
// fetches run concurrently; either failure fails the whole query, a partial
// report is never returned.
func (s *NetWorthService) GetNetWorth(ctx context.Context, q NetWorthQuery) (core.NetWorthReport, error) {
	months := q.MonthsOfHistory
	if months <= 0 {
		months = s.monthsOfHistory
	}
	maxCategories := q.MaxCategories
	if maxCategories <= 0 {
		maxCategories = s.maxCategories
	}

	now := time.Now().UTC()
	from := core.Date{Time: core.MonthOf(now).AddMonths(1 - months).Time}
	to := core.DateOf(now)

	var (
		accountRows  []core.AccountMonth
		categoryRows []core.CategoryMonth
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		rows, err := s.storage.FindAccountHistory(gctx, storage.AccountHistoryFilter{From: &from, To: &to})
		if err != nil {
			return fmt.Errorf("fetch account history: %w", err)
		}
		accountRows = rows
		return nil
	})
	g.Go(func() error {
		rows, err := s.storage.FindCategoryHistory(gctx, storage.CategoryHistoryFilter{
			From: &from, To: &to, MaxCategories: maxCategories,
		})
		if err != nil {
			return fmt.Errorf("fetch category history: %w", err)
		}
		categoryRows = rows
		return nil
	})
	if err := g.Wait(); err != nil {
		return core.NetWorthReport{}, fmt.Errorf("compose net worth: %w", err)
	}

	zero := core.Money{Cents: 0, Currency: s.settlementCurrency}
	if len(accountRows) == 0 {
		return core.NetWorthReport{
			NetWorth:      zero,
			Accounts:      []core.AccountSnapshot{},
			Expenses:      []core.CategoryMonth{},
			Incomes:       []core.CategoryMonth{},
			MonthlyTrends: []core.TrendPoint{},
		}, nil
	}

	// Rows arrive month-descending, so the first row carries the latest month.
	latestMonth := accountRows[0].Month

	accounts := make([]core.AccountSnapshot, 0)
	for _, row := range accountRows {
		if !row.Month.Equal(latestMonth) {
			continue
		}
		accounts = append(accounts, core.AccountSnapshot{
			AccountID:     row.AccountID,
			Name:          row.Name,
			Type:          row.Type,
			Balance:       row.Balance,
			TotalIncome:   row.MonthIncome,
			TotalExpenses: row.MonthExpenses,
		})
	}

	expenses := make([]core.CategoryMonth, 0)
	incomes := make([]core.CategoryMonth, 0)
	for _, row := range categoryRows {
		if !row.Month.Equal(latestMonth) {
			continue
		}
		switch row.Type {
		case core.CategoryExpense:
			expenses = append(expenses, row)
		case core.CategoryIncome:
			incomes = append(incomes, row)
		}
	}

	trends, err := buildTrends(accountRows, zero)
	if err != nil {
		return core.NetWorthReport{}, fmt.Errorf("compose net worth: %w", err)
	}

	netWorth := zero
	if len(trends) > 0 {
		netWorth = trends[0].Balance
	}

	return core.NetWorthReport{
		NetWorth:      netWorth,
		Accounts:      accounts,
		Expenses:      expenses,
		Incomes:       incomes,
		MonthlyTrends: trends,
	}, nil
}

// buildTrends merges all accounts sharing a month into one portfolio-level
// point per month, ordered most recent first.
func buildTrends(rows []core.AccountMonth, zero core.Money) ([]core.TrendPoint, error) {
	byMonth := make(map[string]*core.TrendPoint)
	for _, row := range rows {
		key := row.Month.ISO()
		point, ok := byMonth[key]
		if !ok {
			point = &core.TrendPoint{
				Month:    row.Month,
				Balance:  zero,
				Income:   zero,
				Expenses: zero,
			}
			byMonth[key] = point
		}
		var err error
		if point.Balance, err = point.Balance.Add(row.Balance); err != nil {
			return nil, fmt.Errorf("sum balances for %s: %w", key, err)
		}
		if point.Income, err = point.Income.Add(row.MonthIncome); err != nil {
			return nil, fmt.Errorf("sum income for %s: %w", key, err)
		}
		if point.Expenses, err = point.Expenses.Add(row.MonthExpenses); err != nil {
			return nil, fmt.Errorf("sum expenses for %s: %w", key, err)
		}
	}

	trends := make([]core.TrendPoint, 0, len(byMonth))
	for _, point := range byMonth {
		trends = append(trends, *point)
	}
	sort.Slice(trends, func(i, j int) bool {
		return trends[j].Month.Before(trends[i].Month)
	})
	return trends, nil
}
