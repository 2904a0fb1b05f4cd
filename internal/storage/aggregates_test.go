package storage

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"testing"

	"github.com/google/uuid"

	"patrimonio/internal/core"
)

func newTestRepo(t *testing.T) *SQLiteRepository {
	t.Helper()
	repo, err := NewSQLiteRepository(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open test repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func mustAccount(t *testing.T, repo *SQLiteRepository, name string, accType core.AccountType, balance core.Money) core.Account {
	t.Helper()
	a, err := repo.CreateAccount(context.Background(), core.Account{Name: name, Type: accType, Balance: balance})
	if err != nil {
		t.Fatalf("create account %s: %v", name, err)
	}
	return a
}

func mustCategory(t *testing.T, repo *SQLiteRepository, name string, catType core.CategoryType) core.Category {
	t.Helper()
	c, err := repo.CreateCategory(context.Background(), core.Category{Name: name, Type: catType})
	if err != nil {
		t.Fatalf("create category %s: %v", name, err)
	}
	return c
}

func mustTransaction(t *testing.T, repo *SQLiteRepository, account uuid.UUID, cents int64, date core.Date, desc string, category *uuid.UUID) core.Transaction {
	t.Helper()
	tx, err := repo.CreateTransaction(context.Background(), core.Transaction{
		AccountID:   account,
		Amount:      core.Money{Cents: cents, Currency: "EUR"},
		Date:        date,
		Description: desc,
		CategoryID:  category,
	})
	if err != nil {
		t.Fatalf("create transaction %s: %v", desc, err)
	}
	return tx
}

func TestRefreshBalanceReconstruction(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	account := mustAccount(t, repo, "Checking", core.AccountBank, core.Zero("EUR"))
	salary := mustCategory(t, repo, "Salary", core.CategoryIncome)
	rent := mustCategory(t, repo, "Rent", core.CategoryExpense)

	mustTransaction(t, repo, account.ID, 250000, core.NewDate(2025, 5, 10), "May salary", &salary.ID)
	mustTransaction(t, repo, account.ID, -100000, core.NewDate(2025, 6, 15), "June rent", &rent.ID)
	mustTransaction(t, repo, account.ID, 50000, core.NewDate(2025, 7, 20), "July bonus", &salary.ID)

	if err := repo.RefreshAggregates(ctx, "EUR"); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	rows, err := repo.FindAccountHistory(ctx, AccountHistoryFilter{AccountID: &account.ID})
	if err != nil {
		t.Fatalf("find account history: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected 3 months, got %d", len(rows))
	}

	// Ordered most recent first.
	if rows[0].Month.ISO() != "2025-07-01" || rows[2].Month.ISO() != "2025-05-01" {
		t.Fatalf("unexpected month order: %s .. %s", rows[0].Month.ISO(), rows[2].Month.ISO())
	}

	live, err := repo.GetAccount(ctx, account.ID)
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	if live.Balance.Cents != 200000 {
		t.Fatalf("expected live balance 200000, got %d", live.Balance.Cents)
	}

	// The most recent reconstructed balance equals the live balance.
	if rows[0].Balance.Cents != live.Balance.Cents {
		t.Fatalf("latest month balance %d != live balance %d", rows[0].Balance.Cents, live.Balance.Cents)
	}

	// Walking backward undoes each later month's net change.
	if rows[1].Balance.Cents != 150000 {
		t.Fatalf("expected June balance 150000, got %d", rows[1].Balance.Cents)
	}
	if rows[2].Balance.Cents != 250000 {
		t.Fatalf("expected May balance 250000, got %d", rows[2].Balance.Cents)
	}

	// The identity: earliest balance plus every later month_balance reproduces
	// the live balance.
	total := rows[2].Balance.Cents
	for _, row := range rows[:2] {
		total += row.MonthBalance.Cents
	}
	if total != live.Balance.Cents {
		t.Fatalf("reconstruction identity broken: %d != %d", total, live.Balance.Cents)
	}

	// Expenses are reported positive.
	if rows[1].MonthExpenses.Cents != 100000 {
		t.Fatalf("expected June expenses 100000, got %d", rows[1].MonthExpenses.Cents)
	}
	if rows[1].MonthIncome.Cents != 0 {
		t.Fatalf("expected June income 0, got %d", rows[1].MonthIncome.Cents)
	}
}

func TestCategoryPercentageAndRank(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	account := mustAccount(t, repo, "Checking", core.AccountBank, core.Zero("EUR"))
	rent := mustCategory(t, repo, "Rent", core.CategoryExpense)
	groceries := mustCategory(t, repo, "Groceries", core.CategoryExpense)
	refunds := mustCategory(t, repo, "Refunds", core.CategoryExpense)

	mustTransaction(t, repo, account.ID, -80000, core.NewDate(2025, 7, 3), "Rent", &rent.ID)
	mustTransaction(t, repo, account.ID, -20000, core.NewDate(2025, 7, 9), "Groceries", &groceries.ID)
	// A refund booked as positive expense disagrees with the type total's sign.
	mustTransaction(t, repo, account.ID, 10000, core.NewDate(2025, 7, 12), "Store refund", &refunds.ID)

	if err := repo.RefreshAggregates(ctx, "EUR"); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	rows, err := repo.FindCategoryHistory(ctx, CategoryHistoryFilter{})
	if err != nil {
		t.Fatalf("find category history: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(rows))
	}

	byName := map[string]core.CategoryMonth{}
	var percentageSum float64
	for _, row := range rows {
		byName[row.Name] = row
		percentageSum += row.Percentage
	}

	// abs totals: 80000 + 20000 + 10000 = 110000
	if got := byName["Rent"].Percentage; math.Abs(got-72.73) > 0.01 {
		t.Errorf("Rent percentage: expected 72.73, got %v", got)
	}
	if got := byName["Groceries"].Percentage; math.Abs(got-18.18) > 0.01 {
		t.Errorf("Groceries percentage: expected 18.18, got %v", got)
	}
	if got := byName["Refunds"].Percentage; got != 0 {
		t.Errorf("Refunds percentage: sign disagrees with type total, expected 0, got %v", got)
	}
	if percentageSum > 100.0+1e-9 {
		t.Errorf("percentages must sum to at most 100, got %v", percentageSum)
	}

	// Rank follows descending absolute total.
	if byName["Rent"].Rank != 1 || byName["Groceries"].Rank != 2 || byName["Refunds"].Rank != 3 {
		t.Errorf("unexpected ranks: Rent=%d Groceries=%d Refunds=%d",
			byName["Rent"].Rank, byName["Groceries"].Rank, byName["Refunds"].Rank)
	}

	// The type total carries the signed sum.
	if byName["Rent"].TypeTotal.Cents != -90000 {
		t.Errorf("expected type total -90000, got %d", byName["Rent"].TypeTotal.Cents)
	}
}

func TestSoleExpenseCategoryIsFullShare(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	account := mustAccount(t, repo, "Wallet", core.AccountCash, core.Zero("EUR"))
	dining := mustCategory(t, repo, "Dining", core.CategoryExpense)
	mustTransaction(t, repo, account.ID, -30000, core.NewDate(2025, 7, 4), "Dinner", &dining.ID)

	if err := repo.RefreshAggregates(ctx, "EUR"); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	rows, err := repo.FindCategoryHistory(ctx, CategoryHistoryFilter{CategoryID: &dining.ID})
	if err != nil {
		t.Fatalf("find category history: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
	row := rows[0]
	if row.Total.Cents != -30000 || row.TypeTotal.Cents != -30000 {
		t.Fatalf("unexpected totals: total=%d typeTotal=%d", row.Total.Cents, row.TypeTotal.Cents)
	}
	if row.Percentage != 100 {
		t.Fatalf("sole expense must carry the full share, got %v", row.Percentage)
	}
	if row.Rank != 1 {
		t.Fatalf("sole expense must rank first, got %d", row.Rank)
	}
}

func TestCategoryAverageAcrossMonths(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	account := mustAccount(t, repo, "Checking", core.AccountBank, core.Zero("EUR"))
	groceries := mustCategory(t, repo, "Groceries", core.CategoryExpense)

	mustTransaction(t, repo, account.ID, -10000, core.NewDate(2025, 5, 8), "May groceries", &groceries.ID)
	mustTransaction(t, repo, account.ID, -30000, core.NewDate(2025, 6, 8), "June groceries", &groceries.ID)

	if err := repo.RefreshAggregates(ctx, "EUR"); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	rows, err := repo.FindCategoryHistory(ctx, CategoryHistoryFilter{CategoryID: &groceries.ID})
	if err != nil {
		t.Fatalf("find category history: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	// The average spans every month the category appears in.
	for _, row := range rows {
		if row.Average.Cents != -20000 {
			t.Fatalf("expected average -20000 for %s, got %d", row.Month.ISO(), row.Average.Cents)
		}
	}
}

func TestZeroTransactionAccountStillAppears(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	account := mustAccount(t, repo, "Savings", core.AccountBank, core.Money{Cents: 500000, Currency: "EUR"})

	if err := repo.RefreshAggregates(ctx, "EUR"); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	rows, err := repo.FindAccountHistory(ctx, AccountHistoryFilter{AccountID: &account.ID})
	if err != nil {
		t.Fatalf("find account history: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 row for transactionless account, got %d", len(rows))
	}
	row := rows[0]
	if row.Balance.Cents != 500000 {
		t.Fatalf("expected opening balance 500000, got %d", row.Balance.Cents)
	}
	if row.MonthBalance.Cents != 0 || row.MonthIncome.Cents != 0 || row.MonthExpenses.Cents != 0 {
		t.Fatalf("expected zero month figures, got %+v", row)
	}
	if !row.Month.Equal(core.MonthOf(account.CreatedAt)) {
		t.Fatalf("expected creation month %s, got %s", core.MonthOf(account.CreatedAt).ISO(), row.Month.ISO())
	}
}

func TestRefreshRejectsStrayCurrency(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	account := mustAccount(t, repo, "US Checking", core.AccountBank, core.Zero("USD"))
	salary := mustCategory(t, repo, "Salary", core.CategoryIncome)
	if _, err := repo.CreateTransaction(ctx, core.Transaction{
		AccountID:   account.ID,
		Amount:      core.Money{Cents: 1000, Currency: "USD"},
		Date:        core.NewDate(2025, 7, 1),
		Description: "USD salary",
		CategoryID:  &salary.ID,
	}); err != nil {
		t.Fatalf("create USD transaction: %v", err)
	}

	err := repo.RefreshAggregates(ctx, "EUR")
	if !errors.Is(err, core.ErrCurrencyMismatch) {
		t.Fatalf("expected ErrCurrencyMismatch, got %v", err)
	}

	// The failed refresh must leave the previous (empty) snapshot queryable.
	rows, err := repo.FindAccountHistory(ctx, AccountHistoryFilter{})
	if err != nil {
		t.Fatalf("history must stay queryable after failed refresh: %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("expected untouched empty snapshot, got %d rows", len(rows))
	}
}

func TestRefreshIsIdempotent(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	account := mustAccount(t, repo, "Checking", core.AccountBank, core.Zero("EUR"))
	rent := mustCategory(t, repo, "Rent", core.CategoryExpense)
	mustTransaction(t, repo, account.ID, -80000, core.NewDate(2025, 7, 3), "Rent", &rent.ID)

	for i := 0; i < 3; i++ {
		if err := repo.RefreshAggregates(ctx, "EUR"); err != nil {
			t.Fatalf("refresh %d: %v", i, err)
		}
	}

	rows, err := repo.FindAccountHistory(ctx, AccountHistoryFilter{})
	if err != nil {
		t.Fatalf("find account history: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 row after repeated refreshes, got %d", len(rows))
	}
}

func TestRefreshKeepsReadersOnConsistentSnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	repo, err := NewSQLiteRepository(path)
	if err != nil {
		t.Fatalf("open repository: %v", err)
	}
	defer repo.Close()
	ctx := context.Background()

	account := mustAccount(t, repo, "Checking", core.AccountBank, core.Zero("EUR"))
	rent := mustCategory(t, repo, "Rent", core.CategoryExpense)
	mustTransaction(t, repo, account.ID, -80000, core.NewDate(2025, 7, 3), "Rent", &rent.ID)

	if err := repo.RefreshAggregates(ctx, "EUR"); err != nil {
		t.Fatalf("initial refresh: %v", err)
	}

	// Reads go through a second connection pool, the way the API server and
	// the worker share the database file in production.
	reader, err := NewSQLiteRepository(path)
	if err != nil {
		t.Fatalf("open reader: %v", err)
	}
	defer reader.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 25; i++ {
			if err := repo.RefreshAggregates(ctx, "EUR"); err != nil {
				t.Errorf("refresh %d: %v", i, err)
				return
			}
		}
	}()

	// Every read interleaved with the in-flight swaps must see all three
	// tables fully populated, never a dropped table or a half-filled one.
	for stopped := false; !stopped; {
		select {
		case <-done:
			stopped = true
		default:
		}

		accounts, err := reader.FindAccountHistory(ctx, AccountHistoryFilter{})
		if err != nil {
			t.Fatalf("account history during refresh: %v", err)
		}
		if len(accounts) != 1 {
			t.Fatalf("partial account snapshot: %d rows", len(accounts))
		}
		categories, err := reader.FindCategoryHistory(ctx, CategoryHistoryFilter{})
		if err != nil {
			t.Fatalf("category history during refresh: %v", err)
		}
		if len(categories) != 1 {
			t.Fatalf("partial category snapshot: %d rows", len(categories))
		}
		records, err := reader.FindTransactionHistory(ctx, TransactionHistoryFilter{})
		if err != nil {
			t.Fatalf("transaction history during refresh: %v", err)
		}
		if len(records) != 1 {
			t.Fatalf("partial transaction snapshot: %d rows", len(records))
		}
	}
}

func TestCreateTransactionCurrencyMismatchRollsBack(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	account := mustAccount(t, repo, "Checking", core.AccountBank, core.Money{Cents: 10000, Currency: "EUR"})

	_, err := repo.CreateTransaction(ctx, core.Transaction{
		AccountID:   account.ID,
		Amount:      core.Money{Cents: 500, Currency: "USD"},
		Date:        core.NewDate(2025, 7, 1),
		Description: "Wrong currency",
	})
	if !errors.Is(err, core.ErrCurrencyMismatch) {
		t.Fatalf("expected ErrCurrencyMismatch, got %v", err)
	}

	// Neither the balance nor the ledger may have changed.
	after, err := repo.GetAccount(ctx, account.ID)
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	if after.Balance.Cents != 10000 || after.Balance.Currency != "EUR" {
		t.Fatalf("balance changed after failed write: %+v", after.Balance)
	}
}
