// Command seed loads a small sample data set, runs the first aggregate
// refresh and optionally pushes the trend series to Google Sheets.
package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"patrimonio/internal/config"
	"patrimonio/internal/core"
	gexport "patrimonio/internal/export/google"
	applog "patrimonio/internal/log"
	"patrimonio/internal/services"
	"patrimonio/internal/storage"
)

func main() {
	_ = godotenv.Load()

	logger := applog.New(slog.LevelInfo, "seed")
	applog.SetDefault(logger)

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", "error", err)
		os.Exit(1)
	}

	repo, err := storage.NewSQLiteRepository(cfg.SQLiteDBPath)
	if err != nil {
		logger.Error("Failed to initialize SQLite repository", "error", err, "path", cfg.SQLiteDBPath)
		os.Exit(1)
	}
	defer repo.Close()

	ctx := context.Background()
	currency := cfg.SettlementCurrency

	if err := seed(ctx, repo, currency); err != nil {
		logger.Error("Seeding failed", "error", err)
		os.Exit(1)
	}

	if err := repo.RefreshAggregates(ctx, currency); err != nil {
		logger.Error("Initial aggregate refresh failed", "error", err)
		os.Exit(1)
	}
	logger.Info("Seed data loaded and aggregates refreshed")

	exportTrends(ctx, cfg, repo, logger)
}

func seed(ctx context.Context, repo *storage.SQLiteRepository, currency string) error {
	checking, err := repo.CreateAccount(ctx, core.Account{
		Name:    "Checking",
		Type:    core.AccountBank,
		Balance: core.Zero(currency),
	})
	if err != nil {
		return err
	}
	wallet, err := repo.CreateAccount(ctx, core.Account{
		Name:    "Wallet",
		Type:    core.AccountCash,
		Balance: core.Zero(currency),
	})
	if err != nil {
		return err
	}

	salary, err := repo.CreateCategory(ctx, core.Category{Name: "Salary", Type: core.CategoryIncome, Color: "#2e7d32"})
	if err != nil {
		return err
	}
	groceries, err := repo.CreateCategory(ctx, core.Category{Name: "Groceries", Type: core.CategoryExpense, Color: "#c62828"})
	if err != nil {
		return err
	}
	rent, err := repo.CreateCategory(ctx, core.Category{Name: "Rent", Type: core.CategoryExpense, Color: "#6a1b9a"})
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	type row struct {
		account  uuid.UUID
		cents    int64
		monthAgo int
		day      int
		desc     string
		category uuid.UUID
	}
	rows := []row{
		{checking.ID, 250000, 2, 1, "Salary June", salary.ID},
		{checking.ID, -85000, 2, 3, "Rent June", rent.ID},
		{checking.ID, -12350, 2, 9, "Weekly groceries", groceries.ID},
		{checking.ID, 250000, 1, 1, "Salary July", salary.ID},
		{checking.ID, -85000, 1, 3, "Rent July", rent.ID},
		{wallet.ID, -4520, 1, 14, "Market stall", groceries.ID},
		{checking.ID, 250000, 0, 1, "Salary August", salary.ID},
		{checking.ID, -85000, 0, 3, "Rent August", rent.ID},
		{wallet.ID, -7800, 0, 6, "Groceries", groceries.ID},
	}
	for _, r := range rows {
		month := core.MonthOf(now).AddMonths(-r.monthAgo)
		date := core.NewDate(month.Year(), int(month.Month()), r.day)
		categoryID := r.category
		_, err := repo.CreateTransaction(ctx, core.Transaction{
			AccountID:   r.account,
			Amount:      core.Money{Cents: r.cents, Currency: currency},
			Date:        date,
			Description: r.desc,
			CategoryID:  &categoryID,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func exportTrends(ctx context.Context, cfg *config.Config, repo *storage.SQLiteRepository, logger *applog.Logger) {
	exporter, err := gexport.NewFromConfig(ctx, cfg)
	if errors.Is(err, gexport.ErrNotConfigured) {
		logger.Info("Sheets export disabled, skipping")
		return
	}
	if err != nil {
		logger.Error("Failed to initialize sheets export", "error", err)
		return
	}

	networth := services.NewNetWorthService(repo, cfg.SettlementCurrency, cfg.MonthsOfHistory, cfg.MaxCategories)
	report, err := networth.GetNetWorth(ctx, services.NetWorthQuery{})
	if err != nil {
		logger.Error("Failed to compose report for export", "error", err)
		return
	}
	if err := exporter.ExportTrends(ctx, report); err != nil {
		logger.Error("Failed to export trends", "error", err)
		return
	}
	logger.Info("Exported trend series to Google Sheets",
		"spreadsheet_id", cfg.GoogleSpreadsheetID, "months", len(report.MonthlyTrends))
}
