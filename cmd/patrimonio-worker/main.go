package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"patrimonio/internal/amqp"
	"patrimonio/internal/config"
	gexport "patrimonio/internal/export/google"
	applog "patrimonio/internal/log"
	"patrimonio/internal/services"
	"patrimonio/internal/storage"
	"patrimonio/internal/worker"
)

func main() {
	// Load .env file for local development (ignore errors in production/docker)
	_ = godotenv.Load()

	logger := applog.New(slog.LevelInfo, "worker")
	applog.SetDefault(logger)

	logger.Info("Starting patrimonio-worker")

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

	amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
	if err != nil {
		logger.Error("Failed to initialize AMQP client", "error", err)
		os.Exit(1)
	}
	defer amqpClient.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var refresher worker.Refresher = repo
	exporter, err := gexport.NewFromConfig(ctx, cfg)
	switch {
	case errors.Is(err, gexport.ErrNotConfigured):
		logger.Info("Sheets export disabled")
	case err != nil:
		logger.Warn("Failed to initialize sheets export, continuing without it", "error", err)
	default:
		refresher = &exportingRefresher{
			repo:     repo,
			networth: services.NewNetWorthService(repo, cfg.SettlementCurrency, cfg.MonthsOfHistory, cfg.MaxCategories),
			exporter: exporter,
		}
		logger.Info("Sheets export enabled", "spreadsheet_id", cfg.GoogleSpreadsheetID)
	}

	refreshWorker := worker.NewRefreshWorker(refresher, worker.RefreshWorkerConfig{
		SettlementCurrency: cfg.SettlementCurrency,
		Debounce:           cfg.RefreshDebounce,
		Interval:           cfg.RefreshInterval,
	})
	if err := refreshWorker.Start(ctx); err != nil {
		logger.Error("Failed to start refresh worker", "error", err)
		os.Exit(1)
	}

	// Every queued message is only a trigger; the debounce window collapses
	// bursts into a single recomputation.
	go func() {
		err := amqpClient.ConsumeRefreshRequests(ctx, func(msg *amqp.RefreshRequest) error {
			refreshWorker.Trigger()
			return nil
		})
		if err != nil && err != context.Canceled {
			logger.Error("Message consumption failed", "error", err)
		}
		cancel()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Info("Shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		logger.Info("Context cancelled")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	cancel()
	if err := refreshWorker.Stop(shutdownCtx); err != nil {
		logger.Warn("Refresh worker stop timed out", "error", err)
	}

	logger.Info("Worker shutdown complete")
}

// exportingRefresher pushes the trend series to Google Sheets after each
// successful refresh. Export failures only log; the refresh itself stands.
type exportingRefresher struct {
	repo     *storage.SQLiteRepository
	networth *services.NetWorthService
	exporter *gexport.Client
}

func (e *exportingRefresher) RefreshAggregates(ctx context.Context, settlementCurrency string) error {
	if err := e.repo.RefreshAggregates(ctx, settlementCurrency); err != nil {
		return err
	}
	report, err := e.networth.GetNetWorth(ctx, services.NetWorthQuery{})
	if err != nil {
		slog.WarnContext(ctx, "Report composition for export failed", "error", err)
		return nil
	}
	if err := e.exporter.ExportTrends(ctx, report); err != nil {
		slog.WarnContext(ctx, "Trend export failed", "error", err)
	}
	return nil
}
