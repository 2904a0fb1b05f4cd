package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Refresher recomputes the aggregate tables. Satisfied by
// storage.SQLiteRepository.
type Refresher interface {
	RefreshAggregates(ctx context.Context, settlementCurrency string) error
}

// RefreshWorkerConfig holds configuration for the refresh worker
type RefreshWorkerConfig struct {
	// SettlementCurrency is passed through to every refresh run.
	SettlementCurrency string

	// Debounce coalesces bursts of triggers: a refresh runs at most once
	// per window, at the end of it (default: 10s).
	Debounce time.Duration

	// Interval bounds staleness: a refresh runs at least this often even
	// with no triggers at all (default: 15m).
	Interval time.Duration
}

// DefaultRefreshWorkerConfig returns sensible defaults
func DefaultRefreshWorkerConfig(settlementCurrency string) RefreshWorkerConfig {
	return RefreshWorkerConfig{
		SettlementCurrency: settlementCurrency,
		Debounce:           10 * time.Second,
		Interval:           15 * time.Minute,
	}
}

// RefreshWorker keeps the aggregate tables fresh. Write-side triggers are
// debounced so a batch import causes one recomputation, not one per row; a
// periodic tick bounds staleness when triggers are lost.
type RefreshWorker struct {
	refresher Refresher
	config    RefreshWorkerConfig

	triggerCh chan struct{}

	// Lifecycle management
	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewRefreshWorker creates a new refresh worker
func NewRefreshWorker(refresher Refresher, config RefreshWorkerConfig) *RefreshWorker {
	if config.Debounce <= 0 {
		config.Debounce = 10 * time.Second
	}
	if config.Interval <= 0 {
		config.Interval = 15 * time.Minute
	}
	return &RefreshWorker{
		refresher: refresher,
		config:    config,
		triggerCh: make(chan struct{}, 1),
	}
}

// Trigger requests a refresh. Non-blocking; triggers landing inside the
// same debounce window coalesce into one run.
func (w *RefreshWorker) Trigger() {
	select {
	case w.triggerCh <- struct{}{}:
	default:
	}
}

// Start begins the refresh loop. Returns an error if already running.
func (w *RefreshWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("refresh worker is already running")
	}
	w.running = true
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})
	w.mu.Unlock()

	go w.runLoop(ctx)

	slog.InfoContext(ctx, "Refresh worker started",
		"debounce", w.config.Debounce,
		"interval", w.config.Interval)

	return nil
}

// Stop gracefully stops the worker and waits for completion. Safe to call
// concurrently; only the first caller closes the stop channel.
func (w *RefreshWorker) Stop(ctx context.Context) error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	stopCh, doneCh := w.stopCh, w.doneCh
	w.mu.Unlock()

	close(stopCh)

	select {
	case <-doneCh:
		slog.InfoContext(ctx, "Refresh worker stopped gracefully")
	case <-ctx.Done():
		slog.WarnContext(ctx, "Refresh worker stop timed out")
		return ctx.Err()
	}

	return nil
}

// IsRunning returns whether the worker is currently running
func (w *RefreshWorker) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// runLoop is the main refresh loop
func (w *RefreshWorker) runLoop(ctx context.Context) {
	defer close(w.doneCh)

	intervalTicker := time.NewTicker(w.config.Interval)
	defer intervalTicker.Stop()

	// Debounce timer is armed on the first trigger of a burst and fires
	// once the window elapses.
	debounce := time.NewTimer(w.config.Debounce)
	if !debounce.Stop() {
		<-debounce.C
	}
	defer debounce.Stop()
	armed := false

	// Refresh immediately on startup so a restarted worker never serves a
	// stale snapshot for a full interval.
	w.refresh(ctx)

	for {
		select {
		case <-w.stopCh:
			return
		case <-ctx.Done():
			return
		case <-w.triggerCh:
			if !armed {
				debounce.Reset(w.config.Debounce)
				armed = true
			}
		case <-debounce.C:
			armed = false
			w.refresh(ctx)
			intervalTicker.Reset(w.config.Interval)
		case <-intervalTicker.C:
			w.refresh(ctx)
		}
	}
}

func (w *RefreshWorker) refresh(ctx context.Context) {
	if err := w.refresher.RefreshAggregates(ctx, w.config.SettlementCurrency); err != nil {
		// The previous snapshot stays queryable; the next tick retries.
		slog.ErrorContext(ctx, "Aggregate refresh failed", "error", err)
	}
}
