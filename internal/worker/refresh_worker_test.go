package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type countingRefresher struct {
	mu    sync.Mutex
	count int
	err   error
}

func (c *countingRefresher) RefreshAggregates(ctx context.Context, settlementCurrency string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.count++
	return c.err
}

func (c *countingRefresher) calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count
}

func TestRefreshWorkerStartStop(t *testing.T) {
	refresher := &countingRefresher{}
	w := NewRefreshWorker(refresher, RefreshWorkerConfig{
		SettlementCurrency: "EUR",
		Debounce:           50 * time.Millisecond,
		Interval:           time.Hour,
	})

	ctx := context.Background()
	if err := w.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if !w.IsRunning() {
		t.Fatal("worker should report running")
	}
	if err := w.Start(ctx); err == nil {
		t.Fatal("second start must fail")
	}

	stopCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	if err := w.Stop(stopCtx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if w.IsRunning() {
		t.Fatal("worker should report stopped")
	}

	// Startup runs one refresh even without triggers.
	if got := refresher.calls(); got < 1 {
		t.Fatalf("expected at least the startup refresh, got %d", got)
	}
}

func TestRefreshWorkerDebouncesBursts(t *testing.T) {
	refresher := &countingRefresher{}
	w := NewRefreshWorker(refresher, RefreshWorkerConfig{
		SettlementCurrency: "EUR",
		Debounce:           50 * time.Millisecond,
		Interval:           time.Hour,
	})

	ctx := context.Background()
	if err := w.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer w.Stop(ctx)

	// Let the startup refresh settle before counting.
	time.Sleep(20 * time.Millisecond)
	base := refresher.calls()

	for i := 0; i < 10; i++ {
		w.Trigger()
	}
	time.Sleep(150 * time.Millisecond)

	if got := refresher.calls() - base; got != 1 {
		t.Fatalf("expected burst to coalesce into 1 refresh, got %d", got)
	}
}

func TestRefreshWorkerPeriodicRefresh(t *testing.T) {
	refresher := &countingRefresher{}
	w := NewRefreshWorker(refresher, RefreshWorkerConfig{
		SettlementCurrency: "EUR",
		Debounce:           10 * time.Millisecond,
		Interval:           40 * time.Millisecond,
	})

	ctx := context.Background()
	if err := w.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer w.Stop(ctx)

	time.Sleep(150 * time.Millisecond)

	// Startup plus at least two interval ticks.
	if got := refresher.calls(); got < 3 {
		t.Fatalf("expected periodic refreshes without triggers, got %d", got)
	}
}

func TestRefreshWorkerSurvivesFailures(t *testing.T) {
	refresher := &countingRefresher{err: errors.New("locked")}
	w := NewRefreshWorker(refresher, RefreshWorkerConfig{
		SettlementCurrency: "EUR",
		Debounce:           20 * time.Millisecond,
		Interval:           time.Hour,
	})

	ctx := context.Background()
	if err := w.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer w.Stop(ctx)

	w.Trigger()
	time.Sleep(80 * time.Millisecond)

	// A failing refresh must not kill the loop.
	if !w.IsRunning() {
		t.Fatal("worker stopped after refresh failure")
	}
	w.Trigger()
	time.Sleep(80 * time.Millisecond)
	if got := refresher.calls(); got < 3 {
		t.Fatalf("expected retries after failures, got %d", got)
	}
}

func TestRefreshWorkerStopIsConcurrencySafe(t *testing.T) {
	w := NewRefreshWorker(&countingRefresher{}, RefreshWorkerConfig{
		SettlementCurrency: "EUR",
		Debounce:           50 * time.Millisecond,
		Interval:           time.Hour,
	})

	ctx := context.Background()
	if err := w.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}

	// Racing Stop calls must not double-close the stop channel.
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := w.Stop(ctx); err != nil {
				t.Errorf("stop: %v", err)
			}
		}()
	}
	wg.Wait()

	if w.IsRunning() {
		t.Fatal("worker should report stopped")
	}
}

func TestRefreshWorkerDefaults(t *testing.T) {
	w := NewRefreshWorker(&countingRefresher{}, RefreshWorkerConfig{SettlementCurrency: "EUR"})
	if w.config.Debounce != 10*time.Second {
		t.Errorf("expected default debounce 10s, got %v", w.config.Debounce)
	}
	if w.config.Interval != 15*time.Minute {
		t.Errorf("expected default interval 15m, got %v", w.config.Interval)
	}
}
