// Package http serves the JSON API: write commands, history queries and the
// net worth report.
package http

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"patrimonio/internal/cache"
	"patrimonio/internal/core"
	"patrimonio/internal/services"
	"patrimonio/internal/storage"
)

// Ledger is the write side the server depends on.
type Ledger interface {
	CreateAccount(ctx context.Context, a core.Account) (core.Account, error)
	CreateCategory(ctx context.Context, c core.Category) (core.Category, error)
	RenameCategory(ctx context.Context, id uuid.UUID, name string) (core.Category, error)
	CreateTransaction(ctx context.Context, t core.Transaction) (core.Transaction, error)
	AssignCategory(ctx context.Context, txID uuid.UUID, categoryID *uuid.UUID) (core.Transaction, error)
}

// HistoryReader is the query side over the aggregate tables.
type HistoryReader interface {
	FindAccountHistory(ctx context.Context, f storage.AccountHistoryFilter) ([]core.AccountMonth, error)
	FindCategoryHistory(ctx context.Context, f storage.CategoryHistoryFilter) ([]core.CategoryMonth, error)
	FindTransactionHistory(ctx context.Context, f storage.TransactionHistoryFilter) ([]core.TransactionRecord, error)
}

// NetWorthReader composes the analytics report.
type NetWorthReader interface {
	GetNetWorth(ctx context.Context, q services.NetWorthQuery) (core.NetWorthReport, error)
}

// Refresher triggers a synchronous aggregate recomputation.
type Refresher interface {
	RefreshAggregates(ctx context.Context, settlementCurrency string) error
}

type Server struct {
	http.Server

	ledger   Ledger
	history  HistoryReader
	networth NetWorthReader
	refresh  Refresher

	settlementCurrency string

	rateLimiter *rateLimiter

	// Cached net worth reports, purged when a refresh changes the
	// underlying aggregates.
	reportCache *cache.LRU[core.NetWorthReport]

	stopCacheCleanup chan struct{}
	shutdownOnce     sync.Once
}

// NewServer configures routes and middleware, returning a ready-to-run server.
func NewServer(addr string, ledger Ledger, history HistoryReader, networth NetWorthReader, refresh Refresher, settlementCurrency string) *Server {
	mux := http.NewServeMux()

	s := &Server{
		Server: http.Server{
			Addr:    addr,
			Handler: mux,
		},
		ledger:             ledger,
		history:            history,
		networth:           networth,
		refresh:            refresh,
		settlementCurrency: settlementCurrency,
		rateLimiter:        newRateLimiter(),
		reportCache:        cache.NewLRU[core.NetWorthReport](100, time.Minute),
		stopCacheCleanup:   make(chan struct{}),
	}

	go s.startCacheCleanup()

	mux.HandleFunc("POST /api/accounts", s.withMiddleware(s.handleCreateAccount))
	mux.HandleFunc("POST /api/categories", s.withMiddleware(s.handleCreateCategory))
	mux.HandleFunc("PATCH /api/categories/{id}", s.withMiddleware(s.handleRenameCategory))
	mux.HandleFunc("POST /api/transactions", s.withMiddleware(s.handleCreateTransaction))
	mux.HandleFunc("PATCH /api/transactions/{id}/category", s.withMiddleware(s.handleAssignCategory))

	mux.HandleFunc("GET /api/history/accounts", s.withMiddleware(s.handleAccountHistory))
	mux.HandleFunc("GET /api/history/categories", s.withMiddleware(s.handleCategoryHistory))
	mux.HandleFunc("GET /api/history/transactions", s.withMiddleware(s.handleTransactionHistory))
	mux.HandleFunc("GET /api/networth", s.withMiddleware(s.handleNetWorth))

	mux.HandleFunc("POST /api/aggregates/refresh", s.withMiddleware(s.handleRefresh))

	mux.HandleFunc("/healthz", handleHealth)
	mux.HandleFunc("/readyz", handleReady)

	return s
}

// withMiddleware adds security headers, rate limiting, and request logging.
func (s *Server) withMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// Extract client IP (considering proxies)
		clientIP := r.Header.Get("X-Forwarded-For")
		if clientIP == "" {
			clientIP = r.Header.Get("X-Real-IP")
		}
		if clientIP == "" {
			clientIP = r.RemoteAddr
		}

		requestID := generateRequestID()
		ctx := context.WithValue(r.Context(), requestIDKey, requestID)
		r = r.WithContext(ctx)

		slog.InfoContext(ctx, "Request started",
			"request_id", requestID,
			"method", r.Method,
			"url", r.URL.Path,
			"client_ip", clientIP,
			"user_agent", r.Header.Get("User-Agent"))

		// Rate limit mutating methods only; history reads are cheap.
		if mutating(r.Method) && !s.rateLimiter.allow(clientIP) {
			slog.WarnContext(ctx, "Rate limit exceeded", "client_ip", clientIP, "method", r.Method, "url", r.URL.Path)
			w.Header().Set("Retry-After", "60")
			writeJSON(w, http.StatusTooManyRequests, errorResponse{Error: "rate limit exceeded, try again later"})
			return
		}

		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Content-Security-Policy", "default-src 'none'")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next(rw, r)

		slog.InfoContext(ctx, "Request completed",
			"request_id", requestID,
			"method", r.Method,
			"url", r.URL.Path,
			"status", rw.statusCode,
			"duration_ms", time.Since(start).Milliseconds(),
			"client_ip", clientIP)
	}
}

type contextKey string

const requestIDKey contextKey = "request_id"

func mutating(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPatch, http.MethodPut, http.MethodDelete:
		return true
	}
	return false
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// startCacheCleanup runs periodic cleanup for the report cache.
func (s *Server) startCacheCleanup() {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if cleaned := s.reportCache.CleanExpired(); cleaned > 0 {
				slog.Debug("Cache cleanup completed", "entries_removed", cleaned)
			}
		case <-s.stopCacheCleanup:
			return
		}
	}
}

// InvalidateReports drops every cached report. Called after a refresh.
func (s *Server) InvalidateReports() {
	s.reportCache.Purge()
}

// Shutdown gracefully shuts down the server and cleanup routines.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error

	s.shutdownOnce.Do(func() {
		if s.stopCacheCleanup != nil {
			close(s.stopCacheCleanup)
		}
		if s.rateLimiter != nil {
			s.rateLimiter.stop()
		}
		shutdownErr = s.Server.Shutdown(ctx)
	})

	return shutdownErr
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func handleReady(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}
