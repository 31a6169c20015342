// Package http exposes the month editing surface as a JSON API. Each
// (budget, month) pair gets its own engine, created on first touch and
// kept until shutdown.
package http

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"envelope/internal/cache"
	"envelope/internal/core"
	"envelope/internal/engine"
	"envelope/internal/log"
)

// Store is the storage surface the API needs: the engine's ports plus
// the seeding operations for funds and transactions.
type Store interface {
	engine.SnapshotStore
	engine.ActivitySource
	engine.CategoryDirectory
	SetMonthFunds(ctx context.Context, budgetID string, month core.MonthKey, revenue, recurringFixed, rollover core.Money) error
	RecordTransaction(ctx context.Context, budgetID string, month core.MonthKey, categoryID string, amount core.Money, description string) error
}

type Server struct {
	http.Server

	store      Store
	dispatcher engine.RecomputeDispatcher
	engineCfg  engine.Config // identity fields filled per engine
	logger     *log.Logger

	mu      sync.Mutex
	engines map[string]*engine.Engine

	categoryCache *cache.LRUCache[[]core.Category]

	shutdownOnce sync.Once
}

// NewServer configures routes, returning a ready-to-run http.Server.
func NewServer(addr string, store Store, dispatcher engine.RecomputeDispatcher, engineCfg engine.Config, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}

	mux := http.NewServeMux()

	s := &Server{
		Server: http.Server{
			Addr:    addr,
			Handler: mux,
		},
		store:         store,
		dispatcher:    dispatcher,
		engineCfg:     engineCfg,
		logger:        logger.WithComponent(log.ComponentHTTP),
		engines:       make(map[string]*engine.Engine),
		categoryCache: cache.NewLRUCache[[]core.Category](100, 5*time.Minute),
	}

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /api/v1/budgets/{budgetID}/months/{month}", s.withLogging(s.handleMonthView))
	mux.HandleFunc("GET /api/v1/budgets/{budgetID}/months/{month}/status", s.withLogging(s.handleStatus))
	mux.HandleFunc("PUT /api/v1/budgets/{budgetID}/months/{month}/allocations/{categoryID}", s.withLogging(s.handleSetAllocation))
	mux.HandleFunc("PUT /api/v1/budgets/{budgetID}/months/{month}/funds", s.withLogging(s.handleSetFunds))
	mux.HandleFunc("POST /api/v1/budgets/{budgetID}/months/{month}/transactions", s.withLogging(s.handleRecordTransaction))

	return s
}

// withLogging records method, path, status and latency per request.
func (s *Server) withLogging(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next(sw, r)
		s.logger.InfoContext(r.Context(), "Request handled",
			log.FieldMethod, r.Method,
			log.FieldPath, r.URL.Path,
			log.FieldStatusCode, sw.status,
			log.FieldDuration, time.Since(start).Milliseconds())
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// engineFor returns the engine for one (budget, month), creating it on
// first touch.
func (s *Server) engineFor(ctx context.Context, budgetID string, month core.MonthKey) (*engine.Engine, error) {
	key := budgetID + "/" + month.String()

	s.mu.Lock()
	defer s.mu.Unlock()
	if eng, ok := s.engines[key]; ok {
		return eng, nil
	}

	cfg := s.engineCfg
	cfg.BudgetID = budgetID
	cfg.Month = month
	eng, err := engine.New(ctx, cfg, s.store, s.store, s, s.dispatcher, s.logger)
	if err != nil {
		return nil, fmt.Errorf("create engine for %s: %w", key, err)
	}
	s.engines[key] = eng
	return eng, nil
}

// lookupEngine returns an already-created engine, if any.
func (s *Server) lookupEngine(budgetID string, month core.MonthKey) (*engine.Engine, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	eng, ok := s.engines[budgetID+"/"+month.String()]
	return eng, ok
}

// Categories implements engine.CategoryDirectory, fronting the store
// with the LRU cache; the list is nearly static, so a short TTL is
// plenty.
func (s *Server) Categories(ctx context.Context, budgetID string) ([]core.Category, error) {
	if cats, ok := s.categoryCache.Get(budgetID); ok {
		return cats, nil
	}
	cats, err := s.store.Categories(ctx, budgetID)
	if err != nil {
		return nil, err
	}
	s.categoryCache.Set(budgetID, cats)
	return cats, nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.mu.Lock()
		for _, eng := range s.engines {
			eng.Close()
		}
		s.mu.Unlock()
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}
