// Package server exposes the engine to external UIs over HTTP.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/arccode/factory-sub002/pkg/core"
	"github.com/arccode/factory-sub002/pkg/logger"
	"github.com/arccode/factory-sub002/pkg/store"
	"github.com/arccode/factory-sub002/pkg/testlist"
)

// Engine is the part of the execution engine the API drives.
type Engine interface {
	TestList() *testlist.TestList
	RunTests(path string, filter ...core.TestStatus) error
	RestartTests(path string) error
	AutoRun() error
	RetryFailed() error
	Stop(reason string) error
	ClearState() error
	States() map[string]core.RunState
	Summary() core.Summary
	CurrentRun() (core.RunInfo, bool)
	LastRun() (core.RunInfo, bool)
}

// Option configures optional Server behavior.
type Option func(*Server)

// WithStore serves run history from st.
func WithStore(st *store.Store) Option {
	return func(s *Server) {
		s.store = st
	}
}

// WithManager lists the available test lists from m.
func WithManager(m *testlist.Manager) Option {
	return func(s *Server) {
		s.manager = m
	}
}

// Server holds the chi router and its collaborators.
type Server struct {
	router   chi.Router
	engine   Engine
	barriers *Barriers
	manager  *testlist.Manager
	store    *store.Store
}

// New creates a Server with all routes configured.
func New(engine Engine, barriers *Barriers, opts ...Option) *Server {
	s := &Server{engine: engine, barriers: barriers}
	for _, opt := range opts {
		opt(s)
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestLog)

	r.Route("/api", func(r chi.Router) {
		r.Get("/test-lists", s.handleTestLists)
		r.Get("/tree", s.handleTree)
		r.Get("/states", s.handleStates)
		r.Get("/summary", s.handleSummary)
		r.Get("/runs", s.handleRuns)
		r.Get("/history", s.handleHistory)

		r.Post("/run", s.handleRun)
		r.Post("/restart", s.handleRestart)
		r.Post("/auto-run", s.handleAutoRun)
		r.Post("/retry-failed", s.handleRetryFailed)
		r.Post("/stop", s.handleStop)
		r.Post("/clear", s.handleClear)

		r.Get("/barriers", s.handleBarriers)
		r.Post("/barriers/{id}", s.handleAnswerBarrier)
	})

	s.router = r
	return s
}

// ServeHTTP implements http.Handler by delegating to the chi router.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ListenAndServe serves on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP API listening on %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	}
}

func requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		logger.Debug("%s %s -> %d (%s)", r.Method, r.URL.Path, ww.Status(), time.Since(start))
	})
}

// writeJSON encodes v as JSON and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("writing response: %v", err)
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}
