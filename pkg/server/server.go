// Package server exposes the HTTP API for patterns, automations, settings,
// and savings reports. Authentication is handled upstream; the API trusts
// the user identifier it is handed.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/NYTimes/gziphandler"
	"github.com/levenlabs/go-lflag"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gridhabit/gridhabit/pkg/device"
	"github.com/gridhabit/gridhabit/pkg/executor"
	"github.com/gridhabit/gridhabit/pkg/habit"
	"github.com/gridhabit/gridhabit/pkg/log"
	"github.com/gridhabit/gridhabit/pkg/routine"
	"github.com/gridhabit/gridhabit/pkg/storage"
)

// DefaultUserID is assumed when a request carries no user parameter. The
// deployment model is single tenant per process.
const DefaultUserID = "local"

// Server handles the HTTP API for the gridhabit engine.
type Server struct {
	db     storage.Database
	habits *habit.Service
	exec   *executor.Executor
	eval   *routine.Evaluator
	meta   device.Metadata

	listenAddr string
	serverName string
	httpServer *http.Server
}

// Configured initializes the Server with dependencies.
// It uses lflag to register command-line flags for configuration.
func Configured(db storage.Database, exec *executor.Executor, eval *routine.Evaluator, meta device.Metadata) *Server {
	srv := &Server{
		db:         db,
		habits:     habit.NewService(db),
		exec:       exec,
		eval:       eval,
		meta:       meta,
		serverName: "gridhabit",
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	listenAddr := lflag.String("http-listen", ":"+port, "HTTP server listen address")

	lflag.Do(func() {
		srv.listenAddr = *listenAddr
	})
	return srv
}

// NewForTest builds a Server without flag registration.
func NewForTest(db storage.Database, exec *executor.Executor, eval *routine.Evaluator, meta device.Metadata) *Server {
	return &Server{
		db:         db,
		habits:     habit.NewService(db),
		exec:       exec,
		eval:       eval,
		meta:       meta,
		serverName: "gridhabit",
	}
}

func (s *Server) setupHandler() http.Handler {
	apiMux := http.NewServeMux()
	apiMux.HandleFunc("GET /api/patterns", s.handleListPatterns)
	apiMux.HandleFunc("POST /api/patterns", s.handleCreatePattern)
	apiMux.HandleFunc("GET /api/patterns/{id}", s.handleGetPattern)
	apiMux.HandleFunc("DELETE /api/patterns/{id}", s.handleDeletePattern)
	apiMux.HandleFunc("POST /api/patterns/{id}/state", s.handleSetPatternState)
	apiMux.HandleFunc("POST /api/patterns/{id}/undo", s.handleUndoPattern)
	apiMux.HandleFunc("POST /api/patterns/{id}/test", s.handleTestPattern)
	apiMux.HandleFunc("GET /api/patterns/{id}/logs", s.handlePatternLogs)
	apiMux.HandleFunc("GET /api/automations", s.handleListAutomations)
	apiMux.HandleFunc("POST /api/automations", s.handleCreateAutomation)
	apiMux.HandleFunc("PUT /api/automations/{id}", s.handleUpdateAutomation)
	apiMux.HandleFunc("DELETE /api/automations/{id}", s.handleDeleteAutomation)
	apiMux.HandleFunc("GET /api/automations/{id}/savings", s.handleAutomationSavings)
	apiMux.HandleFunc("GET /api/automations/{id}/simulate", s.handleAutomationSimulate)
	apiMux.HandleFunc("GET /api/settings", s.handleGetSettings)
	apiMux.HandleFunc("POST /api/settings", s.handleUpdateSettings)

	mux := http.NewServeMux()
	mux.Handle("/api/", apiMux)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", s.handleHealthz)
	return s.revisionMiddleware(gziphandler.GzipHandler(mux))
}

// Handler exposes the fully assembled handler. Used by tests.
func (s *Server) Handler() http.Handler {
	return s.setupHandler()
}

// Run starts the HTTP server and blocks until the context is canceled or an
// error occurs. It handles graceful shutdown when the context is done.
func (s *Server) Run(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:         s.listenAddr,
		Handler:      s.setupHandler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  15 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		defer close(errChan)
		log.Ctx(ctx).InfoContext(ctx, "starting server", slog.String("addr", s.listenAddr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Ctx(ctx).InfoContext(ctx, "shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	}
}

// userID resolves the acting user for a request.
func userID(r *http.Request) string {
	if u := r.URL.Query().Get("user"); u != "" {
		return u
	}
	return DefaultUserID
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to write response", slog.Any("error", err))
		panic(http.ErrAbortHandler)
	}
}

func writeJSONError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(struct {
		Error string `json:"error"`
	}{Error: msg}); err != nil {
		slog.Warn("failed to write error response", slog.Any("error", err))
		panic(http.ErrAbortHandler)
	}
}

// writeStorageError maps storage failures onto status codes.
func writeStorageError(w http.ResponseWriter, err error) {
	if errors.Is(err, storage.ErrNotFound) {
		writeJSONError(w, "not found", http.StatusNotFound)
		return
	}
	writeJSONError(w, err.Error(), http.StatusInternalServerError)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("ok")); err != nil {
		panic(http.ErrAbortHandler)
	}
}

func (s *Server) revisionMiddleware(next http.Handler) http.Handler {
	if s.serverName == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Server", s.serverName)
		next.ServeHTTP(w, r)
	})
}
