// Package server exposes the library over a local HTTP control API.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/yodel/yodel-go/internal/download"
	apperrors "github.com/yodel/yodel-go/internal/errors"
	"github.com/yodel/yodel-go/internal/library"
	"github.com/yodel/yodel-go/internal/monitoring"
	"github.com/yodel/yodel-go/internal/store"
)

// shutdownTimeout bounds graceful shutdown
const shutdownTimeout = 10 * time.Second

// Deps are the services behind the API
type Deps struct {
	Library  *library.Service
	Health   *monitoring.HealthChecker
	Notifier *download.ProgressNotifier
	// ActiveDownloads reports the number of tracks being processed; may be nil
	ActiveDownloads func() int
}

// Server is the HTTP control API
type Server struct {
	deps   Deps
	logger *zap.Logger
	router chi.Router

	mu       sync.Mutex
	http     *http.Server
	listener net.Listener
	errCh    chan error
}

// New creates a server and registers its routes
func New(deps Deps, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{deps: deps, logger: logger.Named("server")}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/tracks", func(r chi.Router) {
		r.Get("/", s.handleListTracks)
		r.Post("/", s.handleEnqueue)
		r.Get("/{id}", s.handleGetTrack)
		r.Delete("/{id}", s.handleDeleteTrack)
		r.Post("/{id}/retry", s.handleRetryTrack)
	})

	if s.deps.Notifier != nil {
		r.Get("/stats", s.handleStats)
		r.Get("/events", s.handleEvents)
	}
	return r
}

// Handler returns the router
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens on addr and serves in the background
func (s *Server) Start(addr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.http != nil {
		return fmt.Errorf("server already started")
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	s.listener = ln
	s.errCh = make(chan error, 1)
	s.http = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func(srv *http.Server, errCh chan error) {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}(s.http, s.errCh)

	s.logger.Info("HTTP server started", zap.String("addr", ln.Addr().String()))
	return nil
}

// Addr returns the bound address once started
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Errors delivers a serve failure; it is closed when the server stops
func (s *Server) Errors() <-chan error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errCh
}

// Shutdown stops accepting connections and waits for requests to finish
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.http
	s.http = nil
	s.mu.Unlock()

	if srv == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shut down HTTP server: %w", err)
	}
	s.logger.Info("HTTP server stopped")
	return nil
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("Request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)))
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	pending := 0
	if counts, err := s.deps.Library.Counts(r.Context()); err == nil {
		pending = counts[store.StatusPending]
	}
	active := 0
	if s.deps.ActiveDownloads != nil {
		active = s.deps.ActiveDownloads()
	}

	check := s.deps.Health.Check(r.Context(), pending, active)
	status := http.StatusOK
	if check.Status == monitoring.HealthStatusUnhealthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, check)
}

func (s *Server) handleListTracks(w http.ResponseWriter, r *http.Request) {
	var (
		tracks []*store.Track
		err    error
	)
	if key := r.URL.Query().Get("status"); key != "" {
		status := store.ParseStatus(key)
		if status.Key() != key {
			s.writeError(w, apperrors.NewValidationError(fmt.Sprintf("unknown status %q", key)))
			return
		}
		tracks, err = s.deps.Library.ListByStatus(r.Context(), status)
	} else {
		tracks, err = s.deps.Library.List(r.Context())
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	if tracks == nil {
		tracks = []*store.Track{}
	}
	writeJSON(w, http.StatusOK, tracks)
}

type enqueueRequest struct {
	Refs []string `json:"refs"`
}

func (s *Server) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	var req enqueueRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		s.writeError(w, apperrors.NewValidationError(fmt.Sprintf("invalid request body: %v", err)))
		return
	}

	res, err := s.deps.Library.Enqueue(r.Context(), req.Refs...)
	if err != nil {
		s.writeError(w, err)
		return
	}
	status := http.StatusOK
	if len(res.Added) > 0 {
		status = http.StatusCreated
	}
	writeJSON(w, status, res)
}

func (s *Server) handleGetTrack(w http.ResponseWriter, r *http.Request) {
	track, err := s.deps.Library.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, track)
}

func (s *Server) handleDeleteTrack(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Library.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRetryTrack(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.deps.Library.Retry(r.Context(), id); err != nil {
		s.writeError(w, err)
		return
	}
	track, err := s.deps.Library.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, track)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Notifier.GetStats())
}

type errorResponse struct {
	Error string `json:"error"`
	Type  string `json:"type"`
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := apperrors.StatusCode(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("Request failed", zap.Error(err))
	}
	writeJSON(w, status, errorResponse{Error: err.Error(), Type: string(apperrors.GetErrorType(err))})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
