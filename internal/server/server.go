// Package server provides a lightweight HTTP status server that exposes the
// client state and the most recent EventSub notifications.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/Guliveer/twitchify-go/internal/constants"
	"github.com/Guliveer/twitchify-go/internal/logger"
)

// Status is a snapshot of the running client.
type Status struct {
	Running        bool      `json:"running"`
	Login          string    `json:"login,omitempty"`
	UserID         string    `json:"user_id,omitempty"`
	SessionID      string    `json:"session_id,omitempty"`
	Subscriptions  []string  `json:"subscriptions"`
	ChatChannels   []string  `json:"chat_channels,omitempty"`
	RefreshEnabled bool      `json:"refresh_enabled"`
	StartedAt      time.Time `json:"started_at,omitzero"`
}

// StatusFunc returns the current client status.
type StatusFunc func() Status

// StatusServer serves the health and status JSON endpoints.
type StatusServer struct {
	addr   string
	log    *logger.Logger
	srv    *http.Server
	events *EventLog

	mu         sync.RWMutex
	statusFunc StatusFunc
}

// NewStatusServer creates a StatusServer bound to addr. events may be nil.
func NewStatusServer(addr string, events *EventLog, log *logger.Logger) *StatusServer {
	if events == nil {
		events = NewEventLog(0)
	}
	s := &StatusServer{
		addr:   addr,
		log:    log,
		events: events,
	}

	s.srv = &http.Server{
		Addr:              addr,
		Handler:           withLogging(log, s.routes()),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext: func(_ net.Listener) context.Context {
			return context.Background()
		},
	}

	return s
}

func (s *StatusServer) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/events", s.handleEvents)
	return mux
}

// SetStatusFunc sets the function polled for the client status. Thread-safe.
func (s *StatusServer) SetStatusFunc(fn StatusFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statusFunc = fn
}

func (s *StatusServer) status() Status {
	s.mu.RLock()
	fn := s.statusFunc
	s.mu.RUnlock()
	if fn == nil {
		return Status{Subscriptions: []string{}}
	}
	return fn()
}

// Run starts the HTTP server and blocks until the context is cancelled.
// It performs graceful shutdown when the context is done.
func (s *StatusServer) Run(ctx context.Context) error {
	s.log.Info("Status server starting", "addr", s.addr)

	errCh := make(chan error, 1)
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("status server: %w", err)
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		s.log.Info("Status server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.DefaultGracefulShutdownTimeout)
		defer cancel()
		if err := s.srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("status server shutdown: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

func withLogging(log *logger.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)
		log.Debug("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rw.statusCode,
			"duration", time.Since(start).String(),
		)
	})
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

// WriteHeader captures the status code before writing it.
func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
