package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/JakeFAU/glossifier-terms/internal/config"
	"github.com/JakeFAU/glossifier-terms/internal/dispatcher"
	"github.com/JakeFAU/glossifier-terms/internal/refresh"
)

// Dispatcher is the refresh gate the server drives.
type Dispatcher interface {
	Dispatch(ctx context.Context) (refresh.Result, error)
	Last() (dispatcher.Status, bool)
	Ready() bool
}

// MetricsRecorder provides the /metrics handler and request instrumentation.
type MetricsRecorder interface {
	Handler() http.Handler
	Middleware(next http.Handler) http.Handler
}

// Server wires HTTP handlers to the refresh dispatcher.
type Server struct {
	router     chi.Router
	dispatcher Dispatcher
	logger     *zap.Logger
	nextRun    func() time.Time
}

// Option customises a Server.
type Option func(*Server)

// WithNextRun reports the next scheduled refresh on /readyz and
// /v1/refresh/last. next returns the zero time while nothing is scheduled.
func WithNextRun(next func() time.Time) Option {
	return func(s *Server) { s.nextRun = next }
}

// NewServer constructs a Server with middleware and routes. recorder may be nil.
func NewServer(d Dispatcher, recorder MetricsRecorder, cfg config.AdminConfig, logger *zap.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{dispatcher: d, logger: logger}
	for _, opt := range opts {
		opt(s)
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	if recorder != nil {
		r.Use(recorder.Middleware)
	}

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	if recorder != nil {
		r.Method(http.MethodGet, "/metrics", recorder.Handler())
	}

	r.Route("/v1", func(r chi.Router) {
		if cfg.APIKey != "" {
			r.Use(apiKeyMiddleware(cfg.APIKey))
		}
		r.With(triggerLimitMiddleware(cfg.TriggerRPS, cfg.TriggerBurst)).Post("/refresh", s.triggerRefresh)
		r.Get("/refresh/last", s.lastRefresh)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves on addr until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("admin server started", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("admin server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("admin server shutdown: %w", err)
	}
	return nil
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	st, ok := s.dispatcher.Last()
	if !ok {
		writeJSON(w, http.StatusServiceUnavailable, s.withNextRun(map[string]any{"status": "no refresh has completed"}))
		return
	}
	if !s.dispatcher.Ready() {
		writeJSON(w, http.StatusServiceUnavailable, s.withNextRun(map[string]any{"status": "last refresh failed", "last": st}))
		return
	}
	writeJSON(w, http.StatusOK, s.withNextRun(map[string]any{"status": "ready", "last": st}))
}

func (s *Server) withNextRun(body map[string]any) map[string]any {
	if s.nextRun == nil {
		return body
	}
	if next := s.nextRun(); !next.IsZero() {
		body["next_refresh"] = next.UTC().Format(time.RFC3339)
	}
	return body
}

func (s *Server) triggerRefresh(w http.ResponseWriter, r *http.Request) {
	res, err := s.dispatcher.Dispatch(r.Context())
	if err != nil {
		status := statusFor(err)
		writeJSON(w, status, map[string]any{
			"error":   err.Error(),
			"outcome": outcomeLabel(err),
			"run_id":  res.RunID,
		})
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) lastRefresh(w http.ResponseWriter, _ *http.Request) {
	st, ok := s.dispatcher.Last()
	if !ok {
		writeError(w, http.StatusNotFound, "no refresh has completed")
		return
	}
	if s.nextRun == nil {
		writeJSON(w, http.StatusOK, st)
		return
	}
	writeJSON(w, http.StatusOK, s.withNextRun(map[string]any{"last": st}))
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, dispatcher.ErrBusy):
		return http.StatusConflict
	case errors.Is(err, refresh.ErrTransport):
		return http.StatusBadGateway
	case errors.Is(err, refresh.ErrConnection):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func outcomeLabel(err error) string {
	if errors.Is(err, dispatcher.ErrBusy) {
		return "busy"
	}
	return string(refresh.OutcomeOf(err))
}

type requestIDKey struct{}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("request completed",
				zap.String("request_id", requestID(r.Context())),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered",
						zap.String("request_id", requestID(r.Context())),
						zap.Any("panic", rec),
					)
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if subtle.ConstantTimeCompare([]byte(key), []byte(expected)) != 1 {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// triggerLimitMiddleware rejects manual refreshes beyond rps with 429.
func triggerLimitMiddleware(rps float64, burst int) func(http.Handler) http.Handler {
	if rps <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	if burst <= 0 {
		burst = 1
	}
	limiter := rate.NewLimiter(rate.Limit(rps), burst)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow() {
				w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(1/rps))))
				writeError(w, http.StatusTooManyRequests, "refresh triggered too often")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
