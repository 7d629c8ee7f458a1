package http

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"meterlog/internal/core"
	"meterlog/internal/events"
)

// ReadingStore is the persistence contract the handlers depend on.
// *storage.PostgresRepository satisfies it in production.
type ReadingStore interface {
	ListReadings(ctx context.Context, limit int) ([]core.Reading, error)
	GetReading(ctx context.Context, month string) (core.Reading, error)
	CreateReading(ctx context.Context, reading core.Reading) (int64, error)
	UpdateReading(ctx context.Context, month string, reading core.Reading) error
	DeleteReading(ctx context.Context, month string) error
	Ping(ctx context.Context) error
}

// EventPublisher notifies downstream consumers about reading mutations.
type EventPublisher interface {
	PublishReadingEvent(ctx context.Context, event *events.ReadingEvent) error
}

type Server struct {
	http.Server
	store       ReadingStore
	publisher   EventPublisher // nil when AMQP is not configured
	rateLimiter *rateLimiter

	shutdownOnce sync.Once
}

// NewServer configures routes and middleware, returning a ready-to-run
// http.Server. publisher may be nil.
func NewServer(addr string, store ReadingStore, publisher EventPublisher) *Server {
	mux := http.NewServeMux()

	s := &Server{
		Server: http.Server{
			Addr:    addr,
			Handler: mux,
		},
		store:       store,
		publisher:   publisher,
		rateLimiter: newRateLimiter(),
	}

	mux.HandleFunc("GET /api/energy", s.withRequestContext(s.handleListReadings))
	mux.HandleFunc("POST /api/energy", s.withRequestContext(s.handleCreateReading))
	mux.HandleFunc("GET /api/energy/series", s.withRequestContext(s.handleSeries))
	mux.HandleFunc("GET /api/energy/{month}", s.withRequestContext(s.handleGetReading))
	mux.HandleFunc("PUT /api/energy/{month}", s.withRequestContext(s.handleUpdateReading))
	mux.HandleFunc("DELETE /api/energy/{month}", s.withRequestContext(s.handleDeleteReading))
	mux.HandleFunc("GET /health", s.handleHealth)

	return s
}

// Shutdown gracefully shuts down the server and cleanup routines.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error

	s.shutdownOnce.Do(func() {
		if s.rateLimiter != nil {
			s.rateLimiter.stop()
		}
		shutdownErr = s.Server.Shutdown(ctx)
	})

	return shutdownErr
}

type contextKey string

const requestIDKey contextKey = "request_id"

// withRequestContext adds a request ID, request logging, security
// headers and rate limiting for mutating methods.
func (s *Server) withRequestContext(next http.HandlerFunc) http.HandlerFunc {
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
			"client_ip", clientIP)

		if isMutating(r.Method) && !s.rateLimiter.allow(clientIP) {
			slog.WarnContext(ctx, "Rate limit exceeded", "client_ip", clientIP, "method", r.Method, "url", r.URL.Path)
			w.Header().Set("Retry-After", "60")
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded, please try again later")
			return
		}

		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")

		// Capture the status code for the completion log line
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next(rw, r)

		duration := time.Since(start)
		slog.InfoContext(ctx, "Request completed",
			"request_id", requestID,
			"method", r.Method,
			"url", r.URL.Path,
			"status", rw.statusCode,
			"duration_ms", duration.Milliseconds(),
			"client_ip", clientIP)
	}
}

func isMutating(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodDelete:
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

// generateRequestID creates a unique request ID for tracing.
func generateRequestID() string {
	bytes := make([]byte, 8)
	if _, err := rand.Read(bytes); err != nil {
		// Fallback to timestamp if random fails
		return fmt.Sprintf("req_%d", time.Now().UnixNano())
	}
	return "req_" + hex.EncodeToString(bytes)
}

// publishEvent notifies downstream consumers about a mutation. Event
// delivery is auxiliary; failures are logged, never surfaced.
func (s *Server) publishEvent(ctx context.Context, action, month string, id int64) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishReadingEvent(ctx, events.NewReadingEvent(action, month, id)); err != nil {
		slog.ErrorContext(ctx, "Failed to publish reading event",
			"error", err, "action", action, "month", month)
	}
}
