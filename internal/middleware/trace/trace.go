// Package trace tags each request with an ID, a request-scoped logger and
// latency metrics.
package trace

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"finary/internal/log"
	"finary/internal/metrics"
)

// ContextKey type for context keys
type ContextKey string

const (
	// RequestIDKey is the context key for request ID
	RequestIDKey ContextKey = "request_id"

	// RequestIDHeader is echoed on every response.
	RequestIDHeader = "X-Request-Id"
)

// Middleware handles request tracing and logging
type Middleware struct {
	logger     *log.Logger
	extractIP  func(*http.Request) string
	suspicious func(*http.Request) bool
}

// NewMiddleware creates a trace middleware. suspicious may be nil.
func NewMiddleware(logger *log.Logger, extractIP func(*http.Request) string, suspicious func(*http.Request) bool) *Middleware {
	return &Middleware{logger: logger, extractIP: extractIP, suspicious: suspicious}
}

// Middleware returns HTTP middleware for request tracing
func (m *Middleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		clientIP := ""
		if m.extractIP != nil {
			clientIP = m.extractIP(r)
		}

		requestID := r.Header.Get(RequestIDHeader)
		if _, err := uuid.Parse(requestID); err != nil {
			requestID = GenerateRequestID()
		}
		w.Header().Set(RequestIDHeader, requestID)

		logger := m.logger.With(log.FieldRequestID, requestID)
		ctx := context.WithValue(r.Context(), RequestIDKey, requestID)
		ctx = log.WithLogger(ctx, logger)
		r = r.WithContext(ctx)

		sl := log.NewStructuredLogger(logger)
		sl.LogHTTPStart(ctx, r, clientIP)
		if m.suspicious != nil && m.suspicious(r) {
			logger.WithComponent(log.ComponentHTTP).WarnContext(ctx, "Suspicious request",
				log.FieldClientIP, clientIP,
				log.FieldPath, r.URL.Path,
				log.FieldUserAgent, r.Header.Get("User-Agent"))
		}

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)

		duration := time.Since(start)
		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		metrics.HTTPRequestDuration.
			WithLabelValues(r.Method, route, strconv.Itoa(rw.statusCode)).
			Observe(duration.Seconds())
		sl.LogHTTPEnd(ctx, r, rw.statusCode, duration.Milliseconds(), clientIP)
	})
}

// responseWriter wraps http.ResponseWriter to capture the status code
type responseWriter struct {
	http.ResponseWriter
	statusCode  int
	wroteHeader bool
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.wroteHeader {
		rw.statusCode = code
		rw.wroteHeader = true
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	rw.wroteHeader = true
	return rw.ResponseWriter.Write(b)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// GenerateRequestID creates a unique request ID for tracing
func GenerateRequestID() string {
	return uuid.NewString()
}

// GetRequestID extracts the request ID from context
func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(RequestIDKey).(string); ok {
		return id
	}
	return ""
}
