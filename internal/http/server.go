// Package http exposes the dashboard engine as a JSON API.
package http

import (
	"context"
	"net/http"
	"sync"
	"time"

	"finary/internal/core"
	"finary/internal/dashboard"
	"finary/internal/export"
	"finary/internal/identity"
	"finary/internal/insight"
	"finary/internal/log"
	"finary/internal/metrics"
	"finary/internal/middleware/ratelimit"
	"finary/internal/middleware/security"
	"finary/internal/middleware/trace"
	"finary/internal/services"
)

// SheetsExporter pushes a user's transactions to a spreadsheet.
type SheetsExporter interface {
	Export(ctx context.Context, userID string, txs []core.Transaction) (export.SheetsResult, error)
}

// Deps are the components the API serves. Sheets may be nil when the
// spreadsheet export is not configured; Ready may be nil.
type Deps struct {
	Logger             *log.Logger
	Mutations          *services.MutationService
	Assistant          *services.Assistant
	Sessions           *dashboard.Registry
	Insights           *insight.Service
	Sheets             SheetsExporter
	Ready              func(ctx context.Context) error
	RateLimitPerMinute int
}

type Server struct {
	http.Server
	deps        Deps
	rateLimiter *ratelimit.Limiter
	now         func() time.Time

	shutdownOnce sync.Once
}

// NewServer configures routes and middleware, returning a ready-to-run server.
func NewServer(addr string, deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = log.New(log.DefaultConfig())
	}

	s := &Server{
		deps: deps,
		rateLimiter: ratelimit.NewLimiter(ratelimit.Config{
			RequestsPerMinute: deps.RateLimitPerMinute,
		}),
		now: time.Now,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)
	mux.Handle("GET /metrics", metrics.Handler())

	api := func(pattern string, h http.HandlerFunc) {
		mux.Handle(pattern, withIdentity(h))
	}
	api("GET /api/dashboard", s.handleDashboard)
	api("GET /api/insight", s.handleInsight)
	api("POST /api/transactions", s.handleAddTransaction)
	api("POST /api/budgets", s.handleSetBudget)
	api("POST /api/chat", s.handleChat)
	api("POST /api/scan-receipt", s.handleScanReceipt)
	api("POST /api/voice-entry", s.handleVoiceEntry)
	api("GET /api/export.csv", s.handleExportCSV)
	api("POST /api/export/sheets", s.handleExportSheets)
	api("POST /api/session/end", s.handleEndSession)

	detector := security.NewDetector()
	tracer := trace.NewMiddleware(deps.Logger, detector.ExtractClientIP, detector.DetectSuspiciousRequest)
	headers := security.NewHeadersMiddleware(security.DefaultHeadersConfig())

	var handler http.Handler = mux
	handler = s.rateLimiter.Middleware(detector.ExtractClientIP)(handler)
	handler = tracer.Middleware(handler)
	handler = headers.Middleware(handler)

	s.Server = http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s
}

// Shutdown stops the rate limiter and drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.rateLimiter.Stop()
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}

// withIdentity attaches the caller's identity to the request context when the
// auth headers are complete. Requests without one pass through; each handler
// decides how a signed-out caller is answered.
func withIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ident, err := identity.FromHeaders(
			r.Header.Get(identity.HeaderAuthorization),
			r.Header.Get(identity.HeaderUserID),
			r.Header.Get(identity.HeaderUserEmail),
			r.Header.Get(identity.HeaderUserName),
		)
		if err != nil {
			next.ServeHTTP(w, r)
			return
		}

		ctx := identity.WithIdentity(r.Context(), ident)
		ctx = log.WithLogger(ctx, log.FromContext(ctx).With(log.FieldUserID, ident.UserID))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	NewJSONResponse().Body(map[string]string{"status": "ok"}).Write(w)
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.deps.Ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.deps.Ready(ctx); err != nil {
			log.FromContext(r.Context()).WithComponent(log.ComponentHTTP).WarnContext(r.Context(), "Readiness check failed", log.FieldError, err)
			ErrorResponse(http.StatusServiceUnavailable, "storage unavailable", core.Kind(err)).Write(w)
			return
		}
	}
	NewJSONResponse().Body(map[string]string{"status": "ready"}).Write(w)
}
