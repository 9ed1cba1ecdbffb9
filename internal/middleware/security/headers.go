// Package security holds the response hardening and client identification
// shared by every API route.
package security

import (
	"fmt"
	"net/http"
)

// HeadersConfig holds security headers configuration
type HeadersConfig struct {
	CSP string

	// HSTS settings
	HSTSMaxAge            int
	HSTSIncludeSubdomains bool

	XFrameOptions       string
	XContentTypeOptions string
	ReferrerPolicy      string
	PermissionsPolicy   string
	CrossOriginOpener   string
	CrossOriginResource string
	CacheControl        string
}

// DefaultHeadersConfig returns defaults for a JSON API that serves no markup.
func DefaultHeadersConfig() HeadersConfig {
	return HeadersConfig{
		CSP:                   "default-src 'none'; frame-ancestors 'none'",
		HSTSMaxAge:            31536000, // 1 year
		HSTSIncludeSubdomains: true,
		XFrameOptions:         "DENY",
		XContentTypeOptions:   "nosniff",
		ReferrerPolicy:        "no-referrer",
		PermissionsPolicy:     "geolocation=(), camera=(), payment=()",
		CrossOriginOpener:     "same-origin",
		CrossOriginResource:   "same-origin",
		CacheControl:          "no-store",
	}
}

// HeadersMiddleware applies security headers to responses
type HeadersMiddleware struct {
	config HeadersConfig
}

func NewHeadersMiddleware(config HeadersConfig) *HeadersMiddleware {
	return &HeadersMiddleware{config: config}
}

// Middleware returns the HTTP middleware function
func (h *HeadersMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.applyHeaders(w, r)
		next.ServeHTTP(w, r)
	})
}

func (h *HeadersMiddleware) applyHeaders(w http.ResponseWriter, r *http.Request) {
	headers := w.Header()

	setIf(headers, "X-Content-Type-Options", h.config.XContentTypeOptions)
	setIf(headers, "X-Frame-Options", h.config.XFrameOptions)
	setIf(headers, "Content-Security-Policy", h.config.CSP)
	setIf(headers, "Referrer-Policy", h.config.ReferrerPolicy)
	setIf(headers, "Permissions-Policy", h.config.PermissionsPolicy)
	setIf(headers, "Cross-Origin-Opener-Policy", h.config.CrossOriginOpener)
	setIf(headers, "Cross-Origin-Resource-Policy", h.config.CrossOriginResource)
	// Dashboard payloads are per user.
	setIf(headers, "Cache-Control", h.config.CacheControl)

	// HSTS header (only for HTTPS)
	if r.TLS != nil && h.config.HSTSMaxAge > 0 {
		hstsValue := fmt.Sprintf("max-age=%d", h.config.HSTSMaxAge)
		if h.config.HSTSIncludeSubdomains {
			hstsValue += "; includeSubDomains"
		}
		headers.Set("Strict-Transport-Security", hstsValue)
	}
}

func setIf(h http.Header, key, value string) {
	if value != "" {
		h.Set(key, value)
	}
}
