// This file implements the builder used for every JSON response.

package http

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"finary/internal/core"
)

// JSONResponseBuilder provides a fluent API for building JSON responses.
type JSONResponseBuilder struct {
	statusCode int
	payload    any
	headers    map[string]string
}

// NewJSONResponse creates a new response builder with default 200 status.
func NewJSONResponse() *JSONResponseBuilder {
	return &JSONResponseBuilder{
		statusCode: http.StatusOK,
		headers:    make(map[string]string),
	}
}

// Status sets the HTTP status code for the response.
func (b *JSONResponseBuilder) Status(code int) *JSONResponseBuilder {
	b.statusCode = code
	return b
}

// Header adds a custom header to the response.
func (b *JSONResponseBuilder) Header(name, value string) *JSONResponseBuilder {
	b.headers[name] = value
	return b
}

// Body sets the value encoded as the response body.
func (b *JSONResponseBuilder) Body(payload any) *JSONResponseBuilder {
	b.payload = payload
	return b
}

// Write sends the built response to the http.ResponseWriter.
func (b *JSONResponseBuilder) Write(w http.ResponseWriter) {
	for name, value := range b.headers {
		w.Header().Set(name, value)
	}
	if b.payload == nil {
		w.WriteHeader(b.statusCode)
		return
	}

	body, err := json.Marshal(b.payload)
	if err != nil {
		slog.Error("Failed to encode response", "component", "http", "error", err)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"internal error","kind":"internal_error"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(b.statusCode)
	_, _ = w.Write(append(body, '\n'))
}

// ErrorPayload is the body of every failed API call.
type ErrorPayload struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

// ErrorResponse creates an error response with an explicit kind.
func ErrorResponse(statusCode int, message, kind string) *JSONResponseBuilder {
	return NewJSONResponse().
		Status(statusCode).
		Body(ErrorPayload{Error: message, Kind: kind})
}

// ErrorFrom maps err onto its status code and taxonomy kind.
func ErrorFrom(err error) *JSONResponseBuilder {
	kind := core.Kind(err)
	return ErrorResponse(StatusForKind(kind), err.Error(), kind)
}

// BadRequestError creates a 400 response for bodies that cannot be decoded.
func BadRequestError(message string) *JSONResponseBuilder {
	return ErrorResponse(http.StatusBadRequest, message, core.KindValidation)
}

// UnauthorizedError creates a 401 response.
func UnauthorizedError() *JSONResponseBuilder {
	return ErrorResponse(http.StatusUnauthorized, core.ErrUnauthenticated.Error(), core.KindUnauthenticated).
		Header("WWW-Authenticate", `Bearer realm="finary"`)
}

// StatusForKind maps a taxonomy kind to an HTTP status.
func StatusForKind(kind string) int {
	switch kind {
	case "":
		return http.StatusOK
	case core.KindUnauthenticated:
		return http.StatusUnauthorized
	case core.KindValidation:
		return http.StatusUnprocessableEntity
	case core.KindPersistence, core.KindTransport:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
