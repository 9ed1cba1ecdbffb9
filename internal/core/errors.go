package core

import "errors"

// Error taxonomy shared by every component. Callers wrap these with context
// and match with errors.Is.
var (
	ErrUnauthenticated = errors.New("not authenticated")
	ErrValidation      = errors.New("validation error")
	ErrPersistence     = errors.New("persistence error")
	ErrTransport       = errors.New("transport error")

	ErrInvalidAmount = errors.New("invalid amount")
)

// Error kinds as reported in logs and API payloads.
const (
	KindUnauthenticated = "unauthenticated"
	KindValidation      = "validation_error"
	KindPersistence     = "persistence_error"
	KindTransport       = "transport_error"
	KindInternal        = "internal_error"
)

// Kind maps err onto the taxonomy. A nil error has no kind.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrUnauthenticated):
		return KindUnauthenticated
	case errors.Is(err, ErrValidation), errors.Is(err, ErrInvalidAmount):
		return KindValidation
	case errors.Is(err, ErrPersistence):
		return KindPersistence
	case errors.Is(err, ErrTransport):
		return KindTransport
	default:
		return KindInternal
	}
}
