package backend

import (
	"context"

	"finary/internal/storage"
)

// CleanupFunc represents a cleanup function for resources
type CleanupFunc func() error

// PingFunc reports whether the backend can serve requests.
type PingFunc func(ctx context.Context) error

// BackendResult contains the store instance and optional lifecycle hooks
type BackendResult struct {
	Store   storage.Store
	Cleanup CleanupFunc
	Ping    PingFunc
}

// Factory creates backends based on configuration
type Factory interface {
	// CreateBackend creates a store based on the provided config
	CreateBackend(ctx context.Context, config Config) (*BackendResult, error)
}

// Config holds configuration for backend creation
type Config struct {
	Type BackendType

	// SQLite specific
	SQLiteDBPath string
}

// BackendType represents the type of backend
type BackendType string

const (
	SQLiteBackend BackendType = "sqlite"
	MemoryBackend BackendType = "memory"
)

// String implements fmt.Stringer
func (bt BackendType) String() string {
	return string(bt)
}

// IsValid returns true if the backend type is valid
func (bt BackendType) IsValid() bool {
	switch bt {
	case SQLiteBackend, MemoryBackend:
		return true
	default:
		return false
	}
}
