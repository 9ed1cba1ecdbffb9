// Package storage persists transactions and budgets per user.
package storage

import (
	"context"

	"finary/internal/core"
)

// Store is the persistence port used by the loader and the mutation handlers.
// Failures wrap core.ErrPersistence.
type Store interface {
	// ListTransactions returns the user's transactions, newest date first.
	ListTransactions(ctx context.Context, userID string) ([]core.Transaction, error)
	ListBudgets(ctx context.Context, userID string) ([]core.Budget, error)
	// InsertTransaction stores t and returns it with its assigned ID.
	InsertTransaction(ctx context.Context, t core.Transaction) (core.Transaction, error)
	// UpsertBudget inserts or replaces the budget keyed on (UserID, Category).
	UpsertBudget(ctx context.Context, b core.Budget) (core.Budget, error)
}
