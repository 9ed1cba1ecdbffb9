// Package memory is an in-process Store used by the default backend and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"finary/internal/core"
)

// Operation names, used to inject failures and count calls.
const (
	OpListTransactions  = "list_transactions"
	OpListBudgets       = "list_budgets"
	OpInsertTransaction = "insert_transaction"
	OpUpsertBudget      = "upsert_budget"
)

type Store struct {
	mu       sync.Mutex
	txs      []core.Transaction
	budgets  []core.Budget
	failures map[string]error
	calls    map[string]int
	delay    time.Duration
	now      func() time.Time
}

func New() *Store {
	return &Store{
		failures: make(map[string]error),
		calls:    make(map[string]int),
		now:      time.Now,
	}
}

// Seed loads fixtures as if they had been inserted.
func (s *Store) Seed(txs []core.Transaction, budgets []core.Budget) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range txs {
		if t.ID == "" {
			t.ID = uuid.NewString()
		}
		s.txs = append(s.txs, t)
	}
	for _, b := range budgets {
		if b.ID == "" {
			b.ID = uuid.NewString()
		}
		s.budgets = append(s.budgets, b)
	}
}

// FailOn makes op return err until cleared with a nil err.
func (s *Store) FailOn(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failures, op)
		return
	}
	s.failures[op] = err
}

// SetDelay slows every call down, honoring context cancellation.
func (s *Store) SetDelay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delay = d
}

// Calls returns how many times op has been invoked.
func (s *Store) Calls(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

func (s *Store) enter(ctx context.Context, op string) error {
	s.mu.Lock()
	s.calls[op]++
	delay := s.delay
	failure := s.failures[op]
	s.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return fmt.Errorf("%s: %w: %w", op, core.ErrPersistence, ctx.Err())
		}
	}
	if failure != nil {
		return fmt.Errorf("%s: %w: %w", op, core.ErrPersistence, failure)
	}
	return nil
}

func (s *Store) ListTransactions(ctx context.Context, userID string) ([]core.Transaction, error) {
	if err := s.enter(ctx, OpListTransactions); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []core.Transaction
	for _, t := range s.txs {
		if t.UserID == userID {
			out = append(out, t)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date.Time) {
			return out[j].Date.Before(out[i].Date)
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *Store) ListBudgets(ctx context.Context, userID string) ([]core.Budget, error) {
	if err := s.enter(ctx, OpListBudgets); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []core.Budget
	for _, b := range s.budgets {
		if b.UserID == userID {
			out = append(out, b)
		}
	}
	return out, nil
}

func (s *Store) InsertTransaction(ctx context.Context, t core.Transaction) (core.Transaction, error) {
	if err := s.enter(ctx, OpInsertTransaction); err != nil {
		return core.Transaction{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	t.ID = uuid.NewString()
	t.CreatedAt = s.now().UTC()
	s.txs = append(s.txs, t)
	return t, nil
}

func (s *Store) UpsertBudget(ctx context.Context, b core.Budget) (core.Budget, error) {
	if err := s.enter(ctx, OpUpsertBudget); err != nil {
		return core.Budget{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	b.UpdatedAt = s.now().UTC()
	for i, existing := range s.budgets {
		if existing.UserID == b.UserID && existing.Category == b.Category {
			b.ID = existing.ID
			s.budgets[i] = b
			return b, nil
		}
	}
	b.ID = uuid.NewString()
	s.budgets = append(s.budgets, b)
	return b, nil
}
