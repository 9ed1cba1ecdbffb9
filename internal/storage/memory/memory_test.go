package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"finary/internal/core"
	"finary/internal/storage"
)

var _ storage.Store = (*Store)(nil)

func TestStore_TransactionsNewestFirst(t *testing.T) {
	ctx := context.Background()
	s := New()

	_, err := s.InsertTransaction(ctx, core.Transaction{UserID: "u1", Amount: decimal.NewFromInt(1), Category: "Food", Date: core.NewDate(2025, 1, 1)})
	require.NoError(t, err)
	_, err = s.InsertTransaction(ctx, core.Transaction{UserID: "u1", Amount: decimal.NewFromInt(2), Category: "Food", Date: core.NewDate(2025, 2, 1)})
	require.NoError(t, err)
	_, err = s.InsertTransaction(ctx, core.Transaction{UserID: "u2", Amount: decimal.NewFromInt(3), Category: "Food", Date: core.NewDate(2025, 3, 1)})
	require.NoError(t, err)

	got, err := s.ListTransactions(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "2025-02-01", got[0].Date.String())
	assert.NotEmpty(t, got[0].ID)
}

func TestStore_UpsertBudgetKeepsOneRow(t *testing.T) {
	ctx := context.Background()
	s := New()

	_, err := s.UpsertBudget(ctx, core.Budget{UserID: "u1", Category: "Food", Limit: decimal.NewFromInt(1000)})
	require.NoError(t, err)
	_, err = s.UpsertBudget(ctx, core.Budget{UserID: "u1", Category: "Food", Limit: decimal.NewFromInt(1500)})
	require.NoError(t, err)

	budgets, err := s.ListBudgets(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, budgets, 1)
	assert.True(t, budgets[0].Limit.Equal(decimal.NewFromInt(1500)))
	assert.Equal(t, 2, s.Calls(OpUpsertBudget))
}

func TestStore_FailOn(t *testing.T) {
	ctx := context.Background()
	s := New()
	s.FailOn(OpListBudgets, errors.New("disk on fire"))

	_, err := s.ListBudgets(ctx, "u1")
	require.ErrorIs(t, err, core.ErrPersistence)
	assert.Contains(t, err.Error(), "disk on fire")

	s.FailOn(OpListBudgets, nil)
	_, err = s.ListBudgets(ctx, "u1")
	assert.NoError(t, err)
}

func TestStore_DelayHonorsCancellation(t *testing.T) {
	s := New()
	s.SetDelay(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := s.ListTransactions(ctx, "u1")
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.ErrorIs(t, err, core.ErrPersistence)
}
