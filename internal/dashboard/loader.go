package dashboard

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"finary/internal/core"
	"finary/internal/identity"
	"finary/internal/log"
	"finary/internal/metrics"
	"finary/internal/storage"
)

// Data is the raw state for one dashboard load.
type Data struct {
	Transactions []core.Transaction
	Budgets      []core.Budget
	// Degraded is set when a fetch failed and its collection was left empty.
	Degraded bool
}

// Loader fetches a user's transactions and budgets.
type Loader struct {
	store storage.Store
}

func NewLoader(store storage.Store) *Loader {
	return &Loader{store: store}
}

// Load runs both fetches concurrently and returns once both have settled.
// A failed fetch is logged and yields an empty collection; it never fails the
// load. Without a complete identity nothing is fetched.
func (l *Loader) Load(ctx context.Context, ident identity.Identity) (Data, error) {
	if !ident.Valid() {
		return Data{}, core.ErrUnauthenticated
	}

	logger := log.FromContext(ctx).WithComponent(log.ComponentDashboard)
	start := time.Now()

	var (
		g                errgroup.Group
		data             Data
		txErr, budgetErr error
	)
	g.Go(func() error {
		data.Transactions, txErr = l.store.ListTransactions(ctx, ident.UserID)
		return nil
	})
	g.Go(func() error {
		data.Budgets, budgetErr = l.store.ListBudgets(ctx, ident.UserID)
		return nil
	})
	_ = g.Wait()

	if txErr != nil {
		logger.WarnContext(ctx, "Failed to load transactions",
			log.FieldUserID, ident.UserID,
			log.FieldError, txErr,
			log.FieldErrorKind, core.Kind(txErr))
		data.Transactions = []core.Transaction{}
		data.Degraded = true
	}
	if budgetErr != nil {
		logger.WarnContext(ctx, "Failed to load budgets",
			log.FieldUserID, ident.UserID,
			log.FieldError, budgetErr,
			log.FieldErrorKind, core.Kind(budgetErr))
		data.Budgets = []core.Budget{}
		data.Degraded = true
	}
	if data.Transactions == nil {
		data.Transactions = []core.Transaction{}
	}
	if data.Budgets == nil {
		data.Budgets = []core.Budget{}
	}

	metrics.DashboardLoadDuration.Observe(time.Since(start).Seconds())
	logger.DebugContext(ctx, "Dashboard data loaded",
		log.FieldUserID, ident.UserID,
		"transactions", len(data.Transactions),
		"budgets", len(data.Budgets),
		"degraded", data.Degraded)

	return data, nil
}
