package services

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"finary/internal/core"
	"finary/internal/events"
	"finary/internal/identity"
	"finary/internal/log"
	"finary/internal/metrics"
	"finary/internal/storage"
)

// Operation names for logs and metrics.
const (
	OpAddTransaction = "add_transaction"
	OpSetBudget      = "set_budget"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// Report fields by their JSON names so messages match the request body.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	return v
}

// TransactionInput is a manual transaction entry as typed by the user.
type TransactionInput struct {
	Amount      AmountText `json:"amount" validate:"required"`
	Category    string     `json:"category" validate:"required,max=64"`
	Description string     `json:"description" validate:"max=500"`
	Date        string     `json:"date" validate:"omitempty,datetime=2006-01-02"`
}

// BudgetInput sets the monthly limit for one category.
type BudgetInput struct {
	Category string     `json:"category" validate:"required,max=64"`
	Limit    AmountText `json:"limit" validate:"required"`
}

// Result reports a mutation outcome. The caller keeps its form open until OK.
type Result struct {
	OK          bool              `json:"ok"`
	Error       string            `json:"error,omitempty"`
	Kind        string            `json:"kind,omitempty"`
	Transaction *core.Transaction `json:"transaction,omitempty"`
	Budget      *core.Budget      `json:"budget,omitempty"`

	err error
}

// Err returns the typed error behind a failed result.
func (r Result) Err() error {
	return r.err
}

func failure(err error) Result {
	return Result{Error: err.Error(), Kind: core.Kind(err), err: err}
}

// MutationService validates user writes, stores them and announces the change.
type MutationService struct {
	identity identity.Provider
	store    storage.Store
	bus      events.Bus
}

func NewMutationService(provider identity.Provider, store storage.Store, bus events.Bus) *MutationService {
	return &MutationService{
		identity: provider,
		store:    store,
		bus:      bus,
	}
}

// AddTransaction records a manual transaction for the signed-in user. Amount
// and category are required; the date defaults to today.
func (s *MutationService) AddTransaction(ctx context.Context, in TransactionInput) Result {
	in.Amount = AmountText(strings.TrimSpace(string(in.Amount)))
	in.Category = strings.TrimSpace(in.Category)
	in.Description = strings.TrimSpace(in.Description)
	in.Date = strings.TrimSpace(in.Date)

	ident, tx, err := s.prepareTransaction(ctx, in)
	if err != nil {
		return s.finish(ctx, OpAddTransaction, ident.UserID, in.Category, string(in.Amount), failure(err))
	}

	saved, err := s.store.InsertTransaction(ctx, tx)
	if err != nil {
		return s.finish(ctx, OpAddTransaction, ident.UserID, in.Category, string(in.Amount), failure(persistence("save transaction", err)))
	}

	s.publish(ctx, ident.UserID, events.SourceManual)
	return s.finish(ctx, OpAddTransaction, ident.UserID, in.Category, string(in.Amount), Result{OK: true, Transaction: &saved})
}

func (s *MutationService) prepareTransaction(ctx context.Context, in TransactionInput) (identity.Identity, core.Transaction, error) {
	ident, err := s.identity.Resolve(ctx)
	if err != nil {
		return identity.Identity{}, core.Transaction{}, err
	}
	if err := validateInput(in); err != nil {
		return ident, core.Transaction{}, err
	}

	amount, err := core.ParseAmount(string(in.Amount))
	if err != nil {
		return ident, core.Transaction{}, fmt.Errorf("%w: amount %q is not a valid non-negative number", core.ErrValidation, in.Amount)
	}

	date := core.Today()
	if in.Date != "" {
		if date, err = core.ParseDate(in.Date); err != nil {
			return ident, core.Transaction{}, err
		}
	}

	return ident, core.Transaction{
		UserID:      ident.UserID,
		Amount:      amount,
		Category:    in.Category,
		Description: in.Description,
		Date:        date,
	}, nil
}

// SetBudget creates or replaces the signed-in user's budget for a category.
func (s *MutationService) SetBudget(ctx context.Context, in BudgetInput) Result {
	in.Category = strings.TrimSpace(in.Category)
	in.Limit = AmountText(strings.TrimSpace(string(in.Limit)))

	ident, err := s.identity.Resolve(ctx)
	if err != nil {
		return s.finish(ctx, OpSetBudget, "", in.Category, string(in.Limit), failure(err))
	}
	if err := validateInput(in); err != nil {
		return s.finish(ctx, OpSetBudget, ident.UserID, in.Category, string(in.Limit), failure(err))
	}
	limit, err := core.ParseAmount(string(in.Limit))
	if err != nil {
		err = fmt.Errorf("%w: limit %q is not a valid non-negative number", core.ErrValidation, in.Limit)
		return s.finish(ctx, OpSetBudget, ident.UserID, in.Category, string(in.Limit), failure(err))
	}

	saved, err := s.store.UpsertBudget(ctx, core.Budget{
		UserID:   ident.UserID,
		Category: in.Category,
		Limit:    limit,
	})
	if err != nil {
		return s.finish(ctx, OpSetBudget, ident.UserID, in.Category, string(in.Limit), failure(persistence("save budget", err)))
	}

	s.publish(ctx, ident.UserID, events.SourceBudget)
	return s.finish(ctx, OpSetBudget, ident.UserID, in.Category, string(in.Limit), Result{OK: true, Budget: &saved})
}

// RecordExternalSuccess announces a write made by an external ingestion path
// such as receipt scanning or voice entry.
func (s *MutationService) RecordExternalSuccess(ctx context.Context, source string) error {
	ident, err := s.identity.Resolve(ctx)
	if err != nil {
		return err
	}
	s.publish(ctx, ident.UserID, source)
	return nil
}

// publish emits data_changed. A failed publish is logged; the write stands.
func (s *MutationService) publish(ctx context.Context, userID, source string) {
	if s.bus == nil {
		return
	}
	err := s.bus.Publish(ctx, events.DataChanged(userID, source))
	metrics.EventsPublished.WithLabelValues(source, "local", metrics.Result(err)).Inc()
	if err != nil {
		log.FromContext(ctx).WithComponent(log.ComponentEvents).ErrorContext(ctx, "Failed to publish data changed event",
			log.FieldUserID, userID,
			log.FieldSource, source,
			log.FieldError, err)
	}
}

func (s *MutationService) finish(ctx context.Context, op, userID, category, amount string, r Result) Result {
	result := "ok"
	if !r.OK {
		result = r.Kind
	}
	metrics.Mutations.WithLabelValues(op, result).Inc()

	log.NewStructuredLogger(log.FromContext(ctx)).LogMutation(ctx, op, userID, category, amount, r.err, r.Kind)
	return r
}

func validateInput(in any) error {
	err := validate.Struct(in)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", core.ErrValidation, err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fieldMessage(fe))
	}
	return fmt.Errorf("%w: %s", core.ErrValidation, strings.Join(msgs, "; "))
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fe.Field() + " is required"
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", fe.Field(), fe.Param())
	case "datetime":
		return fe.Field() + " must be formatted as YYYY-MM-DD"
	default:
		return fmt.Sprintf("%s is invalid (%s)", fe.Field(), fe.Tag())
	}
}

// persistence tags a storage failure, keeping the storage message.
func persistence(op string, err error) error {
	if errors.Is(err, core.ErrPersistence) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %w", op, core.ErrPersistence, err)
}
