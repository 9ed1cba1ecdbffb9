package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"finary/internal/core"

	_ "modernc.org/sqlite"
)

// timestampLayout is fixed width so timestamps sort lexically.
const timestampLayout = "2006-01-02T15:04:05.000000000Z"

type SQLiteRepository struct {
	db  *sql.DB
	now func() time.Time
}

var _ Store = (*SQLiteRepository)(nil)

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// SQLite allows a single writer.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{db: db, now: time.Now}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// Ping checks the database connection for readiness probes.
func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *SQLiteRepository) ListTransactions(ctx context.Context, userID string) ([]core.Transaction, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, user_id, amount, category, description, tx_date, created_at
		FROM transactions
		WHERE user_id = ?
		ORDER BY tx_date DESC, created_at DESC`, userID)
	if err != nil {
		return nil, persistenceError("list transactions", err)
	}
	defer rows.Close()

	var out []core.Transaction
	for rows.Next() {
		var (
			t                       core.Transaction
			amount, date, createdAt string
		)
		if err := rows.Scan(&t.ID, &t.UserID, &amount, &t.Category, &t.Description, &date, &createdAt); err != nil {
			return nil, persistenceError("scan transaction", err)
		}
		if t.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, persistenceError("decode amount", err)
		}
		if t.Date, err = core.ParseDate(date); err != nil {
			return nil, persistenceError("decode date", err)
		}
		if t.CreatedAt, err = time.Parse(timestampLayout, createdAt); err != nil {
			return nil, persistenceError("decode created_at", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, persistenceError("iterate transactions", err)
	}
	return out, nil
}

func (r *SQLiteRepository) ListBudgets(ctx context.Context, userID string) ([]core.Budget, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, user_id, category, limit_amount, updated_at
		FROM budgets
		WHERE user_id = ?
		ORDER BY category`, userID)
	if err != nil {
		return nil, persistenceError("list budgets", err)
	}
	defer rows.Close()

	var out []core.Budget
	for rows.Next() {
		var (
			b                core.Budget
			limit, updatedAt string
		)
		if err := rows.Scan(&b.ID, &b.UserID, &b.Category, &limit, &updatedAt); err != nil {
			return nil, persistenceError("scan budget", err)
		}
		if b.Limit, err = decimal.NewFromString(limit); err != nil {
			return nil, persistenceError("decode limit", err)
		}
		if b.UpdatedAt, err = time.Parse(timestampLayout, updatedAt); err != nil {
			return nil, persistenceError("decode updated_at", err)
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, persistenceError("iterate budgets", err)
	}
	return out, nil
}

func (r *SQLiteRepository) InsertTransaction(ctx context.Context, t core.Transaction) (core.Transaction, error) {
	t.ID = uuid.NewString()
	t.CreatedAt = r.now().UTC()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO transactions (id, user_id, amount, category, description, tx_date, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.UserID, t.Amount.String(), t.Category, t.Description, t.Date.String(),
		t.CreatedAt.Format(timestampLayout))
	if err != nil {
		return core.Transaction{}, persistenceError("insert transaction", err)
	}

	slog.InfoContext(ctx, "Transaction saved to SQLite",
		"id", t.ID,
		"user_id", t.UserID,
		"category", t.Category,
		"amount", t.Amount.String())

	return t, nil
}

func (r *SQLiteRepository) UpsertBudget(ctx context.Context, b core.Budget) (core.Budget, error) {
	b.UpdatedAt = r.now().UTC()

	err := r.db.QueryRowContext(ctx, `
		INSERT INTO budgets (id, user_id, category, limit_amount, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (user_id, category) DO UPDATE SET
			limit_amount = excluded.limit_amount,
			updated_at = excluded.updated_at
		RETURNING id`,
		uuid.NewString(), b.UserID, b.Category, b.Limit.String(), b.UpdatedAt.Format(timestampLayout),
	).Scan(&b.ID)
	if err != nil {
		return core.Budget{}, persistenceError("upsert budget", err)
	}

	slog.InfoContext(ctx, "Budget saved to SQLite",
		"id", b.ID,
		"user_id", b.UserID,
		"category", b.Category,
		"limit", b.Limit.String())

	return b, nil
}

func persistenceError(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, core.ErrPersistence, err)
}
