// Package storage implements the SQLite-backed repository. It persists
// monthly snapshots, single-field allocation writes, the category
// directory, and the transaction log, and tracks which months need an
// authoritative recompute.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"envelope/internal/core"

	_ "modernc.org/sqlite"
)

type SQLiteRepository struct {
	db *sql.DB
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{db: db}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// ReadSnapshot implements engine.SnapshotStore
func (r *SQLiteRepository) ReadSnapshot(ctx context.Context, budgetID string, month core.MonthKey) (core.MonthlySnapshot, error) {
	snap := core.NewMonthlySnapshot(budgetID, month)

	var (
		availableCents sql.NullInt64
		allocatedCents sql.NullInt64
		remainingCents sql.NullInt64
		computedAt     sql.NullTime
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT revenue_cents, recurring_fixed_cents, rollover_cents,
		       computed_available_cents, computed_allocated_cents,
		       computed_remaining_cents, computed_at
		FROM monthly_snapshots
		WHERE budget_id = ? AND month = ?`,
		budgetID, string(month),
	).Scan(&snap.RevenueTotal.Cents, &snap.RecurringFixedSpendingTotal.Cents,
		&snap.Rollover.Cents, &availableCents, &allocatedCents, &remainingCents, &computedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return core.MonthlySnapshot{}, core.ErrSnapshotNotFound
	}
	if err != nil {
		return core.MonthlySnapshot{}, fmt.Errorf("read monthly snapshot: %w", err)
	}

	if availableCents.Valid && allocatedCents.Valid && remainingCents.Valid && computedAt.Valid {
		snap.Computed = &core.ComputedAggregates{
			AvailableFunds:      core.Money{Cents: availableCents.Int64},
			TotalAllocated:      core.Money{Cents: allocatedCents.Int64},
			RemainingToAllocate: core.Money{Cents: remainingCents.Int64},
			ComputedAt:          computedAt.Time,
		}
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT category_id, amount_cents
		FROM allocations
		WHERE budget_id = ? AND month = ?`,
		budgetID, string(month))
	if err != nil {
		return core.MonthlySnapshot{}, fmt.Errorf("read allocations: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var categoryID string
		var cents int64
		if err := rows.Scan(&categoryID, &cents); err != nil {
			return core.MonthlySnapshot{}, fmt.Errorf("scan allocation: %w", err)
		}
		snap.Allocations[categoryID] = core.Money{Cents: cents}
	}
	if err := rows.Err(); err != nil {
		return core.MonthlySnapshot{}, fmt.Errorf("iterate allocations: %w", err)
	}

	return snap, nil
}

// WriteAllocation implements engine.SnapshotStore. It upserts one
// category's allocation, creates the month row lazily, and marks the
// month for the recompute sweep, all in one transaction.
func (r *SQLiteRepository) WriteAllocation(ctx context.Context, budgetID string, month core.MonthKey, categoryID string, amount core.Money) error {
	if amount.Cents < 0 {
		return core.ErrNonNumeric
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO monthly_snapshots (budget_id, month)
		VALUES (?, ?)
		ON CONFLICT (budget_id, month) DO UPDATE SET
			needs_recompute = 1,
			updated_at = CURRENT_TIMESTAMP`,
		budgetID, string(month)); err != nil {
		return fmt.Errorf("upsert monthly snapshot: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO allocations (budget_id, month, category_id, amount_cents)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (budget_id, month, category_id) DO UPDATE SET
			amount_cents = excluded.amount_cents,
			updated_at = CURRENT_TIMESTAMP`,
		budgetID, string(month), categoryID, amount.Cents); err != nil {
		return fmt.Errorf("upsert allocation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// SetMonthFunds seeds or adjusts a month's funding fields.
func (r *SQLiteRepository) SetMonthFunds(ctx context.Context, budgetID string, month core.MonthKey, revenue, recurringFixed, rollover core.Money) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO monthly_snapshots (budget_id, month, revenue_cents, recurring_fixed_cents, rollover_cents)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (budget_id, month) DO UPDATE SET
			revenue_cents = excluded.revenue_cents,
			recurring_fixed_cents = excluded.recurring_fixed_cents,
			rollover_cents = excluded.rollover_cents,
			needs_recompute = 1,
			updated_at = CURRENT_TIMESTAMP`,
		budgetID, string(month), revenue.Cents, recurringFixed.Cents, rollover.Cents)
	if err != nil {
		return fmt.Errorf("set month funds: %w", err)
	}
	return nil
}

// WriteComputedAggregates stores the authoritative figures and clears
// the recompute mark. Only the recompute path calls this.
func (r *SQLiteRepository) WriteComputedAggregates(ctx context.Context, budgetID string, month core.MonthKey, computed core.ComputedAggregates) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE monthly_snapshots SET
			computed_available_cents = ?,
			computed_allocated_cents = ?,
			computed_remaining_cents = ?,
			computed_at = ?,
			needs_recompute = 0,
			updated_at = CURRENT_TIMESTAMP
		WHERE budget_id = ? AND month = ?`,
		computed.AvailableFunds.Cents, computed.TotalAllocated.Cents,
		computed.RemainingToAllocate.Cents, computed.ComputedAt.UTC(),
		budgetID, string(month))
	if err != nil {
		return fmt.Errorf("write computed aggregates: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return core.ErrSnapshotNotFound
	}
	return nil
}

// ListStaleMonths returns months written since their last recompute.
func (r *SQLiteRepository) ListStaleMonths(ctx context.Context) ([]core.MonthRef, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT budget_id, month
		FROM monthly_snapshots
		WHERE needs_recompute = 1
		ORDER BY budget_id, month`)
	if err != nil {
		return nil, fmt.Errorf("list stale months: %w", err)
	}
	defer rows.Close()

	var out []core.MonthRef
	for rows.Next() {
		var ref core.MonthRef
		var month string
		if err := rows.Scan(&ref.BudgetID, &month); err != nil {
			return nil, fmt.Errorf("scan stale month: %w", err)
		}
		ref.Month = core.MonthKey(month)
		out = append(out, ref)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stale months: %w", err)
	}
	return out, nil
}

// ActivityTotals implements engine.ActivitySource
func (r *SQLiteRepository) ActivityTotals(ctx context.Context, budgetID string, month core.MonthKey) (map[string]core.Money, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT category_id, SUM(amount_cents)
		FROM transactions
		WHERE budget_id = ? AND month = ?
		GROUP BY category_id`,
		budgetID, string(month))
	if err != nil {
		return nil, fmt.Errorf("read activity totals: %w", err)
	}
	defer rows.Close()

	totals := make(map[string]core.Money)
	for rows.Next() {
		var categoryID string
		var cents int64
		if err := rows.Scan(&categoryID, &cents); err != nil {
			return nil, fmt.Errorf("scan activity total: %w", err)
		}
		totals[categoryID] = core.Money{Cents: cents}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate activity totals: %w", err)
	}
	return totals, nil
}

// RecordTransaction appends one signed transaction. Negative cents mean
// spending, positive mean a refund or correction.
func (r *SQLiteRepository) RecordTransaction(ctx context.Context, budgetID string, month core.MonthKey, categoryID string, amount core.Money, description string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO transactions (budget_id, month, category_id, amount_cents, description, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		budgetID, string(month), categoryID, amount.Cents, description, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("record transaction: %w", err)
	}
	return nil
}

// Categories implements engine.CategoryDirectory
func (r *SQLiteRepository) Categories(ctx context.Context, budgetID string) ([]core.Category, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, type, color, sort_key
		FROM categories
		WHERE budget_id = ?
		ORDER BY sort_key, id`,
		budgetID)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	defer rows.Close()

	var out []core.Category
	for rows.Next() {
		var c core.Category
		var typ string
		if err := rows.Scan(&c.ID, &c.Name, &typ, &c.Color, &c.SortKey); err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		c.Type = core.CategoryType(typ)
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate categories: %w", err)
	}
	return out, nil
}

// SeedCategories replaces the budget's category list.
func (r *SQLiteRepository) SeedCategories(ctx context.Context, budgetID string, categories []core.Category) error {
	for _, c := range categories {
		if err := c.Validate(); err != nil {
			return fmt.Errorf("validate category %q: %w", c.ID, err)
		}
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM categories WHERE budget_id = ?`, budgetID); err != nil {
		return fmt.Errorf("clear categories: %w", err)
	}
	for _, c := range categories {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO categories (budget_id, id, name, type, color, sort_key)
			VALUES (?, ?, ?, ?, ?, ?)`,
			budgetID, c.ID, c.Name, string(c.Type), c.Color, c.SortKey); err != nil {
			return fmt.Errorf("insert category %q: %w", c.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
