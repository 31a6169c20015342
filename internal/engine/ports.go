package engine

import (
	"context"

	"envelope/internal/core"
)

// Ports for outbound collaborators. The engine never reaches past these.
type (
	// SnapshotStore reads and writes the persisted monthly state. The
	// engine only ever writes single allocation entries; aggregate fields
	// are owned by the recompute path.
	SnapshotStore interface {
		ReadSnapshot(ctx context.Context, budgetID string, month core.MonthKey) (core.MonthlySnapshot, error)
		WriteAllocation(ctx context.Context, budgetID string, month core.MonthKey, categoryID string, amount core.Money) error
	}

	// RecomputeDispatcher asks the authoritative recompute service to
	// recalculate a whole month. Idempotent and safe to call repeatedly;
	// only success/failure is consumed, never a result.
	RecomputeDispatcher interface {
		RequestRecompute(ctx context.Context, budgetID string, month core.MonthKey) error
	}

	// ActivitySource supplies signed transaction totals per category for a
	// month. Negative means net spending.
	ActivitySource interface {
		ActivityTotals(ctx context.Context, budgetID string, month core.MonthKey) (map[string]core.Money, error)
	}

	// CategoryDirectory lists a budget's categories in display order.
	CategoryDirectory interface {
		Categories(ctx context.Context, budgetID string) ([]core.Category, error)
	}
)
