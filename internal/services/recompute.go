// Package services holds the orchestration logic that sits between the
// stores and the outside world: the authoritative month recompute and
// its dispatch plumbing.
package services

import (
	"context"
	"fmt"
	"time"

	"envelope/internal/core"
	"envelope/internal/log"
)

// RecomputeStore is the storage surface the recompute path needs. Both
// the SQLite repository and the memory store satisfy it.
type RecomputeStore interface {
	ReadSnapshot(ctx context.Context, budgetID string, month core.MonthKey) (core.MonthlySnapshot, error)
	ActivityTotals(ctx context.Context, budgetID string, month core.MonthKey) (map[string]core.Money, error)
	Categories(ctx context.Context, budgetID string) ([]core.Category, error)
	WriteComputedAggregates(ctx context.Context, budgetID string, month core.MonthKey, computed core.ComputedAggregates) error
	ListStaleMonths(ctx context.Context) ([]core.MonthRef, error)
}

// SummaryMirror receives a digest of each recomputed month. Mirror
// failures are logged and swallowed; the recompute itself stands.
type SummaryMirror interface {
	AppendMonthSummary(ctx context.Context, summary core.MonthSummary) error
}

// Recomputer performs the authoritative server-side recalculation of a
// month's aggregates from its committed allocations and activity. It is
// idempotent: recomputing an unchanged month writes the same figures.
type Recomputer struct {
	store  RecomputeStore
	mirror SummaryMirror // optional
	logger *log.Logger
	now    func() time.Time
}

func NewRecomputer(store RecomputeStore, mirror SummaryMirror, logger *log.Logger) *Recomputer {
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	return &Recomputer{
		store:  store,
		mirror: mirror,
		logger: logger.WithComponent(log.ComponentRecompute),
		now:    time.Now,
	}
}

// Recompute recalculates and persists one month's aggregate figures.
func (r *Recomputer) Recompute(ctx context.Context, budgetID string, month core.MonthKey) error {
	snap, err := r.store.ReadSnapshot(ctx, budgetID, month)
	if err != nil {
		return fmt.Errorf("read snapshot: %w", err)
	}
	categories, err := r.store.Categories(ctx, budgetID)
	if err != nil {
		return fmt.Errorf("list categories: %w", err)
	}
	activity, err := r.store.ActivityTotals(ctx, budgetID, month)
	if err != nil {
		return fmt.Errorf("read activity totals: %w", err)
	}

	agg := core.ComputeAggregates(snap, categories, activity, nil)
	computed := core.ComputedAggregates{
		AvailableFunds:      agg.AvailableFunds,
		TotalAllocated:      agg.TotalAllocated,
		RemainingToAllocate: agg.RemainingToAllocate,
		ComputedAt:          r.now(),
	}

	if err := r.store.WriteComputedAggregates(ctx, budgetID, month, computed); err != nil {
		return fmt.Errorf("write aggregates: %w", err)
	}

	r.logger.InfoContext(ctx, "Month recomputed",
		log.FieldBudgetID, budgetID,
		log.FieldMonth, month.String(),
		"available_cents", computed.AvailableFunds.Cents,
		"allocated_cents", computed.TotalAllocated.Cents,
		"remaining_cents", computed.RemainingToAllocate.Cents)

	if r.mirror != nil {
		summary := core.MonthSummary{
			BudgetID:            budgetID,
			Month:               month,
			AvailableFunds:      computed.AvailableFunds,
			TotalAllocated:      computed.TotalAllocated,
			RemainingToAllocate: computed.RemainingToAllocate,
			Rollover:            snap.Rollover,
			ComputedAt:          computed.ComputedAt,
		}
		if err := r.mirror.AppendMonthSummary(ctx, summary); err != nil {
			// The mirror is best-effort; the recompute already stands.
			r.logger.WarnContext(ctx, "Mirror append failed",
				log.FieldBudgetID, budgetID,
				log.FieldMonth, month.String(),
				log.FieldError, err)
		}
	}

	return nil
}

// SweepStale recomputes every month whose snapshot was written since its
// last recompute. It covers recompute requests lost in transit.
func (r *Recomputer) SweepStale(ctx context.Context) (int, error) {
	refs, err := r.store.ListStaleMonths(ctx)
	if err != nil {
		return 0, fmt.Errorf("list stale months: %w", err)
	}

	recomputed := 0
	for _, ref := range refs {
		if ctx.Err() != nil {
			return recomputed, ctx.Err()
		}
		if err := r.Recompute(ctx, ref.BudgetID, ref.Month); err != nil {
			r.logger.ErrorContext(ctx, "Sweep recompute failed",
				log.FieldBudgetID, ref.BudgetID,
				log.FieldMonth, ref.Month.String(),
				log.FieldError, err)
			continue
		}
		recomputed++
	}
	return recomputed, nil
}

// InlineDispatcher runs the recompute synchronously in-process. It backs
// the memory backend and tests, where no queue is configured.
type InlineDispatcher struct {
	Recomputer *Recomputer
}

func (d *InlineDispatcher) RequestRecompute(ctx context.Context, budgetID string, month core.MonthKey) error {
	return d.Recomputer.Recompute(ctx, budgetID, month)
}
