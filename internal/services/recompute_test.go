package services

import (
	"context"
	"errors"
	"testing"

	"envelope/internal/core"
	"envelope/internal/memory"
)

type recordingMirror struct {
	summaries []core.MonthSummary
	err       error
}

func (m *recordingMirror) AppendMonthSummary(ctx context.Context, summary core.MonthSummary) error {
	if m.err != nil {
		return m.err
	}
	m.summaries = append(m.summaries, summary)
	return nil
}

func seedMonth(t *testing.T) *memory.Store {
	t.Helper()
	store := memory.NewStore()
	ctx := context.Background()

	err := store.SeedCategories(ctx, "b1", []core.Category{
		{ID: "groceries", Name: "Groceries", Type: core.Expense, SortKey: 1},
		{ID: "rent", Name: "Rent", Type: core.Expense, SortKey: 2},
	})
	if err != nil {
		t.Fatalf("seed categories: %v", err)
	}
	if err := store.SetMonthFunds(ctx, "b1", "2026-08",
		core.Money{Cents: 200_000}, core.Money{Cents: 30_000}, core.Money{Cents: 5_000}); err != nil {
		t.Fatalf("set month funds: %v", err)
	}
	if err := store.WriteAllocation(ctx, "b1", "2026-08", "groceries", core.Money{Cents: 40_000}); err != nil {
		t.Fatalf("write allocation: %v", err)
	}
	if err := store.WriteAllocation(ctx, "b1", "2026-08", "rent", core.Money{Cents: 90_000}); err != nil {
		t.Fatalf("write allocation: %v", err)
	}
	if err := store.RecordActivity(ctx, "b1", "2026-08", "groceries", core.Money{Cents: -12_000}); err != nil {
		t.Fatalf("record activity: %v", err)
	}
	return store
}

func TestRecomputeWritesAggregates(t *testing.T) {
	store := seedMonth(t)
	r := NewRecomputer(store, nil, nil)

	if err := r.Recompute(context.Background(), "b1", "2026-08"); err != nil {
		t.Fatalf("recompute: %v", err)
	}

	snap, err := store.ReadSnapshot(context.Background(), "b1", "2026-08")
	if err != nil {
		t.Fatalf("read snapshot: %v", err)
	}
	if snap.Computed == nil {
		t.Fatal("no computed block written")
	}
	// Available funds are revenue plus rollover; recurring fixed spending
	// is informational only.
	if got := snap.Computed.AvailableFunds.Cents; got != 205_000 {
		t.Fatalf("available = %d cents, want 205000", got)
	}
	if got := snap.Computed.TotalAllocated.Cents; got != 130_000 {
		t.Fatalf("allocated = %d cents, want 130000", got)
	}
	if got := snap.Computed.RemainingToAllocate.Cents; got != 75_000 {
		t.Fatalf("remaining = %d cents, want 75000", got)
	}
	if snap.Computed.ComputedAt.IsZero() {
		t.Fatal("ComputedAt not stamped")
	}
}

func TestRecomputeIsIdempotent(t *testing.T) {
	store := seedMonth(t)
	r := NewRecomputer(store, nil, nil)
	ctx := context.Background()

	if err := r.Recompute(ctx, "b1", "2026-08"); err != nil {
		t.Fatalf("first recompute: %v", err)
	}
	first, _ := store.ReadSnapshot(ctx, "b1", "2026-08")

	if err := r.Recompute(ctx, "b1", "2026-08"); err != nil {
		t.Fatalf("second recompute: %v", err)
	}
	second, _ := store.ReadSnapshot(ctx, "b1", "2026-08")

	if first.Computed.AvailableFunds != second.Computed.AvailableFunds ||
		first.Computed.TotalAllocated != second.Computed.TotalAllocated ||
		first.Computed.RemainingToAllocate != second.Computed.RemainingToAllocate {
		t.Fatalf("figures changed on unchanged month: %+v vs %+v", first.Computed, second.Computed)
	}
}

func TestRecomputeMissingMonth(t *testing.T) {
	r := NewRecomputer(memory.NewStore(), nil, nil)
	err := r.Recompute(context.Background(), "b1", "2026-08")
	if !errors.Is(err, core.ErrSnapshotNotFound) {
		t.Fatalf("error = %v, want ErrSnapshotNotFound", err)
	}
}

func TestRecomputeMirrorsSummary(t *testing.T) {
	store := seedMonth(t)
	mirror := &recordingMirror{}
	r := NewRecomputer(store, mirror, nil)

	if err := r.Recompute(context.Background(), "b1", "2026-08"); err != nil {
		t.Fatalf("recompute: %v", err)
	}

	if len(mirror.summaries) != 1 {
		t.Fatalf("mirrored %d summaries, want 1", len(mirror.summaries))
	}
	got := mirror.summaries[0]
	if got.BudgetID != "b1" || got.Month != "2026-08" {
		t.Fatalf("summary identity = %s/%s", got.BudgetID, got.Month)
	}
	if got.RemainingToAllocate.Cents != 75_000 || got.Rollover.Cents != 5_000 {
		t.Fatalf("summary figures = %+v", got)
	}
}

func TestRecomputeSurvivesMirrorFailure(t *testing.T) {
	store := seedMonth(t)
	mirror := &recordingMirror{err: errors.New("sheets unavailable")}
	r := NewRecomputer(store, mirror, nil)

	if err := r.Recompute(context.Background(), "b1", "2026-08"); err != nil {
		t.Fatalf("recompute failed on mirror error: %v", err)
	}

	snap, _ := store.ReadSnapshot(context.Background(), "b1", "2026-08")
	if snap.Computed == nil {
		t.Fatal("aggregates not written despite mirror failure")
	}
}

func TestSweepStale(t *testing.T) {
	store := seedMonth(t)
	ctx := context.Background()

	// A second stale month in another budget.
	if err := store.WriteAllocation(ctx, "b2", "2026-07", "x", core.Money{Cents: 100}); err != nil {
		t.Fatalf("write allocation: %v", err)
	}
	if err := store.SeedCategories(ctx, "b2", []core.Category{
		{ID: "x", Name: "X", Type: core.Expense},
	}); err != nil {
		t.Fatalf("seed categories: %v", err)
	}

	r := NewRecomputer(store, nil, nil)
	n, err := r.SweepStale(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n != 2 {
		t.Fatalf("swept %d months, want 2", n)
	}

	refs, _ := store.ListStaleMonths(ctx)
	if len(refs) != 0 {
		t.Fatalf("months still stale after sweep: %+v", refs)
	}

	// Nothing stale: the sweep is a no-op.
	n, err = r.SweepStale(ctx)
	if err != nil || n != 0 {
		t.Fatalf("idle sweep = (%d, %v), want (0, nil)", n, err)
	}
}

func TestInlineDispatcher(t *testing.T) {
	store := seedMonth(t)
	d := &InlineDispatcher{Recomputer: NewRecomputer(store, nil, nil)}

	if err := d.RequestRecompute(context.Background(), "b1", "2026-08"); err != nil {
		t.Fatalf("request recompute: %v", err)
	}
	snap, _ := store.ReadSnapshot(context.Background(), "b1", "2026-08")
	if snap.Computed == nil {
		t.Fatal("inline dispatch did not recompute")
	}
}
