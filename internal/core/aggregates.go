package core

// CategoryFigures are the per-category numbers shown next to an allocation.
type CategoryFigures struct {
	Allocation Money // effective allocation (override or committed)
	Activity   Money // signed: negative = net spending
	Spent      Money // max(0, -activity)
	Available  Money // allocation + activity; negative means overspent
}

// Aggregates is the full set of derived figures for one month.
type Aggregates struct {
	AvailableFunds      Money
	TotalAllocated      Money
	RemainingToAllocate Money
	ByCategory          map[string]CategoryFigures
}

// ComputeAggregates derives the month's figures from the committed snapshot,
// the category list, signed activity totals, and any in-flight edit
// overrides. It is pure, deterministic and total: malformed or incomplete
// overrides fall back to the committed value, so it is safe to call on
// every keystroke or drag tick.
func ComputeAggregates(snap MonthlySnapshot, categories []Category, activity map[string]Money, overrides map[string]Override) Aggregates {
	agg := Aggregates{
		AvailableFunds: snap.AvailableFunds(),
		ByCategory:     make(map[string]CategoryFigures, len(categories)),
	}

	for _, cat := range categories {
		alloc := EffectiveAllocation(snap, overrides, cat.ID)
		act := activity[cat.ID]

		spent := int64(0)
		if act.Cents < 0 {
			spent = -act.Cents
		}

		agg.ByCategory[cat.ID] = CategoryFigures{
			Allocation: alloc,
			Activity:   act,
			Spent:      Money{Cents: spent},
			Available:  Money{Cents: alloc.Cents + act.Cents},
		}
		agg.TotalAllocated.Cents += alloc.Cents
	}

	// Allocations persisted for categories no longer in the directory
	// still consume funds; count them so the month cannot be
	// over-allocated through a stale ID.
	for id, alloc := range snap.Allocations {
		if _, ok := agg.ByCategory[id]; !ok {
			agg.TotalAllocated.Cents += alloc.Cents
		}
	}

	agg.RemainingToAllocate = Money{Cents: agg.AvailableFunds.Cents - agg.TotalAllocated.Cents}
	return agg
}

// EffectiveAllocation resolves one category's allocation: a numeric
// override wins, otherwise the committed value, otherwise zero.
func EffectiveAllocation(snap MonthlySnapshot, overrides map[string]Override, categoryID string) Money {
	if ov, ok := overrides[categoryID]; ok && ov.Numeric() {
		return ov.Amount
	}
	if committed, ok := snap.Allocations[categoryID]; ok {
		return committed
	}
	return Money{}
}
