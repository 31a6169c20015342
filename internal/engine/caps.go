package engine

import (
	"fmt"

	"envelope/internal/core"
)

// MaxAllowed is the largest allocation a category may hold right now:
// everything not already claimed by the rest of the month. It subtracts
// the total allocated minus the category's own share rather than
// deriving anything from the category's own value, so repeated edits
// cannot drift it, and allocations held by categories outside the
// directory still count against it.
func MaxAllowed(agg core.Aggregates, categoryID string) core.Money {
	others := agg.TotalAllocated.Cents - agg.ByCategory[categoryID].Allocation.Cents
	max := agg.AvailableFunds.Cents - others
	if max < 0 {
		max = 0
	}
	return core.Money{Cents: max}
}

// ValidateProposal applies the live-editing policy to an in-flight value:
// incomplete input is not yet decidable and passes, invalid input fails
// with ErrNonNumeric, and a numeric value above the category's cap fails
// with ErrExceedsAvailable. Nothing is clipped here; the user corrects
// the value themselves.
func ValidateProposal(agg core.Aggregates, categoryID string, ov core.Override) error {
	switch ov.Kind {
	case core.OverrideUnset, core.OverrideIncomplete:
		return nil
	case core.OverrideInvalid:
		return fmt.Errorf("%w: %q", core.ErrNonNumeric, ov.Raw)
	}
	max := MaxAllowed(agg, categoryID)
	if ov.Amount.Cents > max.Cents {
		return fmt.Errorf("%w: %s > cap %s", core.ErrExceedsAvailable, ov.Amount.Decimal(), max.Decimal())
	}
	return nil
}

// ClipForCommit applies the commit-time policy: a numeric value above the
// cap is silently clipped to it. Returns the value to persist and whether
// clipping occurred. Clipping an already-valid value is a no-op.
func ClipForCommit(agg core.Aggregates, categoryID string, amount core.Money) (core.Money, bool) {
	max := MaxAllowed(agg, categoryID)
	if amount.Cents > max.Cents {
		return max, true
	}
	return amount, false
}
