package core

import (
	"errors"
	"fmt"
	"time"
)

const (
	Expense CategoryType = "expense"
	Income  CategoryType = "income"
)

type (
	CategoryType string

	// MonthKey identifies a budgeting month as "YYYY-MM".
	MonthKey string

	Money struct {
		Cents int64
	}

	Category struct {
		ID      string
		Name    string
		Type    CategoryType
		Color   string
		SortKey int
	}

	// MonthlySnapshot is the persisted state of one budgeting month.
	// The engine writes single allocation entries; the Computed block is
	// owned exclusively by the recompute path.
	MonthlySnapshot struct {
		BudgetID                    string
		Month                       MonthKey
		Allocations                 map[string]Money // categoryID -> amount, never negative
		RevenueTotal                Money
		RecurringFixedSpendingTotal Money // informational, not subtracted from available funds
		Rollover                    Money
		Computed                    *ComputedAggregates
	}

	// ComputedAggregates are the server-side authoritative figures.
	ComputedAggregates struct {
		AvailableFunds      Money
		TotalAllocated      Money
		RemainingToAllocate Money
		ComputedAt          time.Time
	}

	// MonthRef names one budgeting month.
	MonthRef struct {
		BudgetID string
		Month    MonthKey
	}

	// MonthSummary is the mirror-facing digest of a recomputed month.
	MonthSummary struct {
		BudgetID            string
		Month               MonthKey
		AvailableFunds      Money
		TotalAllocated      Money
		RemainingToAllocate Money
		Rollover            Money
		ComputedAt          time.Time
	}
)

var (
	ErrNonNumeric       = errors.New("amount is not a non-negative number")
	ErrExceedsAvailable = errors.New("amount exceeds available funds")
	ErrInvalidMonth     = errors.New("invalid month key")
	ErrSnapshotNotFound = errors.New("monthly snapshot not found")
	ErrUnknownCategory  = errors.New("unknown category")
)

// ParseMonthKey validates and normalizes a "YYYY-MM" month key.
func ParseMonthKey(s string) (MonthKey, error) {
	t, err := time.Parse("2006-01", s)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidMonth, s)
	}
	return MonthKey(t.Format("2006-01")), nil
}

func (m MonthKey) Validate() error {
	_, err := ParseMonthKey(string(m))
	return err
}

func (m MonthKey) String() string {
	return string(m)
}

// Year returns the calendar year, or 0 for a malformed key.
func (m MonthKey) Year() int {
	t, err := time.Parse("2006-01", string(m))
	if err != nil {
		return 0
	}
	return t.Year()
}

// Month returns the calendar month 1-12, or 0 for a malformed key.
func (m MonthKey) Month() int {
	t, err := time.Parse("2006-01", string(m))
	if err != nil {
		return 0
	}
	return int(t.Month())
}

// Prev returns the preceding month's key.
func (m MonthKey) Prev() MonthKey {
	t, err := time.Parse("2006-01", string(m))
	if err != nil {
		return m
	}
	return MonthKey(t.AddDate(0, -1, 0).Format("2006-01"))
}

func (c Category) Validate() error {
	if c.ID == "" {
		return errors.New("empty category id")
	}
	if c.Name == "" {
		return errors.New("empty category name")
	}
	switch c.Type {
	case Expense, Income:
	default:
		return fmt.Errorf("invalid category type %q", c.Type)
	}
	return nil
}

// NewMonthlySnapshot returns an empty snapshot for lazy creation on the
// first allocation write in a month.
func NewMonthlySnapshot(budgetID string, month MonthKey) MonthlySnapshot {
	return MonthlySnapshot{
		BudgetID:    budgetID,
		Month:       month,
		Allocations: make(map[string]Money),
	}
}

// AvailableFunds is revenue plus rollover. Recurring fixed spending is
// itself allocated into categories, so it is not subtracted here.
func (s MonthlySnapshot) AvailableFunds() Money {
	return Money{Cents: s.RevenueTotal.Cents + s.Rollover.Cents}
}
