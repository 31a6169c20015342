// Package memory provides the in-memory store used by the memory backend
// and the test suites. It implements the same surface as the SQLite
// repository: snapshot reads, single-field allocation writes, activity
// totals, the category directory, and the recompute-side operations.
package memory

import (
	"context"
	"sort"
	"sync"

	"envelope/internal/core"
)

type monthKeyPair struct {
	budgetID string
	month    core.MonthKey
}

// Store keeps all state in maps guarded by one RWMutex.
type Store struct {
	mu sync.RWMutex

	snapshots  map[monthKeyPair]*core.MonthlySnapshot
	categories map[string][]core.Category        // budgetID -> ordered categories
	activity   map[monthKeyPair]map[string]int64 // categoryID -> signed cents
	stale      map[monthKeyPair]bool
}

func NewStore() *Store {
	return &Store{
		snapshots:  make(map[monthKeyPair]*core.MonthlySnapshot),
		categories: make(map[string][]core.Category),
		activity:   make(map[monthKeyPair]map[string]int64),
		stale:      make(map[monthKeyPair]bool),
	}
}

// ReadSnapshot returns a deep copy so callers never alias internal state.
func (s *Store) ReadSnapshot(ctx context.Context, budgetID string, month core.MonthKey) (core.MonthlySnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap, ok := s.snapshots[monthKeyPair{budgetID, month}]
	if !ok {
		return core.MonthlySnapshot{}, core.ErrSnapshotNotFound
	}
	return copySnapshot(snap), nil
}

// WriteAllocation upserts one category's allocation, creating the
// snapshot lazily, and marks the month stale for the recompute sweep.
func (s *Store) WriteAllocation(ctx context.Context, budgetID string, month core.MonthKey, categoryID string, amount core.Money) error {
	if amount.Cents < 0 {
		return core.ErrNonNumeric
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	key := monthKeyPair{budgetID, month}
	snap, ok := s.snapshots[key]
	if !ok {
		created := core.NewMonthlySnapshot(budgetID, month)
		snap = &created
		s.snapshots[key] = snap
	}
	snap.Allocations[categoryID] = amount
	s.stale[key] = true
	return nil
}

// SetMonthFunds seeds or adjusts a month's funding fields.
func (s *Store) SetMonthFunds(ctx context.Context, budgetID string, month core.MonthKey, revenue, recurringFixed, rollover core.Money) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := monthKeyPair{budgetID, month}
	snap, ok := s.snapshots[key]
	if !ok {
		created := core.NewMonthlySnapshot(budgetID, month)
		snap = &created
		s.snapshots[key] = snap
	}
	snap.RevenueTotal = revenue
	snap.RecurringFixedSpendingTotal = recurringFixed
	snap.Rollover = rollover
	s.stale[key] = true
	return nil
}

// WriteComputedAggregates stores the authoritative figures and clears the
// stale mark. Only the recompute path calls this.
func (s *Store) WriteComputedAggregates(ctx context.Context, budgetID string, month core.MonthKey, computed core.ComputedAggregates) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := monthKeyPair{budgetID, month}
	snap, ok := s.snapshots[key]
	if !ok {
		return core.ErrSnapshotNotFound
	}
	c := computed
	snap.Computed = &c
	delete(s.stale, key)
	return nil
}

// ListStaleMonths returns months written since their last recompute.
func (s *Store) ListStaleMonths(ctx context.Context) ([]core.MonthRef, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []core.MonthRef
	for key := range s.stale {
		out = append(out, core.MonthRef{BudgetID: key.budgetID, Month: key.month})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].BudgetID != out[j].BudgetID {
			return out[i].BudgetID < out[j].BudgetID
		}
		return out[i].Month < out[j].Month
	})
	return out, nil
}

// ActivityTotals returns the signed per-category totals for a month.
func (s *Store) ActivityTotals(ctx context.Context, budgetID string, month core.MonthKey) (map[string]core.Money, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	totals := make(map[string]core.Money)
	for categoryID, cents := range s.activity[monthKeyPair{budgetID, month}] {
		totals[categoryID] = core.Money{Cents: cents}
	}
	return totals, nil
}

// RecordActivity accumulates one signed transaction amount.
func (s *Store) RecordActivity(ctx context.Context, budgetID string, month core.MonthKey, categoryID string, amount core.Money) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := monthKeyPair{budgetID, month}
	if s.activity[key] == nil {
		s.activity[key] = make(map[string]int64)
	}
	s.activity[key][categoryID] += amount.Cents
	return nil
}

// RecordTransaction matches the SQLite repository's surface. The
// description is not retained; only totals matter here.
func (s *Store) RecordTransaction(ctx context.Context, budgetID string, month core.MonthKey, categoryID string, amount core.Money, description string) error {
	return s.RecordActivity(ctx, budgetID, month, categoryID, amount)
}

// Categories returns the budget's categories in sort-key order.
func (s *Store) Categories(ctx context.Context, budgetID string) ([]core.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cats := s.categories[budgetID]
	out := make([]core.Category, len(cats))
	copy(out, cats)
	return out, nil
}

// SeedCategories replaces the budget's category list.
func (s *Store) SeedCategories(ctx context.Context, budgetID string, categories []core.Category) error {
	for _, c := range categories {
		if err := c.Validate(); err != nil {
			return err
		}
	}
	sorted := make([]core.Category, len(categories))
	copy(sorted, categories)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].SortKey < sorted[j].SortKey })

	s.mu.Lock()
	defer s.mu.Unlock()
	s.categories[budgetID] = sorted
	return nil
}

// Close exists for symmetry with the SQLite repository.
func (s *Store) Close() error { return nil }

func copySnapshot(snap *core.MonthlySnapshot) core.MonthlySnapshot {
	out := *snap
	out.Allocations = make(map[string]core.Money, len(snap.Allocations))
	for id, amount := range snap.Allocations {
		out.Allocations[id] = amount
	}
	if snap.Computed != nil {
		computed := *snap.Computed
		out.Computed = &computed
	}
	return out
}
