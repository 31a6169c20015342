// Package engine implements the allocation reconciliation engine: the
// editing, capping, and reconciliation logic for one budgeting month.
//
// An Engine is constructed per (budget, month) and discarded on
// navigation. All editing calls are synchronous and cheap; only the
// persistence write and the recompute request leave the calling
// goroutine.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"envelope/internal/core"
	"envelope/internal/log"
)

// Config carries the per-engine identity and timing knobs.
type Config struct {
	BudgetID string
	Month    core.MonthKey

	// RecomputeQuietWindow is how long after the last successful write the
	// coalesced recompute request fires. Order of one second.
	RecomputeQuietWindow time.Duration

	// CapRefreshInterval throttles how often the inactive categories' cap
	// snapshot refreshes during a continuous edit. Order of 400ms.
	CapRefreshInterval time.Duration

	// InfoMessageTTL is the expiry for informational feedback.
	InfoMessageTTL time.Duration

	// WriteTimeout bounds each persistence write and recompute request.
	WriteTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.RecomputeQuietWindow <= 0 {
		c.RecomputeQuietWindow = time.Second
	}
	if c.CapRefreshInterval <= 0 {
		c.CapRefreshInterval = 400 * time.Millisecond
	}
	if c.InfoMessageTTL <= 0 {
		c.InfoMessageTTL = 5 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
}

// EditBuffer is the transient input state for one category.
type EditBuffer struct {
	Raw      string
	Override core.Override
	Valid    bool

	// seq distinguishes this input from any earlier commit still being
	// written, so a write's completion cannot clear a newer edit.
	seq uint64
}

// Engine holds one month's editing session state.
type Engine struct {
	mu sync.Mutex

	cfg       Config
	store     SnapshotStore
	activity  ActivitySource
	directory CategoryDirectory
	sched     *scheduler
	notifier  *Notifier
	logger    *log.Logger

	snap           core.MonthlySnapshot
	categories     []core.Category
	activityTotals map[string]core.Money

	buffers    map[string]*EditBuffer
	editSeq    uint64
	activeEdit string // categoryID under continuous adjustment, "" for none

	// capSnapshot is the coalesced copy of the aggregates used to derive
	// the caps shown for categories other than the active one.
	capSnapshot  core.Aggregates
	capRefresher *coalescer
}

// New loads the month's state and returns a ready engine. A missing
// snapshot is not an error: it is created lazily on the first commit.
func New(
	ctx context.Context,
	cfg Config,
	store SnapshotStore,
	activity ActivitySource,
	directory CategoryDirectory,
	dispatcher RecomputeDispatcher,
	logger *log.Logger,
) (*Engine, error) {
	cfg.applyDefaults()
	if err := cfg.Month.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	logger = logger.WithComponent(log.ComponentEngine)

	snap, err := store.ReadSnapshot(ctx, cfg.BudgetID, cfg.Month)
	if err != nil {
		if !errors.Is(err, core.ErrSnapshotNotFound) {
			return nil, fmt.Errorf("read snapshot: %w", err)
		}
		snap = core.NewMonthlySnapshot(cfg.BudgetID, cfg.Month)
	}

	categories, err := directory.Categories(ctx, cfg.BudgetID)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}

	totals, err := activity.ActivityTotals(ctx, cfg.BudgetID, cfg.Month)
	if err != nil {
		return nil, fmt.Errorf("read activity totals: %w", err)
	}

	e := &Engine{
		cfg:            cfg,
		store:          store,
		activity:       activity,
		directory:      directory,
		notifier:       NewNotifier(cfg.InfoMessageTTL),
		logger:         logger,
		snap:           snap,
		categories:     categories,
		activityTotals: totals,
		buffers:        make(map[string]*EditBuffer),
	}
	e.sched = newScheduler(store, dispatcher, cfg.BudgetID, cfg.Month,
		cfg.RecomputeQuietWindow, cfg.WriteTimeout, logger.WithComponent(log.ComponentScheduler))
	e.sched.onWriteDone = e.writeDone
	e.sched.onRecomputeDone = e.recomputeDone
	e.capRefresher = newCoalescer(cfg.CapRefreshInterval, false, e.refreshCapSnapshot)
	e.capSnapshot = e.liveAggregatesLocked()

	return e, nil
}

// BeginEdit opens (or resets) the edit buffer for a category, seeded with
// the committed value. Other categories' buffers are untouched.
func (e *Engine) BeginEdit(categoryID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	raw := ""
	if committed, ok := e.snap.Allocations[categoryID]; ok {
		raw = committed.Decimal()
	}
	e.editSeq++
	e.buffers[categoryID] = &EditBuffer{
		Raw:      raw,
		Override: core.ParseOverride(raw),
		Valid:    true,
		seq:      e.editSeq,
	}
}

// UpdateEdit stores a new raw value and re-runs live validation. Invalid
// values raise a blocking error; nothing is clipped or persisted here.
func (e *Engine) UpdateEdit(categoryID, raw string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	buf, ok := e.buffers[categoryID]
	if !ok {
		buf = &EditBuffer{}
		e.buffers[categoryID] = buf
	}
	buf.Raw = raw
	buf.Override = core.ParseOverride(raw)
	e.editSeq++
	buf.seq = e.editSeq

	agg := e.liveAggregatesLocked()
	err := ValidateProposal(agg, categoryID, buf.Override)
	buf.Valid = err == nil

	key := conditionInvalid(categoryID)
	if err != nil {
		e.notifier.Error(key, categoryID, e.validationText(categoryID, err, agg))
	} else {
		e.notifier.Resolve(key)
	}

	e.capRefresher.Trigger()
}

// CommitEdit finalizes a category's edit. A commit for a category the
// directory does not know is rejected; an allocation the aggregates
// cannot see would let the month silently over-allocate. A value that is
// not a non-negative number is rejected outright and nothing is
// persisted; a numeric value above the cap is clipped silently with an
// informational notice. The persistence write is dispatched
// fire-and-forget: on success the buffer clears, on failure it is
// retained so the input is not lost.
func (e *Engine) CommitEdit(categoryID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.knownCategoryLocked(categoryID) {
		return fmt.Errorf("%w: %q", core.ErrUnknownCategory, categoryID)
	}

	buf, ok := e.buffers[categoryID]
	if !ok {
		return nil // nothing to commit
	}

	if !buf.Override.Numeric() {
		buf.Valid = false
		err := fmt.Errorf("%w: %q", core.ErrNonNumeric, buf.Raw)
		e.notifier.Error(conditionInvalid(categoryID), categoryID,
			fmt.Sprintf("%s needs a non-negative amount", e.categoryName(categoryID)))
		return err
	}

	agg := e.liveAggregatesLocked()
	amount, clipped := ClipForCommit(agg, categoryID, buf.Override.Amount)
	if clipped {
		e.notifier.Info(categoryID, fmt.Sprintf("%s was capped at %s to keep the month balanced",
			e.categoryName(categoryID), amount.Decimal()))
		buf.Raw = amount.Decimal()
		buf.Override = core.ParseOverride(buf.Raw)
		buf.Valid = true
	}

	// The committed value is numeric by now, so any live-validation error
	// for this category no longer holds.
	e.notifier.Resolve(conditionInvalid(categoryID))
	e.sched.CommitWrite(categoryID, amount, buf.seq)
	return nil
}

// SetActiveEditCategory marks which category is under continuous
// interactive adjustment; pass "" when the interaction ends. Ending an
// active edit immediately forces the coalesced cap snapshot to match the
// live numbers so no stale cap is shown.
func (e *Engine) SetActiveEditCategory(categoryID string) {
	e.mu.Lock()
	ended := categoryID == "" && e.activeEdit != ""
	e.activeEdit = categoryID
	e.mu.Unlock()
	if ended {
		e.capRefresher.Flush()
	}
}

// ActiveEditCategory returns the category under continuous adjustment.
func (e *Engine) ActiveEditCategory() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.activeEdit
}

// Aggregates returns the live figures including in-flight overrides.
func (e *Engine) Aggregates() core.Aggregates {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.liveAggregatesLocked()
}

// CapFor returns the cap to display for a category: live numbers for the
// actively edited category, the coalesced snapshot for all others.
func (e *Engine) CapFor(categoryID string) core.Money {
	e.mu.Lock()
	defer e.mu.Unlock()
	if categoryID == e.activeEdit {
		return MaxAllowed(e.liveAggregatesLocked(), categoryID)
	}
	return MaxAllowed(e.capSnapshot, categoryID)
}

// Buffer returns a copy of a category's edit buffer, if present.
func (e *Engine) Buffer(categoryID string) (EditBuffer, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	buf, ok := e.buffers[categoryID]
	if !ok {
		return EditBuffer{}, false
	}
	return *buf, true
}

// Feedback returns the message to display, or nil.
func (e *Engine) Feedback() *Message {
	return e.notifier.Current()
}

// Status snapshots the reconciliation state machines.
func (e *Engine) Status() ReconcileStatus {
	return e.sched.Status()
}

// Snapshot returns a copy of the committed month state.
func (e *Engine) Snapshot() core.MonthlySnapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.copySnapshotLocked()
}

// Categories returns the directory's ordered category list.
func (e *Engine) Categories() []core.Category {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]core.Category, len(e.categories))
	copy(out, e.categories)
	return out
}

// Refresh re-reads the snapshot and activity totals so the optimistic
// local state converges with the store and the recompute service.
func (e *Engine) Refresh(ctx context.Context) error {
	snap, err := e.store.ReadSnapshot(ctx, e.cfg.BudgetID, e.cfg.Month)
	if err != nil {
		if !errors.Is(err, core.ErrSnapshotNotFound) {
			return fmt.Errorf("read snapshot: %w", err)
		}
		snap = core.NewMonthlySnapshot(e.cfg.BudgetID, e.cfg.Month)
	}
	totals, err := e.activity.ActivityTotals(ctx, e.cfg.BudgetID, e.cfg.Month)
	if err != nil {
		return fmt.Errorf("read activity totals: %w", err)
	}

	e.mu.Lock()
	e.snap = snap
	e.activityTotals = totals
	e.capSnapshot = e.liveAggregatesLocked()
	e.mu.Unlock()
	return nil
}

// Close stops the coalescing timers. Writes and recompute requests
// already dispatched are left to finish.
func (e *Engine) Close() {
	e.sched.Stop()
	e.capRefresher.Stop()
}

// writeDone runs on the scheduler's goroutine after each write.
func (e *Engine) writeDone(categoryID string, amount core.Money, seq uint64, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err != nil {
		// Keep the buffer so nothing visibly reverts; the user retries.
		e.notifier.Error(conditionWrite(categoryID), categoryID,
			fmt.Sprintf("Could not save %s; your value is kept, try again", e.categoryName(categoryID)))
		return
	}

	if e.snap.Allocations == nil {
		e.snap.Allocations = make(map[string]core.Money)
	}
	e.snap.Allocations[categoryID] = amount
	e.notifier.Resolve(conditionWrite(categoryID))
	// Clear only the edit this write committed. A buffer with a newer
	// seq is input typed while the write was in flight and stays.
	if buf, ok := e.buffers[categoryID]; ok && buf.seq == seq {
		delete(e.buffers, categoryID)
		e.notifier.Resolve(conditionInvalid(categoryID))
	}
	if e.activeEdit != categoryID {
		e.capSnapshot = e.liveAggregatesLocked()
	}
}

func (e *Engine) recomputeDone(err error) {
	if err != nil {
		// Transient status only: the next successful write re-arms a
		// fresh recompute attempt.
		e.notifier.Info("", "Background recalculation failed; it will be retried after the next change")
	}
}

func (e *Engine) refreshCapSnapshot() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.capSnapshot = e.liveAggregatesLocked()
}

func (e *Engine) liveAggregatesLocked() core.Aggregates {
	overrides := make(map[string]core.Override, len(e.buffers))
	for id, buf := range e.buffers {
		overrides[id] = buf.Override
	}
	return core.ComputeAggregates(e.snap, e.categories, e.activityTotals, overrides)
}

func (e *Engine) copySnapshotLocked() core.MonthlySnapshot {
	snap := e.snap
	snap.Allocations = make(map[string]core.Money, len(e.snap.Allocations))
	for id, amount := range e.snap.Allocations {
		snap.Allocations[id] = amount
	}
	if e.snap.Computed != nil {
		computed := *e.snap.Computed
		snap.Computed = &computed
	}
	return snap
}

func (e *Engine) knownCategoryLocked(categoryID string) bool {
	for _, cat := range e.categories {
		if cat.ID == categoryID {
			return true
		}
	}
	return false
}

func (e *Engine) categoryName(categoryID string) string {
	for _, cat := range e.categories {
		if cat.ID == categoryID {
			return cat.Name
		}
	}
	return categoryID
}

func (e *Engine) validationText(categoryID string, err error, agg core.Aggregates) string {
	name := e.categoryName(categoryID)
	if errors.Is(err, core.ErrExceedsAvailable) {
		return fmt.Sprintf("%s can hold at most %s right now", name, MaxAllowed(agg, categoryID).Decimal())
	}
	return fmt.Sprintf("%s needs a non-negative amount", name)
}

func conditionInvalid(categoryID string) string { return "invalid:" + categoryID }
func conditionWrite(categoryID string) string   { return "write:" + categoryID }
