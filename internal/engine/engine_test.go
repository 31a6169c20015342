package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"envelope/internal/core"
	"envelope/internal/memory"
)

type fakeDispatcher struct {
	mu    sync.Mutex
	calls []core.MonthRef
	err   error
}

func (d *fakeDispatcher) RequestRecompute(ctx context.Context, budgetID string, month core.MonthKey) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, core.MonthRef{BudgetID: budgetID, Month: month})
	return d.err
}

func (d *fakeDispatcher) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.calls)
}

// flakyStore fails the first failWrites allocation writes, then delegates.
type flakyStore struct {
	*memory.Store
	mu         sync.Mutex
	failWrites int
}

func (s *flakyStore) WriteAllocation(ctx context.Context, budgetID string, month core.MonthKey, categoryID string, amount core.Money) error {
	s.mu.Lock()
	if s.failWrites > 0 {
		s.failWrites--
		s.mu.Unlock()
		return errors.New("store unavailable")
	}
	s.mu.Unlock()
	return s.Store.WriteAllocation(ctx, budgetID, month, categoryID, amount)
}

const (
	testBudget = "b1"
	testMonth  = core.MonthKey("2026-08")
)

func seedStore(t *testing.T) *memory.Store {
	t.Helper()
	store := memory.NewStore()
	ctx := context.Background()
	err := store.SeedCategories(ctx, testBudget, []core.Category{
		{ID: "groceries", Name: "Groceries", Type: core.Expense, SortKey: 1},
		{ID: "rent", Name: "Rent", Type: core.Expense, SortKey: 2},
	})
	if err != nil {
		t.Fatalf("seed categories: %v", err)
	}
	if err := store.SetMonthFunds(ctx, testBudget, testMonth,
		core.Money{Cents: 100_000}, core.Money{}, core.Money{}); err != nil {
		t.Fatalf("set month funds: %v", err)
	}
	return store
}

func newTestEngine(t *testing.T, store SnapshotStore, dir *memory.Store, dispatcher RecomputeDispatcher) *Engine {
	t.Helper()
	e, err := New(context.Background(), Config{
		BudgetID:             testBudget,
		Month:                testMonth,
		RecomputeQuietWindow: 30 * time.Millisecond,
		CapRefreshInterval:   10 * time.Millisecond,
		WriteTimeout:         time.Second,
	}, store, dir, dir, dispatcher, nil)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	t.Cleanup(e.Close)
	return e
}

func TestCommitPersistsAndClearsBuffer(t *testing.T) {
	store := seedStore(t)
	dispatcher := &fakeDispatcher{}
	e := newTestEngine(t, store, store, dispatcher)

	e.BeginEdit("groceries")
	e.UpdateEdit("groceries", "250,50")
	if err := e.CommitEdit("groceries"); err != nil {
		t.Fatalf("commit: %v", err)
	}

	waitFor(t, func() bool {
		_, ok := e.Buffer("groceries")
		return !ok
	})

	snap := e.Snapshot()
	if got := snap.Allocations["groceries"].Cents; got != 25_050 {
		t.Fatalf("local allocation = %d cents, want 25050", got)
	}

	persisted, err := store.ReadSnapshot(context.Background(), testBudget, testMonth)
	if err != nil {
		t.Fatalf("read persisted snapshot: %v", err)
	}
	if got := persisted.Allocations["groceries"].Cents; got != 25_050 {
		t.Fatalf("persisted allocation = %d cents, want 25050", got)
	}

	waitFor(t, func() bool { return e.Status().Settled() })
	if dispatcher.count() != 1 {
		t.Fatalf("recompute requested %d times, want 1", dispatcher.count())
	}
	if msg := e.Feedback(); msg != nil {
		t.Fatalf("unexpected feedback: %+v", msg)
	}
}

func TestCommitRejectsNonNumeric(t *testing.T) {
	store := seedStore(t)
	e := newTestEngine(t, store, store, &fakeDispatcher{})

	e.BeginEdit("groceries")
	e.UpdateEdit("groceries", "12abc")

	err := e.CommitEdit("groceries")
	if !errors.Is(err, core.ErrNonNumeric) {
		t.Fatalf("commit error = %v, want ErrNonNumeric", err)
	}

	// Nothing persisted, buffer retained with the bad value.
	persisted, _ := store.ReadSnapshot(context.Background(), testBudget, testMonth)
	if len(persisted.Allocations) != 0 {
		t.Fatalf("rejected commit persisted something: %+v", persisted.Allocations)
	}
	buf, ok := e.Buffer("groceries")
	if !ok || buf.Raw != "12abc" {
		t.Fatalf("buffer lost or altered: %+v ok=%v", buf, ok)
	}

	msg := e.Feedback()
	if msg == nil || msg.Class != MessageError {
		t.Fatalf("expected blocking error feedback, got %+v", msg)
	}
}

func TestCommitClipsAboveCap(t *testing.T) {
	store := seedStore(t)
	e := newTestEngine(t, store, store, &fakeDispatcher{})

	// Rent claims 600 of the 1000 available, leaving groceries a 400 cap.
	e.BeginEdit("rent")
	e.UpdateEdit("rent", "600")
	if err := e.CommitEdit("rent"); err != nil {
		t.Fatalf("commit rent: %v", err)
	}
	waitFor(t, func() bool {
		_, ok := e.Buffer("rent")
		return !ok
	})

	e.BeginEdit("groceries")
	e.UpdateEdit("groceries", "999")
	if err := e.CommitEdit("groceries"); err != nil {
		t.Fatalf("commit groceries: %v", err)
	}

	msg := e.Feedback()
	if msg == nil || msg.Class != MessageInfo {
		t.Fatalf("expected clipping notice, got %+v", msg)
	}

	waitFor(t, func() bool {
		_, ok := e.Buffer("groceries")
		return !ok
	})
	persisted, _ := store.ReadSnapshot(context.Background(), testBudget, testMonth)
	if got := persisted.Allocations["groceries"].Cents; got != 40_000 {
		t.Fatalf("clipped allocation = %d cents, want 40000", got)
	}

	// The month is exactly balanced afterwards.
	agg := e.Aggregates()
	if agg.RemainingToAllocate.Cents != 0 {
		t.Fatalf("remaining = %d cents after clipped commit, want 0", agg.RemainingToAllocate.Cents)
	}
}

func TestWriteFailureKeepsBufferUntilRetry(t *testing.T) {
	store := &flakyStore{Store: seedStore(t), failWrites: 1}
	dispatcher := &fakeDispatcher{}
	e := newTestEngine(t, store, store.Store, dispatcher)

	e.BeginEdit("groceries")
	e.UpdateEdit("groceries", "300")
	if err := e.CommitEdit("groceries"); err != nil {
		t.Fatalf("commit: %v", err)
	}

	waitFor(t, func() bool {
		return e.Status().Writes["groceries"] == WriteFailed
	})

	// The input survives the failure and the error persists.
	buf, ok := e.Buffer("groceries")
	if !ok || buf.Raw != "300" {
		t.Fatalf("buffer lost after write failure: %+v ok=%v", buf, ok)
	}
	msg := e.Feedback()
	if msg == nil || msg.Class != MessageError {
		t.Fatalf("expected persistent write error, got %+v", msg)
	}
	if dispatcher.count() != 0 {
		t.Fatal("recompute requested for a failed write")
	}

	// Retrying the commit succeeds and clears both buffer and error.
	if err := e.CommitEdit("groceries"); err != nil {
		t.Fatalf("retry commit: %v", err)
	}
	waitFor(t, func() bool {
		_, ok := e.Buffer("groceries")
		return !ok
	})
	waitFor(t, func() bool { return e.Feedback() == nil })

	persisted, _ := store.ReadSnapshot(context.Background(), testBudget, testMonth)
	if got := persisted.Allocations["groceries"].Cents; got != 30_000 {
		t.Fatalf("persisted allocation = %d cents, want 30000", got)
	}
}

func TestBurstOfCommitsCoalescesRecompute(t *testing.T) {
	store := seedStore(t)
	dispatcher := &fakeDispatcher{}
	e := newTestEngine(t, store, store, dispatcher)

	e.BeginEdit("groceries")
	e.UpdateEdit("groceries", "100")
	if err := e.CommitEdit("groceries"); err != nil {
		t.Fatalf("commit groceries: %v", err)
	}
	e.BeginEdit("rent")
	e.UpdateEdit("rent", "200")
	if err := e.CommitEdit("rent"); err != nil {
		t.Fatalf("commit rent: %v", err)
	}

	waitFor(t, func() bool { return e.Status().Settled() })
	waitFor(t, func() bool { return dispatcher.count() >= 1 })
	time.Sleep(60 * time.Millisecond) // past another quiet window
	if got := dispatcher.count(); got != 1 {
		t.Fatalf("recompute requested %d times for a burst, want 1", got)
	}
}

func TestRecomputeFailureRaisesTransientNotice(t *testing.T) {
	store := seedStore(t)
	dispatcher := &fakeDispatcher{err: errors.New("queue down")}
	e := newTestEngine(t, store, store, dispatcher)

	e.BeginEdit("groceries")
	e.UpdateEdit("groceries", "100")
	if err := e.CommitEdit("groceries"); err != nil {
		t.Fatalf("commit: %v", err)
	}

	waitFor(t, func() bool {
		msg := e.Feedback()
		return msg != nil && msg.Class == MessageInfo
	})
	if got := e.Status().Recompute; got != RecomputeFailed {
		t.Fatalf("recompute phase = %v, want RecomputeFailed", got)
	}
}

func TestCapSnapshotLagsForInactiveCategories(t *testing.T) {
	store := seedStore(t)
	e, err := New(context.Background(), Config{
		BudgetID:             testBudget,
		Month:                testMonth,
		RecomputeQuietWindow: 30 * time.Millisecond,
		CapRefreshInterval:   time.Hour, // staleness must be observable
		WriteTimeout:         time.Second,
	}, store, store, store, &fakeDispatcher{}, nil)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	defer e.Close()

	e.SetActiveEditCategory("groceries")
	e.BeginEdit("groceries")
	e.UpdateEdit("groceries", "600")

	// The active category sees live numbers.
	if got := e.CapFor("groceries").Cents; got != 100_000 {
		t.Fatalf("active cap = %d cents, want 100000", got)
	}
	// Other categories see the coalesced snapshot, not yet refreshed.
	if got := e.CapFor("rent").Cents; got != 100_000 {
		t.Fatalf("inactive cap refreshed mid-burst: %d cents", got)
	}

	// Ending the interaction flushes the snapshot to the live numbers.
	e.SetActiveEditCategory("")
	waitFor(t, func() bool { return e.CapFor("rent").Cents == 40_000 })
}

func TestFullAllocationLeavesNoRoomElsewhere(t *testing.T) {
	store := seedStore(t)
	e := newTestEngine(t, store, store, &fakeDispatcher{})

	// Groceries takes every cent of the 1000 available.
	e.BeginEdit("groceries")
	e.UpdateEdit("groceries", "1000")
	if err := e.CommitEdit("groceries"); err != nil {
		t.Fatalf("commit: %v", err)
	}
	waitFor(t, func() bool {
		_, ok := e.Buffer("groceries")
		return !ok
	})

	if got := e.Aggregates().RemainingToAllocate.Cents; got != 0 {
		t.Fatalf("remaining = %d cents, want 0", got)
	}

	// Even one cent for rent is now over its cap of zero.
	e.BeginEdit("rent")
	e.UpdateEdit("rent", "0.01")
	buf, _ := e.Buffer("rent")
	if buf.Valid {
		t.Fatal("proposal above a zero cap marked valid")
	}
	if got := MaxAllowed(e.Aggregates(), "rent").Cents; got != 0 {
		t.Fatalf("rent cap = %d cents, want 0", got)
	}
}

func TestLiveValidationBlocksWithoutClipping(t *testing.T) {
	store := seedStore(t)
	e := newTestEngine(t, store, store, &fakeDispatcher{})

	e.BeginEdit("groceries")
	e.UpdateEdit("groceries", "1500")

	buf, _ := e.Buffer("groceries")
	if buf.Valid {
		t.Fatal("over-cap value marked valid during live editing")
	}
	if buf.Raw != "1500" {
		t.Fatalf("live validation altered the input: %q", buf.Raw)
	}
	msg := e.Feedback()
	if msg == nil || msg.Class != MessageError {
		t.Fatalf("expected blocking message, got %+v", msg)
	}

	// Correcting the value resolves the condition.
	e.UpdateEdit("groceries", "900")
	if msg := e.Feedback(); msg != nil {
		t.Fatalf("message survived correction: %+v", msg)
	}
}

func TestIncompleteInputIsNotFlagged(t *testing.T) {
	store := seedStore(t)
	e := newTestEngine(t, store, store, &fakeDispatcher{})

	e.BeginEdit("groceries")
	for _, raw := range []string{"", "12", "12.", "12.5"} {
		e.UpdateEdit("groceries", raw)
		if msg := e.Feedback(); msg != nil {
			t.Fatalf("typing %q raised %+v", raw, msg)
		}
	}
}

func TestCommitRejectsUnknownCategory(t *testing.T) {
	store := seedStore(t)
	dispatcher := &fakeDispatcher{}
	e := newTestEngine(t, store, store, dispatcher)

	e.BeginEdit("ghost")
	e.UpdateEdit("ghost", "1000")
	err := e.CommitEdit("ghost")
	if !errors.Is(err, core.ErrUnknownCategory) {
		t.Fatalf("commit error = %v, want ErrUnknownCategory", err)
	}

	// Nothing persisted, no recompute, and the real categories still see
	// the whole month as available.
	persisted, _ := store.ReadSnapshot(context.Background(), testBudget, testMonth)
	if len(persisted.Allocations) != 0 {
		t.Fatalf("rejected commit persisted something: %+v", persisted.Allocations)
	}
	if dispatcher.count() != 0 {
		t.Fatalf("rejected commit requested %d recomputes", dispatcher.count())
	}
	if got := e.CapFor("groceries"); got.Cents != 100_000 {
		t.Fatalf("groceries cap = %d cents, want 100000", got.Cents)
	}

	// Allocating the full month afterwards must not over-allocate it.
	e.BeginEdit("groceries")
	e.UpdateEdit("groceries", "1000")
	if err := e.CommitEdit("groceries"); err != nil {
		t.Fatalf("commit groceries: %v", err)
	}
	waitFor(t, func() bool { return e.Status().Settled() })

	agg := e.Aggregates()
	if agg.TotalAllocated.Cents != 100_000 || agg.RemainingToAllocate.Cents != 0 {
		t.Fatalf("month out of balance: allocated %d, remaining %d",
			agg.TotalAllocated.Cents, agg.RemainingToAllocate.Cents)
	}
}

// slowStore holds every allocation write for delay before delegating.
type slowStore struct {
	*memory.Store
	delay time.Duration
}

func (s *slowStore) WriteAllocation(ctx context.Context, budgetID string, month core.MonthKey, categoryID string, amount core.Money) error {
	time.Sleep(s.delay)
	return s.Store.WriteAllocation(ctx, budgetID, month, categoryID, amount)
}

func TestWriteCompletionSparesNewerEdit(t *testing.T) {
	mem := seedStore(t)
	store := &slowStore{Store: mem, delay: 50 * time.Millisecond}
	e := newTestEngine(t, store, mem, &fakeDispatcher{})

	e.BeginEdit("groceries")
	e.UpdateEdit("groceries", "100")
	if err := e.CommitEdit("groceries"); err != nil {
		t.Fatalf("commit: %v", err)
	}

	// Re-open the field and type a new value while the write from the
	// first commit is still in flight.
	e.BeginEdit("groceries")
	e.UpdateEdit("groceries", "250")

	waitFor(t, func() bool {
		return e.Status().Writes["groceries"] == WriteIdle
	})

	buf, ok := e.Buffer("groceries")
	if !ok || buf.Raw != "250" {
		t.Fatalf("newer edit lost: %+v ok=%v", buf, ok)
	}
	snap := e.Snapshot()
	if got := snap.Allocations["groceries"].Cents; got != 10_000 {
		t.Fatalf("committed allocation = %d cents, want 10000", got)
	}
	if got := e.Aggregates().ByCategory["groceries"].Allocation.Cents; got != 25_000 {
		t.Fatalf("live allocation = %d cents, want 25000 from the open edit", got)
	}

	// Committing the newer value clears it normally.
	if err := e.CommitEdit("groceries"); err != nil {
		t.Fatalf("commit newer edit: %v", err)
	}
	waitFor(t, func() bool {
		_, ok := e.Buffer("groceries")
		return !ok
	})
	if got := e.Snapshot().Allocations["groceries"].Cents; got != 25_000 {
		t.Fatalf("final allocation = %d cents, want 25000", got)
	}
}

// gateDispatcher blocks each recompute request until released.
type gateDispatcher struct {
	mu      sync.Mutex
	entered chan struct{}
	release chan struct{}
	done    int
}

func (d *gateDispatcher) RequestRecompute(ctx context.Context, budgetID string, month core.MonthKey) error {
	d.entered <- struct{}{}
	<-d.release
	d.mu.Lock()
	d.done++
	d.mu.Unlock()
	return nil
}

func (d *gateDispatcher) finished() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.done
}

func TestWriteDuringRecomputeKeepsStatusUnsettled(t *testing.T) {
	store := seedStore(t)
	dispatcher := &gateDispatcher{entered: make(chan struct{}), release: make(chan struct{})}
	e := newTestEngine(t, store, store, dispatcher)

	e.BeginEdit("groceries")
	e.UpdateEdit("groceries", "100")
	if err := e.CommitEdit("groceries"); err != nil {
		t.Fatalf("commit groceries: %v", err)
	}
	<-dispatcher.entered // first recompute request is now in flight

	// A write landing mid-request arms a fresh window.
	e.BeginEdit("rent")
	e.UpdateEdit("rent", "200")
	if err := e.CommitEdit("rent"); err != nil {
		t.Fatalf("commit rent: %v", err)
	}
	waitFor(t, func() bool {
		return e.Status().Writes["rent"] == WriteIdle
	})

	dispatcher.release <- struct{}{}
	waitFor(t, func() bool { return dispatcher.finished() == 1 })

	// The first request's completion must not mask the armed window.
	for i := 0; i < 10; i++ {
		if e.Status().Settled() {
			t.Fatal("status settled while a recompute window is still armed")
		}
		time.Sleep(2 * time.Millisecond)
	}

	<-dispatcher.entered
	dispatcher.release <- struct{}{}
	waitFor(t, func() bool { return e.Status().Settled() })
	if dispatcher.finished() != 2 {
		t.Fatalf("recompute finished %d times, want 2", dispatcher.finished())
	}
}

func TestEngineOnMissingMonth(t *testing.T) {
	store := memory.NewStore()
	ctx := context.Background()
	if err := store.SeedCategories(ctx, testBudget, []core.Category{
		{ID: "groceries", Name: "Groceries", Type: core.Expense},
	}); err != nil {
		t.Fatalf("seed categories: %v", err)
	}

	// No snapshot exists yet; the engine starts from an empty month and
	// the first commit creates it.
	e := newTestEngine(t, store, store, &fakeDispatcher{})

	agg := e.Aggregates()
	if agg.AvailableFunds.Cents != 0 || agg.TotalAllocated.Cents != 0 {
		t.Fatalf("empty month not zero: %+v", agg)
	}

	e.BeginEdit("groceries")
	e.UpdateEdit("groceries", "0")
	if err := e.CommitEdit("groceries"); err != nil {
		t.Fatalf("commit on missing month: %v", err)
	}
	waitFor(t, func() bool {
		_, err := store.ReadSnapshot(ctx, testBudget, testMonth)
		return err == nil
	})
}
