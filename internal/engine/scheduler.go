package engine

import (
	"context"
	"sync"
	"time"

	"envelope/internal/core"
	"envelope/internal/log"
)

// WritePhase tracks one category's persistence write.
type WritePhase int

const (
	WriteIdle WritePhase = iota
	WriteInFlight
	WriteFailed
)

func (p WritePhase) String() string {
	switch p {
	case WriteInFlight:
		return "in_flight"
	case WriteFailed:
		return "failed"
	default:
		return "idle"
	}
}

// RecomputePhase tracks the month-wide authoritative recompute request.
type RecomputePhase int

const (
	RecomputeIdle RecomputePhase = iota
	RecomputePending
	RecomputeInFlight
	RecomputeFailed
)

func (p RecomputePhase) String() string {
	switch p {
	case RecomputePending:
		return "pending"
	case RecomputeInFlight:
		return "in_flight"
	case RecomputeFailed:
		return "failed"
	default:
		return "idle"
	}
}

// ReconcileStatus is a point-in-time view of the scheduler's state.
type ReconcileStatus struct {
	Writes    map[string]WritePhase
	Recompute RecomputePhase
}

// Settled reports whether nothing is pending or in flight.
func (s ReconcileStatus) Settled() bool {
	for _, phase := range s.Writes {
		if phase == WriteInFlight {
			return false
		}
	}
	return s.Recompute != RecomputePending && s.Recompute != RecomputeInFlight
}

// scheduler owns the asynchronous half of a commit: it dispatches
// fire-and-forget allocation writes, collapses bursts of successful
// writes into one recompute request per quiet window, and tracks phases
// for status display. It never blocks the editing flow.
type scheduler struct {
	mu sync.Mutex

	store      SnapshotStore
	dispatcher RecomputeDispatcher
	budgetID   string
	month      core.MonthKey
	timeout    time.Duration
	logger     *log.Logger

	writes       map[string]WritePhase
	recompute    RecomputePhase
	recomputeSeq uint64
	window       *coalescer

	// onWriteDone runs after each write with the engine still responsive;
	// onRecomputeDone after each recompute request resolves.
	onWriteDone     func(categoryID string, amount core.Money, seq uint64, err error)
	onRecomputeDone func(err error)
}

func newScheduler(
	store SnapshotStore,
	dispatcher RecomputeDispatcher,
	budgetID string,
	month core.MonthKey,
	quietWindow, timeout time.Duration,
	logger *log.Logger,
) *scheduler {
	s := &scheduler{
		store:      store,
		dispatcher: dispatcher,
		budgetID:   budgetID,
		month:      month,
		timeout:    timeout,
		logger:     logger,
		writes:     make(map[string]WritePhase),
	}
	s.window = newCoalescer(quietWindow, true, s.fireRecompute)
	return s
}

// CommitWrite dispatches one category's allocation write. seq is the
// caller's tag for the committed edit and is handed back unchanged to
// onWriteDone. Writes for different categories run concurrently; the
// store arbitrates same-category races by arrival order.
func (s *scheduler) CommitWrite(categoryID string, amount core.Money, seq uint64) {
	s.mu.Lock()
	s.writes[categoryID] = WriteInFlight
	s.mu.Unlock()

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()

		err := s.store.WriteAllocation(ctx, s.budgetID, s.month, categoryID, amount)

		s.mu.Lock()
		if err != nil {
			s.writes[categoryID] = WriteFailed
		} else {
			s.writes[categoryID] = WriteIdle
		}
		s.mu.Unlock()

		if err != nil {
			s.logger.ErrorContext(ctx, "Allocation write failed",
				log.FieldBudgetID, s.budgetID,
				log.FieldMonth, s.month.String(),
				log.FieldCategoryID, categoryID,
				log.FieldAmountCents, amount.Cents,
				log.FieldError, err)
		} else {
			s.logger.InfoContext(ctx, "Allocation written",
				log.FieldBudgetID, s.budgetID,
				log.FieldMonth, s.month.String(),
				log.FieldCategoryID, categoryID,
				log.FieldAmountCents, amount.Cents)
			s.scheduleRecompute()
		}

		if s.onWriteDone != nil {
			s.onWriteDone(categoryID, amount, seq, err)
		}
	}()
}

// scheduleRecompute arms the quiet window. Further successful writes
// inside the window collapse into the same request.
func (s *scheduler) scheduleRecompute() {
	s.mu.Lock()
	s.recompute = RecomputePending
	s.mu.Unlock()
	s.window.Trigger()
}

func (s *scheduler) fireRecompute() {
	s.mu.Lock()
	s.recomputeSeq++
	seq := s.recomputeSeq
	s.recompute = RecomputeInFlight
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	err := s.dispatcher.RequestRecompute(ctx, s.budgetID, s.month)

	s.mu.Lock()
	// A successful write during the call may have armed a new window,
	// and a newer call may already be in flight. Neither must be masked
	// by this call's completion.
	if seq == s.recomputeSeq {
		switch {
		case s.window.Pending():
			s.recompute = RecomputePending
		case err != nil:
			s.recompute = RecomputeFailed
		default:
			s.recompute = RecomputeIdle
		}
	}
	s.mu.Unlock()

	if err != nil {
		// Not retried here: the next successful write arms a fresh window.
		s.logger.ErrorContext(ctx, "Recompute request failed",
			log.FieldBudgetID, s.budgetID,
			log.FieldMonth, s.month.String(),
			log.FieldError, err)
	} else {
		s.logger.DebugContext(ctx, "Recompute requested",
			log.FieldBudgetID, s.budgetID,
			log.FieldMonth, s.month.String())
	}

	if s.onRecomputeDone != nil {
		s.onRecomputeDone(err)
	}
}

// Status snapshots the current phases.
func (s *scheduler) Status() ReconcileStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	writes := make(map[string]WritePhase, len(s.writes))
	for id, phase := range s.writes {
		writes[id] = phase
	}
	return ReconcileStatus{Writes: writes, Recompute: s.recompute}
}

// Stop prevents new coalescing windows. Dispatched calls are not aborted.
func (s *scheduler) Stop() {
	s.window.Stop()
}
