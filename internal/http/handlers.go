package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"envelope/internal/core"
	"envelope/internal/engine"
	"envelope/internal/log"
)

type monthViewResponse struct {
	BudgetID   string             `json:"budget_id"`
	Month      string             `json:"month"`
	Aggregates aggregatesJSON     `json:"aggregates"`
	Categories []categoryRowJSON  `json:"categories"`
	Status     statusJSON         `json:"status"`
	Feedback   *feedbackJSON      `json:"feedback,omitempty"`
	Computed   *computedBlockJSON `json:"computed,omitempty"`
}

type aggregatesJSON struct {
	AvailableFunds      string `json:"available_funds"`
	TotalAllocated      string `json:"total_allocated"`
	RemainingToAllocate string `json:"remaining_to_allocate"`
}

type categoryRowJSON struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Type       string `json:"type"`
	Color      string `json:"color,omitempty"`
	Allocation string `json:"allocation"`
	Activity   string `json:"activity"`
	Spent      string `json:"spent"`
	Available  string `json:"available"`
	Cap        string `json:"cap"`
	Editing    string `json:"editing,omitempty"` // in-flight buffer value
}

type statusJSON struct {
	Settled      bool              `json:"settled"`
	Recompute    string            `json:"recompute"`
	FailedWrites map[string]string `json:"failed_writes,omitempty"`
}

type feedbackJSON struct {
	Class      string `json:"class"`
	Text       string `json:"text"`
	CategoryID string `json:"category_id,omitempty"`
}

type computedBlockJSON struct {
	AvailableFunds      string    `json:"available_funds"`
	TotalAllocated      string    `json:"total_allocated"`
	RemainingToAllocate string    `json:"remaining_to_allocate"`
	ComputedAt          time.Time `json:"computed_at"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

func (s *Server) handleMonthView(w http.ResponseWriter, r *http.Request) {
	budgetID, month, ok := s.pathIdentity(w, r)
	if !ok {
		return
	}

	eng, err := s.engineFor(r.Context(), budgetID, month)
	if err != nil {
		s.logger.ErrorContext(r.Context(), "Engine creation failed",
			log.FieldBudgetID, budgetID, log.FieldMonth, month.String(), log.FieldError, err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "could not load month"})
		return
	}

	writeJSON(w, http.StatusOK, s.monthView(eng, budgetID, month))
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	budgetID, month, ok := s.pathIdentity(w, r)
	if !ok {
		return
	}

	eng, err := s.engineFor(r.Context(), budgetID, month)
	if err != nil {
		s.logger.ErrorContext(r.Context(), "Engine creation failed",
			log.FieldBudgetID, budgetID, log.FieldMonth, month.String(), log.FieldError, err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "could not load month"})
		return
	}

	writeJSON(w, http.StatusOK, statusView(eng))
}

func statusView(eng *engine.Engine) statusJSON {
	status := eng.Status()
	out := statusJSON{
		Settled:   status.Settled(),
		Recompute: status.Recompute.String(),
	}
	for id, phase := range status.Writes {
		if phase == engine.WriteFailed {
			if out.FailedWrites == nil {
				out.FailedWrites = make(map[string]string)
			}
			out.FailedWrites[id] = phase.String()
		}
	}
	return out
}

func (s *Server) monthView(eng *engine.Engine, budgetID string, month core.MonthKey) monthViewResponse {
	agg := eng.Aggregates()
	snap := eng.Snapshot()

	resp := monthViewResponse{
		BudgetID: budgetID,
		Month:    month.String(),
		Aggregates: aggregatesJSON{
			AvailableFunds:      agg.AvailableFunds.Decimal(),
			TotalAllocated:      agg.TotalAllocated.Decimal(),
			RemainingToAllocate: agg.RemainingToAllocate.Decimal(),
		},
		Status: statusView(eng),
	}

	for _, cat := range eng.Categories() {
		fig := agg.ByCategory[cat.ID]
		row := categoryRowJSON{
			ID:         cat.ID,
			Name:       cat.Name,
			Type:       string(cat.Type),
			Color:      cat.Color,
			Allocation: fig.Allocation.Decimal(),
			Activity:   fig.Activity.Decimal(),
			Spent:      fig.Spent.Decimal(),
			Available:  fig.Available.Decimal(),
			Cap:        eng.CapFor(cat.ID).Decimal(),
		}
		if buf, ok := eng.Buffer(cat.ID); ok {
			row.Editing = buf.Raw
		}
		resp.Categories = append(resp.Categories, row)
	}

	if msg := eng.Feedback(); msg != nil {
		class := "info"
		if msg.Class == engine.MessageError {
			class = "error"
		}
		resp.Feedback = &feedbackJSON{Class: class, Text: msg.Text, CategoryID: msg.CategoryID}
	}

	if snap.Computed != nil {
		resp.Computed = &computedBlockJSON{
			AvailableFunds:      snap.Computed.AvailableFunds.Decimal(),
			TotalAllocated:      snap.Computed.TotalAllocated.Decimal(),
			RemainingToAllocate: snap.Computed.RemainingToAllocate.Decimal(),
			ComputedAt:          snap.Computed.ComputedAt,
		}
	}

	return resp
}

type setAllocationRequest struct {
	Amount string `json:"amount"`
}

// handleSetAllocation runs the full edit flow for one category: open the
// buffer, apply the raw value, commit. A value that is not a
// non-negative number gets 422 and persists nothing; an over-cap value
// is clipped and accepted. The persistence write is asynchronous, so
// success is 202 with the optimistic view.
func (s *Server) handleSetAllocation(w http.ResponseWriter, r *http.Request) {
	budgetID, month, ok := s.pathIdentity(w, r)
	if !ok {
		return
	}
	categoryID := r.PathValue("categoryID")

	var req setAllocationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body"})
		return
	}

	eng, err := s.engineFor(r.Context(), budgetID, month)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "could not load month"})
		return
	}

	eng.BeginEdit(categoryID)
	eng.UpdateEdit(categoryID, req.Amount)
	if err := eng.CommitEdit(categoryID); err != nil {
		switch {
		case errors.Is(err, core.ErrUnknownCategory):
			writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
		case errors.Is(err, core.ErrNonNumeric):
			writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: err.Error()})
		default:
			writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		}
		return
	}

	writeJSON(w, http.StatusAccepted, s.monthView(eng, budgetID, month))
}

type setFundsRequest struct {
	RevenueCents        int64 `json:"revenue_cents"`
	RecurringFixedCents int64 `json:"recurring_fixed_cents"`
	RolloverCents       int64 `json:"rollover_cents"` // may be negative
}

func (s *Server) handleSetFunds(w http.ResponseWriter, r *http.Request) {
	budgetID, month, ok := s.pathIdentity(w, r)
	if !ok {
		return
	}

	var req setFundsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body"})
		return
	}
	if req.RevenueCents < 0 || req.RecurringFixedCents < 0 {
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: "revenue and recurring fixed spending cannot be negative"})
		return
	}

	err := s.store.SetMonthFunds(r.Context(), budgetID, month,
		core.Money{Cents: req.RevenueCents},
		core.Money{Cents: req.RecurringFixedCents},
		core.Money{Cents: req.RolloverCents})
	if err != nil {
		s.logger.ErrorContext(r.Context(), "Set month funds failed",
			log.FieldBudgetID, budgetID, log.FieldMonth, month.String(), log.FieldError, err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "could not store funds"})
		return
	}

	s.refreshEngine(r, budgetID, month)
	w.WriteHeader(http.StatusNoContent)
}

type recordTransactionRequest struct {
	CategoryID  string `json:"category_id"`
	AmountCents int64  `json:"amount_cents"` // negative = spending
	Description string `json:"description"`
}

func (s *Server) handleRecordTransaction(w http.ResponseWriter, r *http.Request) {
	budgetID, month, ok := s.pathIdentity(w, r)
	if !ok {
		return
	}

	var req recordTransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body"})
		return
	}
	if req.CategoryID == "" {
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: "category_id is required"})
		return
	}

	err := s.store.RecordTransaction(r.Context(), budgetID, month,
		req.CategoryID, core.Money{Cents: req.AmountCents}, req.Description)
	if err != nil {
		s.logger.ErrorContext(r.Context(), "Record transaction failed",
			log.FieldBudgetID, budgetID, log.FieldMonth, month.String(), log.FieldError, err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "could not store transaction"})
		return
	}

	s.refreshEngine(r, budgetID, month)
	w.WriteHeader(http.StatusCreated)
}

// refreshEngine converges an already-open engine with out-of-band state
// changes. Months nobody is editing have no engine to refresh.
func (s *Server) refreshEngine(r *http.Request, budgetID string, month core.MonthKey) {
	if eng, ok := s.lookupEngine(budgetID, month); ok {
		if err := eng.Refresh(r.Context()); err != nil {
			s.logger.WarnContext(r.Context(), "Engine refresh failed",
				log.FieldBudgetID, budgetID, log.FieldMonth, month.String(), log.FieldError, err)
		}
	}
}

func (s *Server) pathIdentity(w http.ResponseWriter, r *http.Request) (string, core.MonthKey, bool) {
	budgetID := r.PathValue("budgetID")
	if budgetID == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "budget id is required"})
		return "", "", false
	}
	month, err := core.ParseMonthKey(r.PathValue("month"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "month must look like 2026-08"})
		return "", "", false
	}
	return budgetID, month, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
