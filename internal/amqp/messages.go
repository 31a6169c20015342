package amqp

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"envelope/internal/core"
)

// RecomputeRequest asks the worker to recalculate one month's aggregates.
// It carries only the month's identity; the worker reads the current
// state from the database, which makes redelivery harmless.
type RecomputeRequest struct {
	RequestID string    `json:"request_id"`
	BudgetID  string    `json:"budget_id"`
	Month     string    `json:"month"`
	Timestamp time.Time `json:"timestamp"`
}

// NewRecomputeRequest creates a request with a fresh ID.
func NewRecomputeRequest(budgetID string, month core.MonthKey) *RecomputeRequest {
	return &RecomputeRequest{
		RequestID: uuid.NewString(),
		BudgetID:  budgetID,
		Month:     month.String(),
		Timestamp: time.Now(),
	}
}

// ToJSON converts the request to JSON bytes
func (m *RecomputeRequest) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// RecomputeRequestFromJSON creates a request from JSON bytes
func RecomputeRequestFromJSON(data []byte) (*RecomputeRequest, error) {
	var msg RecomputeRequest
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// MonthKey parses the request's month field.
func (m *RecomputeRequest) MonthKey() (core.MonthKey, error) {
	return core.ParseMonthKey(m.Month)
}
