package amqp

import (
	"testing"
	"time"

	"envelope/internal/core"
)

func TestNewRecomputeRequest(t *testing.T) {
	msg := NewRecomputeRequest("b1", "2026-08")

	if msg.RequestID == "" {
		t.Error("NewRecomputeRequest() RequestID should not be empty")
	}
	if msg.BudgetID != "b1" {
		t.Errorf("NewRecomputeRequest() BudgetID = %v, want b1", msg.BudgetID)
	}
	if msg.Month != "2026-08" {
		t.Errorf("NewRecomputeRequest() Month = %v, want 2026-08", msg.Month)
	}
	if msg.Timestamp.IsZero() {
		t.Error("NewRecomputeRequest() Timestamp should not be zero")
	}

	other := NewRecomputeRequest("b1", "2026-08")
	if other.RequestID == msg.RequestID {
		t.Error("request IDs should be unique per request")
	}
}

func TestRecomputeRequest_JSON(t *testing.T) {
	timestamp := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	msg := &RecomputeRequest{
		RequestID: "req-1",
		BudgetID:  "b1",
		Month:     "2026-08",
		Timestamp: timestamp,
	}

	jsonBytes, err := msg.ToJSON()
	if err != nil {
		t.Fatalf("ToJSON() error = %v", err)
	}

	parsed, err := RecomputeRequestFromJSON(jsonBytes)
	if err != nil {
		t.Fatalf("RecomputeRequestFromJSON() error = %v", err)
	}

	if parsed.RequestID != msg.RequestID || parsed.BudgetID != msg.BudgetID || parsed.Month != msg.Month {
		t.Errorf("parsed message = %+v, want %+v", parsed, msg)
	}
	if !parsed.Timestamp.Equal(msg.Timestamp) {
		t.Errorf("parsed Timestamp = %v, want %v", parsed.Timestamp, msg.Timestamp)
	}
}

func TestRecomputeRequest_InvalidJSON(t *testing.T) {
	invalidJSON := []byte(`{"budget_id": 42}`)

	_, err := RecomputeRequestFromJSON(invalidJSON)
	if err == nil {
		t.Error("RecomputeRequestFromJSON() should fail with invalid JSON")
	}
}

func TestRecomputeRequest_MonthKey(t *testing.T) {
	msg := &RecomputeRequest{Month: "2026-08"}
	key, err := msg.MonthKey()
	if err != nil {
		t.Fatalf("MonthKey() error = %v", err)
	}
	if key != core.MonthKey("2026-08") {
		t.Errorf("MonthKey() = %v, want 2026-08", key)
	}

	bad := &RecomputeRequest{Month: "August 2026"}
	if _, err := bad.MonthKey(); err == nil {
		t.Error("MonthKey() should fail for a malformed month")
	}
}
