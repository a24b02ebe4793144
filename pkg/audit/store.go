// Package audit records workflow executions.
package audit

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// Execution statuses.
const (
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// Execution is one workflow run as seen by the registry.
type Execution struct {
	WorkflowID   string         `json:"workflow_id"`
	WorkflowName string         `json:"workflow_name,omitempty"`
	RunID        string         `json:"run_id"`
	Status       string         `json:"status"`
	Arguments    map[string]any `json:"arguments,omitempty"`
	Output       any            `json:"output,omitempty"`
	Error        string         `json:"error,omitempty"`
	ErrorCode    string         `json:"error_code,omitempty"`
	StartedAt    time.Time      `json:"started_at"`
	FinishedAt   time.Time      `json:"finished_at"`
}

// Filter limits List results. Zero fields match everything.
type Filter struct {
	WorkflowID string
	RunID      string
	Status     string
	Limit      int
}

func (f Filter) matches(e Execution) bool {
	if f.WorkflowID != "" && e.WorkflowID != f.WorkflowID {
		return false
	}
	if f.RunID != "" && e.RunID != f.RunID {
		return false
	}
	if f.Status != "" && e.Status != f.Status {
		return false
	}
	return true
}

// Store persists executions. List returns them oldest first.
type Store interface {
	Record(ctx context.Context, e Execution) error
	List(ctx context.Context, filter Filter) ([]Execution, error)
}

// Memory keeps executions in process memory.
type Memory struct {
	mu     sync.Mutex
	events []Execution
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{}
}

// Record appends an execution.
func (s *Memory) Record(_ context.Context, e Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e.StartedAt = normalizeTime(e.StartedAt)
	e.FinishedAt = normalizeTime(e.FinishedAt)
	s.events = append(s.events, e)
	return nil
}

// List returns matching executions.
func (s *Memory) List(_ context.Context, filter Filter) ([]Execution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Execution, 0, len(s.events))
	for _, e := range s.events {
		if !filter.matches(e) {
			continue
		}
		out = append(out, e)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

func encodeJSON(v any) (string, error) {
	if v == nil {
		return "null", nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func decodeJSON(raw string, out any) error {
	if raw == "" || raw == "null" {
		return nil
	}
	return json.Unmarshal([]byte(raw), out)
}

func normalizeTime(value time.Time) time.Time {
	if value.IsZero() {
		return value
	}
	return value.UTC()
}
