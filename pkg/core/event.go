package core

import (
	"context"
	"time"
)

// EventType identifies a semantic event emitted while a workflow runs.
type EventType string

const (
	EventTaskStarted   EventType = "task.started"
	EventTaskCompleted EventType = "task.completed"
	EventToolCalled    EventType = "tool.called"
	EventTaskError     EventType = "task.error"
)

// Event captures a semantic streaming/logging event.
type Event struct {
	Type      EventType
	Agent     string
	Task      string
	RunID     string
	Timestamp time.Time
	Payload   map[string]any
}

// EventEmitter receives semantic events.
type EventEmitter interface {
	Emit(ctx context.Context, event Event)
}

// NoopEventEmitter is a default no-op implementation.
type NoopEventEmitter struct{}

// Emit implements EventEmitter.
func (NoopEventEmitter) Emit(_ context.Context, _ Event) {}

// EmitterFunc adapts a function to EventEmitter.
type EmitterFunc func(ctx context.Context, event Event)

// Emit implements EventEmitter.
func (f EmitterFunc) Emit(ctx context.Context, event Event) { f(ctx, event) }

// NewEvent builds an event stamped with the current time and the run id
// carried by ctx.
func NewEvent(ctx context.Context, eventType EventType, agent, task string, payload map[string]any) Event {
	runID, _ := RunID(ctx)
	return Event{
		Type:      eventType,
		Agent:     agent,
		Task:      task,
		RunID:     runID,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}
}
