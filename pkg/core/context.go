package core

import (
	"context"

	"github.com/google/uuid"
)

type runKey struct{}

// NewRunID returns a time-ordered id for one workflow or crew execution.
func NewRunID() string {
	if id, err := uuid.NewV7(); err == nil {
		return id.String()
	}
	return uuid.NewString()
}

// WithRunID scopes ctx to the execution id.
func WithRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, runKey{}, id)
}

// RunID reports the execution id carried by ctx.
func RunID(ctx context.Context) (string, bool) {
	id, _ := ctx.Value(runKey{}).(string)
	return id, id != ""
}

// EnsureRunID returns ctx and its execution id, minting one when absent.
func EnsureRunID(ctx context.Context) (context.Context, string) {
	if id, ok := RunID(ctx); ok {
		return ctx, id
	}
	id := NewRunID()
	return WithRunID(ctx, id), id
}
