package llm

import (
	"context"
	"errors"
	"sync"
)

// MockProvider returns a fixed response, or delegates to ChatFunc.
type MockProvider struct {
	Response string
	Err      error
	ChatFunc func(ctx context.Context, req ChatRequest) (*ChatResponse, error)
}

// Chat implements Provider.
func (m *MockProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	if m.ChatFunc != nil {
		return m.ChatFunc(ctx, req)
	}
	if m.Err != nil {
		return nil, m.Err
	}
	return &ChatResponse{
		Content: m.Response,
		Usage:   Usage{PromptTokens: 10, CompletionTokens: 10, TotalTokens: 20},
	}, nil
}

// ScriptedProvider replays a fixed sequence of responses and records every
// request it received. Useful for driving tool-call loops in tests.
type ScriptedProvider struct {
	mu        sync.Mutex
	responses []ChatResponse
	requests  []ChatRequest
}

// NewScripted returns a provider that answers with responses in order.
func NewScripted(responses ...ChatResponse) *ScriptedProvider {
	return &ScriptedProvider{responses: responses}
}

// Chat pops the next scripted response.
func (s *ScriptedProvider) Chat(_ context.Context, req ChatRequest) (*ChatResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.requests = append(s.requests, req)
	if len(s.responses) == 0 {
		return nil, errors.New("scripted provider: no more responses available")
	}
	next := s.responses[0]
	s.responses = s.responses[1:]
	return &next, nil
}

// Requests returns the requests received so far.
func (s *ScriptedProvider) Requests() []ChatRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ChatRequest(nil), s.requests...)
}
