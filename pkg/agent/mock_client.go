package agent

import (
	"context"
	"fmt"
	"sync"

	"planforge/pkg/agent/llm"
)

// MockLLMClient replays predefined responses and errors, in order.
// Safe for concurrent use.
type MockLLMClient struct {
	mu        sync.Mutex
	responses []llm.CompletionResponse
	errors    []error
	calls     []llm.CompletionRequest
}

// NewMockLLMClient creates a new mock client. At call i, a non-nil errors[i]
// is returned; otherwise responses[i].
func NewMockLLMClient(responses []llm.CompletionResponse, errors []error) *MockLLMClient {
	return &MockLLMClient{responses: responses, errors: errors}
}

// Complete returns the next predefined response or error.
//
//nolint:gocritic // value param matches interface
func (m *MockLLMClient) Complete(_ context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	i := len(m.calls)
	m.calls = append(m.calls, req)

	if i < len(m.errors) && m.errors[i] != nil {
		return llm.CompletionResponse{}, m.errors[i]
	}
	if i >= len(m.responses) {
		return llm.CompletionResponse{}, fmt.Errorf("mock client: no more responses")
	}
	return m.responses[i], nil
}

// GetModelName returns the mock model name.
func (m *MockLLMClient) GetModelName() string {
	return "mock-model"
}

// Calls returns the requests seen so far.
func (m *MockLLMClient) Calls() []llm.CompletionRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]llm.CompletionRequest(nil), m.calls...)
}
