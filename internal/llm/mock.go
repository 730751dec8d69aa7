package llm

import (
	"context"
	"fmt"
	"sync"
)

// MockClient replays scripted responses in order. Tests use it to drive the
// agent loop without a provider.
type MockClient struct {
	mu        sync.Mutex
	responses []*CompletionResponse
	errs      []error
	calls     []CompletionRequest
	model     string
}

// NewMockClient builds an empty mock for the given model name.
func NewMockClient(model string) *MockClient {
	return &MockClient{model: model}
}

// Respond queues a plain text response.
func (m *MockClient) Respond(content string) *MockClient {
	return m.push(&CompletionResponse{Content: content, StopReason: "stop"}, nil)
}

// RespondToolCalls queues a response that requests the given tool calls.
func (m *MockClient) RespondToolCalls(calls ...ToolCall) *MockClient {
	return m.push(&CompletionResponse{ToolCalls: calls, StopReason: "tool_calls"}, nil)
}

// Fail queues an error.
func (m *MockClient) Fail(err error) *MockClient {
	return m.push(nil, err)
}

func (m *MockClient) push(resp *CompletionResponse, err error) *MockClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, resp)
	m.errs = append(m.errs, err)
	return m
}

func (m *MockClient) Complete(_ context.Context, req CompletionRequest) (*CompletionResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, req)
	if len(m.responses) == 0 {
		return nil, fmt.Errorf("mock: no scripted response for call %d", len(m.calls))
	}
	resp, err := m.responses[0], m.errs[0]
	m.responses, m.errs = m.responses[1:], m.errs[1:]
	return resp, err
}

func (m *MockClient) Model() string { return m.model }

// Calls returns every request seen so far.
func (m *MockClient) Calls() []CompletionRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]CompletionRequest, len(m.calls))
	copy(out, m.calls)
	return out
}
