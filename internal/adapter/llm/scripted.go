package llm

import (
	"context"
	"fmt"
	"sync"
)

// ScriptedClient replays a fixed sequence of completion results. Used in
// tests and local development where no model backend is available.
type ScriptedClient struct {
	mu      sync.Mutex
	results []*CompletionResult
	next    int

	// Calls records every request received, for assertions.
	Calls []*CompletionRequest
}

var _ Client = (*ScriptedClient)(nil)

// NewScriptedClient creates a client that returns the given results in order.
func NewScriptedClient(results ...*CompletionResult) *ScriptedClient {
	return &ScriptedClient{results: results}
}

// Complete returns the next scripted result.
func (c *ScriptedClient) Complete(ctx context.Context, req *CompletionRequest) (*CompletionResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Calls = append(c.Calls, req)
	if c.next >= len(c.results) {
		return nil, fmt.Errorf("scripted client exhausted after %d completions", len(c.results))
	}
	res := c.results[c.next]
	c.next++
	return res, nil
}

// MockClient returns a canned text answer derived from the last user
// message. It never proposes tool calls.
type MockClient struct{}

var _ Client = (*MockClient)(nil)

// NewMockClient creates a new mock model client.
func NewMockClient() *MockClient {
	return &MockClient{}
}

// Complete returns a mock response based on the request.
func (m *MockClient) Complete(ctx context.Context, req *CompletionRequest) (*CompletionResult, error) {
	var lastUser string
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == "user" {
			lastUser = req.Messages[i].Content
			break
		}
	}
	if lastUser == "" {
		return &CompletionResult{AssistantMessage: "[MOCK] This is a mock model response."}, nil
	}
	return &CompletionResult{
		AssistantMessage: fmt.Sprintf("[MOCK] Received your message: %q.", truncate(lastUser, 100)),
	}, nil
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
