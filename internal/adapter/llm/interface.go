// Package llm provides an abstraction for model invocation. The orchestrator
// only shapes the request and records the result; it does not implement the
// call itself.
package llm

import (
	"context"
	"encoding/json"

	"github.com/relaymesh/orchestrator/internal/domain"
)

// ToolDefinition is the tool surface advertised to the model.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Schema      json.RawMessage `json:"schema,omitempty"`
}

// CompletionRequest carries one model turn: the full conversation so far
// plus the tools the model may propose.
type CompletionRequest struct {
	Model    string           `json:"model,omitempty"`
	Messages []domain.Message `json:"messages"`
	Tools    []ToolDefinition `json:"tools,omitempty"`
}

// CompletionResult is either assistant text, a set of proposed tool calls,
// or both.
type CompletionResult struct {
	AssistantMessage string
	ToolCalls        []domain.ProposedToolCall
}

// Client is the model invocation contract.
type Client interface {
	Complete(ctx context.Context, req *CompletionRequest) (*CompletionResult, error)
}
