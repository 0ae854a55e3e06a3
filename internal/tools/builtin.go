package tools

import (
	"context"
	"encoding/json"
	"fmt"
)

// NewBuiltinRegistry returns a registry with the demo toolset.
func NewBuiltinRegistry() *Registry {
	r := NewRegistry()
	r.MustRegister(Definition{
		Name:        "weather.query",
		Description: "Query current weather for a city",
		Schema:      json.RawMessage(`{"type":"object","properties":{"city":{"type":"string"}},"required":["city"]}`),
	}, func(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
		return json.RawMessage(`{"weather":"Sunny","temperature":25}`), nil
	})
	r.MustRegister(Definition{
		Name:        "payments.transfer",
		Description: "Transfer an amount to a recipient account",
		Schema:      json.RawMessage(`{"type":"object","properties":{"amount":{"type":"number"},"to":{"type":"string"}},"required":["amount","to"]}`),
	}, func(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
		return json.RawMessage(`{"status":"completed","transaction_id":"tx_123"}`), nil
	})
	r.MustRegister(Definition{
		Name:        "dangerous.command",
		Description: "Disabled shell command runner",
	}, func(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
		return nil, fmt.Errorf("tool execution disabled")
	})
	return r
}
