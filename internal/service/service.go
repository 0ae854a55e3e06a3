// Package service exposes the application operations behind the HTTP API:
// starting runs, accepting follow-up messages, recording approval decisions,
// and reading projected state. All writes go through the event log and the
// work-item queue; the dispatcher does the rest.
package service

import (
	"errors"

	"github.com/relaymesh/orchestrator/internal/config"
	"github.com/relaymesh/orchestrator/internal/eventlog"
	"github.com/relaymesh/orchestrator/internal/queue"
	"github.com/relaymesh/orchestrator/internal/tools"
)

var (
	ErrRunNotFound      = errors.New("run not found")
	ErrRunTerminal      = errors.New("run is terminal")
	ErrApprovalNotFound = errors.New("approval not found")
	ErrAlreadyDecided   = errors.New("approval already decided")
)

// Service wires the application operations.
type Service struct {
	log      eventlog.Log
	queue    queue.Queue
	registry *tools.Registry
	config   *config.Config
}

// New creates a service.
func New(eventLog eventlog.Log, q queue.Queue, registry *tools.Registry, cfg *config.Config) *Service {
	return &Service{
		log:      eventLog,
		queue:    q,
		registry: registry,
		config:   cfg,
	}
}

// ListTools returns the registry definitions.
func (s *Service) ListTools() []tools.Definition {
	return s.registry.Definitions()
}
