// Package v1 exposes the public HTTP API.
package v1

import (
	"github.com/labstack/echo/v4"
	"github.com/relaymesh/orchestrator/internal/service"
)

// Handler holds the API handlers.
type Handler struct {
	svc *service.Service
}

// NewHandler creates a handler.
func NewHandler(svc *service.Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes registers the v1 routes.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.POST("/v1/runs", h.StartRun)
	e.GET("/v1/runs", h.ListRuns)
	e.GET("/v1/runs/:run_id", h.GetRun)
	e.POST("/v1/runs/:run_id/messages", h.SendMessage)
	e.GET("/v1/runs/:run_id/events", h.ListEvents)
	e.POST("/v1/runs/:run_id/approvals/:approval_id/decide", h.DecideApproval)
	e.GET("/v1/tools", h.ListTools)
}

type errorResponse struct {
	Error string `json:"error"`
}
