package v1

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/relaymesh/orchestrator/internal/domain"
	"github.com/relaymesh/orchestrator/internal/service"
)

// DecideApproval handles POST /v1/runs/:run_id/approvals/:approval_id/decide.
func (h *Handler) DecideApproval(c echo.Context) error {
	var req domain.ApprovalDecisionRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid request body"})
	}

	err := h.svc.DecideApproval(c.Request().Context(), c.Param("run_id"), c.Param("approval_id"), req)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrRunNotFound):
			return c.JSON(http.StatusNotFound, errorResponse{Error: "run not found"})
		case errors.Is(err, service.ErrApprovalNotFound):
			return c.JSON(http.StatusNotFound, errorResponse{Error: "approval not found"})
		case errors.Is(err, service.ErrAlreadyDecided):
			return c.JSON(http.StatusConflict, errorResponse{Error: err.Error()})
		default:
			return c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		}
	}
	return c.JSON(http.StatusAccepted, map[string]string{"status": "accepted"})
}
