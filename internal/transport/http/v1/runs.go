package v1

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/relaymesh/orchestrator/internal/domain"
	"github.com/relaymesh/orchestrator/internal/service"
)

// StartRun handles POST /v1/runs.
func (h *Handler) StartRun(c echo.Context) error {
	var req domain.StartRunRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid request body"})
	}

	resp, err := h.svc.StartRun(c.Request().Context(), req)
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
	}
	return c.JSON(http.StatusCreated, resp)
}

// ListRuns handles GET /v1/runs.
func (h *Handler) ListRuns(c echo.Context) error {
	limit := 50
	if raw := c.QueryParam("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid limit"})
		}
		limit = parsed
	}

	runs, err := h.svc.ListRuns(c.Request().Context(), limit)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: err.Error()})
	}
	if runs == nil {
		runs = []string{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"runs": runs})
}

// GetRun handles GET /v1/runs/:run_id.
func (h *Handler) GetRun(c echo.Context) error {
	summary, err := h.svc.GetRun(c.Request().Context(), c.Param("run_id"))
	if err != nil {
		if errors.Is(err, service.ErrRunNotFound) {
			return c.JSON(http.StatusNotFound, errorResponse{Error: "run not found"})
		}
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: err.Error()})
	}
	return c.JSON(http.StatusOK, summary)
}

// SendMessage handles POST /v1/runs/:run_id/messages.
func (h *Handler) SendMessage(c echo.Context) error {
	var req domain.SendMessageRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid request body"})
	}

	err := h.svc.SendMessage(c.Request().Context(), c.Param("run_id"), req)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrRunNotFound):
			return c.JSON(http.StatusNotFound, errorResponse{Error: "run not found"})
		case errors.Is(err, service.ErrRunTerminal):
			return c.JSON(http.StatusConflict, errorResponse{Error: err.Error()})
		default:
			return c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		}
	}
	return c.JSON(http.StatusAccepted, map[string]string{"status": "accepted"})
}

// ListEvents handles GET /v1/runs/:run_id/events.
func (h *Handler) ListEvents(c echo.Context) error {
	var afterSeq int64
	if raw := c.QueryParam("after_seq"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid after_seq"})
		}
		afterSeq = parsed
	}

	events, err := h.svc.ListEvents(c.Request().Context(), c.Param("run_id"), afterSeq)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: err.Error()})
	}
	if events == nil {
		events = []domain.Event{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"events": events})
}

// ListTools handles GET /v1/tools.
func (h *Handler) ListTools(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{"tools": h.svc.ListTools()})
}
