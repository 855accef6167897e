package handler

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/garyagent/dashboard/internal/domain"
	"github.com/garyagent/dashboard/internal/service"
)

// QueueHandler exposes the work queue: enqueueing units for issues, the
// worker claim/report protocol and queue statistics.
type QueueHandler struct {
	dispatcher *service.Dispatcher
}

// NewQueueHandler creates a new QueueHandler.
func NewQueueHandler(dispatcher *service.Dispatcher) *QueueHandler {
	return &QueueHandler{dispatcher: dispatcher}
}

// Register mounts the queue routes. Worker protocol endpoints take the
// worker key middleware, user-facing ones the JWT middleware.
func (h *QueueHandler) Register(g *echo.Group, jwtAuth, workerAuth echo.MiddlewareFunc) {
	g.POST("/issues/:id/work-request", h.Enqueue, jwtAuth)
	g.GET("/issues/:id/queue-items", h.History, jwtAuth)

	g.GET("/queue/stats", h.Stats)
	g.GET("/queue/next", h.ClaimNext, workerAuth)
	g.GET("/queue/:id", h.Get, workerAuth)
	g.PATCH("/queue/:id", h.UpdateStatus, workerAuth)
}

// Enqueue creates a pending work unit for the issue.
func (h *QueueHandler) Enqueue(c echo.Context) error {
	issueID, err := paramID(c, "id")
	if err != nil {
		return err
	}

	unit, err := h.dispatcher.Enqueue(c.Request().Context(), issueID)
	if err != nil {
		return err
	}
	return JSON(c, http.StatusCreated, unit)
}

// ClaimNext hands the highest-priority pending unit to a worker, or 204 when
// the queue is empty.
func (h *QueueHandler) ClaimNext(c echo.Context) error {
	unit, err := h.dispatcher.ClaimNext(c.Request().Context())
	if err != nil {
		return err
	}
	if unit == nil {
		return c.NoContent(http.StatusNoContent)
	}
	return JSON(c, http.StatusOK, unit)
}

// UpdateStatus moves a claimed unit to its terminal state.
func (h *QueueHandler) UpdateStatus(c echo.Context) error {
	unitID, err := paramID(c, "id")
	if err != nil {
		return err
	}

	var body struct {
		Status string  `json:"status" validate:"required,oneof=completed failed"`
		Result *string `json:"result"`
	}
	if err := c.Bind(&body); err != nil {
		return fmt.Errorf("%w: invalid request body", domain.ErrInvalidInput)
	}
	if err := c.Validate(&body); err != nil {
		return err
	}

	unit, err := h.dispatcher.UpdateStatus(c.Request().Context(), unitID,
		domain.WorkUnitStatus(body.Status), body.Result)
	if err != nil {
		return err
	}
	return JSON(c, http.StatusOK, unit)
}

// Get returns a single work unit.
func (h *QueueHandler) Get(c echo.Context) error {
	unitID, err := paramID(c, "id")
	if err != nil {
		return err
	}

	unit, err := h.dispatcher.Get(c.Request().Context(), unitID)
	if err != nil {
		return err
	}
	return JSON(c, http.StatusOK, unit)
}

// History lists an issue's work units, newest first.
func (h *QueueHandler) History(c echo.Context) error {
	issueID, err := paramID(c, "id")
	if err != nil {
		return err
	}

	units, err := h.dispatcher.History(c.Request().Context(), issueID)
	if err != nil {
		return err
	}
	return JSON(c, http.StatusOK, units)
}

// Stats returns the per-status unit counts.
func (h *QueueHandler) Stats(c echo.Context) error {
	stats, err := h.dispatcher.Stats(c.Request().Context())
	if err != nil {
		return err
	}
	return JSON(c, http.StatusOK, stats)
}

func paramID(c echo.Context, name string) (int64, error) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: invalid %s parameter", domain.ErrInvalidInput, name)
	}
	return id, nil
}
