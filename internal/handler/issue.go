package handler

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/garyagent/dashboard/internal/domain"
	"github.com/garyagent/dashboard/internal/service"
)

// IssueHandler handles issue endpoints.
type IssueHandler struct {
	issues  *service.IssueService
	planner *service.Planner
}

// NewIssueHandler creates a new IssueHandler.
func NewIssueHandler(issues *service.IssueService, planner *service.Planner) *IssueHandler {
	return &IssueHandler{issues: issues, planner: planner}
}

// Register mounts the issue routes.
func (h *IssueHandler) Register(g *echo.Group, jwtAuth echo.MiddlewareFunc) {
	g.GET("/issues", h.List, jwtAuth)
	g.POST("/issues", h.Create, jwtAuth)
	g.GET("/issues/:id", h.Get, jwtAuth)
	g.POST("/issues/:id/generate-plan", h.GeneratePlan, jwtAuth)
}

// List returns the most recent issues.
func (h *IssueHandler) List(c echo.Context) error {
	limit := 0
	if raw := c.QueryParam("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			return fmt.Errorf("%w: invalid limit parameter", domain.ErrInvalidInput)
		}
		limit = parsed
	}

	issues, err := h.issues.List(c.Request().Context(), limit)
	if err != nil {
		return err
	}
	return JSON(c, http.StatusOK, issues)
}

// Create stores a new issue.
func (h *IssueHandler) Create(c echo.Context) error {
	var input service.IssueInput
	if err := c.Bind(&input); err != nil {
		return fmt.Errorf("%w: invalid request body", domain.ErrInvalidInput)
	}
	if err := c.Validate(&input); err != nil {
		return err
	}

	issue, err := h.issues.Create(c.Request().Context(), input)
	if err != nil {
		return err
	}
	return JSON(c, http.StatusCreated, issue)
}

// Get returns a single issue.
func (h *IssueHandler) Get(c echo.Context) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}

	issue, err := h.issues.Get(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return JSON(c, http.StatusOK, issue)
}

// GeneratePlan kicks off AI plan generation for the issue. The work runs in
// the background; callers poll the issue's ai_plan_status for the outcome.
func (h *IssueHandler) GeneratePlan(c echo.Context) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}

	if err := h.planner.GeneratePlan(c.Request().Context(), id); err != nil {
		return err
	}
	return JSON(c, http.StatusAccepted, map[string]string{"status": "generating"})
}
