package handler

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/garyagent/dashboard/internal/domain"
	"github.com/garyagent/dashboard/internal/service"
)

// RepoHandler handles connected-repo and analysis endpoints.
type RepoHandler struct {
	analyzer *service.Analyzer
	github   *service.GitHub
}

// NewRepoHandler creates a new RepoHandler.
func NewRepoHandler(analyzer *service.Analyzer, github *service.GitHub) *RepoHandler {
	return &RepoHandler{analyzer: analyzer, github: github}
}

// Register mounts the repo routes.
func (h *RepoHandler) Register(g *echo.Group, jwtAuth echo.MiddlewareFunc) {
	g.GET("/repos", h.List, jwtAuth)
	g.POST("/repos", h.Connect, jwtAuth)
	g.GET("/repos/:id", h.Get, jwtAuth)
	g.POST("/repos/:id/analyze", h.Analyze, jwtAuth)
	g.POST("/repos/:id/analyze/deep", h.AnalyzeDeep, jwtAuth)
	g.GET("/repos/:id/suggestions", h.Suggestions, jwtAuth)
}

// List returns all connected repos with their analysis state.
func (h *RepoHandler) List(c echo.Context) error {
	repos, err := h.analyzer.List(c.Request().Context())
	if err != nil {
		return err
	}
	return JSON(c, http.StatusOK, repos)
}

// Connect looks the repository up on GitHub, registers it and starts the
// analysis pipeline.
func (h *RepoHandler) Connect(c echo.Context) error {
	var body struct {
		FullName string `json:"full_name" validate:"required,contains=/"`
	}
	if err := c.Bind(&body); err != nil {
		return fmt.Errorf("%w: invalid request body", domain.ErrInvalidInput)
	}
	if err := c.Validate(&body); err != nil {
		return err
	}

	meta, err := h.github.Metadata(c.Request().Context(), body.FullName)
	if err != nil {
		return err
	}

	repo, err := h.analyzer.Connect(c.Request().Context(), *meta)
	if err != nil {
		return err
	}
	return JSON(c, http.StatusCreated, repo)
}

// Get returns a connected repo.
func (h *RepoHandler) Get(c echo.Context) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}

	repo, err := h.analyzer.Get(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return JSON(c, http.StatusOK, repo)
}

// Analyze re-runs the baseline analysis phase.
func (h *RepoHandler) Analyze(c echo.Context) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}

	if err := h.analyzer.RetryBaseline(c.Request().Context(), id); err != nil {
		return err
	}
	return JSON(c, http.StatusAccepted, map[string]string{"status": "analyzing"})
}

// AnalyzeDeep runs the deep analysis phase on its own.
func (h *RepoHandler) AnalyzeDeep(c echo.Context) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}

	if err := h.analyzer.RunDeep(c.Request().Context(), id); err != nil {
		return err
	}
	return JSON(c, http.StatusAccepted, map[string]string{"status": "analyzing"})
}

// Suggestions returns the repo's deep analysis suggestions.
func (h *RepoHandler) Suggestions(c echo.Context) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}

	suggestions, err := h.analyzer.Suggestions(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return JSON(c, http.StatusOK, suggestions)
}
