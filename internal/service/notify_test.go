package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/garyagent/dashboard/internal/domain"
)

func TestRenderTemplate(t *testing.T) {
	completed := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	result := "merged in #42"
	repo := "acme/demo"
	unit := &domain.WorkUnit{
		ID:          7,
		Status:      domain.WorkUnitCompleted,
		Result:      &result,
		CompletedAt: &completed,
	}
	issue := &domain.Issue{Title: "Fix login redirect", RepoFullName: &repo}

	got := RenderTemplate("{{issue_title}} on {{repo_name}}: {{status}} at {{completed_at}} -> {{result}}", unit, issue)

	assert.Equal(t, "Fix login redirect on acme/demo: completed at 2026-03-14T09:26:53Z -> merged in #42", got)
}

func TestRenderTemplateMissingFields(t *testing.T) {
	unit := &domain.WorkUnit{Status: domain.WorkUnitFailed}

	got := RenderTemplate("{{issue_title}}|{{repo_name}}|{{status}}|{{completed_at}}|{{result}}|{{unknown}}", unit, nil)

	assert.Equal(t, "|-|failed|||{{unknown}}", got)
}

func TestRenderTemplateDefault(t *testing.T) {
	repo := "acme/demo"
	unit := &domain.WorkUnit{Status: domain.WorkUnitCompleted}
	issue := &domain.Issue{Title: "Ship it", RepoFullName: &repo}

	got := RenderTemplate(DefaultTemplate, unit, issue)

	assert.Contains(t, got, `"Ship it"`)
	assert.Contains(t, got, "acme/demo")
	assert.Contains(t, got, "completed")
}
