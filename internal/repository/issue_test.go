package repository

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garyagent/dashboard/internal/domain"
)

func issueTestColumns() []string {
	return []string{
		"id", "title", "description", "status", "priority", "repo_full_name",
		"ai_plan_status", "ai_plan", "ai_plan_error", "created_at", "updated_at",
	}
}

func issueRow(planStatus string) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows(issueTestColumns()).
		AddRow(3, "fix login", nil, "todo", "medium", nil,
			planStatus, nil, nil, now, now)
}

func TestClaimPlanGuardsConcurrentGeneration(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewIssueRepository(db)

	// The claim is one conditional UPDATE: it loses against a plan that is
	// already generating.
	mock.ExpectQuery(`UPDATE issues\s+SET ai_plan_status = 'generating', ai_plan_error = NULL, updated_at = NOW\(\)\s+WHERE id = \$1 AND ai_plan_status IS DISTINCT FROM 'generating'\s+RETURNING`).
		WithArgs(int64(3)).
		WillReturnRows(issueRow("generating"))

	claimed, err := repo.ClaimPlan(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, domain.PlanGenerating, claimed.AIPlanStatus)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimPlanAlreadyGenerating(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewIssueRepository(db)

	mock.ExpectQuery(`UPDATE issues`).
		WithArgs(int64(3)).
		WillReturnRows(sqlmock.NewRows(issueTestColumns()))
	mock.ExpectQuery(`(?s)SELECT .+ FROM issues WHERE id = \$1`).
		WithArgs(int64(3)).
		WillReturnRows(issueRow("generating"))

	_, err := repo.ClaimPlan(context.Background(), 3)
	assert.ErrorIs(t, err, domain.ErrConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimPlanUnknownIssue(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewIssueRepository(db)

	mock.ExpectQuery(`UPDATE issues`).
		WithArgs(int64(3)).
		WillReturnRows(sqlmock.NewRows(issueTestColumns()))
	mock.ExpectQuery(`(?s)SELECT .+ FROM issues WHERE id = \$1`).
		WithArgs(int64(3)).
		WillReturnRows(sqlmock.NewRows(issueTestColumns()))

	_, err := repo.ClaimPlan(context.Background(), 3)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}
