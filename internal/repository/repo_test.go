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

func repoTestColumns() []string {
	return []string{
		"id", "full_name", "name", "description", "language", "default_branch",
		"analysis_status", "analysis_result", "analysis_error", "analyzed_at",
		"deep_analysis_status", "deep_analysis_result", "deep_analysis_error", "deep_analyzed_at",
		"connected_at",
	}
}

func repoRow(status, deepStatus string) *sqlmock.Rows {
	return sqlmock.NewRows(repoTestColumns()).
		AddRow(7, "acme/demo", "demo", nil, nil, "main",
			status, nil, nil, nil,
			deepStatus, nil, nil, nil,
			time.Now())
}

func TestClaimDeepChecksBaselineInSameStatement(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewRepoRepository(db)

	// A deep claim is one conditional UPDATE carrying both guards: not
	// already analyzing, and baseline completed. No separate read.
	mock.ExpectQuery(`UPDATE connected_repos\s+SET deep_analysis_status = 'analyzing', deep_analysis_error = NULL\s+WHERE id = \$1 AND deep_analysis_status IS DISTINCT FROM 'analyzing' AND analysis_status = 'completed'\s+RETURNING`).
		WithArgs(int64(7)).
		WillReturnRows(repoRow("completed", "analyzing"))

	claimed, err := repo.ClaimPhase(context.Background(), 7, domain.PhaseDeep)
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseAnalyzing, claimed.DeepStatus)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimDeepWithoutCompletedBaseline(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewRepoRepository(db)

	mock.ExpectQuery(`UPDATE connected_repos`).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows(repoTestColumns()))
	mock.ExpectQuery(`(?s)SELECT .+ FROM connected_repos WHERE id = \$1`).
		WithArgs(int64(7)).
		WillReturnRows(repoRow("failed", ""))

	_, err := repo.ClaimPhase(context.Background(), 7, domain.PhaseDeep)
	assert.ErrorIs(t, err, domain.ErrPreconditionFailed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimDeepWhileDeepAnalyzing(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewRepoRepository(db)

	mock.ExpectQuery(`UPDATE connected_repos`).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows(repoTestColumns()))
	mock.ExpectQuery(`(?s)SELECT .+ FROM connected_repos WHERE id = \$1`).
		WithArgs(int64(7)).
		WillReturnRows(repoRow("completed", "analyzing"))

	_, err := repo.ClaimPhase(context.Background(), 7, domain.PhaseDeep)
	assert.ErrorIs(t, err, domain.ErrConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimBaselineSkipsCompletedGuard(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewRepoRepository(db)

	mock.ExpectQuery(`UPDATE connected_repos\s+SET analysis_status = 'analyzing', analysis_error = NULL\s+WHERE id = \$1 AND analysis_status IS DISTINCT FROM 'analyzing'\s+RETURNING`).
		WithArgs(int64(7)).
		WillReturnRows(repoRow("analyzing", ""))

	claimed, err := repo.ClaimPhase(context.Background(), 7, domain.PhaseBaseline)
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseAnalyzing, claimed.AnalysisStatus)
	assert.NoError(t, mock.ExpectationsWereMet())
}
