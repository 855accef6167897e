package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/garyagent/dashboard/internal/domain"
)

const repoColumns = `id, full_name, name, description, language, default_branch,
	analysis_status, analysis_result, analysis_error, analyzed_at,
	deep_analysis_status, deep_analysis_result, deep_analysis_error, deep_analyzed_at,
	connected_at`

// phaseColumns returns the status/result/error/timestamp column names for
// the phase.
func phaseColumns(p domain.AnalysisPhase) (status, result, errCol, at string) {
	if p == domain.PhaseDeep {
		return "deep_analysis_status", "deep_analysis_result", "deep_analysis_error", "deep_analyzed_at"
	}
	return "analysis_status", "analysis_result", "analysis_error", "analyzed_at"
}

// RepoRepository handles connected repository data access, including the
// analysis phase bookkeeping that the analyzer drives.
type RepoRepository struct {
	db *sqlx.DB
}

// NewRepoRepository creates a new RepoRepository.
func NewRepoRepository(db *sqlx.DB) *RepoRepository {
	return &RepoRepository{db: db}
}

// FindByID retrieves a connected repo by its ID.
func (r *RepoRepository) FindByID(ctx context.Context, id int64) (*domain.Repo, error) {
	var repo domain.Repo
	err := r.db.GetContext(ctx, &repo,
		`SELECT `+repoColumns+` FROM connected_repos WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("find repo %d: %w", id, err)
	}
	return &repo, nil
}

// List returns all connected repos.
func (r *RepoRepository) List(ctx context.Context) ([]domain.Repo, error) {
	repos := []domain.Repo{}
	err := r.db.SelectContext(ctx, &repos,
		`SELECT `+repoColumns+` FROM connected_repos ORDER BY connected_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list repos: %w", err)
	}
	return repos, nil
}

// Create connects a repository, with the baseline phase marked pending.
func (r *RepoRepository) Create(ctx context.Context, repo domain.Repo) (*domain.Repo, error) {
	var created domain.Repo
	err := r.db.QueryRowxContext(ctx,
		`INSERT INTO connected_repos
		     (full_name, name, description, language, default_branch, analysis_status)
		 VALUES ($1, $2, $3, $4, $5, 'pending')
		 ON CONFLICT (full_name) DO UPDATE SET
		     description = EXCLUDED.description,
		     language = EXCLUDED.language,
		     default_branch = EXCLUDED.default_branch
		 RETURNING `+repoColumns,
		repo.FullName, repo.Name, repo.Description, repo.Language, repo.DefaultBranch,
	).StructScan(&created)
	if err != nil {
		return nil, fmt.Errorf("connect repo %s: %w", repo.FullName, err)
	}
	return &created, nil
}

// ClaimPhase transitions the phase to analyzing and clears its error. The
// status guard rejects the transition while the phase is already analyzing,
// which is the storage-level mutual exclusion for retries: concurrent callers
// race on the conditional update and exactly one wins. The deep phase also
// requires a completed baseline; checking it inside the same conditional
// update means a concurrent baseline retry cannot slip in between a
// separate read and the claim.
func (r *RepoRepository) ClaimPhase(ctx context.Context, id int64, phase domain.AnalysisPhase) (*domain.Repo, error) {
	status, _, errCol, _ := phaseColumns(phase)
	guard := ""
	if phase == domain.PhaseDeep {
		guard = " AND analysis_status = 'completed'"
	}
	var repo domain.Repo
	err := r.db.QueryRowxContext(ctx, fmt.Sprintf(
		`UPDATE connected_repos
		 SET %[1]s = 'analyzing', %[2]s = NULL
		 WHERE id = $1 AND %[1]s IS DISTINCT FROM 'analyzing'`+guard+`
		 RETURNING `+repoColumns, status, errCol),
		id,
	).StructScan(&repo)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			current, findErr := r.FindByID(ctx, id)
			if findErr != nil {
				return nil, findErr
			}
			if phase == domain.PhaseDeep && current.AnalysisStatus != domain.PhaseCompleted {
				return nil, fmt.Errorf("%w: baseline analysis is %q, not completed",
					domain.ErrPreconditionFailed, current.AnalysisStatus)
			}
			return nil, fmt.Errorf("%w: repo %d is already analyzing", domain.ErrConflict, id)
		}
		return nil, fmt.Errorf("claim %s phase for repo %d: %w", phase, id, err)
	}
	return &repo, nil
}

// CompletePhase stores the phase result and marks it completed.
func (r *RepoRepository) CompletePhase(ctx context.Context, id int64, phase domain.AnalysisPhase, result string) error {
	status, resCol, errCol, at := phaseColumns(phase)
	_, err := r.db.ExecContext(ctx, fmt.Sprintf(
		`UPDATE connected_repos
		 SET %s = 'completed', %s = $2, %s = NULL, %s = NOW()
		 WHERE id = $1`, status, resCol, errCol, at),
		id, result)
	if err != nil {
		return fmt.Errorf("complete %s phase for repo %d: %w", phase, id, err)
	}
	return nil
}

// FailPhase marks the phase failed with the given error message.
func (r *RepoRepository) FailPhase(ctx context.Context, id int64, phase domain.AnalysisPhase, message string) error {
	status, _, errCol, at := phaseColumns(phase)
	_, err := r.db.ExecContext(ctx, fmt.Sprintf(
		`UPDATE connected_repos
		 SET %s = 'failed', %s = $2, %s = NOW()
		 WHERE id = $1`, status, errCol, at),
		id, message)
	if err != nil {
		return fmt.Errorf("fail %s phase for repo %d: %w", phase, id, err)
	}
	return nil
}

// CompleteDeep applies a successful deep run in a single transaction: prior
// suggestions for the repo are deleted, the new set inserted, one issue
// created and back-linked per suggestion, and the phase marked completed.
// A reader never observes a partial replacement; any failure rolls the whole
// outcome back, leaving the previous suggestions intact.
func (r *RepoRepository) CompleteDeep(ctx context.Context, id int64, outcome domain.DeepOutcome) error {
	if len(outcome.Issues) != len(outcome.Suggestions) {
		return fmt.Errorf("deep outcome mismatch: %d issues for %d suggestions",
			len(outcome.Issues), len(outcome.Suggestions))
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin deep completion: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM analysis_suggestions WHERE repo_id = $1`, id); err != nil {
		return fmt.Errorf("delete prior suggestions for repo %d: %w", id, err)
	}

	for i, s := range outcome.Suggestions {
		issue := outcome.Issues[i]
		var issueID int64
		err := tx.QueryRowxContext(ctx,
			`INSERT INTO issues (title, description, status, priority, repo_full_name)
			 VALUES ($1, $2, $3, $4, $5)
			 RETURNING id`,
			issue.Title, issue.Description, issue.Status, issue.Priority, issue.RepoFullName,
		).Scan(&issueID)
		if err != nil {
			return fmt.Errorf("fan out issue for repo %d: %w", id, err)
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO analysis_suggestions
			     (repo_id, category, severity, title, description, affected_files, suggested_fix, issue_id)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			id, s.Category, s.Severity, s.Title, s.Description,
			s.AffectedFiles, s.SuggestedFix, issueID,
		); err != nil {
			return fmt.Errorf("insert suggestion for repo %d: %w", id, err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE connected_repos
		 SET deep_analysis_status = 'completed', deep_analysis_result = $2,
		     deep_analysis_error = NULL, deep_analyzed_at = NOW()
		 WHERE id = $1`, id, outcome.Report); err != nil {
		return fmt.Errorf("complete deep phase for repo %d: %w", id, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit deep completion for repo %d: %w", id, err)
	}
	return nil
}

// ListSuggestions returns the current suggestions for a repo, most severe
// first.
func (r *RepoRepository) ListSuggestions(ctx context.Context, repoID int64) ([]domain.Suggestion, error) {
	suggestions := []domain.Suggestion{}
	err := r.db.SelectContext(ctx, &suggestions,
		`SELECT id, repo_id, category, severity, title, description,
		        affected_files, suggested_fix, issue_id, created_at
		 FROM analysis_suggestions
		 WHERE repo_id = $1
		 ORDER BY CASE severity
		     WHEN 'critical' THEN 0
		     WHEN 'high' THEN 1
		     WHEN 'medium' THEN 2
		     ELSE 3
		 END, id`, repoID)
	if err != nil {
		return nil, fmt.Errorf("list suggestions for repo %d: %w", repoID, err)
	}
	return suggestions, nil
}
