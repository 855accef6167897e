package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/garyagent/dashboard/internal/domain"
)

const issueColumns = `id, title, description, status, priority, repo_full_name,
	ai_plan_status, ai_plan, ai_plan_error, created_at, updated_at`

// IssueRepository handles issue data access operations.
type IssueRepository struct {
	db *sqlx.DB
}

// NewIssueRepository creates a new IssueRepository.
func NewIssueRepository(db *sqlx.DB) *IssueRepository {
	return &IssueRepository{db: db}
}

// FindByID retrieves an issue by its ID.
func (r *IssueRepository) FindByID(ctx context.Context, id int64) (*domain.Issue, error) {
	var issue domain.Issue
	err := r.db.GetContext(ctx, &issue,
		`SELECT `+issueColumns+` FROM issues WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("find issue %d: %w", id, err)
	}
	return &issue, nil
}

// Create inserts a new issue and returns it.
func (r *IssueRepository) Create(ctx context.Context, issue domain.Issue) (*domain.Issue, error) {
	var created domain.Issue
	err := r.db.QueryRowxContext(ctx,
		`INSERT INTO issues (title, description, status, priority, repo_full_name)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING `+issueColumns,
		issue.Title, issue.Description, issue.Status, issue.Priority, issue.RepoFullName,
	).StructScan(&created)
	if err != nil {
		return nil, fmt.Errorf("create issue: %w", err)
	}
	return &created, nil
}

// ClaimPlan transitions the issue's plan status to generating and clears the
// previous error. The conditional update is the mutual exclusion for plan
// generation: a second request while a plan is generating loses the race and
// gets domain.ErrConflict.
func (r *IssueRepository) ClaimPlan(ctx context.Context, id int64) (*domain.Issue, error) {
	var issue domain.Issue
	err := r.db.QueryRowxContext(ctx,
		`UPDATE issues
		 SET ai_plan_status = 'generating', ai_plan_error = NULL, updated_at = NOW()
		 WHERE id = $1 AND ai_plan_status IS DISTINCT FROM 'generating'
		 RETURNING `+issueColumns,
		id,
	).StructScan(&issue)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			if _, findErr := r.FindByID(ctx, id); findErr != nil {
				return nil, findErr
			}
			return nil, fmt.Errorf("%w: plan for issue %d is already generating", domain.ErrConflict, id)
		}
		return nil, fmt.Errorf("claim plan for issue %d: %w", id, err)
	}
	return &issue, nil
}

// CompletePlan stores the generated work plan and marks it completed. title
// and priority are applied only when non-nil; the generator may refine both
// from the plan's structured metadata.
func (r *IssueRepository) CompletePlan(ctx context.Context, id int64, plan string, title, priority *string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE issues
		 SET ai_plan_status = 'completed', ai_plan = $2, ai_plan_error = NULL,
		     title = COALESCE($3, title), priority = COALESCE($4, priority),
		     updated_at = NOW()
		 WHERE id = $1`,
		id, plan, title, priority)
	if err != nil {
		return fmt.Errorf("complete plan for issue %d: %w", id, err)
	}
	return nil
}

// FailPlan marks plan generation failed with the given error message.
func (r *IssueRepository) FailPlan(ctx context.Context, id int64, message string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE issues
		 SET ai_plan_status = 'failed', ai_plan_error = $2, updated_at = NOW()
		 WHERE id = $1`,
		id, message)
	if err != nil {
		return fmt.Errorf("fail plan for issue %d: %w", id, err)
	}
	return nil
}

// List returns issues newest first, capped at limit.
func (r *IssueRepository) List(ctx context.Context, limit int) ([]domain.Issue, error) {
	issues := []domain.Issue{}
	err := r.db.SelectContext(ctx, &issues,
		`SELECT `+issueColumns+` FROM issues ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list issues: %w", err)
	}
	return issues, nil
}
