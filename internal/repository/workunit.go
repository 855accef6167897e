package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/garyagent/dashboard/internal/domain"
)

const workUnitColumns = `id, issue_id, priority, status, result, created_at, started_at, completed_at`

// WorkUnitRepository handles work unit data access operations.
type WorkUnitRepository struct {
	db *sqlx.DB
}

// NewWorkUnitRepository creates a new WorkUnitRepository.
func NewWorkUnitRepository(db *sqlx.DB) *WorkUnitRepository {
	return &WorkUnitRepository{db: db}
}

// Create inserts a new pending unit and returns it.
func (r *WorkUnitRepository) Create(ctx context.Context, issueID int64, priority int) (*domain.WorkUnit, error) {
	var unit domain.WorkUnit
	err := r.db.QueryRowxContext(ctx,
		`INSERT INTO work_units (issue_id, priority, status)
		 VALUES ($1, $2, 'pending')
		 RETURNING `+workUnitColumns,
		issueID, priority,
	).StructScan(&unit)
	if err != nil {
		return nil, fmt.Errorf("create work unit for issue %d: %w", issueID, err)
	}
	return &unit, nil
}

// FindByID retrieves a unit by its ID.
func (r *WorkUnitRepository) FindByID(ctx context.Context, id int64) (*domain.WorkUnit, error) {
	var unit domain.WorkUnit
	err := r.db.GetContext(ctx, &unit,
		`SELECT `+workUnitColumns+` FROM work_units WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("find work unit %d: %w", id, err)
	}
	return &unit, nil
}

// ClaimNext atomically selects the best pending unit (priority descending,
// oldest first) and moves it to in_progress. The inner select uses FOR UPDATE
// SKIP LOCKED so concurrent claimants never block each other or receive the
// same row; each racer takes a different pending unit. Returns (nil, nil)
// when no pending unit exists.
func (r *WorkUnitRepository) ClaimNext(ctx context.Context) (*domain.WorkUnit, error) {
	var unit domain.WorkUnit
	err := r.db.QueryRowxContext(ctx,
		`UPDATE work_units
		 SET status = 'in_progress', started_at = NOW()
		 WHERE id = (
		     SELECT id FROM work_units
		     WHERE status = 'pending'
		     ORDER BY priority DESC, created_at ASC
		     LIMIT 1
		     FOR UPDATE SKIP LOCKED
		 )
		 RETURNING `+workUnitColumns,
	).StructScan(&unit)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("claim next work unit: %w", err)
	}
	return &unit, nil
}

// Complete moves an in_progress unit to the given terminal status, stamping
// completed_at and storing the result. The status guard in the WHERE clause
// rejects double completion; domain.ErrConflict is returned when the unit
// exists but is not in_progress.
func (r *WorkUnitRepository) Complete(ctx context.Context, id int64, status domain.WorkUnitStatus, result *string) (*domain.WorkUnit, error) {
	var unit domain.WorkUnit
	err := r.db.QueryRowxContext(ctx,
		`UPDATE work_units
		 SET status = $2, completed_at = NOW(), result = COALESCE($3, result)
		 WHERE id = $1 AND status = 'in_progress'
		 RETURNING `+workUnitColumns,
		id, status, result,
	).StructScan(&unit)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			if _, findErr := r.FindByID(ctx, id); findErr != nil {
				return nil, findErr
			}
			return nil, fmt.Errorf("%w: work unit %d is not in progress", domain.ErrConflict, id)
		}
		return nil, fmt.Errorf("complete work unit %d: %w", id, err)
	}
	return &unit, nil
}

// ListByIssue returns all units for an issue, newest first.
func (r *WorkUnitRepository) ListByIssue(ctx context.Context, issueID int64) ([]domain.WorkUnit, error) {
	units := []domain.WorkUnit{}
	err := r.db.SelectContext(ctx, &units,
		`SELECT `+workUnitColumns+` FROM work_units
		 WHERE issue_id = $1
		 ORDER BY created_at DESC`, issueID)
	if err != nil {
		return nil, fmt.Errorf("list work units for issue %d: %w", issueID, err)
	}
	return units, nil
}

// Stats returns per-status counts across the queue.
func (r *WorkUnitRepository) Stats(ctx context.Context) (*domain.WorkUnitStats, error) {
	rows, err := r.db.QueryxContext(ctx,
		`SELECT status, COUNT(*) FROM work_units GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("work unit stats: %w", err)
	}
	defer rows.Close()

	var stats domain.WorkUnitStats
	for rows.Next() {
		var status domain.WorkUnitStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan work unit stats: %w", err)
		}
		switch status {
		case domain.WorkUnitPending:
			stats.Pending = count
		case domain.WorkUnitInProgress:
			stats.InProgress = count
		case domain.WorkUnitCompleted:
			stats.Completed = count
		case domain.WorkUnitFailed:
			stats.Failed = count
		}
		stats.Total += count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("work unit stats: %w", err)
	}
	return &stats, nil
}
