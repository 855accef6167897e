package domain

import "time"

// WorkUnitStatus represents the state of a queued work unit.
type WorkUnitStatus string

const (
	WorkUnitPending    WorkUnitStatus = "pending"
	WorkUnitInProgress WorkUnitStatus = "in_progress"
	WorkUnitCompleted  WorkUnitStatus = "completed"
	WorkUnitFailed     WorkUnitStatus = "failed"
)

// Terminal reports whether the status is an end state.
func (s WorkUnitStatus) Terminal() bool {
	return s == WorkUnitCompleted || s == WorkUnitFailed
}

// WorkUnit is a queued piece of deferred work bound to one issue. Units are
// append-only: they move forward through the lifecycle and are never deleted,
// so each issue keeps its full work history.
type WorkUnit struct {
	ID          int64          `json:"id" db:"id"`
	IssueID     int64          `json:"issue_id" db:"issue_id"`
	Priority    int            `json:"priority" db:"priority"`
	Status      WorkUnitStatus `json:"status" db:"status"`
	Result      *string        `json:"result,omitempty" db:"result"`
	CreatedAt   time.Time      `json:"created_at" db:"created_at"`
	StartedAt   *time.Time     `json:"started_at,omitempty" db:"started_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty" db:"completed_at"`
}

// WorkUnitStats holds per-status counts over the whole queue.
type WorkUnitStats struct {
	Pending    int `json:"pending"`
	InProgress int `json:"in_progress"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
	Total      int `json:"total"`
}
