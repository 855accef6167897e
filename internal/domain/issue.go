package domain

import "time"

// IssueStatus represents the lifecycle state of an issue.
type IssueStatus string

const (
	IssueStatusTodo       IssueStatus = "todo"
	IssueStatusInProgress IssueStatus = "in_progress"
	IssueStatusDone       IssueStatus = "done"
)

// IssuePriority represents the urgency tier of an issue.
type IssuePriority string

const (
	IssuePriorityLow    IssuePriority = "low"
	IssuePriorityMedium IssuePriority = "medium"
	IssuePriorityHigh   IssuePriority = "high"
)

// QueuePriority maps the issue's tier onto the integer priority used for
// dequeue ordering: high=2, medium=1, low=0.
func (p IssuePriority) QueuePriority() int {
	switch p {
	case IssuePriorityHigh:
		return 2
	case IssuePriorityLow:
		return 0
	default:
		return 1
	}
}

// PlanStatus is the lifecycle state of an issue's AI-generated work plan.
// The empty string means no plan was ever requested.
type PlanStatus string

const (
	PlanNotStarted PlanStatus = ""
	PlanGenerating PlanStatus = "generating"
	PlanCompleted  PlanStatus = "completed"
	PlanFailed     PlanStatus = "failed"
)

// Issue represents a tracked task, optionally tied to a connected repository.
type Issue struct {
	ID           int64         `json:"id" db:"id"`
	Title        string        `json:"title" db:"title"`
	Description  *string       `json:"description,omitempty" db:"description"`
	Status       IssueStatus   `json:"status" db:"status"`
	Priority     IssuePriority `json:"priority" db:"priority"`
	RepoFullName *string       `json:"repo_full_name,omitempty" db:"repo_full_name"`
	AIPlanStatus PlanStatus    `json:"ai_plan_status" db:"ai_plan_status"`
	AIPlan       *string       `json:"ai_plan,omitempty" db:"ai_plan"`
	AIPlanError  *string       `json:"ai_plan_error,omitempty" db:"ai_plan_error"`
	CreatedAt    time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at" db:"updated_at"`
}
