package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/garyagent/dashboard/internal/domain"
)

// WorkUnitStore defines the work unit data access interface consumed by the
// Dispatcher.
type WorkUnitStore interface {
	Create(ctx context.Context, issueID int64, priority int) (*domain.WorkUnit, error)
	FindByID(ctx context.Context, id int64) (*domain.WorkUnit, error)
	ClaimNext(ctx context.Context) (*domain.WorkUnit, error)
	Complete(ctx context.Context, id int64, status domain.WorkUnitStatus, result *string) (*domain.WorkUnit, error)
	ListByIssue(ctx context.Context, issueID int64) ([]domain.WorkUnit, error)
	Stats(ctx context.Context) (*domain.WorkUnitStats, error)
}

// IssueStore defines the issue data access interface consumed by the
// Dispatcher.
type IssueStore interface {
	FindByID(ctx context.Context, id int64) (*domain.Issue, error)
}

// CompletionNotifier delivers a best-effort notification when a unit reaches
// a terminal state.
type CompletionNotifier interface {
	NotifyCompletion(ctx context.Context, unit *domain.WorkUnit, issue *domain.Issue) error
}

// Dispatcher owns the work queue: enqueueing units for issues, handing the
// next unit to a claiming worker, and recording results. The claim itself is
// made atomic at the storage layer, so the Dispatcher needs no in-process
// locking even with many worker processes polling concurrently.
type Dispatcher struct {
	units    WorkUnitStore
	issues   IssueStore
	notifier CompletionNotifier
}

// NewDispatcher creates a new Dispatcher. notifier may be nil.
func NewDispatcher(units WorkUnitStore, issues IssueStore, notifier CompletionNotifier) *Dispatcher {
	return &Dispatcher{units: units, issues: issues, notifier: notifier}
}

// Enqueue registers a new pending work unit for the issue. The unit's queue
// priority is derived from the issue's priority tier (high=2, medium=1,
// low=0). Returns domain.ErrNotFound when the issue does not exist.
func (d *Dispatcher) Enqueue(ctx context.Context, issueID int64) (*domain.WorkUnit, error) {
	issue, err := d.issues.FindByID(ctx, issueID)
	if err != nil {
		return nil, fmt.Errorf("enqueue for issue %d: %w", issueID, err)
	}

	unit, err := d.units.Create(ctx, issue.ID, issue.Priority.QueuePriority())
	if err != nil {
		return nil, err
	}

	slog.Info("work unit enqueued",
		"unit_id", unit.ID,
		"issue_id", issue.ID,
		"priority", unit.Priority,
	)
	return unit, nil
}

// ClaimNext hands the next claimable unit to the caller, already transitioned
// to in_progress. Returns (nil, nil) when the queue has no pending units;
// absence of work is not an error.
func (d *Dispatcher) ClaimNext(ctx context.Context) (*domain.WorkUnit, error) {
	unit, err := d.units.ClaimNext(ctx)
	if err != nil {
		return nil, err
	}
	if unit == nil {
		return nil, nil
	}

	slog.Info("work unit claimed", "unit_id", unit.ID, "issue_id", unit.IssueID)
	return unit, nil
}

// UpdateStatus records a worker's terminal result for a unit. Only completed
// and failed are accepted. The state transition is durable before the
// completion notification fires; a notification failure is logged and
// swallowed, never surfaced to the caller.
func (d *Dispatcher) UpdateStatus(ctx context.Context, unitID int64, status domain.WorkUnitStatus, result *string) (*domain.WorkUnit, error) {
	if !status.Terminal() {
		return nil, fmt.Errorf("%w: status must be completed or failed, got %q",
			domain.ErrInvalidInput, status)
	}

	unit, err := d.units.Complete(ctx, unitID, status, result)
	if err != nil {
		return nil, err
	}

	slog.Info("work unit finished",
		"unit_id", unit.ID,
		"issue_id", unit.IssueID,
		"status", unit.Status,
	)

	if d.notifier != nil {
		issue, err := d.issues.FindByID(ctx, unit.IssueID)
		if err != nil {
			slog.Error("load issue for completion notification",
				"unit_id", unit.ID, "issue_id", unit.IssueID, "error", err)
			return unit, nil
		}
		if err := d.notifier.NotifyCompletion(ctx, unit, issue); err != nil {
			slog.Error("completion notification failed",
				"unit_id", unit.ID, "error", err)
		}
	}

	return unit, nil
}

// Get returns a single unit by ID.
func (d *Dispatcher) Get(ctx context.Context, unitID int64) (*domain.WorkUnit, error) {
	return d.units.FindByID(ctx, unitID)
}

// History returns the issue's work units, newest first.
func (d *Dispatcher) History(ctx context.Context, issueID int64) ([]domain.WorkUnit, error) {
	if _, err := d.issues.FindByID(ctx, issueID); err != nil {
		return nil, fmt.Errorf("history for issue %d: %w", issueID, err)
	}
	return d.units.ListByIssue(ctx, issueID)
}

// Stats returns per-status counts over the queue.
func (d *Dispatcher) Stats(ctx context.Context) (*domain.WorkUnitStats, error) {
	return d.units.Stats(ctx)
}
