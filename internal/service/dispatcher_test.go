package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garyagent/dashboard/internal/domain"
)

type fakeUnitStore struct {
	units  map[int64]*domain.WorkUnit
	nextID int64

	createdPriority int
	claimQueue      []*domain.WorkUnit
	completeErr     error
}

func newFakeUnitStore() *fakeUnitStore {
	return &fakeUnitStore{units: map[int64]*domain.WorkUnit{}, nextID: 1}
}

func (s *fakeUnitStore) Create(_ context.Context, issueID int64, priority int) (*domain.WorkUnit, error) {
	s.createdPriority = priority
	unit := &domain.WorkUnit{
		ID:        s.nextID,
		IssueID:   issueID,
		Priority:  priority,
		Status:    domain.WorkUnitPending,
		CreatedAt: time.Now(),
	}
	s.units[unit.ID] = unit
	s.nextID++
	return unit, nil
}

func (s *fakeUnitStore) FindByID(_ context.Context, id int64) (*domain.WorkUnit, error) {
	unit, ok := s.units[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return unit, nil
}

func (s *fakeUnitStore) ClaimNext(_ context.Context) (*domain.WorkUnit, error) {
	if len(s.claimQueue) == 0 {
		return nil, nil
	}
	unit := s.claimQueue[0]
	s.claimQueue = s.claimQueue[1:]
	unit.Status = domain.WorkUnitInProgress
	return unit, nil
}

func (s *fakeUnitStore) Complete(_ context.Context, id int64, status domain.WorkUnitStatus, result *string) (*domain.WorkUnit, error) {
	if s.completeErr != nil {
		return nil, s.completeErr
	}
	unit, ok := s.units[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if unit.Status != domain.WorkUnitInProgress {
		return nil, domain.ErrConflict
	}
	now := time.Now()
	unit.Status = status
	unit.Result = result
	unit.CompletedAt = &now
	return unit, nil
}

func (s *fakeUnitStore) ListByIssue(_ context.Context, issueID int64) ([]domain.WorkUnit, error) {
	var out []domain.WorkUnit
	for _, u := range s.units {
		if u.IssueID == issueID {
			out = append(out, *u)
		}
	}
	return out, nil
}

func (s *fakeUnitStore) Stats(_ context.Context) (*domain.WorkUnitStats, error) {
	stats := &domain.WorkUnitStats{}
	for _, u := range s.units {
		switch u.Status {
		case domain.WorkUnitPending:
			stats.Pending++
		case domain.WorkUnitInProgress:
			stats.InProgress++
		case domain.WorkUnitCompleted:
			stats.Completed++
		case domain.WorkUnitFailed:
			stats.Failed++
		}
		stats.Total++
	}
	return stats, nil
}

type fakeIssueStore struct {
	issues map[int64]*domain.Issue
}

func (s *fakeIssueStore) FindByID(_ context.Context, id int64) (*domain.Issue, error) {
	issue, ok := s.issues[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return issue, nil
}

type fakeNotifier struct {
	calls int
	err   error

	lastUnit  *domain.WorkUnit
	lastIssue *domain.Issue
}

func (n *fakeNotifier) NotifyCompletion(_ context.Context, unit *domain.WorkUnit, issue *domain.Issue) error {
	n.calls++
	n.lastUnit = unit
	n.lastIssue = issue
	return n.err
}

func TestEnqueueMapsIssuePriority(t *testing.T) {
	tests := []struct {
		priority domain.IssuePriority
		want     int
	}{
		{domain.IssuePriorityHigh, 2},
		{domain.IssuePriorityMedium, 1},
		{domain.IssuePriorityLow, 0},
	}

	for _, tt := range tests {
		t.Run(string(tt.priority), func(t *testing.T) {
			units := newFakeUnitStore()
			issues := &fakeIssueStore{issues: map[int64]*domain.Issue{
				7: {ID: 7, Title: "fix flaky sync", Priority: tt.priority},
			}}
			d := NewDispatcher(units, issues, nil)

			unit, err := d.Enqueue(context.Background(), 7)
			require.NoError(t, err)
			assert.Equal(t, tt.want, unit.Priority)
			assert.Equal(t, domain.WorkUnitPending, unit.Status)
		})
	}
}

func TestEnqueueUnknownIssue(t *testing.T) {
	d := NewDispatcher(newFakeUnitStore(), &fakeIssueStore{issues: map[int64]*domain.Issue{}}, nil)

	_, err := d.Enqueue(context.Background(), 99)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestClaimNextEmptyQueue(t *testing.T) {
	d := NewDispatcher(newFakeUnitStore(), &fakeIssueStore{}, nil)

	unit, err := d.ClaimNext(context.Background())
	require.NoError(t, err)
	assert.Nil(t, unit)
}

func TestUpdateStatusRejectsNonTerminal(t *testing.T) {
	d := NewDispatcher(newFakeUnitStore(), &fakeIssueStore{}, nil)

	_, err := d.UpdateStatus(context.Background(), 1, domain.WorkUnitInProgress, nil)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = d.UpdateStatus(context.Background(), 1, domain.WorkUnitPending, nil)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestUpdateStatusNotifies(t *testing.T) {
	units := newFakeUnitStore()
	issues := &fakeIssueStore{issues: map[int64]*domain.Issue{
		3: {ID: 3, Title: "add retry budget", Priority: domain.IssuePriorityHigh},
	}}
	notifier := &fakeNotifier{}
	d := NewDispatcher(units, issues, notifier)

	created, err := d.Enqueue(context.Background(), 3)
	require.NoError(t, err)
	units.units[created.ID].Status = domain.WorkUnitInProgress

	result := "done"
	unit, err := d.UpdateStatus(context.Background(), created.ID, domain.WorkUnitCompleted, &result)
	require.NoError(t, err)

	assert.Equal(t, domain.WorkUnitCompleted, unit.Status)
	require.NotNil(t, unit.Result)
	assert.Equal(t, "done", *unit.Result)
	assert.NotNil(t, unit.CompletedAt)

	assert.Equal(t, 1, notifier.calls)
	assert.Equal(t, unit.ID, notifier.lastUnit.ID)
	assert.Equal(t, int64(3), notifier.lastIssue.ID)
}

func TestUpdateStatusSwallowsNotifyFailure(t *testing.T) {
	units := newFakeUnitStore()
	issues := &fakeIssueStore{issues: map[int64]*domain.Issue{
		3: {ID: 3, Title: "add retry budget", Priority: domain.IssuePriorityLow},
	}}
	notifier := &fakeNotifier{err: errors.New("chat api down")}
	d := NewDispatcher(units, issues, notifier)

	created, err := d.Enqueue(context.Background(), 3)
	require.NoError(t, err)
	units.units[created.ID].Status = domain.WorkUnitInProgress

	unit, err := d.UpdateStatus(context.Background(), created.ID, domain.WorkUnitFailed, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.WorkUnitFailed, unit.Status)
	assert.Equal(t, 1, notifier.calls)
}

func TestUpdateStatusSecondTerminalConflicts(t *testing.T) {
	units := newFakeUnitStore()
	issues := &fakeIssueStore{issues: map[int64]*domain.Issue{
		3: {ID: 3, Title: "add retry budget", Priority: domain.IssuePriorityMedium},
	}}
	d := NewDispatcher(units, issues, nil)

	created, err := d.Enqueue(context.Background(), 3)
	require.NoError(t, err)
	units.units[created.ID].Status = domain.WorkUnitInProgress

	_, err = d.UpdateStatus(context.Background(), created.ID, domain.WorkUnitCompleted, nil)
	require.NoError(t, err)

	_, err = d.UpdateStatus(context.Background(), created.ID, domain.WorkUnitFailed, nil)
	assert.ErrorIs(t, err, domain.ErrConflict)
}

func TestHistoryUnknownIssue(t *testing.T) {
	d := NewDispatcher(newFakeUnitStore(), &fakeIssueStore{issues: map[int64]*domain.Issue{}}, nil)

	_, err := d.History(context.Background(), 42)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
