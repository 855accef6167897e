package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garyagent/dashboard/internal/domain"
)

type fakePlanStore struct {
	issues map[int64]*domain.Issue
}

func newFakePlanStore(issues ...domain.Issue) *fakePlanStore {
	s := &fakePlanStore{issues: map[int64]*domain.Issue{}}
	for _, issue := range issues {
		stored := issue
		s.issues[stored.ID] = &stored
	}
	return s
}

func (s *fakePlanStore) ClaimPlan(_ context.Context, id int64) (*domain.Issue, error) {
	issue, ok := s.issues[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if issue.AIPlanStatus == domain.PlanGenerating {
		return nil, domain.ErrConflict
	}
	issue.AIPlanStatus = domain.PlanGenerating
	issue.AIPlanError = nil
	copied := *issue
	return &copied, nil
}

func (s *fakePlanStore) CompletePlan(_ context.Context, id int64, plan string, title, priority *string) error {
	issue := s.issues[id]
	issue.AIPlanStatus = domain.PlanCompleted
	issue.AIPlan = &plan
	issue.AIPlanError = nil
	if title != nil {
		issue.Title = *title
	}
	if priority != nil {
		issue.Priority = domain.IssuePriority(*priority)
	}
	return nil
}

func (s *fakePlanStore) FailPlan(_ context.Context, id int64, message string) error {
	issue := s.issues[id]
	issue.AIPlanStatus = domain.PlanFailed
	issue.AIPlanError = &message
	return nil
}

func testPlanner(store *fakePlanStore, host RepoHost, gen TextGenerator) *Planner {
	p := NewPlanner(store, host, gen)
	p.spawn = func(fn func()) { fn() }
	return p
}

const planResponse = "```json\n" +
	`{"title":"Harden the session store","priority":"high"}` + "\n```\n" +
	"### Implementation steps\n1. Move session writes into store.go.\n\n" +
	"### Expected behavior\nSessions survive a restart.\n"

func TestGeneratePlanRefinesIssue(t *testing.T) {
	repoName := "acme/demo"
	store := newFakePlanStore(domain.Issue{
		ID:           1,
		Title:        "sessions broken",
		Priority:     domain.IssuePriorityMedium,
		RepoFullName: &repoName,
	})
	host := &fakeHost{tree: []string{"main.go", "internal/store.go"}}
	gen := &fakeGen{responses: []string{planResponse}}
	p := testPlanner(store, host, gen)

	require.NoError(t, p.GeneratePlan(context.Background(), 1))

	issue := store.issues[1]
	assert.Equal(t, domain.PlanCompleted, issue.AIPlanStatus)
	assert.Equal(t, "Harden the session store", issue.Title)
	assert.Equal(t, domain.IssuePriorityHigh, issue.Priority)

	plan := strField(t, issue.AIPlan)
	assert.Contains(t, plan, "Implementation steps")
	assert.Contains(t, plan, "Expected behavior")
	assert.NotContains(t, plan, "```json")

	// The linked repository's tree grounds the prompt.
	require.Len(t, gen.prompts, 1)
	assert.Contains(t, gen.prompts[0], "internal/store.go")
}

func TestGeneratePlanWithoutRepo(t *testing.T) {
	store := newFakePlanStore(domain.Issue{ID: 1, Title: "standalone chore"})
	gen := &fakeGen{responses: []string{planResponse}}
	p := testPlanner(store, &fakeHost{}, gen)

	require.NoError(t, p.GeneratePlan(context.Background(), 1))

	assert.Equal(t, domain.PlanCompleted, store.issues[1].AIPlanStatus)
	require.Len(t, gen.prompts, 1)
	assert.NotContains(t, gen.prompts[0], "File tree")
}

func TestGeneratePlanWhileGeneratingConflicts(t *testing.T) {
	store := newFakePlanStore(domain.Issue{ID: 1, Title: "busy", AIPlanStatus: domain.PlanGenerating})
	p := testPlanner(store, &fakeHost{}, &fakeGen{})

	err := p.GeneratePlan(context.Background(), 1)
	assert.ErrorIs(t, err, domain.ErrConflict)
}

func TestGeneratePlanUnknownIssue(t *testing.T) {
	p := testPlanner(newFakePlanStore(), &fakeHost{}, &fakeGen{})

	err := p.GeneratePlan(context.Background(), 42)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestGeneratePlanFailureRecorded(t *testing.T) {
	store := newFakePlanStore(domain.Issue{ID: 1, Title: "doomed"})
	gen := &fakeGen{err: errors.New(strings.Repeat("오류", 2000))}
	p := testPlanner(store, &fakeHost{}, gen)

	require.NoError(t, p.GeneratePlan(context.Background(), 1))

	issue := store.issues[1]
	assert.Equal(t, domain.PlanFailed, issue.AIPlanStatus)
	msg := strField(t, issue.AIPlanError)
	assert.LessOrEqual(t, len(msg), maxPhaseErrorLen)
	assert.True(t, utf8.ValidString(msg), "stored error must stay valid UTF-8")
}

func TestGeneratePlanIgnoresInvalidMetadata(t *testing.T) {
	store := newFakePlanStore(domain.Issue{ID: 1, Title: "keep me", Priority: domain.IssuePriorityLow})
	gen := &fakeGen{responses: []string{"```json\nnot json\n```\nThe plan body.\n"}}
	p := testPlanner(store, &fakeHost{}, gen)

	require.NoError(t, p.GeneratePlan(context.Background(), 1))

	issue := store.issues[1]
	assert.Equal(t, domain.PlanCompleted, issue.AIPlanStatus)
	assert.Equal(t, "keep me", issue.Title)
	assert.Equal(t, domain.IssuePriorityLow, issue.Priority)
	assert.Equal(t, "The plan body.", strField(t, issue.AIPlan))
}

func TestParsePlanResponse(t *testing.T) {
	meta, plan := parsePlanResponse(planResponse)

	require.NotNil(t, meta)
	assert.Equal(t, "Harden the session store", meta.Title)
	assert.Equal(t, "high", meta.Priority)
	assert.True(t, strings.HasPrefix(plan, "### Implementation steps"))
}

func TestParsePlanResponseWithoutBlock(t *testing.T) {
	meta, plan := parsePlanResponse("Plain prose plan.")
	assert.Nil(t, meta)
	assert.Equal(t, "Plain prose plan.", plan)
}
