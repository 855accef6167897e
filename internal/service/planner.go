package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/garyagent/dashboard/internal/domain"
)

// maxPlanTreePaths caps the number of file paths included as repository
// context in a plan prompt.
const maxPlanTreePaths = 300

// IssuePlanStore is the issue data access interface consumed by the Planner.
type IssuePlanStore interface {
	ClaimPlan(ctx context.Context, id int64) (*domain.Issue, error)
	CompletePlan(ctx context.Context, id int64, plan string, title, priority *string) error
	FailPlan(ctx context.Context, id int64, message string) error
}

// planMeta is the structured header the generator returns ahead of the
// markdown plan. Title and priority refine the issue itself.
type planMeta struct {
	Title    string `json:"title"`
	Priority string `json:"priority"`
}

// Planner generates a work plan for an issue through the text generator,
// optionally grounded in the linked repository's file tree. It follows the
// same shape as the Analyzer: the foreground call claims the generating
// status (the storage-level mutex) and returns immediately, while a detached
// task with its own context produces the plan and owns the terminal write.
type Planner struct {
	issues IssuePlanStore
	host   RepoHost
	gen    TextGenerator

	taskTimeout time.Duration
	spawn       func(fn func())
}

// NewPlanner creates a new Planner.
func NewPlanner(issues IssuePlanStore, host RepoHost, gen TextGenerator) *Planner {
	return &Planner{
		issues:      issues,
		host:        host,
		gen:         gen,
		taskTimeout: defaultTaskTimeout,
		spawn:       func(fn func()) { go fn() },
	}
}

// GeneratePlan claims plan generation for the issue and schedules the actual
// work on a detached task. Returns domain.ErrConflict while a plan is
// already generating and domain.ErrNotFound for an unknown issue.
func (p *Planner) GeneratePlan(ctx context.Context, issueID int64) error {
	issue, err := p.issues.ClaimPlan(ctx, issueID)
	if err != nil {
		return err
	}

	p.spawn(func() { p.runPlan(issue) })
	return nil
}

func (p *Planner) runPlan(issue *domain.Issue) {
	ctx, cancel := context.WithTimeout(context.Background(), p.taskTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			slog.Error("plan generation panicked", "issue_id", issue.ID, "panic", r)
			p.failPlan(ctx, issue.ID, fmt.Sprintf("panic: %v", r))
		}
	}()

	slog.Info("plan generation started", "issue_id", issue.ID)

	var paths []string
	if issue.RepoFullName != nil && *issue.RepoFullName != "" {
		var err error
		paths, err = p.host.Tree(ctx, *issue.RepoFullName, "")
		if err != nil {
			// The plan is still useful without repository context.
			slog.Warn("skipping repo context for plan",
				"issue_id", issue.ID, "full_name", *issue.RepoFullName, "error", err)
			paths = nil
		}
	}

	raw, err := p.gen.Generate(ctx, buildPlanPrompt(issue, paths))
	if err != nil {
		slog.Error("plan generation failed", "issue_id", issue.ID, "error", err)
		p.failPlan(ctx, issue.ID, err.Error())
		return
	}

	meta, plan := parsePlanResponse(raw)

	var title, priority *string
	if meta != nil {
		if t := truncate(strings.TrimSpace(meta.Title), maxSuggestionTitleLen); t != "" {
			title = &t
		}
		switch domain.IssuePriority(meta.Priority) {
		case domain.IssuePriorityLow, domain.IssuePriorityMedium, domain.IssuePriorityHigh:
			pr := meta.Priority
			priority = &pr
		}
	}

	if err := p.issues.CompletePlan(ctx, issue.ID, plan, title, priority); err != nil {
		slog.Error("store generated plan", "issue_id", issue.ID, "error", err)
		return
	}
	slog.Info("plan generation completed", "issue_id", issue.ID)
}

func (p *Planner) failPlan(ctx context.Context, issueID int64, message string) {
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
	}
	if err := p.issues.FailPlan(ctx, issueID, truncate(message, maxPhaseErrorLen)); err != nil {
		slog.Error("record plan failure", "issue_id", issueID, "error", err)
	}
}

func buildPlanPrompt(issue *domain.Issue, paths []string) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Draft a concrete work plan for the issue %q.\n", issue.Title)
	if issue.Description != nil && *issue.Description != "" {
		fmt.Fprintf(&b, "\nIssue description:\n%s\n", *issue.Description)
	}

	if len(paths) > 0 {
		fmt.Fprintf(&b, "\nRepository: %s\n\nFile tree:\n", *issue.RepoFullName)
		for i, path := range paths {
			if i >= maxPlanTreePaths {
				fmt.Fprintf(&b, "... and %d more files\n", len(paths)-i)
				break
			}
			b.WriteString(path)
			b.WriteByte('\n')
		}
	}

	b.WriteString(`
Respond with a fenced block tagged json containing one object:
  "title": a refined issue title, at most 80 characters
  "priority": one of "low", "medium", "high"
Then, after the block, write a markdown work plan with:
1. Numbered implementation steps naming the files or modules to touch.
2. The expected behavior once the work is done.
Keep the plan specific and actionable.`)

	return b.String()
}

// parsePlanResponse splits the generator's output into the structured
// metadata and the markdown plan that follows the json block. A missing
// block yields no metadata and the whole response as the plan; a malformed
// block is ignored the same way, keeping whatever plan text follows it.
func parsePlanResponse(raw string) (*planMeta, string) {
	m := jsonBlockRe.FindStringSubmatchIndex(raw)
	if m == nil {
		return nil, strings.TrimSpace(raw)
	}

	plan := strings.TrimSpace(raw[m[1]:])
	if plan == "" {
		plan = strings.TrimSpace(raw[:m[0]])
	}

	var meta planMeta
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw[m[2]:m[3]])), &meta); err != nil {
		slog.Warn("unparseable plan metadata", "error", err)
		return nil, plan
	}
	return &meta, plan
}
