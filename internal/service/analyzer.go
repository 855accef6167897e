package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/garyagent/dashboard/internal/domain"
)

const (
	// Error messages persisted on a failed phase are capped to this length.
	maxPhaseErrorLen = 2000

	defaultTaskTimeout = 10 * time.Minute
)

// RepoStore defines the connected-repo data access interface consumed by the
// Analyzer.
type RepoStore interface {
	FindByID(ctx context.Context, id int64) (*domain.Repo, error)
	List(ctx context.Context) ([]domain.Repo, error)
	Create(ctx context.Context, repo domain.Repo) (*domain.Repo, error)
	ClaimPhase(ctx context.Context, id int64, phase domain.AnalysisPhase) (*domain.Repo, error)
	CompletePhase(ctx context.Context, id int64, phase domain.AnalysisPhase, result string) error
	FailPhase(ctx context.Context, id int64, phase domain.AnalysisPhase, message string) error
	CompleteDeep(ctx context.Context, id int64, outcome domain.DeepOutcome) error
	ListSuggestions(ctx context.Context, repoID int64) ([]domain.Suggestion, error)
}

// RepoHost reads repository structure and file contents from the hosting
// service.
type RepoHost interface {
	Tree(ctx context.Context, fullName, branch string) ([]string, error)
	FileContent(ctx context.Context, fullName, path string) (string, error)
}

// TextGenerator produces analysis text from a prompt.
type TextGenerator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// step is one stage of the analysis pipeline. next names the phase chained
// automatically after a successful run; empty means the pipeline ends here.
type step struct {
	run  func(ctx context.Context, repo *domain.Repo) error
	next domain.AnalysisPhase
}

// Analyzer drives the two-phase repository analysis pipeline. Foreground
// callers claim a phase (the analyzing status doubles as the cross-process
// mutual-exclusion guard) and return immediately; the actual work runs on a
// detached task that owns its own context and is the sole writer of the
// phase's terminal state.
type Analyzer struct {
	repos RepoStore
	host  RepoHost
	gen   TextGenerator

	taskTimeout time.Duration
	// spawn schedules a detached task. Tests replace it with a synchronous
	// call.
	spawn func(fn func())

	steps map[domain.AnalysisPhase]step
}

// NewAnalyzer creates a new Analyzer.
func NewAnalyzer(repos RepoStore, host RepoHost, gen TextGenerator) *Analyzer {
	a := &Analyzer{
		repos:       repos,
		host:        host,
		gen:         gen,
		taskTimeout: defaultTaskTimeout,
		spawn:       func(fn func()) { go fn() },
	}
	a.steps = map[domain.AnalysisPhase]step{
		domain.PhaseBaseline: {run: a.runBaseline, next: domain.PhaseDeep},
		domain.PhaseDeep:     {run: a.runDeep},
	}
	return a
}

// Connect registers a repository and kicks off the full pipeline: baseline
// analysis chaining into deep analysis on success. A repo already being
// analyzed is left alone.
func (a *Analyzer) Connect(ctx context.Context, repo domain.Repo) (*domain.Repo, error) {
	created, err := a.repos.Create(ctx, repo)
	if err != nil {
		return nil, err
	}

	if err := a.trigger(ctx, created.ID, domain.PhaseBaseline, true); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			slog.Info("analysis already running for connected repo", "repo_id", created.ID)
			return created, nil
		}
		return nil, err
	}
	return created, nil
}

// RetryBaseline re-runs the baseline phase by itself. Rejected with
// domain.ErrConflict while the phase is analyzing. Unlike Connect, a
// successful retry does not chain into the deep phase: the caller asked for
// one phase and gets one phase.
func (a *Analyzer) RetryBaseline(ctx context.Context, repoID int64) error {
	return a.trigger(ctx, repoID, domain.PhaseBaseline, false)
}

// RunDeep runs the deep phase on its own. The claim enforces both guards
// atomically: domain.ErrPreconditionFailed without a completed baseline,
// domain.ErrConflict while already analyzing.
func (a *Analyzer) RunDeep(ctx context.Context, repoID int64) error {
	return a.trigger(ctx, repoID, domain.PhaseDeep, false)
}

// ReanalyzeAll re-runs the baseline pipeline for every connected repo. One
// repo's failure never aborts the others: errors are logged and the loop
// continues.
func (a *Analyzer) ReanalyzeAll(ctx context.Context) {
	repos, err := a.repos.List(ctx)
	if err != nil {
		slog.Error("list repos for reanalysis", "error", err)
		return
	}

	for _, repo := range repos {
		if err := a.trigger(ctx, repo.ID, domain.PhaseBaseline, true); err != nil {
			slog.Warn("skipping repo during reanalysis",
				"repo_id", repo.ID, "full_name", repo.FullName, "error", err)
		}
	}
}

// Suggestions returns the repo's current deep analysis suggestions.
func (a *Analyzer) Suggestions(ctx context.Context, repoID int64) ([]domain.Suggestion, error) {
	if _, err := a.repos.FindByID(ctx, repoID); err != nil {
		return nil, err
	}
	return a.repos.ListSuggestions(ctx, repoID)
}

// Get returns a connected repo with its phase state.
func (a *Analyzer) Get(ctx context.Context, repoID int64) (*domain.Repo, error) {
	return a.repos.FindByID(ctx, repoID)
}

// List returns all connected repos.
func (a *Analyzer) List(ctx context.Context) ([]domain.Repo, error) {
	return a.repos.List(ctx)
}

// trigger claims the phase on behalf of the caller and schedules the actual
// run on a detached task. The claim is the only part that can fail
// synchronously; once it succeeds the caller sees the phase as analyzing and
// the detached task owns the terminal transition. chain controls whether a
// successful run continues into the step's configured next phase.
func (a *Analyzer) trigger(ctx context.Context, repoID int64, phase domain.AnalysisPhase, chain bool) error {
	repo, err := a.repos.ClaimPhase(ctx, repoID, phase)
	if err != nil {
		return err
	}

	a.spawn(func() { a.runPhase(repo, phase, chain) })
	return nil
}

// runPhase executes one claimed phase to its terminal state, then chains the
// next pipeline step if one is configured. It runs on a detached task with a
// fresh context: the triggering request's scope may be long gone by the time
// the work finishes. Panics and errors are caught here; nothing escapes a
// background task unobserved.
func (a *Analyzer) runPhase(repo *domain.Repo, phase domain.AnalysisPhase, chain bool) {
	ctx, cancel := context.WithTimeout(context.Background(), a.taskTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			slog.Error("analysis task panicked",
				"repo_id", repo.ID, "phase", phase, "panic", r)
			a.failPhase(ctx, repo.ID, phase, fmt.Sprintf("panic: %v", r))
		}
	}()

	st, ok := a.steps[phase]
	if !ok {
		slog.Error("unknown analysis phase", "repo_id", repo.ID, "phase", phase)
		return
	}

	slog.Info("analysis phase started",
		"repo_id", repo.ID, "full_name", repo.FullName, "phase", phase)

	if err := st.run(ctx, repo); err != nil {
		slog.Error("analysis phase failed",
			"repo_id", repo.ID, "full_name", repo.FullName, "phase", phase, "error", err)
		a.failPhase(ctx, repo.ID, phase, err.Error())
		return
	}

	slog.Info("analysis phase completed",
		"repo_id", repo.ID, "full_name", repo.FullName, "phase", phase)

	if !chain || st.next == "" {
		return
	}

	// Chain the next phase within this task. The claim keeps the same
	// mutual-exclusion semantics as a foreground trigger.
	next, err := a.repos.ClaimPhase(ctx, repo.ID, st.next)
	if err != nil {
		slog.Warn("skipping chained phase",
			"repo_id", repo.ID, "phase", st.next, "error", err)
		return
	}
	a.runPhase(next, st.next, chain)
}

func (a *Analyzer) failPhase(ctx context.Context, repoID int64, phase domain.AnalysisPhase, message string) {
	if ctx.Err() != nil {
		// The task context may already be dead (timeout); the terminal
		// write still has to land.
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
	}
	if err := a.repos.FailPhase(ctx, repoID, phase, truncate(message, maxPhaseErrorLen)); err != nil {
		slog.Error("record phase failure",
			"repo_id", repoID, "phase", phase, "error", err)
	}
}

// runBaseline performs the phase 1 analysis: fetch the repo tree and key
// files, ask the generator for a project overview, and store it.
func (a *Analyzer) runBaseline(ctx context.Context, repo *domain.Repo) error {
	paths, err := a.host.Tree(ctx, repo.FullName, repo.DefaultBranch)
	if err != nil {
		return fmt.Errorf("fetch repo tree: %w", err)
	}

	files := a.fetchFiles(ctx, repo.FullName, pickKeyFiles(paths), maxContentBytes)

	prompt := buildBaselinePrompt(repo, paths, files)
	result, err := a.gen.Generate(ctx, prompt)
	if err != nil {
		return fmt.Errorf("baseline analysis call: %w", err)
	}

	return a.repos.CompletePhase(ctx, repo.ID, domain.PhaseBaseline, result)
}

// runDeep performs the phase 2 analysis: select core source files, ask the
// generator for a review with structured suggestions, and apply the outcome
// (report, suggestion replacement, issue fan-out) atomically.
func (a *Analyzer) runDeep(ctx context.Context, repo *domain.Repo) error {
	paths, err := a.host.Tree(ctx, repo.FullName, repo.DefaultBranch)
	if err != nil {
		return fmt.Errorf("fetch repo tree: %w", err)
	}

	selected := selectDeepFiles(paths, repo.Language)
	if len(selected) == 0 {
		return a.repos.CompleteDeep(ctx, repo.ID, domain.DeepOutcome{
			Report: "No source files found to analyze.",
		})
	}

	files := a.fetchFiles(ctx, repo.FullName, selected, maxDeepContentBytes)

	prompt := buildDeepPrompt(repo, files)
	raw, err := a.gen.Generate(ctx, prompt)
	if err != nil {
		return fmt.Errorf("deep analysis call: %w", err)
	}

	suggestions, report := parseDeepResponse(raw)

	outcome := domain.DeepOutcome{Report: report}
	for _, s := range suggestions {
		outcome.Suggestions = append(outcome.Suggestions, s)
		outcome.Issues = append(outcome.Issues, suggestionIssue(repo.FullName, s))
	}

	return a.repos.CompleteDeep(ctx, repo.ID, outcome)
}

// fetchFiles downloads the given paths in order until the byte budget is
// spent. Individual fetch failures are logged and skipped.
func (a *Analyzer) fetchFiles(ctx context.Context, fullName string, paths []string, budget int) []analysisFile {
	var files []analysisFile
	total := 0

	for _, path := range paths {
		if total >= budget {
			break
		}
		content, err := a.host.FileContent(ctx, fullName, path)
		if err != nil {
			slog.Warn("skipping unreadable file",
				"full_name", fullName, "path", path, "error", err)
			continue
		}
		if content == "" {
			continue
		}
		if total+len(content) > budget {
			continue
		}
		files = append(files, analysisFile{Path: path, Content: content})
		total += len(content)
	}
	return files
}
