package domain

import "time"

// PhaseStatus represents the state of one analysis phase on a repository.
// The empty string means the phase has never been started.
type PhaseStatus string

const (
	PhaseNotStarted PhaseStatus = ""
	PhasePending    PhaseStatus = "pending"
	PhaseAnalyzing  PhaseStatus = "analyzing"
	PhaseCompleted  PhaseStatus = "completed"
	PhaseFailed     PhaseStatus = "failed"
)

// AnalysisPhase identifies one stage of the analysis pipeline.
type AnalysisPhase string

const (
	PhaseBaseline AnalysisPhase = "baseline"
	PhaseDeep     AnalysisPhase = "deep"
)

// DeepOutcome is the full output of a successful deep analysis run: the
// markdown report plus the derived suggestions, each paired with the issue
// to fan out. Issues[i] corresponds to Suggestions[i].
type DeepOutcome struct {
	Report      string
	Suggestions []Suggestion
	Issues      []Issue
}

// Repo is a GitHub repository connected to the dashboard. It carries the
// state of the two-phase analysis pipeline: baseline (phase 1) and deep
// (phase 2). Phase fields are written only by the analyzer.
type Repo struct {
	ID            int64   `json:"id" db:"id"`
	FullName      string  `json:"full_name" db:"full_name"`
	Name          string  `json:"name" db:"name"`
	Description   *string `json:"description,omitempty" db:"description"`
	Language      *string `json:"language,omitempty" db:"language"`
	DefaultBranch string  `json:"default_branch" db:"default_branch"`

	AnalysisStatus PhaseStatus `json:"analysis_status" db:"analysis_status"`
	AnalysisResult *string     `json:"analysis_result,omitempty" db:"analysis_result"`
	AnalysisError  *string     `json:"analysis_error,omitempty" db:"analysis_error"`
	AnalyzedAt     *time.Time  `json:"analyzed_at,omitempty" db:"analyzed_at"`

	DeepStatus PhaseStatus `json:"deep_analysis_status" db:"deep_analysis_status"`
	DeepResult *string     `json:"deep_analysis_result,omitempty" db:"deep_analysis_result"`
	DeepError  *string     `json:"deep_analysis_error,omitempty" db:"deep_analysis_error"`
	DeepAt     *time.Time  `json:"deep_analyzed_at,omitempty" db:"deep_analyzed_at"`

	ConnectedAt time.Time `json:"connected_at" db:"connected_at"`
}
