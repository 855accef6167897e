package domain

import "time"

// SuggestionCategory classifies an improvement suggestion.
type SuggestionCategory string

const (
	SuggestionCodeQuality   SuggestionCategory = "code_quality"
	SuggestionSecurity      SuggestionCategory = "security"
	SuggestionPerformance   SuggestionCategory = "performance"
	SuggestionArchitecture  SuggestionCategory = "architecture"
	SuggestionTesting       SuggestionCategory = "testing"
	SuggestionDocumentation SuggestionCategory = "documentation"
)

// ValidSuggestionCategory reports whether c is a known category.
func ValidSuggestionCategory(c string) bool {
	switch SuggestionCategory(c) {
	case SuggestionCodeQuality, SuggestionSecurity, SuggestionPerformance,
		SuggestionArchitecture, SuggestionTesting, SuggestionDocumentation:
		return true
	}
	return false
}

// SuggestionSeverity grades a suggestion's impact.
type SuggestionSeverity string

const (
	SeverityLow      SuggestionSeverity = "low"
	SeverityMedium   SuggestionSeverity = "medium"
	SeverityHigh     SuggestionSeverity = "high"
	SeverityCritical SuggestionSeverity = "critical"
)

// ValidSuggestionSeverity reports whether s is a known severity.
func ValidSuggestionSeverity(s string) bool {
	switch SuggestionSeverity(s) {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// IssuePriority maps a severity onto the priority tier used when a suggestion
// is fanned out into a new issue.
func (s SuggestionSeverity) IssuePriority() IssuePriority {
	switch s {
	case SeverityCritical, SeverityHigh:
		return IssuePriorityHigh
	case SeverityLow:
		return IssuePriorityLow
	default:
		return IssuePriorityMedium
	}
}

// Suggestion is one improvement derived by the deep analysis phase. The set
// of suggestions for a repo is replaced wholesale on every deep run.
type Suggestion struct {
	ID            int64              `json:"id" db:"id"`
	RepoID        int64              `json:"repo_id" db:"repo_id"`
	Category      SuggestionCategory `json:"category" db:"category"`
	Severity      SuggestionSeverity `json:"severity" db:"severity"`
	Title         string             `json:"title" db:"title"`
	Description   string             `json:"description" db:"description"`
	AffectedFiles *string            `json:"affected_files,omitempty" db:"affected_files"`
	SuggestedFix  *string            `json:"suggested_fix,omitempty" db:"suggested_fix"`
	IssueID       *int64             `json:"issue_id,omitempty" db:"issue_id"`
	CreatedAt     time.Time          `json:"created_at" db:"created_at"`
}
