package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/garyagent/dashboard/internal/domain"
)

// IssueCatalog defines the issue data access interface consumed by
// IssueService.
type IssueCatalog interface {
	FindByID(ctx context.Context, id int64) (*domain.Issue, error)
	Create(ctx context.Context, issue domain.Issue) (*domain.Issue, error)
	List(ctx context.Context, limit int) ([]domain.Issue, error)
}

// IssueInput is the payload for creating an issue.
type IssueInput struct {
	Title        string  `json:"title" validate:"required,max=255"`
	Description  *string `json:"description"`
	Priority     string  `json:"priority" validate:"omitempty,oneof=low medium high"`
	RepoFullName *string `json:"repo_full_name"`
}

// IssueService handles issue reads and manual creation. Issues fanned out
// from deep analysis bypass this path and are written with the suggestion
// replacement transaction.
type IssueService struct {
	issues IssueCatalog
}

// NewIssueService creates a new IssueService.
func NewIssueService(issues IssueCatalog) *IssueService {
	return &IssueService{issues: issues}
}

// Create validates the input and stores a new issue.
func (s *IssueService) Create(ctx context.Context, input IssueInput) (*domain.Issue, error) {
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return nil, fmt.Errorf("%w: title is required", domain.ErrInvalidInput)
	}

	priority := domain.IssuePriority(input.Priority)
	if input.Priority == "" {
		priority = domain.IssuePriorityMedium
	}

	return s.issues.Create(ctx, domain.Issue{
		Title:        title,
		Description:  input.Description,
		Status:       domain.IssueStatusTodo,
		Priority:     priority,
		RepoFullName: input.RepoFullName,
	})
}

// Get retrieves an issue by ID.
func (s *IssueService) Get(ctx context.Context, id int64) (*domain.Issue, error) {
	return s.issues.FindByID(ctx, id)
}

// List returns the most recent issues.
func (s *IssueService) List(ctx context.Context, limit int) ([]domain.Issue, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.issues.List(ctx, limit)
}
