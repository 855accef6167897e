package domain

import "time"

// User represents a dashboard user authenticated via GitHub OAuth.
type User struct {
	ID          int64     `json:"id" db:"id"`
	GitHubID    int64     `json:"github_id" db:"github_id"`
	Login       string    `json:"login" db:"login"`
	DisplayName *string   `json:"display_name,omitempty" db:"display_name"`
	AvatarURL   *string   `json:"avatar_url,omitempty" db:"avatar_url"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}
