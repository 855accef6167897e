package service

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/garyagent/dashboard/internal/domain"
	"github.com/garyagent/dashboard/internal/httpx"
)

const githubAPIBase = "https://api.github.com"

// GitHub reads repository metadata, trees and file contents from the GitHub
// REST API. It implements RepoHost.
type GitHub struct {
	client *httpx.Client
	token  string
}

// NewGitHub creates a GitHub reader. token may be empty for public repos,
// subject to unauthenticated rate limits.
func NewGitHub(client *httpx.Client, token string) *GitHub {
	return &GitHub{client: client, token: token}
}

func (g *GitHub) headers() http.Header {
	h := http.Header{}
	h.Set("Accept", "application/vnd.github+json")
	if g.token != "" {
		h.Set("Authorization", "Bearer "+g.token)
	}
	return h
}

func (g *GitHub) get(ctx context.Context, path string, out any) error {
	resp, err := g.client.Do(ctx, http.MethodGet, githubAPIBase+path, httpx.Options{Headers: g.headers()})
	if err != nil {
		return err
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		resp.Body.Close()
		return fmt.Errorf("github: %s: %w", path, domain.ErrNotFound)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		body, _ := httpx.ReadBody(resp)
		return fmt.Errorf("github: %s: status %d: %s: %w", path, resp.StatusCode, body, domain.ErrForbidden)
	case resp.StatusCode != http.StatusOK:
		body, _ := httpx.ReadBody(resp)
		return fmt.Errorf("github: %s: unexpected status %d: %s", path, resp.StatusCode, body)
	}

	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("github: decode %s: %w", path, err)
	}
	return nil
}

// Metadata looks the repository up and returns it shaped as a connectable
// domain.Repo.
func (g *GitHub) Metadata(ctx context.Context, fullName string) (*domain.Repo, error) {
	var payload struct {
		Name          string  `json:"name"`
		FullName      string  `json:"full_name"`
		Description   *string `json:"description"`
		Language      *string `json:"language"`
		DefaultBranch string  `json:"default_branch"`
	}
	if err := g.get(ctx, "/repos/"+fullName, &payload); err != nil {
		return nil, err
	}

	branch := payload.DefaultBranch
	if branch == "" {
		branch = "main"
	}
	return &domain.Repo{
		FullName:      payload.FullName,
		Name:          payload.Name,
		Description:   payload.Description,
		Language:      payload.Language,
		DefaultBranch: branch,
	}, nil
}

// Tree returns the paths of all blobs in the repository at the given branch.
// A missing "main" branch falls back to "master" before giving up.
func (g *GitHub) Tree(ctx context.Context, fullName, branch string) ([]string, error) {
	if branch == "" {
		branch = "main"
	}

	paths, err := g.tree(ctx, fullName, branch)
	if err != nil && branch == "main" && errors.Is(err, domain.ErrNotFound) {
		return g.tree(ctx, fullName, "master")
	}
	return paths, err
}

func (g *GitHub) tree(ctx context.Context, fullName, branch string) ([]string, error) {
	var payload struct {
		Tree []struct {
			Path string `json:"path"`
			Type string `json:"type"`
		} `json:"tree"`
		Truncated bool `json:"truncated"`
	}
	path := fmt.Sprintf("/repos/%s/git/trees/%s?recursive=1", fullName, url.PathEscape(branch))
	if err := g.get(ctx, path, &payload); err != nil {
		return nil, err
	}

	var paths []string
	for _, entry := range payload.Tree {
		if entry.Type == "blob" {
			paths = append(paths, entry.Path)
		}
	}
	return paths, nil
}

// FileContent returns the decoded content of one file. Binary or oversized
// files GitHub refuses to inline come back empty rather than failing the run.
func (g *GitHub) FileContent(ctx context.Context, fullName, filePath string) (string, error) {
	var payload struct {
		Encoding string `json:"encoding"`
		Content  string `json:"content"`
	}
	if err := g.get(ctx, "/repos/"+fullName+"/contents/"+filePath, &payload); err != nil {
		return "", err
	}

	if payload.Encoding != "base64" {
		return "", nil
	}
	decoded, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(payload.Content, "\n", ""))
	if err != nil {
		return "", fmt.Errorf("github: decode %s content: %w", filePath, err)
	}
	return string(decoded), nil
}
