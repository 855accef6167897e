package service

import (
	"encoding/json"
	"fmt"
	"path"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/garyagent/dashboard/internal/domain"
)

const (
	// Byte budgets for file contents included in a prompt.
	maxContentBytes     = 100_000
	maxDeepContentBytes = 300_000

	maxDeepFiles    = 30
	maxDeepFileSize = 8192

	maxSuggestionTitleLen = 255
)

// analysisFile is one repository file included in an analysis prompt.
type analysisFile struct {
	Path    string
	Content string
}

// keyFileNames are the project-level files the baseline analysis reads first.
var keyFileNames = []string{
	"README.md", "readme.md", "README.rst",
	"package.json", "pyproject.toml", "go.mod", "Cargo.toml",
	"requirements.txt", "setup.py", "pom.xml", "build.gradle",
	"Makefile", "docker-compose.yml", "Dockerfile",
}

// entryFilePatterns match common application entry points.
var entryFilePatterns = []string{
	"main.go", "main.py", "index.js", "index.ts", "app.py",
	"server.js", "server.ts", "main.ts", "main.js", "cli.py",
}

// pickKeyFiles selects the project files worth reading for the baseline
// overview: well-known metadata files plus apparent entry points.
func pickKeyFiles(paths []string) []string {
	var picked []string
	seen := make(map[string]bool)

	add := func(p string) {
		if !seen[p] {
			seen[p] = true
			picked = append(picked, p)
		}
	}

	for _, name := range keyFileNames {
		for _, p := range paths {
			if p == name {
				add(p)
			}
		}
	}
	for _, pattern := range entryFilePatterns {
		for _, p := range paths {
			if path.Base(p) == pattern && strings.Count(p, "/") <= 2 {
				add(p)
			}
		}
	}
	return picked
}

// skipDirSegments exclude vendored, generated and dependency trees from deep
// analysis.
var skipDirSegments = map[string]bool{
	"node_modules": true,
	"vendor":       true,
	"dist":         true,
	"build":        true,
	".git":         true,
	"__pycache__":  true,
	".venv":        true,
	"venv":         true,
	"target":       true,
	".next":        true,
	"coverage":     true,
}

// sourceExtensions are the file extensions considered source code for deep
// analysis, with a weight applied when ranking candidates.
var sourceExtensions = map[string]int{
	".go":    3,
	".py":    3,
	".ts":    3,
	".tsx":   3,
	".js":    2,
	".jsx":   2,
	".rs":    3,
	".java":  2,
	".rb":    2,
	".c":     2,
	".h":     1,
	".cpp":   2,
	".sql":   1,
	".proto": 2,
}

// selectDeepFiles ranks the repository's source files and returns the top
// candidates for the deep analysis prompt. Files matching the repo's primary
// language rank higher; shallow paths beat deeply nested ones.
func selectDeepFiles(paths []string, language *string) []string {
	langExt := ""
	if language != nil {
		langExt = extForLanguage(*language)
	}

	type candidate struct {
		path  string
		score int
	}
	var candidates []candidate

outer:
	for _, p := range paths {
		for _, seg := range strings.Split(p, "/") {
			if skipDirSegments[seg] {
				continue outer
			}
		}

		ext := strings.ToLower(path.Ext(p))
		weight, ok := sourceExtensions[ext]
		if !ok {
			continue
		}

		score := weight * 10
		if langExt != "" && ext == langExt {
			score += 20
		}
		if strings.HasSuffix(p, "_test.go") || strings.Contains(p, "test") {
			score -= 15
		}
		// Shallow files tend to be the interesting ones.
		score -= strings.Count(p, "/") * 3

		candidates = append(candidates, candidate{path: p, score: score})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].score > candidates[j].score
	})

	if len(candidates) > maxDeepFiles {
		candidates = candidates[:maxDeepFiles]
	}
	selected := make([]string, len(candidates))
	for i, c := range candidates {
		selected[i] = c.path
	}
	return selected
}

func extForLanguage(language string) string {
	switch strings.ToLower(language) {
	case "go":
		return ".go"
	case "python":
		return ".py"
	case "typescript":
		return ".ts"
	case "javascript":
		return ".js"
	case "rust":
		return ".rs"
	case "java":
		return ".java"
	case "ruby":
		return ".rb"
	case "c":
		return ".c"
	case "c++":
		return ".cpp"
	default:
		return ""
	}
}

func buildBaselinePrompt(repo *domain.Repo, paths []string, files []analysisFile) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Analyze the repository %q and produce a concise project overview.\n\n", repo.FullName)
	if repo.Description != nil && *repo.Description != "" {
		fmt.Fprintf(&b, "Repository description: %s\n", *repo.Description)
	}
	if repo.Language != nil && *repo.Language != "" {
		fmt.Fprintf(&b, "Primary language: %s\n", *repo.Language)
	}

	b.WriteString("\nFile tree:\n")
	for i, p := range paths {
		if i >= 200 {
			fmt.Fprintf(&b, "... and %d more files\n", len(paths)-i)
			break
		}
		b.WriteString(p)
		b.WriteByte('\n')
	}

	for _, f := range files {
		fmt.Fprintf(&b, "\n--- %s ---\n%s\n", f.Path, f.Content)
	}

	b.WriteString(`
Write a markdown report covering:
1. What the project does and who it is for.
2. Tech stack and notable dependencies.
3. Architecture: main components and how they interact.
4. How to build and run it.
Keep it factual and grounded in the files above.`)

	return b.String()
}

func buildDeepPrompt(repo *domain.Repo, files []analysisFile) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Perform a deep code review of the repository %q.\n", repo.FullName)
	if repo.AnalysisResult != nil && *repo.AnalysisResult != "" {
		fmt.Fprintf(&b, "\nProject overview from a prior analysis:\n%s\n", *repo.AnalysisResult)
	}

	for _, f := range files {
		content := f.Content
		if len(content) > maxDeepFileSize {
			content = content[:maxDeepFileSize] + "\n... (truncated)"
		}
		fmt.Fprintf(&b, "\n--- %s ---\n%s\n", f.Path, content)
	}

	b.WriteString(`
Write a markdown review of code quality, security, performance, architecture,
testing and documentation. Then append a fenced block tagged json containing
an array of concrete improvement suggestions, each an object with:
  "category": one of "code_quality", "security", "performance", "architecture", "testing", "documentation"
  "severity": one of "low", "medium", "high", "critical"
  "title": short imperative summary
  "description": what is wrong and why it matters
  "affected_files": array of file paths
  "suggested_fix": how to fix it
Include only suggestions grounded in the code shown above.`)

	return b.String()
}

// rawSuggestion is the JSON shape expected inside the deep response's fenced
// json block.
type rawSuggestion struct {
	Category      string   `json:"category"`
	Severity      string   `json:"severity"`
	Title         string   `json:"title"`
	Description   string   `json:"description"`
	AffectedFiles []string `json:"affected_files"`
	SuggestedFix  string   `json:"suggested_fix"`
}

var jsonBlockRe = regexp.MustCompile("(?s)```json\\s*(.*?)```")

// parseDeepResponse splits the generator's deep analysis output into the
// markdown report and the structured suggestions. Entries with an unknown
// category or severity fall back to code_quality/medium; entries without a
// title are dropped. A missing or malformed json block yields no suggestions
// and the whole response as the report.
func parseDeepResponse(raw string) ([]domain.Suggestion, string) {
	m := jsonBlockRe.FindStringSubmatchIndex(raw)
	if m == nil {
		return nil, strings.TrimSpace(raw)
	}

	report := strings.TrimSpace(raw[:m[0]] + raw[m[1]:])
	block := raw[m[2]:m[3]]

	var entries []rawSuggestion
	if err := json.Unmarshal([]byte(strings.TrimSpace(block)), &entries); err != nil {
		return nil, strings.TrimSpace(raw)
	}

	var suggestions []domain.Suggestion
	for _, e := range entries {
		title := strings.TrimSpace(e.Title)
		if title == "" {
			continue
		}
		title = truncate(title, maxSuggestionTitleLen)

		category := domain.SuggestionCategory(e.Category)
		if !domain.ValidSuggestionCategory(e.Category) {
			category = domain.SuggestionCodeQuality
		}
		severity := domain.SuggestionSeverity(e.Severity)
		if !domain.ValidSuggestionSeverity(e.Severity) {
			severity = domain.SeverityMedium
		}

		s := domain.Suggestion{
			Category:    category,
			Severity:    severity,
			Title:       title,
			Description: strings.TrimSpace(e.Description),
		}
		if len(e.AffectedFiles) > 0 {
			if encoded, err := json.Marshal(e.AffectedFiles); err == nil {
				files := string(encoded)
				s.AffectedFiles = &files
			}
		}
		if fix := strings.TrimSpace(e.SuggestedFix); fix != "" {
			s.SuggestedFix = &fix
		}
		suggestions = append(suggestions, s)
	}

	return suggestions, report
}

// truncate caps s at max bytes without splitting a multibyte rune, so the
// result is always valid UTF-8.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

// suggestionIssue builds the tracker issue fanned out for one suggestion.
func suggestionIssue(repoFullName string, s domain.Suggestion) domain.Issue {
	var desc strings.Builder
	fmt.Fprintf(&desc, "[%s/%s] %s", s.Category, s.Severity, s.Description)
	if s.AffectedFiles != nil {
		fmt.Fprintf(&desc, "\n\nAffected files: %s", *s.AffectedFiles)
	}
	if s.SuggestedFix != nil {
		fmt.Fprintf(&desc, "\n\nSuggested fix: %s", *s.SuggestedFix)
	}

	description := desc.String()
	return domain.Issue{
		Title:        s.Title,
		Description:  &description,
		Status:       domain.IssueStatusTodo,
		Priority:     s.Severity.IssuePriority(),
		RepoFullName: &repoFullName,
	}
}
