package service

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garyagent/dashboard/internal/domain"
)

func TestParseDeepResponse(t *testing.T) {
	raw := "# Review\n\nThe handler leaks goroutines.\n\n```json\n" +
		`[
  {"category":"performance","severity":"high","title":"Fix goroutine leak",
   "description":"Workers are never reaped.","affected_files":["pool.go"],
   "suggested_fix":"Close the done channel."},
  {"category":"nonsense","severity":"absurd","title":"Odd entry","description":"d"},
  {"category":"testing","severity":"low","title":"","description":"no title"}
]` + "\n```\nTrailing notes."

	suggestions, report := parseDeepResponse(raw)

	require.Len(t, suggestions, 2)
	assert.Equal(t, domain.SuggestionPerformance, suggestions[0].Category)
	assert.Equal(t, domain.SeverityHigh, suggestions[0].Severity)
	assert.Equal(t, "Fix goroutine leak", suggestions[0].Title)
	assert.Equal(t, `["pool.go"]`, *suggestions[0].AffectedFiles)
	assert.Equal(t, "Close the done channel.", *suggestions[0].SuggestedFix)

	// Unknown category and severity fall back to defaults.
	assert.Equal(t, domain.SuggestionCodeQuality, suggestions[1].Category)
	assert.Equal(t, domain.SeverityMedium, suggestions[1].Severity)

	assert.Contains(t, report, "The handler leaks goroutines.")
	assert.Contains(t, report, "Trailing notes.")
	assert.NotContains(t, report, "```json")
}

func TestParseDeepResponseCapsTitleOnRuneBoundary(t *testing.T) {
	longTitle := strings.Repeat("보안", 100)
	raw := "Report.\n```json\n" +
		`[{"category":"security","severity":"high","title":"` + longTitle +
		`","description":"d"}]` + "\n```"

	suggestions, _ := parseDeepResponse(raw)

	require.Len(t, suggestions, 1)
	title := suggestions[0].Title
	assert.LessOrEqual(t, len(title), maxSuggestionTitleLen)
	assert.True(t, utf8.ValidString(title), "capped title must stay valid UTF-8")
}

func TestParseDeepResponseWithoutBlock(t *testing.T) {
	suggestions, report := parseDeepResponse("Just prose, no structured output.")
	assert.Nil(t, suggestions)
	assert.Equal(t, "Just prose, no structured output.", report)
}

func TestParseDeepResponseMalformedBlock(t *testing.T) {
	raw := "Report.\n```json\nnot valid json\n```"
	suggestions, report := parseDeepResponse(raw)
	assert.Nil(t, suggestions)
	assert.Contains(t, report, "not valid json")
}

func TestPickKeyFiles(t *testing.T) {
	paths := []string{
		"README.md",
		"go.mod",
		"docs/README.md",
		"cmd/server/main.go",
		"internal/deeply/nested/pkg/main.go",
		"assets/logo.png",
	}

	picked := pickKeyFiles(paths)

	assert.Contains(t, picked, "README.md")
	assert.Contains(t, picked, "go.mod")
	assert.Contains(t, picked, "cmd/server/main.go")
	// Entry points buried deep in the tree are not interesting.
	assert.NotContains(t, picked, "internal/deeply/nested/pkg/main.go")
	assert.NotContains(t, picked, "assets/logo.png")
}

func TestSelectDeepFilesSkipsVendoredTrees(t *testing.T) {
	lang := "Go"
	paths := []string{
		"main.go",
		"internal/store.go",
		"vendor/github.com/x/y/z.go",
		"node_modules/left-pad/index.js",
		"web/app.ts",
		"README.md",
	}

	selected := selectDeepFiles(paths, &lang)

	assert.Contains(t, selected, "main.go")
	assert.Contains(t, selected, "internal/store.go")
	assert.Contains(t, selected, "web/app.ts")
	assert.NotContains(t, selected, "vendor/github.com/x/y/z.go")
	assert.NotContains(t, selected, "node_modules/left-pad/index.js")
	assert.NotContains(t, selected, "README.md")

	// Files in the repo's primary language rank first.
	assert.Equal(t, "main.go", selected[0])
}

func TestSelectDeepFilesCapped(t *testing.T) {
	var paths []string
	for i := 0; i < 100; i++ {
		paths = append(paths, "pkg/file"+string(rune('a'+i%26))+".go")
	}

	selected := selectDeepFiles(paths, nil)
	assert.Len(t, selected, maxDeepFiles)
}
