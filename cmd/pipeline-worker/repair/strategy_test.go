package repair

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyzr/mend/common/capability"
	"github.com/lyzr/mend/common/failure"
	"github.com/lyzr/mend/common/logger"
	"github.com/lyzr/mend/common/models"
)

func testAttemptContext(t *testing.T, budget int) *attemptContext {
	t.Helper()
	return &attemptContext{
		workspace: t.TempDir(),
		budget:    budget,
		log:       logger.New("error", "json"),
	}
}

func writeWorkspaceFile(t *testing.T, workspace, rel, content string) {
	t.Helper()
	path := filepath.Join(workspace, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestApplyBudgeted_SkipsOversizedWholeNeverTruncates(t *testing.T) {
	e := &Engine{}
	ac := testAttemptContext(t, 3)
	writeWorkspaceFile(t, ac.workspace, "small.go", "old line\n")

	big := strings.Repeat("line\n", 10)
	cs := &capability.ChangeSet{Changes: []capability.Change{
		{File: "huge.go", Content: big},                      // 11 lines, over budget
		{File: "small.go", Old: "old line", New: "new line"}, // 1 line, fits
	}}

	changed, used := e.applyBudgeted(ac, cs)
	require.True(t, changed)
	assert.Equal(t, 1, used)

	// The oversized change must not exist even partially
	_, err := os.Stat(filepath.Join(ac.workspace, "huge.go"))
	assert.True(t, os.IsNotExist(err))

	data, err := os.ReadFile(filepath.Join(ac.workspace, "small.go"))
	require.NoError(t, err)
	assert.Equal(t, "new line\n", string(data))
}

func TestApplyBudgeted_UsedCountsAgainstLaterChanges(t *testing.T) {
	e := &Engine{}
	ac := testAttemptContext(t, 4)

	cs := &capability.ChangeSet{Changes: []capability.Change{
		{File: "a.go", Content: "one\ntwo\nthree"}, // 3 lines
		{File: "b.go", Content: "one\ntwo"},        // 2 lines, only 1 left
	}}

	changed, used := e.applyBudgeted(ac, cs)
	require.True(t, changed)
	assert.Equal(t, 3, used)

	_, err := os.Stat(filepath.Join(ac.workspace, "b.go"))
	assert.True(t, os.IsNotExist(err))
}

func TestApplyBudgeted_NothingFits(t *testing.T) {
	e := &Engine{}
	ac := testAttemptContext(t, 1)

	cs := &capability.ChangeSet{Changes: []capability.Change{
		{File: "a.go", Content: "one\ntwo"},
	}}

	changed, used := e.applyBudgeted(ac, cs)
	assert.False(t, changed)
	assert.Equal(t, 0, used)
}

func TestApplyChange_RejectsPathEscape(t *testing.T) {
	workspace := t.TempDir()
	err := applyChange(workspace, &capability.Change{File: "../outside.go", Content: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "escapes workspace")

	err = applyChange(workspace, &capability.Change{File: "/etc/passwd", Content: "x"})
	require.Error(t, err)
}

func TestApplyChange_ReplacementMustBeUnique(t *testing.T) {
	workspace := t.TempDir()
	writeWorkspaceFile(t, workspace, "dup.go", "token\ntoken\n")

	err := applyChange(workspace, &capability.Change{File: "dup.go", Old: "token", New: "other"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not unique")

	// Unchanged on failure
	data, err := os.ReadFile(filepath.Join(workspace, "dup.go"))
	require.NoError(t, err)
	assert.Equal(t, "token\ntoken\n", string(data))
}

func TestDeriveStrategy_ActionTable(t *testing.T) {
	cases := []struct {
		suggestionType models.SuggestionType
		actions        []string
	}{
		{models.SuggestLintFix, []string{"format", "lint"}},
		{models.SuggestTestFix, []string{"fix_tests", "update_assertions"}},
		{models.SuggestTypeFix, []string{"fix_types", "update_signatures"}},
		{models.SuggestImportFix, []string{"add_imports", "fix_namespace"}},
		{models.SuggestSyntaxFix, []string{"fix_syntax"}},
		{models.SuggestMinimalFix, []string{"analyze", "minimal_fix"}},
	}
	for _, tc := range cases {
		bundle := &models.FailureBundle{
			Suggestions: []models.Suggestion{{Type: tc.suggestionType, Priority: models.PriorityMedium}},
		}
		strategy := deriveStrategy(bundle)
		require.NotNil(t, strategy, "%s", tc.suggestionType)
		assert.Equal(t, tc.suggestionType, strategy.Type)
		assert.Equal(t, tc.actions, strategy.Actions, "%s", tc.suggestionType)
	}
}

func TestDeriveStrategy_MissingClassError(t *testing.T) {
	bundle := &models.FailureBundle{
		Error: models.BundleError{Kind: "exception", Message: "Class 'OrderService' not found"},
	}
	bundle.Suggestions = failure.Classify(bundle.Error, "")

	strategy := deriveStrategy(bundle)
	require.NotNil(t, strategy)
	assert.Equal(t, models.SuggestImportFix, strategy.Type)
	assert.Equal(t, models.PriorityHigh, strategy.Priority)
	assert.Contains(t, strategy.Actions, "add_imports")
	assert.Contains(t, strategy.Actions, "fix_namespace")
	assert.Equal(t, []string{"add_imports", "minimal_fix"}, strategy.fixKinds())
}

func TestDeriveStrategy_NilWithoutSuggestions(t *testing.T) {
	assert.Nil(t, deriveStrategy(&models.FailureBundle{}))
}

func TestDeriveStrategy_UnknownClassFallsBackToMinimal(t *testing.T) {
	bundle := &models.FailureBundle{
		Suggestions: []models.Suggestion{{Type: models.SuggestionType("exotic"), Priority: models.PriorityLow}},
	}
	strategy := deriveStrategy(bundle)
	require.NotNil(t, strategy)
	assert.Equal(t, []string{"analyze", "minimal_fix"}, strategy.Actions)
	assert.Equal(t, []string{"minimal_fix"}, strategy.fixKinds())
}

func TestDeriveStrategy_TargetFilesComeFromBundle(t *testing.T) {
	bundle := &models.FailureBundle{
		CommandLogs: []models.CommandLog{{Output: "src/a.go:3: undefined symbol"}},
		Suggestions: []models.Suggestion{{Type: models.SuggestTypeFix, Priority: models.PriorityHigh}},
	}
	strategy := deriveStrategy(bundle)
	require.NotNil(t, strategy)
	assert.Equal(t, []string{"src/a.go"}, strategy.TargetFiles)
}

func TestFixKinds_ClassSpecificBeforeMinimal(t *testing.T) {
	assert.Equal(t, []string{"test_fix", "minimal_fix"}, (&repairStrategy{Type: models.SuggestTestFix}).fixKinds())
	assert.Equal(t, []string{"fix_types", "minimal_fix"}, (&repairStrategy{Type: models.SuggestTypeFix}).fixKinds())
	assert.Equal(t, []string{"fix_syntax", "minimal_fix"}, (&repairStrategy{Type: models.SuggestSyntaxFix}).fixKinds())
	assert.Equal(t, []string{"minimal_fix"}, (&repairStrategy{Type: models.SuggestLintFix}).fixKinds())
	assert.Equal(t, []string{"minimal_fix"}, (&repairStrategy{Type: models.SuggestMinimalFix}).fixKinds())
}

func TestExtractCandidateFiles_PriorityAndDedup(t *testing.T) {
	bundle := &models.FailureBundle{
		CommandLogs: []models.CommandLog{
			{Output: "src/a.go:10: broken\nsrc/b.go:2: also broken"},
		},
		Error: models.BundleError{
			Trace:   "at src/c.go:44\nat src/a.go:10",
			Message: "failure in src/d.go",
		},
		RecentFiles: []string{"src/e.go", "src/b.go"},
		CodeContext: []models.ContextChunk{
			{Path: "src/f.go"},
		},
	}

	files := extractCandidateFiles(bundle)
	// Command output first, then trace, then message, then the last
	// patch's files, de-duplicated and capped at five
	assert.Equal(t, []string{"src/a.go", "src/b.go", "src/c.go", "src/d.go", "src/e.go"}, files)
}

func TestExtractCandidateFiles_RecentPatchBeatsRetrievalContext(t *testing.T) {
	bundle := &models.FailureBundle{
		Error:       models.BundleError{Message: "tests failed with no file reference"},
		RecentFiles: []string{"internal/billing/invoice.go"},
		CodeContext: []models.ContextChunk{{Path: "internal/billing/tax.go"}},
	}

	files := extractCandidateFiles(bundle)
	assert.Equal(t, []string{"internal/billing/invoice.go", "internal/billing/tax.go"}, files)
}

func TestExtractCandidateFiles_EmptyBundle(t *testing.T) {
	files := extractCandidateFiles(&models.FailureBundle{})
	assert.Empty(t, files)
}

func TestFailureOutput_IncludesCommandLogs(t *testing.T) {
	bundle := &models.FailureBundle{
		Error: models.BundleError{Class: "*errors.errorString", Message: "lint failed"},
		CommandLogs: []models.CommandLog{
			{Command: "golangci-lint run", ExitCode: 1, Output: "a.go:1: bad"},
		},
	}

	out := failureOutput(bundle)
	assert.Contains(t, out, "*errors.errorString: lint failed")
	assert.Contains(t, out, "$ golangci-lint run (exit 1)")
	assert.Contains(t, out, "a.go:1: bad")
}
