package failure

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyzr/mend/common/models"
)

func TestClassify_KnownCategories(t *testing.T) {
	cases := []struct {
		name     string
		message  string
		check    string
		wantType models.SuggestionType
		wantPrio models.SuggestionPriority
	}{
		{
			name:     "missing class resolves to import fix",
			message:  "Class 'App\\Services\\Mailer' not found",
			wantType: models.SuggestImportFix,
			wantPrio: models.PriorityHigh,
		},
		{
			name:     "undefined symbol resolves to import fix",
			message:  "undefined: repository.NewStore",
			wantType: models.SuggestImportFix,
			wantPrio: models.PriorityHigh,
		},
		{
			name:     "lint output resolves to lint fix",
			message:  "gofmt: file not formatted; 3 style violations",
			check:    "lint",
			wantType: models.SuggestLintFix,
			wantPrio: models.PriorityMedium,
		},
		{
			name:     "type mismatch resolves to type fix",
			message:  "cannot use x (int) as string value in assignment",
			wantType: models.SuggestTypeFix,
			wantPrio: models.PriorityHigh,
		},
		{
			name:     "test output resolves to test fix",
			message:  "--- FAIL: TestRetryCeiling (0.01s)",
			check:    "test",
			wantType: models.SuggestTestFix,
			wantPrio: models.PriorityMedium,
		},
		{
			name:     "syntax error is critical",
			message:  "syntax error: unexpected token '}'",
			wantType: models.SuggestSyntaxFix,
			wantPrio: models.PriorityCritical,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			suggestions := Classify(models.BundleError{Kind: "check", Message: tc.message}, tc.check)
			require.NotEmpty(t, suggestions)
			assert.Equal(t, tc.wantType, suggestions[0].Type)
			assert.Equal(t, tc.wantPrio, suggestions[0].Priority)
		})
	}
}

func TestClassify_UnknownFailureFallsBackToMinimalFix(t *testing.T) {
	suggestions := Classify(models.BundleError{Kind: "exception", Message: "something odd happened"}, "")
	require.Len(t, suggestions, 1)
	assert.Equal(t, models.SuggestMinimalFix, suggestions[0].Type)
	assert.Equal(t, models.PriorityMedium, suggestions[0].Priority)
}

func TestClassify_TestCheckAlwaysGetsTestFix(t *testing.T) {
	// Even when the output text matches nothing, a failed test command
	// classifies as a test fix
	suggestions := Classify(models.BundleError{Kind: "check", Message: "exit status 1"}, "test")
	require.Len(t, suggestions, 1)
	assert.Equal(t, models.SuggestTestFix, suggestions[0].Type)
}

func TestClassify_MultipleCategoriesAccumulate(t *testing.T) {
	err := models.BundleError{
		Kind:    "check",
		Message: "syntax error near line 14",
		Trace:   "also: module not found 'vendor/lib'",
	}
	suggestions := Classify(err, "")
	require.Len(t, suggestions, 2)
	assert.Equal(t, models.SuggestSyntaxFix, suggestions[0].Type)
	assert.Equal(t, models.SuggestImportFix, suggestions[1].Type)
}

func TestTopSuggestion_HighestPriorityFirstSeenWins(t *testing.T) {
	bundle := &models.FailureBundle{
		Suggestions: []models.Suggestion{
			{Type: models.SuggestLintFix, Priority: models.PriorityMedium},
			{Type: models.SuggestTypeFix, Priority: models.PriorityHigh},
			{Type: models.SuggestImportFix, Priority: models.PriorityHigh},
		},
	}
	top := bundle.TopSuggestion()
	require.NotNil(t, top)
	assert.Equal(t, models.SuggestTypeFix, top.Type, "first-seen wins among equal priority")
}

func TestExtractFiles_DeduplicatesAndStripsPrefixes(t *testing.T) {
	text := `src/auth/token.go:42: undefined: signKey
./src/auth/token.go:57: more of the same
lib/util.py failed to parse
not-a-file at all`

	files := ExtractFiles(text)
	assert.Equal(t, []string{"src/auth/token.go", "lib/util.py"}, files)
}

func TestExtractFiles_EmptyOnNoMatches(t *testing.T) {
	assert.Empty(t, ExtractFiles("plain text without paths"))
}
