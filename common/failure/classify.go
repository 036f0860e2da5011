package failure

import (
	"regexp"
	"strings"

	"github.com/lyzr/mend/common/models"
)

// classification rules, checked in order; every matching category adds a
// ranked suggestion. When nothing matches, a generic minimal_fix is added
// so the repair engine always has a strategy to derive.
var (
	lintPattern   = regexp.MustCompile(`(?i)(lint|style violation|formatting|format violation|code style|pep8|gofmt)`)
	typePattern   = regexp.MustCompile(`(?i)(type mismatch|wrong return type|incompatible type|type error|cannot use .* as .* value)`)
	importPattern = regexp.MustCompile(`(?i)(class '?[\w\\.]+'? not found|module not found|no module named|undefined: |cannot find (package|module|symbol)|unresolved import)`)
	testPattern   = regexp.MustCompile(`(?i)(test(s)? failed|assertion failed|FAIL:|--- FAIL|expected .* got)`)
	syntaxPattern = regexp.MustCompile(`(?i)(syntax error|parse error|unexpected token|unexpected end of (file|input)|compilation error)`)
)

// Classify derives the ranked suggestion list for a captured failure.
// kind distinguishes check failures (lint/test exit codes) from thrown
// errors so test-command failures classify as test_fix even when the
// output text matches nothing.
func Classify(err models.BundleError, checkType string) []models.Suggestion {
	text := err.Message
	if err.Trace != "" {
		text = text + "\n" + err.Trace
	}

	var suggestions []models.Suggestion

	if syntaxPattern.MatchString(text) {
		suggestions = append(suggestions, models.Suggestion{
			Type:     models.SuggestSyntaxFix,
			Priority: models.PriorityCritical,
			Action:   "fix the syntax/compile error before anything else",
		})
	}
	if typePattern.MatchString(text) {
		suggestions = append(suggestions, models.Suggestion{
			Type:     models.SuggestTypeFix,
			Priority: models.PriorityHigh,
			Action:   "correct the mismatched types or signatures",
		})
	}
	if importPattern.MatchString(text) {
		suggestions = append(suggestions, models.Suggestion{
			Type:     models.SuggestImportFix,
			Priority: models.PriorityHigh,
			Action:   "add the missing import or fix the symbol reference",
		})
	}
	if lintPattern.MatchString(text) {
		suggestions = append(suggestions, models.Suggestion{
			Type:     models.SuggestLintFix,
			Priority: models.PriorityMedium,
			Action:   "run the configured formatter and lint auto-fix",
		})
	}
	if checkType == string(models.CheckTest) || testPattern.MatchString(text) {
		suggestions = append(suggestions, models.Suggestion{
			Type:     models.SuggestTestFix,
			Priority: models.PriorityMedium,
			Action:   "repair the failing tests or the code under test",
		})
	}

	if len(suggestions) == 0 {
		suggestions = append(suggestions, models.Suggestion{
			Type:     models.SuggestMinimalFix,
			Priority: models.PriorityMedium,
			Action:   "analyze the failure and apply the smallest corrective change",
		})
	}

	return suggestions
}

// ExtractFiles pulls file-path-looking tokens out of failure text.
// Isolated here so the matching rules can be tested and swapped without
// touching repair control flow.
var filePattern = regexp.MustCompile(`(?m)([\w./-]+\.(?:go|py|rb|php|js|ts|java|rs|c|cc|cpp|h|sql|yaml|yml|json))(?::\d+)?`)

// ExtractFiles returns de-duplicated candidate paths found in the text
func ExtractFiles(text string) []string {
	var files []string
	seen := make(map[string]bool)
	for _, match := range filePattern.FindAllStringSubmatch(text, -1) {
		path := strings.TrimPrefix(match[1], "./")
		if !seen[path] {
			seen[path] = true
			files = append(files, path)
		}
	}
	return files
}
