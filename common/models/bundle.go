package models

import (
	"time"

	"github.com/google/uuid"
)

// SuggestionType is the repair category a failure was classified into
type SuggestionType string

const (
	SuggestLintFix    SuggestionType = "lint_fix"
	SuggestTypeFix    SuggestionType = "type_fix"
	SuggestImportFix  SuggestionType = "import_fix"
	SuggestTestFix    SuggestionType = "test_fix"
	SuggestSyntaxFix  SuggestionType = "syntax_fix"
	SuggestMinimalFix SuggestionType = "minimal_fix"
)

// SuggestionPriority ranks suggestions: critical > high > medium > low
type SuggestionPriority string

const (
	PriorityCritical SuggestionPriority = "critical"
	PriorityHigh     SuggestionPriority = "high"
	PriorityMedium   SuggestionPriority = "medium"
	PriorityLow      SuggestionPriority = "low"
)

// PriorityRank maps priorities to a comparable ordering (higher wins)
func PriorityRank(p SuggestionPriority) int {
	switch p {
	case PriorityCritical:
		return 4
	case PriorityHigh:
		return 3
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 1
	}
	return 0
}

// Suggestion is one ranked repair recommendation inside a failure bundle
type Suggestion struct {
	Type     SuggestionType     `json:"type"`
	Priority SuggestionPriority `json:"priority"`
	Action   string             `json:"action"`
	Commands []string           `json:"commands,omitempty"`
}

// BundleError is the captured exception: kind distinguishes business
// validation failures from thrown errors for classification purposes.
type BundleError struct {
	Kind    string `json:"kind"` // "exception" | "validation" | "check"
	Class   string `json:"class"`
	Message string `json:"message"`
	Trace   string `json:"trace,omitempty"`
}

// CommandLog is one recent command execution kept for failure context
type CommandLog struct {
	Command  string `json:"command"`
	Type     string `json:"type"` // lint | typecheck | test | build | shell
	Output   string `json:"output"`
	ExitCode int    `json:"exit_code"`
}

// ContextChunk is a nearby-code retrieval hit recorded alongside a failure
type ContextChunk struct {
	Path    string  `json:"path"`
	Score   float64 `json:"score"`
	Content string  `json:"content,omitempty"`
}

// FailureBundle is an immutable structured snapshot of one failure,
// serialized as a single JSON document in the artifact store. Repair
// attempts reference bundles by path and never rewrite them.
type FailureBundle struct {
	TicketID    uuid.UUID `json:"ticket_id"`
	SourceStage string    `json:"source_stage"`
	CapturedAt  time.Time `json:"captured_at"`

	Error BundleError `json:"error"`

	CommandLogs []CommandLog   `json:"command_logs,omitempty"`
	CodeContext []ContextChunk `json:"code_context,omitempty"`
	RecentDiffs []string       `json:"recent_diffs,omitempty"`

	// Files touched by the most recent patch; repair targets these when
	// the error itself names no file
	RecentFiles []string `json:"recent_files,omitempty"`

	Suggestions []Suggestion `json:"suggestions"`

	// Extra stage-supplied context (workspace path, check name, ...)
	Extra map[string]interface{} `json:"extra,omitempty"`
}

// TopSuggestion returns the highest-priority suggestion; first-seen wins
// among equal priority. Nil when the bundle carries none.
func (b *FailureBundle) TopSuggestion() *Suggestion {
	var best *Suggestion
	for i := range b.Suggestions {
		s := &b.Suggestions[i]
		if best == nil || PriorityRank(s.Priority) > PriorityRank(best.Priority) {
			best = s
		}
	}
	return best
}
