// Package capability defines the contracts the orchestration core requires
// from its external collaborators: AI planning/implementation/review, the
// ticket tracker, the VCS, sandboxed command execution and embedding-based
// code retrieval. Concrete bindings are selected per project through the
// Resolver; the core only ever sees these interfaces.
package capability

import (
	"context"
	"strings"
	"time"

	"github.com/lyzr/mend/common/models"
)

// TicketProvider posts back to the external tracker
type TicketProvider interface {
	AddComment(ctx context.Context, externalKey, markdown string) error
}

// PrRequest carries everything needed to open a pull request
type PrRequest struct {
	Title      string                 `json:"title"`
	Body       string                 `json:"body"`
	BaseBranch string                 `json:"base_branch"`
	HeadBranch string                 `json:"head_branch"`
	Draft      bool                   `json:"draft"`
	Labels     []string               `json:"labels,omitempty"`
	Reviewers  []string               `json:"reviewers,omitempty"`
	Assignees  []string               `json:"assignees,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// PrResult is the provider's answer to an open-PR call
type PrResult struct {
	ID     string   `json:"id"`
	URL    string   `json:"url"`
	Draft  bool     `json:"draft"`
	Labels []string `json:"labels,omitempty"`
}

// VcsProvider opens pull requests. Branch pushing happens through the
// CommandRunner (git in the workspace); only the PR API is provider-bound.
type VcsProvider interface {
	OpenPR(ctx context.Context, req *PrRequest) (*PrResult, error)
}

// PlanResult is the AI planner's response
type PlanResult struct {
	Steps          []models.PlanStep `json:"steps"`
	TestStrategy   string            `json:"test_strategy"`
	Risk           models.RiskLevel  `json:"risk"`
	EstimatedHours float64           `json:"estimated_hours"`
	FilesAffected  []string          `json:"files_affected"`
	Dependencies   []string          `json:"dependencies,omitempty"`
	Summary        string            `json:"summary"`
}

// AiPlanner drafts an implementation plan from a ticket plus RAG context
type AiPlanner interface {
	Plan(ctx context.Context, ticket *models.Ticket, ragContext []models.ContextChunk) (*PlanResult, error)
}

// Change is one proposed file modification: either a full-content write
// or a before/after replacement.
type Change struct {
	File    string `json:"file"`
	Content string `json:"content,omitempty"`
	Old     string `json:"old,omitempty"`
	New     string `json:"new,omitempty"`
}

// IsReplacement reports whether the change is an old/new string edit
func (c *Change) IsReplacement() bool {
	return c.Content == "" && c.Old != ""
}

// LineDelta estimates the changed-line volume of this change, used to
// enforce the repair diff budget.
func (c *Change) LineDelta() int {
	if c.IsReplacement() {
		before := strings.Count(c.Old, "\n") + 1
		after := strings.Count(c.New, "\n") + 1
		if after > before {
			return after
		}
		return before
	}
	if c.Content == "" {
		return 0
	}
	return strings.Count(c.Content, "\n") + 1
}

// ChangeSet is a batch of proposed changes
type ChangeSet struct {
	Changes []Change `json:"changes"`
}

// FixRequest asks the implementer for a targeted correction
type FixRequest struct {
	Kind          string        `json:"kind"` // "add_imports" | "fix_types" | "fix_syntax" | "test_fix" | "minimal_fix" | "review_fix"
	File          string        `json:"file,omitempty"`
	Issues        []ReviewIssue `json:"issues,omitempty"`
	FailureOutput string        `json:"failure_output,omitempty"`
	WorkspacePath string        `json:"workspace_path"`
}

// AiImplementer turns plan steps and fix requests into concrete changes
type AiImplementer interface {
	Implement(ctx context.Context, step *models.PlanStep, context string, workspacePath string) (*ChangeSet, error)
	SuggestFix(ctx context.Context, req *FixRequest) (*ChangeSet, error)
}

// ReviewIssue is one problem found by review (AI or policy)
type ReviewIssue struct {
	File        string `json:"file,omitempty"`
	Line        int    `json:"line,omitempty"`
	Severity    string `json:"severity"` // info | minor | major | critical
	Category    string `json:"category,omitempty"`
	Description string `json:"description"`
	Fixable     bool   `json:"fixable"`
	Suggestion  string `json:"suggestion,omitempty"`
}

// ReviewRequest is the reviewer's input
type ReviewRequest struct {
	PatchSummary     map[string]interface{} `json:"patch_summary"`
	TestResults      string                 `json:"test_results,omitempty"`
	ChecksPass       bool                   `json:"checks_pass"`
	PolicyViolations []string               `json:"policy_violations,omitempty"`
}

// ReviewResult is the AI reviewer's verdict
type ReviewResult struct {
	Issues         []ReviewIssue `json:"issues,omitempty"`
	SecurityIssues []ReviewIssue `json:"security_issues,omitempty"`
	Suggestions    []string      `json:"suggestions,omitempty"`
	QualityScore   int           `json:"quality_score"`
	Approved       bool          `json:"approved"`
}

// IsApproved reports the reviewer's verdict
func (r *ReviewResult) IsApproved() bool {
	return r.Approved
}

// AiReviewer reviews patches against test results and policy findings
type AiReviewer interface {
	Review(ctx context.Context, req *ReviewRequest) (*ReviewResult, error)
}

// CommandResult is the outcome of one command execution
type CommandResult struct {
	ExitCode int    `json:"exit_code"`
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
}

// Output joins stdout and stderr for logging and classification
func (r *CommandResult) Output() string {
	if r.Stderr == "" {
		return r.Stdout
	}
	if r.Stdout == "" {
		return r.Stderr
	}
	return r.Stdout + "\n" + r.Stderr
}

// CommandRunner executes commands in a ticket workspace. Run goes through
// the sandbox; RunDirect skips isolation for trusted local execution.
type CommandRunner interface {
	Run(ctx context.Context, workspacePath, command string, timeout time.Duration) (*CommandResult, error)
	RunDirect(ctx context.Context, workspacePath, command string, timeout time.Duration) (*CommandResult, error)
}

// EmbeddingIndexer indexes a repository for similarity search and serves
// retrieval queries for planning and failure context.
type EmbeddingIndexer interface {
	IndexRepository(ctx context.Context, repoPath, projectID string, allowedPaths []string) (int, error)
	Search(ctx context.Context, query string, k int, projectID string) ([]models.ContextChunk, error)
	ClearProjectEmbeddings(ctx context.Context, projectID string) error
}
