package capability

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/lyzr/mend/common/logger"
	"github.com/lyzr/mend/common/models"
	"github.com/tidwall/gjson"
)

// AnthropicProvider binds the AI planner, implementer and reviewer
// capabilities to the Anthropic Messages API. Responses are requested as
// bare JSON and probed with gjson so a malformed reply degrades into a
// validation error instead of a panic.
type AnthropicProvider struct {
	client anthropic.Client
	model  anthropic.Model
	log    *logger.Logger
}

// NewAnthropicProvider creates the binding
func NewAnthropicProvider(apiKey, model string, log *logger.Logger) *AnthropicProvider {
	return &AnthropicProvider{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:  anthropic.Model(model),
		log:    log,
	}
}

const plannerSystem = `You are a senior software engineer drafting an implementation plan.
Respond with a single JSON object and nothing else:
{"steps":[{"id":"s1","intent":"add|modify|remove|add_test|refactor","target_files":[],"rationale":"","acceptance_checks":[],"estimated_effort":"","risk_factors":[],"depends_on":[]}],
"test_strategy":"","risk":"low|medium|high|critical","estimated_hours":0,"files_affected":[],"dependencies":[],"summary":""}`

// Plan drafts an implementation plan from the ticket and retrieval context
func (p *AnthropicProvider) Plan(ctx context.Context, ticket *models.Ticket, ragContext []models.ContextChunk) (*PlanResult, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Ticket %s: %s\n\n%s\n", ticket.ExternalKey, ticket.Title, ticket.Body)
	if len(ticket.AcceptanceCriteria) > 0 {
		sb.WriteString("\nAcceptance criteria:\n")
		for _, c := range ticket.AcceptanceCriteria {
			fmt.Fprintf(&sb, "- %s\n", c)
		}
	}
	if len(ragContext) > 0 {
		sb.WriteString("\nRelevant code:\n")
		for _, chunk := range ragContext {
			fmt.Fprintf(&sb, "--- %s (relevance %.2f)\n%s\n", chunk.Path, chunk.Score, chunk.Content)
		}
	}

	raw, err := p.complete(ctx, plannerSystem, sb.String())
	if err != nil {
		return nil, err
	}
	return parsePlanResult(raw)
}

const implementerSystem = `You are a software engineer applying one plan step to a codebase.
Respond with a single JSON object and nothing else:
{"changes":[{"file":"path","content":"full new file content"} or {"file":"path","old":"exact text","new":"replacement"}]}`

// Implement turns one plan step into concrete file changes
func (p *AnthropicProvider) Implement(ctx context.Context, step *models.PlanStep, stepContext string, workspacePath string) (*ChangeSet, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Step %s (%s): %s\nTarget files: %s\n",
		step.ID, step.Intent, step.Rationale, strings.Join(step.TargetFiles, ", "))
	if stepContext != "" {
		fmt.Fprintf(&sb, "\nContext:\n%s\n", stepContext)
	}

	raw, err := p.complete(ctx, implementerSystem, sb.String())
	if err != nil {
		return nil, err
	}
	return parseChangeSet(raw)
}

const fixerSystem = `You are a software engineer producing the smallest possible corrective change.
Respond with a single JSON object and nothing else:
{"changes":[{"file":"path","old":"exact text","new":"replacement"}]}`

// SuggestFix asks for a targeted correction (test fix, review fix or
// minimal repair)
func (p *AnthropicProvider) SuggestFix(ctx context.Context, req *FixRequest) (*ChangeSet, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Fix kind: %s\n", req.Kind)
	if req.File != "" {
		fmt.Fprintf(&sb, "File: %s\n", req.File)
	}
	for _, issue := range req.Issues {
		fmt.Fprintf(&sb, "- [%s] %s", issue.Severity, issue.Description)
		if issue.Suggestion != "" {
			fmt.Fprintf(&sb, " (suggestion: %s)", issue.Suggestion)
		}
		sb.WriteString("\n")
	}
	if req.FailureOutput != "" {
		fmt.Fprintf(&sb, "\nFailure output:\n%s\n", req.FailureOutput)
	}

	raw, err := p.complete(ctx, fixerSystem, sb.String())
	if err != nil {
		return nil, err
	}
	return parseChangeSet(raw)
}

const reviewerSystem = `You are a meticulous code reviewer.
Respond with a single JSON object and nothing else:
{"issues":[{"file":"","line":0,"severity":"info|minor|major|critical","category":"","description":"","fixable":true,"suggestion":""}],
"security_issues":[],"suggestions":[],"quality_score":0,"approved":false}`

// Review asks for a verdict on a patch
func (p *AnthropicProvider) Review(ctx context.Context, req *ReviewRequest) (*ReviewResult, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Checks passing: %v\n", req.ChecksPass)
	if len(req.PolicyViolations) > 0 {
		fmt.Fprintf(&sb, "Policy violations:\n- %s\n", strings.Join(req.PolicyViolations, "\n- "))
	}
	if req.TestResults != "" {
		fmt.Fprintf(&sb, "\nTest results:\n%s\n", req.TestResults)
	}
	for k, v := range req.PatchSummary {
		fmt.Fprintf(&sb, "%s: %v\n", k, v)
	}

	raw, err := p.complete(ctx, reviewerSystem, sb.String())
	if err != nil {
		return nil, err
	}
	return parseReviewResult(raw)
}

// complete performs one Messages call and returns the concatenated text
func (p *AnthropicProvider) complete(ctx context.Context, system, prompt string) (string, error) {
	resp, err := p.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     p.model,
		MaxTokens: 8192,
		System: []anthropic.TextBlockParam{{
			Text: system,
			Type: "text",
		}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("anthropic call failed: %w", err)
	}
	if resp == nil || len(resp.Content) == 0 {
		return "", fmt.Errorf("empty response from model")
	}

	var text strings.Builder
	for i := range resp.Content {
		block := &resp.Content[i]
		if block.Type == "text" {
			text.WriteString(block.AsText().Text)
		}
	}
	if text.Len() == 0 {
		return "", fmt.Errorf("no text content in model response")
	}
	return text.String(), nil
}

// stripFences removes a markdown code fence if the model wrapped its JSON
func stripFences(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimPrefix(trimmed, "```json")
		trimmed = strings.TrimPrefix(trimmed, "```")
		trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	}
	return strings.TrimSpace(trimmed)
}

func parsePlanResult(raw string) (*PlanResult, error) {
	doc := stripFences(raw)
	if !gjson.Valid(doc) {
		return nil, fmt.Errorf("planner returned invalid JSON")
	}
	parsed := gjson.Parse(doc)

	result := &PlanResult{
		TestStrategy:   parsed.Get("test_strategy").String(),
		Risk:           models.RiskLevel(parsed.Get("risk").String()),
		EstimatedHours: parsed.Get("estimated_hours").Float(),
		Summary:        parsed.Get("summary").String(),
	}
	for _, f := range parsed.Get("files_affected").Array() {
		result.FilesAffected = append(result.FilesAffected, f.String())
	}
	for _, d := range parsed.Get("dependencies").Array() {
		result.Dependencies = append(result.Dependencies, d.String())
	}
	for _, s := range parsed.Get("steps").Array() {
		step := models.PlanStep{
			ID:              s.Get("id").String(),
			Intent:          models.StepIntent(s.Get("intent").String()),
			Rationale:       s.Get("rationale").String(),
			EstimatedEffort: s.Get("estimated_effort").String(),
		}
		for _, f := range s.Get("target_files").Array() {
			step.TargetFiles = append(step.TargetFiles, f.String())
		}
		for _, c := range s.Get("acceptance_checks").Array() {
			step.AcceptanceChecks = append(step.AcceptanceChecks, c.String())
		}
		for _, r := range s.Get("risk_factors").Array() {
			step.RiskFactors = append(step.RiskFactors, r.String())
		}
		for _, d := range s.Get("depends_on").Array() {
			step.DependsOn = append(step.DependsOn, d.String())
		}
		result.Steps = append(result.Steps, step)
	}
	return result, nil
}

func parseChangeSet(raw string) (*ChangeSet, error) {
	doc := stripFences(raw)
	if !gjson.Valid(doc) {
		return nil, fmt.Errorf("implementer returned invalid JSON")
	}

	cs := &ChangeSet{}
	for _, c := range gjson.Get(doc, "changes").Array() {
		cs.Changes = append(cs.Changes, Change{
			File:    c.Get("file").String(),
			Content: c.Get("content").String(),
			Old:     c.Get("old").String(),
			New:     c.Get("new").String(),
		})
	}
	return cs, nil
}

func parseReviewResult(raw string) (*ReviewResult, error) {
	doc := stripFences(raw)
	if !gjson.Valid(doc) {
		return nil, fmt.Errorf("reviewer returned invalid JSON")
	}
	parsed := gjson.Parse(doc)

	result := &ReviewResult{
		QualityScore: int(parsed.Get("quality_score").Int()),
		Approved:     parsed.Get("approved").Bool(),
	}
	for _, s := range parsed.Get("suggestions").Array() {
		result.Suggestions = append(result.Suggestions, s.String())
	}
	result.Issues = parseIssues(parsed.Get("issues"))
	result.SecurityIssues = parseIssues(parsed.Get("security_issues"))
	return result, nil
}

func parseIssues(arr gjson.Result) []ReviewIssue {
	var issues []ReviewIssue
	for _, i := range arr.Array() {
		issues = append(issues, ReviewIssue{
			File:        i.Get("file").String(),
			Line:        int(i.Get("line").Int()),
			Severity:    i.Get("severity").String(),
			Category:    i.Get("category").String(),
			Description: i.Get("description").String(),
			Fixable:     i.Get("fixable").Bool(),
			Suggestion:  i.Get("suggestion").String(),
		})
	}
	return issues
}
