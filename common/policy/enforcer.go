package policy

import (
	"fmt"
	"strings"

	"github.com/google/cel-go/cel"
	"github.com/lyzr/mend/common/models"
)

// Result is the outcome of one compliance check
type Result struct {
	Passed    bool             `json:"passed"`
	RiskScore int              `json:"risk_score"`
	RiskLevel models.RiskLevel `json:"risk_level"`

	Violations      []string `json:"violations,omitempty"`
	Warnings        []string `json:"warnings,omitempty"`
	ReviewChecklist []string `json:"review_checklist,omitempty"`

	Retryable   bool   `json:"retryable"`
	RetryReason string `json:"retry_reason,omitempty"`
}

// Enforcer evaluates plans and patches against the loaded policy. It is a
// pure function of its input plus configuration: no I/O, no side effects.
type Enforcer struct {
	cfg   *Config
	rules []compiledRule
}

type compiledRule struct {
	rule HardRule
	prg  cel.Program
}

// NewEnforcer compiles the configured hard rules once and returns the
// enforcer. Invalid expressions fail construction rather than evaluation.
func NewEnforcer(cfg *Config) (*Enforcer, error) {
	env, err := cel.NewEnv(
		cel.Variable("patch", cel.DynType),
		cel.Variable("plan", cel.DynType),
	)
	if err != nil {
		return nil, fmt.Errorf("create CEL env: %w", err)
	}

	rules := make([]compiledRule, 0, len(cfg.Risk.HardRules))
	for _, rule := range cfg.Risk.HardRules {
		ast, issues := env.Compile(rule.Expr)
		if issues != nil && issues.Err() != nil {
			return nil, fmt.Errorf("compile hard rule %q: %w", rule.Name, issues.Err())
		}
		prg, err := env.Program(ast)
		if err != nil {
			return nil, fmt.Errorf("program hard rule %q: %w", rule.Name, err)
		}
		rules = append(rules, compiledRule{rule: rule, prg: prg})
	}

	return &Enforcer{cfg: cfg, rules: rules}, nil
}

// Config exposes the loaded policy for components that need its bounds
// (fix-iteration cap, repair attempts, reviewer rules)
func (e *Enforcer) Config() *Config {
	return e.cfg
}

// CheckPatchCompliance scores a patch against the risk rules
func (e *Enforcer) CheckPatchCompliance(patch *models.Patch) Result {
	res := Result{Passed: true, Retryable: true}

	fileCount := len(patch.FilesTouched)
	linesChanged := patch.Stats.Total()

	// Additive weighted scoring
	if fileCount > e.cfg.Risk.FileCountWarn {
		res.RiskScore += e.cfg.Risk.Weights.FileCount
		res.Warnings = append(res.Warnings,
			fmt.Sprintf("patch touches %d files (warn threshold %d)", fileCount, e.cfg.Risk.FileCountWarn))
	}
	if linesChanged > e.cfg.Risk.LineVolumeWarn {
		res.RiskScore += e.cfg.Risk.Weights.LineVolume
		res.Warnings = append(res.Warnings,
			fmt.Sprintf("patch changes %d lines (warn threshold %d)", linesChanged, e.cfg.Risk.LineVolumeWarn))
	}
	if sensitive := e.sensitiveTouched(patch.FilesTouched); len(sensitive) > 0 {
		res.RiskScore += e.cfg.Risk.Weights.SensitivePath
		res.ReviewChecklist = append(res.ReviewChecklist,
			fmt.Sprintf("sensitive paths changed: %s", strings.Join(sensitive, ", ")))
	}
	if e.missingTests(patch) {
		res.RiskScore += e.cfg.Risk.Weights.MissingTests
		res.Warnings = append(res.Warnings, "no test files among touched files")
	}
	if e.breakingMarked(patch.Summary) {
		res.RiskScore += e.cfg.Risk.Weights.BreakingChange
		res.ReviewChecklist = append(res.ReviewChecklist, "breaking-change marker present")
	}
	if res.RiskScore > 100 {
		res.RiskScore = 100
	}
	res.RiskLevel = models.RiskLevelForScore(res.RiskScore)

	// Hard rules override the aggregate score
	activation := map[string]interface{}{
		"patch": map[string]interface{}{
			"file_count":      fileCount,
			"file_count_max":  e.cfg.Risk.FileCountMax,
			"lines_changed":   linesChanged,
			"line_volume_max": e.cfg.Risk.LineVolumeMax,
			"risk_score":      res.RiskScore,
		},
		"plan": map[string]interface{}{},
	}
	e.applyHardRules(&res, activation)

	return res
}

// CheckPlanCompliance scores a plan against the risk rules
func (e *Enforcer) CheckPlanCompliance(plan *models.Plan) Result {
	res := Result{Passed: true, Retryable: true}

	if len(plan.FilesAffected) > e.cfg.Risk.FileCountWarn {
		res.RiskScore += e.cfg.Risk.Weights.FileCount
		res.Warnings = append(res.Warnings,
			fmt.Sprintf("plan affects %d files (warn threshold %d)", len(plan.FilesAffected), e.cfg.Risk.FileCountWarn))
	}
	if sensitive := e.sensitiveTouched(plan.FilesAffected); len(sensitive) > 0 {
		res.RiskScore += e.cfg.Risk.Weights.SensitivePath
		res.ReviewChecklist = append(res.ReviewChecklist,
			fmt.Sprintf("plan touches sensitive paths: %s", strings.Join(sensitive, ", ")))
	}
	for _, step := range plan.Steps {
		for _, factor := range step.RiskFactors {
			res.ReviewChecklist = append(res.ReviewChecklist,
				fmt.Sprintf("step %s declares risk: %s", step.ID, factor))
		}
	}
	switch plan.Risk {
	case models.RiskHigh:
		res.RiskScore += 20
	case models.RiskCritical:
		res.RiskScore += 40
	}
	if !planHasTests(plan) {
		res.RiskScore += e.cfg.Risk.Weights.MissingTests
		res.Warnings = append(res.Warnings, "plan declares no test strategy or test steps")
	}
	if res.RiskScore > 100 {
		res.RiskScore = 100
	}
	res.RiskLevel = models.RiskLevelForScore(res.RiskScore)

	activation := map[string]interface{}{
		"patch": map[string]interface{}{},
		"plan": map[string]interface{}{
			"step_count":     len(plan.Steps),
			"file_count":     len(plan.FilesAffected),
			"file_count_max": e.cfg.Risk.FileCountMax,
			"risk":           string(plan.Risk),
			"risk_score":     res.RiskScore,
		},
	}
	e.applyHardRules(&res, activation)

	return res
}

// Reviewers returns the policy-driven reviewer list for a risk level:
// senior reviewers at/above the configured level, security reviewers for
// critical risk, padded to the minimum count from the senior pool.
func (e *Enforcer) Reviewers(level models.RiskLevel) []string {
	var reviewers []string
	seen := make(map[string]bool)
	add := func(names []string) {
		for _, n := range names {
			if !seen[n] {
				seen[n] = true
				reviewers = append(reviewers, n)
			}
		}
	}

	if riskAtLeast(level, models.RiskLevel(e.cfg.Review.SeniorReviewAt)) {
		add(e.cfg.Review.SeniorReviewers)
	}
	if level == models.RiskCritical {
		add(e.cfg.Review.SecurityReviewers)
	}
	for len(reviewers) < e.cfg.Review.MinReviewers && len(reviewers) < len(e.cfg.Review.SeniorReviewers) {
		add(e.cfg.Review.SeniorReviewers[:len(reviewers)+1])
	}
	return reviewers
}

func (e *Enforcer) applyHardRules(res *Result, activation map[string]interface{}) {
	for _, cr := range e.rules {
		out, _, err := cr.prg.Eval(activation)
		if err != nil {
			// A rule that cannot evaluate over this activation doesn't fire
			continue
		}
		fired, ok := out.Value().(bool)
		if !ok || !fired {
			continue
		}
		res.Passed = false
		res.Retryable = false
		res.RetryReason = cr.rule.Name
		res.Violations = append(res.Violations, cr.rule.Message)
	}
}

func (e *Enforcer) sensitiveTouched(files []string) []string {
	var hits []string
	for _, f := range files {
		lower := strings.ToLower(f)
		for _, marker := range e.cfg.Risk.SensitivePaths {
			if strings.Contains(lower, marker) {
				hits = append(hits, f)
				break
			}
		}
	}
	return hits
}

func (e *Enforcer) missingTests(patch *models.Patch) bool {
	if patch.Stats.LinesAdded < 20 {
		return false
	}
	for _, f := range patch.FilesTouched {
		if strings.Contains(f, "test") || strings.Contains(f, "spec") {
			return false
		}
	}
	return true
}

func (e *Enforcer) breakingMarked(summary map[string]interface{}) bool {
	if summary == nil {
		return false
	}
	text, _ := summary["description"].(string)
	for _, marker := range e.cfg.Risk.BreakingMarkers {
		if strings.Contains(text, marker) {
			return true
		}
	}
	return false
}

func planHasTests(plan *models.Plan) bool {
	if strings.TrimSpace(plan.TestStrategy) != "" {
		return true
	}
	for _, step := range plan.Steps {
		if step.Intent == models.IntentAddTest {
			return true
		}
	}
	return false
}

func riskAtLeast(level, floor models.RiskLevel) bool {
	rank := map[models.RiskLevel]int{
		models.RiskLow:      1,
		models.RiskMedium:   2,
		models.RiskHigh:     3,
		models.RiskCritical: 4,
	}
	return rank[level] >= rank[floor] && rank[floor] > 0
}
