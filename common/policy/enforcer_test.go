package policy

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyzr/mend/common/models"
)

func newTestEnforcer(t *testing.T) *Enforcer {
	t.Helper()
	e, err := NewEnforcer(Default())
	require.NoError(t, err)
	return e
}

func manyFiles(n int) []string {
	files := make([]string, n)
	for i := range files {
		files[i] = fmt.Sprintf("src/module/file_%d.go", i)
	}
	return files
}

func TestCheckPatchCompliance_SmallCleanPatchIsLowRisk(t *testing.T) {
	e := newTestEnforcer(t)
	patch := &models.Patch{
		FilesTouched: []string{"src/handler.go", "src/handler_test.go"},
		Stats:        models.DiffStats{LinesAdded: 30, LinesRemoved: 5},
	}

	res := e.CheckPatchCompliance(patch)
	assert.True(t, res.Passed)
	assert.Equal(t, 0, res.RiskScore)
	assert.Equal(t, models.RiskLow, res.RiskLevel)
	assert.Empty(t, res.Violations)
}

func TestCheckPatchCompliance_AdditiveWeights(t *testing.T) {
	e := newTestEnforcer(t)

	// 12 files (> warn 10) without tests, none sensitive:
	// file_count 20 + missing_tests 15 = 35 -> medium
	patch := &models.Patch{
		FilesTouched: manyFiles(12),
		Stats:        models.DiffStats{LinesAdded: 100},
	}

	res := e.CheckPatchCompliance(patch)
	assert.True(t, res.Passed, "warn thresholds add risk but do not block")
	assert.Equal(t, 35, res.RiskScore)
	assert.Equal(t, models.RiskMedium, res.RiskLevel)
	assert.Len(t, res.Warnings, 2)
}

func TestCheckPatchCompliance_SensitivePathsRaiseChecklist(t *testing.T) {
	e := newTestEnforcer(t)
	patch := &models.Patch{
		FilesTouched: []string{"internal/auth/token.go", "internal/auth/token_test.go"},
		Stats:        models.DiffStats{LinesAdded: 10},
	}

	res := e.CheckPatchCompliance(patch)
	assert.True(t, res.Passed)
	assert.Equal(t, 25, res.RiskScore)
	require.Len(t, res.ReviewChecklist, 1)
	assert.Contains(t, res.ReviewChecklist[0], "auth")
}

func TestCheckPatchCompliance_HardFileCeilingBlocks(t *testing.T) {
	e := newTestEnforcer(t)

	// 25 files exceeds the hard ceiling of 20: passed=false regardless
	// of the weighted score
	patch := &models.Patch{
		FilesTouched: manyFiles(25),
		Stats:        models.DiffStats{LinesAdded: 50},
	}

	res := e.CheckPatchCompliance(patch)
	assert.False(t, res.Passed)
	require.NotEmpty(t, res.Violations)
	assert.Contains(t, res.Violations[0], "ceiling")
}

func TestCheckPatchCompliance_HardLineCeilingBlocks(t *testing.T) {
	e := newTestEnforcer(t)
	patch := &models.Patch{
		FilesTouched: []string{"src/big.go", "src/big_test.go"},
		Stats:        models.DiffStats{LinesAdded: 1200, LinesRemoved: 400},
	}

	res := e.CheckPatchCompliance(patch)
	assert.False(t, res.Passed)
	require.NotEmpty(t, res.Violations)
}

func TestCheckPatchCompliance_IsPure(t *testing.T) {
	e := newTestEnforcer(t)
	patch := &models.Patch{
		FilesTouched: []string{"internal/config/loader.go"},
		Stats:        models.DiffStats{LinesAdded: 400},
		Summary:      map[string]interface{}{"note": "BREAKING change to loader"},
	}

	first := e.CheckPatchCompliance(patch)
	second := e.CheckPatchCompliance(patch)
	assert.Equal(t, first, second, "same input, same output, no side effects")
}

func TestCheckPlanCompliance_RiskAndTests(t *testing.T) {
	e := newTestEnforcer(t)

	plan := &models.Plan{
		Steps: []models.PlanStep{
			{ID: "s1", Intent: models.IntentModify, TargetFiles: []string{"src/a.go"}, Rationale: "fix"},
		},
		Risk:          models.RiskHigh,
		FilesAffected: []string{"src/a.go"},
	}

	// high risk 20 + no tests 15 = 35
	res := e.CheckPlanCompliance(plan)
	assert.True(t, res.Passed)
	assert.Equal(t, 35, res.RiskScore)

	plan.TestStrategy = "extend unit tests"
	withTests := e.CheckPlanCompliance(plan)
	assert.Equal(t, 20, withTests.RiskScore)
}

func TestReviewers_ByRiskLevel(t *testing.T) {
	cfg := Default()
	cfg.Review.SeniorReviewers = []string{"alice", "bob"}
	cfg.Review.SecurityReviewers = []string{"carol"}
	e, err := NewEnforcer(cfg)
	require.NoError(t, err)

	assert.Contains(t, e.Reviewers(models.RiskHigh), "alice")
	assert.NotContains(t, e.Reviewers(models.RiskHigh), "carol")

	critical := e.Reviewers(models.RiskCritical)
	assert.Contains(t, critical, "alice")
	assert.Contains(t, critical, "carol")

	low := e.Reviewers(models.RiskLow)
	assert.Len(t, low, 1, "padded to min_reviewers from the senior pool")
}

func TestLoad_MissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load("/nonexistent/policy.yaml")
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Repair.MaxAttempts)
	assert.Equal(t, 50, cfg.Repair.DiffBudget)
	assert.Equal(t, 2, cfg.Review.MaxFixIterations)
}

func TestNewEnforcer_RejectsBadRule(t *testing.T) {
	cfg := Default()
	cfg.Risk.HardRules = append(cfg.Risk.HardRules, HardRule{
		Name: "broken",
		Expr: "patch.file_count >",
	})
	_, err := NewEnforcer(cfg)
	require.Error(t, err)
}
