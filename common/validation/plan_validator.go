package validation

import (
	"fmt"

	"github.com/lyzr/mend/common/capability"
	"github.com/lyzr/mend/common/models"
)

// ValidationError collects everything wrong with an AI-produced plan.
// Carried in failure bundles as a "validation" error kind.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("plan failed schema validation: %d problem(s): %v", len(e.Problems), e.Problems)
}

// ValidatePlan checks an AI planner result against the plan schema before
// it is persisted: non-empty ordered steps, enumerated intents, resolvable
// step dependencies, a recognized risk level.
func ValidatePlan(result *capability.PlanResult) error {
	var problems []string

	if len(result.Steps) == 0 {
		problems = append(problems, "plan has no steps")
	}

	ids := make(map[string]bool, len(result.Steps))
	for i, step := range result.Steps {
		if step.ID == "" {
			problems = append(problems, fmt.Sprintf("step %d has no id", i))
			continue
		}
		if ids[step.ID] {
			problems = append(problems, fmt.Sprintf("duplicate step id %q", step.ID))
		}
		ids[step.ID] = true

		if !models.ValidIntent(step.Intent) {
			problems = append(problems, fmt.Sprintf("step %s has unknown intent %q", step.ID, step.Intent))
		}
		if len(step.TargetFiles) == 0 && step.Intent != models.IntentRefactor {
			problems = append(problems, fmt.Sprintf("step %s names no target files", step.ID))
		}
		if step.Rationale == "" {
			problems = append(problems, fmt.Sprintf("step %s has no rationale", step.ID))
		}
	}

	// Dependencies must reference earlier-declared steps
	declared := make(map[string]int, len(result.Steps))
	for i, step := range result.Steps {
		declared[step.ID] = i
	}
	for i, step := range result.Steps {
		for _, dep := range step.DependsOn {
			at, ok := declared[dep]
			if !ok {
				problems = append(problems, fmt.Sprintf("step %s depends on unknown step %q", step.ID, dep))
				continue
			}
			if at >= i {
				problems = append(problems, fmt.Sprintf("step %s depends on later step %q", step.ID, dep))
			}
		}
	}

	switch result.Risk {
	case models.RiskLow, models.RiskMedium, models.RiskHigh, models.RiskCritical:
	default:
		problems = append(problems, fmt.Sprintf("unknown risk level %q", result.Risk))
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}
