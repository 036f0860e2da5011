package policy

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the loaded policy configuration. It is read once at startup
// and treated as immutable; the enforcer is a pure function of its input
// plus this configuration.
type Config struct {
	Risk   RiskConfig   `yaml:"risk"`
	Checks ChecksConfig `yaml:"checks"`
	Review ReviewConfig `yaml:"review"`
	Repair RepairConfig `yaml:"repair"`
}

// RiskConfig holds additive risk weights, thresholds and hard rules
type RiskConfig struct {
	// Soft thresholds add weight; hard maxima fire violations
	FileCountWarn  int `yaml:"file_count_warn"`
	FileCountMax   int `yaml:"file_count_max"`
	LineVolumeWarn int `yaml:"line_volume_warn"`
	LineVolumeMax  int `yaml:"line_volume_max"`

	// Touching any path matching these substrings is scored as sensitive
	SensitivePaths []string `yaml:"sensitive_paths"`

	// Markers in rationale/summary text that flag a breaking change
	BreakingMarkers []string `yaml:"breaking_markers"`

	Weights RiskWeights `yaml:"weights"`

	// Hard violation rules as CEL expressions over the `plan` / `patch`
	// activation; any rule evaluating true forces passed=false
	HardRules []HardRule `yaml:"hard_rules"`
}

// RiskWeights are the additive points per fired heuristic
type RiskWeights struct {
	FileCount      int `yaml:"file_count"`
	LineVolume     int `yaml:"line_volume"`
	SensitivePath  int `yaml:"sensitive_path"`
	MissingTests   int `yaml:"missing_tests"`
	BreakingChange int `yaml:"breaking_change"`
}

// HardRule is one configured hard-violation rule
type HardRule struct {
	Name    string `yaml:"name"`
	Expr    string `yaml:"expr"`
	Message string `yaml:"message"`
}

// ChecksConfig configures the verification commands RunChecks executes
type ChecksConfig struct {
	LintCommand      string `yaml:"lint_command"`
	TypecheckCommand string `yaml:"typecheck_command"`
	TestCommand      string `yaml:"test_command"`
	BuildCommand     string `yaml:"build_command"`
	FormatCommand    string `yaml:"format_command"`

	// Auto-fix commands tried first by the repair engine
	AutoFixCommands []string `yaml:"autofix_commands"`

	// Checks whose failure blocks the pipeline
	Mandatory []string `yaml:"mandatory"`

	// Request coverage instrumentation on test runs when supported
	Coverage bool `yaml:"coverage"`
}

// ReviewConfig bounds the review/fix loop and drives reviewer selection
type ReviewConfig struct {
	MaxFixIterations int `yaml:"max_fix_iterations"`
	MinReviewers     int `yaml:"min_reviewers"`

	// Reviewers pulled in by risk level
	SeniorReviewers   []string `yaml:"senior_reviewers"`
	SecurityReviewers []string `yaml:"security_reviewers"`

	// Risk level at or above which senior reviewers are required
	SeniorReviewAt string `yaml:"senior_review_at"`
}

// RepairConfig bounds the self-healing engine
type RepairConfig struct {
	MaxAttempts int `yaml:"max_attempts"`
	DiffBudget  int `yaml:"diff_budget"`
}

// Default returns the built-in policy used when no file is configured
func Default() *Config {
	return &Config{
		Risk: RiskConfig{
			FileCountWarn:   10,
			FileCountMax:    20,
			LineVolumeWarn:  300,
			LineVolumeMax:   1500,
			SensitivePaths:  []string{"auth", "security", "migration", "config"},
			BreakingMarkers: []string{"BREAKING", "breaking change"},
			Weights: RiskWeights{
				FileCount:      20,
				LineVolume:     20,
				SensitivePath:  25,
				MissingTests:   15,
				BreakingChange: 20,
			},
			HardRules: []HardRule{
				{
					Name:    "file_ceiling",
					Expr:    "patch.file_count > patch.file_count_max",
					Message: "patch touches more files than the configured ceiling",
				},
				{
					Name:    "line_ceiling",
					Expr:    "patch.lines_changed > patch.line_volume_max",
					Message: "patch changes more lines than the configured ceiling",
				},
			},
		},
		Checks: ChecksConfig{
			Mandatory: []string{"lint", "typecheck", "test"},
			Coverage:  true,
		},
		Review: ReviewConfig{
			MaxFixIterations: 2,
			MinReviewers:     1,
			SeniorReviewAt:   "high",
		},
		Repair: RepairConfig{
			MaxAttempts: 2,
			DiffBudget:  50,
		},
	}
}

// Load reads a YAML policy file, falling back to defaults for the file
// being absent. Zero-valued bounds are filled from defaults so a sparse
// file can't disable the caps.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read policy file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse policy file %s: %w", path, err)
	}

	applyFloors(cfg)
	return cfg, nil
}

func applyFloors(cfg *Config) {
	def := Default()
	if cfg.Risk.FileCountMax <= 0 {
		cfg.Risk.FileCountMax = def.Risk.FileCountMax
	}
	if cfg.Risk.LineVolumeMax <= 0 {
		cfg.Risk.LineVolumeMax = def.Risk.LineVolumeMax
	}
	if cfg.Review.MaxFixIterations <= 0 {
		cfg.Review.MaxFixIterations = def.Review.MaxFixIterations
	}
	if cfg.Repair.MaxAttempts <= 0 {
		cfg.Repair.MaxAttempts = def.Repair.MaxAttempts
	}
	if cfg.Repair.DiffBudget <= 0 {
		cfg.Repair.DiffBudget = def.Repair.DiffBudget
	}
}
