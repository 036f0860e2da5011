package stages

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/lyzr/mend/common/capability"
	"github.com/lyzr/mend/common/models"
)

// applyChangeSet writes a batch of proposed changes into the workspace
// and returns the touched files plus line statistics. Changes that
// reference paths outside the workspace are rejected wholesale; partial
// application would leave the tree inconsistent.
func applyChangeSet(workspace string, cs *capability.ChangeSet) ([]string, models.DiffStats, error) {
	var stats models.DiffStats
	touched := make([]string, 0, len(cs.Changes))

	for i := range cs.Changes {
		change := &cs.Changes[i]
		path, err := resolveInWorkspace(workspace, change.File)
		if err != nil {
			return nil, models.DiffStats{}, err
		}

		if change.IsReplacement() {
			if err := applyReplacement(path, change); err != nil {
				return nil, models.DiffStats{}, err
			}
			stats.LinesRemoved += strings.Count(change.Old, "\n") + 1
			stats.LinesAdded += strings.Count(change.New, "\n") + 1
		} else {
			added, removed, err := applyContent(path, change.Content)
			if err != nil {
				return nil, models.DiffStats{}, err
			}
			stats.LinesAdded += added
			stats.LinesRemoved += removed
		}

		touched = append(touched, change.File)
	}

	return dedupe(touched), stats, nil
}

func resolveInWorkspace(workspace, file string) (string, error) {
	cleaned := filepath.Clean(file)
	if filepath.IsAbs(cleaned) || strings.HasPrefix(cleaned, "..") {
		return "", fmt.Errorf("change path escapes workspace: %s", file)
	}
	return filepath.Join(workspace, cleaned), nil
}

// applyReplacement performs an old/new string edit on an existing file.
// The old fragment must be present exactly once to apply unambiguously.
func applyReplacement(path string, change *capability.Change) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", change.File, err)
	}
	content := string(data)

	switch strings.Count(content, change.Old) {
	case 0:
		return fmt.Errorf("replacement target not found in %s", change.File)
	case 1:
		// unambiguous
	default:
		return fmt.Errorf("replacement target ambiguous in %s", change.File)
	}

	updated := strings.Replace(content, change.Old, change.New, 1)
	return os.WriteFile(path, []byte(updated), 0o644)
}

// applyContent writes full file content, creating parent directories as
// needed. Returns the added/removed line estimate relative to the
// previous content.
func applyContent(path, content string) (added, removed int, err error) {
	if prev, readErr := os.ReadFile(path); readErr == nil {
		removed = strings.Count(string(prev), "\n") + 1
	}
	added = strings.Count(content, "\n") + 1

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, 0, fmt.Errorf("create directories for %s: %w", path, err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return 0, 0, fmt.Errorf("write %s: %w", path, err)
	}
	return added, removed, nil
}

// formatWorkspace runs the configured formatter over the workspace after
// changes are applied. Best-effort: formatting never fails a stage.
func (e *Executor) formatWorkspace(ctx context.Context, env *Env, workspace string) {
	format := e.deps.Enforcer.Config().Checks.FormatCommand
	if format == "" {
		return
	}
	res, err := env.Caps.Runner.Run(ctx, workspace, format, 2*time.Minute)
	if err != nil {
		env.Log.Warn("formatter errored", "error", err)
		return
	}
	if res.ExitCode != 0 {
		env.Log.Warn("formatter failed", "exit_code", res.ExitCode)
	}
}

func dedupe(items []string) []string {
	seen := make(map[string]struct{}, len(items))
	out := items[:0]
	for _, item := range items {
		if _, ok := seen[item]; ok {
			continue
		}
		seen[item] = struct{}{}
		out = append(out, item)
	}
	return out
}
