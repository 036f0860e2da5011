package stages

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/lyzr/mend/common/models"
)

// BuildContext prepares the ticket's workspace and retrieval index:
// clone (or refresh) the repository, index it for embedding search and
// record the context stats on the workflow. INGESTED -> CONTEXT_READY.
func (e *Executor) BuildContext(ctx context.Context, env *Env) error {
	workspace := env.Workspace(e.deps.Config)

	if err := os.MkdirAll(workspace, 0o755); err != nil {
		return fmt.Errorf("create workspace: %w", err)
	}

	var logs []models.CommandLog
	repoURL := env.Ticket.RepoURL()
	if repoURL != "" {
		cmd := fmt.Sprintf("git clone --depth 50 --branch %s %s . || git fetch origin %s",
			env.Ticket.BaseBranch(), repoURL, env.Ticket.BaseBranch())
		res, err := env.Caps.Runner.RunDirect(ctx, workspace, cmd, 5*time.Minute)
		if err != nil {
			return fmt.Errorf("clone repository: %w", err)
		}
		logs = append(logs, models.CommandLog{
			Command:  cmd,
			Type:     "shell",
			Output:   res.Output(),
			ExitCode: res.ExitCode,
		})
		if res.ExitCode != 0 {
			return &StageError{
				Kind: FailureException,
				Logs: logs,
				Err:  fmt.Errorf("repository checkout failed: %s", res.Output()),
			}
		}
	}

	chunks, err := env.Caps.Indexer.IndexRepository(ctx, workspace, env.Ticket.ProjectID, allowedPaths(env.Ticket))
	if err != nil {
		// Retrieval is an enhancement; planning degrades to ticket text
		env.Log.Warn("repository indexing failed, continuing without retrieval", "error", err)
		chunks = 0
	}

	languages := profileRepository(workspace)

	env.Log.Info("context ready",
		"workspace", workspace,
		"indexed_chunks", chunks,
		"languages", languages)

	metaPatch := map[string]interface{}{
		"workspace":      workspace,
		"indexed_chunks": chunks,
		"languages":      languages,
		"context_at":     time.Now().UTC().Format(time.RFC3339),
	}
	if err := e.deps.Machine.Transition(ctx, env.Workflow, models.StateContextReady, metaPatch); err != nil {
		return err
	}

	return e.deps.Dispatcher.Dispatch(ctx, env.Ticket.ID, models.StagePlanTicket, nil)
}

var languageByExt = map[string]string{
	".go":   "go",
	".py":   "python",
	".js":   "javascript",
	".ts":   "typescript",
	".rb":   "ruby",
	".php":  "php",
	".java": "java",
	".rs":   "rust",
	".c":    "c",
	".cc":   "cpp",
	".cpp":  "cpp",
	".cs":   "csharp",
}

// profileRepository detects the dominant languages in the workspace by
// source-file extension frequency, skipping VCS and dependency trees
func profileRepository(workspace string) []string {
	counts := map[string]int{}
	_ = filepath.WalkDir(workspace, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			switch d.Name() {
			case ".git", "node_modules", "vendor", "dist", "build":
				return filepath.SkipDir
			}
			return nil
		}
		if lang, ok := languageByExt[filepath.Ext(path)]; ok {
			counts[lang]++
		}
		return nil
	})

	langs := make([]string, 0, len(counts))
	for lang := range counts {
		langs = append(langs, lang)
	}
	sort.Slice(langs, func(i, j int) bool {
		if counts[langs[i]] != counts[langs[j]] {
			return counts[langs[i]] > counts[langs[j]]
		}
		return langs[i] < langs[j]
	})
	if len(langs) > 3 {
		langs = langs[:3]
	}
	return langs
}

// allowedPaths reads an optional indexing scope from ticket meta
func allowedPaths(t *models.Ticket) []string {
	if t.Meta == nil {
		return nil
	}
	raw, ok := t.Meta["index_paths"].([]interface{})
	if !ok {
		return nil
	}
	paths := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			paths = append(paths, s)
		}
	}
	return paths
}
