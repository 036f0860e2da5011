package capability

import (
	"context"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/lyzr/mend/common/logger"
	"github.com/lyzr/mend/common/models"
)

// LocalRunner executes commands directly on the host via the shell.
// Used as the runDirect path and as the development-mode runner variant.
type LocalRunner struct {
	log *logger.Logger
}

// NewLocalRunner creates a local command runner
func NewLocalRunner(log *logger.Logger) *LocalRunner {
	return &LocalRunner{log: log}
}

// Run executes the command; local execution has no sandbox, so Run and
// RunDirect are the same path here.
func (r *LocalRunner) Run(ctx context.Context, workspacePath, command string, timeout time.Duration) (*CommandResult, error) {
	return r.RunDirect(ctx, workspacePath, command, timeout)
}

// RunDirect executes the command in the workspace directory
func (r *LocalRunner) RunDirect(ctx context.Context, workspacePath, command string, timeout time.Duration) (*CommandResult, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = workspacePath

	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result := &CommandResult{
		ExitCode: 0,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
	}

	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			result.ExitCode = exitErr.ExitCode()
		} else {
			// Command never started (timeout, missing shell)
			return nil, err
		}
	}

	r.log.Debug("command executed", "command", command, "exit_code", result.ExitCode)
	return result, nil
}

// MemoryIndexer is an in-process EmbeddingIndexer used in tests and
// single-node development. Scoring is naive term overlap, which is enough
// to exercise the retrieval plumbing.
type MemoryIndexer struct {
	mu     sync.RWMutex
	chunks map[string][]models.ContextChunk // projectID -> chunks
}

// NewMemoryIndexer creates an in-memory indexer
func NewMemoryIndexer() *MemoryIndexer {
	return &MemoryIndexer{chunks: make(map[string][]models.ContextChunk)}
}

// IndexRepository records chunks for a project. The local variant does not
// walk the repository; callers seed it through Add.
func (m *MemoryIndexer) IndexRepository(ctx context.Context, repoPath, projectID string, allowedPaths []string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.chunks[projectID]), nil
}

// Add seeds a chunk into the index
func (m *MemoryIndexer) Add(projectID string, chunk models.ContextChunk) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chunks[projectID] = append(m.chunks[projectID], chunk)
}

// Search returns the top-k chunks by term overlap with the query
func (m *MemoryIndexer) Search(ctx context.Context, query string, k int, projectID string) ([]models.ContextChunk, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	terms := strings.Fields(strings.ToLower(query))
	var scored []models.ContextChunk
	for _, chunk := range m.chunks[projectID] {
		content := strings.ToLower(chunk.Content + " " + chunk.Path)
		hits := 0
		for _, term := range terms {
			if strings.Contains(content, term) {
				hits++
			}
		}
		if hits == 0 {
			continue
		}
		c := chunk
		c.Score = float64(hits) / float64(len(terms)+1)
		scored = append(scored, c)
	}

	sort.Slice(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if k > 0 && len(scored) > k {
		scored = scored[:k]
	}
	return scored, nil
}

// ClearProjectEmbeddings drops a project's chunks
func (m *MemoryIndexer) ClearProjectEmbeddings(ctx context.Context, projectID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.chunks, projectID)
	return nil
}

// NoopTracker discards comments; the development-mode tracker variant
type NoopTracker struct{}

// AddComment is a no-op
func (NoopTracker) AddComment(ctx context.Context, externalKey, markdown string) error {
	return nil
}
