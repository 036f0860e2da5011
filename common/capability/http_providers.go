package capability

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/lyzr/mend/common/logger"
	"github.com/lyzr/mend/common/models"
)

// httpBinding is the shared base for the HTTP-backed capability variants:
// remote services whose wire contract is out of scope here, spoken to as
// JSON-over-HTTP.
type httpBinding struct {
	baseURL string
	client  *http.Client
	log     *logger.Logger
}

func newHTTPBinding(baseURL string, timeout time.Duration, log *logger.Logger) httpBinding {
	return httpBinding{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		log:     log,
	}
}

// postJSON posts a JSON payload and decodes the JSON response into out
// (out may be nil when the response body is irrelevant)
func (b *httpBinding) postJSON(ctx context.Context, path string, payload, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	url := b.baseURL + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("request %s failed: status=%d, body=%s", path, resp.StatusCode, string(raw))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response from %s: %w", path, err)
	}
	return nil
}

// TrackerClient posts comments back to the external ticket tracker
type TrackerClient struct {
	httpBinding
}

// NewTrackerClient creates an HTTP ticket provider
func NewTrackerClient(baseURL string, timeout time.Duration, log *logger.Logger) *TrackerClient {
	return &TrackerClient{httpBinding: newHTTPBinding(baseURL, timeout, log)}
}

// AddComment posts a markdown comment onto the external ticket
func (c *TrackerClient) AddComment(ctx context.Context, externalKey, markdown string) error {
	payload := map[string]string{
		"external_key": externalKey,
		"body":         markdown,
	}
	return c.postJSON(ctx, "/api/v1/comments", payload, nil)
}

// VcsClient opens pull requests through the VCS gateway
type VcsClient struct {
	httpBinding
}

// NewVcsClient creates an HTTP VCS provider
func NewVcsClient(baseURL string, timeout time.Duration, log *logger.Logger) *VcsClient {
	return &VcsClient{httpBinding: newHTTPBinding(baseURL, timeout, log)}
}

// OpenPR opens a pull request and returns the provider-assigned identity
func (c *VcsClient) OpenPR(ctx context.Context, req *PrRequest) (*PrResult, error) {
	var result PrResult
	if err := c.postJSON(ctx, "/api/v1/pulls", req, &result); err != nil {
		return nil, err
	}
	if result.URL == "" {
		return nil, fmt.Errorf("vcs provider returned no PR url")
	}
	return &result, nil
}

// SandboxRunner executes commands through the sandboxed execution service
type SandboxRunner struct {
	httpBinding
	// Fallback for runDirect: trusted local execution
	direct *LocalRunner
}

// NewSandboxRunner creates an HTTP command runner
func NewSandboxRunner(baseURL string, timeout time.Duration, log *logger.Logger) *SandboxRunner {
	return &SandboxRunner{
		httpBinding: newHTTPBinding(baseURL, timeout, log),
		direct:      NewLocalRunner(log),
	}
}

// Run executes a command inside the sandbox
func (r *SandboxRunner) Run(ctx context.Context, workspacePath, command string, timeout time.Duration) (*CommandResult, error) {
	payload := map[string]interface{}{
		"workspace":  workspacePath,
		"command":    command,
		"timeout_ms": timeout.Milliseconds(),
	}

	var result CommandResult
	if err := r.postJSON(ctx, "/api/v1/exec", payload, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// RunDirect skips sandbox isolation for trusted local execution
func (r *SandboxRunner) RunDirect(ctx context.Context, workspacePath, command string, timeout time.Duration) (*CommandResult, error) {
	return r.direct.RunDirect(ctx, workspacePath, command, timeout)
}

// IndexerClient speaks to the embedding/retrieval service
type IndexerClient struct {
	httpBinding
}

// NewIndexerClient creates an HTTP embedding indexer
func NewIndexerClient(baseURL string, timeout time.Duration, log *logger.Logger) *IndexerClient {
	return &IndexerClient{httpBinding: newHTTPBinding(baseURL, timeout, log)}
}

// IndexRepository indexes a repository for similarity search
func (c *IndexerClient) IndexRepository(ctx context.Context, repoPath, projectID string, allowedPaths []string) (int, error) {
	payload := map[string]interface{}{
		"repo_path":     repoPath,
		"project_id":    projectID,
		"allowed_paths": allowedPaths,
	}

	var result struct {
		ChunkCount int `json:"chunk_count"`
	}
	if err := c.postJSON(ctx, "/api/v1/index", payload, &result); err != nil {
		return 0, err
	}
	return result.ChunkCount, nil
}

// Search returns the top-k chunks by similarity to the query
func (c *IndexerClient) Search(ctx context.Context, query string, k int, projectID string) ([]models.ContextChunk, error) {
	payload := map[string]interface{}{
		"query":      query,
		"k":          k,
		"project_id": projectID,
	}

	var result struct {
		Chunks []models.ContextChunk `json:"chunks"`
	}
	if err := c.postJSON(ctx, "/api/v1/search", payload, &result); err != nil {
		return nil, err
	}
	return result.Chunks, nil
}

// ClearProjectEmbeddings drops all indexed chunks for a project
func (c *IndexerClient) ClearProjectEmbeddings(ctx context.Context, projectID string) error {
	payload := map[string]string{"project_id": projectID}
	return c.postJSON(ctx, "/api/v1/clear", payload, nil)
}
