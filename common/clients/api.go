package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/lyzr/mend/common/models"
)

// APIClient handles communication with the mend API service
// Used by the CLI and by external integrations
type APIClient struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewAPIClient creates a new API client
func NewAPIClient(baseURL, token string) *APIClient {
	return &APIClient{
		baseURL: baseURL,
		token:   token,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// IngestRequest is the payload for ticket ingestion
type IngestRequest struct {
	ExternalKey        string                 `json:"external_key"`
	ProjectID          string                 `json:"project_id"`
	Title              string                 `json:"title"`
	Description        string                 `json:"description,omitempty"`
	AcceptanceCriteria []string               `json:"acceptance_criteria,omitempty"`
	Priority           string                 `json:"priority,omitempty"`
	Labels             []string               `json:"labels,omitempty"`
	Meta               map[string]interface{} `json:"meta,omitempty"`
	Force              bool                   `json:"force,omitempty"`
}

// IngestResponse is returned after a ticket is accepted
type IngestResponse struct {
	TicketID string `json:"ticket_id"`
	State    string `json:"state"`
	Resumed  bool   `json:"resumed"`
}

// Ingest submits a ticket and starts its workflow
func (c *APIClient) Ingest(ctx context.Context, req *IngestRequest) (*IngestResponse, error) {
	var resp IngestResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/tickets", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Status fetches the workflow status for a ticket
func (c *APIClient) Status(ctx context.Context, ticketID string) (*models.WorkflowStatus, error) {
	var status models.WorkflowStatus
	path := fmt.Sprintf("/api/v1/workflows/%s", ticketID)
	if err := c.do(ctx, http.MethodGet, path, nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// Statistics fetches aggregate workflow counts
func (c *APIClient) Statistics(ctx context.Context) (*models.WorkflowStatistics, error) {
	var stats models.WorkflowStatistics
	if err := c.do(ctx, http.MethodGet, "/api/v1/workflows/stats", nil, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

// Retry resumes a failed workflow from its checkpoint
func (c *APIClient) Retry(ctx context.Context, ticketID string) (*models.WorkflowStatus, error) {
	var status models.WorkflowStatus
	path := fmt.Sprintf("/api/v1/workflows/%s/retry", ticketID)
	if err := c.do(ctx, http.MethodPost, path, nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// Cancel marks a workflow cancelled
func (c *APIClient) Cancel(ctx context.Context, ticketID string) (*models.WorkflowStatus, error) {
	var status models.WorkflowStatus
	path := fmt.Sprintf("/api/v1/workflows/%s/cancel", ticketID)
	if err := c.do(ctx, http.MethodPost, path, nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// LatestBundle fetches the most recent failure bundle for a ticket
// Returns nil when no bundle has been captured
func (c *APIClient) LatestBundle(ctx context.Context, ticketID string) (*models.FailureBundle, error) {
	var bundle models.FailureBundle
	path := fmt.Sprintf("/api/v1/tickets/%s/bundles/latest", ticketID)
	err := c.do(ctx, http.MethodGet, path, nil, &bundle)
	if err != nil {
		var apiErr *APIError
		if asAPIError(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &bundle, nil
}

// Runs fetches check run history for a ticket
func (c *APIClient) Runs(ctx context.Context, ticketID string) ([]*models.Run, error) {
	var resp struct {
		Runs []*models.Run `json:"runs"`
	}
	path := fmt.Sprintf("/api/v1/tickets/%s/runs", ticketID)
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Runs, nil
}

// APIError represents a non-2xx response from the API
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d message=%s", e.StatusCode, e.Message)
}

func asAPIError(err error, target **APIError) bool {
	apiErr, ok := err.(*APIError)
	if ok {
		*target = apiErr
	}
	return ok
}

func (c *APIClient) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errBody struct {
			Error string `json:"error"`
		}
		raw, _ := io.ReadAll(resp.Body)
		if err := json.Unmarshal(raw, &errBody); err != nil || errBody.Error == "" {
			errBody.Error = string(raw)
		}
		return &APIError{StatusCode: resp.StatusCode, Message: errBody.Error}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
