// Package sentinel is a small Go client for the Web3 Sentinel REST API.
package sentinel

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"sync"
	"time"
)

// DefaultHTTPTimeout defines the timeout used by clients created without a
// custom http.Client. Dispatches run synchronously on the server, so it is
// longer than a typical REST timeout.
const DefaultHTTPTimeout = 60 * time.Second

// Client wraps the HTTP interactions with the Web3 Sentinel API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client

	mu          sync.RWMutex
	accessToken string
}

// Agent describes one registered agent variant.
type Agent struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Description  string   `json:"description"`
	Type         string   `json:"type"`
	Status       string   `json:"status"`
	Capabilities []string `json:"capabilities"`
}

// TaskInput is the caller supplied part of a task.
type TaskInput struct {
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
}

// Task is the record returned after an agent ran.
type Task struct {
	ID          string          `json:"id"`
	AgentID     string          `json:"agentId"`
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Status      string          `json:"status"`
	CreatedAt   time.Time       `json:"createdAt"`
	CompletedAt *time.Time      `json:"completedAt,omitempty"`
	Result      json.RawMessage `json:"result,omitempty"`
	Error       string          `json:"error,omitempty"`
}

// DispatchRequest selects an agent and the task it should run. ID only applies
// to SubmitJob, where it makes resubmission idempotent; Dispatch ignores it.
type DispatchRequest struct {
	ID        string    `json:"id,omitempty"`
	AgentType string    `json:"agentType"`
	Task      TaskInput `json:"task"`
}

// Job is an asynchronously executed dispatch.
type Job struct {
	ID          string `json:"id"`
	AgentType   string `json:"agentType"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Status      string `json:"status"`
	Attempts    int    `json:"attempts"`
	MaxRetries  int    `json:"maxRetries"`
	LastError   string `json:"lastError,omitempty"`
	ErrorCode   string `json:"errorCode,omitempty"`
	Task        *Task  `json:"task,omitempty"`
	CreatedAt   int64  `json:"createdAt"`
	UpdatedAt   int64  `json:"updatedAt"`
}

// Done reports whether the job reached a terminal status.
func (j Job) Done() bool {
	return j.Status == "succeeded" || j.Status == "failed"
}

// JobStats counts jobs per status.
type JobStats struct {
	Total     int `json:"total"`
	Queued    int `json:"queued"`
	Running   int `json:"running"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// JobQuery filters ListJobs. Zero values are omitted.
type JobQuery struct {
	Limit    int
	Offset   int
	Statuses []string
	Agents   []string
	Since    time.Time
	Until    time.Time
	Order    string
	Query    string
}

func (q JobQuery) values() url.Values {
	values := url.Values{}
	if q.Limit > 0 {
		values.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.Offset > 0 {
		values.Set("offset", strconv.Itoa(q.Offset))
	}
	for _, status := range q.Statuses {
		values.Add("status", status)
	}
	for _, agent := range q.Agents {
		values.Add("agent", agent)
	}
	if !q.Since.IsZero() {
		values.Set("since", q.Since.UTC().Format(time.RFC3339))
	}
	if !q.Until.IsZero() {
		values.Set("until", q.Until.UTC().Format(time.RFC3339))
	}
	if q.Order != "" {
		values.Set("order", q.Order)
	}
	if q.Query != "" {
		values.Set("q", q.Query)
	}
	return values
}

// APIError represents a non-2xx response.
type APIError struct {
	StatusCode int    `json:"-"`
	Code       string `json:"code,omitempty"`
	Message    string `json:"error"`
	// Task is set when a dispatch reached the agent but the agent failed.
	Task       *Task  `json:"task,omitempty"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("sentinel api error (%d): %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("sentinel api error (%d): %s", e.StatusCode, e.Message)
}

// NewClient instantiates a client for the Web3 Sentinel API. When httpClient
// is nil, a default client with DefaultHTTPTimeout is used.
func NewClient(rawURL string, httpClient *http.Client) (*Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("invalid base url: %q", rawURL)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}, nil
}

// AccessToken returns the currently stored token string.
func (c *Client) AccessToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.accessToken
}

// SetAccessToken sets the bearer token sent with every request. An empty
// token disables the Authorization header.
func (c *Client) SetAccessToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.accessToken = token
}

// ListAgents returns every registered agent.
func (c *Client) ListAgents(ctx context.Context) ([]Agent, error) {
	var out struct {
		Agents []Agent `json:"agents"`
	}
	if err := c.get(ctx, "/api/agents", nil, &out); err != nil {
		return nil, err
	}
	return out.Agents, nil
}

// GetAgent returns a single agent descriptor.
func (c *Client) GetAgent(ctx context.Context, id string) (Agent, error) {
	var out struct {
		Agent Agent `json:"agent"`
	}
	if err := c.get(ctx, "/api/agents/"+url.PathEscape(id), nil, &out); err != nil {
		return Agent{}, err
	}
	return out.Agent, nil
}

// Dispatch runs an agent synchronously. When the agent itself fails the
// returned *APIError carries the failed task.
func (c *Client) Dispatch(ctx context.Context, req DispatchRequest) (Task, error) {
	var out struct {
		Task Task `json:"task"`
	}
	req.ID = ""
	if err := c.post(ctx, "/api/agents", req, &out); err != nil {
		return Task{}, err
	}
	return out.Task, nil
}

// History returns recently finished tasks, newest first.
func (c *Client) History(ctx context.Context, agent string, limit int) ([]Task, error) {
	query := url.Values{}
	if agent != "" {
		query.Set("agent", agent)
	}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	var out struct {
		Tasks []Task `json:"tasks"`
	}
	if err := c.get(ctx, "/api/agents/history", query, &out); err != nil {
		return nil, err
	}
	return out.Tasks, nil
}

// SubmitJob queues a dispatch for asynchronous execution.
func (c *Client) SubmitJob(ctx context.Context, req DispatchRequest) (Job, error) {
	var out struct {
		Job Job `json:"job"`
	}
	if err := c.post(ctx, "/api/tasks", req, &out); err != nil {
		return Job{}, err
	}
	return out.Job, nil
}

// GetJob fetches a job by identifier.
func (c *Client) GetJob(ctx context.Context, id string) (Job, error) {
	var out struct {
		Job Job `json:"job"`
	}
	if err := c.get(ctx, "/api/tasks/"+url.PathEscape(id), nil, &out); err != nil {
		return Job{}, err
	}
	return out.Job, nil
}

// ListJobs lists jobs matching the query.
func (c *Client) ListJobs(ctx context.Context, query JobQuery) ([]Job, error) {
	var out struct {
		Jobs []Job `json:"jobs"`
	}
	if err := c.get(ctx, "/api/tasks", query.values(), &out); err != nil {
		return nil, err
	}
	return out.Jobs, nil
}

// JobStats returns per-status counters for jobs matching the query.
func (c *Client) JobStats(ctx context.Context, query JobQuery) (JobStats, error) {
	var out struct {
		Stats JobStats `json:"stats"`
	}
	if err := c.get(ctx, "/api/tasks/stats", query.values(), &out); err != nil {
		return JobStats{}, err
	}
	return out.Stats, nil
}

// WaitForJob polls until the job is terminal or ctx is done.
func (c *Client) WaitForJob(ctx context.Context, id string, interval time.Duration) (Job, error) {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		job, err := c.GetJob(ctx, id)
		if err != nil {
			return Job{}, err
		}
		if job.Done() {
			return job, nil
		}
		select {
		case <-ctx.Done():
			return job, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Client) post(ctx context.Context, endpoint string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, nil, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, endpoint string, query url.Values, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, endpoint, query, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, query url.Values, body io.Reader) (*http.Request, error) {
	rel := &url.URL{Path: path.Join(c.baseURL.Path, endpoint)}
	if len(query) > 0 {
		rel.RawQuery = query.Encode()
	}
	u := c.baseURL.ResolveReference(rel)
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if token := c.AccessToken(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return fmt.Errorf("read error response: %w", err)
		}
		if len(data) > 0 {
			_ = json.Unmarshal(data, apiErr)
		}
		if apiErr.Message == "" {
			apiErr.Message = string(bytes.TrimSpace(data))
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// IsNotFound reports whether err is a 404 from the API.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}
