package taskcullsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client is a minimal Taskcull HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Task represents the API task model.
type Task struct {
	ID        string `json:"id"`
	AppPath   string `json:"app_path"`
	Status    string `json:"status"`
	StartedAt string `json:"started_at,omitempty"`
}

// Deployment identifies an accepted scale-down plan.
type Deployment struct {
	ID      string `json:"deploymentId"`
	Version string `json:"version"`
}

// WorkloadFailure is a per-workload kill failure.
type WorkloadFailure struct {
	AppPath string `json:"app_path"`
	Error   string `json:"error"`
}

// KillResult is the response of a kill request.
type KillResult struct {
	Tasks      []string          `json:"tasks,omitempty"`
	Failures   []WorkloadFailure `json:"failures,omitempty"`
	Deployment *Deployment       `json:"deployment,omitempty"`
}

// QueueEntry is one launch queue snapshot.
type QueueEntry struct {
	AppPath              string `json:"app_path"`
	InProgress           bool   `json:"in_progress"`
	LeftToLaunch         int    `json:"left_to_launch"`
	FinalInstanceCount   int    `json:"final_instance_count"`
	UnreachableInstances int    `json:"unreachable_instances"`
	BackoffUntil         string `json:"backoff_until,omitempty"`
	StartedAt            string `json:"started_at,omitempty"`
}

// Event represents a log entry.
type Event struct {
	ID       int64  `json:"id"`
	TS       string `json:"ts"`
	Type     string `json:"type"`
	AppPath  string `json:"app_path,omitempty"`
	EntityID string `json:"entity_id,omitempty"`
	ActorID  string `json:"actor_id"`
	Payload  string `json:"payload,omitempty"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Health pings the server.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "v1/health", nil, nil)
}

// ListTasks returns the full task snapshot.
func (c *Client) ListTasks(ctx context.Context) ([]Task, error) {
	var resp []Task
	err := c.do(ctx, http.MethodGet, "v1/tasks", nil, &resp)
	return resp, err
}

// GetTask returns one task by identifier.
func (c *Client) GetTask(ctx context.Context, id string) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodGet, "v1/tasks/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// KillTasks kills the given tasks. With scale=true the owning apps are
// scaled down by the killed amount and the result carries a deployment
// instead of a task list.
func (c *Client) KillTasks(ctx context.Context, ids []string, scale, force bool) (KillResult, error) {
	endpoint := "v1/tasks/delete?scale=" + strconv.FormatBool(scale) + "&force=" + strconv.FormatBool(force)
	var resp KillResult
	err := c.do(ctx, http.MethodPost, endpoint, map[string]any{"ids": ids}, &resp)
	return resp, err
}

// Queue returns launch queue snapshots.
func (c *Client) Queue(ctx context.Context) ([]QueueEntry, error) {
	var resp []QueueEntry
	err := c.do(ctx, http.MethodGet, "v1/queue", nil, &resp)
	return resp, err
}

// Events returns the most recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	var resp []Event
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("v1/events?limit=%d", limit), nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
