package taskboardsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Client is a minimal Taskboard HTTP API client.
type Client struct {
	BaseURL     string
	BasePath    string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:  baseURL,
		BasePath: "/v0",
		Timeout:  10 * time.Second,
	}
}

// Task represents the API task model.
type Task struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Status    string `json:"status"`
	Priority  string `json:"priority"`
	DueDate   string `json:"due_date"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

// CreateTaskRequest is the create payload. Empty fields are sent as absent.
type CreateTaskRequest struct {
	Title    string `json:"title,omitempty"`
	Status   string `json:"status,omitempty"`
	Priority string `json:"priority,omitempty"`
	DueDate  string `json:"due_date,omitempty"`
}

type createTaskResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Task    Task   `json:"task"`
}

// TaskPage is one page of the task list.
type TaskPage struct {
	Data        []Task        `json:"data"`
	Total       int           `json:"total"`
	PerPage     int           `json:"per_page"`
	CurrentPage int           `json:"current_page"`
	LastPage    int           `json:"last_page"`
	From        *int          `json:"from"`
	To          *int          `json:"to"`
	PrevPageURL *string       `json:"prev_page_url"`
	NextPageURL *string       `json:"next_page_url"`
	Filters     ServerFilters `json:"filters"`
}

// Principal is the caller as seen by the server.
type Principal struct {
	ActorID string   `json:"actor_id"`
	Roles   []string `json:"roles"`
	Source  string   `json:"source"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Details    map[string]any
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// FieldErrors returns the per-field messages of a validation_failed error.
func (e *APIError) FieldErrors() map[string][]string {
	out := map[string][]string{}
	raw, ok := e.Details["errors"].(map[string]any)
	if !ok {
		return out
	}
	for field, msgs := range raw {
		list, _ := msgs.([]any)
		for _, m := range list {
			if s, ok := m.(string); ok {
				out[field] = append(out[field], s)
			}
		}
	}
	return out
}

// ListTasks fetches page of the list for the given filters.
func (c *Client) ListTasks(ctx context.Context, f Filters, page int) (TaskPage, error) {
	endpoint := "tasks"
	if q := f.Values(page).Encode(); q != "" {
		endpoint += "?" + q
	}
	var resp TaskPage
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// CreateTask creates a task. Rule violations come back as *APIError with
// status 422; see APIError.FieldErrors.
func (c *Client) CreateTask(ctx context.Context, in CreateTaskRequest) (Task, error) {
	var resp createTaskResponse
	err := c.do(ctx, http.MethodPost, "tasks", in, &resp)
	return resp.Task, err
}

// Me returns the authenticated principal.
func (c *Client) Me(ctx context.Context) (Principal, error) {
	var resp Principal
	err := c.do(ctx, http.MethodGet, "me", nil, &resp)
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
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var envelope struct {
			Error struct {
				Code    string         `json:"code"`
				Message string         `json:"message"`
				Details map[string]any `json:"details"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &envelope) == nil {
			apiErr.Code = envelope.Error.Code
			apiErr.Message = envelope.Error.Message
			apiErr.Details = envelope.Error.Details
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/") + "/" + strings.Trim(c.BasePath, "/")
}
