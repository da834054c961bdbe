// Package taskclient talks to the task backend's REST API
// (/api/tasks/...). Every call goes through a circuit breaker so a dead
// backend fails fast instead of tying up CLI invocations.
package taskclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker"
)

// DefaultBaseURL is where the task backend listens in development.
const DefaultBaseURL = "http://localhost:8000/api/"

var (
	ErrNotFound    = errors.New("task not found")
	ErrBreakerOpen = errors.New("task backend unavailable")
)

// Task is a single to-do entry.
type Task struct {
	ID        int64      `json:"id,omitempty"`
	Name      string     `json:"name"`
	Completed bool       `json:"completed"`
	CreatedAt *time.Time `json:"created_at,omitempty"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
}

// TaskPatch carries the fields of a partial update. Nil fields are omitted.
type TaskPatch struct {
	Name      *string `json:"name,omitempty"`
	Completed *bool   `json:"completed,omitempty"`
}

// Page is one page of the task list.
type Page struct {
	Count    int     `json:"count"`
	Next     *string `json:"next"`
	Previous *string `json:"previous"`
	Results  []Task  `json:"results"`
}

// APIError is a non-2xx response from the backend.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("task api returned %d: %s", e.StatusCode, e.Body)
}

// Options configures a Client.
type Options struct {
	BaseURL    string
	HTTPClient *http.Client
	Logger     *slog.Logger
	// MaxFailures consecutive failures open the breaker for OpenTimeout.
	MaxFailures uint32
	OpenTimeout time.Duration
}

// Client is a task backend client. It is safe for concurrent use.
type Client struct {
	base    *url.URL
	http    *http.Client
	logger  *slog.Logger
	breaker *gobreaker.CircuitBreaker
}

// New creates a Client.
func New(opts Options) (*Client, error) {
	raw := opts.BaseURL
	if raw == "" {
		raw = DefaultBaseURL
	}
	if !strings.HasSuffix(raw, "/") {
		raw += "/"
	}
	base, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parsing base url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("base url %q must be absolute", opts.BaseURL)
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxFailures := opts.MaxFailures
	if maxFailures == 0 {
		maxFailures = 3
	}
	openTimeout := opts.OpenTimeout
	if openTimeout <= 0 {
		openTimeout = 30 * time.Second
	}

	settings := gobreaker.Settings{
		Name:        "task-api",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     openTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Info("circuit breaker state changed",
				"breaker", name,
				"from", from.String(),
				"to", to.String())
		},
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			// 4xx answers mean the backend is up.
			if errors.Is(err, ErrNotFound) {
				return true
			}
			var apiErr *APIError
			if errors.As(err, &apiErr) {
				return apiErr.StatusCode < 500
			}
			return false
		},
	}

	return &Client{
		base:    base,
		http:    httpClient,
		logger:  logger,
		breaker: gobreaker.NewCircuitBreaker(settings),
	}, nil
}

// BreakerState reports the breaker state, "closed", "open" or "half-open".
func (c *Client) BreakerState() string {
	return c.breaker.State().String()
}

// List fetches one page. Pages start at 1.
func (c *Client) List(ctx context.Context, page int) (*Page, error) {
	if page < 1 {
		page = 1
	}
	var p Page
	if err := c.do(ctx, http.MethodGet, "tasks/?page="+strconv.Itoa(page), nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// All walks every page by following next links.
func (c *Client) All(ctx context.Context) ([]Task, error) {
	tasks := []Task{}
	next := "tasks/?page=1"
	for seen := 0; next != ""; seen++ {
		// Guard against a backend that links a page to itself.
		if seen > 10000 {
			return nil, errors.New("too many pages")
		}
		var p Page
		if err := c.do(ctx, http.MethodGet, next, nil, &p); err != nil {
			return nil, err
		}
		tasks = append(tasks, p.Results...)
		next = ""
		if p.Next != nil {
			next = *p.Next
		}
	}
	return tasks, nil
}

func (c *Client) Get(ctx context.Context, id int64) (*Task, error) {
	var t Task
	if err := c.do(ctx, http.MethodGet, taskPath(id), nil, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// Create adds a task. Name is required and is trimmed by the backend.
func (c *Client) Create(ctx context.Context, name string, completed bool) (*Task, error) {
	if strings.TrimSpace(name) == "" {
		return nil, errors.New("task name is required")
	}
	var t Task
	body := Task{Name: name, Completed: completed}
	if err := c.do(ctx, http.MethodPost, "tasks/", body, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// Replace overwrites every writable field of the task (PUT).
func (c *Client) Replace(ctx context.Context, id int64, name string, completed bool) (*Task, error) {
	var t Task
	body := Task{Name: name, Completed: completed}
	if err := c.do(ctx, http.MethodPut, taskPath(id), body, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// Patch updates only the fields set in patch.
func (c *Client) Patch(ctx context.Context, id int64, patch TaskPatch) (*Task, error) {
	var t Task
	if err := c.do(ctx, http.MethodPatch, taskPath(id), patch, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// Toggle sets the completed flag.
func (c *Client) Toggle(ctx context.Context, id int64, completed bool) (*Task, error) {
	return c.Patch(ctx, id, TaskPatch{Completed: &completed})
}

func (c *Client) Delete(ctx context.Context, id int64) error {
	return c.do(ctx, http.MethodDelete, taskPath(id), nil, nil)
}

func taskPath(id int64) string {
	return "tasks/" + strconv.FormatInt(id, 10) + "/"
}

func (c *Client) do(ctx context.Context, method, ref string, in, out any) error {
	target, err := c.base.Parse(ref)
	if err != nil {
		return fmt.Errorf("resolving %s: %w", ref, err)
	}

	_, err = c.breaker.Execute(func() (interface{}, error) {
		return nil, c.roundTrip(ctx, method, target.String(), in, out)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %v", ErrBreakerOpen, err)
	}
	return err
}

func (c *Client) roundTrip(ctx context.Context, method, target string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, target, err)
	}
	defer resp.Body.Close()

	c.logger.Debug("task api call",
		"method", method,
		"url", target,
		"status", resp.StatusCode,
		"duration", time.Since(start))

	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
