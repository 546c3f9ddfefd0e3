package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client talks to the tracker HTTP API.
type Client struct {
	baseURL   *url.URL
	http      *http.Client
	userAgent string
}

const (
	defaultAPIURL    = "127.0.0.1:8787"
	defaultUserAgent = "tally/0.1"
	requestTimeout   = 10 * time.Second
)

// ErrNoData is returned when a response envelope carries neither data nor an
// error for an operation that needs a payload.
var ErrNoData = errors.New("response carried no data")

// Error is a rejected request: a non-2xx status or an envelope error string.
type Error struct {
	Method  string
	Path    string
	Status  int
	Message string
}

func (e *Error) Error() string {
	msg := strings.TrimSpace(e.Message)
	if msg == "" {
		msg = http.StatusText(e.Status)
	}
	if e.Status >= 400 {
		return fmt.Sprintf("api %s %s returned status %d: %s", e.Method, e.Path, e.Status, msg)
	}
	return fmt.Sprintf("api %s %s: %s", e.Method, e.Path, msg)
}

// NewClient builds a Client for apiURL (host:port or a full URL).
func NewClient(apiURL string) (*Client, error) {
	base, err := parseBaseURL(apiURL)
	if err != nil {
		return nil, err
	}
	return &Client{
		baseURL: base,
		http: &http.Client{
			Timeout: requestTimeout,
		},
		userAgent: defaultUserAgent,
	}, nil
}

// BaseURL returns the normalized API root.
func (c *Client) BaseURL() string {
	if c == nil || c.baseURL == nil {
		return ""
	}
	return c.baseURL.String()
}

// Health checks that the API answers. It is the connectivity probe target.
func (c *Client) Health(ctx context.Context) error {
	if c == nil {
		return fmt.Errorf("client is nil")
	}
	_, err := call[struct{}](ctx, c, http.MethodGet, &url.URL{Path: "/api/health"}, nil, false)
	return err
}

// Profile returns the singleton profile resource.
func (c *Client) Profile() *Document[Profile] {
	return &Document[Profile]{client: c, path: "/api/profile"}
}

// Events returns the events collection.
func (c *Client) Events() *Collection[Event] {
	return NewCollection[Event](c, "/api/events")
}

// Tasks returns the tasks collection.
func (c *Client) Tasks() *Collection[Task] {
	return NewCollection[Task](c, "/api/tasks")
}

// Sanctions returns the sanctions collection.
func (c *Client) Sanctions() *Collection[Sanction] {
	return NewCollection[Sanction](c, "/api/sanctions")
}

// Collection is a list resource supporting CRUD by id.
type Collection[E Entity] struct {
	client *Client
	path   string
}

// NewCollection binds a collection resource rooted at path.
func NewCollection[E Entity](c *Client, path string) *Collection[E] {
	return &Collection[E]{client: c, path: strings.TrimRight(path, "/")}
}

// List fetches every entity in the collection.
func (r *Collection[E]) List(ctx context.Context) ([]E, error) {
	items, err := call[[]E](ctx, r.client, http.MethodGet, &url.URL{Path: r.path}, nil, false)
	if err != nil {
		return nil, err
	}
	return items, nil
}

// Create posts a new entity and returns the server's version of it.
func (r *Collection[E]) Create(ctx context.Context, input E) (E, error) {
	return call[E](ctx, r.client, http.MethodPost, &url.URL{Path: r.path}, input, true)
}

// Update patches the entity with the given id.
func (r *Collection[E]) Update(ctx context.Context, id string, patch Patch) (E, error) {
	if strings.TrimSpace(id) == "" {
		var zero E
		return zero, fmt.Errorf("entity id required")
	}
	return call[E](ctx, r.client, http.MethodPatch, r.itemPath(id), patch, true)
}

// Delete removes the entity with the given id.
func (r *Collection[E]) Delete(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("entity id required")
	}
	_, err := call[struct{}](ctx, r.client, http.MethodDelete, r.itemPath(id), nil, false)
	return err
}

func (r *Collection[E]) itemPath(id string) *url.URL {
	return &url.URL{
		Path:    r.path + "/" + id,
		RawPath: r.path + "/" + url.PathEscape(id),
	}
}

// Document is a single-object resource such as the profile.
type Document[T any] struct {
	client *Client
	path   string
}

// Get fetches the document.
func (r *Document[T]) Get(ctx context.Context) (T, error) {
	return call[T](ctx, r.client, http.MethodGet, &url.URL{Path: r.path}, nil, true)
}

// Update patches the document.
func (r *Document[T]) Update(ctx context.Context, patch Patch) (T, error) {
	return call[T](ctx, r.client, http.MethodPatch, &url.URL{Path: r.path}, patch, true)
}

func call[T any](ctx context.Context, c *Client, method string, rel *url.URL, body any, requireData bool) (T, error) {
	var zero T
	if c == nil {
		return zero, fmt.Errorf("client is nil")
	}
	var env Envelope[T]
	status, err := c.do(ctx, method, rel, body, &env)
	if err != nil {
		return zero, err
	}
	if env.Error != "" || status >= 400 {
		return zero, &Error{Method: method, Path: rel.Path, Status: status, Message: env.Error}
	}
	if env.Data == nil {
		if requireData {
			return zero, fmt.Errorf("api %s %s: %w", method, rel.Path, ErrNoData)
		}
		return zero, nil
	}
	return *env.Data, nil
}

// do executes the request and decodes the body into dest. Error statuses are
// decoded too so the envelope's message can be surfaced.
func (c *Client) do(ctx context.Context, method string, rel *url.URL, body any, dest any) (int, error) {
	reqURL := c.baseURL.ResolveReference(rel)

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL.String(), reader)
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("execute request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, fmt.Errorf("read response: %w", err)
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return resp.StatusCode, nil
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		if resp.StatusCode >= 400 {
			return resp.StatusCode, &Error{Method: method, Path: rel.Path, Status: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
		}
		return resp.StatusCode, fmt.Errorf("decode response: %w", err)
	}
	return resp.StatusCode, nil
}

func parseBaseURL(apiURL string) (*url.URL, error) {
	trimmed := strings.TrimSpace(apiURL)
	if trimmed == "" {
		trimmed = defaultAPIURL
	}
	if !strings.Contains(trimmed, "://") {
		trimmed = "http://" + trimmed
	}
	u, err := url.Parse(trimmed)
	if err != nil {
		return nil, fmt.Errorf("parse api_url %q: %w", apiURL, err)
	}
	u.Path = ""
	u.RawQuery = ""
	u.Fragment = ""
	return u, nil
}
