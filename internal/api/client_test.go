package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestParseBaseURL_DefaultsAndNormalizes(t *testing.T) {
	u, err := parseBaseURL("")
	if err != nil {
		t.Fatalf("parseBaseURL returned error: %v", err)
	}
	if u.Scheme != "http" {
		t.Fatalf("scheme = %q, want http", u.Scheme)
	}
	if u.Host != defaultAPIURL {
		t.Fatalf("host = %q, want %q", u.Host, defaultAPIURL)
	}

	u, err = parseBaseURL("https://tracker.example.com:1234/path?x=1#frag")
	if err != nil {
		t.Fatalf("parseBaseURL returned error: %v", err)
	}
	if u.Path != "" || u.RawQuery != "" || u.Fragment != "" {
		t.Fatalf("url not normalized: %q", u.String())
	}
}

func writeEnvelope(w http.ResponseWriter, status int, data any, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	body := map[string]any{}
	if data != nil {
		body["data"] = data
	}
	if msg != "" {
		body["error"] = msg
	}
	_ = json.NewEncoder(w).Encode(body)
}

func TestClient_CollectionCRUD(t *testing.T) {
	t.Parallel()

	var gotPatch map[string]any
	var gotCreate Task
	var gotUserAgent string
	var deletedPath string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUserAgent = r.Header.Get("User-Agent")
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/api/tasks":
			writeEnvelope(w, http.StatusOK, []Task{{ID: "t1", Title: "Run"}}, "")
		case r.Method == http.MethodPost && r.URL.Path == "/api/tasks":
			_ = json.NewDecoder(r.Body).Decode(&gotCreate)
			writeEnvelope(w, http.StatusCreated, Task{ID: "t2", Title: gotCreate.Title}, "")
		case r.Method == http.MethodPatch && r.URL.Path == "/api/tasks/t1":
			_ = json.NewDecoder(r.Body).Decode(&gotPatch)
			writeEnvelope(w, http.StatusOK, Task{ID: "t1", Title: "Run", Done: true}, "")
		case r.Method == http.MethodDelete && strings.HasPrefix(r.URL.Path, "/api/tasks/"):
			deletedPath = r.URL.Path
			writeEnvelope(w, http.StatusOK, nil, "")
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(server.Close)

	c, err := NewClient(server.URL)
	if err != nil {
		t.Fatalf("NewClient returned error: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)

	tasks, err := c.Tasks().List(ctx)
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}
	if len(tasks) != 1 || tasks[0].ID != "t1" {
		t.Fatalf("List = %#v, want 1 task id=t1", tasks)
	}

	created, err := c.Tasks().Create(ctx, Task{Title: "Read"})
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	if created.ID != "t2" || gotCreate.Title != "Read" {
		t.Fatalf("Create = %#v (sent %#v), want id=t2 title=Read", created, gotCreate)
	}

	updated, err := c.Tasks().Update(ctx, "t1", Patch{"done": true})
	if err != nil {
		t.Fatalf("Update returned error: %v", err)
	}
	if !updated.Done || gotPatch["done"] != true {
		t.Fatalf("Update = %#v (sent %v), want done", updated, gotPatch)
	}

	if err := c.Tasks().Delete(ctx, "a b"); err != nil {
		t.Fatalf("Delete returned error: %v", err)
	}
	if deletedPath != "/api/tasks/a b" {
		t.Fatalf("Delete path = %q, want escaped id path", deletedPath)
	}

	if !strings.HasPrefix(gotUserAgent, "tally/") {
		t.Fatalf("User-Agent = %q, want tally/*", gotUserAgent)
	}
}

func TestClient_EnvelopeErrorsAndDecodeErrors(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/profile":
			w.Header().Set("Content-Type", "application/json")
			_, _ = io.WriteString(w, "{not-json")
		case "/api/events":
			writeEnvelope(w, http.StatusUnprocessableEntity, nil, "title required")
		case "/api/sanctions":
			http.Error(w, "upstream down", http.StatusBadGateway)
		case "/api/tasks":
			writeEnvelope(w, http.StatusOK, nil, "quota exceeded")
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(server.Close)

	c, err := NewClient(server.URL)
	if err != nil {
		t.Fatalf("NewClient returned error: %v", err)
	}
	ctx := context.Background()

	if _, err := c.Profile().Get(ctx); err == nil || !strings.Contains(err.Error(), "decode response") {
		t.Fatalf("Profile().Get error = %v, want decode response error", err)
	}

	_, err = c.Events().Create(ctx, Event{})
	var apiErr *Error
	if !errors.As(err, &apiErr) {
		t.Fatalf("Events().Create error = %v, want *Error", err)
	}
	if apiErr.Status != http.StatusUnprocessableEntity || apiErr.Message != "title required" {
		t.Fatalf("Events().Create error = %#v, want 422 title required", apiErr)
	}

	if _, err := c.Sanctions().List(ctx); err == nil || !strings.Contains(err.Error(), "returned status 502") {
		t.Fatalf("Sanctions().List error = %v, want status 502 error", err)
	}

	if _, err := c.Tasks().List(ctx); err == nil || !strings.Contains(err.Error(), "quota exceeded") {
		t.Fatalf("Tasks().List error = %v, want envelope error", err)
	}
}

func TestClient_DocumentRequiresData(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusOK, nil, "")
	}))
	t.Cleanup(server.Close)

	c, err := NewClient(server.URL)
	if err != nil {
		t.Fatalf("NewClient returned error: %v", err)
	}
	if _, err := c.Profile().Get(context.Background()); !errors.Is(err, ErrNoData) {
		t.Fatalf("Profile().Get error = %v, want ErrNoData", err)
	}
	if err := c.Health(context.Background()); err != nil {
		t.Fatalf("Health returned error: %v", err)
	}
}

func TestCollection_UpdateRequiresID(t *testing.T) {
	c, err := NewClient("127.0.0.1:1")
	if err != nil {
		t.Fatalf("NewClient returned error: %v", err)
	}
	if _, err := c.Tasks().Update(context.Background(), " ", Patch{"done": true}); err == nil {
		t.Fatalf("Update returned nil error, want error")
	}
	if err := c.Tasks().Delete(context.Background(), ""); err == nil {
		t.Fatalf("Delete returned nil error, want error")
	}
}

func TestApplyPatch(t *testing.T) {
	due := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	task := Task{ID: "t1", Title: "Run", Gold: 5, Due: &due}

	got, err := ApplyPatch(task, Patch{"done": true, "title": "Run 5k", "due": nil})
	if err != nil {
		t.Fatalf("ApplyPatch returned error: %v", err)
	}
	if !got.Done || got.Title != "Run 5k" || got.Gold != 5 || got.Due != nil {
		t.Fatalf("ApplyPatch = %#v, want done, retitled, gold kept, due cleared", got)
	}
	if task.Done || task.Due == nil {
		t.Fatalf("ApplyPatch mutated its input: %#v", task)
	}

	if _, err := ApplyPatch(task, Patch{"gold": "many"}); err == nil {
		t.Fatalf("ApplyPatch with wrong type returned nil error")
	}
}
