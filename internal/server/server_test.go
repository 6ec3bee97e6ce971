package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskboard/internal/config"
	"taskboard/internal/db"
	"taskboard/internal/engine"
	"taskboard/internal/migrate"
	"taskboard/internal/validation"
)

type testServer struct {
	URL    string
	Engine engine.Engine
	Token  string
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

// auth returns headers carrying a valid bearer token.
func (s *testServer) auth() map[string]string {
	return map[string]string{"Authorization": "Bearer " + s.Token}
}

func newTestServer(t *testing.T, authCfg AuthConfig) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	_, err := db.EnsureWorkspace(workspace)
	require.NoError(t, err)
	cfg := config.Default()
	cfg.Auth.JWTSecret = "test-secret"
	conn, err := db.Open(db.Config{Workspace: workspace})
	require.NoError(t, err)
	require.NoError(t, migrate.Migrate(context.Background(), conn))
	e := engine.New(conn, cfg)
	clock := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	e.Now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}
	e.Auth.Now = func() time.Time { return time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC) }
	token, _, err := e.Auth.SignToken("tester", nil)
	require.NoError(t, err)
	handler, err := New(Config{Engine: e, BasePath: "/v0", Auth: authCfg})
	require.NoError(t, err)
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	require.NoError(t, err)
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		Engine: e,
		Token:  token,
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	return doRaw(t, client, method, url, "application/json", reader, headers)
}

func doRaw(t *testing.T, client *http.Client, method, url, contentType string, body io.Reader, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, url, body)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", contentType)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

type errorEnvelope struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
		Details struct {
			Errors map[string][]string `json:"errors"`
		} `json:"details"`
	} `json:"error"`
}

type listBody struct {
	Data []struct {
		ID       string `json:"id"`
		Title    string `json:"title"`
		Status   string `json:"status"`
		Priority string `json:"priority"`
	} `json:"data"`
	Total       int     `json:"total"`
	PerPage     int     `json:"per_page"`
	CurrentPage int     `json:"current_page"`
	LastPage    int     `json:"last_page"`
	From        *int    `json:"from"`
	To          *int    `json:"to"`
	PrevPageURL *string `json:"prev_page_url"`
	NextPageURL *string `json:"next_page_url"`
	Filters     struct {
		Status        *string `json:"status"`
		Priority      *string `json:"priority"`
		SortBy        *string `json:"sort_by"`
		SortDirection string  `json:"sort_direction"`
		PerPage       int     `json:"per_page"`
	} `json:"filters"`
}

func (l listBody) titles() []string {
	out := []string{}
	for _, d := range l.Data {
		out = append(out, d.Title)
	}
	return out
}

func createTask(t *testing.T, srv *testServer, title, status, priority, due string) {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/tasks", map[string]any{
		"title": title, "status": status, "priority": priority, "due_date": due,
	}, srv.auth())
	require.Equal(t, http.StatusCreated, res.StatusCode, string(data))
}

func listTasks(t *testing.T, srv *testServer, query string) listBody {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/tasks?"+query, nil, srv.auth())
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var out listBody
	require.NoError(t, json.Unmarshal(data, &out))
	return out
}

func createExpecting422(t *testing.T, srv *testServer, body any) errorEnvelope {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/tasks", body, srv.auth())
	require.Equal(t, http.StatusUnprocessableEntity, res.StatusCode, string(data))
	var env errorEnvelope
	require.NoError(t, json.Unmarshal(data, &env))
	assert.Equal(t, "validation_failed", env.Error.Code)
	return env
}

func TestHealthIsOpen(t *testing.T) {
	srv, cleanup := newTestServer(t, AuthConfig{})
	defer cleanup()
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/health", nil, nil)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.JSONEq(t, `{"status":"ok"}`, string(data))
}

func TestUnauthenticatedRequestsAreRejected(t *testing.T) {
	srv, cleanup := newTestServer(t, AuthConfig{})
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/tasks", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
	var env errorEnvelope
	require.NoError(t, json.Unmarshal(data, &env))
	assert.Equal(t, "unauthorized", env.Error.Code)

	res, _ = doJSON(t, client, http.MethodPost, srv.URL+"/v0/tasks", map[string]any{
		"title": "Sneaky", "status": "pending", "priority": "low", "due_date": "2024-02-01",
	}, nil)
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/tasks", nil, map[string]string{"Authorization": "Bearer nope"})
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
	require.NoError(t, json.Unmarshal(data, &env))
	assert.Equal(t, "invalid_credentials", env.Error.Code)

	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v0/tasks", nil, map[string]string{"X-Api-Key": "unknown"})
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)

	// Legacy header is ignored unless enabled.
	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v0/tasks", nil, map[string]string{"X-Actor-Id": "mallory"})
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)

	list := listTasks(t, srv, "")
	assert.Zero(t, list.Total)
}

func TestCreateTaskResponse(t *testing.T) {
	srv, cleanup := newTestServer(t, AuthConfig{})
	defer cleanup()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/tasks", map[string]any{
		"title": "  Test Task  ", "status": "pending", "priority": "high", "due_date": "2024-01-02",
	}, srv.auth())
	require.Equal(t, http.StatusCreated, res.StatusCode, string(data))
	var body struct {
		Success bool   `json:"success"`
		Message string `json:"message"`
		Task    struct {
			ID        string `json:"id"`
			Title     string `json:"title"`
			Status    string `json:"status"`
			Priority  string `json:"priority"`
			DueDate   string `json:"due_date"`
			CreatedAt string `json:"created_at"`
			UpdatedAt string `json:"updated_at"`
		} `json:"task"`
	}
	require.NoError(t, json.Unmarshal(data, &body))
	assert.True(t, body.Success)
	assert.Equal(t, "Task created successfully!", body.Message)
	assert.NotEmpty(t, body.Task.ID)
	assert.Equal(t, "Test Task", body.Task.Title)
	assert.Equal(t, "pending", body.Task.Status)
	assert.Equal(t, "high", body.Task.Priority)
	assert.Equal(t, "2024-01-02", body.Task.DueDate)
	assert.NotEmpty(t, body.Task.CreatedAt)

	list := listTasks(t, srv, "")
	assert.Equal(t, []string{"Test Task"}, list.titles())
}

func TestCreateTaskFormEncoded(t *testing.T) {
	srv, cleanup := newTestServer(t, AuthConfig{})
	defer cleanup()
	form := url.Values{"title": {"From a form"}, "status": {"completed"}, "priority": {"low"}, "due_date": {"2024-06-01"}}
	res, data := doRaw(t, srv.Client(), http.MethodPost, srv.URL+"/v0/tasks",
		"application/x-www-form-urlencoded", strings.NewReader(form.Encode()), srv.auth())
	require.Equal(t, http.StatusCreated, res.StatusCode, string(data))
	assert.Equal(t, []string{"From a form"}, listTasks(t, srv, "").titles())
}

func TestCreateTaskValidationFailures(t *testing.T) {
	srv, cleanup := newTestServer(t, AuthConfig{})
	defer cleanup()

	env := createExpecting422(t, srv, map[string]any{
		"title": "", "status": "invalid", "priority": "invalid", "due_date": "invalid-date",
	})
	assert.Equal(t, map[string][]string{
		"title":    {validation.MsgTitleRequired},
		"status":   {validation.MsgStatusInvalid},
		"priority": {validation.MsgPriorityInvalid},
		"due_date": {validation.MsgDueDateInvalid},
	}, env.Error.Details.Errors)

	env = createExpecting422(t, srv, map[string]any{
		"title": "Due today", "status": "pending", "priority": "low", "due_date": "2024-01-01",
	})
	assert.Equal(t, map[string][]string{"due_date": {validation.MsgDueDateAfter}}, env.Error.Details.Errors)

	env = createExpecting422(t, srv, map[string]any{
		"title": strings.Repeat("x", 256), "status": "pending", "priority": "low", "due_date": "2024-02-01",
	})
	assert.Equal(t, map[string][]string{"title": {validation.MsgTitleMax}}, env.Error.Details.Errors)

	env = createExpecting422(t, srv, map[string]any{})
	assert.Len(t, env.Error.Details.Errors, 4)
	assert.Equal(t, []string{validation.MsgStatusRequired}, env.Error.Details.Errors["status"])

	env = createExpecting422(t, srv, map[string]any{
		"title": "Numbers", "status": 1, "priority": nil, "due_date": 20240201,
	})
	assert.Equal(t, []string{validation.MsgStatusInvalid}, env.Error.Details.Errors["status"])
	assert.Equal(t, []string{validation.MsgPriorityRequired}, env.Error.Details.Errors["priority"])
	assert.Equal(t, []string{validation.MsgDueDateInvalid}, env.Error.Details.Errors["due_date"])

	// Nothing was written by any rejected request.
	assert.Zero(t, listTasks(t, srv, "").Total)

	createTask(t, srv, strings.Repeat("x", 255), "pending", "low", "2024-02-01")
	assert.Equal(t, 1, listTasks(t, srv, "").Total)
}

func TestCreateTaskNonStringFieldsAreFieldErrors(t *testing.T) {
	srv, cleanup := newTestServer(t, AuthConfig{})
	defer cleanup()

	env := createExpecting422(t, srv, map[string]any{
		"title": "ok", "status": 5, "priority": "nope", "due_date": "x",
	})
	assert.Equal(t, map[string][]string{
		"status":   {validation.MsgStatusInvalid},
		"priority": {validation.MsgPriorityInvalid},
		"due_date": {validation.MsgDueDateInvalid},
	}, env.Error.Details.Errors)

	env = createExpecting422(t, srv, map[string]any{
		"title": 123, "status": true, "priority": []string{"high"}, "due_date": map[string]any{"d": 1},
	})
	assert.Len(t, env.Error.Details.Errors, 3)
	assert.NotContains(t, env.Error.Details.Errors, "title")
	assert.Equal(t, []string{validation.MsgStatusInvalid}, env.Error.Details.Errors["status"])
	assert.Equal(t, []string{validation.MsgDueDateInvalid}, env.Error.Details.Errors["due_date"])

	assert.Zero(t, listTasks(t, srv, "").Total)
}

func TestCreateTaskRejectsMalformedJSON(t *testing.T) {
	srv, cleanup := newTestServer(t, AuthConfig{})
	defer cleanup()
	res, data := doRaw(t, srv.Client(), http.MethodPost, srv.URL+"/v0/tasks", "application/json", strings.NewReader(`[1,2`), srv.auth())
	assert.Equal(t, http.StatusBadRequest, res.StatusCode, string(data))
}

func TestListTasksPaginationMetadata(t *testing.T) {
	srv, cleanup := newTestServer(t, AuthConfig{})
	defer cleanup()
	for i := 0; i < 13; i++ {
		createTask(t, srv, "Task", "pending", "medium", "2024-02-01")
	}

	first := listTasks(t, srv, "per_page=5")
	assert.Len(t, first.Data, 5)
	assert.Equal(t, 13, first.Total)
	assert.Equal(t, 5, first.PerPage)
	assert.Equal(t, 1, first.CurrentPage)
	assert.Equal(t, 3, first.LastPage)
	assert.Nil(t, first.PrevPageURL)
	require.NotNil(t, first.NextPageURL)
	next, err := url.Parse(*first.NextPageURL)
	require.NoError(t, err)
	assert.Equal(t, "/v0/tasks", next.Path)
	assert.Equal(t, "2", next.Query().Get("page"))
	assert.Equal(t, "5", next.Query().Get("per_page"))

	last := listTasks(t, srv, "per_page=5&page=3")
	assert.Len(t, last.Data, 3)
	require.NotNil(t, last.From)
	assert.Equal(t, 11, *last.From)
	assert.Equal(t, 13, *last.To)
	assert.Nil(t, last.NextPageURL)

	beyond := listTasks(t, srv, "per_page=5&page=9")
	assert.Empty(t, beyond.Data)
	assert.Equal(t, 9, beyond.CurrentPage)
	assert.Nil(t, beyond.From)

	fallback := listTasks(t, srv, "per_page=1000&page=abc")
	assert.Equal(t, 10, fallback.PerPage)
	assert.Equal(t, 1, fallback.CurrentPage)
	assert.Len(t, fallback.Data, 10)
}

func TestListTasksFilters(t *testing.T) {
	srv, cleanup := newTestServer(t, AuthConfig{})
	defer cleanup()
	createTask(t, srv, "pending high", "pending", "high", "2024-02-01")
	createTask(t, srv, "pending low", "pending", "low", "2024-02-01")
	createTask(t, srv, "completed high", "completed", "high", "2024-02-01")

	list := listTasks(t, srv, "status=pending&priority=high")
	assert.Equal(t, []string{"pending high"}, list.titles())
	assert.Equal(t, 1, list.Total)
	require.NotNil(t, list.Filters.Status)
	assert.Equal(t, "pending", *list.Filters.Status)

	ignored := listTasks(t, srv, "status=urgent&priority=HIGH&sort_by=title&sort_direction=up")
	assert.Equal(t, 3, ignored.Total)
	assert.Nil(t, ignored.Filters.Status)
	assert.Nil(t, ignored.Filters.Priority)
	assert.Nil(t, ignored.Filters.SortBy)
	assert.Equal(t, "asc", ignored.Filters.SortDirection)
	assert.Equal(t, []string{"completed high", "pending low", "pending high"}, ignored.titles())
}

func TestListTasksOrdering(t *testing.T) {
	srv, cleanup := newTestServer(t, AuthConfig{})
	defer cleanup()
	createTask(t, srv, "low", "pending", "low", "2024-03-01")
	createTask(t, srv, "high", "pending", "high", "2024-01-20")
	createTask(t, srv, "medium", "pending", "medium", "2024-02-10")

	assert.Equal(t, []string{"medium", "high", "low"}, listTasks(t, srv, "").titles())
	assert.Equal(t, []string{"high", "medium", "low"}, listTasks(t, srv, "sort_by=priority").titles())
	assert.Equal(t, []string{"low", "medium", "high"}, listTasks(t, srv, "sort_by=priority&sort_direction=desc").titles())
	assert.Equal(t, []string{"high", "medium", "low"}, listTasks(t, srv, "sort_by=due_date").titles())
	assert.Equal(t, []string{"low", "medium", "high"}, listTasks(t, srv, "sort_by=due_date&sort_direction=desc").titles())
	assert.Equal(t, []string{"low", "high", "medium"}, listTasks(t, srv, "sort_by=created_at").titles())
}

func TestAPIKeyAuthenticationAndMe(t *testing.T) {
	srv, cleanup := newTestServer(t, AuthConfig{})
	defer cleanup()
	_, secret, err := srv.Engine.CreateAPIKey(context.Background(), "robot", "ci", "tester")
	require.NoError(t, err)

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/me", nil, map[string]string{"X-Api-Key": secret})
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var me WhoAmIResponse
	require.NoError(t, json.Unmarshal(data, &me))
	assert.Equal(t, "robot", me.ActorID)
	assert.Equal(t, "api_key", me.Source)

	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/tasks", map[string]any{
		"title": "By robot", "status": "pending", "priority": "low", "due_date": "2024-02-01",
	}, map[string]string{"X-Api-Key": secret})
	require.Equal(t, http.StatusCreated, res.StatusCode, string(data))

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/events?type=task.created", nil, srv.auth())
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var evts eventList
	require.NoError(t, json.Unmarshal(data, &evts))
	require.Len(t, evts.Items, 1)
	assert.Equal(t, "robot", evts.Items[0].ActorID)
	assert.Equal(t, "By robot", evts.Items[0].Payload["title"])
}

func TestLegacyActorHeaderWhenEnabled(t *testing.T) {
	srv, cleanup := newTestServer(t, AuthConfig{AllowLegacyActorHeader: true})
	defer cleanup()
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/me", nil, map[string]string{"X-Actor-Id": "legacy"})
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var me WhoAmIResponse
	require.NoError(t, json.Unmarshal(data, &me))
	assert.Equal(t, "legacy", me.ActorID)
	assert.Equal(t, "legacy_header", me.Source)
}

func TestDevLogin(t *testing.T) {
	srv, cleanup := newTestServer(t, AuthConfig{})
	defer cleanup()
	res, _ := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/auth/dev/login", map[string]any{"actor_id": "dev"}, nil)
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)

	devSrv, devCleanup := newTestServer(t, AuthConfig{DevLogin: true})
	defer devCleanup()
	res, data := doJSON(t, devSrv.Client(), http.MethodPost, devSrv.URL+"/v0/auth/dev/login", map[string]any{"actor_id": "dev"}, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var login DevLoginResponse
	require.NoError(t, json.Unmarshal(data, &login))
	require.NotEmpty(t, login.Token)

	res, data = doJSON(t, devSrv.Client(), http.MethodGet, devSrv.URL+"/v0/me", nil, map[string]string{"Authorization": "Bearer " + login.Token})
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
}

func TestStatusAndMetrics(t *testing.T) {
	srv, cleanup := newTestServer(t, AuthConfig{})
	defer cleanup()
	createTask(t, srv, "one", "pending", "low", "2024-02-01")
	createTask(t, srv, "two", "completed", "low", "2024-02-01")
	createExpecting422(t, srv, map[string]any{"title": "bad", "status": "pending", "priority": "low", "due_date": "2023-01-01"})

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/status", nil, srv.auth())
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var status StatusResponse
	require.NoError(t, json.Unmarshal(data, &status))
	assert.Equal(t, 2, status.Total)
	assert.Equal(t, 1, status.TaskCounts["completed"])

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/metrics", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	body := string(data)
	assert.Contains(t, body, "taskboard_tasks_created_total 2")
	assert.Contains(t, body, `taskboard_task_validation_failures_total{field="due_date"} 1`)
	assert.Contains(t, body, "taskboard_http_requests_total")
}

func TestOpenAPIDocument(t *testing.T) {
	srv, cleanup := newTestServer(t, AuthConfig{})
	defer cleanup()
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/openapi.json", nil, srv.auth())
	require.Equal(t, http.StatusOK, res.StatusCode)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(data, &doc))
	paths, ok := doc["paths"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, paths, "/v0/tasks")
	assert.Contains(t, paths, "/v0/health")
}

func TestOpenAPIDocumentConcurrentFirstFetch(t *testing.T) {
	srv, cleanup := newTestServer(t, AuthConfig{})
	defer cleanup()
	const n = 8
	bodies := make(chan []byte, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req, _ := http.NewRequest(http.MethodGet, srv.URL+"/v0/openapi.json", nil)
			req.Header.Set("Authorization", "Bearer "+srv.Token)
			res, err := srv.Client().Do(req)
			if err != nil {
				bodies <- nil
				return
			}
			defer res.Body.Close()
			data, _ := io.ReadAll(res.Body)
			bodies <- data
		}()
	}
	wg.Wait()
	close(bodies)
	var first []byte
	for data := range bodies {
		require.NotEmpty(t, data)
		if first == nil {
			first = data
		}
		assert.Equal(t, first, data)
	}
}

func TestListResponseCarriesSchemaLink(t *testing.T) {
	srv, cleanup := newTestServer(t, AuthConfig{})
	defer cleanup()
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/tasks", nil, srv.auth())
	require.Equal(t, http.StatusOK, res.StatusCode)
	var body map[string]any
	require.NoError(t, json.Unmarshal(data, &body))
	assert.Contains(t, body, "$schema")
	assert.Contains(t, body, "data")
	assert.Contains(t, body, "filters")
}
