package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"taskboard/internal/engine"
	"taskboard/internal/engine/auth"
	"taskboard/internal/logging"
	"taskboard/internal/repo"
	"taskboard/internal/tasks"
	"taskboard/internal/validation"
)

const taskCreatedMessage = "Task created successfully!"

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
	Logger   *zap.Logger
	Metrics  *Metrics
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"validation_failed"`
	Message string         `json:"message" example:"The given data was invalid."`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true" example:"{\"errors\":{\"title\":[\"Task title is required.\"]}}"`
}

// apiError models the error envelope shared by every operation.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the task API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = NewMetrics()
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			// Schema errors are request shape problems, not field rule violations.
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)
	router.Use(requestLogger(logger))
	router.Use(metrics.middleware)
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Auth, logger))
	hcfg := huma.DefaultConfig("Taskboard API", "1.0.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	router.Handle("/metrics", metrics.Handler())
	registerDocs(router, basePath)
	registerHealth(group)
	registerStatus(group, cfg.Engine)
	registerTasks(group, cfg.Engine, basePath, metrics)
	registerEvents(group, cfg.Engine)
	registerMe(group)
	if cfg.Auth.DevLogin {
		registerDevAuth(group, cfg.Engine)
	}
	registerOpenAPI(router, api, basePath, cfg.Auth)

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(ctx context.Context, err error) huma.StatusError {
	if err == nil {
		return nil
	}
	if verrs, ok := validation.FieldErrors(err); ok {
		return newAPIError(http.StatusUnprocessableEntity, "validation_failed", "The given data was invalid.", map[string]any{"errors": verrs})
	}
	if errors.Is(err, auth.ErrUnauthenticated) {
		return newAPIError(http.StatusUnauthorized, "invalid_credentials", "invalid credentials", nil)
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	logging.FromContext(ctx).Error("request failed", zap.Error(err))
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", nil)
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

type requestInfoKey struct{}

// requestInfo is filled in by inner middleware so the access log can report it.
type requestInfo struct {
	ActorID string
}

func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			info := &requestInfo{}
			reqLogger := logger.With(zap.String(logging.RequestIDKey, middleware.GetReqID(r.Context())))
			ctx := logging.WithContext(r.Context(), reqLogger)
			ctx = context.WithValue(ctx, requestInfoKey{}, info)
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(ctx))
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			reqLogger.Info("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", status),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)),
				zap.String("actor_id", info.ActorID),
			)
		})
	}
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string, authCfg AuthConfig) {
	var (
		once sync.Once
		doc  []byte
	)
	r.Get(path.Join(basePath, "openapi.json"), func(w http.ResponseWriter, r *http.Request) {
		once.Do(func() {
			oas := api.OpenAPI()
			decorateOpenAPI(oas, openPaths(basePath, authCfg))
			doc, _ = json.Marshal(oas)
		})
		w.Header().Set("Content-Type", "application/json")
		w.Write(doc)
	})
}

func operations(item *huma.PathItem) []*huma.Operation {
	var ops []*huma.Operation
	for _, op := range []*huma.Operation{item.Get, item.Post, item.Put, item.Patch, item.Delete} {
		if op != nil {
			ops = append(ops, op)
		}
	}
	return ops
}

// decorateOpenAPI declares the bearer and API key schemes, marks every route
// outside open as secured and points default responses at the error envelope.
func decorateOpenAPI(oas *huma.OpenAPI, open map[string]bool) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{Type: "http", Scheme: "bearer", BearerFormat: "JWT"}
	oas.Components.SecuritySchemes["apiKeyAuth"] = &huma.SecurityScheme{Type: "apiKey", In: "header", Name: "X-Api-Key"}
	secured := []map[string][]string{{"bearerAuth": {}}, {"apiKeyAuth": {}}}
	oas.Security = secured
	errorResponse := &huma.Response{
		Description: "Error envelope",
		Content: map[string]*huma.MediaType{
			"application/json": {Schema: &huma.Schema{Ref: "#/components/schemas/ApiError"}},
		},
	}
	for route, item := range oas.Paths {
		for _, op := range operations(item) {
			if op.Responses == nil {
				op.Responses = map[string]*huma.Response{}
			}
			op.Responses["default"] = errorResponse
			if open[route] {
				op.Security = []map[string][]string{}
			} else {
				op.Security = secured
			}
		}
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Taskboard API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
    <p style="padding: 1rem; font-family: sans-serif; color: #444;">
      Authenticate with Authorization: Bearer &lt;token&gt; or X-Api-Key.
    </p>
  </body>
</html>`, specURL)
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerStatus(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "status",
		Method:      http.MethodGet,
		Path:        "/status",
		Summary:     "Task counts by status",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body StatusResponse `json:"body"`
	}, error) {
		counts, err := e.TaskStats(ctx)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		resp := StatusResponse{TaskCounts: counts}
		for _, n := range counts {
			resp.Total += n
		}
		return &struct {
			Body StatusResponse `json:"body"`
		}{Body: resp}, nil
	})
}

func registerTasks(api huma.API, e engine.Engine, basePath string, metrics *Metrics) {
	huma.Register(api, huma.Operation{
		OperationID: "list-tasks",
		Method:      http.MethodGet,
		Path:        "/tasks",
		Summary:     "List tasks",
		Description: "Invalid or unknown parameter values are ignored and fall back to their defaults.",
		Errors:      []int{http.StatusUnauthorized, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		Status        string `query:"status" doc:"pending, in-progress or completed"`
		Priority      string `query:"priority" doc:"low, medium or high"`
		SortBy        string `query:"sort_by" doc:"due_date, created_at or priority"`
		SortDirection string `query:"sort_direction" doc:"asc or desc, default asc"`
		PerPage       string `query:"per_page" doc:"integer between 5 and 50, default 10"`
		Page          string `query:"page" doc:"1-based page number, default 1"`
	}) (*struct {
		Body TaskListResponse `json:"body"`
	}, error) {
		raw := url.Values{
			tasks.ParamStatus:        {input.Status},
			tasks.ParamPriority:      {input.Priority},
			tasks.ParamSortBy:        {input.SortBy},
			tasks.ParamSortDirection: {input.SortDirection},
			tasks.ParamPerPage:       {input.PerPage},
			tasks.ParamPage:          {input.Page},
		}
		list, err := e.ListTasks(ctx, raw)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &struct {
			Body TaskListResponse `json:"body"`
		}{Body: taskListResponse(basePath, list)}, nil
	})

	createSchema := api.OpenAPI().Components.Schemas.Schema(reflect.TypeOf(CreateTaskRequest{}), true, "CreateTaskRequest")
	huma.Register(api, huma.Operation{
		OperationID:   "create-task",
		Method:        http.MethodPost,
		Path:          "/tasks",
		Summary:       "Create task",
		DefaultStatus: http.StatusCreated,
		// Field rules belong to the validator; the schema only documents the body.
		SkipValidateBody: true,
		RequestBody: &huma.RequestBody{
			Content: map[string]*huma.MediaType{
				"application/json":                  {Schema: createSchema},
				"application/x-www-form-urlencoded": {Schema: createSchema},
			},
		},
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusUnprocessableEntity,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		ContentType string `header:"Content-Type"`
		RawBody     []byte
	}) (*struct {
		Body CreateTaskResponse `json:"body"`
	}, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		req, err := decodeCreateTask(input.ContentType, input.RawBody)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
		}
		t, err := e.CreateTask(ctx, req, principal.ActorID)
		if err != nil {
			if verrs, ok := validation.FieldErrors(err); ok {
				for field := range verrs {
					metrics.validationFailures.WithLabelValues(field).Inc()
				}
			}
			return nil, handleError(ctx, err)
		}
		metrics.tasksCreated.Inc()
		logging.FromContext(ctx).Info("task created",
			zap.String("task_id", t.ID),
			zap.String("actor_id", principal.ActorID))
		return &struct {
			Body CreateTaskResponse `json:"body"`
		}{Body: CreateTaskResponse{Success: true, Message: taskCreatedMessage, Task: t}}, nil
	})
}

// decodeCreateTask reads a JSON or form encoded body. Missing and null fields
// decode as empty; non-string JSON values keep their literal text so the field
// rules reject them with the usual messages.
func decodeCreateTask(contentType string, body []byte) (validation.CreateTask, error) {
	media, _, _ := mime.ParseMediaType(contentType)
	if media == "application/x-www-form-urlencoded" {
		form, err := url.ParseQuery(string(body))
		if err != nil {
			return validation.CreateTask{}, fmt.Errorf("invalid form body: %w", err)
		}
		return validation.CreateTask{
			Title:    form.Get(validation.FieldTitle),
			Status:   form.Get(validation.FieldStatus),
			Priority: form.Get(validation.FieldPriority),
			DueDate:  form.Get(validation.FieldDueDate),
		}, nil
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return validation.CreateTask{}, nil
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return validation.CreateTask{}, errors.New("body must be a JSON object")
	}
	return validation.CreateTask{
		Title:    rawString(fields[validation.FieldTitle]),
		Status:   rawString(fields[validation.FieldStatus]),
		Priority: rawString(fields[validation.FieldPriority]),
		DueDate:  rawString(fields[validation.FieldDueDate]),
	}, nil
}

func rawString(raw json.RawMessage) string {
	if isNullRaw(raw) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(bytes.TrimSpace(raw))
}

func isNullRaw(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

func pageURL(basePath string, f tasks.Filters, page int) string {
	return path.Join("/", basePath, "tasks") + "?" + f.Values(page).Encode()
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List recent events",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind" enum:"task,api_key"`
		EntityID   string `query:"entity_id"`
		Limit      int    `query:"limit" default:"50"`
	}) (*struct {
		Body eventList `json:"body"`
	}, error) {
		items, err := e.Repo.LatestEvents(ctx, normalizeLimit(input.Limit), input.Type, input.EntityKind, input.EntityID)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		resp := eventList{Items: []EventResponse{}}
		for _, evt := range items {
			resp.Items = append(resp.Items, eventResponse(evt))
		}
		return &struct {
			Body eventList `json:"body"`
		}{Body: resp}, nil
	})
}

func registerMe(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Current principal",
		Errors: []int{
			http.StatusUnauthorized,
		},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body WhoAmIResponse `json:"body"`
	}, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		return &struct {
			Body WhoAmIResponse `json:"body"`
		}{Body: WhoAmIResponse{
			ActorID: principal.ActorID,
			Roles:   nonNilSlice(principal.Roles),
			Source:  principal.Source,
		}}, nil
	})
}

func registerDevAuth(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "dev-login",
		Method:      http.MethodPost,
		Path:        "/auth/dev/login",
		Summary:     "DEV ONLY: mint a JWT for local testing",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body DevLoginRequest `json:"body"`
	}) (*struct {
		Body DevLoginResponse `json:"body"`
	}, error) {
		actor := strings.TrimSpace(input.Body.ActorID)
		if actor == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "actor_id is required", nil)
		}
		token, expires, err := e.Auth.SignToken(actor, input.Body.Roles)
		if err != nil {
			return nil, newAPIError(http.StatusInternalServerError, "internal_error", err.Error(), nil)
		}
		return &struct {
			Body DevLoginResponse `json:"body"`
		}{Body: DevLoginResponse{Token: token, ExpiresAt: expires.UTC().Format(time.RFC3339)}}, nil
	})
}

func normalizeLimit(in int) int {
	switch {
	case in <= 0:
		return 50
	case in > 200:
		return 200
	default:
		return in
	}
}
