package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"envline/internal/logging"
	"envline/internal/metrics"
	"envline/internal/repo"
	"envline/internal/sandbox"
	"envline/internal/wire"
	envlinesdk "envline/sdk/go"
)

// Config for the HTTP API handler.
type Config struct {
	Service  sandbox.Service
	BasePath string
	Logger   *slog.Logger
	Metrics  *metrics.Metrics
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"pipeline_conflict"`
	Message string         `json:"message" example:"pipeline p2 already belongs to environment E1"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true" example:"{\"pipeline\":\"p2\"}"`
}

type requestIDKey struct{}

// apiError models the required error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the environments API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v1"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Discard()
	}
	huma.DefaultArrayNullable = false
	// Override Huma errors to use the requested envelope.
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			// Schema/request validation errors should be 400 bad_request
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(requestMiddleware(cfg.Logger, cfg.Metrics))
	router.Handle("/metrics", cfg.Metrics.Handler())

	hcfg := huma.DefaultConfig("envline sandbox API", "1.0.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = ""
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	h := handlers{svc: cfg.Service, log: cfg.Logger, metrics: cfg.Metrics}
	registerHealth(group)
	h.registerEnvironments(group)
	h.registerEvents(group)
	registerOpenAPI(router, api, basePath)

	return router, nil
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func requestMiddleware(log *slog.Logger, m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get("X-Request-Id")
			if id == "" {
				id = uuid.NewString()
			}
			w.Header().Set("X-Request-Id", id)
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			start := time.Now()
			next.ServeHTTP(rec, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))
			m.Request(r.Method, rec.status, time.Since(start))
			log.Debug("request", "method", r.Method, "path", r.URL.Path, "status", rec.status, "request_id", id)
		})
	}
}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
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

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var se huma.StatusError
	if errors.As(err, &se) {
		return se
	}
	var rule *sandbox.RuleError
	if errors.As(err, &rule) {
		return newAPIError(http.StatusUnprocessableEntity, rule.Code, rule.Message, rule.Details)
	}
	switch {
	case errors.Is(err, sandbox.ErrTokenMismatch):
		return newAPIError(http.StatusPreconditionFailed, "precondition_failed", err.Error(), nil)
	case errors.Is(err, repo.ErrNotFound):
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	case errors.Is(err, repo.ErrExists):
		return newAPIError(http.StatusConflict, "conflict", err.Error(), nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": err.Error()})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusPreconditionFailed:
		return "precondition_failed"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var (
		once sync.Once
		spec []byte
	)
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		once.Do(func() {
			oas := api.OpenAPI()
			ensureDefaultErrorResponses(oas)
			spec, _ = json.Marshal(oas)
		})
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
	r.Get(path.Join(basePath, "docs"), func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(specPath))
	})
}

func ensureDefaultErrorResponses(oas *huma.OpenAPI) {
	if oas == nil || oas.Paths == nil {
		return
	}
	for _, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if op.Responses == nil {
				op.Responses = map[string]*huma.Response{}
			}
			op.Responses["default"] = &huma.Response{
				Description: "Error",
				Content: map[string]*huma.MediaType{
					"application/json": {
						Schema: &huma.Schema{Ref: "#/components/schemas/ApiError"},
					},
				},
			}
		}
	}
}

func swaggerHTML(specURL string) string {
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <title>envline sandbox API</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => { SwaggerUIBundle({ url: '%s', dom_id: '#swagger-ui' }); };
    </script>
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

type handlers struct {
	svc     sandbox.Service
	log     *slog.Logger
	metrics *metrics.Metrics
}

// finish records a mutation outcome and converts err for Huma.
func (h handlers) finish(ctx context.Context, op, name string, err error) error {
	if err == nil {
		h.metrics.Mutation(op, http.StatusOK)
		h.log.Info("environment "+op, "environment", name, "request_id", requestID(ctx))
		return nil
	}
	se := handleError(err)
	h.metrics.Mutation(op, se.GetStatus())
	h.log.Info("environment "+op+" refused", "environment", name, "status", se.GetStatus(), "error", err.Error(), "request_id", requestID(ctx))
	return se
}

func (h handlers) registerEnvironments(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "list-environments",
		Method:      http.MethodGet,
		Path:        "/admin/environments",
		Summary:     "List merged environments",
		Errors:      []int{http.StatusInternalServerError},
	}, func(ctx context.Context, _ *struct{}) (*environmentsOutput, error) {
		list, err := h.svc.List(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return environmentsResponse(list), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-environment",
		Method:      http.MethodGet,
		Path:        "/admin/environments/{name}",
		Summary:     "Get one environment and its concurrency token",
		Errors:      []int{http.StatusNotFound, http.StatusInternalServerError},
	}, func(ctx context.Context, input *environmentPath) (*environmentOutput, error) {
		stored, err := h.svc.Get(ctx, input.Name)
		if err != nil {
			return nil, handleError(err)
		}
		return environmentResponse(stored), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-environment",
		Method:        http.MethodPost,
		Path:          "/admin/environments",
		Summary:       "Create an environment with its variables",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body envlinesdk.CreateEnvironmentRequest
	}) (*environmentOutput, error) {
		stored, err := h.svc.Create(ctx, input.Body.Name, submissionVariables(input.Body.EnvironmentVariables), requestID(ctx))
		if err := h.finish(ctx, "create", input.Body.Name, err); err != nil {
			return nil, err
		}
		return environmentResponse(stored), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "patch-environment",
		Method:      http.MethodPatch,
		Path:        "/admin/environments/{name}",
		Summary:     "Apply a membership and variables delta",
		Description: "Removals are applied before additions. If-Match must carry the ETag of the last fetch.",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusPreconditionFailed,
			http.StatusUnprocessableEntity,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Name    string `path:"name"`
		IfMatch string `header:"If-Match" doc:"ETag of the environment being edited"`
		Body    envlinesdk.PatchEnvironmentRequest
	}) (*environmentOutput, error) {
		stored, err := h.svc.Patch(ctx, input.Name, input.IfMatch, wire.Patch(input.Body), requestID(ctx))
		if err := h.finish(ctx, "patch", input.Name, err); err != nil {
			return nil, err
		}
		return environmentResponse(stored), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-environment",
		Method:        http.MethodDelete,
		Path:          "/admin/environments/{name}",
		Summary:       "Delete an environment declared only in the server config",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusNotFound, http.StatusUnprocessableEntity, http.StatusInternalServerError},
	}, func(ctx context.Context, input *environmentPath) (*struct{}, error) {
		err := h.svc.Delete(ctx, input.Name, requestID(ctx))
		if err := h.finish(ctx, "delete", input.Name, err); err != nil {
			return nil, err
		}
		return &struct{}{}, nil
	})
}

func (h handlers) registerEvents(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/admin/events",
		Summary:     "List recent environment changes",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Environment string `query:"environment"`
		Limit       int    `query:"limit" default:"50" minimum:"1" maximum:"500"`
	}) (*eventsOutput, error) {
		items, err := h.svc.ListEvents(ctx, input.Environment, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		out := &eventsOutput{}
		out.Body.Items = make([]envlinesdk.Event, 0, len(items))
		for _, e := range items {
			out.Body.Items = append(out.Body.Items, eventResponse(e))
		}
		return out, nil
	})
}
