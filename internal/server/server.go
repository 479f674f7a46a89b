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

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"qualitygate/internal/app"
	"qualitygate/internal/config"
	"qualitygate/internal/dataset"
	"qualitygate/internal/repo"
)

const Version = "0.3.0"

// Config for the HTTP API handler.
type Config struct {
	Runner   *app.Runner
	BasePath string
	Auth     AuthConfig
	// Metrics is mounted at /metrics, outside the authenticated base path, when set.
	Metrics http.Handler
	Logger  *slog.Logger
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"not_found"`
	Message string         `json:"message" example:"report run-1: not found"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope returned by every endpoint.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing checks, stored reports and gate decisions.
func New(cfg Config) (http.Handler, error) {
	if cfg.Runner == nil {
		return nil, errors.New("server needs a runner")
	}
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	if cfg.Auth.Logger == nil {
		cfg.Auth.Logger = cfg.Logger
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(middleware.Recoverer)
	router.Use(newAuthMiddleware(basePath, cfg.Auth))
	if cfg.Metrics != nil {
		router.Handle("/metrics", cfg.Metrics)
	}
	hcfg := huma.DefaultConfig("Qualitygate API", Version)
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = ""
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerChecks(group, cfg)
	registerReports(group, cfg)
	registerOpenAPI(router, api, basePath, cfg.Auth.Enabled())

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

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var se huma.StatusError
	if errors.As(err, &se) {
		return se
	}
	var pe *repo.PersistError
	if errors.As(err, &pe) {
		return newAPIError(http.StatusInternalServerError, "persist_failed", err.Error(), nil)
	}
	switch {
	case errors.Is(err, repo.ErrNotFound):
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	case errors.Is(err, dataset.ErrInvalid):
		return newAPIError(http.StatusBadRequest, "invalid_dataset", err.Error(), nil)
	case errors.Is(err, config.ErrInvalid):
		return newAPIError(http.StatusBadRequest, "invalid_config", err.Error(), nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": err.Error()})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
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
		}{Body: map[string]string{"status": "ok", "version": Version}}, nil
	})
}

func registerChecks(api huma.API, cfg Config) {
	huma.Register(api, huma.Operation{
		OperationID: "run-check",
		Method:      http.MethodPost,
		Path:        "/checks",
		Summary:     "Run every configured monitor on a dataset and gate the result",
	}, func(ctx context.Context, input *struct {
		Body CheckRequest `json:"body"`
	}) (*struct {
		Body CheckResponse `json:"body"`
	}, error) {
		if input.Body.Force {
			if err := requirePermission(ctx, cfg.Auth, PermissionOverride); err != nil {
				return nil, err
			}
		}
		ds, err := dataset.FromRecords(input.Body.Columns, input.Body.Rows)
		if err != nil {
			return nil, handleError(err)
		}
		save := input.Body.Save == nil || *input.Body.Save
		res, err := cfg.Runner.Check(ctx, ds, app.CheckOptions{Force: input.Body.Force, Save: save})
		out := CheckResponse{Report: res.Report, Decision: res.Decision, ReportPath: res.ReportPath}
		switch {
		case err == nil:
		case app.IsPersistError(err):
			// the verdict stands; the caller still learns the artifact is missing
			out.PersistError = err.Error()
		default:
			return nil, handleError(err)
		}
		if out.Decision.Override {
			logOverride(ctx, cfg, out.Report.RunID)
		}
		return &struct {
			Body CheckResponse `json:"body"`
		}{Body: out}, nil
	})
}

func registerReports(api huma.API, cfg Config) {
	store := cfg.Runner.Engine.Repo
	huma.Register(api, huma.Operation{
		OperationID: "list-reports",
		Method:      http.MethodGet,
		Path:        "/reports",
		Summary:     "List stored reports, newest first",
	}, func(ctx context.Context, input *struct {
		Limit int `query:"limit" minimum:"0" doc:"Maximum number of reports (0 for all)"`
	}) (*struct {
		Body ReportList `json:"body"`
	}, error) {
		stored, err := store.List()
		if err != nil {
			return nil, handleError(err)
		}
		if input.Limit > 0 && len(stored) > input.Limit {
			stored = stored[:input.Limit]
		}
		items := make([]ReportSummary, 0, len(stored))
		for _, s := range stored {
			items = append(items, summarize(s.Path, s.Report))
		}
		return &struct {
			Body ReportList `json:"body"`
		}{Body: ReportList{Items: items}}, nil
	})

	type runPath struct {
		RunID string `path:"run_id" doc:"Run id, or latest"`
	}
	huma.Register(api, huma.Operation{
		OperationID: "get-report",
		Method:      http.MethodGet,
		Path:        "/reports/{run_id}",
		Summary:     "Fetch a stored report",
	}, func(ctx context.Context, input *runPath) (*struct {
		Body ReportResponse `json:"body"`
	}, error) {
		var (
			stored repo.Stored
			err    error
		)
		if input.RunID == "latest" {
			stored, err = store.Latest()
		} else {
			stored, err = store.Get(input.RunID)
		}
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ReportResponse `json:"body"`
		}{Body: ReportResponse{Path: stored.Path, Report: stored.Report}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "gate-report",
		Method:      http.MethodPost,
		Path:        "/reports/{run_id}/gate",
		Summary:     "Evaluate the gate for a stored report",
	}, func(ctx context.Context, input *struct {
		RunID string      `path:"run_id" doc:"Run id, or latest"`
		Body  GateRequest `json:"body"`
	}) (*struct {
		Body GateResponse `json:"body"`
	}, error) {
		if input.Body.Force {
			if err := requirePermission(ctx, cfg.Auth, PermissionOverride); err != nil {
				return nil, err
			}
		}
		runID := input.RunID
		if runID == "latest" {
			runID = ""
		}
		stored, decision, err := cfg.Runner.GateStored(ctx, runID, input.Body.Force)
		if err != nil {
			return nil, handleError(err)
		}
		if decision.Override {
			logOverride(ctx, cfg, stored.Report.RunID)
		}
		return &struct {
			Body GateResponse `json:"body"`
		}{Body: GateResponse{RunID: stored.Report.RunID, Path: stored.Path, Decision: decision}}, nil
	})
}

func logOverride(ctx context.Context, cfg Config, runID string) {
	subject := "anonymous"
	if p, ok := principalFromContext(ctx); ok {
		subject = p.Subject
	}
	cfg.Auth.logger().Warn("quality gate overridden over http", "run_id", runID, "subject", subject)
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string, secured bool) {
	var (
		once sync.Once
		spec []byte
	)
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		once.Do(func() {
			oas := api.OpenAPI()
			ensureDefaultErrorResponses(oas)
			if secured {
				applyAuthSecurity(oas, basePath)
			}
			spec, _ = json.Marshal(oas)
		})
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func ensureDefaultErrorResponses(oas *huma.OpenAPI) {
	if oas == nil || oas.Paths == nil {
		return
	}
	for _, item := range oas.Paths {
		for _, op := range []*huma.Operation{item.Get, item.Put, item.Post, item.Delete, item.Patch} {
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

func applyAuthSecurity(oas *huma.OpenAPI, basePath string) {
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
	}
	security := []map[string][]string{{"bearerAuth": {}}}
	oas.Security = security
	healthPath := path.Join("/", basePath, "health")
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{item.Get, item.Put, item.Post, item.Delete, item.Patch} {
			if op == nil {
				continue
			}
			if route == healthPath {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
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
    <title>Qualitygate API Docs</title>
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
  </body>
</html>`, specURL)
}
