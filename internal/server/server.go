package server

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"switchyard/internal/app"
	"switchyard/internal/domain"
	"switchyard/internal/graph"
	"switchyard/internal/loader"
	"switchyard/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Orchestrator app.Orchestrator
	BasePath     string
	Auth         AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"not_found"`
	Message string         `json:"message" example:"run not found"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Switchyard API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}

	router := chi.NewRouter()
	router.Use(newAuthMiddleware(basePath, cfg.Auth))
	hcfg := huma.DefaultConfig("Switchyard API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerHealth(group)
	registerGraph(group, cfg.Orchestrator)
	registerRuns(group, cfg.Orchestrator)
	registerEvents(group, cfg.Orchestrator)

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
	case http.StatusConflict:
		return "conflict"
	default:
		return "internal_error"
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	var dup graph.DuplicateNodeError
	if errors.As(err, &dup) {
		return newAPIError(http.StatusUnprocessableEntity, "duplicate_node", err.Error(), map[string]any{"node": dup.Name})
	}
	var unknown graph.UnknownDependencyError
	if errors.As(err, &unknown) {
		return newAPIError(http.StatusUnprocessableEntity, "unknown_dependency", err.Error(), map[string]any{
			"node":       unknown.Node,
			"dependency": unknown.Dependency,
		})
	}
	var cycle graph.CycleDetectedError
	if errors.As(err, &cycle) {
		return newAPIError(http.StatusUnprocessableEntity, "cycle_detected", err.Error(), map[string]any{"path": cycle.Path})
	}
	if errors.Is(err, context.Canceled) {
		return newAPIError(http.StatusConflict, "run_cancelled", err.Error(), nil)
	}
	return newAPIError(http.StatusInternalServerError, "internal_error", err.Error(), nil)
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "healthz",
		Method:      http.MethodGet,
		Path:        "/healthz",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerGraph(api huma.API, o app.Orchestrator) {
	huma.Register(api, huma.Operation{
		OperationID: "graph-show",
		Method:      http.MethodGet,
		Path:        "/graph",
		Summary:     "Declared service graph",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body GraphResponse `json:"body"`
	}, error) {
		g, err := loader.Build(o.Config)
		if err != nil {
			return nil, handleError(err)
		}
		resp := GraphResponse{PipelineID: o.Config.Pipeline.ID}
		for _, name := range g.Names() {
			svc := o.Config.Services[name]
			n := g.Node(name)
			resp.Nodes = append(resp.Nodes, GraphNode{
				Name:      name,
				DependsOn: n.DependsOn,
				Path:      svc.SourcePath(name),
				Metadata:  n.Metadata,
			})
		}
		return &struct {
			Body GraphResponse `json:"body"`
		}{Body: resp}, nil
	})
}

func registerRuns(api huma.API, o app.Orchestrator) {
	huma.Register(api, huma.Operation{
		OperationID: "run-create",
		Method:      http.MethodPost,
		Path:        "/runs",
		Summary:     "Trigger an orchestration run",
	}, func(ctx context.Context, input *struct {
		Body CreateRunRequest
	}) (*struct {
		Body map[string]any `json:"body"`
	}, error) {
		opts := app.RunOptions{ChangeSet: input.Body.ChangeSet, Concurrency: input.Body.Concurrency}
		if p, ok := principalFromContext(ctx); ok {
			opts.Actor = p.ActorID
		}
		if input.Body.DryRun {
			plan, err := o.Plan(ctx, opts)
			if err != nil {
				return nil, handleError(err)
			}
			return &struct {
				Body map[string]any `json:"body"`
			}{Body: map[string]any{"plan": plan}}, nil
		}
		summary, err := o.Execute(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body map[string]any `json:"body"`
		}{Body: map[string]any{"summary": summary}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "runs-list",
		Method:      http.MethodGet,
		Path:        "/runs",
		Summary:     "List runs",
	}, func(ctx context.Context, input *struct {
		Limit int `query:"limit" minimum:"0"`
	}) (*struct {
		Body []domain.Run `json:"body"`
	}, error) {
		runs, err := o.Repo.ListRuns(ctx, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Run `json:"body"`
		}{Body: runs}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "run-show",
		Method:      http.MethodGet,
		Path:        "/runs/{run_id}",
		Summary:     "Run summary with node outcomes",
	}, func(ctx context.Context, input *struct {
		RunID string `path:"run_id"`
	}) (*struct {
		Body domain.RunSummary `json:"body"`
	}, error) {
		summary, err := o.Summary(ctx, input.RunID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.RunSummary `json:"body"`
		}{Body: summary}, nil
	})
}

func registerEvents(api huma.API, o app.Orchestrator) {
	huma.Register(api, huma.Operation{
		OperationID: "events-list",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "Audit event log, newest first",
	}, func(ctx context.Context, input *struct {
		RunID string `query:"run_id"`
		Limit int    `query:"limit" minimum:"0"`
	}) (*struct {
		Body []domain.Event `json:"body"`
	}, error) {
		items, err := o.Repo.ListEvents(ctx, input.RunID, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Event `json:"body"`
		}{Body: items}, nil
	})
}
