// Package handlers contains HTTP handlers for the controller API.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"loadplane/internal/apperr"
	"loadplane/internal/engine"
	"loadplane/internal/logger"
	"loadplane/internal/store"
	"loadplane/pkg/api"
)

// Engine is the lifecycle surface the handlers drive.
type Engine interface {
	ListTests(ctx context.Context, tags []string) ([]api.ScenarioSummary, error)
	CreateTest(ctx context.Context, req api.CreateTestRequest) (*store.Scenario, error)
	ScheduleTest(ctx context.Context, req api.CreateTestRequest) (*store.Scenario, error)
	Trigger(ctx context.Context, req api.CreateTestRequest) (*store.Scenario, error)
	GetTest(ctx context.Context, testID string, opts engine.GetOptions) (*engine.TestDetails, error)
	DeleteTest(ctx context.Context, testID string) (string, error)
	CancelTest(ctx context.Context, testID string) (string, error)
	ListTasks(ctx context.Context) ([]api.RegionTasks, error)
	GetAccountCapacityDetails(ctx context.Context) (api.CapacityResponse, error)
	GetTestRuns(ctx context.Context, testID string, q engine.RunsQuery) (*api.TestRunsResponse, error)
	DeleteTestRuns(ctx context.Context, testID string, ids []json.RawMessage) (int, error)
	SetBaseline(ctx context.Context, testID, testRunID string) (*api.BaselineResponse, error)
	GetBaseline(ctx context.Context, testID string, includeResults bool) (*api.BaselineResponse, error)
	ClearBaseline(ctx context.Context, testID string) (*api.BaselineResponse, error)
	ListRegions(ctx context.Context) ([]store.InfraConfig, error)
	PutRegion(ctx context.Context, cfg store.InfraConfig) error
	StackInfo(ctx context.Context) (*api.StackInfo, error)
	CompleteTestRun(ctx context.Context, testID, testRunID string, req api.CompleteRunRequest) error
}

// Pinger reports whether the backing database is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handlers holds all HTTP handlers and their dependencies.
type Handlers struct {
	engine Engine
	db     Pinger
	logger *slog.Logger
}

// New creates a new Handlers instance.
func New(e Engine, db Pinger, log *slog.Logger) *Handlers {
	if log == nil {
		log = slog.Default()
	}
	return &Handlers{engine: e, db: db, logger: log}
}

// A helper function to write standard JSON responses.
func (h *Handlers) respondJson(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}

// A helper function to return consistent error messages.
func (h *Handlers) httpError(w http.ResponseWriter, message, code string, status int) {
	h.respondJson(w, status, api.ErrorResponse{
		Error:  message,
		Code:   code,
		Status: status,
	})
}

// fail renders an engine error. Anything outside the apperr taxonomy is
// logged and hidden behind a generic message.
func (h *Handlers) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code := apperr.StatusFromError(err)
	message := "Internal server error"
	if e, ok := apperr.As(err); ok && e.Kind != apperr.KindInternal {
		message = e.Message
	}
	if status >= http.StatusInternalServerError {
		logger.FromContext(r.Context(), h.logger).ErrorContext(r.Context(), "request failed",
			"method", r.Method, "path", r.URL.Path, "error", err)
	}
	h.httpError(w, message, code, status)
}

// decode reads a JSON body into v, answering 400 on failure.
func (h *Handlers) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var syntax *json.SyntaxError
		msg := "Invalid request body"
		if errors.As(err, &syntax) {
			msg = "Invalid request body: malformed JSON"
		}
		h.httpError(w, msg, "InvalidParameter", http.StatusBadRequest)
		return false
	}
	return true
}
