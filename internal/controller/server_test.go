package controller

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"loadplane/internal/auth"
	"loadplane/internal/engine"
	"loadplane/internal/store"
	"loadplane/pkg/api"
)

// stubEngine answers every operation with an empty success.
type stubEngine struct {
	lastOp string
}

func (s *stubEngine) ListTests(ctx context.Context, tags []string) ([]api.ScenarioSummary, error) {
	s.lastOp = "ListTests"
	return nil, nil
}
func (s *stubEngine) CreateTest(ctx context.Context, req api.CreateTestRequest) (*store.Scenario, error) {
	s.lastOp = "CreateTest"
	return &store.Scenario{TestID: "T1"}, nil
}
func (s *stubEngine) ScheduleTest(ctx context.Context, req api.CreateTestRequest) (*store.Scenario, error) {
	s.lastOp = "ScheduleTest"
	return nil, nil
}
func (s *stubEngine) Trigger(ctx context.Context, req api.CreateTestRequest) (*store.Scenario, error) {
	s.lastOp = "Trigger"
	return nil, nil
}
func (s *stubEngine) GetTest(ctx context.Context, testID string, opts engine.GetOptions) (*engine.TestDetails, error) {
	s.lastOp = "GetTest"
	return &engine.TestDetails{Scenario: &store.Scenario{TestID: testID}}, nil
}
func (s *stubEngine) DeleteTest(ctx context.Context, testID string) (string, error) {
	s.lastOp = "DeleteTest"
	return "success", nil
}
func (s *stubEngine) CancelTest(ctx context.Context, testID string) (string, error) {
	s.lastOp = "CancelTest"
	return "test cancelling", nil
}
func (s *stubEngine) ListTasks(ctx context.Context) ([]api.RegionTasks, error) {
	s.lastOp = "ListTasks"
	return nil, nil
}
func (s *stubEngine) GetAccountCapacityDetails(ctx context.Context) (api.CapacityResponse, error) {
	s.lastOp = "GetAccountCapacityDetails"
	return api.CapacityResponse{}, nil
}
func (s *stubEngine) GetTestRuns(ctx context.Context, testID string, q engine.RunsQuery) (*api.TestRunsResponse, error) {
	s.lastOp = "GetTestRuns"
	return &api.TestRunsResponse{}, nil
}
func (s *stubEngine) DeleteTestRuns(ctx context.Context, testID string, ids []json.RawMessage) (int, error) {
	s.lastOp = "DeleteTestRuns"
	return 0, nil
}
func (s *stubEngine) SetBaseline(ctx context.Context, testID, testRunID string) (*api.BaselineResponse, error) {
	s.lastOp = "SetBaseline"
	return &api.BaselineResponse{}, nil
}
func (s *stubEngine) GetBaseline(ctx context.Context, testID string, includeResults bool) (*api.BaselineResponse, error) {
	s.lastOp = "GetBaseline"
	return &api.BaselineResponse{}, nil
}
func (s *stubEngine) ClearBaseline(ctx context.Context, testID string) (*api.BaselineResponse, error) {
	s.lastOp = "ClearBaseline"
	return &api.BaselineResponse{}, nil
}
func (s *stubEngine) ListRegions(ctx context.Context) ([]store.InfraConfig, error) {
	s.lastOp = "ListRegions"
	return nil, nil
}
func (s *stubEngine) PutRegion(ctx context.Context, cfg store.InfraConfig) error {
	s.lastOp = "PutRegion"
	return nil
}
func (s *stubEngine) StackInfo(ctx context.Context) (*api.StackInfo, error) {
	s.lastOp = "StackInfo"
	return &api.StackInfo{}, nil
}
func (s *stubEngine) CompleteTestRun(ctx context.Context, testID, testRunID string, req api.CompleteRunRequest) error {
	s.lastOp = "CompleteTestRun"
	return nil
}

type okPinger struct{}

func (okPinger) Ping(ctx context.Context) error { return nil }

const (
	operatorKey    = "operator-key"
	internalSecret = "internal-secret"
)

func newTestRoutes(e *stubEngine) http.Handler {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("# metrics"))
	})
	return Routes(Options{
		APIKeyHash:     auth.HashKey(operatorKey),
		InternalSecret: internalSecret,
		Metrics:        metrics,
	}, e, okPinger{})
}

func TestRoutes_Dispatch(t *testing.T) {
	tests := []struct {
		method string
		path   string
		body   string
		op     string
	}{
		{http.MethodGet, "/scenarios?tags=a", "", "ListTests"},
		{http.MethodPost, "/scenarios", `{}`, "CreateTest"},
		{http.MethodPost, "/scenarios/schedule", `{}`, "ScheduleTest"},
		{http.MethodGet, "/scenarios/T1", "", "GetTest"},
		{http.MethodDelete, "/scenarios/T1", "", "DeleteTest"},
		{http.MethodPost, "/scenarios/T1/cancel", "", "CancelTest"},
		{http.MethodGet, "/scenarios/T1/runs", "", "GetTestRuns"},
		{http.MethodDelete, "/scenarios/T1/runs", `{"testRunIds":[]}`, "DeleteTestRuns"},
		{http.MethodPut, "/scenarios/T1/baseline", `{"testRunId":"r1"}`, "SetBaseline"},
		{http.MethodGet, "/scenarios/T1/baseline", "", "GetBaseline"},
		{http.MethodDelete, "/scenarios/T1/baseline", "", "ClearBaseline"},
		{http.MethodGet, "/tasks", "", "ListTasks"},
		{http.MethodGet, "/capacity", "", "GetAccountCapacityDetails"},
		{http.MethodGet, "/regions", "", "ListRegions"},
		{http.MethodGet, "/stack-info", "", "StackInfo"},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			e := &stubEngine{}
			routes := newTestRoutes(e)

			req := httptest.NewRequest(tt.method, tt.path, strings.NewReader(tt.body))
			req.Header.Set("Authorization", "Bearer "+operatorKey)
			rr := httptest.NewRecorder()
			routes.ServeHTTP(rr, req)

			if rr.Code != http.StatusOK {
				t.Errorf("got status %d: %s", rr.Code, rr.Body.String())
			}
			if e.lastOp != tt.op {
				t.Errorf("dispatched to %q, want %q", e.lastOp, tt.op)
			}
			if rr.Header().Get("X-Request-ID") == "" {
				t.Error("missing request id")
			}
		})
	}
}

func TestRoutes_OperatorAuth(t *testing.T) {
	e := &stubEngine{}
	routes := newTestRoutes(e)

	rr := httptest.NewRecorder()
	routes.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/scenarios", nil))
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("got status %d", rr.Code)
	}
	if e.lastOp != "" {
		t.Errorf("engine reached without auth: %s", e.lastOp)
	}
}

func TestRoutes_InternalAuth(t *testing.T) {
	tests := []struct {
		name   string
		token  string
		status int
	}{
		{"operator key rejected", operatorKey, http.StatusUnauthorized},
		{"secret accepted", internalSecret, http.StatusNoContent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := &stubEngine{}
			routes := newTestRoutes(e)

			req := httptest.NewRequest(http.MethodPut, "/internal/scenarios/T1/runs/r1/result", strings.NewReader(`{"status":"complete"}`))
			req.Header.Set("Authorization", "Bearer "+tt.token)
			rr := httptest.NewRecorder()
			routes.ServeHTTP(rr, req)

			if rr.Code != tt.status {
				t.Errorf("got status %d, want %d", rr.Code, tt.status)
			}
		})
	}
}

func TestRoutes_InternalDispatch(t *testing.T) {
	tests := []struct {
		method string
		path   string
		body   string
		op     string
	}{
		{http.MethodPost, "/internal/schedule", `{"testId":"T1"}`, "Trigger"},
		{http.MethodPut, "/internal/regions", `{"region":"us-east-1"}`, "PutRegion"},
	}

	for _, tt := range tests {
		e := &stubEngine{}
		req := httptest.NewRequest(tt.method, tt.path, strings.NewReader(tt.body))
		req.Header.Set("Authorization", "Bearer "+internalSecret)
		newTestRoutes(e).ServeHTTP(httptest.NewRecorder(), req)
		if e.lastOp != tt.op {
			t.Errorf("%s: dispatched to %q, want %q", tt.path, e.lastOp, tt.op)
		}
	}
}

func TestRoutes_UnauthenticatedProbes(t *testing.T) {
	routes := newTestRoutes(&stubEngine{})

	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		rr := httptest.NewRecorder()
		routes.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
		if rr.Code != http.StatusOK {
			t.Errorf("%s: got status %d", path, rr.Code)
		}
	}
}

func TestRoutes_MethodNotAllowed(t *testing.T) {
	routes := newTestRoutes(&stubEngine{})

	req := httptest.NewRequest(http.MethodPatch, "/scenarios/T1", nil)
	req.Header.Set("Authorization", "Bearer "+operatorKey)
	rr := httptest.NewRecorder()
	routes.ServeHTTP(rr, req)
	if rr.Code != http.StatusMethodNotAllowed {
		t.Errorf("got status %d", rr.Code)
	}
}
