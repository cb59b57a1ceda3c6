package handlers

import (
	"context"
	"encoding/json"
	"errors"

	"loadplane/internal/engine"
	"loadplane/internal/store"
	"loadplane/pkg/api"
)

// Mock Engine
type mockEngine struct {
	err error

	// Canned responses
	summaries []api.ScenarioSummary
	scenario  *store.Scenario
	details   *engine.TestDetails
	tasks     []api.RegionTasks
	capacity  api.CapacityResponse
	runs      *api.TestRunsResponse
	deleted   int
	baseline  *api.BaselineResponse
	regions   []store.InfraConfig
	stack     *api.StackInfo

	// Spies (to verify arguments passed by handlers)
	capturedTestID   string
	capturedRunID    string
	capturedTags     []string
	capturedRequest  api.CreateTestRequest
	capturedOpts     engine.GetOptions
	capturedQuery    engine.RunsQuery
	capturedIDs      []json.RawMessage
	capturedInclude  bool
	capturedRegion   store.InfraConfig
	capturedComplete api.CompleteRunRequest
	triggered        bool
}

func (m *mockEngine) ListTests(ctx context.Context, tags []string) ([]api.ScenarioSummary, error) {
	m.capturedTags = tags
	return m.summaries, m.err
}

func (m *mockEngine) CreateTest(ctx context.Context, req api.CreateTestRequest) (*store.Scenario, error) {
	m.capturedRequest = req
	return m.scenario, m.err
}

func (m *mockEngine) ScheduleTest(ctx context.Context, req api.CreateTestRequest) (*store.Scenario, error) {
	m.capturedRequest = req
	return m.scenario, m.err
}

func (m *mockEngine) Trigger(ctx context.Context, req api.CreateTestRequest) (*store.Scenario, error) {
	m.capturedRequest = req
	m.triggered = true
	return m.scenario, m.err
}

func (m *mockEngine) GetTest(ctx context.Context, testID string, opts engine.GetOptions) (*engine.TestDetails, error) {
	m.capturedTestID = testID
	m.capturedOpts = opts
	return m.details, m.err
}

func (m *mockEngine) DeleteTest(ctx context.Context, testID string) (string, error) {
	m.capturedTestID = testID
	if m.err != nil {
		return "", m.err
	}
	return "success", nil
}

func (m *mockEngine) CancelTest(ctx context.Context, testID string) (string, error) {
	m.capturedTestID = testID
	if m.err != nil {
		return "", m.err
	}
	return "test cancelling", nil
}

func (m *mockEngine) ListTasks(ctx context.Context) ([]api.RegionTasks, error) {
	return m.tasks, m.err
}

func (m *mockEngine) GetAccountCapacityDetails(ctx context.Context) (api.CapacityResponse, error) {
	return m.capacity, m.err
}

func (m *mockEngine) GetTestRuns(ctx context.Context, testID string, q engine.RunsQuery) (*api.TestRunsResponse, error) {
	m.capturedTestID = testID
	m.capturedQuery = q
	return m.runs, m.err
}

func (m *mockEngine) DeleteTestRuns(ctx context.Context, testID string, ids []json.RawMessage) (int, error) {
	m.capturedTestID = testID
	m.capturedIDs = ids
	return m.deleted, m.err
}

func (m *mockEngine) SetBaseline(ctx context.Context, testID, testRunID string) (*api.BaselineResponse, error) {
	m.capturedTestID = testID
	m.capturedRunID = testRunID
	return m.baseline, m.err
}

func (m *mockEngine) GetBaseline(ctx context.Context, testID string, includeResults bool) (*api.BaselineResponse, error) {
	m.capturedTestID = testID
	m.capturedInclude = includeResults
	return m.baseline, m.err
}

func (m *mockEngine) ClearBaseline(ctx context.Context, testID string) (*api.BaselineResponse, error) {
	m.capturedTestID = testID
	return m.baseline, m.err
}

func (m *mockEngine) ListRegions(ctx context.Context) ([]store.InfraConfig, error) {
	return m.regions, m.err
}

func (m *mockEngine) PutRegion(ctx context.Context, cfg store.InfraConfig) error {
	m.capturedRegion = cfg
	return m.err
}

func (m *mockEngine) StackInfo(ctx context.Context) (*api.StackInfo, error) {
	return m.stack, m.err
}

func (m *mockEngine) CompleteTestRun(ctx context.Context, testID, testRunID string, req api.CompleteRunRequest) error {
	m.capturedTestID = testID
	m.capturedRunID = testRunID
	m.capturedComplete = req
	return m.err
}

type mockPinger struct {
	err error
}

func (m mockPinger) Ping(ctx context.Context) error { return m.err }

var errBoom = errors.New("dynamo exploded")
