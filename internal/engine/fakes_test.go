package engine

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"slices"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"loadplane/internal/compute"
	"loadplane/internal/store"
	"loadplane/internal/workflow"
	"loadplane/pkg/api"

	clocktesting "k8s.io/utils/clock/testing"
)

type fakeScenarios struct {
	mu        sync.Mutex
	scenarios map[string]*store.Scenario
}

func (f *fakeScenarios) GetScenario(ctx context.Context, testID string) (*store.Scenario, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.scenarios[testID]
	if !ok {
		return nil, store.ErrNotFound
	}
	c := *s
	return &c, nil
}

func (f *fakeScenarios) ListScenarios(ctx context.Context, tags []string) ([]store.Scenario, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.Scenario
	for _, s := range f.scenarios {
		out = append(out, *s)
	}
	return out, nil
}

func (f *fakeScenarios) PutScenario(ctx context.Context, s *store.Scenario) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := *s
	if old, ok := f.scenarios[s.TestID]; ok {
		c.BaselineID = old.BaselineID
	}
	f.scenarios[s.TestID] = &c
	return nil
}

func (f *fakeScenarios) UpdateStatus(ctx context.Context, testID string, status store.Status) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.scenarios[testID]
	if !ok {
		return store.ErrNotFound
	}
	s.Status = status
	return nil
}

func (f *fakeScenarios) FinishRun(ctx context.Context, testID, testRunID string, status store.Status, endTime string, results json.RawMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.scenarios[testID]
	if !ok || s.TestRunID != testRunID {
		return nil
	}
	s.Status = status
	s.EndTime = endTime
	return nil
}

func (f *fakeScenarios) SetBaseline(ctx context.Context, testID, baselineID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.scenarios[testID]
	if !ok {
		return store.ErrNotFound
	}
	s.BaselineID = baselineID
	return nil
}

func (f *fakeScenarios) DeleteScenario(ctx context.Context, testID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.scenarios, testID)
	return nil
}

func (f *fakeScenarios) CountByStatus(ctx context.Context, status store.Status) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, s := range f.scenarios {
		if s.Status == status {
			n++
		}
	}
	return n, nil
}

type fakeInfra struct {
	configs map[string]store.InfraConfig
}

func (f *fakeInfra) GetInfraConfig(ctx context.Context, region string) (*store.InfraConfig, error) {
	c, ok := f.configs[region]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &c, nil
}

// ListInfraConfigs pages one region at a time.
func (f *fakeInfra) ListInfraConfigs(ctx context.Context, after string, limit int) ([]store.InfraConfig, string, error) {
	var regions []string
	for r := range f.configs {
		if r > after {
			regions = append(regions, r)
		}
	}
	if len(regions) == 0 {
		return nil, "", nil
	}
	sort.Strings(regions)
	next := ""
	if len(regions) > 1 {
		next = regions[0]
	}
	return []store.InfraConfig{f.configs[regions[0]]}, next, nil
}

func (f *fakeInfra) PutInfraConfig(ctx context.Context, cfg *store.InfraConfig) error {
	f.configs[cfg.Region] = *cfg
	return nil
}

type fakeHistory struct {
	mu   sync.Mutex
	runs map[string]store.TestRun

	deleteCalls int
	// stuckRounds is how many delete calls leave every id unprocessed; a
	// negative value means all of them.
	stuckRounds int
}

func (f *fakeHistory) CreateTestRun(ctx context.Context, run *store.TestRun) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs[run.TestRunID] = *run
	return nil
}

func (f *fakeHistory) GetTestRun(ctx context.Context, testID, testRunID string) (*store.TestRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.runs[testRunID]
	if !ok || r.TestID != testID {
		return nil, store.ErrNotFound
	}
	return &r, nil
}

func (f *fakeHistory) QueryTestRuns(ctx context.Context, q store.RunQuery) (*store.RunPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var runs []store.TestRun
	for _, r := range f.runs {
		if r.TestID != q.TestID {
			continue
		}
		if (q.From != "" && r.StartTime < q.From) || (q.To != "" && r.StartTime > q.To) {
			continue
		}
		runs = append(runs, r)
	}
	sort.Slice(runs, func(i, j int) bool {
		if runs[i].StartTime != runs[j].StartTime {
			return runs[i].StartTime > runs[j].StartTime
		}
		return runs[i].TestRunID > runs[j].TestRunID
	})
	if q.StartAfter != nil {
		i := slices.IndexFunc(runs, func(r store.TestRun) bool { return r.TestRunID == q.StartAfter.TestRunID })
		runs = runs[i+1:]
	}
	page := &store.RunPage{Runs: runs}
	if len(runs) > q.Limit {
		page.Runs = runs[:q.Limit]
		last := page.Runs[q.Limit-1]
		page.LastKey = &store.RunKey{TestID: last.TestID, StartTime: last.StartTime, TestRunID: last.TestRunID}
	}
	return page, nil
}

func (f *fakeHistory) CompleteTestRun(ctx context.Context, testID, testRunID string, status store.Status, endTime string, results json.RawMessage) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.runs[testRunID]
	if !ok || r.Status.Terminal() {
		return false, nil
	}
	r.Status = status
	r.EndTime = endTime
	f.runs[testRunID] = r
	return true, nil
}

func (f *fakeHistory) DeleteTestRuns(ctx context.Context, testID string, ids []string) ([]string, []string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleteCalls++
	if f.stuckRounds != 0 {
		f.stuckRounds--
		return nil, ids, nil
	}
	var deleted []string
	for _, id := range ids {
		if r, ok := f.runs[id]; ok && r.TestID == testID {
			delete(f.runs, id)
			deleted = append(deleted, id)
		}
	}
	return deleted, nil, nil
}

type fakeObjects struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (f *fakeObjects) PutObject(ctx context.Context, key string, body []byte, contentType string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[key] = body
	return nil
}

func (f *fakeObjects) Bucket() string { return "scenarios" }

type fakeStarter struct {
	inputs []workflow.Input
	err    error
}

func (f *fakeStarter) StartExecution(ctx context.Context, in workflow.Input) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.inputs = append(f.inputs, in)
	return "exec-" + in.TestRunID, nil
}

type fakeCanceler struct {
	mu      sync.Mutex
	regions []string
	err     error
}

func (f *fakeCanceler) Cancel(ctx context.Context, testID string, cfg api.RegionalConfig) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.regions = append(f.regions, cfg.Region)
	return f.err
}

type installedRule struct {
	expression string
	input      api.CreateTestRequest
}

type fakeRules struct {
	rules   map[string]installedRule
	removed []string
}

func (f *fakeRules) Replace(ctx context.Context, testID, name, expression string, input []byte) error {
	var req api.CreateTestRequest
	if err := json.Unmarshal(input, &req); err != nil {
		return err
	}
	f.rules[name] = installedRule{expression: expression, input: req}
	return nil
}

func (f *fakeRules) RemoveAll(ctx context.Context, testID string) error {
	f.removed = append(f.removed, testID)
	for name := range f.rules {
		if strings.HasPrefix(name, testID) {
			delete(f.rules, name)
		}
	}
	return nil
}

// fakePool serves one fixed task list per region.
type fakePool struct {
	tasks    map[string][]compute.Task
	quotaErr map[string]error
}

func (f *fakePool) VCPUQuota(ctx context.Context, cfg api.RegionalConfig) (float64, error) {
	if err := f.quotaErr[cfg.Region]; err != nil {
		return 0, err
	}
	return 4000, nil
}

func (f *fakePool) TaskVCPU(ctx context.Context, cfg api.RegionalConfig) (float64, error) {
	return 2, nil
}

func (f *fakePool) ListTasks(ctx context.Context, cfg api.RegionalConfig, group, token string) ([]string, string, error) {
	var ids []string
	for _, t := range f.tasks[cfg.Region] {
		if group == "" || t.Group == group {
			ids = append(ids, t.ID)
		}
	}
	return ids, "", nil
}

func (f *fakePool) DescribeTasks(ctx context.Context, cfg api.RegionalConfig, ids []string) ([]compute.Task, error) {
	var out []compute.Task
	for _, t := range f.tasks[cfg.Region] {
		if slices.Contains(ids, t.ID) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (f *fakePool) RunTasks(ctx context.Context, cfg api.RegionalConfig, spec compute.TaskSpec) ([]string, error) {
	return nil, errors.New("not used")
}

func (f *fakePool) StopTasks(ctx context.Context, cfg api.RegionalConfig, ids []string, reason string) error {
	return nil
}

type fakeCleaner struct {
	mu      sync.Mutex
	regions []string
	err     error
}

func (f *fakeCleaner) Cleanup(ctx context.Context, testID string, cfg api.RegionalConfig) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.regions = append(f.regions, cfg.Region)
	return f.err
}

type fakeMetrics struct {
	mu        sync.Mutex
	launched  map[string]int
	cancelled int
	failed    map[string]int
	retried   int
}

func (f *fakeMetrics) TestLaunched(ctx context.Context, testType string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.launched[testType]++
}

func (f *fakeMetrics) TestCancelled(ctx context.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled++
}

func (f *fakeMetrics) CapacityFieldFailed(ctx context.Context, field string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed[field]++
}

func (f *fakeMetrics) HistoryBatchRetried(ctx context.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.retried++
}

// testEnv is an engine over in-memory collaborators.
type testEnv struct {
	engine    *Engine
	scenarios *fakeScenarios
	infra     *fakeInfra
	history   *fakeHistory
	objects   *fakeObjects
	starter   *fakeStarter
	canceler  *fakeCanceler
	rules     *fakeRules
	pool      *fakePool
	cleaner   *fakeCleaner
	metrics   *fakeMetrics
	clock     *clocktesting.FakeClock
}

var testNow = time.Date(2017, 4, 22, 2, 28, 37, 0, time.UTC)

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		scenarios: &fakeScenarios{scenarios: map[string]*store.Scenario{}},
		infra: &fakeInfra{configs: map[string]store.InfraConfig{
			"us-east-1": {Region: "us-east-1", TaskCluster: "c1", TaskDefinition: "td1", LogGroup: "lg1", AvailableTasks: 10},
			"eu-west-1": {Region: "eu-west-1", TaskCluster: "c2", TaskDefinition: "td2", LogGroup: "lg2", AvailableTasks: 5},
		}},
		history:  &fakeHistory{runs: map[string]store.TestRun{}},
		objects:  &fakeObjects{objects: map[string][]byte{}},
		starter:  &fakeStarter{},
		canceler: &fakeCanceler{},
		rules:    &fakeRules{rules: map[string]installedRule{}},
		pool:     &fakePool{tasks: map[string][]compute.Task{}, quotaErr: map[string]error{}},
		cleaner:  &fakeCleaner{},
		metrics:  &fakeMetrics{launched: map[string]int{}, failed: map[string]int{}},
		clock:    clocktesting.NewFakeClock(testNow),
	}
	ids := 0
	env.engine = New(Deps{
		Scenarios: env.scenarios,
		Infra:     env.infra,
		History:   env.history,
		Objects:   env.objects,
		Workflow:  env.starter,
		Canceler:  env.canceler,
		Rules:     env.rules,
		Pool:      env.pool,
		Cleaner:   env.cleaner,
		Metrics:   env.metrics,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		Clock:     env.clock,
		NewID: func() string {
			ids++
			return "run" + strconv.Itoa(ids)
		},
		DeleteAttempts: 4,
		DeleteBackoff:  time.Millisecond,
	})
	t.Cleanup(env.engine.Drain)
	return env
}

func simpleRequest(testID string, configs ...api.TaskConfig) api.CreateTestRequest {
	if len(configs) == 0 {
		configs = []api.TaskConfig{{Region: "us-east-1", TaskCount: "2", Concurrency: "5"}}
	}
	return api.CreateTestRequest{
		TestID:          testID,
		TestName:        "checkout",
		TestTaskConfigs: configs,
		TestScenario: api.TestScenario{
			Execution: []api.Execution{{RampUp: "30s", HoldFor: "1m", Scenario: "checkout"}},
			Scenarios: map[string]json.RawMessage{"checkout": json.RawMessage(`{"requests":[{"url":"https://example.com"}]}`)},
		},
	}
}

// putRun stores a run of testID started n minutes after testNow.
func (env *testEnv) putRun(testID, runID string, n int, status store.Status) {
	env.history.runs[runID] = store.TestRun{
		TestID:    testID,
		TestRunID: runID,
		Status:    status,
		StartTime: store.FormatTime(testNow.Add(time.Duration(n) * time.Minute)),
	}
}

func (env *testEnv) putScenario(sc store.Scenario) {
	env.scenarios.scenarios[sc.TestID] = &sc
}
