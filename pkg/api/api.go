// Package api contains shared JSON request/response structs.
// This package is shared between the CLI and Controller.
package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// Test types accepted by the engine.
const (
	TestTypeSimple = "simple"
	TestTypeJMeter = "jmeter"
	TestTypeLocust = "locust"
	TestTypeK6     = "k6"
)

// IntString is a count that may arrive as a JSON number or as a quoted string.
// The raw text is kept so validation can report exactly what the caller sent.
type IntString string

// UnmarshalJSON accepts 5, "5" and null.
func (s *IntString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*s = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var str string
		if err := json.Unmarshal(b, &str); err != nil {
			return err
		}
		*s = IntString(strings.TrimSpace(str))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("expected number or string, got %s", b)
	}
	*s = IntString(n.String())
	return nil
}

// Int parses the value as a base-10 integer.
func (s IntString) Int() (int, error) {
	return strconv.Atoi(string(s))
}

// TaskConfig is the caller-supplied per-region task configuration.
type TaskConfig struct {
	Region      string    `json:"region"`
	TaskCount   IntString `json:"taskCount"`
	Concurrency IntString `json:"concurrency"`
}

// RegionalConfig is a TaskConfig merged with the region's stored infrastructure.
type RegionalConfig struct {
	Region            string `json:"region"`
	TaskCount         int    `json:"taskCount"`
	Concurrency       int    `json:"concurrency"`
	TaskCluster       string `json:"taskCluster,omitempty"`
	TaskDefinition    string `json:"taskDefinition,omitempty"`
	TaskImage         string `json:"taskImage,omitempty"`
	SubnetA           string `json:"subnetA,omitempty"`
	SubnetB           string `json:"subnetB,omitempty"`
	TaskSecurityGroup string `json:"taskSecurityGroup,omitempty"`
	LogGroup          string `json:"ecsCloudWatchLogGroup,omitempty"`
	AvailableTasks    int    `json:"dltAvailableTasks,omitempty"`
}

// Execution is one entry of the scenario's execution block.
type Execution struct {
	RampUp      string `json:"ramp-up,omitempty"`
	HoldFor     string `json:"hold-for,omitempty"`
	Concurrency int    `json:"concurrency,omitempty"`
	TaskCount   int    `json:"taskCount,omitempty"`
	Executor    string `json:"executor,omitempty"`
	Scenario    string `json:"scenario,omitempty"`
}

// Reporting configures a result reporting module.
type Reporting struct {
	Module        string `json:"module"`
	Summary       bool   `json:"summary,omitempty"`
	Percentiles   bool   `json:"percentiles,omitempty"`
	SummaryLabels bool   `json:"summary-labels,omitempty"`
	TestDuration  bool   `json:"test-duration,omitempty"`
	DumpXML       string `json:"dump-xml,omitempty"`
}

// TestScenario is the load-test execution spec written to object storage.
// Request definitions under Scenarios are opaque to the engine.
type TestScenario struct {
	Execution []Execution                `json:"execution"`
	Scenarios map[string]json.RawMessage `json:"scenarios,omitempty"`
	Reporting []Reporting                `json:"reporting,omitempty"`
}

// Clone returns a deep copy that shares no slices, maps or byte buffers with s.
func (s TestScenario) Clone() TestScenario {
	out := TestScenario{
		Execution: slices.Clone(s.Execution),
		Reporting: slices.Clone(s.Reporting),
	}
	if s.Scenarios != nil {
		out.Scenarios = make(map[string]json.RawMessage, len(s.Scenarios))
		for k, v := range s.Scenarios {
			out.Scenarios[k] = bytes.Clone(v)
		}
	}
	return out
}

// LabelResult is the per-endpoint breakdown of a run.
type LabelResult struct {
	Label        string  `json:"label"`
	Throughput   float64 `json:"throughput"`
	SuccessCount int64   `json:"succ"`
	FailCount    int64   `json:"fail"`
	AvgRt        float64 `json:"avg_rt"`
	P95          float64 `json:"p95_0"`
}

// Results holds aggregated metrics of a run.
type Results struct {
	Throughput   float64       `json:"throughput"`
	SuccessCount int64         `json:"succ"`
	FailCount    int64         `json:"fail"`
	AvgRt        float64       `json:"avg_rt"`
	P50          float64       `json:"p50_0"`
	P90          float64       `json:"p90_0"`
	P95          float64       `json:"p95_0"`
	P99          float64       `json:"p99_0"`
	P100         float64       `json:"p100_0"`
	TestDuration float64       `json:"testDuration,omitempty"`
	Labels       []LabelResult `json:"labels,omitempty"`
}

// CreateTestRequest is the body of POST /scenarios and POST /scenarios/schedule.
// It is also the payload delivered back by schedule rules.
type CreateTestRequest struct {
	TestID          string       `json:"testId,omitempty"`
	TestName        string       `json:"testName"`
	TestDescription string       `json:"testDescription,omitempty"`
	TestType        string       `json:"testType,omitempty"`
	FileType        string       `json:"fileType,omitempty"`
	Tags            []string     `json:"tags,omitempty"`
	ShowLive        bool         `json:"showLive,omitempty"`
	TestTaskConfigs []TaskConfig `json:"testTaskConfigs"`
	TestScenario    TestScenario `json:"testScenario"`

	ScheduleDate   string `json:"scheduleDate,omitempty"`
	ScheduleTime   string `json:"scheduleTime,omitempty"`
	Recurrence     string `json:"recurrence,omitempty"`
	CronValue      string `json:"cronValue,omitempty"`
	CronExpiryDate string `json:"cronExpiryDate,omitempty"`

	// ScheduleStep is "create" for a new schedule and "start" when the
	// creation rule fires.
	ScheduleStep string `json:"scheduleStep,omitempty"`
	// ScheduledRun marks an invocation fired by a recurring schedule rule.
	ScheduledRun bool `json:"scheduledRun,omitempty"`
}

// ScenarioSummary is one entry of GET /scenarios.
type ScenarioSummary struct {
	TestID             string   `json:"testId"`
	TestName           string   `json:"testName"`
	TestDescription    string   `json:"testDescription,omitempty"`
	Status             string   `json:"status"`
	StartTime          string   `json:"startTime,omitempty"`
	NextRun            string   `json:"nextRun,omitempty"`
	ScheduleRecurrence string   `json:"scheduleRecurrence,omitempty"`
	CronValue          string   `json:"cronValue,omitempty"`
	Tags               []string `json:"tags,omitempty"`
	TotalRuns          int      `json:"totalRuns"`
}

// ListScenariosResponse is the response body of GET /scenarios.
type ListScenariosResponse struct {
	Scenarios []ScenarioSummary `json:"Items"`
}

// TestRunsPagination is the pagination block of GET /scenarios/{id}/runs.
type TestRunsPagination struct {
	Limit     int     `json:"limit"`
	NextToken *string `json:"next_token"`
}

// TestRunSummary is a run as listed by GET /scenarios/{id}/runs.
type TestRunSummary struct {
	TestRunID string   `json:"testRunId"`
	Status    string   `json:"status"`
	StartTime string   `json:"startTime"`
	EndTime   string   `json:"endTime,omitempty"`
	Results   *Results `json:"results,omitempty"`
}

// TestRunsResponse is the response body of GET /scenarios/{id}/runs.
type TestRunsResponse struct {
	TestRuns   []TestRunSummary   `json:"testRuns"`
	Pagination TestRunsPagination `json:"pagination"`
}

// DeleteTestRunsRequest is the body of DELETE /scenarios/{id}/runs.
// Entries that are not JSON strings are ignored.
type DeleteTestRunsRequest struct {
	TestRunIDs []json.RawMessage `json:"testRunIds"`
}

// DeleteTestRunsResponse reports how many runs were removed.
type DeleteTestRunsResponse struct {
	DeletedCount int `json:"deletedCount"`
}

// SetBaselineRequest is the body of PUT /scenarios/{id}/baseline.
type SetBaselineRequest struct {
	TestRunID string `json:"testRunId"`
}

// BaselineResponse is returned by the baseline endpoints.
type BaselineResponse struct {
	Message            string          `json:"message,omitempty"`
	Warning            string          `json:"warning,omitempty"`
	TestID             string          `json:"testId"`
	BaselineID         *string         `json:"baselineId"`
	PreviousBaselineID *string         `json:"previousBaselineId,omitempty"`
	TestRunDetails     json.RawMessage `json:"testRunDetails,omitempty"`
}

// CompleteRunRequest is sent by the workflow backend when a run ends.
type CompleteRunRequest struct {
	Status  string   `json:"status"`
	Results *Results `json:"results,omitempty"`
}

// RegionCapacity is the capacity of one region. Nil fields could not be determined.
type RegionCapacity struct {
	VCPULimit   *float64 `json:"vCPULimit,omitempty"`
	VCPUPerTask *float64 `json:"vCPUPerTask,omitempty"`
	VCPUsInUse  *float64 `json:"vCPUsInUse,omitempty"`
}

// CapacityResponse maps region name to its capacity.
type CapacityResponse map[string]RegionCapacity

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	Error  string `json:"error"`
	Code   string `json:"code,omitempty"`
	Status int    `json:"status,omitempty"`
}

// TaskStatus is the state of one regional task.
type TaskStatus struct {
	TaskArn    string `json:"taskArn"`
	LastStatus string `json:"lastStatus"`
	StartedAt  string `json:"startedAt,omitempty"`
	ExitCode   *int   `json:"exitCode,omitempty"`
}

// RegionTasks lists the tasks of one region.
type RegionTasks struct {
	Region       string         `json:"region"`
	TaskArns     []string       `json:"taskArns"`
	Tasks        []TaskStatus   `json:"tasks,omitempty"`
	StatusCounts map[string]int `json:"statusCounts,omitempty"`
}

// StackInfo describes the deployment stack.
type StackInfo struct {
	StackName    string            `json:"stackName"`
	Status       string            `json:"status"`
	Region       string            `json:"region,omitempty"`
	Version      string            `json:"version,omitempty"`
	CreatedTime  string            `json:"createdTime,omitempty"`
	UpdatedTime  string            `json:"lastUpdatedTime,omitempty"`
	Outputs      map[string]string `json:"outputs,omitempty"`
	WorkflowMode string            `json:"workflowBackend,omitempty"`
}
