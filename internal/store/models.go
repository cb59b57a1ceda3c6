// Package store contains the database layer for loadplane.
package store

import (
	"encoding/json"
	"errors"
	"time"

	"loadplane/pkg/api"
)

// ErrNotFound is returned when a point lookup matches no record.
var ErrNotFound = errors.New("record not found")

// TimeLayout is the layout of every timestamp string persisted by the engine.
const TimeLayout = "2006-01-02 15:04:05"

// FormatTime renders t in TimeLayout (UTC).
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// ParseTime parses a TimeLayout string as UTC.
func ParseTime(s string) (time.Time, error) {
	return time.ParseInLocation(TimeLayout, s, time.UTC)
}

// Status is the lifecycle state of a scenario or a run.
type Status string

const (
	StatusScheduled  Status = "scheduled"
	StatusRunning    Status = "running"
	StatusComplete   Status = "complete"
	StatusCancelling Status = "cancelling"
	StatusCancelled  Status = "cancelled"
	StatusFailed     Status = "failed"
)

// Terminal reports whether no further transition is expected.
func (s Status) Terminal() bool {
	return s == StatusComplete || s == StatusCancelled || s == StatusFailed
}

// Scenario is the durable record of one load-test definition and its latest run.
type Scenario struct {
	TestID          string             `json:"testId"`
	TestName        string             `json:"testName"`
	TestDescription string             `json:"testDescription"`
	TestType        string             `json:"testType"`
	FileType        string             `json:"fileType"`
	Status          Status             `json:"status"`
	StartTime       string             `json:"startTime"`
	EndTime         string             `json:"endTime"`
	NextRun         string             `json:"nextRun"`
	Tags            []string           `json:"tags,omitempty"`
	ShowLive        bool               `json:"showLive"`
	TestTaskConfigs []api.TaskConfig   `json:"testTaskConfigs"`
	TestScenario    api.TestScenario   `json:"testScenario"`
	TestRunID       string             `json:"testRunId,omitempty"`
	BaselineID      string             `json:"baselineId,omitempty"`
	Results         *api.Results       `json:"results,omitempty"`

	ScheduleRecurrence string `json:"scheduleRecurrence,omitempty"`
	ScheduleDate       string `json:"scheduleDate,omitempty"`
	ScheduleTime       string `json:"scheduleTime,omitempty"`
	CronValue          string `json:"cronValue,omitempty"`
	CronExpiryDate     string `json:"cronExpiryDate,omitempty"`

	// TotalRuns is computed on listing, never stored.
	TotalRuns int `json:"totalRuns,omitempty"`
}

// InfraConfig is the provisioned, read-only infrastructure of one region.
type InfraConfig struct {
	Region            string `json:"region"`
	TaskCluster       string `json:"taskCluster"`
	TaskDefinition    string `json:"taskDefinition"`
	TaskImage         string `json:"taskImage,omitempty"`
	SubnetA           string `json:"subnetA,omitempty"`
	SubnetB           string `json:"subnetB,omitempty"`
	TaskSecurityGroup string `json:"taskSecurityGroup,omitempty"`
	LogGroup          string `json:"ecsCloudWatchLogGroup,omitempty"`
	AvailableTasks    int    `json:"dltAvailableTasks"`
}

// Regional returns the infrastructure as a RegionalConfig with no tasks requested.
func (c InfraConfig) Regional() api.RegionalConfig {
	return api.RegionalConfig{
		Region:            c.Region,
		TaskCluster:       c.TaskCluster,
		TaskDefinition:    c.TaskDefinition,
		TaskImage:         c.TaskImage,
		SubnetA:           c.SubnetA,
		SubnetB:           c.SubnetB,
		TaskSecurityGroup: c.TaskSecurityGroup,
		LogGroup:          c.LogGroup,
		AvailableTasks:    c.AvailableTasks,
	}
}

// TestRun is one execution of a scenario. Only status, end time and results
// change after creation, and only until the run reaches a terminal status.
type TestRun struct {
	TestID          string               `json:"testId"`
	TestRunID       string               `json:"testRunId"`
	Status          Status               `json:"status"`
	StartTime       string               `json:"startTime"`
	EndTime         string               `json:"endTime,omitempty"`
	TestType        string               `json:"testType,omitempty"`
	TestDescription string               `json:"testDescription,omitempty"`
	TestTaskConfigs []api.RegionalConfig `json:"testTaskConfigs"`
	TestScenario    api.TestScenario     `json:"testScenario"`
	Results         *api.Results         `json:"results,omitempty"`
}

// MaxBatchDelete is the largest number of runs one DeleteTestRuns call accepts.
const MaxBatchDelete = 25

// RunKey is the store's native continuation key for run listings.
type RunKey struct {
	TestID    string `json:"testId"`
	StartTime string `json:"startTime"`
	TestRunID string `json:"testRunId"`
}

// RunQuery selects the runs of one scenario, newest first.
type RunQuery struct {
	TestID string
	Limit  int
	// StartAfter resumes a listing after the given key.
	StartAfter *RunKey
	// From and To bound StartTime (inclusive, TimeLayout). Empty means unbounded.
	From string
	To   string
}

// RunPage is one page of runs. LastKey is nil on the final page.
type RunPage struct {
	Runs    []TestRun
	LastKey *RunKey
}

// QueueItem is a claimed workflow execution.
type QueueItem struct {
	ExecutionID string
	Attempt     int
	Payload     json.RawMessage
}

// ScheduleRule is a persisted in-process schedule rule. Input is only
// meaningful when HasTarget is set.
type ScheduleRule struct {
	Name       string
	Expression string
	Input      []byte
	HasTarget  bool
}
