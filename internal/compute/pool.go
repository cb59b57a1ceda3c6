// Package compute runs and inspects load-test tasks on regional compute pools.
package compute

import (
	"context"
	"errors"

	"loadplane/pkg/api"
)

// Task statuses, normalised across backends.
const (
	StatusProvisioning   = "PROVISIONING"
	StatusPending        = "PENDING"
	StatusRunning        = "RUNNING"
	StatusDeprovisioning = "DEPROVISIONING"
	StatusStopped        = "STOPPED"
)

// Active reports whether a task in status holds compute resources.
func Active(status string) bool {
	return status == StatusRunning || status == StatusPending || status == StatusProvisioning
}

// MaxDescribe is the largest number of task IDs DescribeTasks accepts.
const MaxDescribe = 100

// ErrNoQuota is returned by VCPUQuota when the pool has no quota to report.
var ErrNoQuota = errors.New("no vCPU quota defined")

// Task is one load-generating task.
type Task struct {
	ID         string  `json:"taskArn"`
	Group      string  `json:"group,omitempty"`
	Status     string  `json:"lastStatus"`
	VCPU       float64 `json:"vCPU"`
	StartedAt  string  `json:"startedAt,omitempty"`
	StoppedAt  string  `json:"stoppedAt,omitempty"`
	StopReason string  `json:"stoppedReason,omitempty"`
	ExitCode   *int    `json:"exitCode,omitempty"`
}

// TaskSpec describes tasks to start for one region of a run.
type TaskSpec struct {
	TestID    string
	TestRunID string
	Count     int
	Env       map[string]string
}

// Pool is a regional container task scheduler. Every call receives the
// region's configuration, so one Pool serves all regions.
type Pool interface {
	// VCPUQuota returns the account's vCPU limit in the region.
	VCPUQuota(ctx context.Context, cfg api.RegionalConfig) (float64, error)
	// TaskVCPU returns the vCPU cost of one task of the region's task definition.
	TaskVCPU(ctx context.Context, cfg api.RegionalConfig) (float64, error)
	// ListTasks returns one page of task IDs in the region's cluster. A
	// non-empty group restricts the listing to tasks started for that test.
	ListTasks(ctx context.Context, cfg api.RegionalConfig, group, token string) ([]string, string, error)
	// DescribeTasks describes up to MaxDescribe tasks.
	DescribeTasks(ctx context.Context, cfg api.RegionalConfig, ids []string) ([]Task, error)
	// RunTasks starts spec.Count tasks and returns their IDs.
	RunTasks(ctx context.Context, cfg api.RegionalConfig, spec TaskSpec) ([]string, error)
	// StopTasks stops the given tasks.
	StopTasks(ctx context.Context, cfg api.RegionalConfig, ids []string, reason string) error
}
