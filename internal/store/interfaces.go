package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"
)

// DBTransaction defines the methods shared by *sql.DB and *sql.Tx
// This allows us to pass either a connection pool or an active transaction to the repository methods.
type DBTransaction interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// ScenarioStore persists scenarios. Single-item reads and writes are atomic;
// there is no cross-item locking.
type ScenarioStore interface {
	// GetScenario returns ErrNotFound when testID is unknown.
	GetScenario(ctx context.Context, testID string) (*Scenario, error)

	// ListScenarios returns every scenario carrying all of tags, with TotalRuns set.
	ListScenarios(ctx context.Context, tags []string) ([]Scenario, error)

	// PutScenario creates or replaces the scenario record. BaselineID is
	// preserved; use SetBaseline to change it.
	PutScenario(ctx context.Context, s *Scenario) error

	// UpdateStatus sets the status of an existing scenario.
	UpdateStatus(ctx context.Context, testID string, status Status) error

	// FinishRun sets status, end time and results if testRunID is still the
	// scenario's current run.
	FinishRun(ctx context.Context, testID, testRunID string, status Status, endTime string, results json.RawMessage) error

	// SetBaseline stores baselineID ("" clears it).
	SetBaseline(ctx context.Context, testID, baselineID string) error

	// DeleteScenario removes the record. Deleting an absent record is not an error.
	DeleteScenario(ctx context.Context, testID string) error

	// CountByStatus counts scenarios in the given status.
	CountByStatus(ctx context.Context, status Status) (int64, error)
}

// InfraStore reads provisioned regional infrastructure.
type InfraStore interface {
	// GetInfraConfig returns ErrNotFound when the region has no stored configuration.
	GetInfraConfig(ctx context.Context, region string) (*InfraConfig, error)

	// ListInfraConfigs returns one page of configurations ordered by region.
	// An empty next token means the listing is complete.
	ListInfraConfigs(ctx context.Context, after string, limit int) ([]InfraConfig, string, error)

	// PutInfraConfig creates or replaces a region's configuration.
	PutInfraConfig(ctx context.Context, cfg *InfraConfig) error
}

// RuleStore persists the rules of the in-process scheduler so they survive
// a restart.
type RuleStore interface {
	ListScheduleRules(ctx context.Context) ([]ScheduleRule, error)

	// PutScheduleRule creates or replaces a rule by name.
	PutScheduleRule(ctx context.Context, r *ScheduleRule) error

	// DeleteScheduleRule removes a rule. Deleting an absent rule is not an error.
	DeleteScheduleRule(ctx context.Context, name string) error
}

// HistoryStore is the append-only store of test runs.
type HistoryStore interface {
	CreateTestRun(ctx context.Context, run *TestRun) error

	// GetTestRun returns ErrNotFound when the run does not exist.
	GetTestRun(ctx context.Context, testID, testRunID string) (*TestRun, error)

	QueryTestRuns(ctx context.Context, q RunQuery) (*RunPage, error)

	// CompleteTestRun applies a terminal status once. It reports false when
	// the run was missing or already terminal.
	CompleteTestRun(ctx context.Context, testID, testRunID string, status Status, endTime string, results json.RawMessage) (bool, error)

	// DeleteTestRuns deletes up to 25 runs. Runs that could not be deleted in
	// this call are returned as unprocessed; ids that do not exist are neither
	// deleted nor unprocessed.
	DeleteTestRuns(ctx context.Context, testID string, testRunIDs []string) (deleted, unprocessed []string, err error)
}

// WorkflowQueue backs the local workflow backend.
type WorkflowQueue interface {
	// Enqueue adds an execution. Enqueueing an existing execution ID is a no-op.
	Enqueue(ctx context.Context, executionID string, payload json.RawMessage) error

	// DequeueBatch claims up to limit visible executions.
	DequeueBatch(ctx context.Context, limit int) ([]QueueItem, error)

	// Extend pushes the visibility timeout of a claimed execution.
	Extend(ctx context.Context, executionID string, visibleAfter time.Time) error

	// Complete removes a finished execution.
	Complete(ctx context.Context, executionID string) error

	// Release makes a failed execution visible again after a backoff, or drops
	// it once retries are exhausted. It reports whether it was dropped.
	Release(ctx context.Context, executionID string, attempt int) (bool, error)

	Count(ctx context.Context) (int64, error)
}
