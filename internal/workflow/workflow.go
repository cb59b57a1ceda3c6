// Package workflow starts and cancels the executions that supervise a
// test's regional tasks.
package workflow

import (
	"context"
	"encoding/json"
	"fmt"

	"loadplane/pkg/api"

	"go.opentelemetry.io/otel/propagation"
)

// Input is the payload of one workflow execution. One execution covers every
// region of a run.
type Input struct {
	TestID         string               `json:"testId"`
	TestRunID      string               `json:"testRunId"`
	TestType       string               `json:"testType"`
	FileType       string               `json:"fileType"`
	ShowLive       bool                 `json:"showLive"`
	TestDuration   int                  `json:"testDuration"`
	Prefix         string               `json:"prefix"`
	Bucket         string               `json:"bucket,omitempty"`
	TestTaskConfig []api.RegionalConfig `json:"testTaskConfig"`
	TraceCarrier   map[string]string    `json:"traceCarrier,omitempty"`
}

// Validate checks the fields every backend relies on.
func (in Input) Validate() error {
	if in.TestID == "" || in.TestRunID == "" {
		return fmt.Errorf("workflow input requires testId and testRunId")
	}
	if len(in.TestTaskConfig) == 0 {
		return fmt.Errorf("workflow input for %s has no regions", in.TestID)
	}
	return nil
}

var propagator = propagation.TraceContext{}

// InjectTrace records the span context of ctx in the input.
func (in *Input) InjectTrace(ctx context.Context) {
	carrier := propagation.MapCarrier{}
	propagator.Inject(ctx, carrier)
	if len(carrier) > 0 {
		in.TraceCarrier = carrier
	}
}

// ExtractTrace returns ctx carrying the span context recorded in the input.
func (in Input) ExtractTrace(ctx context.Context) context.Context {
	if len(in.TraceCarrier) == 0 {
		return ctx
	}
	return propagator.Extract(ctx, propagation.MapCarrier(in.TraceCarrier))
}

// Decode parses an execution payload.
func Decode(payload []byte) (Input, error) {
	var in Input
	if err := json.Unmarshal(payload, &in); err != nil {
		return Input{}, fmt.Errorf("decode workflow input: %w", err)
	}
	return in, in.Validate()
}

// Starter starts workflow executions.
type Starter interface {
	// StartExecution starts one execution and returns its identifier.
	StartExecution(ctx context.Context, in Input) (string, error)
}

// Canceler asks a region to stop the tasks of a test. Implementations
// return once the request is accepted, not once tasks have stopped.
type Canceler interface {
	Cancel(ctx context.Context, testID string, cfg api.RegionalConfig) error
}
