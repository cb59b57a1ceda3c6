package engine

import (
	"context"
	"encoding/json"
	"errors"

	"loadplane/internal/apperr"
	"loadplane/internal/store"
	"loadplane/pkg/api"
)

// SetBaseline points the scenario at one of its runs and reports the
// baseline it replaced.
func (e *Engine) SetBaseline(ctx context.Context, testID, testRunID string) (_ *api.BaselineResponse, err error) {
	ctx, span, log := e.begin(ctx, "SetBaseline", testID)
	defer end(span, &err)

	if testID == "" || testRunID == "" {
		return nil, apperr.InvalidParameter("testId and testRunId are required")
	}
	sc, err := e.getScenario(ctx, testID)
	if err != nil {
		return nil, err
	}
	if _, err := e.history.GetTestRun(ctx, testID, testRunID); errors.Is(err, store.ErrNotFound) {
		return nil, apperr.TestRunNotFound(testID, testRunID)
	} else if err != nil {
		return nil, err
	}

	if err := e.scenarios.SetBaseline(ctx, testID, testRunID); err != nil {
		return nil, err
	}
	log.InfoContext(ctx, "baseline set", "test_run_id", testRunID, "previous", sc.BaselineID)
	return &api.BaselineResponse{
		Message:            "Baseline set successfully",
		TestID:             testID,
		BaselineID:         &testRunID,
		PreviousBaselineID: optional(sc.BaselineID),
	}, nil
}

// GetBaseline returns the scenario's baseline. A scenario without one is
// not an error; neither is a baseline whose run has since been deleted.
func (e *Engine) GetBaseline(ctx context.Context, testID string, includeResults bool) (_ *api.BaselineResponse, err error) {
	ctx, span, _ := e.begin(ctx, "GetBaseline", testID)
	defer end(span, &err)

	sc, err := e.getScenario(ctx, testID)
	if err != nil {
		return nil, err
	}
	if sc.BaselineID == "" {
		return &api.BaselineResponse{Message: "No baseline set for this test", TestID: testID}, nil
	}

	resp := &api.BaselineResponse{TestID: testID, BaselineID: optional(sc.BaselineID)}
	if !includeResults {
		return resp, nil
	}
	run, err := e.history.GetTestRun(ctx, testID, sc.BaselineID)
	if errors.Is(err, store.ErrNotFound) {
		resp.Warning = "Baseline test run no longer exists"
		resp.TestRunDetails = json.RawMessage("null")
		return resp, nil
	}
	if err != nil {
		return nil, err
	}
	if resp.TestRunDetails, err = json.Marshal(run); err != nil {
		return nil, err
	}
	return resp, nil
}

// ClearBaseline removes the scenario's baseline.
func (e *Engine) ClearBaseline(ctx context.Context, testID string) (_ *api.BaselineResponse, err error) {
	ctx, span, _ := e.begin(ctx, "ClearBaseline", testID)
	defer end(span, &err)

	sc, err := e.getScenario(ctx, testID)
	if err != nil {
		return nil, err
	}
	if sc.BaselineID == "" {
		return nil, apperr.NoBaselineSet(testID)
	}
	if err := e.scenarios.SetBaseline(ctx, testID, ""); err != nil {
		return nil, err
	}
	return &api.BaselineResponse{
		Message:            "Baseline cleared successfully",
		TestID:             testID,
		PreviousBaselineID: optional(sc.BaselineID),
	}, nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
