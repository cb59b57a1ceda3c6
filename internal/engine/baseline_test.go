package engine

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"loadplane/internal/apperr"
	"loadplane/internal/store"
)

func TestBaseline_SetGetClear(t *testing.T) {
	env := newTestEnv(t)
	env.putScenario(store.Scenario{TestID: "T1"})
	env.putRun("T1", "r1", 0, store.StatusComplete)
	env.putRun("T1", "r2", 1, store.StatusComplete)
	ctx := context.Background()

	resp, err := env.engine.SetBaseline(ctx, "T1", "r1")
	if err != nil {
		t.Fatal(err)
	}
	if resp.PreviousBaselineID != nil {
		t.Errorf("expected no previous baseline, got %q", *resp.PreviousBaselineID)
	}

	resp, err = env.engine.SetBaseline(ctx, "T1", "r2")
	if err != nil {
		t.Fatal(err)
	}
	if resp.PreviousBaselineID == nil || *resp.PreviousBaselineID != "r1" {
		t.Errorf("expected previous r1, got %v", resp.PreviousBaselineID)
	}

	resp, err = env.engine.GetBaseline(ctx, "T1", true)
	if err != nil {
		t.Fatal(err)
	}
	if resp.BaselineID == nil || *resp.BaselineID != "r2" {
		t.Errorf("expected baseline r2, got %v", resp.BaselineID)
	}
	if !strings.Contains(string(resp.TestRunDetails), `"testRunId":"r2"`) {
		t.Errorf("expected run details, got %s", resp.TestRunDetails)
	}

	resp, err = env.engine.ClearBaseline(ctx, "T1")
	if err != nil {
		t.Fatal(err)
	}
	if resp.PreviousBaselineID == nil || *resp.PreviousBaselineID != "r2" {
		t.Errorf("expected cleared r2, got %v", resp.PreviousBaselineID)
	}

	if _, err := env.engine.ClearBaseline(ctx, "T1"); !apperr.Is(err, apperr.KindNoBaselineSet) {
		t.Errorf("expected NO_BASELINE_SET, got %v", err)
	}

	resp, err = env.engine.GetBaseline(ctx, "T1", false)
	if err != nil {
		t.Fatal(err)
	}
	body, _ := json.Marshal(resp)
	if !strings.Contains(string(body), `"baselineId":null`) || resp.Message == "" {
		t.Errorf("expected an explicit null baseline with a message, got %s", body)
	}
}

func TestSetBaseline_Errors(t *testing.T) {
	env := newTestEnv(t)
	env.putScenario(store.Scenario{TestID: "T1"})
	ctx := context.Background()

	if _, err := env.engine.SetBaseline(ctx, "T1", ""); !apperr.Is(err, apperr.KindInvalidParameter) {
		t.Errorf("expected InvalidParameter, got %v", err)
	}
	if _, err := env.engine.SetBaseline(ctx, "nope", "r1"); !apperr.Is(err, apperr.KindTestNotFound) {
		t.Errorf("expected TEST_NOT_FOUND, got %v", err)
	}
	if _, err := env.engine.SetBaseline(ctx, "T1", "r9"); !apperr.Is(err, apperr.KindTestRunNotFound) {
		t.Errorf("expected TESTRUN_NOT_FOUND, got %v", err)
	}
}

func TestGetBaseline_OrphanedRun(t *testing.T) {
	env := newTestEnv(t)
	env.putScenario(store.Scenario{TestID: "T1", BaselineID: "gone"})

	resp, err := env.engine.GetBaseline(context.Background(), "T1", true)
	if err != nil {
		t.Fatal(err)
	}
	if resp.Warning == "" {
		t.Error("expected a warning")
	}
	body, _ := json.Marshal(resp)
	if !strings.Contains(string(body), `"testRunDetails":null`) {
		t.Errorf("expected null run details, got %s", body)
	}
}
