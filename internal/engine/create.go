package engine

import (
	"context"
	"errors"
	"time"

	"loadplane/internal/schedule"
	"loadplane/internal/store"
	"loadplane/internal/workflow"
	"loadplane/pkg/api"
)

// CreateTest launches a run of the scenario described by req, creating the
// scenario when its testId is new. A scheduled invocation whose cron
// schedule has expired removes the schedule and returns nil.
func (e *Engine) CreateTest(ctx context.Context, req api.CreateTestRequest) (_ *store.Scenario, err error) {
	if req.TestID == "" {
		req.TestID = e.newID()
	}
	ctx, span, log := e.begin(ctx, "CreateTest", req.TestID)
	defer end(span, &err)

	now := e.now()
	if req.ScheduledRun && req.CronValue != "" {
		expiry, err := schedule.ParseExpiry(req.CronExpiryDate)
		if err != nil {
			return nil, err
		}
		if expiry != nil && now.After(*expiry) {
			log.InfoContext(ctx, "schedule expired, removing rules", "expiry", expiry.Format(store.TimeLayout))
			if err := e.rules.RemoveAll(ctx, req.TestID); err != nil {
				return nil, err
			}
			return nil, nil
		}
	}

	req, err = normalize(req)
	if err != nil {
		return nil, err
	}
	duration, err := testDuration(req.TestScenario.Execution[0])
	if err != nil {
		return nil, err
	}

	existing, err := e.scenarios.GetScenario(ctx, req.TestID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	regions, err := e.orchestrator.Merge(ctx, req.TestTaskConfigs)
	if err != nil {
		return nil, err
	}
	if err := validateCounts(regions); err != nil {
		return nil, err
	}

	nextRun, err := nextRunAfterLaunch(req, now)
	if err != nil {
		return nil, err
	}

	sc := &store.Scenario{
		TestID:          req.TestID,
		TestName:        req.TestName,
		TestDescription: req.TestDescription,
		TestType:        req.TestType,
		FileType:        req.FileType,
		Status:          store.StatusRunning,
		StartTime:       store.FormatTime(now),
		NextRun:         nextRun,
		Tags:            req.Tags,
		ShowLive:        req.ShowLive,
		TestTaskConfigs: req.TestTaskConfigs,
		TestScenario:    withReporting(req.TestScenario),
		TestRunID:       e.newID(),

		ScheduleRecurrence: req.Recurrence,
		ScheduleDate:       req.ScheduleDate,
		ScheduleTime:       req.ScheduleTime,
		CronValue:          req.CronValue,
		CronExpiryDate:     req.CronExpiryDate,
	}
	if existing != nil {
		keepSchedule(sc, existing, now)
		sc.BaselineID = existing.BaselineID
	}

	if err := e.orchestrator.WriteScenarios(ctx, sc.TestID, sc.TestScenario, regions); err != nil {
		return nil, err
	}
	if err := e.scenarios.PutScenario(ctx, sc); err != nil {
		log.ErrorContext(ctx, "failed to store scenario", "error", err)
		return nil, err
	}
	run := &store.TestRun{
		TestID:          sc.TestID,
		TestRunID:       sc.TestRunID,
		Status:          store.StatusRunning,
		StartTime:       sc.StartTime,
		TestType:        sc.TestType,
		TestDescription: sc.TestDescription,
		TestTaskConfigs: regions,
		TestScenario:    sc.TestScenario,
	}
	if err := e.history.CreateTestRun(ctx, run); err != nil {
		log.ErrorContext(ctx, "failed to record test run", "error", err)
		return nil, err
	}

	_, err = e.orchestrator.Start(ctx, workflow.Input{
		TestID:         sc.TestID,
		TestRunID:      sc.TestRunID,
		TestType:       sc.TestType,
		FileType:       sc.FileType,
		ShowLive:       sc.ShowLive,
		TestDuration:   duration,
		Prefix:         now.Format("2006-01-02T15:04:05.000Z"),
		TestTaskConfig: regions,
	})
	if err != nil {
		e.abortRun(ctx, sc)
		return nil, err
	}

	e.metrics.TestLaunched(ctx, sc.TestType)
	log.InfoContext(ctx, "test launched", "test_run_id", sc.TestRunID, "regions", len(regions))
	return sc, nil
}

// nextRunAfterLaunch is the next scheduled run of a test launched at now, or
// "" for unscheduled launches and expired cron schedules.
func nextRunAfterLaunch(req api.CreateTestRequest, now time.Time) (string, error) {
	switch {
	case req.CronValue != "":
		expiry, err := schedule.ParseExpiry(req.CronExpiryDate)
		if err != nil {
			return "", err
		}
		return schedule.NextRun(req.CronValue, now, expiry)
	case req.ScheduledRun && req.Recurrence != "":
		next, err := schedule.NextRecurrence(req.Recurrence, now)
		if err != nil {
			return "", err
		}
		return store.FormatTime(next), nil
	}
	return "", nil
}

// keepSchedule carries the schedule of existing over to a manual launch
// that does not describe one, including a next run still in the future.
func keepSchedule(sc, existing *store.Scenario, now time.Time) {
	if sc.ScheduleRecurrence == "" && sc.CronValue == "" {
		sc.ScheduleRecurrence = existing.ScheduleRecurrence
		sc.ScheduleDate = existing.ScheduleDate
		sc.ScheduleTime = existing.ScheduleTime
		sc.CronValue = existing.CronValue
		sc.CronExpiryDate = existing.CronExpiryDate
	}
	if sc.NextRun != "" || existing.NextRun == "" {
		return
	}
	if next, err := store.ParseTime(existing.NextRun); err == nil && next.After(now) {
		sc.NextRun = existing.NextRun
	}
}

// abortRun marks a run whose workflow never started as failed.
func (e *Engine) abortRun(ctx context.Context, sc *store.Scenario) {
	endTime := store.FormatTime(e.now())
	if _, err := e.history.CompleteTestRun(ctx, sc.TestID, sc.TestRunID, store.StatusFailed, endTime, nil); err != nil {
		e.logger.ErrorContext(ctx, "failed to mark run failed", "test_id", sc.TestID, "error", err)
	}
	if err := e.scenarios.FinishRun(ctx, sc.TestID, sc.TestRunID, store.StatusFailed, endTime, nil); err != nil {
		e.logger.ErrorContext(ctx, "failed to mark scenario failed", "test_id", sc.TestID, "error", err)
	}
}
