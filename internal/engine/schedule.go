package engine

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"loadplane/internal/apperr"
	"loadplane/internal/rules"
	"loadplane/internal/schedule"
	"loadplane/internal/store"
	"loadplane/pkg/api"
)

// Schedule steps carried by rule inputs.
const (
	StepCreate = "create"
	StepStart  = "start"
)

// createLead is how long before the first run the Create rule fires.
const createLead = time.Minute

// ScheduleTest registers the schedule described by req.
//
// An explicit cron value installs the Scheduled rule directly. Date-time and
// recurrence schedules take two steps: the create step installs a one-time
// Create rule firing a minute before the first run, and the start step (sent
// by that rule) replaces it with the Scheduled rule. The start step returns
// a nil scenario.
func (e *Engine) ScheduleTest(ctx context.Context, req api.CreateTestRequest) (_ *store.Scenario, err error) {
	if req.TestID == "" {
		req.TestID = e.newID()
	}
	ctx, span, log := e.begin(ctx, "ScheduleTest", req.TestID)
	defer end(span, &err)

	req, err = normalize(req)
	if err != nil {
		return nil, err
	}
	if _, err := testDuration(req.TestScenario.Execution[0]); err != nil {
		return nil, err
	}
	regions, err := e.orchestrator.Merge(ctx, req.TestTaskConfigs)
	if err != nil {
		return nil, err
	}
	if err := validateCounts(regions); err != nil {
		return nil, err
	}

	now := e.now()
	switch {
	case req.CronValue != "":
		return e.scheduleCron(ctx, req, regions, now)
	case req.ScheduleStep == StepStart:
		if err := e.scheduleStart(ctx, req, now); err != nil {
			return nil, err
		}
		log.InfoContext(ctx, "schedule started", "recurrence", req.Recurrence)
		return nil, nil
	default:
		return e.scheduleCreate(ctx, req, now)
	}
}

// Trigger handles a rule invocation: the start step of a two-step schedule
// or a scheduled run.
func (e *Engine) Trigger(ctx context.Context, req api.CreateTestRequest) (*store.Scenario, error) {
	if req.ScheduleStep == StepStart {
		return e.ScheduleTest(ctx, req)
	}
	req.ScheduledRun = true
	return e.CreateTest(ctx, req)
}

func (e *Engine) scheduleCron(ctx context.Context, req api.CreateTestRequest, regions []api.RegionalConfig, now time.Time) (*store.Scenario, error) {
	expiry, err := schedule.ParseExpiry(req.CronExpiryDate)
	if err != nil {
		return nil, err
	}
	if expiry != nil && !expiry.After(now) {
		return nil, apperr.InvalidParameter("cron expiry date %s is in the past", req.CronExpiryDate)
	}

	exec := req.TestScenario.Execution[0]
	runTime, err := schedule.EstimateDuration(len(regions), totalTasks(regions), exec.RampUp, exec.HoldFor)
	if err != nil {
		return nil, err
	}
	if err := schedule.CheckInterval(req.CronValue, now, expiry, runTime); err != nil {
		return nil, err
	}
	expression, err := schedule.ToRuleExpression(req.CronValue, now, expiry)
	if err != nil {
		return nil, err
	}
	next, err := schedule.NextRunForSchedule(req.CronValue, now, expiry)
	if err != nil {
		return nil, err
	}

	if err := e.replaceRule(ctx, req, rules.ScheduledRuleName(req.TestID), expression, ""); err != nil {
		return nil, err
	}
	return e.storeScheduled(ctx, req, store.FormatTime(next))
}

func (e *Engine) scheduleCreate(ctx context.Context, req api.CreateTestRequest, now time.Time) (*store.Scenario, error) {
	start, err := schedule.ParseStart(req.ScheduleDate, req.ScheduleTime)
	if err != nil {
		return nil, err
	}
	if !start.After(now) {
		return nil, apperr.InvalidParameter("scheduled start %s %s is not in the future", req.ScheduleDate, req.ScheduleTime)
	}
	if req.Recurrence != "" {
		// Reject unknown recurrences before anything is installed.
		if _, err := schedule.Recurring(req.Recurrence, start, now); err != nil {
			return nil, err
		}
	}

	createAt := start.Add(-createLead)
	if createAt.After(now) {
		name := rules.CreateRuleName(req.TestID)
		if err := e.replaceRule(ctx, req, name, schedule.OneTime(createAt), StepStart); err != nil {
			return nil, err
		}
	} else if err := e.installScheduled(ctx, req, start, now); err != nil {
		// Too close to the start for a Create rule.
		return nil, err
	}
	return e.storeScheduled(ctx, req, store.FormatTime(start))
}

func (e *Engine) scheduleStart(ctx context.Context, req api.CreateTestRequest, now time.Time) error {
	start, err := schedule.ParseStart(req.ScheduleDate, req.ScheduleTime)
	if err != nil {
		return err
	}
	sc, err := e.getScenario(ctx, req.TestID)
	if err != nil {
		if apperr.Is(err, apperr.KindTestNotFound) {
			// Deleted since the schedule was created.
			_ = e.rules.RemoveAll(ctx, req.TestID)
		}
		return err
	}

	rule, err := schedule.Recurring(req.Recurrence, start, now)
	if err != nil {
		return err
	}
	if err := e.replaceRule(ctx, req, rules.ScheduledRuleName(req.TestID), rule.Expression, ""); err != nil {
		return err
	}

	next := start
	if !rule.Next.IsZero() {
		next = rule.Next
	}
	sc.Status = store.StatusScheduled
	sc.StartTime = ""
	sc.NextRun = store.FormatTime(next)
	return e.scenarios.PutScenario(ctx, sc)
}

// installScheduled installs the Scheduled rule of a date-time schedule.
func (e *Engine) installScheduled(ctx context.Context, req api.CreateTestRequest, start, now time.Time) error {
	rule, err := schedule.Recurring(req.Recurrence, start, now)
	if err != nil {
		return err
	}
	return e.replaceRule(ctx, req, rules.ScheduledRuleName(req.TestID), rule.Expression, "")
}

// replaceRule installs a rule whose input is req with the given step. Rules
// without a step launch a scheduled run.
func (e *Engine) replaceRule(ctx context.Context, req api.CreateTestRequest, name, expression, step string) error {
	input := req
	input.ScheduleStep = step
	input.ScheduledRun = step == ""
	body, err := json.Marshal(input)
	if err != nil {
		return err
	}
	if err := e.rules.Replace(ctx, req.TestID, name, expression, body); err != nil {
		e.logger.ErrorContext(ctx, "failed to install rule", "rule", name, "error", err)
		return err
	}
	return nil
}

// storeScheduled persists the scenario in the scheduled state, keeping the
// last run's outcome of an existing scenario.
func (e *Engine) storeScheduled(ctx context.Context, req api.CreateTestRequest, nextRun string) (*store.Scenario, error) {
	sc := &store.Scenario{
		TestID:             req.TestID,
		TestName:           req.TestName,
		TestDescription:    req.TestDescription,
		TestType:           req.TestType,
		FileType:           req.FileType,
		Status:             store.StatusScheduled,
		NextRun:            nextRun,
		Tags:               req.Tags,
		ShowLive:           req.ShowLive,
		TestTaskConfigs:    req.TestTaskConfigs,
		TestScenario:       withReporting(req.TestScenario),
		ScheduleRecurrence: req.Recurrence,
		ScheduleDate:       req.ScheduleDate,
		ScheduleTime:       req.ScheduleTime,
		CronValue:          req.CronValue,
		CronExpiryDate:     req.CronExpiryDate,
	}

	existing, err := e.scenarios.GetScenario(ctx, req.TestID)
	switch {
	case err == nil:
		sc.TestRunID = existing.TestRunID
		sc.EndTime = existing.EndTime
		sc.Results = existing.Results
		sc.BaselineID = existing.BaselineID
	case !errors.Is(err, store.ErrNotFound):
		return nil, err
	}

	if err := e.scenarios.PutScenario(ctx, sc); err != nil {
		return nil, err
	}
	return sc, nil
}
