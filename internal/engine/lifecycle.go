package engine

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"loadplane/internal/apperr"
	"loadplane/internal/compute"
	"loadplane/internal/pager"
	"loadplane/internal/store"
	"loadplane/pkg/api"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"
)

// Messages returned by cancel and delete.
const (
	MsgCancelling = "test cancelling"
	MsgDeleted    = "success"
)

// GetOptions selects what GetTest adds to the stored scenario.
type GetOptions struct {
	// History adds the scenario's runs, newest first.
	History bool
	// Latest limits History to the newest run.
	Latest bool
}

// TestDetails is a scenario with its live tasks or its run history.
type TestDetails struct {
	*store.Scenario
	TasksPerRegion []api.RegionTasks    `json:"tasksPerRegion,omitempty"`
	History        []api.TestRunSummary `json:"history,omitempty"`
}

// ListTests returns summaries of every scenario carrying all of tags.
func (e *Engine) ListTests(ctx context.Context, tags []string) (_ []api.ScenarioSummary, err error) {
	ctx, span, _ := e.begin(ctx, "ListTests", "")
	defer end(span, &err)

	scenarios, err := e.scenarios.ListScenarios(ctx, tags)
	if err != nil {
		return nil, err
	}
	out := make([]api.ScenarioSummary, 0, len(scenarios))
	for _, s := range scenarios {
		out = append(out, api.ScenarioSummary{
			TestID:             s.TestID,
			TestName:           s.TestName,
			TestDescription:    s.TestDescription,
			Status:             string(s.Status),
			StartTime:          s.StartTime,
			NextRun:            s.NextRun,
			ScheduleRecurrence: s.ScheduleRecurrence,
			CronValue:          s.CronValue,
			Tags:               s.Tags,
			TotalRuns:          s.TotalRuns,
		})
	}
	return out, nil
}

// GetTest returns a scenario. Running scenarios carry their live regional
// tasks; others optionally carry their run history.
func (e *Engine) GetTest(ctx context.Context, testID string, opts GetOptions) (_ *TestDetails, err error) {
	ctx, span, _ := e.begin(ctx, "GetTest", testID)
	defer end(span, &err)

	sc, err := e.getScenario(ctx, testID)
	if err != nil {
		return nil, err
	}
	details := &TestDetails{Scenario: sc}

	if sc.Status == store.StatusRunning {
		regions, err := e.orchestrator.Merge(ctx, sc.TestTaskConfigs)
		if err != nil {
			return nil, err
		}
		details.TasksPerRegion, err = e.regionTasks(ctx, regions, testID, true)
		return details, err
	}

	if opts.History {
		details.History, err = e.runHistory(ctx, testID, opts.Latest)
		if err != nil {
			return nil, err
		}
	}
	return details, nil
}

func (e *Engine) runHistory(ctx context.Context, testID string, latest bool) ([]api.TestRunSummary, error) {
	q := store.RunQuery{TestID: testID, Limit: maxRunsLimit}
	if latest {
		q.Limit = 1
		page, err := e.history.QueryTestRuns(ctx, q)
		if err != nil {
			return nil, err
		}
		return summarize(page.Runs), nil
	}

	runs, err := pager.Collect(pager.All(ctx, e.runPages(q)))
	if err != nil {
		return nil, err
	}
	return summarize(runs), nil
}

// runPages pages through the runs selected by q.
func (e *Engine) runPages(q store.RunQuery) pager.PageFunc[store.TestRun, *store.RunKey] {
	return func(ctx context.Context, after *store.RunKey) ([]store.TestRun, *store.RunKey, error) {
		q := q
		q.StartAfter = after
		page, err := e.history.QueryTestRuns(ctx, q)
		if err != nil {
			return nil, nil, err
		}
		return page.Runs, page.LastKey, nil
	}
}

// ListTasks lists the task IDs running in every deployed region.
func (e *Engine) ListTasks(ctx context.Context) (_ []api.RegionTasks, err error) {
	ctx, span, _ := e.begin(ctx, "ListTasks", "")
	defer end(span, &err)

	regions, err := e.regions(ctx)
	if err != nil {
		return nil, err
	}
	return e.regionTasks(ctx, regions, "", false)
}

// regionTasks lists tasks of each region concurrently, optionally
// restricted to one test and described.
func (e *Engine) regionTasks(ctx context.Context, regions []api.RegionalConfig, testID string, describe bool) ([]api.RegionTasks, error) {
	out := make([]api.RegionTasks, len(regions))
	g, gctx := errgroup.WithContext(ctx)
	for i, rc := range regions {
		g.Go(func() error {
			list := func(ctx context.Context, token string) ([]string, string, error) {
				return e.pool.ListTasks(ctx, rc, testID, token)
			}
			ids, err := pager.Collect(pager.All(gctx, list))
			if err != nil {
				return err
			}
			rt := api.RegionTasks{Region: rc.Region, TaskArns: ids}
			if ids == nil {
				rt.TaskArns = []string{}
			}
			if describe {
				if err := e.describeInto(gctx, rc, &rt); err != nil {
					return err
				}
			}
			out[i] = rt
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		e.logger.ErrorContext(ctx, "failed to list regional tasks", "error", err)
		return nil, err
	}
	return out, nil
}

func (e *Engine) describeInto(ctx context.Context, rc api.RegionalConfig, rt *api.RegionTasks) error {
	rt.StatusCounts = map[string]int{}
	for _, ids := range pager.Chunk(rt.TaskArns, compute.MaxDescribe) {
		tasks, err := e.pool.DescribeTasks(ctx, rc, ids)
		if err != nil {
			return err
		}
		for _, t := range tasks {
			rt.Tasks = append(rt.Tasks, api.TaskStatus{
				TaskArn:    t.ID,
				LastStatus: t.Status,
				StartedAt:  t.StartedAt,
				ExitCode:   t.ExitCode,
			})
			rt.StatusCounts[t.Status]++
		}
	}
	return nil
}

// CancelTest flips a listed scenario to cancelling and asks every region to
// stop its tasks in the background. It does not wait for the tasks.
func (e *Engine) CancelTest(ctx context.Context, testID string) (_ string, err error) {
	ctx, span, log := e.begin(ctx, "CancelTest", testID)
	defer end(span, &err)

	// Existence is decided by the listing, not a point lookup.
	scenarios, err := e.scenarios.ListScenarios(ctx, nil)
	if err != nil {
		return "", err
	}
	var sc *store.Scenario
	for i := range scenarios {
		if scenarios[i].TestID == testID {
			sc = &scenarios[i]
			break
		}
	}
	if sc == nil {
		return "", apperr.TestNotFound(testID)
	}

	regions, err := e.orchestrator.Merge(ctx, sc.TestTaskConfigs)
	if err != nil {
		log.WarnContext(ctx, "regional infrastructure unavailable, cancelling by region name", "error", err)
		regions = regions[:0]
		for _, c := range sc.TestTaskConfigs {
			regions = append(regions, api.RegionalConfig{Region: c.Region})
		}
	}

	if err := e.scenarios.UpdateStatus(ctx, testID, store.StatusCancelling); err != nil {
		return "", err
	}
	e.metrics.TestCancelled(ctx)

	bg, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cancelTimeout)
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer cancel()
		e.signalCancel(bg, testID, regions)
	}()

	return MsgCancelling, nil
}

func (e *Engine) signalCancel(ctx context.Context, testID string, regions []api.RegionalConfig) {
	var mu sync.Mutex
	var result *multierror.Error
	var wg sync.WaitGroup
	for _, rc := range regions {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := e.canceler.Cancel(ctx, testID, rc); err != nil {
				mu.Lock()
				result = multierror.Append(result, err)
				mu.Unlock()
				return
			}
			e.logger.InfoContext(ctx, "cancellation signalled", "test_id", testID, "region", rc.Region)
		}()
	}
	wg.Wait()
	if err := result.ErrorOrNil(); err != nil {
		e.logger.ErrorContext(ctx, "cancellation signal failed", "test_id", testID, "error", err)
	}
}

// DeleteTest removes a scenario, its dashboards, metric filters, rules and
// every run in its history.
func (e *Engine) DeleteTest(ctx context.Context, testID string) (_ string, err error) {
	ctx, span, log := e.begin(ctx, "DeleteTest", testID)
	defer end(span, &err)

	sc, err := e.getScenario(ctx, testID)
	if err != nil {
		return "", err
	}
	regions, err := e.orchestrator.Merge(ctx, sc.TestTaskConfigs)
	if err != nil {
		return "", err
	}

	for _, rc := range regions {
		if err := e.cleaner.Cleanup(ctx, testID, rc); err != nil {
			log.ErrorContext(ctx, "failed to delete monitoring resources", "region", rc.Region, "error", err)
			return "", err
		}
	}
	if err := e.rules.RemoveAll(ctx, testID); err != nil {
		return "", err
	}
	if err := e.scenarios.DeleteScenario(ctx, testID); err != nil {
		return "", err
	}

	ids, err := e.allRunIDs(ctx, testID)
	if err != nil {
		return "", err
	}
	deleted := 0
	for _, batch := range pager.Chunk(ids, store.MaxBatchDelete) {
		n, err := e.deleteBatch(ctx, testID, batch)
		deleted += n
		if err != nil {
			return "", err
		}
	}
	log.InfoContext(ctx, "test deleted", "runs_deleted", deleted)
	return MsgDeleted, nil
}

func (e *Engine) allRunIDs(ctx context.Context, testID string) ([]string, error) {
	var ids []string
	for run, err := range pager.All(ctx, e.runPages(store.RunQuery{TestID: testID, Limit: maxRunsLimit})) {
		if err != nil {
			return nil, err
		}
		ids = append(ids, run.TestRunID)
	}
	return ids, nil
}

// CompleteTestRun records the outcome of a run once and moves its scenario
// to the matching terminal status. A run that already finished is left
// unchanged.
func (e *Engine) CompleteTestRun(ctx context.Context, testID, testRunID string, req api.CompleteRunRequest) (err error) {
	ctx, span, log := e.begin(ctx, "CompleteTestRun", testID)
	defer end(span, &err)

	status := store.Status(req.Status)
	if !status.Terminal() {
		return apperr.InvalidParameter("status must be complete, cancelled or failed, got %q", req.Status)
	}
	var results json.RawMessage
	if req.Results != nil {
		if results, err = json.Marshal(req.Results); err != nil {
			return err
		}
	}

	sc, err := e.getScenario(ctx, testID)
	if err != nil {
		return err
	}
	if sc.Status == store.StatusCancelling && status == store.StatusComplete {
		status = store.StatusCancelled
	}

	endTime := store.FormatTime(e.now())
	updated, err := e.history.CompleteTestRun(ctx, testID, testRunID, status, endTime, results)
	if err != nil {
		return err
	}
	if !updated {
		if _, err := e.history.GetTestRun(ctx, testID, testRunID); errors.Is(err, store.ErrNotFound) {
			return apperr.TestRunNotFound(testID, testRunID)
		} else if err != nil {
			return err
		}
		log.InfoContext(ctx, "run already finished", "test_run_id", testRunID)
		return nil
	}

	if err := e.scenarios.FinishRun(ctx, testID, testRunID, status, endTime, results); err != nil {
		return err
	}
	log.InfoContext(ctx, "run finished", "test_run_id", testRunID, "status", status)
	return nil
}
