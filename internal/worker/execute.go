package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"loadplane/internal/compute"
	"loadplane/internal/logger"
	"loadplane/internal/objectstore"
	"loadplane/internal/orchestrator"
	"loadplane/internal/pager"
	"loadplane/internal/store"
	"loadplane/internal/workflow"
	"loadplane/pkg/api"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// outcome is how a run ended.
type outcome struct {
	Status  store.Status
	Results *api.Results
}

// processItem runs one claimed execution to completion.
func (a *Agent) processItem(ctx context.Context, item store.QueueItem) {
	in, err := workflow.Decode(item.Payload)
	if err != nil {
		// Retrying cannot fix the payload.
		a.logger.Error("dropping undecodable execution",
			"execution", item.ExecutionID, "payload", payloadPreview(item.Payload), "error", err)
		if err := a.queue.Complete(ctx, item.ExecutionID); err != nil {
			a.logger.Error("failed to drop execution", "execution", item.ExecutionID, "error", err)
		}
		return
	}

	ctx = logger.WithTestID(in.ExtractTrace(ctx), in.TestID)
	log := logger.FromContext(ctx, a.logger).With("test_run_id", in.TestRunID)

	ctx, span := otel.Tracer("loadplane/worker").Start(ctx, "worker.execute",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("test_id", in.TestID),
			attribute.String("test_run_id", in.TestRunID),
			attribute.Int("regions", len(in.TestTaskConfig)),
			attribute.Int("attempt", item.Attempt),
		),
	)
	defer span.End()

	heartbeatCtx, cancelHeartbeat := context.WithCancel(ctx)
	defer cancelHeartbeat()
	go a.runHeartbeat(heartbeatCtx, item.ExecutionID)

	out, err := a.execute(ctx, in, log)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Error("execution failed to start", "attempt", item.Attempt, "error", err)

		dropped, rerr := a.queue.Release(ctx, item.ExecutionID, item.Attempt)
		if rerr != nil {
			log.Error("failed to release execution", "error", rerr)
			return
		}
		if dropped {
			log.Warn("execution retries exhausted")
			if err := a.report(ctx, in, outcome{Status: store.StatusFailed}); err != nil {
				log.Error("failed to report run", "error", err)
			}
		}
		return
	}

	span.SetAttributes(attribute.String("status", string(out.Status)))
	if err := a.report(ctx, in, out); err != nil {
		// The tasks already ran; the run stays open rather than running twice.
		span.RecordError(err)
		log.Error("failed to report run", "status", out.Status, "error", err)
	} else {
		log.Info("run reported", "status", out.Status)
	}
	if err := a.queue.Complete(ctx, item.ExecutionID); err != nil {
		log.Error("failed to complete execution", "error", err)
	}
}

// execute starts every region's tasks, waits for them and collects their
// results. An error means no run took place.
func (a *Agent) execute(ctx context.Context, in workflow.Input, log *slog.Logger) (outcome, error) {
	started := make([][]string, len(in.TestTaskConfig))

	g, gctx := errgroup.WithContext(ctx)
	for i, rc := range in.TestTaskConfig {
		g.Go(func() error {
			ids, err := a.pool.RunTasks(gctx, rc, compute.TaskSpec{
				TestID:    in.TestID,
				TestRunID: in.TestRunID,
				Count:     rc.TaskCount,
				Env:       taskEnv(in, rc),
			})
			started[i] = ids
			if err != nil {
				return fmt.Errorf("start tasks in %s: %w", rc.Region, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		a.stopTasks(ctx, in, started, "Run failed to start", log)
		return outcome{}, err
	}

	total := 0
	for _, ids := range started {
		total += len(ids)
	}
	log.Info("tasks started", "regions", len(started), "tasks", total)

	deadline := time.Now().Add(time.Duration(in.TestDuration)*time.Second + a.config.GracePeriod)
	tasks, timedOut := a.await(ctx, in, started, deadline, log)
	if timedOut {
		log.Warn("tasks still running past the test duration, stopping them")
		a.stopTasks(ctx, in, activeIDs(tasks), "Test duration exceeded", log)
	}

	results := a.collectResults(ctx, in, log)
	status := store.StatusComplete
	if allFailed(tasks) || (timedOut && results == nil) {
		status = store.StatusFailed
	}
	return outcome{Status: status, Results: results}, nil
}

// await polls the tasks until all of them stopped or the deadline passed. It
// returns the last observed tasks per region.
func (a *Agent) await(ctx context.Context, in workflow.Input, started [][]string, deadline time.Time, log *slog.Logger) ([][]compute.Task, bool) {
	ticker := time.NewTicker(a.config.TaskPollInterval)
	defer ticker.Stop()

	var last [][]compute.Task
	for {
		tasks, err := a.describe(ctx, in, started)
		if err != nil {
			log.Warn("failed to describe tasks", "error", err)
		} else {
			last = tasks
			if allStopped(tasks) {
				return tasks, false
			}
		}
		if !time.Now().Before(deadline) {
			if last == nil {
				last = unknownTasks(started)
			}
			return last, true
		}

		select {
		case <-ctx.Done():
			return last, true
		case <-ticker.C:
		}
	}
}

func (a *Agent) describe(ctx context.Context, in workflow.Input, started [][]string) ([][]compute.Task, error) {
	out := make([][]compute.Task, len(started))
	for i, ids := range started {
		rc := in.TestTaskConfig[i]
		for _, chunk := range pager.Chunk(ids, compute.MaxDescribe) {
			tasks, err := a.pool.DescribeTasks(ctx, rc, chunk)
			if err != nil {
				return nil, fmt.Errorf("describe tasks in %s: %w", rc.Region, err)
			}
			out[i] = append(out[i], tasks...)
		}
	}
	return out, nil
}

// stopTasks stops the given tasks per region. Failures are logged.
func (a *Agent) stopTasks(ctx context.Context, in workflow.Input, ids [][]string, reason string, log *slog.Logger) {
	for i, regionIDs := range ids {
		if len(regionIDs) == 0 {
			continue
		}
		rc := in.TestTaskConfig[i]
		if err := a.pool.StopTasks(ctx, rc, regionIDs, reason); err != nil {
			log.Error("failed to stop tasks", "region", rc.Region, "count", len(regionIDs), "error", err)
		}
	}
}

// collectResults merges the result objects the regions wrote. Regions
// without results are skipped; nil means none were found.
func (a *Agent) collectResults(ctx context.Context, in workflow.Input, log *slog.Logger) *api.Results {
	if a.results == nil {
		return nil
	}
	var found []api.Results
	for _, rc := range in.TestTaskConfig {
		key := orchestrator.ResultKey(in.TestID, in.Prefix, rc.Region)
		data, err := a.results.GetObject(ctx, key)
		if errors.Is(err, objectstore.ErrNotFound) {
			log.Warn("region wrote no results", "region", rc.Region, "key", key)
			continue
		}
		if err != nil {
			log.Error("failed to read results", "region", rc.Region, "key", key, "error", err)
			continue
		}
		r, err := decodeResults(data)
		if err != nil {
			log.Error("invalid results", "region", rc.Region, "key", key, "error", err)
			continue
		}
		found = append(found, r)
	}
	return mergeResults(found)
}

// taskEnv is the environment of one region's tasks.
func taskEnv(in workflow.Input, rc api.RegionalConfig) map[string]string {
	return map[string]string{
		"TEST_ID":      in.TestID,
		"TEST_RUN_ID":  in.TestRunID,
		"TEST_TYPE":    in.TestType,
		"FILE_TYPE":    in.FileType,
		"S3_BUCKET":    in.Bucket,
		"SCENARIO_KEY": orchestrator.ScenarioKey(in.TestID, rc.Region),
		"RESULT_KEY":   orchestrator.ResultKey(in.TestID, in.Prefix, rc.Region),
		"PREFIX":       in.Prefix,
		"TIMEOUT":      strconv.Itoa(in.TestDuration),
		"CONCURRENCY":  strconv.Itoa(rc.Concurrency),
		"REGION":       rc.Region,
		"LIVE_DATA":    strconv.FormatBool(in.ShowLive),
	}
}

func allStopped(tasks [][]compute.Task) bool {
	for _, region := range tasks {
		for _, t := range region {
			if t.Status != compute.StatusStopped {
				return false
			}
		}
	}
	return true
}

// allFailed reports whether every task stopped with a non-zero exit code.
func allFailed(tasks [][]compute.Task) bool {
	n := 0
	for _, region := range tasks {
		for _, t := range region {
			if t.Status != compute.StatusStopped || t.ExitCode == nil || *t.ExitCode == 0 {
				return false
			}
			n++
		}
	}
	return n > 0
}

func activeIDs(tasks [][]compute.Task) [][]string {
	out := make([][]string, len(tasks))
	for i, region := range tasks {
		for _, t := range region {
			if t.Status != compute.StatusStopped {
				out[i] = append(out[i], t.ID)
			}
		}
	}
	return out
}

// unknownTasks treats tasks that could never be described as still running.
func unknownTasks(started [][]string) [][]compute.Task {
	out := make([][]compute.Task, len(started))
	for i, ids := range started {
		for _, id := range ids {
			out[i] = append(out[i], compute.Task{ID: id, Status: compute.StatusRunning})
		}
	}
	return out
}
