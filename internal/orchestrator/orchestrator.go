// Package orchestrator resolves a scenario's regional configuration, stores
// the per-region scenario payloads and starts the run's workflow.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"loadplane/internal/apperr"
	"loadplane/internal/store"
	"loadplane/internal/workflow"
	"loadplane/pkg/api"

	"golang.org/x/sync/errgroup"
)

// ObjectWriter stores scenario payloads.
type ObjectWriter interface {
	PutObject(ctx context.Context, key string, body []byte, contentType string) error
	Bucket() string
}

// Orchestrator launches runs.
type Orchestrator struct {
	infra   store.InfraStore
	objects ObjectWriter
	starter workflow.Starter
	logger  *slog.Logger
}

// New builds an Orchestrator.
func New(infra store.InfraStore, objects ObjectWriter, starter workflow.Starter, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{infra: infra, objects: objects, starter: starter, logger: logger}
}

// ScenarioKey is the object key of a test's scenario for one region.
func ScenarioKey(testID, region string) string {
	return fmt.Sprintf("test-scenarios/%s-%s.json", testID, region)
}

// ResultKey is the object key a region's tasks write their aggregated
// results to.
func ResultKey(testID, prefix, region string) string {
	return fmt.Sprintf("results/%s/%s-%s.json", testID, prefix, region)
}

// Merge resolves each requested region against its stored infrastructure.
// Stored fields take precedence; the caller's task count and concurrency are
// kept. A region without stored infrastructure fails the whole merge.
func (o *Orchestrator) Merge(ctx context.Context, configs []api.TaskConfig) ([]api.RegionalConfig, error) {
	seen := make(map[string]bool, len(configs))
	for _, c := range configs {
		if c.Region == "" {
			return nil, apperr.InvalidRegionRequest("every task configuration needs a region")
		}
		if seen[c.Region] {
			return nil, apperr.InvalidRegionRequest("region %s is listed more than once", c.Region)
		}
		seen[c.Region] = true
	}

	merged := make([]api.RegionalConfig, len(configs))
	g, gctx := errgroup.WithContext(ctx)
	for i, c := range configs {
		g.Go(func() error {
			infra, err := o.infra.GetInfraConfig(gctx, c.Region)
			if errors.Is(err, store.ErrNotFound) {
				return apperr.NoInfrastructure(c.Region)
			}
			if err != nil {
				o.logger.ErrorContext(ctx, "failed to read regional infrastructure", "region", c.Region, "error", err)
				return fmt.Errorf("read infrastructure for %s: %w", c.Region, err)
			}

			rc := infra.Regional()
			if rc.TaskCount, err = c.TaskCount.Int(); err != nil {
				return apperr.InvalidParameter("taskCount for region %s must be an integer, got %q", c.Region, c.TaskCount)
			}
			if rc.Concurrency, err = c.Concurrency.Int(); err != nil {
				return apperr.InvalidParameter("concurrency for region %s must be an integer, got %q", c.Region, c.Concurrency)
			}
			merged[i] = rc
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return merged, nil
}

// RegionScenario returns a copy of scenario carrying the region's task count
// and concurrency. scenario itself is not modified.
func RegionScenario(scenario api.TestScenario, rc api.RegionalConfig) api.TestScenario {
	out := scenario.Clone()
	for i := range out.Execution {
		out.Execution[i].TaskCount = rc.TaskCount
		out.Execution[i].Concurrency = rc.Concurrency
	}
	return out
}

// WriteScenarios writes one scenario object per region concurrently. Any
// failed write fails the call.
func (o *Orchestrator) WriteScenarios(ctx context.Context, testID string, scenario api.TestScenario, regions []api.RegionalConfig) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, rc := range regions {
		g.Go(func() error {
			body, err := json.Marshal(RegionScenario(scenario, rc))
			if err != nil {
				return err
			}
			key := ScenarioKey(testID, rc.Region)
			if err := o.objects.PutObject(gctx, key, body, "application/json"); err != nil {
				o.logger.ErrorContext(ctx, "failed to write scenario", "key", key, "error", err)
				return err
			}
			return nil
		})
	}
	return g.Wait()
}

// Start starts the single workflow execution of a run.
func (o *Orchestrator) Start(ctx context.Context, in workflow.Input) (string, error) {
	in.Bucket = o.objects.Bucket()
	in.InjectTrace(ctx)
	id, err := o.starter.StartExecution(ctx, in)
	if err != nil {
		o.logger.ErrorContext(ctx, "failed to start workflow", "test_id", in.TestID, "error", err)
		return "", err
	}
	o.logger.InfoContext(ctx, "workflow started", "test_id", in.TestID, "execution", id)
	return id, nil
}
