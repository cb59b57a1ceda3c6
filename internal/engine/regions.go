package engine

import (
	"context"

	"loadplane/internal/apperr"
	"loadplane/internal/pager"
	"loadplane/internal/store"
	"loadplane/pkg/api"
)

// regionPageSize is the page size of region sweeps.
const regionPageSize = 50

// ListRegions returns every stored regional infrastructure configuration.
func (e *Engine) ListRegions(ctx context.Context) (_ []store.InfraConfig, err error) {
	ctx, span, _ := e.begin(ctx, "ListRegions", "")
	defer end(span, &err)

	return pager.Collect(pager.All(ctx, func(ctx context.Context, after string) ([]store.InfraConfig, string, error) {
		return e.infra.ListInfraConfigs(ctx, after, regionPageSize)
	}))
}

// PutRegion stores a region's infrastructure configuration.
func (e *Engine) PutRegion(ctx context.Context, cfg store.InfraConfig) (err error) {
	ctx, span, log := e.begin(ctx, "PutRegion", "")
	defer end(span, &err)

	if cfg.Region == "" {
		return apperr.InvalidRegionRequest("region is required")
	}
	if cfg.TaskDefinition == "" && cfg.TaskImage == "" {
		return apperr.InvalidInfrastructure("region %s needs a taskDefinition or taskImage", cfg.Region)
	}
	if cfg.AvailableTasks < 0 {
		return apperr.InvalidInfrastructure("dltAvailableTasks for region %s cannot be negative", cfg.Region)
	}
	if err := e.infra.PutInfraConfig(ctx, &cfg); err != nil {
		return err
	}
	log.InfoContext(ctx, "region stored", "region", cfg.Region)
	return nil
}

// regions returns every deployed region as a RegionalConfig.
func (e *Engine) regions(ctx context.Context) ([]api.RegionalConfig, error) {
	configs, err := e.ListRegions(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]api.RegionalConfig, 0, len(configs))
	for _, c := range configs {
		out = append(out, c.Regional())
	}
	return out, nil
}

// GetAccountCapacityDetails reports quota, per-task cost and usage of every
// region. Values that could not be determined are omitted.
func (e *Engine) GetAccountCapacityDetails(ctx context.Context) (_ api.CapacityResponse, err error) {
	ctx, span, _ := e.begin(ctx, "GetAccountCapacityDetails", "")
	defer end(span, &err)

	regions, err := e.regions(ctx)
	if err != nil {
		return nil, err
	}
	return e.capacity.Report(ctx, regions), nil
}

// StackInfo describes the deployment stack.
func (e *Engine) StackInfo(ctx context.Context) (_ *api.StackInfo, err error) {
	ctx, span, _ := e.begin(ctx, "StackInfo", "")
	defer end(span, &err)

	if e.stack == nil {
		return nil, apperr.InvalidConfiguration("no deployment stack is configured")
	}
	return e.stack.Describe(ctx)
}
