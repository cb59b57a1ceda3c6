// Package capacity reports compute quota, per-task cost and current usage of
// every deployed region.
package capacity

import (
	"context"
	"log/slog"
	"sync"

	"loadplane/internal/compute"
	"loadplane/internal/pager"
	"loadplane/pkg/api"
)

// Field names reported to Metrics.
const (
	FieldLimit   = "vCPULimit"
	FieldPerTask = "vCPUPerTask"
	FieldInUse   = "vCPUsInUse"
)

// Metrics observes fields that could not be determined.
type Metrics interface {
	CapacityFieldFailed(ctx context.Context, field string)
}

// Reporter gathers regional capacity.
type Reporter struct {
	pool    compute.Pool
	metrics Metrics
	logger  *slog.Logger
}

// NewReporter builds a Reporter. metrics may be nil.
func NewReporter(pool compute.Pool, metrics Metrics, logger *slog.Logger) *Reporter {
	return &Reporter{pool: pool, metrics: metrics, logger: logger}
}

// Report computes every region concurrently and waits for all of them. A
// failed lookup leaves its field nil; it never affects other fields or
// regions.
func (r *Reporter) Report(ctx context.Context, regions []api.RegionalConfig) api.CapacityResponse {
	out := make(api.CapacityResponse, len(regions))
	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, rc := range regions {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c := r.region(ctx, rc)
			mu.Lock()
			out[rc.Region] = c
			mu.Unlock()
		}()
	}
	wg.Wait()
	return out
}

func (r *Reporter) region(ctx context.Context, rc api.RegionalConfig) api.RegionCapacity {
	var c api.RegionCapacity
	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		c.VCPULimit = r.field(ctx, rc.Region, FieldLimit, func() (float64, error) {
			return r.pool.VCPUQuota(ctx, rc)
		})
	}()
	go func() {
		defer wg.Done()
		c.VCPUPerTask = r.field(ctx, rc.Region, FieldPerTask, func() (float64, error) {
			return r.pool.TaskVCPU(ctx, rc)
		})
	}()
	go func() {
		defer wg.Done()
		c.VCPUsInUse = r.field(ctx, rc.Region, FieldInUse, func() (float64, error) {
			return r.InUse(ctx, rc)
		})
	}()
	wg.Wait()
	return c
}

func (r *Reporter) field(ctx context.Context, region, name string, fn func() (float64, error)) *float64 {
	v, err := fn()
	if err != nil {
		r.logger.WarnContext(ctx, "capacity field unavailable", "region", region, "field", name, "error", err)
		if r.metrics != nil {
			r.metrics.CapacityFieldFailed(ctx, name)
		}
		return nil
	}
	return &v
}

// InUse sums the vCPUs of the region's tasks that are running, pending or
// provisioning.
func (r *Reporter) InUse(ctx context.Context, rc api.RegionalConfig) (float64, error) {
	list := func(ctx context.Context, token string) ([]string, string, error) {
		return r.pool.ListTasks(ctx, rc, "", token)
	}

	var total float64
	for page, err := range pager.Pages(ctx, list) {
		if err != nil {
			return 0, err
		}
		for _, ids := range pager.Chunk(page, compute.MaxDescribe) {
			tasks, err := r.pool.DescribeTasks(ctx, rc, ids)
			if err != nil {
				return 0, err
			}
			for _, t := range tasks {
				if compute.Active(t.Status) {
					total += t.VCPU
				}
			}
		}
	}
	return total, nil
}
