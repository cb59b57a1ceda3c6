package worker

import (
	"encoding/json"
	"fmt"

	"loadplane/pkg/api"
)

func decodeResults(data []byte) (api.Results, error) {
	var r api.Results
	if err := json.Unmarshal(data, &r); err != nil {
		return api.Results{}, fmt.Errorf("decode results: %w", err)
	}
	return r, nil
}

// mergeResults combines regional results into the results of the run.
// Counts and throughput add up, average response times are weighted by
// request count and percentiles keep the worst region.
func mergeResults(regions []api.Results) *api.Results {
	if len(regions) == 0 {
		return nil
	}

	var out api.Results
	var rtSum float64
	labels := map[string]*labelAcc{}
	var order []string

	for _, r := range regions {
		n := float64(r.SuccessCount + r.FailCount)
		out.SuccessCount += r.SuccessCount
		out.FailCount += r.FailCount
		out.Throughput += r.Throughput
		rtSum += r.AvgRt * n
		out.P50 = max(out.P50, r.P50)
		out.P90 = max(out.P90, r.P90)
		out.P95 = max(out.P95, r.P95)
		out.P99 = max(out.P99, r.P99)
		out.P100 = max(out.P100, r.P100)
		out.TestDuration = max(out.TestDuration, r.TestDuration)

		for _, l := range r.Labels {
			acc, ok := labels[l.Label]
			if !ok {
				acc = &labelAcc{LabelResult: api.LabelResult{Label: l.Label}}
				labels[l.Label] = acc
				order = append(order, l.Label)
			}
			acc.add(l)
		}
	}

	if total := out.SuccessCount + out.FailCount; total > 0 {
		out.AvgRt = rtSum / float64(total)
	}
	for _, name := range order {
		out.Labels = append(out.Labels, labels[name].result())
	}
	return &out
}

type labelAcc struct {
	api.LabelResult
	rtSum float64
}

func (a *labelAcc) add(l api.LabelResult) {
	a.SuccessCount += l.SuccessCount
	a.FailCount += l.FailCount
	a.Throughput += l.Throughput
	a.rtSum += l.AvgRt * float64(l.SuccessCount+l.FailCount)
	a.P95 = max(a.P95, l.P95)
}

func (a *labelAcc) result() api.LabelResult {
	r := a.LabelResult
	if total := r.SuccessCount + r.FailCount; total > 0 {
		r.AvgRt = a.rtSum / float64(total)
	}
	return r
}
