package engine

import (
	"slices"
	"strings"

	"loadplane/internal/apperr"
	"loadplane/internal/schedule"
	"loadplane/pkg/api"
)

// maxTags is the most tags a scenario may carry.
const maxTags = 5

var testTypes = []string{api.TestTypeSimple, api.TestTypeJMeter, api.TestTypeLocust, api.TestTypeK6}

// finalStats is the reporting block every launched scenario ends with.
var finalStats = api.Reporting{
	Module:        "final-stats",
	Summary:       true,
	Percentiles:   true,
	SummaryLabels: true,
	TestDuration:  true,
	DumpXML:       "/tmp/artifacts/results.xml",
}

// normalize validates the parts of a request shared by create and schedule
// and fills in defaults. It does not touch the caller's request.
func normalize(req api.CreateTestRequest) (api.CreateTestRequest, error) {
	if err := validateID("testId", req.TestID); err != nil {
		return req, err
	}
	if strings.TrimSpace(req.TestName) == "" {
		return req, apperr.InvalidParameter("testName is required")
	}

	if req.TestType == "" {
		req.TestType = api.TestTypeSimple
	}
	if !slices.Contains(testTypes, req.TestType) {
		return req, apperr.InvalidParameter("invalid testType %q", req.TestType)
	}
	switch {
	case req.TestType == api.TestTypeSimple:
		req.FileType = "none"
	case req.FileType == "":
		req.FileType = "script"
	}

	tags, err := normalizeTags(req.Tags)
	if err != nil {
		return req, err
	}
	req.Tags = tags

	if len(req.TestTaskConfigs) == 0 {
		return req, apperr.InvalidParameter("testTaskConfigs must name at least one region")
	}
	if len(req.TestScenario.Execution) == 0 {
		return req, apperr.InvalidParameter("testScenario.execution is required")
	}
	exec := req.TestScenario.Execution[0]
	if err := schedule.ValidateRampUp(exec.RampUp); err != nil {
		return req, err
	}
	if err := schedule.ValidateHoldFor(exec.HoldFor); err != nil {
		return req, err
	}
	return req, nil
}

func normalizeTags(tags []string) ([]string, error) {
	var out []string
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" || slices.Contains(out, t) {
			continue
		}
		out = append(out, t)
	}
	if len(out) > maxTags {
		return nil, apperr.InvalidParameter("a test may have at most %d tags, got %d", maxTags, len(out))
	}
	return out, nil
}

// validateCounts checks each region's task count against its available
// tasks and requires a positive concurrency.
func validateCounts(regions []api.RegionalConfig) error {
	for _, rc := range regions {
		if rc.TaskCount < 1 || rc.TaskCount > rc.AvailableTasks {
			return apperr.InvalidParameter("taskCount for region %s must be between 1 and %d, got %d",
				rc.Region, rc.AvailableTasks, rc.TaskCount)
		}
		if rc.Concurrency < 1 {
			return apperr.InvalidParameter("concurrency for region %s must be at least 1, got %d",
				rc.Region, rc.Concurrency)
		}
	}
	return nil
}

func totalTasks(regions []api.RegionalConfig) int {
	n := 0
	for _, rc := range regions {
		n += rc.TaskCount
	}
	return n
}

// testDuration returns ramp-up plus hold-for in seconds.
func testDuration(exec api.Execution) (int, error) {
	ramp, err := schedule.DurationSeconds(exec.RampUp)
	if err != nil {
		return 0, err
	}
	hold, err := schedule.DurationSeconds(exec.HoldFor)
	if err != nil {
		return 0, err
	}
	return ramp + hold, nil
}

// withReporting returns a copy of s whose reporting ends with finalStats.
func withReporting(s api.TestScenario) api.TestScenario {
	out := s.Clone()
	out.Reporting = slices.DeleteFunc(out.Reporting, func(r api.Reporting) bool {
		return r.Module == finalStats.Module
	})
	out.Reporting = append(out.Reporting, finalStats)
	return out
}
