package compute

import (
	"fmt"
	"maps"
	"slices"
)

// Labels attached to tasks started by loadplane.
const (
	LabelManagedBy = "app.kubernetes.io/managed-by"
	LabelTestID    = "loadplane.io/test-id"
	LabelTestRunID = "loadplane.io/test-run-id"
)

func sortedKeys(m map[string]string) []string {
	return slices.Sorted(maps.Keys(m))
}

func mapToEnvList(m map[string]string) []string {
	var env []string
	for _, k := range sortedKeys(m) {
		env = append(env, fmt.Sprintf("%s=%s", k, m[k]))
	}
	return env
}

func taskLabels(spec TaskSpec) map[string]string {
	return map[string]string{
		LabelManagedBy: "loadplane",
		LabelTestID:    spec.TestID,
		LabelTestRunID: spec.TestRunID,
	}
}
