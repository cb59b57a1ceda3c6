package compute

import (
	"testing"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
)

func TestContainerStatus(t *testing.T) {
	tests := map[string]string{
		"created":    StatusProvisioning,
		"running":    StatusRunning,
		"restarting": StatusPending,
		"removing":   StatusDeprovisioning,
		"exited":     StatusStopped,
		"dead":       StatusStopped,
		"unknown":    StatusPending,
	}
	for state, want := range tests {
		if got := containerStatus(state); got != want {
			t.Errorf("containerStatus(%q) = %s, want %s", state, got, want)
		}
	}
}

func TestContainerTask_Stopped(t *testing.T) {
	info := types.ContainerJSON{
		ContainerJSONBase: &types.ContainerJSONBase{
			ID: "c1",
			State: &types.ContainerState{
				Status:     "exited",
				ExitCode:   3,
				StartedAt:  "2024-05-01T10:00:00.123456789Z",
				FinishedAt: "2024-05-01T10:05:00Z",
			},
			HostConfig: &container.HostConfig{
				Resources: container.Resources{NanoCPUs: 2_000_000_000},
			},
		},
		Config: &container.Config{Labels: map[string]string{LabelTestID: "A"}},
	}

	task := containerTask(info)
	if task.Status != StatusStopped || task.Group != "A" || task.VCPU != 2 {
		t.Errorf("unexpected task: %+v", task)
	}
	if task.ExitCode == nil || *task.ExitCode != 3 {
		t.Errorf("expected exit code 3, got %v", task.ExitCode)
	}
	if task.StartedAt != "2024-05-01T10:00:00Z" || task.StoppedAt != "2024-05-01T10:05:00Z" {
		t.Errorf("unexpected times: %s / %s", task.StartedAt, task.StoppedAt)
	}
}

func TestDockerTime_ZeroValue(t *testing.T) {
	if got := dockerTime("0001-01-01T00:00:00Z"); got != "" {
		t.Errorf("expected empty string, got %q", got)
	}
}

func TestLabelFilters(t *testing.T) {
	args := labelFilters("A")
	got := args.Get("label")
	if len(got) != 2 {
		t.Fatalf("expected 2 label filters, got %v", got)
	}
	if labelFilters("").Len() != 1 {
		t.Error("expected a single filter key without group")
	}
}
