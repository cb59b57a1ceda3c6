package compute

import (
	"context"
	"fmt"
	"io"
	"log"
	"time"

	"loadplane/pkg/api"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
)

// DockerPool runs tasks as containers on the local Docker daemon. It backs
// local deployments: every region maps onto the same daemon, TaskImage (or
// TaskDefinition) names the image and TaskCluster an optional network.
type DockerPool struct {
	client   *client.Client
	taskCPUs float64
}

// NewDockerPool creates a Docker-backed pool. taskCPUs is the CPU limit
// given to each task container.
func NewDockerPool(taskCPUs float64) (*DockerPool, error) {
	// Initializes client from standard environment variables (DOCKER_HOST, etc.)
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create Docker client: %w", err)
	}
	if taskCPUs <= 0 {
		taskCPUs = 1
	}
	return &DockerPool{client: cli, taskCPUs: taskCPUs}, nil
}

// Close releases the Docker client.
func (d *DockerPool) Close() error {
	return d.client.Close()
}

func (d *DockerPool) VCPUQuota(ctx context.Context, _ api.RegionalConfig) (float64, error) {
	info, err := d.client.Info(ctx)
	if err != nil {
		return 0, err
	}
	if info.NCPU == 0 {
		return 0, ErrNoQuota
	}
	return float64(info.NCPU), nil
}

func (d *DockerPool) TaskVCPU(context.Context, api.RegionalConfig) (float64, error) {
	return d.taskCPUs, nil
}

func labelFilters(group string) filters.Args {
	args := filters.NewArgs(filters.Arg("label", LabelManagedBy+"=loadplane"))
	if group != "" {
		args.Add("label", LabelTestID+"="+group)
	}
	return args
}

// ListTasks returns every matching container in one page.
func (d *DockerPool) ListTasks(ctx context.Context, _ api.RegionalConfig, group, _ string) ([]string, string, error) {
	containers, err := d.client.ContainerList(ctx, container.ListOptions{All: true, Filters: labelFilters(group)})
	if err != nil {
		return nil, "", err
	}
	ids := make([]string, 0, len(containers))
	for _, c := range containers {
		ids = append(ids, c.ID)
	}
	return ids, "", nil
}

func (d *DockerPool) DescribeTasks(ctx context.Context, _ api.RegionalConfig, ids []string) ([]Task, error) {
	if len(ids) > MaxDescribe {
		return nil, fmt.Errorf("cannot describe %d tasks at once, limit is %d", len(ids), MaxDescribe)
	}
	var tasks []Task
	for _, id := range ids {
		info, err := d.client.ContainerInspect(ctx, id)
		if err != nil {
			if client.IsErrNotFound(err) {
				continue
			}
			return nil, err
		}
		tasks = append(tasks, containerTask(info))
	}
	return tasks, nil
}

func containerTask(info types.ContainerJSON) Task {
	t := Task{ID: info.ID, Status: StatusPending}
	if info.Config != nil {
		t.Group = info.Config.Labels[LabelTestID]
	}
	if info.ContainerJSONBase != nil && info.HostConfig != nil {
		t.VCPU = float64(info.HostConfig.NanoCPUs) / 1e9
	}
	if info.ContainerJSONBase == nil || info.State == nil {
		return t
	}
	t.Status = containerStatus(info.State.Status)
	t.StartedAt = dockerTime(info.State.StartedAt)
	if t.Status == StatusStopped {
		code := info.State.ExitCode
		t.ExitCode = &code
		t.StoppedAt = dockerTime(info.State.FinishedAt)
		t.StopReason = info.State.Error
	}
	return t
}

func containerStatus(state string) string {
	switch state {
	case "created":
		return StatusProvisioning
	case "running", "paused":
		return StatusRunning
	case "restarting":
		return StatusPending
	case "removing":
		return StatusDeprovisioning
	case "exited", "dead":
		return StatusStopped
	}
	return StatusPending
}

// dockerTime normalises Docker's RFC3339Nano timestamps. The zero time
// Docker reports for never-started containers becomes "".
func dockerTime(s string) string {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil || t.Year() <= 1 {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func taskImage(cfg api.RegionalConfig) string {
	if cfg.TaskImage != "" {
		return cfg.TaskImage
	}
	return cfg.TaskDefinition
}

func (d *DockerPool) ensureImage(ctx context.Context, ref string) error {
	// Check if it exists locally first to save time.
	if _, _, err := d.client.ImageInspectWithRaw(ctx, ref); err == nil {
		return nil
	}
	reader, err := d.client.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image %s: %w", ref, err)
	}
	defer reader.Close()
	_, err = io.Copy(io.Discard, reader)
	return err
}

func (d *DockerPool) RunTasks(ctx context.Context, cfg api.RegionalConfig, spec TaskSpec) ([]string, error) {
	ref := taskImage(cfg)
	if ref == "" {
		return nil, fmt.Errorf("no task image configured for region %s", cfg.Region)
	}
	if err := d.ensureImage(ctx, ref); err != nil {
		return nil, err
	}

	hostConfig := &container.HostConfig{
		Resources: container.Resources{NanoCPUs: int64(d.taskCPUs * 1e9)},
	}
	if cfg.TaskCluster != "" {
		hostConfig.NetworkMode = container.NetworkMode(cfg.TaskCluster)
	}

	var ids []string
	for i := 0; i < spec.Count; i++ {
		resp, err := d.client.ContainerCreate(ctx, &container.Config{
			Image:  ref,
			Env:    mapToEnvList(spec.Env),
			Labels: taskLabels(spec),
		}, hostConfig, nil, nil, "")
		if err != nil {
			return ids, fmt.Errorf("failed to create container: %w", err)
		}
		if err := d.client.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
			return ids, fmt.Errorf("failed to start container: %w", err)
		}
		ids = append(ids, resp.ID)
	}
	log.Printf("Started %d containers for test %s", len(ids), spec.TestID)
	return ids, nil
}

func (d *DockerPool) StopTasks(ctx context.Context, _ api.RegionalConfig, ids []string, reason string) error {
	timeout := 5
	for _, id := range ids {
		err := d.client.ContainerStop(ctx, id, container.StopOptions{Timeout: &timeout})
		if err != nil && !client.IsErrNotFound(err) {
			return fmt.Errorf("failed to stop container %s: %w", id, err)
		}
	}
	log.Printf("Stopped %d containers: %s", len(ids), reason)
	return nil
}
