package compute

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"loadplane/pkg/api"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ecs"
	ecstypes "github.com/aws/aws-sdk-go-v2/service/ecs/types"
	"github.com/aws/aws-sdk-go-v2/service/servicequotas"
)

// Fargate On-Demand vCPU resource count.
const (
	fargateServiceCode = "fargate"
	fargateVCPUQuota   = "L-3032A538"
	// runTaskBatch is the most tasks one RunTask call may start.
	runTaskBatch = 10
)

// ECSAPI is the subset of the ECS client used by ECSPool.
type ECSAPI interface {
	ListTasks(ctx context.Context, in *ecs.ListTasksInput, optFns ...func(*ecs.Options)) (*ecs.ListTasksOutput, error)
	DescribeTasks(ctx context.Context, in *ecs.DescribeTasksInput, optFns ...func(*ecs.Options)) (*ecs.DescribeTasksOutput, error)
	DescribeTaskDefinition(ctx context.Context, in *ecs.DescribeTaskDefinitionInput, optFns ...func(*ecs.Options)) (*ecs.DescribeTaskDefinitionOutput, error)
	RunTask(ctx context.Context, in *ecs.RunTaskInput, optFns ...func(*ecs.Options)) (*ecs.RunTaskOutput, error)
	StopTask(ctx context.Context, in *ecs.StopTaskInput, optFns ...func(*ecs.Options)) (*ecs.StopTaskOutput, error)
}

// QuotaAPI is the subset of the Service Quotas client used by ECSPool.
type QuotaAPI interface {
	GetServiceQuota(ctx context.Context, in *servicequotas.GetServiceQuotaInput, optFns ...func(*servicequotas.Options)) (*servicequotas.GetServiceQuotaOutput, error)
}

// ECSPool runs tasks on Fargate.
type ECSPool struct {
	ecs           ECSAPI
	quotas        QuotaAPI
	containerName string
}

// NewECSPool builds a Pool backed by ECS Fargate. containerName names the
// load-tester container in the task definition.
func NewECSPool(ecsClient ECSAPI, quotas QuotaAPI, containerName string) *ECSPool {
	if containerName == "" {
		containerName = "load-tester"
	}
	return &ECSPool{ecs: ecsClient, quotas: quotas, containerName: containerName}
}

func inRegion[O any](region string, set func(*O, string)) func(*O) {
	return func(o *O) {
		if region != "" {
			set(o, region)
		}
	}
}

func ecsRegion(region string) func(*ecs.Options) {
	return inRegion(region, func(o *ecs.Options, r string) { o.Region = r })
}

func (p *ECSPool) VCPUQuota(ctx context.Context, cfg api.RegionalConfig) (float64, error) {
	out, err := p.quotas.GetServiceQuota(ctx, &servicequotas.GetServiceQuotaInput{
		ServiceCode: aws.String(fargateServiceCode),
		QuotaCode:   aws.String(fargateVCPUQuota),
	}, inRegion(cfg.Region, func(o *servicequotas.Options, r string) { o.Region = r }))
	if err != nil {
		return 0, err
	}
	if out.Quota == nil || out.Quota.Value == nil {
		return 0, ErrNoQuota
	}
	return *out.Quota.Value, nil
}

func (p *ECSPool) TaskVCPU(ctx context.Context, cfg api.RegionalConfig) (float64, error) {
	out, err := p.ecs.DescribeTaskDefinition(ctx, &ecs.DescribeTaskDefinitionInput{
		TaskDefinition: aws.String(cfg.TaskDefinition),
	}, ecsRegion(cfg.Region))
	if err != nil {
		return 0, err
	}
	if out.TaskDefinition == nil {
		return 0, fmt.Errorf("task definition %s not found", cfg.TaskDefinition)
	}
	return cpuUnits(aws.ToString(out.TaskDefinition.Cpu))
}

// cpuUnits converts ECS CPU units (1024 per vCPU) to vCPUs.
func cpuUnits(s string) (float64, error) {
	units, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid cpu units %q", s)
	}
	return units / 1024, nil
}

func (p *ECSPool) ListTasks(ctx context.Context, cfg api.RegionalConfig, group, token string) ([]string, string, error) {
	in := &ecs.ListTasksInput{
		Cluster:    aws.String(cfg.TaskCluster),
		LaunchType: ecstypes.LaunchTypeFargate,
		MaxResults: aws.Int32(100),
	}
	if group != "" {
		in.StartedBy = aws.String(group)
	}
	if token != "" {
		in.NextToken = aws.String(token)
	}
	out, err := p.ecs.ListTasks(ctx, in, ecsRegion(cfg.Region))
	if err != nil {
		return nil, "", err
	}
	return out.TaskArns, aws.ToString(out.NextToken), nil
}

func (p *ECSPool) DescribeTasks(ctx context.Context, cfg api.RegionalConfig, ids []string) ([]Task, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	if len(ids) > MaxDescribe {
		return nil, fmt.Errorf("cannot describe %d tasks at once, limit is %d", len(ids), MaxDescribe)
	}
	out, err := p.ecs.DescribeTasks(ctx, &ecs.DescribeTasksInput{
		Cluster: aws.String(cfg.TaskCluster),
		Tasks:   ids,
	}, ecsRegion(cfg.Region))
	if err != nil {
		return nil, err
	}

	tasks := make([]Task, 0, len(out.Tasks))
	for _, t := range out.Tasks {
		task := Task{
			ID:         aws.ToString(t.TaskArn),
			Group:      aws.ToString(t.StartedBy),
			Status:     aws.ToString(t.LastStatus),
			StartedAt:  formatTime(t.StartedAt),
			StoppedAt:  formatTime(t.StoppedAt),
			StopReason: aws.ToString(t.StoppedReason),
		}
		if t.Cpu != nil {
			if v, err := cpuUnits(*t.Cpu); err == nil {
				task.VCPU = v
			}
		}
		for _, c := range t.Containers {
			if c.ExitCode != nil {
				code := int(*c.ExitCode)
				task.ExitCode = &code
				break
			}
		}
		tasks = append(tasks, task)
	}
	return tasks, nil
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func (p *ECSPool) RunTasks(ctx context.Context, cfg api.RegionalConfig, spec TaskSpec) ([]string, error) {
	env := make([]ecstypes.KeyValuePair, 0, len(spec.Env))
	for _, k := range sortedKeys(spec.Env) {
		env = append(env, ecstypes.KeyValuePair{Name: aws.String(k), Value: aws.String(spec.Env[k])})
	}
	var subnets []string
	for _, s := range []string{cfg.SubnetA, cfg.SubnetB} {
		if s != "" {
			subnets = append(subnets, s)
		}
	}
	var groups []string
	if cfg.TaskSecurityGroup != "" {
		groups = []string{cfg.TaskSecurityGroup}
	}

	var ids []string
	for remaining := spec.Count; remaining > 0; remaining -= runTaskBatch {
		n := min(remaining, runTaskBatch)
		out, err := p.ecs.RunTask(ctx, &ecs.RunTaskInput{
			Cluster:        aws.String(cfg.TaskCluster),
			TaskDefinition: aws.String(cfg.TaskDefinition),
			Count:          aws.Int32(int32(n)),
			LaunchType:     ecstypes.LaunchTypeFargate,
			StartedBy:      aws.String(spec.TestID),
			NetworkConfiguration: &ecstypes.NetworkConfiguration{
				AwsvpcConfiguration: &ecstypes.AwsVpcConfiguration{
					Subnets:        subnets,
					SecurityGroups: groups,
					AssignPublicIp: ecstypes.AssignPublicIpEnabled,
				},
			},
			Overrides: &ecstypes.TaskOverride{
				ContainerOverrides: []ecstypes.ContainerOverride{{
					Name:        aws.String(p.containerName),
					Environment: env,
				}},
			},
		}, ecsRegion(cfg.Region))
		if err != nil {
			return ids, fmt.Errorf("run tasks in %s: %w", cfg.Region, err)
		}
		for _, t := range out.Tasks {
			ids = append(ids, aws.ToString(t.TaskArn))
		}
		if len(out.Failures) > 0 {
			return ids, fmt.Errorf("run tasks in %s: %s: %s", cfg.Region,
				aws.ToString(out.Failures[0].Arn), aws.ToString(out.Failures[0].Reason))
		}
	}
	return ids, nil
}

func (p *ECSPool) StopTasks(ctx context.Context, cfg api.RegionalConfig, ids []string, reason string) error {
	for _, id := range ids {
		_, err := p.ecs.StopTask(ctx, &ecs.StopTaskInput{
			Cluster: aws.String(cfg.TaskCluster),
			Task:    aws.String(id),
			Reason:  aws.String(reason),
		}, ecsRegion(cfg.Region))
		if err != nil {
			return fmt.Errorf("stop task %s: %w", id, err)
		}
	}
	return nil
}
