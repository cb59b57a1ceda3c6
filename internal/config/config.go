// Package config loads controller, worker and backend settings from an
// optional YAML file and the environment.
package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Workflow and compute backends.
const (
	WorkflowStepFunctions = "stepfunctions"
	WorkflowLocal         = "local"

	ComputeECS        = "ecs"
	ComputeKubernetes = "kubernetes"
	ComputeDocker     = "docker"
)

// Config holds all configuration values for the application.
type Config struct {
	// Database connection string
	DatabaseURL string

	// HTTP server port for the controller
	HTTPPort int
	LogLevel string

	// APIKey guards the operator routes; empty disables authentication.
	APIKey string
	// InternalSecret guards the /internal routes.
	InternalSecret string
	// RateLimit is requests per second per client; 0 means unlimited.
	RateLimit      float64
	RateLimitBurst int

	OTELEndpoint string

	WorkflowBackend string
	ComputeBackend  string
	StackName       string

	ObjectStore ObjectStore
	AWS         AWS
	Kubernetes  Kubernetes
	Docker      Docker
	Worker      Worker

	// URL of the controller, used by the worker to report run completion.
	ControllerURL string
}

// ObjectStore configures the scenario bucket.
type ObjectStore struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Region    string
	UseSSL    bool
	Bucket    string
}

// AWS configures the AWS-backed collaborators.
type AWS struct {
	Region string
	// StateMachineARN is the workflow started for every run.
	StateMachineARN string
	// CancelFunction is invoked asynchronously to cancel a running test.
	CancelFunction string
	// ScheduleFunction and ScheduleFunctionARN name the target of
	// schedule rules.
	ScheduleFunction    string
	ScheduleFunctionARN string
	// ContainerName is the load generator container in the task definition.
	ContainerName string
}

// Kubernetes configures the Kubernetes compute pool.
type Kubernetes struct {
	Namespace      string
	ServiceAccount string
	Kubeconfig     string
}

// Docker configures the local Docker compute pool.
type Docker struct {
	TaskCPUs float64
}

// Worker configures the local workflow executor.
type Worker struct {
	Concurrency       int
	PollInterval      time.Duration
	MaxBackoff        time.Duration
	HeartbeatInterval time.Duration
	// VisibilityExtension is how far each heartbeat pushes the claim.
	VisibilityExtension time.Duration
	// TaskPollInterval is how often running tasks are checked.
	TaskPollInterval time.Duration
	// GracePeriod is added to the test duration before stragglers are stopped.
	GracePeriod time.Duration
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", 6161)
	v.SetDefault("log_level", "info")
	v.SetDefault("rate_limit", 10)
	v.SetDefault("rate_limit_burst", 20)
	v.SetDefault("otel_exporter_otlp_endpoint", "localhost:4317")
	v.SetDefault("workflow_backend", WorkflowLocal)
	v.SetDefault("compute_backend", ComputeDocker)
	v.SetDefault("stack_name", "loadplane")

	v.SetDefault("object_store.endpoint", "localhost:9000")
	v.SetDefault("object_store.region", "us-east-1")
	v.SetDefault("object_store.bucket", "loadplane-scenarios")
	v.SetDefault("aws.container_name", "load-tester")
	v.SetDefault("kubernetes.namespace", "loadplane")
	v.SetDefault("docker.task_cpus", 1.0)

	v.SetDefault("worker.concurrency", 1)
	v.SetDefault("worker.poll_interval", "1s")
	v.SetDefault("worker.max_backoff", "30s")
	v.SetDefault("worker.heartbeat_interval", "2m")
	v.SetDefault("worker.visibility_extension", "5m")
	v.SetDefault("worker.task_poll_interval", "10s")
	v.SetDefault("worker.grace_period", "5m")
	v.SetDefault("controller_url", "http://localhost:6161")
}

// Load reads path (or ./loadplane.yaml when path is empty and the file
// exists) and applies environment overrides. Nested keys map to
// underscore-joined variables: worker.poll_interval is WORKER_POLL_INTERVAL.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("loadplane")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		var notFound viper.ConfigFileNotFoundError
		if err := v.ReadInConfig(); err != nil && !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := &Config{
		DatabaseURL:     v.GetString("database_url"),
		LogLevel:        v.GetString("log_level"),
		APIKey:          v.GetString("api_key"),
		InternalSecret:  v.GetString("internal_secret"),
		OTELEndpoint:    v.GetString("otel_exporter_otlp_endpoint"),
		WorkflowBackend: strings.ToLower(v.GetString("workflow_backend")),
		ComputeBackend:  strings.ToLower(v.GetString("compute_backend")),
		StackName:       v.GetString("stack_name"),
		ControllerURL:   strings.TrimRight(v.GetString("controller_url"), "/"),
		ObjectStore: ObjectStore{
			Endpoint:  v.GetString("object_store.endpoint"),
			AccessKey: v.GetString("object_store.access_key"),
			SecretKey: v.GetString("object_store.secret_key"),
			Region:    v.GetString("object_store.region"),
			UseSSL:    v.GetBool("object_store.use_ssl"),
			Bucket:    v.GetString("object_store.bucket"),
		},
		AWS: AWS{
			Region:              v.GetString("aws.region"),
			StateMachineARN:     v.GetString("aws.state_machine_arn"),
			CancelFunction:      v.GetString("aws.cancel_function"),
			ScheduleFunction:    v.GetString("aws.schedule_function"),
			ScheduleFunctionARN: v.GetString("aws.schedule_function_arn"),
			ContainerName:       v.GetString("aws.container_name"),
		},
		Kubernetes: Kubernetes{
			Namespace:      v.GetString("kubernetes.namespace"),
			ServiceAccount: v.GetString("kubernetes.service_account"),
			Kubeconfig:     v.GetString("kubernetes.kubeconfig"),
		},
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("database_url is required (env: DATABASE_URL)")
	}

	var err error
	if cfg.HTTPPort, err = intValue(v, "port"); err != nil {
		return nil, err
	}
	if cfg.RateLimit, err = floatValue(v, "rate_limit"); err != nil {
		return nil, err
	}
	if cfg.RateLimitBurst, err = intValue(v, "rate_limit_burst"); err != nil {
		return nil, err
	}
	if cfg.Docker.TaskCPUs, err = floatValue(v, "docker.task_cpus"); err != nil {
		return nil, err
	}
	if cfg.Worker.Concurrency, err = intValue(v, "worker.concurrency"); err != nil {
		return nil, err
	}
	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"worker.poll_interval", &cfg.Worker.PollInterval},
		{"worker.max_backoff", &cfg.Worker.MaxBackoff},
		{"worker.heartbeat_interval", &cfg.Worker.HeartbeatInterval},
		{"worker.visibility_extension", &cfg.Worker.VisibilityExtension},
		{"worker.task_poll_interval", &cfg.Worker.TaskPollInterval},
		{"worker.grace_period", &cfg.Worker.GracePeriod},
	}
	for _, d := range durations {
		if *d.dst, err = durationValue(v, d.key); err != nil {
			return nil, err
		}
	}

	switch cfg.WorkflowBackend {
	case WorkflowStepFunctions, WorkflowLocal:
	default:
		return nil, fmt.Errorf("invalid %s %q: expected %s or %s",
			envName("workflow_backend"), cfg.WorkflowBackend, WorkflowStepFunctions, WorkflowLocal)
	}
	switch cfg.ComputeBackend {
	case ComputeECS, ComputeKubernetes, ComputeDocker:
	default:
		return nil, fmt.Errorf("invalid %s %q: expected %s, %s or %s",
			envName("compute_backend"), cfg.ComputeBackend, ComputeECS, ComputeKubernetes, ComputeDocker)
	}
	if cfg.WorkflowBackend == WorkflowStepFunctions && cfg.AWS.StateMachineARN == "" {
		return nil, fmt.Errorf("aws.state_machine_arn is required for the %s backend (env: AWS_STATE_MACHINE_ARN)", WorkflowStepFunctions)
	}
	if cfg.Worker.Concurrency < 1 {
		return nil, fmt.Errorf("invalid WORKER_CONCURRENCY: must be at least 1")
	}
	return cfg, nil
}

func envName(key string) string {
	return strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

// The typed getters below reject malformed values instead of silently
// reading them as zero.

func intValue(v *viper.Viper, key string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(v.GetString(key)))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", envName(key), err)
	}
	return n, nil
}

func floatValue(v *viper.Viper, key string) (float64, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(v.GetString(key)), 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", envName(key), err)
	}
	return f, nil
}

func durationValue(v *viper.Viper, key string) (time.Duration, error) {
	d, err := time.ParseDuration(v.GetString(key))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", envName(key), err)
	}
	return d, nil
}
