// Package main is the entry point for the loadplane controller.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"loadplane/internal/auth"
	"loadplane/internal/cloud"
	"loadplane/internal/compute"
	"loadplane/internal/config"
	"loadplane/internal/controller"
	"loadplane/internal/engine"
	"loadplane/internal/logger"
	"loadplane/internal/monitoring"
	"loadplane/internal/objectstore"
	"loadplane/internal/observability"
	"loadplane/internal/rules"
	"loadplane/internal/store"
	"loadplane/internal/store/postgres"
	"loadplane/internal/workflow"
	"loadplane/pkg/api"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	"github.com/aws/aws-sdk-go-v2/service/ecs"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/servicequotas"
	"github.com/aws/aws-sdk-go-v2/service/sfn"
	"k8s.io/utils/clock"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (default: loadplane.yaml in current directory)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	appLogger := logger.New(cfg.LogLevel)

	ctx := context.Background()

	// Connects and applies pending migrations.
	db, err := postgres.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to DB: %v", err)
	}
	defer db.Close()

	// Tracing
	shutdownTracer, err := observability.InitTracer(ctx, "loadplane-controller", cfg.OTELEndpoint)
	if err != nil {
		log.Fatalf("Failed to init tracing: %v", err)
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			log.Printf("Failed to shutdown tracer: %v", err)
		}
	}()

	// Metrics
	metricsHandler, shutdownMetrics, err := observability.InitMetrics()
	if err != nil {
		log.Fatalf("Failed to init metrics: %v", err)
	}
	defer func() {
		if err := shutdownMetrics(context.Background()); err != nil {
			log.Printf("Failed to shutdown metrics: %v", err)
		}
	}()

	engineMetrics, err := observability.NewEngineMetrics(func(ctx context.Context) (int64, error) {
		return db.CountByStatus(ctx, store.StatusRunning)
	})
	if err != nil {
		log.Fatalf("Failed to register engine metrics: %v", err)
	}

	// Scenario bucket
	objects, err := objectstore.NewMinioStore(objectstore.Config{
		Endpoint:  cfg.ObjectStore.Endpoint,
		AccessKey: cfg.ObjectStore.AccessKey,
		SecretKey: cfg.ObjectStore.SecretKey,
		Region:    cfg.ObjectStore.Region,
		UseSSL:    cfg.ObjectStore.UseSSL,
		Bucket:    cfg.ObjectStore.Bucket,
	})
	if err != nil {
		log.Fatalf("Failed to connect to object store: %v", err)
	}
	if err := objects.EnsureBucket(ctx, cfg.ObjectStore.Region); err != nil {
		log.Fatalf("Failed to prepare bucket: %v", err)
	}

	var awsCfg aws.Config
	if cfg.WorkflowBackend == config.WorkflowStepFunctions || cfg.ComputeBackend == config.ComputeECS {
		if awsCfg, err = cloud.Load(ctx, cfg.AWS.Region); err != nil {
			log.Fatalf("Failed to load AWS config: %v", err)
		}
	}

	pool, err := newPool(cfg, awsCfg)
	if err != nil {
		log.Fatalf("Failed to create %s compute pool: %v", cfg.ComputeBackend, err)
	}
	log.Printf("Using %s compute pool", cfg.ComputeBackend)

	var (
		eng       *engine.Engine
		starter   workflow.Starter
		canceler  workflow.Canceler
		scheduler rules.Scheduler
		perms     rules.Permissions
		cleaner   engine.Cleaner = monitoring.Noop{}
		stack     engine.StackDescriber
		local     *rules.Local
	)
	switch cfg.WorkflowBackend {
	case config.WorkflowStepFunctions:
		lambdaClient := lambda.NewFromConfig(awsCfg)
		starter = workflow.NewStepFunctions(sfn.NewFromConfig(awsCfg), cfg.AWS.StateMachineARN)
		canceler = workflow.NewLambdaCanceler(lambdaClient, cfg.AWS.CancelFunction)
		scheduler = rules.NewEventBridge(eventbridge.NewFromConfig(awsCfg), cfg.AWS.ScheduleFunctionARN)
		perms = rules.NewLambdaPermissions(lambdaClient, cfg.AWS.ScheduleFunction)
		cleaner = monitoring.NewCloudWatch(cloudwatch.NewFromConfig(awsCfg), cloudwatchlogs.NewFromConfig(awsCfg))
		stack = cloud.NewStack(cloudformation.NewFromConfig(awsCfg), cfg.StackName, cfg.AWS.Region)
	default:
		starter = workflow.NewQueue(db)
		canceler = workflow.NewPoolCanceler(pool, appLogger)
		// Rules fire in-process and re-enter the engine like a rule target would.
		local = rules.NewLocal(func(ctx context.Context, input []byte) error {
			var req api.CreateTestRequest
			if err := json.Unmarshal(input, &req); err != nil {
				return fmt.Errorf("decode rule input: %w", err)
			}
			_, err := eng.Trigger(ctx, req)
			return err
		}, db, clock.RealClock{}, appLogger)
		scheduler, perms = local, local
	}
	log.Printf("Using %s workflow backend", cfg.WorkflowBackend)

	eng = engine.New(engine.Deps{
		Scenarios: db,
		Infra:     db,
		History:   db,
		Objects:   objects,
		Workflow:  starter,
		Canceler:  canceler,
		Rules:     rules.NewManager(scheduler, perms, engineMetrics, appLogger),
		Pool:      pool,
		Cleaner:   cleaner,
		Stack:     stack,
		Metrics:   engineMetrics,
		Logger:    appLogger,
	})
	if local != nil {
		if err := local.Restore(ctx); err != nil {
			log.Fatalf("Failed to restore schedule rules: %v", err)
		}
		local.Start()
	}

	var keyHash string
	if cfg.APIKey != "" {
		keyHash = auth.HashKey(cfg.APIKey)
	} else {
		log.Println("API_KEY is not set, operator routes are unauthenticated")
	}

	// Start Server
	addr := fmt.Sprintf(":%d", cfg.HTTPPort)
	srv := controller.New(controller.Options{
		Addr:           addr,
		APIKeyHash:     keyHash,
		InternalSecret: cfg.InternalSecret,
		RateLimit:      cfg.RateLimit,
		RateLimitBurst: cfg.RateLimitBurst,
		Metrics:        metricsHandler,
		Logger:         appLogger,
	}, eng, db)

	go func() {
		log.Printf("Loadplane Controller starting on %s", addr)
		if err := srv.Run(ctx); err != nil {
			log.Printf("Server stopped: %v", err)
		}
	}()

	// Graceful Shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down controller...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}
	if local != nil {
		local.Stop()
	}
	eng.Drain()
	log.Println("Server exited properly")
}

// newPool builds the configured compute pool.
func newPool(cfg *config.Config, awsCfg aws.Config) (compute.Pool, error) {
	switch cfg.ComputeBackend {
	case config.ComputeECS:
		return compute.NewECSPool(ecs.NewFromConfig(awsCfg), servicequotas.NewFromConfig(awsCfg), cfg.AWS.ContainerName), nil
	case config.ComputeKubernetes:
		return compute.NewKubernetesPool(compute.KubernetesConfig{
			Namespace:      cfg.Kubernetes.Namespace,
			ServiceAccount: cfg.Kubernetes.ServiceAccount,
			Kubeconfig:     cfg.Kubernetes.Kubeconfig,
		}), nil
	default:
		return compute.NewDockerPool(cfg.Docker.TaskCPUs)
	}
}
