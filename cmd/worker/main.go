// Package main is the entry point for the loadplane worker.
// The worker executes queued test runs for the local workflow backend:
// it starts the regional tasks, waits for them and reports the results.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"loadplane/internal/cloud"
	"loadplane/internal/compute"
	"loadplane/internal/config"
	"loadplane/internal/logger"
	"loadplane/internal/objectstore"
	"loadplane/internal/observability"
	"loadplane/internal/store/postgres"
	"loadplane/internal/worker"

	"github.com/aws/aws-sdk-go-v2/service/ecs"
	"github.com/aws/aws-sdk-go-v2/service/servicequotas"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (default: loadplane.yaml in current directory)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	appLogger := logger.New(cfg.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Tracing
	shutdownTracer, err := observability.InitTracer(ctx, "loadplane-worker", cfg.OTELEndpoint)
	if err != nil {
		log.Fatalf("Failed to init tracing: %v", err)
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			log.Printf("Failed to shutdown tracer: %v", err)
		}
	}()

	db, err := postgres.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to DB: %v", err)
	}
	defer db.Close()

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

	// Select the compute pool based on configuration
	var pool compute.Pool
	switch cfg.ComputeBackend {
	case config.ComputeECS:
		awsCfg, err := cloud.Load(ctx, cfg.AWS.Region)
		if err != nil {
			log.Fatalf("Failed to load AWS config: %v", err)
		}
		pool = compute.NewECSPool(ecs.NewFromConfig(awsCfg), servicequotas.NewFromConfig(awsCfg), cfg.AWS.ContainerName)
		log.Println("Using ecs compute pool")
	case config.ComputeKubernetes:
		pool = compute.NewKubernetesPool(compute.KubernetesConfig{
			Namespace:      cfg.Kubernetes.Namespace,
			ServiceAccount: cfg.Kubernetes.ServiceAccount,
			Kubeconfig:     cfg.Kubernetes.Kubeconfig,
		})
		log.Printf("Using kubernetes compute pool (namespace: %s)", cfg.Kubernetes.Namespace)
	default:
		dockerPool, err := compute.NewDockerPool(cfg.Docker.TaskCPUs)
		if err != nil {
			log.Fatalf("Failed to create Docker pool: %v", err)
		}
		pool = dockerPool
		log.Println("Using docker compute pool")
	}

	agent := worker.New(db, pool, objects, worker.AgentConfig{
		Concurrency:         cfg.Worker.Concurrency,
		PollInterval:        cfg.Worker.PollInterval,
		ControllerURL:       cfg.ControllerURL,
		InternalSecret:      cfg.InternalSecret,
		MaxBackoff:          cfg.Worker.MaxBackoff,
		HeartbeatInterval:   cfg.Worker.HeartbeatInterval,
		VisibilityExtension: cfg.Worker.VisibilityExtension,
		TaskPollInterval:    cfg.Worker.TaskPollInterval,
		GracePeriod:         cfg.Worker.GracePeriod,
	}, appLogger)

	log.Printf("Worker started with concurrency %d", cfg.Worker.Concurrency)
	go agent.Run(ctx)

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

	// Start a dedicated metrics server on port 6162
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metricsHandler)
		log.Println("Worker metrics listening on :6162")
		if err := http.ListenAndServe(":6162", mux); err != nil {
			log.Printf("Metrics server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down worker...")
	cancel()

	<-agent.Done()
}
