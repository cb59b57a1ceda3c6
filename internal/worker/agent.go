// Package worker contains the local workflow backend: an agent that claims
// queued executions, runs their regional tasks and reports how they ended.
package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"loadplane/internal/compute"
	"loadplane/internal/store"
)

// AgentConfig holds configuration for the worker agent.
type AgentConfig struct {
	ID                  string
	Concurrency         int
	PollInterval        time.Duration
	ControllerURL       string
	InternalSecret      string
	MaxBackoff          time.Duration // Maximum backoff when queue is empty (default: 30s)
	HeartbeatInterval   time.Duration // Interval between heartbeat calls (default: 2m)
	VisibilityExtension time.Duration // How long to extend visibility on heartbeat (default: 5m)
	TaskPollInterval    time.Duration // Interval between task status checks (default: 10s)
	GracePeriod         time.Duration // Time allowed past the test duration (default: 5m)
	ReportAttempts      uint          // Attempts at reporting a run's outcome (default: 5)
}

// ResultReader fetches result objects written by the tasks.
type ResultReader interface {
	GetObject(ctx context.Context, key string) ([]byte, error)
}

// Agent is the worker agent that runs the pull-loop over workflow executions.
type Agent struct {
	queue      store.WorkflowQueue
	pool       compute.Pool
	results    ResultReader
	config     AgentConfig
	logger     *slog.Logger
	httpClient *http.Client
	done       chan struct{}
}

// New creates a new worker agent.
func New(q store.WorkflowQueue, pool compute.Pool, results ResultReader, config AgentConfig, logger *slog.Logger) *Agent {
	if config.Concurrency <= 0 {
		config.Concurrency = 1
	}

	if config.PollInterval <= 0 {
		config.PollInterval = 1 * time.Second
	}

	if config.MaxBackoff <= 0 {
		config.MaxBackoff = 30 * time.Second
	}

	if config.HeartbeatInterval <= 0 {
		config.HeartbeatInterval = 2 * time.Minute
	}

	if config.VisibilityExtension <= 0 {
		config.VisibilityExtension = 5 * time.Minute
	}

	if config.TaskPollInterval <= 0 {
		config.TaskPollInterval = 10 * time.Second
	}

	if config.GracePeriod <= 0 {
		config.GracePeriod = 5 * time.Minute
	}

	if config.ReportAttempts == 0 {
		config.ReportAttempts = 5
	}

	config.ControllerURL = strings.TrimRight(config.ControllerURL, "/")

	if logger == nil {
		logger = slog.Default()
	}

	return &Agent{
		queue:   q,
		pool:    pool,
		results: results,
		config:  config,
		logger:  logger.With("agent", config.ID),
		done:    make(chan struct{}),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Run starts the main pull-loop. It blocks until the context is cancelled.
// On cancellation it stops claiming work and lets in-flight executions finish.
func (a *Agent) Run(ctx context.Context) error {
	a.logger.Info("agent starting", "concurrency", a.config.Concurrency)

	// Semaphore to limit concurrency
	sem := make(chan struct{}, a.config.Concurrency)
	var wg sync.WaitGroup

	// Channel to signal when a slot becomes available (adaptive polling)
	pollNow := make(chan struct{}, 1)

	// Current backoff duration (increases on empty queue, resets on work found)
	currentBackoff := a.config.PollInterval

	triggerPoll := func() {
		select {
		case pollNow <- struct{}{}:
		default:
			// Already a poll pending
		}
	}

	triggerPoll()

	for {
		select {
		case <-ctx.Done():
			a.logger.Info("context cancelled, waiting for running executions to finish")
			wg.Wait()
			close(a.done)
			return ctx.Err()

		case <-time.After(currentBackoff):
			triggerPoll()

		case <-pollNow:
			availableSlots := a.config.Concurrency - len(sem)
			if availableSlots <= 0 {
				continue
			}

			items, err := a.queue.DequeueBatch(ctx, availableSlots)
			if err != nil {
				a.logger.Error("dequeue failed", "error", err)
				continue
			}

			if len(items) == 0 {
				// Empty queue - increase backoff (exponential, capped at MaxBackoff)
				currentBackoff = min(currentBackoff*2, a.config.MaxBackoff)
				continue
			}

			currentBackoff = a.config.PollInterval

			a.logger.Info("claimed executions", "count", len(items))

			for _, item := range items {
				sem <- struct{}{}

				wg.Add(1)
				go func(item store.QueueItem) {
					defer wg.Done()
					defer func() {
						<-sem
						triggerPoll()
					}()
					// Executions outlive the poll context so a shutdown drains them.
					a.processItem(context.WithoutCancel(ctx), item)
				}(item)
			}

			if len(items) < availableSlots {
				triggerPoll()
			}
		}
	}
}

// Done returns a channel that is closed when the agent has fully stopped.
func (a *Agent) Done() <-chan struct{} {
	return a.done
}

// runHeartbeat refreshes the visibility timeout while an execution runs so
// no other agent claims it.
func (a *Agent) runHeartbeat(ctx context.Context, executionID string) {
	ticker := time.NewTicker(a.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			visibleAfter := time.Now().Add(a.config.VisibilityExtension)
			if err := a.queue.Extend(ctx, executionID, visibleAfter); err != nil {
				a.logger.Warn("heartbeat failed", "execution", executionID, "error", err)
			}
		}
	}
}

func payloadPreview(p json.RawMessage) string {
	const max = 200
	if len(p) > max {
		return string(p[:max]) + "..."
	}
	return string(p)
}
