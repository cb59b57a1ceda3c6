// Package engine implements the load-test lifecycle: creating, scheduling,
// cancelling and deleting tests, reading their runs and baselines, and
// reporting regional capacity.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"loadplane/internal/apperr"
	"loadplane/internal/capacity"
	"loadplane/internal/compute"
	"loadplane/internal/logger"
	"loadplane/internal/orchestrator"
	"loadplane/internal/store"
	"loadplane/internal/workflow"
	"loadplane/pkg/api"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"k8s.io/utils/clock"
)

// RuleManager creates and removes a test's scheduler rules.
type RuleManager interface {
	Replace(ctx context.Context, testID, name, expression string, input []byte) error
	RemoveAll(ctx context.Context, testID string) error
}

// Cleaner removes per-test dashboards and metric filters in one region.
// Resources that are already gone are not an error.
type Cleaner interface {
	Cleanup(ctx context.Context, testID string, cfg api.RegionalConfig) error
}

// StackDescriber reports on the deployment stack.
type StackDescriber interface {
	Describe(ctx context.Context) (*api.StackInfo, error)
}

// Metrics observes engine activity.
type Metrics interface {
	TestLaunched(ctx context.Context, testType string)
	TestCancelled(ctx context.Context)
	CapacityFieldFailed(ctx context.Context, field string)
	HistoryBatchRetried(ctx context.Context)
}

// Deps are the engine's collaborators. Metrics, Stack, Clock and NewID are
// optional.
type Deps struct {
	Scenarios store.ScenarioStore
	Infra     store.InfraStore
	History   store.HistoryStore
	Objects   orchestrator.ObjectWriter
	Workflow  workflow.Starter
	Canceler  workflow.Canceler
	Rules     RuleManager
	Pool      compute.Pool
	Cleaner   Cleaner
	Stack     StackDescriber
	Metrics   Metrics
	Logger    *slog.Logger
	Clock     clock.PassiveClock
	NewID     func() string

	// DeleteAttempts bounds the retries of unprocessed history deletes.
	DeleteAttempts uint
	// DeleteBackoff is the delay before the first retry; later retries wait
	// proportionally longer.
	DeleteBackoff time.Duration
	// CancelTimeout bounds the background cancellation of one test.
	CancelTimeout time.Duration
}

// Engine sequences the lifecycle operations over its collaborators. It
// keeps no state between calls except background cancellations.
type Engine struct {
	scenarios store.ScenarioStore
	infra     store.InfraStore
	history   store.HistoryStore
	canceler  workflow.Canceler
	rules     RuleManager
	pool      compute.Pool
	cleaner   Cleaner
	stack     StackDescriber
	metrics   Metrics
	logger    *slog.Logger
	clock     clock.PassiveClock
	newID     func() string

	orchestrator *orchestrator.Orchestrator
	capacity     *capacity.Reporter

	deleteAttempts uint
	deleteBackoff  time.Duration
	cancelTimeout  time.Duration

	tracer trace.Tracer
	wg     sync.WaitGroup
}

// New builds an Engine.
func New(d Deps) *Engine {
	e := &Engine{
		scenarios:      d.Scenarios,
		infra:          d.Infra,
		history:        d.History,
		canceler:       d.Canceler,
		rules:          d.Rules,
		pool:           d.Pool,
		cleaner:        d.Cleaner,
		stack:          d.Stack,
		metrics:        d.Metrics,
		logger:         d.Logger,
		clock:          d.Clock,
		newID:          d.NewID,
		deleteAttempts: d.DeleteAttempts,
		deleteBackoff:  d.DeleteBackoff,
		cancelTimeout:  d.CancelTimeout,
		tracer:         otel.Tracer("loadplane/engine"),
	}
	if e.metrics == nil {
		e.metrics = noopMetrics{}
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	if e.clock == nil {
		e.clock = clock.RealClock{}
	}
	if e.newID == nil {
		e.newID = NewID
	}
	if e.deleteAttempts == 0 {
		e.deleteAttempts = 10
	}
	if e.deleteBackoff == 0 {
		e.deleteBackoff = 100 * time.Millisecond
	}
	if e.cancelTimeout == 0 {
		e.cancelTimeout = 5 * time.Minute
	}
	e.orchestrator = orchestrator.New(d.Infra, d.Objects, d.Workflow, e.logger)
	e.capacity = capacity.NewReporter(d.Pool, e.metrics, e.logger)
	return e
}

// Drain waits for background cancellations to finish.
func (e *Engine) Drain() {
	e.wg.Wait()
}

// NewID returns a 10 character identifier for tests and runs.
func NewID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:10]
}

var idPattern = regexp.MustCompile(`^[A-Za-z0-9-]{1,128}$`)

func validateID(kind, id string) error {
	if !idPattern.MatchString(id) {
		return apperr.InvalidParameter("%s %q must be 1-128 letters, digits or hyphens", kind, id)
	}
	return nil
}

// begin opens the span of an operation and returns the context-scoped logger.
func (e *Engine) begin(ctx context.Context, op, testID string) (context.Context, trace.Span, *slog.Logger) {
	if testID != "" {
		ctx = logger.WithTestID(ctx, testID)
	}
	ctx, span := e.tracer.Start(ctx, "engine."+op, trace.WithAttributes(attribute.String("test_id", testID)))
	return ctx, span, logger.FromContext(ctx, e.logger)
}

// end closes span, recording *errp.
func end(span trace.Span, errp *error) {
	if err := *errp; err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// getScenario maps a missing scenario to TEST_NOT_FOUND.
func (e *Engine) getScenario(ctx context.Context, testID string) (*store.Scenario, error) {
	sc, err := e.scenarios.GetScenario(ctx, testID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.TestNotFound(testID)
	}
	return sc, err
}

func (e *Engine) now() time.Time {
	return e.clock.Now().UTC()
}

type noopMetrics struct{}

func (noopMetrics) TestLaunched(context.Context, string)        {}
func (noopMetrics) TestCancelled(context.Context)               {}
func (noopMetrics) CapacityFieldFailed(context.Context, string) {}
func (noopMetrics) HistoryBatchRetried(context.Context)         {}
