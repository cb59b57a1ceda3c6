package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"loadplane/internal/compute"
	"loadplane/internal/store"
	"loadplane/pkg/api"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	lambdatypes "github.com/aws/aws-sdk-go-v2/service/lambda/types"
	"github.com/aws/aws-sdk-go-v2/service/sfn"
	"go.opentelemetry.io/otel/trace"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testInput() Input {
	return Input{
		TestID:         "T1",
		TestRunID:      "run-1",
		TestType:       api.TestTypeSimple,
		FileType:       "none",
		TestDuration:   90,
		Prefix:         "2024-05-01T10:00:00.000Z",
		TestTaskConfig: []api.RegionalConfig{{Region: "us-east-1", TaskCount: 2, Concurrency: 5}},
	}
}

type mockSFN struct {
	in *sfn.StartExecutionInput
}

func (m *mockSFN) StartExecution(ctx context.Context, in *sfn.StartExecutionInput, optFns ...func(*sfn.Options)) (*sfn.StartExecutionOutput, error) {
	m.in = in
	return &sfn.StartExecutionOutput{ExecutionArn: aws.String("arn:exec:run-1")}, nil
}

func TestStepFunctions_StartExecution(t *testing.T) {
	m := &mockSFN{}
	s := NewStepFunctions(m, "arn:sm")

	id, err := s.StartExecution(context.Background(), testInput())
	if err != nil {
		t.Fatalf("StartExecution() failed: %v", err)
	}
	if id != "arn:exec:run-1" {
		t.Errorf("unexpected execution id %s", id)
	}
	if aws.ToString(m.in.Name) != "run-1" || aws.ToString(m.in.StateMachineArn) != "arn:sm" {
		t.Errorf("unexpected input: %+v", m.in)
	}

	got, err := Decode([]byte(aws.ToString(m.in.Input)))
	if err != nil {
		t.Fatalf("payload did not decode: %v", err)
	}
	if got.TestDuration != 90 || got.TestTaskConfig[0].TaskCount != 2 {
		t.Errorf("unexpected payload: %+v", got)
	}
}

func TestStepFunctions_RejectsEmptyRegions(t *testing.T) {
	in := testInput()
	in.TestTaskConfig = nil

	if _, err := NewStepFunctions(&mockSFN{}, "arn:sm").StartExecution(context.Background(), in); err == nil {
		t.Fatal("expected validation error")
	}
}

type mockQueue struct {
	store.WorkflowQueue
	id      string
	payload json.RawMessage
	err     error
}

func (m *mockQueue) Enqueue(ctx context.Context, id string, payload json.RawMessage) error {
	m.id, m.payload = id, payload
	return m.err
}

func TestQueue_StartExecution(t *testing.T) {
	q := &mockQueue{}

	id, err := NewQueue(q).StartExecution(context.Background(), testInput())
	if err != nil {
		t.Fatalf("StartExecution() failed: %v", err)
	}
	if id != "run-1" || q.id != "run-1" {
		t.Errorf("expected execution keyed by run id, got %s / %s", id, q.id)
	}
	if _, err := Decode(q.payload); err != nil {
		t.Errorf("payload did not decode: %v", err)
	}

	q.err = errors.New("db down")
	if _, err := NewQueue(q).StartExecution(context.Background(), testInput()); err == nil {
		t.Error("expected enqueue error to propagate")
	}
}

func TestInput_TraceRoundTrip(t *testing.T) {
	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	in := testInput()
	in.InjectTrace(ctx)
	if in.TraceCarrier["traceparent"] == "" {
		t.Fatalf("expected traceparent in carrier, got %v", in.TraceCarrier)
	}

	got := trace.SpanContextFromContext(in.ExtractTrace(context.Background()))
	if got.TraceID() != traceID {
		t.Errorf("expected trace id %s, got %s", traceID, got.TraceID())
	}
}

type mockLambda struct {
	in     *lambda.InvokeInput
	region string
}

func (m *mockLambda) Invoke(ctx context.Context, in *lambda.InvokeInput, optFns ...func(*lambda.Options)) (*lambda.InvokeOutput, error) {
	var o lambda.Options
	for _, fn := range optFns {
		fn(&o)
	}
	m.in, m.region = in, o.Region
	return &lambda.InvokeOutput{StatusCode: 202}, nil
}

func TestLambdaCanceler_InvokesAsync(t *testing.T) {
	m := &mockLambda{}
	c := NewLambdaCanceler(m, "task-canceler")

	if err := c.Cancel(context.Background(), "T1", api.RegionalConfig{Region: "eu-west-1"}); err != nil {
		t.Fatalf("Cancel() failed: %v", err)
	}
	if m.in.InvocationType != lambdatypes.InvocationTypeEvent {
		t.Errorf("expected async invocation, got %s", m.in.InvocationType)
	}
	if m.region != "eu-west-1" {
		t.Errorf("expected call in eu-west-1, got %q", m.region)
	}
	var p cancelPayload
	if err := json.Unmarshal(m.in.Payload, &p); err != nil || p.TestID != "T1" || p.Region != "eu-west-1" {
		t.Errorf("unexpected payload %s", m.in.Payload)
	}
	if strings.Contains(string(m.in.Payload), `"prefix"`) {
		t.Errorf("payload should not carry a prefix: %s", m.in.Payload)
	}
}

type mockPool struct {
	compute.Pool
	pages   map[string][]string
	group   string
	stopped []string
}

func (m *mockPool) ListTasks(ctx context.Context, cfg api.RegionalConfig, group, token string) ([]string, string, error) {
	m.group = group
	next := ""
	if token == "" {
		next = "2"
	}
	return m.pages[token], next, nil
}

func (m *mockPool) StopTasks(ctx context.Context, cfg api.RegionalConfig, ids []string, reason string) error {
	m.stopped = append(m.stopped, ids...)
	return nil
}

func TestPoolCanceler_StopsEveryPage(t *testing.T) {
	m := &mockPool{pages: map[string][]string{"": {"a", "b"}, "2": {"c"}}}
	c := NewPoolCanceler(m, testLogger())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := c.Cancel(ctx, "T1", api.RegionalConfig{Region: "local"}); err != nil {
		t.Fatalf("Cancel() failed: %v", err)
	}
	if m.group != "T1" {
		t.Errorf("expected listing scoped to T1, got %q", m.group)
	}
	if len(m.stopped) != 3 {
		t.Errorf("expected 3 tasks stopped, got %v", m.stopped)
	}
}
