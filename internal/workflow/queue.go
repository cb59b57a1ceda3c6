package workflow

import (
	"context"
	"encoding/json"
	"fmt"

	"loadplane/internal/store"
)

// Queue starts executions by enqueueing them for the worker agent.
type Queue struct {
	queue store.WorkflowQueue
}

// NewQueue returns a Starter backed by the workflow queue.
func NewQueue(q store.WorkflowQueue) *Queue {
	return &Queue{queue: q}
}

func (q *Queue) StartExecution(ctx context.Context, in Input) (string, error) {
	if err := in.Validate(); err != nil {
		return "", err
	}
	payload, err := json.Marshal(in)
	if err != nil {
		return "", err
	}
	if err := q.queue.Enqueue(ctx, in.TestRunID, payload); err != nil {
		return "", fmt.Errorf("enqueue execution for %s: %w", in.TestID, err)
	}
	return in.TestRunID, nil
}
