package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"loadplane/internal/store"

	"github.com/lib/pq"
)

// Default retry policy
const (
	MaxRetries        = 5
	VisibilityTimeout = 5 * time.Minute
)

// Enqueue adds a workflow execution to the queue.
func (s *Store) Enqueue(ctx context.Context, executionID string, payload json.RawMessage) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO workflow_queue (execution_id, payload, visible_after)
		VALUES ($1, $2, NOW())
		ON CONFLICT (execution_id) DO NOTHING
	`, executionID, []byte(payload))
	if err != nil {
		return fmt.Errorf("failed to enqueue execution %s: %w", executionID, err)
	}
	return nil
}

// DequeueBatch claims up to 'limit' available executions atomically using SELECT ... FOR UPDATE SKIP LOCKED.
// Returns nil slice if nothing is available.
func (s *Store) DequeueBatch(ctx context.Context, limit int) ([]store.QueueItem, error) {
	if limit <= 0 {
		limit = 1
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		SELECT id, execution_id, attempt, payload
		FROM workflow_queue
		WHERE visible_after <= NOW()
		ORDER BY created_at ASC
		FOR UPDATE SKIP LOCKED
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("batch dequeue query failed: %w", err)
	}
	defer rows.Close()

	var items []store.QueueItem
	var queueIDs []int64
	for rows.Next() {
		var queueID int64
		var item store.QueueItem
		if err := rows.Scan(&queueID, &item.ExecutionID, &item.Attempt, &item.Payload); err != nil {
			return nil, fmt.Errorf("batch dequeue scan failed: %w", err)
		}
		item.Attempt++
		items = append(items, item)
		queueIDs = append(queueIDs, queueID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("batch dequeue rows error: %w", err)
	}

	if len(items) == 0 {
		return nil, nil
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE workflow_queue
		SET visible_after = NOW() + ($1 * INTERVAL '1 second'), attempt = attempt + 1
		WHERE id = ANY($2)
	`, VisibilityTimeout.Seconds(), pq.Array(queueIDs))
	if err != nil {
		return nil, fmt.Errorf("batch visibility update failed: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return items, nil
}

// Extend pushes the visibility timeout of a claimed execution (heartbeat).
func (s *Store) Extend(ctx context.Context, executionID string, visibleAfter time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE workflow_queue
		SET visible_after = $1
		WHERE execution_id = $2
	`, visibleAfter, executionID)
	return err
}

// Complete removes a finished execution from the queue.
func (s *Store) Complete(ctx context.Context, executionID string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM workflow_queue WHERE execution_id = $1", executionID)
	return err
}

// Release retries a failed execution with exponential backoff, or drops it
// once MaxRetries is exceeded.
func (s *Store) Release(ctx context.Context, executionID string, attempt int) (bool, error) {
	var stored int
	err := s.db.QueryRowContext(ctx, "SELECT attempt FROM workflow_queue WHERE execution_id = $1", executionID).Scan(&stored)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return true, nil
		}
		return false, err
	}
	if stored > attempt {
		attempt = stored
	}

	if attempt <= MaxRetries {
		// RETRY: Exponential Backoff (10s * 2^attempt)
		backoff := time.Duration(10*(1<<attempt)) * time.Second
		_, err = s.db.ExecContext(ctx, `
			UPDATE workflow_queue
			SET visible_after = NOW() + ($1 * INTERVAL '1 second')
			WHERE execution_id = $2
		`, backoff.Seconds(), executionID)
		return false, err
	}

	if _, err := s.db.ExecContext(ctx, "DELETE FROM workflow_queue WHERE execution_id = $1", executionID); err != nil {
		return false, fmt.Errorf("failed to drop execution %s: %w", executionID, err)
	}
	return true, nil
}

// Count returns the number of queued executions.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM workflow_queue").Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}
