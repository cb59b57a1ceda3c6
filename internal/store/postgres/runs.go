package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"

	"loadplane/internal/store"
	"loadplane/pkg/api"

	"github.com/lib/pq"
)

const runColumns = `test_id, test_run_id, status, start_time, end_time, test_type,
	test_description, test_task_configs, test_scenario, results`

func scanRun(row rowScanner) (*store.TestRun, error) {
	var (
		run         store.TestRun
		taskConfigs []byte
		scenario    []byte
		results     []byte
	)
	err := row.Scan(&run.TestID, &run.TestRunID, &run.Status, &run.StartTime, &run.EndTime,
		&run.TestType, &run.TestDescription, &taskConfigs, &scenario, &results)
	if err != nil {
		return nil, err
	}
	if len(taskConfigs) > 0 {
		if err := json.Unmarshal(taskConfigs, &run.TestTaskConfigs); err != nil {
			return nil, fmt.Errorf("decode task configs of run %s: %w", run.TestRunID, err)
		}
	}
	if len(scenario) > 0 {
		if err := json.Unmarshal(scenario, &run.TestScenario); err != nil {
			return nil, fmt.Errorf("decode scenario of run %s: %w", run.TestRunID, err)
		}
	}
	if len(results) > 0 && string(results) != "null" {
		run.Results = &api.Results{}
		if err := json.Unmarshal(results, run.Results); err != nil {
			return nil, fmt.Errorf("decode results of run %s: %w", run.TestRunID, err)
		}
	}
	return &run, nil
}

// CreateTestRun appends a run to the history.
func (s *Store) CreateTestRun(ctx context.Context, run *store.TestRun) error {
	taskConfigs, err := json.Marshal(run.TestTaskConfigs)
	if err != nil {
		return err
	}
	scenario, err := json.Marshal(run.TestScenario)
	if err != nil {
		return err
	}
	var results []byte
	if run.Results != nil {
		if results, err = json.Marshal(run.Results); err != nil {
			return err
		}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO test_runs (test_id, test_run_id, status, start_time, end_time, test_type,
			test_description, test_task_configs, test_scenario, results)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, run.TestID, run.TestRunID, run.Status, run.StartTime, run.EndTime, run.TestType,
		run.TestDescription, taskConfigs, scenario, nullJSON(results))
	if err != nil {
		return fmt.Errorf("failed to create test run %s/%s: %w", run.TestID, run.TestRunID, err)
	}
	return nil
}

// GetTestRun returns one run.
func (s *Store) GetTestRun(ctx context.Context, testID, testRunID string) (*store.TestRun, error) {
	query := "SELECT " + runColumns + " FROM test_runs WHERE test_id = $1 AND test_run_id = $2"

	run, err := scanRun(s.db.QueryRowContext(ctx, query, testID, testRunID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get test run %s/%s: %w", testID, testRunID, err)
	}
	return run, nil
}

// QueryTestRuns returns one page of a scenario's runs, newest first.
func (s *Store) QueryTestRuns(ctx context.Context, q store.RunQuery) (*store.RunPage, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}

	conds := []string{"test_id = $1"}
	args := []any{q.TestID}
	if q.From != "" {
		args = append(args, q.From)
		conds = append(conds, fmt.Sprintf("start_time >= $%d", len(args)))
	}
	if q.To != "" {
		args = append(args, q.To)
		conds = append(conds, fmt.Sprintf("start_time <= $%d", len(args)))
	}
	if q.StartAfter != nil {
		args = append(args, q.StartAfter.StartTime, q.StartAfter.TestRunID)
		conds = append(conds, fmt.Sprintf("(start_time, test_run_id) < ($%d, $%d)", len(args)-1, len(args)))
	}
	args = append(args, limit+1)

	query := fmt.Sprintf(`SELECT %s FROM test_runs WHERE %s
		ORDER BY start_time DESC, test_run_id DESC
		LIMIT $%d`, runColumns, strings.Join(conds, " AND "), len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query test runs of %s: %w", q.TestID, err)
	}
	defer rows.Close()

	page := &store.RunPage{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		page.Runs = append(page.Runs, *run)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(page.Runs) > limit {
		page.Runs = page.Runs[:limit]
		last := page.Runs[limit-1]
		page.LastKey = &store.RunKey{TestID: last.TestID, StartTime: last.StartTime, TestRunID: last.TestRunID}
	}
	return page, nil
}

// CompleteTestRun applies a terminal status to a run that has none yet.
func (s *Store) CompleteTestRun(ctx context.Context, testID, testRunID string, status store.Status, endTime string, results json.RawMessage) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE test_runs
		SET status = $3, end_time = $4, results = $5
		WHERE test_id = $1 AND test_run_id = $2
		  AND status NOT IN ('complete', 'cancelled', 'failed')
	`, testID, testRunID, status, endTime, nullJSON(results))
	if err != nil {
		return false, fmt.Errorf("failed to complete test run %s/%s: %w", testID, testRunID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// DeleteTestRuns deletes a batch of runs. Rows locked by a concurrent
// transaction are skipped and reported as unprocessed.
func (s *Store) DeleteTestRuns(ctx context.Context, testID string, testRunIDs []string) ([]string, []string, error) {
	if len(testRunIDs) == 0 {
		return nil, nil, nil
	}
	if len(testRunIDs) > store.MaxBatchDelete {
		return nil, nil, fmt.Errorf("batch of %d runs exceeds the limit of %d", len(testRunIDs), store.MaxBatchDelete)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, err
	}
	defer tx.Rollback()

	existing, err := selectRunIDs(ctx, tx, `
		SELECT test_run_id FROM test_runs
		WHERE test_id = $1 AND test_run_id = ANY($2)
	`, testID, testRunIDs)
	if err != nil {
		return nil, nil, err
	}
	claimed, err := selectRunIDs(ctx, tx, `
		SELECT test_run_id FROM test_runs
		WHERE test_id = $1 AND test_run_id = ANY($2)
		FOR UPDATE SKIP LOCKED
	`, testID, testRunIDs)
	if err != nil {
		return nil, nil, err
	}

	var unprocessed []string
	for _, id := range existing {
		if !slices.Contains(claimed, id) {
			unprocessed = append(unprocessed, id)
		}
	}
	if len(claimed) == 0 {
		return nil, unprocessed, tx.Commit()
	}

	deleted, err := selectRunIDs(ctx, tx, `
		DELETE FROM test_runs
		WHERE test_id = $1 AND test_run_id = ANY($2)
		RETURNING test_run_id
	`, testID, claimed)
	if err != nil {
		return nil, nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, err
	}
	return deleted, unprocessed, nil
}

func selectRunIDs(ctx context.Context, tx store.DBTransaction, query, testID string, ids []string) ([]string, error) {
	rows, err := tx.QueryContext(ctx, query, testID, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("run batch query failed: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
