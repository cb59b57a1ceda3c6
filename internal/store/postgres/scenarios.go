package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"loadplane/internal/store"
	"loadplane/pkg/api"

	"github.com/lib/pq"
)

const scenarioColumns = `test_id, test_name, test_description, test_type, file_type, status,
	start_time, end_time, next_run, tags, show_live, test_task_configs, test_scenario,
	test_run_id, baseline_id, results, schedule_recurrence, schedule_date, schedule_time,
	cron_value, cron_expiry_date`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanScenario(row rowScanner, extra ...any) (*store.Scenario, error) {
	var (
		sc          store.Scenario
		tags        pq.StringArray
		taskConfigs []byte
		scenario    []byte
		baselineID  sql.NullString
		results     []byte
	)
	dest := []any{
		&sc.TestID, &sc.TestName, &sc.TestDescription, &sc.TestType, &sc.FileType, &sc.Status,
		&sc.StartTime, &sc.EndTime, &sc.NextRun, &tags, &sc.ShowLive, &taskConfigs, &scenario,
		&sc.TestRunID, &baselineID, &results, &sc.ScheduleRecurrence, &sc.ScheduleDate,
		&sc.ScheduleTime, &sc.CronValue, &sc.CronExpiryDate,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}

	sc.Tags = tags
	sc.BaselineID = baselineID.String
	if len(taskConfigs) > 0 {
		if err := json.Unmarshal(taskConfigs, &sc.TestTaskConfigs); err != nil {
			return nil, fmt.Errorf("decode task configs of %s: %w", sc.TestID, err)
		}
	}
	if len(scenario) > 0 {
		if err := json.Unmarshal(scenario, &sc.TestScenario); err != nil {
			return nil, fmt.Errorf("decode scenario of %s: %w", sc.TestID, err)
		}
	}
	if len(results) > 0 && string(results) != "null" {
		sc.Results = &api.Results{}
		if err := json.Unmarshal(results, sc.Results); err != nil {
			return nil, fmt.Errorf("decode results of %s: %w", sc.TestID, err)
		}
	}
	return &sc, nil
}

// GetScenario returns a scenario by its ID.
func (s *Store) GetScenario(ctx context.Context, testID string) (*store.Scenario, error) {
	query := "SELECT " + scenarioColumns + " FROM scenarios WHERE test_id = $1"

	sc, err := scanScenario(s.db.QueryRowContext(ctx, query, testID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get scenario %s: %w", testID, err)
	}
	return sc, nil
}

// ListScenarios returns all scenarios carrying every tag in tags, newest activity first.
func (s *Store) ListScenarios(ctx context.Context, tags []string) ([]store.Scenario, error) {
	query := "SELECT " + scenarioColumns + `,
		(SELECT COUNT(*) FROM test_runs r WHERE r.test_id = s.test_id) AS total_runs
		FROM scenarios s`
	var args []any
	if len(tags) > 0 {
		query += " WHERE tags @> $1"
		args = append(args, pq.Array(tags))
	}
	query += " ORDER BY updated_at DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list scenarios: %w", err)
	}
	defer rows.Close()

	var out []store.Scenario
	for rows.Next() {
		var total int
		sc, err := scanScenario(rows, &total)
		if err != nil {
			return nil, err
		}
		sc.TotalRuns = total
		out = append(out, *sc)
	}
	return out, rows.Err()
}

// PutScenario upserts the scenario. The baseline pointer is left untouched.
func (s *Store) PutScenario(ctx context.Context, sc *store.Scenario) error {
	taskConfigs, err := json.Marshal(sc.TestTaskConfigs)
	if err != nil {
		return err
	}
	scenario, err := json.Marshal(sc.TestScenario)
	if err != nil {
		return err
	}
	var results []byte
	if sc.Results != nil {
		if results, err = json.Marshal(sc.Results); err != nil {
			return err
		}
	}
	tags := sc.Tags
	if tags == nil {
		tags = []string{}
	}

	query := `
		INSERT INTO scenarios (test_id, test_name, test_description, test_type, file_type, status,
			start_time, end_time, next_run, tags, show_live, test_task_configs, test_scenario,
			test_run_id, results, schedule_recurrence, schedule_date, schedule_time,
			cron_value, cron_expiry_date)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
		ON CONFLICT (test_id) DO UPDATE SET
			test_name = EXCLUDED.test_name,
			test_description = EXCLUDED.test_description,
			test_type = EXCLUDED.test_type,
			file_type = EXCLUDED.file_type,
			status = EXCLUDED.status,
			start_time = EXCLUDED.start_time,
			end_time = EXCLUDED.end_time,
			next_run = EXCLUDED.next_run,
			tags = EXCLUDED.tags,
			show_live = EXCLUDED.show_live,
			test_task_configs = EXCLUDED.test_task_configs,
			test_scenario = EXCLUDED.test_scenario,
			test_run_id = EXCLUDED.test_run_id,
			results = EXCLUDED.results,
			schedule_recurrence = EXCLUDED.schedule_recurrence,
			schedule_date = EXCLUDED.schedule_date,
			schedule_time = EXCLUDED.schedule_time,
			cron_value = EXCLUDED.cron_value,
			cron_expiry_date = EXCLUDED.cron_expiry_date,
			updated_at = NOW()
	`
	_, err = s.db.ExecContext(ctx, query,
		sc.TestID, sc.TestName, sc.TestDescription, sc.TestType, sc.FileType, sc.Status,
		sc.StartTime, sc.EndTime, sc.NextRun, pq.Array(tags), sc.ShowLive, taskConfigs, scenario,
		sc.TestRunID, nullJSON(results), sc.ScheduleRecurrence, sc.ScheduleDate, sc.ScheduleTime,
		sc.CronValue, sc.CronExpiryDate,
	)
	if err != nil {
		return fmt.Errorf("failed to put scenario %s: %w", sc.TestID, err)
	}
	return nil
}

// UpdateStatus sets the status of an existing scenario.
func (s *Store) UpdateStatus(ctx context.Context, testID string, status store.Status) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE scenarios SET status = $2, updated_at = NOW() WHERE test_id = $1",
		testID, status)
	if err != nil {
		return fmt.Errorf("failed to update status of %s: %w", testID, err)
	}
	return expectOne(res)
}

// FinishRun records the outcome of the scenario's current run.
func (s *Store) FinishRun(ctx context.Context, testID, testRunID string, status store.Status, endTime string, results json.RawMessage) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE scenarios
		SET status = $3, end_time = $4, results = $5, updated_at = NOW()
		WHERE test_id = $1 AND test_run_id = $2
	`, testID, testRunID, status, endTime, nullJSON(results))
	if err != nil {
		return fmt.Errorf("failed to finish run %s/%s: %w", testID, testRunID, err)
	}
	return nil
}

// SetBaseline stores or clears the baseline pointer.
func (s *Store) SetBaseline(ctx context.Context, testID, baselineID string) error {
	var value sql.NullString
	if baselineID != "" {
		value = sql.NullString{String: baselineID, Valid: true}
	}
	res, err := s.db.ExecContext(ctx,
		"UPDATE scenarios SET baseline_id = $2, updated_at = NOW() WHERE test_id = $1",
		testID, value)
	if err != nil {
		return fmt.Errorf("failed to set baseline of %s: %w", testID, err)
	}
	return expectOne(res)
}

// DeleteScenario removes the scenario record.
func (s *Store) DeleteScenario(ctx context.Context, testID string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM scenarios WHERE test_id = $1", testID); err != nil {
		return fmt.Errorf("failed to delete scenario %s: %w", testID, err)
	}
	return nil
}

// CountByStatus counts scenarios in a given status.
func (s *Store) CountByStatus(ctx context.Context, status store.Status) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM scenarios WHERE status = $1", status).Scan(&count)
	if err != nil {
		return 0, err
	}
	return count, nil
}

func expectOne(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

// nullJSON maps an empty document to SQL NULL.
func nullJSON(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}
