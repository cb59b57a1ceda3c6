package postgres

import (
	"context"
	"errors"
	"testing"

	"loadplane/internal/store"

	"github.com/DATA-DOG/go-sqlmock"
)

var runCols = []string{
	"test_id", "test_run_id", "status", "start_time", "end_time", "test_type",
	"test_description", "test_task_configs", "test_scenario", "results",
}

func addRun(rows *sqlmock.Rows, id, start string) *sqlmock.Rows {
	return rows.AddRow("T1", id, "complete", start, "", "simple", "", []byte(`[]`), []byte(`{}`), nil)
}

func TestQueryTestRuns_SetsLastKeyWhenMore(t *testing.T) {
	store_, mock := newMockStore(t)
	defer store_.db.Close()

	rows := sqlmock.NewRows(runCols)
	addRun(rows, "r3", "2024-01-03 00:00:00")
	addRun(rows, "r2", "2024-01-02 00:00:00")
	addRun(rows, "r1", "2024-01-01 00:00:00")

	mock.ExpectQuery(`SELECT .* FROM test_runs WHERE test_id = \$1 ORDER BY start_time DESC, test_run_id DESC LIMIT \$2`).
		WithArgs("T1", 3).
		WillReturnRows(rows)

	page, err := store_.QueryTestRuns(context.Background(), store.RunQuery{TestID: "T1", Limit: 2})
	if err != nil {
		t.Fatalf("QueryTestRuns failed: %v", err)
	}
	if len(page.Runs) != 2 {
		t.Fatalf("expected 2 runs, got %d", len(page.Runs))
	}
	if page.LastKey == nil || page.LastKey.TestRunID != "r2" || page.LastKey.StartTime != "2024-01-02 00:00:00" {
		t.Errorf("unexpected last key: %+v", page.LastKey)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestQueryTestRuns_FiltersAndCursor(t *testing.T) {
	store_, mock := newMockStore(t)
	defer store_.db.Close()

	mock.ExpectQuery(`start_time >= \$2 AND start_time <= \$3 AND \(start_time, test_run_id\) < \(\$4, \$5\)`).
		WithArgs("T1", "2024-01-01 00:00:00", "2024-02-01 00:00:00", "2024-01-10 00:00:00", "r9", 21).
		WillReturnRows(addRun(sqlmock.NewRows(runCols), "r8", "2024-01-09 00:00:00"))

	page, err := store_.QueryTestRuns(context.Background(), store.RunQuery{
		TestID:     "T1",
		From:       "2024-01-01 00:00:00",
		To:         "2024-02-01 00:00:00",
		StartAfter: &store.RunKey{TestID: "T1", StartTime: "2024-01-10 00:00:00", TestRunID: "r9"},
	})
	if err != nil {
		t.Fatalf("QueryTestRuns failed: %v", err)
	}
	if len(page.Runs) != 1 || page.LastKey != nil {
		t.Errorf("expected a single final page, got %+v", page)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestDeleteTestRuns_ReportsLockedAsUnprocessed(t *testing.T) {
	store_, mock := newMockStore(t)
	defer store_.db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT test_run_id FROM test_runs WHERE test_id = \$1 AND test_run_id = ANY\(\$2\)$`).
		WithArgs("T1", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"test_run_id"}).AddRow("r1").AddRow("r2"))
	mock.ExpectQuery(`FOR UPDATE SKIP LOCKED`).
		WithArgs("T1", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"test_run_id"}).AddRow("r1"))
	mock.ExpectQuery(`DELETE FROM test_runs .* RETURNING test_run_id`).
		WithArgs("T1", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"test_run_id"}).AddRow("r1"))
	mock.ExpectCommit()

	deleted, unprocessed, err := store_.DeleteTestRuns(context.Background(), "T1", []string{"r1", "r2", "nope"})
	if err != nil {
		t.Fatalf("DeleteTestRuns failed: %v", err)
	}
	if len(deleted) != 1 || deleted[0] != "r1" {
		t.Errorf("deleted = %v", deleted)
	}
	if len(unprocessed) != 1 || unprocessed[0] != "r2" {
		t.Errorf("unprocessed = %v", unprocessed)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestDeleteTestRuns_RejectsOversizedBatch(t *testing.T) {
	store_, _ := newMockStore(t)
	defer store_.db.Close()

	ids := make([]string, store.MaxBatchDelete+1)
	if _, _, err := store_.DeleteTestRuns(context.Background(), "T1", ids); err == nil {
		t.Error("expected error for oversized batch")
	}
}

func TestCompleteTestRun_AlreadyTerminal(t *testing.T) {
	store_, mock := newMockStore(t)
	defer store_.db.Close()

	mock.ExpectExec(`UPDATE test_runs .* status NOT IN`).
		WithArgs("T1", "r1", store.StatusComplete, "2024-01-01 10:05:00", nil).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := store_.CompleteTestRun(context.Background(), "T1", "r1", store.StatusComplete, "2024-01-01 10:05:00", nil)
	if err != nil {
		t.Fatalf("CompleteTestRun failed: %v", err)
	}
	if ok {
		t.Error("expected no update for a terminal run")
	}
}

func TestGetTestRun_NotFound(t *testing.T) {
	store_, mock := newMockStore(t)
	defer store_.db.Close()

	mock.ExpectQuery(`SELECT .* FROM test_runs WHERE test_id = \$1 AND test_run_id = \$2`).
		WithArgs("T1", "nope").
		WillReturnRows(sqlmock.NewRows(runCols))

	_, err := store_.GetTestRun(context.Background(), "T1", "nope")
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
