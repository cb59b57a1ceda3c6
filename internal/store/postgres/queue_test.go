package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	return &Store{db: db}, mock
}

func TestEnqueue_Success(t *testing.T) {
	store, mock := newMockStore(t)
	defer store.db.Close()

	payload := json.RawMessage(`{"testId": "T1"}`)

	mock.ExpectExec(`INSERT INTO workflow_queue`).
		WithArgs("T1-run1", []byte(payload)).
		WillReturnResult(sqlmock.NewResult(1, 1))

	if err := store.Enqueue(context.Background(), "T1-run1", payload); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestEnqueue_DatabaseError(t *testing.T) {
	store, mock := newMockStore(t)
	defer store.db.Close()

	mock.ExpectExec(`INSERT INTO workflow_queue`).
		WillReturnError(sql.ErrConnDone)

	if err := store.Enqueue(context.Background(), "T1-run1", json.RawMessage(`{}`)); err == nil {
		t.Error("expected error, got nil")
	}
}

func TestDequeueBatch_Success(t *testing.T) {
	store, mock := newMockStore(t)
	defer store.db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id, execution_id, attempt, payload FROM workflow_queue .* FOR UPDATE SKIP LOCKED`).
		WithArgs(3).
		WillReturnRows(sqlmock.NewRows([]string{"id", "execution_id", "attempt", "payload"}).
			AddRow(1, "T1-a", 0, []byte(`{"n":1}`)).
			AddRow(2, "T2-b", 2, []byte(`{"n":2}`)))
	mock.ExpectExec(`UPDATE workflow_queue`).
		WithArgs(VisibilityTimeout.Seconds(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	items, err := store.DequeueBatch(context.Background(), 3)
	if err != nil {
		t.Fatalf("DequeueBatch failed: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(items))
	}
	if items[0].ExecutionID != "T1-a" || items[1].ExecutionID != "T2-b" {
		t.Errorf("unexpected order: %+v", items)
	}
	if items[1].Attempt != 3 {
		t.Errorf("expected attempt to be incremented to 3, got %d", items[1].Attempt)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestDequeueBatch_EmptyQueue(t *testing.T) {
	store, mock := newMockStore(t)
	defer store.db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id, execution_id, attempt, payload FROM workflow_queue`).
		WithArgs(1).
		WillReturnRows(sqlmock.NewRows([]string{"id", "execution_id", "attempt", "payload"}))
	mock.ExpectRollback()

	// Limit of 0 should default to 1
	items, err := store.DequeueBatch(context.Background(), 0)
	if err != nil {
		t.Errorf("expected no error for empty queue, got %v", err)
	}
	if items != nil {
		t.Errorf("expected nil items, got %v", items)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestRelease_WithRetry(t *testing.T) {
	store, mock := newMockStore(t)
	defer store.db.Close()

	mock.ExpectQuery(`SELECT attempt FROM workflow_queue`).
		WithArgs("T1-a").
		WillReturnRows(sqlmock.NewRows([]string{"attempt"}).AddRow(2))

	// 10 * 2^2 = 40 seconds
	mock.ExpectExec(`UPDATE workflow_queue`).
		WithArgs(float64(40), "T1-a").
		WillReturnResult(sqlmock.NewResult(0, 1))

	dropped, err := store.Release(context.Background(), "T1-a", 2)
	if err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if dropped {
		t.Error("expected execution to be retried, not dropped")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestRelease_RetriesExhausted(t *testing.T) {
	store, mock := newMockStore(t)
	defer store.db.Close()

	mock.ExpectQuery(`SELECT attempt FROM workflow_queue`).
		WithArgs("T1-a").
		WillReturnRows(sqlmock.NewRows([]string{"attempt"}).AddRow(MaxRetries + 1))
	mock.ExpectExec(`DELETE FROM workflow_queue`).
		WithArgs("T1-a").
		WillReturnResult(sqlmock.NewResult(0, 1))

	dropped, err := store.Release(context.Background(), "T1-a", MaxRetries+1)
	if err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if !dropped {
		t.Error("expected execution to be dropped")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestRelease_NotInQueue(t *testing.T) {
	store, mock := newMockStore(t)
	defer store.db.Close()

	mock.ExpectQuery(`SELECT attempt FROM workflow_queue`).
		WithArgs("gone").
		WillReturnError(sql.ErrNoRows)

	dropped, err := store.Release(context.Background(), "gone", 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !dropped {
		t.Error("a vanished execution should count as dropped")
	}
}

func TestExtend_Success(t *testing.T) {
	store, mock := newMockStore(t)
	defer store.db.Close()

	visibleAfter := time.Now().Add(5 * time.Minute)

	mock.ExpectExec(`UPDATE workflow_queue SET visible_after`).
		WithArgs(visibleAfter, "T1-a").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := store.Extend(context.Background(), "T1-a", visibleAfter); err != nil {
		t.Fatalf("Extend failed: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestComplete_Success(t *testing.T) {
	store, mock := newMockStore(t)
	defer store.db.Close()

	mock.ExpectExec(`DELETE FROM workflow_queue`).
		WithArgs("T1-a").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := store.Complete(context.Background(), "T1-a"); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}
