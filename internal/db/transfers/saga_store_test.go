package transfersdb

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"mercato/internal/transfers/saga"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
)

func newSagaMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock, func()) {
	t.Helper()

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}

	cleanup := func() {
		if err := db.Close(); err != nil {
			t.Fatalf("close db: %v", err)
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Fatalf("unmet expectations: %v", err)
		}
	}

	return db, mock, cleanup
}

var sagaRowColumns = []string{
	"saga_id", "player_id", "from_org_id", "to_org_id", "transfer_fee",
	"state", "error_message", "version", "created_at", "updated_at",
}

func sampleRecord() saga.Record {
	created := time.Date(2024, 6, 1, 9, 30, 0, 0, time.UTC)
	return saga.New("saga-1", "1", "2", "3", decimal.NewFromInt(1_000_000), created)
}

func TestSagaStore_InitSchema(t *testing.T) {
	db, mock, cleanup := newSagaMockDB(t)
	t.Cleanup(cleanup)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS transfer_sagas").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE INDEX IF NOT EXISTS transfer_sagas_state_updated_idx").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS transfer_saga_steps").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectClose()

	store := NewSagaStore(db)
	if err := store.InitSchema(context.Background()); err != nil {
		t.Fatalf("InitSchema: %v", err)
	}
}

func TestSagaStore_Create(t *testing.T) {
	db, mock, cleanup := newSagaMockDB(t)
	t.Cleanup(cleanup)

	rec := sampleRecord()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO transfer_sagas").
		WithArgs("saga-1", "1", "2", "3", "1000000", "STARTED", nil, int64(1), rec.CreatedAt, rec.UpdatedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO transfer_saga_steps").
		WithArgs("saga-1", nil, "STARTED", "created", rec.CreatedAt).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()
	mock.ExpectClose()

	store := NewSagaStore(db)
	if err := store.Create(context.Background(), rec); err != nil {
		t.Fatalf("Create: %v", err)
	}
}

func TestSagaStore_CreateDuplicate(t *testing.T) {
	db, mock, cleanup := newSagaMockDB(t)
	t.Cleanup(cleanup)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO transfer_sagas").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()
	mock.ExpectClose()

	store := NewSagaStore(db)
	if err := store.Create(context.Background(), sampleRecord()); !errors.Is(err, saga.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
}

func TestSagaStore_Get(t *testing.T) {
	db, mock, cleanup := newSagaMockDB(t)
	t.Cleanup(cleanup)

	created := time.Date(2024, 6, 1, 9, 30, 0, 0, time.UTC)
	updated := created.Add(time.Minute)

	mock.ExpectQuery("SELECT saga_id, player_id").
		WithArgs("saga-1").
		WillReturnRows(sqlmock.NewRows(sagaRowColumns).
			AddRow("saga-1", "1", "2", "3", "1000000.00", "FAILED", "insufficient funds", int64(5), created, updated))
	mock.ExpectClose()

	store := NewSagaStore(db)
	rec, err := store.Get(context.Background(), "saga-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec.State != saga.StateFailed || rec.ErrorMessage != "insufficient funds" {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if !rec.TransferFee.Equal(decimal.NewFromInt(1_000_000)) {
		t.Fatalf("unexpected fee: %s", rec.TransferFee)
	}
	if rec.Version != 5 || !rec.UpdatedAt.Equal(updated) {
		t.Fatalf("unexpected version/timestamps: %+v", rec)
	}
}

func TestSagaStore_GetNotFound(t *testing.T) {
	db, mock, cleanup := newSagaMockDB(t)
	t.Cleanup(cleanup)

	mock.ExpectQuery("SELECT saga_id, player_id").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(sagaRowColumns))
	mock.ExpectClose()

	store := NewSagaStore(db)
	if _, err := store.Get(context.Background(), "missing"); !errors.Is(err, saga.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSagaStore_GetRejectsUnknownState(t *testing.T) {
	db, mock, cleanup := newSagaMockDB(t)
	t.Cleanup(cleanup)

	now := time.Now()
	mock.ExpectQuery("SELECT saga_id, player_id").
		WithArgs("saga-1").
		WillReturnRows(sqlmock.NewRows(sagaRowColumns).
			AddRow("saga-1", "1", "2", "3", "1", "LIMBO", nil, int64(1), now, now))
	mock.ExpectClose()

	store := NewSagaStore(db)
	if _, err := store.Get(context.Background(), "saga-1"); err == nil {
		t.Fatalf("expected error for unknown state")
	}
}

func TestSagaStore_UpdateWritesRecordAndSteps(t *testing.T) {
	db, mock, cleanup := newSagaMockDB(t)
	t.Cleanup(cleanup)

	rec := sampleRecord()
	next, step, err := rec.Advance(saga.StateBudgetChecked, rec.CreatedAt.Add(time.Second))
	if err != nil {
		t.Fatalf("advance: %v", err)
	}

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE transfer_sagas").
		WithArgs("saga-1", int64(1), "BUDGET_CHECKED", nil, int64(2), next.UpdatedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO transfer_saga_steps").
		WithArgs("saga-1", "STARTED", "BUDGET_CHECKED", nil, step.At).
		WillReturnResult(sqlmock.NewResult(2, 1))
	mock.ExpectCommit()
	mock.ExpectClose()

	store := NewSagaStore(db)
	if err := store.Update(context.Background(), next, rec.Version, step); err != nil {
		t.Fatalf("Update: %v", err)
	}
}

func TestSagaStore_UpdateVersionConflict(t *testing.T) {
	db, mock, cleanup := newSagaMockDB(t)
	t.Cleanup(cleanup)

	rec := sampleRecord()
	next, step, _ := rec.Fail("insufficient budget", rec.CreatedAt.Add(time.Second))

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE transfer_sagas").
		WithArgs("saga-1", int64(1), "FAILED", "insufficient budget", int64(2), next.UpdatedAt).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("saga-1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectRollback()
	mock.ExpectClose()

	store := NewSagaStore(db)
	if err := store.Update(context.Background(), next, rec.Version, step); !errors.Is(err, saga.ErrVersionConflict) {
		t.Fatalf("expected ErrVersionConflict, got %v", err)
	}
}

func TestSagaStore_UpdateMissingSaga(t *testing.T) {
	db, mock, cleanup := newSagaMockDB(t)
	t.Cleanup(cleanup)

	rec := sampleRecord()
	next, step, _ := rec.Advance(saga.StateBudgetChecked, rec.CreatedAt.Add(time.Second))

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE transfer_sagas").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("saga-1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectRollback()
	mock.ExpectClose()

	store := NewSagaStore(db)
	if err := store.Update(context.Background(), next, rec.Version, step); !errors.Is(err, saga.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSagaStore_UpdateStepFailureRollsBack(t *testing.T) {
	db, mock, cleanup := newSagaMockDB(t)
	t.Cleanup(cleanup)

	rec := sampleRecord()
	next, step, _ := rec.Advance(saga.StateBudgetChecked, rec.CreatedAt.Add(time.Second))

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE transfer_sagas").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO transfer_saga_steps").
		WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()
	mock.ExpectClose()

	store := NewSagaStore(db)
	if err := store.Update(context.Background(), next, rec.Version, step); err == nil {
		t.Fatalf("expected error")
	}
}

func TestSagaStore_ListStalled(t *testing.T) {
	db, mock, cleanup := newSagaMockDB(t)
	t.Cleanup(cleanup)

	cutoff := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	old := cutoff.Add(-time.Hour)

	mock.ExpectQuery("SELECT saga_id, player_id").
		WithArgs("COMPLETED", "FAILED", cutoff, 50).
		WillReturnRows(sqlmock.NewRows(sagaRowColumns).
			AddRow("saga-1", "1", "2", "3", "10", "CLUB_UPDATED", nil, int64(4), old, old).
			AddRow("saga-2", "4", "5", "6", "0", "STARTED", nil, int64(1), old, old))
	mock.ExpectClose()

	store := NewSagaStore(db)
	stalled, err := store.ListStalled(context.Background(), cutoff, 50)
	if err != nil {
		t.Fatalf("ListStalled: %v", err)
	}
	if len(stalled) != 2 || stalled[0].State != saga.StateClubUpdated || stalled[1].SagaID != "saga-2" {
		t.Fatalf("unexpected stalled sagas: %+v", stalled)
	}
}
