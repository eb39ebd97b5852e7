package transfersdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"mercato/internal/transfers/saga"

	"github.com/shopspring/decimal"
)

const sagaColumns = `saga_id, player_id, from_org_id, to_org_id, transfer_fee, state, error_message, version, created_at, updated_at`

// SagaStore persists transfer sagas and their audit trail in Postgres.
type SagaStore struct {
	db *sql.DB
}

// NewSagaStore constructs a SagaStore backed by Postgres.
func NewSagaStore(db *sql.DB) *SagaStore {
	return &SagaStore{db: db}
}

// NewSagaStoreWithSchema initializes the schema then returns the store.
func NewSagaStoreWithSchema(ctx context.Context, db *sql.DB) (*SagaStore, error) {
	store := NewSagaStore(db)
	if err := store.InitSchema(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

// InitSchema creates saga tables if they do not exist.
func (s *SagaStore) InitSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS transfer_sagas (
			saga_id TEXT PRIMARY KEY,
			player_id TEXT NOT NULL,
			from_org_id TEXT NOT NULL,
			to_org_id TEXT NOT NULL,
			transfer_fee NUMERIC(20, 2) NOT NULL CHECK (transfer_fee >= 0),
			state TEXT NOT NULL,
			error_message TEXT,
			version BIGINT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS transfer_sagas_state_updated_idx
			ON transfer_sagas (state, updated_at)`,
		`CREATE TABLE IF NOT EXISTS transfer_saga_steps (
			id BIGSERIAL PRIMARY KEY,
			saga_id TEXT NOT NULL,
			from_state TEXT,
			to_state TEXT NOT NULL,
			detail TEXT,
			created_at TIMESTAMPTZ NOT NULL,
			FOREIGN KEY (saga_id) REFERENCES transfer_sagas(saga_id) ON DELETE CASCADE
		)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}

	return nil
}

// Create inserts a new saga and its creation step.
func (s *SagaStore) Create(ctx context.Context, record saga.Record) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO transfer_sagas (`+sagaColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			ON CONFLICT (saga_id) DO NOTHING`,
			record.SagaID, record.PlayerID, record.FromOrgID, record.ToOrgID,
			record.TransferFee, string(record.State), nullString(record.ErrorMessage),
			record.Version, record.CreatedAt, record.UpdatedAt,
		)
		if err != nil {
			return err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return saga.ErrAlreadyExists
		}
		return insertStep(ctx, tx, saga.Step{
			SagaID: record.SagaID,
			To:     record.State,
			Detail: "created",
			At:     record.CreatedAt,
		})
	})
}

// Get loads a saga by id.
func (s *SagaStore) Get(ctx context.Context, sagaID string) (saga.Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+sagaColumns+`
		FROM transfer_sagas
		WHERE saga_id = $1`,
		sagaID,
	)
	record, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return saga.Record{}, saga.ErrNotFound
	}
	return record, err
}

// Update writes record only when the stored version matches expectedVersion.
func (s *SagaStore) Update(ctx context.Context, record saga.Record, expectedVersion int64, steps ...saga.Step) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE transfer_sagas
			SET state = $3, error_message = $4, version = $5, updated_at = $6
			WHERE saga_id = $1 AND version = $2`,
			record.SagaID, expectedVersion, string(record.State), nullString(record.ErrorMessage),
			record.Version, record.UpdatedAt,
		)
		if err != nil {
			return err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			var exists bool
			if err := tx.QueryRowContext(ctx,
				`SELECT EXISTS (SELECT 1 FROM transfer_sagas WHERE saga_id = $1)`,
				record.SagaID,
			).Scan(&exists); err != nil {
				return err
			}
			if !exists {
				return saga.ErrNotFound
			}
			return saga.ErrVersionConflict
		}
		for _, step := range steps {
			if err := insertStep(ctx, tx, step); err != nil {
				return err
			}
		}
		return nil
	})
}

// ListStalled returns non-terminal sagas whose last update precedes before.
func (s *SagaStore) ListStalled(ctx context.Context, before time.Time, limit int) ([]saga.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+sagaColumns+`
		FROM transfer_sagas
		WHERE state NOT IN ($1, $2) AND updated_at < $3
		ORDER BY updated_at
		LIMIT $4`,
		string(saga.StateCompleted), string(saga.StateFailed), before, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []saga.Record
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, record)
	}
	return out, rows.Err()
}

func (s *SagaStore) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func insertStep(ctx context.Context, tx *sql.Tx, step saga.Step) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO transfer_saga_steps (saga_id, from_state, to_state, detail, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		step.SagaID, nullString(string(step.From)), string(step.To), nullString(step.Detail), step.At,
	)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (saga.Record, error) {
	var (
		record  saga.Record
		fee     decimal.Decimal
		state   string
		message sql.NullString
	)
	if err := row.Scan(
		&record.SagaID, &record.PlayerID, &record.FromOrgID, &record.ToOrgID,
		&fee, &state, &message, &record.Version, &record.CreatedAt, &record.UpdatedAt,
	); err != nil {
		return saga.Record{}, err
	}

	record.TransferFee = fee
	record.State = saga.State(state)
	if !record.State.Valid() {
		return saga.Record{}, fmt.Errorf("saga %s has unknown state %q", record.SagaID, state)
	}
	record.ErrorMessage = message.String
	record.CreatedAt = record.CreatedAt.UTC()
	record.UpdatedAt = record.UpdatedAt.UTC()
	return record, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
