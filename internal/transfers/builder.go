package transfers

import (
	"context"
	"database/sql"
	"time"

	transfersdb "mercato/internal/db/transfers"
	"mercato/internal/transfers/saga"

	"github.com/rs/zerolog"
)

var openDB = sql.Open

// BuildStore wires a saga store from a Postgres DSN. An empty DSN selects the
// in-memory store; a DSN that fails to open or migrate is an error.
// The returned cleanup closes any external resources.
func BuildStore(ctx context.Context, dsn string, logger zerolog.Logger) (saga.Store, func(), error) {
	if dsn == "" {
		logger.Warn().Msg("DATABASE_URL not set, using in-memory saga store")
		return NewInMemoryStore(), func() {}, nil
	}

	db, err := openDB("pgx", dsn)
	if err != nil {
		return nil, nil, err
	}

	setupCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	store, err := transfersdb.NewSagaStoreWithSchema(setupCtx, db)
	if err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	logger.Info().Msg("postgres saga store enabled")

	cleanup := func() {
		if err := db.Close(); err != nil {
			logger.Error().Err(err).Msg("close postgres")
		}
	}
	return store, cleanup, nil
}
