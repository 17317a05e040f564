package infra

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
)

// SQLExecutor defines the contract required by stores for executing SQL
// queries. *pgxpool.Pool satisfies it directly.
type SQLExecutor interface {
	Exec(ctx context.Context, query string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, query string, args ...any) pgx.Row
	Query(ctx context.Context, query string, args ...any) (pgx.Rows, error)
}

// SQLRunner decorates an SQLExecutor with structured query logging.
type SQLRunner struct {
	DB     SQLExecutor
	Logger zerolog.Logger
}

func NewSQLRunner(db SQLExecutor, logger zerolog.Logger) *SQLRunner {
	return &SQLRunner{DB: db, Logger: logger}
}

func (r *SQLRunner) Exec(ctx context.Context, query string, args ...any) (pgconn.CommandTag, error) {
	tag, err := r.DB.Exec(ctx, query, args...)
	if err != nil {
		r.Logger.Error().Err(err).Msg("sql exec error")
		return tag, err
	}
	return tag, nil
}

func (r *SQLRunner) QueryRow(ctx context.Context, query string, args ...any) pgx.Row {
	return loggingRow{row: r.DB.QueryRow(ctx, query, args...), logger: r.Logger}
}

func (r *SQLRunner) Query(ctx context.Context, query string, args ...any) (pgx.Rows, error) {
	rows, err := r.DB.Query(ctx, query, args...)
	if err != nil {
		r.Logger.Error().Err(err).Msg("sql query error")
		return nil, err
	}
	return rows, nil
}

type loggingRow struct {
	row    pgx.Row
	logger zerolog.Logger
}

func (l loggingRow) Scan(dest ...any) error {
	err := l.row.Scan(dest...)
	if err != nil && err != pgx.ErrNoRows {
		l.logger.Error().Err(err).Msg("sql scan error")
	}
	return err
}

var _ SQLExecutor = (*SQLRunner)(nil)
