package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"pixverse/internal/domain"
	"pixverse/internal/infra"
)

// Schema is the table backing the Postgres store. Consumers apply it with
// their own migration tooling.
const Schema = `
CREATE TABLE IF NOT EXISTS generation_jobs (
	id TEXT PRIMARY KEY,
	generation_id TEXT UNIQUE,
	name TEXT NOT NULL DEFAULT '',
	image_path TEXT,
	video TEXT,
	is_finished BOOLEAN NOT NULL DEFAULT FALSE,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);`

const (
	qSelectJobs = `SELECT id, generation_id, name, image_path, video, is_finished, created_at
FROM generation_jobs`
	qSelectJobByGenerationID = qSelectJobs + ` WHERE generation_id = $1`
	qSelectJobByID           = qSelectJobs + ` WHERE id = $1`
	qUpsertJob               = `INSERT INTO generation_jobs (id, generation_id, name, image_path, video, is_finished, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (id) DO UPDATE SET
	generation_id = EXCLUDED.generation_id,
	name = EXCLUDED.name,
	image_path = EXCLUDED.image_path,
	video = EXCLUDED.video,
	is_finished = EXCLUDED.is_finished`
	qCompleteJob = `UPDATE generation_jobs
SET video = $2, is_finished = TRUE, image_path = NULL
WHERE generation_id = $1
RETURNING id, generation_id, name, image_path, video, is_finished, created_at`
	qDeleteJob       = `DELETE FROM generation_jobs WHERE id = $1`
	qPruneUnfinished = `DELETE FROM generation_jobs WHERE NOT is_finished`
)

// PostgresStore implements Store on top of an SQLExecutor, for app backends
// that already run pgx and want job records next to their other state.
type PostgresStore struct {
	db     infra.SQLExecutor
	logger zerolog.Logger
}

func NewPostgresStore(db infra.SQLExecutor, logger zerolog.Logger) *PostgresStore {
	return &PostgresStore{db: db, logger: logger}
}

func (s *PostgresStore) Put(ctx context.Context, job domain.GenerationJob) (domain.GenerationJob, error) {
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}

	merged := job
	if existing, err := s.lookup(ctx, job); err == nil {
		merged = domain.Merge(existing, job)
	} else if !errors.Is(err, domain.ErrNotFound) {
		return domain.GenerationJob{}, &domain.StorageError{Op: "put", Err: err}
	}

	_, err := s.db.Exec(ctx, qUpsertJob,
		merged.ID,
		nullable(merged.ServerJobID),
		merged.DisplayName,
		merged.SourceImagePath,
		merged.ResultURL,
		merged.IsFinished(),
		merged.CreatedAt,
	)
	if err != nil {
		return domain.GenerationJob{}, &domain.StorageError{Op: "put", Err: err}
	}
	return merged, nil
}

func (s *PostgresStore) lookup(ctx context.Context, job domain.GenerationJob) (domain.GenerationJob, error) {
	if job.ServerJobID != "" {
		rec, err := s.scanJob(s.db.QueryRow(ctx, qSelectJobByGenerationID, job.ServerJobID))
		if err == nil || !errors.Is(err, domain.ErrNotFound) {
			return rec, err
		}
	}
	return s.scanJob(s.db.QueryRow(ctx, qSelectJobByID, job.ID))
}

func (s *PostgresStore) GetAll(ctx context.Context) ([]domain.GenerationJob, error) {
	rows, err := s.db.Query(ctx, qSelectJobs)
	if err != nil {
		return nil, &domain.StorageError{Op: "get_all", Err: err}
	}
	defer rows.Close()

	var jobs []domain.GenerationJob
	for rows.Next() {
		rec, err := s.scanJob(rows)
		if err != nil {
			s.logger.Warn().Err(err).Msg("store: skipping unreadable row")
			continue
		}
		jobs = append(jobs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, &domain.StorageError{Op: "get_all", Err: err}
	}
	return jobs, nil
}

func (s *PostgresStore) GetByServerJobID(ctx context.Context, serverJobID string) (domain.GenerationJob, error) {
	return s.scanJob(s.db.QueryRow(ctx, qSelectJobByGenerationID, serverJobID))
}

func (s *PostgresStore) Complete(ctx context.Context, serverJobID, resultURL string) (domain.GenerationJob, error) {
	return s.scanJob(s.db.QueryRow(ctx, qCompleteJob, serverJobID, resultURL))
}

func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	if _, err := s.db.Exec(ctx, qDeleteJob, id); err != nil {
		return &domain.StorageError{Op: "delete", Err: err}
	}
	return nil
}

func (s *PostgresStore) PruneUnfinished(ctx context.Context) (int, error) {
	tag, err := s.db.Exec(ctx, qPruneUnfinished)
	if err != nil {
		return 0, &domain.StorageError{Op: "prune", Err: err}
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) scanJob(row pgx.Row) (domain.GenerationJob, error) {
	var (
		rec      domain.GenerationJob
		genID    *string
		finished bool
	)
	err := row.Scan(&rec.ID, &genID, &rec.DisplayName, &rec.SourceImagePath, &rec.ResultURL, &finished, &rec.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.GenerationJob{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.GenerationJob{}, err
	}
	if genID != nil {
		rec.ServerJobID = *genID
	}
	rec.Finished = domain.Bool(finished)
	return rec, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

var _ Store = (*PostgresStore)(nil)
