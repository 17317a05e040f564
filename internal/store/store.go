package store

import (
	"context"

	"pixverse/internal/domain"
)

// Store is the durable home of generation job records. The engine is the
// only writer; UI layers take snapshot reads via GetAll and mutate only
// through the engine.
type Store interface {
	// Put inserts a new record or merges the non-null fields of job into the
	// existing record with the same identity. Identity is the local id when
	// creating and the server job id when reconciling.
	Put(ctx context.Context, job domain.GenerationJob) (domain.GenerationJob, error)

	// GetAll returns every stored record in unspecified order, silently
	// skipping records that fail to deserialize.
	GetAll(ctx context.Context) ([]domain.GenerationJob, error)

	// GetByServerJobID returns the record reconciled under the given server
	// job id, or domain.ErrNotFound.
	GetByServerJobID(ctx context.Context, serverJobID string) (domain.GenerationJob, error)

	// Complete applies the terminal success transition: result URL set,
	// isFinished true, source image path cleared.
	Complete(ctx context.Context, serverJobID, resultURL string) (domain.GenerationJob, error)

	// Delete removes the record and any associated cached media. Deleting a
	// missing id is a no-op.
	Delete(ctx context.Context, id string) error

	// PruneUnfinished removes all unfinished records and reports how many
	// were dropped.
	PruneUnfinished(ctx context.Context) (int, error)
}
