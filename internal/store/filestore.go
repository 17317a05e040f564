package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"pixverse/internal/domain"
)

// FileStore keeps one JSON file per job record under a base directory, with
// cached result media stored alongside as <id>.mp4. Writes go through a
// temp-file rename so a reader never observes a half-written record.
type FileStore struct {
	basePath string
	logger   zerolog.Logger

	mu sync.Mutex
}

// NewFileStore initializes a FileStore rooted at basePath, creating the
// directory if needed.
func NewFileStore(basePath string, logger zerolog.Logger) (*FileStore, error) {
	basePath = strings.TrimSpace(basePath)
	if basePath == "" {
		return nil, errors.New("store: base path is required")
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("store: ensure base path: %w", err)
	}
	return &FileStore{basePath: basePath, logger: logger}, nil
}

// BasePath returns the configured root directory.
func (s *FileStore) BasePath() string {
	return s.basePath
}

func (s *FileStore) Put(ctx context.Context, job domain.GenerationJob) (domain.GenerationJob, error) {
	if err := ctx.Err(); err != nil {
		return domain.GenerationJob{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	if err := validateID(job.ID); err != nil {
		return domain.GenerationJob{}, err
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}

	merged := job
	if existing, ok := s.lookupLocked(job); ok {
		merged = domain.Merge(existing, job)
	}

	if err := s.writeRecordLocked(merged); err != nil {
		return domain.GenerationJob{}, err
	}
	return merged, nil
}

// lookupLocked resolves the existing record for job's identity: the server
// job id when reconciling, the local id otherwise.
func (s *FileStore) lookupLocked(job domain.GenerationJob) (domain.GenerationJob, bool) {
	if job.ServerJobID != "" {
		for _, rec := range s.readAllLocked() {
			if rec.ServerJobID == job.ServerJobID {
				return rec, true
			}
		}
	}
	rec, err := s.readRecord(s.recordPath(job.ID))
	if err != nil {
		return domain.GenerationJob{}, false
	}
	return rec, true
}

func (s *FileStore) GetAll(ctx context.Context) ([]domain.GenerationJob, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readAllLocked(), nil
}

func (s *FileStore) GetByServerJobID(ctx context.Context, serverJobID string) (domain.GenerationJob, error) {
	jobs, err := s.GetAll(ctx)
	if err != nil {
		return domain.GenerationJob{}, err
	}
	for _, rec := range jobs {
		if rec.ServerJobID == serverJobID {
			return rec, nil
		}
	}
	return domain.GenerationJob{}, domain.ErrNotFound
}

func (s *FileStore) Complete(ctx context.Context, serverJobID, resultURL string) (domain.GenerationJob, error) {
	if err := ctx.Err(); err != nil {
		return domain.GenerationJob{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var rec domain.GenerationJob
	found := false
	for _, r := range s.readAllLocked() {
		if r.ServerJobID == serverJobID {
			rec = r
			found = true
			break
		}
	}
	if !found {
		return domain.GenerationJob{}, domain.ErrNotFound
	}

	rec.ResultURL = domain.String(resultURL)
	rec.Finished = domain.Bool(true)
	rec.SourceImagePath = nil

	if err := s.writeRecordLocked(rec); err != nil {
		return domain.GenerationJob{}, err
	}
	return rec, nil
}

func (s *FileStore) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleteLocked(id)
}

func (s *FileStore) deleteLocked(id string) error {
	if err := validateID(id); err != nil {
		return err
	}
	for _, path := range []string{s.recordPath(id), s.mediaPath(id)} {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return &domain.StorageError{Op: "delete", Err: err}
		}
	}
	return nil
}

func (s *FileStore) PruneUnfinished(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	pruned := 0
	for _, rec := range s.readAllLocked() {
		if rec.IsFinished() {
			continue
		}
		if err := s.deleteLocked(rec.ID); err != nil {
			return pruned, err
		}
		pruned++
	}
	return pruned, nil
}

func (s *FileStore) readAllLocked() []domain.GenerationJob {
	entries, err := os.ReadDir(s.basePath)
	if err != nil {
		s.logger.Warn().Err(err).Msg("store: read record directory failed")
		return nil
	}

	var jobs []domain.GenerationJob
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		rec, err := s.readRecord(filepath.Join(s.basePath, entry.Name()))
		if err != nil {
			// Corrupt records are dropped, not fatal to the whole listing.
			s.logger.Warn().Err(err).Str("file", entry.Name()).Msg("store: skipping unreadable record")
			continue
		}
		jobs = append(jobs, rec)
	}
	return jobs
}

func (s *FileStore) readRecord(path string) (domain.GenerationJob, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.GenerationJob{}, err
	}
	var rec domain.GenerationJob
	if err := json.Unmarshal(data, &rec); err != nil {
		return domain.GenerationJob{}, err
	}
	if rec.ID == "" {
		return domain.GenerationJob{}, errors.New("record missing id")
	}
	return rec, nil
}

// validateID rejects ids that would resolve outside the base directory.
// Locally generated ids are plain uuids and always pass.
func validateID(id string) error {
	if strings.TrimSpace(id) == "" {
		return &domain.StorageError{Op: "id", Err: errors.New("id is required")}
	}
	if id == "." || id == ".." || strings.ContainsAny(id, `/\`) {
		return &domain.StorageError{Op: "id", Err: fmt.Errorf("invalid id %q", id)}
	}
	return nil
}

func (s *FileStore) writeRecordLocked(rec domain.GenerationJob) error {
	if err := validateID(rec.ID); err != nil {
		return err
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return &domain.StorageError{Op: "put", Err: err}
	}

	tmp, err := os.CreateTemp(s.basePath, rec.ID+"-*.tmp")
	if err != nil {
		return &domain.StorageError{Op: "put", Err: err}
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return &domain.StorageError{Op: "put", Err: err}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return &domain.StorageError{Op: "put", Err: err}
	}
	if err := os.Rename(tmp.Name(), s.recordPath(rec.ID)); err != nil {
		os.Remove(tmp.Name())
		return &domain.StorageError{Op: "put", Err: err}
	}
	return nil
}

func (s *FileStore) recordPath(id string) string {
	return filepath.Join(s.basePath, id+".json")
}

func (s *FileStore) mediaPath(id string) string {
	return filepath.Join(s.basePath, id+".mp4")
}

var _ Store = (*FileStore)(nil)
