package store

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"pixverse/internal/domain"
)

func newTestStore(t *testing.T) *FileStore {
	t.Helper()
	s, err := NewFileStore(t.TempDir(), zerolog.New(io.Discard))
	if err != nil {
		t.Fatalf("NewFileStore error: %v", err)
	}
	return s
}

func TestPutAssignsIdentity(t *testing.T) {
	s := newTestStore(t)

	job, err := s.Put(context.Background(), domain.GenerationJob{
		DisplayName: "Melting",
		Finished:    domain.Bool(false),
	})
	if err != nil {
		t.Fatalf("Put error: %v", err)
	}
	if job.ID == "" {
		t.Fatal("expected local id to be assigned")
	}
	if job.CreatedAt.IsZero() {
		t.Fatal("expected createdAt to be assigned")
	}
}

func TestPutMergesByServerJobID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first, err := s.Put(ctx, domain.GenerationJob{
		ServerJobID:     "gen-abc",
		DisplayName:     "Melting",
		SourceImagePath: domain.String("/tmp/does-not-matter.jpg"),
		Finished:        domain.Bool(false),
	})
	if err != nil {
		t.Fatalf("Put error: %v", err)
	}

	// Second put with the same server job id must update the same record,
	// last non-null wins per field.
	updated, err := s.Put(ctx, domain.GenerationJob{
		ServerJobID: "gen-abc",
		ResultURL:   domain.String("https://x/y.mp4"),
	})
	if err != nil {
		t.Fatalf("Put error: %v", err)
	}
	if updated.ID != first.ID {
		t.Fatalf("record identity changed: got %q want %q", updated.ID, first.ID)
	}
	if updated.DisplayName != "Melting" {
		t.Fatalf("DisplayName lost on merge: got %q", updated.DisplayName)
	}
	if updated.ResultURL == nil || *updated.ResultURL != "https://x/y.mp4" {
		t.Fatalf("ResultURL not merged: %v", updated.ResultURL)
	}

	all, err := s.GetAll(ctx)
	if err != nil {
		t.Fatalf("GetAll error: %v", err)
	}
	count := 0
	for _, rec := range all {
		if rec.ServerJobID == "gen-abc" {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("expected exactly one record for gen-abc, got %d", count)
	}
}

func TestCompleteAppliesTerminalInvariant(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	img := filepath.Join(t.TempDir(), "source.jpg")
	if err := os.WriteFile(img, []byte("jpeg"), 0o644); err != nil {
		t.Fatalf("write image: %v", err)
	}

	if _, err := s.Put(ctx, domain.GenerationJob{
		ServerJobID:     "gen-abc",
		DisplayName:     "Melting",
		SourceImagePath: domain.String(img),
		Finished:        domain.Bool(false),
	}); err != nil {
		t.Fatalf("Put error: %v", err)
	}

	job, err := s.Complete(ctx, "gen-abc", "https://x/y.mp4")
	if err != nil {
		t.Fatalf("Complete error: %v", err)
	}
	if !job.IsFinished() {
		t.Fatal("expected finished job")
	}
	if job.ResultURL == nil || *job.ResultURL != "https://x/y.mp4" {
		t.Fatalf("ResultURL mismatch: %v", job.ResultURL)
	}
	if job.SourceImagePath != nil {
		t.Fatalf("SourceImagePath not cleared: %v", *job.SourceImagePath)
	}

	// The invariant must hold on every subsequent read, not just the
	// returned snapshot.
	reread, err := s.GetByServerJobID(ctx, "gen-abc")
	if err != nil {
		t.Fatalf("GetByServerJobID error: %v", err)
	}
	if !reread.IsFinished() || reread.ResultURL == nil || reread.SourceImagePath != nil {
		t.Fatalf("terminal invariant broken on re-read: %+v", reread)
	}
}

func TestCompleteUnknownServerJobID(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Complete(context.Background(), "missing", "https://x/y.mp4")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDeleteIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	job, err := s.Put(ctx, domain.GenerationJob{DisplayName: "Melting"})
	if err != nil {
		t.Fatalf("Put error: %v", err)
	}

	if err := s.Delete(ctx, job.ID); err != nil {
		t.Fatalf("first delete error: %v", err)
	}
	if err := s.Delete(ctx, job.ID); err != nil {
		t.Fatalf("second delete error: %v", err)
	}
	if err := s.Delete(ctx, "never-existed"); err != nil {
		t.Fatalf("delete of unknown id error: %v", err)
	}

	all, err := s.GetAll(ctx)
	if err != nil {
		t.Fatalf("GetAll error: %v", err)
	}
	if len(all) != 0 {
		t.Fatalf("expected empty store, got %d records", len(all))
	}
}

func TestDeleteRemovesCachedMedia(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	job, err := s.Put(ctx, domain.GenerationJob{DisplayName: "Melting"})
	if err != nil {
		t.Fatalf("Put error: %v", err)
	}
	media := filepath.Join(s.BasePath(), job.ID+".mp4")
	if err := os.WriteFile(media, []byte("video"), 0o644); err != nil {
		t.Fatalf("write media: %v", err)
	}

	if err := s.Delete(ctx, job.ID); err != nil {
		t.Fatalf("Delete error: %v", err)
	}
	if _, err := os.Stat(media); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected media to be removed, stat err: %v", err)
	}
}

func TestRejectsIDsEscapingBaseDir(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	outside := filepath.Join(filepath.Dir(s.BasePath()), "victim.json")
	if err := os.WriteFile(outside, []byte(`{"id":"victim"}`), 0o644); err != nil {
		t.Fatalf("write outside file: %v", err)
	}

	for _, id := range []string{"../victim", "..", ".", "a/b", `a\b`, " "} {
		if err := s.Delete(ctx, id); err == nil {
			t.Fatalf("Delete(%q) accepted an id escaping the base dir", id)
		}
		if _, err := s.Put(ctx, domain.GenerationJob{ID: id}); err == nil {
			t.Fatalf("Put(%q) accepted an id escaping the base dir", id)
		}
	}

	if _, err := os.Stat(outside); err != nil {
		t.Fatalf("file outside the base dir was touched: %v", err)
	}
}

func TestGetAllSkipsCorruptRecords(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.Put(ctx, domain.GenerationJob{DisplayName: "Melting"}); err != nil {
		t.Fatalf("Put error: %v", err)
	}
	corrupt := filepath.Join(s.BasePath(), "corrupt.json")
	if err := os.WriteFile(corrupt, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("write corrupt record: %v", err)
	}

	all, err := s.GetAll(ctx)
	if err != nil {
		t.Fatalf("GetAll error: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("expected 1 readable record, got %d", len(all))
	}
}

func TestGetAllIgnoresUnknownFields(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	raw := `{"id":"legacy-1","name":"Melting","someFutureField":42,"createdAt":"2025-01-02T03:04:05Z"}`
	if err := os.WriteFile(filepath.Join(s.BasePath(), "legacy-1.json"), []byte(raw), 0o644); err != nil {
		t.Fatalf("write legacy record: %v", err)
	}

	all, err := s.GetAll(ctx)
	if err != nil {
		t.Fatalf("GetAll error: %v", err)
	}
	if len(all) != 1 || all[0].ID != "legacy-1" {
		t.Fatalf("legacy record not loaded: %+v", all)
	}
	if all[0].IsFinished() {
		t.Fatal("missing isFinished must default to pending")
	}
}

func TestPruneUnfinished(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.Put(ctx, domain.GenerationJob{ServerJobID: "gen-1", Finished: domain.Bool(false)}); err != nil {
		t.Fatalf("Put error: %v", err)
	}
	if _, err := s.Put(ctx, domain.GenerationJob{ServerJobID: "gen-2", Finished: domain.Bool(false)}); err != nil {
		t.Fatalf("Put error: %v", err)
	}
	if _, err := s.Complete(ctx, "gen-2", "https://x/y.mp4"); err != nil {
		t.Fatalf("Complete error: %v", err)
	}

	pruned, err := s.PruneUnfinished(ctx)
	if err != nil {
		t.Fatalf("PruneUnfinished error: %v", err)
	}
	if pruned != 1 {
		t.Fatalf("expected 1 pruned record, got %d", pruned)
	}

	all, err := s.GetAll(ctx)
	if err != nil {
		t.Fatalf("GetAll error: %v", err)
	}
	if len(all) != 1 || all[0].ServerJobID != "gen-2" {
		t.Fatalf("expected only the finished record to survive: %+v", all)
	}
}
