package pixverse

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
)

func newFakeService(t *testing.T) *httptest.Server {
	t.Helper()
	r := chi.NewRouter()
	r.Post("/generate", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"error":false,"messages":[],"data":{"generationId":"gen-1","totalWeekGenerations":1,"maxGenerations":10}}`))
	})
	r.Get("/generationStatus", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"error":false,"messages":[],"data":{"status":"finished","resultUrl":"https://x/y.mp4"}}`))
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func configureEnv(t *testing.T, baseURL, cachePath string) {
	t.Helper()
	t.Setenv("APP_ENV", "test")
	t.Setenv("PIXVERSE_API_TOKEN", "test-token")
	t.Setenv("PIXVERSE_BASE_URL", baseURL)
	t.Setenv("CACHE_PATH", cachePath)
	t.Setenv("POLL_INTERVAL_SECONDS", "1")
}

func TestNewRequiresToken(t *testing.T) {
	configureEnv(t, "http://localhost", t.TempDir())
	t.Setenv("PIXVERSE_API_TOKEN", "")

	if _, err := New(context.Background(), Options{}); err == nil {
		t.Fatal("expected config error without api token")
	}
}

func TestComposedSubmitFlow(t *testing.T) {
	srv := newFakeService(t)
	cachePath := t.TempDir()
	configureEnv(t, srv.URL, cachePath)

	app, err := New(context.Background(), Options{UserID: "user-1"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(app.Close)

	ctx := context.Background()
	if resumed, err := app.Engine.Recover(ctx); err != nil || resumed != 0 {
		t.Fatalf("Recover = %d, %v; want 0, nil", resumed, err)
	}

	img := filepath.Join(t.TempDir(), "photo.jpg")
	if err := os.WriteFile(img, []byte("jpeg"), 0o644); err != nil {
		t.Fatalf("write image: %v", err)
	}

	job, err := app.Engine.Submit(ctx, SubmitRequest{TemplateID: "42", Effect: "Melting", ImagePath: img})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if job.ServerJobID != "gen-1" {
		t.Fatalf("ServerJobID = %q, want gen-1", job.ServerJobID)
	}

	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev := <-app.Engine.Events():
			if ev.Type != EventFinished {
				continue
			}
			if !ev.Job.IsFinished() {
				t.Fatalf("finished event carries unfinished job: %+v", ev.Job)
			}
			rec, err := app.Store.GetByServerJobID(ctx, "gen-1")
			if err != nil {
				t.Fatalf("GetByServerJobID: %v", err)
			}
			if !rec.IsFinished() || rec.ResultURL == nil {
				t.Fatalf("terminal state not persisted: %+v", rec)
			}
			if _, err := os.Stat(filepath.Join(cachePath, "jobs", rec.ID+".json")); err != nil {
				t.Fatalf("record not under the configured cache path: %v", err)
			}
			return
		case <-deadline:
			t.Fatal("timed out waiting for the finished event")
		}
	}
}
