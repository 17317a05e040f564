// Package pixverse composes the generation library behind one constructor:
// configuration, logging, the remote service client, job storage, the
// polling engine and the template cache. Applications import this package
// only; everything else lives under internal.
package pixverse

import (
	"context"
	"net/http"
	"path/filepath"

	"github.com/jackc/pgx/v5/pgxpool"

	"pixverse/internal/domain"
	"pixverse/internal/engine"
	"pixverse/internal/infra"
	"pixverse/internal/media"
	remote "pixverse/internal/pixverse"
	"pixverse/internal/store"
	"pixverse/internal/templates"
)

// Re-exported types so callers never reach into internal packages.
type (
	GenerationJob    = domain.GenerationJob
	Template         = domain.Template
	TemplateCategory = domain.TemplateCategory
	Event            = engine.Event
	SubmitRequest    = engine.SubmitRequest
)

// Event types delivered on Engine.Events.
const (
	EventSubmitted = engine.EventSubmitted
	EventFinished  = engine.EventFinished
	EventFailed    = engine.EventFailed
	EventStalled   = engine.EventStalled
)

// Options selects the pieces the environment cannot decide.
type Options struct {
	// UserID identifies the submitting user on generation requests.
	UserID string
	// UsePostgres keeps job records in Postgres (DATABASE_URL) instead of
	// file-per-record under the cache directory.
	UsePostgres bool
}

// App is the composed library. Fields are exported for read access; mutate
// jobs only through Engine.
type App struct {
	Config    *infra.Config
	Logger    infra.Logger
	Client    *remote.Client
	Store     store.Store
	Engine    *engine.Engine
	Templates *templates.Cache

	pool *pgxpool.Pool
}

// New loads configuration from the environment and wires the library. Call
// Engine.Recover to resume jobs left pending by a previous process, and
// Close when done.
func New(ctx context.Context, opts Options) (*App, error) {
	cfg, err := infra.LoadConfig()
	if err != nil {
		return nil, err
	}
	logger := infra.NewLogger(cfg.AppEnv)

	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}
	client, err := remote.NewClient(remote.Options{
		BaseURL:    cfg.APIBaseURL,
		APIToken:   cfg.APIToken,
		AppID:      cfg.AppID,
		HTTPClient: httpClient,
		Logger:     &logger,
	})
	if err != nil {
		return nil, err
	}

	app := &App{Config: cfg, Logger: logger, Client: client}

	if opts.UsePostgres {
		pool, err := infra.NewDBPool(ctx, cfg)
		if err != nil {
			return nil, err
		}
		app.pool = pool
		app.Store = store.NewPostgresStore(infra.NewSQLRunner(pool, logger), logger)
	} else {
		fs, err := store.NewFileStore(filepath.Join(cfg.CachePath, "jobs"), logger)
		if err != nil {
			return nil, err
		}
		app.Store = fs
	}

	downloader := media.NewDownloader(httpClient, logger)
	cache, err := templates.NewCache(filepath.Join(cfg.CachePath, "templates"), downloader, logger)
	if err != nil {
		app.closePool()
		return nil, err
	}
	app.Templates = cache

	credits, err := engine.NewCreditLedger(filepath.Join(cfg.CachePath, "credits.json"))
	if err != nil {
		app.closePool()
		return nil, err
	}
	eng, err := engine.New(engine.Options{
		Store:        app.Store,
		Client:       client,
		Credits:      credits,
		Logger:       logger,
		UserID:       opts.UserID,
		PollInterval: cfg.PollInterval,
		MaxActive:    cfg.MaxActiveJobs,
	})
	if err != nil {
		app.closePool()
		return nil, err
	}
	app.Engine = eng

	return app, nil
}

// RefreshTemplates fetches the remote catalog and reconciles the local
// preview cache. On a fetch failure the last cached catalog is returned
// alongside the error.
func (a *App) RefreshTemplates(ctx context.Context) ([]TemplateCategory, error) {
	catalog, err := a.Client.FetchTemplates(ctx, a.Config.AppName)
	if err != nil {
		return a.Templates.LoadCached(), err
	}
	return a.Templates.Refresh(ctx, catalog), nil
}

// Close stops the engine and releases the database pool when one was opened.
func (a *App) Close() {
	a.Engine.Close()
	a.closePool()
}

func (a *App) closePool() {
	if a.pool != nil {
		a.pool.Close()
	}
}
