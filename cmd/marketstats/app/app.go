package app

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"
	"marketstats.shikanime.studio/internal/config"
	"marketstats.shikanime.studio/internal/database"
	mshttp "marketstats.shikanime.studio/internal/http"
	"marketstats.shikanime.studio/internal/marketplace"
	"marketstats.shikanime.studio/internal/stats"
)

// App wires the store, the marketplace client and the watcher.
type App struct {
	cfg     *config.Config
	db      *database.Database
	gw      *marketplace.Client
	watcher *stats.Watcher
}

// NewForConfig connects to the database and builds every component from cfg.
func NewForConfig(ctx context.Context, cfg *config.Config) (*App, error) {
	db, err := database.NewForConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	gw := marketplace.NewClientForConfig(cfg)
	w := stats.NewWatcher(
		db,
		gw,
		stats.WithPublishers(cfg.GetWatchedPublishers()...),
		stats.WithReadOnly(cfg.IsReadOnly()),
	)
	slog.Info(
		"marketstats configured",
		"publishers", w.Publishers(),
		"read_only", w.ReadOnly(),
		"schedule", cfg.GetCrawlSchedule(),
	)
	return &App{cfg: cfg, db: db, gw: gw, watcher: w}, nil
}

// Watcher returns the crawl orchestrator.
func (a *App) Watcher() *stats.Watcher { return a.watcher }

// Close releases the database pool.
func (a *App) Close() error { return a.db.Close() }

// Serve runs the HTTP server and the crawl scheduler until ctx is cancelled.
func (a *App) Serve(ctx context.Context, addr string) error {
	if err := a.db.Ping(ctx); err != nil {
		return err
	}
	sched, err := stats.NewScheduler(a.watcher, a.cfg.GetCrawlSchedule())
	if err != nil {
		return err
	}
	srv := mshttp.NewServer(
		a.watcher,
		a.db,
		a.gw,
		mshttp.WithAdminToken(a.cfg.GetAdminToken()),
		mshttp.WithPinger(a.db),
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.ListenAndServe(gctx, addr) })
	g.Go(func() error { return sched.Run(gctx) })
	return g.Wait()
}
