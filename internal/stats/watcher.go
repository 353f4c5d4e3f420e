package stats

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"
	"marketstats.shikanime.studio/internal/metrics"
)

// Watcher keeps the local catalog and install history in sync with the
// marketplace. Only one crawl, addition or refresh runs at a time.
type Watcher struct {
	store      Store
	gw         Gateway
	publishers []string
	readOnly   bool
	now        func() time.Time
	fetchLimit int

	mu sync.Mutex
}

// WatcherOptions configures a Watcher.
type WatcherOptions struct {
	publishers []string
	readOnly   bool
	now        func() time.Time
	fetchLimit int
}

// WatcherOption applies a configuration to WatcherOptions.
type WatcherOption func(*WatcherOptions)

// WithPublishers sets the publishers whose catalogs are crawled.
func WithPublishers(publishers ...string) WatcherOption {
	return func(o *WatcherOptions) { o.publishers = append(o.publishers, publishers...) }
}

// WithReadOnly disables every write of scheduled crawl cycles.
func WithReadOnly(readOnly bool) WatcherOption {
	return func(o *WatcherOptions) { o.readOnly = readOnly }
}

// WithClock overrides the time source used to stamp observations.
func WithClock(now func() time.Time) WatcherOption {
	return func(o *WatcherOptions) { o.now = now }
}

// WithFetchConcurrency bounds the number of catalogs fetched in parallel.
func WithFetchConcurrency(n int) WatcherOption {
	return func(o *WatcherOptions) { o.fetchLimit = n }
}

// NewWatcher constructs a Watcher over store and gw.
func NewWatcher(store Store, gw Gateway, opts ...WatcherOption) *Watcher {
	o := WatcherOptions{now: time.Now, fetchLimit: 4}
	for _, opt := range opts {
		opt(&o)
	}
	publishers := slices.Clone(o.publishers)
	slices.Sort(publishers)
	publishers = slices.Compact(publishers)
	if len(publishers) == 0 {
		slog.Warn("No watched publishers configured; crawls only refresh known extensions")
	}
	return &Watcher{
		store:      store,
		gw:         gw,
		publishers: publishers,
		readOnly:   o.readOnly,
		now:        o.now,
		fetchLimit: max(o.fetchLimit, 1),
	}
}

// CrawlResult summarizes a crawl cycle.
type CrawlResult struct {
	Skipped bool
	Catalog CatalogResult
	// PublisherFailures counts publishers whose catalog could not be fetched or reconciled.
	PublisherFailures int
	// Recorded counts extensions whose install history was updated.
	Recorded int
	// Missing counts active extensions the marketplace no longer reports.
	Missing int
	// Failed counts extensions whose install history could not be updated.
	Failed int
}

// RunCrawlCycle reconciles the catalogs of the watched publishers, then the
// install history of every active extension. In read-only mode the cycle is
// skipped.
func (w *Watcher) RunCrawlCycle(ctx context.Context) (CrawlResult, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.crawl(ctx)
}

// Refresh drops every cached marketplace response and runs a crawl cycle.
func (w *Watcher) Refresh(ctx context.Context) (CrawlResult, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.gw.Invalidate()
	slog.InfoContext(ctx, "Marketplace cache invalidated, refreshing")
	return w.crawl(ctx)
}

func (w *Watcher) crawl(ctx context.Context) (CrawlResult, error) {
	if w.readOnly {
		slog.InfoContext(ctx, "Database is read-only, skipping updates")
		metrics.CrawlCycles.WithLabelValues("skipped").Inc()
		return CrawlResult{Skipped: true}, nil
	}
	tracer := otel.Tracer("marketstats/stats")
	ctx, span := tracer.Start(ctx, "Watcher.crawl")
	span.SetAttributes(attribute.Int("publishers_len", len(w.publishers)))
	defer span.End()

	start := time.Now()
	var res CrawlResult
	catalogs := w.fetchCatalogs(ctx)
	for i, publisher := range w.publishers {
		fetched := catalogs[i]
		if fetched == nil {
			res.PublisherFailures++
			continue
		}
		if len(fetched) == 0 {
			slog.InfoContext(ctx, "Publisher has no extensions", "publisher", publisher)
			continue
		}
		existing, err := w.store.ListExtensions(ctx)
		if err != nil {
			slog.WarnContext(ctx, "Failed to list extensions", "publisher", publisher, "error", err)
			res.PublisherFailures++
			continue
		}
		slog.InfoContext(ctx, "Adding/updating extensions", "publisher", publisher, "count", len(fetched))
		res.Catalog.add(ReconcileCatalog(ctx, w.store, existing, fetched))
	}

	if err := w.updateAllInstalls(ctx, &res); err != nil {
		metrics.CrawlCycles.WithLabelValues("failed").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return res, err
	}
	elapsed := time.Since(start)
	metrics.CrawlCycles.WithLabelValues("completed").Inc()
	metrics.CrawlDuration.Observe(elapsed.Seconds())
	slog.InfoContext(
		ctx,
		"Crawl cycle completed",
		"created", res.Catalog.Created,
		"updated", res.Catalog.Updated,
		"recorded", res.Recorded,
		"missing", res.Missing,
		"failed", res.Failed+res.Catalog.Failed+res.PublisherFailures,
		"duration", elapsed,
	)
	return res, nil
}

// fetchCatalogs fetches every watched publisher catalog concurrently. The
// result is indexed like w.publishers; a nil entry marks a failed fetch.
func (w *Watcher) fetchCatalogs(ctx context.Context) [][]*Extension {
	out := make([][]*Extension, len(w.publishers))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.fetchLimit)
	for i, publisher := range w.publishers {
		g.Go(func() error {
			docs, err := w.gw.PublisherCatalog(gctx, publisher)
			if err != nil {
				slog.WarnContext(ctx, "Failed to fetch publisher catalog", "publisher", publisher, "error", err)
				return nil
			}
			out[i] = ExtensionsFromDocuments(docs)
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func (w *Watcher) updateAllInstalls(ctx context.Context, res *CrawlResult) error {
	slog.InfoContext(ctx, "Updating installs")
	active, err := w.store.FindActiveExtensions(ctx)
	if err != nil {
		return fmt.Errorf("failed to list active extensions: %w", err)
	}
	for _, ext := range active {
		if err := ctx.Err(); err != nil {
			return err
		}
		_, err := w.updateInstalls(ctx, ext)
		switch {
		case errors.Is(err, ErrNotFound):
			slog.DebugContext(ctx, "Extension not found on the marketplace, skipping", "extension", ext.Name)
			res.Missing++
		case err != nil:
			slog.WarnContext(ctx, "Failed to update installs", "extension", ext.Name, "error", err)
			res.Failed++
		default:
			res.Recorded++
		}
	}
	return nil
}

func (w *Watcher) updateInstalls(ctx context.Context, ext *Extension) (*ExtensionInstall, error) {
	doc, err := w.gw.ExtensionDocument(ctx, ext.Name)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch statistics for %s: %w", ext.Name, err)
	}
	if doc == nil {
		metrics.InstallRecords.WithLabelValues("missing").Inc()
		return nil, fmt.Errorf("%s: %w", ext.Name, ErrNotFound)
	}
	slog.DebugContext(ctx, "Updating installs", "extension", ext.Name)
	return ReconcileInstalls(ctx, w.store, ext, ObserveStatistics(doc), w.now())
}

// AddExtension starts tracking the extension identified by
// "publisher.extensionName" and records its first install statistics.
// It returns ErrExtensionExists when the extension is already tracked and
// ErrNotFound when the marketplace does not know it. Read-only mode does not
// apply.
func (w *Watcher) AddExtension(ctx context.Context, id string) (*Extension, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	tracer := otel.Tracer("marketstats/stats")
	ctx, span := tracer.Start(ctx, "Watcher.AddExtension")
	span.SetAttributes(attribute.String("extension", id))
	defer span.End()

	ext, err := w.addExtension(ctx, id)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return ext, nil
}

func (w *Watcher) addExtension(ctx context.Context, id string) (*Extension, error) {
	existing, err := w.store.FindExtensionByName(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to look up %s: %w", id, err)
	}
	if existing != nil {
		return nil, fmt.Errorf("%s: %w", id, ErrExtensionExists)
	}
	doc, err := w.gw.ExtensionDocument(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", id, err)
	}
	if doc == nil {
		return nil, fmt.Errorf("%s was not found on the Marketplace: %w", id, ErrNotFound)
	}
	ext := ExtensionFromDocument(doc)
	// The extension and its first install record commit together.
	err = w.store.InTx(ctx, func(tx Store) error {
		if err := tx.SaveExtension(ctx, ext); err != nil {
			return fmt.Errorf("failed to add %s: %w", ext.Name, err)
		}
		_, err := ReconcileInstalls(ctx, tx, ext, ObserveStatistics(doc), w.now())
		return err
	})
	if err != nil {
		ext.ID = 0
		return nil, err
	}
	slog.InfoContext(ctx, "Extension added", "extension", ext.Name)
	return ext, nil
}

// RefreshExtension re-fetches the statistics of one tracked extension,
// bypassing the cached catalog of its publisher. Read-only mode does not apply.
func (w *Watcher) RefreshExtension(ctx context.Context, id string) (*ExtensionInstall, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	ext, err := w.store.FindExtensionByName(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to look up %s: %w", id, err)
	}
	if ext == nil {
		return nil, fmt.Errorf("unknown extension %s: %w", id, ErrNotFound)
	}
	if publisher, _, ok := strings.Cut(ext.Name, "."); ok {
		w.gw.Invalidate(publisher)
	}
	return w.updateInstalls(ctx, ext)
}

// ReadOnly reports whether scheduled crawls skip every write.
func (w *Watcher) ReadOnly() bool { return w.readOnly }

// Publishers returns the watched publishers.
func (w *Watcher) Publishers() []string { return slices.Clone(w.publishers) }
