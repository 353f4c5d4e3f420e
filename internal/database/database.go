package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"marketstats.shikanime.studio/internal/config"
	dbpgx "marketstats.shikanime.studio/internal/database/pgx"
	"marketstats.shikanime.studio/internal/stats"
)

// querier is satisfied by both the pool and a transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Database is the PostgreSQL implementation of stats.Store and stats.Reader.
type Database struct {
	pg *pgxpool.Pool
	q  querier
	tx pgx.Tx
}

var (
	_ stats.Store  = (*Database)(nil)
	_ stats.Reader = (*Database)(nil)
)

// NewForConfig constructs a Database using the provided config.
func NewForConfig(ctx context.Context, cfg *config.Config) (*Database, error) {
	pg, err := dbpgx.NewClientForConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return NewClient(pg), nil
}

// NewClient constructs a Database using the provided pgx pool.
func NewClient(pg *pgxpool.Pool) *Database {
	if pg == nil {
		return &Database{}
	}
	return &Database{pg: pg, q: pg}
}

// Pool returns the underlying pgx pool.
func (db *Database) Pool() *pgxpool.Pool { return db.pg }

// Ping verifies the provided database connection is available
func (db *Database) Ping(ctx context.Context) error {
	tracer := otel.Tracer("marketstats/database")
	ctx, span := tracer.Start(ctx, "Database.Ping")
	defer span.End()
	if db.pg == nil {
		return fmt.Errorf("database connection not available")
	}
	return db.pg.Ping(ctx)
}

func (db *Database) Close() error {
	if db.pg == nil || db.tx != nil {
		return nil
	}
	db.pg.Close()
	return nil
}

func fail(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

func scanExtension(row pgx.CollectableRow) (*stats.Extension, error) {
	var e stats.Extension
	if err := row.Scan(&e.ID, &e.Name, &e.DisplayName, &e.Icon, &e.Active); err != nil {
		return nil, err
	}
	return &e, nil
}

func scanInstall(row pgx.CollectableRow) (*stats.ExtensionInstall, error) {
	var r stats.ExtensionInstall
	err := row.Scan(
		&r.ID,
		&r.ExtensionID,
		&r.Version,
		&r.Installs,
		&r.Updates,
		&r.TotalInstalls,
		&r.Delta,
		&r.OnpremDownloads,
		&r.Time,
	)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (db *Database) listExtensions(ctx context.Context, query string, args ...any) ([]*stats.Extension, error) {
	if db.q == nil {
		return nil, fmt.Errorf("database connection not available")
	}
	rows, err := db.q.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, scanExtension)
}

// ListExtensions returns every known extension ordered by id.
func (db *Database) ListExtensions(ctx context.Context) ([]*stats.Extension, error) {
	tracer := otel.Tracer("marketstats/database")
	ctx, span := tracer.Start(ctx, "Database.ListExtensions")
	defer span.End()
	out, err := db.listExtensions(ctx, ListExtensionsQuery)
	if err != nil {
		fail(span, err)
		return nil, fmt.Errorf("list extensions failed: %w", err)
	}
	span.SetAttributes(attribute.Int("extensions_len", len(out)))
	return out, nil
}

// FindActiveExtensions returns active extensions ordered by id.
func (db *Database) FindActiveExtensions(ctx context.Context) ([]*stats.Extension, error) {
	tracer := otel.Tracer("marketstats/database")
	ctx, span := tracer.Start(ctx, "Database.FindActiveExtensions")
	defer span.End()
	out, err := db.listExtensions(ctx, ActiveExtensionsQuery)
	if err != nil {
		fail(span, err)
		return nil, fmt.Errorf("list active extensions failed: %w", err)
	}
	span.SetAttributes(attribute.Int("extensions_len", len(out)))
	return out, nil
}

// FindExtensionByName returns nil when no extension has that name.
func (db *Database) FindExtensionByName(ctx context.Context, name string) (*stats.Extension, error) {
	tracer := otel.Tracer("marketstats/database")
	ctx, span := tracer.Start(ctx, "Database.FindExtensionByName")
	span.SetAttributes(attribute.String("name", name))
	defer span.End()
	if db.q == nil {
		return nil, fmt.Errorf("database connection not available")
	}
	rows, err := db.q.Query(ctx, ExtensionByNameQuery, name)
	if err != nil {
		fail(span, err)
		return nil, fmt.Errorf("find extension failed: %w", err)
	}
	ext, err := pgx.CollectOneRow(rows, scanExtension)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		fail(span, err)
		return nil, fmt.Errorf("find extension failed: %w", err)
	}
	return ext, nil
}

// SaveExtension inserts e when it has no ID and fills it, updates it otherwise.
func (db *Database) SaveExtension(ctx context.Context, e *stats.Extension) error {
	tracer := otel.Tracer("marketstats/database")
	ctx, span := tracer.Start(ctx, "Database.SaveExtension")
	span.SetAttributes(attribute.String("name", e.Name), attribute.Bool("insert", e.ID == 0))
	defer span.End()
	if db.q == nil {
		return fmt.Errorf("database connection not available")
	}
	if e.ID == 0 {
		var id int64
		err := db.q.QueryRow(ctx, InsertExtensionQuery, e.Name, e.DisplayName, e.Icon, e.Active).Scan(&id)
		if err != nil {
			fail(span, err)
			return fmt.Errorf("insert extension failed: %w", err)
		}
		e.ID = id
		slog.DebugContext(ctx, "extension inserted", "name", e.Name, "id", id)
		return nil
	}
	tag, err := db.q.Exec(ctx, UpdateExtensionQuery, e.ID, e.DisplayName, e.Icon, e.Active)
	if err != nil {
		fail(span, err)
		return fmt.Errorf("update extension failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		err := fmt.Errorf("update extension %d: %w", e.ID, stats.ErrNotFound)
		fail(span, err)
		return err
	}
	return nil
}

// LastTwoInstalls returns at most two rows for ext, most recent first. Inside
// a transaction the extension row stays locked until commit.
func (db *Database) LastTwoInstalls(ctx context.Context, ext *stats.Extension) ([]*stats.ExtensionInstall, error) {
	tracer := otel.Tracer("marketstats/database")
	ctx, span := tracer.Start(ctx, "Database.LastTwoInstalls")
	span.SetAttributes(attribute.Int64("extension_id", ext.ID))
	defer span.End()
	if db.q == nil {
		return nil, fmt.Errorf("database connection not available")
	}
	if db.tx != nil {
		var id int64
		if err := db.q.QueryRow(ctx, LockExtensionQuery, ext.ID).Scan(&id); err != nil {
			fail(span, err)
			return nil, fmt.Errorf("lock extension failed: %w", err)
		}
	}
	rows, err := db.q.Query(ctx, LastTwoInstallsQuery, ext.ID)
	if err != nil {
		fail(span, err)
		return nil, fmt.Errorf("query installs failed: %w", err)
	}
	out, err := pgx.CollectRows(rows, scanInstall)
	if err != nil {
		fail(span, err)
		return nil, fmt.Errorf("query installs failed: %w", err)
	}
	return out, nil
}

// SaveInstall inserts r when it has no ID and fills it, updates it otherwise.
func (db *Database) SaveInstall(ctx context.Context, r *stats.ExtensionInstall) error {
	tracer := otel.Tracer("marketstats/database")
	ctx, span := tracer.Start(ctx, "Database.SaveInstall")
	span.SetAttributes(
		attribute.Int64("extension_id", r.ExtensionID),
		attribute.String("version", r.Version),
		attribute.Bool("insert", r.ID == 0),
	)
	defer span.End()
	if db.q == nil {
		return fmt.Errorf("database connection not available")
	}
	if r.ID == 0 {
		var id int64
		err := db.q.QueryRow(
			ctx,
			InsertInstallQuery,
			r.ExtensionID,
			r.Version,
			r.Installs,
			r.Updates,
			r.TotalInstalls,
			r.Delta,
			r.OnpremDownloads,
			r.Time,
		).Scan(&id)
		if err != nil {
			fail(span, err)
			return fmt.Errorf("insert install failed: %w", err)
		}
		r.ID = id
		return nil
	}
	_, err := db.q.Exec(
		ctx,
		UpdateInstallQuery,
		r.ID,
		r.Version,
		r.Installs,
		r.Updates,
		r.TotalInstalls,
		r.Delta,
		r.OnpremDownloads,
		r.Time,
	)
	if err != nil {
		fail(span, err)
		return fmt.Errorf("update install failed: %w", err)
	}
	return nil
}

// InTx runs fn against a Database bound to a single transaction. Nested
// calls reuse the enclosing transaction.
func (db *Database) InTx(ctx context.Context, fn func(stats.Store) error) error {
	if db.tx != nil {
		return fn(db)
	}
	if db.pg == nil {
		return fmt.Errorf("database connection not available")
	}
	tracer := otel.Tracer("marketstats/database")
	ctx, span := tracer.Start(ctx, "Database.InTx")
	defer span.End()
	err := pgx.BeginFunc(ctx, db.pg, func(tx pgx.Tx) error {
		return fn(&Database{pg: db.pg, q: tx, tx: tx})
	})
	if err != nil {
		fail(span, err)
		return err
	}
	return nil
}

// ListActiveByPopularity returns active extensions ordered by the highest
// total installs ever recorded, extensions without history last.
func (db *Database) ListActiveByPopularity(ctx context.Context) ([]*stats.PopularExtension, error) {
	tracer := otel.Tracer("marketstats/database")
	ctx, span := tracer.Start(ctx, "Database.ListActiveByPopularity")
	defer span.End()
	if db.q == nil {
		return nil, fmt.Errorf("database connection not available")
	}
	rows, err := db.q.Query(ctx, ActiveByPopularityQuery)
	if err != nil {
		fail(span, err)
		return nil, fmt.Errorf("list popular extensions failed: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*stats.PopularExtension, error) {
		var e stats.Extension
		var total *int
		if err := row.Scan(&e.ID, &e.Name, &e.DisplayName, &e.Icon, &e.Active, &total); err != nil {
			return nil, err
		}
		return &stats.PopularExtension{Extension: &e, TotalInstalls: total}, nil
	})
	if err != nil {
		fail(span, err)
		return nil, fmt.Errorf("list popular extensions failed: %w", err)
	}
	slog.DebugContext(ctx, "popular extensions listed", "count", len(out))
	return out, nil
}

// ListInstalls returns the install history of ext, oldest first.
func (db *Database) ListInstalls(ctx context.Context, ext *stats.Extension) ([]*stats.ExtensionInstall, error) {
	tracer := otel.Tracer("marketstats/database")
	ctx, span := tracer.Start(ctx, "Database.ListInstalls")
	span.SetAttributes(attribute.String("name", ext.Name))
	defer span.End()
	if db.q == nil {
		return nil, fmt.Errorf("database connection not available")
	}
	rows, err := db.q.Query(ctx, ListInstallsQuery, ext.ID)
	if err != nil {
		fail(span, err)
		return nil, fmt.Errorf("list installs failed: %w", err)
	}
	out, err := pgx.CollectRows(rows, scanInstall)
	if err != nil {
		fail(span, err)
		return nil, fmt.Errorf("list installs failed: %w", err)
	}
	return out, nil
}
