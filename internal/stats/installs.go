package stats

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"marketstats.shikanime.studio/internal/metrics"
)

// history is the prior install record state of an extension, as seen by the
// reconciler. Each variant decides which row receives the new observation and
// the baseline its delta is computed against.
type history interface {
	plan(obs Observation, now time.Time) (row *ExtensionInstall, delta int)
}

// noHistory: first observation ever.
type noHistory struct{}

// oneRecord: the lone prior row is kept and a new one is always appended.
type oneRecord struct{ latest *ExtensionInstall }

// twoOrMore compares against the second most recent row, and amends it when
// it holds the same version on the same day.
type twoOrMore struct{ latest, previous *ExtensionInstall }

func classifyHistory(rows []*ExtensionInstall) history {
	switch len(rows) {
	case 0:
		return noHistory{}
	case 1:
		return oneRecord{latest: rows[0]}
	default:
		return twoOrMore{latest: rows[0], previous: rows[1]}
	}
}

func (noHistory) plan(obs Observation, _ time.Time) (*ExtensionInstall, int) {
	return NewExtensionInstall(), obs.Total()
}

func (h oneRecord) plan(obs Observation, _ time.Time) (*ExtensionInstall, int) {
	return NewExtensionInstall(), obs.Total() - h.latest.TotalInstalls
}

func (h twoOrMore) plan(obs Observation, now time.Time) (*ExtensionInstall, int) {
	delta := obs.Total() - h.previous.TotalInstalls
	if h.previous.Version == obs.Version && sameDay(h.previous.Time, now) {
		return h.previous, delta
	}
	return NewExtensionInstall(), delta
}

// sameDay reports whether a and b fall on the same UTC calendar day.
func sameDay(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}

// applyObservation overwrites the counters of row. Version and extension are
// only set on fresh rows, and a missing on-premises count never erases a
// known one.
func applyObservation(row *ExtensionInstall, ext *Extension, obs Observation, delta int, now time.Time) {
	if row.Version == "" {
		row.Version = obs.Version
	}
	if row.ExtensionID == 0 {
		row.ExtensionID = ext.ID
	}
	row.Installs = obs.Installs
	row.Updates = obs.Updates
	row.TotalInstalls = obs.Total()
	row.Delta = delta
	row.Time = now
	if obs.OnpremDownloads >= 0 {
		row.OnpremDownloads = obs.OnpremDownloads
	}
}

// ReconcileInstalls records obs in the install history of ext, inside a
// transaction scoped to this extension.
func ReconcileInstalls(
	ctx context.Context,
	store Store,
	ext *Extension,
	obs Observation,
	now time.Time,
) (*ExtensionInstall, error) {
	tracer := otel.Tracer("marketstats/stats")
	ctx, span := tracer.Start(ctx, "ReconcileInstalls")
	span.SetAttributes(
		attribute.String("extension", ext.Name),
		attribute.String("version", obs.Version),
	)
	defer span.End()
	var out *ExtensionInstall
	var amended bool
	err := store.InTx(ctx, func(tx Store) error {
		prior, err := tx.LastTwoInstalls(ctx, ext)
		if err != nil {
			return fmt.Errorf("failed to load install history: %w", err)
		}
		row, delta := classifyHistory(prior).plan(obs, now)
		amended = row.ID != 0
		applyObservation(row, ext, obs, delta, now)
		if err := tx.SaveInstall(ctx, row); err != nil {
			return fmt.Errorf("failed to save install record: %w", err)
		}
		out = row
		return nil
	})
	if err != nil {
		metrics.InstallRecords.WithLabelValues("failed").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if amended {
		metrics.InstallRecords.WithLabelValues("amended").Inc()
	} else {
		metrics.InstallRecords.WithLabelValues("inserted").Inc()
	}
	slog.DebugContext(
		ctx,
		"Install record saved",
		"extension", ext.Name,
		"version", out.Version,
		"total_installs", out.TotalInstalls,
		"delta", out.Delta,
		"amended", amended,
	)
	return out, nil
}
