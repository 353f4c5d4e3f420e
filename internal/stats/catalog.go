package stats

import (
	"context"
	"log/slog"

	"marketstats.shikanime.studio/internal/metrics"
)

// CatalogResult summarizes one catalog reconciliation.
type CatalogResult struct {
	Created   int
	Updated   int
	Unchanged int
	Failed    int
}

func (r *CatalogResult) add(o CatalogResult) {
	r.Created += o.Created
	r.Updated += o.Updated
	r.Unchanged += o.Unchanged
	r.Failed += o.Failed
}

// ReconcileCatalog merges fetched extensions into the known ones.
// Unknown names are created, changed display names or icons are updated,
// and extensions missing from fetched are left untouched. A failed write is
// logged and does not stop the remaining extensions.
func ReconcileCatalog(ctx context.Context, store Store, existing, fetched []*Extension) CatalogResult {
	byName := make(map[string]*Extension, len(existing))
	for _, e := range existing {
		byName[e.Name] = e
	}
	var res CatalogResult
	for _, ext := range fetched {
		old, ok := byName[ext.Name]
		if !ok {
			slog.InfoContext(ctx, "Extension is new, adding", "extension", ext.Name)
			if err := store.SaveExtension(ctx, ext); err != nil {
				slog.WarnContext(ctx, "Failed to add extension", "extension", ext.Name, "error", err)
				res.Failed++
				continue
			}
			byName[ext.Name] = ext
			res.Created++
			continue
		}
		if !old.Changed(ext) {
			res.Unchanged++
			continue
		}
		slog.InfoContext(ctx, "Extension changed, updating", "extension", ext.Name)
		prevName, prevIcon := old.DisplayName, old.Icon
		old.DisplayName = ext.DisplayName
		old.Icon = ext.Icon
		if err := store.SaveExtension(ctx, old); err != nil {
			old.DisplayName, old.Icon = prevName, prevIcon
			slog.WarnContext(ctx, "Failed to update extension", "extension", ext.Name, "error", err)
			res.Failed++
			continue
		}
		res.Updated++
	}
	metrics.ExtensionsReconciled.WithLabelValues("created").Add(float64(res.Created))
	metrics.ExtensionsReconciled.WithLabelValues("updated").Add(float64(res.Updated))
	metrics.ExtensionsReconciled.WithLabelValues("unchanged").Add(float64(res.Unchanged))
	metrics.ExtensionsReconciled.WithLabelValues("failed").Add(float64(res.Failed))
	return res
}
