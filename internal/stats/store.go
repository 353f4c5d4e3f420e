package stats

import (
	"context"

	"marketstats.shikanime.studio/internal/marketplace"
)

// Store persists extensions and their install history.
type Store interface {
	// ListExtensions returns every known extension, active or not.
	ListExtensions(ctx context.Context) ([]*Extension, error)
	// FindExtensionByName returns nil when no extension has that name.
	FindExtensionByName(ctx context.Context, name string) (*Extension, error)
	// FindActiveExtensions returns active extensions ordered by id.
	FindActiveExtensions(ctx context.Context) ([]*Extension, error)
	// SaveExtension inserts e when it has no ID, updates it otherwise.
	SaveExtension(ctx context.Context, e *Extension) error
	// LastTwoInstalls returns at most two rows for ext, most recent first.
	LastTwoInstalls(ctx context.Context, ext *Extension) ([]*ExtensionInstall, error)
	// SaveInstall inserts r when it has no ID, updates it otherwise.
	SaveInstall(ctx context.Context, r *ExtensionInstall) error
	// InTx runs fn against a Store bound to a single transaction.
	InTx(ctx context.Context, fn func(Store) error) error
}

// Gateway fetches documents from the marketplace.
type Gateway interface {
	// PublisherCatalog returns an empty slice when the publisher has no extensions.
	PublisherCatalog(ctx context.Context, publisher string) ([]marketplace.Extension, error)
	// ExtensionDocument returns nil when the id is unknown upstream.
	ExtensionDocument(ctx context.Context, id string) (*marketplace.Extension, error)
	// Invalidate drops cached responses for publishers, or all when none is given.
	Invalidate(publishers ...string)
}

// Reader serves the read-only query surface.
type Reader interface {
	FindExtensionByName(ctx context.Context, name string) (*Extension, error)
	// ListActiveByPopularity orders active extensions by their highest recorded total installs.
	ListActiveByPopularity(ctx context.Context) ([]*PopularExtension, error)
	// ListInstalls returns the install history of ext, oldest first.
	ListInstalls(ctx context.Context, ext *Extension) ([]*ExtensionInstall, error)
}
