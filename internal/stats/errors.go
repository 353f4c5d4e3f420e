package stats

import "errors"

var (
	// ErrNotFound is returned when an extension is unknown locally or upstream.
	ErrNotFound = errors.New("extension not found")
	// ErrExtensionExists is returned when adding an extension that is already tracked.
	ErrExtensionExists = errors.New("extension already exists")
)
