package stats

import (
	"time"

	"k8s.io/utils/ptr"
)

// UnreportedDownloads marks an observation without on-premises download data.
const UnreportedDownloads = -1

// UnknownVersion is recorded when the marketplace document carries no version.
const UnknownVersion = "unknown"

// Extension is a marketplace extension tracked locally.
type Extension struct {
	ID          int64
	Name        string
	DisplayName string
	Icon        *string
	Active      bool
}

// NewExtension returns an active extension.
func NewExtension(name, displayName string, icon *string) *Extension {
	return &Extension{Name: name, DisplayName: displayName, Icon: icon, Active: true}
}

// Changed reports whether the presentation fields of e and other differ.
func (e *Extension) Changed(other *Extension) bool {
	return e.DisplayName != other.DisplayName || !ptr.Equal(e.Icon, other.Icon)
}

func (e *Extension) String() string { return e.Name }

// ExtensionInstall is one install statistics observation of an extension version.
type ExtensionInstall struct {
	ID              int64
	ExtensionID     int64
	Version         string
	Installs        int
	Updates         int
	TotalInstalls   int
	Delta           int
	OnpremDownloads int
	Time            time.Time
}

// NewExtensionInstall returns an unsaved observation with no on-premises data.
func NewExtensionInstall() *ExtensionInstall {
	return &ExtensionInstall{OnpremDownloads: UnreportedDownloads}
}

// PopularExtension pairs an active extension with its highest recorded total install count.
type PopularExtension struct {
	Extension     *Extension
	TotalInstalls *int
}
