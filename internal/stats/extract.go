package stats

import (
	"k8s.io/utils/ptr"
	"marketstats.shikanime.studio/internal/marketplace"
)

// Marketplace statistic names.
const (
	StatInstall         = "install"
	StatUpdateCount     = "updateCount"
	StatOnpremDownloads = "onpremDownloads"
)

// ExtensionFromDocument converts a marketplace descriptor into an Extension.
// The icon is the first file of the first version, if any.
func ExtensionFromDocument(doc *marketplace.Extension) *Extension {
	var icon *string
	if len(doc.Versions) > 0 && len(doc.Versions[0].Files) > 0 {
		icon = ptr.To(doc.Versions[0].Files[0].Source)
	}
	return NewExtension(doc.Publisher.PublisherName+"."+doc.ExtensionName, doc.DisplayName, icon)
}

// ExtensionsFromDocuments converts every descriptor of a catalog.
func ExtensionsFromDocuments(docs []marketplace.Extension) []*Extension {
	out := make([]*Extension, 0, len(docs))
	for i := range docs {
		out = append(out, ExtensionFromDocument(&docs[i]))
	}
	return out
}

// Statistic returns the value of the first statistic called name, or 0.
func Statistic(stats []marketplace.Statistic, name string) int {
	v, _ := lookupStatistic(stats, name)
	return v
}

// OnpremDownloads returns the on-premises download count, or
// UnreportedDownloads when the marketplace does not report it.
func OnpremDownloads(stats []marketplace.Statistic) int {
	if v, ok := lookupStatistic(stats, StatOnpremDownloads); ok {
		return v
	}
	return UnreportedDownloads
}

func lookupStatistic(stats []marketplace.Statistic, name string) (int, bool) {
	for _, s := range stats {
		if s.StatisticName == name {
			return int(s.Value), true
		}
	}
	return 0, false
}

// Version returns the most recent version of doc, or UnknownVersion.
func Version(doc *marketplace.Extension) string {
	if len(doc.Versions) == 0 || doc.Versions[0].Version == "" {
		return UnknownVersion
	}
	return doc.Versions[0].Version
}

// Observation holds the counters read from one statistics document.
type Observation struct {
	Installs        int
	Updates         int
	OnpremDownloads int
	Version         string
}

// ObserveStatistics extracts the install counters and version of doc.
func ObserveStatistics(doc *marketplace.Extension) Observation {
	return Observation{
		Installs:        Statistic(doc.Statistics, StatInstall),
		Updates:         Statistic(doc.Statistics, StatUpdateCount),
		OnpremDownloads: OnpremDownloads(doc.Statistics),
		Version:         Version(doc),
	}
}

// Total returns installs plus updates, plus on-premises downloads when reported.
func (o Observation) Total() int {
	total := o.Installs + o.Updates
	if o.OnpremDownloads >= 0 {
		total += o.OnpremDownloads
	}
	return total
}
