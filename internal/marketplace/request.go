package marketplace

import "strings"

// Filter types understood by the gallery query endpoint.
const (
	filterTarget        = 8
	filterExcludeFlags  = 12
	filterPublisherName = 18
)

const (
	sortByInstallCount = 4
	pageSize           = 200
	queryFlags         = 866
	iconAssetType      = "Microsoft.VisualStudio.Services.Icons.Default"
	excludeFlagsValue  = "37889"
)

var installationTargets = []string{
	"Microsoft.VisualStudio.Code",
	"Microsoft.VisualStudio.Services",
	"Microsoft.VisualStudio.Services.Cloud",
	"Microsoft.VisualStudio.Services.Integration",
	"Microsoft.VisualStudio.Services.Cloud.Integration",
	"Microsoft.VisualStudio.Services.Resource.Cloud",
	"Microsoft.TeamFoundation.Server",
	"Microsoft.TeamFoundation.Server.Integration",
}

type queryRequest struct {
	Filters    []queryFilter `json:"filters"`
	AssetTypes []string      `json:"assetTypes"`
	Flags      int           `json:"flags"`
}

type queryFilter struct {
	Criteria   []criterion `json:"criteria"`
	SortBy     int         `json:"sortBy"`
	PageSize   int         `json:"pageSize"`
	PageNumber int         `json:"pageNumber"`
}

type criterion struct {
	FilterType int    `json:"filterType"`
	Value      string `json:"value"`
}

// newPublisherQuery builds the request listing every extension of a publisher.
func newPublisherQuery(publisher string) queryRequest {
	criteria := make([]criterion, 0, len(installationTargets)+2)
	criteria = append(criteria, criterion{FilterType: filterPublisherName, Value: publisher})
	for _, target := range installationTargets {
		criteria = append(criteria, criterion{FilterType: filterTarget, Value: target})
	}
	criteria = append(criteria, criterion{FilterType: filterExcludeFlags, Value: excludeFlagsValue})
	return queryRequest{
		Filters: []queryFilter{{
			Criteria:   criteria,
			SortBy:     sortByInstallCount,
			PageSize:   pageSize,
			PageNumber: 1,
		}},
		AssetTypes: []string{iconAssetType},
		Flags:      queryFlags,
	}
}

// cutPublisher splits "publisher.extension" at the first dot.
func cutPublisher(id string) (publisher, extension string, ok bool) {
	publisher, extension, ok = strings.Cut(id, ".")
	if !ok || publisher == "" || extension == "" {
		return "", "", false
	}
	return publisher, extension, true
}
