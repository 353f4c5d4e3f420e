package marketplace

import json "github.com/goccy/go-json"

// QueryResponse is the document returned by the gallery extensionquery endpoint.
type QueryResponse struct {
	Results []QueryResult `json:"results"`
}

type QueryResult struct {
	Extensions []Extension `json:"extensions"`
}

// Extension is a single extension descriptor as reported by the marketplace.
// Raw keeps the untouched upstream document so it can be proxied as-is.
type Extension struct {
	Publisher     Publisher   `json:"publisher"`
	ExtensionID   string      `json:"extensionId"`
	ExtensionName string      `json:"extensionName"`
	DisplayName   string      `json:"displayName"`
	Versions      []Version   `json:"versions"`
	Statistics    []Statistic `json:"statistics"`

	Raw json.RawMessage `json:"-"`
}

type Publisher struct {
	PublisherID   string `json:"publisherId"`
	PublisherName string `json:"publisherName"`
	DisplayName   string `json:"displayName"`
}

type Version struct {
	Version string `json:"version"`
	Files   []File `json:"files"`
}

type File struct {
	AssetType string `json:"assetType"`
	Source    string `json:"source"`
}

// Statistic values are reported as JSON numbers, sometimes fractional (ratings).
type Statistic struct {
	StatisticName string  `json:"statisticName"`
	Value         float64 `json:"value"`
}

// UnmarshalJSON decodes the descriptor and keeps a copy of the raw bytes.
func (e *Extension) UnmarshalJSON(data []byte) error {
	type plain Extension
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*e = Extension(p)
	e.Raw = append(json.RawMessage(nil), data...)
	return nil
}

// Extensions returns the extension descriptors of the first result block.
// An empty response yields an empty slice.
func (r *QueryResponse) Extensions() []Extension {
	if r == nil || len(r.Results) == 0 {
		return []Extension{}
	}
	return r.Results[0].Extensions
}

// FindExtension returns the descriptor whose extensionName matches name.
// A "publisher." prefix on name is ignored.
func FindExtension(name string, extensions []Extension) *Extension {
	if _, after, ok := cutPublisher(name); ok {
		name = after
	}
	for i := range extensions {
		if extensions[i].ExtensionName == name {
			return &extensions[i]
		}
	}
	return nil
}
