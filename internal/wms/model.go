// Package wms fetches and parses WMS GetCapabilities documents.
package wms

// Capabilities is the parsed snapshot of one WMS endpoint. It is immutable
// once parsed and regenerated on every fetch; nothing in this package caches
// it.
type Capabilities struct {
	Version             string      `json:"version"`
	ServiceTitle        string      `json:"serviceTitle"`
	ServiceAbstract     string      `json:"serviceAbstract"`
	ServiceKeywords     []string    `json:"serviceKeywords"`
	Layers              []LayerInfo `json:"layers"`
	LayersWithHierarchy []LayerInfo `json:"layersWithHierarchy,omitempty"`
	GetMapURL           string      `json:"getMapUrl"`
	SupportedFormats    []string    `json:"supportedFormats"`
	SupportedCRS        []string    `json:"supportedCrs"`
}

// LayerInfo is one layer as advertised by the server. Entries in the flat
// Layers list are always renderable (non-empty Name from the document);
// entries in LayersWithHierarchy may also be containers, which carry a
// synthesized name, no styles and Queryable=false.
type LayerInfo struct {
	Name         string       `json:"name"`
	Title        string       `json:"title"`
	Abstract     string       `json:"abstract,omitempty"`
	Keywords     []string     `json:"keywords"`
	BoundingBox  *BoundingBox `json:"boundingBox,omitempty"`
	SupportedCRS []string     `json:"supportedCrs"`
	Styles       []Style      `json:"styles"`
	Queryable    bool         `json:"queryable"`
	Dimensions   []Dimension  `json:"dimensions,omitempty"`
	Container    bool         `json:"container,omitempty"`
}

// FirstStyleName returns the first declared style name, or "default".
func (l LayerInfo) FirstStyleName() string {
	if len(l.Styles) > 0 && l.Styles[0].Name != "" {
		return l.Styles[0].Name
	}
	return "default"
}

type BoundingBox struct {
	MinX float64 `json:"minx"`
	MinY float64 `json:"miny"`
	MaxX float64 `json:"maxx"`
	MaxY float64 `json:"maxy"`
	CRS  string  `json:"crs"`
}

type Style struct {
	Name      string `json:"name"`
	Title     string `json:"title"`
	Abstract  string `json:"abstract,omitempty"`
	LegendURL string `json:"legendUrl,omitempty"`
}

// Dimension is an extra layer axis such as time or elevation.
type Dimension struct {
	Name    string `json:"name"`
	Units   string `json:"units"`
	Values  string `json:"values"`
	Default string `json:"default,omitempty"`
}

// Validation is the result of validating one service's capabilities. Errors
// are hard failures; Capabilities is only set when Valid is true.
type Validation struct {
	Valid        bool          `json:"isValid"`
	Errors       []string      `json:"errors"`
	Warnings     []string      `json:"warnings"`
	Capabilities *Capabilities `json:"capabilities,omitempty"`
}
