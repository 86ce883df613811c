package wms

import "net/url"

// MockCapabilities builds a clearly-labeled synthetic capability set so the
// layer UI can be exercised against an unreachable endpoint during
// development. Layer names carry the simulated_ prefix so no consumer can
// mistake them for real protocol data.
func MockCapabilities(baseURL string) *Capabilities {
	host := baseURL
	if u, err := url.Parse(baseURL); err == nil && u.Host != "" {
		host = u.Host
	}

	return &Capabilities{
		Version:          defaultVersion,
		ServiceTitle:     "Simulated WMS - " + host,
		ServiceAbstract:  "Simulated WMS service for local development",
		ServiceKeywords:  []string{"development", "simulated", "WMS"},
		GetMapURL:        baseURL,
		SupportedFormats: []string{"image/png", "image/jpeg", "image/gif"},
		SupportedCRS:     []string{"EPSG:4326", "EPSG:3857", "EPSG:4269"},
		Layers: []LayerInfo{
			{
				Name:         "simulated_base",
				Title:        "Simulated base layer",
				Abstract:     "Base layer for development and testing",
				Keywords:     []string{"base", "development"},
				SupportedCRS: []string{"EPSG:4326", "EPSG:3857"},
				Styles:       []Style{{Name: "default", Title: "Default style"}},
				Queryable:    true,
				BoundingBox:  &BoundingBox{MinX: -180, MinY: -90, MaxX: 180, MaxY: 90, CRS: "EPSG:4326"},
			},
			{
				Name:         "simulated_overlay",
				Title:        "Simulated overlay layer",
				Abstract:     "Overlay layer for development",
				Keywords:     []string{"overlay", "development"},
				SupportedCRS: []string{"EPSG:4326", "EPSG:3857"},
				Styles:       []Style{{Name: "default", Title: "Default style"}},
				Queryable:    true,
			},
		},
	}
}
