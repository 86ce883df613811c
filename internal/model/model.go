// Package model holds the domain types shared by the reconciler, registry
// and compositor.
package model

import (
	"fmt"

	"github.com/metatierrascol/wms-compositor/internal/wms"
)

// BackendRef is the persisted side of an enriched layer. Absent (nil) until
// a durable record exists for the layer; enrichment never fakes one.
type BackendRef struct {
	LayerID int64   `json:"layerId"`
	Visible bool    `json:"visible"`
	Opacity float64 `json:"opacity"`
	ZIndex  int     `json:"zIndex"`
}

// EnrichedLayer joins protocol truth (geometry, CRS, styles) with the
// backend's operational record. Geometry always comes from the capability
// document, never from persistence.
type EnrichedLayer struct {
	wms.LayerInfo

	ServiceID   int64       `json:"serviceId"`
	ServiceURL  string      `json:"serviceUrl"`
	ServiceName string      `json:"serviceName"`
	Backend     *BackendRef `json:"backend,omitempty"`
}

// ActiveID is the stable identity of this layer in the active set. One
// layer of one service maps to exactly one id, which is how a second
// activation of the same layer is detected.
func (l EnrichedLayer) ActiveID() string {
	if l.Backend != nil {
		return fmt.Sprintf("backend-%d-%s", l.ServiceID, l.Name)
	}
	return fmt.Sprintf("layer-%s-%s", l.ServiceURL, l.Name)
}

// RenderStyle is the rendering state of an active layer, distinct from the
// protocol style catalog.
type RenderStyle struct {
	Opacity float64 `json:"opacity"`
	Visible bool    `json:"visible"`
	ZIndex  int     `json:"zIndex"`
}

// ActiveLayer is one layer currently composited on the map.
type ActiveLayer struct {
	ID     string        `json:"id"`
	Layer  EnrichedLayer `json:"layer"`
	Style  RenderStyle   `json:"style"`
	Active bool          `json:"active"`
}

func (a ActiveLayer) ServiceURL() string { return a.Layer.ServiceURL }
func (a ActiveLayer) ServiceID() int64   { return a.Layer.ServiceID }
