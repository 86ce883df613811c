package compositor

import (
	"fmt"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/project"
)

// WorkingCRS is the projection the drawing surface composites in.
const WorkingCRS = "EPSG:3857"

// Extent is a rectangular area in some CRS.
type Extent struct {
	MinX float64 `json:"minx"`
	MinY float64 `json:"miny"`
	MaxX float64 `json:"maxx"`
	MaxY float64 `json:"maxy"`
}

func (e Extent) swapAxes() Extent {
	return Extent{MinX: e.MinY, MinY: e.MinX, MaxX: e.MaxY, MaxY: e.MaxX}
}

func (e Extent) bound() orb.Bound {
	return orb.Bound{Min: orb.Point{e.MinX, e.MinY}, Max: orb.Point{e.MaxX, e.MaxY}}
}

func fromBound(b orb.Bound) Extent {
	return Extent{MinX: b.Min[0], MinY: b.Min[1], MaxX: b.Max[0], MaxY: b.Max[1]}
}

func normalizeCRS(crs string) string {
	switch strings.ToUpper(strings.TrimSpace(crs)) {
	case "CRS:84", "OGC:CRS84", "":
		return "EPSG:4326"
	default:
		return strings.ToUpper(strings.TrimSpace(crs))
	}
}

func isGeographicCRS(crs string) bool {
	switch normalizeCRS(crs) {
	case "EPSG:4326", "EPSG:4269":
		return true
	default:
		return false
	}
}

// looksLatLonSwapped detects the common upstream mistake of advertising a
// geographic bounding box in (lat,lon) order. Heuristic only: when the x
// pair fits the latitude range but the y pair does not, the axes were
// almost certainly swapped.
func looksLatLonSwapped(e Extent) bool {
	xInLat := e.MinX >= -90 && e.MinX <= 90 && e.MaxX >= -90 && e.MaxX <= 90
	yInLat := e.MinY >= -90 && e.MinY <= 90 && e.MaxY >= -90 && e.MaxY <= 90
	return xInLat && !yInLat
}

// WebMercatorProjector projects extents between EPSG:4326 and EPSG:3857.
// Surface implementations that have no projection engine of their own can
// embed it to satisfy ProjectExtent.
type WebMercatorProjector struct{}

func (WebMercatorProjector) ProjectExtent(e Extent, fromCRS, toCRS string) (Extent, error) {
	from, to := normalizeCRS(fromCRS), normalizeCRS(toCRS)
	if from == to {
		return e, nil
	}
	switch {
	case from == "EPSG:4326" && to == "EPSG:3857":
		return fromBound(projectBound(e.bound(), project.WGS84.ToMercator)), nil
	case from == "EPSG:3857" && to == "EPSG:4326":
		return fromBound(projectBound(e.bound(), project.Mercator.ToWGS84)), nil
	default:
		return Extent{}, fmt.Errorf("unsupported projection %s -> %s", fromCRS, toCRS)
	}
}

func projectBound(b orb.Bound, proj func(orb.Point) orb.Point) orb.Bound {
	min := proj(b.Min)
	max := proj(b.Max)
	return orb.Bound{Min: min, Max: max}
}
