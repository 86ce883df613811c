package compositor

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/metatierrascol/wms-compositor/internal/model"
)

type surfaceLayer struct {
	source TileSource
	style  model.RenderStyle
}

// HeadlessSurface is the server-mode renderer. It keeps the draw plan in
// memory and logs every operation, so the compositor can run without a
// real map widget attached. A browser or desktop frontend replaces it by
// implementing Surface.
type HeadlessSurface struct {
	WebMercatorProjector
	logger *slog.Logger

	mu     sync.Mutex
	seq    int
	layers map[string]surfaceLayer
}

func NewHeadlessSurface(logger *slog.Logger) *HeadlessSurface {
	if logger == nil {
		logger = slog.Default()
	}
	return &HeadlessSurface{
		logger: logger,
		layers: make(map[string]surfaceLayer),
	}
}

func (s *HeadlessSurface) AddTileLayer(source TileSource, style model.RenderStyle) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	handle := fmt.Sprintf("surface-%d", s.seq)
	s.layers[handle] = surfaceLayer{source: source, style: style}
	s.logger.Debug("surface add",
		"handle", handle, "url", source.URL,
		"layers", source.Params["LAYERS"], "z", style.ZIndex)
	return handle, nil
}

func (s *HeadlessSurface) SetOpacity(handle string, opacity float64) error {
	return s.restyle(handle, func(l *surfaceLayer) { l.style.Opacity = opacity })
}

func (s *HeadlessSurface) SetVisible(handle string, visible bool) error {
	return s.restyle(handle, func(l *surfaceLayer) { l.style.Visible = visible })
}

func (s *HeadlessSurface) SetZIndex(handle string, zIndex int) error {
	return s.restyle(handle, func(l *surfaceLayer) { l.style.ZIndex = zIndex })
}

func (s *HeadlessSurface) RemoveLayer(handle string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.layers[handle]; !ok {
		return fmt.Errorf("no surface layer %q", handle)
	}
	delete(s.layers, handle)
	s.logger.Debug("surface remove", "handle", handle)
	return nil
}

func (s *HeadlessSurface) FitView(extent Extent, opts FitOptions) error {
	s.logger.Debug("surface fit",
		"minx", extent.MinX, "miny", extent.MinY,
		"maxx", extent.MaxX, "maxy", extent.MaxY,
		"padding", opts.PaddingPx, "max_zoom", opts.MaxZoom)
	return nil
}

// DrawnCount reports how many layers the surface currently holds.
func (s *HeadlessSurface) DrawnCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.layers)
}

func (s *HeadlessSurface) restyle(handle string, apply func(*surfaceLayer)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.layers[handle]
	if !ok {
		return fmt.Errorf("no surface layer %q", handle)
	}
	apply(&l)
	s.layers[handle] = l
	return nil
}
