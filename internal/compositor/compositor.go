// Package compositor translates the active-layer set into calls against the
// external map-drawing surface.
package compositor

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"

	"github.com/metatierrascol/wms-compositor/internal/config"
	"github.com/metatierrascol/wms-compositor/internal/events"
	"github.com/metatierrascol/wms-compositor/internal/model"
	"github.com/metatierrascol/wms-compositor/internal/observability"
)

// TileSource is the drawing configuration for one WMS tile layer.
type TileSource struct {
	URL    string            `json:"url"`
	Params map[string]string `json:"params"`
}

// FitOptions controls a fit-view request.
type FitOptions struct {
	PaddingPx int `json:"paddingPx"`
	MaxZoom   int `json:"maxZoom"`
}

// Surface is the external renderer. Implementations draw tiles; this
// package only decides what to draw.
type Surface interface {
	AddTileLayer(source TileSource, style model.RenderStyle) (handle string, err error)
	SetOpacity(handle string, opacity float64) error
	SetVisible(handle string, visible bool) error
	SetZIndex(handle string, zIndex int) error
	RemoveLayer(handle string) error
	FitView(extent Extent, opts FitOptions) error
	ProjectExtent(extent Extent, fromCRS, toCRS string) (Extent, error)
}

// Options are the fixed drawing parameters.
type Options struct {
	// BaseZIndex offsets every overlay so it draws above the base map.
	BaseZIndex int
	FitPadding int
	FitMaxZoom int
	// DisableLatLonSwap turns off the swapped-axis correction for servers
	// where the heuristic misfires.
	DisableLatLonSwap bool
}

type Compositor struct {
	surface Surface
	proxy   config.ProxyMap
	opts    Options
	logger  *slog.Logger

	mu      sync.Mutex
	handles map[string]string // active-layer id -> surface handle
}

func New(surface Surface, proxy config.ProxyMap, opts Options, logger *slog.Logger) *Compositor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Compositor{
		surface: surface,
		proxy:   proxy,
		opts:    opts,
		logger:  logger,
		handles: map[string]string{},
	}
}

// Present draws the layer. The source URL is sanitized first so wrapper
// proxies and stale GetCapabilities parameters never leak into tile
// requests. A layer that is already drawn is redrawn from scratch.
func (c *Compositor) Present(al model.ActiveLayer) error {
	src, err := c.sanitizeURL(al.Layer.ServiceURL)
	if err != nil {
		observability.IncCompositorOp("present", "error")
		return fmt.Errorf("present %s: %w", al.ID, err)
	}

	c.Remove(al.ID)

	handle, err := c.surface.AddTileLayer(TileSource{
		URL: src,
		Params: map[string]string{
			"LAYERS":      al.Layer.Name,
			"VERSION":     "1.3.0",
			"FORMAT":      "image/png",
			"TRANSPARENT": "true",
			"TILED":       "false",
		},
	}, model.RenderStyle{
		Opacity: al.Style.Opacity,
		Visible: al.Style.Visible,
		ZIndex:  al.Style.ZIndex + c.opts.BaseZIndex,
	})
	if err != nil {
		observability.IncCompositorOp("present", "error")
		return fmt.Errorf("draw layer %s: %w", al.ID, err)
	}

	c.mu.Lock()
	c.handles[al.ID] = handle
	c.mu.Unlock()
	observability.IncCompositorOp("present", "ok")
	return nil
}

// Update restyles an already-drawn layer without rebuilding its tile
// source.
func (c *Compositor) Update(al model.ActiveLayer) error {
	c.mu.Lock()
	handle, ok := c.handles[al.ID]
	c.mu.Unlock()
	if !ok {
		return c.Present(al)
	}

	if err := c.surface.SetOpacity(handle, al.Style.Opacity); err != nil {
		observability.IncCompositorOp("update", "error")
		return fmt.Errorf("restyle %s: %w", al.ID, err)
	}
	if err := c.surface.SetVisible(handle, al.Style.Visible); err != nil {
		observability.IncCompositorOp("update", "error")
		return fmt.Errorf("restyle %s: %w", al.ID, err)
	}
	if err := c.surface.SetZIndex(handle, al.Style.ZIndex+c.opts.BaseZIndex); err != nil {
		observability.IncCompositorOp("update", "error")
		return fmt.Errorf("restyle %s: %w", al.ID, err)
	}
	observability.IncCompositorOp("update", "ok")
	return nil
}

// Remove erases the drawn layer; unknown ids are a no-op.
func (c *Compositor) Remove(layerID string) {
	c.mu.Lock()
	handle, ok := c.handles[layerID]
	delete(c.handles, layerID)
	c.mu.Unlock()
	if !ok {
		return
	}
	if err := c.surface.RemoveLayer(handle); err != nil {
		observability.IncCompositorOp("remove", "error")
		c.logger.Warn("remove drawn layer", "layer", layerID, "err", err)
		return
	}
	observability.IncCompositorOp("remove", "ok")
}

// FitToLayer moves the view to the layer's advertised extent. Without a
// bounding box this is a no-op with a warning.
func (c *Compositor) FitToLayer(al model.ActiveLayer) error {
	bb := al.Layer.BoundingBox
	if bb == nil {
		c.logger.Warn("layer has no bounding box, not fitting view", "layer", al.ID)
		return nil
	}

	extent := Extent{MinX: bb.MinX, MinY: bb.MinY, MaxX: bb.MaxX, MaxY: bb.MaxY}
	crs := normalizeCRS(bb.CRS)
	if isGeographicCRS(crs) && !c.opts.DisableLatLonSwap && looksLatLonSwapped(extent) {
		c.logger.Warn("bounding box axes look swapped, correcting", "layer", al.ID, "crs", crs)
		extent = extent.swapAxes()
	}

	projected, err := c.surface.ProjectExtent(extent, crs, WorkingCRS)
	if err != nil {
		observability.IncCompositorOp("fit", "error")
		return fmt.Errorf("project extent of %s: %w", al.ID, err)
	}
	if err := c.surface.FitView(projected, FitOptions{
		PaddingPx: c.opts.FitPadding,
		MaxZoom:   c.opts.FitMaxZoom,
	}); err != nil {
		observability.IncCompositorOp("fit", "error")
		return fmt.Errorf("fit view to %s: %w", al.ID, err)
	}
	observability.IncCompositorOp("fit", "ok")
	return nil
}

// LayerLister is the slice of the registry the event loop needs.
type LayerLister interface {
	List() []model.ActiveLayer
	Get(id string) (model.ActiveLayer, bool)
}

// Watch applies registry mutations to the surface until ctx is done.
func (c *Compositor) Watch(ctx context.Context, bus *events.Bus, reg LayerLister) {
	ch := bus.Subscribe()
	defer bus.Unsubscribe(ch)
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-ch:
			c.apply(ev, reg)
		}
	}
}

func (c *Compositor) apply(ev events.Event, reg LayerLister) {
	switch ev.Action {
	case "activated":
		if al, ok := reg.Get(ev.LayerID); ok {
			if err := c.Present(al); err != nil {
				c.logger.Error("present layer", "layer", ev.LayerID, "err", err)
			}
		}
	case "restyled":
		if al, ok := reg.Get(ev.LayerID); ok {
			if err := c.Update(al); err != nil {
				c.logger.Error("update layer", "layer", ev.LayerID, "err", err)
			}
		}
	case "deactivated":
		c.Remove(ev.LayerID)
	case "reordered", "cleared":
		c.Sync(reg.List())
	}
}

// Sync reconciles the drawn set against the given collection: layers no
// longer active are erased, new ones drawn, the rest restyled.
func (c *Compositor) Sync(layers []model.ActiveLayer) {
	want := make(map[string]model.ActiveLayer, len(layers))
	for _, al := range layers {
		want[al.ID] = al
	}

	c.mu.Lock()
	var stale []string
	for id := range c.handles {
		if _, ok := want[id]; !ok {
			stale = append(stale, id)
		}
	}
	c.mu.Unlock()
	for _, id := range stale {
		c.Remove(id)
	}

	for _, al := range layers {
		c.mu.Lock()
		_, drawn := c.handles[al.ID]
		c.mu.Unlock()
		var err error
		if drawn {
			err = c.Update(al)
		} else {
			err = c.Present(al)
		}
		if err != nil {
			c.logger.Error("sync layer", "layer", al.ID, "err", err)
		}
	}
}

// sanitizeURL recovers the upstream URL from any proxy wrapper, drops the
// GetCapabilities parameter triple so it cannot collide with per-tile GetMap
// parameters, and rejects anything that is not plain http(s).
func (c *Compositor) sanitizeURL(raw string) (string, error) {
	raw = c.unwrapProxy(raw)

	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("malformed layer URL %q: %w", raw, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", fmt.Errorf("layer URL %q is not an absolute http(s) URL", raw)
	}

	if mapped, ok := c.proxy.Hosts[u.Host]; ok {
		rewritten := strings.TrimRight(mapped, "/") + u.Path
		if ru, err := url.Parse(rewritten); err == nil && ru.Host != "" {
			ru.RawQuery = u.RawQuery
			u = ru
		}
	}

	q := u.Query()
	for k := range q {
		switch strings.ToLower(k) {
		case "service", "request", "version":
			q.Del(k)
		}
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (c *Compositor) unwrapProxy(raw string) string {
	for _, w := range c.proxy.Wrappers {
		if !strings.HasPrefix(raw, w) {
			continue
		}
		inner := strings.TrimPrefix(raw, w)
		if dec, err := url.QueryUnescape(inner); err == nil && dec != "" {
			inner = dec
		}
		return inner
	}
	return raw
}
