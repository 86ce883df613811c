// Package registry owns the ordered collection of layers currently drawn on
// the map. Every mutation goes through here, is written through to the
// snapshot store, and is announced on the event bus.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/metatierrascol/wms-compositor/internal/auth"
	"github.com/metatierrascol/wms-compositor/internal/events"
	"github.com/metatierrascol/wms-compositor/internal/layerstore"
	"github.com/metatierrascol/wms-compositor/internal/model"
	"github.com/metatierrascol/wms-compositor/internal/observability"
	"github.com/metatierrascol/wms-compositor/internal/snapshot"
)

// SnapshotKey is where the active-layer list lives in the snapshot store.
const SnapshotKey = "active-layers"

// ErrNotFound is returned for operations on an id that is not active.
var ErrNotFound = errors.New("active layer not found")

const writeThroughTimeout = 5 * time.Second

// LayerWriter is the slice of the layer store the registry needs for
// best-effort visibility/opacity write-through.
type LayerWriter interface {
	UpdateLayer(ctx context.Context, layerID int64, patch layerstore.LayerPatch) (layerstore.LayerRecord, error)
}

type Registry struct {
	mu     sync.Mutex
	layers []model.ActiveLayer
	loaded bool

	store  snapshot.Store
	bus    *events.Bus
	writer LayerWriter
	logger *slog.Logger
}

func New(store snapshot.Store, bus *events.Bus, writer LayerWriter, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	if bus == nil {
		bus = events.NewBus()
	}
	return &Registry{
		store:  store,
		bus:    bus,
		writer: writer,
		logger: logger,
	}
}

// Load restores the active-layer list from the snapshot store. Call once at
// startup before serving; an absent snapshot is an empty collection.
func (r *Registry) Load(ctx context.Context) error {
	val, ok, err := r.store.Get(ctx, SnapshotKey)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.loaded = true
	if err != nil {
		return fmt.Errorf("load snapshot: %w", err)
	}
	if !ok {
		r.layers = nil
		observability.SetActiveLayers(0)
		return nil
	}
	var layers []model.ActiveLayer
	if err := json.Unmarshal(val, &layers); err != nil {
		return fmt.Errorf("decode snapshot: %w", err)
	}
	r.layers = layers
	observability.SetActiveLayers(len(layers))
	return nil
}

// Activate adds the layer to the active set. Activating a layer that is
// already active returns the existing entry untouched.
func (r *Registry) Activate(ctx context.Context, layer model.EnrichedLayer) model.ActiveLayer {
	id := layer.ActiveID()

	r.mu.Lock()
	if i := r.indexLocked(id); i >= 0 {
		existing := r.layers[i]
		r.mu.Unlock()
		return existing
	}

	style := model.RenderStyle{Opacity: 1.0, Visible: true, ZIndex: r.maxZIndexLocked() + 1}
	if b := layer.Backend; b != nil {
		style.Opacity = b.Opacity
		style.ZIndex = b.ZIndex
	}
	al := model.ActiveLayer{ID: id, Layer: layer, Style: style, Active: true}
	r.layers = append(r.layers, al)
	r.persistLocked(ctx)
	r.mu.Unlock()

	r.bus.Publish(events.Event{Action: "activated", LayerID: id})
	return al
}

// Deactivate removes the layer by id; unknown ids are a no-op.
func (r *Registry) Deactivate(ctx context.Context, id string) {
	r.mu.Lock()
	i := r.indexLocked(id)
	if i < 0 {
		r.mu.Unlock()
		return
	}
	r.layers = append(r.layers[:i], r.layers[i+1:]...)
	r.persistLocked(ctx)
	r.mu.Unlock()

	r.bus.Publish(events.Event{Action: "deactivated", LayerID: id})
}

func (r *Registry) SetOpacity(ctx context.Context, id string, opacity float64) error {
	if opacity < 0 || opacity > 1 {
		return fmt.Errorf("opacity %v out of range [0,1]", opacity)
	}

	r.mu.Lock()
	i := r.indexLocked(id)
	if i < 0 {
		r.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	r.layers[i].Style.Opacity = opacity
	backend := r.layers[i].Layer.Backend
	r.persistLocked(ctx)
	r.mu.Unlock()

	r.bus.Publish(events.Event{Action: "restyled", LayerID: id})
	if backend != nil {
		r.writeThrough(id, backend.LayerID, layerstore.LayerPatch{Opacity: &opacity})
	}
	return nil
}

func (r *Registry) SetVisible(ctx context.Context, id string, visible bool) error {
	r.mu.Lock()
	i := r.indexLocked(id)
	if i < 0 {
		r.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	r.layers[i].Style.Visible = visible
	backend := r.layers[i].Layer.Backend
	r.persistLocked(ctx)
	r.mu.Unlock()

	r.bus.Publish(events.Event{Action: "restyled", LayerID: id})
	if backend != nil {
		r.writeThrough(id, backend.LayerID, layerstore.LayerPatch{Visible: &visible})
	}
	return nil
}

// Reorder replaces the stacking order with the given id sequence and
// reassigns z-indexes by position, 0-based, later entries drawing above
// earlier ones. The sequence must be a permutation of the current ids.
func (r *Registry) Reorder(ctx context.Context, ids []string) error {
	r.mu.Lock()
	if len(ids) != len(r.layers) {
		r.mu.Unlock()
		return fmt.Errorf("reorder with %d ids, have %d layers", len(ids), len(r.layers))
	}
	byID := make(map[string]int, len(r.layers))
	for i, l := range r.layers {
		byID[l.ID] = i
	}
	next := make([]model.ActiveLayer, 0, len(ids))
	for pos, id := range ids {
		i, ok := byID[id]
		if !ok {
			r.mu.Unlock()
			return fmt.Errorf("reorder: unknown layer %q", id)
		}
		delete(byID, id)
		l := r.layers[i]
		l.Style.ZIndex = pos
		next = append(next, l)
	}
	r.layers = next
	r.persistLocked(ctx)
	r.mu.Unlock()

	r.bus.Publish(events.Event{Action: "reordered"})
	return nil
}

// MoveUp swaps the layer with the one above it (drawn later). Top of the
// stack is a no-op.
func (r *Registry) MoveUp(ctx context.Context, id string) error {
	return r.swap(ctx, id, +1)
}

// MoveDown swaps the layer with the one below it. Bottom is a no-op.
func (r *Registry) MoveDown(ctx context.Context, id string) error {
	return r.swap(ctx, id, -1)
}

func (r *Registry) swap(ctx context.Context, id string, dir int) error {
	r.mu.Lock()
	i := r.indexLocked(id)
	if i < 0 {
		r.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	j := i + dir
	if j < 0 || j >= len(r.layers) {
		r.mu.Unlock()
		return nil
	}
	ids := make([]string, len(r.layers))
	for k, l := range r.layers {
		ids[k] = l.ID
	}
	ids[i], ids[j] = ids[j], ids[i]
	r.mu.Unlock()
	return r.Reorder(ctx, ids)
}

// ClearForService drops every layer belonging to the service, for when a
// service is disabled or deleted.
func (r *Registry) ClearForService(ctx context.Context, serviceURL string) {
	r.clearMatching(ctx, func(l model.ActiveLayer) bool {
		return l.ServiceURL() == serviceURL
	})
}

// ClearForServiceID is ClearForService keyed by backend service id, for
// invalidation events that carry ids rather than URLs.
func (r *Registry) ClearForServiceID(ctx context.Context, serviceID int64) {
	r.clearMatching(ctx, func(l model.ActiveLayer) bool {
		return l.ServiceID() == serviceID
	})
}

// ClearAll empties the collection, used when the session ends.
func (r *Registry) ClearAll(ctx context.Context) {
	r.clearMatching(ctx, func(model.ActiveLayer) bool { return true })
}

func (r *Registry) clearMatching(ctx context.Context, match func(model.ActiveLayer) bool) {
	r.mu.Lock()
	kept := r.layers[:0]
	removed := 0
	for _, l := range r.layers {
		if match(l) {
			removed++
			continue
		}
		kept = append(kept, l)
	}
	if removed == 0 {
		r.mu.Unlock()
		return
	}
	r.layers = kept
	r.persistLocked(ctx)
	r.mu.Unlock()

	r.bus.Publish(events.Event{Action: "cleared"})
}

// List returns a copy of the collection in stacking order.
func (r *Registry) List() []model.ActiveLayer {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.ActiveLayer, len(r.layers))
	copy(out, r.layers)
	return out
}

// Get returns the active layer with the given id.
func (r *Registry) Get(id string) (model.ActiveLayer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if i := r.indexLocked(id); i >= 0 {
		return r.layers[i], true
	}
	return model.ActiveLayer{}, false
}

// Readiness reports whether the snapshot has been loaded, and how many
// layers are active.
func (r *Registry) Readiness() (bool, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.loaded, len(r.layers)
}

// WatchSessions clears the collection whenever the session feed transitions
// to signed-out. Runs until ctx is done.
func (r *Registry) WatchSessions(ctx context.Context, feed *auth.Feed) {
	ch := feed.Subscribe()
	defer feed.Unsubscribe(ch)
	for {
		select {
		case <-ctx.Done():
			return
		case s := <-ch:
			if s == nil {
				r.logger.Info("session ended, clearing active layers")
				r.ClearAll(ctx)
			}
		}
	}
}

func (r *Registry) indexLocked(id string) int {
	for i, l := range r.layers {
		if l.ID == id {
			return i
		}
	}
	return -1
}

func (r *Registry) maxZIndexLocked() int {
	max := -1
	for _, l := range r.layers {
		if l.Style.ZIndex > max {
			max = l.Style.ZIndex
		}
	}
	return max
}

// persistLocked writes the whole collection through to the snapshot store.
// A failed write keeps the in-memory change and is reported, never rolled
// back, so the map stays in sync with user intent.
func (r *Registry) persistLocked(ctx context.Context) {
	observability.SetActiveLayers(len(r.layers))
	val, err := json.Marshal(r.layers)
	if err != nil {
		r.logger.Error("encode active-layer snapshot", "err", err)
		return
	}
	if err := r.store.Set(ctx, SnapshotKey, val); err != nil {
		r.logger.Error("persist active-layer snapshot", "err", err)
	}
}

func (r *Registry) writeThrough(id string, backendID int64, patch layerstore.LayerPatch) {
	if r.writer == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), writeThroughTimeout)
		defer cancel()
		if _, err := r.writer.UpdateLayer(ctx, backendID, patch); err != nil {
			r.logger.Warn("layer store write-through failed",
				"layer", id, "backend_id", backendID, "err", err)
		}
	}()
}
