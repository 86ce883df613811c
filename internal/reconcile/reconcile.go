// Package reconcile aligns the authoritative layer list a WMS service
// advertises with the records the layer store has persisted for it, and
// restores saved visibility onto the map.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/metatierrascol/wms-compositor/internal/layerstore"
	"github.com/metatierrascol/wms-compositor/internal/model"
	"github.com/metatierrascol/wms-compositor/internal/observability"
	"github.com/metatierrascol/wms-compositor/internal/wms"
)

// CapabilityError is a capability fetch or parse failure for one service.
// It aborts reconciliation for that service only.
type CapabilityError struct {
	Service string
	Reasons []string
}

func (e *CapabilityError) Error() string {
	return fmt.Sprintf("capabilities for %s: %s", e.Service, strings.Join(e.Reasons, "; "))
}

// Activator is the slice of the registry the reconciler needs to restore
// saved visibility.
type Activator interface {
	Activate(ctx context.Context, layer model.EnrichedLayer) model.ActiveLayer
}

type Reconciler struct {
	store     *layerstore.Client
	fetcher   *wms.Fetcher
	activator Activator
	logger    *slog.Logger
}

func New(store *layerstore.Client, fetcher *wms.Fetcher, activator Activator, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{store: store, fetcher: fetcher, activator: activator, logger: logger}
}

// Reconcile fetches the service's persisted records and its live
// capabilities, creates records for layers the store has never seen, and
// returns the enriched join. Layers whose persisted record says visible are
// activated, which is how saved state returns to the map on load.
//
// The create step strictly precedes the join, so enrichment never sees a
// half-created record. A create failure aborts this service and leaves
// others untouched.
func (r *Reconciler) Reconcile(ctx context.Context, svc layerstore.ServiceRecord) ([]model.EnrichedLayer, error) {
	start := time.Now()
	enriched, created, err := r.reconcile(ctx, svc)
	observability.ObserveReconcile(err)
	if err != nil {
		return nil, err
	}

	r.logger.Info("service reconciled",
		"service", svc.Name, "service_id", svc.ID,
		"layers", len(enriched), "created", created,
		"duration", time.Since(start))
	return enriched, nil
}

// ResyncService re-runs reconciliation for a service known only by id,
// used when an invalidation event reports the service changed upstream.
func (r *Reconciler) ResyncService(ctx context.Context, serviceID int64) error {
	svcs, err := r.store.Services(ctx)
	if err != nil {
		return fmt.Errorf("list services: %w", err)
	}
	for _, svc := range svcs {
		if svc.ID == serviceID {
			_, err := r.Reconcile(ctx, svc)
			return err
		}
	}
	return fmt.Errorf("no service with id %d", serviceID)
}

func (r *Reconciler) reconcile(ctx context.Context, svc layerstore.ServiceRecord) ([]model.EnrichedLayer, int, error) {
	records, err := r.store.Layers(ctx, svc.ID)
	if err != nil {
		return nil, 0, fmt.Errorf("list persisted layers for service %d: %w", svc.ID, err)
	}

	v := r.fetcher.Fetch(ctx, svc.BaseURL)
	if !v.Valid {
		return nil, 0, &CapabilityError{Service: svc.BaseURL, Reasons: v.Errors}
	}
	descriptors := v.Capabilities.Layers

	byName := make(map[string]layerstore.LayerRecord, len(records))
	maxZ := -1
	for _, rec := range records {
		byName[rec.LayerName] = rec
		if rec.ZIndex > maxZ {
			maxZ = rec.ZIndex
		}
	}

	var missing []layerstore.NewLayer
	for _, d := range descriptors {
		if _, ok := byName[d.Name]; ok {
			continue
		}
		maxZ++
		missing = append(missing, layerstore.NewLayer{
			LayerName: d.Name,
			Title:     d.Title,
			Visible:   false,
			Opacity:   1.0,
			ZIndex:    maxZ,
			Style:     d.FirstStyleName(),
		})
	}

	if len(missing) > 0 {
		created, err := r.store.CreateLayers(ctx, svc.ID, missing)
		if err != nil {
			return nil, 0, fmt.Errorf("create %d missing layers for service %d: %w", len(missing), svc.ID, err)
		}
		for _, rec := range created {
			byName[rec.LayerName] = rec
		}
		observability.AddReconcileCreated(len(created))
	}

	enriched := make([]model.EnrichedLayer, 0, len(descriptors))
	for _, d := range descriptors {
		el := model.EnrichedLayer{
			LayerInfo:   d,
			ServiceID:   svc.ID,
			ServiceURL:  svc.BaseURL,
			ServiceName: svc.Name,
		}
		if rec, ok := byName[d.Name]; ok {
			el.Backend = &model.BackendRef{
				LayerID: rec.ID,
				Visible: rec.Visible,
				Opacity: rec.Opacity,
				ZIndex:  rec.ZIndex,
			}
		}
		enriched = append(enriched, el)
	}

	if r.activator != nil {
		for _, el := range enriched {
			if el.Backend != nil && el.Backend.Visible {
				r.activator.Activate(ctx, el)
			}
		}
	}
	return enriched, len(missing), nil
}
