// Package server exposes the layer subsystem over HTTP.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/metatierrascol/wms-compositor/internal/capcache"
	"github.com/metatierrascol/wms-compositor/internal/compositor"
	"github.com/metatierrascol/wms-compositor/internal/config"
	"github.com/metatierrascol/wms-compositor/internal/health"
	"github.com/metatierrascol/wms-compositor/internal/layerstore"
	"github.com/metatierrascol/wms-compositor/internal/metrics"
	"github.com/metatierrascol/wms-compositor/internal/middleware"
	"github.com/metatierrascol/wms-compositor/internal/reconcile"
	"github.com/metatierrascol/wms-compositor/internal/registry"
	"github.com/metatierrascol/wms-compositor/internal/wms"
)

// Deps are the wired collaborators the API serves.
type Deps struct {
	Logger     *slog.Logger
	Registry   *registry.Registry
	Store      *layerstore.Client
	Reconciler *reconcile.Reconciler
	Fetcher    *wms.Fetcher
	Caps       *capcache.Cache
	Compositor *compositor.Compositor
	Metrics    *metrics.Provider
}

// NewRouter builds the full route tree.
func NewRouter(d Deps) http.Handler {
	log := d.Logger
	if log == nil {
		log = slog.Default()
	}
	api := &api{deps: d, logger: log}

	r := chi.NewRouter()
	r.Use(middleware.Recover(log))
	r.Use(middleware.Logging(log))
	r.Use(middleware.CORS())

	r.Get("/healthz", health.Liveness())
	r.Get("/readyz", health.Readiness(d.Registry))
	if d.Metrics != nil {
		r.Get("/metrics", d.Metrics.Handler().ServeHTTP)
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(instrument)
		r.Post("/validate", api.validate)

		r.Get("/services", api.listServices)
		r.Post("/services", api.createService)
		r.Delete("/services/{id}", api.deleteService)
		r.Post("/services/{id}/reconcile", api.reconcileService)
		r.Post("/services/{id}/disable", api.disableService)

		r.Get("/layers/active", api.listActive)
		r.Post("/layers/active/reorder", api.reorder)
		r.Delete("/layers/active/{layerID}", api.deactivate)
		r.Post("/layers/active/{layerID}/visible", api.setVisible)
		r.Post("/layers/active/{layerID}/opacity", api.setOpacity)
		r.Post("/layers/active/{layerID}/move-up", api.moveUp)
		r.Post("/layers/active/{layerID}/move-down", api.moveDown)
		r.Post("/layers/active/{layerID}/fit", api.fitToLayer)
	})

	return r
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func Run(ctx context.Context, cfg config.Config, d Deps) error {
	log := d.Logger
	if log == nil {
		log = slog.Default()
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           NewRouter(d),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("http listen", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		return err
	}
}
