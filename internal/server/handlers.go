package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/metatierrascol/wms-compositor/internal/layerstore"
	"github.com/metatierrascol/wms-compositor/internal/observability"
	"github.com/metatierrascol/wms-compositor/internal/registry"
)

type api struct {
	deps   Deps
	logger *slog.Logger
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

// instrument records per-route metrics using the matched chi pattern.
func instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)
		route := chi.RouteContext(r.Context()).RoutePattern()
		observability.ObserveHTTP(r.Method, route, sw.code, time.Since(start).Seconds())
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func readJSON(r *http.Request, v any) error {
	defer func() { _ = r.Body.Close() }()
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decode body: %w", err)
	}
	return nil
}

func idParam(r *http.Request, name string) (int64, error) {
	raw := chi.URLParam(r, name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid %s %q", name, raw)
	}
	return id, nil
}

// validate fetches and parses a service's capabilities, serving recent
// results from the capability cache.
func (a *api) validate(w http.ResponseWriter, r *http.Request) {
	var in struct {
		URL string `json:"url"`
	}
	if err := readJSON(r, &in); err != nil || in.URL == "" {
		writeError(w, http.StatusBadRequest, errors.New("body must be {\"url\": \"...\"}"))
		return
	}

	if a.deps.Caps != nil {
		if v, ok := a.deps.Caps.Get(in.URL); ok {
			writeJSON(w, http.StatusOK, v)
			return
		}
	}
	v := a.deps.Fetcher.Fetch(r.Context(), in.URL)
	if a.deps.Caps != nil {
		a.deps.Caps.Put(in.URL, v)
	}
	writeJSON(w, http.StatusOK, v)
}

func (a *api) listServices(w http.ResponseWriter, r *http.Request) {
	svcs, err := a.deps.Store.Services(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, svcs)
}

func (a *api) createService(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Name    string `json:"name"`
		BaseURL string `json:"base_url"`
		Version string `json:"version"`
	}
	if err := readJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if in.Name == "" || in.BaseURL == "" {
		writeError(w, http.StatusBadRequest, errors.New("name and base_url are required"))
		return
	}
	if in.Version == "" {
		in.Version = "1.3.0"
	}
	svc, err := a.deps.Store.CreateService(r.Context(), in.Name, in.BaseURL, in.Version)
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusCreated, svc)
}

func (a *api) deleteService(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	svc, _ := a.findService(r, id)
	if err := a.deps.Store.DeleteService(r.Context(), id); err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	a.deps.Registry.ClearForServiceID(r.Context(), id)
	if a.deps.Caps != nil && svc.BaseURL != "" {
		a.deps.Caps.Invalidate(svc.BaseURL)
	}
	w.WriteHeader(http.StatusNoContent)
}

// reconcileService is the enable path: align persisted records with the
// live capabilities and restore saved visibility.
func (a *api) reconcileService(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	svc, err := a.findService(r, id)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	enriched, err := a.deps.Reconciler.Reconcile(r.Context(), svc)
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, enriched)
}

func (a *api) disableService(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	a.deps.Registry.ClearForServiceID(r.Context(), id)
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) listActive(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.deps.Registry.List())
}

func (a *api) reorder(w http.ResponseWriter, r *http.Request) {
	var in struct {
		IDs []string `json:"ids"`
	}
	if err := readJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := a.deps.Registry.Reorder(r.Context(), in.IDs); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, a.deps.Registry.List())
}

func (a *api) deactivate(w http.ResponseWriter, r *http.Request) {
	a.deps.Registry.Deactivate(r.Context(), chi.URLParam(r, "layerID"))
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) setVisible(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Visible bool `json:"visible"`
	}
	if err := readJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	err := a.deps.Registry.SetVisible(r.Context(), chi.URLParam(r, "layerID"), in.Visible)
	a.respondMutation(w, r, err)
}

func (a *api) setOpacity(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Opacity float64 `json:"opacity"`
	}
	if err := readJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	err := a.deps.Registry.SetOpacity(r.Context(), chi.URLParam(r, "layerID"), in.Opacity)
	a.respondMutation(w, r, err)
}

func (a *api) moveUp(w http.ResponseWriter, r *http.Request) {
	err := a.deps.Registry.MoveUp(r.Context(), chi.URLParam(r, "layerID"))
	a.respondMutation(w, r, err)
}

func (a *api) moveDown(w http.ResponseWriter, r *http.Request) {
	err := a.deps.Registry.MoveDown(r.Context(), chi.URLParam(r, "layerID"))
	a.respondMutation(w, r, err)
}

func (a *api) fitToLayer(w http.ResponseWriter, r *http.Request) {
	al, ok := a.deps.Registry.Get(chi.URLParam(r, "layerID"))
	if !ok {
		writeError(w, http.StatusNotFound, registry.ErrNotFound)
		return
	}
	if a.deps.Compositor == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("no drawing surface attached"))
		return
	}
	if err := a.deps.Compositor.FitToLayer(al); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) respondMutation(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case err == nil:
		layerID := chi.URLParam(r, "layerID")
		if al, ok := a.deps.Registry.Get(layerID); ok {
			writeJSON(w, http.StatusOK, al)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, registry.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
	default:
		writeError(w, http.StatusBadRequest, err)
	}
}

func (a *api) findService(r *http.Request, id int64) (layerstore.ServiceRecord, error) {
	svcs, err := a.deps.Store.Services(r.Context())
	if err != nil {
		return layerstore.ServiceRecord{}, fmt.Errorf("list services: %w", err)
	}
	for _, svc := range svcs {
		if svc.ID == id {
			return svc, nil
		}
	}
	return layerstore.ServiceRecord{}, fmt.Errorf("no service with id %d", id)
}
