// Package layerstore is the client for the backend REST store that holds the
// durable per-layer configuration (visibility, opacity, z-order, style).
package layerstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/metatierrascol/wms-compositor/internal/observability"
)

// ServiceRecord is one registered WMS service.
type ServiceRecord struct {
	ID      int64  `json:"id"`
	Name    string `json:"name"`
	BaseURL string `json:"base_url"`
	Version string `json:"version"`
}

// LayerRecord is the durable record for one layer of one service. Geometry
// and CRS never live here; only operational toggles do.
type LayerRecord struct {
	ID        int64          `json:"id"`
	ServiceID int64          `json:"service"`
	LayerName string         `json:"layer_name"`
	Title     string         `json:"layer_title"`
	Visible   bool           `json:"visible"`
	Opacity   float64        `json:"opacity"`
	ZIndex    int            `json:"z_index"`
	Style     string         `json:"style"`
	Extra     map[string]any `json:"extra,omitempty"`
	UpdatedAt time.Time      `json:"updated_at,omitempty"`
}

// NewLayer is the creation payload for a layer record.
type NewLayer struct {
	LayerName string         `json:"layer_name"`
	Title     string         `json:"layer_title"`
	Visible   bool           `json:"visible"`
	Opacity   float64        `json:"opacity"`
	ZIndex    int            `json:"z_index"`
	Style     string         `json:"style"`
	Extra     map[string]any `json:"extra,omitempty"`
}

// LayerPatch carries the mutable fields of a layer record. Nil fields are
// left untouched by the backend.
type LayerPatch struct {
	Visible *bool    `json:"visible,omitempty"`
	Opacity *float64 `json:"opacity,omitempty"`
	ZIndex  *int     `json:"z_index,omitempty"`
	Style   *string  `json:"style,omitempty"`
}

// StatusError is a non-2xx backend response.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("layer store returned %d: %s", e.Status, e.Body)
}

// Client talks to the backend layer store.
type Client struct {
	baseURL string
	httpc   *http.Client
	logger  *slog.Logger
}

func New(baseURL string, httpc *http.Client, logger *slog.Logger) *Client {
	if httpc == nil {
		httpc = http.DefaultClient
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpc:   httpc,
		logger:  logger,
	}
}

func (c *Client) Services(ctx context.Context) ([]ServiceRecord, error) {
	var out []ServiceRecord
	err := c.do(ctx, "list_services", http.MethodGet, "/wms/services/", nil, &out)
	return out, err
}

func (c *Client) CreateService(ctx context.Context, name, baseURL, version string) (ServiceRecord, error) {
	in := map[string]string{"name": name, "base_url": baseURL, "version": version}
	var out ServiceRecord
	err := c.do(ctx, "create_service", http.MethodPost, "/wms/services/", in, &out)
	return out, err
}

func (c *Client) DeleteService(ctx context.Context, serviceID int64) error {
	path := fmt.Sprintf("/wms/services/%d/", serviceID)
	return c.do(ctx, "delete_service", http.MethodDelete, path, nil, nil)
}

func (c *Client) Layers(ctx context.Context, serviceID int64) ([]LayerRecord, error) {
	path := fmt.Sprintf("/wms/services/%d/layers/", serviceID)
	var out []LayerRecord
	err := c.do(ctx, "list_layers", http.MethodGet, path, nil, &out)
	return out, err
}

// CreateLayers bulk-creates records for layers the store has never seen.
func (c *Client) CreateLayers(ctx context.Context, serviceID int64, layers []NewLayer) ([]LayerRecord, error) {
	if len(layers) == 0 {
		return nil, nil
	}
	path := fmt.Sprintf("/wms/services/%d/layers/", serviceID)
	var out []LayerRecord
	err := c.do(ctx, "create_layers", http.MethodPost, path, layers, &out)
	return out, err
}

func (c *Client) UpdateLayer(ctx context.Context, layerID int64, patch LayerPatch) (LayerRecord, error) {
	path := fmt.Sprintf("/wms/layers/%d/", layerID)
	var out LayerRecord
	err := c.do(ctx, "update_layer", http.MethodPatch, path, patch, &out)
	return out, err
}

func (c *Client) do(ctx context.Context, op, method, path string, in, out any) error {
	start := time.Now()
	err := c.doOnce(ctx, method, path, in, out)
	observability.ObserveLayerStoreOp(op, err, time.Since(start))
	return err
}

func (c *Client) doOnce(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return &StatusError{Status: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
