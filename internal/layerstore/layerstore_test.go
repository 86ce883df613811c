package layerstore

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestLayersAndCreateLayers(t *testing.T) {
	var createdBody []NewLayer
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/wms/services/7/layers/":
			_ = json.NewEncoder(w).Encode([]LayerRecord{
				{ID: 1, ServiceID: 7, LayerName: "parks", Visible: true, Opacity: 0.8, ZIndex: 0},
			})
		case r.Method == http.MethodPost && r.URL.Path == "/wms/services/7/layers/":
			if ct := r.Header.Get("Content-Type"); ct != "application/json" {
				t.Errorf("content type = %q", ct)
			}
			if err := json.NewDecoder(r.Body).Decode(&createdBody); err != nil {
				t.Errorf("decode create body: %v", err)
			}
			out := make([]LayerRecord, 0, len(createdBody))
			for i, nl := range createdBody {
				out = append(out, LayerRecord{
					ID: int64(100 + i), ServiceID: 7,
					LayerName: nl.LayerName, Title: nl.Title,
					Visible: nl.Visible, Opacity: nl.Opacity, ZIndex: nl.ZIndex, Style: nl.Style,
				})
			}
			w.WriteHeader(http.StatusCreated)
			_ = json.NewEncoder(w).Encode(out)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)

	c := New(srv.URL, srv.Client(), nil)

	got, err := c.Layers(context.Background(), 7)
	if err != nil {
		t.Fatalf("Layers: %v", err)
	}
	if len(got) != 1 || got[0].LayerName != "parks" {
		t.Fatalf("layers = %+v", got)
	}

	created, err := c.CreateLayers(context.Background(), 7, []NewLayer{
		{LayerName: "roads", Title: "Roads", Opacity: 1.0, ZIndex: 1, Style: "default"},
	})
	if err != nil {
		t.Fatalf("CreateLayers: %v", err)
	}
	if len(created) != 1 || created[0].ID != 100 || created[0].LayerName != "roads" {
		t.Fatalf("created = %+v", created)
	}
	if len(createdBody) != 1 || createdBody[0].LayerName != "roads" {
		t.Fatalf("server saw body %+v", createdBody)
	}
}

func TestCreateLayersEmptySkipsRequest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected for empty create")
	}))
	t.Cleanup(srv.Close)

	c := New(srv.URL, srv.Client(), nil)
	created, err := c.CreateLayers(context.Background(), 7, nil)
	if err != nil || created != nil {
		t.Fatalf("got %v, %v", created, err)
	}
}

func TestUpdateLayerPatchOmitsUnsetFields(t *testing.T) {
	var patchBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPatch || r.URL.Path != "/wms/layers/42/" {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&patchBody)
		_ = json.NewEncoder(w).Encode(LayerRecord{ID: 42, Visible: true})
	}))
	t.Cleanup(srv.Close)

	c := New(srv.URL, srv.Client(), nil)
	visible := true
	rec, err := c.UpdateLayer(context.Background(), 42, LayerPatch{Visible: &visible})
	if err != nil {
		t.Fatalf("UpdateLayer: %v", err)
	}
	if !rec.Visible {
		t.Fatalf("record = %+v", rec)
	}
	if len(patchBody) != 1 {
		t.Fatalf("patch body = %v, want only visible", patchBody)
	}
	if v, ok := patchBody["visible"].(bool); !ok || !v {
		t.Fatalf("patch body = %v", patchBody)
	}
}

func TestServiceCRUD(t *testing.T) {
	deleted := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/wms/services/":
			_ = json.NewEncoder(w).Encode([]ServiceRecord{{ID: 1, Name: "cadastre"}})
		case r.Method == http.MethodPost && r.URL.Path == "/wms/services/":
			var in map[string]string
			_ = json.NewDecoder(r.Body).Decode(&in)
			w.WriteHeader(http.StatusCreated)
			_ = json.NewEncoder(w).Encode(ServiceRecord{
				ID: 2, Name: in["name"], BaseURL: in["base_url"], Version: in["version"],
			})
		case r.Method == http.MethodDelete && r.URL.Path == "/wms/services/2/":
			deleted = true
			w.WriteHeader(http.StatusNoContent)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)

	c := New(srv.URL, srv.Client(), nil)
	ctx := context.Background()

	svcs, err := c.Services(ctx)
	if err != nil || len(svcs) != 1 {
		t.Fatalf("Services: %v, %v", svcs, err)
	}

	created, err := c.CreateService(ctx, "new", "http://example.com/wms", "1.3.0")
	if err != nil {
		t.Fatalf("CreateService: %v", err)
	}
	if created.ID != 2 || created.BaseURL != "http://example.com/wms" {
		t.Fatalf("created = %+v", created)
	}

	if err := c.DeleteService(ctx, 2); err != nil {
		t.Fatalf("DeleteService: %v", err)
	}
	if !deleted {
		t.Fatal("delete never reached the server")
	}
}

func TestStatusErrorSurfacesBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"detail":"layer_name required"}`))
	}))
	t.Cleanup(srv.Close)

	c := New(srv.URL, srv.Client(), nil)
	_, err := c.Layers(context.Background(), 7)
	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("err = %v, want StatusError", err)
	}
	if se.Status != http.StatusBadRequest || se.Body == "" {
		t.Fatalf("status error = %+v", se)
	}
}
