package wms

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func TestBuildCapabilitiesURL(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "bare url gains the standard triple",
			in:   "https://maps.example.com/wms",
			want: "https://maps.example.com/wms?request=GetCapabilities&service=WMS&version=1.3.0",
		},
		{
			name: "existing unrelated params are stripped",
			in:   "https://maps.example.com/wms?foo=bar&map=/data/x.map",
			want: "https://maps.example.com/wms?request=GetCapabilities&service=WMS&version=1.3.0",
		},
		{
			name: "complete triple is left alone",
			in:   "https://maps.example.com/wms?service=WMS&request=GetCapabilities&version=1.3.0",
			want: "https://maps.example.com/wms?service=WMS&request=GetCapabilities&version=1.3.0",
		},
		{
			name: "case-insensitive triple is left alone",
			in:   "https://maps.example.com/wms?SERVICE=WMS&REQUEST=GetCapabilities&VERSION=1.1.1",
			want: "https://maps.example.com/wms?SERVICE=WMS&REQUEST=GetCapabilities&VERSION=1.1.1",
		},
		{
			name: "partial triple is rebuilt",
			in:   "https://maps.example.com/wms?service=WMS",
			want: "https://maps.example.com/wms?request=GetCapabilities&service=WMS&version=1.3.0",
		},
		{
			name: "relative url falls back to concatenation",
			in:   "/geoserver/wms",
			want: "/geoserver/wms?service=WMS&request=GetCapabilities&version=1.3.0",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := BuildCapabilitiesURL(tc.in); got != tc.want {
				t.Fatalf("BuildCapabilitiesURL(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestBuildCapabilitiesURLIdempotent(t *testing.T) {
	in := "https://maps.example.com/wms?foo=bar"
	once := BuildCapabilitiesURL(in)
	if got := BuildCapabilitiesURL(once); got != once {
		t.Fatalf("second application changed the URL: %q -> %q", once, got)
	}
}

func TestFetchSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("service") != "WMS" || q.Get("request") != "GetCapabilities" {
			t.Errorf("unexpected query: %s", r.URL.RawQuery)
		}
		if accept := r.Header.Get("Accept"); !strings.Contains(accept, "application/xml") {
			t.Errorf("accept header = %q", accept)
		}
		w.Header().Set("Content-Type", "text/xml")
		_, _ = w.Write([]byte(twoLayerDoc))
	}))
	t.Cleanup(srv.Close)

	f := NewFetcher(nil, srv.Client(), 5*time.Second, 0, false)
	v := f.Fetch(context.Background(), srv.URL)
	if !v.Valid {
		t.Fatalf("errors: %v", v.Errors)
	}
	if len(v.Capabilities.Layers) != 2 {
		t.Fatalf("layers = %d", len(v.Capabilities.Layers))
	}
}

func TestFetchNotFoundIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		http.NotFound(w, nil)
	}))
	t.Cleanup(srv.Close)

	f := NewFetcher(nil, srv.Client(), 5*time.Second, 3, false)
	v := f.Fetch(context.Background(), srv.URL)
	if v.Valid {
		t.Fatal("expected invalid")
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("server called %d times, want 1", got)
	}
	if len(v.Errors) == 0 || !strings.Contains(v.Errors[0], "not found") {
		t.Fatalf("errors = %v", v.Errors)
	}
}

func TestFetchRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Type", "text/xml")
		_, _ = w.Write([]byte(twoLayerDoc))
	}))
	t.Cleanup(srv.Close)

	f := NewFetcher(nil, srv.Client(), 5*time.Second, 2, false)
	v := f.Fetch(context.Background(), srv.URL)
	if !v.Valid {
		t.Fatalf("errors after retries: %v", v.Errors)
	}
	if got := calls.Load(); got != 3 {
		t.Fatalf("server called %d times, want 3", got)
	}
}

func TestFetchExhaustedRetriesReportServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	f := NewFetcher(nil, srv.Client(), 5*time.Second, 1, false)
	v := f.Fetch(context.Background(), srv.URL)
	if v.Valid {
		t.Fatal("expected invalid")
	}
	if len(v.Errors) == 0 || !strings.Contains(v.Errors[0], "server error (500)") {
		t.Fatalf("errors = %v", v.Errors)
	}
}

func TestFetchTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	addr := srv.URL
	srv.Close()

	f := NewFetcher(nil, &http.Client{}, time.Second, 0, false)
	v := f.Fetch(context.Background(), addr)
	if v.Valid {
		t.Fatal("expected invalid")
	}
	if v.Capabilities != nil {
		t.Fatal("no fallback expected when disabled")
	}
	if len(v.Errors) == 0 || !strings.Contains(v.Errors[0], "network error") {
		t.Fatalf("errors = %v", v.Errors)
	}
}

func TestFetchMockFallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	addr := srv.URL
	srv.Close()

	f := NewFetcher(nil, &http.Client{}, time.Second, 0, true)
	v := f.Fetch(context.Background(), addr)
	if !v.Valid {
		t.Fatalf("expected simulated fallback, errors: %v", v.Errors)
	}
	if v.Capabilities == nil || len(v.Capabilities.Layers) != 2 {
		t.Fatalf("capabilities = %+v", v.Capabilities)
	}
	for _, l := range v.Capabilities.Layers {
		if !strings.HasPrefix(l.Name, "simulated_") {
			t.Fatalf("fallback layer %q lacks simulated_ prefix", l.Name)
		}
	}
	if len(v.Warnings) == 0 || !strings.Contains(v.Warnings[0], "simulated") {
		t.Fatalf("warnings = %v", v.Warnings)
	}
	// Fallback still surfaces the underlying failure.
	if len(v.Errors) == 0 {
		t.Fatal("expected the transport error to be reported alongside the fallback")
	}
}

func TestFetchTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		<-release
	}))
	t.Cleanup(func() {
		close(release)
		srv.Close()
	})

	f := NewFetcher(nil, srv.Client(), 100*time.Millisecond, 0, false)
	v := f.Fetch(context.Background(), srv.URL)
	if v.Valid {
		t.Fatal("expected timeout failure")
	}
	if len(v.Errors) == 0 || !strings.Contains(v.Errors[0], "timed out") {
		t.Fatalf("errors = %v", v.Errors)
	}
}

func TestFetchRespectsCallerCancellation(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	f := NewFetcher(nil, srv.Client(), time.Second, 5, false)
	v := f.Fetch(ctx, srv.URL)
	if v.Valid {
		t.Fatal("expected failure")
	}
	if got := calls.Load(); got > 1 {
		t.Fatalf("server called %d times after cancellation, want at most 1", got)
	}
}

func TestMockCapabilitiesShape(t *testing.T) {
	caps := MockCapabilities("https://unreachable.example.com/wms")
	if caps.Version != "1.3.0" {
		t.Fatalf("version = %q", caps.Version)
	}
	if !strings.Contains(caps.ServiceTitle, "unreachable.example.com") {
		t.Fatalf("title = %q", caps.ServiceTitle)
	}
	if len(caps.Layers) != 2 {
		t.Fatalf("layers = %d", len(caps.Layers))
	}
	if caps.Layers[0].BoundingBox == nil || caps.Layers[0].BoundingBox.MinX != -180 {
		t.Fatalf("bbox = %+v", caps.Layers[0].BoundingBox)
	}
	if _, err := url.Parse(caps.GetMapURL); err != nil {
		t.Fatalf("getmap url: %v", err)
	}
}
