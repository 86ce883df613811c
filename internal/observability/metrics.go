package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~20s
		},
		[]string{"method", "route", "status"},
	)

	capabilityFetchSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "wms_capability_fetch_duration_seconds",
			Help:    "Latency of WMS GetCapabilities round-trips in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		},
		[]string{"outcome"},
	)

	layerStoreOpSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "layerstore_operation_duration_seconds",
			Help:    "Latency of backend layer store calls in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		},
		[]string{"op", "status"},
	)

	reconcileTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "layer_reconcile_total",
			Help: "Reconciliation runs by outcome.",
		},
		[]string{"outcome"},
	)

	reconcileCreatedLayers = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "layer_reconcile_created_layers_total",
			Help: "Persisted layer records created during reconciliation.",
		},
	)

	snapshotOpTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "snapshot_op_total",
			Help: "Snapshot store operations by op and status.",
		},
		[]string{"op", "status"},
	)

	activeLayers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "active_layers",
			Help: "Layers currently composited on the map.",
		},
	)

	compositorOpsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "compositor_ops_total",
			Help: "Drawing surface operations by op and status.",
		},
		[]string{"op", "status"},
	)

	invalidationTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "invalidation_events_total",
			Help: "Service invalidation events by outcome.",
		},
		[]string{"outcome"},
	)
)

var registerOnce sync.Once

// Init re-registers the promauto collectors onto the given registerer so a
// custom registry (the metrics Provider's) serves them. Safe to call once.
func Init(reg prometheus.Registerer) {
	if reg == nil {
		return
	}
	registerOnce.Do(func() {
		reg.MustRegister(
			httpRequestsTotal,
			httpRequestDurationSeconds,
			capabilityFetchSeconds,
			layerStoreOpSeconds,
			reconcileTotal,
			reconcileCreatedLayers,
			snapshotOpTotal,
			activeLayers,
			compositorOpsTotal,
			invalidationTotal,
		)
	})
}

func ObserveHTTP(method, route string, status int, durationSeconds float64) {
	st := strconv.Itoa(status)
	httpRequestsTotal.WithLabelValues(method, route, st).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route, st).Observe(durationSeconds)
}

func ObserveCapabilityFetch(outcome string, d time.Duration) {
	capabilityFetchSeconds.WithLabelValues(outcome).Observe(d.Seconds())
}

func ObserveLayerStoreOp(op string, err error, d time.Duration) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	layerStoreOpSeconds.WithLabelValues(op, status).Observe(d.Seconds())
}

func ObserveReconcile(err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	reconcileTotal.WithLabelValues(outcome).Inc()
}

func AddReconcileCreated(n int) {
	if n > 0 {
		reconcileCreatedLayers.Add(float64(n))
	}
}

func IncSnapshotOp(op, status string) {
	snapshotOpTotal.WithLabelValues(op, status).Inc()
}

func SetActiveLayers(n int) {
	activeLayers.Set(float64(n))
}

func IncCompositorOp(op, status string) {
	compositorOpsTotal.WithLabelValues(op, status).Inc()
}

func IncInvalidation(outcome string) {
	invalidationTotal.WithLabelValues(outcome).Inc()
}
