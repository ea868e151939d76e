// Package metrics exposes Prometheus collectors for storage routing and a
// standalone /metrics server.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "docstore"

// Outcome labels for BackendOperations.
const (
	OutcomeSuccess     = "success"
	OutcomeNotFound    = "not_found"
	OutcomeUnavailable = "unavailable"
	OutcomeError       = "error"
)

var (
	BackendOperations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "backend_operations_total",
		Help:      "Storage adapter calls by backend, operation and outcome.",
	}, []string{"backend", "operation", "outcome"})

	BackendOperationDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "backend_operation_duration_seconds",
		Help:      "Latency of storage adapter calls.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"backend", "operation"})

	UploadFallbacks = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "upload_fallbacks_total",
		Help:      "Uploads that succeeded on a backend other than the first one attempted.",
	})

	LastResortWrites = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "last_resort_writes_total",
		Help:      "Uploads forced onto local storage after every prioritized backend failed.",
	})
)

// ObserveBackendOp records one adapter call.
func ObserveBackendOp(backend, operation, outcome string, start time.Time) {
	BackendOperations.WithLabelValues(backend, operation, outcome).Inc()
	BackendOperationDuration.WithLabelValues(backend, operation).Observe(time.Since(start).Seconds())
}

// MetricsServer serves the collectors above plus Go runtime and process metrics.
type MetricsServer struct {
	registry *prometheus.Registry
	srv      *http.Server
}

// New builds a metrics server listening on addr. The service name becomes a
// constant label on the build info gauge.
func New(service, addr string) (*MetricsServer, error) {
	registry := prometheus.NewRegistry()

	buildInfo := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace:   namespace,
		Name:        "build_info",
		Help:        "Constant 1, labelled with the service name.",
		ConstLabels: prometheus.Labels{"service": service},
	})
	buildInfo.Set(1)

	for _, c := range []prometheus.Collector{
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		buildInfo,
		BackendOperations,
		BackendOperationDuration,
		UploadFallbacks,
		LastResortWrites,
	} {
		if err := registry.Register(c); err != nil {
			return nil, err
		}
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))

	return &MetricsServer{
		registry: registry,
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}, nil
}

// Handler returns the /metrics handler, for mounting elsewhere or testing.
func (m *MetricsServer) Handler() http.Handler {
	return m.srv.Handler
}

func (m *MetricsServer) ListenAndServe() error {
	return m.srv.ListenAndServe()
}

func (m *MetricsServer) Shutdown(ctx context.Context) error {
	return m.srv.Shutdown(ctx)
}
