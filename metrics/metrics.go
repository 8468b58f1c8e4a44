// Package metrics exposes Prometheus instrumentation for the image store
// service on a dedicated listener, kept separate from the API server so
// scrapes survive API drain.
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// StoreOps counts store operations by operation, scheme and outcome.
	StoreOps = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "imagestore_store_operations_total",
		Help: "Store operations by operation, scheme and outcome.",
	}, []string{"operation", "scheme", "outcome"})

	// BytesTransferred counts image payload bytes moved through the store
	// framework, by direction (in for add, out for get) and scheme.
	BytesTransferred = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "imagestore_bytes_transferred_total",
		Help: "Image bytes transferred by direction and scheme.",
	}, []string{"direction", "scheme"})
)

// MetricsServer serves the Prometheus scrape endpoint.
type MetricsServer struct {
	srv *http.Server
}

// New creates a metrics server listening on addr.
func New(name, addr string) (*MetricsServer, error) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return &MetricsServer{
		srv: &http.Server{Addr: addr, Handler: mux},
	}, nil
}

// ListenAndServe blocks serving scrapes until Shutdown.
func (s *MetricsServer) ListenAndServe() error {
	return s.srv.ListenAndServe()
}

// Shutdown gracefully stops the metrics listener.
func (s *MetricsServer) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
