// Package metrics exposes the harvester's Prometheus metrics over HTTP.
// Collectors are defined in their own packages (client, ratelimit, cache,
// harvest, consolidate) and registered through promauto.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Path is where metrics are served.
const Path = "/metrics"

// Handler returns the HTTP handler for the default gatherer.
func Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle(Path, promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

// Listen binds addr and returns the listener, so callers learn the port
// before serving.
func Listen(addr string) (net.Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}
	return ln, nil
}

// Serve serves Handler on ln until ctx is done, then shuts down gracefully.
func Serve(ctx context.Context, ln net.Listener) error {
	logger := log.With().Str("component", "metrics").Logger()

	srv := &http.Server{
		Handler:           Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", ln.Addr().String()).Msg("Serving metrics")
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown metrics server: %w", err)
		}
		logger.Info().Msg("Metrics server stopped")
		return nil
	}
}

// Metrics Documentation
//
// Request Metrics (pkg/client):
//   - harvester_requests_total{status} (Counter): requests by HTTP status
//   - harvester_request_duration_seconds (Histogram): request duration
//   - harvester_errors_total{class} (Counter): failed attempts by error class
//   - harvester_retries_total{error_class} (Counter): retries by error class
//   - harvester_retry_backoff_seconds{error_class} (Histogram): backoff delays
//   - harvester_retry_exhausted_total{error_class} (Counter): requests that used every attempt
//
// Rate Limit Metrics (pkg/ratelimit):
//   - harvester_cooldowns_total{status} (Counter): shared cooldowns requested by the endpoint
//   - harvester_cooldown_wait_seconds (Histogram): time spent in shared cooldowns
//   - harvester_rate_limit_wait_seconds (Histogram): time spent on the token bucket
//
// Cache Metrics (pkg/cache):
//   - harvester_cache_hits_total, harvester_cache_misses_total (Counter)
//   - harvester_cache_bytes_total{direction} (Counter)
//   - harvester_cache_errors_total{operation} (Counter)
//
// Harvest Metrics (pkg/harvest):
//   - harvester_partitions_total{status} (Counter): partitions by final status
//   - harvester_rows_written_total (Counter): records appended to partition files
//   - harvester_page_size_degradations_total (Counter): page size halvings
//   - harvester_partition_duration_seconds (Histogram)
//   - harvester_active_workers (Gauge)
//
// Consolidation Metrics (pkg/consolidate):
//   - harvester_consolidated_records_total{outcome} (Counter): kept or dropped
//
// Example Prometheus Queries:
//
//   # Capacity failure rate
//   rate(harvester_errors_total{class="capacity"}[5m])
//
//   # Harvest throughput
//   rate(harvester_rows_written_total[5m])
//
//   # P95 request latency
//   histogram_quantile(0.95, rate(harvester_request_duration_seconds_bucket[5m]))
