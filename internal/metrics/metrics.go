// Package metrics exposes failover collectors through controller-runtime's
// Prometheus registry and serves them together with health endpoints.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"sigs.k8s.io/controller-runtime/pkg/healthz"
	ctrlmetrics "sigs.k8s.io/controller-runtime/pkg/metrics"
)

var (
	RunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dns_failover_runs_total",
			Help: "Total number of reconcile runs by result",
		},
		[]string{"result"},
	)

	PrimaryHealthy = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "dns_failover_primary_healthy",
			Help: "Outcome of the last primary probe (1 = healthy, 0 = unhealthy)",
		},
	)

	ProbeDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dns_failover_probe_duration_seconds",
			Help:    "Duration of primary health probes",
			Buckets: prometheus.DefBuckets,
		},
	)

	LastSuccessTimestamp = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "dns_failover_last_success_timestamp_seconds",
			Help: "Unix time of the last reconcile that finished without error",
		},
	)
)

func init() {
	ctrlmetrics.Registry.MustRegister(
		RunsTotal,
		PrimaryHealthy,
		ProbeDuration,
		LastSuccessTimestamp,
	)
}

// Handler returns the /metrics, /healthz and /readyz routes. ready decides
// readiness; liveness is a plain ping.
func Handler(ready healthz.Checker) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(ctrlmetrics.Registry, promhttp.HandlerOpts{}))
	mux.Handle("/healthz", http.StripPrefix("/healthz", &healthz.Handler{Checks: map[string]healthz.Checker{"ping": healthz.Ping}}))
	mux.Handle("/readyz", http.StripPrefix("/readyz", &healthz.Handler{Checks: map[string]healthz.Checker{"reconcile": ready}}))
	return mux
}

// Serve runs the metrics server on addr until ctx is cancelled.
func Serve(ctx context.Context, log logr.Logger, addr string, ready healthz.Checker) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           Handler(ready),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("serving metrics", "address", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
