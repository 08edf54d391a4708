// Package metrics exposes Prometheus counters for walks, hops and question generation.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// WalksTotal counts finished walks by status (ok, dead_end, error)
	WalksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hopwalk_walks_total",
			Help: "Total number of random walks by terminal status",
		},
		[]string{"status"},
	)

	// WalkHops records how many hops each walk took before it ended
	WalkHops = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "hopwalk_walk_hops",
			Help:    "Number of hops taken per walk",
			Buckets: prometheus.LinearBuckets(0, 1, 11),
		},
	)

	// WalkDuration measures wall time of a single walk, store round trips included
	WalkDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "hopwalk_walk_duration_seconds",
			Help:    "Duration of a single walk in seconds",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10), // 0.1ms to ~26s
		},
	)

	// GenerationsTotal counts question generation calls by provider and result (ok, error)
	GenerationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hopwalk_generations_total",
			Help: "Total number of question generation calls",
		},
		[]string{"provider", "result"},
	)

	// GenerationDuration measures LLM latency, rate limiter wait included
	GenerationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hopwalk_generation_duration_seconds",
			Help:    "Duration of question generation calls in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"provider"},
	)
)

// ObserveWalk records one finished walk
func ObserveWalk(status string, hops int, elapsed time.Duration) {
	WalksTotal.WithLabelValues(status).Inc()
	WalkHops.Observe(float64(hops))
	WalkDuration.Observe(elapsed.Seconds())
}

// ObserveGeneration records one question generation call
func ObserveGeneration(provider string, err error, elapsed time.Duration) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	GenerationsTotal.WithLabelValues(provider, result).Inc()
	GenerationDuration.WithLabelValues(provider).Observe(elapsed.Seconds())
}

// Handler returns the /metrics handler for the default registry
func Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

// Serve exposes /metrics on addr until ctx is done
func Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
