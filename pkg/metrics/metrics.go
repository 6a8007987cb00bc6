package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

const namespace = "ptto115"

// Label names
const (
	LabelResult  = "result"
	LabelOutcome = "outcome"
)

// Metrics holds the collectors of the upload loop. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	rounds          prometheus.Counter
	filesDiscovered prometheus.Counter
	stabilityChecks *prometheus.CounterVec
	uploads         *prometheus.CounterVec
	cacheEntries    prometheus.Gauge
	uploadDuration  prometheus.Histogram
}

// New creates the collectors and registers them with reg.
// If reg is nil the collectors are created but not registered.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		rounds: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rounds_total",
			Help:      "Total number of completed polling rounds",
		}),
		filesDiscovered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "files_discovered_total",
			Help:      "Total number of files found by directory walks",
		}),
		stabilityChecks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stability_checks_total",
			Help:      "Stability check results",
		}, []string{LabelResult}),
		uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploads_total",
			Help:      "Instant upload attempts by outcome",
		}, []string{LabelOutcome}),
		cacheEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "hash_cache_entries",
			Help:      "Number of paths with a cached content hash",
		}),
		uploadDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upload_duration_seconds",
			Help:      "Duration of instant upload calls including local hashing",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.rounds,
			m.filesDiscovered,
			m.stabilityChecks,
			m.uploads,
			m.cacheEntries,
			m.uploadDuration,
		)
	}
	return m
}

// ObserveRound counts a finished round and the files it found
func (m *Metrics) ObserveRound(discovered int) {
	if m == nil {
		return
	}
	m.rounds.Inc()
	m.filesDiscovered.Add(float64(discovered))
}

// ObserveStability counts one stability check result ("stable", "unstable", "vanished", "error")
func (m *Metrics) ObserveStability(result string) {
	if m == nil {
		return
	}
	m.stabilityChecks.WithLabelValues(result).Inc()
}

// ObserveUpload records one dispatch outcome and how long it took
func (m *Metrics) ObserveUpload(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.uploads.WithLabelValues(outcome).Inc()
	m.uploadDuration.Observe(d.Seconds())
}

// SetCacheEntries publishes the hash cache size
func (m *Metrics) SetCacheEntries(n int) {
	if m == nil {
		return
	}
	m.cacheEntries.Set(float64(n))
}

// Serve exposes gatherer on addr at /metrics until ctx is cancelled
func Serve(ctx context.Context, addr string, gatherer prometheus.Gatherer, logger zerolog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", addr).Msg("metrics listener started")
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
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	}
}
