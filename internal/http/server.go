package http

import (
	"context"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"plexsync/internal/core"
)

// Metrics exports sync counters to Prometheus. It implements core.Metrics.
type Metrics struct {
	registry *prometheus.Registry

	JobsTotal       *prometheus.CounterVec
	JobDuration     *prometheus.HistogramVec
	TracksTotal     *prometheus.CounterVec
	CacheLookups    *prometheus.CounterVec
	LastRunUnixtime prometheus.Gauge
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		JobsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "plexsync_jobs_total",
				Help: "Total number of sync jobs by resulting action",
			},
			[]string{"action"},
		),
		JobDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "plexsync_job_duration_seconds",
				Help:    "Time spent per sync job",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"action"},
		),
		TracksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "plexsync_tracks_total",
				Help: "Total number of source tracks by match result",
			},
			[]string{"result"},
		),
		CacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "plexsync_cache_lookups_total",
				Help: "Total number of cache lookups by kind and result",
			},
			[]string{"kind", "result"},
		),
		LastRunUnixtime: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "plexsync_last_run_timestamp_seconds",
				Help: "Unix time of the last completed sync run",
			},
		),
	}

	m.registry.MustRegister(
		m.JobsTotal,
		m.JobDuration,
		m.TracksTotal,
		m.CacheLookups,
		m.LastRunUnixtime,
	)

	return m
}

func (m *Metrics) JobCompleted(action core.SyncAction, duration time.Duration) {
	m.JobsTotal.WithLabelValues(action.String()).Inc()
	m.JobDuration.WithLabelValues(action.String()).Observe(duration.Seconds())
}

func (m *Metrics) TracksMatched(matched, unmatched int) {
	m.TracksTotal.WithLabelValues("matched").Add(float64(matched))
	m.TracksTotal.WithLabelValues("unmatched").Add(float64(unmatched))
}

func (m *Metrics) CacheLookup(kind string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookups.WithLabelValues(kind, result).Inc()
}

func (m *Metrics) RunCompleted() {
	m.LastRunUnixtime.SetToCurrentTime()
}

// Server exposes health probes and the metrics endpoint for serve mode.
type Server struct {
	config  core.ServerConfig
	logger  *zap.Logger
	server  *http.Server
	metrics *Metrics
	ready   atomic.Bool
}

func NewServer(config core.ServerConfig, logger *zap.Logger, metrics *Metrics) *Server {
	s := &Server{
		config:  config,
		logger:  logger.Named("http"),
		metrics: metrics,
	}

	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok","service":"plexsync"}`)) //nolint:errcheck
	})

	mux.HandleFunc("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if !s.ready.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"starting","service":"plexsync"}`)) //nolint:errcheck
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ready","service":"plexsync"}`)) //nolint:errcheck
	})

	mux.Handle("/metrics", promhttp.HandlerFor(metrics.registry, promhttp.HandlerOpts{}))

	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", config.Host, config.Port),
		Handler:      mux,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	}

	return s
}

// SetReady flips the readiness probe; serve mode marks ready once the
// catalogs are connected.
func (s *Server) SetReady(ready bool) {
	s.ready.Store(ready)
}

// Handler returns the server's mux, used by tests.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("Starting HTTP server", zap.String("addr", s.server.Addr))

	go func() {
		<-ctx.Done()
		s.logger.Info("Shutting down HTTP server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := s.server.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("Failed to shutdown HTTP server gracefully", zap.Error(err))
		}
	}()

	if err := s.server.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("HTTP server failed: %w", err)
	}
	return nil
}
