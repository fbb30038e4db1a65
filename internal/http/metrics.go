package http

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"bilimusic/internal/core"
)

type Metrics struct {
	RequestsTotal        *prometheus.CounterVec
	RequestDuration      *prometheus.HistogramVec
	StageDuration        *prometheus.HistogramVec
	ErrorsTotal          *prometheus.CounterVec
	ConversionsTotal     *prometheus.CounterVec
	BytesServedTotal     prometheus.Counter
	FloodRejectionsTotal prometheus.Counter
	ActiveRequests       prometheus.Gauge
}

func newMetrics(registerer prometheus.Registerer) *Metrics {
	metrics := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bilimusic_requests_total",
				Help: "Total number of API requests",
			},
			[]string{"route", "code"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "bilimusic_request_duration_seconds",
				Help:    "Time spent serving API requests",
				Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
			},
			[]string{"route"},
		),
		StageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "bilimusic_stage_duration_seconds",
				Help:    "Time spent in each pipeline stage",
				Buckets: []float64{0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"stage", "status"},
		),
		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bilimusic_errors_total",
				Help: "Total number of failed requests by error kind",
			},
			[]string{"kind"},
		),
		ConversionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bilimusic_conversions_total",
				Help: "Total number of audio files served",
			},
			[]string{"format"},
		),
		BytesServedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "bilimusic_bytes_served_total",
				Help: "Total bytes of converted audio streamed to clients",
			},
		),
		FloodRejectionsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "bilimusic_flood_rejections_total",
				Help: "Total number of requests rejected by the floodgate",
			},
		),
		ActiveRequests: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "bilimusic_active_requests",
				Help: "Number of API requests being served",
			},
		),
	}

	registerer.MustRegister(
		metrics.RequestsTotal,
		metrics.RequestDuration,
		metrics.StageDuration,
		metrics.ErrorsTotal,
		metrics.ConversionsTotal,
		metrics.BytesServedTotal,
		metrics.FloodRejectionsTotal,
		metrics.ActiveRequests,
	)

	return metrics
}

// ObserveStage implements core.StageObserver.
func (m *Metrics) ObserveStage(stage string, duration time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = string(core.Classify(err))
	}
	m.StageDuration.WithLabelValues(stage, status).Observe(duration.Seconds())
}

func (m *Metrics) recordConversion(format string, bytes int64) {
	m.ConversionsTotal.WithLabelValues(format).Inc()
	m.BytesServedTotal.Add(float64(bytes))
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) instrument(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.metrics.ActiveRequests.Inc()
		defer s.metrics.ActiveRequests.Dec()

		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(recorder, r)

		s.metrics.RequestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		s.metrics.RequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
}
