package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns a private registry; a nil *Metrics records nothing.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec
	refreshTotal      *prometheus.CounterVec
	refreshDuration   prometheus.Histogram
	samplesIngested   *prometheus.CounterVec
	readings          *prometheus.GaugeVec
	countdown         prometheus.Gauge
	alertsPublished   *prometheus.CounterVec
	cbState           *prometheus.GaugeVec
}

// NewMetrics registers every collector, including the Go and process collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		httpRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total count of HTTP requests processed by route and status.",
		}, []string{"route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request durations by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		refreshTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "plant_refresh_total",
			Help: "Dashboard refresh cycles by result.",
		}, []string{"result"}),
		refreshDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "plant_refresh_duration_seconds",
			Help:    "Histogram of refresh cycle durations.",
			Buckets: prometheus.DefBuckets,
		}),
		samplesIngested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "plant_samples_ingested_total",
			Help: "New telemetry samples accepted, by source.",
		}, []string{"source"}),
		readings: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "plant_reading",
			Help: "Latest reading per metric.",
		}, []string{"metric"}),
		countdown: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "plant_refresh_countdown_seconds",
			Help: "Seconds until the next scheduled refresh.",
		}),
		alertsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "plant_alerts_published_total",
			Help: "Moisture band change events by result.",
		}, []string{"result"}),
		cbState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "cb_state",
			Help: "Circuit breaker state gauge (0 closed, 1 half, 2 open).",
		}, []string{"target"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestsTotal,
		m.httpDuration,
		m.refreshTotal,
		m.refreshDuration,
		m.samplesIngested,
		m.readings,
		m.countdown,
		m.alertsPublished,
		m.cbState,
	)

	return m
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

// Hijack lets websocket upgrades pass through the middleware.
func (s *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := s.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return h.Hijack()
}

// Middleware records request counts and durations labelled by route template.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m == nil {
			next.ServeHTTP(w, r)
			return
		}
		route := "unmatched"
		if cur := mux.CurrentRoute(r); cur != nil {
			if tpl, err := cur.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		next.ServeHTTP(recorder, r)

		m.httpRequestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.httpDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Refresh records one refresh cycle and its outcome.
func (m *Metrics) Refresh(duration time.Duration, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.refreshTotal.WithLabelValues(result).Inc()
	m.refreshDuration.Observe(duration.Seconds())
}

// SamplesIngested counts accepted samples by source.
func (m *Metrics) SamplesIngested(source string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.samplesIngested.WithLabelValues(source).Add(float64(n))
}

// SetReading publishes the latest value of a metric.
func (m *Metrics) SetReading(metric string, v float64) {
	if m == nil {
		return
	}
	m.readings.WithLabelValues(metric).Set(v)
}

// SetCountdown publishes the seconds left until the next refresh.
func (m *Metrics) SetCountdown(seconds int) {
	if m == nil {
		return
	}
	m.countdown.Set(float64(seconds))
}

// AlertPublished counts reminder publish attempts by result.
func (m *Metrics) AlertPublished(success bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !success {
		result = "error"
	}
	m.alertsPublished.WithLabelValues(result).Inc()
}

// SetCircuitBreakerState publishes a breaker position for target.
func (m *Metrics) SetCircuitBreakerState(target string, state float64) {
	if m == nil {
		return
	}
	m.cbState.WithLabelValues(target).Set(state)
}
