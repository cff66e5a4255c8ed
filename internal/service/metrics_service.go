package service

import (
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsService encapsulates Prometheus instrumentation. A nil service records nothing.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	ingestRows      *prometheus.CounterVec
	ingestFailures  prometheus.Counter
	notices         *prometheus.CounterVec
	runDuration     *prometheus.HistogramVec
	lastWatermark   prometheus.Gauge
}

// NewMetricsService registers the collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	ingestRows := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "edunotice_ingest_rows_total",
		Help: "Crawl rows processed by outcome",
	}, []string{"outcome"})

	ingestFailures := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "edunotice_ingest_subscription_failures_total",
		Help: "Subscriptions whose replay did not commit",
	})

	notices := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "edunotice_notices_total",
		Help: "Notification decisions by kind and outcome",
	}, []string{"kind", "outcome"})

	runDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "edunotice_run_duration_seconds",
		Help:    "Duration of ingest-and-notify runs",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
	}, []string{"status"})

	lastWatermark := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "edunotice_last_watermark_timestamp_seconds",
		Help: "Unix time of the last successful ingestion marker",
	})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, ingestRows, ingestFailures, notices, runDuration, lastWatermark, goroutines)

	return &MetricsService{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		ingestRows:      ingestRows,
		ingestFailures:  ingestFailures,
		notices:         notices,
		runDuration:     runDuration,
		lastWatermark:   lastWatermark,
	}
}

// Registry exposes the underlying registry.
func (m *MetricsService) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// ObserveHTTPRequest records request metrics.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
}

// ObserveIngest records row outcomes of one ingestion pass.
func (m *MetricsService) ObserveIngest(inserted, skipped, failedSubscriptions int) {
	if m == nil {
		return
	}
	m.ingestRows.WithLabelValues("inserted").Add(float64(inserted))
	m.ingestRows.WithLabelValues("skipped").Add(float64(skipped))
	m.ingestFailures.Add(float64(failedSubscriptions))
}

// ObserveNotice records one notification decision.
func (m *MetricsService) ObserveNotice(kind, outcome string) {
	if m == nil {
		return
	}
	m.notices.WithLabelValues(kind, outcome).Inc()
}

// ObserveRun records run duration and, on success, the watermark.
func (m *MetricsService) ObserveRun(status string, duration time.Duration, watermark *time.Time) {
	if m == nil {
		return
	}
	m.runDuration.WithLabelValues(status).Observe(duration.Seconds())
	if watermark != nil {
		m.lastWatermark.Set(float64(watermark.Unix()))
	}
}
