package observability

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

const namespace = "channel"

var (
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "http_requests_total", Help: "HTTP requests."},
		[]string{"route", "method", "status"},
	)
	HTTPLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace, Name: "http_request_duration_seconds",
			Help:    "HTTP request duration seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "method"},
	)
	ExternalRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "external_requests_total", Help: "Outbound gateway requests."},
		[]string{"service", "operation", "status"},
	)
	ExternalLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace, Name: "external_request_duration_seconds",
			Help:    "Outbound gateway request duration seconds.",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"service", "operation"},
	)
	QueueItems = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "queue_items_total", Help: "Sync queue item outcomes."},
		[]string{"outcome"}, // outcome: synced|retried|failed|discarded
	)
	EnqueueEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "enqueue_events_total", Help: "Rate-change notifications."},
		[]string{"event"}, // event: accepted|dropped|failed
	)
	GatewayRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "gateway_rejections_total", Help: "Per-item rejections returned by the gateway."},
		[]string{"source"}, // source: response|webhook
	)
	JobRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "job_runs_total", Help: "Periodic job runs."},
		[]string{"job", "result"}, // result: ok|error|skipped
	)
	JobLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace, Name: "job_duration_seconds",
			Help:    "Periodic job duration seconds.",
			Buckets: []float64{.1, .5, 1, 5, 15, 60, 300},
		},
		[]string{"job"},
	)
	LockEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "lock_events_total", Help: "Distributed run-lock events."},
		[]string{"lock", "event"}, // event: acquired|busy|released|error
	)
)

func InitRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		HTTPRequests, HTTPLatency,
		ExternalRequests, ExternalLatency,
		QueueItems, EnqueueEvents, GatewayRejections,
		JobRuns, JobLatency, LockEvents,
	)
	return reg
}

func MetricsHandler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on a separate listener when addr is set.
func Serve(addr string, reg *prometheus.Registry) {
	if addr == "" {
		return // disabled
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", MetricsHandler(reg))

	go func() {
		srv := &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		log.Info().Str("addr", addr).Msg("metrics server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("metrics server failed")
		}
	}()
}

func ObserveHTTP(route, method string, status int, dur time.Duration) {
	HTTPRequests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	HTTPLatency.WithLabelValues(route, method).Observe(dur.Seconds())
}

func ObserveExternal(service, operation string, status int, dur time.Duration) {
	ExternalRequests.WithLabelValues(service, operation, strconv.Itoa(status)).Inc()
	ExternalLatency.WithLabelValues(service, operation).Observe(dur.Seconds())
}

func ObserveQueue(outcome string, n int) {
	if n > 0 {
		QueueItems.WithLabelValues(outcome).Add(float64(n))
	}
}

func ObserveEnqueue(event string) { EnqueueEvents.WithLabelValues(event).Inc() }

func ObserveRejections(source string, n int) {
	if n > 0 {
		GatewayRejections.WithLabelValues(source).Add(float64(n))
	}
}

func ObserveJob(job string, err error, dur time.Duration) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	JobRuns.WithLabelValues(job, result).Inc()
	JobLatency.WithLabelValues(job).Observe(dur.Seconds())
}

func ObserveJobSkipped(job string) { JobRuns.WithLabelValues(job, "skipped").Inc() }

func ObserveLock(lock, event string) { LockEvents.WithLabelValues(lock, event).Inc() }

func LabelErr(err error) string {
	if err == nil {
		return "none"
	}
	return fmt.Sprintf("%T", err)
}
