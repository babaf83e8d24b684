package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "injection_requests_total",
			Help: "Total HTTP requests",
		}, []string{"code"},
	)
	Latency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "injection_request_duration_seconds",
		Help:    "Request latency seconds",
		Buckets: prometheus.DefBuckets,
	})
	InFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "injection_in_flight",
		Help: "In-flight HTTP requests",
	})
	RequestErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "injection_request_errors_total",
			Help: "Total errors by type",
		}, []string{"type"},
	)
	ResolveTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "injection_resolve_total",
			Help: "Registry resolve calls by placement",
		}, []string{"placement"},
	)
	ResolvedItems = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "injection_resolved_items",
		Help:    "Eligible items returned per resolve",
		Buckets: []float64{0, 1, 2, 5, 10, 25, 50},
	}, []string{"placement"})
	EmitFaults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "injection_emit_faults_total",
			Help: "Snippets suppressed because they failed to render",
		}, []string{"language"},
	)
	GateStorageErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "injection_gate_storage_errors_total",
			Help: "Frequency gate storage failures that failed open",
		}, []string{"op"},
	)
	SnapshotBuilds = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "injection_snapshot_builds_total",
			Help: "Registry snapshot rebuilds by result",
		}, []string{"result"},
	)
)

func init() {
	prometheus.MustRegister(
		RequestsTotal, Latency, InFlight, RequestErrors,
		ResolveTotal, ResolvedItems, EmitFaults, GateStorageErrors, SnapshotBuilds,
	)
}

func MetricsHandler() http.Handler { return promhttp.Handler() }

type rec struct {
	http.ResponseWriter
	code int
}

func (r *rec) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

func Measure(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		InFlight.Inc()
		defer InFlight.Dec()

		rr := &rec{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(rr, r)

		Latency.Observe(time.Since(start).Seconds())
		RequestsTotal.WithLabelValues(strconv.Itoa(rr.code)).Inc()
	})
}
