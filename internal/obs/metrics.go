package obs

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTP metrics
var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

// Domain metrics
var (
	authzDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authz_decisions_total",
			Help: "Permission resolver decisions by outcome and reason.",
		},
		[]string{"outcome", "reason"},
	)

	auditAppends = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audit_appends_total",
			Help: "Audit ledger append attempts by result.",
		},
		[]string{"result"},
	)

	activityRecords = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "activity_records_total",
			Help: "Activity log entries recorded by status.",
		},
		[]string{"status"},
	)

	anomalyFlags = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "anomaly_flags_total",
			Help: "Anomaly flags emitted by detector type and risk.",
		},
		[]string{"detector", "risk"},
	)

	anomalyScanDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "anomaly_scan_duration_seconds",
		Help:    "Duration of anomaly detector scans.",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
	})
)

var initOnce sync.Once

// Init registers all collectors in the default registry. Safe to call more than once.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpInFlight, httpRequestsTotal, httpRequestDuration,
			authzDecisions, auditAppends, activityRecords, anomalyFlags, anomalyScanDuration,
		)
	})
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveDecision counts a resolver outcome.
func ObserveDecision(allowed bool, reason string) {
	outcome := "deny"
	if allowed {
		outcome = "allow"
	}
	authzDecisions.WithLabelValues(outcome, reason).Inc()
}

// ObserveAuditAppend counts a ledger append attempt.
func ObserveAuditAppend(err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	auditAppends.WithLabelValues(result).Inc()
}

// ObserveActivity counts a recorded activity entry.
func ObserveActivity(status string) {
	activityRecords.WithLabelValues(status).Inc()
}

// ObserveFlag counts an emitted anomaly flag.
func ObserveFlag(detector, risk string) {
	anomalyFlags.WithLabelValues(detector, risk).Inc()
}

// ObserveScan records how long a detector scan took.
func ObserveScan(d time.Duration) {
	anomalyScanDuration.Observe(d.Seconds())
}

// Instrument measures request rate, latency and in-flight count.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpInFlight.Dec()
	})
}

// CanonicalPath collapses identifiers in request paths so metric label
// cardinality stays bounded.
func CanonicalPath(raw string) string {
	if i := strings.IndexByte(raw, '?'); i >= 0 {
		raw = raw[:i]
	}
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	if len(parts) >= 3 && parts[0] == "v1" && parts[1] == "actors" {
		parts[2] = ":id"
		if len(parts) >= 5 && parts[3] == "permissions" && parts[4] != "events" && parts[4] != "ws" {
			parts[4] = ":module"
		}
	}
	return "/" + strings.Join(parts, "/")
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

// Flush keeps streaming handlers working behind the instrumentation wrapper.
func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// Hijack lets WebSocket upgrades pass through the wrapper.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("hijacking not supported")
	}
	return h.Hijack()
}
