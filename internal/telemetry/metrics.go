package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	Registry = prometheus.NewRegistry()

	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "zephyrmesh",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests.",
		},
		[]string{"op", "status"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "zephyrmesh",
			Name:      "request_duration_seconds",
			Help:      "Latency of HTTP requests.",
			// 1ms .. ~4s.
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 13),
		},
		[]string{"op"},
	)

	InFlight = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "zephyrmesh",
			Name:      "in_flight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
		[]string{"op"},
	)

	// ---- Round engine ----
	RoundsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "zephyrmesh",
			Name:      "rounds_completed_total",
			Help:      "Number of rounds this node has completed.",
		},
		[]string{"node"},
	)

	CurrentRound = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "zephyrmesh",
			Name:      "current_round",
			Help:      "Round the node is currently collecting messages for.",
		},
		[]string{"node"},
	)

	KnownHosts = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "zephyrmesh",
			Name:      "known_hosts",
			Help:      "Number of entries in the distance table, self included.",
		},
		[]string{"node"},
	)

	ActiveNeighbors = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "zephyrmesh",
			Name:      "active_neighbors",
			Help:      "Neighbors that have not announced completion.",
		},
		[]string{"node"},
	)

	BufferedMessages = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "zephyrmesh",
			Name:      "buffered_messages",
			Help:      "Messages held back because their round is ahead of the node.",
		},
		[]string{"node"},
	)

	Terminated = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "zephyrmesh",
			Name:      "terminated",
			Help:      "1 once the node detected quiescence.",
		},
		[]string{"node"},
	)

	MessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "zephyrmesh",
			Name:      "messages_total",
			Help:      "Inbound protocol messages by outcome.",
		},
		[]string{"node", "outcome"},
	)

	SendRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "zephyrmesh",
			Name:      "send_retries_total",
			Help:      "Neighbor sends retried after a timeout or refused connection.",
		},
		[]string{"node"},
	)

	DecodeErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "zephyrmesh",
			Name:      "decode_errors_total",
			Help:      "Inbound payloads dropped because they did not decode to a valid message.",
		},
		[]string{"transport"},
	)

	RoundDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "zephyrmesh",
			Name:      "round_duration_seconds",
			Help:      "Wall time between consecutive round advances.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
		},
		[]string{"node"},
	)

	// ---- Process / build info ----
	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "zephyrmesh",
			Name:      "build_info",
			Help:      "Build info (constant 1, labeled by version and git_sha).",
		},
		[]string{"version", "git_sha"},
	)

	startTime = time.Now()
	uptime    = prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: "zephyrmesh",
			Name:      "uptime_seconds",
			Help:      "Process uptime in seconds.",
		},
		func() float64 { return time.Since(startTime).Seconds() },
	)
)

// Message outcomes used as the "outcome" label of MessagesTotal.
const (
	OutcomeAdmitted  = "admitted"
	OutcomeDone      = "done"
	OutcomeBuffered  = "buffered"
	OutcomeDuplicate = "duplicate"
	OutcomeStale     = "stale"
	OutcomeLate      = "after_shutdown"
	OutcomeDropped   = "dropped"
)

func init() {
	Registry.MustRegister(
		RequestsTotal, RequestDuration, InFlight,
		RoundsTotal, CurrentRound, KnownHosts, ActiveNeighbors, BufferedMessages, Terminated,
		MessagesTotal, SendRetries, DecodeErrors, RoundDuration,
		buildInfo, uptime,
	)
}

// MetricsHandler exposes /metrics. Mount it with mux.Handle("/metrics", telemetry.MetricsHandler()).
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// SetBuildInfo should be called once at startup, e.g. with ldflags-provided values.
func SetBuildInfo(version, gitSHA string) {
	buildInfo.WithLabelValues(version, gitSHA).Set(1)
}

// NodeLabel renders a node id as the "node" label value.
func NodeLabel(id int) string {
	return strconv.Itoa(id)
}

// ---- Middleware instrumentation ----

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Instrument wraps an http.Handler to record metrics under the provided "op" label.
// Example:
//
//	mux.Handle("/info", telemetry.Instrument("info", http.HandlerFunc(n.Info)))
func Instrument(op string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sw := &statusWriter{ResponseWriter: w, status: 200}
		start := time.Now()

		InFlight.WithLabelValues(op).Inc()
		defer InFlight.WithLabelValues(op).Dec()

		next.ServeHTTP(sw, r)

		class := strconv.Itoa(sw.status/100) + "xx"
		RequestsTotal.WithLabelValues(op, class).Inc()
		RequestDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	})
}
