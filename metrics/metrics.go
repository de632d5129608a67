package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	fetches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "session",
			Subsystem: "store",
			Name:      "fetches_total",
			Help:      "Store fetches by resource and outcome (ok, empty, error, stale).",
		},
		[]string{"resource", "outcome"},
	)
	mutations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "session",
			Subsystem: "store",
			Name:      "mutations_total",
			Help:      "Store mutations by resource, operation and result kind.",
		},
		[]string{"resource", "op", "kind"},
	)
	forcedLogouts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "session",
			Subsystem: "reconciler",
			Name:      "forced_logouts_total",
			Help:      "Sessions torn down by the reconciler.",
		},
		[]string{"reason"},
	)
	notices = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "session",
			Subsystem: "notice",
			Name:      "emitted_total",
			Help:      "User-visible notices by category.",
		},
		[]string{"category"},
	)
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "session",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Persistence API requests.",
		},
		[]string{"method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "session",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Persistence API request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(fetches, mutations, forcedLogouts, notices, httpRequests, httpDuration)
	})
}

func RecordFetch(resource, outcome string) {
	Register()
	fetches.WithLabelValues(resource, outcome).Inc()
}

func RecordMutation(resource, op, kind string) {
	Register()
	mutations.WithLabelValues(resource, op, kind).Inc()
}

func RecordForcedLogout(reason string) {
	Register()
	forcedLogouts.WithLabelValues(reason).Inc()
}

func RecordNotice(category string) {
	Register()
	notices.WithLabelValues(category).Inc()
}

func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	Register()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(method, path, statusLabel).Observe(duration.Seconds())
}
