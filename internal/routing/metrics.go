package routing

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/linnemanlabs/pager/internal/alert"
)

// Hooks are optional callbacks the engine fires as a route progresses.
type Hooks struct {
	OnClaim    func(claimed bool, err error)
	OnDispatch func(ch alert.Channel, dur time.Duration, err error)
	OnRoute    func(outcome Outcome, dur time.Duration)
	OnNotify   func(err error)
}

// Metrics holds Prometheus metrics for the routing subsystem.
type Metrics struct {
	RoutesTotal        *prometheus.CounterVec
	RouteDuration      *prometheus.HistogramVec
	ClaimsTotal        *prometheus.CounterVec
	DispatchesTotal    *prometheus.CounterVec
	DispatchDuration   *prometheus.HistogramVec
	PreferenceCache    *prometheus.CounterVec
	NotificationsTotal *prometheus.CounterVec
	PrunedRecordsTotal prometheus.Counter
}

// NewMetrics registers and returns routing metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RoutesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pager_routes_total",
			Help: "Total routed alerts by outcome.",
		}, []string{"outcome"}),
		RouteDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pager_route_duration_seconds",
			Help:    "End to end duration of a route call in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms .. ~10s
		}, []string{"outcome"}),
		ClaimsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pager_claims_total",
			Help: "Idempotency claims by result.",
		}, []string{"result"}),
		DispatchesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pager_dispatches_total",
			Help: "Provider dispatches by channel and status.",
		}, []string{"channel", "status"}),
		DispatchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pager_dispatch_duration_seconds",
			Help:    "Duration of provider calls in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 11), // 10ms .. ~10s
		}, []string{"channel"}),
		PreferenceCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pager_preference_cache_total",
			Help: "Preference cache lookups by result.",
		}, []string{"result"}),
		NotificationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pager_operator_notifications_total",
			Help: "Operator failure notifications by status.",
		}, []string{"status"}),
		PrunedRecordsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pager_idempotency_pruned_total",
			Help: "Expired idempotency records removed by the pruner.",
		}),
	}

	reg.MustRegister(
		m.RoutesTotal,
		m.RouteDuration,
		m.ClaimsTotal,
		m.DispatchesTotal,
		m.DispatchDuration,
		m.PreferenceCache,
		m.NotificationsTotal,
		m.PrunedRecordsTotal,
	)

	return m
}

// Hooks returns engine hooks that update the corresponding metrics.
func (m *Metrics) Hooks() Hooks {
	return Hooks{
		OnClaim: func(claimed bool, err error) {
			result := "claimed"
			switch {
			case err != nil:
				result = "error"
			case !claimed:
				result = "duplicate"
			}
			m.ClaimsTotal.WithLabelValues(result).Inc()
		},
		OnDispatch: func(ch alert.Channel, dur time.Duration, err error) {
			status := "success"
			if err != nil {
				status = "error"
			}
			m.DispatchesTotal.WithLabelValues(string(ch), status).Inc()
			m.DispatchDuration.WithLabelValues(string(ch)).Observe(dur.Seconds())
		},
		OnRoute: func(outcome Outcome, dur time.Duration) {
			m.RoutesTotal.WithLabelValues(string(outcome)).Inc()
			m.RouteDuration.WithLabelValues(string(outcome)).Observe(dur.Seconds())
		},
		OnNotify: func(err error) {
			status := "success"
			if err != nil {
				status = "error"
			}
			m.NotificationsTotal.WithLabelValues(status).Inc()
		},
	}
}

// CacheObserver returns a callback for CachedPreferences.
func (m *Metrics) CacheObserver() func(hit bool) {
	return func(hit bool) {
		if hit {
			m.PreferenceCache.WithLabelValues("hit").Inc()
			return
		}
		m.PreferenceCache.WithLabelValues("miss").Inc()
	}
}
