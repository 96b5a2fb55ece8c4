// Package metrics defines the Prometheus metrics for authgate.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for authgate.
// Pass to components that need to record metrics.
type Metrics struct {
	LoginsTotal      *prometheus.CounterVec
	RefreshesTotal   *prometheus.CounterVec
	LoginDuration    prometheus.Histogram
	LockoutsTotal    *prometheus.CounterVec
	RateLimitedTotal *prometheus.CounterVec
	TokenReuseTotal  prometheus.Counter
	CounterStoreKeys prometheus.Gauge
	KeysSweptTotal   prometheus.Counter
}

// New creates and registers all metrics with the given registry.
func New(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		LoginsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "authgate",
				Name:      "logins_total",
				Help:      "Total login attempts processed",
			},
			[]string{"result"}, // result=ok/invalid/locked/rate_limited/error
		),
		RefreshesTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "authgate",
				Name:      "refreshes_total",
				Help:      "Total refresh attempts processed",
			},
			[]string{"result"}, // result=ok/invalid/reused/error
		),
		LoginDuration: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "authgate",
				Name:      "login_duration_seconds",
				Help:      "Login duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
		),
		LockoutsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "authgate",
				Name:      "lockouts_total",
				Help:      "Total lockouts triggered",
			},
			[]string{"track"}, // track=id/ip
		),
		RateLimitedTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "authgate",
				Name:      "rate_limited_total",
				Help:      "Total requests denied by the rate limiter",
			},
			[]string{"scope"},
		),
		TokenReuseTotal: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: "authgate",
				Name:      "token_reuse_total",
				Help:      "Total detections of spent refresh token reuse",
			},
		),
		CounterStoreKeys: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Namespace: "authgate",
				Name:      "counter_store_keys",
				Help:      "Number of live keys in the counter store",
			},
		),
		KeysSweptTotal: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: "authgate",
				Name:      "keys_swept_total",
				Help:      "Total retiring signing keys promoted to revoked",
			},
		),
	}
}
