package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	ClaimAccepted      = "accepted"
	ClaimExpired       = "expired"
	ClaimAlreadyPaired = "already_paired"
	ClaimUnknown       = "unknown"
	ClaimError         = "error"
)

// Metrics holds the Session Broker's Prometheus collectors.
type Metrics struct {
	SessionsCreated prometheus.Counter
	SessionsExpired prometheus.Counter
	Claims          *prometheus.CounterVec
	ClaimLatency    prometheus.Histogram
	RateLimitHits   *prometheus.CounterVec
	StreamClients   prometheus.Gauge
}

// New registers the collectors on reg. Pass prometheus.DefaultRegisterer in the
// server and a fresh prometheus.NewRegistry() in tests.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		SessionsCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "pairing_sessions_created_total",
			Help: "Total number of pairing sessions issued.",
		}),
		SessionsExpired: factory.NewCounter(prometheus.CounterOpts{
			Name: "pairing_sessions_expired_total",
			Help: "Total number of pairing sessions that expired unclaimed.",
		}),
		Claims: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pairing_claims_total",
				Help: "Total number of claim attempts by result.",
			},
			[]string{"result"},
		),
		ClaimLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "pairing_claim_latency_seconds",
			Help:    "Latency of claim arbitration against the session store.",
			Buckets: prometheus.DefBuckets,
		}),
		RateLimitHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pairing_rate_limit_hits_total",
				Help: "Total number of requests rejected by a rate limit.",
			},
			[]string{"scope"},
		),
		StreamClients: factory.NewGauge(prometheus.GaugeOpts{
			Name: "pairing_event_stream_clients",
			Help: "Number of hosts connected to a session event stream.",
		}),
	}
}

func (m *Metrics) RecordClaim(result string) {
	if m == nil {
		return
	}
	m.Claims.WithLabelValues(result).Inc()
}

func (m *Metrics) RecordRateLimitHit(scope string) {
	if m == nil {
		return
	}
	m.RateLimitHits.WithLabelValues(scope).Inc()
}
