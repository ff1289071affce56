package monitoring

import "github.com/prometheus/client_golang/prometheus"

// Metrics groups the game counters. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	HttpRequests       *prometheus.CounterVec
	SessionsOpened     *prometheus.CounterVec
	SessionsSettled    *prometheus.CounterVec
	WagersPlaced       *prometheus.CounterVec
	WagersDeclined     *prometheus.CounterVec
	SettlementErrors   *prometheus.CounterVec
	BroadcastFailures  *prometheus.CounterVec
	OutcomesBySide     *prometheus.CounterVec
	ActiveScopes       prometheus.Gauge
	SettlementDuration prometheus.Histogram
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		HttpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total HTTP requests",
			},
			[]string{"method", "endpoint", "status"},
		),
		SessionsOpened: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taixiu_sessions_opened_total",
				Help: "Betting sessions opened",
			},
			[]string{"scope"},
		),
		SessionsSettled: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taixiu_sessions_settled_total",
				Help: "Betting sessions settled",
			},
			[]string{"scope"},
		),
		WagersPlaced: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taixiu_wagers_placed_total",
				Help: "Accepted wager placements",
			},
			[]string{"side"},
		),
		WagersDeclined: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taixiu_wagers_declined_total",
				Help: "Declined wager placements",
			},
			[]string{"reason"},
		),
		SettlementErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taixiu_settlement_errors_total",
				Help: "Persistence or internal errors during settlement",
			},
			[]string{"stage"},
		),
		BroadcastFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taixiu_broadcast_failures_total",
				Help: "Snapshot or result deliveries that failed",
			},
			[]string{"kind"},
		),
		OutcomesBySide: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taixiu_outcomes_total",
				Help: "Rolled outcomes by side",
			},
			[]string{"side"},
		),
		ActiveScopes: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "taixiu_active_scopes",
				Help: "Scopes with a running round loop",
			},
		),
		SettlementDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "taixiu_settlement_duration_seconds",
				Help:    "Time spent settling a closed session",
				Buckets: prometheus.DefBuckets,
			},
		),
	}

	if reg != nil {
		reg.MustRegister(
			m.HttpRequests,
			m.SessionsOpened,
			m.SessionsSettled,
			m.WagersPlaced,
			m.WagersDeclined,
			m.SettlementErrors,
			m.BroadcastFailures,
			m.OutcomesBySide,
			m.ActiveScopes,
			m.SettlementDuration,
		)
	}
	return m
}

func (m *Metrics) SessionOpened(scope string) {
	if m == nil {
		return
	}
	m.SessionsOpened.WithLabelValues(scope).Inc()
}

func (m *Metrics) SessionSettled(scope string, side string, seconds float64) {
	if m == nil {
		return
	}
	m.SessionsSettled.WithLabelValues(scope).Inc()
	m.OutcomesBySide.WithLabelValues(side).Inc()
	m.SettlementDuration.Observe(seconds)
}

func (m *Metrics) WagerPlaced(side string) {
	if m == nil {
		return
	}
	m.WagersPlaced.WithLabelValues(side).Inc()
}

func (m *Metrics) WagerDeclined(reason string) {
	if m == nil {
		return
	}
	m.WagersDeclined.WithLabelValues(reason).Inc()
}

func (m *Metrics) SettlementError(stage string) {
	if m == nil {
		return
	}
	m.SettlementErrors.WithLabelValues(stage).Inc()
}

func (m *Metrics) BroadcastFailed(kind string) {
	if m == nil {
		return
	}
	m.BroadcastFailures.WithLabelValues(kind).Inc()
}

func (m *Metrics) SetActiveScopes(n int) {
	if m == nil {
		return
	}
	m.ActiveScopes.Set(float64(n))
}

func (m *Metrics) HttpRequest(method, endpoint, status string) {
	if m == nil {
		return
	}
	m.HttpRequests.WithLabelValues(method, endpoint, status).Inc()
}
