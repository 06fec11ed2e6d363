package keeper

import "github.com/prometheus/client_golang/prometheus"

// Metrics exposes coordinator activity to Prometheus. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	attempts      *prometheus.CounterVec
	results       *prometheus.CounterVec
	forcedLogouts prometheus.Counter
	state         prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with reg when reg is non-nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		attempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "panel",
				Subsystem: "keeper",
				Name:      "refresh_attempts_total",
				Help:      "Refresh attempts started, by trigger.",
			},
			[]string{"trigger"},
		),
		results: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "panel",
				Subsystem: "keeper",
				Name:      "refresh_results_total",
				Help:      "Refresh attempt outcomes.",
			},
			[]string{"result"},
		),
		forcedLogouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "panel",
			Subsystem: "keeper",
			Name:      "forced_logouts_total",
			Help:      "Sessions logged out after refresh retries were exhausted.",
		}),
		state: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "panel",
			Subsystem: "keeper",
			Name:      "state",
			Help:      "Coordinator state (0 idle, 1 scheduled, 2 refreshing, 3 retrying, 4 failed).",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.attempts, m.results, m.forcedLogouts, m.state)
	}
	return m
}

func (m *Metrics) attempt(trigger Trigger) {
	if m == nil {
		return
	}
	m.attempts.WithLabelValues(string(trigger)).Inc()
}

func (m *Metrics) result(r string) {
	if m == nil {
		return
	}
	m.results.WithLabelValues(r).Inc()
}

func (m *Metrics) forcedLogout() {
	if m == nil {
		return
	}
	m.forcedLogouts.Inc()
}

func (m *Metrics) setState(s State) {
	if m == nil {
		return
	}
	m.state.Set(float64(s))
}
