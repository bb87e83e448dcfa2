package session

import "github.com/prometheus/client_golang/prometheus"

// Issue outcomes reported by IssueSession.
const (
	OutcomeCreated  = "created"
	OutcomeReused   = "reused"
	OutcomeRestored = "restored"
)

// Metrics holds the session counters. A nil *Metrics is valid and records nothing.
type Metrics struct {
	issued    *prometheus.CounterVec
	refreshed *prometheus.CounterVec
	revoked   *prometheus.CounterVec
	retries   *prometheus.CounterVec
}

// NewMetrics creates the session counters and registers them on reg.
// A nil reg leaves the counters unregistered (useful in tests).
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		issued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mereb",
			Subsystem: "session",
			Name:      "issued_total",
			Help:      "Sessions issued, by refresh record outcome.",
		}, []string{"outcome"}),
		refreshed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mereb",
			Subsystem: "session",
			Name:      "refresh_total",
			Help:      "Access token refresh attempts, by result.",
		}, []string{"result"}),
		revoked: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mereb",
			Subsystem: "session",
			Name:      "revoked_total",
			Help:      "Refresh records flipped to revoked, by scope.",
		}, []string{"scope"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mereb",
			Subsystem: "session",
			Name:      "tx_retries_total",
			Help:      "Store transactions retried after a conflict, by operation.",
		}, []string{"op"}),
	}

	if reg != nil {
		for _, c := range []prometheus.Collector{m.issued, m.refreshed, m.revoked, m.retries} {
			if err := reg.Register(c); err != nil {
				return nil, err
			}
		}
	}
	return m, nil
}

func (m *Metrics) issue(outcome string) {
	if m == nil {
		return
	}
	m.issued.WithLabelValues(outcome).Inc()
}

func (m *Metrics) refresh(result string) {
	if m == nil {
		return
	}
	m.refreshed.WithLabelValues(result).Inc()
}

func (m *Metrics) revoke(scope string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.revoked.WithLabelValues(scope).Add(float64(n))
}

func (m *Metrics) retry(op string) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(op).Inc()
}
