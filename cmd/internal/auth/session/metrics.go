package session

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Rotation results.
const (
	rotateOK          = "ok"
	rotateNotFound    = "not_found"
	rotateLostRace    = "lost_race"
	rotateRateLimited = "rate_limited"
	rotateError       = "error"
)

// Metrics holds the session manager's Prometheus collectors. A nil *Metrics is a no-op.
type Metrics struct {
	created     prometheus.Counter
	rotations   *prometheus.CounterVec
	revocations *prometheus.CounterVec
}

// NewMetrics registers the collectors on reg (prometheus.DefaultRegisterer when nil).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		created: f.NewCounter(prometheus.CounterOpts{
			Namespace: "bookshelf",
			Name:      "sessions_created_total",
			Help:      "Sessions created at login.",
		}),
		rotations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bookshelf",
			Name:      "session_rotations_total",
			Help:      "Refresh token rotations by result.",
		}, []string{"result"}),
		revocations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bookshelf",
			Name:      "session_revocations_total",
			Help:      "Sessions revoked by scope.",
		}, []string{"scope"}),
	}
}

func (m *Metrics) sessionCreated() {
	if m == nil {
		return
	}
	m.created.Inc()
}

func (m *Metrics) rotation(result string) {
	if m == nil {
		return
	}
	m.rotations.WithLabelValues(result).Inc()
}

func (m *Metrics) revoked(scope string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.revocations.WithLabelValues(scope).Add(float64(n))
}
