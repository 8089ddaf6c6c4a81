package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus collectors for auth operations.
type Metrics struct {
	Signups           prometheus.Counter
	Logins            prometheus.Counter
	Refreshes         prometheus.Counter
	Logouts           prometheus.Counter
	StatusChanges     *prometheus.CounterVec
	AuthFailures      *prometheus.CounterVec
	Rehashes          prometheus.Counter
	RefreshTokenReuse prometheus.Counter
	OperationDuration *prometheus.HistogramVec
}

// New registers auth collectors on reg (default registerer if nil).
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		Signups: f.NewCounter(prometheus.CounterOpts{
			Name: "hireloop_auth_signups_total",
			Help: "Total number of credential records created",
		}),
		Logins: f.NewCounter(prometheus.CounterOpts{
			Name: "hireloop_auth_logins_total",
			Help: "Total number of successful logins",
		}),
		Refreshes: f.NewCounter(prometheus.CounterOpts{
			Name: "hireloop_auth_refreshes_total",
			Help: "Total number of successful session refreshes",
		}),
		Logouts: f.NewCounter(prometheus.CounterOpts{
			Name: "hireloop_auth_logouts_total",
			Help: "Total number of sessions revoked by logout",
		}),
		StatusChanges: f.NewCounterVec(prometheus.CounterOpts{
			Name: "hireloop_auth_status_changes_total",
			Help: "Total number of account status changes",
		}, []string{"status"}),
		AuthFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "hireloop_auth_failures_total",
			Help: "Total number of failed auth operations by operation and reason",
		}, []string{"operation", "reason"}),
		Rehashes: f.NewCounter(prometheus.CounterOpts{
			Name: "hireloop_auth_rehashes_total",
			Help: "Total number of secrets rehashed on login",
		}),
		RefreshTokenReuse: f.NewCounter(prometheus.CounterOpts{
			Name: "hireloop_auth_refresh_token_reuse_total",
			Help: "Total number of refresh attempts with an already rotated token",
		}),
		OperationDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "hireloop_auth_operation_duration_seconds",
			Help:    "Duration of auth operations, including hashing",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, []string{"operation"}),
	}
}

func (m *Metrics) IncSignups() {
	if m != nil {
		m.Signups.Inc()
	}
}

func (m *Metrics) IncLogins() {
	if m != nil {
		m.Logins.Inc()
	}
}

func (m *Metrics) IncRefreshes() {
	if m != nil {
		m.Refreshes.Inc()
	}
}

func (m *Metrics) IncLogouts() {
	if m != nil {
		m.Logouts.Inc()
	}
}

func (m *Metrics) IncStatusChange(status string) {
	if m != nil {
		m.StatusChanges.WithLabelValues(status).Inc()
	}
}

func (m *Metrics) IncAuthFailure(operation, reason string) {
	if m != nil {
		m.AuthFailures.WithLabelValues(operation, reason).Inc()
	}
}

func (m *Metrics) IncRehashes() {
	if m != nil {
		m.Rehashes.Inc()
	}
}

func (m *Metrics) IncRefreshTokenReuse() {
	if m != nil {
		m.RefreshTokenReuse.Inc()
	}
}

func (m *Metrics) ObserveOperation(operation string, seconds float64) {
	if m != nil {
		m.OperationDuration.WithLabelValues(operation).Observe(seconds)
	}
}
