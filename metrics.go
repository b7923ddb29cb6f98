package coachauth

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors for the session subsystem.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	RefreshTotal    *prometheus.CounterVec
	RefreshDuration prometheus.Histogram
	ForcedLogouts   *prometheus.CounterVec
	PreflightAborts *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg when reg is non nil
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RefreshTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "coachauth",
			Name:      "refresh_total",
			Help:      "Token refresh attempts by result.",
		}, []string{"result"}),
		RefreshDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "coachauth",
			Name:      "refresh_duration_seconds",
			Help:      "Latency of the refresh exchange.",
			Buckets:   prometheus.DefBuckets,
		}),
		ForcedLogouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "coachauth",
			Name:      "forced_logouts_total",
			Help:      "Sessions ended by the client, by reason.",
		}, []string{"reason"}),
		PreflightAborts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "coachauth",
			Name:      "preflight_aborts_total",
			Help:      "Requests refused before sending, by reason.",
		}, []string{"reason"}),
	}
	if reg != nil {
		reg.MustRegister(m.RefreshTotal, m.RefreshDuration, m.ForcedLogouts, m.PreflightAborts)
	}
	return m
}

func (m *Metrics) observeRefresh(start time.Time, err error) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "failure"
	}
	m.RefreshTotal.WithLabelValues(result).Inc()
	m.RefreshDuration.Observe(time.Since(start).Seconds())
}

func (m *Metrics) forcedLogout(reason LogoutReason) {
	if m == nil {
		return
	}
	m.ForcedLogouts.WithLabelValues(string(reason)).Inc()
}

func (m *Metrics) preflightAbort(reason LogoutReason) {
	if m == nil {
		return
	}
	m.PreflightAborts.WithLabelValues(string(reason)).Inc()
}
