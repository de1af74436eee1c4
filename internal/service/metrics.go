package service

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts authentication outcomes. A nil *Metrics records nothing.
type Metrics struct {
	logins        *prometheus.CounterVec
	verifications *prometheus.CounterVec
	gateDecisions *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "libris",
			Subsystem: "auth",
			Name:      "login_attempts_total",
			Help:      "Password step attempts by result.",
		}, []string{"result"}),
		verifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "libris",
			Subsystem: "auth",
			Name:      "otp_verifications_total",
			Help:      "OTP verification attempts by result.",
		}, []string{"result"}),
		gateDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "libris",
			Subsystem: "auth",
			Name:      "otp_gate_decisions_total",
			Help:      "Elevated-session checks by decision.",
		}, []string{"decision"}),
	}
	reg.MustRegister(m.logins, m.verifications, m.gateDecisions)
	return m
}

func (m *Metrics) login(result string) {
	if m == nil {
		return
	}
	m.logins.WithLabelValues(result).Inc()
}

func (m *Metrics) verification(result string) {
	if m == nil {
		return
	}
	m.verifications.WithLabelValues(result).Inc()
}

func (m *Metrics) gate(allowed bool) {
	if m == nil {
		return
	}
	decision := "deny"
	if allowed {
		decision = "allow"
	}
	m.gateDecisions.WithLabelValues(decision).Inc()
}
