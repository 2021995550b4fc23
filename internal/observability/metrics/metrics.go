package metrics

import "github.com/prometheus/client_golang/prometheus"

// BookingMetrics exposes counters for the booking wizard and OAuth hand-off.
type BookingMetrics struct {
	stepTotal         *prometheus.CounterVec
	submissionsTotal  *prometheus.CounterVec
	statusChecksTotal *prometheus.CounterVec
	handoffTotal      *prometheus.CounterVec
	backendLatency    *prometheus.HistogramVec
}

func NewBookingMetrics(reg prometheus.Registerer) *BookingMetrics {
	m := &BookingMetrics{
		stepTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "advisor_booking",
			Subsystem: "wizard",
			Name:      "step_transitions_total",
			Help:      "Wizard step transitions by resulting step and direction",
		}, []string{"step", "direction"}),
		submissionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "advisor_booking",
			Subsystem: "wizard",
			Name:      "submissions_total",
			Help:      "Booking submissions by branch (direct, oauth) and result",
		}, []string{"branch", "result"}),
		statusChecksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "advisor_booking",
			Subsystem: "oauth",
			Name:      "status_checks_total",
			Help:      "Calendar authorization status checks by outcome",
		}, []string{"outcome"}),
		handoffTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "advisor_booking",
			Subsystem: "oauth",
			Name:      "handoff_events_total",
			Help:      "OAuth hand-off lifecycle events",
		}, []string{"event"}),
		backendLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "advisor_booking",
			Subsystem: "planner",
			Name:      "request_duration_seconds",
			Help:      "Latency of planner backend calls made while serving a request",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.stepTotal, m.submissionsTotal, m.statusChecksTotal, m.handoffTotal, m.backendLatency)
	return m
}

func (m *BookingMetrics) ObserveStep(step, direction string) {
	if m == nil {
		return
	}
	m.stepTotal.WithLabelValues(step, direction).Inc()
}

func (m *BookingMetrics) ObserveSubmission(branch, result string) {
	if m == nil {
		return
	}
	m.submissionsTotal.WithLabelValues(branch, result).Inc()
}

func (m *BookingMetrics) ObserveStatusCheck(outcome string) {
	if m == nil {
		return
	}
	m.statusChecksTotal.WithLabelValues(outcome).Inc()
}

func (m *BookingMetrics) ObserveHandoff(event string) {
	if m == nil {
		return
	}
	m.handoffTotal.WithLabelValues(event).Inc()
}

func (m *BookingMetrics) ObserveRequestLatency(route string, seconds float64) {
	if m == nil {
		return
	}
	m.backendLatency.WithLabelValues(route).Observe(seconds)
}
