package metrics

import "github.com/prometheus/client_golang/prometheus"

// BookingMetrics exposes counters/histograms for booking and meeting flows.
type BookingMetrics struct {
	bookingsTotal      *prometheus.CounterVec
	providerCalls      *prometheus.CounterVec
	providerLatency    *prometheus.HistogramVec
	compensationsTotal *prometheus.CounterVec
	reconciledTotal    prometheus.Counter
	transitionsTotal   *prometheus.CounterVec
}

func NewBookingMetrics(reg prometheus.Registerer) *BookingMetrics {
	m := &BookingMetrics{
		bookingsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "telehealth",
			Subsystem: "booking",
			Name:      "attempts_total",
			Help:      "Booking attempts by outcome kind",
		}, []string{"outcome"}),
		providerCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "telehealth",
			Subsystem: "provider",
			Name:      "calls_total",
			Help:      "Video provider calls by operation and result",
		}, []string{"operation", "status"}),
		providerLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "telehealth",
			Subsystem: "provider",
			Name:      "call_latency_seconds",
			Help:      "Latency of video provider calls",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		compensationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "telehealth",
			Subsystem: "meetings",
			Name:      "compensations_total",
			Help:      "Meeting compensations by reason and result",
		}, []string{"reason", "status"}),
		reconciledTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "telehealth",
			Subsystem: "meetings",
			Name:      "reconciled_total",
			Help:      "Orphaned meetings removed by the reconciler",
		}),
		transitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "telehealth",
			Subsystem: "appointments",
			Name:      "status_transitions_total",
			Help:      "Appointment status transitions",
		}, []string{"from", "to"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.bookingsTotal, m.providerCalls, m.providerLatency, m.compensationsTotal, m.reconciledTotal, m.transitionsTotal)
	return m
}

// ObserveBooking counts a create attempt; outcome is "success" or an error kind.
func (m *BookingMetrics) ObserveBooking(outcome string) {
	if m == nil {
		return
	}
	m.bookingsTotal.WithLabelValues(outcome).Inc()
}

func (m *BookingMetrics) ObserveProviderCall(operation string, ok bool, seconds float64) {
	if m == nil {
		return
	}
	status := "ok"
	if !ok {
		status = "error"
	}
	m.providerCalls.WithLabelValues(operation, status).Inc()
	m.providerLatency.WithLabelValues(operation).Observe(seconds)
}

func (m *BookingMetrics) ObserveCompensation(reason string, ok bool) {
	if m == nil {
		return
	}
	status := "ok"
	if !ok {
		status = "error"
	}
	m.compensationsTotal.WithLabelValues(reason, status).Inc()
}

func (m *BookingMetrics) ObserveReconciled(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.reconciledTotal.Add(float64(n))
}

func (m *BookingMetrics) ObserveTransition(from, to string) {
	if m == nil {
		return
	}
	m.transitionsTotal.WithLabelValues(from, to).Inc()
}
