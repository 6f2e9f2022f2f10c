// Package metrics содержит счётчики движка бронирования для Prometheus.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// BookingMetrics nil-безопасен: без метрик движок вызывает методы на nil
type BookingMetrics struct {
	operations    *prometheus.CounterVec
	latency       *prometheus.HistogramVec
	compensations *prometheus.CounterVec
	completed     prometheus.Counter
	orphans       prometheus.Counter
	rateLimited   *prometheus.CounterVec
}

func NewBookingMetrics(reg prometheus.Registerer) *BookingMetrics {
	m := &BookingMetrics{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "interview",
			Subsystem: "booking",
			Name:      "operations_total",
			Help:      "Engine operations by outcome code",
		}, []string{"operation", "outcome"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "interview",
			Subsystem: "booking",
			Name:      "operation_duration_seconds",
			Help:      "Latency of engine operations",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		compensations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "interview",
			Subsystem: "booking",
			Name:      "compensations_total",
			Help:      "Compensating writes by result",
		}, []string{"operation", "result"}),
		completed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "interview",
			Subsystem: "booking",
			Name:      "appointments_completed_total",
			Help:      "Appointments moved to completed by the background job",
		}),
		orphans: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "interview",
			Subsystem: "booking",
			Name:      "orphaned_slots_released_total",
			Help:      "Booked slots without an appointment reopened by the background job",
		}),
		rateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "interview",
			Subsystem: "booking",
			Name:      "rate_limited_total",
			Help:      "Requests rejected by the booking velocity limit",
		}, []string{"operation"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.operations, m.latency, m.compensations, m.completed, m.orphans, m.rateLimited)
	return m
}

func (m *BookingMetrics) ObserveOperation(operation, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(operation, outcome).Inc()
	m.latency.WithLabelValues(operation).Observe(seconds)
}

func (m *BookingMetrics) ObserveCompensation(operation string, ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "failed"
	}
	m.compensations.WithLabelValues(operation, result).Inc()
}

func (m *BookingMetrics) AddCompleted(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.completed.Add(float64(n))
}

func (m *BookingMetrics) AddOrphansReleased(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.orphans.Add(float64(n))
}

func (m *BookingMetrics) ObserveRateLimited(operation string) {
	if m == nil {
		return
	}
	m.rateLimited.WithLabelValues(operation).Inc()
}
