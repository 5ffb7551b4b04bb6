package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ReservationMetrics tracks ledger adjustments made through the coordinator.
type ReservationMetrics struct {
	adjustments *prometheus.CounterVec
	latency     *prometheus.HistogramVec
	lowStock    prometheus.Counter
}

// NewReservationMetrics registers reservation metrics on the provided registerer.
func NewReservationMetrics(reg prometheus.Registerer) *ReservationMetrics {
	if reg == nil {
		return &ReservationMetrics{}
	}
	adjustments := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "reservation",
		Name:      "adjustments_total",
		Help:      "Reservation adjustments by reason and outcome.",
	}, []string{"reason", "outcome"})
	latency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "reservation",
		Name:      "adjust_duration_seconds",
		Help:      "Latency of atomic ledger adjustments.",
		Buckets:   []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
	}, []string{"reason"})
	lowStock := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "inventory",
		Name:      "low_stock_detected_total",
		Help:      "Adjustments that moved a product at or below its low-stock threshold.",
	})
	reg.MustRegister(adjustments, latency, lowStock)
	return &ReservationMetrics{
		adjustments: adjustments,
		latency:     latency,
		lowStock:    lowStock,
	}
}

// ObserveAdjust records one adjustment attempt. outcome is "ok" or the error code.
func (m *ReservationMetrics) ObserveAdjust(reason, outcome string, duration time.Duration) {
	if m == nil || m.adjustments == nil {
		return
	}
	reason = normalizeLabel(reason)
	m.adjustments.WithLabelValues(reason, normalizeLabel(outcome)).Inc()
	m.latency.WithLabelValues(reason).Observe(duration.Seconds())
}

func (m *ReservationMetrics) IncLowStock() {
	if m == nil || m.lowStock == nil {
		return
	}
	m.lowStock.Inc()
}
