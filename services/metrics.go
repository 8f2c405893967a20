package services

import (
	"kbar-telegram/models"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	OrdersCreated  *prometheus.CounterVec
	Payments       *prometheus.CounterVec
	Timeouts       prometheus.Counter
	Cancellations  prometheus.Counter
	LoyaltyAwarded prometheus.Counter
	ArmedTimers    prometheus.Gauge
	StorageErrors  prometheus.Counter
}

// NewMetrics registers the collectors on reg. A nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		OrdersCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kbar",
			Name:      "orders_created_total",
			Help:      "Orders created, by origin.",
		}, []string{"origin"}),
		Payments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kbar",
			Name:      "payments_total",
			Help:      "Settlement outcomes.",
		}, []string{"outcome"}),
		Timeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "kbar",
			Name:      "payment_timeouts_total",
			Help:      "Orders cancelled by the payment countdown.",
		}),
		Cancellations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "kbar",
			Name:      "order_cancellations_total",
			Help:      "Orders cancelled by the customer.",
		}),
		LoyaltyAwarded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "kbar",
			Name:      "loyalty_points_awarded_total",
			Help:      "Loyalty points granted.",
		}),
		ArmedTimers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "kbar",
			Name:      "payment_timers_armed",
			Help:      "Payment countdowns currently running.",
		}),
		StorageErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "kbar",
			Name:      "storage_errors_total",
			Help:      "Failed store reads and writes.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.OrdersCreated, m.Payments, m.Timeouts, m.Cancellations,
			m.LoyaltyAwarded, m.ArmedTimers, m.StorageErrors)
	}
	return m
}

func (m *Metrics) orderCreated(origin models.Origin) {
	if m != nil {
		m.OrdersCreated.WithLabelValues(string(origin)).Inc()
	}
}

func (m *Metrics) payment(success bool) {
	if m == nil {
		return
	}
	if success {
		m.Payments.WithLabelValues("success").Inc()
	} else {
		m.Payments.WithLabelValues("failure").Inc()
	}
}

func (m *Metrics) timeout() {
	if m != nil {
		m.Timeouts.Inc()
	}
}

func (m *Metrics) cancelled() {
	if m != nil {
		m.Cancellations.Inc()
	}
}

func (m *Metrics) awarded(points int64) {
	if m != nil {
		m.LoyaltyAwarded.Add(float64(points))
	}
}

func (m *Metrics) timerArmed(delta float64) {
	if m != nil {
		m.ArmedTimers.Add(delta)
	}
}

func (m *Metrics) storageError() {
	if m != nil {
		m.StorageErrors.Inc()
	}
}
