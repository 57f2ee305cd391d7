package api

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics are the business counters exposed on /metrics.
type Metrics struct {
	reg *prometheus.Registry

	rentalsCreated  prometheus.Counter
	rentalsExtended prometheus.Counter
	secondsSold     prometheus.Counter
	payments        *prometheus.CounterVec
	sweeps          *prometheus.CounterVec
	sweptRentals    prometheus.Counter
	idemReplays     prometheus.Counter
}

// NewMetrics registers the counters on reg. A nil reg gets a fresh registry with the Go and
// process collectors.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}

	m := &Metrics{
		reg: reg,
		rentalsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gamerent",
			Name:      "rentals_created_total",
			Help:      "Rentals created, by purchase or directly.",
		}),
		rentalsExtended: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gamerent",
			Name:      "rentals_extended_total",
			Help:      "Successful rental extensions.",
		}),
		secondsSold: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gamerent",
			Name:      "rental_seconds_sold_total",
			Help:      "Playable seconds granted by creates and extensions.",
		}),
		payments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gamerent",
			Name:      "payments_total",
			Help:      "Payments recorded, by kind.",
		}, []string{"kind"}),
		sweeps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gamerent",
			Name:      "sweeps_total",
			Help:      "Expiry sweeper passes, by result.",
		}, []string{"result"}),
		sweptRentals: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gamerent",
			Name:      "rentals_expired_by_sweeper_total",
			Help:      "Rentals expired by the sweeper.",
		}),
		idemReplays: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gamerent",
			Name:      "idempotent_replays_total",
			Help:      "Responses replayed for a repeated Idempotency-Key.",
		}),
	}
	reg.MustRegister(m.rentalsCreated, m.rentalsExtended, m.secondsSold, m.payments, m.sweeps, m.sweptRentals, m.idemReplays)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

// ObserveSweep is the sweeper hook.
func (m *Metrics) ObserveSweep(expired int, err error) {
	if err != nil {
		m.sweeps.WithLabelValues("error").Inc()
		return
	}
	m.sweeps.WithLabelValues("ok").Inc()
	m.sweptRentals.Add(float64(expired))
}

func (m *Metrics) rentalCreated(seconds int64) {
	m.rentalsCreated.Inc()
	m.secondsSold.Add(float64(seconds))
}

func (m *Metrics) rentalExtended(seconds int64) {
	m.rentalsExtended.Inc()
	m.secondsSold.Add(float64(seconds))
}

func (m *Metrics) paymentRecorded(kind string) {
	m.payments.WithLabelValues(kind).Inc()
}
