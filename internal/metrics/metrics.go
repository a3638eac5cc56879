// Package metrics exposes the bot's Prometheus collectors:
//
//	buxbot_quotes_total{kind}            – stream messages seen, by kind
//	buxbot_orders_submitted_total{side}  – order submissions claimed
//	buxbot_orders_filled_total{side}     – submissions the broker accepted
//	buxbot_orders_failed_total{side}     – submissions rolled back
//	buxbot_open_positions                – currently open positions (gauge)
//	buxbot_closed_positions              – positions closed since start (gauge)
//
// Served in Prometheus text exposition format at /metrics when a listen
// address is configured.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles the collectors on a private registry so tests can create
// isolated instances.
type Metrics struct {
	registry *prometheus.Registry

	Quotes          *prometheus.CounterVec
	OrdersSubmitted *prometheus.CounterVec
	OrdersFilled    *prometheus.CounterVec
	OrdersFailed    *prometheus.CounterVec
	OpenPositions   prometheus.Gauge
	ClosedPositions prometheus.Gauge
}

// New creates and registers all collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Quotes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "buxbot_quotes_total",
				Help: "Stream messages received, by kind",
			},
			[]string{"kind"},
		),
		OrdersSubmitted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "buxbot_orders_submitted_total",
				Help: "Order submissions claimed",
			},
			[]string{"side"},
		),
		OrdersFilled: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "buxbot_orders_filled_total",
				Help: "Order submissions accepted by the broker",
			},
			[]string{"side"},
		),
		OrdersFailed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "buxbot_orders_failed_total",
				Help: "Order submissions that failed and were rolled back",
			},
			[]string{"side"},
		),
		OpenPositions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "buxbot_open_positions",
				Help: "Currently open positions",
			},
		),
		ClosedPositions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "buxbot_closed_positions",
				Help: "Positions closed since process start",
			},
		),
	}

	m.registry.MustRegister(
		m.Quotes,
		m.OrdersSubmitted,
		m.OrdersFilled,
		m.OrdersFailed,
		m.OpenPositions,
		m.ClosedPositions,
	)
	return m
}

// Handler returns the /metrics HTTP handler for this instance's registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
