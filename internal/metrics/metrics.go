// Package metrics bundles the process's Prometheus instruments. Each
// Metrics value carries its own registry so independent instances (one
// per test, one per process) never collide on registration.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds every instrument the server updates.
type Metrics struct {
	registry *prometheus.Registry

	ConnectedClients prometheus.Gauge
	LoggedInTraders  prometheus.Gauge
	RequestsTotal    *prometheus.CounterVec // labels: type, result
	OrdersPosted     *prometheus.CounterVec // label: side
	OrdersCanceled   prometheus.Counter
	TradesTotal      prometheus.Counter
	TradedUnits      prometheus.Counter
	LastTradePrice   prometheus.Gauge
	RestingOrders    *prometheus.GaugeVec // label: side
}

// New creates the instrument set registered on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		ConnectedClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bourse_connected_clients",
			Help: "Number of open client connections.",
		}),
		LoggedInTraders: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bourse_logged_in_traders",
			Help: "Number of logged-in sessions.",
		}),
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bourse_requests_total",
			Help: "Client requests by packet type and outcome.",
		}, []string{"type", "result"}),
		OrdersPosted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bourse_orders_posted_total",
			Help: "Orders accepted onto the book by side.",
		}, []string{"side"}),
		OrdersCanceled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bourse_orders_canceled_total",
			Help: "Orders canceled by their owners.",
		}),
		TradesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bourse_trades_total",
			Help: "Executed trades.",
		}),
		TradedUnits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bourse_traded_units_total",
			Help: "Total units exchanged across all trades.",
		}),
		LastTradePrice: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bourse_last_trade_price",
			Help: "Price of the most recent trade, 0 before the first.",
		}),
		RestingOrders: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "bourse_resting_orders",
			Help: "Orders currently resting on the book by side.",
		}, []string{"side"}),
	}
	m.registry.MustRegister(
		m.ConnectedClients,
		m.LoggedInTraders,
		m.RequestsTotal,
		m.OrdersPosted,
		m.OrdersCanceled,
		m.TradesTotal,
		m.TradedUnits,
		m.LastTradePrice,
		m.RestingOrders,
	)
	return m
}

// Registry exposes the underlying registry for the /metrics handler.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
