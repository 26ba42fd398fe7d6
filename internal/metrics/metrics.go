// Package metrics exposes Prometheus counters and histograms for the
// matching engine, broadcast bus, and subscriber gateway, grounded on the
// teacher's internal/metrics/metrics_module.go (own prometheus.Registry,
// promhttp.HandlerFor served on its own port) rather than the default
// global registry, so a predictcore process never collides with another
// component's metric names.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles every counter/histogram/gauge the core publishes to.
type Metrics struct {
	Registry *prometheus.Registry

	OrdersSubmitted  *prometheus.CounterVec
	OrdersRejected   *prometheus.CounterVec
	TradesExecuted   *prometheus.CounterVec
	MatchLatency     *prometheus.HistogramVec
	BroadcastQueue   *prometheus.GaugeVec
	GatewayConns     prometheus.Gauge
	GatewaySlowDrops *prometheus.CounterVec
	AdminRPCRequests *prometheus.CounterVec
}

// New builds Metrics registered against a fresh, process-local registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		OrdersSubmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "predictcore", Name: "orders_submitted_total",
			Help: "Orders accepted by the matching engine, by market and side.",
		}, []string{"market_id", "side"}),
		OrdersRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "predictcore", Name: "orders_rejected_total",
			Help: "Orders rejected before admission, by error code.",
		}, []string{"code"}),
		TradesExecuted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "predictcore", Name: "trades_executed_total",
			Help: "Trades committed, by market.",
		}, []string{"market_id"}),
		MatchLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "predictcore", Name: "match_latency_seconds",
			Help:    "Time from command enqueue to commit, per market.",
			Buckets: prometheus.DefBuckets,
		}, []string{"market_id"}),
		BroadcastQueue: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "predictcore", Name: "broadcast_queue_depth",
			Help: "Pending envelopes per topic awaiting subscriber delivery.",
		}, []string{"topic"}),
		GatewayConns: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "predictcore", Name: "gateway_connections",
			Help: "Currently open subscriber gateway connections.",
		}),
		GatewaySlowDrops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "predictcore", Name: "gateway_slow_consumer_drops_total",
			Help: "Connections torn down for exceeding the outbound buffer (spec §5 backpressure policy).",
		}, []string{"reason"}),
		AdminRPCRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "predictcore", Name: "admin_rpc_requests_total",
			Help: "Admin gRPC commands handled, by method and status code.",
		}, []string{"method", "code"}),
	}
	reg.MustRegister(
		m.OrdersSubmitted, m.OrdersRejected, m.TradesExecuted,
		m.MatchLatency, m.BroadcastQueue, m.GatewayConns, m.GatewaySlowDrops,
		m.AdminRPCRequests,
	)
	return m
}
