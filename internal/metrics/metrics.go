// Package metrics holds the Prometheus collectors exported by the bot.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	Decisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kdjbot_decisions_total",
			Help: "Bars evaluated, by symbol and resulting action.",
		},
		[]string{"symbol", "action"},
	)

	Orders = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kdjbot_orders_total",
			Help: "Filled orders, by symbol and side.",
		},
		[]string{"symbol", "side"},
	)

	Exits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kdjbot_exits_total",
			Help: "Closed positions, by symbol and close reason.",
		},
		[]string{"symbol", "reason"},
	)

	BarErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kdjbot_bar_errors_total",
			Help: "Bars whose evaluation returned an error.",
		},
		[]string{"symbol"},
	)

	EODRuns = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "kdjbot_eod_runs_total",
			Help: "End-of-day guard executions.",
		},
	)

	EODLiquidations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kdjbot_eod_liquidations_total",
			Help: "Losing positions liquidated by the end-of-day guard.",
		},
		[]string{"symbol"},
	)

	MomentumJ = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "kdjbot_momentum_j",
			Help: "Latest J value of the KDJ oscillator.",
		},
		[]string{"symbol"},
	)

	StopPrice = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "kdjbot_stop_price",
			Help: "Current trailing stop price, 0 when flat.",
		},
		[]string{"symbol"},
	)

	Equity = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "kdjbot_equity",
			Help: "Cash plus marked positions of the paper account.",
		},
	)
)

func init() {
	prometheus.MustRegister(Decisions, Orders, Exits, BarErrors, EODRuns, EODLiquidations, MomentumJ, StopPrice, Equity)
}
