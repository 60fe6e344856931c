// Package metrics содержит счётчики Prometheus сервиса магазина монет.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// LedgerTransactions считает проведённые операции по типу и корзине баланса.
	LedgerTransactions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shop_ledger_transactions_total",
			Help: "Applied coin transactions by kind and balance bucket",
		},
		[]string{"kind", "bucket"},
	)
	// LedgerRejections считает отклонённые операции по причине.
	LedgerRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shop_ledger_rejections_total",
			Help: "Rejected coin operations by reason",
		},
		[]string{"reason"},
	)
	// CoinOrderEvents считает события жизненного цикла заказов PayPal.
	CoinOrderEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shop_coin_order_events_total",
			Help: "PayPal coin order lifecycle events",
		},
		[]string{"event"},
	)
)

func init() {
	prometheus.MustRegister(LedgerTransactions)
	prometheus.MustRegister(LedgerRejections)
	prometheus.MustRegister(CoinOrderEvents)
}
