package obs

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// ReconciliationsTotal counts reconciliation outcomes by submission kind.
	ReconciliationsTotal *prometheus.CounterVec
	// PartialFailuresTotal counts reconciliations that stopped after a persisted write.
	PartialFailuresTotal *prometheus.CounterVec
	// PaymentsAmountTotal sums recorded payment amounts by mode.
	PaymentsAmountTotal *prometheus.CounterVec
	// BalanceDriftTotal counts patients whose stored aggregates had drifted.
	BalanceDriftTotal prometheus.Counter
	// InvoiceRendersTotal counts invoice renders by output format.
	InvoiceRendersTotal *prometheus.CounterVec
	// ReconcileDuration records reconciliation latency in milliseconds.
	ReconcileDuration *prometheus.HistogramVec
)

// MustRegisterDomainMetrics initialises and registers billing Prometheus collectors.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		ReconciliationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "billing_reconciliations_total",
			Help:      "Count of reconciliation outcomes by submission kind.",
		}, []string{"kind", "outcome"})
		PartialFailuresTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "billing_partial_failures_total",
			Help:      "Reconciliations left partially applied, by failed stage.",
		}, []string{"stage"})
		PaymentsAmountTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "billing_payments_amount_total",
			Help:      "Sum of recorded payment amounts by payment mode.",
		}, []string{"mode"})
		BalanceDriftTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "billing_balance_drift_total",
			Help:      "Number of patients whose stored balance differed from the ledger.",
		})
		InvoiceRendersTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "billing_invoice_renders_total",
			Help:      "Count of rendered invoices by format.",
		}, []string{"format"})
		ReconcileDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "billing_reconcile_duration_ms",
			Help:      "Latency of reconciliation operations in milliseconds.",
			Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500},
		}, []string{"kind"})

		ReconciliationsTotal = register(reg, ReconciliationsTotal)
		PartialFailuresTotal = register(reg, PartialFailuresTotal)
		PaymentsAmountTotal = register(reg, PaymentsAmountTotal)
		BalanceDriftTotal = register(reg, BalanceDriftTotal)
		InvoiceRendersTotal = register(reg, InvoiceRendersTotal)
		ReconcileDuration = register(reg, ReconcileDuration)
	})
}

// ObserveReconciliation records one reconciliation outcome. It is a no-op
// until MustRegisterDomainMetrics has run.
func ObserveReconciliation(kind, outcome string, millis float64) {
	if ReconciliationsTotal != nil {
		ReconciliationsTotal.WithLabelValues(kind, outcome).Inc()
	}
	if ReconcileDuration != nil {
		ReconcileDuration.WithLabelValues(kind).Observe(millis)
	}
}

// ObservePartialFailure counts a partially applied reconciliation.
func ObservePartialFailure(stage string) {
	if PartialFailuresTotal != nil {
		PartialFailuresTotal.WithLabelValues(stage).Inc()
	}
}

// ObservePayment adds a recorded payment amount.
func ObservePayment(mode string, amount float64) {
	if PaymentsAmountTotal != nil {
		PaymentsAmountTotal.WithLabelValues(mode).Add(amount)
	}
}

// ObserveDrift counts a repaired balance.
func ObserveDrift() {
	if BalanceDriftTotal != nil {
		BalanceDriftTotal.Inc()
	}
}

// ObserveInvoiceRender counts a rendered invoice.
func ObserveInvoiceRender(format string) {
	if InvoiceRendersTotal != nil {
		InvoiceRendersTotal.WithLabelValues(format).Inc()
	}
}
