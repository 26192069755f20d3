package metrics

import "github.com/prometheus/client_golang/prometheus"

const (
	StatusOK     = "ok"
	StatusFailed = "failed"
)

type Metrics struct {
	Operations *prometheus.CounterVec
	Amounts    *prometheus.HistogramVec
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wallet_operations_total",
				Help: "Number of ledger operations by outcome",
			},
			[]string{"operation", "status"},
		),
		Amounts: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "wallet_operation_amount_minor_units",
				Help:    "Amounts moved by ledger operations, in minor units",
				Buckets: prometheus.ExponentialBuckets(1, 10, 10),
			},
			[]string{"operation"},
		),
	}

	if reg != nil {
		reg.MustRegister(m.Operations, m.Amounts)
	}
	return m
}

// Observe records one finished operation. A nil receiver is a no-op.
func (m *Metrics) Observe(operation string, amount int64, err error) {
	if m == nil {
		return
	}
	status := StatusOK
	if err != nil {
		status = StatusFailed
	}
	m.Operations.WithLabelValues(operation, status).Inc()
	if err == nil && amount > 0 {
		m.Amounts.WithLabelValues(operation).Observe(float64(amount))
	}
}
