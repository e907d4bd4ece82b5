// Package delivery – Prometheus instrumentation for outbound webhook
// traffic. Labels are limited to the attempt outcome to keep cardinality
// bounded; per-subscription detail lives in the attempt log, not in
// metric labels.
package delivery

import "github.com/prometheus/client_golang/prometheus"

var (
	// attemptsTotal counts delivery attempts by terminal outcome of the
	// attempt (success, failed, exhausted).
	attemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_delivery_attempts_total",
			Help: "Total outbound webhook delivery attempts by outcome.",
		},
		[]string{"outcome"},
	)
)

func init() {
	prometheus.MustRegister(attemptsTotal)
}
