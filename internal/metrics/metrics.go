// Package metrics holds the Prometheus collectors of the order service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OrdersCreatedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "orders_created_total",
			Help: "Total number of orders created",
		},
	)

	OrderTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "order_transitions_total",
			Help: "Total number of applied order status transitions",
		},
		[]string{"from", "to"},
	)

	PaymentsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payments_total",
			Help: "Total number of payment status changes by resulting status",
		},
		[]string{"status"},
	)

	PaymentWebhookEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_webhook_events_total",
			Help: "Total number of payment webhook deliveries by event and outcome",
		},
		[]string{"event", "outcome"},
	)

	PaymentGatewayRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_gateway_requests_total",
			Help: "Total number of payment provider calls by operation and result",
		},
		[]string{"operation", "result"},
	)

	// PaymentGatewayCircuitState is 0 closed, 1 half-open, 2 open.
	PaymentGatewayCircuitState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "payment_gateway_circuit_state",
			Help: "Circuit breaker state of the payment provider client",
		},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)
)

func RecordOrderCreated() {
	OrdersCreatedTotal.Inc()
}

func RecordTransition(from, to string) {
	OrderTransitionsTotal.WithLabelValues(from, to).Inc()
}

func RecordPayment(status string) {
	PaymentsTotal.WithLabelValues(status).Inc()
}

func RecordWebhookEvent(event, outcome string) {
	PaymentWebhookEventsTotal.WithLabelValues(event, outcome).Inc()
}

func RecordGatewayRequest(operation, result string) {
	PaymentGatewayRequestsTotal.WithLabelValues(operation, result).Inc()
}

func SetCircuitState(state float64) {
	PaymentGatewayCircuitState.Set(state)
}
