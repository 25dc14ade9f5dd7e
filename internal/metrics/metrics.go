package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	GatewayRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swiftpay_gateway_requests_total",
			Help: "Calls made to the mobile money gateway",
		},
		[]string{"operation", "outcome"},
	)

	GatewayRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "swiftpay_gateway_request_duration_seconds",
			Help:    "Latency of gateway calls including the token exchange",
			Buckets: []float64{.05, .1, .25, .5, 1, 2, 5, 10, 30},
		},
		[]string{"operation"},
	)

	PaymentsInitiatedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swiftpay_payments_initiated_total",
			Help: "STK push initiations by outcome",
		},
		[]string{"outcome", "credentials"},
	)

	CallbacksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swiftpay_callbacks_total",
			Help: "STK callbacks received by processing outcome",
		},
		[]string{"outcome"},
	)

	SettlementsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swiftpay_settlements_total",
			Help: "Transactions moved to a terminal status",
		},
		[]string{"status", "source"},
	)

	StatusChecksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swiftpay_status_checks_total",
			Help: "Status lookups by where the answer came from",
		},
		[]string{"source", "status"},
	)

	WebhookDeliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swiftpay_webhook_deliveries_total",
			Help: "Webhook delivery attempts by outcome",
		},
		[]string{"outcome"},
	)

	WebhookDeliveryDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "swiftpay_webhook_delivery_duration_seconds",
			Help:    "Latency of outbound webhook posts",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
		},
	)

	RateLimitExceeded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swiftpay_rate_limit_exceeded_total",
			Help: "Requests rejected by the rate limiter",
		},
		[]string{"route"},
	)
)
