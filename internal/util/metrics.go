package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CheckoutsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "checkouts_total",
		Help: "Total number of committed checkouts",
	}, []string{"mode"})

	CheckoutsFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "checkouts_failed_total",
		Help: "Total number of failed checkouts",
	}, []string{"reason"})

	SalesCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sales_created_total",
		Help: "Total number of sales created directly by staff",
	})

	StockDeductedUnits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stock_deducted_units_total",
		Help: "Total batch units deducted",
	})

	StockReturnedUnits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stock_returned_units_total",
		Help: "Total batch units returned",
	})

	StockDeductionsFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stock_deductions_failed_total",
		Help: "Total number of rejected batch deductions",
	}, []string{"reason"})

	StockTxLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "stock_tx_latency_seconds",
		Help:    "Latency of transactions that move batch stock",
		Buckets: prometheus.DefBuckets,
	})

	PaymentsConfirmedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payments_confirmed_total",
		Help: "Total number of sales marked paid",
	})

	PaymentsRefundedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payments_refunded_total",
		Help: "Total number of sales marked refunded",
	})

	PaymentReviewsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_reviews_total",
		Help: "Total number of payments flagged for staff review by reason",
	}, []string{"reason"})

	WebhooksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_webhooks_total",
		Help: "Total number of payment webhooks by event and outcome",
	}, []string{"event", "outcome"})

	GatewayRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "payment_gateway_request_duration_seconds",
		Help:    "Latency of payment gateway calls",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation", "outcome"})

	SalesCancelledTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sales_cancelled_total",
		Help: "Total number of cancelled sales by money movement",
	}, []string{"outcome"})

	NotificationsFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notifications_failed_total",
		Help: "Total number of notifications that could not be published or sent",
	}, []string{"template"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
