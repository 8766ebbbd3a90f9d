// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Webhook metrics
	NotificationsReceived prometheus.Counter
	NotificationsSkipped  *prometheus.CounterVec
	DispatchQueueDepth    prometheus.Gauge
	DispatchRejected      prometheus.Counter

	// Settlement metrics
	PurchasesMatched      *prometheus.CounterVec
	TransfersTotal        *prometheus.CounterVec
	TransferAttempts      prometheus.Histogram
	TokenAccountsCreated  *prometheus.CounterVec
	SettlementErrors      *prometheus.CounterVec
	PriceFeedRequests     *prometheus.CounterVec
	BacklogRowsProcessed  *prometheus.CounterVec
	BacklogPassDuration   prometheus.Histogram

	// Chain metrics
	RPCCallLatency *prometheus.HistogramVec

	// Health metrics
	LastSuccessfulSettlement prometheus.Gauge
	LastBacklogPass          prometheus.Gauge
}

// NewMetrics creates a Metrics instance registered with reg.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "presale_settler"
	}
	factory := promauto.With(reg)

	return &Metrics{
		NotificationsReceived: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "webhook",
			Name:      "notifications_received_total",
			Help:      "Total number of transaction notifications received",
		}),
		NotificationsSkipped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "webhook",
			Name:      "notifications_skipped_total",
			Help:      "Notifications dropped before settlement, by reason",
		}, []string{"reason"}),
		DispatchQueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "webhook",
			Name:      "dispatch_queue_depth",
			Help:      "Notifications waiting for a dispatcher worker",
		}),
		DispatchRejected: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "webhook",
			Name:      "dispatch_rejected_total",
			Help:      "Deliveries refused because the dispatch queue was full or closed",
		}),

		PurchasesMatched: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "settlement",
			Name:      "purchases_matched_total",
			Help:      "Payments bound to a purchase record, by how the record was obtained",
		}, []string{"source"}),
		TransfersTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "settlement",
			Name:      "transfers_total",
			Help:      "Reward transfers by outcome",
		}, []string{"outcome"}),
		TransferAttempts: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "settlement",
			Name:      "transfer_attempts",
			Help:      "Attempts consumed per transfer execution",
			Buckets:   []float64{1, 2, 3, 4, 5, 8},
		}),
		TokenAccountsCreated: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "settlement",
			Name:      "token_accounts_created_total",
			Help:      "Associated token accounts created, by token program",
		}, []string{"program"}),
		SettlementErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "settlement",
			Name:      "errors_total",
			Help:      "Settlement errors by chain error kind",
		}, []string{"kind"}),
		PriceFeedRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pricefeed",
			Name:      "requests_total",
			Help:      "Spot price lookups by status",
		}, []string{"status"}),
		BacklogRowsProcessed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "backlog",
			Name:      "rows_processed_total",
			Help:      "Pending sends processed by outcome",
		}, []string{"outcome"}),
		BacklogPassDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "backlog",
			Name:      "pass_duration_seconds",
			Help:      "Backlog worker pass duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120},
		}),

		RPCCallLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "solana",
			Name:      "rpc_call_latency_seconds",
			Help:      "Solana RPC call latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "status"}),

		LastSuccessfulSettlement: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_settlement_timestamp",
			Help:      "Unix timestamp of last confirmed reward transfer",
		}),
		LastBacklogPass: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_backlog_pass_timestamp",
			Help:      "Unix timestamp of last completed backlog pass",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("", prometheus.DefaultRegisterer)

// RecordNotificationReceived increments the received notifications counter.
func RecordNotificationReceived(n int) {
	DefaultMetrics.NotificationsReceived.Add(float64(n))
}

// RecordNotificationSkipped records a notification dropped before settlement.
func RecordNotificationSkipped(reason string) {
	DefaultMetrics.NotificationsSkipped.WithLabelValues(reason).Inc()
}

// SetDispatchQueueDepth updates the dispatcher queue gauge.
func SetDispatchQueueDepth(n int) {
	DefaultMetrics.DispatchQueueDepth.Set(float64(n))
}

// RecordDispatchRejected counts a delivery refused with 503.
func RecordDispatchRejected() {
	DefaultMetrics.DispatchRejected.Inc()
}

// RecordPurchaseMatched records how a payment was bound: found, confirmed or created.
func RecordPurchaseMatched(source string) {
	DefaultMetrics.PurchasesMatched.WithLabelValues(source).Inc()
}

// RecordTransfer records a finished transfer execution.
func RecordTransfer(outcome string, attempts int) {
	DefaultMetrics.TransfersTotal.WithLabelValues(outcome).Inc()
	if attempts > 0 {
		DefaultMetrics.TransferAttempts.Observe(float64(attempts))
	}
	if outcome == "success" {
		DefaultMetrics.LastSuccessfulSettlement.Set(float64(time.Now().Unix()))
	}
}

// RecordTokenAccountCreated counts a created associated token account.
func RecordTokenAccountCreated(program string) {
	DefaultMetrics.TokenAccountsCreated.WithLabelValues(program).Inc()
}

// RecordSettlementError counts a settlement failure by error kind.
func RecordSettlementError(kind string) {
	DefaultMetrics.SettlementErrors.WithLabelValues(kind).Inc()
}

// RecordPriceFeed counts a spot price lookup.
func RecordPriceFeed(status string) {
	DefaultMetrics.PriceFeedRequests.WithLabelValues(status).Inc()
}

// RecordBacklogPass records the outcome counts and duration of one worker pass.
func RecordBacklogPass(ok, fail int, d time.Duration) {
	DefaultMetrics.BacklogRowsProcessed.WithLabelValues("sent").Add(float64(ok))
	DefaultMetrics.BacklogRowsProcessed.WithLabelValues("failed").Add(float64(fail))
	DefaultMetrics.BacklogPassDuration.Observe(d.Seconds())
	DefaultMetrics.LastBacklogPass.Set(float64(time.Now().Unix()))
}

// RecordRPCLatency records RPC call latency.
func RecordRPCLatency(method string, d time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	DefaultMetrics.RPCCallLatency.WithLabelValues(method, status).Observe(d.Seconds())
}
