package observability

import (
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type moduleMetrics struct {
	requests  *prometheus.CounterVec
	errors    *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
}

var (
	moduleMetricsOnce sync.Once
	moduleRegistry    *moduleMetrics

	donationMetricsOnce sync.Once
	donationRegistry    *DonationMetrics
)

// ModuleMetrics returns the lazily-initialised registry used to record HTTP API
// activity.
func ModuleMetrics() *moduleMetrics {
	moduleMetricsOnce.Do(func() {
		moduleRegistry = &moduleMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "charity",
				Subsystem: "api",
				Name:      "requests_total",
				Help:      "Total API requests segmented by route, method, and outcome.",
			}, []string{"route", "method", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "charity",
				Subsystem: "api",
				Name:      "errors_total",
				Help:      "Total API errors segmented by route, method, and status code.",
			}, []string{"route", "method", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "charity",
				Subsystem: "api",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for API handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"route", "method"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "charity",
				Subsystem: "api",
				Name:      "throttles_total",
				Help:      "Count of API requests rejected due to throttling policies.",
			}, []string{"route", "reason"}),
		}
		prometheus.MustRegister(
			moduleRegistry.requests,
			moduleRegistry.errors,
			moduleRegistry.latency,
			moduleRegistry.throttles,
		)
	})
	return moduleRegistry
}

// Observe records the outcome of an API request. The status code should be
// the HTTP status that was ultimately written to the response writer.
func (m *moduleMetrics) Observe(route, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unknown"
	}
	if method == "" {
		method = "unknown"
	}
	outcome := "success"
	if status >= 400 {
		outcome = "error"
	}
	m.requests.WithLabelValues(route, method, outcome).Inc()
	if status >= 400 {
		m.errors.WithLabelValues(route, method, fmt.Sprintf("%d", status)).Inc()
	}
	m.latency.WithLabelValues(route, method).Observe(duration.Seconds())
}

// RecordThrottle increments the throttle counter for the supplied route and
// reason. Reasons should be stable strings such as "rate_limit".
func (m *moduleMetrics) RecordThrottle(route, reason string) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unknown"
	}
	if reason == "" {
		reason = "unspecified"
	}
	m.throttles.WithLabelValues(route, reason).Inc()
}

// DonationMetrics captures ledger level activity.
type DonationMetrics struct {
	operations      *prometheus.CounterVec
	latency         *prometheus.HistogramVec
	activeCampaigns prometheus.Gauge
	accumulatedFee  prometheus.Gauge
	totalDonations  prometheus.Gauge
	canceledFunds   prometheus.Gauge
	roundingDust    prometheus.Counter
}

// Donation returns the singleton registry for ledger operations.
func Donation() *DonationMetrics {
	donationMetricsOnce.Do(func() {
		donationRegistry = &DonationMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "charity",
				Subsystem: "ledger",
				Name:      "operations_total",
				Help:      "Count of ledger operations segmented by operation and outcome.",
			}, []string{"operation", "outcome"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "charity",
				Subsystem: "ledger",
				Name:      "operation_duration_seconds",
				Help:      "Latency distribution of committed ledger operations.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"operation"}),
			activeCampaigns: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "charity",
				Subsystem: "ledger",
				Name:      "active_campaigns",
				Help:      "Number of campaigns tracked by the active balance index.",
			}),
			accumulatedFee: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "charity",
				Subsystem: "ledger",
				Name:      "accumulated_fee",
				Help:      "Service fee collected and not yet withdrawn.",
			}),
			totalDonations: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "charity",
				Subsystem: "ledger",
				Name:      "total_donations",
				Help:      "Gross currency contributed across all campaigns.",
			}),
			canceledFunds: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "charity",
				Subsystem: "ledger",
				Name:      "total_canceled_funds",
				Help:      "Pooled balances released by cancellations.",
			}),
			roundingDust: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "charity",
				Subsystem: "ledger",
				Name:      "redistribution_dust_total",
				Help:      "Currency left in canceled campaign escrows by share flooring.",
			}),
		}
		prometheus.MustRegister(
			donationRegistry.operations,
			donationRegistry.latency,
			donationRegistry.activeCampaigns,
			donationRegistry.accumulatedFee,
			donationRegistry.totalDonations,
			donationRegistry.canceledFunds,
			donationRegistry.roundingDust,
		)
	})
	return donationRegistry
}

// RecordOperation counts an operation attempt. Rejected operations record a
// zero duration and are not added to the latency histogram.
func (m *DonationMetrics) RecordOperation(operation string, err error, duration time.Duration) {
	if m == nil {
		return
	}
	outcome := "committed"
	if err != nil {
		outcome = "rejected"
	}
	m.operations.WithLabelValues(operation, outcome).Inc()
	if err == nil {
		m.latency.WithLabelValues(operation).Observe(duration.Seconds())
	}
}

// ObserveLedger publishes the service ledger totals.
func (m *DonationMetrics) ObserveLedger(active int, accumulatedFee, totalDonations, canceledFunds uint64) {
	if m == nil {
		return
	}
	m.activeCampaigns.Set(float64(active))
	m.accumulatedFee.Set(float64(accumulatedFee))
	m.totalDonations.Set(float64(totalDonations))
	m.canceledFunds.Set(float64(canceledFunds))
}

// RecordDust accumulates the rounding remainder of a cancellation.
func (m *DonationMetrics) RecordDust(amount uint64) {
	if m == nil || amount == 0 {
		return
	}
	m.roundingDust.Add(float64(amount))
}
