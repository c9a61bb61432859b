package obs

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// VoucherIssuedTotal counts issuance attempts by outcome.
	VoucherIssuedTotal *prometheus.CounterVec
	// VoucherRedeemedTotal counts redemption attempts by outcome.
	VoucherRedeemedTotal *prometheus.CounterVec
	// WalletRequestsTotal counts outbound wallet calls by operation and result.
	WalletRequestsTotal *prometheus.CounterVec
	// WalletRequestLatency records wallet call latency in milliseconds.
	WalletRequestLatency *prometheus.HistogramVec
	// DiscountUpdatesTotal counts accepted discount changes.
	DiscountUpdatesTotal prometheus.Counter
)

// MustRegisterDomainMetrics initialises and registers domain-specific Prometheus collectors.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		VoucherIssuedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "voucher_issued_total",
			Help:      "Count of voucher issuance outcomes.",
		}, []string{"result"})
		VoucherRedeemedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "voucher_redeemed_total",
			Help:      "Count of voucher redemption outcomes.",
		}, []string{"result"})
		WalletRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "wallet_requests_total",
			Help:      "Count of outbound wallet service calls by operation and result.",
		}, []string{"operation", "result"})
		WalletRequestLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "wallet_request_duration_ms",
			Help:      "Latency of outbound wallet service calls in milliseconds.",
			Buckets:   []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		}, []string{"operation"})
		DiscountUpdatesTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "discount_updates_total",
			Help:      "Number of accepted discount configuration changes.",
		})

		registerCollector(reg, VoucherIssuedTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				VoucherIssuedTotal = v
			}
		})
		registerCollector(reg, VoucherRedeemedTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				VoucherRedeemedTotal = v
			}
		})
		registerCollector(reg, WalletRequestsTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				WalletRequestsTotal = v
			}
		})
		registerCollector(reg, WalletRequestLatency, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.HistogramVec); ok {
				WalletRequestLatency = v
			}
		})
		registerCollector(reg, DiscountUpdatesTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(prometheus.Counter); ok {
				DiscountUpdatesTotal = v
			}
		})
	})
}

func registerCollector(reg prometheus.Registerer, collector prometheus.Collector, reuse func(prometheus.Collector)) {
	if err := reg.Register(collector); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if reuse != nil {
				reuse(are.ExistingCollector)
			}
			return
		}
		panic(fmt.Errorf("register domain metric: %w", err))
	}
}
