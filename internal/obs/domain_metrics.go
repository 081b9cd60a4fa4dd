package obs

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// CartPersistTotal counts cart persistence attempts by target (remote, local, pending) and result.
	CartPersistTotal *prometheus.CounterVec
	// CartMergeTotal counts guest-into-owned cart merges by outcome.
	CartMergeTotal *prometheus.CounterVec
	// OrdersPlacedTotal counts orders appended to the order store by payment method.
	OrdersPlacedTotal *prometheus.CounterVec
	// OrderTransitionsTotal counts applied order status transitions.
	OrderTransitionsTotal *prometheus.CounterVec
	// PaymentSettlementsTotal counts online payment confirmations by result.
	PaymentSettlementsTotal *prometheus.CounterVec
	// CatalogCacheTotal counts product price lookups by cache outcome.
	CatalogCacheTotal *prometheus.CounterVec
	// NotificationsTotal counts processed notification tasks.
	NotificationsTotal *prometheus.CounterVec
	// BreakerState exposes the docstore circuit breaker state (0 closed, 1 half-open, 2 open).
	BreakerState *prometheus.GaugeVec
)

// MustRegisterDomainMetrics initialises and registers domain-specific Prometheus collectors.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		CartPersistTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cart_persist_total",
			Help:      "Count of cart persistence attempts by target and result.",
		}, []string{"target", "result"})
		CartMergeTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cart_merge_total",
			Help:      "Count of guest cart merges performed at login.",
		}, []string{"result"})
		OrdersPlacedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_placed_total",
			Help:      "Count of orders placed by payment method.",
		}, []string{"payment_method"})
		OrderTransitionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "order_status_transitions_total",
			Help:      "Count of applied order status transitions.",
		}, []string{"from", "to"})
		PaymentSettlementsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_settlements_total",
			Help:      "Count of online payment confirmations by result.",
		}, []string{"result"})
		CatalogCacheTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "catalog_cache_total",
			Help:      "Count of product lookups by cache outcome.",
		}, []string{"result"})
		NotificationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Count of processed notification tasks by topic and result.",
		}, []string{"topic", "result"})
		BreakerState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state: 0 closed, 1 half-open, 2 open.",
		}, []string{"name"})

		for _, ref := range []**prometheus.CounterVec{
			&CartPersistTotal,
			&CartMergeTotal,
			&OrdersPlacedTotal,
			&OrderTransitionsTotal,
			&PaymentSettlementsTotal,
			&CatalogCacheTotal,
			&NotificationsTotal,
		} {
			ref := ref
			mustRegisterCollector(reg, *ref, func(existing prometheus.Collector) {
				if v, ok := existing.(*prometheus.CounterVec); ok {
					*ref = v
				}
			})
		}
		mustRegisterCollector(reg, BreakerState, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.GaugeVec); ok {
				BreakerState = v
			}
		})
	})
}

// SetBreakerState records a breaker state transition by name.
func SetBreakerState(name, state string) {
	if BreakerState == nil {
		return
	}
	value := 0.0
	switch state {
	case "half-open":
		value = 1
	case "open":
		value = 2
	}
	BreakerState.WithLabelValues(name).Set(value)
}

func mustRegisterCollector(reg prometheus.Registerer, collector prometheus.Collector, reuse func(prometheus.Collector)) {
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
