package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds the storefront collectors. A nil *Registry is valid and
// records nothing, so components can take one optionally.
type Registry struct {
	registry            *prometheus.Registry
	cartMutationsTotal  *prometheus.CounterVec
	cartPersistFailures prometheus.Counter
	cartItems           prometheus.Gauge
	checkoutSessions    *prometheus.CounterVec
	checkoutOutcomes    *prometheus.CounterVec
	pollTicksTotal      *prometheus.CounterVec
	walletAuthTotal     *prometheus.CounterVec
}

func New() *Registry {
	mutations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "storefront_cart_mutations_total",
		Help: "Cart mutations applied, by operation",
	}, []string{"op"})

	persistFailures := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "storefront_cart_persist_failures_total",
		Help: "Cart writes to durable storage that failed",
	})

	items := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "storefront_cart_items",
		Help: "Total quantity of items currently in the cart",
	})

	sessions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "storefront_checkout_sessions_total",
		Help: "Checkout session creation attempts, by result",
	}, []string{"result"})

	outcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "storefront_checkout_outcomes_total",
		Help: "Terminal checkout outcomes",
	}, []string{"outcome"})

	polls := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "storefront_poll_ticks_total",
		Help: "Payment status poll ticks, by result",
	}, []string{"result"})

	auth := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "storefront_wallet_auth_total",
		Help: "Wallet authentication attempts, by result",
	}, []string{"result"})

	r := prometheus.NewRegistry()
	r.MustRegister(mutations, persistFailures, items, sessions, outcomes, polls, auth)

	return &Registry{
		registry:            r,
		cartMutationsTotal:  mutations,
		cartPersistFailures: persistFailures,
		cartItems:           items,
		checkoutSessions:    sessions,
		checkoutOutcomes:    outcomes,
		pollTicksTotal:      polls,
		walletAuthTotal:     auth,
	}
}

func (m *Registry) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Gatherer exposes the underlying registry for tests.
func (m *Registry) Gatherer() prometheus.Gatherer {
	return m.registry
}

func (m *Registry) IncCartMutation(op string) {
	if m == nil {
		return
	}
	m.cartMutationsTotal.WithLabelValues(op).Inc()
}

func (m *Registry) IncCartPersistFailure() {
	if m == nil {
		return
	}
	m.cartPersistFailures.Inc()
}

func (m *Registry) SetCartItems(count int) {
	if m == nil {
		return
	}
	m.cartItems.Set(float64(count))
}

func (m *Registry) IncSession(result string) {
	if m == nil {
		return
	}
	m.checkoutSessions.WithLabelValues(result).Inc()
}

func (m *Registry) IncOutcome(outcome string) {
	if m == nil {
		return
	}
	m.checkoutOutcomes.WithLabelValues(outcome).Inc()
}

func (m *Registry) IncPoll(result string) {
	if m == nil {
		return
	}
	m.pollTicksTotal.WithLabelValues(result).Inc()
}

func (m *Registry) IncWalletAuth(result string) {
	if m == nil {
		return
	}
	m.walletAuthTotal.WithLabelValues(result).Inc()
}
