package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestNilRegistryIsSafe(t *testing.T) {
	var m *Registry
	m.IncCartMutation("add")
	m.IncCartPersistFailure()
	m.SetCartItems(3)
	m.IncSession("created")
	m.IncOutcome("success")
	m.IncPoll("error")
	m.IncWalletAuth("ok")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 from nil registry, got %d", rec.Code)
	}
}

func TestHandlerExposesCounters(t *testing.T) {
	m := New()
	m.IncCartMutation("add")
	m.IncPoll("pending")
	m.SetCartItems(2)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rec.Body.String()

	for _, want := range []string{
		`storefront_cart_mutations_total{op="add"} 1`,
		`storefront_poll_ticks_total{result="pending"} 1`,
		`storefront_cart_items 2`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected %q in metrics output:\n%s", want, body)
		}
	}
}
