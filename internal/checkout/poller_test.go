package checkout

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storefront/internal/api"
	"storefront/internal/logger"
	"storefront/internal/metrics"
)

// scriptedFetcher answers each order from its script; the last entry repeats.
type scriptedFetcher struct {
	mu      sync.Mutex
	scripts map[string][]fetchResult
	calls   map[string]int
	block   chan struct{}
}

type fetchResult struct {
	status api.Status
	err    error
}

func newScriptedFetcher(scripts map[string][]fetchResult) *scriptedFetcher {
	return &scriptedFetcher{scripts: scripts, calls: make(map[string]int)}
}

func (f *scriptedFetcher) CheckoutStatus(ctx context.Context, _, orderID string) (*api.PaymentStatus, error) {
	f.mu.Lock()
	n := f.calls[orderID]
	f.calls[orderID]++
	script := f.scripts[orderID]
	block := f.block
	f.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	res := fetchResult{status: api.StatusPending}
	if len(script) > 0 {
		res = script[min(n, len(script)-1)]
	}
	if res.err != nil {
		return nil, res.err
	}
	return &api.PaymentStatus{OrderID: orderID, Status: res.status}, nil
}

func (f *scriptedFetcher) Calls(orderID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[orderID]
}

func newTestPoller(f StatusFetcher, m *metrics.Registry) *Poller {
	return NewPoller(f, StatusPollPolicy(2*time.Millisecond, time.Second), logger.Discard(), m)
}

// counterValue reads one labelled sample of a counter family from m.
func counterValue(t *testing.T, m *metrics.Registry, name, label string) float64 {
	t.Helper()
	families, err := m.Gatherer().Gather()
	require.NoError(t, err)
	for _, fam := range families {
		if fam.GetName() != name {
			continue
		}
		for _, metric := range fam.GetMetric() {
			if metric.GetLabel()[0].GetValue() == label {
				return metric.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func waitDone(t *testing.T, p *Poller) {
	t.Helper()
	select {
	case <-p.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("poller did not stop")
	}
}

func TestPollerStopsOnTerminalStatus(t *testing.T) {
	f := newScriptedFetcher(map[string][]fetchResult{
		"o1": {{status: api.StatusPending}, {status: api.StatusPending}, {status: api.StatusCompleted}},
	})
	p := newTestPoller(f, nil)

	var mu sync.Mutex
	var seen []api.Status
	p.Start("s1", "o1", func(st *api.PaymentStatus) {
		mu.Lock()
		seen = append(seen, st.Status)
		mu.Unlock()
	}, nil)
	waitDone(t, p)
	time.Sleep(10 * time.Millisecond)

	assert.Equal(t, 3, f.Calls("o1"))
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []api.Status{api.StatusPending, api.StatusPending, api.StatusCompleted}, seen)
}

func TestPollerKeepsGoingAfterErrors(t *testing.T) {
	f := newScriptedFetcher(map[string][]fetchResult{
		"o1": {{err: api.ErrNetwork}, {err: &api.StatusError{StatusCode: 502}}, {status: api.StatusFailed}},
	})
	m := metrics.New()
	p := newTestPoller(f, m)

	var delivered, failures atomic.Int32
	p.Start("s1", "o1", func(*api.PaymentStatus) { delivered.Add(1) }, func(error) { failures.Add(1) })
	waitDone(t, p)

	assert.Equal(t, 3, f.Calls("o1"))
	assert.Equal(t, int32(1), delivered.Load())
	assert.Equal(t, int32(2), failures.Load())

	assert.Equal(t, float64(2), counterValue(t, m, "storefront_poll_ticks_total", "error"))
}

// emptyFetcher answers the first few checks with neither a status nor an error.
type emptyFetcher struct {
	empty int
	calls atomic.Int32
}

func (f *emptyFetcher) CheckoutStatus(context.Context, string, string) (*api.PaymentStatus, error) {
	if int(f.calls.Add(1)) <= f.empty {
		return nil, nil
	}
	return &api.PaymentStatus{Status: api.StatusCompleted}, nil
}

func TestPollerTreatsEmptyResponseAsError(t *testing.T) {
	f := &emptyFetcher{empty: 2}
	p := newTestPoller(f, nil)

	var delivered atomic.Int32
	errs := make(chan error, 2)
	p.Start("s1", "o1", func(*api.PaymentStatus) { delivered.Add(1) }, func(err error) { errs <- err })
	waitDone(t, p)

	assert.Equal(t, int32(3), f.calls.Load())
	assert.Equal(t, int32(1), delivered.Load())
	require.Len(t, errs, 2)
	assert.ErrorIs(t, <-errs, errEmptyStatus)
}

func TestPollerStartReplacesPreviousPoll(t *testing.T) {
	f := newScriptedFetcher(nil)
	p := newTestPoller(f, nil)
	noop := func(*api.PaymentStatus) {}

	p.Start("s1", "a", noop, nil)
	require.Eventually(t, func() bool { return f.Calls("a") >= 2 }, time.Second, time.Millisecond)

	p.Start("s1", "b", noop, nil)
	require.Eventually(t, func() bool { return p.Running() == 1 }, time.Second, time.Millisecond)

	frozen := f.Calls("a")
	require.Eventually(t, func() bool { return f.Calls("b") >= 3 }, time.Second, time.Millisecond)
	assert.Equal(t, frozen, f.Calls("a"), "old poll kept running")

	p.Stop()
	waitDone(t, p)
	assert.Zero(t, p.Running())
}

func TestPollerDeliversInFlightResultAfterStop(t *testing.T) {
	f := newScriptedFetcher(map[string][]fetchResult{"o1": {{status: api.StatusCompleted}}})
	f.block = make(chan struct{})
	p := newTestPoller(f, nil)

	got := make(chan api.Status, 1)
	p.Start("s1", "o1", func(st *api.PaymentStatus) { got <- st.Status }, nil)
	require.Eventually(t, func() bool { return f.Calls("o1") == 1 }, time.Second, time.Millisecond)

	p.Stop()
	close(f.block)

	select {
	case st := <-got:
		assert.Equal(t, api.StatusCompleted, st)
	case <-time.After(time.Second):
		t.Fatal("in-flight result was dropped")
	}
	waitDone(t, p)
	assert.Equal(t, 1, f.Calls("o1"))
}

func TestPollerDoneBeforeStart(t *testing.T) {
	p := newTestPoller(newScriptedFetcher(nil), nil)
	select {
	case <-p.Done():
	default:
		t.Fatal("idle poller should report done")
	}
	p.Stop()
}
