package checkout

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"storefront/internal/api"
	"storefront/internal/logger"
	"storefront/internal/metrics"
)

var errEmptyStatus = errors.New("empty payment status response")

// StatusFetcher reads the authoritative order status.
type StatusFetcher interface {
	CheckoutStatus(ctx context.Context, storeID, orderID string) (*api.PaymentStatus, error)
}

// Poller checks one order's status on a fixed period until the status is
// terminal or the poll is stopped. At most one poll runs per Poller.
type Poller struct {
	fetcher StatusFetcher
	policy  RetryPolicy
	log     *slog.Logger
	metrics *metrics.Registry

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running atomic.Int32
}

func NewPoller(fetcher StatusFetcher, policy RetryPolicy, log *slog.Logger, m *metrics.Registry) *Poller {
	closed := make(chan struct{})
	close(closed)
	return &Poller{
		fetcher: fetcher,
		policy:  policy,
		log:     logger.Or(log),
		metrics: m,
		done:    closed,
	}
}

// Start begins polling orderID, cancelling any poll already running. The first
// check happens immediately. onStatus receives every successful response and
// onError, when non-nil, every failed one. Errors never end the poll.
func (p *Poller) Start(storeID, orderID string, onStatus func(*api.PaymentStatus), onError func(error)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopLocked()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	p.cancel = cancel
	p.done = done

	p.running.Add(1)
	go func() {
		defer p.running.Add(-1)
		defer close(done)
		p.run(ctx, storeID, orderID, onStatus, onError)
	}()
}

// Stop cancels the current poll without waiting for it. A request already in
// flight still completes and its result is still delivered.
func (p *Poller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopLocked()
}

// Done is closed when the most recently started poll has exited.
func (p *Poller) Done() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.done
}

// Running reports how many poll loops have not yet exited.
func (p *Poller) Running() int {
	return int(p.running.Load())
}

func (p *Poller) stopLocked() {
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
}

func (p *Poller) run(ctx context.Context, storeID, orderID string, onStatus func(*api.PaymentStatus), onError func(error)) {
	ticker := newTicker(p.policy.Interval)
	defer ticker.Stop()

	for {
		if ctx.Err() != nil || p.check(ctx, storeID, orderID, onStatus, onError) {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// check runs one status request and reports whether polling should end.
func (p *Poller) check(ctx context.Context, storeID, orderID string, onStatus func(*api.PaymentStatus), onError func(error)) bool {
	reqCtx, cancel := p.policy.attemptContext(context.WithoutCancel(ctx))
	defer cancel()

	status, err := p.fetcher.CheckoutStatus(reqCtx, storeID, orderID)
	if err == nil && status == nil {
		err = errEmptyStatus
	}
	if err != nil {
		p.metrics.IncPoll("error")
		p.log.Warn("payment status check failed", "order_id", orderID, "transient", api.Transient(err), "err", err)
		if onError != nil {
			onError(err)
		}
		return p.policy.AbortOnError
	}

	p.metrics.IncPoll(string(status.Status))
	onStatus(status)
	return status.Status.Terminal()
}
