package checkout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-playground/validator/v10"

	"storefront/internal/api"
	"storefront/internal/cart"
	"storefront/internal/logger"
	"storefront/internal/metrics"
	"storefront/internal/wallet"
)

// Backend is the subset of the storefront API checkout needs.
type Backend interface {
	StatusFetcher
	CreateCheckout(ctx context.Context, storeID string, req api.CheckoutRequest) (*api.CheckoutSession, error)
	VerifyPayment(ctx context.Context, storeID string, req api.VerifyRequest) (*api.VerifyResult, error)
}

type Cart interface {
	GetStoreItems(storeSlug string) []cart.Item
	ClearStore(ctx context.Context, storeSlug string) cart.Cart
}

type Wallet interface {
	Session() wallet.Session
	ClearSession(ctx context.Context) error
}

type Config struct {
	PollInterval   time.Duration
	TickInterval   time.Duration
	SessionTimeout time.Duration
	StatusTimeout  time.Duration
	Now            func() time.Time
	Logger         *slog.Logger
	Metrics        *metrics.Registry
}

// Summary describes what a submit would send for the selected store.
type Summary struct {
	Items []cart.Item
	// Line is the single item sent to the backend; nil when the store cart is empty.
	Line  *cart.Item
	Total string
}

// Orchestrator drives one checkout view from form to a terminal outcome.
type Orchestrator struct {
	backend  Backend
	cart     Cart
	wallet   Wallet
	poller   *Poller
	timer    *ExpiryTimer
	create   RetryPolicy
	timeout  time.Duration
	validate *validator.Validate
	log      *slog.Logger
	metrics  *metrics.Registry

	mu    sync.Mutex
	state atomic.Pointer[State]

	lmu       sync.RWMutex
	listeners map[uint64]func(State)
	nextID    uint64
}

func New(backend Backend, c Cart, w Wallet, cfg Config) *Orchestrator {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 3 * time.Second
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	log := logger.Or(cfg.Logger).With("component", "checkout")

	o := &Orchestrator{
		backend:   backend,
		cart:      c,
		wallet:    w,
		poller:    NewPoller(backend, StatusPollPolicy(cfg.PollInterval, cfg.StatusTimeout), log, cfg.Metrics),
		timer:     NewExpiryTimer(cfg.TickInterval, cfg.Now),
		create:    SessionCreationPolicy(cfg.SessionTimeout),
		timeout:   cfg.StatusTimeout,
		validate:  validator.New(),
		log:       log,
		metrics:   cfg.Metrics,
		listeners: make(map[uint64]func(State)),
	}
	o.state.Store(&State{Phase: PhaseForm})
	return o
}

// State returns the current snapshot without blocking.
func (o *Orchestrator) State() State {
	return *o.state.Load()
}

// Subscribe registers fn for every applied transition. fn runs synchronously
// in transition order and must not call back into methods that change state.
func (o *Orchestrator) Subscribe(fn func(State)) func() {
	o.lmu.Lock()
	id := o.nextID
	o.nextID++
	o.listeners[id] = fn
	o.lmu.Unlock()

	return func() {
		o.lmu.Lock()
		delete(o.listeners, id)
		o.lmu.Unlock()
	}
}

// SetForm replaces the form input. It is accepted in the form and failed phases.
func (o *Orchestrator) SetForm(email, storeSlug string) error {
	if _, ok := o.dispatch(FormEdited{Email: email, StoreSlug: storeSlug}); !ok {
		return o.rejected()
	}
	return nil
}

// Summary reports the selected store's items and the total shown to the buyer.
func (o *Orchestrator) Summary() Summary {
	items := o.cart.GetStoreItems(o.State().StoreSlug)
	sum := Summary{Items: items, Total: cart.FormatTotal(items)}
	if len(items) > 0 {
		line := items[0]
		sum.Line = &line
	}
	return sum
}

// Submit validates the form and creates a checkout session. Only the first
// item of the store cart is sent, with its own quantity.
func (o *Orchestrator) Submit(ctx context.Context) error {
	var (
		next  State
		sess  wallet.Session
		items []cart.Item
	)
	for {
		st := o.State()
		if st.Closed {
			return ErrClosed
		}
		if st.Phase != PhaseForm {
			return ErrInvalidTransition
		}

		sess = o.wallet.Session()
		items = o.cart.GetStoreItems(st.StoreSlug)
		if err := o.validateForm(st, sess, items); err != nil {
			o.dispatch(ValidationFailed{Err: err})
			return err
		}

		// Rejected when the form changed after it was validated; validate again.
		var ok bool
		if next, ok = o.dispatch(Submitted{Email: st.Email, StoreSlug: st.StoreSlug, Wallet: sess.Address}); ok {
			break
		}
	}

	line := items[0]
	req := api.CheckoutRequest{
		ProductID:      line.ID,
		Quantity:       line.Quantity,
		CustomerWallet: sess.Address,
		CustomerEmail:  next.Email,
		Currency:       line.Currency,
	}

	var session *api.CheckoutSession
	err := o.create.Do(ctx, func(ctx context.Context) error {
		var err error
		session, err = o.backend.CreateCheckout(ctx, next.StoreSlug, req)
		return err
	})
	if err == nil && session.ExpiresAt.IsZero() {
		err = errors.New("checkout session has no expiry")
	}
	if err != nil {
		o.metrics.IncSession("failed")
		o.log.Warn("create checkout failed", "store", next.StoreSlug, "attempt", next.Attempt, "err", err)
		o.dispatch(SessionFailed{Attempt: next.Attempt, Err: err})
		return err
	}

	if _, ok := o.dispatch(SessionCreated{Attempt: next.Attempt, Session: session}); !ok {
		o.metrics.IncSession("discarded")
		o.log.Info("checkout session discarded", "store", next.StoreSlug, "attempt", next.Attempt, "order_id", session.OrderID)
		return nil
	}
	o.metrics.IncSession("created")
	return nil
}

// Retry returns a failed checkout to the form with its input intact.
func (o *Orchestrator) Retry() error {
	if o.State().Phase != PhaseFailed {
		return o.rejected()
	}
	if _, ok := o.dispatch(UserCancelled{}); !ok {
		return o.rejected()
	}
	return nil
}

// Cancel abandons the pending session and returns to the form.
func (o *Orchestrator) Cancel() error {
	if _, ok := o.dispatch(UserCancelled{}); !ok {
		return o.rejected()
	}
	return nil
}

// Verify asks the backend to check a transaction signature the buyer already
// has, instead of waiting for the next poll.
func (o *Orchestrator) Verify(ctx context.Context, signature string) (*api.VerifyResult, error) {
	st := o.State()
	if st.Phase != PhasePayment || st.Session == nil {
		return nil, o.rejected()
	}

	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}
	res, err := o.backend.VerifyPayment(ctx, st.StoreSlug, api.VerifyRequest{OrderID: st.Session.OrderID, Signature: signature})
	if err != nil {
		return nil, fmt.Errorf("verify payment: %w", err)
	}

	status := res.Status
	if res.Verified {
		status = api.StatusCompleted
	}
	if status.Terminal() {
		o.dispatch(StatusReceived{Attempt: st.Attempt, Status: &api.PaymentStatus{
			OrderID:              st.Session.OrderID,
			Status:               status,
			Amount:               st.Session.Amount,
			Currency:             st.Session.Currency,
			PaymentURL:           st.Session.PaymentURL,
			ExpiresAt:            st.Session.ExpiresAt,
			TransactionSignature: res.TransactionSignature,
		}})
	}
	return res, nil
}

// Close stops all timers. Later callbacks are ignored.
func (o *Orchestrator) Close() {
	o.dispatch(Teardown{})
}

func (o *Orchestrator) validateForm(st State, sess wallet.Session, items []cart.Item) error {
	if !sess.Connected() {
		return &ValidationError{Field: "wallet", Err: ErrWalletNotConnected}
	}
	if len(items) == 0 {
		return &ValidationError{Field: "cart", Err: ErrEmptyCart}
	}
	if err := o.validate.Var(st.Email, "required,email"); err != nil {
		return &ValidationError{Field: "email", Err: ErrInvalidEmail}
	}
	return nil
}

func (o *Orchestrator) rejected() error {
	if o.State().Closed {
		return ErrClosed
	}
	return ErrInvalidTransition
}

// dispatch is the only writer of state. Cart cleanup and timer effects are
// applied under the lock before the new state is published; auth cleanup runs
// after.
func (o *Orchestrator) dispatch(e Event) (State, bool) {
	o.mu.Lock()
	prev := *o.state.Load()
	next, effects, ok := Reduce(prev, e)
	if !ok {
		o.mu.Unlock()
		return prev, false
	}

	var deferred []Effect
	for _, eff := range effects {
		switch eff := eff.(type) {
		case StartTimers:
			o.startTimers(eff)
		case StopTimers:
			o.poller.Stop()
			o.timer.Stop()
		case ClearStoreCart:
			o.cleanup(eff)
		default:
			deferred = append(deferred, eff)
		}
	}
	o.state.Store(&next)
	if prev.Phase != next.Phase {
		o.recordTransition(prev, next)
	}
	o.notify(next)
	o.mu.Unlock()

	for _, eff := range deferred {
		o.cleanup(eff)
	}
	return next, true
}

func (o *Orchestrator) startTimers(eff StartTimers) {
	attempt := eff.Attempt
	o.poller.Start(eff.StoreSlug, eff.Session.OrderID,
		func(st *api.PaymentStatus) { o.dispatch(StatusReceived{Attempt: attempt, Status: st}) },
		func(err error) {
			// A rejected token is dropped but polling goes on; the buyer
			// reconnects before the next checkout.
			if errors.Is(err, api.ErrUnauthorized) {
				o.cleanup(ClearAuth{})
			}
		},
	)
	o.timer.Start(eff.Session.ExpiresAt,
		func(left time.Duration) { o.dispatch(CountdownTicked{Attempt: attempt, Remaining: left}) },
		func() { o.dispatch(ExpiryReached{Attempt: attempt}) },
	)
}

func (o *Orchestrator) cleanup(eff Effect) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	switch eff := eff.(type) {
	case ClearStoreCart:
		o.cart.ClearStore(ctx, eff.StoreSlug)
	case ClearAuth:
		if err := o.wallet.ClearSession(ctx); err != nil {
			o.log.Error("clear auth session", "err", err)
		}
	}
}

func (o *Orchestrator) recordTransition(prev, next State) {
	attrs := []any{"from", prev.Phase, "to", next.Phase, "attempt", next.Attempt, "store", next.StoreSlug}
	if next.Session != nil {
		attrs = append(attrs, "order_id", next.Session.OrderID)
	}
	if next.Err != nil {
		attrs = append(attrs, "err", next.Err)
	}
	o.log.Info("checkout transition", attrs...)

	switch {
	case next.Phase == PhaseSuccess:
		o.metrics.IncOutcome("completed")
	case next.Phase == PhaseFailed && next.Expired:
		o.metrics.IncOutcome("expired")
	case next.Phase == PhaseFailed:
		o.metrics.IncOutcome("failed")
	}
}

func (o *Orchestrator) notify(st State) {
	o.lmu.RLock()
	defer o.lmu.RUnlock()
	for _, fn := range o.listeners {
		fn(st)
	}
}
