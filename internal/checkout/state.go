package checkout

import (
	"errors"
	"time"

	"storefront/internal/api"
)

type Phase string

const (
	PhaseForm       Phase = "form"
	PhaseProcessing Phase = "processing"
	PhasePayment    Phase = "payment"
	PhaseSuccess    Phase = "success"
	PhaseFailed     Phase = "failed"
)

// State is the single source of truth for one checkout view. Every change
// goes through Reduce.
type State struct {
	Phase     Phase
	Attempt   uint64
	Email     string
	StoreSlug string
	Wallet    string
	Session   *api.CheckoutSession
	Status    *api.PaymentStatus
	Remaining time.Duration
	Expired   bool
	Err       error
	Closed    bool
}

// ErrorText is the user-facing rendering of Err.
func (s State) ErrorText() string {
	return UserMessage(s.Err)
}

// Event is an input to Reduce. Timers and network callbacks only ever emit
// events; they never touch State directly.
type Event interface {
	isEvent()
}

type FormEdited struct {
	Email     string
	StoreSlug string
}

type ValidationFailed struct {
	Err error
}

// Submitted carries the form input it was validated against and is rejected
// when the form has changed since.
type Submitted struct {
	Email     string
	StoreSlug string
	Wallet    string
}

type SessionCreated struct {
	Attempt uint64
	Session *api.CheckoutSession
}

type SessionFailed struct {
	Attempt uint64
	Err     error
}

// StatusReceived carries every status the poller observes. Only terminal
// ones change the phase.
type StatusReceived struct {
	Attempt uint64
	Status  *api.PaymentStatus
}

type CountdownTicked struct {
	Attempt   uint64
	Remaining time.Duration
}

type ExpiryReached struct {
	Attempt uint64
}

type UserCancelled struct{}

type Teardown struct{}

func (FormEdited) isEvent()       {}
func (ValidationFailed) isEvent() {}
func (Submitted) isEvent()        {}
func (SessionCreated) isEvent()   {}
func (SessionFailed) isEvent()    {}
func (StatusReceived) isEvent()   {}
func (CountdownTicked) isEvent()  {}
func (ExpiryReached) isEvent()    {}
func (UserCancelled) isEvent()    {}
func (Teardown) isEvent()         {}

// Effect is work the orchestrator performs after a transition.
type Effect interface {
	isEffect()
}

type StartTimers struct {
	Attempt   uint64
	StoreSlug string
	Session   *api.CheckoutSession
}

type StopTimers struct{}

type ClearStoreCart struct {
	StoreSlug string
}

type ClearAuth struct{}

func (StartTimers) isEffect()    {}
func (StopTimers) isEffect()     {}
func (ClearStoreCart) isEffect() {}
func (ClearAuth) isEffect()      {}

// Reduce applies e to s. The boolean is false when e does not apply to the
// current phase or belongs to an earlier attempt; s is then returned as is.
func Reduce(s State, e Event) (State, []Effect, bool) {
	if s.Closed {
		return s, nil, false
	}

	switch ev := e.(type) {
	case FormEdited:
		if s.Phase != PhaseForm && s.Phase != PhaseFailed {
			return s, nil, false
		}
		s.Email = ev.Email
		s.StoreSlug = ev.StoreSlug
		return s, nil, true

	case ValidationFailed:
		if s.Phase != PhaseForm {
			return s, nil, false
		}
		s.Err = ev.Err
		return s, nil, true

	case Submitted:
		if s.Phase != PhaseForm || ev.Email != s.Email || ev.StoreSlug != s.StoreSlug {
			return s, nil, false
		}
		s = resetAttempt(s)
		s.Phase = PhaseProcessing
		s.Attempt++
		s.Wallet = ev.Wallet
		return s, nil, true

	case SessionCreated:
		if s.Phase != PhaseProcessing || ev.Attempt != s.Attempt || ev.Session == nil {
			return s, nil, false
		}
		s.Phase = PhasePayment
		s.Session = ev.Session
		return s, []Effect{StartTimers{Attempt: s.Attempt, StoreSlug: s.StoreSlug, Session: ev.Session}}, true

	case SessionFailed:
		if s.Phase != PhaseProcessing || ev.Attempt != s.Attempt {
			return s, nil, false
		}
		s.Phase = PhaseForm
		s.Err = ev.Err
		if errors.Is(ev.Err, api.ErrUnauthorized) {
			return s, []Effect{ClearAuth{}}, true
		}
		return s, nil, true

	case StatusReceived:
		if s.Phase != PhasePayment || ev.Attempt != s.Attempt || ev.Status == nil {
			return s, nil, false
		}
		s.Status = ev.Status
		switch ev.Status.Status {
		case api.StatusCompleted:
			s.Phase = PhaseSuccess
			return s, []Effect{StopTimers{}, ClearStoreCart{StoreSlug: s.StoreSlug}}, true
		case api.StatusFailed:
			s.Phase = PhaseFailed
			s.Err = ErrPaymentFailed
			return s, []Effect{StopTimers{}}, true
		}
		return s, nil, true

	case CountdownTicked:
		if s.Phase != PhasePayment || ev.Attempt != s.Attempt {
			return s, nil, false
		}
		s.Remaining = ev.Remaining
		return s, nil, true

	case ExpiryReached:
		if s.Phase != PhasePayment || ev.Attempt != s.Attempt {
			return s, nil, false
		}
		s.Phase = PhaseFailed
		s.Expired = true
		s.Remaining = 0
		s.Err = ErrSessionExpired
		return s, []Effect{StopTimers{}}, true

	case UserCancelled:
		switch s.Phase {
		case PhaseProcessing, PhasePayment, PhaseFailed:
		default:
			return s, nil, false
		}
		s = resetAttempt(s)
		s.Phase = PhaseForm
		return s, []Effect{StopTimers{}}, true

	case Teardown:
		s.Closed = true
		return s, []Effect{StopTimers{}}, true
	}

	return s, nil, false
}

// resetAttempt discards everything tied to the current attempt and keeps the
// form input.
func resetAttempt(s State) State {
	s.Session = nil
	s.Status = nil
	s.Remaining = 0
	s.Expired = false
	s.Err = nil
	return s
}
