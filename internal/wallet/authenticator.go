package wallet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mr-tron/base58"

	"storefront/internal/api"
	"storefront/internal/logger"
	"storefront/internal/metrics"
	"storefront/internal/storage"
)

// Backend issues session tokens for signed challenges.
type Backend interface {
	ConnectWallet(ctx context.Context, req api.WalletAuthRequest) (*api.WalletAuthResponse, error)
}

// Session is the authenticated wallet identity held in durable storage.
type Session struct {
	Address   string `json:"address"`
	AuthToken string `json:"authToken,omitempty"`
	PublicKey string `json:"publicKey"`
}

// Connected reports whether the session carries a usable token.
func (s Session) Connected() bool {
	return s.Address != "" && s.AuthToken != ""
}

// Authenticator bridges a Signer to a backend-issued session token.
type Authenticator struct {
	signer  Signer
	backend Backend
	store   storage.Store
	prefix  string
	now     func() time.Time
	log     *slog.Logger
	metrics *metrics.Registry

	mu      sync.RWMutex
	session Session
	user    api.User
}

type Option func(*Authenticator)

func WithMessagePrefix(prefix string) Option {
	return func(a *Authenticator) { a.prefix = prefix }
}

func WithClock(now func() time.Time) Option {
	return func(a *Authenticator) { a.now = now }
}

func WithLogger(l *slog.Logger) Option {
	return func(a *Authenticator) { a.log = l }
}

func WithMetrics(m *metrics.Registry) Option {
	return func(a *Authenticator) { a.metrics = m }
}

const defaultPrefix = "Sign this message to authenticate with Storefront."

// NewAuthenticator accepts a nil signer; Connect then fails with ErrSignerAbsent.
func NewAuthenticator(signer Signer, backend Backend, store storage.Store, opts ...Option) *Authenticator {
	a := &Authenticator{
		signer:  signer,
		backend: backend,
		store:   store,
		prefix:  defaultPrefix,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.log = logger.Or(a.log).With("component", "wallet")
	return a
}

// BuildChallenge returns the message the wallet is asked to sign.
func BuildChallenge(prefix string, at time.Time) string {
	return fmt.Sprintf("%s\n\nTimestamp: %d", prefix, at.UnixMilli())
}

// Connect runs the full handshake: detect, connect, sign a fresh challenge,
// exchange it for a token and persist token and address.
func (a *Authenticator) Connect(ctx context.Context) (Session, error) {
	sess, err := a.connect(ctx)
	if err != nil {
		a.metrics.IncWalletAuth("failed")
		a.log.Warn("wallet connect failed", "err", err)
		return Session{}, err
	}
	a.metrics.IncWalletAuth("ok")
	a.log.Info("wallet connected", "address", sess.Address)
	return sess, nil
}

func (a *Authenticator) connect(ctx context.Context) (Session, error) {
	if a.signer == nil {
		return Session{}, ErrSignerAbsent
	}
	if p, ok := a.signer.(Prober); ok {
		if err := p.Available(ctx); err != nil {
			return Session{}, classify(stepDetect, err)
		}
	}

	address, err := a.signer.Connect(ctx)
	if err != nil {
		return Session{}, classify(stepConnect, err)
	}
	if address == "" {
		return Session{}, fmt.Errorf("%w: signer returned empty address", ErrWalletFailed)
	}

	message := BuildChallenge(a.prefix, a.now())
	sig, err := a.signer.SignMessage(ctx, []byte(message))
	if err != nil {
		return Session{}, classify(stepSign, err)
	}

	resp, err := a.backend.ConnectWallet(ctx, api.WalletAuthRequest{
		WalletAddress: address,
		Signature:     a.encode(sig),
		Message:       message,
	})
	if err != nil {
		return Session{}, fmt.Errorf("%w: %w", ErrWalletFailed, err)
	}

	sess := Session{
		Address:   address,
		AuthToken: resp.Token,
		PublicKey: address,
	}
	if pk, ok := a.signer.(PublicKeyer); ok {
		sess.PublicKey = pk.PublicKey()
	}

	a.mu.Lock()
	a.session = sess
	a.user = resp.User
	a.mu.Unlock()

	// The in-memory session stays valid for this process if persisting fails.
	if err := a.store.Set(ctx, storage.AuthTokenKey, []byte(sess.AuthToken)); err != nil {
		a.log.Error("persist auth token", "err", err)
	}
	if err := a.store.Set(ctx, storage.WalletAddressKey, []byte(sess.Address)); err != nil {
		a.log.Error("persist wallet address", "err", err)
	}
	return sess, nil
}

func (a *Authenticator) encode(sig []byte) string {
	if enc, ok := a.signer.(SignatureEncoder); ok {
		return enc.EncodeSignature(sig)
	}
	return base58.Encode(sig)
}

// Disconnect clears the local session even when the signer's own disconnect
// fails. Calling it repeatedly is safe.
func (a *Authenticator) Disconnect(ctx context.Context) error {
	if a.signer != nil {
		if err := a.signer.Disconnect(ctx); err != nil {
			a.log.Warn("signer disconnect failed", "err", err)
		}
	}

	a.mu.Lock()
	a.session = Session{}
	a.user = api.User{}
	a.mu.Unlock()

	return errors.Join(
		a.store.Delete(ctx, storage.AuthTokenKey),
		a.store.Delete(ctx, storage.WalletAddressKey),
	)
}

// ClearSession drops the token after the backend rejected it. The address is
// kept for display but the buyer must authenticate again.
func (a *Authenticator) ClearSession(ctx context.Context) error {
	a.mu.Lock()
	a.session.AuthToken = ""
	a.mu.Unlock()
	return a.store.Delete(ctx, storage.AuthTokenKey)
}

// Restore loads a previously persisted session.
func (a *Authenticator) Restore(ctx context.Context) (Session, error) {
	token, err := a.store.Get(ctx, storage.AuthTokenKey)
	if err != nil {
		return Session{}, fmt.Errorf("read auth token: %w", err)
	}
	address, err := a.store.Get(ctx, storage.WalletAddressKey)
	if err != nil {
		return Session{}, fmt.Errorf("read wallet address: %w", err)
	}

	sess := Session{
		Address:   string(address),
		AuthToken: string(token),
		PublicKey: string(address),
	}
	a.mu.Lock()
	a.session = sess
	a.mu.Unlock()
	return sess, nil
}

func (a *Authenticator) Session() Session {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.session
}

func (a *Authenticator) User() api.User {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.user
}

// Token is suitable as an api.WithTokenSource provider.
func (a *Authenticator) Token() string {
	return a.Session().AuthToken
}

// Ping reports signer availability for health checks.
func (a *Authenticator) Ping(ctx context.Context) error {
	if a.signer == nil {
		return ErrSignerAbsent
	}
	if p, ok := a.signer.(Prober); ok {
		return p.Available(ctx)
	}
	return nil
}
