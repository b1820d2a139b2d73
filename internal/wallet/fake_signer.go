package wallet

import (
	"context"
	"crypto/sha256"
	"sync"
)

// FakeSigner signs deterministically by hashing address and message. Each
// *Err field, when set, is returned by the matching call.
type FakeSigner struct {
	Address       string
	AvailableErr  error
	ConnectErr    error
	SignErr       error
	DisconnectErr error

	mu        sync.Mutex
	connected bool
	calls     []string
}

func (f *FakeSigner) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

// Calls lists the signer methods invoked so far, in order.
func (f *FakeSigner) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *FakeSigner) Available(context.Context) error {
	f.record("available")
	return f.AvailableErr
}

func (f *FakeSigner) Connect(context.Context) (string, error) {
	f.record("connect")
	if f.ConnectErr != nil {
		return "", f.ConnectErr
	}
	f.mu.Lock()
	f.connected = true
	f.mu.Unlock()
	return f.Address, nil
}

func (f *FakeSigner) SignMessage(_ context.Context, message []byte) ([]byte, error) {
	f.record("sign")
	if f.SignErr != nil {
		return nil, f.SignErr
	}
	f.mu.Lock()
	connected := f.connected
	f.mu.Unlock()
	if !connected {
		return nil, ErrNotConnected
	}
	return FakeSignature(f.Address, message), nil
}

func (f *FakeSigner) Disconnect(context.Context) error {
	f.record("disconnect")
	f.mu.Lock()
	f.connected = false
	f.mu.Unlock()
	return f.DisconnectErr
}

// FakeSignature is the signature FakeSigner produces for address and message.
func FakeSignature(address string, message []byte) []byte {
	sum := sha256.Sum256(append([]byte(address), message...))
	return sum[:]
}
