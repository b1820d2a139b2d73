package wallet

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Signer abstracts a wallet capability that can report an address and sign
// arbitrary messages. Production wiring binds a real key or injected wallet;
// tests bind FakeSigner.
type Signer interface {
	Connect(ctx context.Context) (string, error)
	SignMessage(ctx context.Context, message []byte) ([]byte, error)
	Disconnect(ctx context.Context) error
}

// Prober is implemented by signers that can report availability before a
// connection is attempted.
type Prober interface {
	Available(ctx context.Context) error
}

// SignatureEncoder renders raw signature bytes in the signer's native text form.
type SignatureEncoder interface {
	EncodeSignature(sig []byte) string
}

// PublicKeyer exposes the signer's public key when it differs from its address.
type PublicKeyer interface {
	PublicKey() string
}

var (
	ErrSignerAbsent       = errors.New("wallet signer not available")
	ErrConnectionRejected = errors.New("wallet connection rejected")
	ErrSignatureRejected  = errors.New("signature request rejected")
	ErrSignerLocked       = errors.New("wallet locked or unavailable")
	ErrNotConnected       = errors.New("wallet not connected")
	ErrWalletFailed       = errors.New("wallet authentication failed")
)

// ProviderError carries an EIP-1193 style code reported by an injected wallet.
type ProviderError struct {
	Code    int
	Message string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider error %d: %s", e.Code, e.Message)
}

const (
	CodeUserRejected        = 4001
	CodeUnauthorized        = 4100
	CodeDisconnected        = 4900
	CodeResourceUnavailable = -32002
)

type step int

const (
	stepDetect step = iota
	stepConnect
	stepSign
)

// classify maps a raw signer error from the given protocol step onto one of
// the wallet sentinels, keeping the original error text.
func classify(s step, err error) error {
	for _, known := range []error{ErrSignerAbsent, ErrConnectionRejected, ErrSignatureRejected, ErrSignerLocked, ErrNotConnected} {
		if errors.Is(err, known) {
			return err
		}
	}

	var pe *ProviderError
	if errors.As(err, &pe) {
		switch pe.Code {
		case CodeUserRejected:
			return fmt.Errorf("%w: %v", rejection(s), err)
		case CodeUnauthorized, CodeDisconnected, CodeResourceUnavailable:
			return fmt.Errorf("%w: %v", ErrSignerLocked, err)
		}
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "user rejected"), strings.Contains(msg, "rejected the request"):
		return fmt.Errorf("%w: %v", rejection(s), err)
	case strings.Contains(msg, "locked"):
		return fmt.Errorf("%w: %v", ErrSignerLocked, err)
	}
	if s == stepDetect {
		return fmt.Errorf("%w: %v", ErrSignerLocked, err)
	}
	return fmt.Errorf("%w: %v", ErrWalletFailed, err)
}

func rejection(s step) error {
	if s == stepSign {
		return ErrSignatureRejected
	}
	return ErrConnectionRejected
}

// Message turns a wallet error into an actionable sentence for the buyer.
func Message(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrSignerAbsent):
		return "No wallet detected. Install a supported wallet extension and reload the page."
	case errors.Is(err, ErrConnectionRejected):
		return "Wallet connection was rejected. Approve the connection request in your wallet to continue."
	case errors.Is(err, ErrSignatureRejected):
		return "Signature request was rejected. Sign the message in your wallet to verify ownership."
	case errors.Is(err, ErrSignerLocked):
		return "Your wallet is locked or unavailable. Unlock it and try again."
	case errors.Is(err, ErrNotConnected):
		return "Connect your wallet first."
	default:
		return "Failed to connect wallet. Please try again."
	}
}

// IsWalletError reports whether err belongs to the wallet taxonomy.
func IsWalletError(err error) bool {
	for _, known := range []error{ErrSignerAbsent, ErrConnectionRejected, ErrSignatureRejected, ErrSignerLocked, ErrNotConnected, ErrWalletFailed} {
		if errors.Is(err, known) {
			return true
		}
	}
	return false
}
