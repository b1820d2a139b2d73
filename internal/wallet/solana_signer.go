package wallet

import (
	"context"
	"fmt"
	"sync"

	solana "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/mr-tron/base58"
)

// SolanaSigner signs with a local ed25519 keypair. When an RPC endpoint is
// configured, availability is probed with getHealth.
type SolanaSigner struct {
	key solana.PrivateKey
	rpc *rpc.Client

	mu        sync.Mutex
	connected bool
}

// NewSolanaSigner parses a base58-encoded private key.
func NewSolanaSigner(privateKeyBase58, rpcURL string) (*SolanaSigner, error) {
	key, err := solana.PrivateKeyFromBase58(privateKeyBase58)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return newSolanaSigner(key, rpcURL), nil
}

// NewEphemeralSolanaSigner generates a throwaway keypair for local development.
func NewEphemeralSolanaSigner(rpcURL string) (*SolanaSigner, error) {
	key, err := solana.NewRandomPrivateKey()
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	return newSolanaSigner(key, rpcURL), nil
}

func newSolanaSigner(key solana.PrivateKey, rpcURL string) *SolanaSigner {
	s := &SolanaSigner{key: key}
	if rpcURL != "" {
		s.rpc = rpc.New(rpcURL)
	}
	return s
}

func (s *SolanaSigner) Available(ctx context.Context) error {
	if s.rpc == nil {
		return nil
	}
	if _, err := s.rpc.GetHealth(ctx); err != nil {
		return fmt.Errorf("%w: rpc health: %v", ErrSignerLocked, err)
	}
	return nil
}

func (s *SolanaSigner) Connect(context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = true
	return s.key.PublicKey().String(), nil
}

func (s *SolanaSigner) SignMessage(_ context.Context, message []byte) ([]byte, error) {
	s.mu.Lock()
	connected := s.connected
	s.mu.Unlock()
	if !connected {
		return nil, ErrNotConnected
	}

	sig, err := s.key.Sign(message)
	if err != nil {
		return nil, fmt.Errorf("sign message: %w", err)
	}
	return sig[:], nil
}

func (s *SolanaSigner) Disconnect(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = false
	return nil
}

func (s *SolanaSigner) EncodeSignature(sig []byte) string {
	return base58.Encode(sig)
}

func (s *SolanaSigner) PublicKey() string {
	return s.key.PublicKey().String()
}
