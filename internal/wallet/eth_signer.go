package wallet

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

// EthSigner produces personal_sign (EIP-191) signatures with a local key.
type EthSigner struct {
	key     *ecdsa.PrivateKey
	address common.Address
	rpcURL  string

	mu        sync.Mutex
	connected bool
}

func NewEthSigner(privateKeyHex, rpcURL string) (*EthSigner, error) {
	key, err := parsePrivateKey(privateKeyHex)
	if err != nil {
		return nil, err
	}
	return &EthSigner{
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
		rpcURL:  rpcURL,
	}, nil
}

func parsePrivateKey(hexKey string) (*ecdsa.PrivateKey, error) {
	hexKey = strings.TrimPrefix(hexKey, "0x")
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return key, nil
}

// Available dials the configured node and asks for its chain id.
func (s *EthSigner) Available(ctx context.Context) error {
	if s.rpcURL == "" {
		return nil
	}
	cli, err := ethclient.DialContext(ctx, s.rpcURL)
	if err != nil {
		return fmt.Errorf("%w: dial rpc: %v", ErrSignerLocked, err)
	}
	defer cli.Close()

	if _, err := cli.ChainID(ctx); err != nil {
		return fmt.Errorf("%w: fetch chain id: %v", ErrSignerLocked, err)
	}
	return nil
}

func (s *EthSigner) Connect(context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = true
	return s.address.Hex(), nil
}

func (s *EthSigner) SignMessage(_ context.Context, message []byte) ([]byte, error) {
	s.mu.Lock()
	connected := s.connected
	s.mu.Unlock()
	if !connected {
		return nil, ErrNotConnected
	}

	sig, err := crypto.Sign(accounts.TextHash(message), s.key)
	if err != nil {
		return nil, fmt.Errorf("sign message: %w", err)
	}
	// personal_sign uses V in {27, 28}.
	sig[crypto.RecoveryIDOffset] += 27
	return sig, nil
}

func (s *EthSigner) Disconnect(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = false
	return nil
}

func (s *EthSigner) EncodeSignature(sig []byte) string {
	return hexutil.Encode(sig)
}

func (s *EthSigner) PublicKey() string {
	return hexutil.Encode(crypto.FromECDSAPub(&s.key.PublicKey))
}
