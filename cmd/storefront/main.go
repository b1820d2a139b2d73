package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"storefront/internal/api"
	"storefront/internal/cart"
	"storefront/internal/checkout"
	"storefront/internal/config"
	"storefront/internal/logger"
	"storefront/internal/metrics"
	"storefront/internal/server"
	"storefront/internal/storage"
	"storefront/internal/wallet"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config error", "err", err)
		os.Exit(1)
	}

	log := logger.New(logger.Options{
		Service: cfg.Service.Name,
		Env:     cfg.Service.Env,
		Level:   cfg.Service.LogLevel,
	})

	if err := run(cfg, log); err != nil {
		log.Error("storefront stopped", "err", err)
		os.Exit(1)
	}
}

func run(cfg *config.AppConfig, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	backing, closeStorage, err := openStorage(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("open %s storage: %w", cfg.Storage.Driver, err)
	}
	defer closeStorage()

	m := metrics.New()
	carts := cart.Open(ctx, backing, cart.WithLogger(log), cart.WithMetrics(m))

	signer, err := newSigner(cfg.Wallet, log)
	if err != nil {
		return fmt.Errorf("wallet signer: %w", err)
	}

	// The client reads the token lazily so a reconnect is picked up without
	// rebuilding it.
	var auth *wallet.Authenticator
	client := api.NewClient(cfg.Backend.BaseURL, cfg.Backend.RequestTimeout,
		api.WithLogger(log),
		api.WithTokenSource(func() string { return auth.Token() }),
	)
	auth = wallet.NewAuthenticator(signer, client, backing,
		wallet.WithMessagePrefix(cfg.Wallet.MessagePrefix),
		wallet.WithLogger(log),
		wallet.WithMetrics(m),
	)
	if sess, err := auth.Restore(ctx); err != nil {
		log.Warn("restore wallet session", "err", err)
	} else if sess.Connected() {
		log.Info("wallet session restored", "address", sess.Address)
	}

	orch := checkout.New(client, carts, auth, checkout.Config{
		PollInterval:   cfg.Checkout.PollInterval,
		TickInterval:   cfg.Checkout.TickInterval,
		SessionTimeout: cfg.Checkout.SessionTimeout,
		StatusTimeout:  cfg.Checkout.StatusTimeout,
		Logger:         log,
		Metrics:        m,
	})
	defer orch.Close()

	bridge := server.NewServer(cfg, server.Deps{
		Cart:     carts,
		Wallet:   auth,
		Checkout: orch,
		Storage:  backing,
		Metrics:  m,
		Logger:   log,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := bridge.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Service.ShutdownGrace)
		defer cancel()
		log.Info("shutting down", "grace", cfg.Service.ShutdownGrace.String())
		return bridge.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func openStorage(ctx context.Context, cfg config.StorageConfig) (storage.Store, func(), error) {
	noop := func() {}

	switch cfg.Driver {
	case config.StorageMemory:
		return storage.NewMemoryStore(), noop, nil
	case config.StorageFile:
		s, err := storage.NewFileStore(cfg.Path)
		if err != nil {
			return nil, noop, err
		}
		return s, noop, nil
	case config.StorageSQLite:
		s, err := storage.NewSQLiteStore(cfg.Path)
		if err != nil {
			return nil, noop, err
		}
		return s, func() { _ = s.Close() }, nil
	case config.StoragePostgres:
		connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		s, err := storage.NewPostgresStore(connectCtx, cfg.PostgresDSN)
		if err != nil {
			return nil, noop, err
		}
		return s, s.Close, nil
	case config.StorageRedis:
		connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		s, err := storage.NewRedisStore(connectCtx, storage.RedisOptions{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			return nil, noop, err
		}
		return s, func() { _ = s.Close() }, nil
	}
	return nil, noop, fmt.Errorf("unknown storage driver %q", cfg.Driver)
}

// newSigner returns nil when the chain is "none"; wallet actions then report
// that no wallet is available.
func newSigner(cfg config.WalletConfig, log *slog.Logger) (wallet.Signer, error) {
	switch cfg.Chain {
	case config.ChainEVM:
		if cfg.PrivateKey == "" {
			return nil, errors.New("WALLET_PRIVATE_KEY is required for the evm chain")
		}
		s, err := wallet.NewEthSigner(cfg.PrivateKey, cfg.RPCURL)
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.ChainSolana:
		if cfg.PrivateKey == "" {
			s, err := wallet.NewEphemeralSolanaSigner(cfg.RPCURL)
			if err != nil {
				return nil, err
			}
			log.Warn("no wallet key configured, using an ephemeral solana keypair", "address", s.PublicKey())
			return s, nil
		}
		s, err := wallet.NewSolanaSigner(cfg.PrivateKey, cfg.RPCURL)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	return nil, nil
}
