package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// SettingsFile models the optional JSON settings file. Every field may be
// overridden from the environment.
type SettingsFile struct {
	Backend struct {
		BaseURL          string `json:"baseUrl"`
		RequestTimeoutMs int    `json:"requestTimeoutMs"`
	} `json:"backend"`
	Checkout struct {
		PollIntervalMs   int `json:"pollIntervalMs"`
		TickIntervalMs   int `json:"tickIntervalMs"`
		SessionTimeoutMs int `json:"sessionTimeoutMs"`
		StatusTimeoutMs  int `json:"statusTimeoutMs"`
	} `json:"checkout"`
	Storage struct {
		Driver string `json:"driver"`
		Path   string `json:"path"`
	} `json:"storage"`
	Wallet struct {
		Chain         string `json:"chain"`
		RPCURL        string `json:"rpcUrl"`
		MessagePrefix string `json:"messagePrefix"`
	} `json:"wallet"`
}

// AppConfig ties together the settings file, the environment and derived values.
type AppConfig struct {
	Service  ServiceConfig
	Backend  BackendConfig
	Checkout CheckoutConfig
	Storage  StorageConfig
	Wallet   WalletConfig
}

type ServiceConfig struct {
	Name          string
	Env           string
	LogLevel      string
	HTTPPort      int
	ShutdownGrace time.Duration
	SurfaceSecret string
	SurfaceSkew   time.Duration
}

type BackendConfig struct {
	BaseURL        string
	RequestTimeout time.Duration
}

type CheckoutConfig struct {
	PollInterval   time.Duration
	TickInterval   time.Duration
	SessionTimeout time.Duration
	StatusTimeout  time.Duration
}

type StorageConfig struct {
	Driver        string
	Path          string
	PostgresDSN   string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

type WalletConfig struct {
	Chain         string
	PrivateKey    string
	RPCURL        string
	MessagePrefix string
}

const (
	StorageMemory   = "memory"
	StorageFile     = "file"
	StorageSQLite   = "sqlite"
	StoragePostgres = "postgres"
	StorageRedis    = "redis"

	ChainSolana = "solana"
	ChainEVM    = "evm"
	ChainNone   = "none"
)

const (
	DefaultMessagePrefix = "Sign this message to authenticate with Storefront."
	defaultBaseURL       = "http://localhost:4000/api"
)

// Load aggregates configuration from .env, the optional settings file and the
// environment, in increasing order of precedence.
func Load() (*AppConfig, error) {
	// Missing .env is fine; the environment may be set by other means.
	_ = godotenv.Load()

	var settings SettingsFile
	if path := envOr("SETTINGS_PATH", ""); path != "" {
		loaded, err := loadSettings(path)
		if err != nil {
			return nil, fmt.Errorf("load settings: %w", err)
		}
		settings = *loaded
	}

	driver := strings.ToLower(envOr("STORAGE_DRIVER", orString(settings.Storage.Driver, StorageFile)))

	cfg := &AppConfig{
		Service: ServiceConfig{
			Name:          envOr("SERVICE_NAME", "storefront"),
			Env:           envOr("APP_ENV", "dev"),
			LogLevel:      envOr("LOG_LEVEL", "info"),
			HTTPPort:      envOrInt("HTTP_PORT", 8080),
			ShutdownGrace: envOrDuration("SHUTDOWN_GRACE", 10*time.Second),
			SurfaceSecret: envOr("SURFACE_SECRET", ""),
			SurfaceSkew:   envOrDuration("SURFACE_CLOCK_SKEW", time.Minute),
		},
		Backend: BackendConfig{
			BaseURL:        envOr("BACKEND_URL", orString(settings.Backend.BaseURL, defaultBaseURL)),
			RequestTimeout: envOrDuration("BACKEND_TIMEOUT", millisOr(settings.Backend.RequestTimeoutMs, 15*time.Second)),
		},
		Checkout: CheckoutConfig{
			PollInterval:   envOrDuration("CHECKOUT_POLL_INTERVAL", millisOr(settings.Checkout.PollIntervalMs, 3*time.Second)),
			TickInterval:   envOrDuration("CHECKOUT_TICK_INTERVAL", millisOr(settings.Checkout.TickIntervalMs, time.Second)),
			SessionTimeout: envOrDuration("CHECKOUT_SESSION_TIMEOUT", millisOr(settings.Checkout.SessionTimeoutMs, 30*time.Second)),
			StatusTimeout:  envOrDuration("CHECKOUT_STATUS_TIMEOUT", millisOr(settings.Checkout.StatusTimeoutMs, 10*time.Second)),
		},
		Storage: StorageConfig{
			Driver:        driver,
			Path:          envOr("STORAGE_PATH", orString(settings.Storage.Path, defaultStoragePath(driver))),
			PostgresDSN:   envOr("POSTGRES_DSN", ""),
			RedisAddr:     envOr("REDIS_ADDR", ""),
			RedisPassword: envOr("REDIS_PASS", ""),
			RedisDB:       envOrInt("REDIS_DB", 0),
		},
		Wallet: WalletConfig{
			Chain:         strings.ToLower(envOr("WALLET_CHAIN", orString(settings.Wallet.Chain, ChainSolana))),
			PrivateKey:    envOr("WALLET_PRIVATE_KEY", ""),
			RPCURL:        envOr("WALLET_RPC_URL", settings.Wallet.RPCURL),
			MessagePrefix: envOr("WALLET_MESSAGE_PREFIX", orString(settings.Wallet.MessagePrefix, DefaultMessagePrefix)),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings no component can run with.
func (c *AppConfig) Validate() error {
	switch c.Storage.Driver {
	case StorageMemory, StorageFile, StorageSQLite:
	case StoragePostgres:
		if c.Storage.PostgresDSN == "" {
			return errors.New("POSTGRES_DSN is required for the postgres storage driver")
		}
	case StorageRedis:
		if c.Storage.RedisAddr == "" {
			return errors.New("REDIS_ADDR is required for the redis storage driver")
		}
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}

	switch c.Wallet.Chain {
	case ChainSolana, ChainEVM, ChainNone:
	default:
		return fmt.Errorf("unknown wallet chain %q", c.Wallet.Chain)
	}

	if c.Checkout.PollInterval <= 0 || c.Checkout.TickInterval <= 0 {
		return errors.New("checkout intervals must be positive")
	}
	return nil
}

func defaultStoragePath(driver string) string {
	if driver == StorageSQLite {
		return filepath.Join(os.TempDir(), "storefront-state.db")
	}
	return filepath.Join(os.TempDir(), "storefront-state.json")
}

func loadSettings(path string) (*SettingsFile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg SettingsFile
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func envOr(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok && val != "" {
		return val
	}
	return fallback
}

func envOrInt(key string, fallback int) int {
	if val, ok := os.LookupEnv(key); ok && val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return fallback
}

// envOrDuration accepts Go duration strings ("3s") or bare milliseconds.
func envOrDuration(key string, fallback time.Duration) time.Duration {
	val, ok := os.LookupEnv(key)
	if !ok || val == "" {
		return fallback
	}
	if d, err := time.ParseDuration(val); err == nil {
		return d
	}
	if ms, err := strconv.Atoi(val); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	return fallback
}

func millisOr(ms int, fallback time.Duration) time.Duration {
	if ms <= 0 {
		return fallback
	}
	return time.Duration(ms) * time.Millisecond
}

func orString(val, fallback string) string {
	if val == "" {
		return fallback
	}
	return val
}
