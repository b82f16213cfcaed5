// Package config defines the top-level configuration for the solver engine
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/driftgate/solverbot/internal/domain"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by SOLVERBOT_* environment variables.
type Config struct {
	Wallet      WalletConfig      `toml:"wallet"`
	Source      SourceConfig      `toml:"source"`
	Destination DestinationConfig `toml:"destination"`
	Auction     AuctionConfig     `toml:"auction"`
	Profit      ProfitConfig      `toml:"profit"`
	Attestation AttestationConfig `toml:"attestation"`
	Postgres    PostgresConfig    `toml:"postgres"`
	Redis       RedisConfig       `toml:"redis"`
	S3          S3Config          `toml:"s3"`
	Archive     ArchiveConfig     `toml:"archive"`
	Server      ServerConfig      `toml:"server"`
	Notify      NotifyConfig      `toml:"notify"`
	Mode        string            `toml:"mode"`
	LogLevel    string            `toml:"log_level"`
}

// WalletConfig holds the solver's signing key material. The same key is used
// on both ledgers; the source-ledger address doubles as the solver identity
// embedded in fulfillment payloads.
type WalletConfig struct {
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// SourceConfig describes the ledger where orders are created and settled.
type SourceConfig struct {
	RPCURL          string   `toml:"rpc_url"`
	WSURL           string   `toml:"ws_url"`
	ChainID         int64    `toml:"chain_id"`
	OrderContract   string   `toml:"order_contract"`
	StartBlock      uint64   `toml:"start_block"`
	PollInterval    duration `toml:"poll_interval"`
	ConfirmInterval duration `toml:"confirm_interval"`
	ConfirmTimeout  duration `toml:"confirm_timeout"`
}

// DestinationConfig describes the ledger where fulfillment payments are made.
type DestinationConfig struct {
	RPCURL          string   `toml:"rpc_url"`
	ChainID         int64    `toml:"chain_id"`
	FulfillContract string   `toml:"fulfill_contract"`
	CoreBridge      string   `toml:"core_bridge"`
	WormholeChainID int      `toml:"wormhole_chain_id"`
	ConfirmInterval duration `toml:"confirm_interval"`
	ConfirmTimeout  duration `toml:"confirm_timeout"`
}

// AuctionConfig holds auction interpretation parameters.
type AuctionConfig struct {
	// TimeUnit is the canonical unit of startTime/duration for this
	// deployment: "seconds" or "milliseconds". Never inferred.
	TimeUnit string `toml:"time_unit"`
	// RecheckInterval is how often open orders are re-evaluated for
	// profitability while the price decays.
	RecheckInterval duration `toml:"recheck_interval"`
	// ExpiryGrace is how long past the auction end an unprofitable order is
	// still watched before it is marked expired.
	ExpiryGrace duration `toml:"expiry_grace"`
	// LockTTL bounds how long a fill lock outlives a crashed holder. It should
	// comfortably cover fulfillment submission plus confirmation.
	LockTTL duration `toml:"lock_ttl"`
}

// ProfitConfig holds profitability estimation parameters.
type ProfitConfig struct {
	InputAsset      string             `toml:"input_asset"`
	CounterAsset    string             `toml:"counter_asset"`
	InputDecimals   int                `toml:"input_decimals"`
	CounterDecimals int                `toml:"counter_decimals"`
	MinProfitUSD    float64            `toml:"min_profit_usd"`
	SourceFeeUSD    float64            `toml:"source_fee_usd"`
	DestFeeUSD      float64            `toml:"dest_fee_usd"`
	PriceURL        string             `toml:"price_url"`
	PriceWSURL      string             `toml:"price_ws_url"`
	StaticPrices    map[string]float64 `toml:"static_prices"`
	MaxPriceAge     duration           `toml:"max_price_age"`
}

// AttestationConfig holds guardian network parameters.
type AttestationConfig struct {
	Host         string   `toml:"host"`
	ParseRetries int      `toml:"parse_retries"`
	ParseDelay   duration `toml:"parse_delay"`
	PollInterval duration `toml:"poll_interval"`
	PollTimeout  duration `toml:"poll_timeout"`
}

// PostgresConfig holds PostgreSQL connection parameters for the local order
// cache.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ArchiveConfig controls cold-storage archival of finished orders.
type ArchiveConfig struct {
	Enabled       bool     `toml:"enabled"`
	RetentionDays int      `toml:"retention_days"`
	Interval      duration `toml:"interval"`
}

// ServerConfig holds the operator HTTP server parameters.
type ServerConfig struct {
	Enabled bool   `toml:"enabled"`
	Port    int    `toml:"port"`
	APIKey  string `toml:"api_key"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Source: SourceConfig{
			PollInterval:    duration{6 * time.Second},
			ConfirmInterval: duration{3 * time.Second},
			ConfirmTimeout:  duration{3 * time.Minute},
		},
		Destination: DestinationConfig{
			ConfirmInterval: duration{3 * time.Second},
			ConfirmTimeout:  duration{3 * time.Minute},
		},
		Auction: AuctionConfig{
			TimeUnit:        string(domain.UnitSeconds),
			RecheckInterval: duration{2 * time.Second},
			ExpiryGrace:     duration{5 * time.Minute},
			LockTTL:         duration{10 * time.Minute},
		},
		Profit: ProfitConfig{
			InputAsset:      "ETH",
			CounterAsset:    "ETH",
			InputDecimals:   18,
			CounterDecimals: 18,
			MinProfitUSD:    1.0,
			SourceFeeUSD:    0.50,
			DestFeeUSD:      0.50,
			StaticPrices:    map[string]float64{},
			MaxPriceAge:     duration{2 * time.Minute},
		},
		Attestation: AttestationConfig{
			Host:         "https://api.wormholescan.io",
			ParseRetries: 3,
			ParseDelay:   duration{5 * time.Second},
			PollInterval: duration{5 * time.Second},
			PollTimeout:  duration{10 * time.Minute},
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "solverbot",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "solverbot-archive",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Archive: ArchiveConfig{
			Enabled:       false,
			RetentionDays: 30,
			Interval:      duration{6 * time.Hour},
		},
		Server: ServerConfig{
			Enabled: true,
			Port:    8090,
		},
		Notify: NotifyConfig{
			Events: []string{"order_settled", "order_failed", "attestation_timeout"},
		},
		Mode:     "solve",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"solve":   true,
	"monitor": true,
	"full":    true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found. A non-nil error here is a
// fatal configuration error: the process refuses to start.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: solve, monitor, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Wallet — required in modes that move funds.
	needsWallet := c.Mode == "solve" || c.Mode == "full"
	if needsWallet {
		if c.Wallet.PrivateKey == "" && c.Wallet.EncryptedKeyPath == "" {
			errs = append(errs, "wallet: either private_key or encrypted_key_path must be set for mode "+c.Mode)
		}
		if c.Wallet.EncryptedKeyPath != "" && c.Wallet.KeyPassword == "" {
			errs = append(errs, "wallet: key_password is required when encrypted_key_path is set")
		}
	}

	// Source ledger
	if c.Source.RPCURL == "" {
		errs = append(errs, "source: rpc_url must not be empty")
	}
	if c.Source.ChainID <= 0 {
		errs = append(errs, "source: chain_id must be positive")
	}
	if c.Source.OrderContract == "" {
		errs = append(errs, "source: order_contract must not be empty")
	}
	if c.Source.PollInterval.Duration <= 0 {
		errs = append(errs, "source: poll_interval must be positive")
	}

	// Destination ledger
	if c.Destination.RPCURL == "" {
		errs = append(errs, "destination: rpc_url must not be empty")
	}
	if c.Destination.ChainID <= 0 {
		errs = append(errs, "destination: chain_id must be positive")
	}
	if needsWallet {
		if c.Destination.FulfillContract == "" {
			errs = append(errs, "destination: fulfill_contract must not be empty")
		}
		if c.Destination.CoreBridge == "" {
			errs = append(errs, "destination: core_bridge must not be empty")
		}
		if c.Destination.WormholeChainID <= 0 {
			errs = append(errs, "destination: wormhole_chain_id must be positive")
		}
	}

	// Auction
	if _, err := domain.ParseTimeUnit(c.Auction.TimeUnit); err != nil {
		errs = append(errs, fmt.Sprintf("auction: %v", err))
	}
	if c.Auction.RecheckInterval.Duration <= 0 {
		errs = append(errs, "auction: recheck_interval must be positive")
	}
	if c.Auction.LockTTL.Duration <= 0 {
		errs = append(errs, "auction: lock_ttl must be positive")
	}

	// Profit
	if c.Profit.InputAsset == "" || c.Profit.CounterAsset == "" {
		errs = append(errs, "profit: input_asset and counter_asset must not be empty")
	}
	if c.Profit.InputDecimals <= 0 || c.Profit.CounterDecimals <= 0 {
		errs = append(errs, "profit: asset decimals must be positive")
	}
	if c.Profit.PriceURL == "" && c.Profit.PriceWSURL == "" && len(c.Profit.StaticPrices) == 0 {
		errs = append(errs, "profit: one of price_url, price_ws_url, or static_prices must be set")
	}

	// Attestation
	if c.Attestation.Host == "" {
		errs = append(errs, "attestation: host must not be empty")
	}
	if c.Attestation.ParseRetries < 1 {
		errs = append(errs, "attestation: parse_retries must be >= 1")
	}
	if c.Attestation.PollInterval.Duration <= 0 || c.Attestation.PollTimeout.Duration <= 0 {
		errs = append(errs, "attestation: poll_interval and poll_timeout must be positive")
	}

	// Postgres
	if strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	}
	if c.Postgres.PoolMaxConns < 1 {
		errs = append(errs, "postgres: pool_max_conns must be >= 1")
	}
	if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// Archive
	if c.Archive.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty when archive is enabled")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when archive is enabled")
		}
		if c.Archive.RetentionDays < 1 {
			errs = append(errs, "archive: retention_days must be >= 1")
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
