package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies SOLVERBOT_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known SOLVERBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	// ── Wallet ──
	setStr(&cfg.Wallet.PrivateKey, "SOLVERBOT_WALLET_PRIVATE_KEY")
	setStr(&cfg.Wallet.EncryptedKeyPath, "SOLVERBOT_WALLET_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Wallet.KeyPassword, "SOLVERBOT_WALLET_KEY_PASSWORD")

	// ── Source ledger ──
	setStr(&cfg.Source.RPCURL, "SOLVERBOT_SOURCE_RPC_URL")
	setStr(&cfg.Source.WSURL, "SOLVERBOT_SOURCE_WS_URL")
	setInt64(&cfg.Source.ChainID, "SOLVERBOT_SOURCE_CHAIN_ID")
	setStr(&cfg.Source.OrderContract, "SOLVERBOT_SOURCE_ORDER_CONTRACT")
	setUint64(&cfg.Source.StartBlock, "SOLVERBOT_SOURCE_START_BLOCK")
	setDuration(&cfg.Source.PollInterval, "SOLVERBOT_SOURCE_POLL_INTERVAL")
	setDuration(&cfg.Source.ConfirmInterval, "SOLVERBOT_SOURCE_CONFIRM_INTERVAL")
	setDuration(&cfg.Source.ConfirmTimeout, "SOLVERBOT_SOURCE_CONFIRM_TIMEOUT")

	// ── Destination ledger ──
	setStr(&cfg.Destination.RPCURL, "SOLVERBOT_DESTINATION_RPC_URL")
	setInt64(&cfg.Destination.ChainID, "SOLVERBOT_DESTINATION_CHAIN_ID")
	setStr(&cfg.Destination.FulfillContract, "SOLVERBOT_DESTINATION_FULFILL_CONTRACT")
	setStr(&cfg.Destination.CoreBridge, "SOLVERBOT_DESTINATION_CORE_BRIDGE")
	setInt(&cfg.Destination.WormholeChainID, "SOLVERBOT_DESTINATION_WORMHOLE_CHAIN_ID")
	setDuration(&cfg.Destination.ConfirmInterval, "SOLVERBOT_DESTINATION_CONFIRM_INTERVAL")
	setDuration(&cfg.Destination.ConfirmTimeout, "SOLVERBOT_DESTINATION_CONFIRM_TIMEOUT")

	// ── Auction ──
	setStr(&cfg.Auction.TimeUnit, "SOLVERBOT_AUCTION_TIME_UNIT")
	setDuration(&cfg.Auction.RecheckInterval, "SOLVERBOT_AUCTION_RECHECK_INTERVAL")
	setDuration(&cfg.Auction.ExpiryGrace, "SOLVERBOT_AUCTION_EXPIRY_GRACE")
	setDuration(&cfg.Auction.LockTTL, "SOLVERBOT_AUCTION_LOCK_TTL")

	// ── Profit ──
	setStr(&cfg.Profit.InputAsset, "SOLVERBOT_PROFIT_INPUT_ASSET")
	setStr(&cfg.Profit.CounterAsset, "SOLVERBOT_PROFIT_COUNTER_ASSET")
	setInt(&cfg.Profit.InputDecimals, "SOLVERBOT_PROFIT_INPUT_DECIMALS")
	setInt(&cfg.Profit.CounterDecimals, "SOLVERBOT_PROFIT_COUNTER_DECIMALS")
	setFloat64(&cfg.Profit.MinProfitUSD, "SOLVERBOT_PROFIT_MIN_PROFIT_USD")
	setFloat64(&cfg.Profit.SourceFeeUSD, "SOLVERBOT_PROFIT_SOURCE_FEE_USD")
	setFloat64(&cfg.Profit.DestFeeUSD, "SOLVERBOT_PROFIT_DEST_FEE_USD")
	setStr(&cfg.Profit.PriceURL, "SOLVERBOT_PROFIT_PRICE_URL")
	setStr(&cfg.Profit.PriceWSURL, "SOLVERBOT_PROFIT_PRICE_WS_URL")
	setDuration(&cfg.Profit.MaxPriceAge, "SOLVERBOT_PROFIT_MAX_PRICE_AGE")

	// ── Attestation ──
	setStr(&cfg.Attestation.Host, "SOLVERBOT_ATTESTATION_HOST")
	setInt(&cfg.Attestation.ParseRetries, "SOLVERBOT_ATTESTATION_PARSE_RETRIES")
	setDuration(&cfg.Attestation.ParseDelay, "SOLVERBOT_ATTESTATION_PARSE_DELAY")
	setDuration(&cfg.Attestation.PollInterval, "SOLVERBOT_ATTESTATION_POLL_INTERVAL")
	setDuration(&cfg.Attestation.PollTimeout, "SOLVERBOT_ATTESTATION_POLL_TIMEOUT")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "SOLVERBOT_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "SOLVERBOT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "SOLVERBOT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "SOLVERBOT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "SOLVERBOT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "SOLVERBOT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "SOLVERBOT_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "SOLVERBOT_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "SOLVERBOT_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "SOLVERBOT_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "SOLVERBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "SOLVERBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "SOLVERBOT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "SOLVERBOT_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "SOLVERBOT_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "SOLVERBOT_REDIS_TLS_ENABLED")

	// ── S3 / Archive ──
	setStr(&cfg.S3.Endpoint, "SOLVERBOT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "SOLVERBOT_S3_REGION")
	setStr(&cfg.S3.Bucket, "SOLVERBOT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "SOLVERBOT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "SOLVERBOT_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "SOLVERBOT_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "SOLVERBOT_S3_FORCE_PATH_STYLE")
	setBool(&cfg.Archive.Enabled, "SOLVERBOT_ARCHIVE_ENABLED")
	setInt(&cfg.Archive.RetentionDays, "SOLVERBOT_ARCHIVE_RETENTION_DAYS")
	setDuration(&cfg.Archive.Interval, "SOLVERBOT_ARCHIVE_INTERVAL")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "SOLVERBOT_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "SOLVERBOT_SERVER_PORT")
	setStr(&cfg.Server.APIKey, "SOLVERBOT_SERVER_API_KEY")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "SOLVERBOT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "SOLVERBOT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "SOLVERBOT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "SOLVERBOT_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "SOLVERBOT_MODE")
	setStr(&cfg.LogLevel, "SOLVERBOT_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setUint64(dst *uint64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
