package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	s3blob "github.com/driftgate/solverbot/internal/blob/s3"
	"github.com/driftgate/solverbot/internal/cache/redis"
	"github.com/driftgate/solverbot/internal/config"
	"github.com/driftgate/solverbot/internal/crypto"
	"github.com/driftgate/solverbot/internal/domain"
	"github.com/driftgate/solverbot/internal/ledger/evm"
	"github.com/driftgate/solverbot/internal/notify"
	"github.com/driftgate/solverbot/internal/pricing"
	"github.com/driftgate/solverbot/internal/retry"
	"github.com/driftgate/solverbot/internal/solver"
	"github.com/driftgate/solverbot/internal/store/postgres"
	"github.com/driftgate/solverbot/internal/wormhole"
)

// Dependencies bundles everything the application modes need to operate. It
// is constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// Stores
	Orders       domain.OrderStore
	Fulfillments domain.FulfillmentStore
	Cursors      domain.CursorStore

	// Caches
	Prices domain.PriceCache
	Locks  domain.LockManager

	// Ledger clients
	SourceChain *evm.Client
	DestChain   *evm.Client

	// Engine
	Engine *solver.Engine

	// Optional subsystems; nil when not configured for the mode.
	Feed     *pricing.WSFeed
	Archiver *s3blob.Archiver
	Notifier *notify.Notifier
}

// needsWallet returns true for modes that move funds.
func needsWallet(mode string) bool {
	switch mode {
	case "solve", "full":
		return true
	default:
		return false
	}
}

// needsS3 returns true for modes that archive to object storage.
func needsS3(mode string) bool {
	return mode == "full"
}

// confirmPolicy builds the receipt-polling schedule for a chain: one attempt
// per interval until the timeout elapses.
func confirmPolicy(interval, timeout time.Duration) retry.Policy {
	attempts := 1
	if interval > 0 && timeout > interval {
		attempts = int(timeout/interval) + 1
	}
	return retry.Policy{
		MaxAttempts: attempts,
		Interval:    interval,
		Timeout:     timeout,
	}
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	logger := slog.Default()

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}
	clock := domain.RealClock{}

	timeUnit, err := domain.ParseTimeUnit(cfg.Auction.TimeUnit)
	if err != nil {
		return nil, nil, fmt.Errorf("wire: %w", err)
	}

	// --- PostgreSQL ---
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Postgres.DSN,
		Host:     cfg.Postgres.Host,
		Port:     cfg.Postgres.Port,
		Database: cfg.Postgres.Database,
		User:     cfg.Postgres.User,
		Password: cfg.Postgres.Password,
		SSLMode:  cfg.Postgres.SSLMode,
		MaxConns: cfg.Postgres.PoolMaxConns,
		MinConns: cfg.Postgres.PoolMinConns,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)

	if cfg.Postgres.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}

	pool := pgClient.Pool()
	deps.Orders = postgres.NewOrderStore(pool)
	deps.Fulfillments = postgres.NewFulfillmentStore(pool)
	deps.Cursors = postgres.NewCursorStore(pool)

	// --- Redis ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	deps.Prices = redis.NewPriceCache(redisClient)
	deps.Locks = redis.NewLockManager(redisClient)

	// --- Ledger clients ---
	sourceChain, err := evm.Dial(ctx, cfg.Source.RPCURL, cfg.Source.WSURL, cfg.Source.ChainID, logger)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: source chain: %w", err)
	}
	closers = append(closers, sourceChain.Close)
	deps.SourceChain = sourceChain

	destChain, err := evm.Dial(ctx, cfg.Destination.RPCURL, "", cfg.Destination.ChainID, logger)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: destination chain: %w", err)
	}
	closers = append(closers, destChain.Close)
	deps.DestChain = destChain

	orderSource := evm.NewOrderSource(
		sourceChain, cfg.Source.OrderContract, deps.Cursors,
		solver.CursorName, cfg.Source.StartBlock, cfg.Source.PollInterval.Duration, logger,
	)

	// --- Signing executors (only in modes that pay) ---
	var (
		fulfiller domain.FulfillmentExecutor
		receipts  solver.ReceiptChecker
		settler   domain.SettlementExecutor
		attestor  domain.AttestationFetcher
	)
	if needsWallet(cfg.Mode) {
		keyHex, err := crypto.LoadKey(crypto.KeyConfig{
			RawPrivateKey:    cfg.Wallet.PrivateKey,
			EncryptedKeyPath: cfg.Wallet.EncryptedKeyPath,
			KeyPassword:      cfg.Wallet.KeyPassword,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: wallet: %w", err)
		}

		destSigner, err := evm.NewSigner(keyHex, destChain.ChainID())
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: destination signer: %w", err)
		}
		sourceSigner, err := evm.NewSigner(keyHex, sourceChain.ChainID())
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: source signer: %w", err)
		}

		fulfillExec := evm.NewFulfillmentExecutor(
			destChain, destSigner, cfg.Destination.FulfillContract,
			confirmPolicy(cfg.Destination.ConfirmInterval.Duration, cfg.Destination.ConfirmTimeout.Duration),
			clock, logger,
		)
		fulfiller = fulfillExec
		receipts = fulfillExec

		settler = evm.NewSettlementExecutor(
			sourceChain, sourceSigner, cfg.Source.OrderContract,
			confirmPolicy(cfg.Source.ConfirmInterval.Duration, cfg.Source.ConfirmTimeout.Duration),
			logger,
		)

		attestor = wormhole.NewFetcher(wormhole.FetcherConfig{
			Host:         cfg.Attestation.Host,
			EmitterChain: uint16(cfg.Destination.WormholeChainID),
			CoreBridge:   cfg.Destination.CoreBridge,
			ParseRetries: cfg.Attestation.ParseRetries,
			ParseDelay:   cfg.Attestation.ParseDelay.Duration,
			PollInterval: cfg.Attestation.PollInterval.Duration,
			PollTimeout:  cfg.Attestation.PollTimeout.Duration,
		}, destChain.HTTP(), logger)
	}

	// --- Pricing ---
	// Static prices win when configured; otherwise the HTTP reference serves
	// quotes cache-first, so a running WS feed keeps it off the wire.
	var ref domain.PriceReference
	if len(cfg.Profit.StaticPrices) > 0 {
		ref = pricing.NewStaticReference(cfg.Profit.StaticPrices)
	} else {
		ref = pricing.NewHTTPReference(
			cfg.Profit.PriceURL, deps.Prices,
			cfg.Profit.MaxPriceAge.Duration, clock, logger,
		)
	}
	gate := pricing.NewGate(pricing.GateConfig{
		InputAsset:      cfg.Profit.InputAsset,
		CounterAsset:    cfg.Profit.CounterAsset,
		InputDecimals:   cfg.Profit.InputDecimals,
		CounterDecimals: cfg.Profit.CounterDecimals,
		MinProfitUSD:    cfg.Profit.MinProfitUSD,
		SourceFeeUSD:    cfg.Profit.SourceFeeUSD,
		DestFeeUSD:      cfg.Profit.DestFeeUSD,
	}, ref, logger)

	if cfg.Profit.PriceWSURL != "" {
		deps.Feed = pricing.NewWSFeed(
			cfg.Profit.PriceWSURL,
			[]string{cfg.Profit.InputAsset, cfg.Profit.CounterAsset},
			deps.Prices, clock, logger,
		)
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	// --- Archival (full mode only) ---
	if needsS3(cfg.Mode) && cfg.Archive.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })

		deps.Archiver = s3blob.NewArchiver(
			s3blob.NewWriter(s3Client),
			deps.Orders, deps.Fulfillments,
			time.Duration(cfg.Archive.RetentionDays)*24*time.Hour,
			cfg.Archive.Interval.Duration,
			clock, logger,
		)
	}

	// --- Engine ---
	deps.Engine = solver.New(
		solver.Config{
			TimeUnit:        timeUnit,
			RecheckInterval: cfg.Auction.RecheckInterval.Duration,
			ExpiryGrace:     cfg.Auction.ExpiryGrace.Duration,
			LockTTL:         cfg.Auction.LockTTL.Duration,
			Transient: retry.Policy{
				MaxAttempts: 3,
				Interval:    2 * time.Second,
				Multiplier:  2.0,
				MaxInterval: 15 * time.Second,
			},
			StartBlock: cfg.Source.StartBlock,
			Monitor:    cfg.Mode == "monitor",
		},
		solver.Deps{
			Orders:       deps.Orders,
			Fulfillments: deps.Fulfillments,
			Cursors:      deps.Cursors,
			Source:       orderSource,
			Fulfiller:    fulfiller,
			Receipts:     receipts,
			Attestor:     attestor,
			Settler:      settler,
			Gate:         gate,
			Locks:        deps.Locks,
			Clock:        clock,
			Alerts:       deps.Notifier,
		},
		logger,
	)

	return deps, cleanup, nil
}
