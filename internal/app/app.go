// Package app wires configuration into the settlement components shared by
// the service and the one-shot backlog runner.
package app

import (
	"context"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"

	"presale-settler/internal/backlog"
	"presale-settler/internal/chain"
	"presale-settler/internal/config"
	"presale-settler/internal/pricefeed"
	"presale-settler/internal/settlement"
	"presale-settler/internal/solanarpc"
	"presale-settler/internal/storage"
	chstore "presale-settler/internal/storage/clickhouse"
	"presale-settler/internal/storage/memory"
	"presale-settler/internal/storage/migrations"
	pgstore "presale-settler/internal/storage/postgres"
	"presale-settler/internal/tokenaccount"
	"presale-settler/internal/transfer"
)

// Stores groups the storage backends.
type Stores struct {
	Purchases    storage.PurchaseStore
	PendingSends storage.PendingSendStore
	Diagnostics  storage.DiagnosticStore
}

// App holds the wired components.
type App struct {
	Stores   Stores
	Chain    chain.Client
	Executor *transfer.Executor
	Pipeline *settlement.Pipeline
	Worker   *backlog.Worker

	closers []func()
}

// Close releases connections in reverse order of creation.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// New connects the stores and the chain client and builds every component.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	a := &App{}

	stores, err := a.openStores(ctx, cfg, logger)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Stores = stores

	signer, err := chain.NewSigner(cfg.Solana.SigningKey)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("load custodial key: %w", err)
	}
	logger.Info("custodial signer loaded", zap.Stringer("payer", signer.PublicKey()))

	rpc := solanarpc.NewHTTPClient(cfg.Solana.RPCURL,
		solanarpc.WithCommitment(cfg.Solana.Commitment),
		solanarpc.WithRateLimit(cfg.Solana.RPCRateLimit, 4),
	)
	rpcCfg := chain.RPCConfig{
		Commitment:     cfg.Solana.Commitment,
		ConfirmTimeout: cfg.Solana.ConfirmTimeout,
		PollInterval:   cfg.Solana.PollInterval,
		Logger:         logger,
	}
	if cfg.Solana.WSURL != "" {
		wsCfg := solanarpc.DefaultWSConfig()
		wsCfg.Commitment = cfg.Solana.Commitment
		ws := solanarpc.NewWSClient(cfg.Solana.WSURL, &wsCfg, logger)
		a.closers = append(a.closers, func() { _ = ws.Close() })
		rpcCfg.Watcher = ws
	}
	a.Chain = chain.NewRPC(rpc, signer, rpcCfg)

	if err := a.build(cfg, logger); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

// NewWithChain builds the components over an existing chain client and
// stores. Used by tests and tooling.
func NewWithChain(cfg *config.Config, c chain.Client, stores Stores, logger *zap.Logger) (*App, error) {
	a := &App{Stores: stores, Chain: c}
	if err := a.build(cfg, logger); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *App) build(cfg *config.Config, logger *zap.Logger) error {
	mint, err := solana.PublicKeyFromBase58(cfg.Solana.RewardMint)
	if err != nil {
		return fmt.Errorf("reward mint: %w", err)
	}
	stages, err := cfg.Presale.DomainStages()
	if err != nil {
		return err
	}
	tiers, err := cfg.Presale.DomainTiers()
	if err != nil {
		return err
	}
	if tiers == nil {
		tiers = settlement.DefaultSizeTiers
	}
	pricing, err := settlement.NewPricing(stages, tiers)
	if err != nil {
		return err
	}

	resolver := tokenaccount.NewResolver(a.Chain, logger)
	provisioner := tokenaccount.NewProvisioner(a.Chain, resolver, tokenaccount.ProvisionerConfig{
		MaxAttempts:        cfg.Provisioner.MaxAttempts,
		BaseDelay:          cfg.Provisioner.BaseDelay,
		MaxDelay:           cfg.Provisioner.MaxDelay,
		VisibilityPolls:    cfg.Provisioner.VisibilityPolls,
		VisibilityInterval: cfg.Provisioner.VisibilityInterval,
		Logger:             logger,
	})
	a.Executor = transfer.NewExecutor(a.Chain, provisioner, a.Stores.Purchases, a.Stores.Diagnostics, transfer.Config{
		Mint:           mint,
		Decimals:       cfg.Solana.RewardDecimals,
		MaxAttempts:    cfg.Executor.MaxAttempts,
		BaseDelay:      cfg.Executor.BaseDelay,
		MaxDelay:       cfg.Executor.MaxDelay,
		ClaimLease:     cfg.Executor.ClaimLease,
		ConfirmTimeout: cfg.Solana.ConfirmTimeout,
		Logger:         logger,
	})

	prices := pricefeed.NewClient(pricefeed.Config{
		URL:               cfg.PriceFeed.URL,
		Asset:             cfg.PriceFeed.Asset,
		Timeout:           cfg.PriceFeed.Timeout,
		RequestsPerSecond: cfg.PriceFeed.RequestsPerSecond,
	}, logger)
	amounts := settlement.NewAmountResolver(settlement.AmountConfig{
		StableMint:   cfg.Solana.StableMint,
		DustLamports: cfg.Solana.DustLamports,
	}, prices, logger)
	matcher := settlement.NewMatcher(a.Stores.Purchases, a.Stores.Diagnostics, pricing, settlement.MatcherConfig{
		LookupWindow: cfg.Matcher.LookupWindow,
		InitialDelay: cfg.Matcher.InitialDelay,
		MaxDelay:     cfg.Matcher.MaxDelay,
		Logger:       logger,
	})
	a.Pipeline = settlement.NewPipeline(settlement.PipelineConfig{
		Treasury:    cfg.Solana.Treasury,
		Amounts:     amounts,
		Matcher:     matcher,
		Settler:     a.Executor,
		Diagnostics: a.Stores.Diagnostics,
		Logger:      logger,
	})

	a.Worker = backlog.NewWorker(a.Stores.PendingSends, a.Stores.Diagnostics, provisioner, a.Executor, backlog.Config{
		BatchSize:   cfg.Backlog.BatchSize,
		MaxAttempts: cfg.Backlog.MaxAttempts,
		StaleAfter:  cfg.Backlog.StaleAfter,
		Logger:      logger,
	})
	return nil
}

func (a *App) openStores(ctx context.Context, cfg *config.Config, logger *zap.Logger) (Stores, error) {
	var s Stores
	if cfg.Database.UseMemory {
		logger.Warn("using in-memory stores; state is lost on restart")
		s = Stores{
			Purchases:    memory.NewPurchaseStore(),
			PendingSends: memory.NewPendingSendStore(),
			Diagnostics:  memory.NewDiagnosticStore(),
		}
	} else {
		pool, err := pgstore.NewPool(ctx, cfg.Database.DSN, cfg.Database.MaxConns)
		if err != nil {
			return s, err
		}
		a.closers = append(a.closers, pool.Close)
		if cfg.Database.Migrate {
			if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
				return s, err
			}
		}
		s = Stores{
			Purchases:    pgstore.NewPurchaseStore(pool),
			PendingSends: pgstore.NewPendingSendStore(pool),
			Diagnostics:  pgstore.NewDiagnosticStore(pool),
		}
	}

	if cfg.ClickHouse.DSN != "" {
		conn, err := migrations.RunClickhouseMigrations(ctx, cfg.ClickHouse.DSN)
		if err != nil {
			return s, err
		}
		a.closers = append(a.closers, func() { _ = conn.Close() })
		s.Diagnostics = storage.FanoutDiagnostics{s.Diagnostics, chstore.NewDiagnosticStore(conn)}
		logger.Info("clickhouse diagnostics sink enabled")
	}
	return s, nil
}
