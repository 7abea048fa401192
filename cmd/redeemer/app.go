package main

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/0gfoundation/0g-rav-redeemer/internal/chain"
	"github.com/0gfoundation/0g-rav-redeemer/internal/config"
	"github.com/0gfoundation/0g-rav-redeemer/internal/lock"
	"github.com/0gfoundation/0g-rav-redeemer/internal/logger"
	"github.com/0gfoundation/0g-rav-redeemer/internal/metrics"
	"github.com/0gfoundation/0g-rav-redeemer/internal/redeemer"
	"github.com/0gfoundation/0g-rav-redeemer/internal/server"
	"github.com/0gfoundation/0g-rav-redeemer/internal/signer"
	"github.com/0gfoundation/0g-rav-redeemer/internal/store"
	"github.com/0gfoundation/0g-rav-redeemer/internal/subgraph"
	"github.com/0gfoundation/0g-rav-redeemer/internal/voucher"
)

// app holds everything a redemption process owns.
type app struct {
	cfg     *config.Config
	log     *zap.Logger
	db      *gorm.DB
	rdb     *redis.Client
	chain   *chain.Client
	reg     *prometheus.Registry
	status  *server.Status
	runners []*redeemer.Runner
}

func newApp(ctx context.Context, cfgPath string) (*app, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("config load: %w", err)
	}
	log, err := logger.New(cfg.Log.Debug)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	log = log.With(zap.String("network", cfg.Network))
	a := &app{cfg: cfg, log: log}

	// ── Postgres ──────────────────────────────────────────────────────────────
	a.db, err = store.OpenPostgres(cfg.Postgres())
	if err != nil {
		return nil, err
	}
	if err := store.Migrate(a.db); err != nil {
		a.close()
		return nil, err
	}
	st := store.New(a.db, log)

	// ── Redis (cycle lock, dead letters) ──────────────────────────────────────
	a.rdb = redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
	})
	if err := a.rdb.Ping(ctx).Err(); err != nil {
		a.close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	locker := lock.New(a.rdb, cfg.LockTTL())

	// ── Chain ─────────────────────────────────────────────────────────────────
	a.chain, err = chain.Dial(ctx, cfg.Chain.RPCURL, cfg.Chain.ChainID, cfg.Chain.OperatorKey, log.Named("chain"))
	if err != nil {
		a.close()
		return nil, err
	}
	log.Info("operator loaded", zap.String("address", a.chain.From().Hex()))

	// ── Metrics ───────────────────────────────────────────────────────────────
	a.reg = prometheus.NewRegistry()
	a.reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m, err := metrics.New(a.reg, cfg.Network)
	if err != nil {
		a.close()
		return nil, err
	}

	threshold, _ := cfg.Threshold()
	indexer := common.HexToAddress(cfg.Chain.IndexerAddress)
	controller := common.HexToAddress(cfg.Contracts.Controller)
	network := subgraph.NewClient(cfg.Subgraphs.NetworkURL, cfg.Subgraphs.PageSize, log.Named("network-subgraph"))
	allocations := subgraph.NewNetwork(network)

	base := redeemer.Settings{
		Network:        cfg.Network,
		Receiver:       indexer,
		Threshold:      threshold,
		FinalityWindow: cfg.FinalityWindow(),
		RevertMargin:   cfg.RevertMargin(),
		BatchSize:      cfg.Redemption.BatchSize,
		Interval:       cfg.Interval(),
	}

	var variants []voucher.Variant
	var pipelines []*redeemer.Pipeline

	if cfg.Redemption.LegacyEnabled {
		keys, err := signer.ParseKeyring(cfg.Chain.OperatorKey, cfg.Chain.LegacyOperatorKeys, log.Named("keyring"))
		if err != nil {
			a.close()
			return nil, err
		}
		escrowClient := subgraph.NewClient(cfg.Subgraphs.LegacyEscrowURL, cfg.Subgraphs.PageSize, log.Named("escrow-subgraph"))
		legacyEscrow := subgraph.NewLegacyEscrow(escrowClient)
		escrowAddr := common.HexToAddress(cfg.Contracts.LegacyEscrow)

		s := base
		s.Variant = voucher.Legacy
		pipelines = append(pipelines, redeemer.NewPipeline(s, redeemer.Deps{
			Protocol:    redeemer.NewLegacy(a.chain.ChainID(), common.HexToAddress(cfg.Contracts.LegacyTapVerifier), escrowAddr, keys, log),
			Store:       st.RAVs(voucher.Legacy),
			Summaries:   st,
			RedeemTxs:   legacyEscrow,
			Allocations: allocations,
			Escrow:      legacyEscrow,
			Executor: chain.NewExecutor(a.chain, controller, indexer,
				a.chain.LegacyOperatorCheck(common.HexToAddress(cfg.Contracts.LegacyStaking)), log.Named("legacy")),
			DeadLetters: redeemer.NewRedisDeadLetters(a.rdb, cfg.Network, voucher.Legacy),
			Metrics:     m,
		}, log))
		variants = append(variants, voucher.Legacy)
	}

	if cfg.Redemption.HorizonEnabled {
		collector := common.HexToAddress(cfg.Contracts.GraphTallyCollector)
		service := common.HexToAddress(cfg.Contracts.SubgraphService)
		horizonEscrow := subgraph.NewHorizonEscrow(network, indexer, collector)

		s := base
		s.Variant = voucher.Horizon
		s.Collector = collector
		pipelines = append(pipelines, redeemer.NewPipeline(s, redeemer.Deps{
			Protocol:    redeemer.NewHorizon(a.chain.ChainID(), collector, service, indexer),
			Store:       st.RAVs(voucher.Horizon),
			Summaries:   st,
			RedeemTxs:   horizonEscrow,
			Allocations: allocations,
			Escrow:      horizonEscrow,
			Executor: chain.NewExecutor(a.chain, controller, indexer,
				a.chain.HorizonAuthorizationCheck(common.HexToAddress(cfg.Contracts.HorizonStaking), service), log.Named("horizon")),
			DeadLetters: redeemer.NewRedisDeadLetters(a.rdb, cfg.Network, voucher.Horizon),
			Metrics:     m,
		}, log))
		variants = append(variants, voucher.Horizon)
	}

	a.status = server.NewStatus(variants...)
	for _, p := range pipelines {
		a.runners = append(a.runners, redeemer.NewRunner(p, locker, a.status, log))
	}
	return a, nil
}

func (a *app) close() {
	if a.chain != nil {
		a.chain.Close()
	}
	if a.rdb != nil {
		a.rdb.Close() //nolint:errcheck
	}
	if a.db != nil {
		if sqlDB, err := a.db.DB(); err == nil {
			sqlDB.Close() //nolint:errcheck
		}
	}
	a.log.Sync() //nolint:errcheck
}
