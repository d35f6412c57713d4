package app

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/arbiterlabs/mevscan/internal/domain"
	"github.com/arbiterlabs/mevscan/internal/feed"
	"github.com/arbiterlabs/mevscan/internal/gas"
	"github.com/arbiterlabs/mevscan/internal/health"
	"github.com/arbiterlabs/mevscan/internal/notify"
	"github.com/arbiterlabs/mevscan/internal/pipeline"
	"github.com/arbiterlabs/mevscan/internal/profit"
	"github.com/arbiterlabs/mevscan/internal/queue"
	"github.com/arbiterlabs/mevscan/internal/scanner"
	"github.com/arbiterlabs/mevscan/internal/server"
	"github.com/arbiterlabs/mevscan/internal/server/handler"
	"github.com/arbiterlabs/mevscan/internal/server/ws"
	"github.com/arbiterlabs/mevscan/internal/simulator"
	"github.com/arbiterlabs/mevscan/internal/state"
)

// core bundles the detection pipeline components shared by every mode.
type core struct {
	feed      domain.ChainDataFeed
	ingress   *feed.Ingress    // nil when replaying from a recording
	replay    *feed.ReplayFeed // nil on a live ingress
	pools     *state.PoolCache
	positions *state.PositionTracker
	monitor   *health.Monitor
	breaker   *health.CircuitBreaker
	queue     *queue.Queue
	engine    *scanner.Engine
	runner    *pipeline.Runner
	bridge    *pipeline.DispatcherBridge
	archiver  *pipeline.Archiver // nil unless archiving is wired
}

// buildCore constructs the feed, state caches, scanners, engine and runner.
// Bus and store come from deps and may be nil depending on the mode.
func (a *App) buildCore(deps *Dependencies, bus domain.SignalBus, store domain.OpportunityStore) (*core, error) {
	cfg := a.cfg
	c := &core{}

	// Chain data feed: a recording when one is configured, a push ingress
	// otherwise.
	if cfg.Feed.ReplayFile != "" {
		rec, err := feed.LoadRecording(cfg.Feed.ReplayFile)
		if err != nil {
			return nil, fmt.Errorf("replay feed: %w", err)
		}
		c.replay = feed.NewReplayFeed(rec.Blocks, rec.Mempool, cfg.Feed.ReplayInterval.Duration, a.logger)
		c.feed = c.replay
	} else {
		c.ingress = feed.NewIngress(feed.IngressConfig{
			BlockBuffer:   cfg.Feed.BlockBuffer,
			PendingBuffer: cfg.Feed.PendingBuffer,
		}, a.logger)
		c.feed = c.ingress
	}

	poolSeed, err := loadPoolSeed(cfg.Chain.PoolsFile)
	if err != nil {
		return nil, err
	}
	positionSeed, err := loadPositionSeed(cfg.Chain.PositionsFile)
	if err != nil {
		return nil, err
	}
	c.pools = state.NewPoolCache(poolSeed, a.logger)
	c.positions = state.NewPositionTracker(positionSeed, a.logger)

	c.monitor = health.NewMonitor(cfg.Feed.MaxDowntime.Duration, a.logger)
	c.breaker = health.NewCircuitBreaker(0, 0, a.logger)
	c.queue = queue.New(cfg.Queue.Capacity, a.logger)

	optimizer := gas.NewOptimizer(gas.Config{
		WindowBlocks:     cfg.Gas.WindowBlocks,
		TargetPercentile: cfg.Gas.TargetPercentile,
		UrgencyStep:      cfg.Gas.UrgencyStep,
		FloorTip:         gweiToWei(cfg.Gas.FloorTipGwei),
		FloorMaxFee:      gweiToWei(cfg.Gas.FloorMaxFeeGwei),
	}, a.logger)

	reg, frontrun, err := a.buildScanners(deps, c.queue)
	if err != nil {
		return nil, err
	}
	a.logger.Info("scanners enabled", slog.Any("scanners", reg.List()))

	c.engine = scanner.NewEngine(scanner.EngineConfig{}, c.feed,
		c.pools, c.positions, optimizer, c.queue, c.monitor, c.breaker, reg.All(), a.logger)

	sims := simulator.NewWorkerPool(
		simulator.New(a.logger),
		c.pools, c.positions,
		simulator.PoolConfig{
			Workers:         int64(cfg.Simulation.Workers),
			ConfidenceFloor: cfg.Simulation.ConfidenceFloor,
		},
		a.logger,
	)
	calc := profit.New(profit.Config{
		SlippageBufferBps: uint32(cfg.Profit.SlippageBufferBps),
		CompetitionDecay:  cfg.Profit.CompetitionDecay,
	}, a.logger)

	runnerCfg := pipeline.RunnerConfig{
		Candidates: c.engine.Candidates(),
		Sims:       sims,
		Optimizer:  optimizer,
		Calculator: calc,
		Queue:      c.queue,
		Head:       c.engine.Head,
		Bus:        bus,
		Store:      store,
		Logger:     a.logger,
	}
	if frontrun != nil {
		// The mempool tracker doubles as the competition signal for scoring.
		runnerCfg.Rivals = frontrun.RivalCount
	}
	c.runner = pipeline.NewRunner(runnerCfg)

	c.bridge = pipeline.NewDispatcherBridge(c.queue, bus, store, cfg.Queue.DispatchPoll.Duration, a.logger)

	if cfg.Archive.Enabled && store != nil && deps.Blob != nil {
		c.archiver = pipeline.NewArchiver(store, deps.Blob, cfg.Archive.RetentionDays, a.logger)
	}

	return c, nil
}

// buildScanners registers the enabled detection strategies. The frontrun
// analyzer is also returned directly so the runner can query its pending set
// for rival counts; it is nil when disabled.
func (a *App) buildScanners(deps *Dependencies, q *queue.Queue) (*scanner.Registry, *scanner.FrontrunAnalyzer, error) {
	cfg := a.cfg
	reg := scanner.NewRegistry()

	if cfg.Arbitrage.Enabled {
		arbCfg := scanner.DefaultArbitrageConfig()
		arbCfg.MinMarginBps = uint32(cfg.Arbitrage.MinMarginBps)
		arbCfg.ValidityBlocks = uint64(cfg.Arbitrage.ValidityBlocks)
		arbCfg.SwapGas = uint64(cfg.Arbitrage.SwapGas)
		arbCfg.BaseConfidence = cfg.Arbitrage.BaseConfidence
		if len(cfg.Arbitrage.ProbeAmounts) > 0 {
			arbCfg.ProbeAmounts = make([]*big.Int, len(cfg.Arbitrage.ProbeAmounts))
			for i, v := range cfg.Arbitrage.ProbeAmounts {
				arbCfg.ProbeAmounts[i] = big.NewInt(v)
			}
		}
		reg.Register(scanner.NewArbitrageScanner(arbCfg, q.Live, a.logger))
	}

	if cfg.Liquidation.Enabled {
		liqCfg := scanner.DefaultLiquidationConfig()
		liqCfg.SafetyBufferBps = uint32(cfg.Liquidation.SafetyBufferBps)
		liqCfg.CloseFactorBps = uint32(cfg.Liquidation.CloseFactorBps)
		liqCfg.FlashFeeBps = uint32(cfg.Liquidation.FlashFeeBps)
		liqCfg.ValidityBlocks = uint64(cfg.Liquidation.ValidityBlocks)
		liqCfg.BaseConfidence = cfg.Liquidation.BaseConfidence
		reg.Register(scanner.NewLiquidationMonitor(liqCfg, deps.Prices, q.Live, a.logger))
	}

	var frontrun *scanner.FrontrunAnalyzer
	if cfg.Frontrun.Enabled {
		frCfg := scanner.DefaultFrontrunConfig()
		frCfg.SpikeStdDevs = cfg.Frontrun.SpikeStdDevs
		frCfg.BaselineWindow = cfg.Frontrun.BaselineWindow
		frCfg.MinBaselineSamples = cfg.Frontrun.MinBaselineSamples
		frCfg.RetentionHorizon = cfg.Frontrun.RetentionHorizon.Duration
		frCfg.ValidityBlocks = uint64(cfg.Frontrun.ValidityBlocks)
		for _, s := range cfg.Frontrun.WatchedSelectors {
			sel, err := feed.ParseSelector(s)
			if err != nil {
				return nil, nil, fmt.Errorf("frontrun: %w", err)
			}
			frCfg.WatchedSelectors = append(frCfg.WatchedSelectors, sel)
		}
		for _, addr := range cfg.Frontrun.ProtectedSenders {
			frCfg.ProtectedSenders = append(frCfg.ProtectedSenders, common.HexToAddress(addr))
		}
		frontrun = scanner.NewFrontrunAnalyzer(frCfg, q.Live, q.Invalidate, a.logger)
		reg.Register(frontrun)
	}

	return reg, frontrun, nil
}

// ScanMode runs detection only: candidates flow through simulation and
// scoring into the in-memory queue, with no history or event publishing.
func (a *App) ScanMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting scan mode")

	c, err := a.buildCore(deps, nil, nil)
	if err != nil {
		return fmt.Errorf("scan mode: %w", err)
	}
	a.setCore(c)

	g, ctx := errgroup.WithContext(ctx)
	a.startPipeline(ctx, g, c)
	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, c, nil)
	}
	return g.Wait()
}

// RecordMode adds opportunity history and bus events on top of scan mode.
func (a *App) RecordMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting record mode")

	c, err := a.buildCore(deps, deps.Bus, deps.Store)
	if err != nil {
		return fmt.Errorf("record mode: %w", err)
	}
	a.setCore(c)

	g, ctx := errgroup.WithContext(ctx)
	a.startPipeline(ctx, g, c)
	a.startAlerter(ctx, g, deps)
	return g.Wait()
}

// FullMode runs every subsystem: detection, history, archival, the HTTP and
// WebSocket API, and notifications.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	c, err := a.buildCore(deps, deps.Bus, deps.Store)
	if err != nil {
		return fmt.Errorf("full mode: %w", err)
	}
	a.setCore(c)

	g, ctx := errgroup.WithContext(ctx)
	a.startPipeline(ctx, g, c)
	a.startAlerter(ctx, g, deps)
	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, c, deps.Store)
	}
	return g.Wait()
}

// startPipeline launches the engine, runner and optional archiver under the
// orchestrator, plus the replay driver when one is configured.
func (a *App) startPipeline(ctx context.Context, g *errgroup.Group, c *core) {
	orch := pipeline.NewOrchestrator(c.engine, c.runner, c.archiver, a.cfg.Archive.Interval.Duration, a.logger)
	g.Go(func() error {
		return orch.Run(ctx)
	})
	if c.replay != nil {
		g.Go(func() error {
			err := c.replay.Run(ctx)
			if ctx.Err() != nil {
				return nil
			}
			return err
		})
	}
}

// startAlerter forwards bus events to the configured notification channels.
func (a *App) startAlerter(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	alerter := notify.NewAlerter(deps.Bus, deps.Notifier, a.logger)
	g.Go(func() error {
		err := alerter.Run(ctx)
		if ctx.Err() != nil {
			return nil // clean shutdown
		}
		return err
	})
}

// startHTTPServer adds the API server and WebSocket hub goroutines. store may
// be nil, disabling the history endpoint.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, c *core, store domain.OpportunityStore) {
	hub := ws.NewHub(deps.Bus, a.cfg.Mode, a.logger)
	g.Go(func() error {
		err := hub.Run(ctx)
		if ctx.Err() != nil {
			return nil // clean shutdown
		}
		return err
	})

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
	}, server.Handlers{
		Health:        handler.NewHealthHandler(c.monitor, c.breaker),
		Status:        handler.NewStatusHandler(a.cfg.Mode, c.engine.Head, c.queue.Len, time.Now().UTC()),
		Opportunities: handler.NewOpportunityHandler(c.queue, store),
	}, hub, a.logger)

	g.Go(func() error {
		return srv.Start()
	})
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}

func gweiToWei(gwei int64) *big.Int {
	if gwei <= 0 {
		return nil
	}
	return new(big.Int).Mul(big.NewInt(gwei), big.NewInt(1_000_000_000))
}
