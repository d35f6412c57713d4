package scanner

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/arbiterlabs/mevscan/internal/domain"
	"github.com/arbiterlabs/mevscan/internal/gas"
	"github.com/arbiterlabs/mevscan/internal/health"
	"github.com/arbiterlabs/mevscan/internal/queue"
	"github.com/arbiterlabs/mevscan/internal/state"
)

// minedAware is implemented by scanners that retire state when watched
// transactions are included in a block.
type minedAware interface {
	OnMined(hashes []common.Hash)
}

// EngineConfig configures the scan engine.
type EngineConfig struct {
	// CandidateBuffer sizes the outbound candidate channel; a full channel
	// applies backpressure to the block loop.
	CandidateBuffer int
}

// Engine drives the scanners from the chain data feed: it applies each block
// diff to the state caches, feeds the gas optimizer and the queue's expiry
// clock, heartbeats the health monitor and fans detected candidates out to
// the simulation stage. Block and pending events run on separate goroutines;
// per-source ordering is preserved, cross-source ordering is not.
type Engine struct {
	feed      domain.ChainDataFeed
	pools     *state.PoolCache
	positions *state.PositionTracker
	gas       *gas.Optimizer
	queue     *queue.Queue
	monitor   *health.Monitor
	breaker   *health.CircuitBreaker
	scanners  []Scanner
	out       chan domain.Opportunity
	lastSnap  atomic.Pointer[domain.ChainSnapshot]
	logger    *slog.Logger
}

// NewEngine creates an Engine over the given scanners.
func NewEngine(
	cfg EngineConfig,
	feed domain.ChainDataFeed,
	pools *state.PoolCache,
	positions *state.PositionTracker,
	optimizer *gas.Optimizer,
	q *queue.Queue,
	monitor *health.Monitor,
	breaker *health.CircuitBreaker,
	scanners []Scanner,
	logger *slog.Logger,
) *Engine {
	if cfg.CandidateBuffer <= 0 {
		cfg.CandidateBuffer = 64
	}
	return &Engine{
		feed:      feed,
		pools:     pools,
		positions: positions,
		gas:       optimizer,
		queue:     q,
		monitor:   monitor,
		breaker:   breaker,
		scanners:  scanners,
		out:       make(chan domain.Opportunity, cfg.CandidateBuffer),
		logger:    logger.With(slog.String("component", "scan_engine")),
	}
}

// Candidates is the outbound stream of detected opportunities, closed when
// the engine stops.
func (e *Engine) Candidates() <-chan domain.Opportunity {
	return e.out
}

// Head returns the most recently applied snapshot, false before the first
// block.
func (e *Engine) Head() (domain.ChainSnapshot, bool) {
	p := e.lastSnap.Load()
	if p == nil {
		return domain.ChainSnapshot{}, false
	}
	return *p, true
}

// Run consumes the feed until ctx is cancelled or the feed closes. A closed
// block channel means the feed is gone for good, which is fatal.
func (e *Engine) Run(ctx context.Context) error {
	defer close(e.out)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return e.blockLoop(ctx) })
	g.Go(func() error { return e.pendingLoop(ctx) })

	e.logger.Info("scan engine started", slog.Int("scanners", len(e.scanners)))
	defer e.logger.Info("scan engine stopped")
	return g.Wait()
}

func (e *Engine) blockLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case diff, ok := <-e.feed.Blocks():
			if !ok {
				if e.breaker != nil {
					e.breaker.Trip()
				}
				return fmt.Errorf("block stream closed: %w", domain.ErrFeedDown)
			}
			if err := e.handleBlock(ctx, diff); err != nil {
				return err
			}
		}
	}
}

func (e *Engine) handleBlock(ctx context.Context, diff domain.BlockDiff) error {
	// A head at or below the last applied number means the old branch was
	// orphaned. The state caches rewind themselves inside Apply; the queue
	// needs an explicit purge of entries priced on the dead branch.
	if prev := e.lastSnap.Load(); prev != nil && diff.Snapshot.Number <= prev.Number {
		purged := e.queue.OnReorg(diff.Snapshot.Number)
		e.logger.Warn("reorg detected",
			slog.Uint64("old_head", prev.Number),
			slog.Uint64("new_head", diff.Snapshot.Number),
			slog.Int("purged", purged),
		)
	}
	e.pools.Apply(diff)
	e.positions.Apply(diff)
	e.gas.Observe(diff.Fees)
	e.queue.OnBlock(diff.Snapshot.Number)
	e.monitor.Beat()

	snap := diff.Snapshot
	e.lastSnap.Store(&snap)

	for _, s := range e.scanners {
		if m, ok := s.(minedAware); ok {
			m.OnMined(diff.MinedTxs)
		}
	}

	if e.breaker != nil && !e.breaker.Allow() {
		e.logger.Warn("scan shed, circuit breaker open", slog.Uint64("block", snap.Number))
		return nil
	}

	var failed bool
	poolView := e.pools.View()
	posView := e.positions.View()
	for _, s := range e.scanners {
		opps, err := s.OnBlock(ctx, snap, poolView, posView)
		if err != nil {
			if ctx.Err() != nil {
				return err
			}
			failed = true
			e.logger.Warn("scanner failed on block",
				slog.String("scanner", s.Name()),
				slog.Uint64("block", snap.Number),
				slog.String("error", err.Error()),
			)
			continue
		}
		if err := e.emit(ctx, opps); err != nil {
			return err
		}
	}
	if e.breaker != nil {
		if failed {
			e.breaker.Failure()
		} else {
			e.breaker.Success()
		}
	}
	return nil
}

func (e *Engine) pendingLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case tx, ok := <-e.feed.Pending():
			if !ok {
				// Mempool stream gone; block scanning can continue.
				e.logger.Warn("pending stream closed")
				return nil
			}
			snapPtr := e.lastSnap.Load()
			if snapPtr == nil {
				continue // no snapshot committed yet
			}
			for _, s := range e.scanners {
				opps, err := s.OnPendingTx(ctx, tx, *snapPtr)
				if err != nil {
					if ctx.Err() != nil {
						return err
					}
					e.logger.Warn("scanner failed on pending tx",
						slog.String("scanner", s.Name()),
						slog.String("tx", tx.Hash.Hex()),
						slog.String("error", err.Error()),
					)
					continue
				}
				if err := e.emit(ctx, opps); err != nil {
					return err
				}
			}
		}
	}
}

func (e *Engine) emit(ctx context.Context, opps []domain.Opportunity) error {
	for _, opp := range opps {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case e.out <- opp:
		}
	}
	return nil
}
