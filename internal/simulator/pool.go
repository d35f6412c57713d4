package simulator

import (
	"context"
	"log/slog"

	"golang.org/x/sync/semaphore"

	"github.com/arbiterlabs/mevscan/internal/domain"
	"github.com/arbiterlabs/mevscan/internal/state"
)

// PoolConfig configures the bounded simulation worker pool.
type PoolConfig struct {
	// Workers caps concurrent simulations.
	Workers int64
	// ConfidenceFloor: when the pool is saturated, candidates below this
	// confidence are dropped instead of waiting, since a simulation against
	// a soon-to-be-stale snapshot is worse than none.
	ConfidenceFloor float64
}

// WorkerPool serializes access to the simulator behind a weighted semaphore
// and enforces the staleness rules: a candidate is only simulated against the
// snapshot it was detected on, and a result whose state generation was
// superseded by a reorg mid-flight is discarded.
type WorkerPool struct {
	sim       *Simulator
	pools     *state.PoolCache
	positions *state.PositionTracker
	sem       *semaphore.Weighted
	cfg       PoolConfig
	logger    *slog.Logger
}

// NewWorkerPool creates a WorkerPool over the shared state caches.
func NewWorkerPool(sim *Simulator, pools *state.PoolCache, positions *state.PositionTracker, cfg PoolConfig, logger *slog.Logger) *WorkerPool {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	return &WorkerPool{
		sim:       sim,
		pools:     pools,
		positions: positions,
		sem:       semaphore.NewWeighted(cfg.Workers),
		cfg:       cfg,
		logger:    logger.With(slog.String("component", "sim_pool")),
	}
}

// Submit simulates the opportunity's bundle. It returns
// domain.ErrSimCapacity when the pool is saturated and the candidate's
// confidence is below the floor, domain.ErrSnapshotMismatch when the head
// has moved past the candidate's snapshot, and domain.ErrSnapshotSuperseded
// when a reorg invalidated the state mid-simulation.
func (p *WorkerPool) Submit(ctx context.Context, opp domain.Opportunity, snap domain.ChainSnapshot) (domain.SimulationResult, error) {
	if !p.sem.TryAcquire(1) {
		if opp.Confidence < p.cfg.ConfidenceFloor {
			p.logger.Debug("dropping low-confidence candidate, pool saturated",
				slog.String("key", opp.Key),
				slog.Float64("confidence", opp.Confidence),
			)
			return domain.SimulationResult{}, domain.ErrSimCapacity
		}
		if err := p.sem.Acquire(ctx, 1); err != nil {
			return domain.SimulationResult{}, err
		}
	}
	defer p.sem.Release(1)

	poolView := p.pools.View()
	posView := p.positions.View()
	if poolView.Block() != opp.SnapshotBlock {
		return domain.SimulationResult{}, domain.ErrSnapshotMismatch
	}

	res := p.sim.Simulate(opp.Bundle, snap, poolView, posView)

	// A reorg during the replay invalidates the result.
	if p.pools.View().Generation() != res.Generation {
		return domain.SimulationResult{}, domain.ErrSnapshotSuperseded
	}
	return res, nil
}
