package state

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/arbiterlabs/mevscan/internal/domain"
)

// PositionView is an immutable committed snapshot of all tracked lending
// positions, keyed by protocol:borrower.
type PositionView struct {
	block      uint64
	generation uint64
	positions  map[string]domain.Position
}

// Block returns the block height the view was committed at.
func (v *PositionView) Block() uint64 { return v.block }

// Generation increments on every reorg rewind of the tracker's lineage.
func (v *PositionView) Generation() uint64 { return v.generation }

// Get returns a copy of a position's committed state.
func (v *PositionView) Get(key string) (domain.Position, bool) {
	p, ok := v.positions[key]
	if !ok {
		return domain.Position{}, false
	}
	return p.Clone(), true
}

// Len returns the number of tracked positions.
func (v *PositionView) Len() int { return len(v.positions) }

// Each calls fn for every tracked position with a copy of its state.
func (v *PositionView) Each(fn func(domain.Position)) {
	for _, p := range v.positions {
		fn(p.Clone())
	}
}

// PositionTracker owns lending position state under the same snapshot
// discipline as the pool cache: atomic swap on commit, reorg rewind to the
// fork point, immutable reader views.
type PositionTracker struct {
	mu     sync.Mutex
	cur    atomic.Pointer[PositionView]
	meta   map[string]domain.Position // threshold/bonus metadata seeded at startup
	logger *slog.Logger
}

// NewPositionTracker creates a tracker seeded with protocol metadata
// (liquidation threshold, bonus) per position. Balances arrive through Apply;
// positions not present in the seed adopt their first update's values.
func NewPositionTracker(seed []domain.Position, logger *slog.Logger) *PositionTracker {
	meta := make(map[string]domain.Position, len(seed))
	positions := make(map[string]domain.Position, len(seed))
	for _, p := range seed {
		meta[p.Key()] = p.Clone()
		positions[p.Key()] = p.Clone()
	}
	t := &PositionTracker{
		meta:   meta,
		logger: logger.With(slog.String("component", "position_tracker")),
	}
	t.cur.Store(&PositionView{positions: positions})
	return t
}

// View returns the latest committed snapshot.
func (t *PositionTracker) View() *PositionView {
	return t.cur.Load()
}

// Apply commits a confirmed block's position diffs atomically, with the same
// reorg semantics as PoolCache.Apply. A closed position (empty collateral and
// debt) is removed from tracking.
func (t *PositionTracker) Apply(diff domain.BlockDiff) {
	t.mu.Lock()
	defer t.mu.Unlock()

	old := t.cur.Load()
	gen := old.generation
	base := old.positions

	if old.block != 0 && diff.Snapshot.Number <= old.block {
		gen++
		base = t.rewind(old.positions, diff.Snapshot.Number)
		t.logger.Warn("reorg detected, rewinding position state",
			slog.Uint64("cached_height", old.block),
			slog.Uint64("new_height", diff.Snapshot.Number),
			slog.Uint64("generation", gen),
		)
	}

	positions := make(map[string]domain.Position, len(base))
	for key, p := range base {
		positions[key] = p
	}
	for _, upd := range diff.Positions {
		key := upd.Protocol + ":" + upd.Borrower.Hex()
		if len(upd.Collateral) == 0 && len(upd.Debt) == 0 {
			delete(positions, key)
			continue
		}
		next, ok := positions[key]
		if !ok {
			next, ok = t.meta[key]
			if !ok {
				next = domain.Position{
					Protocol:             upd.Protocol,
					Borrower:             upd.Borrower,
					LiquidationThreshold: 1.0,
				}
			}
		}
		next = next.Clone()
		upd = upd.Clone()
		next.Collateral = upd.Collateral
		next.Debt = upd.Debt
		next.UpdatedBlock = diff.Snapshot.Number
		positions[key] = next
	}

	t.cur.Store(&PositionView{
		block:      diff.Snapshot.Number,
		generation: gen,
		positions:  positions,
	})
}

// rewind drops position updates committed at or above the fork block; the
// feed re-delivers the authoritative balances with the replacement diff.
func (t *PositionTracker) rewind(positions map[string]domain.Position, fork uint64) map[string]domain.Position {
	out := make(map[string]domain.Position, len(positions))
	for key, p := range positions {
		if p.UpdatedBlock >= fork {
			if seed, ok := t.meta[key]; ok {
				out[key] = seed.Clone()
			}
			continue
		}
		out[key] = p
	}
	return out
}
