// Package state maintains the chain-state caches shared by the scanners: the
// pool state cache and the lending position tracker. Both follow the same
// discipline: writers build a fresh committed snapshot and publish it with a
// single atomic pointer swap, so concurrent readers always observe a fully
// consistent view and never a torn update.
package state

import (
	"log/slog"
	"math/big"
	"sync"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"

	"github.com/arbiterlabs/mevscan/internal/domain"
)

// PoolView is an immutable committed snapshot of all tracked pools. Lookup
// methods return copies; the underlying map is never handed out.
type PoolView struct {
	block      uint64
	generation uint64
	pools      map[common.Address]domain.PoolState
}

// Block returns the block height the view was committed at.
func (v *PoolView) Block() uint64 { return v.block }

// Generation increments every time the view's lineage is superseded by a
// reorg; simulations started against an older generation are discarded.
func (v *PoolView) Generation() uint64 { return v.generation }

// Get returns a copy of the pool's committed state.
func (v *PoolView) Get(addr common.Address) (domain.PoolState, bool) {
	p, ok := v.pools[addr]
	if !ok {
		return domain.PoolState{}, false
	}
	return p.Clone(), true
}

// Len returns the number of tracked pools.
func (v *PoolView) Len() int { return len(v.pools) }

// Each calls fn for every tracked pool with a copy of its state. Iteration
// order is unspecified.
func (v *PoolView) Each(fn func(domain.PoolState)) {
	for _, p := range v.pools {
		fn(p.Clone())
	}
}

// PoolCache owns pool state exclusively. Apply is the only mutation path;
// View hands out immutable snapshots.
type PoolCache struct {
	mu      sync.Mutex // serializes writers; readers go through cur only
	cur     atomic.Pointer[PoolView]
	statics map[common.Address]domain.PoolState // token/fee/kind metadata seeded at startup
	logger  *slog.Logger
}

// NewPoolCache creates a cache seeded with the static metadata (tokens, fee,
// protocol kind) of the pools to track. Reserve data arrives through Apply.
func NewPoolCache(seed []domain.PoolState, logger *slog.Logger) *PoolCache {
	statics := make(map[common.Address]domain.PoolState, len(seed))
	pools := make(map[common.Address]domain.PoolState, len(seed))
	for _, p := range seed {
		statics[p.Address] = p.Clone()
		pools[p.Address] = p.Clone()
	}
	c := &PoolCache{
		statics: statics,
		logger:  logger.With(slog.String("component", "pool_cache")),
	}
	c.cur.Store(&PoolView{pools: pools})
	return c
}

// View returns the latest committed snapshot.
func (c *PoolCache) View() *PoolView {
	return c.cur.Load()
}

// Apply commits a confirmed block's pool diffs atomically. A diff at or below
// the committed height is a reorg: state above the fork point is discarded
// before the replacement diff is applied, still as one swap, so readers see
// either the pre- or post-reorg view in full.
func (c *PoolCache) Apply(diff domain.BlockDiff) {
	c.mu.Lock()
	defer c.mu.Unlock()

	old := c.cur.Load()
	gen := old.generation
	base := old.pools

	if old.block != 0 && diff.Snapshot.Number <= old.block {
		gen++
		base = c.rewind(old.pools, diff.Snapshot.Number)
		c.logger.Warn("reorg detected, rewinding pool state",
			slog.Uint64("cached_height", old.block),
			slog.Uint64("new_height", diff.Snapshot.Number),
			slog.Uint64("generation", gen),
		)
	}

	pools := make(map[common.Address]domain.PoolState, len(base))
	for addr, p := range base {
		pools[addr] = p
	}
	for _, upd := range diff.Pools {
		static, ok := c.statics[upd.Pool]
		if !ok {
			continue // not a tracked pool
		}
		next := static.Clone()
		if prev, ok := pools[upd.Pool]; ok {
			next = prev.Clone()
		}
		if upd.Reserve0 != nil {
			next.Reserve0 = new(big.Int).Set(upd.Reserve0)
		}
		if upd.Reserve1 != nil {
			next.Reserve1 = new(big.Int).Set(upd.Reserve1)
		}
		if upd.SqrtPriceX96 != nil {
			next.SqrtPriceX96 = new(big.Int).Set(upd.SqrtPriceX96)
		}
		if upd.Liquidity != nil {
			next.Liquidity = new(big.Int).Set(upd.Liquidity)
		}
		if upd.Tick != 0 {
			next.Tick = upd.Tick
		}
		next.UpdatedBlock = diff.Snapshot.Number
		pools[upd.Pool] = next
	}

	c.cur.Store(&PoolView{
		block:      diff.Snapshot.Number,
		generation: gen,
		pools:      pools,
	})
}

// rewind drops every pool update committed at or above the fork block,
// restoring the static seed for affected pools.
func (c *PoolCache) rewind(pools map[common.Address]domain.PoolState, fork uint64) map[common.Address]domain.PoolState {
	out := make(map[common.Address]domain.PoolState, len(pools))
	for addr, p := range pools {
		if p.UpdatedBlock >= fork {
			out[addr] = c.statics[addr].Clone()
			continue
		}
		out[addr] = p
	}
	return out
}
