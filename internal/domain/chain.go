package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ChainSnapshot is an immutable point-in-time view of the chain head. A
// snapshot is superseded by the next confirmed block or by a reorg; profit
// figures computed against different snapshots must never be compared.
type ChainSnapshot struct {
	Number     uint64
	Hash       common.Hash
	ParentHash common.Hash
	Time       time.Time
	BaseFee    *big.Int
}

// PoolUpdate carries the post-block state for one liquidity pool. Fields that
// do not apply to the pool's protocol kind are left nil/zero.
type PoolUpdate struct {
	Pool         common.Address
	Reserve0     *big.Int
	Reserve1     *big.Int
	SqrtPriceX96 *big.Int
	Liquidity    *big.Int
	Tick         int32
}

// PositionUpdate carries the post-block collateral and debt sets for one
// lending position. An empty Collateral and Debt set means the position was
// closed.
type PositionUpdate struct {
	Protocol   string
	Borrower   common.Address
	Collateral []AssetAmount
	Debt       []AssetAmount
}

// Clone returns a deep copy of the update's asset sets, so a feed that reuses
// diff buffers cannot alias committed tracker state.
func (u PositionUpdate) Clone() PositionUpdate {
	u.Collateral = cloneAssets(u.Collateral)
	u.Debt = cloneAssets(u.Debt)
	return u
}

// FeeSample is the fee observation extracted from one confirmed block: its
// base fee and the priority fees of the transactions it included.
type FeeSample struct {
	Block   uint64
	BaseFee *big.Int
	Tips    []*big.Int
}

// BlockDiff is the unit delivered by the chain data feed for each confirmed
// block: the new head snapshot plus the state changes it caused. A diff whose
// snapshot number is at or below the previously applied height signals a
// reorg; the feed then re-delivers diffs from the common ancestor.
type BlockDiff struct {
	Snapshot  ChainSnapshot
	Pools     []PoolUpdate
	Positions []PositionUpdate
	Fees      FeeSample
	// MinedTxs lists the hashes of transactions included in this block, used
	// to retire pending-transaction observations.
	MinedTxs []common.Hash
}
