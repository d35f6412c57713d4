package domain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// StepKind identifies one action inside a bundle transaction.
type StepKind string

const (
	StepSwap        StepKind = "swap"
	StepFlashBorrow StepKind = "flash_borrow"
	StepFlashRepay  StepKind = "flash_repay"
	StepLiquidate   StepKind = "liquidate"
)

// Step is one protocol action of a bundle transaction, expressed in the
// generic contract the simulator executes. Gas is the step's fixed gas
// schedule; the simulator sums schedules rather than estimating.
type Step struct {
	Kind StepKind
	Gas  uint64

	// Swap fields.
	Pool         common.Address
	TokenIn      common.Address
	TokenOut     common.Address
	AmountIn     *big.Int
	MinAmountOut *big.Int

	// Flash-borrow / repay fields.
	Token  common.Address
	Amount *big.Int
	FeeBps uint32

	// Liquidation fields. SeizeAmount is precomputed by the scanner from
	// prices at detection time so replay stays deterministic.
	Protocol    string
	Borrower    common.Address
	DebtToken   common.Address
	RepayAmount *big.Int
	SeizeToken  common.Address
	SeizeAmount *big.Int
}

// BundleTx is one transaction of a bundle. BaseGas covers the intrinsic
// transaction cost (21000 for a plain call).
type BundleTx struct {
	Sender  common.Address
	Nonce   uint64
	BaseGas uint64
	Steps   []Step
}

// Bundle is an ordered group of transactions simulated (and, downstream,
// submitted) as a unit against a target block.
type Bundle struct {
	Txs         []BundleTx
	TargetBlock uint64
}

// GasLimit returns the sum of all gas schedules in the bundle.
func (b Bundle) GasLimit() uint64 {
	var total uint64
	for _, tx := range b.Txs {
		total += tx.BaseGas
		for _, s := range tx.Steps {
			total += s.Gas
		}
	}
	return total
}

// TouchedPools returns the distinct pools referenced by swap steps, in first
// touch order.
func (b Bundle) TouchedPools() []common.Address {
	seen := make(map[common.Address]struct{})
	var out []common.Address
	for _, tx := range b.Txs {
		for _, s := range tx.Steps {
			if s.Kind != StepSwap {
				continue
			}
			if _, ok := seen[s.Pool]; ok {
				continue
			}
			seen[s.Pool] = struct{}{}
			out = append(out, s.Pool)
		}
	}
	return out
}

// SimulationResult is the outcome of replaying a bundle against an isolated
// snapshot copy. It is consumed once by the profit calculator.
type SimulationResult struct {
	Success      bool
	RevertReason string
	GasUsed      uint64

	// SnapshotBlock and Generation identify the state the bundle was
	// replayed against; a result from a superseded generation is discarded.
	SnapshotBlock uint64
	Generation    uint64

	// PoolDiff maps each touched pool to its post-bundle state.
	PoolDiff map[common.Address]PoolState
	// TokenDeltas is the net token flow to the bundle sender.
	TokenDeltas map[common.Address]*big.Int
}
