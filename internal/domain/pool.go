package domain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// PoolKind identifies the pricing formula a pool uses.
type PoolKind string

const (
	PoolConstantProduct PoolKind = "constant_product"
	PoolStableSwap      PoolKind = "stable_swap"
	PoolConcentrated    PoolKind = "concentrated"
)

// PoolState is the committed state of one liquidity pool. Instances handed
// out by the pool cache are copies; scanners and the simulator never mutate
// cache-owned state.
type PoolState struct {
	Address common.Address
	Kind    PoolKind
	Token0  common.Address
	Token1  common.Address
	FeeBps  uint32

	// Constant-product and stable-swap reserves.
	Reserve0 *big.Int
	Reserve1 *big.Int

	// Stable-swap amplification coefficient.
	Amplification uint64

	// Concentrated-liquidity tick state.
	SqrtPriceX96 *big.Int
	Liquidity    *big.Int
	Tick         int32

	UpdatedBlock uint64
}

// Clone returns a deep copy safe to mutate in simulation.
func (p PoolState) Clone() PoolState {
	out := p
	out.Reserve0 = cloneBig(p.Reserve0)
	out.Reserve1 = cloneBig(p.Reserve1)
	out.SqrtPriceX96 = cloneBig(p.SqrtPriceX96)
	out.Liquidity = cloneBig(p.Liquidity)
	return out
}

// Other returns the opposite token of the pair, or false when the token is
// not part of the pool.
func (p PoolState) Other(token common.Address) (common.Address, bool) {
	switch token {
	case p.Token0:
		return p.Token1, true
	case p.Token1:
		return p.Token0, true
	default:
		return common.Address{}, false
	}
}

func cloneBig(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}
