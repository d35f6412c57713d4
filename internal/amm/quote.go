package amm

import (
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/arbiterlabs/mevscan/internal/domain"
)

var ErrTokenNotInPool = errors.New("amm: token not in pool")

// Quote prices a swap of amountIn of tokenIn against the given pool state,
// dispatching on the pool's protocol kind.
func Quote(pool domain.PoolState, tokenIn common.Address, amountIn *big.Int) (*big.Int, error) {
	zeroForOne := tokenIn == pool.Token0
	if !zeroForOne && tokenIn != pool.Token1 {
		return nil, ErrTokenNotInPool
	}

	switch pool.Kind {
	case domain.PoolConstantProduct:
		if zeroForOne {
			return ConstantProductOut(amountIn, pool.Reserve0, pool.Reserve1, pool.FeeBps)
		}
		return ConstantProductOut(amountIn, pool.Reserve1, pool.Reserve0, pool.FeeBps)
	case domain.PoolStableSwap:
		if zeroForOne {
			return StableSwapOut(amountIn, pool.Reserve0, pool.Reserve1, pool.Amplification, pool.FeeBps)
		}
		return StableSwapOut(amountIn, pool.Reserve1, pool.Reserve0, pool.Amplification, pool.FeeBps)
	case domain.PoolConcentrated:
		return ConcentratedOut(amountIn, pool.SqrtPriceX96, pool.Liquidity, pool.FeeBps, zeroForOne)
	default:
		return nil, ErrTokenNotInPool
	}
}

// Apply mutates a cloned pool state to reflect a completed swap of amountIn
// for amountOut. Concentrated pools track the implied sqrt price move; the
// reserve kinds track balances directly. The caller owns the clone.
func Apply(pool *domain.PoolState, tokenIn common.Address, amountIn, amountOut *big.Int) {
	zeroForOne := tokenIn == pool.Token0
	switch pool.Kind {
	case domain.PoolConstantProduct, domain.PoolStableSwap:
		if zeroForOne {
			pool.Reserve0 = new(big.Int).Add(pool.Reserve0, amountIn)
			pool.Reserve1 = new(big.Int).Sub(pool.Reserve1, amountOut)
		} else {
			pool.Reserve1 = new(big.Int).Add(pool.Reserve1, amountIn)
			pool.Reserve0 = new(big.Int).Sub(pool.Reserve0, amountOut)
		}
	case domain.PoolConcentrated:
		// sqrtP moves down for zeroForOne, up otherwise: delta = out*Q96/L
		// against the output side of the price.
		if pool.Liquidity == nil || pool.Liquidity.Sign() == 0 {
			return
		}
		if zeroForOne {
			delta := new(big.Int).Mul(amountOut, q96)
			delta.Quo(delta, pool.Liquidity)
			pool.SqrtPriceX96 = new(big.Int).Sub(pool.SqrtPriceX96, delta)
		} else {
			delta := new(big.Int).Mul(amountIn, q96)
			delta.Quo(delta, pool.Liquidity)
			pool.SqrtPriceX96 = new(big.Int).Add(pool.SqrtPriceX96, delta)
		}
	}
}
