package amm

import "math/big"

// q96 is the Uniswap-v3 fixed-point scale, 2^96.
var q96 = new(big.Int).Lsh(big.NewInt(1), 96)

// ConcentratedOut quotes a concentrated-liquidity swap within the current
// tick range, given the pool's sqrtPriceX96 and in-range liquidity. The fee
// is charged on the input. zeroForOne selects the trade direction
// (token0 -> token1 when true).
//
// Crossing tick boundaries is not modelled; a trade large enough to leave
// the current range returns ErrDrainsLiquidity.
func ConcentratedOut(amountIn, sqrtPriceX96, liquidity *big.Int, feeBps uint32, zeroForOne bool) (*big.Int, error) {
	if amountIn == nil || amountIn.Sign() <= 0 {
		return nil, ErrBadAmount
	}
	if sqrtPriceX96 == nil || liquidity == nil || sqrtPriceX96.Sign() <= 0 || liquidity.Sign() <= 0 {
		return nil, ErrZeroReserve
	}
	if feeBps >= bpsDenom {
		return nil, ErrBadFee
	}

	in := new(big.Int).Mul(amountIn, big.NewInt(int64(bpsDenom-feeBps)))
	in.Quo(in, big.NewInt(bpsDenom))
	if in.Sign() <= 0 {
		return nil, ErrBadAmount
	}

	if zeroForOne {
		// sqrtP' = L*Q96*sqrtP / (L*Q96 + in*sqrtP)
		lq := new(big.Int).Mul(liquidity, q96)
		num := new(big.Int).Mul(lq, sqrtPriceX96)
		den := new(big.Int).Mul(in, sqrtPriceX96)
		den.Add(den, lq)
		sqrtNew := num.Quo(num, den)
		if sqrtNew.Sign() <= 0 {
			return nil, ErrDrainsLiquidity
		}
		// out1 = L * (sqrtP - sqrtP') / Q96
		out := new(big.Int).Sub(sqrtPriceX96, sqrtNew)
		out.Mul(out, liquidity)
		out.Quo(out, q96)
		if out.Sign() <= 0 {
			return nil, ErrDrainsLiquidity
		}
		return out, nil
	}

	// sqrtP' = sqrtP + in*Q96/L
	delta := new(big.Int).Mul(in, q96)
	delta.Quo(delta, liquidity)
	sqrtNew := new(big.Int).Add(sqrtPriceX96, delta)

	// out0 = L*Q96*(sqrtP' - sqrtP) / (sqrtP' * sqrtP)
	out := new(big.Int).Mul(liquidity, q96)
	out.Mul(out, delta)
	den := new(big.Int).Mul(sqrtNew, sqrtPriceX96)
	out.Quo(out, den)
	if out.Sign() <= 0 {
		return nil, ErrDrainsLiquidity
	}
	return out, nil
}
