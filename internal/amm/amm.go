// Package amm implements the closed-form pool pricing used by both the
// arbitrage scanner and the transaction simulator. All quote functions are
// total: numeric edge cases (zero reserves, non-positive input, drained
// liquidity) surface as errors, never as panics or corrupt values.
package amm

import (
	"errors"
	"math/big"
)

var (
	ErrZeroReserve     = errors.New("amm: zero reserve")
	ErrBadAmount       = errors.New("amm: amount must be positive")
	ErrBadFee          = errors.New("amm: fee must be below 10000 bps")
	ErrNoConvergence   = errors.New("amm: invariant iteration did not converge")
	ErrDrainsLiquidity = errors.New("amm: trade exceeds available liquidity")
)

const bpsDenom = 10000

// ConstantProductOut quotes a Uniswap-v2 style swap:
//
//	out = in*fee*rOut / (rIn*10000 + in*fee)   with fee = 10000 - feeBps
//
// The output is always strictly below rOut for positive reserves.
func ConstantProductOut(amountIn, reserveIn, reserveOut *big.Int, feeBps uint32) (*big.Int, error) {
	if amountIn == nil || amountIn.Sign() <= 0 {
		return nil, ErrBadAmount
	}
	if reserveIn == nil || reserveOut == nil || reserveIn.Sign() <= 0 || reserveOut.Sign() <= 0 {
		return nil, ErrZeroReserve
	}
	if feeBps >= bpsDenom {
		return nil, ErrBadFee
	}

	fee := big.NewInt(int64(bpsDenom - feeBps))
	inWithFee := new(big.Int).Mul(amountIn, fee)
	num := new(big.Int).Mul(inWithFee, reserveOut)
	den := new(big.Int).Mul(reserveIn, big.NewInt(bpsDenom))
	den.Add(den, inWithFee)
	return num.Quo(num, den), nil
}

// StableSwapOut quotes a two-asset StableSwap (Curve style) exchange with
// amplification coefficient amp. The invariant D and the post-trade balance
// are solved by Newton iteration; the fee is charged on the output.
func StableSwapOut(amountIn, reserveIn, reserveOut *big.Int, amp uint64, feeBps uint32) (*big.Int, error) {
	if amountIn == nil || amountIn.Sign() <= 0 {
		return nil, ErrBadAmount
	}
	if reserveIn == nil || reserveOut == nil || reserveIn.Sign() <= 0 || reserveOut.Sign() <= 0 {
		return nil, ErrZeroReserve
	}
	if feeBps >= bpsDenom {
		return nil, ErrBadFee
	}
	if amp == 0 {
		// Degenerate amplification reduces to constant product.
		return ConstantProductOut(amountIn, reserveIn, reserveOut, feeBps)
	}

	d, err := stableD(reserveIn, reserveOut, amp)
	if err != nil {
		return nil, err
	}
	x := new(big.Int).Add(reserveIn, amountIn)
	y, err := stableY(x, d, amp)
	if err != nil {
		return nil, err
	}

	out := new(big.Int).Sub(reserveOut, y)
	out.Sub(out, big.NewInt(1)) // round against the trader
	if out.Sign() <= 0 {
		return nil, ErrDrainsLiquidity
	}
	fee := new(big.Int).Mul(out, big.NewInt(int64(feeBps)))
	fee.Quo(fee, big.NewInt(bpsDenom))
	return out.Sub(out, fee), nil
}

// stableD solves the two-coin StableSwap invariant for D.
func stableD(x, y *big.Int, amp uint64) (*big.Int, error) {
	s := new(big.Int).Add(x, y)
	if s.Sign() == 0 {
		return new(big.Int), nil
	}
	// Ann = amp * n^n with n = 2.
	ann := new(big.Int).SetUint64(amp * 4)
	d := new(big.Int).Set(s)
	four := big.NewInt(4)

	for i := 0; i < 256; i++ {
		// dP = D^3 / (4xy)
		dp := new(big.Int).Mul(d, d)
		dp.Mul(dp, d)
		den := new(big.Int).Mul(x, y)
		den.Mul(den, four)
		dp.Quo(dp, den)

		prev := new(big.Int).Set(d)
		// D = (Ann*S + 2*dP) * D / ((Ann-1)*D + 3*dP)
		num := new(big.Int).Mul(ann, s)
		num.Add(num, new(big.Int).Lsh(dp, 1))
		num.Mul(num, d)
		den = new(big.Int).Sub(ann, big.NewInt(1))
		den.Mul(den, d)
		den.Add(den, new(big.Int).Mul(dp, big.NewInt(3)))
		d.Quo(num, den)

		if converged(d, prev) {
			return d, nil
		}
	}
	return nil, ErrNoConvergence
}

// stableY solves for the post-trade balance of the output coin given the new
// input balance x and invariant D.
func stableY(x, d *big.Int, amp uint64) (*big.Int, error) {
	ann := new(big.Int).SetUint64(amp * 4)

	// c = D^3 / (4 * x * Ann)
	c := new(big.Int).Mul(d, d)
	c.Quo(c, new(big.Int).Lsh(x, 1))
	c.Mul(c, d)
	c.Quo(c, new(big.Int).Lsh(ann, 1))

	// b = x + D/Ann
	b := new(big.Int).Quo(d, ann)
	b.Add(b, x)

	y := new(big.Int).Set(d)
	for i := 0; i < 256; i++ {
		prev := new(big.Int).Set(y)
		// y = (y^2 + c) / (2y + b - D)
		num := new(big.Int).Mul(y, y)
		num.Add(num, c)
		den := new(big.Int).Lsh(y, 1)
		den.Add(den, b)
		den.Sub(den, d)
		if den.Sign() <= 0 {
			return nil, ErrDrainsLiquidity
		}
		y.Quo(num, den)

		if converged(y, prev) {
			return y, nil
		}
	}
	return nil, ErrNoConvergence
}

func converged(a, b *big.Int) bool {
	diff := new(big.Int).Sub(a, b)
	return diff.CmpAbs(big.NewInt(1)) <= 0
}
