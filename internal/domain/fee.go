package domain

import "math/big"

// FeeBid is a gas price recommendation produced by the gas optimizer.
type FeeBid struct {
	// MaxFee is the fee cap in wei per gas.
	MaxFee *big.Int
	// PriorityFee is the tip in wei per gas.
	PriorityFee *big.Int
	// Percentile is the inclusion percentile the bid targets, for reporting.
	Percentile float64
}

// EffectivePrice returns the per-gas price actually paid at the given base
// fee: min(MaxFee, baseFee+PriorityFee).
func (b FeeBid) EffectivePrice(baseFee *big.Int) *big.Int {
	if b.MaxFee == nil {
		return new(big.Int)
	}
	if baseFee == nil {
		return new(big.Int).Set(b.MaxFee)
	}
	price := new(big.Int).Add(baseFee, b.PriorityFee)
	if price.Cmp(b.MaxFee) > 0 {
		return new(big.Int).Set(b.MaxFee)
	}
	return price
}
