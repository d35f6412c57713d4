package domain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// AssetAmount is one asset leg of a lending position.
type AssetAmount struct {
	Token    common.Address
	Amount   *big.Int
	Decimals uint8
	// Weight is the protocol's liquidation weight for this asset: collateral
	// is discounted by it, debt is scaled up by it.
	Weight float64
}

// Position is the committed state of one lending position. The health factor
// is recomputed by the liquidation monitor from current prices rather than
// stored here, since prices move between blocks.
type Position struct {
	Protocol   string
	Borrower   common.Address
	Collateral []AssetAmount
	Debt       []AssetAmount

	// LiquidationThreshold is the health-factor level below which the
	// protocol allows liquidation, typically 1.0.
	LiquidationThreshold float64
	// BonusBps is the protocol's liquidation bonus on seized collateral.
	BonusBps uint32

	UpdatedBlock uint64
}

// Key returns the canonical position identifier used as the liquidation
// opportunity key suffix.
func (p Position) Key() string {
	return p.Protocol + ":" + p.Borrower.Hex()
}

// Clone returns a deep copy safe to mutate in simulation.
func (p Position) Clone() Position {
	out := p
	out.Collateral = cloneAssets(p.Collateral)
	out.Debt = cloneAssets(p.Debt)
	return out
}

// Closed reports whether the position holds no collateral and no debt.
func (p Position) Closed() bool {
	return len(p.Collateral) == 0 && len(p.Debt) == 0
}

func cloneAssets(in []AssetAmount) []AssetAmount {
	if in == nil {
		return nil
	}
	out := make([]AssetAmount, len(in))
	for i, a := range in {
		out[i] = a
		out[i].Amount = cloneBig(a.Amount)
	}
	return out
}
