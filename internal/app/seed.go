package app

import (
	"encoding/json"
	"fmt"
	"math/big"
	"os"

	"github.com/ethereum/go-ethereum/common"

	"github.com/arbiterlabs/mevscan/internal/domain"
)

// seedPool is the JSON shape of one tracked pool in the pools file. Reserve
// and price fields are decimal strings since wei amounts overflow JSON
// numbers.
type seedPool struct {
	Address       string `json:"address"`
	Kind          string `json:"kind"`
	Token0        string `json:"token0"`
	Token1        string `json:"token1"`
	FeeBps        uint32 `json:"fee_bps"`
	Reserve0      string `json:"reserve0,omitempty"`
	Reserve1      string `json:"reserve1,omitempty"`
	Amplification uint64 `json:"amplification,omitempty"`
	SqrtPriceX96  string `json:"sqrt_price_x96,omitempty"`
	Liquidity     string `json:"liquidity,omitempty"`
	Tick          int32  `json:"tick,omitempty"`
}

// seedAsset is one asset leg of a seeded lending position.
type seedAsset struct {
	Token    string  `json:"token"`
	Amount   string  `json:"amount"`
	Decimals uint8   `json:"decimals"`
	Weight   float64 `json:"weight"`
}

// seedPosition is the JSON shape of one tracked lending position.
type seedPosition struct {
	Protocol             string      `json:"protocol"`
	Borrower             string      `json:"borrower"`
	Collateral           []seedAsset `json:"collateral"`
	Debt                 []seedAsset `json:"debt"`
	LiquidationThreshold float64     `json:"liquidation_threshold"`
	BonusBps             uint32      `json:"bonus_bps"`
}

// loadPoolSeed reads the tracked pool universe from a JSON file. An empty
// path yields an empty seed; the cache then fills from pool_created updates.
func loadPoolSeed(path string) ([]domain.PoolState, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading pools file: %w", err)
	}
	var rows []seedPool
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("parsing pools file %s: %w", path, err)
	}

	pools := make([]domain.PoolState, 0, len(rows))
	for i, row := range rows {
		p := domain.PoolState{
			Address: common.HexToAddress(row.Address),
			Kind:    domain.PoolKind(row.Kind),
			Token0:  common.HexToAddress(row.Token0),
			Token1:  common.HexToAddress(row.Token1),
			FeeBps:  row.FeeBps,

			Amplification: row.Amplification,
			Tick:          row.Tick,
		}
		switch p.Kind {
		case domain.PoolConstantProduct, domain.PoolStableSwap, domain.PoolConcentrated:
		default:
			return nil, fmt.Errorf("pools file %s entry %d: unknown kind %q", path, i, row.Kind)
		}
		if p.Reserve0, err = parseSeedWei(row.Reserve0); err != nil {
			return nil, fmt.Errorf("pools file %s entry %d reserve0: %w", path, i, err)
		}
		if p.Reserve1, err = parseSeedWei(row.Reserve1); err != nil {
			return nil, fmt.Errorf("pools file %s entry %d reserve1: %w", path, i, err)
		}
		if p.SqrtPriceX96, err = parseSeedWei(row.SqrtPriceX96); err != nil {
			return nil, fmt.Errorf("pools file %s entry %d sqrt_price_x96: %w", path, i, err)
		}
		if p.Liquidity, err = parseSeedWei(row.Liquidity); err != nil {
			return nil, fmt.Errorf("pools file %s entry %d liquidity: %w", path, i, err)
		}
		pools = append(pools, p)
	}
	return pools, nil
}

// loadPositionSeed reads the tracked lending positions from a JSON file.
func loadPositionSeed(path string) ([]domain.Position, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading positions file: %w", err)
	}
	var rows []seedPosition
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("parsing positions file %s: %w", path, err)
	}

	positions := make([]domain.Position, 0, len(rows))
	for i, row := range rows {
		pos := domain.Position{
			Protocol:             row.Protocol,
			Borrower:             common.HexToAddress(row.Borrower),
			LiquidationThreshold: row.LiquidationThreshold,
			BonusBps:             row.BonusBps,
		}
		if pos.Collateral, err = parseSeedAssets(row.Collateral); err != nil {
			return nil, fmt.Errorf("positions file %s entry %d collateral: %w", path, i, err)
		}
		if pos.Debt, err = parseSeedAssets(row.Debt); err != nil {
			return nil, fmt.Errorf("positions file %s entry %d debt: %w", path, i, err)
		}
		positions = append(positions, pos)
	}
	return positions, nil
}

func parseSeedAssets(rows []seedAsset) ([]domain.AssetAmount, error) {
	if len(rows) == 0 {
		return nil, nil
	}
	out := make([]domain.AssetAmount, len(rows))
	for i, row := range rows {
		amount, err := parseSeedWei(row.Amount)
		if err != nil {
			return nil, fmt.Errorf("asset %s: %w", row.Token, err)
		}
		out[i] = domain.AssetAmount{
			Token:    common.HexToAddress(row.Token),
			Amount:   amount,
			Decimals: row.Decimals,
			Weight:   row.Weight,
		}
	}
	return out, nil
}

func parseSeedWei(s string) (*big.Int, error) {
	if s == "" {
		return nil, nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid decimal amount %q", s)
	}
	return v, nil
}
