package scanner

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/arbiterlabs/mevscan/internal/domain"
	"github.com/arbiterlabs/mevscan/internal/state"
)

// LiquidationConfig tunes candidacy and bundle construction.
type LiquidationConfig struct {
	// SafetyBufferBps lowers the effective candidacy threshold below the
	// protocol's, so borderline positions that a small price move would heal
	// are not chased. Zero means candidacy exactly at the protocol threshold.
	SafetyBufferBps uint32
	// CloseFactorBps is the share of the chosen debt asset repaid in one
	// liquidation, 5000 for the common half-close rule.
	CloseFactorBps uint32
	// FlashFeeBps is the flash-loan fee used when the repayment is borrowed.
	FlashFeeBps    uint32
	ValidityBlocks uint64
	BaseTxGas      uint64
	SwapGas        uint64
	LiquidateGas   uint64
	FlashGas       uint64
	BaseConfidence float64
}

// DefaultLiquidationConfig returns the monitor defaults.
func DefaultLiquidationConfig() LiquidationConfig {
	return LiquidationConfig{
		CloseFactorBps: 5000,
		FlashFeeBps:    9,
		ValidityBlocks: 3,
		BaseTxGas:      21000,
		SwapGas:        120000,
		LiquidateGas:   300000,
		FlashGas:       40000,
		BaseConfidence: 0.85,
	}
}

// LiquidationMonitor re-evaluates every tracked lending position on each
// confirmed block and emits a candidate for each position whose health factor
// sits below its protocol threshold. A position leaves candidacy when it is
// repaid, fully liquidated, or its health factor recovers.
type LiquidationMonitor struct {
	cfg    LiquidationConfig
	prices domain.PriceSource
	live   LiveFunc
	logger *slog.Logger

	// candidates tracks which positions were below threshold on the previous
	// scan, for transition logging only.
	candidates map[string]bool
}

// NewLiquidationMonitor creates the monitor.
func NewLiquidationMonitor(cfg LiquidationConfig, prices domain.PriceSource, live LiveFunc, logger *slog.Logger) *LiquidationMonitor {
	if cfg.CloseFactorBps == 0 || cfg.CloseFactorBps > 10000 {
		cfg.CloseFactorBps = 5000
	}
	if cfg.ValidityBlocks == 0 {
		cfg.ValidityBlocks = 3
	}
	return &LiquidationMonitor{
		cfg:        cfg,
		prices:     prices,
		live:       live,
		logger:     logger.With(slog.String("component", "liquidation_monitor")),
		candidates: make(map[string]bool),
	}
}

func (m *LiquidationMonitor) Name() string              { return "liquidation" }
func (m *LiquidationMonitor) Kind() domain.StrategyKind { return domain.StrategyLiquidation }

// OnPendingTx is a no-op; candidacy depends on committed positions and prices.
func (m *LiquidationMonitor) OnPendingTx(context.Context, domain.PendingTransaction, domain.ChainSnapshot) ([]domain.Opportunity, error) {
	return nil, nil
}

// OnBlock recomputes every position's health factor from current prices and
// emits candidates for those below threshold.
func (m *LiquidationMonitor) OnBlock(ctx context.Context, snap domain.ChainSnapshot, pools *state.PoolView, positions *state.PositionView) ([]domain.Opportunity, error) {
	var out []domain.Opportunity
	var scanErr error

	positions.Each(func(pos domain.Position) {
		if scanErr != nil || pos.Closed() {
			return
		}
		hf, err := m.HealthFactor(ctx, pos)
		if err != nil {
			m.logger.Warn("health factor unavailable",
				slog.String("position", pos.Key()),
				slog.String("error", err.Error()),
			)
			return
		}

		threshold := pos.LiquidationThreshold * (1 - float64(m.cfg.SafetyBufferBps)/10000)
		below := hf < threshold
		if was := m.candidates[pos.Key()]; was != below {
			m.candidates[pos.Key()] = below
			m.logger.Info("position candidacy changed",
				slog.String("position", pos.Key()),
				slog.Float64("health_factor", hf),
				slog.Bool("candidate", below),
			)
		}
		if !below {
			return
		}

		key := "liq:" + pos.Key()
		if m.live != nil && m.live(key) {
			return
		}
		opp, err := m.buildCandidate(ctx, key, pos, hf, snap, pools)
		if err != nil {
			m.logger.Warn("skipping liquidation candidate",
				slog.String("position", pos.Key()),
				slog.String("error", err.Error()),
			)
			return
		}
		out = append(out, opp)
	})
	return out, scanErr
}

// HealthFactor computes weighted collateral value over weighted debt value at
// current prices. A position with no debt is infinitely healthy.
func (m *LiquidationMonitor) HealthFactor(ctx context.Context, pos domain.Position) (float64, error) {
	collateral, err := m.weightedValue(ctx, pos.Collateral, true)
	if err != nil {
		return 0, err
	}
	debt, err := m.weightedValue(ctx, pos.Debt, false)
	if err != nil {
		return 0, err
	}
	if debt == 0 {
		return float64(^uint(0) >> 1), nil
	}
	return collateral / debt, nil
}

// weightedValue sums price*amount*weight over the asset legs. Collateral is
// discounted by its weight, debt scaled up by dividing.
func (m *LiquidationMonitor) weightedValue(ctx context.Context, assets []domain.AssetAmount, collateral bool) (float64, error) {
	var total float64
	for _, a := range assets {
		price, err := m.prices.GetPrice(ctx, a.Token)
		if err != nil {
			return 0, fmt.Errorf("price for %s: %w", a.Token.Hex(), err)
		}
		value := price * wholeUnits(a.Amount, a.Decimals)
		w := a.Weight
		if w <= 0 {
			w = 1
		}
		if collateral {
			total += value * w
		} else {
			total += value / w
		}
	}
	return total, nil
}

// buildCandidate picks the largest debt leg to repay and the largest
// collateral leg to seize, prices the seize amount including the protocol
// bonus, and wraps the repayment in a flash loan when a direct pool exists to
// convert the seized asset back.
func (m *LiquidationMonitor) buildCandidate(
	ctx context.Context,
	key string,
	pos domain.Position,
	hf float64,
	snap domain.ChainSnapshot,
	pools *state.PoolView,
) (domain.Opportunity, error) {
	debtLeg, err := m.largestLeg(ctx, pos.Debt)
	if err != nil {
		return domain.Opportunity{}, err
	}
	seizeLeg, err := m.largestLeg(ctx, pos.Collateral)
	if err != nil {
		return domain.Opportunity{}, err
	}

	repay := new(big.Int).Mul(debtLeg.Amount, big.NewInt(int64(m.cfg.CloseFactorBps)))
	repay.Quo(repay, big.NewInt(10000))
	if repay.Sign() <= 0 {
		return domain.Opportunity{}, fmt.Errorf("position %s: nothing to repay", pos.Key())
	}

	debtPrice, err := m.prices.GetPrice(ctx, debtLeg.Token)
	if err != nil {
		return domain.Opportunity{}, err
	}
	seizePrice, err := m.prices.GetPrice(ctx, seizeLeg.Token)
	if err != nil {
		return domain.Opportunity{}, err
	}
	if seizePrice <= 0 {
		return domain.Opportunity{}, fmt.Errorf("position %s: no price for seized asset", pos.Key())
	}

	// Seize value = repay value * (1 + bonus), converted into seize-token
	// units at current prices. Precomputed here so replay needs no prices.
	repayValue := wholeUnits(repay, debtLeg.Decimals) * debtPrice
	seizeValue := repayValue * (1 + float64(pos.BonusBps)/10000)
	seize := tokenUnits(seizeValue/seizePrice, seizeLeg.Decimals)
	if seize.Cmp(seizeLeg.Amount) > 0 {
		seize = new(big.Int).Set(seizeLeg.Amount)
	}

	gross := tokenUnits(seizeValue-repayValue, 18)
	if gross.Sign() <= 0 {
		return domain.Opportunity{}, fmt.Errorf("position %s: no bonus margin", pos.Key())
	}

	liquidate := domain.Step{
		Kind:        domain.StepLiquidate,
		Gas:         m.cfg.LiquidateGas,
		Protocol:    pos.Protocol,
		Borrower:    pos.Borrower,
		DebtToken:   debtLeg.Token,
		RepayAmount: repay,
		SeizeToken:  seizeLeg.Token,
		SeizeAmount: seize,
	}

	var steps []domain.Step
	var flashBorrowed *big.Int
	if conv, ok := directPool(pools, seizeLeg.Token, debtLeg.Token); ok {
		flashBorrowed = repay
		steps = []domain.Step{
			{Kind: domain.StepFlashBorrow, Gas: m.cfg.FlashGas, Token: debtLeg.Token, Amount: repay, FeeBps: m.cfg.FlashFeeBps},
			liquidate,
			{
				Kind: domain.StepSwap, Gas: m.cfg.SwapGas,
				Pool: conv, TokenIn: seizeLeg.Token, TokenOut: debtLeg.Token,
				AmountIn: seize,
			},
			{Kind: domain.StepFlashRepay, Gas: m.cfg.FlashGas, Token: debtLeg.Token, Amount: repay, FeeBps: m.cfg.FlashFeeBps},
		}
	} else {
		// No conversion pool tracked; the dispatcher fronts the repayment.
		steps = []domain.Step{liquidate}
	}

	urgency := domain.UrgencyHigh
	if hf < 0.95 {
		urgency = domain.UrgencyCritical
	}

	touched := make([]common.Address, 0, 1)
	for _, s := range steps {
		if s.Kind == domain.StepSwap {
			touched = append(touched, s.Pool)
		}
	}

	return domain.Opportunity{
		ID:            uuid.NewString(),
		Key:           key,
		Strategy:      domain.StrategyLiquidation,
		SnapshotBlock: snap.Number,
		ValidFrom:     snap.Number,
		ValidUntil:    snap.Number + m.cfg.ValidityBlocks,
		GrossRevenue:  gross,
		FlashBorrowed: flashBorrowed,
		Confidence:    m.cfg.BaseConfidence,
		Urgency:       urgency,
		CreatedAt:     time.Now().UTC(),
		Status:        domain.OppDetected,
		Bundle: domain.Bundle{
			TargetBlock: snap.Number + 1,
			Txs: []domain.BundleTx{{
				BaseGas: m.cfg.BaseTxGas,
				Steps:   steps,
			}},
		},
		Pools: touched,
	}, nil
}

// largestLeg returns the asset leg with the highest current value.
func (m *LiquidationMonitor) largestLeg(ctx context.Context, assets []domain.AssetAmount) (domain.AssetAmount, error) {
	var best domain.AssetAmount
	var bestValue float64 = -1
	for _, a := range assets {
		price, err := m.prices.GetPrice(ctx, a.Token)
		if err != nil {
			return domain.AssetAmount{}, fmt.Errorf("price for %s: %w", a.Token.Hex(), err)
		}
		value := price * wholeUnits(a.Amount, a.Decimals)
		if value > bestValue {
			best, bestValue = a, value
		}
	}
	if bestValue < 0 {
		return domain.AssetAmount{}, fmt.Errorf("empty asset set")
	}
	return best, nil
}

// directPool finds any tracked pool pairing the two tokens.
func directPool(pools *state.PoolView, a, b common.Address) (common.Address, bool) {
	var found common.Address
	var ok bool
	pools.Each(func(p domain.PoolState) {
		if ok {
			return
		}
		if (p.Token0 == a && p.Token1 == b) || (p.Token0 == b && p.Token1 == a) {
			found, ok = p.Address, true
		}
	})
	return found, ok
}

// wholeUnits converts a token amount to whole-unit floats for valuation.
func wholeUnits(amount *big.Int, decimals uint8) float64 {
	if amount == nil {
		return 0
	}
	f, _ := new(big.Float).Quo(
		new(big.Float).SetInt(amount),
		big.NewFloat(pow10(decimals)),
	).Float64()
	return f
}

// tokenUnits converts a whole-unit value back to token units.
func tokenUnits(value float64, decimals uint8) *big.Int {
	if value <= 0 {
		return new(big.Int)
	}
	out, _ := new(big.Float).Mul(
		big.NewFloat(value),
		big.NewFloat(pow10(decimals)),
	).Int(nil)
	return out
}

func pow10(decimals uint8) float64 {
	out := 1.0
	for i := uint8(0); i < decimals; i++ {
		out *= 10
	}
	return out
}
