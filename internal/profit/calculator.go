// Package profit turns a simulation result into a scored opportunity. All
// revenue and cost arithmetic is exact big.Int wei; confidence alone is a
// float, since it is a ranking heuristic rather than money.
package profit

import (
	"fmt"
	"log/slog"
	"math/big"

	"github.com/arbiterlabs/mevscan/internal/domain"
)

// Config tunes the scoring haircuts.
type Config struct {
	// SlippageBufferBps shaves a margin off gross revenue to absorb pool
	// drift between detection and inclusion.
	SlippageBufferBps uint32
	// CompetitionDecay scales confidence down per rival pending transaction
	// touching the same pools.
	CompetitionDecay float64
}

// DefaultConfig returns the scoring defaults.
func DefaultConfig() Config {
	return Config{
		SlippageBufferBps: 10,
		CompetitionDecay:  0.85,
	}
}

// Calculator scores simulated opportunities. Stateless, safe for concurrent
// use.
type Calculator struct {
	cfg    Config
	logger *slog.Logger
}

// New creates a Calculator.
func New(cfg Config, logger *slog.Logger) *Calculator {
	if cfg.CompetitionDecay <= 0 || cfg.CompetitionDecay > 1 {
		cfg.CompetitionDecay = 0.85
	}
	return &Calculator{cfg: cfg, logger: logger.With(slog.String("component", "profit"))}
}

// Score computes net profit and confidence for an opportunity from its
// simulation result and the fee bid it would pay.
//
//	net = gross - gasUsed*effectiveGasPrice - slippageBuffer
//
// gross is the simulated net token flow when the bundle's legs cancel to a
// single token, and the scanner's price-valued estimate otherwise. Token
// deltas already carry every in-bundle cost, including flash loan repayments
// with their fee, so no separate fee term appears here.
//
// The result must come from the opportunity's own snapshot; mixing snapshots
// returns domain.ErrSnapshotMismatch. A net profit of zero or below returns
// domain.ErrUnprofitable. rivals is the count of pending transactions touching
// the same pools.
func (c *Calculator) Score(
	opp domain.Opportunity,
	res domain.SimulationResult,
	bid domain.FeeBid,
	snap domain.ChainSnapshot,
	rivals int,
) (domain.Opportunity, error) {
	if res.SnapshotBlock != opp.SnapshotBlock {
		return opp, fmt.Errorf("score %s: result block %d vs detection block %d: %w",
			opp.Key, res.SnapshotBlock, opp.SnapshotBlock, domain.ErrSnapshotMismatch)
	}
	if !res.Success {
		opp.Status = domain.OppInvalid
		return opp, fmt.Errorf("score %s: simulation reverted: %s", opp.Key, res.RevertReason)
	}

	gross, ok := grossRevenue(res)
	if !ok || (gross.Sign() == 0 && opp.GrossRevenue != nil) {
		// Cross-token flows (a bare liquidation repaying one asset to seize
		// another) and protective bundles that move no tokens are valued by
		// the scanner's price-based estimate; unit amounts of different
		// tokens must never be summed.
		if opp.GrossRevenue == nil {
			opp.Status = domain.OppInvalid
			return opp, fmt.Errorf("score %s: cross-token revenue without a detection estimate: %w",
				opp.Key, domain.ErrUnprofitable)
		}
		gross = new(big.Int).Set(opp.GrossRevenue)
	}
	gasCost := new(big.Int).Mul(
		new(big.Int).SetUint64(res.GasUsed),
		bid.EffectivePrice(snap.BaseFee),
	)
	buffer := new(big.Int)
	if gross.Sign() > 0 {
		buffer.Mul(gross, big.NewInt(int64(c.cfg.SlippageBufferBps)))
		buffer.Quo(buffer, big.NewInt(10000))
	}

	net := new(big.Int).Sub(gross, gasCost)
	net.Sub(net, buffer)

	opp.GrossRevenue = gross
	opp.GasCost = gasCost
	opp.GasUsed = res.GasUsed
	opp.NetProfit = net

	if net.Sign() <= 0 {
		opp.Status = domain.OppInvalid
		return opp, fmt.Errorf("score %s: net %s wei: %w", opp.Key, net, domain.ErrUnprofitable)
	}

	opp.Confidence = c.confidence(opp, snap, rivals)
	opp.Status = domain.OppScored

	c.logger.Debug("opportunity scored",
		slog.String("key", opp.Key),
		slog.String("net_profit", net.String()),
		slog.Uint64("gas_used", res.GasUsed),
		slog.Float64("confidence", opp.Confidence),
	)
	return opp, nil
}

// confidence multiplies the scanner's prior by the fraction of the validity
// window still open and a decay per rival transaction.
func (c *Calculator) confidence(opp domain.Opportunity, snap domain.ChainSnapshot, rivals int) float64 {
	conf := opp.Confidence
	if conf <= 0 || conf > 1 {
		conf = 1
	}

	if opp.ValidUntil > opp.ValidFrom {
		window := float64(opp.ValidUntil - opp.ValidFrom)
		var elapsed float64
		if snap.Number > opp.ValidFrom {
			elapsed = float64(snap.Number - opp.ValidFrom)
		}
		remaining := (window - elapsed) / window
		if remaining < 0 {
			remaining = 0
		}
		conf *= remaining
	}

	for i := 0; i < rivals; i++ {
		conf *= c.cfg.CompetitionDecay
	}
	return conf
}

// grossRevenue nets the simulation's token deltas when the net flow resolves
// to a single token, which covers cycles and flash-wrapped bundles whose
// intermediate legs cancel out. ok is false when nonzero deltas remain in more
// than one token; those cannot be valued from unit amounts and Score falls
// back to the scanner's price-based estimate.
func grossRevenue(res domain.SimulationResult) (*big.Int, bool) {
	gross := new(big.Int)
	var tokens int
	for _, d := range res.TokenDeltas {
		if d.Sign() == 0 {
			continue
		}
		tokens++
		gross.Add(gross, d)
	}
	if tokens > 1 {
		return nil, false
	}
	return gross, true
}
