// Package gas computes fee bids from recent block fee history. The optimizer
// keeps a bounded window of base fees and included priority fees and picks a
// tip at a configurable inclusion percentile; urgency shifts the percentile
// target upward, trading cost for speed.
package gas

import (
	"log/slog"
	"math/big"
	"sort"
	"sync"

	"github.com/arbiterlabs/mevscan/internal/domain"
)

// Config holds the optimizer's tunables.
type Config struct {
	// WindowBlocks is how many recent blocks of fee samples to retain.
	WindowBlocks int
	// TargetPercentile is the inclusion percentile for UrgencyNormal,
	// in (0, 1).
	TargetPercentile float64
	// UrgencyStep is added to the percentile per urgency level above
	// normal (and subtracted below), clamped to [0.05, 0.99].
	UrgencyStep float64
	// FloorTip and FloorMaxFee are used while the window is empty.
	FloorTip    *big.Int
	FloorMaxFee *big.Int
}

// Optimizer is safe for concurrent use.
type Optimizer struct {
	mu      sync.Mutex
	cfg     Config
	samples []domain.FeeSample // ring ordered oldest first
	logger  *slog.Logger
}

// NewOptimizer creates an Optimizer. Zero config fields fall back to a
// 20-block window, the 60th percentile and a 0.05 urgency step.
func NewOptimizer(cfg Config, logger *slog.Logger) *Optimizer {
	if cfg.WindowBlocks <= 0 {
		cfg.WindowBlocks = 20
	}
	if cfg.TargetPercentile <= 0 || cfg.TargetPercentile >= 1 {
		cfg.TargetPercentile = 0.60
	}
	if cfg.UrgencyStep <= 0 {
		cfg.UrgencyStep = 0.05
	}
	if cfg.FloorTip == nil {
		cfg.FloorTip = big.NewInt(1_000_000_000) // 1 gwei
	}
	if cfg.FloorMaxFee == nil {
		cfg.FloorMaxFee = big.NewInt(30_000_000_000)
	}
	return &Optimizer{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "gas_optimizer")),
	}
}

// Observe records one block's fee sample, evicting the oldest once the
// window is full.
func (o *Optimizer) Observe(s domain.FeeSample) {
	if s.BaseFee == nil {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.samples = append(o.samples, s)
	if overflow := len(o.samples) - o.cfg.WindowBlocks; overflow > 0 {
		o.samples = append([]domain.FeeSample(nil), o.samples[overflow:]...)
	}
}

// SuggestFee returns a fee bid targeting the configured inclusion percentile
// shifted by urgency. With no history it returns the configured floors.
func (o *Optimizer) SuggestFee(urgency domain.Urgency) domain.FeeBid {
	o.mu.Lock()
	defer o.mu.Unlock()

	pct := o.percentileFor(urgency)
	if len(o.samples) == 0 {
		return domain.FeeBid{
			MaxFee:      new(big.Int).Set(o.cfg.FloorMaxFee),
			PriorityFee: new(big.Int).Set(o.cfg.FloorTip),
			Percentile:  pct,
		}
	}

	var tips []*big.Int
	for _, s := range o.samples {
		tips = append(tips, s.Tips...)
	}
	latestBase := o.samples[len(o.samples)-1].BaseFee

	tip := o.cfg.FloorTip
	if len(tips) > 0 {
		sort.Slice(tips, func(i, j int) bool { return tips[i].Cmp(tips[j]) < 0 })
		idx := int(pct * float64(len(tips)))
		if idx >= len(tips) {
			idx = len(tips) - 1
		}
		tip = tips[idx]
		if tip.Cmp(o.cfg.FloorTip) < 0 {
			tip = o.cfg.FloorTip
		}
	}

	// maxFee = 2*base + tip absorbs one full base-fee doubling.
	maxFee := new(big.Int).Lsh(latestBase, 1)
	maxFee.Add(maxFee, tip)

	return domain.FeeBid{
		MaxFee:      maxFee,
		PriorityFee: new(big.Int).Set(tip),
		Percentile:  pct,
	}
}

func (o *Optimizer) percentileFor(urgency domain.Urgency) float64 {
	pct := o.cfg.TargetPercentile + float64(urgency-domain.UrgencyNormal)*o.cfg.UrgencyStep
	if pct < 0.05 {
		pct = 0.05
	}
	if pct > 0.99 {
		pct = 0.99
	}
	return pct
}
