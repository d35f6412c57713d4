package gas

import (
	"log/slog"
	"math/big"
	"testing"

	"github.com/arbiterlabs/mevscan/internal/domain"
)

func gwei(n int64) *big.Int { return new(big.Int).Mul(big.NewInt(n), big.NewInt(1e9)) }

func observeBlocks(o *Optimizer) {
	// Tips 1..10 gwei across two blocks, base fee 20 gwei on the latest.
	o.Observe(domain.FeeSample{
		Block:   100,
		BaseFee: gwei(18),
		Tips:    []*big.Int{gwei(1), gwei(2), gwei(3), gwei(4), gwei(5)},
	})
	o.Observe(domain.FeeSample{
		Block:   101,
		BaseFee: gwei(20),
		Tips:    []*big.Int{gwei(6), gwei(7), gwei(8), gwei(9), gwei(10)},
	})
}

func TestSuggestFee_PercentileTarget(t *testing.T) {
	o := NewOptimizer(Config{WindowBlocks: 10, TargetPercentile: 0.50}, slog.Default())
	observeBlocks(o)

	bid := o.SuggestFee(domain.UrgencyNormal)
	// 50th percentile of 10 tips picks index 5 -> 6 gwei.
	if bid.PriorityFee.Cmp(gwei(6)) != 0 {
		t.Errorf("priority fee = %s, want 6 gwei", bid.PriorityFee)
	}
	// maxFee = 2*20 + 6 = 46 gwei.
	if bid.MaxFee.Cmp(gwei(46)) != 0 {
		t.Errorf("max fee = %s, want 46 gwei", bid.MaxFee)
	}
}

func TestSuggestFee_UrgencyShiftsPercentile(t *testing.T) {
	o := NewOptimizer(Config{WindowBlocks: 10, TargetPercentile: 0.50, UrgencyStep: 0.20}, slog.Default())
	observeBlocks(o)

	normal := o.SuggestFee(domain.UrgencyNormal)
	critical := o.SuggestFee(domain.UrgencyCritical)
	if critical.PriorityFee.Cmp(normal.PriorityFee) <= 0 {
		t.Errorf("critical tip %s should exceed normal tip %s", critical.PriorityFee, normal.PriorityFee)
	}
	if critical.Percentile <= normal.Percentile {
		t.Errorf("critical percentile %v should exceed normal %v", critical.Percentile, normal.Percentile)
	}

	low := o.SuggestFee(domain.UrgencyLow)
	if low.PriorityFee.Cmp(normal.PriorityFee) > 0 {
		t.Errorf("low tip %s should not exceed normal tip %s", low.PriorityFee, normal.PriorityFee)
	}
}

func TestSuggestFee_EmptyHistoryUsesFloors(t *testing.T) {
	o := NewOptimizer(Config{FloorTip: gwei(2), FloorMaxFee: gwei(40)}, slog.Default())
	bid := o.SuggestFee(domain.UrgencyNormal)
	if bid.PriorityFee.Cmp(gwei(2)) != 0 || bid.MaxFee.Cmp(gwei(40)) != 0 {
		t.Errorf("floor bid = (%s, %s), want (2, 40) gwei", bid.PriorityFee, bid.MaxFee)
	}
}

func TestObserve_WindowEviction(t *testing.T) {
	o := NewOptimizer(Config{WindowBlocks: 2, TargetPercentile: 0.90}, slog.Default())
	o.Observe(domain.FeeSample{Block: 1, BaseFee: gwei(10), Tips: []*big.Int{gwei(100)}})
	o.Observe(domain.FeeSample{Block: 2, BaseFee: gwei(10), Tips: []*big.Int{gwei(1)}})
	o.Observe(domain.FeeSample{Block: 3, BaseFee: gwei(10), Tips: []*big.Int{gwei(2)}})

	// The 100 gwei outlier from block 1 must have been evicted.
	bid := o.SuggestFee(domain.UrgencyNormal)
	if bid.PriorityFee.Cmp(gwei(2)) != 0 {
		t.Errorf("priority fee = %s, want 2 gwei after eviction", bid.PriorityFee)
	}
}
