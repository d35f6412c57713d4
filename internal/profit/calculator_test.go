package profit

import (
	"errors"
	"log/slog"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/arbiterlabs/mevscan/internal/domain"
)

var weth = common.HexToAddress("0x10")

func scoredFixture() (domain.Opportunity, domain.SimulationResult, domain.FeeBid, domain.ChainSnapshot) {
	opp := domain.Opportunity{
		Key:           "arb:test",
		Strategy:      domain.StrategyArbitrage,
		SnapshotBlock: 100,
		ValidFrom:     100,
		ValidUntil:    104,
		Confidence:    1.0,
	}
	res := domain.SimulationResult{
		Success:       true,
		GasUsed:       200_000,
		SnapshotBlock: 100,
		TokenDeltas: map[common.Address]*big.Int{
			weth: big.NewInt(50_000_000),
		},
	}
	bid := domain.FeeBid{
		MaxFee:      big.NewInt(100),
		PriorityFee: big.NewInt(5),
	}
	snap := domain.ChainSnapshot{Number: 100, BaseFee: big.NewInt(30)}
	return opp, res, bid, snap
}

func TestScore_ExactArithmetic(t *testing.T) {
	calc := New(Config{SlippageBufferBps: 0, CompetitionDecay: 0.85}, slog.Default())
	opp, res, bid, snap := scoredFixture()

	got, err := calc.Score(opp, res, bid, snap, 0)
	if err != nil {
		t.Fatalf("Score: %v", err)
	}

	// gross 50_000_000, gas 200_000 * (30+5) = 7_000_000, no flash fee.
	want := big.NewInt(50_000_000 - 200_000*35)
	if got.NetProfit.Cmp(want) != 0 {
		t.Errorf("net profit = %s, want exactly %s", got.NetProfit, want)
	}
	if got.GasCost.Int64() != 7_000_000 {
		t.Errorf("gas cost = %s, want 7000000", got.GasCost)
	}
	if got.Status != domain.OppScored {
		t.Errorf("status = %s, want scored", got.Status)
	}
}

func TestScore_FlashFeeChargedOnce(t *testing.T) {
	calc := New(Config{SlippageBufferBps: 0, CompetitionDecay: 0.85}, slog.Default())
	opp, res, bid, snap := scoredFixture()
	// The simulator already debits principal plus fee at the repay step, so
	// the 9000 wei fee is inside the delta. Scoring must not charge it again
	// off the borrow step in the bundle.
	opp.Bundle = domain.Bundle{Txs: []domain.BundleTx{{
		Steps: []domain.Step{
			{Kind: domain.StepFlashBorrow, Token: weth, Amount: big.NewInt(10_000_000), FeeBps: 9},
			{Kind: domain.StepFlashRepay, Token: weth, Amount: big.NewInt(10_000_000), FeeBps: 9},
		},
	}}}
	res.TokenDeltas = map[common.Address]*big.Int{
		weth: big.NewInt(50_000_000 - 9000),
	}

	got, err := calc.Score(opp, res, bid, snap, 0)
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	want := big.NewInt(50_000_000 - 9000 - 200_000*35)
	if got.NetProfit.Cmp(want) != 0 {
		t.Errorf("net profit = %s, want exactly %s", got.NetProfit, want)
	}
}

func TestScore_LiquidationUsesValueEstimate(t *testing.T) {
	calc := New(Config{SlippageBufferBps: 0, CompetitionDecay: 0.85}, slog.Default())
	opp, res, bid, snap := scoredFixture()
	opp.Strategy = domain.StrategyLiquidation

	// Unwrapped liquidation: repay 70 units of debt, seize 73 of collateral.
	// The deltas sit in two different tokens, so the monitor's price-valued
	// bonus margin is the revenue, not any sum of unit amounts.
	debt := common.HexToAddress("0x20")
	seized := common.HexToAddress("0x21")
	res.GasUsed = 0
	res.TokenDeltas = map[common.Address]*big.Int{
		debt:   big.NewInt(-70_000_000),
		seized: big.NewInt(73_000_000),
	}
	opp.GrossRevenue = big.NewInt(3_000_000)

	got, err := calc.Score(opp, res, bid, snap, 0)
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	want := big.NewInt(3_000_000)
	if got.NetProfit.Cmp(want) != 0 {
		t.Errorf("net profit = %s, want exactly %s", got.NetProfit, want)
	}
	if got.GrossRevenue.Cmp(want) != 0 {
		t.Errorf("gross revenue = %s, want %s", got.GrossRevenue, want)
	}
}

func TestScore_CrossDecimalDeltasNeverSummed(t *testing.T) {
	calc := New(Config{SlippageBufferBps: 0, CompetitionDecay: 0.85}, slog.Default())
	opp, res, bid, snap := scoredFixture()
	opp.Strategy = domain.StrategyLiquidation

	// A bare liquidation repaying 140 USDC (6 decimals) to seize 0.04 WETH
	// (18 decimals). Summing the raw units would read as ~0.04 ETH of profit;
	// the detection estimate knows the margin is tiny.
	usdc := common.HexToAddress("0x22")
	res.GasUsed = 0
	res.TokenDeltas = map[common.Address]*big.Int{
		usdc: big.NewInt(-140_000_000),
		weth: big.NewInt(40_000_000_000_000_000),
	}
	opp.GrossRevenue = big.NewInt(2_000_000_000_000_000) // 0.002 ETH margin at detection prices

	got, err := calc.Score(opp, res, bid, snap, 0)
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if got.NetProfit.Cmp(opp.GrossRevenue) != 0 {
		t.Errorf("net profit = %s, want the estimate %s", got.NetProfit, opp.GrossRevenue)
	}
	if got.NetProfit.Cmp(big.NewInt(40_000_000_000_000_000)) >= 0 {
		t.Error("net profit tracked the raw WETH delta, units were summed across tokens")
	}

	// Without an estimate the candidate cannot be valued at all.
	opp.GrossRevenue = nil
	if _, err := calc.Score(opp, res, bid, snap, 0); !errors.Is(err, domain.ErrUnprofitable) {
		t.Errorf("no-estimate score = %v, want ErrUnprofitable", err)
	}
}

func TestScore_Unprofitable(t *testing.T) {
	calc := New(DefaultConfig(), slog.Default())
	opp, res, bid, snap := scoredFixture()
	res.TokenDeltas[weth] = big.NewInt(1000) // far below the gas cost

	got, err := calc.Score(opp, res, bid, snap, 0)
	if !errors.Is(err, domain.ErrUnprofitable) {
		t.Fatalf("err = %v, want ErrUnprofitable", err)
	}
	if got.Status != domain.OppInvalid {
		t.Errorf("status = %s, want invalid", got.Status)
	}
	if got.NetProfit.Sign() > 0 {
		t.Errorf("net profit = %s, should not be positive", got.NetProfit)
	}
}

func TestScore_SnapshotMismatch(t *testing.T) {
	calc := New(DefaultConfig(), slog.Default())
	opp, res, bid, snap := scoredFixture()
	res.SnapshotBlock = 99

	if _, err := calc.Score(opp, res, bid, snap, 0); !errors.Is(err, domain.ErrSnapshotMismatch) {
		t.Fatalf("err = %v, want ErrSnapshotMismatch", err)
	}
}

func TestScore_RevertedSimulation(t *testing.T) {
	calc := New(DefaultConfig(), slog.Default())
	opp, res, bid, snap := scoredFixture()
	res.Success = false
	res.RevertReason = "output below minimum"

	got, err := calc.Score(opp, res, bid, snap, 0)
	if err == nil {
		t.Fatal("expected error for reverted simulation")
	}
	if got.Status != domain.OppInvalid {
		t.Errorf("status = %s, want invalid", got.Status)
	}
}

func TestScore_ConfidenceDecay(t *testing.T) {
	calc := New(Config{SlippageBufferBps: 0, CompetitionDecay: 0.5}, slog.Default())

	opp, res, bid, snap := scoredFixture()
	fresh, err := calc.Score(opp, res, bid, snap, 0)
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if fresh.Confidence != 1.0 {
		t.Errorf("full-window confidence = %f, want 1.0", fresh.Confidence)
	}

	// Half the window elapsed halves the confidence.
	snap.Number = 102
	opp.SnapshotBlock = 100
	res.SnapshotBlock = 100
	aged, err := calc.Score(opp, res, bid, snap, 0)
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if aged.Confidence != 0.5 {
		t.Errorf("half-window confidence = %f, want 0.5", aged.Confidence)
	}

	// Each rival pending tx applies the decay factor.
	snap.Number = 100
	contested, err := calc.Score(opp, res, bid, snap, 2)
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if contested.Confidence != 0.25 {
		t.Errorf("contested confidence = %f, want 0.25", contested.Confidence)
	}
}

func TestScore_SlippageBuffer(t *testing.T) {
	calc := New(Config{SlippageBufferBps: 100, CompetitionDecay: 0.85}, slog.Default())
	opp, res, bid, snap := scoredFixture()

	got, err := calc.Score(opp, res, bid, snap, 0)
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	// 1% of gross shaved: 50_000_000/100 = 500_000.
	want := big.NewInt(50_000_000 - 200_000*35 - 500_000)
	if got.NetProfit.Cmp(want) != 0 {
		t.Errorf("net profit = %s, want %s", got.NetProfit, want)
	}
}
