package scanner

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/arbiterlabs/mevscan/internal/domain"
	"github.com/arbiterlabs/mevscan/internal/state"
)

// FrontrunConfig tunes mempool pattern detection.
type FrontrunConfig struct {
	// SpikeStdDevs flags a pending transaction whose effective tip exceeds
	// the rolling baseline by this many standard deviations.
	SpikeStdDevs float64
	// BaselineWindow is the number of tip samples kept for the baseline.
	BaselineWindow int
	// MinBaselineSamples gates spike detection until the baseline is warm.
	MinBaselineSamples int
	// WatchedSelectors are method selectors whose calls are treated as
	// predatory regardless of tip.
	WatchedSelectors []domain.Selector
	// ProtectedSenders are addresses whose pending transactions the analyzer
	// shields with replacement candidates.
	ProtectedSenders []common.Address
	// RetentionHorizon drops pending observations never mined or replaced.
	RetentionHorizon time.Duration
	ValidityBlocks   uint64
	BaseTxGas        uint64
	BaseConfidence   float64
}

// DefaultFrontrunConfig returns the detection defaults.
func DefaultFrontrunConfig() FrontrunConfig {
	return FrontrunConfig{
		SpikeStdDevs:       3,
		BaselineWindow:     256,
		MinBaselineSamples: 32,
		RetentionHorizon:   2 * time.Minute,
		ValidityBlocks:     2,
		BaseTxGas:          21000,
		BaseConfidence:     0.6,
	}
}

// FrontrunAnalyzer watches the mempool stream for predatory patterns: calls
// to watched selectors and abnormal tip spikes against a rolling baseline.
// When a flagged transaction threatens a protected sender's pending
// transaction it emits a protective replacement (same nonce, urgent fee);
// otherwise it emits a counter-action keyed on the aggressor. Candidates die
// the instant the watched transaction mines, is replaced, or ages out.
type FrontrunAnalyzer struct {
	cfg        FrontrunConfig
	live       LiveFunc
	invalidate func(key string) bool
	logger     *slog.Logger

	mu sync.Mutex
	// tips is the rolling baseline ring buffer, in gwei.
	tips    []float64
	tipNext int
	tipFull bool
	// pending tracks observations by sender:nonce for replacement detection,
	// protected ones doubling as shielding targets.
	pending map[string]domain.PendingTransaction
	// emitted maps a watched transaction hash to the candidate key it
	// produced, for invalidation on mine or replace.
	emitted map[common.Hash]string

	watched   map[domain.Selector]struct{}
	protected map[common.Address]struct{}
}

// NewFrontrunAnalyzer creates the analyzer. invalidate retires a queued key
// whose watched transaction is gone; nil disables that path.
func NewFrontrunAnalyzer(cfg FrontrunConfig, live LiveFunc, invalidate func(key string) bool, logger *slog.Logger) *FrontrunAnalyzer {
	if cfg.SpikeStdDevs <= 0 {
		cfg.SpikeStdDevs = 3
	}
	if cfg.BaselineWindow <= 0 {
		cfg.BaselineWindow = 256
	}
	if cfg.MinBaselineSamples <= 0 {
		cfg.MinBaselineSamples = 32
	}
	if cfg.RetentionHorizon <= 0 {
		cfg.RetentionHorizon = 2 * time.Minute
	}
	if cfg.ValidityBlocks == 0 {
		cfg.ValidityBlocks = 2
	}
	watched := make(map[domain.Selector]struct{}, len(cfg.WatchedSelectors))
	for _, sel := range cfg.WatchedSelectors {
		watched[sel] = struct{}{}
	}
	protected := make(map[common.Address]struct{}, len(cfg.ProtectedSenders))
	for _, addr := range cfg.ProtectedSenders {
		protected[addr] = struct{}{}
	}
	return &FrontrunAnalyzer{
		cfg:        cfg,
		live:       live,
		invalidate: invalidate,
		logger:     logger.With(slog.String("component", "frontrun_analyzer")),
		tips:       make([]float64, cfg.BaselineWindow),
		pending:    make(map[string]domain.PendingTransaction),
		emitted:    make(map[common.Hash]string),
		watched:    watched,
		protected:  protected,
	}
}

func (a *FrontrunAnalyzer) Name() string              { return "frontrun" }
func (a *FrontrunAnalyzer) Kind() domain.StrategyKind { return domain.StrategyFrontrun }

// OnBlock performs housekeeping only: pending observations past the retention
// horizon are dropped and their candidates invalidated.
func (a *FrontrunAnalyzer) OnBlock(_ context.Context, snap domain.ChainSnapshot, _ *state.PoolView, _ *state.PositionView) ([]domain.Opportunity, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	cutoff := time.Now().Add(-a.cfg.RetentionHorizon)
	for nk, tx := range a.pending {
		if tx.FirstSeen.After(cutoff) {
			continue
		}
		delete(a.pending, nk)
		a.retireLocked(tx.Hash, "aged out")
	}
	return nil, nil
}

// OnMined retires pending observations included in a confirmed block and
// invalidates any candidates they produced. The engine calls it with each
// block diff before OnBlock.
func (a *FrontrunAnalyzer) OnMined(hashes []common.Hash) {
	a.mu.Lock()
	defer a.mu.Unlock()

	mined := make(map[common.Hash]struct{}, len(hashes))
	for _, h := range hashes {
		mined[h] = struct{}{}
	}
	for nk, tx := range a.pending {
		if _, ok := mined[tx.Hash]; ok {
			delete(a.pending, nk)
		}
	}
	for _, h := range hashes {
		a.retireLocked(h, "mined")
	}
}

// OnPendingTx folds the observation into the tip baseline, handles
// replacements, and emits a candidate when the transaction matches a watched
// selector or spikes past the baseline.
func (a *FrontrunAnalyzer) OnPendingTx(_ context.Context, tx domain.PendingTransaction, snap domain.ChainSnapshot) ([]domain.Opportunity, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	nk := nonceKey(tx.From, tx.Nonce)
	if old, ok := a.pending[nk]; ok && tx.Replaces(old) {
		a.retireLocked(old.Hash, "replaced")
	}
	a.pending[nk] = tx

	tip := gwei(tx.EffectiveTip(snap.BaseFee))
	mean, stddev, n := a.baselineLocked()
	a.observeLocked(tip)

	_, watched := a.watched[tx.Selector]
	spike := n >= a.cfg.MinBaselineSamples && stddev > 0 && tip > mean+a.cfg.SpikeStdDevs*stddev
	if !watched && !spike {
		return nil, nil
	}
	if _, ours := a.protected[tx.From]; ours {
		return nil, nil // our own traffic is never an aggressor
	}

	if victim, ok := a.threatenedLocked(tx); ok {
		opp := a.protectiveCandidate(tx, victim, snap)
		if a.live != nil && a.live(opp.Key) {
			return nil, nil
		}
		a.emitted[tx.Hash] = opp.Key
		a.logger.Info("protective replacement emitted",
			slog.String("key", opp.Key),
			slog.String("aggressor", tx.Hash.Hex()),
			slog.Float64("tip_gwei", tip),
		)
		return []domain.Opportunity{opp}, nil
	}

	if !watched {
		return nil, nil // a bare spike with nothing of ours at stake
	}
	opp := a.counterCandidate(tx, snap)
	if opp.GrossRevenue.Sign() <= 0 {
		return nil, nil
	}
	if a.live != nil && a.live(opp.Key) {
		return nil, nil
	}
	a.emitted[tx.Hash] = opp.Key
	return []domain.Opportunity{opp}, nil
}

// RivalCount reports how many tracked pending transactions from other actors
// touch any of the given pools. The scoring stage uses it as the competition
// estimate for a candidate's confidence decay.
func (a *FrontrunAnalyzer) RivalCount(pools []common.Address) int {
	if len(pools) == 0 {
		return 0
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	target := make(map[common.Address]struct{}, len(pools))
	for _, p := range pools {
		target[p] = struct{}{}
	}
	var n int
	for _, tx := range a.pending {
		if _, ours := a.protected[tx.From]; ours {
			continue
		}
		for _, p := range tx.Pools {
			if _, hit := target[p]; hit {
				n++
				break
			}
		}
	}
	return n
}

// threatenedLocked finds a protected pending transaction sharing a pool with
// the aggressor.
func (a *FrontrunAnalyzer) threatenedLocked(tx domain.PendingTransaction) (domain.PendingTransaction, bool) {
	if len(tx.Pools) == 0 || len(a.protected) == 0 {
		return domain.PendingTransaction{}, false
	}
	aggressor := make(map[common.Address]struct{}, len(tx.Pools))
	for _, p := range tx.Pools {
		aggressor[p] = struct{}{}
	}
	for _, cand := range a.pending {
		if _, ok := a.protected[cand.From]; !ok {
			continue
		}
		for _, p := range cand.Pools {
			if _, hit := aggressor[p]; hit {
				return cand, true
			}
		}
	}
	return domain.PendingTransaction{}, false
}

// protectiveCandidate is a same-nonce replacement of the victim's own
// transaction at critical urgency; its revenue is the value it shields.
func (a *FrontrunAnalyzer) protectiveCandidate(aggressor, victim domain.PendingTransaction, snap domain.ChainSnapshot) domain.Opportunity {
	gross := new(big.Int)
	if victim.Value != nil {
		gross.Set(victim.Value)
	}
	return domain.Opportunity{
		ID:            uuid.NewString(),
		Key:           fmt.Sprintf("frontrun:%s:%d", victim.From.Hex(), victim.Nonce),
		Strategy:      domain.StrategyFrontrun,
		SnapshotBlock: snap.Number,
		ValidFrom:     snap.Number,
		ValidUntil:    snap.Number + a.cfg.ValidityBlocks,
		GrossRevenue:  gross,
		Confidence:    a.cfg.BaseConfidence,
		Urgency:       domain.UrgencyCritical,
		CreatedAt:     time.Now().UTC(),
		Status:        domain.OppDetected,
		Bundle: domain.Bundle{
			TargetBlock: snap.Number + 1,
			Txs: []domain.BundleTx{{
				Sender:  victim.From,
				Nonce:   victim.Nonce,
				BaseGas: a.cfg.BaseTxGas,
			}},
		},
		Pools: aggressor.Pools,
	}
}

// counterCandidate keys on the aggressor itself; the value at stake is the
// flow its watched call moves.
func (a *FrontrunAnalyzer) counterCandidate(tx domain.PendingTransaction, snap domain.ChainSnapshot) domain.Opportunity {
	gross := new(big.Int)
	if tx.Value != nil {
		gross.Set(tx.Value)
	}
	return domain.Opportunity{
		ID:            uuid.NewString(),
		Key:           fmt.Sprintf("frontrun:%s:%d", tx.From.Hex(), tx.Nonce),
		Strategy:      domain.StrategyFrontrun,
		SnapshotBlock: snap.Number,
		ValidFrom:     snap.Number,
		ValidUntil:    snap.Number + a.cfg.ValidityBlocks,
		GrossRevenue:  gross,
		Confidence:    a.cfg.BaseConfidence,
		Urgency:       domain.UrgencyHigh,
		CreatedAt:     time.Now().UTC(),
		Status:        domain.OppDetected,
		Bundle: domain.Bundle{
			TargetBlock: snap.Number + 1,
			Txs: []domain.BundleTx{{
				BaseGas: a.cfg.BaseTxGas,
			}},
		},
		Pools: tx.Pools,
	}
}

// retireLocked invalidates the candidate a watched transaction produced.
func (a *FrontrunAnalyzer) retireLocked(hash common.Hash, reason string) {
	key, ok := a.emitted[hash]
	if !ok {
		return
	}
	delete(a.emitted, hash)
	if a.invalidate != nil && a.invalidate(key) {
		a.logger.Debug("frontrun candidate invalidated",
			slog.String("key", key),
			slog.String("reason", reason),
		)
	}
}

func (a *FrontrunAnalyzer) observeLocked(tip float64) {
	a.tips[a.tipNext] = tip
	a.tipNext++
	if a.tipNext == len(a.tips) {
		a.tipNext = 0
		a.tipFull = true
	}
}

func (a *FrontrunAnalyzer) baselineLocked() (mean, stddev float64, n int) {
	n = a.tipNext
	if a.tipFull {
		n = len(a.tips)
	}
	if n == 0 {
		return 0, 0, 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		sum += a.tips[i]
	}
	mean = sum / float64(n)
	var sq float64
	for i := 0; i < n; i++ {
		d := a.tips[i] - mean
		sq += d * d
	}
	stddev = math.Sqrt(sq / float64(n))
	return mean, stddev, n
}

func nonceKey(from common.Address, nonce uint64) string {
	return fmt.Sprintf("%s:%d", from.Hex(), nonce)
}

func gwei(wei *big.Int) float64 {
	if wei == nil {
		return 0
	}
	f, _ := new(big.Float).Quo(
		new(big.Float).SetInt(wei),
		big.NewFloat(1e9),
	).Float64()
	return f
}
