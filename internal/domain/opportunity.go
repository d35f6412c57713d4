package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// StrategyKind is the closed set of detection strategies.
type StrategyKind string

const (
	StrategyArbitrage   StrategyKind = "arbitrage"
	StrategyLiquidation StrategyKind = "liquidation"
	StrategyFrontrun    StrategyKind = "frontrun"
)

// OpportunityStatus tracks an opportunity through the pipeline:
// Detected -> Simulated|Invalid -> Scored -> Queued -> Dispatched|Expired|Superseded.
type OpportunityStatus string

const (
	OppDetected   OpportunityStatus = "detected"
	OppSimulated  OpportunityStatus = "simulated"
	OppInvalid    OpportunityStatus = "invalid"
	OppScored     OpportunityStatus = "scored"
	OppQueued     OpportunityStatus = "queued"
	OppDispatched OpportunityStatus = "dispatched"
	OppExpired    OpportunityStatus = "expired"
	OppSuperseded OpportunityStatus = "superseded"
)

// Urgency expresses how aggressively an opportunity's fee bid should target
// inclusion.
type Urgency int

const (
	UrgencyLow Urgency = iota
	UrgencyNormal
	UrgencyHigh
	UrgencyCritical
)

// Opportunity is a scored, time-bounded candidate for profitable on-chain
// action. A scanner creates it, the simulator sets gas use and validity, the
// profit calculator sets net profit and confidence; once enqueued it is
// immutable apart from the expiry transition.
type Opportunity struct {
	ID       string
	Key      string
	Strategy StrategyKind

	// SnapshotBlock is the chain snapshot the candidate was detected and
	// priced against. Net profit is only ever computed from a simulation of
	// the same snapshot.
	SnapshotBlock uint64
	ValidFrom     uint64
	ValidUntil    uint64

	GrossRevenue *big.Int
	GasCost      *big.Int
	NetProfit    *big.Int
	GasUsed      uint64
	// FlashBorrowed is the flash-loan principal, nil when no borrow is used.
	FlashBorrowed *big.Int

	Confidence float64
	Urgency    Urgency
	CreatedAt  time.Time
	Status     OpportunityStatus

	Bundle Bundle
	// Pools lists the pools the opportunity touches, used for the
	// competition estimate.
	Pools []common.Address
}

// Expired reports whether the validity window has closed at the given block.
func (o Opportunity) Expired(block uint64) bool {
	return o.ValidUntil != 0 && block > o.ValidUntil
}

// ProfitPerGasCmp compares the profit-per-gas ratio of o against other
// without division: it returns >0 when o ranks higher, <0 when lower and 0 on
// an exact tie.
func (o Opportunity) ProfitPerGasCmp(other Opportunity) int {
	switch {
	case o.NetProfit == nil && other.NetProfit == nil:
		return 0
	case o.NetProfit == nil:
		return -1
	case other.NetProfit == nil:
		return 1
	}
	// Zero gas ranks by raw profit; it cannot appear in a simulated bundle
	// but keeps the comparison total.
	if o.GasUsed == 0 || other.GasUsed == 0 {
		return o.NetProfit.Cmp(other.NetProfit)
	}
	a := new(big.Int).Mul(o.NetProfit, new(big.Int).SetUint64(other.GasUsed))
	b := new(big.Int).Mul(other.NetProfit, new(big.Int).SetUint64(o.GasUsed))
	return a.Cmp(b)
}

// ResolveOutcome is the dispatcher's report for an in-flight opportunity.
type ResolveOutcome string

const (
	OutcomeDispatched ResolveOutcome = "dispatched"
	OutcomeRejected   ResolveOutcome = "rejected"
)
