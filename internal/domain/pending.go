package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Selector is a 4-byte contract method selector.
type Selector [4]byte

// PendingTransaction is a transient mempool observation. It is discarded once
// the transaction mines, is replaced, or falls past the retention horizon.
type PendingTransaction struct {
	Hash      common.Hash
	From      common.Address
	Nonce     uint64
	To        common.Address
	Value     *big.Int
	GasFeeCap *big.Int
	GasTipCap *big.Int
	// Selector is the leading 4 bytes of calldata; CalldataDigest is the
	// keccak of the full calldata. The raw calldata itself is not retained.
	Selector       Selector
	CalldataDigest common.Hash
	// Pools the transaction is expected to touch, as decoded by the feed.
	Pools     []common.Address
	FirstSeen time.Time
}

// EffectiveTip returns the priority fee the transaction would pay on top of
// the given base fee, zero when it cannot be included at that base fee.
func (tx PendingTransaction) EffectiveTip(baseFee *big.Int) *big.Int {
	if tx.GasFeeCap == nil || tx.GasTipCap == nil {
		return new(big.Int)
	}
	if baseFee == nil {
		// No base fee known; the tip cap bounds the payout.
		if tx.GasTipCap.Cmp(tx.GasFeeCap) > 0 {
			return new(big.Int).Set(tx.GasFeeCap)
		}
		return new(big.Int).Set(tx.GasTipCap)
	}
	headroom := new(big.Int).Sub(tx.GasFeeCap, baseFee)
	if headroom.Sign() <= 0 {
		return new(big.Int)
	}
	if headroom.Cmp(tx.GasTipCap) > 0 {
		return new(big.Int).Set(tx.GasTipCap)
	}
	return headroom
}

// Replaces reports whether tx is a same-sender same-nonce replacement of old
// with a strictly higher fee cap.
func (tx PendingTransaction) Replaces(old PendingTransaction) bool {
	if tx.From != old.From || tx.Nonce != old.Nonce || tx.Hash == old.Hash {
		return false
	}
	if tx.GasFeeCap == nil || old.GasFeeCap == nil {
		return false
	}
	return tx.GasFeeCap.Cmp(old.GasFeeCap) > 0
}
