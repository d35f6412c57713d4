package feed

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/arbiterlabs/mevscan/internal/domain"
)

// Recording is a replayable capture of chain data: confirmed block diffs plus
// the mempool observations seen alongside them.
type Recording struct {
	Blocks  []domain.BlockDiff
	Mempool []domain.PendingTransaction
}

// recordingFile is the on-disk JSON shape. Wei amounts are decimal strings,
// hashes and addresses hex, timestamps RFC 3339.
type recordingFile struct {
	Blocks  []recordedBlock `json:"blocks"`
	Mempool []recordedTx    `json:"mempool"`
}

type recordedBlock struct {
	Number     uint64             `json:"number"`
	Hash       string             `json:"hash"`
	ParentHash string             `json:"parent_hash"`
	Time       time.Time          `json:"time"`
	BaseFee    string             `json:"base_fee"`
	Pools      []recordedPool     `json:"pools,omitempty"`
	Positions  []recordedPosition `json:"positions,omitempty"`
	Tips       []string           `json:"tips,omitempty"`
	MinedTxs   []string           `json:"mined_txs,omitempty"`
}

type recordedPool struct {
	Pool         string `json:"pool"`
	Reserve0     string `json:"reserve0,omitempty"`
	Reserve1     string `json:"reserve1,omitempty"`
	SqrtPriceX96 string `json:"sqrt_price_x96,omitempty"`
	Liquidity    string `json:"liquidity,omitempty"`
	Tick         int32  `json:"tick,omitempty"`
}

type recordedAsset struct {
	Token    string  `json:"token"`
	Amount   string  `json:"amount"`
	Decimals uint8   `json:"decimals"`
	Weight   float64 `json:"weight"`
}

type recordedPosition struct {
	Protocol   string          `json:"protocol"`
	Borrower   string          `json:"borrower"`
	Collateral []recordedAsset `json:"collateral,omitempty"`
	Debt       []recordedAsset `json:"debt,omitempty"`
}

type recordedTx struct {
	Hash      string    `json:"hash"`
	From      string    `json:"from"`
	Nonce     uint64    `json:"nonce"`
	To        string    `json:"to"`
	Value     string    `json:"value,omitempty"`
	GasFeeCap string    `json:"gas_fee_cap"`
	GasTipCap string    `json:"gas_tip_cap"`
	Selector  string    `json:"selector,omitempty"`
	Pools     []string  `json:"pools,omitempty"`
	FirstSeen time.Time `json:"first_seen"`
}

// LoadRecording reads a capture file for replay.
func LoadRecording(path string) (*Recording, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading recording: %w", err)
	}
	var file recordingFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing recording %s: %w", path, err)
	}

	rec := &Recording{
		Blocks:  make([]domain.BlockDiff, 0, len(file.Blocks)),
		Mempool: make([]domain.PendingTransaction, 0, len(file.Mempool)),
	}
	for i, b := range file.Blocks {
		diff, err := decodeBlock(b)
		if err != nil {
			return nil, fmt.Errorf("recording %s block %d: %w", path, i, err)
		}
		rec.Blocks = append(rec.Blocks, diff)
	}
	for i, t := range file.Mempool {
		tx, err := decodeTx(t)
		if err != nil {
			return nil, fmt.Errorf("recording %s mempool entry %d: %w", path, i, err)
		}
		rec.Mempool = append(rec.Mempool, tx)
	}
	return rec, nil
}

func decodeBlock(b recordedBlock) (domain.BlockDiff, error) {
	baseFee, err := decodeWei(b.BaseFee)
	if err != nil {
		return domain.BlockDiff{}, fmt.Errorf("base_fee: %w", err)
	}
	diff := domain.BlockDiff{
		Snapshot: domain.ChainSnapshot{
			Number:     b.Number,
			Hash:       common.HexToHash(b.Hash),
			ParentHash: common.HexToHash(b.ParentHash),
			Time:       b.Time,
			BaseFee:    baseFee,
		},
		Fees: domain.FeeSample{Block: b.Number, BaseFee: baseFee},
	}
	for _, p := range b.Pools {
		upd := domain.PoolUpdate{Pool: common.HexToAddress(p.Pool), Tick: p.Tick}
		if upd.Reserve0, err = decodeWei(p.Reserve0); err != nil {
			return domain.BlockDiff{}, fmt.Errorf("pool %s reserve0: %w", p.Pool, err)
		}
		if upd.Reserve1, err = decodeWei(p.Reserve1); err != nil {
			return domain.BlockDiff{}, fmt.Errorf("pool %s reserve1: %w", p.Pool, err)
		}
		if upd.SqrtPriceX96, err = decodeWei(p.SqrtPriceX96); err != nil {
			return domain.BlockDiff{}, fmt.Errorf("pool %s sqrt_price_x96: %w", p.Pool, err)
		}
		if upd.Liquidity, err = decodeWei(p.Liquidity); err != nil {
			return domain.BlockDiff{}, fmt.Errorf("pool %s liquidity: %w", p.Pool, err)
		}
		diff.Pools = append(diff.Pools, upd)
	}
	for _, pos := range b.Positions {
		upd := domain.PositionUpdate{
			Protocol: pos.Protocol,
			Borrower: common.HexToAddress(pos.Borrower),
		}
		if upd.Collateral, err = decodeAssets(pos.Collateral); err != nil {
			return domain.BlockDiff{}, fmt.Errorf("position %s collateral: %w", pos.Borrower, err)
		}
		if upd.Debt, err = decodeAssets(pos.Debt); err != nil {
			return domain.BlockDiff{}, fmt.Errorf("position %s debt: %w", pos.Borrower, err)
		}
		diff.Positions = append(diff.Positions, upd)
	}
	for _, tip := range b.Tips {
		v, err := decodeWei(tip)
		if err != nil {
			return domain.BlockDiff{}, fmt.Errorf("tip: %w", err)
		}
		diff.Fees.Tips = append(diff.Fees.Tips, v)
	}
	for _, h := range b.MinedTxs {
		diff.MinedTxs = append(diff.MinedTxs, common.HexToHash(h))
	}
	return diff, nil
}

func decodeTx(t recordedTx) (domain.PendingTransaction, error) {
	tx := domain.PendingTransaction{
		Hash:      common.HexToHash(t.Hash),
		From:      common.HexToAddress(t.From),
		Nonce:     t.Nonce,
		To:        common.HexToAddress(t.To),
		FirstSeen: t.FirstSeen,
	}
	var err error
	if tx.Value, err = decodeWei(t.Value); err != nil {
		return domain.PendingTransaction{}, fmt.Errorf("value: %w", err)
	}
	if tx.GasFeeCap, err = decodeWei(t.GasFeeCap); err != nil {
		return domain.PendingTransaction{}, fmt.Errorf("gas_fee_cap: %w", err)
	}
	if tx.GasTipCap, err = decodeWei(t.GasTipCap); err != nil {
		return domain.PendingTransaction{}, fmt.Errorf("gas_tip_cap: %w", err)
	}
	if tx.Selector, err = ParseSelector(t.Selector); err != nil && t.Selector != "" {
		return domain.PendingTransaction{}, err
	}
	for _, p := range t.Pools {
		tx.Pools = append(tx.Pools, common.HexToAddress(p))
	}
	return tx, nil
}

func decodeAssets(rows []recordedAsset) ([]domain.AssetAmount, error) {
	if len(rows) == 0 {
		return nil, nil
	}
	out := make([]domain.AssetAmount, len(rows))
	for i, row := range rows {
		amount, err := decodeWei(row.Amount)
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

func decodeWei(s string) (*big.Int, error) {
	if s == "" {
		return nil, nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid decimal amount %q", s)
	}
	return v, nil
}

// ParseSelector decodes a "0xaabbccdd" method selector.
func ParseSelector(s string) (domain.Selector, error) {
	var sel domain.Selector
	raw := strings.TrimPrefix(strings.ToLower(s), "0x")
	b, err := hex.DecodeString(raw)
	if err != nil || len(b) != 4 {
		return sel, fmt.Errorf("invalid selector %q", s)
	}
	copy(sel[:], b)
	return sel, nil
}
