package feed

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/arbiterlabs/mevscan/internal/domain"
)

func TestIngress_BlockOrderPreserved(t *testing.T) {
	in := NewIngress(IngressConfig{BlockBuffer: 4}, slog.Default())
	ctx := context.Background()

	for i := uint64(1); i <= 3; i++ {
		if err := in.OnBlock(ctx, domain.BlockDiff{Snapshot: domain.ChainSnapshot{Number: i}}); err != nil {
			t.Fatalf("OnBlock %d: %v", i, err)
		}
	}
	for i := uint64(1); i <= 3; i++ {
		diff := <-in.Blocks()
		if diff.Snapshot.Number != i {
			t.Errorf("block %d arrived out of order as %d", i, diff.Snapshot.Number)
		}
	}
}

func TestIngress_PendingDropsOldest(t *testing.T) {
	in := NewIngress(IngressConfig{PendingBuffer: 2}, slog.Default())

	for i := byte(1); i <= 4; i++ {
		in.OnPendingTransaction(domain.PendingTransaction{Hash: common.Hash{i}})
	}

	// Buffer of two: observations 1 and 2 were displaced.
	first := <-in.Pending()
	second := <-in.Pending()
	if first.Hash != (common.Hash{3}) || second.Hash != (common.Hash{4}) {
		t.Errorf("kept %v and %v, want the two freshest", first.Hash, second.Hash)
	}
}

func TestIngress_Close(t *testing.T) {
	in := NewIngress(IngressConfig{}, slog.Default())
	in.Close()

	if in.Healthy() {
		t.Error("closed ingress should be unhealthy")
	}
	if err := in.OnBlock(context.Background(), domain.BlockDiff{}); !errors.Is(err, domain.ErrFeedDown) {
		t.Errorf("OnBlock after close = %v, want ErrFeedDown", err)
	}
	if _, ok := <-in.Blocks(); ok {
		t.Error("block stream should be closed")
	}
}

func TestReplayFeed_DrainsInOrder(t *testing.T) {
	diffs := []domain.BlockDiff{
		{Snapshot: domain.ChainSnapshot{Number: 10, Time: time.Unix(100, 0)}},
		{Snapshot: domain.ChainSnapshot{Number: 11, Time: time.Unix(112, 0)}},
	}
	mempool := []domain.PendingTransaction{
		{Hash: common.Hash{1}, FirstSeen: time.Unix(99, 0)},
		{Hash: common.Hash{2}, FirstSeen: time.Unix(105, 0)},
	}
	f := NewReplayFeed(diffs, mempool, 0, slog.Default())

	ctx := context.Background()
	done := make(chan error, 1)
	go func() { done <- f.Run(ctx) }()

	if tx := <-f.Pending(); tx.Hash != (common.Hash{1}) {
		t.Errorf("first pending = %v", tx.Hash)
	}
	if d := <-f.Blocks(); d.Snapshot.Number != 10 {
		t.Errorf("first block = %d", d.Snapshot.Number)
	}
	if tx := <-f.Pending(); tx.Hash != (common.Hash{2}) {
		t.Errorf("second pending = %v", tx.Hash)
	}
	if d := <-f.Blocks(); d.Snapshot.Number != 11 {
		t.Errorf("second block = %d", d.Snapshot.Number)
	}

	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}
	if _, ok := <-f.Blocks(); ok {
		t.Error("block stream should close after the recording drains")
	}
}
