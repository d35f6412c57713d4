package domain

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// PriceSource supplies current asset prices denominated in the chain's
// native token (1.0 means one native token per whole unit of the asset).
type PriceSource interface {
	GetPrice(ctx context.Context, token common.Address) (float64, error)
	SetPrice(ctx context.Context, token common.Address, price float64, ts time.Time) error
}

// SignalBus is the pub/sub surface used to publish queued and resolved
// opportunity events to external consumers.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}
