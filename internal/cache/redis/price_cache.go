package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"

	"github.com/arbiterlabs/mevscan/internal/domain"
)

// priceTTL bounds how long a quote is served. Liquidation candidacy is priced
// from this cache, so a stale quote is worse than no quote.
const priceTTL = 5 * time.Minute

// PriceCache implements domain.PriceSource using Redis hashes. Each token's
// quote is stored at "price:{address}" with fields "price" (native token per
// whole unit) and "ts" (Unix nanosecond timestamp).
type PriceCache struct {
	rdb *redis.Client
}

// NewPriceCache creates a PriceCache backed by the given Client.
func NewPriceCache(c *Client) *PriceCache {
	return &PriceCache{rdb: c.Underlying()}
}

func priceKey(token common.Address) string {
	return "price:" + token.Hex()
}

// SetPrice stores the latest quote for a token and refreshes its TTL.
func (pc *PriceCache) SetPrice(ctx context.Context, token common.Address, price float64, ts time.Time) error {
	key := priceKey(token)
	fields := map[string]interface{}{
		"price": strconv.FormatFloat(price, 'f', -1, 64),
		"ts":    strconv.FormatInt(ts.UnixNano(), 10),
	}
	pipe := pc.rdb.Pipeline()
	pipe.HSet(ctx, key, fields)
	pipe.Expire(ctx, key, priceTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set price %s: %w", token.Hex(), err)
	}
	return nil
}

// GetPrice retrieves the latest quote for a token. It returns
// domain.ErrNotFound when no quote exists or the stored hash is malformed.
func (pc *PriceCache) GetPrice(ctx context.Context, token common.Address) (float64, error) {
	vals, err := pc.rdb.HGetAll(ctx, priceKey(token)).Result()
	if err != nil {
		return 0, fmt.Errorf("redis: get price %s: %w", token.Hex(), err)
	}
	if len(vals) == 0 {
		return 0, domain.ErrNotFound
	}

	priceStr, ok := vals["price"]
	if !ok {
		return 0, domain.ErrNotFound
	}
	price, err := strconv.ParseFloat(priceStr, 64)
	if err != nil {
		return 0, fmt.Errorf("redis: parse price %s: %w", token.Hex(), err)
	}
	return price, nil
}

// Compile-time interface check.
var _ domain.PriceSource = (*PriceCache)(nil)
