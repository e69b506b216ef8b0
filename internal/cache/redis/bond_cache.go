package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/bondledger/internal/domain"
)

const bondTTL = 5 * time.Minute

// BondCache implements domain.BondCache with one hash per bond.
//
// Key schema:
//
//	bond:{address} - hash with fields "height" and "data" (JSON BondSummary)
type BondCache struct {
	c *Client
}

// NewBondCache creates a BondCache backed by the given Client.
func NewBondCache(c *Client) *BondCache {
	return &BondCache{c: c}
}

func (bc *BondCache) bondKey(addr common.Address) string {
	return bc.c.key("bond:", addr.Hex())
}

// Set stores summary tagged with height for bondTTL.
func (bc *BondCache) Set(ctx context.Context, summary domain.BondSummary, height uint64) error {
	data, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("redis: marshal bond %s: %w", summary.Address.Hex(), err)
	}

	key := bc.bondKey(summary.Address)
	pipe := bc.c.rdb.TxPipeline()
	pipe.HSet(ctx, key, "height", height, "data", data)
	pipe.Expire(ctx, key, bondTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set bond %s: %w", summary.Address.Hex(), err)
	}
	return nil
}

// Get returns the cached summary for bond. It returns domain.ErrNotFound when
// nothing is cached or the entry was computed at a different height.
func (bc *BondCache) Get(ctx context.Context, bond common.Address, height uint64) (domain.BondSummary, error) {
	vals, err := bc.c.rdb.HMGet(ctx, bc.bondKey(bond), "height", "data").Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.BondSummary{}, domain.ErrNotFound
		}
		return domain.BondSummary{}, fmt.Errorf("redis: get bond %s: %w", bond.Hex(), err)
	}
	h, _ := vals[0].(string)
	data, _ := vals[1].(string)
	if h == "" || data == "" {
		return domain.BondSummary{}, domain.ErrNotFound
	}
	if cached, err := strconv.ParseUint(h, 10, 64); err != nil || cached != height {
		return domain.BondSummary{}, domain.ErrNotFound
	}

	var summary domain.BondSummary
	if err := json.Unmarshal([]byte(data), &summary); err != nil {
		return domain.BondSummary{}, fmt.Errorf("redis: unmarshal bond %s: %w", bond.Hex(), err)
	}
	return summary, nil
}

var _ domain.BondCache = (*BondCache)(nil)
