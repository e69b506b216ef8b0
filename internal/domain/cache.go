package domain

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// StreamMessage represents a single entry from a Redis stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub and durable streams.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}

// Channel and stream names used on the signal bus.
const (
	ChannelLedgerEvents = "ledger:events"
	StreamReceipts      = "ledger:receipts"
)

// BondCache caches bond read models. Entries are tagged with the ledger height
// they were computed at and are stale once the height moves.
type BondCache interface {
	Get(ctx context.Context, bond common.Address, height uint64) (BondSummary, error)
	Set(ctx context.Context, summary BondSummary, height uint64) error
}
