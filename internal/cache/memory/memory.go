// Package memory implements the domain cache interfaces in process memory for
// single-node deployments without Redis.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/alanyoungcy/bondledger/internal/domain"
)

var (
	_ domain.LockManager = (*LockManager)(nil)
	_ domain.RateLimiter = (*RateLimiter)(nil)
	_ domain.SignalBus   = (*SignalBus)(nil)
	_ domain.BondCache   = (*BondCache)(nil)
)

// LockManager is a process-local domain.LockManager. Locks expire after
// their TTL like their Redis counterparts.
type LockManager struct {
	mu    sync.Mutex
	now   func() time.Time
	locks map[string]lockEntry
}

type lockEntry struct {
	token   string
	expires time.Time
}

// NewLockManager returns an empty LockManager.
func NewLockManager() *LockManager {
	return &LockManager{now: time.Now, locks: make(map[string]lockEntry)}
}

func (lm *LockManager) Acquire(_ context.Context, key string, ttl time.Duration) (func(), error) {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	now := lm.now()
	if e, ok := lm.locks[key]; ok && now.Before(e.expires) {
		return nil, domain.ErrLockHeld
	}
	token := uuid.NewString()
	lm.locks[key] = lockEntry{token: token, expires: now.Add(ttl)}

	var once sync.Once
	return func() {
		once.Do(func() {
			lm.mu.Lock()
			defer lm.mu.Unlock()
			if e, ok := lm.locks[key]; ok && e.token == token {
				delete(lm.locks, key)
			}
		})
	}, nil
}

// RateLimiter is a process-local sliding window limiter.
type RateLimiter struct {
	mu   sync.Mutex
	now  func() time.Time
	hits map[string][]time.Time
}

// NewRateLimiter returns an empty RateLimiter.
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{now: time.Now, hits: make(map[string][]time.Time)}
}

func (rl *RateLimiter) Allow(_ context.Context, key string, limit int, window time.Duration) (bool, error) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	cutoff := now.Add(-window)
	kept := rl.hits[key][:0]
	for _, t := range rl.hits[key] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	if len(kept) >= limit {
		rl.hits[key] = kept
		return false, nil
	}
	rl.hits[key] = append(kept, now)
	return true, nil
}

// SignalBus fans published payloads out to in-process subscribers and keeps
// streams as bounded slices.
type SignalBus struct {
	mu      sync.Mutex
	subs    map[string][]chan []byte
	streams map[string][]domain.StreamMessage
	seq     uint64
	maxLen  int
}

// NewSignalBus returns a SignalBus whose streams keep at most maxLen entries.
func NewSignalBus(maxLen int) *SignalBus {
	return &SignalBus{
		subs:    make(map[string][]chan []byte),
		streams: make(map[string][]domain.StreamMessage),
		maxLen:  maxLen,
	}
}

// Publish drops the payload for subscribers whose buffer is full.
func (sb *SignalBus) Publish(_ context.Context, channel string, payload []byte) error {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	for _, ch := range sb.subs[channel] {
		select {
		case ch <- payload:
		default:
		}
	}
	return nil
}

func (sb *SignalBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	ch := make(chan []byte, 128)
	sb.mu.Lock()
	sb.subs[channel] = append(sb.subs[channel], ch)
	sb.mu.Unlock()

	go func() {
		<-ctx.Done()
		sb.mu.Lock()
		defer sb.mu.Unlock()
		subs := sb.subs[channel]
		for i, c := range subs {
			if c == ch {
				sb.subs[channel] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
		close(ch)
	}()
	return ch, nil
}

func (sb *SignalBus) StreamAppend(_ context.Context, stream string, payload []byte) error {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	sb.seq++
	entries := append(sb.streams[stream], domain.StreamMessage{
		ID:      streamID(sb.seq),
		Payload: append([]byte(nil), payload...),
	})
	if sb.maxLen > 0 && len(entries) > sb.maxLen {
		entries = entries[len(entries)-sb.maxLen:]
	}
	sb.streams[stream] = entries
	return nil
}

// StreamRead returns up to count entries whose ID sorts after lastID.
func (sb *SignalBus) StreamRead(_ context.Context, stream string, lastID string, count int) ([]domain.StreamMessage, error) {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	var out []domain.StreamMessage
	for _, m := range sb.streams[stream] {
		if lastID != "0" && lastID != "0-0" && m.ID <= lastID {
			continue
		}
		out = append(out, m)
		if count > 0 && len(out) == count {
			break
		}
	}
	return out, nil
}

// streamID zero-pads the sequence so IDs compare lexically.
func streamID(seq uint64) string {
	const width = 20
	b := make([]byte, width)
	for i := width - 1; i >= 0; i-- {
		b[i] = byte('0' + seq%10)
		seq /= 10
	}
	return string(b) + "-0"
}

// BondCache keeps bond summaries keyed by address and height.
type BondCache struct {
	mu      sync.RWMutex
	entries map[common.Address]bondEntry
}

type bondEntry struct {
	height  uint64
	summary domain.BondSummary
}

// NewBondCache returns an empty BondCache.
func NewBondCache() *BondCache {
	return &BondCache{entries: make(map[common.Address]bondEntry)}
}

func (bc *BondCache) Get(_ context.Context, bond common.Address, height uint64) (domain.BondSummary, error) {
	bc.mu.RLock()
	defer bc.mu.RUnlock()
	e, ok := bc.entries[bond]
	if !ok || e.height != height {
		return domain.BondSummary{}, domain.ErrNotFound
	}
	return e.summary, nil
}

func (bc *BondCache) Set(_ context.Context, summary domain.BondSummary, height uint64) error {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	bc.entries[summary.Address] = bondEntry{height: height, summary: summary}
	return nil
}
