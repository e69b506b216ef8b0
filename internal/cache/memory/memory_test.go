package memory

import (
	"context"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/bondledger/internal/domain"
)

func TestLockManager(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)
	lm := NewLockManager()
	lm.now = func() time.Time { return now }

	unlock, err := lm.Acquire(ctx, "ledger", time.Second)
	require.NoError(t, err)

	_, err = lm.Acquire(ctx, "ledger", time.Second)
	require.ErrorIs(t, err, domain.ErrLockHeld)

	unlock()
	unlock()
	unlock2, err := lm.Acquire(ctx, "ledger", time.Second)
	require.NoError(t, err)

	now = now.Add(2 * time.Second)
	_, err = lm.Acquire(ctx, "ledger", time.Second)
	require.NoError(t, err, "expired lock can be taken over")

	unlock2()
	_, err = lm.Acquire(ctx, "ledger", time.Second)
	require.ErrorIs(t, err, domain.ErrLockHeld, "stale unlock must not release the new holder")
}

func TestRateLimiterSlidingWindow(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)
	rl := NewRateLimiter()
	rl.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		ok, err := rl.Allow(ctx, "k", 3, time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)
		now = now.Add(10 * time.Second)
	}
	ok, _ := rl.Allow(ctx, "k", 3, time.Minute)
	assert.False(t, ok)

	ok, _ = rl.Allow(ctx, "other", 3, time.Minute)
	assert.True(t, ok)

	now = now.Add(35 * time.Second)
	ok, _ = rl.Allow(ctx, "k", 3, time.Minute)
	assert.True(t, ok, "first hit left the window")
}

func TestSignalBusPubSub(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	sb := NewSignalBus(10)

	ch, err := sb.Subscribe(ctx, domain.ChannelLedgerEvents)
	require.NoError(t, err)
	require.NoError(t, sb.Publish(ctx, domain.ChannelLedgerEvents, []byte("hello")))
	require.NoError(t, sb.Publish(ctx, "elsewhere", []byte("ignored")))

	select {
	case got := <-ch:
		assert.Equal(t, "hello", string(got))
	case <-time.After(time.Second):
		t.Fatal("no message delivered")
	}

	cancel()
	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("channel not closed after cancel")
	}
}

func TestSignalBusStreams(t *testing.T) {
	ctx := context.Background()
	sb := NewSignalBus(3)
	for _, p := range []string{"a", "b", "c", "d"} {
		require.NoError(t, sb.StreamAppend(ctx, domain.StreamReceipts, []byte(p)))
	}

	all, err := sb.StreamRead(ctx, domain.StreamReceipts, "0", 10)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "b", string(all[0].Payload))

	rest, err := sb.StreamRead(ctx, domain.StreamReceipts, all[0].ID, 1)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, "c", string(rest[0].Payload))

	none, err := sb.StreamRead(ctx, "missing", "0", 10)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestBondCacheHeight(t *testing.T) {
	ctx := context.Background()
	bc := NewBondCache()
	addr := common.HexToAddress("0x01")

	_, err := bc.Get(ctx, addr, 1)
	require.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, bc.Set(ctx, domain.BondSummary{Address: addr, Name: "Green Bond"}, 4))
	got, err := bc.Get(ctx, addr, 4)
	require.NoError(t, err)
	assert.Equal(t, "Green Bond", got.Name)

	_, err = bc.Get(ctx, addr, 5)
	require.ErrorIs(t, err, domain.ErrNotFound)
}
