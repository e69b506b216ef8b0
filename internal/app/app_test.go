package app

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/bondledger/internal/config"
	"github.com/alanyoungcy/bondledger/internal/crypto"
	"github.com/alanyoungcy/bondledger/internal/domain"
	"github.com/alanyoungcy/bondledger/internal/ledger"
	"github.com/alanyoungcy/bondledger/internal/protocol"
)

const adminHex = "0x00000000000000000000000000000000000000a1"

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestWireFallsBackToMemory(t *testing.T) {
	ctx := context.Background()
	cfg := config.Defaults()
	cfg.Ledger.AdminAddress = adminHex

	deps, cleanup, err := Wire(ctx, &cfg, discard())
	require.NoError(t, err)
	defer cleanup()

	assert.Nil(t, deps.Archive, "archive needs s3")
	assert.Empty(t, deps.Checks)
	assert.Equal(t, uint64(0), deps.Ledger.Height())

	admin := common.HexToAddress(adminHex)
	addrs, err := deps.Ledger.Bootstrap(ctx, admin)
	require.NoError(t, err)
	assert.Equal(t, protocol.Predict(admin).Escrow, addrs.Escrow)

	bonds, err := deps.Bonds.ListBonds(ctx)
	require.NoError(t, err)
	assert.Empty(t, bonds)
}

func TestResolveAdmin(t *testing.T) {
	_, err := resolveAdmin(config.LedgerConfig{})
	require.ErrorIs(t, err, crypto.ErrNoKey)

	addr, err := resolveAdmin(config.LedgerConfig{AdminAddress: adminHex})
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress(adminHex), addr)

	key, want, err := crypto.GenerateKey()
	require.NoError(t, err)
	addr, err = resolveAdmin(config.LedgerConfig{PrivateKey: key, AdminAddress: adminHex})
	require.NoError(t, err)
	assert.Equal(t, want, addr, "key wins over admin_address")
}

func TestResolveEscrow(t *testing.T) {
	ctx := context.Background()
	admin := common.HexToAddress(adminHex)
	rt := ledger.NewRuntime(discard())
	protocol.Register(rt)

	_, err := resolveEscrow(rt, config.LedgerConfig{Bootstrap: true}, discard())
	require.ErrorIs(t, err, crypto.ErrNoKey)
	_, err = resolveEscrow(rt, config.LedgerConfig{}, discard())
	require.ErrorIs(t, err, domain.ErrNotFound, "empty state has no escrow to fall back to")

	addrs, err := protocol.Bootstrap(ctx, rt, admin)
	require.NoError(t, err)

	got, err := resolveEscrow(rt, config.LedgerConfig{}, discard())
	require.NoError(t, err)
	assert.Equal(t, addrs.Escrow, got)

	_, err = protocol.Bootstrap(ctx, rt, common.HexToAddress("0x00000000000000000000000000000000000000a2"))
	require.NoError(t, err)
	_, err = resolveEscrow(rt, config.LedgerConfig{}, discard())
	require.ErrorContains(t, err, "2 escrow instances")

	got, err = resolveEscrow(rt, config.LedgerConfig{AdminAddress: adminHex}, discard())
	require.NoError(t, err)
	assert.Equal(t, addrs.Escrow, got, "configured admin wins")
}

func TestRunArchiveModeNeedsS3(t *testing.T) {
	cfg := config.Defaults()
	cfg.Mode = "archive"
	cfg.Ledger.AdminAddress = adminHex

	a := New(&cfg, discard())
	defer a.Close()
	err := a.Run(context.Background())
	require.ErrorContains(t, err, "requires s3.enabled")
}

func TestRunRejectsUnknownMode(t *testing.T) {
	cfg := config.Defaults()
	cfg.Mode = "trade"
	cfg.Ledger.Bootstrap = false
	cfg.Ledger.AdminAddress = adminHex

	a := New(&cfg, discard())
	defer a.Close()
	require.ErrorContains(t, a.Run(context.Background()), `unsupported mode "trade"`)
}
