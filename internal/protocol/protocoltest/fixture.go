// Package protocoltest provides a deployed protocol on an in-memory runtime
// for tests.
package protocoltest

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/bondledger/internal/bond"
	"github.com/alanyoungcy/bondledger/internal/domain"
	"github.com/alanyoungcy/bondledger/internal/factory"
	"github.com/alanyoungcy/bondledger/internal/ledger"
	"github.com/alanyoungcy/bondledger/internal/protocol"
	"github.com/alanyoungcy/bondledger/internal/token"
)

// Well-known accounts.
var (
	Admin     = common.HexToAddress("0x00000000000000000000000000000000000000a0")
	Issuer    = common.HexToAddress("0x00000000000000000000000000000000000000b0")
	Investor1 = common.HexToAddress("0x00000000000000000000000000000000000000c1")
	Investor2 = common.HexToAddress("0x00000000000000000000000000000000000000c2")
)

// CurrencyLabel is the label of the currency deployed by New.
const CurrencyLabel = "usd"

// Fixture is a runtime with the protocol bootstrapped by Admin and a currency
// holding Investor1=1000, Investor2=2000 and Issuer=500.
type Fixture struct {
	t        testing.TB
	Ctx      context.Context
	Runtime  *ledger.Runtime
	Addrs    protocol.Addresses
	Currency common.Address
}

// New builds a fresh fixture.
func New(t testing.TB, opts ...ledger.Option) *Fixture {
	t.Helper()
	opts = append([]ledger.Option{ledger.WithClock(func() time.Time {
		return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	})}, opts...)
	rt := ledger.NewRuntime(slog.New(slog.DiscardHandler), opts...)
	protocol.Register(rt)

	ctx := context.Background()
	addrs, err := protocol.Bootstrap(ctx, rt, Admin)
	require.NoError(t, err)

	f := &Fixture{t: t, Ctx: ctx, Runtime: rt, Addrs: addrs}
	f.MustExec(Admin, addrs.Factory, &factory.InstantiateCurrency{
		Label:    CurrencyLabel,
		Name:     "US Dollar",
		Symbol:   "USD",
		Decimals: 6,
		InitialBalances: []domain.Coin{
			{Address: Investor1, Amount: domain.NewAmount(1000)},
			{Address: Investor2, Amount: domain.NewAmount(2000)},
			{Address: Issuer, Amount: domain.NewAmount(500)},
		},
	})
	f.Currency = ledger.ContractAddress(addrs.Factory, token.Code, CurrencyLabel)
	return f
}

// Exec executes msg on contract as sender.
func (f *Fixture) Exec(sender, contract common.Address, msg ledger.Msg) (*domain.Receipt, error) {
	return f.Runtime.Execute(f.Ctx, sender, contract, msg)
}

// MustExec executes msg and fails the test on error.
func (f *Fixture) MustExec(sender, contract common.Address, msg ledger.Msg) *domain.Receipt {
	f.t.Helper()
	rec, err := f.Exec(sender, contract, msg)
	require.NoError(f.t, err, "%s on %s", msg.Action(), contract.Hex())
	return rec
}

// Query runs q and asserts the result type.
func Query[T any](f *Fixture, contract common.Address, q ledger.Msg) T {
	f.t.Helper()
	res, err := f.Runtime.Query(f.Ctx, contract, q)
	require.NoError(f.t, err)
	v, ok := res.(T)
	require.True(f.t, ok, "query %s returned %T", q.Action(), res)
	return v
}

// Balance returns holder's balance of tok as a uint64.
func (f *Fixture) Balance(tok, holder common.Address) uint64 {
	f.t.Helper()
	bal := Query[token.BalanceResponse](f, tok, &token.Balance{Address: holder})
	n, ok := bal.Balance.Uint64()
	require.True(f.t, ok)
	return n
}

// Approve grants spender an allowance of amount on tok.
func (f *Fixture) Approve(tok, owner, spender common.Address, amount uint64) {
	f.t.Helper()
	f.MustExec(owner, tok, &token.IncreaseAllowance{Spender: spender, Amount: domain.NewAmount(amount)})
}

// BondOption adjusts the bond created by NewBond.
type BondOption func(*factory.InstantiateBondToken)

// WithFunctions overrides the enabled bond functions.
func WithFunctions(fs domain.FunctionSetup) BondOption {
	return func(m *factory.InstantiateBondToken) { m.FunctionSetup = fs }
}

// WithDenomination sets how many currency units buy how many bond units.
func WithDenomination(currency, bondUnits uint64) BondOption {
	return func(m *factory.InstantiateBondToken) {
		m.Denomination = domain.Denomination{
			CurrencyAmount: domain.NewAmount(currency),
			BondAmount:     domain.NewAmount(bondUnits),
		}
	}
}

// WithFeePercentage sets the subscription fee in basis points.
func WithFeePercentage(bps uint64) BondOption {
	return func(m *factory.InstantiateBondToken) {
		v := domain.NewAmount(bps)
		m.SubscriptionFeePercentage = &v
		m.SubscriptionFee = nil
	}
}

// WithFixedFee sets a fixed subscription fee.
func WithFixedFee(fee uint64) BondOption {
	return func(m *factory.InstantiateBondToken) {
		v := domain.NewAmount(fee)
		m.SubscriptionFee = &v
		m.SubscriptionFeePercentage = nil
	}
}

// WithCallerFee lets the subscriber choose the fee.
func WithCallerFee() BondOption {
	return func(m *factory.InstantiateBondToken) {
		m.SubscriptionFee = nil
		m.SubscriptionFeePercentage = nil
	}
}

// NewBond deploys a bond issued by Issuer through the factory, with a 3:2
// denomination and a 50% subscription fee unless overridden.
func (f *Fixture) NewBond(label string, opts ...BondOption) common.Address {
	f.t.Helper()
	fee := domain.NewAmount(5000)
	m := &factory.InstantiateBondToken{
		Label:         label,
		Issuer:        Issuer,
		Name:          "Green Bond",
		Symbol:        "GRN",
		Decimals:      6,
		FunctionSetup: domain.AllFunctions(),
		Currency:      f.Currency,
		Denomination: domain.Denomination{
			CurrencyAmount: domain.NewAmount(3),
			BondAmount:     domain.NewAmount(2),
		},
		SubscriptionFeePercentage: &fee,
	}
	for _, opt := range opts {
		opt(m)
	}
	f.MustExec(Admin, f.Addrs.Factory, m)
	return ledger.ContractAddress(f.Addrs.Factory, bond.Code, label)
}

// Subscribe approves the bond and subscribes investor.
func (f *Fixture) Subscribe(bondToken, investor common.Address, subscription, fee uint64) (*domain.Receipt, error) {
	f.t.Helper()
	f.Approve(f.Currency, investor, bondToken, subscription+fee)
	return f.Exec(investor, bondToken, &bond.Subscribe{
		SubscriptionAmount: domain.NewAmount(subscription),
		FeeAmount:          domain.NewAmount(fee),
	})
}
