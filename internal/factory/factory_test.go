package factory_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/bondledger/internal/bond"
	"github.com/alanyoungcy/bondledger/internal/domain"
	"github.com/alanyoungcy/bondledger/internal/factory"
	"github.com/alanyoungcy/bondledger/internal/ledger"
	"github.com/alanyoungcy/bondledger/internal/protocol/protocoltest"
	"github.com/alanyoungcy/bondledger/internal/token"
)

func TestPredictAddress(t *testing.T) {
	f := protocoltest.New(t)
	res := protocoltest.Query[factory.AddressResponse](f, f.Addrs.Factory, &factory.PredictAddress{
		Code:  token.Code,
		Label: protocoltest.CurrencyLabel,
	})
	assert.Equal(t, f.Currency, res.Address)

	info, err := f.Runtime.ContractInfo(f.Currency)
	require.NoError(t, err)
	assert.Equal(t, token.Code, info.Code)
	assert.Equal(t, f.Addrs.Factory, info.Creator)
}

func TestInstantiateCurrencyRequiresOperator(t *testing.T) {
	f := protocoltest.New(t)
	_, err := f.Exec(protocoltest.Issuer, f.Addrs.Factory, &factory.InstantiateCurrency{
		Label: "eur", Name: "Euro", Symbol: "EUR",
	})
	require.ErrorIs(t, err, domain.ErrNotOperator)
}

func TestDuplicateLabelRejected(t *testing.T) {
	f := protocoltest.New(t)
	f.NewBond("dup")
	_, err := f.Exec(protocoltest.Admin, f.Addrs.Factory, &factory.InstantiateBondToken{
		Label:         "dup",
		Issuer:        protocoltest.Issuer,
		Name:          "Green Bond",
		Symbol:        "GRN",
		FunctionSetup: domain.AllFunctions(),
		Currency:      f.Currency,
		Denomination:  domain.Denomination{CurrencyAmount: domain.NewAmount(1), BondAmount: domain.NewAmount(1)},
	})
	require.ErrorIs(t, err, domain.ErrAlreadyExists)
}

func TestBondWiredToProtocol(t *testing.T) {
	f := protocoltest.New(t)
	b := f.NewBond("wired")

	st := protocoltest.Query[bond.State](f, b, &bond.Info{})
	assert.Equal(t, f.Addrs.Escrow, st.Escrow)
	assert.Equal(t, f.Addrs.Orchestrator, st.Orchestrator)
	assert.Equal(t, protocoltest.Issuer, st.Issuer)

	info := protocoltest.Query[token.Info](f, b, &token.TokenInfo{})
	require.NotNil(t, info.Mint)
	assert.Equal(t, f.Addrs.Orchestrator, info.Mint.Minter)
}

func TestInstantiateBondRequiresSetup(t *testing.T) {
	f := protocoltest.New(t)
	rec, err := f.Runtime.Instantiate(f.Ctx, protocoltest.Admin, factory.Code, "bare", &factory.InstantiateMsg{})
	require.NoError(t, err)
	bare := rec.Contract

	_, err = f.Exec(protocoltest.Admin, bare, &factory.InstantiateBondToken{Label: "b"})
	require.ErrorIs(t, err, domain.ErrContractNotSetup)
}

func TestInstantiateBatch(t *testing.T) {
	f := protocoltest.New(t)
	msg, err := json.Marshal(token.InstantiateMsg{
		Name:     "Euro Coin",
		Symbol:   "EURC",
		Decimals: 6,
		InitialBalances: []domain.Coin{
			{Address: protocoltest.Investor1, Amount: domain.NewAmount(42)},
		},
	})
	require.NoError(t, err)

	rec := f.MustExec(protocoltest.Admin, f.Addrs.Factory, &factory.InstantiateBatch{
		Contracts: []factory.ContractInfo{
			{Code: token.Code, Label: "eurc", Msg: msg},
			{Code: token.Code, Label: "eurc-2", Msg: msg},
		},
	})

	var addrs []factory.AddressResponse
	require.NoError(t, json.Unmarshal(rec.Data, &addrs))
	require.Len(t, addrs, 2)
	assert.Equal(t, ledger.ContractAddress(f.Addrs.Factory, token.Code, "eurc"), addrs[0].Address)
	assert.Equal(t, uint64(42), f.Balance(addrs[1].Address, protocoltest.Investor1))

	_, err = f.Exec(protocoltest.Admin, f.Addrs.Factory, &factory.InstantiateBatch{
		Contracts: []factory.ContractInfo{{Code: "nft", Label: "x", Msg: msg}},
	})
	require.ErrorIs(t, err, domain.ErrUnknownCode)
}
