package token_test

import (
	"log/slog"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/alanyoungcy/bondledger/internal/domain"
	"github.com/alanyoungcy/bondledger/internal/ledger"
	"github.com/alanyoungcy/bondledger/internal/token"
)

var (
	alice  = common.HexToAddress("0x0000000000000000000000000000000000000a11")
	bob    = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
	minter = common.HexToAddress("0x000000000000000000000000000000000000c0de")
)

type TokenSuite struct {
	suite.Suite
	rt  *ledger.Runtime
	tok common.Address
}

func TestTokenSuite(t *testing.T) {
	suite.Run(t, new(TokenSuite))
}

func (s *TokenSuite) SetupTest() {
	s.rt = ledger.NewRuntime(slog.New(slog.DiscardHandler))
	s.rt.Register(token.Code, token.New())
	limit := domain.NewAmount(1000)
	rec, err := s.rt.Instantiate(s.T().Context(), minter, token.Code, "usd", &token.InstantiateMsg{
		Name:            "US Dollar",
		Symbol:          "USD",
		Decimals:        6,
		InitialBalances: []domain.Coin{{Address: alice, Amount: domain.NewAmount(100)}},
		Mint:            &token.Minter{Minter: minter, Cap: &limit},
	})
	s.Require().NoError(err)
	s.tok = rec.Contract
}

func (s *TokenSuite) exec(sender common.Address, msg ledger.Msg) error {
	_, err := s.rt.Execute(s.T().Context(), sender, s.tok, msg)
	return err
}

func (s *TokenSuite) balance(addr common.Address) string {
	res, err := s.rt.Query(s.T().Context(), s.tok, &token.Balance{Address: addr})
	s.Require().NoError(err)
	return res.(token.BalanceResponse).Balance.String()
}

func (s *TokenSuite) supply() string {
	res, err := s.rt.Query(s.T().Context(), s.tok, &token.TokenInfo{})
	s.Require().NoError(err)
	return res.(token.Info).TotalSupply.String()
}

func (s *TokenSuite) TestTransfer() {
	s.Require().NoError(s.exec(alice, &token.Transfer{Recipient: bob, Amount: domain.NewAmount(40)}))
	s.Equal("60", s.balance(alice))
	s.Equal("40", s.balance(bob))

	s.ErrorIs(s.exec(alice, &token.Transfer{Recipient: bob, Amount: domain.NewAmount(61)}), domain.ErrInsufficientFunds)
	s.ErrorIs(s.exec(alice, &token.Transfer{Recipient: bob}), domain.ErrInvalidZeroAmount)
	s.Equal("60", s.balance(alice))
}

func (s *TokenSuite) TestTransferFrom() {
	s.ErrorIs(s.exec(bob, &token.TransferFrom{Owner: alice, Recipient: bob, Amount: domain.NewAmount(10)}), domain.ErrInsufficientAllowance)

	s.Require().NoError(s.exec(alice, &token.IncreaseAllowance{Spender: bob, Amount: domain.NewAmount(30)}))
	s.Require().NoError(s.exec(bob, &token.TransferFrom{Owner: alice, Recipient: bob, Amount: domain.NewAmount(10)}))
	s.Equal("10", s.balance(bob))

	res, err := s.rt.Query(s.T().Context(), s.tok, &token.Allowance{Owner: alice, Spender: bob})
	s.Require().NoError(err)
	s.Equal("20", res.(token.AllowanceResponse).Allowance.String())

	s.Require().NoError(s.exec(alice, &token.DecreaseAllowance{Spender: bob, Amount: domain.NewAmount(500)}))
	res, err = s.rt.Query(s.T().Context(), s.tok, &token.Allowance{Owner: alice, Spender: bob})
	s.Require().NoError(err)
	s.True(res.(token.AllowanceResponse).Allowance.IsZero())
}

func (s *TokenSuite) TestMint() {
	s.ErrorIs(s.exec(alice, &token.Mint{Recipient: alice, Amount: domain.NewAmount(1)}), domain.ErrNotMinter)

	s.Require().NoError(s.exec(minter, &token.Mint{Recipient: bob, Amount: domain.NewAmount(900)}))
	s.Equal("1000", s.supply())
	s.ErrorIs(s.exec(minter, &token.Mint{Recipient: bob, Amount: domain.NewAmount(1)}), domain.ErrCapExceeded)
	s.Equal("900", s.balance(bob))
}

func (s *TokenSuite) TestBurn() {
	s.Require().NoError(s.exec(alice, &token.Burn{Amount: domain.NewAmount(25)}))
	s.Equal("75", s.balance(alice))
	s.Equal("75", s.supply())
	s.ErrorIs(s.exec(bob, &token.Burn{Amount: domain.NewAmount(1)}), domain.ErrInsufficientFunds)
}

func TestInstantiateValidation(t *testing.T) {
	tests := []struct {
		name string
		msg  token.InstantiateMsg
	}{
		{name: "short name", msg: token.InstantiateMsg{Name: "US", Symbol: "USD"}},
		{name: "bad symbol", msg: token.InstantiateMsg{Name: "Dollar", Symbol: "U$D"}},
		{name: "decimals", msg: token.InstantiateMsg{Name: "Dollar", Symbol: "USD", Decimals: 19}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Error(t, tt.msg.Validate())
		})
	}

	ok := token.InstantiateMsg{Name: "Dollar", Symbol: "USD-X", Decimals: 18}
	require.NoError(t, ok.Validate())
}
