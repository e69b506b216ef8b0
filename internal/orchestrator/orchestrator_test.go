package orchestrator_test

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/alanyoungcy/bondledger/internal/bond"
	"github.com/alanyoungcy/bondledger/internal/domain"
	"github.com/alanyoungcy/bondledger/internal/escrow"
	"github.com/alanyoungcy/bondledger/internal/orchestrator"
	"github.com/alanyoungcy/bondledger/internal/protocol/protocoltest"
	"github.com/alanyoungcy/bondledger/internal/token"
)

type LifecycleSuite struct {
	suite.Suite
	f    *protocoltest.Fixture
	bond common.Address
}

func TestLifecycleSuite(t *testing.T) {
	suite.Run(t, new(LifecycleSuite))
}

func (s *LifecycleSuite) SetupTest() {
	s.f = protocoltest.New(s.T())
	s.bond = s.f.NewBond("green-2030")
}

func (s *LifecycleSuite) subscribeAll() {
	_, err := s.f.Subscribe(s.bond, protocoltest.Investor1, 300, 300)
	s.Require().NoError(err)
	_, err = s.f.Subscribe(s.bond, protocoltest.Investor2, 567, 567)
	s.Require().NoError(err)
}

func (s *LifecycleSuite) distribute() {
	s.f.MustExec(protocoltest.Issuer, s.f.Addrs.Orchestrator, &orchestrator.Distribute{
		BondToken: s.bond,
		InvestmentRules: []domain.InvestmentRule{
			{Investor: protocoltest.Investor1, CurrencyAmount: domain.NewAmount(270)},
			{Investor: protocoltest.Investor2, CurrencyAmount: domain.NewAmount(1000)},
		},
	})
}

func (s *LifecycleSuite) phase() domain.Phase {
	st := protocoltest.Query[bond.State](s.f, s.bond, &bond.Info{})
	return st.Phase
}

func (s *LifecycleSuite) currency(holder common.Address) uint64 {
	return s.f.Balance(s.f.Currency, holder)
}

func (s *LifecycleSuite) TestFullLifecycle() {
	f := s.f

	s.subscribeAll()
	s.Equal(uint64(1734), s.currency(f.Addrs.Escrow))
	s.Equal(uint64(400), s.currency(protocoltest.Investor1))
	s.Equal(uint64(866), s.currency(protocoltest.Investor2))

	subs := protocoltest.Query[escrow.SubscriptionsResponse](f, f.Addrs.Escrow, &escrow.SubscriptionsOf{BondToken: s.bond})
	s.Require().Len(subs.Subscriptions, 2)
	s.Equal("300", subs.Subscriptions[0].CurrencyAmount.String())
	s.Equal("567", subs.Subscriptions[1].CurrencyAmount.String())

	fee := protocoltest.Query[escrow.SystemFeeResponse](f, f.Addrs.Escrow, &escrow.SystemFee{Currency: f.Currency})
	s.Equal("867", fee.Amount.String())

	s.distribute()
	s.Equal(domain.PhaseDistribution, s.phase())
	s.Equal(uint64(867), s.currency(f.Addrs.Escrow))
	s.Equal(uint64(430), s.currency(protocoltest.Investor1))
	s.Equal(uint64(866), s.currency(protocoltest.Investor2))
	s.Equal(uint64(1337), s.currency(protocoltest.Issuer))
	s.Equal(uint64(180), f.Balance(s.bond, protocoltest.Investor1))
	s.Equal(uint64(378), f.Balance(s.bond, protocoltest.Investor2))

	f.Approve(f.Currency, protocoltest.Issuer, f.Addrs.Orchestrator, 444)
	f.MustExec(protocoltest.Issuer, f.Addrs.Orchestrator, &orchestrator.SendCoupon{
		BondToken: s.bond,
		Coupons: []domain.Coupon{
			{Investor: protocoltest.Investor1, CurrencyAmount: domain.NewAmount(123)},
			{Investor: protocoltest.Investor2, CurrencyAmount: domain.NewAmount(321)},
		},
	})
	s.Equal(domain.PhaseCoupon, s.phase())
	s.Equal(uint64(553), s.currency(protocoltest.Investor1))
	s.Equal(uint64(1187), s.currency(protocoltest.Investor2))
	s.Equal(uint64(893), s.currency(protocoltest.Issuer))

	estimate := protocoltest.Query[bond.RedemptionResponse](f, s.bond, &bond.EstimateRedemption{})
	s.Equal("837", estimate.RedemptionAmount.String())

	f.Approve(f.Currency, protocoltest.Issuer, f.Addrs.Orchestrator, 837)
	f.MustExec(protocoltest.Issuer, f.Addrs.Orchestrator, &orchestrator.Redeem{BondToken: s.bond})
	s.Equal(domain.PhaseRedemption, s.phase())
	s.Equal(uint64(823), s.currency(protocoltest.Investor1))
	s.Equal(uint64(1754), s.currency(protocoltest.Investor2))
	s.Equal(uint64(56), s.currency(protocoltest.Issuer))
	s.Equal(uint64(0), f.Balance(s.bond, protocoltest.Investor1))
	s.Equal(uint64(0), f.Balance(s.bond, protocoltest.Investor2))
	s.Equal(uint64(867), s.currency(f.Addrs.Escrow))

	holders := protocoltest.Query[bond.HoldersResponse](f, s.bond, &bond.Holders{})
	s.Empty(holders.Holders)

	f.MustExec(protocoltest.Admin, f.Addrs.Escrow, &escrow.WithdrawSystemFee{Recipient: protocoltest.Admin})
	s.Equal(uint64(0), s.currency(f.Addrs.Escrow))
	s.Equal(uint64(867), s.currency(protocoltest.Admin))
}

func (s *LifecycleSuite) TestDistributeTwiceRejected() {
	s.subscribeAll()
	s.distribute()

	height := s.f.Runtime.Height()
	_, err := s.f.Exec(protocoltest.Issuer, s.f.Addrs.Orchestrator, &orchestrator.Distribute{BondToken: s.bond})
	s.Require().ErrorIs(err, domain.ErrActionNotAllowed)
	s.Equal(height, s.f.Runtime.Height())
}

func (s *LifecycleSuite) TestDistributeRequiresIssuer() {
	s.subscribeAll()
	_, err := s.f.Exec(protocoltest.Investor1, s.f.Addrs.Orchestrator, &orchestrator.Distribute{BondToken: s.bond})
	s.Require().ErrorIs(err, domain.ErrNotIssuer)
	s.Equal(domain.PhaseSubscription, s.phase())
}

func (s *LifecycleSuite) TestUnregisteredBondRejected() {
	stranger := common.HexToAddress("0x00000000000000000000000000000000000000ff")
	for _, msg := range []interface {
		Action() string
	}{
		&orchestrator.Distribute{BondToken: stranger},
		&orchestrator.SendCoupon{BondToken: stranger},
		&orchestrator.Redeem{BondToken: stranger},
	} {
		_, err := s.f.Exec(protocoltest.Issuer, s.f.Addrs.Orchestrator, msg)
		s.Require().ErrorIs(err, domain.ErrInvalidBondToken, msg.Action())
	}
}

func (s *LifecycleSuite) TestCouponBeforeDistributionRejected() {
	s.subscribeAll()
	s.f.Approve(s.f.Currency, protocoltest.Issuer, s.f.Addrs.Orchestrator, 100)
	_, err := s.f.Exec(protocoltest.Issuer, s.f.Addrs.Orchestrator, &orchestrator.SendCoupon{
		BondToken: s.bond,
		Coupons:   []domain.Coupon{{Investor: protocoltest.Investor1, CurrencyAmount: domain.NewAmount(100)}},
	})
	s.Require().ErrorIs(err, domain.ErrInvalidPhase)
	s.Equal(uint64(400), s.currency(protocoltest.Investor1))
}

func (s *LifecycleSuite) TestRedeemFromDistributionRejected() {
	s.subscribeAll()
	s.distribute()

	s.f.Approve(s.f.Currency, protocoltest.Issuer, s.f.Addrs.Orchestrator, 837)
	_, err := s.f.Exec(protocoltest.Issuer, s.f.Addrs.Orchestrator, &orchestrator.Redeem{BondToken: s.bond})
	s.Require().ErrorIs(err, domain.ErrInvalidPhase)
	s.Equal(domain.PhaseDistribution, s.phase())
}

func (s *LifecycleSuite) TestRedeemWithoutAllowanceRollsBack() {
	s.subscribeAll()
	s.distribute()
	s.f.Approve(s.f.Currency, protocoltest.Issuer, s.f.Addrs.Orchestrator, 10)
	s.f.MustExec(protocoltest.Issuer, s.f.Addrs.Orchestrator, &orchestrator.SendCoupon{
		BondToken: s.bond,
		Coupons:   []domain.Coupon{{Investor: protocoltest.Investor1, CurrencyAmount: domain.NewAmount(10)}},
	})

	_, err := s.f.Exec(protocoltest.Issuer, s.f.Addrs.Orchestrator, &orchestrator.Redeem{BondToken: s.bond})
	s.Require().ErrorIs(err, domain.ErrInsufficientAllowance)
	s.Equal(domain.PhaseCoupon, s.phase())
	s.Equal(uint64(180), s.f.Balance(s.bond, protocoltest.Investor1))
	s.Equal(uint64(440), s.currency(protocoltest.Investor1))
}

func (s *LifecycleSuite) TestCouponsMayRepeat() {
	s.subscribeAll()
	s.distribute()
	s.f.Approve(s.f.Currency, protocoltest.Issuer, s.f.Addrs.Orchestrator, 20)
	for range 2 {
		s.f.MustExec(protocoltest.Issuer, s.f.Addrs.Orchestrator, &orchestrator.SendCoupon{
			BondToken: s.bond,
			Coupons:   []domain.Coupon{{Investor: protocoltest.Investor1, CurrencyAmount: domain.NewAmount(10)}},
		})
	}
	s.Equal(domain.PhaseCoupon, s.phase())
	s.Equal(uint64(450), s.currency(protocoltest.Investor1))
}

func (s *LifecycleSuite) TestRedeemBurnsHoldingsWorthNothing() {
	f := s.f
	dust := f.NewBond("dust-2030", protocoltest.WithDenomination(2, 3), protocoltest.WithCallerFee())
	_, err := f.Subscribe(dust, protocoltest.Investor1, 1, 0)
	s.Require().NoError(err)
	_, err = f.Subscribe(dust, protocoltest.Investor2, 300, 0)
	s.Require().NoError(err)

	f.MustExec(protocoltest.Issuer, f.Addrs.Orchestrator, &orchestrator.Distribute{
		BondToken: dust,
		InvestmentRules: []domain.InvestmentRule{
			{Investor: protocoltest.Investor1, CurrencyAmount: domain.NewAmount(1)},
			{Investor: protocoltest.Investor2, CurrencyAmount: domain.NewAmount(300)},
		},
	})
	s.Equal(uint64(1), f.Balance(dust, protocoltest.Investor1))
	s.Equal(uint64(450), f.Balance(dust, protocoltest.Investor2))
	f.MustExec(protocoltest.Issuer, f.Addrs.Orchestrator, &orchestrator.SendCoupon{BondToken: dust})

	holders := protocoltest.Query[bond.HoldersResponse](f, dust, &bond.Holders{})
	s.Require().Len(holders.Holders, 2)
	worth := map[common.Address]string{}
	for _, h := range holders.Holders {
		worth[h.Account] = h.BalanceInCurrency.String()
	}
	s.Equal("0", worth[protocoltest.Investor1])
	s.Equal("300", worth[protocoltest.Investor2])

	before1, before2 := s.currency(protocoltest.Investor1), s.currency(protocoltest.Investor2)
	f.Approve(f.Currency, protocoltest.Issuer, f.Addrs.Orchestrator, 300)
	rec := f.MustExec(protocoltest.Issuer, f.Addrs.Orchestrator, &orchestrator.Redeem{BondToken: dust})

	transfers, burns := 0, 0
	for _, ev := range rec.Events {
		switch {
		case ev.Contract == f.Currency && ev.Action == (&token.TransferFrom{}).Action():
			transfers++
		case ev.Contract == dust && ev.Action == (&bond.BurnFromHolder{}).Action():
			burns++
		}
	}
	s.Equal(1, transfers, "nothing is paid for a holding worth zero")
	s.Equal(2, burns)
	s.Equal(before1, s.currency(protocoltest.Investor1))
	s.Equal(before2+300, s.currency(protocoltest.Investor2))
	s.Equal(uint64(0), f.Balance(dust, protocoltest.Investor1))
	s.Equal(uint64(0), f.Balance(dust, protocoltest.Investor2))

	info := protocoltest.Query[token.Info](f, dust, &token.TokenInfo{})
	s.True(info.TotalSupply.IsZero())
}

func (s *LifecycleSuite) TestDistributeWithRepeatedInvestor() {
	f := s.f
	s.subscribeAll()

	rec := f.MustExec(protocoltest.Issuer, f.Addrs.Orchestrator, &orchestrator.Distribute{
		BondToken: s.bond,
		InvestmentRules: []domain.InvestmentRule{
			{Investor: protocoltest.Investor1, CurrencyAmount: domain.NewAmount(100)},
			{Investor: protocoltest.Investor1, CurrencyAmount: domain.NewAmount(200)},
			{Investor: protocoltest.Investor2, CurrencyAmount: domain.NewAmount(567)},
		},
	})

	mints := 0
	for _, ev := range rec.Events {
		if ev.Contract == f.Addrs.Orchestrator && ev.Action == (&orchestrator.Distribute{}).Action() {
			s.Equal("3", ev.Attr("mints"))
		}
		if ev.Contract == s.bond && ev.Action == (&bond.MintToInvestor{}).Action() {
			mints++
		}
	}
	s.Equal(3, mints, "every rule mints")
	s.Equal(uint64(66+133), f.Balance(s.bond, protocoltest.Investor1))
	s.Equal(uint64(378), f.Balance(s.bond, protocoltest.Investor2))

	// The escrow release honours only the first cap for Investor1.
	s.Equal(uint64(600), s.currency(protocoltest.Investor1))
	s.Equal(uint64(500+100+567), s.currency(protocoltest.Issuer))
	s.Equal(uint64(867), s.currency(f.Addrs.Escrow))
}

func TestBatches(t *testing.T) {
	f := protocoltest.New(t)
	orch := f.Addrs.Orchestrator

	_, err := f.Exec(protocoltest.Issuer, orch, &orchestrator.TransferBatch{})
	require.ErrorIs(t, err, domain.ErrNotOperator)

	f.Approve(f.Currency, protocoltest.Investor1, orch, 100)
	f.MustExec(protocoltest.Admin, orch, &orchestrator.TransferBatch{Items: []orchestrator.TransferItem{
		{Token: f.Currency, Sender: protocoltest.Investor1, Recipient: protocoltest.Issuer, Amount: domain.NewAmount(60)},
		{Token: f.Currency, Sender: protocoltest.Investor1, Recipient: protocoltest.Investor2, Amount: domain.NewAmount(40)},
	}})

	res := protocoltest.Query[orchestrator.BalanceOfBatchResponse](f, orch, &orchestrator.BalanceOfBatch{
		Queries: []orchestrator.BalanceQuery{
			{Token: f.Currency, Holder: protocoltest.Investor1},
			{Token: f.Currency, Holder: protocoltest.Investor2},
			{Token: f.Currency, Holder: protocoltest.Issuer},
		},
	})
	require.Len(t, res.Balances, 3)
	require.Equal(t, "900", res.Balances[0].String())
	require.Equal(t, "2040", res.Balances[1].String())
	require.Equal(t, "560", res.Balances[2].String())

	_, err = f.Exec(protocoltest.Admin, orch, &orchestrator.MintBatch{Items: []orchestrator.MintItem{
		{Token: f.Currency, Recipient: protocoltest.Issuer, Amount: domain.NewAmount(1)},
	}})
	require.ErrorIs(t, err, domain.ErrNotMinter)
}
