// Package orchestrator sequences the multi-contract bond workflows:
// distribution, coupon payment and redemption.
package orchestrator

import (
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/bondledger/internal/access"
	"github.com/alanyoungcy/bondledger/internal/bond"
	"github.com/alanyoungcy/bondledger/internal/domain"
	"github.com/alanyoungcy/bondledger/internal/escrow"
	"github.com/alanyoungcy/bondledger/internal/ledger"
	"github.com/alanyoungcy/bondledger/internal/token"
)

var (
	configItem  = ledger.NewItem[Config]("config")
	distributed = ledger.NewMap[uint64]("distributed")
)

// Contract is the orchestrator code.
type Contract struct {
	codec *ledger.Codec
}

var _ ledger.Contract = (*Contract)(nil)

// New returns the orchestrator code.
func New() *Contract {
	codec := ledger.NewCodec((*InstantiateMsg)(nil)).
		Execute(
			(*Setup)(nil),
			(*access.SetOperators)(nil),
			(*MintBatch)(nil),
			(*TransferBatch)(nil),
			(*Distribute)(nil),
			(*SendCoupon)(nil),
			(*Redeem)(nil),
		).
		Query(
			(*BalanceOfBatch)(nil),
			(*ConfigQuery)(nil),
			(*access.Operators)(nil),
		)
	return &Contract{codec: codec}
}

func (c *Contract) Codec() *ledger.Codec { return c.codec }

func (c *Contract) Instantiate(env ledger.Env, msg ledger.Msg) (*ledger.Response, error) {
	if _, ok := msg.(*InstantiateMsg); !ok {
		return nil, ledger.Unsupported(msg)
	}
	if err := access.Init(env.Store, env.Sender); err != nil {
		return nil, err
	}
	if err := configItem.Save(env.Store, Config{Admin: env.Sender}); err != nil {
		return nil, err
	}
	return ledger.NewResponse("instantiate").Attr("admin", env.Sender.Hex()), nil
}

func (c *Contract) Execute(env ledger.Env, msg ledger.Msg) (*ledger.Response, error) {
	switch m := msg.(type) {
	case *Setup:
		return setup(env, m)
	case *access.SetOperators:
		return access.Apply(env, m)
	case *MintBatch:
		return mintBatch(env, m)
	case *TransferBatch:
		return transferBatch(env, m)
	case *Distribute:
		return distribute(env, m)
	case *SendCoupon:
		return sendCoupon(env, m)
	case *Redeem:
		return redeem(env, m)
	default:
		return nil, ledger.Unsupported(msg)
	}
}

func setup(env ledger.Env, m *Setup) (*ledger.Response, error) {
	if err := access.RequireAdmin(env.Store, env.Sender, m.Action()); err != nil {
		return nil, err
	}
	cfg, err := configItem.Load(env.Store)
	if err != nil {
		return nil, err
	}
	cfg.Escrow = &m.Escrow
	cfg.Factory = &m.Factory
	if err := configItem.Save(env.Store, cfg); err != nil {
		return nil, err
	}
	return ledger.NewResponse(m.Action()).
		Attr("escrow", m.Escrow.Hex()).
		Attr("factory", m.Factory.Hex()), nil
}

func mintBatch(env ledger.Env, m *MintBatch) (*ledger.Response, error) {
	if err := access.RequireOperator(env.Store, env.Sender, m.Action()); err != nil {
		return nil, err
	}
	resp := ledger.NewResponse(m.Action()).Attr("items", strconv.Itoa(len(m.Items)))
	for _, item := range m.Items {
		resp.Execute(item.Token, &token.Mint{Recipient: item.Recipient, Amount: item.Amount})
	}
	return resp, nil
}

func transferBatch(env ledger.Env, m *TransferBatch) (*ledger.Response, error) {
	if err := access.RequireOperator(env.Store, env.Sender, m.Action()); err != nil {
		return nil, err
	}
	resp := ledger.NewResponse(m.Action()).Attr("items", strconv.Itoa(len(m.Items)))
	for _, item := range m.Items {
		resp.Execute(item.Token, &token.TransferFrom{
			Owner:     item.Sender,
			Recipient: item.Recipient,
			Amount:    item.Amount,
		})
	}
	return resp, nil
}

// authorize checks that bondToken is registered in escrow and that caller is
// its issuer. It returns the escrow address.
func authorize(env ledger.Env, action string, bondToken common.Address) (common.Address, error) {
	cfg, err := configItem.Load(env.Store)
	if err != nil {
		return common.Address{}, err
	}
	if cfg.Escrow == nil {
		return common.Address{}, domain.Fail(domain.ErrContractNotSetup, action)
	}
	validity, err := ledger.QueryAs[escrow.ValidationResponse](env.Querier, *cfg.Escrow,
		&escrow.ValidateBondToken{BondToken: bondToken})
	if err != nil {
		return common.Address{}, err
	}
	if !validity.Validity {
		return common.Address{}, domain.Fail(domain.ErrInvalidBondToken, action).WithAccount(bondToken)
	}
	issuer, err := ledger.QueryAs[bond.IssuerResponse](env.Querier, bondToken, &bond.Issuer{})
	if err != nil {
		return common.Address{}, err
	}
	if issuer.Issuer != env.Sender {
		return common.Address{}, domain.Fail(domain.ErrNotIssuer, action).
			WithAccount(env.Sender).
			WithDetail("bond %s", bondToken.Hex())
	}
	return *cfg.Escrow, nil
}

func distribute(env ledger.Env, m *Distribute) (*ledger.Response, error) {
	escrowAddr, err := authorize(env, m.Action(), m.BondToken)
	if err != nil {
		return nil, err
	}
	if distributed.Has(env.Store, ledger.AddressKey(m.BondToken)) {
		return nil, domain.Fail(domain.ErrActionNotAllowed, m.Action()).
			WithAccount(m.BondToken).
			WithDetail("bond already distributed")
	}
	subs, err := ledger.QueryAs[escrow.SubscriptionsResponse](env.Querier, escrowAddr,
		&escrow.SubscriptionsOf{BondToken: m.BondToken})
	if err != nil {
		return nil, err
	}

	resp := ledger.NewResponse(m.Action()).
		Execute(m.BondToken, &bond.UpdatePhase{Phase: domain.PhaseDistribution})

	minted := 0
	for _, rule := range m.InvestmentRules {
		for _, sub := range subs.Subscriptions {
			if rule.Investor != sub.Investor {
				continue
			}
			invested := domain.MinAmount(rule.CurrencyAmount, sub.CurrencyAmount)
			if invested.IsZero() {
				continue
			}
			resp.Execute(m.BondToken, &bond.MintToInvestor{
				Issuer:         env.Sender,
				Recipient:      rule.Investor,
				CurrencyAmount: invested,
			})
			minted++
		}
	}

	currency, err := ledger.QueryAs[bond.CurrencyResponse](env.Querier, m.BondToken, &bond.Currency{})
	if err != nil {
		return nil, err
	}
	resp.Execute(escrowAddr, &escrow.ReleaseCurrency{
		Issuer:          env.Sender,
		BondToken:       m.BondToken,
		Currency:        currency.Currency,
		InvestmentRules: m.InvestmentRules,
	})

	if err := distributed.Save(env.Store, ledger.AddressKey(m.BondToken), env.Height); err != nil {
		return nil, err
	}
	return resp.
		Attr("bond_token", m.BondToken.Hex()).
		Attr("issuer", env.Sender.Hex()).
		Attr("mints", strconv.Itoa(minted)), nil
}

func sendCoupon(env ledger.Env, m *SendCoupon) (*ledger.Response, error) {
	if _, err := authorize(env, m.Action(), m.BondToken); err != nil {
		return nil, err
	}
	currency, err := ledger.QueryAs[bond.CurrencyResponse](env.Querier, m.BondToken, &bond.Currency{})
	if err != nil {
		return nil, err
	}

	resp := ledger.NewResponse(m.Action()).
		Execute(m.BondToken, &bond.UpdatePhase{Phase: domain.PhaseCoupon})
	var total domain.Amount
	for _, c := range m.Coupons {
		resp.Execute(currency.Currency, &token.TransferFrom{
			Owner:     env.Sender,
			Recipient: c.Investor,
			Amount:    c.CurrencyAmount,
		})
		if total, err = total.Add(c.CurrencyAmount); err != nil {
			return nil, err
		}
	}
	return resp.
		Attr("bond_token", m.BondToken.Hex()).
		Attr("coupons", strconv.Itoa(len(m.Coupons))).
		Attr("total", total.String()), nil
}

func redeem(env ledger.Env, m *Redeem) (*ledger.Response, error) {
	if _, err := authorize(env, m.Action(), m.BondToken); err != nil {
		return nil, err
	}

	resp := ledger.NewResponse(m.Action()).
		Execute(m.BondToken, &bond.UpdatePhase{Phase: domain.PhaseRedemption})

	currency, err := ledger.QueryAs[bond.CurrencyResponse](env.Querier, m.BondToken, &bond.Currency{})
	if err != nil {
		return nil, err
	}
	holders, err := ledger.QueryAs[bond.HoldersResponse](env.Querier, m.BondToken, &bond.Holders{})
	if err != nil {
		return nil, err
	}

	var total domain.Amount
	for _, h := range holders.Holders {
		if !h.BalanceInCurrency.IsZero() {
			resp.Execute(currency.Currency, &token.TransferFrom{
				Owner:     env.Sender,
				Recipient: h.Account,
				Amount:    h.BalanceInCurrency,
			})
			if total, err = total.Add(h.BalanceInCurrency); err != nil {
				return nil, err
			}
		}
		resp.Execute(m.BondToken, &bond.BurnFromHolder{Issuer: env.Sender, Holder: h.Account})
	}
	return resp.
		Attr("bond_token", m.BondToken.Hex()).
		Attr("holders", strconv.Itoa(len(holders.Holders))).
		Attr("total", total.String()), nil
}

func (c *Contract) Query(env ledger.QueryEnv, msg ledger.Msg) (any, error) {
	switch m := msg.(type) {
	case *BalanceOfBatch:
		out := BalanceOfBatchResponse{Balances: make([]domain.Amount, 0, len(m.Queries))}
		for _, q := range m.Queries {
			bal, err := ledger.QueryAs[token.BalanceResponse](env.Querier, q.Token, &token.Balance{Address: q.Holder})
			if err != nil {
				return nil, err
			}
			out.Balances = append(out.Balances, bal.Balance)
		}
		return out, nil
	case *ConfigQuery:
		return configItem.Load(env.Store)
	case *access.Operators:
		return access.List(env.Store)
	default:
		return nil, ledger.Unsupported(msg)
	}
}
