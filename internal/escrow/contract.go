// Package escrow pools investor subscriptions per bond and protocol fees per
// currency until the orchestrator releases them.
package escrow

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/bondledger/internal/access"
	"github.com/alanyoungcy/bondledger/internal/domain"
	"github.com/alanyoungcy/bondledger/internal/ledger"
	"github.com/alanyoungcy/bondledger/internal/token"
)

var (
	configItem    = ledger.NewItem[Config]("config")
	bondTokens    = ledger.NewMap[uint64]("bond")
	subscriptions = ledger.NewMap[[]domain.Subscription]("subscriptions")
	systemFees    = ledger.NewMap[domain.Amount]("fee")
	released      = ledger.NewMap[uint64]("released")
)

// Contract is the escrow code.
type Contract struct {
	codec *ledger.Codec
}

var _ ledger.Contract = (*Contract)(nil)

// New returns the escrow code.
func New() *Contract {
	codec := ledger.NewCodec((*InstantiateMsg)(nil)).
		Execute(
			(*Setup)(nil),
			(*access.SetOperators)(nil),
			(*RegisterBondToken)(nil),
			(*RegisterSubscription)(nil),
			(*ReleaseCurrency)(nil),
			(*WithdrawSystemFee)(nil),
		).
		Query(
			(*SubscriptionsOf)(nil),
			(*ValidateBondToken)(nil),
			(*SystemFee)(nil),
			(*BondTokens)(nil),
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
	case *RegisterBondToken:
		return registerBondToken(env, m)
	case *RegisterSubscription:
		return registerSubscription(env, m)
	case *ReleaseCurrency:
		return releaseCurrency(env, m)
	case *WithdrawSystemFee:
		return withdrawSystemFee(env, m)
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
	cfg.Factory = &m.Factory
	cfg.Orchestrator = &m.Orchestrator
	if err := configItem.Save(env.Store, cfg); err != nil {
		return nil, err
	}
	return ledger.NewResponse(m.Action()).
		Attr("factory", m.Factory.Hex()).
		Attr("orchestrator", m.Orchestrator.Hex()), nil
}

func registerBondToken(env ledger.Env, m *RegisterBondToken) (*ledger.Response, error) {
	if err := access.RequireOperator(env.Store, env.Sender, m.Action()); err != nil {
		return nil, err
	}
	if bondTokens.Has(env.Store, ledger.AddressKey(m.BondToken)) {
		return nil, domain.Fail(domain.ErrBondAlreadyRegistered, m.Action()).WithAccount(m.BondToken)
	}
	if err := bondTokens.Save(env.Store, ledger.AddressKey(m.BondToken), env.Height); err != nil {
		return nil, err
	}
	return ledger.NewResponse(m.Action()).Attr("bond_token", m.BondToken.Hex()), nil
}

func registerSubscription(env ledger.Env, m *RegisterSubscription) (*ledger.Response, error) {
	bond := env.Sender
	if !bondTokens.Has(env.Store, ledger.AddressKey(bond)) {
		return nil, domain.Fail(domain.ErrNotBondToken, m.Action()).WithAccount(bond)
	}

	fee, err := loadFee(env.Store, m.Currency)
	if err != nil {
		return nil, err
	}
	if fee, err = fee.Add(m.FeeAmount); err != nil {
		return nil, err
	}
	if err := systemFees.Save(env.Store, ledger.AddressKey(m.Currency), fee); err != nil {
		return nil, err
	}

	subs, _, err := subscriptions.MayLoad(env.Store, ledger.AddressKey(bond))
	if err != nil {
		return nil, err
	}
	found := false
	for i := range subs {
		if subs[i].Investor == m.Investor {
			if subs[i].CurrencyAmount, err = subs[i].CurrencyAmount.Add(m.SubscriptionAmount); err != nil {
				return nil, err
			}
			found = true
			break
		}
	}
	if !found {
		subs = append(subs, domain.Subscription{Investor: m.Investor, CurrencyAmount: m.SubscriptionAmount})
	}
	if err := subscriptions.Save(env.Store, ledger.AddressKey(bond), subs); err != nil {
		return nil, err
	}

	return ledger.NewResponse(m.Action()).
		Attr("bond_token", bond.Hex()).
		Attr("investor", m.Investor.Hex()).
		Attr("subscription_amount", m.SubscriptionAmount.String()).
		Attr("fee_amount", m.FeeAmount.String()), nil
}

func releaseCurrency(env ledger.Env, m *ReleaseCurrency) (*ledger.Response, error) {
	cfg, err := configItem.Load(env.Store)
	if err != nil {
		return nil, err
	}
	if cfg.Orchestrator == nil {
		return nil, domain.Fail(domain.ErrContractNotSetup, m.Action())
	}
	if *cfg.Orchestrator != env.Sender {
		return nil, domain.Fail(domain.ErrNotOrchestrator, m.Action()).WithAccount(env.Sender)
	}
	if !bondTokens.Has(env.Store, ledger.AddressKey(m.BondToken)) {
		return nil, domain.Fail(domain.ErrInvalidBondToken, m.Action()).WithAccount(m.BondToken)
	}
	if released.Has(env.Store, ledger.AddressKey(m.BondToken)) {
		return nil, domain.Fail(domain.ErrActionNotAllowed, m.Action()).
			WithAccount(m.BondToken).
			WithDetail("currency already released")
	}

	subs, _, err := subscriptions.MayLoad(env.Store, ledger.AddressKey(m.BondToken))
	if err != nil {
		return nil, err
	}

	resp := ledger.NewResponse(m.Action())
	var invested, refunded domain.Amount
	for _, sub := range subs {
		accepted := domain.MinAmount(sub.CurrencyAmount, domain.CapFor(m.InvestmentRules, sub.Investor))
		if invested, err = invested.Add(accepted); err != nil {
			return nil, err
		}
		excess, err := sub.CurrencyAmount.Sub(accepted)
		if err != nil {
			return nil, err
		}
		if excess.IsZero() {
			continue
		}
		if refunded, err = refunded.Add(excess); err != nil {
			return nil, err
		}
		resp.Execute(m.Currency, &token.Transfer{Recipient: sub.Investor, Amount: excess})
	}
	if !invested.IsZero() {
		resp.Execute(m.Currency, &token.Transfer{Recipient: m.Issuer, Amount: invested})
	}
	if err := released.Save(env.Store, ledger.AddressKey(m.BondToken), env.Height); err != nil {
		return nil, err
	}

	return resp.
		Attr("bond_token", m.BondToken.Hex()).
		Attr("issuer", m.Issuer.Hex()).
		Attr("invested", invested.String()).
		Attr("refunded", refunded.String()), nil
}

func withdrawSystemFee(env ledger.Env, m *WithdrawSystemFee) (*ledger.Response, error) {
	if err := access.RequireAdmin(env.Store, env.Sender, m.Action()); err != nil {
		return nil, err
	}

	type pool struct {
		currency common.Address
		amount   domain.Amount
	}
	var pools []pool
	err := systemFees.Range(env.Store, func(k []byte, amount domain.Amount) error {
		if !amount.IsZero() {
			pools = append(pools, pool{currency: ledger.KeyAddress(k), amount: amount})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	resp := ledger.NewResponse(m.Action()).Attr("recipient", m.Recipient.Hex())
	for _, p := range pools {
		resp.Execute(p.currency, &token.Transfer{Recipient: m.Recipient, Amount: p.amount})
		if err := systemFees.Save(env.Store, ledger.AddressKey(p.currency), domain.Amount{}); err != nil {
			return nil, err
		}
		resp.Attr("fee:"+p.currency.Hex(), p.amount.String())
	}
	return resp, nil
}

func loadFee(r ledger.Reader, currency common.Address) (domain.Amount, error) {
	fee, _, err := systemFees.MayLoad(r, ledger.AddressKey(currency))
	return fee, err
}

func (c *Contract) Query(env ledger.QueryEnv, msg ledger.Msg) (any, error) {
	switch m := msg.(type) {
	case *SubscriptionsOf:
		subs, _, err := subscriptions.MayLoad(env.Store, ledger.AddressKey(m.BondToken))
		if err != nil {
			return nil, err
		}
		if subs == nil {
			subs = []domain.Subscription{}
		}
		return SubscriptionsResponse{Subscriptions: subs}, nil
	case *ValidateBondToken:
		return ValidationResponse{Validity: bondTokens.Has(env.Store, ledger.AddressKey(m.BondToken))}, nil
	case *SystemFee:
		fee, err := loadFee(env.Store, m.Currency)
		if err != nil {
			return nil, err
		}
		return SystemFeeResponse{Currency: m.Currency, Amount: fee}, nil
	case *BondTokens:
		resp := BondTokensResponse{BondTokens: []common.Address{}}
		err := bondTokens.Range(env.Store, func(k []byte, _ uint64) error {
			resp.BondTokens = append(resp.BondTokens, ledger.KeyAddress(k))
			return nil
		})
		return resp, err
	case *ConfigQuery:
		return configItem.Load(env.Store)
	case *access.Operators:
		return access.List(env.Store)
	default:
		return nil, ledger.Unsupported(msg)
	}
}
