// Package factory deploys currency and bond instances wired to the shared
// escrow and orchestrator.
package factory

import (
	"strconv"

	"github.com/alanyoungcy/bondledger/internal/access"
	"github.com/alanyoungcy/bondledger/internal/bond"
	"github.com/alanyoungcy/bondledger/internal/domain"
	"github.com/alanyoungcy/bondledger/internal/escrow"
	"github.com/alanyoungcy/bondledger/internal/ledger"
	"github.com/alanyoungcy/bondledger/internal/token"
)

var configItem = ledger.NewItem[Config]("config")

// Contract is the factory code.
type Contract struct {
	codec *ledger.Codec
}

var _ ledger.Contract = (*Contract)(nil)

// New returns the factory code.
func New() *Contract {
	codec := ledger.NewCodec((*InstantiateMsg)(nil)).
		Execute(
			(*Setup)(nil),
			(*access.SetOperators)(nil),
			(*InstantiateCurrency)(nil),
			(*InstantiateBondToken)(nil),
			(*InstantiateBatch)(nil),
		).
		Query(
			(*PredictAddress)(nil),
			(*ConfigQuery)(nil),
			(*access.Operators)(nil),
		)
	return &Contract{codec: codec}
}

func (c *Contract) Codec() *ledger.Codec { return c.codec }

func (c *Contract) Instantiate(env ledger.Env, msg ledger.Msg) (*ledger.Response, error) {
	m, ok := msg.(*InstantiateMsg)
	if !ok {
		return nil, ledger.Unsupported(msg)
	}
	cfg := Config{
		Admin:        env.Sender,
		CurrencyCode: m.CurrencyCode,
		BondCode:     m.BondCode,
	}
	if cfg.CurrencyCode == "" {
		cfg.CurrencyCode = token.Code
	}
	if cfg.BondCode == "" {
		cfg.BondCode = bond.Code
	}
	if err := access.Init(env.Store, env.Sender); err != nil {
		return nil, err
	}
	if err := configItem.Save(env.Store, cfg); err != nil {
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
	case *InstantiateCurrency:
		return instantiateCurrency(env, m)
	case *InstantiateBondToken:
		return instantiateBondToken(env, m)
	case *InstantiateBatch:
		return instantiateBatch(env, m)
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
	cfg.Orchestrator = &m.Orchestrator
	if err := configItem.Save(env.Store, cfg); err != nil {
		return nil, err
	}
	return ledger.NewResponse(m.Action()), nil
}

func instantiateCurrency(env ledger.Env, m *InstantiateCurrency) (*ledger.Response, error) {
	if err := access.RequireOperator(env.Store, env.Sender, m.Action()); err != nil {
		return nil, err
	}
	cfg, err := configItem.Load(env.Store)
	if err != nil {
		return nil, err
	}
	addr := ledger.ContractAddress(env.Self, cfg.CurrencyCode, m.Label)
	return ledger.NewResponse(m.Action()).
		Instantiate(ledger.InstantiateMsg{
			Code:  cfg.CurrencyCode,
			Label: m.Label,
			Msg: &token.InstantiateMsg{
				Name:            m.Name,
				Symbol:          m.Symbol,
				Decimals:        m.Decimals,
				InitialBalances: m.InitialBalances,
				Mint:            m.Mint,
			},
		}).
		Attr("address", addr.Hex()).
		WithData(AddressResponse{Address: addr}), nil
}

func instantiateBondToken(env ledger.Env, m *InstantiateBondToken) (*ledger.Response, error) {
	if err := access.RequireOperator(env.Store, env.Sender, m.Action()); err != nil {
		return nil, err
	}
	cfg, err := configItem.Load(env.Store)
	if err != nil {
		return nil, err
	}
	if cfg.Escrow == nil || cfg.Orchestrator == nil {
		return nil, domain.Fail(domain.ErrContractNotSetup, m.Action())
	}
	addr := ledger.ContractAddress(env.Self, cfg.BondCode, m.Label)
	return ledger.NewResponse(m.Action()).
		Instantiate(ledger.InstantiateMsg{
			Code:  cfg.BondCode,
			Label: m.Label,
			Msg: &bond.InstantiateMsg{
				Issuer:                    m.Issuer,
				Name:                      m.Name,
				Symbol:                    m.Symbol,
				Decimals:                  m.Decimals,
				InitialBalances:           m.InitialBalances,
				FunctionSetup:             m.FunctionSetup,
				AdditionalData:            m.AdditionalData,
				Currency:                  m.Currency,
				Escrow:                    *cfg.Escrow,
				Orchestrator:              *cfg.Orchestrator,
				Denomination:              m.Denomination,
				SubscriptionFeePercentage: m.SubscriptionFeePercentage,
				SubscriptionFee:           m.SubscriptionFee,
			},
		}).
		Execute(*cfg.Escrow, &escrow.RegisterBondToken{BondToken: addr}).
		Attr("address", addr.Hex()).
		Attr("issuer", m.Issuer.Hex()).
		WithData(AddressResponse{Address: addr}), nil
}

func instantiateBatch(env ledger.Env, m *InstantiateBatch) (*ledger.Response, error) {
	if err := access.RequireOperator(env.Store, env.Sender, m.Action()); err != nil {
		return nil, err
	}
	resp := ledger.NewResponse(m.Action()).Attr("count", strconv.Itoa(len(m.Contracts)))
	addrs := make([]AddressResponse, 0, len(m.Contracts))
	for _, ci := range m.Contracts {
		resp.Instantiate(ledger.InstantiateMsg{Code: ci.Code, Label: ci.Label, Raw: ci.Msg})
		addrs = append(addrs, AddressResponse{Address: ledger.ContractAddress(env.Self, ci.Code, ci.Label)})
	}
	return resp.WithData(addrs), nil
}

func (c *Contract) Query(env ledger.QueryEnv, msg ledger.Msg) (any, error) {
	switch m := msg.(type) {
	case *PredictAddress:
		return AddressResponse{Address: ledger.ContractAddress(env.Self, m.Code, m.Label)}, nil
	case *ConfigQuery:
		return configItem.Load(env.Store)
	case *access.Operators:
		return access.List(env.Store)
	default:
		return nil, ledger.Unsupported(msg)
	}
}
