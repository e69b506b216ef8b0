// Package bond implements the bond ledger: bond-unit balances on top of the
// fungible ledger, the subscription entry point and the lifecycle phase
// machine driven by the orchestrator.
package bond

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/bondledger/internal/domain"
	"github.com/alanyoungcy/bondledger/internal/escrow"
	"github.com/alanyoungcy/bondledger/internal/ledger"
	"github.com/alanyoungcy/bondledger/internal/token"
)

var stateItem = ledger.NewItem[State]("bond")

// Contract is the bond code.
type Contract struct {
	codec *ledger.Codec
}

var _ ledger.Contract = (*Contract)(nil)

// New returns the bond code.
func New() *Contract {
	codec := ledger.NewCodec((*InstantiateMsg)(nil)).
		Execute(
			(*MintToInvestor)(nil),
			(*BurnFromHolder)(nil),
			(*Subscribe)(nil),
			(*UpdatePhase)(nil),
			(*token.Transfer)(nil),
			(*token.TransferFrom)(nil),
			(*token.Burn)(nil),
			(*token.IncreaseAllowance)(nil),
			(*token.DecreaseAllowance)(nil),
		).
		Query(
			(*Holders)(nil),
			(*Issuer)(nil),
			(*Currency)(nil),
			(*EstimateRedemption)(nil),
			(*Info)(nil),
			(*token.Balance)(nil),
			(*token.Allowance)(nil),
			(*token.TokenInfo)(nil),
		)
	return &Contract{codec: codec}
}

func (c *Contract) Codec() *ledger.Codec { return c.codec }

func (c *Contract) Instantiate(env ledger.Env, msg ledger.Msg) (*ledger.Response, error) {
	m, ok := msg.(*InstantiateMsg)
	if !ok {
		return nil, ledger.Unsupported(msg)
	}
	policy, err := domain.ResolveFeePolicy(m.SubscriptionFeePercentage, m.SubscriptionFee)
	if err != nil {
		return nil, err
	}
	if err := m.Denomination.Validate(); err != nil {
		return nil, err
	}
	st := State{
		Issuer:         m.Issuer,
		Currency:       m.Currency,
		Escrow:         m.Escrow,
		Orchestrator:   m.Orchestrator,
		Denomination:   m.Denomination,
		FeePolicy:      policy,
		Functions:      m.FunctionSetup,
		AdditionalData: m.AdditionalData,
		Phase:          domain.PhaseSubscription,
	}
	if err := stateItem.Save(env.Store, st); err != nil {
		return nil, err
	}
	info, err := token.Setup(env.Store, &token.InstantiateMsg{
		Name:            m.Name,
		Symbol:          m.Symbol,
		Decimals:        m.Decimals,
		InitialBalances: m.InitialBalances,
		Mint:            &token.Minter{Minter: m.Orchestrator},
	})
	if err != nil {
		return nil, err
	}
	return ledger.NewResponse("instantiate").
		Attr("issuer", m.Issuer.Hex()).
		Attr("symbol", info.Symbol).
		Attr("fee_policy", string(policy.Kind)).
		Attr("phase", string(st.Phase)), nil
}

func (c *Contract) Execute(env ledger.Env, msg ledger.Msg) (*ledger.Response, error) {
	st, err := stateItem.Load(env.Store)
	if err != nil {
		return nil, err
	}
	switch m := msg.(type) {
	case *Subscribe:
		return subscribe(env, st, m)
	case *UpdatePhase:
		return updatePhase(env, st, m)
	case *MintToInvestor:
		return mintToInvestor(env, st, m)
	case *BurnFromHolder:
		return burnFromHolder(env, st, m)
	case *token.Transfer, *token.TransferFrom:
		if !st.Functions.Transfer {
			return nil, domain.Fail(domain.ErrFunctionNotSupported, msg.Action())
		}
		return token.Execute(env, msg)
	case *token.Burn:
		if !st.Functions.Burn {
			return nil, domain.Fail(domain.ErrFunctionNotSupported, msg.Action())
		}
		return token.Execute(env, msg)
	case *token.IncreaseAllowance, *token.DecreaseAllowance:
		return token.Execute(env, msg)
	default:
		return nil, ledger.Unsupported(msg)
	}
}

func subscribe(env ledger.Env, st State, m *Subscribe) (*ledger.Response, error) {
	if !st.Functions.Subscribe {
		return nil, domain.Fail(domain.ErrFunctionNotSupported, m.Action())
	}
	if st.Phase != domain.PhaseSubscription {
		return nil, domain.Fail(domain.ErrActionNotAllowed, m.Action()).WithDetail("phase %s", st.Phase)
	}

	currencyAmount, err := m.SubscriptionAmount.Add(m.FeeAmount)
	if err != nil {
		return nil, err
	}
	fee, err := st.FeePolicy.Compute(currencyAmount, m.FeeAmount)
	if err != nil {
		return nil, err
	}
	net, err := currencyAmount.Sub(fee)
	if err != nil {
		return nil, err
	}

	return ledger.NewResponse(m.Action()).
		Execute(st.Currency, &token.TransferFrom{
			Owner:     env.Sender,
			Recipient: st.Escrow,
			Amount:    currencyAmount,
		}).
		Execute(st.Escrow, &escrow.RegisterSubscription{
			Investor:           env.Sender,
			Currency:           st.Currency,
			SubscriptionAmount: net,
			FeeAmount:          fee,
		}).
		Attr("investor", env.Sender.Hex()).
		Attr("currency_amount", currencyAmount.String()).
		Attr("fee", fee.String()).
		Attr("net", net.String()), nil
}

func updatePhase(env ledger.Env, st State, m *UpdatePhase) (*ledger.Response, error) {
	if env.Sender != st.Orchestrator {
		return nil, domain.Fail(domain.ErrNotOrchestrator, m.Action()).WithAccount(env.Sender)
	}
	if !st.Phase.CanTransition(m.Phase) {
		return nil, domain.Fail(domain.ErrInvalidPhase, m.Action()).WithDetail("%s -> %s", st.Phase, m.Phase)
	}
	from := st.Phase
	if st.Phase != m.Phase {
		st.Phase = m.Phase
		if err := stateItem.Save(env.Store, st); err != nil {
			return nil, err
		}
	}
	return ledger.NewResponse(m.Action()).
		Attr("from", string(from)).
		Attr("to", string(m.Phase)), nil
}

func mintToInvestor(env ledger.Env, st State, m *MintToInvestor) (*ledger.Response, error) {
	if !st.Functions.MintToInvestor {
		return nil, domain.Fail(domain.ErrFunctionNotSupported, m.Action())
	}
	if m.Issuer != st.Issuer {
		return nil, domain.Fail(domain.ErrNotIssuer, m.Action()).WithAccount(m.Issuer)
	}
	units, err := st.Denomination.ToBond(m.CurrencyAmount)
	if err != nil {
		return nil, err
	}
	if !units.IsZero() {
		if err := token.MintTo(env.Store, env.Sender, m.Recipient, units); err != nil {
			return nil, err
		}
	}
	return ledger.NewResponse(m.Action()).
		Attr("recipient", m.Recipient.Hex()).
		Attr("currency_amount", m.CurrencyAmount.String()).
		Attr("bond_amount", units.String()), nil
}

func burnFromHolder(env ledger.Env, st State, m *BurnFromHolder) (*ledger.Response, error) {
	if !st.Functions.Burn {
		return nil, domain.Fail(domain.ErrFunctionNotSupported, m.Action())
	}
	if env.Sender != st.Orchestrator {
		return nil, domain.Fail(domain.ErrNotOrchestrator, m.Action()).WithAccount(env.Sender)
	}
	if m.Issuer != st.Issuer {
		return nil, domain.Fail(domain.ErrNotIssuer, m.Action()).WithAccount(m.Issuer)
	}
	burned, err := token.BurnAll(env.Store, m.Holder)
	if err != nil {
		return nil, err
	}
	return ledger.NewResponse(m.Action()).
		Attr("holder", m.Holder.Hex()).
		Attr("amount", burned.String()), nil
}

func (c *Contract) Query(env ledger.QueryEnv, msg ledger.Msg) (any, error) {
	st, err := stateItem.Load(env.Store)
	if err != nil {
		return nil, err
	}
	switch msg.(type) {
	case *Holders:
		holders, err := listHolders(env.Store, st.Denomination)
		if err != nil {
			return nil, err
		}
		return HoldersResponse{Holders: holders}, nil
	case *Issuer:
		return IssuerResponse{Issuer: st.Issuer}, nil
	case *Currency:
		return CurrencyResponse{Currency: st.Currency}, nil
	case *EstimateRedemption:
		info, err := token.LoadInfo(env.Store)
		if err != nil {
			return nil, err
		}
		amount, err := st.Denomination.ToCurrency(info.TotalSupply)
		if err != nil {
			return nil, err
		}
		return RedemptionResponse{RedemptionAmount: amount}, nil
	case *Info:
		return st, nil
	default:
		return token.Query(env, msg)
	}
}

// listHolders returns every account with a non-zero bond balance in address
// order, valued in currency.
func listHolders(r ledger.Reader, d domain.Denomination) ([]domain.Holder, error) {
	holders := []domain.Holder{}
	err := token.EachBalance(r, func(addr common.Address, bal domain.Amount) error {
		if bal.IsZero() {
			return nil
		}
		value, err := d.ToCurrency(bal)
		if err != nil {
			return err
		}
		holders = append(holders, domain.Holder{Account: addr, BalanceInCurrency: value})
		return nil
	})
	return holders, err
}
