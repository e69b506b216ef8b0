// Package token implements the fungible currency ledger: balances, allowances
// and an optional minter, in the shape of a cw20 token.
package token

import (
	"github.com/alanyoungcy/bondledger/internal/domain"
	"github.com/alanyoungcy/bondledger/internal/ledger"
)

// Contract is the currency ledger code.
type Contract struct {
	codec *ledger.Codec
}

var _ ledger.Contract = (*Contract)(nil)

// New returns the currency ledger code.
func New() *Contract {
	return &Contract{codec: NewCodec(ledger.NewCodec((*InstantiateMsg)(nil)))}
}

// NewCodec registers the fungible execute and query messages on c.
func NewCodec(c *ledger.Codec) *ledger.Codec {
	return c.
		Execute(
			(*Transfer)(nil),
			(*TransferFrom)(nil),
			(*Mint)(nil),
			(*Burn)(nil),
			(*IncreaseAllowance)(nil),
			(*DecreaseAllowance)(nil),
		).
		Query(
			(*Balance)(nil),
			(*Allowance)(nil),
			(*TokenInfo)(nil),
		)
}

func (c *Contract) Codec() *ledger.Codec { return c.codec }

func (c *Contract) Instantiate(env ledger.Env, msg ledger.Msg) (*ledger.Response, error) {
	m, ok := msg.(*InstantiateMsg)
	if !ok {
		return nil, ledger.Unsupported(msg)
	}
	info, err := Setup(env.Store, m)
	if err != nil {
		return nil, err
	}
	return ledger.NewResponse("instantiate").
		Attr("name", info.Name).
		Attr("symbol", info.Symbol).
		Attr("total_supply", info.TotalSupply.String()), nil
}

func (c *Contract) Execute(env ledger.Env, msg ledger.Msg) (*ledger.Response, error) {
	return Execute(env, msg)
}

// Execute applies a fungible execute message. Contracts embedding the
// fungible ledger delegate to it after their own checks.
func Execute(env ledger.Env, msg ledger.Msg) (*ledger.Response, error) {
	switch m := msg.(type) {
	case *Transfer:
		if err := Move(env.Store, m.Action(), env.Sender, m.Recipient, m.Amount); err != nil {
			return nil, err
		}
		return ledger.NewResponse(m.Action()).
			Attr("from", env.Sender.Hex()).
			Attr("to", m.Recipient.Hex()).
			Attr("amount", m.Amount.String()), nil

	case *TransferFrom:
		if m.Amount.IsZero() {
			return nil, domain.Fail(domain.ErrInvalidZeroAmount, m.Action())
		}
		if err := SpendAllowance(env.Store, m.Action(), m.Owner, env.Sender, m.Amount); err != nil {
			return nil, err
		}
		if err := Move(env.Store, m.Action(), m.Owner, m.Recipient, m.Amount); err != nil {
			return nil, err
		}
		return ledger.NewResponse(m.Action()).
			Attr("from", m.Owner.Hex()).
			Attr("to", m.Recipient.Hex()).
			Attr("by", env.Sender.Hex()).
			Attr("amount", m.Amount.String()), nil

	case *Mint:
		if err := MintTo(env.Store, env.Sender, m.Recipient, m.Amount); err != nil {
			return nil, err
		}
		return ledger.NewResponse(m.Action()).
			Attr("to", m.Recipient.Hex()).
			Attr("amount", m.Amount.String()), nil

	case *Burn:
		if err := BurnFrom(env.Store, env.Sender, m.Amount); err != nil {
			return nil, err
		}
		return ledger.NewResponse(m.Action()).
			Attr("from", env.Sender.Hex()).
			Attr("amount", m.Amount.String()), nil

	case *IncreaseAllowance:
		a, err := ChangeAllowance(env.Store, env.Sender, m.Spender, m.Amount, true)
		if err != nil {
			return nil, err
		}
		return ledger.NewResponse(m.Action()).
			Attr("owner", env.Sender.Hex()).
			Attr("spender", m.Spender.Hex()).
			Attr("allowance", a.String()), nil

	case *DecreaseAllowance:
		a, err := ChangeAllowance(env.Store, env.Sender, m.Spender, m.Amount, false)
		if err != nil {
			return nil, err
		}
		return ledger.NewResponse(m.Action()).
			Attr("owner", env.Sender.Hex()).
			Attr("spender", m.Spender.Hex()).
			Attr("allowance", a.String()), nil

	default:
		return nil, ledger.Unsupported(msg)
	}
}

func (c *Contract) Query(env ledger.QueryEnv, msg ledger.Msg) (any, error) {
	return Query(env, msg)
}

// Query answers a fungible query.
func Query(env ledger.QueryEnv, msg ledger.Msg) (any, error) {
	switch m := msg.(type) {
	case *Balance:
		bal, err := BalanceOf(env.Store, m.Address)
		if err != nil {
			return nil, err
		}
		return BalanceResponse{Balance: bal}, nil
	case *Allowance:
		a, err := AllowanceOf(env.Store, m.Owner, m.Spender)
		if err != nil {
			return nil, err
		}
		return AllowanceResponse{Allowance: a}, nil
	case *TokenInfo:
		return LoadInfo(env.Store)
	default:
		return nil, ledger.Unsupported(msg)
	}
}
