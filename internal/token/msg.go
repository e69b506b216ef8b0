package token

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/bondledger/internal/domain"
)

// Code is the registered name of the currency contract.
const Code = "currency"

// Minter is the account allowed to mint, with an optional supply cap.
type Minter struct {
	Minter common.Address `json:"minter"`
	Cap    *domain.Amount `json:"cap,omitempty"`
}

// InstantiateMsg creates a fungible token.
type InstantiateMsg struct {
	Name            string        `json:"name"`
	Symbol          string        `json:"symbol"`
	Decimals        uint8         `json:"decimals"`
	InitialBalances []domain.Coin `json:"initial_balances"`
	Mint            *Minter       `json:"mint,omitempty"`
}

func (*InstantiateMsg) Action() string { return "instantiate" }

type Transfer struct {
	Recipient common.Address `json:"recipient"`
	Amount    domain.Amount  `json:"amount"`
}

func (*Transfer) Action() string { return "transfer" }

type TransferFrom struct {
	Owner     common.Address `json:"owner"`
	Recipient common.Address `json:"recipient"`
	Amount    domain.Amount  `json:"amount"`
}

func (*TransferFrom) Action() string { return "transfer_from" }

type Mint struct {
	Recipient common.Address `json:"recipient"`
	Amount    domain.Amount  `json:"amount"`
}

func (*Mint) Action() string { return "mint" }

type Burn struct {
	Amount domain.Amount `json:"amount"`
}

func (*Burn) Action() string { return "burn" }

type IncreaseAllowance struct {
	Spender common.Address `json:"spender"`
	Amount  domain.Amount  `json:"amount"`
}

func (*IncreaseAllowance) Action() string { return "increase_allowance" }

type DecreaseAllowance struct {
	Spender common.Address `json:"spender"`
	Amount  domain.Amount  `json:"amount"`
}

func (*DecreaseAllowance) Action() string { return "decrease_allowance" }

// Balance queries the balance of Address.
type Balance struct {
	Address common.Address `json:"address"`
}

func (*Balance) Action() string { return "balance" }

type Allowance struct {
	Owner   common.Address `json:"owner"`
	Spender common.Address `json:"spender"`
}

func (*Allowance) Action() string { return "allowance" }

type TokenInfo struct{}

func (*TokenInfo) Action() string { return "token_info" }

type BalanceResponse struct {
	Balance domain.Amount `json:"balance"`
}

type AllowanceResponse struct {
	Allowance domain.Amount `json:"allowance"`
}

// Info is the stored token metadata.
type Info struct {
	Name        string        `json:"name"`
	Symbol      string        `json:"symbol"`
	Decimals    uint8         `json:"decimals"`
	TotalSupply domain.Amount `json:"total_supply"`
	Mint        *Minter       `json:"mint,omitempty"`
}
