package factory

import (
	"encoding/json"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/bondledger/internal/domain"
	"github.com/alanyoungcy/bondledger/internal/token"
)

// Code is the registered name of the factory contract.
const Code = "factory"

// InstantiateMsg names the codes the factory deploys.
type InstantiateMsg struct {
	CurrencyCode string `json:"currency_code"`
	BondCode     string `json:"bond_code"`
}

func (*InstantiateMsg) Action() string { return "instantiate" }

type Setup struct {
	Escrow       common.Address `json:"escrow"`
	Orchestrator common.Address `json:"orchestrator"`
}

func (*Setup) Action() string { return "setup" }

type InstantiateCurrency struct {
	Label           string        `json:"label"`
	Name            string        `json:"name"`
	Symbol          string        `json:"symbol"`
	Decimals        uint8         `json:"decimals"`
	InitialBalances []domain.Coin `json:"initial_balances"`
	Mint            *token.Minter `json:"mint,omitempty"`
}

func (*InstantiateCurrency) Action() string { return "instantiate_currency" }

type InstantiateBondToken struct {
	Label                     string               `json:"label"`
	Issuer                    common.Address       `json:"issuer"`
	Name                      string               `json:"name"`
	Symbol                    string               `json:"symbol"`
	Decimals                  uint8                `json:"decimals"`
	InitialBalances           []domain.Coin        `json:"initial_balances"`
	FunctionSetup             domain.FunctionSetup `json:"function_setup"`
	AdditionalData            string               `json:"additional_data"`
	Currency                  common.Address       `json:"currency"`
	Denomination              domain.Denomination  `json:"denomination"`
	SubscriptionFeePercentage *domain.Amount       `json:"subscription_fee_percentage,omitempty"`
	SubscriptionFee           *domain.Amount       `json:"subscription_fee,omitempty"`
}

func (*InstantiateBondToken) Action() string { return "instantiate_bond_token" }

// ContractInfo is one raw instantiation of InstantiateBatch.
type ContractInfo struct {
	Code  string          `json:"code"`
	Label string          `json:"label"`
	Msg   json.RawMessage `json:"msg"`
}

type InstantiateBatch struct {
	Contracts []ContractInfo `json:"contracts"`
}

func (*InstantiateBatch) Action() string { return "instantiate_batch" }

// PredictAddress returns the address an instantiation with Label will get.
type PredictAddress struct {
	Code  string `json:"code"`
	Label string `json:"label"`
}

func (*PredictAddress) Action() string { return "predict_address" }

type ConfigQuery struct{}

func (*ConfigQuery) Action() string { return "config" }

type AddressResponse struct {
	Address common.Address `json:"address"`
}

// Config is the stored factory configuration.
type Config struct {
	Admin        common.Address  `json:"admin"`
	CurrencyCode string          `json:"currency_code"`
	BondCode     string          `json:"bond_code"`
	Escrow       *common.Address `json:"escrow,omitempty"`
	Orchestrator *common.Address `json:"orchestrator,omitempty"`
}
