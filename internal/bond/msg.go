package bond

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/bondledger/internal/domain"
)

// Code is the registered name of the bond contract.
const Code = "bond"

// InstantiateMsg creates a bond in the Subscription phase. The orchestrator
// becomes the minter of the bond units.
type InstantiateMsg struct {
	Issuer                    common.Address       `json:"issuer"`
	Name                      string               `json:"name"`
	Symbol                    string               `json:"symbol"`
	Decimals                  uint8                `json:"decimals"`
	InitialBalances           []domain.Coin        `json:"initial_balances"`
	FunctionSetup             domain.FunctionSetup `json:"function_setup"`
	AdditionalData            string               `json:"additional_data"`
	Currency                  common.Address       `json:"currency"`
	Escrow                    common.Address       `json:"escrow"`
	Orchestrator              common.Address       `json:"orchestrator"`
	Denomination              domain.Denomination  `json:"denomination"`
	SubscriptionFeePercentage *domain.Amount       `json:"subscription_fee_percentage,omitempty"`
	SubscriptionFee           *domain.Amount       `json:"subscription_fee,omitempty"`
}

func (*InstantiateMsg) Action() string { return "instantiate" }

type MintToInvestor struct {
	Issuer         common.Address `json:"issuer"`
	Recipient      common.Address `json:"recipient"`
	CurrencyAmount domain.Amount  `json:"currency_amount"`
}

func (*MintToInvestor) Action() string { return "mint_to_investor" }

type BurnFromHolder struct {
	Issuer common.Address `json:"issuer"`
	Holder common.Address `json:"holder"`
}

func (*BurnFromHolder) Action() string { return "burn_from_holder" }

// Subscribe tenders SubscriptionAmount plus FeeAmount of currency. The sender
// must have granted the bond an allowance for the sum on the currency ledger.
type Subscribe struct {
	SubscriptionAmount domain.Amount `json:"subscription_amount"`
	FeeAmount          domain.Amount `json:"fee_amount"`
}

func (*Subscribe) Action() string { return "subscribe" }

type UpdatePhase struct {
	Phase domain.Phase `json:"phase"`
}

func (*UpdatePhase) Action() string { return "update_phase" }

type Holders struct{}

func (*Holders) Action() string { return "holders" }

type Issuer struct{}

func (*Issuer) Action() string { return "issuer" }

type Currency struct{}

func (*Currency) Action() string { return "currency" }

type EstimateRedemption struct{}

func (*EstimateRedemption) Action() string { return "estimate_redemption" }

type Info struct{}

func (*Info) Action() string { return "bond_info" }

type HoldersResponse struct {
	Holders []domain.Holder `json:"holders"`
}

type IssuerResponse struct {
	Issuer common.Address `json:"issuer"`
}

type CurrencyResponse struct {
	Currency common.Address `json:"currency"`
}

type RedemptionResponse struct {
	RedemptionAmount domain.Amount `json:"redemption_amount"`
}

// State is the bond configuration and lifecycle phase.
type State struct {
	Issuer         common.Address       `json:"issuer"`
	Currency       common.Address       `json:"currency"`
	Escrow         common.Address       `json:"escrow"`
	Orchestrator   common.Address       `json:"orchestrator"`
	Denomination   domain.Denomination  `json:"denomination"`
	FeePolicy      domain.FeePolicy     `json:"fee_policy"`
	Functions      domain.FunctionSetup `json:"functions"`
	AdditionalData string               `json:"additional_data,omitempty"`
	Phase          domain.Phase         `json:"phase"`
}
