package escrow

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/bondledger/internal/domain"
)

// Code is the registered name of the escrow contract.
const Code = "escrow"

// InstantiateMsg creates the escrow; the sender becomes admin.
type InstantiateMsg struct{}

func (*InstantiateMsg) Action() string { return "instantiate" }

// Setup records the factory and orchestrator the escrow cooperates with.
type Setup struct {
	Factory      common.Address `json:"factory"`
	Orchestrator common.Address `json:"orchestrator"`
}

func (*Setup) Action() string { return "setup" }

type RegisterBondToken struct {
	BondToken common.Address `json:"bond_token"`
}

func (*RegisterBondToken) Action() string { return "register_bond_token" }

// RegisterSubscription is sent by a bond when an investor subscribes.
// SubscriptionAmount is net of FeeAmount.
type RegisterSubscription struct {
	Investor           common.Address `json:"investor"`
	Currency           common.Address `json:"currency"`
	SubscriptionAmount domain.Amount  `json:"subscription_amount"`
	FeeAmount          domain.Amount  `json:"fee_amount"`
}

func (*RegisterSubscription) Action() string { return "register_subscription" }

// ReleaseCurrency settles a bond's subscriptions at distribution.
type ReleaseCurrency struct {
	Issuer          common.Address          `json:"issuer"`
	BondToken       common.Address          `json:"bond_token"`
	Currency        common.Address          `json:"currency"`
	InvestmentRules []domain.InvestmentRule `json:"investment_rules"`
}

func (*ReleaseCurrency) Action() string { return "release_currency" }

type WithdrawSystemFee struct {
	Recipient common.Address `json:"recipient"`
}

func (*WithdrawSystemFee) Action() string { return "withdraw_system_fee" }

type SubscriptionsOf struct {
	BondToken common.Address `json:"bond_token"`
}

func (*SubscriptionsOf) Action() string { return "subscriptions_of" }

type ValidateBondToken struct {
	BondToken common.Address `json:"bond_token"`
}

func (*ValidateBondToken) Action() string { return "validate_bond_token" }

type SystemFee struct {
	Currency common.Address `json:"currency"`
}

func (*SystemFee) Action() string { return "system_fee" }

type BondTokens struct{}

func (*BondTokens) Action() string { return "bond_tokens" }

type ConfigQuery struct{}

func (*ConfigQuery) Action() string { return "config" }

type SubscriptionsResponse struct {
	Subscriptions []domain.Subscription `json:"subscriptions"`
}

type ValidationResponse struct {
	Validity bool `json:"validity"`
}

type SystemFeeResponse struct {
	Currency common.Address `json:"currency"`
	Amount   domain.Amount  `json:"amount"`
}

type BondTokensResponse struct {
	BondTokens []common.Address `json:"bond_tokens"`
}

// Config is the stored escrow wiring.
type Config struct {
	Admin        common.Address  `json:"admin"`
	Factory      *common.Address `json:"factory,omitempty"`
	Orchestrator *common.Address `json:"orchestrator,omitempty"`
}
