package orchestrator

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/bondledger/internal/domain"
)

// Code is the registered name of the orchestrator contract.
const Code = "orchestrator"

// InstantiateMsg creates the orchestrator; the sender becomes admin.
type InstantiateMsg struct{}

func (*InstantiateMsg) Action() string { return "instantiate" }

type Setup struct {
	Escrow  common.Address `json:"escrow"`
	Factory common.Address `json:"factory"`
}

func (*Setup) Action() string { return "setup" }

// MintItem mints Amount of Token to Recipient. The orchestrator must be the
// token's minter.
type MintItem struct {
	Token     common.Address `json:"token"`
	Recipient common.Address `json:"recipient"`
	Amount    domain.Amount  `json:"amount"`
}

// TransferItem moves Amount of Token from Sender to Recipient using the
// allowance Sender granted the orchestrator.
type TransferItem struct {
	Token     common.Address `json:"token"`
	Sender    common.Address `json:"sender"`
	Recipient common.Address `json:"recipient"`
	Amount    domain.Amount  `json:"amount"`
}

type MintBatch struct {
	Items []MintItem `json:"items"`
}

func (*MintBatch) Action() string { return "mint_batch" }

type TransferBatch struct {
	Items []TransferItem `json:"items"`
}

func (*TransferBatch) Action() string { return "transfer_batch" }

type Distribute struct {
	BondToken       common.Address          `json:"bond_token"`
	InvestmentRules []domain.InvestmentRule `json:"investment_rules"`
}

func (*Distribute) Action() string { return "distribute" }

type SendCoupon struct {
	BondToken common.Address  `json:"bond_token"`
	Coupons   []domain.Coupon `json:"coupons"`
}

func (*SendCoupon) Action() string { return "send_coupon" }

type Redeem struct {
	BondToken common.Address `json:"bond_token"`
}

func (*Redeem) Action() string { return "redeem" }

// BalanceQuery names one (token, holder) pair of a batch balance lookup.
type BalanceQuery struct {
	Token  common.Address `json:"token"`
	Holder common.Address `json:"holder"`
}

type BalanceOfBatch struct {
	Queries []BalanceQuery `json:"queries"`
}

func (*BalanceOfBatch) Action() string { return "balance_of_batch" }

type ConfigQuery struct{}

func (*ConfigQuery) Action() string { return "config" }

type BalanceOfBatchResponse struct {
	Balances []domain.Amount `json:"balances"`
}

// Config is the stored orchestrator wiring.
type Config struct {
	Admin   common.Address  `json:"admin"`
	Escrow  *common.Address `json:"escrow,omitempty"`
	Factory *common.Address `json:"factory,omitempty"`
}
