package domain

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Phase is the lifecycle stage of a bond.
type Phase string

const (
	PhaseSubscription Phase = "subscription"
	PhaseDistribution Phase = "distribution"
	PhaseCoupon       Phase = "coupon"
	PhaseRedemption   Phase = "redemption"
)

// phaseSuccessors lists the phases reachable from each phase in one step.
var phaseSuccessors = map[Phase][]Phase{
	PhaseSubscription: {PhaseDistribution},
	PhaseDistribution: {PhaseCoupon},
	PhaseCoupon:       {PhaseCoupon, PhaseRedemption},
	PhaseRedemption:   nil,
}

// ParsePhase accepts a phase name in any letter case.
func ParsePhase(s string) (Phase, error) {
	p := Phase(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := phaseSuccessors[p]; !ok {
		return "", fmt.Errorf("domain: unknown phase %q", s)
	}
	return p, nil
}

// Valid reports whether p is a known phase.
func (p Phase) Valid() bool {
	_, ok := phaseSuccessors[p]
	return ok
}

// CanTransition reports whether the lifecycle allows moving from p to next.
func (p Phase) CanTransition(next Phase) bool {
	for _, s := range phaseSuccessors[p] {
		if s == next {
			return true
		}
	}
	return false
}

func (p *Phase) UnmarshalText(text []byte) error {
	parsed, err := ParsePhase(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// Denomination fixes the exchange rate: CurrencyAmount currency units buy
// BondAmount bond units.
type Denomination struct {
	CurrencyAmount Amount `json:"currency_amount"`
	BondAmount     Amount `json:"bond_amount"`
}

// Validate requires both sides of the ratio to be positive.
func (d Denomination) Validate() error {
	if d.CurrencyAmount.IsZero() || d.BondAmount.IsZero() {
		return Fail(ErrInvalidDenomination, "denomination").
			WithDetail("%s:%s", d.CurrencyAmount, d.BondAmount)
	}
	return nil
}

// ToBond converts a currency amount into bond units, truncating.
func (d Denomination) ToBond(currency Amount) (Amount, error) {
	return currency.MulDiv(d.BondAmount, d.CurrencyAmount)
}

// ToCurrency converts bond units into a currency amount, truncating.
func (d Denomination) ToCurrency(bond Amount) (Amount, error) {
	return bond.MulDiv(d.CurrencyAmount, d.BondAmount)
}

// MaxFeePercentage is 100% expressed in basis points.
const MaxFeePercentage = 10000

// FeeKind selects how the subscription fee is computed.
type FeeKind string

const (
	FeeCaller     FeeKind = "caller"
	FeePercentage FeeKind = "percentage"
	FeeFixed      FeeKind = "fixed"
)

// FeePolicy is the subscription fee rule fixed at bond creation. Value holds
// basis points for FeePercentage and a currency amount for FeeFixed; it is
// unused for FeeCaller.
type FeePolicy struct {
	Kind  FeeKind `json:"kind"`
	Value Amount  `json:"value"`
}

// ResolveFeePolicy picks the policy from the optional creation fields in
// priority order: percentage, then fixed, then caller-supplied.
func ResolveFeePolicy(percentage, fixed *Amount) (FeePolicy, error) {
	switch {
	case percentage != nil:
		if percentage.Cmp(NewAmount(MaxFeePercentage)) > 0 {
			return FeePolicy{}, Fail(ErrFeePercentageTooHigh, "instantiate").WithAmount(*percentage)
		}
		return FeePolicy{Kind: FeePercentage, Value: *percentage}, nil
	case fixed != nil:
		return FeePolicy{Kind: FeeFixed, Value: *fixed}, nil
	default:
		return FeePolicy{Kind: FeeCaller}, nil
	}
}

// Compute returns the fee charged on a subscription of currencyAmount, where
// feeAmount is the fee the caller offered.
func (f FeePolicy) Compute(currencyAmount, feeAmount Amount) (Amount, error) {
	switch f.Kind {
	case FeePercentage:
		return currencyAmount.MulDiv(f.Value, NewAmount(MaxFeePercentage))
	case FeeFixed:
		if currencyAmount.Cmp(f.Value) <= 0 {
			return Amount{}, Fail(ErrInsufficientSubscriptionAmount, "subscribe").WithAmount(currencyAmount)
		}
		return f.Value, nil
	case FeeCaller, "":
		return feeAmount, nil
	default:
		return Amount{}, fmt.Errorf("domain: unknown fee kind %q", f.Kind)
	}
}

// FunctionSetup switches individual bond operations on or off for the life of
// the bond.
type FunctionSetup struct {
	Transfer       bool `json:"transfer"`
	Burn           bool `json:"burn"`
	MintToInvestor bool `json:"mint_to_investor"`
	Subscribe      bool `json:"subscribe"`
}

// AllFunctions enables every operation.
func AllFunctions() FunctionSetup {
	return FunctionSetup{Transfer: true, Burn: true, MintToInvestor: true, Subscribe: true}
}

// Holder is a bond holder with the balance expressed in currency units.
type Holder struct {
	Account           common.Address `json:"account"`
	BalanceInCurrency Amount         `json:"balance_in_currency"`
}

// Subscription is an investor's accumulated net subscription held in escrow.
type Subscription struct {
	Investor       common.Address `json:"investor"`
	CurrencyAmount Amount         `json:"currency_amount"`
}

// InvestmentRule caps the currency accepted from one investor at distribution.
type InvestmentRule struct {
	Investor       common.Address `json:"investor"`
	CurrencyAmount Amount         `json:"currency_amount"`
}

// Coupon is a single coupon payment from issuer to investor.
type Coupon struct {
	Investor       common.Address `json:"investor"`
	CurrencyAmount Amount         `json:"currency_amount"`
}

// CapFor returns the cap of the first rule naming investor, or zero.
func CapFor(rules []InvestmentRule, investor common.Address) Amount {
	for _, r := range rules {
		if r.Investor == investor {
			return r.CurrencyAmount
		}
	}
	return Amount{}
}

// Coin is an initial balance handed out at token creation.
type Coin struct {
	Address common.Address `json:"address"`
	Amount  Amount         `json:"amount"`
}

// BondSummary is the read model returned for a bond.
type BondSummary struct {
	Address         common.Address `json:"address"`
	Name            string         `json:"name"`
	Symbol          string         `json:"symbol"`
	Issuer          common.Address `json:"issuer"`
	Currency        common.Address `json:"currency"`
	Phase           Phase          `json:"phase"`
	Denomination    Denomination   `json:"denomination"`
	FeePolicy       FeePolicy      `json:"fee_policy"`
	Functions       FunctionSetup  `json:"functions"`
	TotalSupply     Amount         `json:"total_supply"`
	EstimatedRedeem Amount         `json:"estimated_redemption"`
	Registered      bool           `json:"registered"`
	Holders         []Holder       `json:"holders"`
	Subscriptions   []Subscription `json:"subscriptions"`
	AdditionalData  string         `json:"additional_data,omitempty"`
}
