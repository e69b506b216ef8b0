package domain_test

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/bondledger/internal/domain"
)

func TestAmountArithmetic(t *testing.T) {
	ceiling := domain.MustAmount("115792089237316195423570985008687907853269984665640564039457584007913129639935")

	_, err := ceiling.Add(domain.NewAmount(1))
	require.ErrorIs(t, err, domain.ErrOverflow)

	_, err = domain.NewAmount(1).Sub(domain.NewAmount(2))
	require.ErrorIs(t, err, domain.ErrOverflow)

	_, err = domain.NewAmount(1).MulDiv(domain.NewAmount(1), domain.Amount{})
	require.ErrorIs(t, err, domain.ErrDivideByZero)

	// ceiling * 3 / 3 needs a 512-bit intermediate.
	got, err := ceiling.MulDiv(domain.NewAmount(3), domain.NewAmount(3))
	require.NoError(t, err)
	assert.Equal(t, 0, got.Cmp(ceiling))

	got, err = domain.NewAmount(100).MulDiv(domain.NewAmount(2), domain.NewAmount(3))
	require.NoError(t, err)
	assert.Equal(t, "66", got.String())

	assert.Equal(t, "4", domain.MinAmount(domain.NewAmount(4), domain.NewAmount(9)).String())
}

func TestAmountJSON(t *testing.T) {
	var v struct {
		A domain.Amount `json:"a"`
		B domain.Amount `json:"b"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"a":"12345678901234567890123","b":17}`), &v))
	assert.Equal(t, "12345678901234567890123", v.A.String())
	assert.Equal(t, "17", v.B.String())

	out, err := json.Marshal(v)
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":"12345678901234567890123","b":"17"}`, string(out))

	require.Error(t, json.Unmarshal([]byte(`{"a":"-1"}`), &v))
	require.Error(t, json.Unmarshal([]byte(`{"a":"1.5"}`), &v))
}

func TestPhaseTransitions(t *testing.T) {
	tests := []struct {
		from, to domain.Phase
		want     bool
	}{
		{domain.PhaseSubscription, domain.PhaseDistribution, true},
		{domain.PhaseSubscription, domain.PhaseCoupon, false},
		{domain.PhaseSubscription, domain.PhaseSubscription, false},
		{domain.PhaseDistribution, domain.PhaseCoupon, true},
		{domain.PhaseDistribution, domain.PhaseRedemption, false},
		{domain.PhaseCoupon, domain.PhaseCoupon, true},
		{domain.PhaseCoupon, domain.PhaseRedemption, true},
		{domain.PhaseCoupon, domain.PhaseDistribution, false},
		{domain.PhaseRedemption, domain.PhaseRedemption, false},
		{domain.PhaseRedemption, domain.PhaseCoupon, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.from.CanTransition(tt.to), "%s -> %s", tt.from, tt.to)
	}

	p, err := domain.ParsePhase(" Coupon ")
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseCoupon, p)
	_, err = domain.ParsePhase("matured")
	require.Error(t, err)
}

func TestFeePolicy(t *testing.T) {
	pct := domain.NewAmount(5000)
	fixed := domain.NewAmount(10)
	tooHigh := domain.NewAmount(10001)

	policy, err := domain.ResolveFeePolicy(&pct, &fixed)
	require.NoError(t, err)
	assert.Equal(t, domain.FeePercentage, policy.Kind)
	fee, err := policy.Compute(domain.NewAmount(1134), domain.NewAmount(1))
	require.NoError(t, err)
	assert.Equal(t, "567", fee.String())

	policy, err = domain.ResolveFeePolicy(nil, &fixed)
	require.NoError(t, err)
	fee, err = policy.Compute(domain.NewAmount(11), domain.Amount{})
	require.NoError(t, err)
	assert.Equal(t, "10", fee.String())
	_, err = policy.Compute(domain.NewAmount(10), domain.Amount{})
	require.ErrorIs(t, err, domain.ErrInsufficientSubscriptionAmount)

	policy, err = domain.ResolveFeePolicy(nil, nil)
	require.NoError(t, err)
	fee, err = policy.Compute(domain.NewAmount(100), domain.NewAmount(3))
	require.NoError(t, err)
	assert.Equal(t, "3", fee.String())

	_, err = domain.ResolveFeePolicy(&tooHigh, nil)
	require.ErrorIs(t, err, domain.ErrFeePercentageTooHigh)
}

func TestDenomination(t *testing.T) {
	d := domain.Denomination{CurrencyAmount: domain.NewAmount(3), BondAmount: domain.NewAmount(2)}
	require.NoError(t, d.Validate())

	units, err := d.ToBond(domain.NewAmount(270))
	require.NoError(t, err)
	assert.Equal(t, "180", units.String())

	value, err := d.ToCurrency(domain.NewAmount(378))
	require.NoError(t, err)
	assert.Equal(t, "567", value.String())

	require.ErrorIs(t, domain.Denomination{CurrencyAmount: domain.NewAmount(1)}.Validate(), domain.ErrInvalidDenomination)
}

func TestErrorKinds(t *testing.T) {
	acct := common.HexToAddress("0x01")
	err := fmt.Errorf("ledger: wrapped: %w",
		domain.Fail(domain.ErrNotIssuer, "distribute").WithAccount(acct).WithAmount(domain.NewAmount(5)))

	assert.ErrorIs(t, err, domain.ErrNotIssuer)
	assert.Equal(t, domain.KindAuthorization, domain.KindOf(err))

	var de *domain.Error
	require.True(t, errors.As(err, &de))
	assert.Equal(t, "distribute", de.Action)
	assert.Contains(t, err.Error(), "not issuer")
	assert.Contains(t, err.Error(), "amount 5")

	assert.Equal(t, domain.KindConfiguration, domain.KindOf(domain.Fail(domain.ErrContractNotSetup, "setup")))
	assert.Equal(t, domain.KindState, domain.KindOf(domain.ErrInvalidPhase))
	assert.Equal(t, domain.KindStorage, domain.KindOf(fmt.Errorf("x: %w", domain.ErrNotFound)))
	assert.Equal(t, domain.KindUnknown, domain.KindOf(errors.New("other")))
}

func TestCapFor(t *testing.T) {
	a := common.HexToAddress("0x0a")
	rules := []domain.InvestmentRule{
		{Investor: a, CurrencyAmount: domain.NewAmount(5)},
		{Investor: a, CurrencyAmount: domain.NewAmount(9)},
	}
	assert.Equal(t, "5", domain.CapFor(rules, a).String())
	assert.True(t, domain.CapFor(rules, common.HexToAddress("0x0b")).IsZero())
}
