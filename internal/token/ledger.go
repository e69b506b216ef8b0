package token

import (
	"fmt"
	"regexp"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/bondledger/internal/domain"
	"github.com/alanyoungcy/bondledger/internal/ledger"
)

var (
	infoItem   = ledger.NewItem[Info]("token_info")
	balances   = ledger.NewMap[domain.Amount]("balance")
	allowances = ledger.NewMap[domain.Amount]("allowance")

	symbolPattern = regexp.MustCompile(`^[a-zA-Z\-]{3,12}$`)
)

// Validate checks the token metadata the way cw20 does.
func (m *InstantiateMsg) Validate() error {
	if l := len(m.Name); l < 3 || l > 50 {
		return fmt.Errorf("token: name must be 3-50 characters, got %d", l)
	}
	if !symbolPattern.MatchString(m.Symbol) {
		return fmt.Errorf("token: symbol %q must be 3-12 letters or dashes", m.Symbol)
	}
	if m.Decimals > 18 {
		return fmt.Errorf("token: decimals %d exceed 18", m.Decimals)
	}
	return nil
}

// Setup stores the token metadata and the initial balances. It is shared by
// every contract built on the fungible ledger.
func Setup(kv ledger.KV, m *InstantiateMsg) (Info, error) {
	if err := m.Validate(); err != nil {
		return Info{}, err
	}
	var supply domain.Amount
	for _, c := range m.InitialBalances {
		bal, err := BalanceOf(kv, c.Address)
		if err != nil {
			return Info{}, err
		}
		if bal, err = bal.Add(c.Amount); err != nil {
			return Info{}, err
		}
		if err := balances.Save(kv, ledger.AddressKey(c.Address), bal); err != nil {
			return Info{}, err
		}
		if supply, err = supply.Add(c.Amount); err != nil {
			return Info{}, err
		}
	}
	if m.Mint != nil && m.Mint.Cap != nil && supply.Cmp(*m.Mint.Cap) > 0 {
		return Info{}, domain.Fail(domain.ErrCapExceeded, "instantiate").WithAmount(supply)
	}
	info := Info{
		Name:        m.Name,
		Symbol:      m.Symbol,
		Decimals:    m.Decimals,
		TotalSupply: supply,
		Mint:        m.Mint,
	}
	return info, infoItem.Save(kv, info)
}

// LoadInfo returns the token metadata.
func LoadInfo(r ledger.Reader) (Info, error) {
	return infoItem.Load(r)
}

// BalanceOf returns the balance of addr, zero when unset.
func BalanceOf(r ledger.Reader, addr common.Address) (domain.Amount, error) {
	bal, _, err := balances.MayLoad(r, ledger.AddressKey(addr))
	return bal, err
}

// AllowanceOf returns how much spender may move from owner.
func AllowanceOf(r ledger.Reader, owner, spender common.Address) (domain.Amount, error) {
	a, _, err := allowances.MayLoad(r, ledger.PairKey(owner, spender))
	return a, err
}

// Move transfers amount from one account to another.
func Move(kv ledger.KV, action string, from, to common.Address, amount domain.Amount) error {
	if amount.IsZero() {
		return domain.Fail(domain.ErrInvalidZeroAmount, action)
	}
	fromBal, err := BalanceOf(kv, from)
	if err != nil {
		return err
	}
	if fromBal.Cmp(amount) < 0 {
		return domain.Fail(domain.ErrInsufficientFunds, action).WithAccount(from).WithAmount(amount)
	}
	if fromBal, err = fromBal.Sub(amount); err != nil {
		return err
	}
	if err := balances.Save(kv, ledger.AddressKey(from), fromBal); err != nil {
		return err
	}
	toBal, err := BalanceOf(kv, to)
	if err != nil {
		return err
	}
	if toBal, err = toBal.Add(amount); err != nil {
		return err
	}
	return balances.Save(kv, ledger.AddressKey(to), toBal)
}

// SpendAllowance deducts amount from the allowance owner granted spender.
func SpendAllowance(kv ledger.KV, action string, owner, spender common.Address, amount domain.Amount) error {
	current, err := AllowanceOf(kv, owner, spender)
	if err != nil {
		return err
	}
	if current.Cmp(amount) < 0 {
		return domain.Fail(domain.ErrInsufficientAllowance, action).WithAccount(spender).WithAmount(amount)
	}
	if current, err = current.Sub(amount); err != nil {
		return err
	}
	return allowances.Save(kv, ledger.PairKey(owner, spender), current)
}

// ChangeAllowance raises or lowers an allowance. Lowering below zero clamps
// to zero.
func ChangeAllowance(kv ledger.KV, owner, spender common.Address, amount domain.Amount, increase bool) (domain.Amount, error) {
	current, err := AllowanceOf(kv, owner, spender)
	if err != nil {
		return domain.Amount{}, err
	}
	if increase {
		current, err = current.Add(amount)
	} else if current.Cmp(amount) <= 0 {
		current = domain.Amount{}
	} else {
		current, err = current.Sub(amount)
	}
	if err != nil {
		return domain.Amount{}, err
	}
	return current, allowances.Save(kv, ledger.PairKey(owner, spender), current)
}

// MintTo credits amount to recipient. Only the configured minter may mint.
func MintTo(kv ledger.KV, caller, recipient common.Address, amount domain.Amount) error {
	if amount.IsZero() {
		return domain.Fail(domain.ErrInvalidZeroAmount, "mint")
	}
	info, err := LoadInfo(kv)
	if err != nil {
		return err
	}
	if info.Mint == nil || info.Mint.Minter != caller {
		return domain.Fail(domain.ErrNotMinter, "mint").WithAccount(caller)
	}
	if info.TotalSupply, err = info.TotalSupply.Add(amount); err != nil {
		return err
	}
	if info.Mint.Cap != nil && info.TotalSupply.Cmp(*info.Mint.Cap) > 0 {
		return domain.Fail(domain.ErrCapExceeded, "mint").WithAmount(amount)
	}
	if err := infoItem.Save(kv, info); err != nil {
		return err
	}
	bal, err := BalanceOf(kv, recipient)
	if err != nil {
		return err
	}
	if bal, err = bal.Add(amount); err != nil {
		return err
	}
	return balances.Save(kv, ledger.AddressKey(recipient), bal)
}

// BurnFrom removes amount from owner and from the total supply.
func BurnFrom(kv ledger.KV, owner common.Address, amount domain.Amount) error {
	if amount.IsZero() {
		return domain.Fail(domain.ErrInvalidZeroAmount, "burn")
	}
	bal, err := BalanceOf(kv, owner)
	if err != nil {
		return err
	}
	if bal.Cmp(amount) < 0 {
		return domain.Fail(domain.ErrInsufficientFunds, "burn").WithAccount(owner).WithAmount(amount)
	}
	return burn(kv, owner, bal, amount)
}

// BurnAll zeroes the balance of owner and reduces the total supply by exactly
// the amount that was held. It returns that amount.
func BurnAll(kv ledger.KV, owner common.Address) (domain.Amount, error) {
	bal, err := BalanceOf(kv, owner)
	if err != nil {
		return domain.Amount{}, err
	}
	if bal.IsZero() {
		return bal, nil
	}
	return bal, burn(kv, owner, bal, bal)
}

func burn(kv ledger.KV, owner common.Address, bal, amount domain.Amount) error {
	rest, err := bal.Sub(amount)
	if err != nil {
		return err
	}
	if err := balances.Save(kv, ledger.AddressKey(owner), rest); err != nil {
		return err
	}
	info, err := LoadInfo(kv)
	if err != nil {
		return err
	}
	if info.TotalSupply, err = info.TotalSupply.Sub(amount); err != nil {
		return err
	}
	return infoItem.Save(kv, info)
}

// EachBalance visits every account with a recorded balance in address order.
func EachBalance(r ledger.Reader, fn func(addr common.Address, bal domain.Amount) error) error {
	return balances.Range(r, func(k []byte, bal domain.Amount) error {
		return fn(ledger.KeyAddress(k), bal)
	})
}
