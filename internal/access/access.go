// Package access keeps the admin and operator roles of a contract instance.
package access

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/bondledger/internal/domain"
	"github.com/alanyoungcy/bondledger/internal/ledger"
)

var (
	adminItem = ledger.NewItem[common.Address]("admin")
	operators = ledger.NewMap[bool]("operator")
)

// SetOperators is the shared execute message that grants or revokes the
// operator role. Operators and IsOperators are parallel arrays.
type SetOperators struct {
	Operators   []common.Address `json:"operators"`
	IsOperators []bool           `json:"is_operators"`
}

func (*SetOperators) Action() string { return "set_operators" }

// Operators queries the operator flag of every known account.
type Operators struct{}

func (*Operators) Action() string { return "operators" }

// OperatorsResponse lists accounts holding the operator role.
type OperatorsResponse struct {
	Admin     common.Address   `json:"admin"`
	Operators []common.Address `json:"operators"`
}

// Init records admin and makes it the first operator.
func Init(kv ledger.KV, admin common.Address) error {
	if err := adminItem.Save(kv, admin); err != nil {
		return err
	}
	return operators.Save(kv, ledger.AddressKey(admin), true)
}

// Admin returns the recorded admin.
func Admin(r ledger.Reader) (common.Address, error) {
	return adminItem.Load(r)
}

// RequireAdmin fails with ErrNotAdmin unless caller is the admin.
func RequireAdmin(r ledger.Reader, caller common.Address, action string) error {
	admin, err := adminItem.Load(r)
	if err != nil {
		return err
	}
	if admin != caller {
		return domain.Fail(domain.ErrNotAdmin, action).WithAccount(caller)
	}
	return nil
}

// IsOperator reports whether account holds the operator role.
func IsOperator(r ledger.Reader, account common.Address) (bool, error) {
	ok, _, err := operators.MayLoad(r, ledger.AddressKey(account))
	return ok, err
}

// RequireOperator fails with ErrNotOperator unless caller is an operator.
func RequireOperator(r ledger.Reader, caller common.Address, action string) error {
	ok, err := IsOperator(r, caller)
	if err != nil {
		return err
	}
	if !ok {
		return domain.Fail(domain.ErrNotOperator, action).WithAccount(caller)
	}
	return nil
}

// Apply executes SetOperators on behalf of caller, who must be the admin.
func Apply(env ledger.Env, m *SetOperators) (*ledger.Response, error) {
	if err := RequireAdmin(env.Store, env.Sender, m.Action()); err != nil {
		return nil, err
	}
	if len(m.Operators) != len(m.IsOperators) {
		return nil, domain.Fail(domain.ErrLengthMismatch, m.Action()).
			WithDetail("%d operators, %d flags", len(m.Operators), len(m.IsOperators))
	}
	for i, op := range m.Operators {
		if err := operators.Save(env.Store, ledger.AddressKey(op), m.IsOperators[i]); err != nil {
			return nil, err
		}
	}
	return ledger.NewResponse(m.Action()), nil
}

// List answers the Operators query.
func List(r ledger.Reader) (OperatorsResponse, error) {
	admin, err := adminItem.Load(r)
	if err != nil {
		return OperatorsResponse{}, err
	}
	resp := OperatorsResponse{Admin: admin, Operators: []common.Address{}}
	err = operators.Range(r, func(k []byte, ok bool) error {
		if ok {
			resp.Operators = append(resp.Operators, ledger.KeyAddress(k))
		}
		return nil
	})
	return resp, err
}
