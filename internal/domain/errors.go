package domain

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Infrastructure errors.
var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrRateLimited   = errors.New("rate limited")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrBadSignature  = errors.New("invalid request signature")
	ErrLockHeld      = errors.New("lock already held")
	ErrStaleHeight   = errors.New("stale ledger height")
	ErrMalformedMsg  = errors.New("malformed message")
)

// Authorization kinds: the caller does not hold the role recorded for the action.
var (
	ErrNotAdmin        = errors.New("not admin")
	ErrNotOperator     = errors.New("not operator")
	ErrNotIssuer       = errors.New("not issuer")
	ErrNotOrchestrator = errors.New("not orchestrator")
	ErrNotBondToken    = errors.New("not bond token")
	ErrNotMinter       = errors.New("not minter")
)

// Configuration kinds.
var (
	ErrContractNotSetup     = errors.New("contract not setup")
	ErrFunctionNotSupported = errors.New("function not supported")
	ErrInvalidDenomination  = errors.New("invalid denomination")
	ErrFeePercentageTooHigh = errors.New("fee percentage too high")
)

// State and validity kinds.
var (
	ErrInvalidPhase                   = errors.New("invalid phase")
	ErrActionNotAllowed               = errors.New("action not allowed")
	ErrInvalidBondToken               = errors.New("invalid bond token")
	ErrLengthMismatch                 = errors.New("length mismatch")
	ErrInsufficientSubscriptionAmount = errors.New("insufficient subscription amount")
	ErrBondAlreadyRegistered          = errors.New("bond already registered")
	ErrInsufficientFunds              = errors.New("insufficient funds")
	ErrInsufficientAllowance          = errors.New("insufficient allowance")
	ErrInvalidZeroAmount              = errors.New("invalid zero amount")
	ErrCapExceeded                    = errors.New("minting cap exceeded")
	ErrReentrancy                     = errors.New("reentrant call")
	ErrUnknownMessage                 = errors.New("unknown message")
	ErrUnknownCode                    = errors.New("unknown contract code")
)

// Arithmetic kinds.
var (
	ErrOverflow     = errors.New("arithmetic overflow")
	ErrDivideByZero = errors.New("division by zero")
)

// Error is the structured failure returned by ledger operations. Kind is one
// of the sentinel errors above and is what errors.Is matches against.
type Error struct {
	Kind    error
	Action  string
	Account *common.Address
	Amount  *Amount
	Detail  string
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Action != "" {
		b.WriteString(e.Action)
		b.WriteString(": ")
	}
	b.WriteString(e.Kind.Error())
	if e.Account != nil {
		fmt.Fprintf(&b, " (account %s)", e.Account.Hex())
	}
	if e.Amount != nil {
		fmt.Fprintf(&b, " (amount %s)", e.Amount)
	}
	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Kind }

// Fail builds an Error for kind raised by action.
func Fail(kind error, action string) *Error {
	return &Error{Kind: kind, Action: action}
}

// WithAccount attaches the offending account.
func (e *Error) WithAccount(a common.Address) *Error {
	e.Account = &a
	return e
}

// WithAmount attaches the offending amount.
func (e *Error) WithAmount(a Amount) *Error {
	e.Amount = &a
	return e
}

// WithDetail attaches free-form context.
func (e *Error) WithDetail(format string, args ...any) *Error {
	e.Detail = fmt.Sprintf(format, args...)
	return e
}

// ErrorKind classifies err into the taxonomy used at the API boundary.
type ErrorKind string

const (
	KindAuthorization ErrorKind = "authorization"
	KindConfiguration ErrorKind = "configuration"
	KindState         ErrorKind = "state"
	KindStorage       ErrorKind = "storage"
	KindUnknown       ErrorKind = "unknown"
)

var kindTable = []struct {
	kind ErrorKind
	errs []error
}{
	{KindAuthorization, []error{ErrNotAdmin, ErrNotOperator, ErrNotIssuer, ErrNotOrchestrator, ErrNotBondToken, ErrNotMinter, ErrUnauthorized, ErrBadSignature}},
	{KindConfiguration, []error{ErrContractNotSetup, ErrFunctionNotSupported, ErrInvalidDenomination, ErrFeePercentageTooHigh, ErrUnknownCode, ErrMalformedMsg}},
	{KindState, []error{ErrInvalidPhase, ErrActionNotAllowed, ErrInvalidBondToken, ErrLengthMismatch, ErrInsufficientSubscriptionAmount, ErrBondAlreadyRegistered, ErrInsufficientFunds, ErrInsufficientAllowance, ErrInvalidZeroAmount, ErrCapExceeded, ErrReentrancy, ErrUnknownMessage}},
	{KindStorage, []error{ErrNotFound, ErrAlreadyExists, ErrStaleHeight, ErrLockHeld, ErrOverflow, ErrDivideByZero}},
}

// KindOf returns the taxonomy bucket of err.
func KindOf(err error) ErrorKind {
	for _, row := range kindTable {
		for _, e := range row.errs {
			if errors.Is(err, e) {
				return row.kind
			}
		}
	}
	return KindUnknown
}
