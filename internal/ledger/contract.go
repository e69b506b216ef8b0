package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/bondledger/internal/domain"
)

// Msg is an instantiate, execute or query message. Implementations are
// pointer types whose Action names the message on the wire.
type Msg interface {
	Action() string
}

// Querier answers queries against other contracts using the state of the
// current invocation.
type Querier interface {
	Query(contract common.Address, q Msg) (any, error)
	ContractInfo(addr common.Address) (domain.ContractInfo, error)
}

// Env is handed to Instantiate and Execute.
type Env struct {
	Ctx     context.Context
	Height  uint64
	Time    time.Time
	Sender  common.Address
	Self    common.Address
	Store   KV
	Querier Querier
}

// QueryEnv is handed to Query.
type QueryEnv struct {
	Ctx     context.Context
	Height  uint64
	Self    common.Address
	Store   Reader
	Querier Querier
}

// Contract is the code behind every instance of one contract kind. State lives
// only in the Store passed in the environment.
type Contract interface {
	Codec() *Codec
	Instantiate(env Env, msg Msg) (*Response, error)
	Execute(env Env, msg Msg) (*Response, error)
	Query(env QueryEnv, msg Msg) (any, error)
}

// SubMsg is a call issued by a contract that runs after the issuing call
// returns, inside the same invocation.
type SubMsg interface {
	target() string
}

// ExecuteMsg calls Execute on Contract with the issuer as sender.
type ExecuteMsg struct {
	Contract common.Address
	Msg      Msg
}

func (m ExecuteMsg) target() string { return m.Contract.Hex() }

// InstantiateMsg creates a contract of Code at the address derived from the
// issuer and Label. Raw is decoded with the code's codec when Msg is nil.
type InstantiateMsg struct {
	Code  string
	Label string
	Msg   Msg
	Raw   json.RawMessage
}

func (m InstantiateMsg) target() string { return m.Code + "/" + m.Label }

// Response is returned by Instantiate and Execute.
type Response struct {
	action     string
	attributes map[string]string
	Messages   []SubMsg
	Data       any
}

// NewResponse starts a response whose event is named action.
func NewResponse(action string) *Response {
	return &Response{action: action, attributes: map[string]string{}}
}

// Attr adds an event attribute.
func (r *Response) Attr(key, value string) *Response {
	r.attributes[key] = value
	return r
}

// Execute queues an execute sub-message.
func (r *Response) Execute(contract common.Address, msg Msg) *Response {
	r.Messages = append(r.Messages, ExecuteMsg{Contract: contract, Msg: msg})
	return r
}

// Instantiate queues an instantiate sub-message.
func (r *Response) Instantiate(m InstantiateMsg) *Response {
	r.Messages = append(r.Messages, m)
	return r
}

// WithData sets the call result.
func (r *Response) WithData(v any) *Response {
	r.Data = v
	return r
}

// Codec maps wire names to message types for one contract code.
type Codec struct {
	init    reflect.Type
	execute map[string]reflect.Type
	query   map[string]reflect.Type
}

// NewCodec registers the instantiate message type init.
func NewCodec(init Msg) *Codec {
	return &Codec{
		init:    msgType(init),
		execute: map[string]reflect.Type{},
		query:   map[string]reflect.Type{},
	}
}

// Execute registers execute message types.
func (c *Codec) Execute(msgs ...Msg) *Codec {
	for _, m := range msgs {
		c.execute[m.Action()] = msgType(m)
	}
	return c
}

// Query registers query message types.
func (c *Codec) Query(msgs ...Msg) *Codec {
	for _, m := range msgs {
		c.query[m.Action()] = msgType(m)
	}
	return c
}

func msgType(m Msg) reflect.Type {
	t := reflect.TypeOf(m)
	if t.Kind() != reflect.Pointer {
		panic(fmt.Sprintf("ledger: message %T must be a pointer", m))
	}
	return t.Elem()
}

func decode(t reflect.Type, raw json.RawMessage) (Msg, error) {
	v := reflect.New(t)
	if len(raw) > 0 && string(raw) != "null" {
		if err := json.Unmarshal(raw, v.Interface()); err != nil {
			return nil, fmt.Errorf("ledger: decode %s: %w: %w", t.Name(), domain.ErrMalformedMsg, err)
		}
	}
	return v.Interface().(Msg), nil
}

// DecodeInstantiate decodes an instantiate message.
func (c *Codec) DecodeInstantiate(raw json.RawMessage) (Msg, error) {
	return decode(c.init, raw)
}

// DecodeExecute decodes the execute message named action.
func (c *Codec) DecodeExecute(action string, raw json.RawMessage) (Msg, error) {
	t, ok := c.execute[action]
	if !ok {
		return nil, domain.Fail(domain.ErrUnknownMessage, action)
	}
	return decode(t, raw)
}

// DecodeQuery decodes the query message named name.
func (c *Codec) DecodeQuery(name string, raw json.RawMessage) (Msg, error) {
	t, ok := c.query[name]
	if !ok {
		return nil, domain.Fail(domain.ErrUnknownMessage, name)
	}
	return decode(t, raw)
}

// Actions lists the execute and query names, sorted.
func (c *Codec) Actions() (execute, query []string) {
	for k := range c.execute {
		execute = append(execute, k)
	}
	for k := range c.query {
		query = append(query, k)
	}
	sort.Strings(execute)
	sort.Strings(query)
	return execute, query
}

// QueryAs runs q against contract and asserts the result type.
func QueryAs[T any](q Querier, contract common.Address, msg Msg) (T, error) {
	var zero T
	res, err := q.Query(contract, msg)
	if err != nil {
		return zero, err
	}
	v, ok := res.(T)
	if !ok {
		return zero, fmt.Errorf("ledger: query %s on %s returned %T", msg.Action(), contract.Hex(), res)
	}
	return v, nil
}

// Unsupported is returned by contracts for a message type they do not handle.
func Unsupported(msg Msg) error {
	return domain.Fail(domain.ErrUnknownMessage, msg.Action()).WithDetail("%T", msg)
}
