package ledger

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"

	"github.com/alanyoungcy/bondledger/internal/domain"
)

var (
	heightKey      = []byte("s:height")
	contractPrefix = []byte("s:contract:")
	storePrefix    = []byte("c:")
)

// ContractAddress derives the address of the instance of code created by
// creator under label.
func ContractAddress(creator common.Address, code, label string) common.Address {
	salt := crypto.Keccak256Hash([]byte(label))
	return crypto.CreateAddress2(creator, salt, crypto.Keccak256([]byte(code)))
}

// Runtime executes contract calls one invocation at a time. Every invocation
// runs against an overlay of the committed state and is either committed as a
// whole or discarded.
type Runtime struct {
	mu     sync.RWMutex
	codes  map[string]Contract
	state  *Tree
	height uint64
	store  domain.StateStore
	now    func() time.Time
	logger *slog.Logger
}

// Option configures a Runtime.
type Option func(*Runtime)

// WithStateStore persists every committed invocation.
func WithStateStore(s domain.StateStore) Option {
	return func(r *Runtime) { r.store = s }
}

// WithClock overrides the invocation timestamp source.
func WithClock(now func() time.Time) Option {
	return func(r *Runtime) { r.now = now }
}

// NewRuntime returns an empty runtime.
func NewRuntime(logger *slog.Logger, opts ...Option) *Runtime {
	r := &Runtime{
		codes:  make(map[string]Contract),
		state:  NewTree(),
		now:    time.Now,
		logger: logger.With(slog.String("component", "ledger")),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register makes code available for instantiation.
func (r *Runtime) Register(code string, c Contract) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.codes[code] = c
}

// Restore loads the committed state from the state store.
func (r *Runtime) Restore(ctx context.Context) error {
	if r.store == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	tree := NewTree()
	height, err := r.store.Load(ctx, func(key, value []byte) error {
		tree.Set(key, value)
		return nil
	})
	if err != nil {
		return fmt.Errorf("ledger: restore: %w", err)
	}
	r.state = tree
	r.height = height
	r.logger.InfoContext(ctx, "ledger: state restored",
		slog.Uint64("height", height),
		slog.Int("keys", tree.Len()),
	)
	return nil
}

// heightReader is implemented by state stores that report their committed
// height without a full load.
type heightReader interface {
	Height(ctx context.Context) (uint64, error)
}

// Refresh reloads committed state when the store has moved past the
// in-memory height. It reports whether a reload happened. Stores that cannot
// report their height are never refreshed.
func (r *Runtime) Refresh(ctx context.Context) (bool, error) {
	hr, ok := r.store.(heightReader)
	if !ok {
		return false, nil
	}
	stored, err := hr.Height(ctx)
	if err != nil {
		return false, fmt.Errorf("ledger: refresh: %w", err)
	}
	if stored == r.Height() {
		return false, nil
	}
	return true, r.Restore(ctx)
}

// Height returns the height of the last committed invocation.
func (r *Runtime) Height() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.height
}

// Codes lists the registered contract codes.
func (r *Runtime) Codes() map[string]*Codec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]*Codec, len(r.codes))
	for name, c := range r.codes {
		out[name] = c.Codec()
	}
	return out
}

// Codec returns the codec of a registered code.
func (r *Runtime) Codec(code string) (*Codec, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.codes[code]
	if !ok {
		return nil, domain.Fail(domain.ErrUnknownCode, "codec").WithDetail("%s", code)
	}
	return c.Codec(), nil
}

// CodecFor returns the codec of the contract instance at addr.
func (r *Runtime) CodecFor(addr common.Address) (*Codec, error) {
	info, err := r.ContractInfo(addr)
	if err != nil {
		return nil, err
	}
	return r.Codec(info.Code)
}

// ContractInfo returns the instance metadata for addr.
func (r *Runtime) ContractInfo(addr common.Address) (domain.ContractInfo, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return loadContractInfo(r.state, addr)
}

// Contracts lists every instance in address order.
func (r *Runtime) Contracts() ([]domain.ContractInfo, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var (
		out []domain.ContractInfo
		err error
	)
	r.state.Iterate(contractPrefix, func(_, v []byte) bool {
		var info domain.ContractInfo
		if err = json.Unmarshal(v, &info); err != nil {
			return false
		}
		out = append(out, info)
		return true
	})
	return out, err
}

// Snapshot copies the committed state.
func (r *Runtime) Snapshot() (uint64, map[string][]byte) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string][]byte, r.state.Len())
	r.state.Iterate(nil, func(k, v []byte) bool {
		out[string(k)] = v
		return true
	})
	return r.height, out
}

// Query runs a read-only query against the committed state.
func (r *Runtime) Query(ctx context.Context, contract common.Address, q Msg) (any, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	qr := &querier{rt: r, ctx: ctx, height: r.height, state: r.state}
	return qr.Query(contract, q)
}

// Execute runs msg on contract as sender and commits the result.
func (r *Runtime) Execute(ctx context.Context, sender, contract common.Address, msg Msg) (*domain.Receipt, error) {
	return r.invoke(ctx, sender, contract, "execute", msg, func(inv *invocation) (any, error) {
		return inv.execute(sender, contract, msg)
	})
}

// Instantiate creates an instance of code labelled label with sender as
// creator and commits the result. The receipt's Contract is the new address.
func (r *Runtime) Instantiate(ctx context.Context, sender common.Address, code, label string, msg Msg) (*domain.Receipt, error) {
	addr := ContractAddress(sender, code, label)
	return r.invoke(ctx, sender, addr, "instantiate", msg, func(inv *invocation) (any, error) {
		if _, err := inv.instantiate(sender, code, label, msg); err != nil {
			return nil, err
		}
		return map[string]string{"address": addr.Hex()}, nil
	})
}

func (r *Runtime) invoke(
	ctx context.Context,
	sender, contract common.Address,
	kind string,
	msg Msg,
	run func(*invocation) (any, error),
) (*domain.Receipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	started := r.now()
	height := r.height + 1
	overlay := NewOverlay(r.state)
	inv := &invocation{
		querier: querier{rt: r, ctx: ctx, height: height, state: overlay},
		overlay: overlay,
		time:    started,
		active:  make(map[common.Address]int),
	}

	data, err := run(inv)
	if err != nil {
		r.logger.DebugContext(ctx, "ledger: invocation rolled back",
			slog.String("kind", kind),
			slog.String("action", msg.Action()),
			slog.String("sender", sender.Hex()),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	var hb [8]byte
	binary.BigEndian.PutUint64(hb[:], height)
	overlay.Set(heightKey, hb[:])

	rawMsg, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("ledger: encode %s: %w", msg.Action(), err)
	}
	var rawData json.RawMessage
	if data != nil {
		if rawData, err = json.Marshal(data); err != nil {
			return nil, fmt.Errorf("ledger: encode result of %s: %w", msg.Action(), err)
		}
	}
	writes := overlay.Writes()
	receipt := domain.Receipt{
		ID:         uuid.NewString(),
		Height:     height,
		Sender:     sender,
		Contract:   contract,
		Kind:       kind,
		Action:     msg.Action(),
		Msg:        rawMsg,
		Events:     inv.events,
		Data:       rawData,
		Writes:     len(writes),
		StartedAt:  started,
		FinishedAt: r.now(),
	}

	if r.store != nil {
		if err := r.store.Commit(ctx, height, writes, receipt); err != nil {
			return nil, fmt.Errorf("ledger: commit height %d: %w", height, err)
		}
	}
	overlay.Flush(r.state)
	r.height = height
	return &receipt, nil
}

func loadContractInfo(state Reader, addr common.Address) (domain.ContractInfo, error) {
	raw, ok := state.Get(append(append([]byte{}, contractPrefix...), addr.Bytes()...))
	if !ok {
		return domain.ContractInfo{}, fmt.Errorf("ledger: contract %s: %w", addr.Hex(), domain.ErrNotFound)
	}
	var info domain.ContractInfo
	if err := json.Unmarshal(raw, &info); err != nil {
		return domain.ContractInfo{}, fmt.Errorf("ledger: decode contract %s: %w", addr.Hex(), err)
	}
	return info, nil
}

func contractStore(state KV, addr common.Address) prefixed {
	return prefixed{kv: state, prefix: append(append([]byte{}, storePrefix...), addr.Bytes()...)}
}

// querier resolves queries against a state view.
type querier struct {
	rt     *Runtime
	ctx    context.Context
	height uint64
	state  KV
}

func (q *querier) ContractInfo(addr common.Address) (domain.ContractInfo, error) {
	return loadContractInfo(q.state, addr)
}

func (q *querier) code(addr common.Address) (domain.ContractInfo, Contract, error) {
	info, err := loadContractInfo(q.state, addr)
	if err != nil {
		return info, nil, err
	}
	c, ok := q.rt.codes[info.Code]
	if !ok {
		return info, nil, domain.Fail(domain.ErrUnknownCode, "load").WithDetail("%s", info.Code)
	}
	return info, c, nil
}

func (q *querier) Query(contract common.Address, msg Msg) (any, error) {
	_, c, err := q.code(contract)
	if err != nil {
		return nil, err
	}
	env := QueryEnv{
		Ctx:     q.ctx,
		Height:  q.height,
		Self:    contract,
		Store:   readOnly{r: contractStore(q.state, contract)},
		Querier: q,
	}
	return c.Query(env, msg)
}

// invocation is the state of one top-level call and every sub-message it
// triggers.
type invocation struct {
	querier
	overlay *Overlay
	time    time.Time
	active  map[common.Address]int
	events  []domain.Event
}

func (inv *invocation) enter(addr common.Address, action string) error {
	if inv.active[addr] > 0 {
		return domain.Fail(domain.ErrReentrancy, action).WithAccount(addr)
	}
	inv.active[addr]++
	return nil
}

func (inv *invocation) leave(addr common.Address) {
	inv.active[addr]--
}

func (inv *invocation) env(sender, self common.Address) Env {
	return Env{
		Ctx:     inv.ctx,
		Height:  inv.height,
		Time:    inv.time,
		Sender:  sender,
		Self:    self,
		Store:   contractStore(inv.overlay, self),
		Querier: &inv.querier,
	}
}

func (inv *invocation) execute(sender, contract common.Address, msg Msg) (any, error) {
	if err := inv.ctx.Err(); err != nil {
		return nil, err
	}
	_, c, err := inv.code(contract)
	if err != nil {
		return nil, err
	}
	if err := inv.enter(contract, msg.Action()); err != nil {
		return nil, err
	}
	defer inv.leave(contract)

	resp, err := c.Execute(inv.env(sender, contract), msg)
	if err != nil {
		return nil, fmt.Errorf("ledger: %s on %s: %w", msg.Action(), contract.Hex(), err)
	}
	if resp == nil {
		return nil, nil
	}
	if err := inv.settle(contract, resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

func (inv *invocation) instantiate(creator common.Address, code, label string, msg Msg) (common.Address, error) {
	addr := ContractAddress(creator, code, label)
	c, ok := inv.rt.codes[code]
	if !ok {
		return addr, domain.Fail(domain.ErrUnknownCode, "instantiate").WithDetail("%s", code)
	}
	if _, err := loadContractInfo(inv.overlay, addr); err == nil {
		return addr, fmt.Errorf("ledger: instantiate %s/%s at %s: %w", code, label, addr.Hex(), domain.ErrAlreadyExists)
	}
	info := domain.ContractInfo{Address: addr, Code: code, Label: label, Creator: creator, Height: inv.height}
	raw, err := json.Marshal(info)
	if err != nil {
		return addr, fmt.Errorf("ledger: encode contract info: %w", err)
	}
	inv.overlay.Set(append(append([]byte{}, contractPrefix...), addr.Bytes()...), raw)

	if err := inv.enter(addr, "instantiate"); err != nil {
		return addr, err
	}
	defer inv.leave(addr)

	resp, err := c.Instantiate(inv.env(creator, addr), msg)
	if err != nil {
		return addr, fmt.Errorf("ledger: instantiate %s/%s: %w", code, label, err)
	}
	return addr, inv.settle(addr, resp)
}

// settle records the response event and runs its sub-messages in order.
func (inv *invocation) settle(self common.Address, resp *Response) error {
	if resp == nil {
		return nil
	}
	inv.events = append(inv.events, domain.Event{
		Contract:   self,
		Action:     resp.action,
		Attributes: resp.attributes,
	})
	for _, sub := range resp.Messages {
		switch m := sub.(type) {
		case ExecuteMsg:
			if _, err := inv.execute(self, m.Contract, m.Msg); err != nil {
				return err
			}
		case InstantiateMsg:
			msg := m.Msg
			if msg == nil {
				c, ok := inv.rt.codes[m.Code]
				if !ok {
					return domain.Fail(domain.ErrUnknownCode, "instantiate").WithDetail("%s", m.Code)
				}
				decoded, err := c.Codec().DecodeInstantiate(m.Raw)
				if err != nil {
					return err
				}
				msg = decoded
			}
			if _, err := inv.instantiate(self, m.Code, m.Label, msg); err != nil {
				return err
			}
		default:
			return fmt.Errorf("ledger: unsupported sub-message %T", sub)
		}
	}
	return nil
}
