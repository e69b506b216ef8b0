package ledger_test

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/alanyoungcy/bondledger/internal/domain"
	"github.com/alanyoungcy/bondledger/internal/ledger"
)

// pinger counts pings and forwards the hops of each ping.
type pinger struct{ codec *ledger.Codec }

type pingInit struct{}

func (*pingInit) Action() string { return "instantiate" }

type hop struct {
	Contract common.Address `json:"contract"`
	Ping     ping           `json:"ping"`
}

type ping struct {
	Tag  string `json:"tag"`
	Next []hop  `json:"next,omitempty"`
	Fail bool   `json:"fail,omitempty"`
}

func (*ping) Action() string { return "ping" }

type countQuery struct{}

func (*countQuery) Action() string { return "count" }

type lastSenderQuery struct{}

func (*lastSenderQuery) Action() string { return "last_sender" }

var (
	countItem  = ledger.NewItem[int]("count")
	senderItem = ledger.NewItem[common.Address]("sender")
	errBoom    = errors.New("boom")
)

func newPinger() *pinger {
	return &pinger{codec: ledger.NewCodec((*pingInit)(nil)).
		Execute((*ping)(nil)).
		Query((*countQuery)(nil), (*lastSenderQuery)(nil))}
}

func (p *pinger) Codec() *ledger.Codec { return p.codec }

func (p *pinger) Instantiate(env ledger.Env, _ ledger.Msg) (*ledger.Response, error) {
	return ledger.NewResponse("instantiate"), countItem.Save(env.Store, 0)
}

func (p *pinger) Execute(env ledger.Env, msg ledger.Msg) (*ledger.Response, error) {
	m, ok := msg.(*ping)
	if !ok {
		return nil, ledger.Unsupported(msg)
	}
	n, err := countItem.Load(env.Store)
	if err != nil {
		return nil, err
	}
	if err := countItem.Save(env.Store, n+1); err != nil {
		return nil, err
	}
	if err := senderItem.Save(env.Store, env.Sender); err != nil {
		return nil, err
	}
	if m.Fail {
		return nil, errBoom
	}
	resp := ledger.NewResponse("ping").Attr("tag", m.Tag)
	for _, h := range m.Next {
		resp.Execute(h.Contract, &h.Ping)
	}
	return resp.WithData(n + 1), nil
}

func (p *pinger) Query(env ledger.QueryEnv, msg ledger.Msg) (any, error) {
	switch msg.(type) {
	case *countQuery:
		return countItem.Load(env.Store)
	case *lastSenderQuery:
		return senderItem.Load(env.Store)
	default:
		return nil, ledger.Unsupported(msg)
	}
}

// memStore is a StateStore that keeps commits in memory.
type memStore struct {
	mu      sync.Mutex
	state   map[string][]byte
	height  uint64
	fail    bool
	commits []domain.Receipt
}

func (m *memStore) Load(_ context.Context, fn func(key, value []byte) error) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, v := range m.state {
		if err := fn([]byte(k), v); err != nil {
			return 0, err
		}
	}
	return m.height, nil
}

func (m *memStore) Commit(_ context.Context, height uint64, writes []domain.StateWrite, receipt domain.Receipt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errBoom
	}
	if m.state == nil {
		m.state = map[string][]byte{}
	}
	for _, w := range writes {
		m.state[string(w.Key)] = w.Value
	}
	m.height = height
	m.commits = append(m.commits, receipt)
	return nil
}

var deployer = common.HexToAddress("0x00000000000000000000000000000000000000aa")

type RuntimeSuite struct {
	suite.Suite
	ctx     context.Context
	store   *memStore
	rt      *ledger.Runtime
	a, b, c common.Address
}

func TestRuntimeSuite(t *testing.T) {
	suite.Run(t, new(RuntimeSuite))
}

func (s *RuntimeSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = &memStore{}
	s.rt = ledger.NewRuntime(slog.New(slog.DiscardHandler), ledger.WithStateStore(s.store))
	s.rt.Register("pinger", newPinger())
	s.a = s.deploy("a")
	s.b = s.deploy("b")
	s.c = s.deploy("c")
}

func (s *RuntimeSuite) deploy(label string) common.Address {
	rec, err := s.rt.Instantiate(s.ctx, deployer, "pinger", label, &pingInit{})
	s.Require().NoError(err)
	s.Equal(ledger.ContractAddress(deployer, "pinger", label), rec.Contract)
	return rec.Contract
}

func (s *RuntimeSuite) count(addr common.Address) int {
	res, err := s.rt.Query(s.ctx, addr, &countQuery{})
	s.Require().NoError(err)
	return res.(int)
}

func tags(rec *domain.Receipt) []string {
	var out []string
	for _, e := range rec.Events {
		out = append(out, e.Attr("tag"))
	}
	return out
}

func (s *RuntimeSuite) TestSubMessagesRunDepthFirst() {
	rec, err := s.rt.Execute(s.ctx, deployer, s.a, &ping{Tag: "a", Next: []hop{
		{Contract: s.b, Ping: ping{Tag: "b", Next: []hop{{Contract: s.c, Ping: ping{Tag: "c"}}}}},
		{Contract: s.c, Ping: ping{Tag: "d"}},
	}})
	s.Require().NoError(err)
	s.Equal([]string{"a", "b", "c", "d"}, tags(rec))
	s.Equal(2, s.count(s.c))

	sender, err := s.rt.Query(s.ctx, s.c, &lastSenderQuery{})
	s.Require().NoError(err)
	s.Equal(s.a, sender)
}

func (s *RuntimeSuite) TestFailureRollsBackWholeInvocation() {
	height := s.rt.Height()
	_, err := s.rt.Execute(s.ctx, deployer, s.a, &ping{Tag: "a", Next: []hop{
		{Contract: s.b, Ping: ping{Tag: "b"}},
		{Contract: s.c, Ping: ping{Fail: true}},
	}})
	s.Require().ErrorIs(err, errBoom)
	s.Equal(0, s.count(s.a))
	s.Equal(0, s.count(s.b))
	s.Equal(height, s.rt.Height())
	s.Len(s.store.commits, 3)
}

func (s *RuntimeSuite) TestReentrancyRejected() {
	_, err := s.rt.Execute(s.ctx, deployer, s.a, &ping{Tag: "a", Next: []hop{
		{Contract: s.b, Ping: ping{Tag: "b", Next: []hop{{Contract: s.a, Ping: ping{Tag: "again"}}}}},
	}})
	s.Require().ErrorIs(err, domain.ErrReentrancy)
	s.Equal(0, s.count(s.a))

	_, err = s.rt.Execute(s.ctx, deployer, s.a, &ping{Tag: "a", Next: []hop{
		{Contract: s.b, Ping: ping{Tag: "b1"}},
		{Contract: s.b, Ping: ping{Tag: "b2"}},
	}})
	s.Require().NoError(err)
	s.Equal(2, s.count(s.b))
}

func (s *RuntimeSuite) TestReceipt() {
	rec, err := s.rt.Execute(s.ctx, deployer, s.a, &ping{Tag: "x"})
	s.Require().NoError(err)
	s.NotEmpty(rec.ID)
	s.Equal(uint64(4), rec.Height)
	s.Equal("execute", rec.Kind)
	s.Equal("ping", rec.Action)
	s.Equal(deployer, rec.Sender)
	s.Positive(rec.Writes)
	s.JSONEq(`1`, string(rec.Data))
	s.JSONEq(`{"tag":"x"}`, string(rec.Msg))
	s.Equal(rec.ID, s.store.commits[len(s.store.commits)-1].ID)
}

func (s *RuntimeSuite) TestDuplicateInstantiate() {
	_, err := s.rt.Instantiate(s.ctx, deployer, "pinger", "a", &pingInit{})
	s.Require().ErrorIs(err, domain.ErrAlreadyExists)

	_, err = s.rt.Instantiate(s.ctx, deployer, "nope", "z", &pingInit{})
	s.Require().ErrorIs(err, domain.ErrUnknownCode)
}

func (s *RuntimeSuite) TestCommitFailureLeavesStateUntouched() {
	s.store.fail = true
	_, err := s.rt.Execute(s.ctx, deployer, s.a, &ping{Tag: "a"})
	s.Require().ErrorIs(err, errBoom)
	s.Equal(0, s.count(s.a))
	s.Equal(uint64(3), s.rt.Height())
}

func (s *RuntimeSuite) TestRestore() {
	_, err := s.rt.Execute(s.ctx, deployer, s.b, &ping{Tag: "b"})
	s.Require().NoError(err)

	restored := ledger.NewRuntime(slog.New(slog.DiscardHandler), ledger.WithStateStore(s.store))
	restored.Register("pinger", newPinger())
	s.Require().NoError(restored.Restore(s.ctx))
	s.Equal(s.rt.Height(), restored.Height())

	res, err := restored.Query(s.ctx, s.b, &countQuery{})
	s.Require().NoError(err)
	s.Equal(1, res)

	contracts, err := restored.Contracts()
	s.Require().NoError(err)
	s.Len(contracts, 3)
}

func (s *RuntimeSuite) TestCanceledContext() {
	ctx, cancel := context.WithCancel(s.ctx)
	cancel()
	_, err := s.rt.Execute(ctx, deployer, s.a, &ping{Tag: "a"})
	s.Require().ErrorIs(err, context.Canceled)
}

func TestCodec(t *testing.T) {
	c := newPinger().Codec()

	msg, err := c.DecodeExecute("ping", json.RawMessage(`{"tag":"t","fail":true}`))
	require.NoError(t, err)
	p, ok := msg.(*ping)
	require.True(t, ok)
	assert.Equal(t, "t", p.Tag)
	assert.True(t, p.Fail)

	_, err = c.DecodeExecute("pong", nil)
	require.ErrorIs(t, err, domain.ErrUnknownMessage)

	q, err := c.DecodeQuery("count", nil)
	require.NoError(t, err)
	assert.IsType(t, &countQuery{}, q)

	execute, query := c.Actions()
	assert.Equal(t, []string{"ping"}, execute)
	assert.Equal(t, []string{"count", "last_sender"}, query)
}
