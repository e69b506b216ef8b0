package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/bondledger/internal/domain"
	"github.com/alanyoungcy/bondledger/internal/ledger"
	"github.com/alanyoungcy/bondledger/internal/metrics"
	"github.com/alanyoungcy/bondledger/internal/protocol"
)

// lockKey is the single lock serialising writers that share one state store.
const lockKey = "ledger:invoke"

// ReceiptNotifier forwards committed receipts to operators.
type ReceiptNotifier interface {
	NotifyReceipt(ctx context.Context, r domain.Receipt) error
	Enabled() bool
}

// LedgerConfig tunes the write path.
type LedgerConfig struct {
	LockTTL  time.Duration
	LockWait time.Duration
	// NotifyTimeout bounds the background delivery of one receipt.
	NotifyTimeout time.Duration
}

// ContractView describes a contract instance and the messages it accepts.
type ContractView struct {
	domain.ContractInfo
	Execute []string `json:"execute"`
	Query   []string `json:"query"`
}

// LedgerService executes, instantiates and queries contracts on the runtime.
// Writes run under the distributed ledger lock; after commit the receipt is
// audited, published on the signal bus and handed to the notifier.
type LedgerService struct {
	rt       *ledger.Runtime
	locks    domain.LockManager
	audit    domain.AuditStore
	bus      domain.SignalBus
	notifier ReceiptNotifier
	metrics  *metrics.Metrics
	cfg      LedgerConfig
	logger   *slog.Logger

	wg sync.WaitGroup
}

// NewLedgerService creates a LedgerService with all required dependencies.
func NewLedgerService(
	rt *ledger.Runtime,
	locks domain.LockManager,
	audit domain.AuditStore,
	bus domain.SignalBus,
	notifier ReceiptNotifier,
	m *metrics.Metrics,
	cfg LedgerConfig,
	logger *slog.Logger,
) *LedgerService {
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 30 * time.Second
	}
	if cfg.LockWait <= 0 {
		cfg.LockWait = 5 * time.Second
	}
	if cfg.NotifyTimeout <= 0 {
		cfg.NotifyTimeout = 15 * time.Second
	}
	return &LedgerService{
		rt:       rt,
		locks:    locks,
		audit:    audit,
		bus:      bus,
		notifier: notifier,
		metrics:  m,
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "ledger_service")),
	}
}

// Height returns the last committed height.
func (s *LedgerService) Height() uint64 {
	return s.rt.Height()
}

// Execute decodes raw as the execute message action of the contract at
// contract and runs it as sender.
func (s *LedgerService) Execute(ctx context.Context, sender, contract common.Address, action string, raw json.RawMessage) (*domain.Receipt, error) {
	codec, err := s.rt.CodecFor(contract)
	if err != nil {
		return nil, err
	}
	msg, err := codec.DecodeExecute(action, raw)
	if err != nil {
		return nil, err
	}
	return s.ExecuteMsg(ctx, sender, contract, msg)
}

// ExecuteMsg runs an already decoded message.
func (s *LedgerService) ExecuteMsg(ctx context.Context, sender, contract common.Address, msg ledger.Msg) (*domain.Receipt, error) {
	return s.write(ctx, "execute", msg.Action(), func() (*domain.Receipt, error) {
		return s.rt.Execute(ctx, sender, contract, msg)
	})
}

// Instantiate creates a contract of code under label with sender as creator.
func (s *LedgerService) Instantiate(ctx context.Context, sender common.Address, code, label string, raw json.RawMessage) (*domain.Receipt, error) {
	codec, err := s.rt.Codec(code)
	if err != nil {
		return nil, err
	}
	msg, err := codec.DecodeInstantiate(raw)
	if err != nil {
		return nil, err
	}
	return s.write(ctx, "instantiate", code, func() (*domain.Receipt, error) {
		return s.rt.Instantiate(ctx, sender, code, label, msg)
	})
}

// Query runs the query name against contract on committed state, reloading
// it first when another writer has committed since.
func (s *LedgerService) Query(ctx context.Context, contract common.Address, name string, raw json.RawMessage) (any, error) {
	s.refresh(ctx)
	codec, err := s.rt.CodecFor(contract)
	if err != nil {
		s.metrics.ObserveQuery(name, err)
		return nil, err
	}
	msg, err := codec.DecodeQuery(name, raw)
	if err != nil {
		s.metrics.ObserveQuery(name, err)
		return nil, err
	}
	res, err := s.rt.Query(ctx, contract, msg)
	s.metrics.ObserveQuery(name, err)
	return res, err
}

// Contract describes the instance at addr.
func (s *LedgerService) Contract(ctx context.Context, addr common.Address) (ContractView, error) {
	s.refresh(ctx)
	info, err := s.rt.ContractInfo(addr)
	if err != nil {
		return ContractView{}, err
	}
	codec, err := s.rt.Codec(info.Code)
	if err != nil {
		return ContractView{}, err
	}
	exec, query := codec.Actions()
	return ContractView{ContractInfo: info, Execute: exec, Query: query}, nil
}

// Contracts lists every instance in address order.
func (s *LedgerService) Contracts(ctx context.Context) ([]domain.ContractInfo, error) {
	s.refresh(ctx)
	return s.rt.Contracts()
}

// Bootstrap deploys the protocol singletons for admin under the ledger lock.
func (s *LedgerService) Bootstrap(ctx context.Context, admin common.Address) (protocol.Addresses, error) {
	unlock, err := s.acquire(ctx)
	if err != nil {
		return protocol.Addresses{}, err
	}
	defer unlock()

	if err := s.rt.Restore(ctx); err != nil {
		return protocol.Addresses{}, err
	}
	before := s.rt.Height()
	addrs, err := protocol.Bootstrap(ctx, s.rt, admin)
	if err != nil {
		return addrs, err
	}
	s.metrics.SetHeight(s.rt.Height())

	if s.rt.Height() != before {
		s.logger.InfoContext(ctx, "ledger_service: protocol bootstrapped",
			slog.String("admin", admin.Hex()),
			slog.String("escrow", addrs.Escrow.Hex()),
			slog.String("orchestrator", addrs.Orchestrator.Hex()),
			slog.String("factory", addrs.Factory.Hex()),
		)
		s.auditLog(ctx, "protocol.bootstrap", map[string]any{
			"admin":        admin.Hex(),
			"escrow":       addrs.Escrow.Hex(),
			"orchestrator": addrs.Orchestrator.Hex(),
			"factory":      addrs.Factory.Hex(),
			"height":       s.rt.Height(),
		})
	}
	return addrs, nil
}

// refresh catches the runtime up with the state store. On failure reads are
// served from the last loaded state.
func (s *LedgerService) refresh(ctx context.Context) {
	reloaded, err := s.rt.Refresh(ctx)
	if err != nil {
		s.logger.WarnContext(ctx, "ledger_service: refresh failed, serving loaded state",
			slog.Uint64("height", s.rt.Height()),
			slog.String("error", err.Error()),
		)
		return
	}
	if reloaded {
		s.metrics.SetHeight(s.rt.Height())
	}
}

// Close waits for background notifications to finish.
func (s *LedgerService) Close() {
	s.wg.Wait()
}

// write runs one invocation under the ledger lock. A stale height means
// another writer committed first: state is reloaded and the call retried once.
func (s *LedgerService) write(ctx context.Context, kind, action string, run func() (*domain.Receipt, error)) (*domain.Receipt, error) {
	start := time.Now()
	unlock, err := s.acquire(ctx)
	if err != nil {
		s.metrics.ObserveInvocation(kind, action, start, err)
		return nil, err
	}
	defer unlock()

	receipt, err := run()
	if errors.Is(err, domain.ErrStaleHeight) {
		s.logger.WarnContext(ctx, "ledger_service: stale state, reloading",
			slog.Uint64("height", s.rt.Height()),
		)
		if rerr := s.rt.Restore(ctx); rerr != nil {
			err = rerr
		} else {
			receipt, err = run()
		}
	}
	s.metrics.ObserveInvocation(kind, action, start, err)
	if err != nil {
		return nil, err
	}

	s.metrics.SetHeight(receipt.Height)
	s.afterCommit(ctx, *receipt)
	return receipt, nil
}

// acquire takes the ledger lock, polling until LockWait elapses.
func (s *LedgerService) acquire(ctx context.Context) (func(), error) {
	deadline := time.Now().Add(s.cfg.LockWait)
	backoff := 10 * time.Millisecond
	for {
		unlock, err := s.locks.Acquire(ctx, lockKey, s.cfg.LockTTL)
		if err == nil {
			return unlock, nil
		}
		if !errors.Is(err, domain.ErrLockHeld) {
			return nil, fmt.Errorf("ledger_service: acquire lock: %w", err)
		}
		s.metrics.LockContention.Inc()
		if time.Now().Add(backoff).After(deadline) {
			return nil, fmt.Errorf("ledger_service: acquire lock: %w", err)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
		if backoff < 200*time.Millisecond {
			backoff *= 2
		}
	}
}

// afterCommit fans the receipt out. Failures are logged; the invocation is
// already committed.
func (s *LedgerService) afterCommit(ctx context.Context, r domain.Receipt) {
	s.logger.InfoContext(ctx, "ledger_service: committed",
		slog.String("receipt", r.ID),
		slog.Uint64("height", r.Height),
		slog.String("kind", r.Kind),
		slog.String("action", r.Action),
		slog.String("sender", r.Sender.Hex()),
		slog.String("contract", r.Contract.Hex()),
		slog.Int("events", len(r.Events)),
	)

	s.auditLog(ctx, "ledger."+r.Kind, map[string]any{
		"receipt":  r.ID,
		"height":   r.Height,
		"action":   r.Action,
		"sender":   r.Sender.Hex(),
		"contract": r.Contract.Hex(),
	})

	if s.bus != nil {
		s.publish(ctx, r)
	}

	if s.notifier != nil && s.notifier.Enabled() {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.NotifyTimeout)
			defer cancel()
			if err := s.notifier.NotifyReceipt(nctx, r); err != nil {
				s.metrics.Notifications.WithLabelValues("error").Inc()
				s.logger.WarnContext(nctx, "ledger_service: notify failed",
					slog.String("receipt", r.ID),
					slog.String("error", err.Error()),
				)
				return
			}
			s.metrics.Notifications.WithLabelValues("ok").Inc()
		}()
	}
}

func (s *LedgerService) publish(ctx context.Context, r domain.Receipt) {
	for _, ev := range r.Events {
		payload, err := json.Marshal(domain.LedgerEvent{ReceiptID: r.ID, Height: r.Height, Event: ev})
		if err != nil {
			continue
		}
		if err := s.bus.Publish(ctx, domain.ChannelLedgerEvents, payload); err != nil {
			s.logger.WarnContext(ctx, "ledger_service: publish event failed",
				slog.String("receipt", r.ID),
				slog.String("error", err.Error()),
			)
			break
		}
	}

	payload, err := json.Marshal(r)
	if err != nil {
		return
	}
	if err := s.bus.StreamAppend(ctx, domain.StreamReceipts, payload); err != nil {
		s.logger.WarnContext(ctx, "ledger_service: stream append failed",
			slog.String("receipt", r.ID),
			slog.String("error", err.Error()),
		)
	}
}

func (s *LedgerService) auditLog(ctx context.Context, event string, detail map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Log(ctx, event, detail); err != nil {
		s.logger.WarnContext(ctx, "ledger_service: audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}
