// Package memory implements the domain store interfaces in process memory.
// It backs the ledger when no database is configured and in tests.
package memory

import (
	"bytes"
	"context"
	"fmt"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/bondledger/internal/domain"
)

// Store implements domain.StateStore, domain.ReceiptStore and
// domain.CursorStore.
type Store struct {
	mu       sync.RWMutex
	state    map[string][]byte
	height   uint64
	receipts []domain.Receipt
	byID     map[string]int
	cursors  map[string]uint64
}

var (
	_ domain.StateStore   = (*Store)(nil)
	_ domain.ReceiptStore = (*Store)(nil)
	_ domain.CursorStore  = (*Store)(nil)
	_ domain.AuditStore   = (*AuditLog)(nil)
)

// New returns an empty Store.
func New() *Store {
	return &Store{
		state:   make(map[string][]byte),
		byID:    make(map[string]int),
		cursors: make(map[string]uint64),
	}
}

func (s *Store) Load(_ context.Context, fn func(key, value []byte) error) (uint64, error) {
	s.mu.RLock()
	snapshot := maps.Clone(s.state)
	height := s.height
	s.mu.RUnlock()

	keys := make([]string, 0, len(snapshot))
	for k := range snapshot {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := fn([]byte(k), snapshot[k]); err != nil {
			return 0, err
		}
	}
	return height, nil
}

// Height returns the committed height.
func (s *Store) Height(_ context.Context) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.height, nil
}

func (s *Store) Commit(_ context.Context, height uint64, writes []domain.StateWrite, receipt domain.Receipt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if height != s.height+1 {
		return fmt.Errorf("memory: commit %d at %d: %w", height, s.height, domain.ErrStaleHeight)
	}
	for _, w := range writes {
		s.state[string(w.Key)] = bytes.Clone(w.Value)
	}
	s.height = height
	s.byID[receipt.ID] = len(s.receipts)
	s.receipts = append(s.receipts, receipt)
	return nil
}

func (s *Store) GetByID(_ context.Context, id string) (domain.Receipt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.byID[id]
	if !ok {
		return domain.Receipt{}, domain.ErrNotFound
	}
	return s.receipts[i], nil
}

// List returns receipts newest first.
func (s *Store) List(_ context.Context, opts domain.ListOpts) ([]domain.Receipt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Receipt
	for i := len(s.receipts) - 1; i >= 0; i-- {
		r := s.receipts[i]
		if inRange(r.StartedAt, opts) {
			out = append(out, r)
		}
	}
	return page(out, opts), nil
}

func (s *Store) ListAfterHeight(_ context.Context, height uint64, limit int) ([]domain.Receipt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Receipt
	for _, r := range s.receipts {
		if r.Height <= height {
			continue
		}
		out = append(out, r)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *Store) GetCursor(_ context.Context, name string) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cursors[name], nil
}

func (s *Store) SetCursor(_ context.Context, name string, height uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursors[name] = height
	return nil
}

func inRange(t time.Time, opts domain.ListOpts) bool {
	if opts.Since != nil && t.Before(*opts.Since) {
		return false
	}
	if opts.Until != nil && t.After(*opts.Until) {
		return false
	}
	return true
}

func page[T any](items []T, opts domain.ListOpts) []T {
	if opts.Offset > 0 {
		if opts.Offset >= len(items) {
			return nil
		}
		items = items[opts.Offset:]
	}
	if opts.Limit > 0 && len(items) > opts.Limit {
		items = items[:opts.Limit]
	}
	return items
}

// AuditLog implements domain.AuditStore.
type AuditLog struct {
	mu      sync.RWMutex
	entries []domain.AuditEntry
	now     func() time.Time
}

// NewAuditLog returns an empty AuditLog.
func NewAuditLog() *AuditLog {
	return &AuditLog{now: time.Now}
}

func (a *AuditLog) Log(_ context.Context, event string, detail map[string]any) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, domain.AuditEntry{
		ID:        int64(len(a.entries) + 1),
		Event:     event,
		Detail:    detail,
		CreatedAt: a.now(),
	})
	return nil
}

// List returns audit entries newest first.
func (a *AuditLog) List(_ context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	var out []domain.AuditEntry
	for i := len(a.entries) - 1; i >= 0; i-- {
		if inRange(a.entries[i].CreatedAt, opts) {
			out = append(out, a.entries[i])
		}
	}
	return page(out, opts), nil
}
