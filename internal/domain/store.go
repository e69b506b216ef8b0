package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// StateStore persists the committed ledger state. Commit must apply the write
// set and the receipt atomically.
type StateStore interface {
	Load(ctx context.Context, fn func(key, value []byte) error) (height uint64, err error)
	Commit(ctx context.Context, height uint64, writes []StateWrite, receipt Receipt) error
}

// ReceiptStore reads committed receipts.
type ReceiptStore interface {
	GetByID(ctx context.Context, id string) (Receipt, error)
	List(ctx context.Context, opts ListOpts) ([]Receipt, error)
	ListAfterHeight(ctx context.Context, height uint64, limit int) ([]Receipt, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}

// CursorStore remembers how far a background job has progressed.
type CursorStore interface {
	GetCursor(ctx context.Context, name string) (uint64, error)
	SetCursor(ctx context.Context, name string, height uint64) error
}
