package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/bondledger/internal/domain"
)

// StateStore implements domain.StateStore using PostgreSQL. The ledger key
// space lives in ledger_state and the committed height in ledger_meta.
type StateStore struct {
	pool *pgxpool.Pool
}

// NewStateStore creates a new StateStore backed by the given connection pool.
func NewStateStore(pool *pgxpool.Pool) *StateStore {
	return &StateStore{pool: pool}
}

// Load streams every stored key to fn and returns the committed height.
func (s *StateStore) Load(ctx context.Context, fn func(key, value []byte) error) (uint64, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return 0, fmt.Errorf("postgres: begin state load: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var height int64
	if err := tx.QueryRow(ctx, `SELECT height FROM ledger_meta WHERE id`).Scan(&height); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("postgres: load height: %w", err)
	}

	rows, err := tx.Query(ctx, `SELECT key, value FROM ledger_state ORDER BY key`)
	if err != nil {
		return 0, fmt.Errorf("postgres: load state: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var key, value []byte
		if err := rows.Scan(&key, &value); err != nil {
			return 0, fmt.Errorf("postgres: scan state: %w", err)
		}
		if err := fn(key, value); err != nil {
			return 0, err
		}
	}
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("postgres: load state rows: %w", err)
	}
	return uint64(height), nil
}

// Height returns the committed height, 0 before the first commit.
func (s *StateStore) Height(ctx context.Context) (uint64, error) {
	var height int64
	if err := s.pool.QueryRow(ctx, `SELECT height FROM ledger_meta WHERE id`).Scan(&height); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("postgres: load height: %w", err)
	}
	return uint64(height), nil
}

// Commit writes the invocation's write set and receipt and advances the height
// in one transaction. It fails with domain.ErrStaleHeight when another writer
// has committed height already.
func (s *StateStore) Commit(ctx context.Context, height uint64, writes []domain.StateWrite, receipt domain.Receipt) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin commit %d: %w", height, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx,
		`UPDATE ledger_meta SET height = $1, updated_at = NOW() WHERE id AND height = $2`,
		int64(height), int64(height-1),
	)
	if err != nil {
		return fmt.Errorf("postgres: advance height %d: %w", height, err)
	}
	if tag.RowsAffected() != 1 {
		return fmt.Errorf("postgres: commit %d: %w", height, domain.ErrStaleHeight)
	}

	batch := &pgx.Batch{}
	const upsert = `
		INSERT INTO ledger_state (key, value, height) VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, height = EXCLUDED.height`
	for _, w := range writes {
		batch.Queue(upsert, w.Key, w.Value, int64(height))
	}
	queueReceipt(batch, receipt)

	br := tx.SendBatch(ctx, batch)
	for i := 0; i < batch.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return fmt.Errorf("postgres: commit %d statement %d: %w", height, i, err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("postgres: close commit batch %d: %w", height, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit %d: %w", height, err)
	}
	return nil
}
