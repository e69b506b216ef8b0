package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/bondledger/internal/domain"
)

// ReceiptStore implements domain.ReceiptStore using PostgreSQL.
type ReceiptStore struct {
	pool *pgxpool.Pool
}

// NewReceiptStore creates a new ReceiptStore backed by the given connection pool.
func NewReceiptStore(pool *pgxpool.Pool) *ReceiptStore {
	return &ReceiptStore{pool: pool}
}

const receiptCols = `id, height, sender, contract, kind, action, msg, events, data,
	writes, started_at, finished_at`

func queueReceipt(batch *pgx.Batch, r domain.Receipt) {
	events, _ := json.Marshal(r.Events)
	var data []byte
	if len(r.Data) > 0 {
		data = r.Data
	}
	batch.Queue(`INSERT INTO receipts (`+receiptCols+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		r.ID, int64(r.Height), r.Sender.Hex(), r.Contract.Hex(), r.Kind, r.Action,
		[]byte(r.Msg), events, data, r.Writes, r.StartedAt, r.FinishedAt,
	)
}

func scanReceipt(row pgx.Row) (domain.Receipt, error) {
	var (
		r                 domain.Receipt
		height            int64
		sender, contract  string
		msg, events, data []byte
	)
	if err := row.Scan(
		&r.ID, &height, &sender, &contract, &r.Kind, &r.Action,
		&msg, &events, &data, &r.Writes, &r.StartedAt, &r.FinishedAt,
	); err != nil {
		return domain.Receipt{}, err
	}
	r.Height = uint64(height)
	r.Sender = common.HexToAddress(sender)
	r.Contract = common.HexToAddress(contract)
	r.Msg = msg
	if len(data) > 0 {
		r.Data = data
	}
	if len(events) > 0 {
		if err := json.Unmarshal(events, &r.Events); err != nil {
			return domain.Receipt{}, fmt.Errorf("unmarshal events: %w", err)
		}
	}
	return r, nil
}

func scanReceipts(rows pgx.Rows) ([]domain.Receipt, error) {
	defer rows.Close()
	var out []domain.Receipt
	for rows.Next() {
		r, err := scanReceipt(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// GetByID returns the receipt with the given id.
func (s *ReceiptStore) GetByID(ctx context.Context, id string) (domain.Receipt, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+receiptCols+` FROM receipts WHERE id = $1`, id)
	r, err := scanReceipt(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Receipt{}, domain.ErrNotFound
		}
		return domain.Receipt{}, fmt.Errorf("postgres: get receipt %s: %w", id, err)
	}
	return r, nil
}

// List returns receipts newest first with pagination and optional time
// filtering on started_at.
func (s *ReceiptStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.Receipt, error) {
	where, args := timeFilter("started_at", opts)
	query := `SELECT ` + receiptCols + ` FROM receipts` + where + ` ORDER BY height DESC` + paginate(opts, &args)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list receipts: %w", err)
	}
	out, err := scanReceipts(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan receipts: %w", err)
	}
	return out, nil
}

// ListAfterHeight returns up to limit receipts above height in ascending order.
func (s *ReceiptStore) ListAfterHeight(ctx context.Context, height uint64, limit int) ([]domain.Receipt, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+receiptCols+` FROM receipts WHERE height > $1 ORDER BY height ASC LIMIT $2`,
		int64(height), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: list receipts after %d: %w", height, err)
	}
	out, err := scanReceipts(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan receipts after %d: %w", height, err)
	}
	return out, nil
}
