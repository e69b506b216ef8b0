package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/bondledger/internal/domain"
)

// AuditStore implements domain.AuditStore using PostgreSQL.
type AuditStore struct {
	pool *pgxpool.Pool
}

// NewAuditStore creates a new AuditStore backed by the given connection pool.
func NewAuditStore(pool *pgxpool.Pool) *AuditStore {
	return &AuditStore{pool: pool}
}

// Log appends an audit entry. The detail map is stored as JSONB.
func (s *AuditStore) Log(ctx context.Context, event string, detail map[string]any) error {
	detailJSON, err := json.Marshal(detail)
	if err != nil {
		return fmt.Errorf("postgres: marshal audit detail: %w", err)
	}
	if _, err := s.pool.Exec(ctx, `INSERT INTO audit_log (event, detail) VALUES ($1, $2)`, event, detailJSON); err != nil {
		return fmt.Errorf("postgres: log audit event %s: %w", event, err)
	}
	return nil
}

// List returns audit entries newest first.
func (s *AuditStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	where, args := timeFilter("created_at", opts)
	query := `SELECT id, event, detail, created_at FROM audit_log` + where +
		` ORDER BY created_at DESC` + paginate(opts, &args)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list audit entries: %w", err)
	}
	defer rows.Close()

	var entries []domain.AuditEntry
	for rows.Next() {
		var (
			e          domain.AuditEntry
			detailJSON []byte
		)
		if err := rows.Scan(&e.ID, &e.Event, &detailJSON, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan audit entry: %w", err)
		}
		if detailJSON != nil {
			if err := json.Unmarshal(detailJSON, &e.Detail); err != nil {
				return nil, fmt.Errorf("postgres: unmarshal audit detail: %w", err)
			}
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list audit entries rows: %w", err)
	}
	return entries, nil
}

// timeFilter builds a WHERE clause over column from opts.Since and opts.Until.
func timeFilter(column string, opts domain.ListOpts) (string, []any) {
	var (
		clause string
		args   []any
	)
	if opts.Since != nil {
		args = append(args, *opts.Since)
		clause += fmt.Sprintf(" AND %s >= $%d", column, len(args))
	}
	if opts.Until != nil {
		args = append(args, *opts.Until)
		clause += fmt.Sprintf(" AND %s <= $%d", column, len(args))
	}
	if clause == "" {
		return "", args
	}
	return " WHERE" + clause[len(" AND"):], args
}

// paginate appends LIMIT and OFFSET placeholders to args.
func paginate(opts domain.ListOpts, args *[]any) string {
	var out string
	if opts.Limit > 0 {
		*args = append(*args, opts.Limit)
		out += fmt.Sprintf(" LIMIT $%d", len(*args))
	}
	if opts.Offset > 0 {
		*args = append(*args, opts.Offset)
		out += fmt.Sprintf(" OFFSET $%d", len(*args))
	}
	return out
}
