package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"presale-settler/internal/domain"
	"presale-settler/internal/storage"
)

// PendingSendStore implements storage.PendingSendStore using PostgreSQL.
type PendingSendStore struct {
	pool *Pool
}

// NewPendingSendStore creates a new PendingSendStore.
func NewPendingSendStore(pool *Pool) *PendingSendStore {
	return &PendingSendStore{pool: pool}
}

// Compile-time interface check.
var _ storage.PendingSendStore = (*PendingSendStore)(nil)

const pendingSendColumns = `
	id, status, attempts, wallet_address, amount_smallest, purchase_id,
	settlement_signature, last_error, inflight_signature, inflight_valid_height,
	created_at, updated_at
`

// Insert enqueues a row. Returns ErrDuplicateKey if id exists.
func (s *PendingSendStore) Insert(ctx context.Context, r *domain.PendingSendRecord) error {
	if r == nil || r.ID == "" {
		return storage.ErrInvalidInput
	}
	status := r.Status
	if status == "" {
		status = domain.PendingSendQueued
	}

	query := `
		INSERT INTO pending_sends (id, status, attempts, wallet_address, amount_smallest, purchase_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at
	`
	err := s.pool.QueryRow(ctx, query,
		r.ID, string(status), r.Attempts, r.WalletAddress, r.AmountSmallest, r.PurchaseID,
	).Scan(&r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert pending send: %w", err)
	}
	r.Status = status
	return nil
}

// GetByID retrieves a row. Returns ErrNotFound if not exists.
func (s *PendingSendStore) GetByID(ctx context.Context, id string) (*domain.PendingSendRecord, error) {
	query := `SELECT ` + pendingSendColumns + ` FROM pending_sends WHERE id = $1`
	r, err := scanPendingSend(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get pending send: %w", err)
	}
	return r, nil
}

// ListDue returns queued or failed rows ordered by created_at ASC.
// maxAttempts <= 0 disables the attempts filter.
func (s *PendingSendStore) ListDue(ctx context.Context, limit, maxAttempts int) ([]*domain.PendingSendRecord, error) {
	if limit <= 0 {
		return nil, storage.ErrInvalidInput
	}

	query := `
		SELECT ` + pendingSendColumns + `
		FROM pending_sends
		WHERE status IN ('queued', 'failed')
		  AND ($2 <= 0 OR attempts < $2)
		ORDER BY created_at ASC, id ASC
		LIMIT $1
	`
	rows, err := s.pool.Query(ctx, query, limit, maxAttempts)
	if err != nil {
		return nil, fmt.Errorf("list due pending sends: %w", err)
	}
	defer rows.Close()

	var result []*domain.PendingSendRecord
	for rows.Next() {
		r, err := scanPendingSend(rows)
		if err != nil {
			return nil, fmt.Errorf("scan pending send: %w", err)
		}
		result = append(result, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pending sends: %w", err)
	}
	return result, nil
}

// Claim atomically moves a due row to sending and increments attempts.
func (s *PendingSendStore) Claim(ctx context.Context, id string) (*domain.PendingSendRecord, error) {
	query := `
		UPDATE pending_sends
		SET status = 'sending', attempts = attempts + 1, updated_at = now()
		WHERE id = $1 AND status IN ('queued', 'failed')
		RETURNING ` + pendingSendColumns
	r, err := scanPendingSend(s.pool.QueryRow(ctx, query, id))
	if err == nil {
		return r, nil
	}
	if !isNotFoundError(err) {
		return nil, fmt.Errorf("claim pending send: %w", err)
	}
	if _, err := s.GetByID(ctx, id); err != nil {
		return nil, err
	}
	return nil, storage.ErrConflict
}

// RecordInflight stores a submitted but unconfirmed transfer signature.
func (s *PendingSendStore) RecordInflight(ctx context.Context, id, signature string, validHeight uint64) error {
	query := `
		UPDATE pending_sends
		SET inflight_signature = $2, inflight_valid_height = $3, updated_at = now()
		WHERE id = $1
	`
	tag, err := s.pool.Exec(ctx, query, id, signature, int64(validHeight))
	if err != nil {
		return fmt.Errorf("record inflight: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// MarkSent records the settlement signature and moves the row to sent.
func (s *PendingSendStore) MarkSent(ctx context.Context, id, signature string) error {
	if signature == "" {
		return storage.ErrInvalidInput
	}
	query := `
		UPDATE pending_sends
		SET status = 'sent', settlement_signature = $2, last_error = NULL,
		    inflight_signature = NULL, inflight_valid_height = 0, updated_at = now()
		WHERE id = $1
	`
	tag, err := s.pool.Exec(ctx, query, id, signature)
	if err != nil {
		return fmt.Errorf("mark pending send sent: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// MarkFailed records the error and moves the row to failed.
func (s *PendingSendStore) MarkFailed(ctx context.Context, id, message string) error {
	query := `
		UPDATE pending_sends
		SET status = 'failed', last_error = $2, updated_at = now()
		WHERE id = $1 AND status <> 'sent'
	`
	tag, err := s.pool.Exec(ctx, query, id, message)
	if err != nil {
		return fmt.Errorf("mark pending send failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.GetByID(ctx, id); err != nil {
			return err
		}
		return storage.ErrConflict
	}
	return nil
}

// ReclaimStale moves sending rows last updated before cutoff to failed.
func (s *PendingSendStore) ReclaimStale(ctx context.Context, cutoff time.Time) (int, error) {
	query := `
		UPDATE pending_sends
		SET status = 'failed', last_error = $2, updated_at = now()
		WHERE status = 'sending' AND updated_at < $1
	`
	tag, err := s.pool.Exec(ctx, query, cutoff, storage.ReclaimedMessage)
	if err != nil {
		return 0, fmt.Errorf("reclaim stale pending sends: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func scanPendingSend(row pgx.Row) (*domain.PendingSendRecord, error) {
	var (
		r                   domain.PendingSendRecord
		status              string
		inflightValidHeight int64
	)
	err := row.Scan(
		&r.ID, &status, &r.Attempts, &r.WalletAddress, &r.AmountSmallest, &r.PurchaseID,
		&r.SettlementSignature, &r.LastError, &r.InflightSignature, &inflightValidHeight,
		&r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	r.Status = domain.PendingSendStatus(status)
	r.InflightValidHeight = uint64(inflightValidHeight)
	return &r, nil
}
