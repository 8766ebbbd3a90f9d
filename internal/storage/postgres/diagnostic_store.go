package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"presale-settler/internal/domain"
	"presale-settler/internal/storage"
)

// DiagnosticStore implements storage.DiagnosticStore using PostgreSQL.
type DiagnosticStore struct {
	pool *Pool
}

// NewDiagnosticStore creates a new DiagnosticStore.
func NewDiagnosticStore(pool *Pool) *DiagnosticStore {
	return &DiagnosticStore{pool: pool}
}

// Compile-time interface check.
var _ storage.DiagnosticStore = (*DiagnosticStore)(nil)

// Append adds an event. ID and CreatedAt are filled when empty.
func (s *DiagnosticStore) Append(ctx context.Context, d *domain.Diagnostic) error {
	if d == nil || d.Kind == "" {
		return storage.ErrInvalidInput
	}
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}

	details := d.Details
	if details == nil {
		details = map[string]string{}
	}
	raw, err := json.Marshal(details)
	if err != nil {
		return fmt.Errorf("encode diagnostic details: %w", err)
	}

	query := `
		INSERT INTO diagnostics (id, kind, signature, purchase_id, wallet, message, details, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err = s.pool.Exec(ctx, query,
		d.ID, d.Kind, d.Signature, d.PurchaseID, d.Wallet, d.Message, raw, d.CreatedAt,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert diagnostic: %w", err)
	}
	return nil
}

// ListByKind returns events of a kind, oldest first.
func (s *DiagnosticStore) ListByKind(ctx context.Context, kind string, limit int) ([]*domain.Diagnostic, error) {
	query := `
		SELECT id, kind, signature, purchase_id, wallet, message, details, created_at
		FROM diagnostics
		WHERE kind = $1
		ORDER BY created_at ASC
		LIMIT $2
	`
	rows, err := s.pool.Query(ctx, query, kind, limit)
	if err != nil {
		return nil, fmt.Errorf("list diagnostics: %w", err)
	}
	defer rows.Close()

	var result []*domain.Diagnostic
	for rows.Next() {
		var (
			d   domain.Diagnostic
			raw []byte
		)
		if err := rows.Scan(&d.ID, &d.Kind, &d.Signature, &d.PurchaseID, &d.Wallet, &d.Message, &raw, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan diagnostic: %w", err)
		}
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &d.Details); err != nil {
				return nil, fmt.Errorf("decode diagnostic details: %w", err)
			}
		}
		result = append(result, &d)
	}
	return result, rows.Err()
}
