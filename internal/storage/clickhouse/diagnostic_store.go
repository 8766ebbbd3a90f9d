package clickhouse

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"presale-settler/internal/domain"
	"presale-settler/internal/storage"
)

// DiagnosticStore implements storage.DiagnosticStore on a ClickHouse MergeTree.
// Events are append-only; ids are generated client-side and never checked for reuse.
type DiagnosticStore struct {
	conn *Conn
}

// NewDiagnosticStore creates a new DiagnosticStore.
func NewDiagnosticStore(conn *Conn) *DiagnosticStore {
	return &DiagnosticStore{conn: conn}
}

// Compile-time interface check.
var _ storage.DiagnosticStore = (*DiagnosticStore)(nil)

// Append adds an event.
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

	query := `
		INSERT INTO diagnostics (
			id, kind, signature, purchase_id, wallet, message, details, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	err := s.conn.Exec(ctx, query,
		d.ID, d.Kind, d.Signature, d.PurchaseID, d.Wallet, d.Message, details, d.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert diagnostic: %w", err)
	}
	return nil
}

// AppendBatch writes many events in one block insert.
func (s *DiagnosticStore) AppendBatch(ctx context.Context, events []*domain.Diagnostic) error {
	if len(events) == 0 {
		return nil
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO diagnostics (
			id, kind, signature, purchase_id, wallet, message, details, created_at
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	now := time.Now().UTC()
	for _, d := range events {
		if d.Kind == "" {
			return storage.ErrInvalidInput
		}
		if d.ID == "" {
			d.ID = uuid.NewString()
		}
		if d.CreatedAt.IsZero() {
			d.CreatedAt = now
		}
		details := d.Details
		if details == nil {
			details = map[string]string{}
		}
		if err := batch.Append(d.ID, d.Kind, d.Signature, d.PurchaseID, d.Wallet, d.Message, details, d.CreatedAt); err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// CountByKind returns the number of events of a kind.
func (s *DiagnosticStore) CountByKind(ctx context.Context, kind string) (uint64, error) {
	var n uint64
	row := s.conn.QueryRow(ctx, `SELECT count() FROM diagnostics WHERE kind = ?`, kind)
	if err := row.Scan(&n); err != nil {
		return 0, fmt.Errorf("count diagnostics: %w", err)
	}
	return n, nil
}
