package storage

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"presale-settler/internal/domain"
)

// PurchaseStore provides access to purchases storage.
// Records are never deleted; they form the settlement audit trail.
type PurchaseStore interface {
	// Insert adds a new purchase. Returns ErrDuplicateKey if id or payment signature exists.
	Insert(ctx context.Context, p *domain.PurchaseRecord) error

	// GetByID retrieves a purchase. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, id string) (*domain.PurchaseRecord, error)

	// GetByPaymentSignature retrieves the purchase funded by signature. Returns ErrNotFound if not exists.
	GetByPaymentSignature(ctx context.Context, signature string) (*domain.PurchaseRecord, error)

	// MarkConfirmed moves a pending purchase to confirmed. No-op for any other status.
	MarkConfirmed(ctx context.Context, id string) error

	// Claim takes the settlement lease until the given time.
	// Returns ErrConflict if the purchase is settled or another lease is still live.
	Claim(ctx context.Context, id string, until time.Time) error

	// RecordInflight stores a submitted but unconfirmed transfer signature.
	RecordInflight(ctx context.Context, id, signature string, validHeight uint64) error

	// MarkSettled records the settlement signature, sets status completed, clears error,
	// inflight marker and lease. Idempotent for the same signature; ErrConflict if a
	// different signature is already recorded.
	MarkSettled(ctx context.Context, id, signature string) error

	// MarkFailed records the last error and releases the lease. Status is unchanged.
	MarkFailed(ctx context.Context, id, message string) error

	// TotalUSDRaised sums usd_amount over all purchases past pending.
	TotalUSDRaised(ctx context.Context) (decimal.Decimal, error)
}

// PendingSendStore provides access to pending_sends storage.
type PendingSendStore interface {
	// Insert enqueues a row. Returns ErrDuplicateKey if id exists.
	Insert(ctx context.Context, r *domain.PendingSendRecord) error

	// GetByID retrieves a row. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, id string) (*domain.PendingSendRecord, error)

	// ListDue returns up to limit queued or failed rows with attempts below maxAttempts,
	// ordered by created_at ASC.
	ListDue(ctx context.Context, limit, maxAttempts int) ([]*domain.PendingSendRecord, error)

	// Claim atomically moves a due row to sending and increments attempts.
	// Returns ErrConflict if the row is no longer queued or failed.
	Claim(ctx context.Context, id string) (*domain.PendingSendRecord, error)

	// RecordInflight stores a submitted but unconfirmed transfer signature.
	RecordInflight(ctx context.Context, id, signature string, validHeight uint64) error

	// MarkSent records the settlement signature and moves the row to sent.
	MarkSent(ctx context.Context, id, signature string) error

	// MarkFailed records the error and moves the row to failed.
	MarkFailed(ctx context.Context, id, message string) error

	// ReclaimStale moves sending rows last updated before cutoff to failed so a
	// later pass resolves them through their inflight marker. Returns the row count.
	ReclaimStale(ctx context.Context, cutoff time.Time) (int, error)
}

// DiagnosticStore is an append-only log of unmatched or failed settlement events.
type DiagnosticStore interface {
	// Append adds an event. ID and CreatedAt are filled when empty.
	Append(ctx context.Context, d *domain.Diagnostic) error
}
