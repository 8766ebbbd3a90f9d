package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"presale-settler/internal/domain"
	"presale-settler/internal/storage"
)

// PurchaseStore implements storage.PurchaseStore using PostgreSQL.
type PurchaseStore struct {
	pool *Pool
}

// NewPurchaseStore creates a new PurchaseStore.
func NewPurchaseStore(pool *Pool) *PurchaseStore {
	return &PurchaseStore{pool: pool}
}

// Compile-time interface check.
var _ storage.PurchaseStore = (*PurchaseStore)(nil)

const purchaseColumns = `
	id, status, wallet_address, token_address, payment_signature,
	tokens_to_credit, crypto_type, crypto_amount::text, usd_amount::text, stage_name,
	settlement_signature, error_message, inflight_signature, inflight_valid_height,
	settling_until, created_at, updated_at
`

// Insert adds a new purchase. Returns ErrDuplicateKey if id or payment signature exists.
func (s *PurchaseStore) Insert(ctx context.Context, p *domain.PurchaseRecord) error {
	if p == nil || p.ID == "" || p.TokensToCredit < 0 {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO purchases (
			id, status, wallet_address, token_address, payment_signature,
			tokens_to_credit, crypto_type, crypto_amount, usd_amount, stage_name
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at, updated_at
	`

	err := s.pool.QueryRow(ctx, query,
		p.ID, string(p.Status), p.WalletAddress, p.TokenAddress, p.PaymentSignature,
		p.TokensToCredit, p.CryptoType, p.CryptoAmount.String(), p.USDAmount.String(), p.StageName,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert purchase: %w", err)
	}
	return nil
}

// GetByID retrieves a purchase. Returns ErrNotFound if not exists.
func (s *PurchaseStore) GetByID(ctx context.Context, id string) (*domain.PurchaseRecord, error) {
	query := `SELECT ` + purchaseColumns + ` FROM purchases WHERE id = $1`
	return s.get(ctx, query, id)
}

// GetByPaymentSignature retrieves the purchase funded by signature.
func (s *PurchaseStore) GetByPaymentSignature(ctx context.Context, signature string) (*domain.PurchaseRecord, error) {
	query := `SELECT ` + purchaseColumns + ` FROM purchases WHERE payment_signature = $1`
	return s.get(ctx, query, signature)
}

func (s *PurchaseStore) get(ctx context.Context, query string, arg string) (*domain.PurchaseRecord, error) {
	p, err := scanPurchase(s.pool.QueryRow(ctx, query, arg))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get purchase: %w", err)
	}
	return p, nil
}

// MarkConfirmed moves a pending purchase to confirmed.
func (s *PurchaseStore) MarkConfirmed(ctx context.Context, id string) error {
	query := `
		UPDATE purchases SET status = 'confirmed', updated_at = now()
		WHERE id = $1 AND status = 'pending'
	`
	tag, err := s.pool.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("confirm purchase: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.requireExists(ctx, id)
	}
	return nil
}

// Claim takes the settlement lease until the given time.
// Returns ErrConflict if the purchase is settled or another lease is live.
func (s *PurchaseStore) Claim(ctx context.Context, id string, until time.Time) error {
	query := `
		UPDATE purchases SET settling_until = $2, updated_at = now()
		WHERE id = $1
		  AND settlement_signature IS NULL
		  AND (settling_until IS NULL OR settling_until <= now())
	`
	tag, err := s.pool.Exec(ctx, query, id, until)
	if err != nil {
		return fmt.Errorf("claim purchase: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if err := s.requireExists(ctx, id); err != nil {
			return err
		}
		return storage.ErrConflict
	}
	return nil
}

// RecordInflight stores a submitted but unconfirmed transfer signature.
func (s *PurchaseStore) RecordInflight(ctx context.Context, id, signature string, validHeight uint64) error {
	query := `
		UPDATE purchases
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

// MarkSettled records the settlement signature and completes the purchase.
// Writing the same signature twice is a no-op; a different one is ErrConflict.
func (s *PurchaseStore) MarkSettled(ctx context.Context, id, signature string) error {
	if signature == "" {
		return storage.ErrInvalidInput
	}

	query := `
		UPDATE purchases
		SET settlement_signature = $2, status = 'completed', error_message = NULL,
		    inflight_signature = NULL, inflight_valid_height = 0, settling_until = NULL,
		    updated_at = now()
		WHERE id = $1 AND settlement_signature IS NULL
	`
	tag, err := s.pool.Exec(ctx, query, id, signature)
	if err != nil {
		return fmt.Errorf("mark purchase settled: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var existing *string
	err = s.pool.QueryRow(ctx, `SELECT settlement_signature FROM purchases WHERE id = $1`, id).Scan(&existing)
	if err != nil {
		if isNotFoundError(err) {
			return storage.ErrNotFound
		}
		return fmt.Errorf("read settlement signature: %w", err)
	}
	if existing != nil && *existing == signature {
		return nil
	}
	return storage.ErrConflict
}

// MarkFailed records the last error and releases the lease.
func (s *PurchaseStore) MarkFailed(ctx context.Context, id, message string) error {
	query := `
		UPDATE purchases
		SET error_message = $2, settling_until = NULL, updated_at = now()
		WHERE id = $1 AND settlement_signature IS NULL
	`
	tag, err := s.pool.Exec(ctx, query, id, message)
	if err != nil {
		return fmt.Errorf("mark purchase failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if err := s.requireExists(ctx, id); err != nil {
			return err
		}
		return storage.ErrConflict
	}
	return nil
}

// TotalUSDRaised sums usd_amount over all purchases past pending.
func (s *PurchaseStore) TotalUSDRaised(ctx context.Context) (decimal.Decimal, error) {
	var total string
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(usd_amount), 0)::text FROM purchases WHERE status <> 'pending'`,
	).Scan(&total)
	if err != nil {
		return decimal.Zero, fmt.Errorf("sum usd raised: %w", err)
	}
	return parseNumeric(total)
}

func (s *PurchaseStore) requireExists(ctx context.Context, id string) error {
	var exists bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM purchases WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check purchase exists: %w", err)
	}
	if !exists {
		return storage.ErrNotFound
	}
	return nil
}

func scanPurchase(row pgx.Row) (*domain.PurchaseRecord, error) {
	var (
		p                   domain.PurchaseRecord
		status              string
		cryptoAmt, usdAmt   string
		inflightValidHeight int64
	)
	err := row.Scan(
		&p.ID, &status, &p.WalletAddress, &p.TokenAddress, &p.PaymentSignature,
		&p.TokensToCredit, &p.CryptoType, &cryptoAmt, &usdAmt, &p.StageName,
		&p.SettlementSignature, &p.ErrorMessage, &p.InflightSignature, &inflightValidHeight,
		&p.SettlingUntil, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	p.Status = domain.PurchaseStatus(status)
	p.InflightValidHeight = uint64(inflightValidHeight)
	if p.CryptoAmount, err = parseNumeric(cryptoAmt); err != nil {
		return nil, err
	}
	if p.USDAmount, err = parseNumeric(usdAmt); err != nil {
		return nil, err
	}
	return &p, nil
}
