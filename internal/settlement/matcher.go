package settlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"presale-settler/internal/domain"
	"presale-settler/internal/observability"
	"presale-settler/internal/storage"
)

// Matcher lookup defaults.
const (
	DefaultLookupWindow = 20 * time.Second
	DefaultInitialDelay = 500 * time.Millisecond
	DefaultMaxDelay     = 4 * time.Second
)

// MatcherConfig configures a Matcher.
type MatcherConfig struct {
	LookupWindow time.Duration // total time spent waiting for the purchase row
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Logger       *zap.Logger
}

// Matcher binds payments to purchase records.
type Matcher struct {
	purchases   storage.PurchaseStore
	diagnostics storage.DiagnosticStore
	pricing     *Pricing
	cfg         MatcherConfig
	logger      *zap.Logger
	now         func() time.Time
}

// NewMatcher creates a matcher.
func NewMatcher(purchases storage.PurchaseStore, diagnostics storage.DiagnosticStore, pricing *Pricing, cfg MatcherConfig) *Matcher {
	if cfg.LookupWindow < 0 {
		cfg.LookupWindow = 0
	} else if cfg.LookupWindow == 0 {
		cfg.LookupWindow = DefaultLookupWindow
	}
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = DefaultInitialDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = DefaultMaxDelay
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Matcher{
		purchases:   purchases,
		diagnostics: diagnostics,
		pricing:     pricing,
		cfg:         cfg,
		logger:      cfg.Logger.Named("matcher"),
		now:         time.Now,
	}
}

// Bind returns the purchase funded by p, creating a confirmed record when
// none appears within the lookup window. created reports auto-creation.
// p.Amount must already be resolved.
func (m *Matcher) Bind(ctx context.Context, p Payment) (rec *domain.PurchaseRecord, created bool, err error) {
	rec, err = m.lookup(ctx, p.Signature)
	if err == nil {
		if rec.Status == domain.PurchaseStatusPending {
			if err := m.purchases.MarkConfirmed(ctx, rec.ID); err != nil {
				return nil, false, fmt.Errorf("confirm purchase %s: %w", rec.ID, err)
			}
			rec.Status = domain.PurchaseStatusConfirmed
		}
		observability.RecordPurchaseMatched("existing")
		return rec, false, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, false, err
	}

	m.logger.Info("purchase not found, auto-creating",
		zap.String("signature", p.Signature),
		zap.String("payer", p.Payer),
		zap.String("usd", p.Amount.USDAmount.String()),
	)
	if err := m.diagnostics.Append(ctx, &domain.Diagnostic{
		Kind:      domain.DiagnosticPurchaseNotFound,
		Signature: p.Signature,
		Wallet:    p.Payer,
		Message:   "no purchase recorded for payment signature within lookup window",
		Details: map[string]string{
			"currency": p.Amount.Currency,
			"amount":   p.Amount.CryptoAmount.String(),
			"usd":      p.Amount.USDAmount.String(),
		},
	}); err != nil {
		m.logger.Warn("append diagnostic failed", zap.String("signature", p.Signature), zap.Error(err))
	}

	return m.create(ctx, p)
}

// lookup polls by payment signature with doubling delays until the window closes.
func (m *Matcher) lookup(ctx context.Context, signature string) (*domain.PurchaseRecord, error) {
	deadline := m.now().Add(m.cfg.LookupWindow)
	delay := m.cfg.InitialDelay

	for {
		rec, err := m.purchases.GetByPaymentSignature(ctx, signature)
		if err == nil {
			return rec, nil
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("lookup purchase %s: %w", signature, err)
		}

		remaining := deadline.Sub(m.now())
		if remaining <= 0 {
			return nil, storage.ErrNotFound
		}
		if delay > remaining {
			delay = remaining
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}

		delay *= 2
		if delay > m.cfg.MaxDelay {
			delay = m.cfg.MaxDelay
		}
	}
}

func (m *Matcher) create(ctx context.Context, p Payment) (*domain.PurchaseRecord, bool, error) {
	total, err := m.purchases.TotalUSDRaised(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("total raised: %w", err)
	}
	credit := m.pricing.Credit(p.Amount.USDAmount, total)

	sig := p.Signature
	rec := &domain.PurchaseRecord{
		ID:               uuid.NewString(),
		Status:           domain.PurchaseStatusConfirmed,
		WalletAddress:    p.Payer,
		TokenAddress:     p.Payer,
		PaymentSignature: &sig,
		TokensToCredit:   credit.Tokens,
		CryptoType:       p.Amount.Currency,
		CryptoAmount:     p.Amount.CryptoAmount,
		USDAmount:        p.Amount.USDAmount,
		StageName:        credit.Stage,
	}

	err = m.purchases.Insert(ctx, rec)
	if errors.Is(err, storage.ErrDuplicateKey) {
		// Lost the race to a concurrent delivery or the purchase writer.
		winner, err := m.purchases.GetByPaymentSignature(ctx, sig)
		if err != nil {
			return nil, false, fmt.Errorf("reload purchase %s: %w", sig, err)
		}
		observability.RecordPurchaseMatched("existing")
		return winner, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("insert purchase: %w", err)
	}

	m.logger.Info("purchase auto-created",
		zap.String("purchase_id", rec.ID),
		zap.String("signature", sig),
		zap.String("stage", credit.Stage),
		zap.Int64("tokens", credit.Tokens),
		zap.Int64("bonus_bps", credit.BonusBps),
	)
	observability.RecordPurchaseMatched("auto_created")
	return rec, true, nil
}
