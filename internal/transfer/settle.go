package transfer

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strconv"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"

	"presale-settler/internal/chain"
	"presale-settler/internal/domain"
	"presale-settler/internal/storage"
)

// ScaleTokens converts whole tokens to smallest units.
func ScaleTokens(tokens int64, decimals uint8) (uint64, error) {
	if tokens <= 0 {
		return 0, fmt.Errorf("%w: %d tokens", ErrInvalidAmount, tokens)
	}
	scaled := new(big.Int).Mul(big.NewInt(tokens), new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil))
	if !scaled.IsUint64() {
		return 0, fmt.Errorf("%w: %d tokens overflow at %d decimals", ErrInvalidAmount, tokens, decimals)
	}
	return scaled.Uint64(), nil
}

// InflightOf rebuilds a persisted inflight marker.
func InflightOf(signature *string, validHeight uint64) *chain.Submission {
	if signature == nil || *signature == "" {
		return nil
	}
	sig, err := solana.SignatureFromBase58(*signature)
	if err != nil {
		return nil
	}
	return &chain.Submission{Signature: sig, LastValidBlockHeight: validHeight}
}

// SettlePurchase pays out rec exactly once. A purchase that already carries
// a settlement signature is returned as is. The settlement signature is
// written only after confirmation; failures are recorded on the purchase
// and in the diagnostics log.
func (e *Executor) SettlePurchase(ctx context.Context, rec *domain.PurchaseRecord) (string, error) {
	if rec.Settled() {
		return *rec.SettlementSignature, nil
	}
	log := e.logger.With(zap.String("purchase_id", rec.ID), zap.String("payment_signature", rec.PaymentRef()))

	current, err := e.claim(ctx, rec.ID)
	if err != nil {
		if errors.Is(err, ErrSettlementInProgress) {
			log.Info("purchase is being settled elsewhere")
		}
		return "", err
	}
	if current.Settled() {
		return *current.SettlementSignature, nil
	}

	res, err := e.settle(ctx, current)
	if err != nil {
		e.recordFailure(ctx, current, err, res.Attempts)
		return "", err
	}

	sig := res.Signature.String()
	pctx, cancel := persistContext(ctx)
	defer cancel()
	if err := e.purchases.MarkSettled(pctx, current.ID, sig); err != nil {
		log.Error("transfer confirmed but settlement not recorded",
			zap.String("settlement_signature", sig), zap.Error(err))
		return sig, fmt.Errorf("record settlement %s: %w", sig, err)
	}

	rec.SettlementSignature = &sig
	rec.Status = domain.PurchaseStatusCompleted
	rec.ErrorMessage = nil
	log.Info("purchase settled", zap.String("settlement_signature", sig), zap.Int64("tokens", current.TokensToCredit))
	return sig, nil
}

func (e *Executor) settle(ctx context.Context, rec *domain.PurchaseRecord) (Result, error) {
	amount, err := ScaleTokens(rec.TokensToCredit, e.cfg.Decimals)
	if err != nil {
		return Result{}, err
	}
	recipient, err := solana.PublicKeyFromBase58(rec.DeliveryAddress())
	if err != nil {
		return Result{}, fmt.Errorf("%w: %q: %v", ErrInvalidRecipient, rec.DeliveryAddress(), err)
	}

	id := rec.ID
	return e.Execute(ctx, Job{
		Ref:       id,
		Recipient: recipient,
		Amount:    amount,
		Inflight:  InflightOf(rec.InflightSignature, rec.InflightValidHeight),
		OnInflight: func(ctx context.Context, sub chain.Submission) error {
			return e.RecordPurchaseInflight(ctx, id, sub)
		},
	})
}

// claim takes the settlement lease on id and returns the purchase reloaded
// under it. A purchase found settled is returned without a lease.
func (e *Executor) claim(ctx context.Context, id string) (*domain.PurchaseRecord, error) {
	if err := e.purchases.Claim(ctx, id, e.now().Add(e.cfg.ClaimLease)); err != nil {
		if !errors.Is(err, storage.ErrConflict) {
			return nil, fmt.Errorf("claim purchase %s: %w", id, err)
		}
		current, gerr := e.purchases.GetByID(ctx, id)
		if gerr == nil && current.Settled() {
			return current, nil
		}
		return nil, fmt.Errorf("purchase %s: %w", id, ErrSettlementInProgress)
	}

	// The row may have changed since the caller loaded it.
	current, err := e.purchases.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("reload purchase %s: %w", id, err)
	}
	return current, nil
}

// ClaimPurchase prepares a transfer made for purchaseID outside
// SettlePurchase. A settled purchase is returned as is and must not be paid
// again. Otherwise the settlement lease is held on return; the caller ends it
// with PropagateSettlement on success or ReleasePurchase on failure.
func (e *Executor) ClaimPurchase(ctx context.Context, purchaseID string) (*domain.PurchaseRecord, error) {
	rec, err := e.purchases.GetByID(ctx, purchaseID)
	if err != nil {
		return nil, fmt.Errorf("load purchase %s: %w", purchaseID, err)
	}
	if rec.Settled() {
		return rec, nil
	}
	return e.claim(ctx, purchaseID)
}

// ReleasePurchase records cause on the purchase and drops its lease.
func (e *Executor) ReleasePurchase(ctx context.Context, purchaseID string, cause error) error {
	if err := e.purchases.MarkFailed(ctx, purchaseID, cause.Error()); err != nil {
		return fmt.Errorf("release purchase %s: %w", purchaseID, err)
	}
	return nil
}

// RecordPurchaseInflight stores an unconfirmed transfer on the purchase so
// either settlement path resolves it before paying again.
func (e *Executor) RecordPurchaseInflight(ctx context.Context, purchaseID string, sub chain.Submission) error {
	return e.purchases.RecordInflight(ctx, purchaseID, sub.Signature.String(), sub.LastValidBlockHeight)
}

func (e *Executor) recordFailure(ctx context.Context, rec *domain.PurchaseRecord, cause error, attempts int) {
	pctx, cancel := persistContext(ctx)
	defer cancel()

	msg := cause.Error()
	if err := e.purchases.MarkFailed(pctx, rec.ID, msg); err != nil {
		e.logger.Error("record settlement failure", zap.String("purchase_id", rec.ID), zap.Error(err))
	}
	if err := e.diagnostics.Append(pctx, &domain.Diagnostic{
		Kind:       domain.DiagnosticSettlementFailed,
		Signature:  rec.PaymentRef(),
		PurchaseID: rec.ID,
		Wallet:     rec.DeliveryAddress(),
		Message:    msg,
		Details: map[string]string{
			"kind":     chain.KindOf(cause).String(),
			"attempts": strconv.Itoa(attempts),
			"tokens":   strconv.FormatInt(rec.TokensToCredit, 10),
		},
	}); err != nil {
		e.logger.Error("append settlement diagnostic", zap.String("purchase_id", rec.ID), zap.Error(err))
	}
}

// PropagateSettlement records a settlement signature obtained outside the
// purchase path onto the purchase. Recording the same signature twice is a no-op.
func (e *Executor) PropagateSettlement(ctx context.Context, purchaseID, signature string) error {
	rec, err := e.purchases.GetByID(ctx, purchaseID)
	if err != nil {
		return fmt.Errorf("load purchase %s: %w", purchaseID, err)
	}
	if rec.Settled() && *rec.SettlementSignature == signature {
		return nil
	}
	if err := e.purchases.MarkSettled(ctx, purchaseID, signature); err != nil {
		return fmt.Errorf("propagate settlement to %s: %w", purchaseID, err)
	}
	return nil
}

