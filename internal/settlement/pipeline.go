package settlement

import (
	"context"

	"go.uber.org/zap"

	"presale-settler/internal/domain"
	"presale-settler/internal/observability"
	"presale-settler/internal/storage"
)

// Settler pays out a bound purchase and returns the settlement signature.
type Settler interface {
	SettlePurchase(ctx context.Context, rec *domain.PurchaseRecord) (string, error)
}

// Outcome is the terminal state of processing one notification.
type Outcome string

// Outcomes.
const (
	OutcomeSkipped        Outcome = "skipped"
	OutcomeUnresolved     Outcome = "unresolved"
	OutcomeAlreadySettled Outcome = "already_settled"
	OutcomeSettled        Outcome = "settled"
	OutcomeFailed         Outcome = "failed"
)

// Result describes what happened to one notification.
type Result struct {
	Signature           string
	Outcome             Outcome
	Reason              string
	PurchaseID          string
	SettlementSignature string
}

// PipelineConfig wires a Pipeline.
type PipelineConfig struct {
	Treasury    string
	Amounts     *AmountResolver
	Matcher     *Matcher
	Settler     Settler
	Diagnostics storage.DiagnosticStore
	Logger      *zap.Logger
}

// Pipeline drives one notification through filter, resolve, bind and settle.
type Pipeline struct {
	treasury    string
	amounts     *AmountResolver
	matcher     *Matcher
	settler     Settler
	diagnostics storage.DiagnosticStore
	logger      *zap.Logger
}

// NewPipeline creates a pipeline.
func NewPipeline(cfg PipelineConfig) *Pipeline {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Pipeline{
		treasury:    cfg.Treasury,
		amounts:     cfg.Amounts,
		matcher:     cfg.Matcher,
		settler:     cfg.Settler,
		diagnostics: cfg.Diagnostics,
		logger:      cfg.Logger.Named("pipeline"),
	}
}

// Process handles one notification. Failures are persisted by the settler
// and reported in the Result; Process never panics on bad input.
func (p *Pipeline) Process(ctx context.Context, n domain.Notification) Result {
	res := Result{Signature: n.Signature}
	log := p.logger.With(zap.String("signature", n.Signature))

	if !n.IsTransfer() {
		return p.skip(res, "not_transfer")
	}

	payment, err := NewPayment(&n, p.treasury)
	if err == nil {
		err = payment.Validate(p.treasury)
	}
	if err != nil {
		log.Debug("notification is not a purchase", zap.Error(err))
		return p.skip(res, SkipReason(err))
	}

	amount, ok := p.amounts.Resolve(ctx, payment.Edge, &n)
	if !ok {
		log.Info("payment amount unresolved, skipping")
		observability.RecordNotificationSkipped("unresolved")
		if err := p.diagnostics.Append(ctx, &domain.Diagnostic{
			Kind:      domain.DiagnosticAmountUnresolved,
			Signature: n.Signature,
			Wallet:    payment.Payer,
			Message:   "cannot infer payment amount",
			Details:   map[string]string{"mint": payment.Edge.Mint},
		}); err != nil {
			log.Warn("append diagnostic failed", zap.Error(err))
		}
		res.Outcome = OutcomeUnresolved
		res.Reason = "amount_unresolved"
		return res
	}
	payment.Amount = amount

	rec, _, err := p.matcher.Bind(ctx, payment)
	if err != nil {
		log.Error("bind purchase failed", zap.Error(err))
		if derr := p.diagnostics.Append(context.WithoutCancel(ctx), &domain.Diagnostic{
			Kind:      domain.DiagnosticBindFailed,
			Signature: n.Signature,
			Wallet:    payment.Payer,
			Message:   err.Error(),
			Details: map[string]string{
				"currency": payment.Amount.Currency,
				"usd":      payment.Amount.USDAmount.String(),
			},
		}); derr != nil {
			log.Warn("append diagnostic failed", zap.Error(derr))
		}
		res.Outcome = OutcomeFailed
		res.Reason = err.Error()
		return res
	}
	res.PurchaseID = rec.ID

	if rec.Settled() {
		log.Info("purchase already settled",
			zap.String("purchase_id", rec.ID),
			zap.String("settlement_signature", *rec.SettlementSignature))
		res.Outcome = OutcomeAlreadySettled
		res.SettlementSignature = *rec.SettlementSignature
		return res
	}

	sig, err := p.settler.SettlePurchase(ctx, rec)
	if err != nil {
		res.Outcome = OutcomeFailed
		res.Reason = err.Error()
		return res
	}
	res.Outcome = OutcomeSettled
	res.SettlementSignature = sig
	return res
}

func (p *Pipeline) skip(res Result, reason string) Result {
	observability.RecordNotificationSkipped(reason)
	res.Outcome = OutcomeSkipped
	res.Reason = reason
	return res
}
