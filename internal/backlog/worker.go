// Package backlog drains the pending_sends queue: rows whose settlement was
// deferred or failed on the webhook path.
package backlog

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"

	"presale-settler/internal/chain"
	"presale-settler/internal/domain"
	"presale-settler/internal/observability"
	"presale-settler/internal/storage"
	"presale-settler/internal/tokenaccount"
	"presale-settler/internal/transfer"
)

// Worker defaults.
const (
	DefaultBatchSize   = 25
	DefaultMaxAttempts = 10
)

// ErrNonPositiveAmount marks rows that can never be sent.
var ErrNonPositiveAmount = errors.New("amount_smallest must be positive")

// Config configures a Worker.
type Config struct {
	BatchSize   int
	MaxAttempts int // rows at or above this many attempts are no longer picked up
	// StaleAfter is how long a row may sit in sending before a pass hands it
	// back. Never shorter than the executor's claim lease.
	StaleAfter time.Duration
	Logger     *zap.Logger
}

// Summary reports one pass.
type Summary struct {
	Processed int `json:"processed"`
	OK        int `json:"ok"`
	Fail      int `json:"fail"`
}

// Worker runs backlog passes.
type Worker struct {
	pending     storage.PendingSendStore
	diagnostics storage.DiagnosticStore
	provisioner *tokenaccount.Provisioner
	executor    *transfer.Executor
	cfg         Config
	logger      *zap.Logger
	now         func() time.Time
}

// NewWorker creates a worker.
func NewWorker(pending storage.PendingSendStore, diagnostics storage.DiagnosticStore, provisioner *tokenaccount.Provisioner, executor *transfer.Executor, cfg Config) *Worker {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.StaleAfter < executor.ClaimLease() {
		cfg.StaleAfter = executor.ClaimLease()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Worker{
		pending:     pending,
		diagnostics: diagnostics,
		provisioner: provisioner,
		executor:    executor,
		cfg:         cfg,
		logger:      cfg.Logger.Named("backlog"),
		now:         time.Now,
	}
}

// RunOnce processes one batch of due rows, oldest first. Rows claimed by a
// concurrent pass are skipped. A per-row failure is recorded on the row and
// never aborts the pass; only listing errors are returned.
func (w *Worker) RunOnce(ctx context.Context) (Summary, error) {
	start := time.Now()
	var sum Summary

	// A row left in sending by a crashed pass or a lost MarkSent is resolved
	// through its inflight marker or linked purchase once handed back.
	if n, err := w.pending.ReclaimStale(ctx, w.now().Add(-w.cfg.StaleAfter)); err != nil {
		w.logger.Error("reclaim stale pending sends", zap.Error(err))
	} else if n > 0 {
		w.logger.Warn("reclaimed stale pending sends", zap.Int("rows", n))
	}

	rows, err := w.pending.ListDue(ctx, w.cfg.BatchSize, w.cfg.MaxAttempts)
	if err != nil {
		return sum, fmt.Errorf("list due pending sends: %w", err)
	}

	for _, row := range rows {
		if ctx.Err() != nil {
			break
		}
		claimed, err := w.pending.Claim(ctx, row.ID)
		if errors.Is(err, storage.ErrConflict) {
			w.logger.Debug("row claimed elsewhere", zap.String("id", row.ID))
			continue
		}
		if err != nil {
			w.logger.Error("claim pending send", zap.String("id", row.ID), zap.Error(err))
			continue
		}

		sum.Processed++
		if w.process(ctx, claimed) {
			sum.OK++
		} else {
			sum.Fail++
		}
	}

	observability.RecordBacklogPass(sum.OK, sum.Fail, time.Since(start))
	w.logger.Info("backlog pass complete",
		zap.Int("processed", sum.Processed),
		zap.Int("ok", sum.OK),
		zap.Int("fail", sum.Fail),
		zap.Duration("duration", time.Since(start)),
	)
	return sum, nil
}

func (w *Worker) process(ctx context.Context, row *domain.PendingSendRecord) bool {
	log := w.logger.With(zap.String("id", row.ID), zap.String("wallet", row.WalletAddress), zap.Int("attempt", row.Attempts))

	sig, leased, err := w.send(ctx, row, log)
	if err != nil {
		w.fail(ctx, row, err, leased, log)
		return false
	}

	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	propagated := w.propagate(pctx, row, sig, log)
	if err := w.pending.MarkSent(pctx, row.ID, sig); err != nil {
		// The row stays sending until ReclaimStale hands it back.
		log.Error("transfer settled but pending send not marked sent", zap.String("signature", sig), zap.Error(err))
		w.record(pctx, row, fmt.Errorf("mark sent: %w", err), sig, log)
		return false
	}
	if !propagated {
		return false
	}
	log.Info("pending send settled", zap.String("signature", sig))
	return true
}

// send pays the row out and returns the settlement signature. leased reports
// that the linked purchase's settlement lease is held and must be released
// on failure.
func (w *Worker) send(ctx context.Context, row *domain.PendingSendRecord, log *zap.Logger) (sig string, leased bool, err error) {
	if row.AmountSmallest <= 0 {
		return "", false, fmt.Errorf("%w: got %d", ErrNonPositiveAmount, row.AmountSmallest)
	}
	recipient, err := solana.PublicKeyFromBase58(row.WalletAddress)
	if err != nil {
		return "", false, fmt.Errorf("%w: %s", transfer.ErrInvalidRecipient, row.WalletAddress)
	}

	inflight := transfer.InflightOf(row.InflightSignature, row.InflightValidHeight)
	purchaseID := linkedPurchase(row)
	if purchaseID != "" {
		p, err := w.executor.ClaimPurchase(ctx, purchaseID)
		if err != nil {
			return "", false, err
		}
		if p.Settled() {
			log.Info("linked purchase already settled, no transfer made",
				zap.String("purchase_id", purchaseID), zap.String("signature", *p.SettlementSignature))
			return *p.SettlementSignature, false, nil
		}
		leased = true
		if inflight == nil {
			inflight = transfer.InflightOf(p.InflightSignature, p.InflightValidHeight)
		}
	}

	mint := w.executor.Mint()
	program := w.provisioner.Resolver().ProgramFor(ctx, mint)
	if _, err := w.provisioner.EnsureAccount(ctx, mint, recipient, program); err != nil {
		return "", leased, fmt.Errorf("ensure buyer account: %w", err)
	}
	if _, err := w.provisioner.EnsureAccount(ctx, mint, w.executor.Payer(), program); err != nil {
		return "", leased, fmt.Errorf("ensure sender account: %w", err)
	}

	res, err := w.executor.Execute(ctx, transfer.Job{
		Ref:       row.ID,
		Recipient: recipient,
		Amount:    uint64(row.AmountSmallest),
		Inflight:  inflight,
		OnInflight: func(ctx context.Context, sub chain.Submission) error {
			err := w.pending.RecordInflight(ctx, row.ID, sub.Signature.String(), sub.LastValidBlockHeight)
			if purchaseID != "" {
				err = errors.Join(err, w.executor.RecordPurchaseInflight(ctx, purchaseID, sub))
			}
			return err
		},
	})
	if err != nil {
		return "", leased, err
	}
	return res.Signature.String(), leased, nil
}

// propagate settles the linked purchase with sig, which also ends its lease.
func (w *Worker) propagate(ctx context.Context, row *domain.PendingSendRecord, sig string, log *zap.Logger) bool {
	purchaseID := linkedPurchase(row)
	if purchaseID == "" {
		return true
	}
	if err := w.executor.PropagateSettlement(ctx, purchaseID, sig); err != nil {
		log.Error("propagate settlement", zap.String("purchase_id", purchaseID), zap.Error(err))
		w.record(ctx, row, err, sig, log)
		return false
	}
	return true
}

func (w *Worker) fail(ctx context.Context, row *domain.PendingSendRecord, cause error, leased bool, log *zap.Logger) {
	log.Warn("pending send failed", zap.Stringer("kind", chain.KindOf(cause)), zap.Error(cause))

	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := w.pending.MarkFailed(pctx, row.ID, cause.Error()); err != nil {
		log.Error("mark pending send failed", zap.Error(err))
	}
	if leased {
		if err := w.executor.ReleasePurchase(pctx, linkedPurchase(row), cause); err != nil {
			log.Error("release linked purchase", zap.Error(err))
		}
	}
	w.record(pctx, row, cause, "", log)
}

// record appends a backlog_failed diagnostic. signature is non-empty when
// tokens moved but the bookkeeping after it did not complete.
func (w *Worker) record(ctx context.Context, row *domain.PendingSendRecord, cause error, signature string, log *zap.Logger) {
	details := map[string]string{
		"pending_send_id": row.ID,
		"kind":            chain.KindOf(cause).String(),
		"attempts":        strconv.Itoa(row.Attempts),
		"amount_smallest": strconv.FormatInt(row.AmountSmallest, 10),
	}
	if signature != "" {
		details["settlement_signature"] = signature
	}
	if err := w.diagnostics.Append(ctx, &domain.Diagnostic{
		Kind:       domain.DiagnosticBacklogFailed,
		PurchaseID: linkedPurchase(row),
		Wallet:     row.WalletAddress,
		Message:    cause.Error(),
		Details:    details,
	}); err != nil {
		log.Error("append backlog diagnostic", zap.Error(err))
	}
}

func linkedPurchase(row *domain.PendingSendRecord) string {
	if row.PurchaseID == nil {
		return ""
	}
	return *row.PurchaseID
}
