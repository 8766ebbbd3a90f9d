// Package transfer moves reward tokens from the custodial account to buyers.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"

	"presale-settler/internal/chain"
	"presale-settler/internal/observability"
	"presale-settler/internal/retry"
	"presale-settler/internal/storage"
	"presale-settler/internal/tokenaccount"
)

// Executor defaults.
const (
	DefaultMaxAttempts = 5
	DefaultBaseDelay   = 500 * time.Millisecond
	DefaultMaxDelay    = 5 * time.Second
	DefaultClaimLease  = 20 * time.Minute
	persistTimeout     = 10 * time.Second
)

// Sentinel errors. Neither is retried.
var (
	ErrInvalidAmount                = errors.New("transfer amount must be a positive integer in smallest units")
	ErrInsufficientCustodialBalance = errors.New("insufficient custodial balance")
	ErrInvalidRecipient             = errors.New("invalid recipient address")
	ErrSettlementInProgress         = errors.New("settlement already in progress")
	errReviewFailed                 = errors.New("transfer instruction does not match request")
)

// Config configures an Executor.
type Config struct {
	Mint           solana.PublicKey
	Decimals       uint8
	MaxAttempts    int
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	ClaimLease     time.Duration // raised to MinClaimLease when shorter
	ConfirmTimeout time.Duration // the chain client's per-confirmation deadline
	Logger         *zap.Logger
}

// MinClaimLease is the longest a claimed settlement can keep running. Each
// attempt can wait out up to three confirmations plus one backoff, and the
// caller may provision both token accounts before the first attempt.
func MinClaimLease(cfg Config) time.Duration {
	confirm := cfg.ConfirmTimeout
	if confirm <= 0 {
		confirm = chain.DefaultConfirmTimeout
	}
	perAttempt := 3*confirm + cfg.MaxDelay
	return time.Duration(cfg.MaxAttempts)*perAttempt + 2*confirm + 2*persistTimeout
}

// Job is one transfer request.
type Job struct {
	Ref       string // purchase or pending-send id, for logs
	Recipient solana.PublicKey
	Amount    uint64 // smallest units

	// Inflight is a previously submitted transfer whose outcome is unknown.
	// It is resolved before anything new is submitted.
	Inflight *chain.Submission
	// OnInflight persists a submission before its confirmation is awaited.
	OnInflight func(ctx context.Context, sub chain.Submission) error
}

// Result of a successful transfer.
type Result struct {
	Signature solana.Signature
	Attempts  int
	Recovered bool // an earlier inflight submission was found to have landed
}

// Executor builds, signs, submits and confirms reward transfers.
type Executor struct {
	chain       chain.Client
	provisioner *tokenaccount.Provisioner
	purchases   storage.PurchaseStore
	diagnostics storage.DiagnosticStore
	cfg         Config
	policy      retry.Policy
	logger      *zap.Logger
	now         func() time.Time
}

// NewExecutor creates an executor.
func NewExecutor(c chain.Client, provisioner *tokenaccount.Provisioner, purchases storage.PurchaseStore, diagnostics storage.DiagnosticStore, cfg Config) *Executor {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = DefaultBaseDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = DefaultMaxDelay
	}
	if cfg.ClaimLease <= 0 {
		cfg.ClaimLease = DefaultClaimLease
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if floor := MinClaimLease(cfg); cfg.ClaimLease < floor {
		cfg.Logger.Warn("claim lease shorter than worst-case settlement, raising it",
			zap.Duration("configured", cfg.ClaimLease), zap.Duration("lease", floor))
		cfg.ClaimLease = floor
	}
	return &Executor{
		chain:       c,
		provisioner: provisioner,
		purchases:   purchases,
		diagnostics: diagnostics,
		cfg:         cfg,
		policy: retry.Policy{
			MaxAttempts: cfg.MaxAttempts,
			BaseDelay:   cfg.BaseDelay,
			MaxDelay:    cfg.MaxDelay,
			Retryable:   chain.IsRetryable,
		},
		logger: cfg.Logger.Named("executor"),
		now:    time.Now,
	}
}

// Mint returns the reward mint.
func (e *Executor) Mint() solana.PublicKey {
	return e.cfg.Mint
}

// ClaimLease returns the settlement lease taken on a purchase.
func (e *Executor) ClaimLease() time.Duration {
	return e.cfg.ClaimLease
}

// Payer returns the custodial address.
func (e *Executor) Payer() solana.PublicKey {
	return e.chain.Payer()
}

// Execute transfers job.Amount to job.Recipient, retrying transient chain
// failures up to MaxAttempts in total.
func (e *Executor) Execute(ctx context.Context, job Job) (Result, error) {
	if job.Amount == 0 {
		return Result{}, ErrInvalidAmount
	}
	if job.Recipient.IsZero() {
		return Result{}, ErrInvalidRecipient
	}

	log := e.logger.With(zap.String("ref", job.Ref), zap.Stringer("recipient", job.Recipient))
	inflight := job.Inflight
	var out Result

	err := retry.Do(ctx, e.policy, log, func(ctx context.Context, attempt int) error {
		out.Attempts = attempt

		if inflight != nil {
			landed, err := e.resolveInflight(ctx, *inflight)
			if err != nil {
				return err
			}
			if landed {
				out.Signature = inflight.Signature
				out.Recovered = true
				log.Info("inflight transfer found landed", zap.Stringer("signature", inflight.Signature))
				return nil
			}
			inflight = nil
		}

		sub, err := e.attempt(ctx, job, log)
		if sub.IsZero() {
			return err
		}
		if err != nil {
			// Sent or possibly sent without an observed outcome.
			if chain.KindOf(err) == chain.KindNodeLag || chain.KindOf(err) == chain.KindConfirmTimeout {
				inflight = &sub
			}
			return err
		}
		out.Signature = sub.Signature
		return nil
	})

	if err != nil {
		kind := chain.KindOf(err)
		observability.RecordTransfer("failed", out.Attempts)
		observability.RecordSettlementError(errorLabel(err, kind))
		log.Warn("transfer failed", zap.Int("attempts", out.Attempts), zap.Stringer("kind", kind), zap.Error(err))
		return out, err
	}

	observability.RecordTransfer("sent", out.Attempts)
	log.Info("transfer confirmed",
		zap.Stringer("signature", out.Signature),
		zap.Uint64("amount", job.Amount),
		zap.Int("attempts", out.Attempts),
	)
	return out, nil
}

// attempt runs one provision-build-submit-confirm pass. The returned
// Submission is non-zero once a transaction was signed and handed to the node.
func (e *Executor) attempt(ctx context.Context, job Job, log *zap.Logger) (chain.Submission, error) {
	mint := e.cfg.Mint
	payer := e.chain.Payer()

	program, err := e.checkCustodialBalance(ctx, job.Amount)
	if err != nil {
		return chain.Submission{}, err
	}

	sender, err := e.provisioner.TryEnsure(ctx, mint, payer, program)
	if err != nil {
		return chain.Submission{}, fmt.Errorf("sender account: %w", err)
	}
	buyer, err := e.provisioner.TryEnsure(ctx, mint, job.Recipient, sender.Program)
	if err != nil {
		return chain.Submission{}, fmt.Errorf("recipient account: %w", err)
	}

	ix := chain.TransferChecked(sender.Address, mint, buyer.Address, payer, job.Amount, e.cfg.Decimals, sender.Program)
	if err := review(ix, sender.Address, buyer.Address, payer, mint, job.Amount); err != nil {
		return chain.Submission{}, chain.NewError(chain.KindMalformed, "review transfer", err)
	}

	sub, err := e.chain.Submit(ctx, []solana.Instruction{ix})
	if err != nil {
		return sub, err
	}
	if job.OnInflight != nil {
		pctx, cancel := persistContext(ctx)
		perr := job.OnInflight(pctx, sub)
		cancel()
		if perr != nil {
			log.Warn("persist inflight signature failed", zap.Stringer("signature", sub.Signature), zap.Error(perr))
		}
	}

	log.Debug("transfer submitted", zap.Stringer("signature", sub.Signature))
	return sub, e.chain.Confirm(ctx, sub)
}

// checkCustodialBalance verifies the sender holds at least amount and
// returns the program its token account lives under.
func (e *Executor) checkCustodialBalance(ctx context.Context, amount uint64) (chain.Program, error) {
	resolver := e.provisioner.Resolver()
	program := resolver.ProgramFor(ctx, e.cfg.Mint)

	balance, err := e.senderBalance(ctx, program)
	if err != nil {
		return program, err
	}
	if balance < amount {
		// The mint lookup may have fallen back to the wrong program.
		alt := resolver.Alternate(program)
		if altBalance, err := e.senderBalance(ctx, alt); err == nil && altBalance >= amount {
			return alt, nil
		}
		return program, fmt.Errorf("%w: have %d, need %d", ErrInsufficientCustodialBalance, balance, amount)
	}
	return program, nil
}

func (e *Executor) senderBalance(ctx context.Context, program chain.Program) (uint64, error) {
	addr, err := tokenaccount.Derive(e.chain.Payer(), e.cfg.Mint, program)
	if err != nil {
		return 0, chain.NewError(chain.KindMalformed, "derive sender account", err)
	}
	return e.chain.GetTokenBalance(ctx, addr)
}

// resolveInflight decides the fate of an earlier submission. landed=false
// with a nil error means it can no longer land and a new transfer is safe.
func (e *Executor) resolveInflight(ctx context.Context, sub chain.Submission) (bool, error) {
	st, err := e.chain.SignatureStatus(ctx, sub.Signature)
	if err != nil {
		return false, err
	}
	if st.Landed {
		return st.Err == nil, nil
	}

	err = e.chain.Confirm(ctx, sub)
	switch {
	case err == nil:
		return true, nil
	case chain.KindOf(err) == chain.KindConfirmTimeout, chain.KindOf(err) == chain.KindNodeLag:
		return false, err
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return false, err
	default:
		// Expired blockhash or landed with an error: nothing moved.
		return false, nil
	}
}

// review checks the instruction moves exactly amount from source to
// destination under the custodial authority before it is signed.
func review(ix solana.Instruction, source, destination, authority, mint solana.PublicKey, amount uint64) error {
	f, ok := chain.DecodeTransferChecked(ix)
	switch {
	case !ok:
		return errReviewFailed
	case !f.Source.Equals(source), !f.Destination.Equals(destination):
		return fmt.Errorf("%w: accounts", errReviewFailed)
	case !f.Authority.Equals(authority), !f.Mint.Equals(mint):
		return fmt.Errorf("%w: authority or mint", errReviewFailed)
	case f.Amount != amount:
		return fmt.Errorf("%w: amount %d != %d", errReviewFailed, f.Amount, amount)
	}
	return nil
}

// persistContext detaches store writes from caller cancellation so a
// confirmed outcome is always recorded.
func persistContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
}

func errorLabel(err error, kind chain.ErrorKind) string {
	switch {
	case errors.Is(err, ErrInsufficientCustodialBalance):
		return "insufficient_custodial_balance"
	case errors.Is(err, tokenaccount.ErrOwnerNotFundable):
		return "owner_not_fundable"
	case errors.Is(err, retry.ErrAttemptsExhausted):
		return "exhausted_" + kind.String()
	default:
		return kind.String()
	}
}
