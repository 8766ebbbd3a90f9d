package tokenaccount

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
)

// ErrOwnerNotFundable is returned when the token account owner is missing,
// executable, or owned by a program. The wallet must be funded before retrying.
var ErrOwnerNotFundable = errors.New("owner is not a funded system account")

// Defaults for ProvisionerConfig.
const (
	DefaultMaxAttempts        = 4
	DefaultBaseDelay          = 400 * time.Millisecond
	DefaultMaxDelay           = 3 * time.Second
	DefaultVisibilityPolls    = 10
	DefaultVisibilityInterval = 500 * time.Millisecond
)

// ProvisionerConfig configures a Provisioner.
type ProvisionerConfig struct {
	MaxAttempts        int
	BaseDelay          time.Duration
	MaxDelay           time.Duration
	VisibilityPolls    int
	VisibilityInterval time.Duration
	Logger             *zap.Logger
}

// Provisioned is a token account known to exist on-chain.
type Provisioned struct {
	Address solana.PublicKey
	Program chain.Program
	Created bool // created by this call
}

// Provisioner ensures associated token accounts exist, paying for creation
// from the custodial signer.
type Provisioner struct {
	chain    chain.Client
	resolver *Resolver
	policy   retry.Policy
	polls    int
	interval time.Duration
	logger   *zap.Logger
}

// NewProvisioner creates a provisioner.
func NewProvisioner(c chain.Client, resolver *Resolver, cfg ProvisionerConfig) *Provisioner {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = DefaultBaseDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = DefaultMaxDelay
	}
	if cfg.VisibilityPolls <= 0 {
		cfg.VisibilityPolls = DefaultVisibilityPolls
	}
	if cfg.VisibilityInterval <= 0 {
		cfg.VisibilityInterval = DefaultVisibilityInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Provisioner{
		chain:    c,
		resolver: resolver,
		policy: retry.Policy{
			MaxAttempts: cfg.MaxAttempts,
			BaseDelay:   cfg.BaseDelay,
			MaxDelay:    cfg.MaxDelay,
			Retryable:   chain.IsRetryable,
		},
		polls:    cfg.VisibilityPolls,
		interval: cfg.VisibilityInterval,
		logger:   cfg.Logger.Named("provisioner"),
	}
}

// Resolver returns the program resolver used by the provisioner.
func (p *Provisioner) Resolver() *Resolver {
	return p.resolver
}

// EnsureAccount makes sure the associated token account for (mint, owner)
// exists, retrying transient chain failures.
func (p *Provisioner) EnsureAccount(ctx context.Context, mint, owner solana.PublicKey, hint chain.Program) (Provisioned, error) {
	var out Provisioned
	err := retry.Do(ctx, p.policy, p.logger, func(ctx context.Context, _ int) error {
		var err error
		out, err = p.TryEnsure(ctx, mint, owner, hint)
		return err
	})
	return out, err
}

// TryEnsure makes one provisioning pass under hint and, on a program
// mismatch, one more under the alternate program.
func (p *Provisioner) TryEnsure(ctx context.Context, mint, owner solana.PublicKey, hint chain.Program) (Provisioned, error) {
	out, err := p.ensureUnder(ctx, mint, owner, hint)
	if chain.KindOf(err) != chain.KindProgramMismatch {
		return out, err
	}

	alt := p.resolver.Alternate(hint)
	p.logger.Info("program mismatch, trying alternate program",
		zap.Stringer("mint", mint),
		zap.Stringer("owner", owner),
		zap.Stringer("program", hint),
		zap.Stringer("alternate", alt),
		zap.Error(err),
	)
	return p.ensureUnder(ctx, mint, owner, alt)
}

func (p *Provisioner) ensureUnder(ctx context.Context, mint, owner solana.PublicKey, program chain.Program) (Provisioned, error) {
	ata, err := p.resolver.Derive(owner, mint, program)
	if err != nil {
		return Provisioned{}, chain.NewError(chain.KindMalformed, "derive token account", err)
	}
	out := Provisioned{Address: ata, Program: program}

	existing, err := p.chain.GetAccount(ctx, ata)
	if err != nil {
		return out, err
	}
	if existing != nil {
		if !existing.Owner.Equals(program.ID()) {
			return out, chain.NewError(chain.KindProgramMismatch, "provision",
				fmt.Errorf("account %s owned by %s, expected %s", ata, existing.Owner, program.ID()))
		}
		return out, nil
	}

	ownerAcct, err := p.chain.GetAccount(ctx, owner)
	if err != nil {
		return out, err
	}
	if ownerAcct == nil {
		return out, fmt.Errorf("%w: %s does not exist", ErrOwnerNotFundable, owner)
	}
	if !ownerAcct.SystemOwned() {
		return out, fmt.Errorf("%w: %s is owned by %s", ErrOwnerNotFundable, owner, ownerAcct.Owner)
	}

	sub, err := p.chain.Submit(ctx, []solana.Instruction{
		chain.CreateIdempotentATA(p.chain.Payer(), ata, owner, mint, program),
	})
	if err != nil {
		return out, err
	}
	if err := p.chain.Confirm(ctx, sub); err != nil {
		return out, err
	}
	if err := p.waitVisible(ctx, ata); err != nil {
		return out, err
	}

	observability.RecordTokenAccountCreated(program.String())
	p.logger.Info("token account created",
		zap.Stringer("account", ata),
		zap.Stringer("owner", owner),
		zap.Stringer("mint", mint),
		zap.Stringer("program", program),
		zap.Stringer("signature", sub.Signature),
	)
	out.Created = true
	return out, nil
}

// waitVisible polls until a freshly created account can be read back.
func (p *Provisioner) waitVisible(ctx context.Context, addr solana.PublicKey) error {
	for i := 0; i < p.polls; i++ {
		acct, err := p.chain.GetAccount(ctx, addr)
		if err == nil && acct != nil {
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if i == p.polls-1 {
			break
		}
		timer := time.NewTimer(p.interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return chain.NewError(chain.KindAccountNotFound, "provision",
		fmt.Errorf("account %s not visible after %d reads", addr, p.polls))
}
