// Package tokenaccount resolves which token program owns a mint and
// provisions associated token accounts under it.
package tokenaccount

import (
	"context"
	"sync"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"

	"presale-settler/internal/chain"
)

// Resolver determines the token program of a mint from the mint account's owner.
type Resolver struct {
	chain  chain.Client
	logger *zap.Logger

	mu    sync.RWMutex
	known map[solana.PublicKey]chain.Program
}

// NewResolver creates a resolver reading mint accounts through c.
func NewResolver(c chain.Client, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{
		chain:  c,
		logger: logger.Named("resolver"),
		known:  make(map[solana.PublicKey]chain.Program),
	}
}

// ProgramFor returns the program owning mint. When the owner cannot be read
// or is neither token program it falls back to the legacy Token program;
// fallbacks are not cached.
func (r *Resolver) ProgramFor(ctx context.Context, mint solana.PublicKey) chain.Program {
	r.mu.RLock()
	p, ok := r.known[mint]
	r.mu.RUnlock()
	if ok {
		return p
	}

	acct, err := r.chain.GetAccount(ctx, mint)
	switch {
	case err != nil:
		r.logger.Warn("mint lookup failed, assuming token program",
			zap.Stringer("mint", mint), zap.Error(err))
		return chain.ProgramToken
	case acct == nil:
		r.logger.Warn("mint account not found, assuming token program", zap.Stringer("mint", mint))
		return chain.ProgramToken
	}

	p, ok = chain.ProgramFromOwner(acct.Owner)
	if !ok {
		r.logger.Warn("mint owned by unknown program, assuming token program",
			zap.Stringer("mint", mint), zap.Stringer("owner", acct.Owner))
		return chain.ProgramToken
	}

	r.mu.Lock()
	r.known[mint] = p
	r.mu.Unlock()
	return p
}

// Derive returns the associated token account address for (owner, mint) under program.
func (r *Resolver) Derive(owner, mint solana.PublicKey, program chain.Program) (solana.PublicKey, error) {
	return Derive(owner, mint, program)
}

// Alternate returns the other token program.
func (r *Resolver) Alternate(program chain.Program) chain.Program {
	return program.Alternate()
}
