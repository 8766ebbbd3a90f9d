package tokenaccount

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"presale-settler/internal/chain"
	"presale-settler/internal/chain/chaintest"
)

func TestResolver_ProgramFor(t *testing.T) {
	ledger := chaintest.NewLedger(chaintest.Key("payer"))
	legacy := chaintest.Key("legacy-mint")
	modern := chaintest.Key("2022-mint")
	ledger.AddMint(legacy, chain.ProgramToken, 6)
	ledger.AddMint(modern, chain.ProgramToken2022, 9)

	r := NewResolver(ledger, nil)
	ctx := context.Background()

	assert.Equal(t, chain.ProgramToken, r.ProgramFor(ctx, legacy))
	assert.Equal(t, chain.ProgramToken2022, r.ProgramFor(ctx, modern))

	// Cached: no further reads.
	before := ledger.Calls(chaintest.OpGetAccount)
	assert.Equal(t, chain.ProgramToken2022, r.ProgramFor(ctx, modern))
	assert.Equal(t, before, ledger.Calls(chaintest.OpGetAccount))
}

func TestResolver_FallsBackToLegacy(t *testing.T) {
	ledger := chaintest.NewLedger(chaintest.Key("payer"))
	mint := chaintest.Key("mint")
	r := NewResolver(ledger, nil)
	ctx := context.Background()

	// Missing mint.
	assert.Equal(t, chain.ProgramToken, r.ProgramFor(ctx, mint))

	// RPC failure is not cached.
	ledger.AddMint(mint, chain.ProgramToken2022, 6)
	ledger.Fail(chaintest.OpGetAccount, chain.NewError(chain.KindNodeLag, "get account", nil))
	assert.Equal(t, chain.ProgramToken, r.ProgramFor(ctx, mint))
	assert.Equal(t, chain.ProgramToken2022, r.ProgramFor(ctx, mint))

	// Owner that is neither program.
	odd := chaintest.Key("odd")
	ledger.AddAccount(chain.Account{Address: odd, Owner: chain.SystemProgramID})
	assert.Equal(t, chain.ProgramToken, r.ProgramFor(ctx, odd))
}
