package tokenaccount

import (
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"presale-settler/internal/chain"
)

func TestDerive_MatchesAssociatedTokenAddress(t *testing.T) {
	for i := 0; i < 8; i++ {
		owner := solana.NewWallet().PublicKey()
		mint := solana.NewWallet().PublicKey()

		want, _, err := solana.FindAssociatedTokenAddress(owner, mint)
		require.NoError(t, err)

		got, err := Derive(owner, mint, chain.ProgramToken)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestDerive_Token2022(t *testing.T) {
	owner := solana.NewWallet().PublicKey()
	mint := solana.NewWallet().PublicKey()

	want, _, err := solana.FindProgramAddress(
		[][]byte{owner[:], chain.Token2022ProgramID[:], mint[:]},
		chain.AssociatedTokenProgramID,
	)
	require.NoError(t, err)

	got, err := Derive(owner, mint, chain.ProgramToken2022)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	legacy, err := Derive(owner, mint, chain.ProgramToken)
	require.NoError(t, err)
	assert.NotEqual(t, legacy, got)
}

func TestIsOnCurve(t *testing.T) {
	assert.True(t, isOnCurve(solana.NewWallet().PublicKey().Bytes()))
	assert.False(t, isOnCurve([]byte{1, 2, 3}))
}
