package chain

import (
	"github.com/gagliardetto/solana-go"
)

// Well-known program ids.
var (
	TokenProgramID           = solana.MustPublicKeyFromBase58("TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA")
	Token2022ProgramID       = solana.MustPublicKeyFromBase58("TokenzQdBNbLqP5VEhdkAS6EPFLC1PHnBqCXEpPxuEb")
	AssociatedTokenProgramID = solana.MustPublicKeyFromBase58("ATokenGPvbdGVxr1b2hvZbsiqW5xWH25efTNsLJA8knL")
	SystemProgramID          = solana.MustPublicKeyFromBase58("11111111111111111111111111111111")
)

// Program is one of the two interchangeable token programs.
type Program int

// Token program variants.
const (
	ProgramToken Program = iota
	ProgramToken2022
)

// ID returns the program's on-chain address.
func (p Program) ID() solana.PublicKey {
	if p == ProgramToken2022 {
		return Token2022ProgramID
	}
	return TokenProgramID
}

// Alternate returns the other token program.
func (p Program) Alternate() Program {
	if p == ProgramToken2022 {
		return ProgramToken
	}
	return ProgramToken2022
}

func (p Program) String() string {
	if p == ProgramToken2022 {
		return "token-2022"
	}
	return "token"
}

// ProgramFromOwner maps an account owner to a token program.
func ProgramFromOwner(owner solana.PublicKey) (Program, bool) {
	switch {
	case owner.Equals(TokenProgramID):
		return ProgramToken, true
	case owner.Equals(Token2022ProgramID):
		return ProgramToken2022, true
	default:
		return ProgramToken, false
	}
}
