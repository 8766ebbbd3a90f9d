package tokenaccount

import (
	"crypto/sha256"
	"errors"

	"filippo.io/edwards25519"
	"github.com/gagliardetto/solana-go"

	"presale-settler/internal/chain"
)

const pdaMarker = "ProgramDerivedAddress"

var errNoViableBump = errors.New("no viable bump seed")

// findProgramAddress derives a program address: the first bump, counting
// down from 255, whose sha256(seeds||bump||program||marker) is off the
// ed25519 curve.
func findProgramAddress(seeds [][]byte, programID solana.PublicKey) (solana.PublicKey, uint8, error) {
	for bump := 255; bump >= 0; bump-- {
		h := sha256.New()
		for _, seed := range seeds {
			h.Write(seed)
		}
		h.Write([]byte{byte(bump)})
		h.Write(programID[:])
		h.Write([]byte(pdaMarker))

		var sum [32]byte
		copy(sum[:], h.Sum(nil))
		if !isOnCurve(sum[:]) {
			return solana.PublicKeyFromBytes(sum[:]), uint8(bump), nil
		}
	}
	return solana.PublicKey{}, 0, errNoViableBump
}

func isOnCurve(point []byte) bool {
	if len(point) != 32 {
		return false
	}
	_, err := new(edwards25519.Point).SetBytes(point)
	return err == nil
}

// Derive returns the associated token account for (owner, mint) under program.
func Derive(owner, mint solana.PublicKey, program chain.Program) (solana.PublicKey, error) {
	programID := program.ID()
	addr, _, err := findProgramAddress(
		[][]byte{owner[:], programID[:], mint[:]},
		chain.AssociatedTokenProgramID,
	)
	return addr, err
}
