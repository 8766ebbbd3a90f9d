package chaintest

import (
	"crypto/sha256"

	"github.com/gagliardetto/solana-go"
)

// Key returns a deterministic public key for a label. Keys are not
// guaranteed to lie on the curve; use them only as addresses.
func Key(label string) solana.PublicKey {
	sum := sha256.Sum256([]byte(label))
	return solana.PublicKeyFromBytes(sum[:])
}
