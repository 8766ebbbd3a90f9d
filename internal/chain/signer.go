package chain

import (
	"bytes"
	"crypto/ed25519"
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// ErrInvalidSigningKey is returned for key material that is not a 64-byte ed25519 keypair.
var ErrInvalidSigningKey = errors.New("invalid signing key")

// Signer holds the custodial keypair. Its formatting methods render only the
// public key, so a Signer can be passed to loggers and %v safely.
type Signer struct {
	key solana.PrivateKey
	pub solana.PublicKey
}

// NewSigner validates a 64-byte seed||pubkey keypair.
func NewSigner(secret []byte) (*Signer, error) {
	if len(secret) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("%w: expected %d bytes, got %d", ErrInvalidSigningKey, ed25519.PrivateKeySize, len(secret))
	}
	derived := ed25519.NewKeyFromSeed(secret[:ed25519.SeedSize])
	if !bytes.Equal(derived[ed25519.SeedSize:], secret[ed25519.SeedSize:]) {
		return nil, fmt.Errorf("%w: public half does not match seed", ErrInvalidSigningKey)
	}

	key := make(solana.PrivateKey, len(secret))
	copy(key, secret)
	return &Signer{key: key, pub: key.PublicKey()}, nil
}

// PublicKey returns the custodial address.
func (s *Signer) PublicKey() solana.PublicKey {
	return s.pub
}

// String implements fmt.Stringer.
func (s *Signer) String() string {
	return "signer(" + s.pub.String() + ")"
}

// GoString implements fmt.GoStringer.
func (s *Signer) GoString() string {
	return s.String()
}

// MarshalText renders the public key only.
func (s *Signer) MarshalText() ([]byte, error) {
	return []byte(s.pub.String()), nil
}

func (s *Signer) sign(tx *solana.Transaction) error {
	_, err := tx.Sign(func(pk solana.PublicKey) *solana.PrivateKey {
		if pk.Equals(s.pub) {
			return &s.key
		}
		return nil
	})
	return err
}
