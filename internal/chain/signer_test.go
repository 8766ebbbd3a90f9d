package chain

import (
	"fmt"
	"strings"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestSigner_NeverRendersSecret(t *testing.T) {
	wallet := solana.NewWallet()
	signer, err := NewSigner(wallet.PrivateKey)
	require.NoError(t, err)

	secret := base58.Encode(wallet.PrivateKey)
	for _, format := range []string{"%v", "%+v", "%#v", "%s"} {
		out := fmt.Sprintf(format, signer)
		assert.NotContains(t, out, secret, format)
		assert.Contains(t, out, wallet.PublicKey().String(), format)
	}

	core, logs := observer.New(zap.DebugLevel)
	zap.New(core).Info("signer", zap.Stringer("signer", signer), zap.Any("any", signer))
	for _, entry := range logs.All() {
		for _, v := range entry.ContextMap() {
			assert.False(t, strings.Contains(fmt.Sprint(v), secret))
		}
	}
}

func TestNewSigner_Rejects(t *testing.T) {
	_, err := NewSigner(make([]byte, 32))
	assert.ErrorIs(t, err, ErrInvalidSigningKey)

	wallet := solana.NewWallet()
	tampered := append([]byte(nil), wallet.PrivateKey...)
	tampered[63] ^= 0xff
	_, err = NewSigner(tampered)
	assert.ErrorIs(t, err, ErrInvalidSigningKey)
}
