package settlement

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"presale-settler/internal/domain"
)

type stubPrice struct {
	price decimal.Decimal
	err   error
	calls int
}

func (s *stubPrice) SpotUSD(context.Context) (decimal.Decimal, error) {
	s.calls++
	return s.price, s.err
}

func newResolver(p PriceSource) *AmountResolver {
	return NewAmountResolver(AmountConfig{StableMint: usdcMint, DustLamports: 1_000_000}, p, nil)
}

func TestResolve_Stablecoin(t *testing.T) {
	price := &stubPrice{err: errors.New("unused")}
	edge := domain.TransferEdge{Source: buyer, Destination: treasury, Mint: usdcMint, Raw: 35_000_000, Decimals: 6}

	res, ok := newResolver(price).Resolve(context.Background(), edge, nil)
	require.True(t, ok)
	assert.Equal(t, domain.CryptoTypeUSDC, res.Currency)
	assert.True(t, res.USDAmount.Equal(decimal.NewFromInt(35)))
	assert.Zero(t, price.calls)
}

func TestResolve_Native(t *testing.T) {
	price := &stubPrice{price: decimal.RequireFromString("150.25")}
	edge := domain.TransferEdge{Source: buyer, Destination: treasury, Raw: 2_000_000_000}

	res, ok := newResolver(price).Resolve(context.Background(), edge, nil)
	require.True(t, ok)
	assert.Equal(t, domain.CryptoTypeSOL, res.Currency)
	assert.True(t, res.CryptoAmount.Equal(decimal.NewFromInt(2)))
	assert.True(t, res.USDAmount.Equal(decimal.RequireFromString("300.5")), res.USDAmount.String())
}

func TestResolve_NativeUnresolved(t *testing.T) {
	edge := domain.TransferEdge{Source: buyer, Destination: treasury, Raw: 2_000_000_000}

	_, ok := newResolver(&stubPrice{err: errors.New("feed down")}).Resolve(context.Background(), edge, nil)
	assert.False(t, ok)

	_, ok = newResolver(&stubPrice{price: decimal.Zero}).Resolve(context.Background(), edge, nil)
	assert.False(t, ok)

	dust := edge
	dust.Raw = 999_999
	price := &stubPrice{price: decimal.NewFromInt(100)}
	_, ok = newResolver(price).Resolve(context.Background(), dust, nil)
	assert.False(t, ok)
	assert.Zero(t, price.calls)
}

func TestResolve_FallbackStablecoinEdge(t *testing.T) {
	native := domain.TransferEdge{Source: buyer, Destination: treasury, Raw: 2_000_000_000}
	n := &domain.Notification{
		Signature: "sig",
		TokenTransfers: []domain.TransferEdge{
			{Source: buyer, Destination: "Elsewhere", Mint: usdcMint, Raw: 99_000_000, Decimals: 6},
			{Source: buyer, Destination: treasury, Mint: usdcMint, Raw: 12_500_000, Decimals: 6},
		},
		NativeTransfers: []domain.TransferEdge{native},
	}

	res, ok := newResolver(&stubPrice{err: errors.New("feed down")}).Resolve(context.Background(), native, n)
	require.True(t, ok)
	assert.Equal(t, domain.CryptoTypeUSDC, res.Currency)
	assert.True(t, res.USDAmount.Equal(decimal.RequireFromString("12.5")))
}

func TestResolve_OtherMintUnresolved(t *testing.T) {
	edge := domain.TransferEdge{Source: buyer, Destination: treasury, Mint: "BonkMint", Raw: 1000, Decimals: 5}
	_, ok := newResolver(&stubPrice{price: decimal.NewFromInt(1)}).Resolve(context.Background(), edge, nil)
	assert.False(t, ok)
}
