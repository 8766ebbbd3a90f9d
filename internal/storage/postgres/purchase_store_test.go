package postgres_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"presale-settler/internal/domain"
	"presale-settler/internal/storage"
	"presale-settler/internal/storage/postgres"
)

func testPurchase(sig string, status domain.PurchaseStatus, usd string) *domain.PurchaseRecord {
	return &domain.PurchaseRecord{
		ID:               uuid.NewString(),
		Status:           status,
		WalletAddress:    "BuyerWallet111111111111111111111111111111111",
		PaymentSignature: ptr(sig),
		TokensToCredit:   2500,
		CryptoType:       domain.CryptoTypeSOL,
		CryptoAmount:     decimal.RequireFromString("0.25"),
		USDAmount:        decimal.RequireFromString(usd),
		StageName:        "seed",
	}
}

func TestPurchaseStore_Lifecycle(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := postgres.NewPurchaseStore(pool)
	ctx := context.Background()

	p := testPurchase("paysig-1", domain.PurchaseStatusPending, "37.5")
	require.NoError(t, store.Insert(ctx, p))
	assert.False(t, p.CreatedAt.IsZero())

	dup := testPurchase("paysig-1", domain.PurchaseStatusPending, "1")
	assert.ErrorIs(t, store.Insert(ctx, dup), storage.ErrDuplicateKey)

	got, err := store.GetByPaymentSignature(ctx, "paysig-1")
	require.NoError(t, err)
	assert.Equal(t, p.ID, got.ID)
	assert.True(t, got.USDAmount.Equal(decimal.RequireFromString("37.5")))
	assert.True(t, got.CryptoAmount.Equal(decimal.RequireFromString("0.25")))

	require.NoError(t, store.MarkConfirmed(ctx, p.ID))
	require.NoError(t, store.Claim(ctx, p.ID, time.Now().Add(time.Minute)))
	assert.ErrorIs(t, store.Claim(ctx, p.ID, time.Now().Add(time.Minute)), storage.ErrConflict)

	require.NoError(t, store.RecordInflight(ctx, p.ID, "inflight-1", 1234))
	got, err = store.GetByID(ctx, p.ID)
	require.NoError(t, err)
	require.NotNil(t, got.InflightSignature)
	assert.Equal(t, uint64(1234), got.InflightValidHeight)

	require.NoError(t, store.MarkSettled(ctx, p.ID, "settle-1"))
	require.NoError(t, store.MarkSettled(ctx, p.ID, "settle-1"))
	assert.ErrorIs(t, store.MarkSettled(ctx, p.ID, "settle-2"), storage.ErrConflict)
	assert.ErrorIs(t, store.MarkFailed(ctx, p.ID, "late"), storage.ErrConflict)

	got, err = store.GetByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PurchaseStatusCompleted, got.Status)
	assert.Nil(t, got.InflightSignature)
	assert.Nil(t, got.SettlingUntil)
}

func TestPurchaseStore_MarkFailedReleasesLease(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := postgres.NewPurchaseStore(pool)
	ctx := context.Background()

	p := testPurchase("paysig-2", domain.PurchaseStatusConfirmed, "10")
	require.NoError(t, store.Insert(ctx, p))
	require.NoError(t, store.Claim(ctx, p.ID, time.Now().Add(time.Hour)))
	require.NoError(t, store.MarkFailed(ctx, p.ID, "node lag"))

	got, err := store.GetByID(ctx, p.ID)
	require.NoError(t, err)
	require.NotNil(t, got.ErrorMessage)
	assert.Equal(t, "node lag", *got.ErrorMessage)
	assert.NoError(t, store.Claim(ctx, p.ID, time.Now().Add(time.Hour)))
}

func TestPurchaseStore_NotFound(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := postgres.NewPurchaseStore(pool)
	ctx := context.Background()

	_, err := store.GetByID(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.ErrorIs(t, store.Claim(ctx, "missing", time.Now()), storage.ErrNotFound)
	assert.ErrorIs(t, store.MarkSettled(ctx, "missing", "sig"), storage.ErrNotFound)
}

func TestPurchaseStore_TotalUSDRaised(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := postgres.NewPurchaseStore(pool)
	ctx := context.Background()

	require.NoError(t, store.Insert(ctx, testPurchase("a", domain.PurchaseStatusPending, "100")))
	require.NoError(t, store.Insert(ctx, testPurchase("b", domain.PurchaseStatusConfirmed, "12.25")))
	require.NoError(t, store.Insert(ctx, testPurchase("c", domain.PurchaseStatusCompleted, "7.75")))

	total, err := store.TotalUSDRaised(ctx)
	require.NoError(t, err)
	assert.True(t, total.Equal(decimal.NewFromInt(20)), "got %s", total)
}
