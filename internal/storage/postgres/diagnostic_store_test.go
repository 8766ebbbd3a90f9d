package postgres_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"presale-settler/internal/domain"
	"presale-settler/internal/storage/postgres"
)

func TestDiagnosticStore_AppendAndList(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := postgres.NewDiagnosticStore(pool)
	ctx := context.Background()

	d := &domain.Diagnostic{
		Kind:      domain.DiagnosticAmountUnresolved,
		Signature: "sig-x",
		Wallet:    "buyer",
		Message:   "price feed unavailable",
		Details:   map[string]string{"mint": "native"},
	}
	require.NoError(t, store.Append(ctx, d))
	assert.NotEmpty(t, d.ID)

	got, err := store.ListByKind(ctx, domain.DiagnosticAmountUnresolved, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "sig-x", got[0].Signature)
	assert.Equal(t, "native", got[0].Details["mint"])
}
