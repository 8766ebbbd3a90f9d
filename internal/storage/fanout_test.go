package storage_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"presale-settler/internal/domain"
	"presale-settler/internal/storage"
	"presale-settler/internal/storage/memory"
)

type failingDiagnostics struct{}

func (failingDiagnostics) Append(context.Context, *domain.Diagnostic) error {
	return errors.New("sink down")
}

func TestFanoutDiagnostics(t *testing.T) {
	a, b := memory.NewDiagnosticStore(), memory.NewDiagnosticStore()
	fan := storage.FanoutDiagnostics{a, failingDiagnostics{}, b}

	err := fan.Append(context.Background(), &domain.Diagnostic{Kind: domain.DiagnosticBacklogFailed, Message: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sink down")

	ga, gb := a.ByKind(domain.DiagnosticBacklogFailed), b.ByKind(domain.DiagnosticBacklogFailed)
	require.Len(t, ga, 1)
	require.Len(t, gb, 1)
	assert.NotEmpty(t, ga[0].ID)
	assert.Equal(t, ga[0].ID, gb[0].ID)
	assert.Equal(t, ga[0].CreatedAt, gb[0].CreatedAt)

	assert.ErrorIs(t, fan.Append(context.Background(), &domain.Diagnostic{}), storage.ErrInvalidInput)
}
