package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"presale-settler/internal/domain"
)

// FanoutDiagnostics appends every event to each store under one id.
type FanoutDiagnostics []DiagnosticStore

// Compile-time interface check.
var _ DiagnosticStore = FanoutDiagnostics(nil)

// Append writes d to every store and joins their errors.
func (f FanoutDiagnostics) Append(ctx context.Context, d *domain.Diagnostic) error {
	if d == nil || d.Kind == "" {
		return ErrInvalidInput
	}
	c := *d
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}

	var errs []error
	for _, s := range f {
		ev := c
		if err := s.Append(ctx, &ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
