package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"presale-settler/internal/domain"
	"presale-settler/internal/storage"
)

// DiagnosticStore is an in-memory implementation of storage.DiagnosticStore.
type DiagnosticStore struct {
	mu     sync.RWMutex
	events []*domain.Diagnostic
}

// NewDiagnosticStore creates a new in-memory diagnostic store.
func NewDiagnosticStore() *DiagnosticStore {
	return &DiagnosticStore{}
}

// Compile-time interface check.
var _ storage.DiagnosticStore = (*DiagnosticStore)(nil)

// Append adds an event.
func (s *DiagnosticStore) Append(_ context.Context, d *domain.Diagnostic) error {
	if d == nil || d.Kind == "" {
		return storage.ErrInvalidInput
	}

	c := *d
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	s.events = append(s.events, &c)
	s.mu.Unlock()
	return nil
}

// ByKind returns events of the given kind in append order.
func (s *DiagnosticStore) ByKind(kind string) []*domain.Diagnostic {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.Diagnostic
	for _, d := range s.events {
		if d.Kind == kind {
			c := *d
			out = append(out, &c)
		}
	}
	return out
}

// Len returns the number of stored events.
func (s *DiagnosticStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}
