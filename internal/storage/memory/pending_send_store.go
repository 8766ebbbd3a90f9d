package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"presale-settler/internal/domain"
	"presale-settler/internal/storage"
)

// PendingSendStore is an in-memory implementation of storage.PendingSendStore.
type PendingSendStore struct {
	mu   sync.Mutex
	data map[string]*domain.PendingSendRecord // keyed by id
	now  func() time.Time
}

// NewPendingSendStore creates a new in-memory pending send store.
func NewPendingSendStore() *PendingSendStore {
	return &PendingSendStore{
		data: make(map[string]*domain.PendingSendRecord),
		now:  time.Now,
	}
}

// Compile-time interface check.
var _ storage.PendingSendStore = (*PendingSendStore)(nil)

// Insert enqueues a row. Returns ErrDuplicateKey if id exists.
func (s *PendingSendStore) Insert(_ context.Context, r *domain.PendingSendRecord) error {
	if r == nil || r.ID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[r.ID]; exists {
		return storage.ErrDuplicateKey
	}
	rec := clonePendingSend(r)
	if rec.Status == "" {
		rec.Status = domain.PendingSendQueued
	}
	now := s.now()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now
	s.data[rec.ID] = rec
	return nil
}

// GetByID retrieves a row. Returns ErrNotFound if not exists.
func (s *PendingSendStore) GetByID(_ context.Context, id string) (*domain.PendingSendRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.data[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return clonePendingSend(rec), nil
}

// ListDue returns due rows ordered by created_at ASC.
func (s *PendingSendStore) ListDue(_ context.Context, limit, maxAttempts int) ([]*domain.PendingSendRecord, error) {
	if limit <= 0 {
		return nil, storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var due []*domain.PendingSendRecord
	for _, rec := range s.data {
		if !rec.Due() {
			continue
		}
		if maxAttempts > 0 && rec.Attempts >= maxAttempts {
			continue
		}
		due = append(due, clonePendingSend(rec))
	}

	sort.Slice(due, func(i, j int) bool {
		if due[i].CreatedAt.Equal(due[j].CreatedAt) {
			return due[i].ID < due[j].ID
		}
		return due[i].CreatedAt.Before(due[j].CreatedAt)
	})

	if len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

// Claim atomically moves a due row to sending and increments attempts.
func (s *PendingSendStore) Claim(_ context.Context, id string) (*domain.PendingSendRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.data[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	if !rec.Due() {
		return nil, storage.ErrConflict
	}
	rec.Status = domain.PendingSendSending
	rec.Attempts++
	rec.UpdatedAt = s.now()
	return clonePendingSend(rec), nil
}

// RecordInflight stores a submitted but unconfirmed transfer signature.
func (s *PendingSendStore) RecordInflight(_ context.Context, id, signature string, validHeight uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.data[id]
	if !ok {
		return storage.ErrNotFound
	}
	rec.InflightSignature = &signature
	rec.InflightValidHeight = validHeight
	rec.UpdatedAt = s.now()
	return nil
}

// MarkSent records the settlement signature and moves the row to sent.
func (s *PendingSendStore) MarkSent(_ context.Context, id, signature string) error {
	if signature == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.data[id]
	if !ok {
		return storage.ErrNotFound
	}
	rec.Status = domain.PendingSendSent
	rec.SettlementSignature = &signature
	rec.LastError = nil
	rec.InflightSignature = nil
	rec.InflightValidHeight = 0
	rec.UpdatedAt = s.now()
	return nil
}

// MarkFailed records the error and moves the row to failed.
func (s *PendingSendStore) MarkFailed(_ context.Context, id, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.data[id]
	if !ok {
		return storage.ErrNotFound
	}
	if rec.Status == domain.PendingSendSent {
		return storage.ErrConflict
	}
	rec.Status = domain.PendingSendFailed
	rec.LastError = &message
	rec.UpdatedAt = s.now()
	return nil
}

// ReclaimStale moves sending rows last updated before cutoff to failed.
func (s *PendingSendStore) ReclaimStale(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, rec := range s.data {
		if rec.Status != domain.PendingSendSending || !rec.UpdatedAt.Before(cutoff) {
			continue
		}
		msg := storage.ReclaimedMessage
		rec.Status = domain.PendingSendFailed
		rec.LastError = &msg
		rec.UpdatedAt = s.now()
		n++
	}
	return n, nil
}

func clonePendingSend(r *domain.PendingSendRecord) *domain.PendingSendRecord {
	c := *r
	c.PurchaseID = cloneString(r.PurchaseID)
	c.SettlementSignature = cloneString(r.SettlementSignature)
	c.LastError = cloneString(r.LastError)
	c.InflightSignature = cloneString(r.InflightSignature)
	return &c
}
