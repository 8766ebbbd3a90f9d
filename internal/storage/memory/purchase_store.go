package memory

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"presale-settler/internal/domain"
	"presale-settler/internal/storage"
)

// PurchaseStore is an in-memory implementation of storage.PurchaseStore.
type PurchaseStore struct {
	mu          sync.RWMutex
	data        map[string]*domain.PurchaseRecord // keyed by id
	bySignature map[string]string                 // payment signature -> id
	now         func() time.Time
}

// NewPurchaseStore creates a new in-memory purchase store.
func NewPurchaseStore() *PurchaseStore {
	return &PurchaseStore{
		data:        make(map[string]*domain.PurchaseRecord),
		bySignature: make(map[string]string),
		now:         time.Now,
	}
}

// Compile-time interface check.
var _ storage.PurchaseStore = (*PurchaseStore)(nil)

// Insert adds a new purchase. Returns ErrDuplicateKey if id or payment signature exists.
func (s *PurchaseStore) Insert(_ context.Context, p *domain.PurchaseRecord) error {
	if p == nil || p.ID == "" || p.TokensToCredit < 0 {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[p.ID]; exists {
		return storage.ErrDuplicateKey
	}
	sig := p.PaymentRef()
	if sig != "" {
		if _, exists := s.bySignature[sig]; exists {
			return storage.ErrDuplicateKey
		}
	}

	rec := clonePurchase(p)
	now := s.now()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now
	s.data[rec.ID] = rec
	if sig != "" {
		s.bySignature[sig] = rec.ID
	}
	return nil
}

// GetByID retrieves a purchase. Returns ErrNotFound if not exists.
func (s *PurchaseStore) GetByID(_ context.Context, id string) (*domain.PurchaseRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.data[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return clonePurchase(rec), nil
}

// GetByPaymentSignature retrieves the purchase funded by signature.
func (s *PurchaseStore) GetByPaymentSignature(_ context.Context, signature string) (*domain.PurchaseRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.bySignature[signature]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return clonePurchase(s.data[id]), nil
}

// MarkConfirmed moves a pending purchase to confirmed.
func (s *PurchaseStore) MarkConfirmed(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.data[id]
	if !ok {
		return storage.ErrNotFound
	}
	if rec.Status == domain.PurchaseStatusPending {
		rec.Status = domain.PurchaseStatusConfirmed
		rec.UpdatedAt = s.now()
	}
	return nil
}

// Claim takes the settlement lease until the given time.
func (s *PurchaseStore) Claim(_ context.Context, id string, until time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.data[id]
	if !ok {
		return storage.ErrNotFound
	}
	now := s.now()
	if rec.Settled() || (rec.SettlingUntil != nil && rec.SettlingUntil.After(now)) {
		return storage.ErrConflict
	}
	lease := until
	rec.SettlingUntil = &lease
	rec.UpdatedAt = now
	return nil
}

// RecordInflight stores a submitted but unconfirmed transfer signature.
func (s *PurchaseStore) RecordInflight(_ context.Context, id, signature string, validHeight uint64) error {
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

// MarkSettled records the settlement signature and completes the purchase.
func (s *PurchaseStore) MarkSettled(_ context.Context, id, signature string) error {
	if signature == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.data[id]
	if !ok {
		return storage.ErrNotFound
	}
	if rec.Settled() {
		if *rec.SettlementSignature == signature {
			return nil
		}
		return storage.ErrConflict
	}
	rec.SettlementSignature = &signature
	rec.Status = domain.PurchaseStatusCompleted
	rec.ErrorMessage = nil
	rec.InflightSignature = nil
	rec.InflightValidHeight = 0
	rec.SettlingUntil = nil
	rec.UpdatedAt = s.now()
	return nil
}

// MarkFailed records the last error and releases the lease.
func (s *PurchaseStore) MarkFailed(_ context.Context, id, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.data[id]
	if !ok {
		return storage.ErrNotFound
	}
	if rec.Settled() {
		return storage.ErrConflict
	}
	rec.ErrorMessage = &message
	rec.SettlingUntil = nil
	rec.UpdatedAt = s.now()
	return nil
}

// TotalUSDRaised sums usd_amount over all purchases past pending.
func (s *PurchaseStore) TotalUSDRaised(_ context.Context) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	total := decimal.Zero
	for _, rec := range s.data {
		if rec.Status == domain.PurchaseStatusPending {
			continue
		}
		total = total.Add(rec.USDAmount)
	}
	return total, nil
}

// All returns every purchase. Intended for tests.
func (s *PurchaseStore) All() []*domain.PurchaseRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*domain.PurchaseRecord, 0, len(s.data))
	for _, rec := range s.data {
		out = append(out, clonePurchase(rec))
	}
	return out
}

func clonePurchase(p *domain.PurchaseRecord) *domain.PurchaseRecord {
	c := *p
	c.PaymentSignature = cloneString(p.PaymentSignature)
	c.SettlementSignature = cloneString(p.SettlementSignature)
	c.ErrorMessage = cloneString(p.ErrorMessage)
	c.InflightSignature = cloneString(p.InflightSignature)
	if p.SettlingUntil != nil {
		t := *p.SettlingUntil
		c.SettlingUntil = &t
	}
	return &c
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
