package deal

import (
	"context"
	"sync"
)

// Store persists deal mirrors. Update is conditional on the status the
// caller last observed: when two transitions race, the second writer sees
// ErrInvalidState instead of silently overwriting the first.
type Store interface {
	Create(ctx context.Context, d Deal) (Deal, error)
	ByDealID(ctx context.Context, dealID int64) (Deal, error)
	ByOrderID(ctx context.Context, orderID int64) (Deal, error)
	Update(ctx context.Context, d Deal, prev Status) error
}

// memoryStore is an in-memory store for tests and dev mode.
type memoryStore struct {
	mu     sync.RWMutex
	byDeal map[int64]Deal
	nextID int64
}

// NewMemoryStore constructs an in-memory deal store.
func NewMemoryStore() Store {
	return &memoryStore{byDeal: make(map[int64]Deal)}
}

func (s *memoryStore) Create(_ context.Context, d Deal) (Deal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byDeal[d.DealID]; exists {
		return Deal{}, ErrDealExists
	}
	s.nextID++
	d.ID = s.nextID
	s.byDeal[d.DealID] = d
	return d, nil
}

func (s *memoryStore) ByDealID(_ context.Context, dealID int64) (Deal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.byDeal[dealID]
	if !ok {
		return Deal{}, ErrNotFound
	}
	return d, nil
}

func (s *memoryStore) ByOrderID(_ context.Context, orderID int64) (Deal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, d := range s.byDeal {
		if d.OrderID == orderID && orderID != 0 {
			return d, nil
		}
	}
	return Deal{}, ErrNotFound
}

func (s *memoryStore) Update(_ context.Context, d Deal, prev Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.byDeal[d.DealID]
	if !ok {
		return ErrNotFound
	}
	if cur.Status != prev {
		return ErrInvalidState
	}
	s.byDeal[d.DealID] = d
	return nil
}
