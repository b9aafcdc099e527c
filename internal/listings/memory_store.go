package listings

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory listing store for demo/development mode.
type MemoryStore struct {
	listings map[string]*Listing
	mu       sync.RWMutex
}

// NewMemoryStore creates a new in-memory listing store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		listings: make(map[string]*Listing),
	}
}

func (m *MemoryStore) Create(ctx context.Context, listing *Listing) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.listings[listing.ID] = listing
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Listing, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	listing, ok := m.listings[id]
	if !ok {
		return nil, ErrListingNotFound
	}
	cp := *listing
	return &cp, nil
}

func (m *MemoryStore) Update(ctx context.Context, listing *Listing) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.listings[listing.ID]; !ok {
		return ErrListingNotFound
	}
	m.listings[listing.ID] = listing
	return nil
}

func (m *MemoryStore) ListBySeller(ctx context.Context, sellerID string, limit int) ([]*Listing, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Listing
	for _, l := range m.listings {
		if l.SellerID == sellerID {
			cp := *l
			result = append(result, &cp)
			if len(result) >= limit {
				break
			}
		}
	}
	return result, nil
}
