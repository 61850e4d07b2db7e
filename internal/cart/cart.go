package cart

import (
	"context"
	"sync"
	"time"

	"excisepos/backend/internal/domain"
)

const DefaultTTL = 12 * time.Hour

// Store keeps in-progress carts by company and session. Get returns
// domain.ErrCartNotFound for unknown or expired sessions.
type Store interface {
	Get(ctx context.Context, companyID string, sessionID string) (*domain.Cart, error)
	Save(ctx context.Context, cart domain.Cart) error
	Delete(ctx context.Context, companyID string, sessionID string) error
}

type memoryEntry struct {
	cart    domain.Cart
	expires time.Time
}

type MemoryStore struct {
	mu      sync.Mutex
	ttl     time.Duration
	carts   map[string]memoryEntry
	nowFunc func() time.Time
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryStore{ttl: ttl, carts: map[string]memoryEntry{}, nowFunc: time.Now}
}

func (s *MemoryStore) Get(_ context.Context, companyID string, sessionID string) (*domain.Cart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := cartKey(companyID, sessionID)
	entry, ok := s.carts[key]
	if !ok {
		return nil, domain.ErrCartNotFound
	}
	if !s.nowFunc().Before(entry.expires) {
		delete(s.carts, key)
		return nil, domain.ErrCartNotFound
	}
	cart := cloneCart(entry.cart)
	return &cart, nil
}

func (s *MemoryStore) Save(_ context.Context, cart domain.Cart) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.carts[cartKey(cart.CompanyID, cart.SessionID)] = memoryEntry{
		cart:    cloneCart(cart),
		expires: s.nowFunc().Add(s.ttl),
	}
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, companyID string, sessionID string) error {
	s.mu.Lock()
	delete(s.carts, cartKey(companyID, sessionID))
	s.mu.Unlock()
	return nil
}

func cloneCart(cart domain.Cart) domain.Cart {
	cart.Lines = append([]domain.LineItem(nil), cart.Lines...)
	return cart
}

func cartKey(companyID string, sessionID string) string {
	return "cart:" + companyID + ":" + sessionID
}
