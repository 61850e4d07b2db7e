package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	"excisepos/backend/internal/domain"
)

// CatalogCache holds resolved catalog items keyed by company and code.
type CatalogCache interface {
	Get(ctx context.Context, companyID string, itemCode string) (*domain.CatalogItem, bool, error)
	Set(ctx context.Context, item domain.CatalogItem, ttl time.Duration) error
	Invalidate(ctx context.Context, companyID string, itemCode string) error
}

type NoopCatalogCache struct{}

func (NoopCatalogCache) Get(_ context.Context, _ string, _ string) (*domain.CatalogItem, bool, error) {
	return nil, false, nil
}

func (NoopCatalogCache) Set(_ context.Context, _ domain.CatalogItem, _ time.Duration) error {
	return nil
}

func (NoopCatalogCache) Invalidate(_ context.Context, _ string, _ string) error {
	return nil
}

// SubmissionGuard suppresses the same checkout arriving twice within a short
// window. It is a convenience only; bill uniqueness comes from the store.
type SubmissionGuard interface {
	// Acquire returns false when key is already held.
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

type NoopSubmissionGuard struct{}

func (NoopSubmissionGuard) Acquire(_ context.Context, _ string, _ time.Duration) (bool, error) {
	return true, nil
}

func (NoopSubmissionGuard) Release(_ context.Context, _ string) error {
	return nil
}

// MemorySubmissionGuard is the single-process guard.
type MemorySubmissionGuard struct {
	mu      sync.Mutex
	held    map[string]time.Time
	nowFunc func() time.Time
}

func NewMemorySubmissionGuard() *MemorySubmissionGuard {
	return &MemorySubmissionGuard{held: map[string]time.Time{}, nowFunc: time.Now}
}

func (g *MemorySubmissionGuard) Acquire(_ context.Context, key string, ttl time.Duration) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.nowFunc()
	for k, expires := range g.held {
		if !now.Before(expires) {
			delete(g.held, k)
		}
	}
	if _, ok := g.held[key]; ok {
		return false, nil
	}
	g.held[key] = now.Add(ttl)
	return true, nil
}

func (g *MemorySubmissionGuard) Release(_ context.Context, key string) error {
	g.mu.Lock()
	delete(g.held, key)
	g.mu.Unlock()
	return nil
}

// SubmissionKey fingerprints a checkout: company, session and every cart line
// in order.
func SubmissionKey(companyID string, cart domain.Cart) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s", companyID, cart.SessionID)
	for _, line := range cart.Lines {
		fmt.Fprintf(h, "|%s:%d:%s", strings.TrimSpace(line.ItemCode), line.Quantity, line.UnitPrice.String())
	}
	return "checkout:" + hex.EncodeToString(h.Sum(nil))
}

func catalogKey(companyID string, itemCode string) string {
	return "catalog:" + companyID + ":" + itemCode
}
