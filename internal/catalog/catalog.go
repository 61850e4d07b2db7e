package catalog

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"excisepos/backend/internal/cache"
	"excisepos/backend/internal/domain"
	"excisepos/backend/internal/store"
)

const DefaultCacheTTL = 5 * time.Minute

// ItemCatalog resolves item codes that already passed the licence
// allow-list. Unknown or inactive codes yield domain.ErrUnknownItem.
type ItemCatalog interface {
	Resolve(ctx context.Context, companyID string, itemCode string) (domain.CatalogItem, error)
	ResolveMany(ctx context.Context, companyID string, itemCodes []string) (map[string]domain.CatalogItem, error)
}

// Catalog reads items from the repository through a cache.
type Catalog struct {
	repo   store.Repository
	cache  cache.CatalogCache
	ttl    time.Duration
	logger *zap.Logger
}

func New(repo store.Repository, itemCache cache.CatalogCache, ttl time.Duration, logger *zap.Logger) *Catalog {
	if itemCache == nil {
		itemCache = cache.NoopCatalogCache{}
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Catalog{repo: repo, cache: itemCache, ttl: ttl, logger: logger}
}

func (c *Catalog) Resolve(ctx context.Context, companyID string, itemCode string) (domain.CatalogItem, error) {
	items, err := c.ResolveMany(ctx, companyID, []string{itemCode})
	if err != nil {
		return domain.CatalogItem{}, err
	}
	return items[strings.TrimSpace(itemCode)], nil
}

func (c *Catalog) ResolveMany(ctx context.Context, companyID string, itemCodes []string) (map[string]domain.CatalogItem, error) {
	resolved := make(map[string]domain.CatalogItem, len(itemCodes))
	missing := make([]string, 0, len(itemCodes))
	for _, raw := range itemCodes {
		code := strings.TrimSpace(raw)
		if code == "" {
			return nil, fmt.Errorf("%w: empty item code", domain.ErrInvalidInput)
		}
		if _, done := resolved[code]; done {
			continue
		}
		item, ok, err := c.cache.Get(ctx, companyID, code)
		if err != nil {
			c.logger.Warn("catalog cache read failed", zap.String("item_code", code), zap.Error(err))
		}
		if ok && item != nil {
			resolved[code] = *item
			continue
		}
		missing = append(missing, code)
	}
	if len(missing) == 0 {
		return resolved, nil
	}

	found, err := c.repo.GetCatalogItems(ctx, companyID, missing)
	if err != nil {
		return nil, fmt.Errorf("load catalog items: %w", err)
	}
	for _, code := range missing {
		item, ok := found[code]
		if !ok || !item.Active {
			return nil, fmt.Errorf("%w: %s", domain.ErrUnknownItem, code)
		}
		resolved[code] = item
		if err := c.cache.Set(ctx, item, c.ttl); err != nil {
			c.logger.Warn("catalog cache write failed", zap.String("item_code", code), zap.Error(err))
		}
	}
	return resolved, nil
}

// Upsert stores an item and drops any cached copy.
func (c *Catalog) Upsert(ctx context.Context, item domain.CatalogItem) error {
	if err := c.repo.UpsertCatalogItem(ctx, item); err != nil {
		return err
	}
	if err := c.cache.Invalidate(ctx, item.CompanyID, item.ItemCode); err != nil {
		c.logger.Warn("catalog cache invalidate failed", zap.String("item_code", item.ItemCode), zap.Error(err))
	}
	return nil
}
