package catalog

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"excisepos/backend/internal/domain"
	"excisepos/backend/internal/store/memory"
)

type countingCache struct {
	items       map[string]domain.CatalogItem
	sets        int
	invalidated []string
}

func newCountingCache() *countingCache {
	return &countingCache{items: map[string]domain.CatalogItem{}}
}

func (c *countingCache) Get(_ context.Context, companyID string, itemCode string) (*domain.CatalogItem, bool, error) {
	item, ok := c.items[companyID+"/"+itemCode]
	if !ok {
		return nil, false, nil
	}
	return &item, true, nil
}

func (c *countingCache) Set(_ context.Context, item domain.CatalogItem, _ time.Duration) error {
	c.sets++
	c.items[item.CompanyID+"/"+item.ItemCode] = item
	return nil
}

func (c *countingCache) Invalidate(_ context.Context, companyID string, itemCode string) error {
	c.invalidated = append(c.invalidated, itemCode)
	delete(c.items, companyID+"/"+itemCode)
	return nil
}

func TestResolveReadsThroughCache(t *testing.T) {
	itemCache := newCountingCache()
	c := New(memory.NewSeeded("main-store"), itemCache, time.Minute, nil)
	ctx := context.Background()

	item, err := c.Resolve(ctx, "main-store", " WHS-750 ")
	require.NoError(t, err)
	assert.Equal(t, "SPIRIT", item.Category)
	assert.True(t, item.UnitVolume.Equal(decimal.NewFromInt(750)))
	assert.Equal(t, 1, itemCache.sets)

	_, err = c.Resolve(ctx, "main-store", "WHS-750")
	require.NoError(t, err)
	assert.Equal(t, 1, itemCache.sets)
}

func TestResolveManyRejectsUnknownAndInactive(t *testing.T) {
	repo := memory.NewSeeded("main-store")
	c := New(repo, nil, 0, nil)
	ctx := context.Background()

	_, err := c.ResolveMany(ctx, "main-store", []string{"WHS-750", "GIN-700"})
	assert.ErrorIs(t, err, domain.ErrUnknownItem)

	_, err = c.ResolveMany(ctx, "main-store", []string{""})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	require.NoError(t, c.Upsert(ctx, domain.CatalogItem{
		CompanyID: "main-store", ItemCode: "WHS-750", Category: "SPIRIT",
		UnitVolume: decimal.NewFromInt(750), UnitPrice: decimal.NewFromInt(1450),
	}))
	_, err = c.Resolve(ctx, "main-store", "WHS-750")
	assert.ErrorIs(t, err, domain.ErrUnknownItem)
}

func TestUpsertInvalidatesCachedItem(t *testing.T) {
	itemCache := newCountingCache()
	c := New(memory.NewSeeded("main-store"), itemCache, time.Minute, nil)
	ctx := context.Background()

	_, err := c.Resolve(ctx, "main-store", "BER-330")
	require.NoError(t, err)

	require.NoError(t, c.Upsert(ctx, domain.CatalogItem{
		CompanyID: "main-store", ItemCode: "BER-330", Category: "BEER",
		UnitVolume: decimal.NewFromInt(500), UnitPrice: decimal.NewFromInt(150), Active: true,
	}))
	assert.Equal(t, []string{"BER-330"}, itemCache.invalidated)

	item, err := c.Resolve(ctx, "main-store", "BER-330")
	require.NoError(t, err)
	assert.True(t, item.UnitVolume.Equal(decimal.NewFromInt(500)))
}
