package billing

import (
	"math"
	"slices"
	"strings"

	"github.com/shopspring/decimal"

	"excisepos/backend/internal/domain"
)

// Bin is the content of one bill: items of a single category.
type Bin struct {
	Category string
	Cap      decimal.Decimal
	Items    []domain.AggregatedItem
}

func (b Bin) Volume() decimal.Decimal {
	total := decimal.Zero
	for _, item := range b.Items {
		total = total.Add(item.Volume())
	}
	return total
}

func (b Bin) Amount() decimal.Decimal {
	total := decimal.Zero
	for _, item := range b.Items {
		total = total.Add(item.Amount())
	}
	return total
}

// Overflow reports a singleton bin whose only item alone exceeds the cap.
func (b Bin) Overflow() bool {
	return b.Cap.IsPositive() && len(b.Items) == 1 && b.Items[0].Volume().GreaterThan(b.Cap)
}

// Pack splits one category's items into bins of at most limit volume using a
// greedy pass over the items by descending volume. A limit <= 0 means
// uncapped: everything lands in one bin in the given order.
//
// An item that does not fit the current bin closes it. An item whose whole
// quantity exceeds the limit on its own is cut into runs of as many units as
// the limit allows; the last run stays open for the items that follow. A
// single unit larger than the limit is placed alone in its own bin.
func Pack(items []domain.AggregatedItem, limit decimal.Decimal) [][]domain.AggregatedItem {
	if len(items) == 0 {
		return nil
	}
	if !limit.IsPositive() {
		return [][]domain.AggregatedItem{slices.Clone(items)}
	}

	sorted := slices.Clone(items)
	slices.SortStableFunc(sorted, func(a, b domain.AggregatedItem) int {
		if c := b.Volume().Cmp(a.Volume()); c != 0 {
			return c
		}
		return strings.Compare(a.ItemCode, b.ItemCode)
	})

	bins := make([][]domain.AggregatedItem, 0, 2)
	var current []domain.AggregatedItem
	currentVolume := decimal.Zero
	closeCurrent := func() {
		if len(current) > 0 {
			bins = append(bins, current)
		}
		current = nil
		currentVolume = decimal.Zero
	}

	for _, item := range sorted {
		volume := item.Volume()
		if len(current) > 0 && currentVolume.Add(volume).GreaterThan(limit) {
			closeCurrent()
		}
		if !volume.GreaterThan(limit) {
			current = append(current, item)
			currentVolume = currentVolume.Add(volume)
			continue
		}

		run := unitsPerBin(item.UnitVolume, limit)
		remaining := item.Quantity
		for remaining > run {
			bins = append(bins, []domain.AggregatedItem{withQuantity(item, run)})
			remaining -= run
		}
		rest := withQuantity(item, remaining)
		if rest.Volume().GreaterThan(limit) {
			bins = append(bins, []domain.AggregatedItem{rest})
			continue
		}
		current = append(current, rest)
		currentVolume = rest.Volume()
	}
	closeCurrent()
	return bins
}

// unitsPerBin is how many units of unitVolume fit under limit, at least one.
func unitsPerBin(unitVolume, limit decimal.Decimal) int64 {
	if !unitVolume.IsPositive() {
		return math.MaxInt64
	}
	n := limit.Div(unitVolume).Floor().IntPart()
	if n < 1 {
		return 1
	}
	return n
}

func withQuantity(item domain.AggregatedItem, quantity int64) domain.AggregatedItem {
	item.Quantity = quantity
	return item
}

// PackByCategory groups items by category in first-seen order and packs each
// group with its cap. The result order is the order bills are numbered in.
func PackByCategory(items []domain.AggregatedItem, caps CapProvider) []Bin {
	order := make([]string, 0, 4)
	groups := make(map[string][]domain.AggregatedItem, 4)
	for _, item := range items {
		key := normalizeCategory(item.Category)
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], item)
	}

	bins := make([]Bin, 0, len(order))
	for _, key := range order {
		group := groups[key]
		limit := caps.CapFor(group[0].Category)
		for _, packed := range Pack(group, limit) {
			bins = append(bins, Bin{Category: group[0].Category, Cap: limit, Items: packed})
		}
	}
	return bins
}
