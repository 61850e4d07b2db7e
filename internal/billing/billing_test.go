package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"excisepos/backend/internal/domain"
	"excisepos/backend/internal/store"
)

func ml(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func line(code, category string, qty, volume, price int64) domain.LineItem {
	return domain.LineItem{
		ItemCode:   code,
		Quantity:   qty,
		UnitVolume: ml(volume),
		UnitPrice:  ml(price),
		Category:   category,
	}
}

func item(code string, qty, volume int64) domain.AggregatedItem {
	return domain.AggregatedItem{ItemCode: code, Category: "SPIRIT", Quantity: qty, UnitVolume: ml(volume), UnitPrice: ml(100)}
}

func totalVolume(bins [][]domain.AggregatedItem) decimal.Decimal {
	total := decimal.Zero
	for _, bin := range bins {
		for _, it := range bin {
			total = total.Add(it.Volume())
		}
	}
	return total
}

func TestAggregateMergesInFirstSeenOrder(t *testing.T) {
	lines := []domain.LineItem{
		line("B", "BEER", 2, 650, 40),
		line("A", "SPIRIT", 1, 750, 900),
		line("B", "beer", 3, 650, 40),
	}

	got, err := Aggregate(lines)

	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "B", got[0].ItemCode)
	assert.Equal(t, int64(5), got[0].Quantity)
	assert.True(t, got[0].Volume().Equal(ml(3250)))
	assert.True(t, got[0].Amount().Equal(ml(200)))
	assert.Equal(t, "A", got[1].ItemCode)
}

func TestAggregateRejectsEmptyAndMismatch(t *testing.T) {
	_, err := Aggregate(nil)
	assert.ErrorIs(t, err, domain.ErrEmptyCart)

	_, err = Aggregate([]domain.LineItem{line("A", "SPIRIT", 1, 750, 900), line("A", "SPIRIT", 1, 750, 950)})
	assert.ErrorIs(t, err, domain.ErrLineMismatch)

	_, err = Aggregate([]domain.LineItem{line("A", "SPIRIT", 1, 750, 900), line("A", "BEER", 1, 750, 900)})
	assert.ErrorIs(t, err, domain.ErrLineMismatch)

	_, err = Aggregate([]domain.LineItem{line("A", "SPIRIT", 0, 750, 900)})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestPackScenarioA(t *testing.T) {
	bins := Pack([]domain.AggregatedItem{item("X", 5, 750)}, ml(4000))

	require.Len(t, bins, 1)
	assert.Equal(t, int64(5), bins[0][0].Quantity)
}

func TestPackScenarioB(t *testing.T) {
	bins := Pack([]domain.AggregatedItem{item("X", 7, 750)}, ml(4000))

	require.Len(t, bins, 2)
	require.Len(t, bins[0], 1)
	require.Len(t, bins[1], 1)
	assert.Equal(t, int64(5), bins[0][0].Quantity)
	assert.True(t, bins[0][0].Volume().Equal(ml(3750)))
	assert.Equal(t, int64(2), bins[1][0].Quantity)
	assert.True(t, bins[1][0].Volume().Equal(ml(1500)))
}

func TestPackUncappedKeepsOrder(t *testing.T) {
	items := []domain.AggregatedItem{item("A", 1, 100), item("B", 20, 1000), item("C", 2, 500)}

	bins := Pack(items, decimal.Zero)

	require.Len(t, bins, 1)
	assert.Equal(t, []string{"A", "B", "C"}, codes(bins[0]))
}

func TestPackSortsByVolumeThenCode(t *testing.T) {
	items := []domain.AggregatedItem{item("C", 1, 500), item("B", 1, 1000), item("A", 1, 1000)}

	bins := Pack(items, ml(2000))

	require.Len(t, bins, 2)
	assert.Equal(t, []string{"A", "B"}, codes(bins[0]))
	assert.Equal(t, []string{"C"}, codes(bins[1]))
}

func TestPackOversizeUnitIsSingleton(t *testing.T) {
	items := []domain.AggregatedItem{item("KEG", 2, 5000), item("S", 1, 180)}

	bins := Pack(items, ml(1000))

	require.Len(t, bins, 3)
	for _, bin := range bins[:2] {
		require.Len(t, bin, 1)
		assert.Equal(t, "KEG", bin[0].ItemCode)
		assert.Equal(t, int64(1), bin[0].Quantity)
		assert.True(t, Bin{Cap: ml(1000), Items: bin}.Overflow())
	}
	assert.Equal(t, []string{"S"}, codes(bins[2]))
}

func TestPackRemainderRunSharesBin(t *testing.T) {
	items := []domain.AggregatedItem{item("X", 7, 750), item("Y", 1, 300)}

	bins := Pack(items, ml(4000))

	require.Len(t, bins, 2)
	assert.Equal(t, []string{"X"}, codes(bins[0]))
	assert.Equal(t, []string{"X", "Y"}, codes(bins[1]))
}

func TestPackConservationAndCapRespect(t *testing.T) {
	limit := ml(4500)
	for seed := int64(1); seed <= 40; seed++ {
		var items []domain.AggregatedItem
		for i := int64(0); i < seed%7+1; i++ {
			volume := []int64{180, 375, 650, 750, 1000, 2000, 5000}[(seed+i)%7]
			items = append(items, item(fmt.Sprintf("I%02d", i), (seed*i)%9+1, volume))
		}

		bins := Pack(items, limit)

		want := decimal.Zero
		for _, it := range items {
			want = want.Add(it.Volume())
		}
		assert.True(t, totalVolume(bins).Equal(want), "seed %d lost volume", seed)
		for _, bin := range bins {
			b := Bin{Cap: limit, Items: bin}
			if b.Volume().GreaterThan(limit) {
				assert.True(t, b.Overflow(), "seed %d bin over cap %s", seed, b.Volume())
			}
		}
	}
}

func TestPackIsDeterministic(t *testing.T) {
	items := []domain.AggregatedItem{item("B", 3, 750), item("A", 3, 750), item("C", 9, 375)}

	first := Pack(items, ml(3000))
	second := Pack(items, ml(3000))

	assert.Equal(t, first, second)
}

func TestPackByCategoryUsesFirstSeenCategoryOrder(t *testing.T) {
	caps, err := ParseCapList("SPIRIT=4000, beer=7800")
	require.NoError(t, err)
	items := []domain.AggregatedItem{
		{ItemCode: "W", Category: "WINE", Quantity: 12, UnitVolume: ml(750), UnitPrice: ml(300)},
		{ItemCode: "X", Category: "Spirit", Quantity: 7, UnitVolume: ml(750), UnitPrice: ml(900)},
		{ItemCode: "B", Category: "BEER", Quantity: 2, UnitVolume: ml(650), UnitPrice: ml(40)},
	}

	bins := PackByCategory(items, caps)

	require.Len(t, bins, 4)
	assert.Equal(t, "WINE", bins[0].Category)
	assert.True(t, bins[0].Cap.IsZero())
	assert.Equal(t, "Spirit", bins[1].Category)
	assert.Equal(t, "Spirit", bins[2].Category)
	assert.Equal(t, "BEER", bins[3].Category)
	assert.True(t, bins[1].Amount().Equal(ml(4500)))
}

func TestParseCapListRejectsGarbage(t *testing.T) {
	_, err := ParseCapList("SPIRIT")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = ParseCapList("SPIRIT=lots")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = NewCapTable(map[string]string{"beer": "-1"})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestNumberFormat(t *testing.T) {
	f := NumberFormat{Prefix: "INV", Width: 4}

	assert.Equal(t, "INV0011", f.Format(11))
	assert.Equal(t, "INV123456", f.Format(123456))

	seq, ok := f.Parse("INV0011")
	assert.True(t, ok)
	assert.Equal(t, int64(11), seq)

	for _, bad := range []string{"INV", "BIL0011", "INV12a", "INVX-1760600000-abc"} {
		_, ok := f.Parse(bad)
		assert.False(t, ok, bad)
	}

	fallback := f.Fallback(time.Unix(0, 42))
	assert.True(t, strings.HasPrefix(fallback, "INVX-42-"))
	_, ok = f.Parse(fallback)
	assert.False(t, ok)
}

// sequenceTx models the two numbering queries of a store transaction.
type sequenceTx struct {
	store.Tx
	maxSuffix int64
	counter   int64
}

func (s *sequenceTx) MaxBillSuffix(context.Context, string, string) (int64, error) {
	return s.maxSuffix, nil
}

func (s *sequenceTx) BumpBillSequence(_ context.Context, _ string, floor int64) (int64, error) {
	s.counter = max(s.counter+1, floor)
	return s.counter, nil
}

func TestAllocateScenarioC(t *testing.T) {
	tx := &sequenceTx{maxSuffix: 10}
	alloc := NewAllocator(NumberFormat{Prefix: "INV", Width: 4}, 0, nil)

	first, err := alloc.Allocate(context.Background(), tx, "c1")
	require.NoError(t, err)
	second, err := alloc.Allocate(context.Background(), tx, "c1")
	require.NoError(t, err)

	assert.Equal(t, "INV0011", first)
	assert.Equal(t, "INV0012", second)
}

func TestAssignRetriesThenFallsBack(t *testing.T) {
	tx := &sequenceTx{}
	alloc := NewAllocator(NumberFormat{Prefix: "INV", Width: 4}, 3, nil)
	alloc.Now = func() time.Time { return time.Unix(0, 7) }

	var tried []string
	number, err := alloc.Assign(context.Background(), tx, "c1", func(n string) error {
		tried = append(tried, n)
		if len(tried) <= 3 {
			return store.ErrDuplicateBillNumber
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, []string{"INV0001", "INV0002", "INV0003"}, tried[:3])
	assert.True(t, strings.HasPrefix(number, "INVX-7-"))
}

func TestAssignExhausted(t *testing.T) {
	alloc := NewAllocator(NumberFormat{Prefix: "INV"}, 2, nil)

	calls := 0
	_, err := alloc.Assign(context.Background(), &sequenceTx{}, "c1", func(string) error {
		calls++
		return store.ErrDuplicateBillNumber
	})

	assert.ErrorIs(t, err, domain.ErrBillNumberExhausted)
	assert.Equal(t, 3, calls)
}

func TestAssignStopsOnOtherErrors(t *testing.T) {
	alloc := NewAllocator(NumberFormat{Prefix: "INV"}, 3, nil)
	boom := errors.New("disk full")

	calls := 0
	_, err := alloc.Assign(context.Background(), &sequenceTx{}, "c1", func(string) error {
		calls++
		return boom
	})

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
}

func codes(items []domain.AggregatedItem) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, it.ItemCode)
	}
	return out
}
