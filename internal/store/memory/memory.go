package memory

import (
	"context"
	"maps"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"excisepos/backend/internal/domain"
	"excisepos/backend/internal/store"
)

// Store is the in-process repository used in dev mode and tests.
// Transactions run one at a time on a copy of the state that replaces the
// original only when fn succeeds.
type Store struct {
	mu    sync.RWMutex
	state *state
}

type state struct {
	catalog    map[string]domain.CatalogItem
	bills      map[string]domain.Bill
	sequences  map[string]int64
	live       map[string]domain.LedgerDay
	archive    map[string]domain.LedgerDay
	partitions map[string]domain.Partition
}

func newState() *state {
	return &state{
		catalog:    make(map[string]domain.CatalogItem),
		bills:      make(map[string]domain.Bill),
		sequences:  make(map[string]int64),
		live:       make(map[string]domain.LedgerDay),
		archive:    make(map[string]domain.LedgerDay),
		partitions: make(map[string]domain.Partition),
	}
}

func (s *state) clone() *state {
	bills := make(map[string]domain.Bill, len(s.bills))
	for k, v := range s.bills {
		bills[k] = cloneBill(v)
	}
	return &state{
		catalog:    maps.Clone(s.catalog),
		bills:      bills,
		sequences:  maps.Clone(s.sequences),
		live:       maps.Clone(s.live),
		archive:    maps.Clone(s.archive),
		partitions: maps.Clone(s.partitions),
	}
}

func New() *Store {
	return &Store{state: newState()}
}

// NewSeeded returns a store with a small liquor catalog for companyID.
func NewSeeded(companyID string) *Store {
	s := New()
	ml := decimal.NewFromInt
	for _, item := range []domain.CatalogItem{
		{ItemCode: "WHS-750", Category: "SPIRIT", UnitVolume: ml(750), UnitPrice: ml(1450), DisplayName: "Highland Whisky", SizeLabel: "750ml"},
		{ItemCode: "WHS-180", Category: "SPIRIT", UnitVolume: ml(180), UnitPrice: ml(380), DisplayName: "Highland Whisky", SizeLabel: "180ml"},
		{ItemCode: "RUM-1000", Category: "SPIRIT", UnitVolume: ml(1000), UnitPrice: ml(980), DisplayName: "Dark Rum", SizeLabel: "1L"},
		{ItemCode: "VDK-375", Category: "SPIRIT", UnitVolume: ml(375), UnitPrice: ml(520), DisplayName: "Vodka", SizeLabel: "375ml"},
		{ItemCode: "BER-650", Category: "BEER", UnitVolume: ml(650), UnitPrice: ml(190), DisplayName: "Strong Lager", SizeLabel: "650ml"},
		{ItemCode: "BER-330", Category: "BEER", UnitVolume: ml(330), UnitPrice: ml(110), DisplayName: "Pilsner Can", SizeLabel: "330ml"},
		{ItemCode: "WIN-750", Category: "WINE", UnitVolume: ml(750), UnitPrice: ml(1200), DisplayName: "Red Wine", SizeLabel: "750ml"},
	} {
		item.CompanyID = companyID
		item.Active = true
		s.state.catalog[catalogKey(companyID, item.ItemCode)] = item
	}
	return s
}

func (s *Store) Close() error {
	return nil
}

func (s *Store) WithTx(ctx context.Context, fn func(tx store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{st: s.state.clone()}
	err := fn(tx)
	tx.done = true
	if err != nil {
		return err
	}
	s.state = tx.st
	return nil
}

func (s *Store) GetCatalogItems(_ context.Context, companyID string, codes []string) (map[string]domain.CatalogItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string]domain.CatalogItem, len(codes))
	for _, code := range codes {
		if item, ok := s.state.catalog[catalogKey(companyID, code)]; ok {
			result[code] = item
		}
	}
	return result, nil
}

func (s *Store) UpsertCatalogItem(_ context.Context, item domain.CatalogItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state.catalog[catalogKey(item.CompanyID, item.ItemCode)] = item
	return nil
}

func (s *Store) FindBill(_ context.Context, companyID string, number string) (*domain.Bill, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	bill, ok := s.state.bills[billKey(companyID, number)]
	if !ok {
		return nil, store.ErrNotFound
	}
	cloned := cloneBill(bill)
	return &cloned, nil
}

func (s *Store) ListBills(_ context.Context, companyID string, day time.Time) ([]domain.Bill, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	day = domain.Day(day)
	bills := make([]domain.Bill, 0, 16)
	for _, bill := range s.state.bills {
		if bill.CompanyID == companyID && domain.Day(bill.Date).Equal(day) {
			bills = append(bills, cloneBill(bill))
		}
	}
	slices.SortFunc(bills, func(a, b domain.Bill) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.Number, b.Number)
	})
	return bills, nil
}

type memTx struct {
	st   *state
	done bool
}

func (t *memTx) check() error {
	if t.done {
		return store.ErrInvalidTransaction
	}
	return nil
}

func (t *memTx) MaxBillSuffix(_ context.Context, companyID string, prefix string) (int64, error) {
	if err := t.check(); err != nil {
		return 0, err
	}
	var highest int64
	for _, bill := range t.st.bills {
		if bill.CompanyID != companyID {
			continue
		}
		if seq, ok := numericSuffix(bill.Number, prefix); ok && seq > highest {
			highest = seq
		}
	}
	return highest, nil
}

func (t *memTx) BumpBillSequence(_ context.Context, companyID string, floor int64) (int64, error) {
	if err := t.check(); err != nil {
		return 0, err
	}
	next := max(t.st.sequences[companyID]+1, floor)
	t.st.sequences[companyID] = next
	return next, nil
}

func (t *memTx) InsertBill(_ context.Context, bill domain.Bill) error {
	if err := t.check(); err != nil {
		return err
	}
	key := billKey(bill.CompanyID, bill.Number)
	if _, exists := t.st.bills[key]; exists {
		return store.ErrDuplicateBillNumber
	}
	t.st.bills[key] = cloneBill(bill)
	return nil
}

func (t *memTx) GetLedgerDay(_ context.Context, part domain.Partition, itemCode string, day time.Time) (*domain.LedgerDay, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	row, ok := t.table(part)[ledgerKey(part.CompanyID, itemCode, day)]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &row, nil
}

func (t *memTx) LatestLedgerDayBefore(ctx context.Context, companyID string, itemCode string, day time.Time) (*domain.LedgerDay, error) {
	return t.latest(companyID, itemCode, func(d time.Time) bool { return d.Before(domain.Day(day)) })
}

func (t *memTx) LatestLedgerDayAtOrBefore(ctx context.Context, companyID string, itemCode string, day time.Time) (*domain.LedgerDay, error) {
	return t.latest(companyID, itemCode, func(d time.Time) bool { return !d.After(domain.Day(day)) })
}

// latest prefers the live row when both partitions hold the same day.
func (t *memTx) latest(companyID string, itemCode string, keep func(time.Time) bool) (*domain.LedgerDay, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	var best *domain.LedgerDay
	for _, table := range []map[string]domain.LedgerDay{t.st.live, t.st.archive} {
		for _, row := range table {
			if row.CompanyID != companyID || row.ItemCode != itemCode || !keep(row.Day) {
				continue
			}
			if best == nil || row.Day.After(best.Day) {
				found := row
				best = &found
			}
		}
	}
	if best == nil {
		return nil, store.ErrNotFound
	}
	return best, nil
}

func (t *memTx) ListLedgerDays(_ context.Context, part domain.Partition, itemCode string, from time.Time, to time.Time) ([]domain.LedgerDay, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	from, to = domain.Day(from), domain.Day(to)
	rows := make([]domain.LedgerDay, 0, 31)
	for _, row := range t.table(part) {
		if row.CompanyID != part.CompanyID || row.ItemCode != itemCode {
			continue
		}
		if row.Day.Before(from) || row.Day.After(to) {
			continue
		}
		rows = append(rows, row)
	}
	slices.SortFunc(rows, func(a, b domain.LedgerDay) int { return a.Day.Compare(b.Day) })
	return rows, nil
}

// LockLedgerDays needs no row locks: transactions already run one at a time.
func (t *memTx) LockLedgerDays(ctx context.Context, part domain.Partition, itemCode string, from time.Time, to time.Time) ([]domain.LedgerDay, error) {
	return t.ListLedgerDays(ctx, part, itemCode, from, to)
}

func (t *memTx) InsertLedgerDayIfMissing(_ context.Context, part domain.Partition, row domain.LedgerDay) (bool, error) {
	if err := t.check(); err != nil {
		return false, err
	}
	row.Day = domain.Day(row.Day)
	key := ledgerKey(part.CompanyID, row.ItemCode, row.Day)
	table := t.table(part)
	if _, exists := table[key]; exists {
		return false, nil
	}
	table[key] = row
	return true, nil
}

func (t *memTx) SaveLedgerDay(_ context.Context, part domain.Partition, row domain.LedgerDay) error {
	if err := t.check(); err != nil {
		return err
	}
	row.Day = domain.Day(row.Day)
	t.table(part)[ledgerKey(part.CompanyID, row.ItemCode, row.Day)] = row
	return nil
}

func (t *memTx) LedgerItemCodes(_ context.Context, companyID string) ([]string, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	seen := map[string]struct{}{}
	for _, table := range []map[string]domain.LedgerDay{t.st.live, t.st.archive} {
		for _, row := range table {
			if row.CompanyID == companyID {
				seen[row.ItemCode] = struct{}{}
			}
		}
	}
	return slices.Sorted(maps.Keys(seen)), nil
}

func (t *memTx) GetPartition(_ context.Context, companyID string, period domain.Period) (*domain.Partition, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	part, ok := t.st.partitions[partitionKey(companyID, period)]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &part, nil
}

func (t *memTx) SavePartition(_ context.Context, part domain.Partition) error {
	if err := t.check(); err != nil {
		return err
	}
	key := partitionKey(part.CompanyID, part.Period)
	if existing, ok := t.st.partitions[key]; ok && !existing.CreatedAt.IsZero() {
		part.CreatedAt = existing.CreatedAt
	}
	t.st.partitions[key] = part
	return nil
}

func (t *memTx) StaleLivePeriods(_ context.Context, companyID string, current domain.Period) ([]domain.Period, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	seen := map[domain.Period]struct{}{}
	for _, row := range t.st.live {
		if row.CompanyID != companyID {
			continue
		}
		if period := domain.PeriodOf(row.Day); period.Before(current) {
			seen[period] = struct{}{}
		}
	}
	periods := slices.Collect(maps.Keys(seen))
	slices.SortFunc(periods, func(a, b domain.Period) int {
		if a.Before(b) {
			return -1
		}
		if b.Before(a) {
			return 1
		}
		return 0
	})
	return periods, nil
}

func (t *memTx) ArchiveLivePeriod(_ context.Context, companyID string, period domain.Period) (int, error) {
	if err := t.check(); err != nil {
		return 0, err
	}
	moved := 0
	for key, row := range t.st.live {
		if row.CompanyID != companyID || !period.Contains(row.Day) {
			continue
		}
		if _, exists := t.st.archive[key]; !exists {
			t.st.archive[key] = row
		}
		delete(t.st.live, key)
		moved++
	}
	return moved, nil
}

func (t *memTx) table(part domain.Partition) map[string]domain.LedgerDay {
	if part.Archive {
		return t.st.archive
	}
	return t.st.live
}

// numericSuffix accepts prefix followed by digits only.
func numericSuffix(number string, prefix string) (int64, bool) {
	digits, ok := strings.CutPrefix(number, prefix)
	if !ok || digits == "" || strings.TrimLeft(digits, "0123456789") != "" {
		return 0, false
	}
	seq, err := strconv.ParseInt(digits, 10, 64)
	return seq, err == nil
}

func cloneBill(src domain.Bill) domain.Bill {
	src.Lines = append([]domain.BillLine(nil), src.Lines...)
	return src
}

func catalogKey(companyID string, code string) string {
	return companyID + "|" + code
}

func billKey(companyID string, number string) string {
	return companyID + "|" + number
}

func ledgerKey(companyID string, itemCode string, day time.Time) string {
	return companyID + "|" + itemCode + "|" + domain.Day(day).Format(domain.DayLayout)
}

func partitionKey(companyID string, period domain.Period) string {
	return companyID + "|" + period.String()
}
