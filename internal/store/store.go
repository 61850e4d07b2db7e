package store

import (
	"context"
	"errors"
	"time"

	"excisepos/backend/internal/domain"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrDuplicateBillNumber = errors.New("bill number already exists")
	ErrInvalidTransaction  = errors.New("invalid transaction")
)

// Repository is the transactional store behind checkout and the stock
// ledger. Everything that must be atomic goes through WithTx; fn's error
// rolls the transaction back and is returned unchanged.
type Repository interface {
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	GetCatalogItems(ctx context.Context, companyID string, codes []string) (map[string]domain.CatalogItem, error)
	UpsertCatalogItem(ctx context.Context, item domain.CatalogItem) error
	FindBill(ctx context.Context, companyID string, number string) (*domain.Bill, error)
	ListBills(ctx context.Context, companyID string, day time.Time) ([]domain.Bill, error)
	Close() error
}

type Tx interface {
	// MaxBillSuffix returns the largest numeric suffix among the company's
	// bill numbers that carry prefix followed only by digits, or 0.
	MaxBillSuffix(ctx context.Context, companyID string, prefix string) (int64, error)
	// BumpBillSequence advances the company's counter to max(last+1, floor)
	// and returns the new value.
	BumpBillSequence(ctx context.Context, companyID string, floor int64) (int64, error)
	// InsertBill stores the header and its lines. A taken number yields
	// ErrDuplicateBillNumber and leaves the transaction usable.
	InsertBill(ctx context.Context, bill domain.Bill) error

	// GetLedgerDay locks the row for update.
	GetLedgerDay(ctx context.Context, part domain.Partition, itemCode string, day time.Time) (*domain.LedgerDay, error)
	// LatestLedgerDayBefore looks across live and archive rows.
	LatestLedgerDayBefore(ctx context.Context, companyID string, itemCode string, day time.Time) (*domain.LedgerDay, error)
	// LatestLedgerDayAtOrBefore looks across live and archive rows.
	LatestLedgerDayAtOrBefore(ctx context.Context, companyID string, itemCode string, day time.Time) (*domain.LedgerDay, error)
	// ListLedgerDays returns the partition's rows for the item with
	// from <= day <= to, ordered by day. It takes no locks.
	ListLedgerDays(ctx context.Context, part domain.Partition, itemCode string, from time.Time, to time.Time) ([]domain.LedgerDay, error)
	// LockLedgerDays is ListLedgerDays with the rows locked for update.
	LockLedgerDays(ctx context.Context, part domain.Partition, itemCode string, from time.Time, to time.Time) ([]domain.LedgerDay, error)
	// InsertLedgerDayIfMissing stores row unless the day already exists and
	// reports whether it inserted.
	InsertLedgerDayIfMissing(ctx context.Context, part domain.Partition, row domain.LedgerDay) (bool, error)
	SaveLedgerDay(ctx context.Context, part domain.Partition, row domain.LedgerDay) error
	// LedgerItemCodes lists every item with ledger history for the company.
	LedgerItemCodes(ctx context.Context, companyID string) ([]string, error)

	GetPartition(ctx context.Context, companyID string, period domain.Period) (*domain.Partition, error)
	SavePartition(ctx context.Context, part domain.Partition) error
	// StaleLivePeriods lists periods before current that still have live rows.
	StaleLivePeriods(ctx context.Context, companyID string, current domain.Period) ([]domain.Period, error)
	// ArchiveLivePeriod copies the period's live rows into the archive,
	// keeping archive rows that already exist, then removes them from the
	// live partition. It returns the number of live rows removed.
	ArchiveLivePeriod(ctx context.Context, companyID string, period domain.Period) (int, error)
}
