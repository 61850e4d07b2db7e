package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"excisepos/backend/internal/domain"
	"excisepos/backend/internal/logger"
	"excisepos/backend/internal/store"
)

const maxLedgerRangeDays = 366

// CurrentStock is the closing balance of the latest ledger day at or before
// asOf, or zero for an item that was never moved.
func (s *Service) CurrentStock(ctx context.Context, companyID string, itemCode string, asOf string) (domain.StockResponse, error) {
	companyID = s.companyFor(ctx, companyID)
	itemCode = normalizeCode(itemCode)
	if itemCode == "" {
		return domain.StockResponse{}, fmt.Errorf("%w: item code is required", domain.ErrInvalidInput)
	}
	day, err := s.dayOrToday(asOf)
	if err != nil {
		return domain.StockResponse{}, err
	}

	resp := domain.StockResponse{ItemCode: itemCode, AsOf: day.Format(domain.DayLayout)}
	err = s.repo.WithTx(ctx, func(tx store.Tx) error {
		row, err := tx.LatestLedgerDayAtOrBefore(ctx, companyID, itemCode, day)
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		resp.Quantity = row.Closing
		return nil
	})
	if err != nil {
		return domain.StockResponse{}, err
	}
	return resp, nil
}

// ApplyPurchase records received stock.
func (s *Service) ApplyPurchase(ctx context.Context, req domain.PurchaseRequest) (domain.LedgerDay, error) {
	return s.applyStandalone(ctx, req, true)
}

// ApplySale records a sale outside checkout, for example a manual excise
// register correction.
func (s *Service) ApplySale(ctx context.Context, req domain.PurchaseRequest) (domain.LedgerDay, error) {
	return s.applyStandalone(ctx, req, false)
}

func (s *Service) applyStandalone(ctx context.Context, req domain.PurchaseRequest, purchase bool) (domain.LedgerDay, error) {
	companyID := s.companyFor(ctx, "")
	itemCode := normalizeCode(req.ItemCode)
	if itemCode == "" || req.Quantity < 1 {
		return domain.LedgerDay{}, fmt.Errorf("%w: item code and a positive quantity are required", domain.ErrInvalidInput)
	}
	day, err := s.dayOrToday(req.Date)
	if err != nil {
		return domain.LedgerDay{}, err
	}
	if _, err := s.catalog.Resolve(ctx, companyID, itemCode); err != nil {
		return domain.LedgerDay{}, err
	}

	var row domain.LedgerDay
	err = s.repo.WithTx(ctx, func(tx store.Tx) error {
		var err error
		if purchase {
			row, err = s.applyMovement(ctx, tx, companyID, itemCode, day, req.Quantity, 0)
		} else {
			row, err = s.applyMovement(ctx, tx, companyID, itemCode, day, 0, req.Quantity)
		}
		return err
	})
	if err != nil {
		return domain.LedgerDay{}, err
	}

	logger.FromContext(ctx, s.logger).Info("ledger movement recorded",
		zap.String("company_id", companyID),
		zap.String("item_code", itemCode),
		zap.String("day", day.Format(domain.DayLayout)),
		zap.Bool("purchase", purchase),
		zap.Int64("quantity", req.Quantity),
		zap.Int64("closing", row.Closing),
	)
	return row, nil
}

// LedgerDays lists an item's ledger rows between from and to inclusive,
// reading live and archived periods alike.
func (s *Service) LedgerDays(ctx context.Context, companyID string, itemCode string, from string, to string) (domain.LedgerResponse, error) {
	companyID = s.companyFor(ctx, companyID)
	itemCode = normalizeCode(itemCode)
	if itemCode == "" {
		return domain.LedgerResponse{}, fmt.Errorf("%w: item code is required", domain.ErrInvalidInput)
	}
	end, err := s.dayOrToday(to)
	if err != nil {
		return domain.LedgerResponse{}, err
	}
	start := end.AddDate(0, 0, 1-end.Day())
	if from != "" {
		if start, err = domain.ParseDay(from); err != nil {
			return domain.LedgerResponse{}, err
		}
	}
	if end.Before(start) || end.Sub(start) > maxLedgerRangeDays*24*time.Hour {
		return domain.LedgerResponse{}, fmt.Errorf("%w: date range must be ascending and at most %d days", domain.ErrInvalidInput, maxLedgerRangeDays)
	}

	resp := domain.LedgerResponse{ItemCode: itemCode, Days: make([]domain.LedgerDay, 0, 31)}
	err = s.repo.WithTx(ctx, func(tx store.Tx) error {
		for period := domain.PeriodOf(start); !domain.PeriodOf(end).Before(period); period = period.Next() {
			lo, hi := maxTime(start, period.First()), minTime(end, period.Last())
			rows, err := s.periodRows(ctx, tx, companyID, itemCode, period, lo, hi)
			if err != nil {
				return err
			}
			resp.Days = append(resp.Days, rows...)
		}
		return nil
	})
	if err != nil {
		return domain.LedgerResponse{}, err
	}
	return resp, nil
}

// periodRows merges a period's live and archived rows, preferring live rows
// for periods that were not rolled over yet.
func (s *Service) periodRows(ctx context.Context, tx store.Tx, companyID, itemCode string, period domain.Period, from, to time.Time) ([]domain.LedgerDay, error) {
	live, err := tx.ListLedgerDays(ctx, domain.LivePartition(companyID, period), itemCode, from, to)
	if err != nil {
		return nil, err
	}
	if period == s.currentPeriod() {
		return live, nil
	}
	archived, err := tx.ListLedgerDays(ctx, domain.ArchivePartition(companyID, period), itemCode, from, to)
	if err != nil {
		return nil, err
	}
	if len(live) == 0 {
		return archived, nil
	}

	merged := make([]domain.LedgerDay, 0, len(live)+len(archived))
	i, j := 0, 0
	for i < len(live) || j < len(archived) {
		switch {
		case j == len(archived) || (i < len(live) && !live[i].Day.After(archived[j].Day)):
			if j < len(archived) && live[i].Day.Equal(archived[j].Day) {
				j++
			}
			merged = append(merged, live[i])
			i++
		default:
			merged = append(merged, archived[j])
			j++
		}
	}
	return merged, nil
}

// applyMovement adds purchase and sales to an item's day inside tx, keeping
// closing = opening + purchase - sales and carrying the closing forward
// through the later days of the period, and of later periods when the day
// is archived.
func (s *Service) applyMovement(ctx context.Context, tx store.Tx, companyID, itemCode string, day time.Time, purchase, sales int64) (domain.LedgerDay, error) {
	day = domain.Day(day)
	part, err := s.resolvePartition(ctx, tx, companyID, domain.PeriodOf(day))
	if err != nil {
		return domain.LedgerDay{}, err
	}

	row, err := s.ensureLedgerDay(ctx, tx, part, itemCode, day)
	if err != nil {
		return domain.LedgerDay{}, err
	}
	row.Purchase += purchase
	row.Sales += sales
	row.Recompute()
	if err := tx.SaveLedgerDay(ctx, part, row); err != nil {
		return domain.LedgerDay{}, fmt.Errorf("save ledger day %s %s: %w", itemCode, day.Format(domain.DayLayout), err)
	}

	if err := s.cascadeForward(ctx, tx, part, row); err != nil {
		return domain.LedgerDay{}, err
	}
	if part.Archive {
		if err := s.carryIntoLaterPeriods(ctx, tx, companyID, itemCode, part.Period); err != nil {
			return domain.LedgerDay{}, err
		}
	}
	return row, nil
}

// ensureLedgerDay returns the locked row for the day, creating it with an
// opening equal to the latest earlier closing in any partition.
func (s *Service) ensureLedgerDay(ctx context.Context, tx store.Tx, part domain.Partition, itemCode string, day time.Time) (domain.LedgerDay, error) {
	row, err := tx.GetLedgerDay(ctx, part, itemCode, day)
	if err == nil {
		return *row, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return domain.LedgerDay{}, err
	}

	opening, err := openingBalance(ctx, tx, part.CompanyID, itemCode, day)
	if err != nil {
		return domain.LedgerDay{}, err
	}
	if _, err := tx.InsertLedgerDayIfMissing(ctx, part, domain.NewLedgerDay(part.CompanyID, itemCode, day, opening)); err != nil {
		return domain.LedgerDay{}, fmt.Errorf("create ledger day: %w", err)
	}
	row, err = tx.GetLedgerDay(ctx, part, itemCode, day)
	if err != nil {
		return domain.LedgerDay{}, err
	}
	return *row, nil
}

func openingBalance(ctx context.Context, tx store.Tx, companyID, itemCode string, day time.Time) (int64, error) {
	prev, err := tx.LatestLedgerDayBefore(ctx, companyID, itemCode, day)
	if errors.Is(err, store.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return prev.Closing, nil
}

// cascadeForward sets each later day's opening in the partition to the
// closing before it. It stops at the end of the period; the next period
// derives its opening when its first row is created.
func (s *Service) cascadeForward(ctx context.Context, tx store.Tx, part domain.Partition, from domain.LedgerDay) error {
	last := part.Period.Last()
	if !from.Day.Before(last) {
		return nil
	}
	later, err := tx.LockLedgerDays(ctx, part, from.ItemCode, from.Day.AddDate(0, 0, 1), last)
	if err != nil {
		return err
	}

	carry := from.Closing
	for _, row := range later {
		if row.Opening != carry {
			row.Opening = carry
			row.Recompute()
			if err := tx.SaveLedgerDay(ctx, part, row); err != nil {
				return fmt.Errorf("cascade ledger day %s: %w", row.Day.Format(domain.DayLayout), err)
			}
		}
		carry = row.Closing
	}
	return nil
}

// carryIntoLaterPeriods re-derives the opening of every period after from,
// up to the current one, from the closing before its first row and carries
// it through the period. A backdated write to an archived month changes that
// month's final closing, which every later opening depends on.
func (s *Service) carryIntoLaterPeriods(ctx context.Context, tx store.Tx, companyID, itemCode string, from domain.Period) error {
	current := s.currentPeriod()
	for period := from.Next(); !current.Before(period); period = period.Next() {
		part := domain.ArchivePartition(companyID, period)
		if period == current {
			part = domain.LivePartition(companyID, period)
		}
		rows, err := tx.LockLedgerDays(ctx, part, itemCode, period.First(), period.Last())
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			continue
		}

		carry, err := openingBalance(ctx, tx, companyID, itemCode, rows[0].Day)
		if err != nil {
			return err
		}
		for _, row := range rows {
			if row.Opening != carry {
				row.Opening = carry
				row.Recompute()
				if err := tx.SaveLedgerDay(ctx, part, row); err != nil {
					return fmt.Errorf("carry ledger day %s: %w", row.Day.Format(domain.DayLayout), err)
				}
			}
			carry = row.Closing
		}
	}
	return nil
}

// resolvePartition maps a period to the live partition when it is the
// current month and to its archive otherwise. A past period is rolled over
// first so its rows are not split between the two.
func (s *Service) resolvePartition(ctx context.Context, tx store.Tx, companyID string, period domain.Period) (domain.Partition, error) {
	current := s.currentPeriod()
	if current.Before(period) {
		return domain.Partition{}, fmt.Errorf("%w: %s is after %s", domain.ErrFuturePeriod, period, current)
	}
	if period == current {
		return s.registerPartition(ctx, tx, domain.LivePartition(companyID, period))
	}

	if _, err := s.rollover(ctx, tx, companyID); err != nil {
		return domain.Partition{}, err
	}
	return s.registerPartition(ctx, tx, domain.ArchivePartition(companyID, period))
}

// registerPartition records the partition unless the registry already has
// it in the wanted state.
func (s *Service) registerPartition(ctx context.Context, tx store.Tx, part domain.Partition) (domain.Partition, error) {
	existing, err := tx.GetPartition(ctx, part.CompanyID, part.Period)
	if err == nil && existing.Archive == part.Archive {
		return *existing, nil
	}
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return domain.Partition{}, err
	}
	if existing != nil {
		part.CreatedAt = existing.CreatedAt
	} else {
		part.CreatedAt = s.now().UTC()
	}
	if err := tx.SavePartition(ctx, part); err != nil {
		return domain.Partition{}, fmt.Errorf("register %s partition %s: %w", part.Kind(), part.Period, err)
	}
	return part, nil
}

func maxTime(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}

func minTime(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}
