package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"excisepos/backend/internal/domain"
	"excisepos/backend/internal/logger"
	"excisepos/backend/internal/store"
)

// EnsureCurrentMonthProvisioned gives every item with ledger history a row
// for each day of the current month. Missing days carry the balance of the
// day before them; existing days are left untouched, so repeated calls
// change nothing.
func (s *Service) EnsureCurrentMonthProvisioned(ctx context.Context, companyID string) (domain.ProvisionResult, error) {
	companyID = s.companyFor(ctx, companyID)
	period := s.currentPeriod()
	result := domain.ProvisionResult{Period: period.String()}

	err := s.repo.WithTx(ctx, func(tx store.Tx) error {
		part, err := s.registerPartition(ctx, tx, domain.LivePartition(companyID, period))
		if err != nil {
			return err
		}
		codes, err := tx.LedgerItemCodes(ctx, companyID)
		if err != nil {
			return fmt.Errorf("list ledger items: %w", err)
		}

		result.Items = len(codes)
		for _, code := range codes {
			added, err := s.provisionItem(ctx, tx, part, code)
			if err != nil {
				return err
			}
			result.SlotsAdded += added
		}
		return nil
	})
	if err != nil {
		return domain.ProvisionResult{}, err
	}

	logger.FromContext(ctx, s.logger).Info("ledger month provisioned",
		zap.String("company_id", companyID),
		zap.String("period", result.Period),
		zap.Int("items", result.Items),
		zap.Int("slots_added", result.SlotsAdded),
	)
	return result, nil
}

func (s *Service) provisionItem(ctx context.Context, tx store.Tx, part domain.Partition, itemCode string) (int, error) {
	first, last := part.Period.First(), part.Period.Last()
	existing, err := tx.LockLedgerDays(ctx, part, itemCode, first, last)
	if err != nil {
		return 0, err
	}
	byDay := make(map[string]domain.LedgerDay, len(existing))
	for _, row := range existing {
		byDay[row.Day.Format(domain.DayLayout)] = row
	}

	carry, err := openingBalance(ctx, tx, part.CompanyID, itemCode, first)
	if err != nil {
		return 0, err
	}

	added := 0
	for day := first; !day.After(last); day = day.AddDate(0, 0, 1) {
		if row, ok := byDay[day.Format(domain.DayLayout)]; ok {
			carry = row.Closing
			continue
		}
		inserted, err := tx.InsertLedgerDayIfMissing(ctx, part, domain.NewLedgerDay(part.CompanyID, itemCode, day, carry))
		if err != nil {
			return 0, fmt.Errorf("provision %s %s: %w", itemCode, day.Format(domain.DayLayout), err)
		}
		if inserted {
			added++
			continue
		}
		row, err := tx.GetLedgerDay(ctx, part, itemCode, day)
		if err != nil {
			return 0, err
		}
		carry = row.Closing
	}
	return added, nil
}

// RolloverIfNeeded moves ledger rows of months before the current one out of
// the live partition into their archives. Rows already archived are kept as
// they are. With nothing to move it is a no-op.
func (s *Service) RolloverIfNeeded(ctx context.Context, companyID string) (domain.RolloverResult, error) {
	companyID = s.companyFor(ctx, companyID)

	var result domain.RolloverResult
	err := s.repo.WithTx(ctx, func(tx store.Tx) error {
		var err error
		result, err = s.rollover(ctx, tx, companyID)
		return err
	})
	if err != nil {
		return domain.RolloverResult{}, err
	}
	return result, nil
}

func (s *Service) rollover(ctx context.Context, tx store.Tx, companyID string) (domain.RolloverResult, error) {
	result := domain.RolloverResult{Periods: []string{}}
	periods, err := tx.StaleLivePeriods(ctx, companyID, s.currentPeriod())
	if err != nil {
		return result, fmt.Errorf("find stale periods: %w", err)
	}

	log := logger.FromContext(ctx, s.logger)
	for _, period := range periods {
		if _, err := s.registerPartition(ctx, tx, domain.ArchivePartition(companyID, period)); err != nil {
			return result, err
		}
		moved, err := tx.ArchiveLivePeriod(ctx, companyID, period)
		if err != nil {
			return result, err
		}
		result.Periods = append(result.Periods, period.String())
		result.RowsMoved += moved
		log.Info("ledger period archived",
			zap.String("company_id", companyID),
			zap.String("period", period.String()),
			zap.Int("rows", moved),
		)
	}
	return result, nil
}
