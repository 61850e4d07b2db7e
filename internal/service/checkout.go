package service

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"excisepos/backend/internal/billing"
	"excisepos/backend/internal/cache"
	"excisepos/backend/internal/domain"
	"excisepos/backend/internal/logger"
	"excisepos/backend/internal/store"
)

// commit tracks one checkout attempt through its states.
type commit struct {
	state domain.CommitState
	log   *zap.Logger
}

func (c *commit) enter(next domain.CommitState) {
	if c.state == next {
		return
	}
	c.log.Debug("checkout state", zap.Stringer("from", c.state), zap.Stringer("to", next))
	c.state = next
}

// fail wraps err for the current state. Failures after aggregation end in
// rolled_back.
func (c *commit) fail(err error) (domain.CheckoutResult, error) {
	commitErr := domain.NewCommitError(c.state, err)
	final := domain.StateRolledBack
	if c.state == domain.StateIdle || c.state == domain.StateAggregating {
		final = c.state
	}
	c.log.Warn("checkout failed",
		zap.Stringer("state", c.state),
		zap.String("kind", string(commitErr.Kind)),
		zap.Error(err),
	)
	c.enter(final)
	return domain.CheckoutResult{State: final}, commitErr
}

// Checkout turns the session's cart into bills: one or more per category so
// that no bill exceeds its category's volume cap. Bills and their stock
// movements are stored in one transaction; on any failure nothing is stored
// and the cart is kept.
func (s *Service) Checkout(ctx context.Context, req domain.CheckoutRequest) (domain.CheckoutResult, error) {
	companyID := s.companyFor(ctx, req.CompanyID)
	c := &commit{
		state: domain.StateIdle,
		log: logger.FromContext(ctx, s.logger).With(
			zap.String("company_id", companyID),
			zap.String("session_id", req.SessionID),
		),
	}

	c.enter(domain.StateAggregating)
	if req.SessionID == "" {
		return c.fail(fmt.Errorf("%w: session id is required", domain.ErrInvalidInput))
	}
	billDay := s.today()
	if req.BillDate != nil {
		billDay = domain.Day(req.BillDate.In(s.location))
		if s.currentPeriod().Before(domain.PeriodOf(billDay)) {
			return c.fail(fmt.Errorf("%w: bill date %s", domain.ErrFuturePeriod, billDay.Format(domain.DayLayout)))
		}
	}

	sale, err := s.carts.Get(ctx, companyID, req.SessionID)
	if err != nil {
		return c.fail(err)
	}
	items, err := billing.Aggregate(sale.Lines)
	if err != nil {
		return c.fail(err)
	}

	guardKey := cache.SubmissionKey(companyID, *sale)
	acquired, err := s.guard.Acquire(ctx, guardKey, s.duplicateWindow)
	if err != nil {
		c.log.Warn("submission guard unavailable", zap.Error(err))
		acquired, guardKey = true, ""
	}
	if !acquired {
		return c.fail(domain.ErrDuplicateSubmission)
	}
	committed := false
	defer func() {
		if committed || guardKey == "" {
			return
		}
		if err := s.guard.Release(context.WithoutCancel(ctx), guardKey); err != nil {
			c.log.Warn("release submission guard", zap.Error(err))
		}
	}()

	c.enter(domain.StateClassifying)
	if items, err = s.classify(ctx, companyID, items); err != nil {
		return c.fail(err)
	}

	c.enter(domain.StatePacking)
	bins := billing.PackByCategory(items, s.caps)
	for _, bin := range bins {
		if bin.Overflow() {
			c.log.Info("item exceeds category cap on its own, billed alone",
				zap.String("category", bin.Category),
				zap.String("item_code", bin.Items[0].ItemCode),
				zap.String("volume_ml", bin.Volume().String()),
				zap.String("cap_ml", bin.Cap.String()),
			)
		}
	}

	c.enter(domain.StateAllocating)
	var bills []domain.Bill
	err = s.repo.WithTx(ctx, func(tx store.Tx) error {
		bills = make([]domain.Bill, 0, len(bins))
		createdAt := s.now().UTC()
		for _, bin := range bins {
			c.enter(domain.StateAllocating)
			bill := newBill(companyID, req, billDay, bin, createdAt)
			_, err := s.allocator.Assign(ctx, tx, companyID, func(number string) error {
				c.enter(domain.StatePersisting)
				bill.Number = number
				return tx.InsertBill(ctx, bill)
			})
			if err != nil {
				return err
			}
			bills = append(bills, bill)
		}

		c.enter(domain.StatePersisting)
		for _, move := range salesMovements(bins) {
			if _, err := s.applyMovement(ctx, tx, companyID, move.itemCode, billDay, 0, move.quantity); err != nil {
				return fmt.Errorf("apply sale %s: %w", move.itemCode, err)
			}
		}
		return nil
	})
	if err != nil {
		return c.fail(err)
	}

	committed = true
	c.enter(domain.StateCommitted)
	if err := s.carts.Delete(ctx, companyID, req.SessionID); err != nil {
		c.log.Warn("clear cart after checkout", zap.Error(err))
	}

	numbers := make([]string, 0, len(bills))
	for _, bill := range bills {
		numbers = append(numbers, bill.Number)
	}
	c.log.Info("checkout committed", zap.Int("bill_count", len(bills)), zap.Strings("bill_numbers", numbers))

	return domain.CheckoutResult{State: domain.StateCommitted, Bills: bills, BillCount: len(bills)}, nil
}

// classify replaces each item's category and unit volume with the catalog's.
// The cart keeps the price the customer was quoted.
func (s *Service) classify(ctx context.Context, companyID string, items []domain.AggregatedItem) ([]domain.AggregatedItem, error) {
	codes := make([]string, 0, len(items))
	for _, item := range items {
		codes = append(codes, item.ItemCode)
	}
	resolved, err := s.catalog.ResolveMany(ctx, companyID, codes)
	if err != nil {
		return nil, err
	}

	classified := make([]domain.AggregatedItem, 0, len(items))
	for _, item := range items {
		entry, ok := resolved[item.ItemCode]
		if !ok {
			return nil, fmt.Errorf("%w: %s", domain.ErrUnknownItem, item.ItemCode)
		}
		if entry.Category == "" || entry.UnitVolume.IsNegative() {
			return nil, fmt.Errorf("%w: %s has no usable category or volume", domain.ErrUnknownItem, item.ItemCode)
		}
		item.Category = entry.Category
		item.UnitVolume = entry.UnitVolume
		if item.DisplayName == "" {
			item.DisplayName = entry.DisplayName
		}
		if item.SizeLabel == "" {
			item.SizeLabel = entry.SizeLabel
		}
		classified = append(classified, item)
	}
	return classified, nil
}

func newBill(companyID string, req domain.CheckoutRequest, day time.Time, bin billing.Bin, createdAt time.Time) domain.Bill {
	bill := domain.Bill{
		ID:          uuid.NewString(),
		CompanyID:   companyID,
		Date:        day,
		CustomerID:  req.CustomerID,
		SessionID:   req.SessionID,
		Category:    bin.Category,
		Lines:       make([]domain.BillLine, 0, len(bin.Items)),
		TotalAmount: decimal.Zero,
		TotalVolume: decimal.Zero,
		CreatedAt:   createdAt,
	}
	for _, item := range bin.Items {
		line := domain.NewBillLine(item)
		bill.Lines = append(bill.Lines, line)
		bill.TotalAmount = bill.TotalAmount.Add(line.Amount)
		bill.TotalVolume = bill.TotalVolume.Add(line.Volume)
	}
	return bill
}

type saleMovement struct {
	itemCode string
	quantity int64
}

// salesMovements lists one movement per item per bin, ordered by item code
// so concurrent checkouts lock ledger rows in the same order.
func salesMovements(bins []billing.Bin) []saleMovement {
	moves := make([]saleMovement, 0, len(bins))
	for _, bin := range bins {
		for _, item := range bin.Items {
			moves = append(moves, saleMovement{itemCode: item.ItemCode, quantity: item.Quantity})
		}
	}
	slices.SortStableFunc(moves, func(a, b saleMovement) int {
		return cmp.Compare(a.itemCode, b.itemCode)
	})
	return moves
}

// IsCommitError reports whether err is a checkout failure and returns it.
func IsCommitError(err error) (*domain.CommitError, bool) {
	var commitErr *domain.CommitError
	ok := errors.As(err, &commitErr)
	return commitErr, ok
}
