package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"excisepos/backend/internal/domain"
	"excisepos/backend/internal/store"
)

const DefaultMaxAttempts = 3

// Allocator hands out bill numbers inside a checkout transaction. The next
// number is the larger of (highest stored sequence + 1) and the company's
// counter row advanced by one, so it only ever grows.
type Allocator struct {
	Format      NumberFormat
	MaxAttempts int
	Now         func() time.Time
	Logger      *zap.Logger
}

func NewAllocator(format NumberFormat, maxAttempts int, logger *zap.Logger) *Allocator {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Allocator{Format: format.withDefaults(), MaxAttempts: maxAttempts, Now: time.Now, Logger: logger}
}

// Allocate returns the next canonical number for the company.
func (a *Allocator) Allocate(ctx context.Context, tx store.Tx, companyID string) (string, error) {
	maxSeq, err := tx.MaxBillSuffix(ctx, companyID, a.Format.Prefix)
	if err != nil {
		return "", fmt.Errorf("read highest bill number: %w", err)
	}
	seq, err := tx.BumpBillSequence(ctx, companyID, maxSeq+1)
	if err != nil {
		return "", fmt.Errorf("advance bill sequence: %w", err)
	}
	return a.Format.Format(seq), nil
}

func (a *Allocator) Fallback() string {
	return a.Format.Fallback(a.Now())
}

// Assign allocates a number and calls insert with it. A duplicate number is
// retried with a fresh allocation up to MaxAttempts times, then once with a
// fallback number. Any other error is returned as is.
func (a *Allocator) Assign(ctx context.Context, tx store.Tx, companyID string, insert func(number string) error) (string, error) {
	for attempt := 1; attempt <= a.MaxAttempts; attempt++ {
		number, err := a.Allocate(ctx, tx, companyID)
		if err != nil {
			return "", err
		}
		err = insert(number)
		if err == nil {
			return number, nil
		}
		if !errors.Is(err, store.ErrDuplicateBillNumber) {
			return "", err
		}
		a.Logger.Warn("bill number taken, retrying",
			zap.String("company_id", companyID),
			zap.String("bill_number", number),
			zap.Int("attempt", attempt),
		)
	}

	number := a.Fallback()
	a.Logger.Warn("bill number retries exhausted, using fallback",
		zap.String("company_id", companyID),
		zap.String("bill_number", number),
	)
	if err := insert(number); err != nil {
		if errors.Is(err, store.ErrDuplicateBillNumber) {
			return "", fmt.Errorf("%w: fallback %s also taken", domain.ErrBillNumberExhausted, number)
		}
		return "", err
	}
	return number, nil
}
