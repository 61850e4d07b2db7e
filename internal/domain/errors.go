package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidInput        = errors.New("invalid input")
	ErrEmptyCart           = errors.New("cart is empty")
	ErrUnknownItem         = errors.New("unknown item")
	ErrLineMismatch        = errors.New("cart lines disagree on item attributes")
	ErrBillNumberExhausted = errors.New("bill number retries exhausted")
	ErrDuplicateSubmission = errors.New("duplicate submission")
	ErrFuturePeriod        = errors.New("ledger date is in a future period")
	ErrCartNotFound        = errors.New("cart not found")
)

// Kind classifies a failure for callers.
type Kind string

const (
	KindValidation  Kind = "validation"
	KindConflict    Kind = "conflict"
	KindPersistence Kind = "persistence"
)

// KindOf reports how err should be treated. Unknown errors are persistence
// failures.
func KindOf(err error) Kind {
	var commitErr *CommitError
	if errors.As(err, &commitErr) {
		return commitErr.Kind
	}
	switch {
	case errors.Is(err, ErrInvalidInput),
		errors.Is(err, ErrEmptyCart),
		errors.Is(err, ErrUnknownItem),
		errors.Is(err, ErrLineMismatch),
		errors.Is(err, ErrFuturePeriod),
		errors.Is(err, ErrCartNotFound):
		return KindValidation
	case errors.Is(err, ErrBillNumberExhausted),
		errors.Is(err, ErrDuplicateSubmission):
		return KindConflict
	default:
		return KindPersistence
	}
}

type CommitState string

const (
	StateIdle        CommitState = "idle"
	StateAggregating CommitState = "aggregating"
	StateClassifying CommitState = "classifying"
	StatePacking     CommitState = "packing"
	StateAllocating  CommitState = "allocating"
	StatePersisting  CommitState = "persisting"
	StateCommitted   CommitState = "committed"
	StateRolledBack  CommitState = "rolled_back"
)

func (s CommitState) String() string {
	return string(s)
}

// CommitError is the single aggregate error of a failed checkout. State is
// the stage that failed.
type CommitError struct {
	State CommitState
	Kind  Kind
	Err   error
}

func NewCommitError(state CommitState, err error) *CommitError {
	return &CommitError{State: state, Kind: KindOf(err), Err: err}
}

func (e *CommitError) Error() string {
	return fmt.Sprintf("checkout failed while %s (%s): %v", e.State, e.Kind, e.Err)
}

func (e *CommitError) Unwrap() error {
	return e.Err
}
