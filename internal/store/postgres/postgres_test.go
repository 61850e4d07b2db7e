package postgres

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"excisepos/backend/internal/domain"
	"excisepos/backend/internal/store"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewWithDB(db), mock
}

func sampleBill() domain.Bill {
	return domain.Bill{
		ID:          "b-1",
		CompanyID:   "c1",
		Number:      "INV000011",
		Date:        time.Date(2026, 10, 16, 0, 0, 0, 0, time.UTC),
		Category:    "SPIRIT",
		TotalAmount: decimal.NewFromInt(4500),
		TotalVolume: decimal.NewFromInt(3750),
		CreatedAt:   time.Date(2026, 10, 16, 9, 30, 0, 0, time.UTC),
		Lines: []domain.BillLine{{
			ItemCode: "WHS-750", Name: "Highland Whisky", Quantity: 5,
			Rate: decimal.NewFromInt(900), Amount: decimal.NewFromInt(4500), Volume: decimal.NewFromInt(3750),
		}},
	}
}

func TestInsertBillMapsUniqueViolationAndRollsBackSavepoint(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("SAVEPOINT bill_insert")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO bills")).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "bills_company_number_key"})
	mock.ExpectExec(regexp.QuoteMeta("ROLLBACK TO SAVEPOINT bill_insert")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := s.WithTx(ctx, func(tx store.Tx) error {
		return tx.InsertBill(ctx, sampleBill())
	})

	assert.ErrorIs(t, err, store.ErrDuplicateBillNumber)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertBillWritesHeaderAndLines(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()
	bill := sampleBill()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("SAVEPOINT bill_insert")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO bills")).
		WithArgs("b-1", "c1", "INV000011", bill.Date, nil, "", "SPIRIT", sqlmock.AnyArg(), sqlmock.AnyArg(), bill.CreatedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO bill_items")).
		WithArgs("b-1", 1, "WHS-750", "Highland Whisky", "", int64(5), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("RELEASE SAVEPOINT bill_insert")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	err := s.WithTx(ctx, func(tx store.Tx) error {
		return tx.InsertBill(ctx, bill)
	})

	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOtherInsertErrorsPassThrough(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()
	boom := errors.New("connection reset")

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("SAVEPOINT bill_insert")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO bills")).WillReturnError(boom)
	mock.ExpectExec(regexp.QuoteMeta("ROLLBACK TO SAVEPOINT bill_insert")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := s.WithTx(ctx, func(tx store.Tx) error {
		return tx.InsertBill(ctx, sampleBill())
	})

	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, store.ErrDuplicateBillNumber)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBillNumberQueries(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COALESCE(MAX(substr(bill_number, $3 + 1)::bigint), 0)")).
		WithArgs("c1", "INV", 3).
		WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(int64(10)))
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO bill_sequences")).
		WithArgs("c1", int64(11)).
		WillReturnRows(sqlmock.NewRows([]string{"last_value"}).AddRow(int64(11)))
	mock.ExpectCommit()

	err := s.WithTx(ctx, func(tx store.Tx) error {
		highest, err := tx.MaxBillSuffix(ctx, "c1", "INV")
		require.NoError(t, err)
		assert.Equal(t, int64(10), highest)

		next, err := tx.BumpBillSequence(ctx, "c1", highest+1)
		require.NoError(t, err)
		assert.Equal(t, int64(11), next)
		return nil
	})

	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLedgerDayNotFound(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()
	day := time.Date(2026, 10, 5, 0, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM stock_ledger_archive")).
		WithArgs("c1", "X", day).
		WillReturnRows(sqlmock.NewRows([]string{"company_id", "item_code", "day", "opening", "purchase", "sales", "closing"}))
	mock.ExpectRollback()

	err := s.WithTx(ctx, func(tx store.Tx) error {
		_, err := tx.GetLedgerDay(ctx, domain.ArchivePartition("c1", domain.PeriodOf(day)), "X", day)
		return err
	})

	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertLedgerDayIfMissingReportsConflict(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()
	day := time.Date(2026, 10, 5, 0, 0, 0, 0, time.UTC)
	row := domain.NewLedgerDay("c1", "X", day, 12)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO stock_ledger (")).
		WithArgs("c1", "X", day, int64(12), int64(0), int64(0), int64(12)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	var inserted bool
	err := s.WithTx(ctx, func(tx store.Tx) error {
		var err error
		inserted, err = tx.InsertLedgerDayIfMissing(ctx, domain.LivePartition("c1", domain.PeriodOf(day)), row)
		return err
	})

	require.NoError(t, err)
	assert.False(t, inserted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestArchiveLivePeriodCopiesThenDeletes(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()
	period := domain.Period{Year: 2026, Month: time.September}

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO stock_ledger_archive")).
		WithArgs("c1", 2026, 9, period.First(), period.Last()).
		WillReturnResult(sqlmock.NewResult(0, 4))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM stock_ledger")).
		WithArgs("c1", period.First(), period.Last()).
		WillReturnResult(sqlmock.NewResult(0, 4))
	mock.ExpectCommit()

	var moved int
	err := s.WithTx(ctx, func(tx store.Tx) error {
		var err error
		moved, err = tx.ArchiveLivePeriod(ctx, "c1", period)
		return err
	})

	require.NoError(t, err)
	assert.Equal(t, 4, moved)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStaleLivePeriods(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()
	current := domain.Period{Year: 2026, Month: time.October}

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM stock_ledger")).
		WithArgs("c1", current.First()).
		WillReturnRows(sqlmock.NewRows([]string{"year", "month"}).AddRow(2026, 8).AddRow(2026, 9))
	mock.ExpectCommit()

	var periods []domain.Period
	err := s.WithTx(ctx, func(tx store.Tx) error {
		var err error
		periods, err = tx.StaleLivePeriods(ctx, "c1", current)
		return err
	})

	require.NoError(t, err)
	assert.Equal(t, []domain.Period{{Year: 2026, Month: time.August}, {Year: 2026, Month: time.September}}, periods)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindBillNotFound(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM bills")).
		WithArgs("c1", "INV404").
		WillReturnError(sql.ErrNoRows)

	_, err := s.FindBill(context.Background(), "c1", "INV404")

	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestListLedgerDaysReadsWithoutLocking(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()
	part := domain.LivePartition("c1", domain.Period{Year: 2026, Month: time.October})
	columns := []string{"company_id", "item_code", "day", "opening", "purchase", "sales", "closing"}
	day := time.Date(2026, 10, 5, 0, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM stock_ledger WHERE .* ORDER BY day$`).
		WithArgs("c1", "X", part.Period.First(), part.Period.Last()).
		WillReturnRows(sqlmock.NewRows(columns).AddRow("c1", "X", day, int64(0), int64(4), int64(1), int64(3)))
	mock.ExpectQuery(`FROM stock_ledger WHERE .* ORDER BY day FOR UPDATE$`).
		WithArgs("c1", "X", part.Period.First(), part.Period.Last()).
		WillReturnRows(sqlmock.NewRows(columns))
	mock.ExpectCommit()

	err := s.WithTx(ctx, func(tx store.Tx) error {
		rows, err := tx.ListLedgerDays(ctx, part, "X", part.Period.First(), part.Period.Last())
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, int64(3), rows[0].Closing)

		locked, err := tx.LockLedgerDays(ctx, part, "X", part.Period.First(), part.Period.Last())
		require.NoError(t, err)
		assert.Empty(t, locked)
		return nil
	})

	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
