package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"excisepos/backend/internal/domain"
	"excisepos/backend/internal/store"
)

type Options struct {
	MaxOpenConns int
	MaxIdleConns int
}

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string, opts Options) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	if opts.MaxOpenConns <= 0 {
		opts.MaxOpenConns = 30
	}
	if opts.MaxIdleConns <= 0 {
		opts.MaxIdleConns = 8
	}
	db.SetMaxIdleConns(opts.MaxIdleConns)
	db.SetMaxOpenConns(opts.MaxOpenConns)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// NewWithDB wraps an open handle.
func NewWithDB(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Close() error {
	return s.db.Close()
}

// WithTx runs fn in a read committed transaction. Bill numbering is
// serialized per company by the bill_sequences row lock and ledger rows are
// locked as they are read for update.
func (s *Store) WithTx(ctx context.Context, fn func(tx store.Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return err
	}
	defer func() { _ = sqlTx.Rollback() }()

	if err := fn(&pgTx{tx: sqlTx}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

func (s *Store) GetCatalogItems(ctx context.Context, companyID string, codes []string) (map[string]domain.CatalogItem, error) {
	items := make(map[string]domain.CatalogItem, len(codes))
	if len(codes) == 0 {
		return items, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT company_id, item_code, category, unit_volume_ml, unit_price, display_name, size_label, active
		FROM catalog_items
		WHERE company_id = $1 AND item_code = ANY($2)
	`, companyID, codes)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var item domain.CatalogItem
		if err := rows.Scan(&item.CompanyID, &item.ItemCode, &item.Category, &item.UnitVolume, &item.UnitPrice,
			&item.DisplayName, &item.SizeLabel, &item.Active); err != nil {
			return nil, err
		}
		items[item.ItemCode] = item
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) UpsertCatalogItem(ctx context.Context, item domain.CatalogItem) error {
	if item.CompanyID == "" || item.ItemCode == "" || item.Category == "" {
		return store.ErrInvalidTransaction
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO catalog_items (company_id, item_code, category, unit_volume_ml, unit_price, display_name, size_label, active, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,now())
		ON CONFLICT (company_id, item_code)
		DO UPDATE SET category = EXCLUDED.category,
			unit_volume_ml = EXCLUDED.unit_volume_ml,
			unit_price = EXCLUDED.unit_price,
			display_name = EXCLUDED.display_name,
			size_label = EXCLUDED.size_label,
			active = EXCLUDED.active,
			updated_at = now()
	`, item.CompanyID, item.ItemCode, item.Category, item.UnitVolume, item.UnitPrice, item.DisplayName, item.SizeLabel, item.Active)
	return err
}

const billColumns = `id, company_id, bill_number, bill_date, COALESCE(customer_id, ''), session_id,
	category, total_amount, total_volume_ml, created_at`

func (s *Store) FindBill(ctx context.Context, companyID string, number string) (*domain.Bill, error) {
	var bill domain.Bill
	err := scanBill(s.db.QueryRowContext(ctx, `
		SELECT `+billColumns+`
		FROM bills
		WHERE company_id = $1 AND bill_number = $2
	`, companyID, number), &bill)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	bills := []domain.Bill{bill}
	if err := s.attachBillLines(ctx, bills); err != nil {
		return nil, err
	}
	return &bills[0], nil
}

func (s *Store) ListBills(ctx context.Context, companyID string, day time.Time) ([]domain.Bill, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+billColumns+`
		FROM bills
		WHERE company_id = $1 AND bill_date = $2
		ORDER BY created_at, bill_number
	`, companyID, domain.Day(day))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	bills := make([]domain.Bill, 0, 32)
	for rows.Next() {
		var bill domain.Bill
		if err := scanBill(rows, &bill); err != nil {
			return nil, err
		}
		bills = append(bills, bill)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := s.attachBillLines(ctx, bills); err != nil {
		return nil, err
	}
	return bills, nil
}

func (s *Store) attachBillLines(ctx context.Context, bills []domain.Bill) error {
	if len(bills) == 0 {
		return nil
	}
	index := make(map[string]int, len(bills))
	ids := make([]string, 0, len(bills))
	for i, bill := range bills {
		index[bill.ID] = i
		ids = append(ids, bill.ID)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT bill_id, item_code, item_name, size_label, quantity, rate, amount, volume_ml
		FROM bill_items
		WHERE bill_id = ANY($1)
		ORDER BY bill_id, line_no
	`, ids)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var billID string
		var line domain.BillLine
		if err := rows.Scan(&billID, &line.ItemCode, &line.Name, &line.SizeLabel, &line.Quantity,
			&line.Rate, &line.Amount, &line.Volume); err != nil {
			return err
		}
		if i, ok := index[billID]; ok {
			bills[i].Lines = append(bills[i].Lines, line)
		}
	}
	return rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBill(row rowScanner, bill *domain.Bill) error {
	return row.Scan(&bill.ID, &bill.CompanyID, &bill.Number, &bill.Date, &bill.CustomerID, &bill.SessionID,
		&bill.Category, &bill.TotalAmount, &bill.TotalVolume, &bill.CreatedAt)
}

type pgTx struct {
	tx *sql.Tx
}

func (t *pgTx) MaxBillSuffix(ctx context.Context, companyID string, prefix string) (int64, error) {
	var highest int64
	err := t.tx.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(substr(bill_number, $3 + 1)::bigint), 0)
		FROM bills
		WHERE company_id = $1
			AND left(bill_number, $3) = $2
			AND substr(bill_number, $3 + 1) ~ '^[0-9]{1,18}$'
	`, companyID, prefix, utf8.RuneCountInString(prefix)).Scan(&highest)
	return highest, err
}

func (t *pgTx) BumpBillSequence(ctx context.Context, companyID string, floor int64) (int64, error) {
	var next int64
	err := t.tx.QueryRowContext(ctx, `
		INSERT INTO bill_sequences (company_id, last_value, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (company_id)
		DO UPDATE SET last_value = GREATEST(bill_sequences.last_value + 1, EXCLUDED.last_value), updated_at = now()
		RETURNING last_value
	`, companyID, floor).Scan(&next)
	return next, err
}

// InsertBill runs inside a savepoint so that a duplicate number leaves the
// surrounding transaction usable for the retry.
func (t *pgTx) InsertBill(ctx context.Context, bill domain.Bill) error {
	if bill.ID == "" || bill.CompanyID == "" || bill.Number == "" {
		return store.ErrInvalidTransaction
	}
	if _, err := t.tx.ExecContext(ctx, `SAVEPOINT bill_insert`); err != nil {
		return err
	}

	if err := t.insertBill(ctx, bill); err != nil {
		if _, rbErr := t.tx.ExecContext(ctx, `ROLLBACK TO SAVEPOINT bill_insert`); rbErr != nil {
			return fmt.Errorf("rollback bill insert: %w", rbErr)
		}
		if isUniqueViolation(err) {
			return store.ErrDuplicateBillNumber
		}
		return err
	}

	_, err := t.tx.ExecContext(ctx, `RELEASE SAVEPOINT bill_insert`)
	return err
}

func (t *pgTx) insertBill(ctx context.Context, bill domain.Bill) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO bills (id, company_id, bill_number, bill_date, customer_id, session_id, category,
			total_amount, total_volume_ml, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, bill.ID, bill.CompanyID, bill.Number, domain.Day(bill.Date), nullIfEmpty(bill.CustomerID), bill.SessionID,
		bill.Category, bill.TotalAmount, bill.TotalVolume, bill.CreatedAt)
	if err != nil {
		return err
	}

	for i, line := range bill.Lines {
		if _, err := t.tx.ExecContext(ctx, `
			INSERT INTO bill_items (bill_id, line_no, item_code, item_name, size_label, quantity, rate, amount, volume_ml)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		`, bill.ID, i+1, line.ItemCode, line.Name, line.SizeLabel, line.Quantity, line.Rate, line.Amount, line.Volume); err != nil {
			return err
		}
	}
	return nil
}

const ledgerColumns = `company_id, item_code, day, opening, purchase, sales, closing`

func ledgerTable(part domain.Partition) string {
	if part.Archive {
		return "stock_ledger_archive"
	}
	return "stock_ledger"
}

func scanLedgerDay(row rowScanner) (domain.LedgerDay, error) {
	var d domain.LedgerDay
	err := row.Scan(&d.CompanyID, &d.ItemCode, &d.Day, &d.Opening, &d.Purchase, &d.Sales, &d.Closing)
	d.Day = domain.Day(d.Day)
	return d, err
}

func (t *pgTx) GetLedgerDay(ctx context.Context, part domain.Partition, itemCode string, day time.Time) (*domain.LedgerDay, error) {
	row, err := scanLedgerDay(t.tx.QueryRowContext(ctx, `
		SELECT `+ledgerColumns+`
		FROM `+ledgerTable(part)+`
		WHERE company_id = $1 AND item_code = $2 AND day = $3
		FOR UPDATE
	`, part.CompanyID, itemCode, domain.Day(day)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &row, nil
}

func (t *pgTx) LatestLedgerDayBefore(ctx context.Context, companyID string, itemCode string, day time.Time) (*domain.LedgerDay, error) {
	return t.latestLedgerDay(ctx, companyID, itemCode, "<", day)
}

func (t *pgTx) LatestLedgerDayAtOrBefore(ctx context.Context, companyID string, itemCode string, day time.Time) (*domain.LedgerDay, error) {
	return t.latestLedgerDay(ctx, companyID, itemCode, "<=", day)
}

// latestLedgerDay prefers the live row when both tables hold the same day.
func (t *pgTx) latestLedgerDay(ctx context.Context, companyID string, itemCode string, op string, day time.Time) (*domain.LedgerDay, error) {
	query := fmt.Sprintf(`
		SELECT %[1]s FROM (
			(SELECT %[1]s, 0 AS source FROM stock_ledger
				WHERE company_id = $1 AND item_code = $2 AND day %[2]s $3
				ORDER BY day DESC LIMIT 1)
			UNION ALL
			(SELECT %[1]s, 1 AS source FROM stock_ledger_archive
				WHERE company_id = $1 AND item_code = $2 AND day %[2]s $3
				ORDER BY day DESC LIMIT 1)
		) candidates
		ORDER BY day DESC, source
		LIMIT 1
	`, ledgerColumns, op)

	row, err := scanLedgerDay(t.tx.QueryRowContext(ctx, query, companyID, itemCode, domain.Day(day)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &row, nil
}

func (t *pgTx) ListLedgerDays(ctx context.Context, part domain.Partition, itemCode string, from time.Time, to time.Time) ([]domain.LedgerDay, error) {
	return t.listLedgerDays(ctx, part, itemCode, from, to, "")
}

func (t *pgTx) LockLedgerDays(ctx context.Context, part domain.Partition, itemCode string, from time.Time, to time.Time) ([]domain.LedgerDay, error) {
	return t.listLedgerDays(ctx, part, itemCode, from, to, "FOR UPDATE")
}

func (t *pgTx) listLedgerDays(ctx context.Context, part domain.Partition, itemCode string, from time.Time, to time.Time, lock string) ([]domain.LedgerDay, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT `+ledgerColumns+`
		FROM `+ledgerTable(part)+`
		WHERE company_id = $1 AND item_code = $2 AND day BETWEEN $3 AND $4
		ORDER BY day
		`+lock, part.CompanyID, itemCode, domain.Day(from), domain.Day(to))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	days := make([]domain.LedgerDay, 0, 31)
	for rows.Next() {
		row, err := scanLedgerDay(rows)
		if err != nil {
			return nil, err
		}
		days = append(days, row)
	}
	return days, rows.Err()
}

func (t *pgTx) InsertLedgerDayIfMissing(ctx context.Context, part domain.Partition, row domain.LedgerDay) (bool, error) {
	res, err := t.writeLedgerDay(ctx, part, row, `DO NOTHING`)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (t *pgTx) SaveLedgerDay(ctx context.Context, part domain.Partition, row domain.LedgerDay) error {
	_, err := t.writeLedgerDay(ctx, part, row, `DO UPDATE SET
		opening = EXCLUDED.opening,
		purchase = EXCLUDED.purchase,
		sales = EXCLUDED.sales,
		closing = EXCLUDED.closing,
		updated_at = now()`)
	return err
}

func (t *pgTx) writeLedgerDay(ctx context.Context, part domain.Partition, row domain.LedgerDay, onConflict string) (sql.Result, error) {
	day := domain.Day(row.Day)
	if part.Archive {
		return t.tx.ExecContext(ctx, `
			INSERT INTO stock_ledger_archive (`+ledgerColumns+`, period_year, period_month, updated_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,now())
			ON CONFLICT (company_id, item_code, day) `+onConflict,
			part.CompanyID, row.ItemCode, day, row.Opening, row.Purchase, row.Sales, row.Closing,
			part.Period.Year, int(part.Period.Month))
	}
	return t.tx.ExecContext(ctx, `
		INSERT INTO stock_ledger (`+ledgerColumns+`, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,now())
		ON CONFLICT (company_id, item_code, day) `+onConflict,
		part.CompanyID, row.ItemCode, day, row.Opening, row.Purchase, row.Sales, row.Closing)
}

func (t *pgTx) LedgerItemCodes(ctx context.Context, companyID string) ([]string, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT item_code FROM stock_ledger WHERE company_id = $1
		UNION
		SELECT item_code FROM stock_ledger_archive WHERE company_id = $1
		ORDER BY 1
	`, companyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	codes := make([]string, 0, 64)
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, err
		}
		codes = append(codes, code)
	}
	return codes, rows.Err()
}

func (t *pgTx) GetPartition(ctx context.Context, companyID string, period domain.Period) (*domain.Partition, error) {
	part := domain.Partition{CompanyID: companyID, Period: period}
	err := t.tx.QueryRowContext(ctx, `
		SELECT archived, created_at
		FROM ledger_partitions
		WHERE company_id = $1 AND period_year = $2 AND period_month = $3
	`, companyID, period.Year, int(period.Month)).Scan(&part.Archive, &part.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &part, nil
}

func (t *pgTx) SavePartition(ctx context.Context, part domain.Partition) error {
	createdAt := part.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO ledger_partitions (company_id, period_year, period_month, archived, created_at, archived_at)
		VALUES ($1,$2,$3,$4,$5, CASE WHEN $4 THEN now() END)
		ON CONFLICT (company_id, period_year, period_month)
		DO UPDATE SET archived = EXCLUDED.archived,
			archived_at = CASE WHEN EXCLUDED.archived THEN COALESCE(ledger_partitions.archived_at, now()) END
	`, part.CompanyID, part.Period.Year, int(part.Period.Month), part.Archive, createdAt)
	return err
}

func (t *pgTx) StaleLivePeriods(ctx context.Context, companyID string, current domain.Period) ([]domain.Period, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT DISTINCT EXTRACT(YEAR FROM day)::int, EXTRACT(MONTH FROM day)::int
		FROM stock_ledger
		WHERE company_id = $1 AND day < $2
		ORDER BY 1, 2
	`, companyID, current.First())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	periods := make([]domain.Period, 0, 2)
	for rows.Next() {
		var year, month int
		if err := rows.Scan(&year, &month); err != nil {
			return nil, err
		}
		periods = append(periods, domain.Period{Year: year, Month: time.Month(month)})
	}
	return periods, rows.Err()
}

func (t *pgTx) ArchiveLivePeriod(ctx context.Context, companyID string, period domain.Period) (int, error) {
	if _, err := t.tx.ExecContext(ctx, `
		INSERT INTO stock_ledger_archive (`+ledgerColumns+`, period_year, period_month, updated_at)
		SELECT `+ledgerColumns+`, $2, $3, now()
		FROM stock_ledger
		WHERE company_id = $1 AND day BETWEEN $4 AND $5
		ON CONFLICT (company_id, item_code, day) DO NOTHING
	`, companyID, period.Year, int(period.Month), period.First(), period.Last()); err != nil {
		return 0, fmt.Errorf("copy %s to archive: %w", period, err)
	}

	res, err := t.tx.ExecContext(ctx, `
		DELETE FROM stock_ledger
		WHERE company_id = $1 AND day BETWEEN $2 AND $3
	`, companyID, period.First(), period.Last())
	if err != nil {
		return 0, fmt.Errorf("clear live %s: %w", period, err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}
