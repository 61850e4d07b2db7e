package domain

import (
	"fmt"
	"time"
)

const DayLayout = "2006-01-02"

// Period is a calendar month. Ledger partitions are scoped by period.
type Period struct {
	Year  int        `json:"year"`
	Month time.Month `json:"month"`
}

func PeriodOf(t time.Time) Period {
	return Period{Year: t.Year(), Month: t.Month()}
}

func (p Period) String() string {
	return fmt.Sprintf("%04d-%02d", p.Year, int(p.Month))
}

// First returns midnight UTC of the first day of the period.
func (p Period) First() time.Time {
	return time.Date(p.Year, p.Month, 1, 0, 0, 0, 0, time.UTC)
}

func (p Period) Last() time.Time {
	return p.First().AddDate(0, 1, -1)
}

func (p Period) Days() int {
	return p.Last().Day()
}

func (p Period) Prev() Period {
	return PeriodOf(p.First().AddDate(0, -1, 0))
}

func (p Period) Next() Period {
	return PeriodOf(p.First().AddDate(0, 1, 0))
}

func (p Period) Before(o Period) bool {
	if p.Year != o.Year {
		return p.Year < o.Year
	}
	return p.Month < o.Month
}

func (p Period) Contains(day time.Time) bool {
	return PeriodOf(day) == p
}

// Day normalizes t to a ledger day: the calendar date of t in its own
// location, expressed as midnight UTC.
func Day(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func ParseDay(raw string) (time.Time, error) {
	parsed, err := time.Parse(DayLayout, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: date %q", ErrInvalidInput, raw)
	}
	return parsed.UTC(), nil
}

// LedgerDay is one normalized ledger row: an item's stock movement on a day.
type LedgerDay struct {
	CompanyID string    `json:"company_id"`
	ItemCode  string    `json:"item_code"`
	Day       time.Time `json:"day"`
	Opening   int64     `json:"opening"`
	Purchase  int64     `json:"purchase"`
	Sales     int64     `json:"sales"`
	Closing   int64     `json:"closing"`
}

func NewLedgerDay(companyID, itemCode string, day time.Time, opening int64) LedgerDay {
	row := LedgerDay{
		CompanyID: companyID,
		ItemCode:  itemCode,
		Day:       Day(day),
		Opening:   opening,
	}
	row.Recompute()
	return row
}

// Recompute restores closing = opening + purchase - sales.
func (d *LedgerDay) Recompute() {
	d.Closing = d.Opening + d.Purchase - d.Sales
}

func (d LedgerDay) Balanced() bool {
	return d.Closing == d.Opening+d.Purchase-d.Sales
}

// Partition identifies where a period's ledger rows live. The current month
// is the live partition; every other month is an archive partition.
type Partition struct {
	CompanyID string    `json:"company_id"`
	Period    Period    `json:"period"`
	Archive   bool      `json:"archive"`
	CreatedAt time.Time `json:"created_at"`
}

func LivePartition(companyID string, period Period) Partition {
	return Partition{CompanyID: companyID, Period: period}
}

func ArchivePartition(companyID string, period Period) Partition {
	return Partition{CompanyID: companyID, Period: period, Archive: true}
}

func (p Partition) Kind() string {
	if p.Archive {
		return "archive"
	}
	return "live"
}
