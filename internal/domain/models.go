package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// LineItem is one scan or add-to-cart action. Several lines may share an
// item code; they are merged only at checkout.
type LineItem struct {
	ItemCode    string          `json:"item_code"`
	Quantity    int64           `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	UnitVolume  decimal.Decimal `json:"unit_volume_ml"`
	Category    string          `json:"category"`
	DisplayName string          `json:"display_name"`
	SizeLabel   string          `json:"size_label"`
	AddedAt     time.Time       `json:"added_at"`
}

type Cart struct {
	SessionID string     `json:"session_id"`
	CompanyID string     `json:"company_id"`
	Lines     []LineItem `json:"lines"`
	UpdatedAt time.Time  `json:"updated_at"`
}

func (c Cart) Empty() bool {
	return len(c.Lines) == 0
}

// CatalogItem is what the item catalog knows about a code.
type CatalogItem struct {
	CompanyID   string          `json:"company_id"`
	ItemCode    string          `json:"item_code"`
	Category    string          `json:"category"`
	UnitVolume  decimal.Decimal `json:"unit_volume_ml"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	DisplayName string          `json:"display_name"`
	SizeLabel   string          `json:"size_label"`
	Active      bool            `json:"active"`
}

// LineItem builds a cart line for qty units of the catalog item.
func (c CatalogItem) LineItem(qty int64, at time.Time) LineItem {
	return LineItem{
		ItemCode:    c.ItemCode,
		Quantity:    qty,
		UnitPrice:   c.UnitPrice,
		UnitVolume:  c.UnitVolume,
		Category:    c.Category,
		DisplayName: c.DisplayName,
		SizeLabel:   c.SizeLabel,
		AddedAt:     at,
	}
}

type AggregatedItem struct {
	ItemCode    string          `json:"item_code"`
	Category    string          `json:"category"`
	DisplayName string          `json:"display_name"`
	SizeLabel   string          `json:"size_label"`
	Quantity    int64           `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	UnitVolume  decimal.Decimal `json:"unit_volume_ml"`
}

func (a AggregatedItem) Volume() decimal.Decimal {
	return a.UnitVolume.Mul(decimal.NewFromInt(a.Quantity))
}

func (a AggregatedItem) Amount() decimal.Decimal {
	return a.UnitPrice.Mul(decimal.NewFromInt(a.Quantity))
}

type BillLine struct {
	ItemCode  string          `json:"code"`
	Name      string          `json:"name"`
	SizeLabel string          `json:"size_label,omitempty"`
	Quantity  int64           `json:"quantity"`
	Rate      decimal.Decimal `json:"rate"`
	Amount    decimal.Decimal `json:"amount"`
	Volume    decimal.Decimal `json:"volume_ml"`
}

type Bill struct {
	ID          string          `json:"id"`
	CompanyID   string          `json:"company_id"`
	Number      string          `json:"bill_number"`
	Date        time.Time       `json:"date"`
	CustomerID  string          `json:"customer_id,omitempty"`
	SessionID   string          `json:"session_id,omitempty"`
	Category    string          `json:"category"`
	Lines       []BillLine      `json:"items"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	TotalVolume decimal.Decimal `json:"total_volume_ml"`
	CreatedAt   time.Time       `json:"created_at"`
}

// NewBillLine converts an aggregated item into its persisted detail row.
func NewBillLine(item AggregatedItem) BillLine {
	return BillLine{
		ItemCode:  item.ItemCode,
		Name:      item.DisplayName,
		SizeLabel: item.SizeLabel,
		Quantity:  item.Quantity,
		Rate:      item.UnitPrice,
		Amount:    item.Amount(),
		Volume:    item.Volume(),
	}
}

type CheckoutRequest struct {
	CompanyID  string     `json:"company_id"`
	SessionID  string     `json:"session_id" validate:"required"`
	CustomerID string     `json:"customer_id,omitempty" validate:"omitempty,max=64"`
	BillDate   *time.Time `json:"bill_date,omitempty"`
}

type CheckoutResult struct {
	State     CommitState `json:"state"`
	Bills     []Bill      `json:"bills"`
	BillCount int         `json:"bill_count"`
}

type AddToCartRequest struct {
	ItemCode string `json:"item_code" validate:"required,max=64"`
	Quantity int64  `json:"quantity" validate:"required,min=1,max=1000"`
}

type SetQuantityRequest struct {
	Quantity int64 `json:"quantity" validate:"min=0,max=1000"`
}

type PurchaseRequest struct {
	ItemCode string `json:"item_code" validate:"required,max=64"`
	Date     string `json:"date,omitempty" validate:"omitempty,datetime=2006-01-02"`
	Quantity int64  `json:"quantity" validate:"required,min=1"`
}

type StockResponse struct {
	ItemCode string `json:"item_code"`
	AsOf     string `json:"as_of"`
	Quantity int64  `json:"quantity"`
}

type LedgerResponse struct {
	ItemCode string      `json:"item_code"`
	Days     []LedgerDay `json:"days"`
}

type ProvisionResult struct {
	Period     string `json:"period"`
	Items      int    `json:"items"`
	SlotsAdded int    `json:"slots_added"`
}

type RolloverResult struct {
	Periods   []string `json:"periods"`
	RowsMoved int      `json:"rows_moved"`
}

func (r RolloverResult) NoOp() bool {
	return len(r.Periods) == 0
}

type Actor struct {
	Username  string
	Role      string
	CompanyID string
}

const (
	RoleCashier = "cashier"
	RoleAdmin   = "admin"
)
