package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"excisepos/backend/internal/domain"
)

const maxCartLines = 200

// OpenCart starts an empty cart under a new session id.
func (s *Service) OpenCart(ctx context.Context, companyID string) (domain.Cart, error) {
	sale := domain.Cart{
		SessionID: uuid.NewString(),
		CompanyID: s.companyFor(ctx, companyID),
		Lines:     []domain.LineItem{},
		UpdatedAt: s.now().UTC(),
	}
	if err := s.carts.Save(ctx, sale); err != nil {
		return domain.Cart{}, err
	}
	return sale, nil
}

func (s *Service) GetCart(ctx context.Context, companyID string, sessionID string) (domain.Cart, error) {
	sale, err := s.carts.Get(ctx, s.companyFor(ctx, companyID), strings.TrimSpace(sessionID))
	if err != nil {
		return domain.Cart{}, err
	}
	return *sale, nil
}

// AddToCart appends one line for the scanned item. Repeated scans of the same
// code stay separate lines until checkout merges them.
func (s *Service) AddToCart(ctx context.Context, companyID string, sessionID string, req domain.AddToCartRequest) (domain.Cart, error) {
	companyID = s.companyFor(ctx, companyID)
	if req.Quantity < 1 {
		return domain.Cart{}, fmt.Errorf("%w: quantity must be positive", domain.ErrInvalidInput)
	}
	item, err := s.catalog.Resolve(ctx, companyID, req.ItemCode)
	if err != nil {
		return domain.Cart{}, err
	}

	sale, err := s.loadOrStartCart(ctx, companyID, sessionID)
	if err != nil {
		return domain.Cart{}, err
	}
	if len(sale.Lines) >= maxCartLines {
		return domain.Cart{}, fmt.Errorf("%w: cart holds at most %d lines", domain.ErrInvalidInput, maxCartLines)
	}
	now := s.now().UTC()
	sale.Lines = append(sale.Lines, item.LineItem(req.Quantity, now))
	sale.UpdatedAt = now
	if err := s.carts.Save(ctx, sale); err != nil {
		return domain.Cart{}, err
	}
	return sale, nil
}

// SetQuantity replaces every line of the code with a single line of qty
// units. Zero removes the code from the cart.
func (s *Service) SetQuantity(ctx context.Context, companyID string, sessionID string, itemCode string, qty int64) (domain.Cart, error) {
	companyID = s.companyFor(ctx, companyID)
	itemCode = normalizeCode(itemCode)
	if itemCode == "" || qty < 0 {
		return domain.Cart{}, fmt.Errorf("%w: item code and a non-negative quantity are required", domain.ErrInvalidInput)
	}

	stored, err := s.carts.Get(ctx, companyID, strings.TrimSpace(sessionID))
	if err != nil {
		return domain.Cart{}, err
	}
	sale := *stored

	kept := make([]domain.LineItem, 0, len(sale.Lines))
	position := -1
	for _, line := range sale.Lines {
		if line.ItemCode == itemCode {
			if position < 0 {
				position = len(kept)
			}
			continue
		}
		kept = append(kept, line)
	}

	now := s.now().UTC()
	if qty > 0 {
		item, err := s.catalog.Resolve(ctx, companyID, itemCode)
		if err != nil {
			return domain.Cart{}, err
		}
		if position < 0 {
			position = len(kept)
		}
		kept = append(kept[:position], append([]domain.LineItem{item.LineItem(qty, now)}, kept[position:]...)...)
	}
	sale.Lines = kept
	sale.UpdatedAt = now
	if err := s.carts.Save(ctx, sale); err != nil {
		return domain.Cart{}, err
	}
	return sale, nil
}

func (s *Service) RemoveItem(ctx context.Context, companyID string, sessionID string, itemCode string) (domain.Cart, error) {
	return s.SetQuantity(ctx, companyID, sessionID, itemCode, 0)
}

func (s *Service) ClearCart(ctx context.Context, companyID string, sessionID string) error {
	return s.carts.Delete(ctx, s.companyFor(ctx, companyID), strings.TrimSpace(sessionID))
}

func (s *Service) loadOrStartCart(ctx context.Context, companyID string, sessionID string) (domain.Cart, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return domain.Cart{}, fmt.Errorf("%w: session id is required", domain.ErrInvalidInput)
	}
	stored, err := s.carts.Get(ctx, companyID, sessionID)
	if errors.Is(err, domain.ErrCartNotFound) {
		return domain.Cart{SessionID: sessionID, CompanyID: companyID, Lines: []domain.LineItem{}}, nil
	}
	if err != nil {
		return domain.Cart{}, err
	}
	return *stored, nil
}

// FindBill returns a stored bill for receipt reprints.
func (s *Service) FindBill(ctx context.Context, companyID string, number string) (domain.Bill, error) {
	number = strings.TrimSpace(number)
	if number == "" {
		return domain.Bill{}, fmt.Errorf("%w: bill number is required", domain.ErrInvalidInput)
	}
	bill, err := s.repo.FindBill(ctx, s.companyFor(ctx, companyID), number)
	if err != nil {
		return domain.Bill{}, err
	}
	return *bill, nil
}

func (s *Service) ListBills(ctx context.Context, companyID string, date string) ([]domain.Bill, error) {
	day, err := s.dayOrToday(date)
	if err != nil {
		return nil, err
	}
	bills, err := s.repo.ListBills(ctx, s.companyFor(ctx, companyID), day)
	if err != nil {
		return nil, err
	}
	if bills == nil {
		bills = []domain.Bill{}
	}
	return bills, nil
}

// UpsertCatalogItem is used by operators and seeding.
func (s *Service) UpsertCatalogItem(ctx context.Context, item domain.CatalogItem) error {
	item.CompanyID = s.companyFor(ctx, item.CompanyID)
	item.ItemCode = normalizeCode(item.ItemCode)
	item.Category = strings.ToUpper(strings.TrimSpace(item.Category))
	if item.ItemCode == "" || item.Category == "" || item.UnitVolume.IsNegative() || item.UnitPrice.IsNegative() {
		return fmt.Errorf("%w: item code, category and non-negative volume and price are required", domain.ErrInvalidInput)
	}
	if upserter, ok := s.catalog.(interface {
		Upsert(context.Context, domain.CatalogItem) error
	}); ok {
		return upserter.Upsert(ctx, item)
	}
	return s.repo.UpsertCatalogItem(ctx, item)
}
