// Package transaction persists a priced cart as one transaction header plus
// its service and product rows, then rewrites the header totals from the rows
// that were actually stored.
package transaction

import (
	"context"
	"errors"
	"fmt"

	"laundrypos/backend/internal/domain"
	"laundrypos/backend/internal/pricing"
)

var ErrEmptyTransaction = errors.New("transaction has no lines")

type Inserter interface {
	InsertTransaction(ctx context.Context, tx domain.Transaction) error
	InsertServiceLine(ctx context.Context, line domain.ServiceLine) error
	InsertProductLine(ctx context.Context, line domain.ProductLine) error
	RecomputeTotals(ctx context.Context, transactionID string) (domain.Totals, error)
}

// ServiceItem is a service cart entry resolved against the catalog.
type ServiceItem struct {
	ServiceID  string
	Quantity   int
	UnitPrice  int64
	IsFree     bool
	FeeAmount  int64
	IsWashType bool
}

type ProductItem struct {
	ProductID    string
	Quantity     int
	UnitPrice    int64
	IsFree       bool
	FreeQuantity *int
}

// ExplodeServices turns every unit of every service item into its own row of
// quantity 1 so each unit can be tracked on its own later.
func ExplodeServices(transactionID string, items []ServiceItem) []domain.ServiceLine {
	lines := make([]domain.ServiceLine, 0, len(items))
	for _, item := range items {
		for n := max(0, item.Quantity); n > 0; n-- {
			_, subtotal := pricing.Split(1, item.UnitPrice, nil, item.IsFree)
			fee := int64(0)
			if subtotal > 0 {
				fee = min(item.FeeAmount, subtotal)
			}
			lines = append(lines, domain.ServiceLine{
				TransactionID: transactionID,
				ServiceID:     item.ServiceID,
				Quantity:      1,
				UnitPrice:     item.UnitPrice,
				Subtotal:      subtotal,
				FeeComponent:  fee,
				IsWashType:    item.IsWashType,
			})
		}
	}
	return lines
}

// PriceProducts builds one row per product item; quantities are kept whole.
func PriceProducts(transactionID string, items []ProductItem) []domain.ProductLine {
	lines := make([]domain.ProductLine, 0, len(items))
	for _, item := range items {
		quantity := max(0, item.Quantity)
		paid, subtotal := pricing.Split(quantity, item.UnitPrice, item.FreeQuantity, item.IsFree)
		free := pricing.FreeQuantity(quantity, paid)
		lines = append(lines, domain.ProductLine{
			TransactionID: transactionID,
			ProductID:     item.ProductID,
			Quantity:      quantity,
			UnitPrice:     item.UnitPrice,
			Subtotal:      subtotal,
			IsFree:        free > 0,
			FreeQuantity:  free,
		})
	}
	return lines
}

// CountWashes reports the paid and free wash-type rows among lines. A paid
// wash has a nonzero subtotal; a free wash has a unit of quantity and a zero
// subtotal.
func CountWashes(lines []domain.ServiceLine) (paid int, free int) {
	for _, line := range lines {
		if !line.IsWashType || line.Quantity <= 0 {
			continue
		}
		if line.Subtotal > 0 {
			paid++
		} else {
			free++
		}
	}
	return paid, free
}

// Write stores header and rows through w and returns the transaction as
// persisted, with totals recomputed from the stored rows. Any failure leaves
// it to the caller to discard the unit of work.
func Write(ctx context.Context, w Inserter, header domain.Transaction, services []ServiceItem, products []ProductItem) (*domain.Transaction, error) {
	if header.ID == "" {
		return nil, fmt.Errorf("transaction id required")
	}

	serviceLines := ExplodeServices(header.ID, services)
	productLines := PriceProducts(header.ID, products)
	if len(serviceLines) == 0 && len(productLines) == 0 {
		return nil, ErrEmptyTransaction
	}

	// Provisional service-only totals; the recompute below is authoritative.
	header.Totals = pricing.Totals(serviceLines, nil)
	header.Services = nil
	header.Products = nil
	if err := w.InsertTransaction(ctx, header); err != nil {
		return nil, fmt.Errorf("insert transaction: %w", err)
	}

	for i, line := range serviceLines {
		if err := w.InsertServiceLine(ctx, line); err != nil {
			return nil, fmt.Errorf("insert service line %d (%s): %w", i, line.ServiceID, err)
		}
	}
	for i, line := range productLines {
		if err := w.InsertProductLine(ctx, line); err != nil {
			return nil, fmt.Errorf("insert product line %d (%s): %w", i, line.ProductID, err)
		}
	}

	totals, err := w.RecomputeTotals(ctx, header.ID)
	if err != nil {
		return nil, fmt.Errorf("recompute totals: %w", err)
	}

	written := header
	written.Totals = totals
	written.Services = serviceLines
	written.Products = productLines
	return &written, nil
}
