// Package pricing holds the pure arithmetic of a cart: the paid/free split of
// a single line and the aggregation of persisted lines into header totals.
package pricing

import "laundrypos/backend/internal/domain"

// Split returns the charged quantity and subtotal of a cart line.
//
// An isFree line without an explicit free quantity is free in full. An
// explicit free quantity is honoured whether or not isFree is set, and is
// capped at the line quantity. Neither result is ever negative.
func Split(quantity int, unitPrice int64, freeQuantity *int, isFree bool) (int, int64) {
	if quantity < 0 {
		quantity = 0
	}
	if unitPrice < 0 {
		unitPrice = 0
	}

	free := 0
	switch {
	case freeQuantity != nil:
		free = *freeQuantity
	case isFree:
		free = quantity
	}
	if free < 0 {
		free = 0
	}

	paid := quantity - free
	if paid < 0 {
		paid = 0
	}
	return paid, unitPrice * int64(paid)
}

// FreeQuantity is the portion of quantity given away once paid is known.
func FreeQuantity(quantity int, paid int) int {
	if quantity <= paid {
		return 0
	}
	return quantity - paid
}

// Totals sums line subtotals into the header aggregates. It is a pure function
// of the lines, so recomputing from the same rows always yields the same result.
func Totals(services []domain.ServiceLine, products []domain.ProductLine) domain.Totals {
	var totals domain.Totals
	for _, line := range services {
		totals.ServiceAmount += line.Subtotal
	}
	for _, line := range products {
		totals.ProductAmount += line.Subtotal
	}
	totals.TotalAmount = totals.ServiceAmount + totals.ProductAmount
	return totals
}
