// Package inventory reserves per-branch product stock inside a unit of work.
//
// A reservation is a single conditional decrement: the availability check and
// the write are one storage operation, so concurrent cashiers at the same
// branch can never drive a stock row below zero.
package inventory

import (
	"context"
	"errors"
	"fmt"

	"laundrypos/backend/internal/store"
)

var ErrProductNotFound = errors.New("product not stocked at branch")

type Decrementer interface {
	DecrementStock(ctx context.Context, branchID string, productID string, qty int) (int, error)
}

type Request struct {
	ProductID string
	Quantity  int
}

type Reservation struct {
	ProductID string
	Quantity  int
	Remaining int
}

// Reserve takes qty units of productID at branchID. Failures are
// ErrProductNotFound or a *store.InsufficientStockError, which matches
// store.ErrInsufficientStock under errors.Is.
func Reserve(ctx context.Context, d Decrementer, branchID string, productID string, qty int) (Reservation, error) {
	if qty <= 0 {
		return Reservation{ProductID: productID}, nil
	}

	remaining, err := d.DecrementStock(ctx, branchID, productID, qty)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Reservation{}, fmt.Errorf("%w: product %s at branch %s", ErrProductNotFound, productID, branchID)
		}
		return Reservation{}, err
	}
	return Reservation{ProductID: productID, Quantity: qty, Remaining: remaining}, nil
}

// ReserveAll reserves each request in order and stops at the first failure.
// Reservations already taken are undone by discarding the unit of work they
// were made in.
func ReserveAll(ctx context.Context, d Decrementer, branchID string, requests []Request) ([]Reservation, error) {
	reservations := make([]Reservation, 0, len(requests))
	for _, req := range requests {
		r, err := Reserve(ctx, d, branchID, req.ProductID, req.Quantity)
		if err != nil {
			return reservations, err
		}
		reservations = append(reservations, r)
	}
	return reservations, nil
}
