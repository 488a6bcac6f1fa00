package store

import (
	"context"
	"errors"
	"fmt"

	"laundrypos/backend/internal/domain"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrDuplicate         = errors.New("duplicate")
	ErrInvalidInput      = errors.New("invalid input")
)

// InsufficientStockError reports the stock row that rejected a decrement.
type InsufficientStockError struct {
	BranchID  string
	ProductID string
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %s at branch %s: requested %d, available %d",
		e.ProductID, e.BranchID, e.Requested, e.Available)
}

func (e *InsufficientStockError) Unwrap() error {
	return ErrInsufficientStock
}

// UnitOfWork is the write side of one transaction recording. Everything done
// through it is applied together or not at all.
type UnitOfWork interface {
	// DecrementStock removes qty from a stock row only if enough is available,
	// returning what remains.
	DecrementStock(ctx context.Context, branchID string, productID string, qty int) (int, error)
	InsertTransaction(ctx context.Context, tx domain.Transaction) error
	InsertServiceLine(ctx context.Context, line domain.ServiceLine) error
	InsertProductLine(ctx context.Context, line domain.ProductLine) error
	// RecomputeTotals sums the persisted lines of a transaction and overwrites
	// the header aggregates with the result.
	RecomputeTotals(ctx context.Context, transactionID string) (domain.Totals, error)
}

type Repository interface {
	GetService(ctx context.Context, id string) (*domain.Service, error)
	GetProduct(ctx context.Context, id string) (*domain.Product, error)
	GetCustomer(ctx context.Context, id string) (*domain.Customer, error)
	CreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error)
	GetStock(ctx context.Context, branchID string, productID string) (*domain.InventoryStock, error)
	SetStock(ctx context.Context, stock domain.InventoryStock) error

	// InTx runs fn inside one atomic unit of work. A non-nil error from fn
	// discards every effect made through the UnitOfWork.
	InTx(ctx context.Context, fn func(uow UnitOfWork) error) error
	FindTransactionByID(ctx context.Context, id string) (*domain.Transaction, error)
	FindTransactionByIdempotency(ctx context.Context, key string) (*domain.Transaction, error)

	// ApplyWashActivity accrues paid washes and redeems free washes for one
	// customer in a single atomic update.
	ApplyWashActivity(ctx context.Context, customerID string, paidWashes int, freeWashes int, washesPerReward int) (*domain.LoyaltyDelta, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}
