package sqlite

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"golang.org/x/sync/errgroup"

	"laundrypos/backend/internal/domain"
	"laundrypos/backend/internal/store"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	ctx := context.Background()
	if err := s.PutService(ctx, domain.Service{ID: "svc-cuci", Name: "Cuci", Price: 10000, IsWashType: true, Active: true}); err != nil {
		t.Fatalf("put service: %v", err)
	}
	for _, p := range []domain.Product{
		{ID: "prd-deterjen", Name: "Deterjen", Price: 5000, Active: true},
		{ID: "prd-pewangi", Name: "Pewangi", Price: 3000, Active: true},
	} {
		if err := s.PutProduct(ctx, p); err != nil {
			t.Fatalf("put product: %v", err)
		}
	}
	for _, row := range []domain.InventoryStock{
		{BranchID: "cabang-a", ProductID: "prd-deterjen", Available: 10},
		{BranchID: "cabang-a", ProductID: "prd-pewangi", Available: 3},
	} {
		if err := s.SetStock(ctx, row); err != nil {
			t.Fatalf("set stock: %v", err)
		}
	}
	if _, err := s.CreateCustomer(ctx, domain.Customer{ID: "cust-1", Name: "Budi", BranchID: "cabang-a", TotalWashes: 9}); err != nil {
		t.Fatalf("create customer: %v", err)
	}
	return s
}

func writeCart(ctx context.Context, uow store.UnitOfWork, txID string, key string) (domain.Totals, error) {
	if _, err := uow.DecrementStock(ctx, "cabang-a", "prd-deterjen", 2); err != nil {
		return domain.Totals{}, err
	}
	if err := uow.InsertTransaction(ctx, domain.Transaction{
		ID: txID, CustomerID: "cust-1", BranchID: "cabang-a", Shift: "pagi", IdempotencyKey: key,
		PaymentMethod: domain.PaymentCash, Status: domain.TxStatusCompleted,
	}); err != nil {
		return domain.Totals{}, err
	}
	if err := uow.InsertServiceLine(ctx, domain.ServiceLine{TransactionID: txID, ServiceID: "svc-cuci", Quantity: 1, UnitPrice: 10000, Subtotal: 10000, IsWashType: true}); err != nil {
		return domain.Totals{}, err
	}
	if err := uow.InsertProductLine(ctx, domain.ProductLine{TransactionID: txID, ProductID: "prd-deterjen", Quantity: 2, UnitPrice: 5000, Subtotal: 10000}); err != nil {
		return domain.Totals{}, err
	}
	return uow.RecomputeTotals(ctx, txID)
}

func TestUnitOfWorkCommitsHeaderLinesAndTotals(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	var totals domain.Totals
	err := s.InTx(ctx, func(uow store.UnitOfWork) error {
		var err error
		totals, err = writeCart(ctx, uow, "tx-1", "idem-1")
		return err
	})
	if err != nil {
		t.Fatalf("unit of work: %v", err)
	}
	if totals.ServiceAmount != 10000 || totals.ProductAmount != 10000 || totals.TotalAmount != 20000 {
		t.Fatalf("unexpected totals %+v", totals)
	}

	tx, err := s.FindTransactionByIdempotency(ctx, "idem-1")
	if err != nil {
		t.Fatalf("find by idempotency: %v", err)
	}
	if tx.ID != "tx-1" || tx.Totals != totals || len(tx.Services) != 1 || len(tx.Products) != 1 {
		t.Fatalf("unexpected persisted transaction %+v", tx)
	}
	row, _ := s.GetStock(ctx, "cabang-a", "prd-deterjen")
	if row.Available != 8 {
		t.Fatalf("expected stock 8, got %d", row.Available)
	}
}

func TestUnitOfWorkRollsBackOnInsufficientStock(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	err := s.InTx(ctx, func(uow store.UnitOfWork) error {
		if _, err := writeCart(ctx, uow, "tx-rb", ""); err != nil {
			return err
		}
		_, err := uow.DecrementStock(ctx, "cabang-a", "prd-pewangi", 5)
		return err
	})

	var stockErr *store.InsufficientStockError
	if !errors.As(err, &stockErr) || stockErr.Available != 3 {
		t.Fatalf("expected insufficient stock with available=3, got %v", err)
	}
	if _, err := s.FindTransactionByID(ctx, "tx-rb"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected no transaction row, got %v", err)
	}
	row, _ := s.GetStock(ctx, "cabang-a", "prd-deterjen")
	if row.Available != 10 {
		t.Fatalf("expected deterjen stock untouched, got %d", row.Available)
	}
}

func TestDuplicateIdempotencyKeyMapsToErrDuplicate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i, id := range []string{"tx-a", "tx-b"} {
		err := s.InTx(ctx, func(uow store.UnitOfWork) error {
			_, err := writeCart(ctx, uow, id, "idem-same")
			return err
		})
		if i == 0 && err != nil {
			t.Fatalf("first write: %v", err)
		}
		if i == 1 && !errors.Is(err, store.ErrDuplicate) {
			t.Fatalf("expected ErrDuplicate, got %v", err)
		}
	}
	row, _ := s.GetStock(ctx, "cabang-a", "prd-deterjen")
	if row.Available != 8 {
		t.Fatalf("duplicate must not reserve stock twice, got %d", row.Available)
	}
}

func TestUnknownStockRowIsNotFound(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	err := s.InTx(ctx, func(uow store.UnitOfWork) error {
		_, err := uow.DecrementStock(ctx, "cabang-b", "prd-deterjen", 1)
		return err
	})
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestConcurrentReservationsNeverExceedStock(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	var reserved atomic.Int64
	var g errgroup.Group
	for i := 0; i < 8; i++ {
		g.Go(func() error {
			err := s.InTx(ctx, func(uow store.UnitOfWork) error {
				_, err := uow.DecrementStock(ctx, "cabang-a", "prd-pewangi", 1)
				return err
			})
			if err == nil {
				reserved.Add(1)
				return nil
			}
			if errors.Is(err, store.ErrInsufficientStock) {
				return nil
			}
			return err
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if reserved.Load() != 3 {
		t.Fatalf("expected 3 successful reservations, got %d", reserved.Load())
	}
}

func TestApplyWashActivityAccruesAndRedeems(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	delta, err := s.ApplyWashActivity(ctx, "cust-1", 1, 0, 10)
	if err != nil {
		t.Fatalf("accrue: %v", err)
	}
	if delta.TotalWashes != 10 || delta.NewlyEarned != 1 || delta.LoyaltyPoints != 1 {
		t.Fatalf("unexpected accrual %+v", delta)
	}

	delta, err = s.ApplyWashActivity(ctx, "cust-1", 0, 1, 10)
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if delta.LoyaltyPoints != 0 || delta.TotalRedeemed != 1 || delta.TotalWashes != 10 || delta.NewlyEarned != 0 {
		t.Fatalf("unexpected redemption %+v", delta)
	}

	delta, err = s.ApplyWashActivity(ctx, "cust-1", 0, 2, 10)
	if err != nil {
		t.Fatalf("over-redeem: %v", err)
	}
	if delta.LoyaltyPoints != 0 {
		t.Fatalf("points must never go negative, got %d", delta.LoyaltyPoints)
	}

	if _, err := s.ApplyWashActivity(ctx, "cust-missing", 1, 0, 10); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown customer, got %v", err)
	}
}
