package transaction

import (
	"context"
	"errors"
	"testing"

	"laundrypos/backend/internal/domain"
	"laundrypos/backend/internal/pricing"
	"laundrypos/backend/internal/store"
	"laundrypos/backend/internal/store/memory"
)

func intPtr(v int) *int { return &v }

func TestExplodeServicesOneRowPerUnit(t *testing.T) {
	lines := ExplodeServices("tx-1", []ServiceItem{
		{ServiceID: "svc-cuci-setrika", Quantity: 3, UnitPrice: 15000, FeeAmount: 2000, IsWashType: true},
		{ServiceID: "svc-cuci-kering", Quantity: 1, UnitPrice: 10000, IsFree: true, IsWashType: true},
		{ServiceID: "svc-setrika", Quantity: 0, UnitPrice: 8000},
	})
	if len(lines) != 4 {
		t.Fatalf("expected 4 rows, got %d", len(lines))
	}
	for _, line := range lines[:3] {
		if line.Quantity != 1 || line.Subtotal != 15000 || line.FeeComponent != 2000 {
			t.Fatalf("unexpected paid row %+v", line)
		}
	}
	if lines[3].Subtotal != 0 || lines[3].FeeComponent != 0 {
		t.Fatalf("free row must carry no charge: %+v", lines[3])
	}

	paid, free := CountWashes(lines)
	if paid != 3 || free != 1 {
		t.Fatalf("expected 3 paid and 1 free wash, got %d/%d", paid, free)
	}
}

func TestCountWashesIgnoresNonWashServices(t *testing.T) {
	paid, free := CountWashes([]domain.ServiceLine{
		{ServiceID: "svc-setrika", Quantity: 1, Subtotal: 8000},
		{ServiceID: "svc-setrika", Quantity: 1, Subtotal: 0},
		{ServiceID: "svc-cuci", Quantity: 0, Subtotal: 0, IsWashType: true},
	})
	if paid != 0 || free != 0 {
		t.Fatalf("expected no washes, got %d/%d", paid, free)
	}
}

func TestPriceProductsKeepsQuantityAndSplitsFree(t *testing.T) {
	lines := PriceProducts("tx-1", []ProductItem{
		{ProductID: "prd-deterjen", Quantity: 2, UnitPrice: 5000},
		{ProductID: "prd-pewangi", Quantity: 5, UnitPrice: 3000, IsFree: true, FreeQuantity: intPtr(2)},
		{ProductID: "prd-plastik", Quantity: 2, UnitPrice: 1000, IsFree: true},
	})
	want := []struct {
		subtotal int64
		free     int
		isFree   bool
	}{
		{10000, 0, false},
		{9000, 2, true},
		{0, 2, true},
	}
	for i, w := range want {
		if lines[i].Subtotal != w.subtotal || lines[i].FreeQuantity != w.free || lines[i].IsFree != w.isFree {
			t.Fatalf("line %d: unexpected %+v", i, lines[i])
		}
		if lines[i].Subtotal != lines[i].UnitPrice*int64(lines[i].Quantity-lines[i].FreeQuantity) {
			t.Fatalf("line %d: subtotal does not match paid quantity", i)
		}
	}
}

func TestWriteRecomputesTotalsFromStoredRows(t *testing.T) {
	repo := memory.NewSeeded()
	ctx := context.Background()

	var written *domain.Transaction
	err := repo.InTx(ctx, func(uow store.UnitOfWork) error {
		var err error
		written, err = Write(ctx, uow, domain.Transaction{ID: "tx-a", CustomerID: "cust-demo", BranchID: memory.SeedBranchID, Shift: "pagi"},
			[]ServiceItem{{ServiceID: "svc-cuci-kering", Quantity: 1, UnitPrice: 10000, IsWashType: true}},
			[]ProductItem{{ProductID: "prd-deterjen", Quantity: 2, UnitPrice: 5000}},
		)
		return err
	})
	if err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if written.Totals.ServiceAmount != 10000 || written.Totals.ProductAmount != 10000 || written.Totals.TotalAmount != 20000 {
		t.Fatalf("unexpected totals %+v", written.Totals)
	}

	stored, err := repo.FindTransactionByID(ctx, "tx-a")
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if stored.Totals != pricing.Totals(stored.Services, stored.Products) {
		t.Fatalf("stored header totals do not match stored rows: %+v", stored.Totals)
	}
}

type failingInserter struct {
	inserted   int
	failOnLine int
}

func (f *failingInserter) InsertTransaction(context.Context, domain.Transaction) error { return nil }

func (f *failingInserter) InsertServiceLine(context.Context, domain.ServiceLine) error {
	f.inserted++
	if f.inserted == f.failOnLine {
		return errors.New("disk full")
	}
	return nil
}

func (f *failingInserter) InsertProductLine(context.Context, domain.ProductLine) error {
	f.inserted++
	if f.inserted == f.failOnLine {
		return errors.New("disk full")
	}
	return nil
}

func (f *failingInserter) RecomputeTotals(context.Context, string) (domain.Totals, error) {
	return domain.Totals{}, nil
}

func TestWriteFailsWholeCallOnRowError(t *testing.T) {
	w := &failingInserter{failOnLine: 3}
	_, err := Write(context.Background(), w, domain.Transaction{ID: "tx-b"},
		[]ServiceItem{{ServiceID: "svc-cuci", Quantity: 2, UnitPrice: 10000}},
		[]ProductItem{{ProductID: "prd-deterjen", Quantity: 1, UnitPrice: 5000}},
	)
	if err == nil {
		t.Fatalf("expected row failure to fail the write")
	}
}

func TestWriteRejectsEmptyCart(t *testing.T) {
	_, err := Write(context.Background(), &failingInserter{}, domain.Transaction{ID: "tx-c"},
		[]ServiceItem{{ServiceID: "svc-cuci", Quantity: 0, UnitPrice: 10000}}, nil)
	if !errors.Is(err, ErrEmptyTransaction) {
		t.Fatalf("expected ErrEmptyTransaction, got %v", err)
	}
}
