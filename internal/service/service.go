package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"laundrypos/backend/internal/catalog"
	"laundrypos/backend/internal/domain"
	"laundrypos/backend/internal/inventory"
	"laundrypos/backend/internal/loyalty"
	"laundrypos/backend/internal/notify"
	"laundrypos/backend/internal/store"
	"laundrypos/backend/internal/transaction"
	"laundrypos/backend/internal/xid"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

// Service is the ledger orchestrator: it validates a cart, reserves stock and
// writes the transaction in one unit of work, then applies loyalty.
type Service struct {
	repo     store.Repository
	catalog  *catalog.Reader
	loyalty  *loyalty.Ledger
	notifier notify.LoyaltyNotifier
	now      func() time.Time
}

func New(repo store.Repository, reader *catalog.Reader, notifier notify.LoyaltyNotifier) *Service {
	if reader == nil {
		reader = catalog.NewReader(repo, nil, 0)
	}
	if notifier == nil {
		notifier = notify.Noop{}
	}
	return &Service{
		repo:     repo,
		catalog:  reader,
		loyalty:  loyalty.NewLedger(repo),
		notifier: notifier,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// maxServiceUnits bounds one service line. Each unit becomes its own row.
const maxServiceUnits = 500

type stage int

const (
	stageValidating stage = iota
	stageReservingStock
	stageWritingTransaction
	stageUpdatingLoyalty
	stageCommitted
	stageAborted
)

func (s stage) String() string {
	switch s {
	case stageValidating:
		return "validating"
	case stageReservingStock:
		return "reserving_stock"
	case stageWritingTransaction:
		return "writing_transaction"
	case stageUpdatingLoyalty:
		return "updating_loyalty"
	case stageCommitted:
		return "committed"
	case stageAborted:
		return "aborted"
	default:
		return fmt.Sprintf("stage(%d)", int(s))
	}
}

// cart is a request resolved against the catalog and ready to write.
type cart struct {
	customer  domain.Customer
	services  []transaction.ServiceItem
	products  []transaction.ProductItem
	stock     []inventory.Request
	paidWash  int
	freeWash  int
	unitCount int
}

// RecordTransaction turns a cashier's cart into a committed transaction.
//
// Stock reservation and the transaction write share one unit of work, so a
// failure in either leaves nothing behind. Loyalty is applied after commit and
// is best-effort: its failure is logged against the transaction id and the
// financial record is still reported as committed.
func (s *Service) RecordTransaction(ctx context.Context, req domain.RecordTransactionRequest) (domain.RecordTransactionResponse, error) {
	current := stageValidating
	abort := func(err error, txID string) (domain.RecordTransactionResponse, error) {
		log.Printf("[ledger] transaction %s stage=%s tx=%s customer=%s branch=%s: %v",
			stageAborted, current, defaultString(txID, "-"), req.CustomerID, req.BranchID, err)
		return domain.RecordTransactionResponse{}, err
	}

	req = normalizeRequest(ctx, req)
	if err := validateRequest(req); err != nil {
		return abort(err, "")
	}

	if req.IdempotencyKey != "" {
		existing, err := s.repo.FindTransactionByIdempotency(ctx, req.IdempotencyKey)
		if err == nil {
			return toRecordResponse(existing, true), nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return abort(&PersistenceError{Err: err}, "")
		}
	}

	resolved, err := s.resolveCart(ctx, req)
	if err != nil {
		return abort(err, "")
	}

	header := domain.Transaction{
		ID:             xid.New("trx"),
		CustomerID:     req.CustomerID,
		BranchID:       req.BranchID,
		CashierID:      req.CashierID,
		Shift:          req.Shift,
		IdempotencyKey: req.IdempotencyKey,
		PaymentMethod:  req.PaymentMethod,
		Status:         domain.TxStatusCompleted,
		Notes:          req.Notes,
		CreatedAt:      s.now(),
	}
	if req.Draft {
		header.Status = domain.TxStatusPending
	}

	var written *domain.Transaction
	err = s.repo.InTx(ctx, func(uow store.UnitOfWork) error {
		current = stageReservingStock
		if _, err := inventory.ReserveAll(ctx, uow, req.BranchID, resolved.stock); err != nil {
			return err
		}

		current = stageWritingTransaction
		tx, err := transaction.Write(ctx, uow, header, resolved.services, resolved.products)
		if err != nil {
			return err
		}
		written = tx
		return nil
	})
	if err != nil {
		if errors.Is(err, store.ErrDuplicate) && req.IdempotencyKey != "" {
			existing, lookupErr := s.repo.FindTransactionByIdempotency(ctx, req.IdempotencyKey)
			if lookupErr == nil {
				log.Printf("[ledger] concurrent duplicate resolved key=%s tx=%s", req.IdempotencyKey, existing.ID)
				return toRecordResponse(existing, true), nil
			}
		}
		return abort(classifyWriteError(current, header.ID, err), header.ID)
	}

	resp := toRecordResponse(written, false)

	// The financial record is committed; nothing below may cancel or undo it.
	ctx = context.WithoutCancel(ctx)
	current = stageUpdatingLoyalty
	if !req.Draft {
		paid, free := transaction.CountWashes(written.Services)
		if paid+free > 0 {
			delta, err := s.loyalty.ApplyWashActivity(ctx, written.CustomerID, paid, free)
			if err != nil {
				log.Printf("[ledger] WARN: %v tx=%s customer=%s paid=%d free=%d: %v",
					ErrLoyaltyUpdateFailed, written.ID, written.CustomerID, paid, free, err)
			} else {
				resp.Loyalty = &delta
				if delta.NewlyEarned > 0 {
					achievement := domain.LoyaltyAchievement{
						CustomerID:           written.CustomerID,
						TransactionID:        written.ID,
						NewlyEarned:          delta.NewlyEarned,
						TotalAvailablePoints: delta.LoyaltyPoints,
						At:                   s.now(),
					}
					resp.Achievement = &achievement
					if err := s.notifier.NotifyAchievement(ctx, achievement); err != nil {
						log.Printf("[ledger] WARN: achievement notification failed tx=%s customer=%s: %v",
							written.ID, written.CustomerID, err)
					}
				}
			}
		}
	}

	current = stageCommitted
	log.Printf("[ledger] transaction %s tx=%s customer=%s status=%s total=%d",
		current, written.ID, written.CustomerID, written.Status, written.Totals.TotalAmount)
	return resp, nil
}

func normalizeRequest(ctx context.Context, req domain.RecordTransactionRequest) domain.RecordTransactionRequest {
	req.CustomerID = strings.TrimSpace(req.CustomerID)
	req.BranchID = strings.TrimSpace(req.BranchID)
	req.Shift = strings.TrimSpace(req.Shift)
	req.CashierID = strings.TrimSpace(req.CashierID)
	req.IdempotencyKey = strings.TrimSpace(req.IdempotencyKey)
	req.Notes = strings.TrimSpace(req.Notes)
	req.PaymentMethod = strings.ToLower(strings.TrimSpace(req.PaymentMethod))
	if req.PaymentMethod == "" {
		req.PaymentMethod = domain.PaymentCash
	}
	if req.CashierID == "" {
		if actor, ok := ActorFromContext(ctx); ok {
			req.CashierID = actor.Username
		}
	}
	return req
}

func validateRequest(req domain.RecordTransactionRequest) error {
	switch {
	case req.CustomerID == "":
		return invalid("customer_id is required")
	case req.BranchID == "":
		return invalid("branch_id is required")
	case req.Shift == "":
		return invalid("shift is required")
	case len(req.Services) == 0 && len(req.Products) == 0:
		return invalid("cart has neither services nor products")
	case !domain.IsSupportedPaymentMethod(req.PaymentMethod):
		return invalid("unsupported payment method %q", req.PaymentMethod)
	}

	for i, entry := range req.Services {
		if strings.TrimSpace(entry.CatalogID) == "" {
			return invalid("services[%d]: catalog_id is required", i)
		}
		if entry.Quantity < 0 || entry.UnitPrice < 0 {
			return invalid("services[%d]: quantity and unit_price must not be negative", i)
		}
		if entry.Quantity > maxServiceUnits {
			return invalid("services[%d]: quantity %d exceeds %d units per line", i, entry.Quantity, maxServiceUnits)
		}
	}
	for i, entry := range req.Products {
		if strings.TrimSpace(entry.CatalogID) == "" {
			return invalid("products[%d]: catalog_id is required", i)
		}
		if entry.Quantity < 0 || entry.UnitPrice < 0 {
			return invalid("products[%d]: quantity and unit_price must not be negative", i)
		}
		if entry.FreeQuantity != nil && (*entry.FreeQuantity < 0 || *entry.FreeQuantity > entry.Quantity) {
			return invalid("products[%d]: free_quantity must be between 0 and quantity", i)
		}
	}
	return nil
}

// resolveCart looks up the customer and every catalog entry. Catalog prices
// win over the prices sent by the terminal.
func (s *Service) resolveCart(ctx context.Context, req domain.RecordTransactionRequest) (cart, error) {
	var c cart

	customer, err := s.repo.GetCustomer(ctx, req.CustomerID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return cart{}, invalid("customer %s not found", req.CustomerID)
		}
		return cart{}, &PersistenceError{Err: err}
	}
	if !customer.Active {
		return cart{}, invalid("customer %s is deactivated", req.CustomerID)
	}
	c.customer = *customer

	for _, entry := range req.Services {
		svc, err := s.catalog.LookupService(ctx, strings.TrimSpace(entry.CatalogID))
		if err != nil {
			return cart{}, catalogError(err)
		}
		warnPriceMismatch("service", svc.ID, entry.UnitPrice, svc.Price)
		c.services = append(c.services, transaction.ServiceItem{
			ServiceID:  svc.ID,
			Quantity:   entry.Quantity,
			UnitPrice:  svc.Price,
			IsFree:     entry.IsFree,
			FeeAmount:  svc.FeeAmount,
			IsWashType: svc.IsWashType,
		})
		c.unitCount += entry.Quantity
		// Mirrors transaction.CountWashes: a wash row that costs nothing is a
		// redemption.
		if svc.IsWashType {
			if entry.IsFree || svc.Price == 0 {
				c.freeWash += entry.Quantity
			} else {
				c.paidWash += entry.Quantity
			}
		}
	}

	for _, entry := range req.Products {
		p, err := s.catalog.LookupProduct(ctx, strings.TrimSpace(entry.CatalogID))
		if err != nil {
			return cart{}, catalogError(err)
		}
		warnPriceMismatch("product", p.ID, entry.UnitPrice, p.Price)
		c.products = append(c.products, transaction.ProductItem{
			ProductID:    p.ID,
			Quantity:     entry.Quantity,
			UnitPrice:    p.Price,
			IsFree:       entry.IsFree,
			FreeQuantity: entry.FreeQuantity,
		})
		c.stock = append(c.stock, inventory.Request{ProductID: p.ID, Quantity: entry.Quantity})
		c.unitCount += entry.Quantity
	}

	if c.unitCount == 0 {
		return cart{}, invalid("cart has no units")
	}
	// Paid washes accrue before free ones are redeemed, so a point earned by
	// this cart can be spent in it.
	available := max(0, loyalty.Earned(c.customer.TotalWashes+c.paidWash)-c.customer.TotalRedeemed)
	if c.freeWash > available {
		return cart{}, invalid("customer %s has %d loyalty points after this cart's paid washes, cart redeems %d free washes",
			c.customer.ID, available, c.freeWash)
	}
	return c, nil
}

func catalogError(err error) error {
	if errors.Is(err, catalog.ErrNotFound) {
		return fmt.Errorf("%w: %v", ErrCatalogNotFound, err)
	}
	return &PersistenceError{Err: err}
}

func warnPriceMismatch(kind string, id string, sent int64, catalogPrice int64) {
	if sent != 0 && sent != catalogPrice {
		log.Printf("[ledger] WARN: %s %s price from terminal %d differs from catalog %d, using catalog", kind, id, sent, catalogPrice)
	}
}

// classifyWriteError maps a failed unit of work onto the error taxonomy
// according to the stage it failed in.
func classifyWriteError(at stage, txID string, err error) error {
	if at == stageReservingStock {
		switch {
		case errors.Is(err, store.ErrInsufficientStock):
			return err
		case errors.Is(err, inventory.ErrProductNotFound):
			return fmt.Errorf("%w: %v", ErrCatalogNotFound, err)
		}
		return &PersistenceError{Err: err}
	}
	return &PersistenceError{TransactionID: txID, Err: err}
}

func (s *Service) GetTransaction(ctx context.Context, id string) (domain.RecordTransactionResponse, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.RecordTransactionResponse{}, invalid("transaction id is required")
	}
	tx, err := s.repo.FindTransactionByID(ctx, id)
	if err != nil {
		return domain.RecordTransactionResponse{}, err
	}
	return toRecordResponse(tx, false), nil
}

func (s *Service) CustomerLoyalty(ctx context.Context, customerID string) (domain.CustomerLoyaltyResponse, error) {
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return domain.CustomerLoyaltyResponse{}, invalid("customer id is required")
	}
	customer, err := s.repo.GetCustomer(ctx, customerID)
	if err != nil {
		return domain.CustomerLoyaltyResponse{}, err
	}
	return loyalty.Summary(*customer), nil
}

// RegisterCustomer creates a customer with an empty loyalty balance.
func (s *Service) RegisterCustomer(ctx context.Context, req domain.RegisterCustomerRequest) (domain.Customer, error) {
	name := strings.TrimSpace(req.Name)
	branchID := strings.TrimSpace(req.BranchID)
	if name == "" || branchID == "" {
		return domain.Customer{}, invalid("name and branch_id are required")
	}

	created, err := s.repo.CreateCustomer(ctx, domain.Customer{
		Name:      name,
		Phone:     strings.TrimSpace(req.Phone),
		BranchID:  branchID,
		CreatedAt: s.now(),
	})
	if err != nil {
		return domain.Customer{}, err
	}
	return *created, nil
}

func toRecordResponse(tx *domain.Transaction, duplicate bool) domain.RecordTransactionResponse {
	services := tx.Services
	if services == nil {
		services = []domain.ServiceLine{}
	}
	products := tx.Products
	if products == nil {
		products = []domain.ProductLine{}
	}
	return domain.RecordTransactionResponse{
		TransactionID:      tx.ID,
		Status:             tx.Status,
		PaymentMethod:      tx.PaymentMethod,
		TotalServiceAmount: tx.Totals.ServiceAmount,
		TotalProductAmount: tx.Totals.ProductAmount,
		TotalAmount:        tx.Totals.TotalAmount,
		Services:           services,
		Products:           products,
		Duplicate:          duplicate,
		CreatedAt:          tx.CreatedAt.Format(time.RFC3339),
	}
}

func defaultString(value string, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
