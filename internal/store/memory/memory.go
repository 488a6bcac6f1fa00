package memory

import (
	"context"
	"log"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"laundrypos/backend/internal/domain"
	"laundrypos/backend/internal/loyalty"
	"laundrypos/backend/internal/pricing"
	"laundrypos/backend/internal/store"
	"laundrypos/backend/internal/xid"
)

const SeedBranchID = "cabang-utama"

type Store struct {
	mu                 sync.RWMutex
	services           map[string]domain.Service
	products           map[string]domain.Product
	customers          map[string]domain.Customer
	stock              map[string]map[string]domain.InventoryStock
	transactionsByID   map[string]*domain.Transaction
	transactionsByIdem map[string]string
	usersByUsername    map[string]domain.UserAccount
}

func New() *Store {
	return &Store{
		services:           make(map[string]domain.Service),
		products:           make(map[string]domain.Product),
		customers:          make(map[string]domain.Customer),
		stock:              make(map[string]map[string]domain.InventoryStock),
		transactionsByID:   make(map[string]*domain.Transaction),
		transactionsByIdem: make(map[string]string),
		usersByUsername:    make(map[string]domain.UserAccount),
	}
}

// seedUsers builds the initial in-memory user accounts for dev/demo mode.
// Credentials are read from SEED_OWNER_PASSWORD and SEED_CASHIER_PASSWORD.
// If unset, dev defaults are used with a warning. The SQL backends never
// call this.
func seedUsers() map[string]domain.UserAccount {
	ownerPwd := envOr("SEED_OWNER_PASSWORD", "owner123")
	cashierPwd := envOr("SEED_CASHIER_PASSWORD", "kasir123")
	if os.Getenv("SEED_OWNER_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_OWNER_PASSWORD and SEED_CASHIER_PASSWORD to override.")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     domain.Role
	}{
		{"owner", ownerPwd, domain.RoleOwner},
		{"kasir", cashierPwd, domain.RoleCashier},
		{"backup", cashierPwd, domain.RoleBackupCollector},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			BranchID:  SeedBranchID,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func NewSeeded() *Store {
	s := New()
	s.usersByUsername = seedUsers()

	for _, svc := range []domain.Service{
		{ID: "svc-cuci-kering", Name: "Cuci Kering", Price: 10000, IsWashType: true, Active: true},
		{ID: "svc-cuci-setrika", Name: "Cuci Setrika", Price: 15000, FeeAmount: 2000, IsWashType: true, Active: true},
		{ID: "svc-setrika", Name: "Setrika Saja", Price: 8000, Active: true},
		{ID: "svc-bedcover", Name: "Bed Cover", Price: 25000, IsWashType: true, Active: true},
	} {
		s.services[svc.ID] = svc
	}

	for _, p := range []domain.Product{
		{ID: "prd-deterjen", Name: "Deterjen Sachet", Price: 5000, Active: true},
		{ID: "prd-pewangi", Name: "Pewangi Sachet", Price: 3000, Active: true},
		{ID: "prd-plastik", Name: "Plastik Laundry", Price: 1000, Active: true},
	} {
		s.products[p.ID] = p
		s.putStock(domain.InventoryStock{BranchID: SeedBranchID, ProductID: p.ID, Available: 50, Minimum: 5})
	}

	now := time.Now().UTC()
	s.customers["cust-demo"] = domain.Customer{
		ID:          "cust-demo",
		Name:        "Pelanggan Demo",
		Phone:       "081200000000",
		BranchID:    SeedBranchID,
		TotalWashes: 9,
		Active:      true,
		CreatedAt:   now,
	}
	return s
}

func (s *Store) PutService(svc domain.Service) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.services[svc.ID] = svc
}

func (s *Store) PutProduct(p domain.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[p.ID] = p
}

func (s *Store) GetService(_ context.Context, id string) (*domain.Service, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	svc, ok := s.services[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &svc, nil
}

func (s *Store) GetProduct(_ context.Context, id string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.products[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &p, nil
}

func (s *Store) GetCustomer(_ context.Context, id string) (*domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.customers[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &c, nil
}

func (s *Store) CreateCustomer(_ context.Context, customer domain.Customer) (*domain.Customer, error) {
	customer.Name = strings.TrimSpace(customer.Name)
	if customer.Name == "" || customer.BranchID == "" {
		return nil, store.ErrInvalidInput
	}
	if customer.TotalWashes < 0 || customer.LoyaltyPoints < 0 || customer.TotalRedeemed < 0 {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if customer.ID == "" {
		customer.ID = xid.New("cust")
	}
	if _, exists := s.customers[customer.ID]; exists {
		return nil, store.ErrDuplicate
	}
	if customer.CreatedAt.IsZero() {
		customer.CreatedAt = time.Now().UTC()
	}
	customer.Active = true
	s.customers[customer.ID] = customer
	created := customer
	return &created, nil
}

func (s *Store) GetStock(_ context.Context, branchID string, productID string) (*domain.InventoryStock, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row, ok := s.stock[branchID][productID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &row, nil
}

func (s *Store) SetStock(_ context.Context, row domain.InventoryStock) error {
	if row.BranchID == "" || row.ProductID == "" || row.Available < 0 || row.Minimum < 0 {
		return store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.products[row.ProductID]; !exists {
		return store.ErrNotFound
	}
	s.putStock(row)
	return nil
}

func (s *Store) putStock(row domain.InventoryStock) {
	branch, ok := s.stock[row.BranchID]
	if !ok {
		branch = make(map[string]domain.InventoryStock)
		s.stock[row.BranchID] = branch
	}
	branch[row.ProductID] = row
}

// InTx holds the write lock for the whole unit of work. fn must only use the
// UnitOfWork it is given, never the Store itself.
func (s *Store) InTx(ctx context.Context, fn func(uow store.UnitOfWork) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	u := &unit{s: s}
	if err := fn(u); err != nil {
		u.rollback()
		return err
	}
	return nil
}

func (s *Store) FindTransactionByID(_ context.Context, id string) (*domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tx, ok := s.transactionsByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneTransaction(tx), nil
}

func (s *Store) FindTransactionByIdempotency(_ context.Context, key string) (*domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.transactionsByIdem[key]
	if !ok {
		return nil, store.ErrNotFound
	}
	tx, ok := s.transactionsByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneTransaction(tx), nil
}

func (s *Store) ApplyWashActivity(ctx context.Context, customerID string, paidWashes int, freeWashes int, washesPerReward int) (*domain.LoyaltyDelta, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	customer, ok := s.customers[customerID]
	if !ok {
		return nil, store.ErrNotFound
	}

	next, newlyEarned := loyalty.Apply(loyalty.BalanceOf(customer), paidWashes, freeWashes, washesPerReward)
	customer.TotalWashes = next.TotalWashes
	customer.LoyaltyPoints = next.LoyaltyPoints
	customer.TotalRedeemed = next.TotalRedeemed
	s.customers[customerID] = customer

	return &domain.LoyaltyDelta{
		CustomerID:    customerID,
		PaidWashes:    paidWashes,
		FreeWashes:    freeWashes,
		NewlyEarned:   newlyEarned,
		TotalWashes:   next.TotalWashes,
		LoyaltyPoints: next.LoyaltyPoints,
		TotalRedeemed: next.TotalRedeemed,
	}, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidInput
	}
	if _, exists := s.usersByUsername[username]; exists {
		return store.ErrDuplicate
	}
	user.Username = username
	if user.Role == "" {
		user.Role = domain.RoleCashier
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.Active = true
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return strings.Compare(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidInput
	}
	user, exists := s.usersByUsername[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

// unit records an undo step for every mutation so a failed InTx leaves the
// maps exactly as they were. The Store's write lock is held throughout.
type unit struct {
	s    *Store
	undo []func()
}

func (u *unit) rollback() {
	for i := len(u.undo) - 1; i >= 0; i-- {
		u.undo[i]()
	}
	u.undo = nil
}

func (u *unit) DecrementStock(ctx context.Context, branchID string, productID string, qty int) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if qty < 0 {
		return 0, store.ErrInvalidInput
	}

	row, ok := u.s.stock[branchID][productID]
	if !ok {
		return 0, store.ErrNotFound
	}
	if row.Available < qty {
		return row.Available, &store.InsufficientStockError{
			BranchID:  branchID,
			ProductID: productID,
			Requested: qty,
			Available: row.Available,
		}
	}

	previous := row
	row.Available -= qty
	u.s.stock[branchID][productID] = row
	u.undo = append(u.undo, func() { u.s.stock[branchID][productID] = previous })
	return row.Available, nil
}

func (u *unit) InsertTransaction(ctx context.Context, tx domain.Transaction) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if tx.ID == "" {
		return store.ErrInvalidInput
	}
	if _, exists := u.s.transactionsByID[tx.ID]; exists {
		return store.ErrDuplicate
	}
	if tx.IdempotencyKey != "" {
		if _, exists := u.s.transactionsByIdem[tx.IdempotencyKey]; exists {
			return store.ErrDuplicate
		}
	}

	header := tx
	header.Services = []domain.ServiceLine{}
	header.Products = []domain.ProductLine{}
	u.s.transactionsByID[tx.ID] = &header
	if tx.IdempotencyKey != "" {
		u.s.transactionsByIdem[tx.IdempotencyKey] = tx.ID
	}
	u.undo = append(u.undo, func() {
		delete(u.s.transactionsByID, tx.ID)
		if tx.IdempotencyKey != "" {
			delete(u.s.transactionsByIdem, tx.IdempotencyKey)
		}
	})
	return nil
}

func (u *unit) InsertServiceLine(ctx context.Context, line domain.ServiceLine) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tx, ok := u.s.transactionsByID[line.TransactionID]
	if !ok {
		return store.ErrNotFound
	}
	if _, ok := u.s.services[line.ServiceID]; !ok {
		return store.ErrNotFound
	}

	n := len(tx.Services)
	tx.Services = append(tx.Services, line)
	u.undo = append(u.undo, func() { tx.Services = tx.Services[:n] })
	return nil
}

func (u *unit) InsertProductLine(ctx context.Context, line domain.ProductLine) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tx, ok := u.s.transactionsByID[line.TransactionID]
	if !ok {
		return store.ErrNotFound
	}
	if _, ok := u.s.products[line.ProductID]; !ok {
		return store.ErrNotFound
	}

	n := len(tx.Products)
	tx.Products = append(tx.Products, line)
	u.undo = append(u.undo, func() { tx.Products = tx.Products[:n] })
	return nil
}

func (u *unit) RecomputeTotals(ctx context.Context, transactionID string) (domain.Totals, error) {
	if err := ctx.Err(); err != nil {
		return domain.Totals{}, err
	}
	tx, ok := u.s.transactionsByID[transactionID]
	if !ok {
		return domain.Totals{}, store.ErrNotFound
	}

	previous := tx.Totals
	tx.Totals = pricing.Totals(tx.Services, tx.Products)
	u.undo = append(u.undo, func() { tx.Totals = previous })
	return tx.Totals, nil
}

func cloneTransaction(src *domain.Transaction) *domain.Transaction {
	if src == nil {
		return nil
	}
	dup := *src
	dup.Services = slices.Clone(src.Services)
	dup.Products = slices.Clone(src.Products)
	return &dup
}
