/*
Package sqlite implements store.Repository on SQLite for single-branch
installations and for SQL-level tests.

The schema mirrors the Postgres one and is migrated in New. The pool is
limited to one connection: SQLite admits a single writer, and ":memory:"
databases are private to the connection that created them.
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	sqlite3 "github.com/mattn/go-sqlite3"

	"laundrypos/backend/internal/domain"
	"laundrypos/backend/internal/store"
	"laundrypos/backend/internal/xid"
)

type Store struct {
	db *sql.DB
}

// New opens (or creates) the database at path. Use ":memory:" for an
// in-memory database.
func New(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS services (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		price INTEGER NOT NULL CHECK (price >= 0),
		fee_amount INTEGER NOT NULL DEFAULT 0,
		is_wash_type BOOLEAN NOT NULL DEFAULT 0,
		active BOOLEAN NOT NULL DEFAULT 1
	);

	CREATE TABLE IF NOT EXISTS products (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		price INTEGER NOT NULL CHECK (price >= 0),
		active BOOLEAN NOT NULL DEFAULT 1
	);

	CREATE TABLE IF NOT EXISTS customers (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		phone TEXT,
		branch_id TEXT NOT NULL,
		total_washes INTEGER NOT NULL DEFAULT 0 CHECK (total_washes >= 0),
		loyalty_points INTEGER NOT NULL DEFAULT 0 CHECK (loyalty_points >= 0),
		total_redeemed INTEGER NOT NULL DEFAULT 0 CHECK (total_redeemed >= 0),
		active BOOLEAN NOT NULL DEFAULT 1,
		created_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS inventory_stocks (
		branch_id TEXT NOT NULL,
		product_id TEXT NOT NULL REFERENCES products(id),
		available INTEGER NOT NULL CHECK (available >= 0),
		minimum INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (branch_id, product_id)
	);

	CREATE TABLE IF NOT EXISTS transactions (
		id TEXT PRIMARY KEY,
		customer_id TEXT NOT NULL REFERENCES customers(id),
		branch_id TEXT NOT NULL,
		cashier_id TEXT,
		shift TEXT NOT NULL,
		idempotency_key TEXT UNIQUE,
		payment_method TEXT NOT NULL,
		status TEXT NOT NULL,
		notes TEXT,
		total_service_amount INTEGER NOT NULL DEFAULT 0,
		total_product_amount INTEGER NOT NULL DEFAULT 0,
		total_amount INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS transaction_services (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		transaction_id TEXT NOT NULL REFERENCES transactions(id) ON DELETE CASCADE,
		service_id TEXT NOT NULL REFERENCES services(id),
		quantity INTEGER NOT NULL,
		unit_price INTEGER NOT NULL,
		subtotal INTEGER NOT NULL CHECK (subtotal >= 0),
		fee_component INTEGER NOT NULL DEFAULT 0,
		is_wash_type BOOLEAN NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_transaction_services_tx ON transaction_services(transaction_id);

	CREATE TABLE IF NOT EXISTS transaction_products (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		transaction_id TEXT NOT NULL REFERENCES transactions(id) ON DELETE CASCADE,
		product_id TEXT NOT NULL REFERENCES products(id),
		quantity INTEGER NOT NULL,
		unit_price INTEGER NOT NULL,
		subtotal INTEGER NOT NULL CHECK (subtotal >= 0),
		is_free BOOLEAN NOT NULL DEFAULT 0,
		free_quantity INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_transaction_products_tx ON transaction_products(transaction_id);

	CREATE TABLE IF NOT EXISTS app_users (
		username TEXT PRIMARY KEY,
		password TEXT NOT NULL,
		role TEXT NOT NULL,
		branch_id TEXT,
		active BOOLEAN NOT NULL DEFAULT 1,
		created_at TIMESTAMP NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// PutService and PutProduct upsert catalog rows. The ledger itself only reads
// the catalog.
func (s *Store) PutService(ctx context.Context, svc domain.Service) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO services (id, name, price, fee_amount, is_wash_type, active)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name, price = excluded.price, fee_amount = excluded.fee_amount,
			is_wash_type = excluded.is_wash_type, active = excluded.active
	`, svc.ID, svc.Name, svc.Price, svc.FeeAmount, svc.IsWashType, svc.Active)
	return err
}

func (s *Store) PutProduct(ctx context.Context, p domain.Product) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO products (id, name, price, active)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET name = excluded.name, price = excluded.price, active = excluded.active
	`, p.ID, p.Name, p.Price, p.Active)
	return err
}

func (s *Store) GetService(ctx context.Context, id string) (*domain.Service, error) {
	var svc domain.Service
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, price, fee_amount, is_wash_type, active FROM services WHERE id = ?
	`, id).Scan(&svc.ID, &svc.Name, &svc.Price, &svc.FeeAmount, &svc.IsWashType, &svc.Active)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &svc, nil
}

func (s *Store) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	var p domain.Product
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, price, active FROM products WHERE id = ?
	`, id).Scan(&p.ID, &p.Name, &p.Price, &p.Active)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Store) GetCustomer(ctx context.Context, id string) (*domain.Customer, error) {
	var c domain.Customer
	var phone sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, phone, branch_id, total_washes, loyalty_points, total_redeemed, active, created_at
		FROM customers WHERE id = ?
	`, id).Scan(&c.ID, &c.Name, &phone, &c.BranchID, &c.TotalWashes, &c.LoyaltyPoints, &c.TotalRedeemed, &c.Active, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	c.Phone = phone.String
	c.CreatedAt = c.CreatedAt.UTC()
	return &c, nil
}

func (s *Store) CreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error) {
	customer.Name = strings.TrimSpace(customer.Name)
	if customer.Name == "" || customer.BranchID == "" {
		return nil, store.ErrInvalidInput
	}
	if customer.TotalWashes < 0 || customer.LoyaltyPoints < 0 || customer.TotalRedeemed < 0 {
		return nil, store.ErrInvalidInput
	}
	if customer.ID == "" {
		customer.ID = xid.New("cust")
	}
	if customer.CreatedAt.IsZero() {
		customer.CreatedAt = time.Now().UTC()
	}
	customer.Active = true

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO customers (id, name, phone, branch_id, total_washes, loyalty_points, total_redeemed, active, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, customer.ID, customer.Name, nullIfEmpty(customer.Phone), customer.BranchID,
		customer.TotalWashes, customer.LoyaltyPoints, customer.TotalRedeemed, customer.Active, customer.CreatedAt)
	if err != nil {
		if isConstraint(err, sqlite3.ErrConstraintPrimaryKey) || isConstraint(err, sqlite3.ErrConstraintUnique) {
			return nil, store.ErrDuplicate
		}
		return nil, err
	}
	return &customer, nil
}

func (s *Store) GetStock(ctx context.Context, branchID string, productID string) (*domain.InventoryStock, error) {
	row := domain.InventoryStock{BranchID: branchID, ProductID: productID}
	err := s.db.QueryRowContext(ctx, `
		SELECT available, minimum FROM inventory_stocks WHERE branch_id = ? AND product_id = ?
	`, branchID, productID).Scan(&row.Available, &row.Minimum)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (s *Store) SetStock(ctx context.Context, row domain.InventoryStock) error {
	if row.BranchID == "" || row.ProductID == "" || row.Available < 0 || row.Minimum < 0 {
		return store.ErrInvalidInput
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO inventory_stocks (branch_id, product_id, available, minimum)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (branch_id, product_id)
		DO UPDATE SET available = excluded.available, minimum = excluded.minimum
	`, row.BranchID, row.ProductID, row.Available, row.Minimum)
	if isConstraint(err, sqlite3.ErrConstraintForeignKey) {
		return store.ErrNotFound
	}
	return err
}

func (s *Store) InTx(ctx context.Context, fn func(uow store.UnitOfWork) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(&unit{tx: tx}); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) FindTransactionByID(ctx context.Context, id string) (*domain.Transaction, error) {
	return s.findTransaction(ctx, "id", id)
}

func (s *Store) FindTransactionByIdempotency(ctx context.Context, key string) (*domain.Transaction, error) {
	return s.findTransaction(ctx, "idempotency_key", key)
}

func (s *Store) findTransaction(ctx context.Context, column string, value string) (*domain.Transaction, error) {
	if column != "id" && column != "idempotency_key" {
		return nil, fmt.Errorf("unsupported lookup column")
	}

	var tx domain.Transaction
	var cashierID, idempotencyKey, notes sql.NullString
	err := s.db.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT id, customer_id, branch_id, cashier_id, shift, idempotency_key, payment_method, status, notes,
			total_service_amount, total_product_amount, total_amount, created_at
		FROM transactions WHERE %s = ?
	`, column), value).Scan(
		&tx.ID, &tx.CustomerID, &tx.BranchID, &cashierID, &tx.Shift, &idempotencyKey,
		&tx.PaymentMethod, &tx.Status, &notes,
		&tx.Totals.ServiceAmount, &tx.Totals.ProductAmount, &tx.Totals.TotalAmount, &tx.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	tx.CashierID = cashierID.String
	tx.IdempotencyKey = idempotencyKey.String
	tx.Notes = notes.String
	tx.CreatedAt = tx.CreatedAt.UTC()

	services, err := s.db.QueryContext(ctx, `
		SELECT service_id, quantity, unit_price, subtotal, fee_component, is_wash_type
		FROM transaction_services WHERE transaction_id = ? ORDER BY id
	`, tx.ID)
	if err != nil {
		return nil, err
	}
	defer services.Close()
	tx.Services = []domain.ServiceLine{}
	for services.Next() {
		line := domain.ServiceLine{TransactionID: tx.ID}
		if err := services.Scan(&line.ServiceID, &line.Quantity, &line.UnitPrice, &line.Subtotal, &line.FeeComponent, &line.IsWashType); err != nil {
			return nil, err
		}
		tx.Services = append(tx.Services, line)
	}
	if err := services.Err(); err != nil {
		return nil, err
	}

	products, err := s.db.QueryContext(ctx, `
		SELECT product_id, quantity, unit_price, subtotal, is_free, free_quantity
		FROM transaction_products WHERE transaction_id = ? ORDER BY id
	`, tx.ID)
	if err != nil {
		return nil, err
	}
	defer products.Close()
	tx.Products = []domain.ProductLine{}
	for products.Next() {
		line := domain.ProductLine{TransactionID: tx.ID}
		if err := products.Scan(&line.ProductID, &line.Quantity, &line.UnitPrice, &line.Subtotal, &line.IsFree, &line.FreeQuantity); err != nil {
			return nil, err
		}
		tx.Products = append(tx.Products, line)
	}
	return &tx, products.Err()
}

func (s *Store) ApplyWashActivity(ctx context.Context, customerID string, paidWashes int, freeWashes int, washesPerReward int) (*domain.LoyaltyDelta, error) {
	if washesPerReward < 1 || paidWashes < 0 || freeWashes < 0 {
		return nil, store.ErrInvalidInput
	}

	delta := domain.LoyaltyDelta{CustomerID: customerID, PaidWashes: paidWashes, FreeWashes: freeWashes}
	err := s.db.QueryRowContext(ctx, `
		UPDATE customers
		SET total_washes = total_washes + ?1,
			loyalty_points = max(0, (total_washes + ?1) / ?3 - total_redeemed - ?2),
			total_redeemed = total_redeemed + ?2
		WHERE id = ?4
		RETURNING total_washes, loyalty_points, total_redeemed
	`, paidWashes, freeWashes, washesPerReward, customerID).Scan(&delta.TotalWashes, &delta.LoyaltyPoints, &delta.TotalRedeemed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	previous := delta.TotalWashes - paidWashes
	delta.NewlyEarned = delta.TotalWashes/washesPerReward - previous/washesPerReward
	return &delta, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	user.Username = strings.ToLower(strings.TrimSpace(user.Username))
	if user.Username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidInput
	}
	if user.Role == "" {
		user.Role = domain.RoleCashier
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_users (username, password, role, branch_id, active, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, user.Username, user.Password, string(user.Role), nullIfEmpty(user.BranchID), user.Active, user.CreatedAt)
	if isConstraint(err, sqlite3.ErrConstraintPrimaryKey) || isConstraint(err, sqlite3.ErrConstraintUnique) {
		return store.ErrDuplicate
	}
	return err
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, COALESCE(branch_id, ''), active, created_at
		FROM app_users ORDER BY username
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		var role string
		if err := rows.Scan(&user.Username, &user.Password, &role, &user.BranchID, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		user.Role = domain.Role(role)
		user.CreatedAt = user.CreatedAt.UTC()
		users = append(users, user)
	}
	return users, rows.Err()
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidInput
	}
	res, err := s.db.ExecContext(ctx, `UPDATE app_users SET password = ? WHERE username = ?`, password, username)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

type unit struct {
	tx *sql.Tx
}

func (u *unit) DecrementStock(ctx context.Context, branchID string, productID string, qty int) (int, error) {
	if qty < 0 {
		return 0, store.ErrInvalidInput
	}

	var remaining int
	err := u.tx.QueryRowContext(ctx, `
		UPDATE inventory_stocks
		SET available = available - ?3
		WHERE branch_id = ?1 AND product_id = ?2 AND available >= ?3
		RETURNING available
	`, branchID, productID, qty).Scan(&remaining)
	if err == nil {
		return remaining, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, err
	}

	var available int
	err = u.tx.QueryRowContext(ctx, `
		SELECT available FROM inventory_stocks WHERE branch_id = ? AND product_id = ?
	`, branchID, productID).Scan(&available)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, store.ErrNotFound
	}
	if err != nil {
		return 0, err
	}
	return available, &store.InsufficientStockError{
		BranchID:  branchID,
		ProductID: productID,
		Requested: qty,
		Available: available,
	}
}

func (u *unit) InsertTransaction(ctx context.Context, tx domain.Transaction) error {
	if tx.ID == "" {
		return store.ErrInvalidInput
	}
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = time.Now().UTC()
	}
	_, err := u.tx.ExecContext(ctx, `
		INSERT INTO transactions (
			id, customer_id, branch_id, cashier_id, shift, idempotency_key, payment_method, status, notes,
			total_service_amount, total_product_amount, total_amount, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		tx.ID, tx.CustomerID, tx.BranchID, nullIfEmpty(tx.CashierID), tx.Shift, nullIfEmpty(tx.IdempotencyKey),
		tx.PaymentMethod, tx.Status, nullIfEmpty(tx.Notes),
		tx.Totals.ServiceAmount, tx.Totals.ProductAmount, tx.Totals.TotalAmount, tx.CreatedAt,
	)
	switch {
	case isConstraint(err, sqlite3.ErrConstraintPrimaryKey), isConstraint(err, sqlite3.ErrConstraintUnique):
		return store.ErrDuplicate
	case isConstraint(err, sqlite3.ErrConstraintForeignKey):
		return store.ErrNotFound
	}
	return err
}

func (u *unit) InsertServiceLine(ctx context.Context, line domain.ServiceLine) error {
	_, err := u.tx.ExecContext(ctx, `
		INSERT INTO transaction_services (transaction_id, service_id, quantity, unit_price, subtotal, fee_component, is_wash_type)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, line.TransactionID, line.ServiceID, line.Quantity, line.UnitPrice, line.Subtotal, line.FeeComponent, line.IsWashType)
	if isConstraint(err, sqlite3.ErrConstraintForeignKey) {
		return store.ErrNotFound
	}
	return err
}

func (u *unit) InsertProductLine(ctx context.Context, line domain.ProductLine) error {
	_, err := u.tx.ExecContext(ctx, `
		INSERT INTO transaction_products (transaction_id, product_id, quantity, unit_price, subtotal, is_free, free_quantity)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, line.TransactionID, line.ProductID, line.Quantity, line.UnitPrice, line.Subtotal, line.IsFree, line.FreeQuantity)
	if isConstraint(err, sqlite3.ErrConstraintForeignKey) {
		return store.ErrNotFound
	}
	return err
}

func (u *unit) RecomputeTotals(ctx context.Context, transactionID string) (domain.Totals, error) {
	var totals domain.Totals
	err := u.tx.QueryRowContext(ctx, `
		SELECT
			(SELECT COALESCE(SUM(subtotal), 0) FROM transaction_services WHERE transaction_id = ?1),
			(SELECT COALESCE(SUM(subtotal), 0) FROM transaction_products WHERE transaction_id = ?1)
	`, transactionID).Scan(&totals.ServiceAmount, &totals.ProductAmount)
	if err != nil {
		return domain.Totals{}, err
	}
	totals.TotalAmount = totals.ServiceAmount + totals.ProductAmount

	res, err := u.tx.ExecContext(ctx, `
		UPDATE transactions
		SET total_service_amount = ?, total_product_amount = ?, total_amount = ?
		WHERE id = ?
	`, totals.ServiceAmount, totals.ProductAmount, totals.TotalAmount, transactionID)
	if err != nil {
		return domain.Totals{}, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return domain.Totals{}, err
	}
	if affected == 0 {
		return domain.Totals{}, store.ErrNotFound
	}
	return totals, nil
}

func isConstraint(err error, code sqlite3.ErrNoExtended) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == code
	}
	return false
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}
