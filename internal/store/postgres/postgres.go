package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"laundrypos/backend/internal/domain"
	"laundrypos/backend/internal/store"
	"laundrypos/backend/internal/xid"
)

//go:embed schema.sql
var schemaSQL string

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate creates any missing tables. Every statement is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range strings.Split(schemaSQL, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func (s *Store) GetService(ctx context.Context, id string) (*domain.Service, error) {
	var svc domain.Service
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, price, fee_amount, is_wash_type, active
		FROM services
		WHERE id = $1
	`, id).Scan(&svc.ID, &svc.Name, &svc.Price, &svc.FeeAmount, &svc.IsWashType, &svc.Active)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &svc, nil
}

func (s *Store) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	var p domain.Product
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, price, active
		FROM products
		WHERE id = $1
	`, id).Scan(&p.ID, &p.Name, &p.Price, &p.Active)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (s *Store) GetCustomer(ctx context.Context, id string) (*domain.Customer, error) {
	var c domain.Customer
	var phone sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, phone, branch_id, total_washes, loyalty_points, total_redeemed, active, created_at
		FROM customers
		WHERE id = $1
	`, id).Scan(&c.ID, &c.Name, &phone, &c.BranchID, &c.TotalWashes, &c.LoyaltyPoints, &c.TotalRedeemed, &c.Active, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if phone.Valid {
		c.Phone = phone.String
	}
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
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, customer.ID, customer.Name, nullIfEmpty(customer.Phone), customer.BranchID,
		customer.TotalWashes, customer.LoyaltyPoints, customer.TotalRedeemed, customer.Active, customer.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrDuplicate
		}
		return nil, err
	}
	return &customer, nil
}

func (s *Store) GetStock(ctx context.Context, branchID string, productID string) (*domain.InventoryStock, error) {
	row := domain.InventoryStock{BranchID: branchID, ProductID: productID}
	err := s.db.QueryRowContext(ctx, `
		SELECT available, minimum
		FROM inventory_stocks
		WHERE branch_id = $1 AND product_id = $2
	`, branchID, productID).Scan(&row.Available, &row.Minimum)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &row, nil
}

func (s *Store) SetStock(ctx context.Context, row domain.InventoryStock) error {
	if row.BranchID == "" || row.ProductID == "" || row.Available < 0 || row.Minimum < 0 {
		return store.ErrInvalidInput
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO inventory_stocks (branch_id, product_id, available, minimum, updated_at)
		VALUES ($1,$2,$3,$4,now())
		ON CONFLICT (branch_id, product_id)
		DO UPDATE SET available = EXCLUDED.available, minimum = EXCLUDED.minimum, updated_at = now()
	`, row.BranchID, row.ProductID, row.Available, row.Minimum)
	if err != nil {
		if isForeignKeyViolation(err) {
			return store.ErrNotFound
		}
		return err
	}
	return nil
}

// InTx runs fn in a READ COMMITTED transaction. The conditional stock update
// re-checks its predicate against the latest committed row after waiting on
// the row lock, so no stronger isolation is needed to prevent overselling.
func (s *Store) InTx(ctx context.Context, fn func(uow store.UnitOfWork) error) error {
	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return err
	}
	defer func() { _ = pgTx.Rollback() }()

	if err := fn(&unit{tx: pgTx}); err != nil {
		return err
	}
	return pgTx.Commit()
}

func (s *Store) FindTransactionByIdempotency(ctx context.Context, key string) (*domain.Transaction, error) {
	return s.findTransaction(ctx, "idempotency_key", key)
}

func (s *Store) FindTransactionByID(ctx context.Context, id string) (*domain.Transaction, error) {
	return s.findTransaction(ctx, "id", id)
}

func (s *Store) findTransaction(ctx context.Context, column string, value string) (*domain.Transaction, error) {
	if column != "id" && column != "idempotency_key" {
		return nil, fmt.Errorf("unsupported lookup column")
	}

	var tx domain.Transaction
	var cashierID, idempotencyKey, notes sql.NullString

	query := fmt.Sprintf(`
		SELECT id, customer_id, branch_id, cashier_id, shift, idempotency_key,
			payment_method, status, notes,
			total_service_amount, total_product_amount, total_amount, created_at
		FROM transactions
		WHERE %s = $1
	`, column)

	err := s.db.QueryRowContext(ctx, query, value).Scan(
		&tx.ID,
		&tx.CustomerID,
		&tx.BranchID,
		&cashierID,
		&tx.Shift,
		&idempotencyKey,
		&tx.PaymentMethod,
		&tx.Status,
		&notes,
		&tx.Totals.ServiceAmount,
		&tx.Totals.ProductAmount,
		&tx.Totals.TotalAmount,
		&tx.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	tx.CashierID = cashierID.String
	tx.IdempotencyKey = idempotencyKey.String
	tx.Notes = notes.String
	tx.CreatedAt = tx.CreatedAt.UTC()

	services, err := s.serviceLines(ctx, tx.ID)
	if err != nil {
		return nil, err
	}
	products, err := s.productLines(ctx, tx.ID)
	if err != nil {
		return nil, err
	}
	tx.Services = services
	tx.Products = products
	return &tx, nil
}

func (s *Store) serviceLines(ctx context.Context, transactionID string) ([]domain.ServiceLine, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT service_id, quantity, unit_price, subtotal, fee_component, is_wash_type
		FROM transaction_services
		WHERE transaction_id = $1
		ORDER BY id ASC
	`, transactionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	lines := make([]domain.ServiceLine, 0, 8)
	for rows.Next() {
		line := domain.ServiceLine{TransactionID: transactionID}
		if err := rows.Scan(&line.ServiceID, &line.Quantity, &line.UnitPrice, &line.Subtotal, &line.FeeComponent, &line.IsWashType); err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	return lines, rows.Err()
}

func (s *Store) productLines(ctx context.Context, transactionID string) ([]domain.ProductLine, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT product_id, quantity, unit_price, subtotal, is_free, free_quantity
		FROM transaction_products
		WHERE transaction_id = $1
		ORDER BY id ASC
	`, transactionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	lines := make([]domain.ProductLine, 0, 8)
	for rows.Next() {
		line := domain.ProductLine{TransactionID: transactionID}
		if err := rows.Scan(&line.ProductID, &line.Quantity, &line.UnitPrice, &line.Subtotal, &line.IsFree, &line.FreeQuantity); err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	return lines, rows.Err()
}

// ApplyWashActivity folds accrual and redemption into one UPDATE so the row
// lock covers the whole read-modify-write. The stored balance is
// max(0, floor(new_total / per) - old_redeemed - free), which equals
// clamping after accrual and clamping again after redemption.
func (s *Store) ApplyWashActivity(ctx context.Context, customerID string, paidWashes int, freeWashes int, washesPerReward int) (*domain.LoyaltyDelta, error) {
	if washesPerReward < 1 || paidWashes < 0 || freeWashes < 0 {
		return nil, store.ErrInvalidInput
	}

	delta := domain.LoyaltyDelta{CustomerID: customerID, PaidWashes: paidWashes, FreeWashes: freeWashes}
	err := s.db.QueryRowContext(ctx, `
		UPDATE customers
		SET total_washes = total_washes + $2,
			loyalty_points = GREATEST(0, (total_washes + $2) / $4 - total_redeemed - $3),
			total_redeemed = total_redeemed + $3
		WHERE id = $1
		RETURNING total_washes, loyalty_points, total_redeemed
	`, customerID, paidWashes, freeWashes, washesPerReward).Scan(&delta.TotalWashes, &delta.LoyaltyPoints, &delta.TotalRedeemed)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
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
		INSERT INTO app_users (username, password, role, branch_id, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,now())
	`, user.Username, user.Password, string(user.Role), nullIfEmpty(user.BranchID), user.Active, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrDuplicate
		}
		return err
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, COALESCE(branch_id, ''), active, created_at
		FROM app_users
		ORDER BY username ASC
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
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidInput
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE app_users
		SET password = $2, updated_at = now()
		WHERE username = $1
	`, username, password)
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
		SET available = available - $3, updated_at = now()
		WHERE branch_id = $1 AND product_id = $2 AND available >= $3
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
		SELECT available FROM inventory_stocks
		WHERE branch_id = $1 AND product_id = $2
	`, branchID, productID).Scan(&available)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, store.ErrNotFound
		}
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
			id, customer_id, branch_id, cashier_id, shift, idempotency_key,
			payment_method, status, notes,
			total_service_amount, total_product_amount, total_amount, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
	`,
		tx.ID, tx.CustomerID, tx.BranchID, nullIfEmpty(tx.CashierID), tx.Shift, nullIfEmpty(tx.IdempotencyKey),
		tx.PaymentMethod, tx.Status, nullIfEmpty(tx.Notes),
		tx.Totals.ServiceAmount, tx.Totals.ProductAmount, tx.Totals.TotalAmount, tx.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrDuplicate
		}
		if isForeignKeyViolation(err) {
			return store.ErrNotFound
		}
		return err
	}
	return nil
}

func (u *unit) InsertServiceLine(ctx context.Context, line domain.ServiceLine) error {
	_, err := u.tx.ExecContext(ctx, `
		INSERT INTO transaction_services (transaction_id, service_id, quantity, unit_price, subtotal, fee_component, is_wash_type)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, line.TransactionID, line.ServiceID, line.Quantity, line.UnitPrice, line.Subtotal, line.FeeComponent, line.IsWashType)
	if isForeignKeyViolation(err) {
		return store.ErrNotFound
	}
	return err
}

func (u *unit) InsertProductLine(ctx context.Context, line domain.ProductLine) error {
	_, err := u.tx.ExecContext(ctx, `
		INSERT INTO transaction_products (transaction_id, product_id, quantity, unit_price, subtotal, is_free, free_quantity)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, line.TransactionID, line.ProductID, line.Quantity, line.UnitPrice, line.Subtotal, line.IsFree, line.FreeQuantity)
	if isForeignKeyViolation(err) {
		return store.ErrNotFound
	}
	return err
}

func (u *unit) RecomputeTotals(ctx context.Context, transactionID string) (domain.Totals, error) {
	var totals domain.Totals
	err := u.tx.QueryRowContext(ctx, `
		UPDATE transactions t
		SET total_service_amount = sv.amount,
			total_product_amount = pr.amount,
			total_amount = sv.amount + pr.amount
		FROM
			(SELECT COALESCE(SUM(subtotal), 0)::BIGINT AS amount FROM transaction_services WHERE transaction_id = $1) sv,
			(SELECT COALESCE(SUM(subtotal), 0)::BIGINT AS amount FROM transaction_products WHERE transaction_id = $1) pr
		WHERE t.id = $1
		RETURNING t.total_service_amount, t.total_product_amount, t.total_amount
	`, transactionID).Scan(&totals.ServiceAmount, &totals.ProductAmount, &totals.TotalAmount)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Totals{}, store.ErrNotFound
		}
		return domain.Totals{}, err
	}
	return totals, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23503"
	}
	return false
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}
