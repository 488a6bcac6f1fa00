package domain

import "time"

// Service is a catalog entry for a laundry service (wash, dry, iron, ...).
type Service struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Price      int64  `json:"price"`
	FeeAmount  int64  `json:"fee_amount"`
	IsWashType bool   `json:"is_wash_type"`
	Active     bool   `json:"active"`
}

// Product is a catalog entry for a retail/promotional product sold at the counter.
type Product struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Price  int64  `json:"price"`
	Active bool   `json:"active"`
}

type Customer struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Phone         string    `json:"phone"`
	BranchID      string    `json:"branch_id"`
	TotalWashes   int       `json:"total_washes"`
	LoyaltyPoints int       `json:"loyalty_points"`
	TotalRedeemed int       `json:"total_redeemed"`
	Active        bool      `json:"active"`
	CreatedAt     time.Time `json:"created_at"`
}

type InventoryStock struct {
	BranchID  string `json:"branch_id"`
	ProductID string `json:"product_id"`
	Available int    `json:"available"`
	Minimum   int    `json:"minimum"`
}

type ServiceCartEntry struct {
	CatalogID string `json:"catalog_id"`
	Quantity  int    `json:"quantity"`
	UnitPrice int64  `json:"unit_price"`
	IsFree    bool   `json:"is_free"`
}

type ProductCartEntry struct {
	CatalogID    string `json:"catalog_id"`
	Quantity     int    `json:"quantity"`
	UnitPrice    int64  `json:"unit_price"`
	IsFree       bool   `json:"is_free"`
	FreeQuantity *int   `json:"free_quantity,omitempty"`
}

type RecordTransactionRequest struct {
	CustomerID     string             `json:"customer_id"`
	BranchID       string             `json:"branch_id"`
	Shift          string             `json:"shift"`
	CashierID      string             `json:"cashier_id"`
	IdempotencyKey string             `json:"idempotency_key,omitempty"`
	PaymentMethod  string             `json:"payment_method"`
	Notes          string             `json:"notes,omitempty"`
	Draft          bool               `json:"draft"`
	Services       []ServiceCartEntry `json:"services"`
	Products       []ProductCartEntry `json:"products"`
}

// ServiceLine is one persisted unit of a service. A cart entry with quantity N
// becomes N rows of quantity 1.
type ServiceLine struct {
	TransactionID string `json:"transaction_id"`
	ServiceID     string `json:"service_id"`
	Quantity      int    `json:"quantity"`
	UnitPrice     int64  `json:"unit_price"`
	Subtotal      int64  `json:"subtotal"`
	FeeComponent  int64  `json:"fee_component"`
	IsWashType    bool   `json:"is_wash_type"`
}

type ProductLine struct {
	TransactionID string `json:"transaction_id"`
	ProductID     string `json:"product_id"`
	Quantity      int    `json:"quantity"`
	UnitPrice     int64  `json:"unit_price"`
	Subtotal      int64  `json:"subtotal"`
	IsFree        bool   `json:"is_free"`
	FreeQuantity  int    `json:"free_quantity"`
}

// Totals are the three header aggregates. They are always derived from the
// persisted lines.
type Totals struct {
	ServiceAmount int64 `json:"total_service_amount"`
	ProductAmount int64 `json:"total_product_amount"`
	TotalAmount   int64 `json:"total_amount"`
}

type Transaction struct {
	ID             string
	CustomerID     string
	BranchID       string
	CashierID      string
	Shift          string
	IdempotencyKey string
	PaymentMethod  string
	Status         string
	Notes          string
	Totals         Totals
	CreatedAt      time.Time
	Services       []ServiceLine
	Products       []ProductLine
}

type LoyaltyDelta struct {
	CustomerID    string `json:"customer_id"`
	PaidWashes    int    `json:"paid_washes"`
	FreeWashes    int    `json:"free_washes"`
	NewlyEarned   int    `json:"newly_earned"`
	TotalWashes   int    `json:"total_washes"`
	LoyaltyPoints int    `json:"loyalty_points"`
	TotalRedeemed int    `json:"total_redeemed"`
}

// LoyaltyAchievement is emitted when a committed transaction crosses one or
// more reward milestones.
type LoyaltyAchievement struct {
	CustomerID           string    `json:"customer_id"`
	TransactionID        string    `json:"transaction_id"`
	NewlyEarned          int       `json:"newly_earned"`
	TotalAvailablePoints int       `json:"total_available_points"`
	At                   time.Time `json:"at"`
}

type RecordTransactionResponse struct {
	TransactionID      string              `json:"transaction_id"`
	Status             string              `json:"status"`
	PaymentMethod      string              `json:"payment_method"`
	TotalServiceAmount int64               `json:"total_service_amount"`
	TotalProductAmount int64               `json:"total_product_amount"`
	TotalAmount        int64               `json:"total_amount"`
	Services           []ServiceLine       `json:"services"`
	Products           []ProductLine       `json:"products"`
	Loyalty            *LoyaltyDelta       `json:"loyalty,omitempty"`
	Achievement        *LoyaltyAchievement `json:"achievement,omitempty"`
	Duplicate          bool                `json:"duplicate"`
	CreatedAt          string              `json:"created_at"`
}

type RegisterCustomerRequest struct {
	Name     string `json:"name"`
	Phone    string `json:"phone"`
	BranchID string `json:"branch_id"`
}

type CustomerLoyaltyResponse struct {
	CustomerID         string `json:"customer_id"`
	TotalWashes        int    `json:"total_washes"`
	EarnedPoints       int    `json:"earned_points"`
	TotalRedeemed      int    `json:"total_redeemed"`
	LoyaltyPoints      int    `json:"loyalty_points"`
	WashesToNextReward int    `json:"washes_to_next_reward"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        Role   `json:"role"`
	BranchID    string `json:"branch_id"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	Username string
	Role     Role
	BranchID string
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      Role
	BranchID  string
	Active    bool
	CreatedAt time.Time
}

const (
	TxStatusPending   = "pending"
	TxStatusCompleted = "selesai"
	TxStatusCancelled = "dibatalkan"
)

const (
	PaymentCash     = "cash"
	PaymentTransfer = "transfer"
	PaymentQRIS     = "qris"
)

func IsSupportedPaymentMethod(method string) bool {
	switch method {
	case PaymentCash, PaymentTransfer, PaymentQRIS:
		return true
	default:
		return false
	}
}
