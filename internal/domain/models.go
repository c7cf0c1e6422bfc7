package domain

import "time"

// StockAction is the closed set of ledger event kinds. Aggregations must
// handle every value explicitly; Sign reports how an action moves stock.
type StockAction string

const (
	ActionAdded   StockAction = "added"
	ActionSold    StockAction = "sold"
	ActionRemoved StockAction = "removed"
)

func (a StockAction) Valid() bool {
	switch a {
	case ActionAdded, ActionSold, ActionRemoved:
		return true
	}
	return false
}

// Sign returns the signed direction of the action (+1 adds stock, -1 takes
// stock) and false for an unknown action.
func (a StockAction) Sign() (int, bool) {
	switch a {
	case ActionAdded:
		return 1, true
	case ActionSold, ActionRemoved:
		return -1, true
	}
	return 0, false
}

const (
	RoleManager = "manager"
	RoleCashier = "cashier"
)

type Nursery struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Address       string    `json:"address,omitempty"`
	ContactNumber string    `json:"contact_number,omitempty"`
	Email         string    `json:"email,omitempty"`
	ManagerID     string    `json:"manager_id"`
	CreatedAt     time.Time `json:"created_at"`
}

type NurseryCreateRequest struct {
	Name          string `json:"name"`
	Address       string `json:"address"`
	ContactNumber string `json:"contact_number"`
	Email         string `json:"email"`
}

// Item carries the cached current-quantity projection. Quantity is mutated
// only through ledger-producing operations so that it always equals the
// signed sum of the item's stock log entries.
type Item struct {
	ID             string    `json:"id"`
	NurseryID      string    `json:"nursery_id"`
	Name           string    `json:"name"`
	Code           string    `json:"code"`
	Category       string    `json:"category"`
	SubCategory    string    `json:"sub_category,omitempty"`
	Unit           string    `json:"unit"`
	CostPriceCents int64     `json:"cost_price_cents"`
	PriceCents     int64     `json:"price_cents"`
	Quantity       int       `json:"quantity"`
	Archived       bool      `json:"archived"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

type ItemCreateRequest struct {
	Name            string `json:"name"`
	Code            string `json:"code"`
	Category        string `json:"category"`
	SubCategory     string `json:"sub_category"`
	Unit            string `json:"unit"`
	CostPriceCents  int64  `json:"cost_price_cents"`
	PriceCents      int64  `json:"price_cents"`
	InitialQuantity int    `json:"initial_quantity"`
}

type ItemPriceUpdateRequest struct {
	PriceCents     *int64 `json:"price_cents,omitempty"`
	CostPriceCents *int64 `json:"cost_price_cents,omitempty"`
}

type RestockRequest struct {
	Quantity int    `json:"quantity"`
	Note     string `json:"note"`
}

type StockRemovalRequest struct {
	Quantity int    `json:"quantity"`
	Note     string `json:"note"`
}

// StockLog is one immutable entry of the append-only stock ledger. Item name
// and code are denormalized so entries stay renderable after an item is
// archived or deleted.
type StockLog struct {
	ID              string      `json:"id"`
	NurseryID       string      `json:"nursery_id"`
	ItemID          string      `json:"item_id"`
	ItemName        string      `json:"item_name"`
	ItemCode        string      `json:"item_code"`
	Action          StockAction `json:"action"`
	QuantityChanged int         `json:"quantity_changed"`
	AmountCents     int64       `json:"amount_cents"`
	PerformedBy     string      `json:"performed_by,omitempty"`
	PerformedAt     time.Time   `json:"performed_at"`
	Note            string      `json:"note,omitempty"`
}

// LedgerFilter narrows a stock log listing. Zero values mean "no filter".
// Results are ordered performed_at descending with id as a stable tie-break,
// so pagination via Limit/Offset never skips or repeats entries.
type LedgerFilter struct {
	ItemID string
	Action StockAction
	From   time.Time
	To     time.Time
	Limit  int
	Offset int
}

type SaleLine struct {
	ItemID         string `json:"item_id"`
	ItemName       string `json:"item_name,omitempty"`
	Quantity       int    `json:"quantity"`
	UnitPriceCents int64  `json:"unit_price_cents"`
	UnitCostCents  int64  `json:"unit_cost_cents"`
}

type SaleLineRequest struct {
	ItemID   string `json:"item_id"`
	Quantity int    `json:"quantity"`
}

type SaleRequest struct {
	PaymentMethod string            `json:"payment_method"`
	Items         []SaleLineRequest `json:"items"`
}

// Transaction is one committed multi-line sale. It is written in the same
// atomic unit as its quantity decrements and sold ledger entries, and is the
// authoritative source for revenue/profit reporting.
type Transaction struct {
	ID               string     `json:"id"`
	NurseryID        string     `json:"nursery_id"`
	CashierID        string     `json:"cashier_id"`
	PaymentMethod    string     `json:"payment_method"`
	TotalAmountCents int64      `json:"total_amount_cents"`
	TotalProfitCents int64      `json:"total_profit_cents"`
	CreatedAt        time.Time  `json:"created_at"`
	Items            []SaleLine `json:"items"`
}

type MonthlyRevenueRow struct {
	Year              int   `json:"year"`
	Month             int   `json:"month"`
	TotalRevenueCents int64 `json:"total_revenue_cents"`
}

type MonthlyItemsSoldRow struct {
	Year              int   `json:"year"`
	Month             int   `json:"month"`
	TotalQuantitySold int64 `json:"total_quantity_sold"`
}

type TopSellingItemRow struct {
	ItemCode          string `json:"item_code"`
	Name              string `json:"name"`
	TotalQuantitySold int64  `json:"total_quantity_sold"`
	TotalSalesCents   int64  `json:"total_sales_cents"`
}

type StockLevelRow struct {
	ItemCode     string `json:"item_code"`
	Name         string `json:"name"`
	CurrentStock int    `json:"current_stock"`
}

type ProfitLossRow struct {
	Year              int   `json:"year"`
	Month             int   `json:"month"`
	TotalRevenueCents int64 `json:"total_revenue_cents"`
	TotalProfitCents  int64 `json:"total_profit_cents"`
}

type StockMismatch struct {
	ItemCode       string `json:"item_code"`
	Name           string `json:"name"`
	CachedQuantity int    `json:"cached_quantity"`
	LedgerQuantity int    `json:"ledger_quantity"`
}

// ReconciliationReport is the result of replaying the ledger against the
// cached item quantities. Mismatches must be empty in correct operation.
type ReconciliationReport struct {
	NurseryID    string          `json:"nursery_id"`
	CheckedItems int             `json:"checked_items"`
	Mismatches   []StockMismatch `json:"mismatches"`
	CheckedAt    string          `json:"checked_at"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	NurseryID   string `json:"nursery_id"`
	ExpiresAt   string `json:"expires_at"`
}

// Actor is the authenticated principal attached to a request context.
type Actor struct {
	UserID    string
	Email     string
	Role      string
	NurseryID string
}

type UserCreateRequest struct {
	FullName string `json:"full_name"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

type StaffUser struct {
	UserID    string    `json:"user_id"`
	FullName  string    `json:"full_name"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	NurseryID string    `json:"nursery_id"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	ID        string
	NurseryID string
	FullName  string
	Email     string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}
