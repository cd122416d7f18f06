package domain

import "time"

type Product struct {
	ID                string `json:"id"`
	Name              string `json:"name"`
	Category          string `json:"category"`
	PriceCents        int64  `json:"price_cents"`
	ImageURL          string `json:"image_url"`
	Stock             int    `json:"stock"`
	LowStockThreshold int    `json:"low_stock_threshold"`
}

type ProductCreateRequest struct {
	Name              string `json:"name"`
	Category          string `json:"category"`
	PriceCents        int64  `json:"price_cents"`
	ImageURL          string `json:"image_url"`
	InitialStock      int    `json:"initial_stock"`
	LowStockThreshold int    `json:"low_stock_threshold"`
}

type ProductUpdateRequest struct {
	Name              *string `json:"name,omitempty"`
	Category          *string `json:"category,omitempty"`
	PriceCents        *int64  `json:"price_cents,omitempty"`
	ImageURL          *string `json:"image_url,omitempty"`
	LowStockThreshold *int    `json:"low_stock_threshold,omitempty"`
}

// Discount is an order-level price reduction. Exactly one of Percent
// or AmountCents is meaningful, selected by Type; a zero discount is Type
// DiscountNone, never a zero-valued percentage or fixed amount.
type Discount struct {
	Type        string  `json:"type"`
	Percent     float64 `json:"percent,omitempty"`
	AmountCents int64   `json:"amount_cents,omitempty"`
}

type CartLine struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
	Notes     string `json:"notes"`
}

// Sale is one in-progress cart tab at the register.
type Sale struct {
	ID       int64      `json:"id"`
	Name     string     `json:"name"`
	Lines    []CartLine `json:"lines"`
	Discount Discount   `json:"discount"`
}

type Totals struct {
	SubtotalCents int64 `json:"subtotal_cents"`
	DiscountCents int64 `json:"discount_cents"`
	TaxCents      int64 `json:"tax_cents"`
	TotalCents    int64 `json:"total_cents"`
}

// OrderLine carries a denormalized product snapshot so later product edits or
// deletions cannot alter committed history.
type OrderLine struct {
	ProductID      string `json:"product_id"`
	ProductName    string `json:"product_name"`
	Quantity       int    `json:"quantity"`
	UnitPriceCents int64  `json:"unit_price_cents"`
	Notes          string `json:"notes"`
}

type Order struct {
	ID            string      `json:"id"`
	CreatedAt     time.Time   `json:"created_at"`
	Lines         []OrderLine `json:"lines"`
	SubtotalCents int64       `json:"subtotal_cents"`
	DiscountCents int64       `json:"discount_cents"`
	TaxCents      int64       `json:"tax_cents"`
	TotalCents    int64       `json:"total_cents"`
	PaymentMethod string      `json:"payment_method"`
	Cashier       string      `json:"cashier"`
	BranchID      string      `json:"branch_id"`
}

// OrderDraft is the checkout input handed to the repository. The repository
// resolves current product names and prices, recomputes totals and applies
// the stock decrements atomically.
type OrderDraft struct {
	Lines          []CartLine
	Discount       Discount
	TaxRatePercent float64
	PaymentMethod  string
	Cashier        string
	BranchID       string
}

type StockLogEntry struct {
	ID             string    `json:"id"`
	ProductID      string    `json:"product_id"`
	ProductName    string    `json:"product_name"`
	QuantityChange int       `json:"quantity_change"`
	NewStock       int       `json:"new_stock"`
	Reason         string    `json:"reason"`
	Type           string    `json:"type"`
	User           string    `json:"user"`
	CreatedAt      time.Time `json:"created_at"`
}

type StockAdjustmentRequest struct {
	ProductID      string `json:"product_id"`
	QuantityChange int    `json:"quantity_change"`
	Reason         string `json:"reason"`
}

type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Role     string `json:"role"`
	BranchID string `json:"branch_id"`
}

// UserAccount is the internal persistence model carrying the credential hash.
type UserAccount struct {
	ID        string
	Username  string
	Password  string
	Role      string
	BranchID  string
	CreatedAt time.Time
}

type UserCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Role     string `json:"role"`
	BranchID string `json:"branch_id"`
}

type UserUpdateRequest struct {
	Password *string `json:"password,omitempty"`
	Role     *string `json:"role,omitempty"`
	BranchID *string `json:"branch_id,omitempty"`
}

type Branch struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Location string `json:"location"`
}

type Settings struct {
	TaxRatePercent float64 `json:"tax_rate_percent"`
	CurrencyCode   string  `json:"currency_code"`
}

type Actor struct {
	Username string
	Role     string
	BranchID string
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	BranchID    string `json:"branch_id"`
	ExpiresAt   string `json:"expires_at"`
}

type CheckoutRequest struct {
	PaymentMethod string `json:"payment_method"`
}

type CheckoutResponse struct {
	Order Order `json:"order"`
}

// RegisterState is the cashier-facing view of the cart engine: every open
// tab, which one is active, and the active tab's live totals.
type RegisterState struct {
	Sales        []Sale `json:"sales"`
	ActiveSaleID int64  `json:"active_sale_id"`
	Totals       Totals `json:"totals"`
}

type SalesReport struct {
	Period               string `json:"period"`
	BranchID             string `json:"branch_id"`
	Orders               int64  `json:"orders"`
	RevenueCents         int64  `json:"revenue_cents"`
	DiscountCents        int64  `json:"discount_cents"`
	TaxCents             int64  `json:"tax_cents"`
	EstimatedProfitCents int64  `json:"estimated_profit_cents"`
}

type DescribeResponse struct {
	ProductID   string `json:"product_id"`
	ProductName string `json:"product_name"`
	Description string `json:"description"`
	Cached      bool   `json:"cached"`
}

const (
	DiscountNone       = "none"
	DiscountPercentage = "percentage"
	DiscountFixed      = "fixed"
)

const (
	StockLogInitial          = "initial"
	StockLogSale             = "sale"
	StockLogAdjustmentAdd    = "adjustment-add"
	StockLogAdjustmentRemove = "adjustment-remove"
	StockLogImport           = "import"
)

const (
	RoleAdmin   = "admin"
	RoleManager = "manager"
	RoleCashier = "cashier"
	RoleStaff   = "staff"
)

const (
	ReportPeriodDaily   = "daily"
	ReportPeriodWeekly  = "weekly"
	ReportPeriodMonthly = "monthly"
	ReportPeriodAll     = "all"
)
