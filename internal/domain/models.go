package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	RoleAdmin   = "admin"
	RoleCashier = "cashier"
)

const (
	SaleKindSale   = "sale"
	SaleKindReturn = "return"
)

const (
	PartyCustomer = "customer"
	PartySupplier = "supplier"
)

// Ledger entry types. DUE raises the outstanding balance, PAYMENT and RETURN lower it.
const (
	EntryDue     = "DUE"
	EntryPayment = "PAYMENT"
	EntryReturn  = "RETURN"
)

const (
	RefSale     = "sale"
	RefReturn   = "return"
	RefPurchase = "purchase"
	RefManual   = "manual"
)

type Shop struct {
	Name           string    `json:"name"`
	Address        string    `json:"address"`
	Phone          string    `json:"phone"`
	Currency       string    `json:"currency"`
	TaxRatePercent float64   `json:"tax_rate_percent"`
	TaxInclusive   bool      `json:"tax_inclusive"`
	Language       string    `json:"language"`
	PhoneRegion    string    `json:"phone_region"`
	UpdatedAt      time.Time `json:"updated_at"`
}

type ShopUpdateRequest struct {
	Name           *string  `json:"name,omitempty" validate:"omitempty,min=1,max=120"`
	Address        *string  `json:"address,omitempty" validate:"omitempty,max=250"`
	Phone          *string  `json:"phone,omitempty"`
	Currency       *string  `json:"currency,omitempty" validate:"omitempty,min=1,max=8"`
	TaxRatePercent *float64 `json:"tax_rate_percent,omitempty" validate:"omitempty,gte=0,lte=100"`
	TaxInclusive   *bool    `json:"tax_inclusive,omitempty"`
	Language       *string  `json:"language,omitempty" validate:"omitempty,oneof=en bn"`
	PhoneRegion    *string  `json:"phone_region,omitempty" validate:"omitempty,len=2"`
}

type Product struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	LocalName      string          `json:"local_name,omitempty"`
	Unit           string          `json:"unit"`
	SalePriceCents int64           `json:"sale_price_cents"`
	CostPriceCents int64           `json:"cost_price_cents"`
	StockQty       decimal.Decimal `json:"stock_qty"`
	Category       string          `json:"category"`
	MinStockAlert  decimal.Decimal `json:"min_stock_alert"`
	Barcode        string          `json:"barcode,omitempty"`
	Active         bool            `json:"active"`
	ExpiryDate     *time.Time      `json:"expiry_date,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// LowStock reports whether the product has reached its reorder threshold.
func (p Product) LowStock() bool {
	return p.StockQty.LessThanOrEqual(p.MinStockAlert)
}

type ProductCreateRequest struct {
	Name           string           `json:"name" validate:"required,max=120"`
	LocalName      string           `json:"local_name" validate:"max=120"`
	Unit           string           `json:"unit" validate:"max=16"`
	SalePriceCents int64            `json:"sale_price_cents" validate:"gte=0"`
	CostPriceCents int64            `json:"cost_price_cents" validate:"gte=0"`
	InitialStock   decimal.Decimal  `json:"initial_stock"`
	Category       string           `json:"category" validate:"max=60"`
	MinStockAlert  *decimal.Decimal `json:"min_stock_alert,omitempty"`
	Barcode        string           `json:"barcode" validate:"max=64"`
	ExpiryDate     string           `json:"expiry_date" validate:"omitempty,datetime=2006-01-02"`
}

type ProductUpdateRequest struct {
	Name           *string          `json:"name,omitempty" validate:"omitempty,min=1,max=120"`
	LocalName      *string          `json:"local_name,omitempty" validate:"omitempty,max=120"`
	Unit           *string          `json:"unit,omitempty" validate:"omitempty,min=1,max=16"`
	SalePriceCents *int64           `json:"sale_price_cents,omitempty" validate:"omitempty,gte=0"`
	CostPriceCents *int64           `json:"cost_price_cents,omitempty" validate:"omitempty,gte=0"`
	Category       *string          `json:"category,omitempty" validate:"omitempty,min=1,max=60"`
	MinStockAlert  *decimal.Decimal `json:"min_stock_alert,omitempty"`
	Barcode        *string          `json:"barcode,omitempty" validate:"omitempty,max=64"`
	Active         *bool            `json:"active,omitempty"`
	ExpiryDate     *string          `json:"expiry_date,omitempty" validate:"omitempty,datetime=2006-01-02"`
}

type StockCorrectionRequest struct {
	Qty    decimal.Decimal `json:"qty"`
	Reason string          `json:"reason" validate:"required,max=250"`
}

type Customer struct {
	ID                 string    `json:"id"`
	Name               string    `json:"name"`
	Phone              string    `json:"phone,omitempty"`
	Address            string    `json:"address,omitempty"`
	TotalDueCents      int64     `json:"total_due_cents"`
	TotalPurchaseCents int64     `json:"total_purchase_cents"`
	TotalPaidCents     int64     `json:"total_paid_cents"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

type Supplier struct {
	ID                  string    `json:"id"`
	Name                string    `json:"name"`
	Phone               string    `json:"phone,omitempty"`
	Address             string    `json:"address,omitempty"`
	TotalDueCents       int64     `json:"total_due_cents"`
	TotalPurchasedCents int64     `json:"total_purchased_cents"`
	TotalPaidCents      int64     `json:"total_paid_cents"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// PartyRequest creates or updates a customer or supplier profile.
type PartyRequest struct {
	Name    string `json:"name" validate:"required,max=120"`
	Phone   string `json:"phone" validate:"max=32"`
	Address string `json:"address" validate:"max=250"`
}

type SaleItem struct {
	ProductID      string          `json:"product_id"`
	ProductName    string          `json:"product_name"`
	Category       string          `json:"category"`
	Qty            decimal.Decimal `json:"qty"`
	UnitPriceCents int64           `json:"unit_price_cents"`
	UnitCostCents  int64           `json:"unit_cost_cents"`
	LineTotalCents int64           `json:"line_total_cents"`
}

// Sale is either a regular sale or a return. Returns carry negative
// quantities and amounts and point at the sale they reverse.
type Sale struct {
	ID             string     `json:"id"`
	InvoiceNumber  string     `json:"invoice_number"`
	Kind           string     `json:"kind"`
	OriginalSaleID string     `json:"original_sale_id,omitempty"`
	CustomerID     string     `json:"customer_id,omitempty"`
	IdempotencyKey string     `json:"idempotency_key,omitempty"`
	SubtotalCents  int64      `json:"subtotal_cents"`
	DiscountCents  int64      `json:"discount_cents"`
	TaxCents       int64      `json:"tax_cents"`
	TotalCents     int64      `json:"total_cents"`
	PaidCents      int64      `json:"paid_cents"`
	DueCents       int64      `json:"due_cents"`
	TenderedCents  int64      `json:"tendered_cents"`
	ChangeCents    int64      `json:"change_cents"`
	PaymentMethod  string     `json:"payment_method"`
	Note           string     `json:"note,omitempty"`
	CreatedBy      string     `json:"created_by,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	Items          []SaleItem `json:"items"`
}

// TaxIncluded reports whether the tax was already inside the prices when the
// sale was rung up. Totals of tax-exclusive sales carry the tax on top.
func (s Sale) TaxIncluded() bool {
	return s.TaxCents != 0 && s.TotalCents == s.SubtotalCents-s.DiscountCents
}

type CartItem struct {
	ProductID string          `json:"product_id" validate:"required"`
	Qty       decimal.Decimal `json:"qty"`
}

type SaleRequest struct {
	IdempotencyKey string     `json:"idempotency_key" validate:"max=80"`
	CustomerID     string     `json:"customer_id"`
	Items          []CartItem `json:"items" validate:"required,min=1,dive"`
	DiscountCents  int64      `json:"discount_cents" validate:"gte=0"`
	TenderedCents  int64      `json:"tendered_cents" validate:"gte=0"`
	PaymentMethod  string     `json:"payment_method" validate:"omitempty,oneof=cash card mobile bank"`
	Note           string     `json:"note" validate:"max=250"`
}

type SaleResponse struct {
	Sale      Sale `json:"sale"`
	Duplicate bool `json:"duplicate"`
}

// InvoiceView is everything a printable invoice needs.
type InvoiceView struct {
	Shop     Shop      `json:"shop"`
	Sale     Sale      `json:"sale"`
	Customer *Customer `json:"customer,omitempty"`
	Returns  []Sale    `json:"returns,omitempty"`
}

type ReturnItem struct {
	ProductID string          `json:"product_id" validate:"required"`
	Qty       decimal.Decimal `json:"qty"`
}

type SaleReturnRequest struct {
	SaleID string       `json:"sale_id" validate:"required"`
	Items  []ReturnItem `json:"items" validate:"required,min=1,dive"`
	Note   string       `json:"note" validate:"max=250"`
}

type SaleReturnResponse struct {
	Return         Sale  `json:"return"`
	DueCreditCents int64 `json:"due_credit_cents"`
	RefundCents    int64 `json:"refund_cents"`
}

type PurchaseItem struct {
	ProductID      string          `json:"product_id" validate:"required"`
	Qty            decimal.Decimal `json:"qty"`
	UnitCostCents  int64           `json:"unit_cost_cents" validate:"gte=0"`
	LineTotalCents int64           `json:"line_total_cents"`
}

type Purchase struct {
	ID         string         `json:"id"`
	SupplierID string         `json:"supplier_id,omitempty"`
	Reference  string         `json:"reference,omitempty"`
	TotalCents int64          `json:"total_cents"`
	PaidCents  int64          `json:"paid_cents"`
	DueCents   int64          `json:"due_cents"`
	Note       string         `json:"note,omitempty"`
	CreatedBy  string         `json:"created_by,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	Items      []PurchaseItem `json:"items"`
}

type PurchaseRequest struct {
	SupplierID string         `json:"supplier_id"`
	Reference  string         `json:"reference" validate:"max=80"`
	Items      []PurchaseItem `json:"items" validate:"required,min=1,dive"`
	PaidCents  int64          `json:"paid_cents" validate:"gte=0"`
	Note       string         `json:"note" validate:"max=250"`
}

// LedgerEntry is one row of a customer's or supplier's due log.
// BalanceCents is the outstanding due right after the entry was applied.
type LedgerEntry struct {
	ID            string    `json:"id"`
	PartyType     string    `json:"party_type"`
	PartyID       string    `json:"party_id"`
	EntryType     string    `json:"entry_type"`
	AmountCents   int64     `json:"amount_cents"`
	BalanceCents  int64     `json:"balance_cents"`
	ReferenceType string    `json:"reference_type"`
	ReferenceID   string    `json:"reference_id,omitempty"`
	Note          string    `json:"note,omitempty"`
	CreatedBy     string    `json:"created_by,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

type LedgerPostRequest struct {
	AmountCents int64  `json:"amount_cents" validate:"gt=0"`
	Note        string `json:"note" validate:"max=250"`
}

type LedgerStatement struct {
	PartyType     string        `json:"party_type"`
	PartyID       string        `json:"party_id"`
	PartyName     string        `json:"party_name"`
	BalanceCents  int64         `json:"balance_cents"`
	TotalDueCents int64         `json:"total_due_cents"`
	TotalPaid     int64         `json:"total_paid_cents"`
	TotalReturned int64         `json:"total_returned_cents"`
	Entries       []LedgerEntry `json:"entries"`
	Purchases     []Purchase    `json:"purchases,omitempty"`
}

type LedgerCheck struct {
	PartyType        string `json:"party_type"`
	PartyID          string `json:"party_id"`
	AggregateCents   int64  `json:"aggregate_cents"`
	RecomputedCents  int64  `json:"recomputed_cents"`
	LastBalanceCents int64  `json:"last_balance_cents"`
	Consistent       bool   `json:"consistent"`
}

type Expense struct {
	ID            string    `json:"id"`
	Date          time.Time `json:"date"`
	AmountCents   int64     `json:"amount_cents"`
	Category      string    `json:"category"`
	Description   string    `json:"description,omitempty"`
	PaymentMethod string    `json:"payment_method"`
	CreatedAt     time.Time `json:"created_at"`
}

type ExpenseRequest struct {
	Date          string `json:"date" validate:"omitempty,datetime=2006-01-02"`
	AmountCents   int64  `json:"amount_cents" validate:"gt=0"`
	Category      string `json:"category" validate:"required,max=60"`
	Description   string `json:"description" validate:"max=250"`
	PaymentMethod string `json:"payment_method" validate:"omitempty,oneof=cash card mobile bank"`
}

type ProfitSummary struct {
	From          time.Time `json:"from"`
	To            time.Time `json:"to"`
	SalesCents    int64     `json:"sales_cents"`
	COGSCents     int64     `json:"cogs_cents"`
	GrossCents    int64     `json:"gross_profit_cents"`
	ExpensesCents int64     `json:"expenses_cents"`
	ProfitCents   int64     `json:"profit_cents"`
	SaleCount     int       `json:"sale_count"`
	ReturnCount   int       `json:"return_count"`
}

type ProductProfit struct {
	ProductID    string          `json:"product_id"`
	ProductName  string          `json:"product_name"`
	Category     string          `json:"category"`
	Qty          decimal.Decimal `json:"qty"`
	RevenueCents int64           `json:"revenue_cents"`
	CostCents    int64           `json:"cost_cents"`
	ProfitCents  int64           `json:"profit_cents"`
}

type CategoryProfit struct {
	Category     string `json:"category"`
	RevenueCents int64  `json:"revenue_cents"`
	CostCents    int64  `json:"cost_cents"`
	ProfitCents  int64  `json:"profit_cents"`
}

type ExpenseVsIncome struct {
	From          time.Time `json:"from"`
	To            time.Time `json:"to"`
	IncomeCents   int64     `json:"income_cents"`
	ExpensesCents int64     `json:"expenses_cents"`
	NetCents      int64     `json:"net_cents"`
}

type ExpenseCategoryTotal struct {
	Category    string `json:"category"`
	AmountCents int64  `json:"amount_cents"`
	Count       int    `json:"count"`
}

type ExpenseReport struct {
	From       time.Time              `json:"from"`
	To         time.Time              `json:"to"`
	TotalCents int64                  `json:"total_cents"`
	Categories []ExpenseCategoryTotal `json:"categories"`
}

type Dashboard struct {
	Date              string    `json:"date"`
	TodaySalesCents   int64     `json:"today_sales_cents"`
	TodayExpenseCents int64     `json:"today_expense_cents"`
	TodayProfitCents  int64     `json:"today_profit_cents"`
	CustomerDueCents  int64     `json:"customer_due_cents"`
	SupplierDueCents  int64     `json:"supplier_due_cents"`
	LowStock          []Product `json:"low_stock"`
	Expired           []Product `json:"expired"`
	GeneratedAt       time.Time `json:"generated_at"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	Username string
	Role     string
}

type CashierCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type CashierStatusRequest struct {
	Active *bool `json:"active"`
}

type CashierUser struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}

type AuditLog struct {
	ID            string    `json:"id"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     string    `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}
