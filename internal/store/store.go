package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"shopkeeper/backend/internal/domain"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrInsufficientStock  = errors.New("insufficient stock")
	ErrInvalidTransaction = errors.New("invalid transaction")
	ErrOverpayment        = errors.New("amount exceeds outstanding due")
	ErrReturnExceedsSale  = errors.New("return exceeds sold quantity")
)

type Repository interface {
	GetShop(ctx context.Context) (*domain.Shop, error)
	SaveShop(ctx context.Context, shop domain.Shop) (*domain.Shop, error)

	ListProducts(ctx context.Context, includeInactive bool) ([]domain.Product, error)
	SearchProducts(ctx context.Context, query string) ([]domain.Product, error)
	GetProduct(ctx context.Context, id string) (*domain.Product, error)
	GetProductsByIDs(ctx context.Context, ids []string) (map[string]domain.Product, error)
	CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	// UpdateProduct writes the product profile. Stock always keeps its stored
	// value, and so does the cost price unless setCost is true, because
	// purchases re-average it between a read and this write.
	UpdateProduct(ctx context.Context, product domain.Product, setCost bool) (*domain.Product, error)
	ListLowStockProducts(ctx context.Context) ([]domain.Product, error)
	ListExpiredProducts(ctx context.Context, at time.Time) ([]domain.Product, error)
	// SetStock overwrites the on-hand quantity and returns the previous value.
	SetStock(ctx context.Context, productID string, qty decimal.Decimal) (decimal.Decimal, error)

	ListCustomers(ctx context.Context) ([]domain.Customer, error)
	SearchCustomers(ctx context.Context, query string) ([]domain.Customer, error)
	GetCustomer(ctx context.Context, id string) (*domain.Customer, error)
	CreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error)
	UpdateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error)
	TotalCustomerDue(ctx context.Context) (int64, error)

	ListSuppliers(ctx context.Context) ([]domain.Supplier, error)
	GetSupplier(ctx context.Context, id string) (*domain.Supplier, error)
	CreateSupplier(ctx context.Context, supplier domain.Supplier) (*domain.Supplier, error)
	UpdateSupplier(ctx context.Context, supplier domain.Supplier) (*domain.Supplier, error)
	TotalSupplierDue(ctx context.Context) (int64, error)

	// PostLedgerEntry applies entry to the party's aggregate due and appends it
	// to the party's log in one unit of work. BalanceCents is filled in.
	PostLedgerEntry(ctx context.Context, entry domain.LedgerEntry) (*domain.LedgerEntry, error)
	ListLedgerEntries(ctx context.Context, partyType string, partyID string) ([]domain.LedgerEntry, error)
	LedgerBalance(ctx context.Context, partyType string, partyID string) (int64, error)

	// CreateSale checks and decrements stock, stores the sale, updates the
	// customer totals and posts the customer DUE entry atomically.
	CreateSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error)
	// CreateSaleReturn stores a negative sale, restores stock and posts the
	// RETURN entry for dueCreditCents atomically.
	CreateSaleReturn(ctx context.Context, ret domain.Sale, dueCreditCents int64) (*domain.Sale, error)
	GetSale(ctx context.Context, id string) (*domain.Sale, error)
	FindSaleByIdempotency(ctx context.Context, key string) (*domain.Sale, error)
	ListSales(ctx context.Context, from time.Time, to time.Time) ([]domain.Sale, error)
	SearchSales(ctx context.Context, invoice string) ([]domain.Sale, error)
	ListSalesForCustomer(ctx context.Context, customerID string) ([]domain.Sale, error)
	ListReturnsForSale(ctx context.Context, saleID string) ([]domain.Sale, error)

	// CreatePurchase adds stock, re-averages cost prices, updates supplier
	// totals and posts the supplier DUE entry atomically.
	CreatePurchase(ctx context.Context, purchase domain.Purchase) (*domain.Purchase, error)
	GetPurchase(ctx context.Context, id string) (*domain.Purchase, error)
	ListPurchases(ctx context.Context, from time.Time, to time.Time) ([]domain.Purchase, error)
	ListPurchasesForSupplier(ctx context.Context, supplierID string) ([]domain.Purchase, error)

	CreateExpense(ctx context.Context, expense domain.Expense) (*domain.Expense, error)
	UpdateExpense(ctx context.Context, expense domain.Expense) (*domain.Expense, error)
	GetExpense(ctx context.Context, id string) (*domain.Expense, error)
	ListExpenses(ctx context.Context, from time.Time, to time.Time) ([]domain.Expense, error)

	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
	SetUserActive(ctx context.Context, username string, active bool) error
}

// NextBalance applies one ledger entry to the current outstanding due.
// Payments and return credits may not push the balance below zero.
func NextBalance(current int64, entryType string, amount int64) (int64, error) {
	if amount < 1 {
		return 0, ErrInvalidTransaction
	}
	switch entryType {
	case domain.EntryDue:
		return current + amount, nil
	case domain.EntryPayment, domain.EntryReturn:
		if amount > current {
			return 0, ErrOverpayment
		}
		return current - amount, nil
	default:
		return 0, ErrInvalidTransaction
	}
}

// ValidateSale checks the money fields of a sale before it is persisted.
func ValidateSale(sale domain.Sale) error {
	if sale.Kind != domain.SaleKindSale || len(sale.Items) == 0 || sale.IdempotencyKey == "" {
		return ErrInvalidTransaction
	}
	if sale.PaidCents < 0 || sale.DueCents < 0 || sale.PaidCents+sale.DueCents != sale.TotalCents {
		return ErrInvalidTransaction
	}
	if sale.DueCents > 0 && sale.CustomerID == "" {
		return ErrInvalidTransaction
	}
	for _, item := range sale.Items {
		if item.ProductID == "" || !item.Qty.IsPositive() {
			return ErrInvalidTransaction
		}
	}
	return nil
}

// ValidateReturn checks the shape of a return sale before it is persisted.
func ValidateReturn(ret domain.Sale, dueCreditCents int64) error {
	if ret.Kind != domain.SaleKindReturn || ret.OriginalSaleID == "" || len(ret.Items) == 0 {
		return ErrInvalidTransaction
	}
	if ret.TotalCents > 0 || ret.PaidCents > 0 || dueCreditCents < 0 {
		return ErrInvalidTransaction
	}
	if ret.PaidCents+ret.DueCents != ret.TotalCents || -ret.DueCents != dueCreditCents {
		return ErrInvalidTransaction
	}
	if dueCreditCents > 0 && ret.CustomerID == "" {
		return ErrInvalidTransaction
	}
	for _, item := range ret.Items {
		if item.ProductID == "" || !item.Qty.IsNegative() {
			return ErrInvalidTransaction
		}
	}
	return nil
}

// ValidatePurchase checks the money fields of a purchase before it is persisted.
func ValidatePurchase(purchase domain.Purchase) error {
	if len(purchase.Items) == 0 || purchase.PaidCents < 0 || purchase.DueCents < 0 {
		return ErrInvalidTransaction
	}
	if purchase.PaidCents+purchase.DueCents != purchase.TotalCents {
		return ErrInvalidTransaction
	}
	if purchase.DueCents > 0 && purchase.SupplierID == "" {
		return ErrInvalidTransaction
	}
	for _, item := range purchase.Items {
		if item.ProductID == "" || !item.Qty.IsPositive() || item.UnitCostCents < 0 {
			return ErrInvalidTransaction
		}
	}
	return nil
}

// WeightedCostCents blends the current unit cost with an incoming batch.
func WeightedCostCents(oldCost int64, oldQty decimal.Decimal, incomingCost int64, incomingQty decimal.Decimal) int64 {
	if !incomingQty.IsPositive() {
		return oldCost
	}
	if !oldQty.IsPositive() || oldCost <= 0 {
		return incomingCost
	}
	totalQty := oldQty.Add(incomingQty)
	totalValue := decimal.NewFromInt(oldCost).Mul(oldQty).Add(decimal.NewFromInt(incomingCost).Mul(incomingQty))
	return totalValue.Div(totalQty).Round(0).IntPart()
}
