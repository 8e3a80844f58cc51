package store

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"shopkeeper/backend/internal/domain"
)

func TestNextBalance(t *testing.T) {
	balance, err := NextBalance(0, domain.EntryDue, 500)
	if err != nil || balance != 500 {
		t.Fatalf("expected due to raise balance to 500, got %d (%v)", balance, err)
	}
	balance, err = NextBalance(balance, domain.EntryPayment, 200)
	if err != nil || balance != 300 {
		t.Fatalf("expected payment to lower balance to 300, got %d (%v)", balance, err)
	}
	balance, err = NextBalance(balance, domain.EntryReturn, 300)
	if err != nil || balance != 0 {
		t.Fatalf("expected return credit to clear balance, got %d (%v)", balance, err)
	}
	if _, err := NextBalance(balance, domain.EntryPayment, 1); !errors.Is(err, ErrOverpayment) {
		t.Fatalf("expected overpayment error, got %v", err)
	}
	if _, err := NextBalance(100, domain.EntryDue, 0); !errors.Is(err, ErrInvalidTransaction) {
		t.Fatalf("expected zero amount to be rejected, got %v", err)
	}
	if _, err := NextBalance(100, "BONUS", 10); !errors.Is(err, ErrInvalidTransaction) {
		t.Fatalf("expected unknown entry type to be rejected, got %v", err)
	}
}

func TestValidateSaleRequiresCustomerForDue(t *testing.T) {
	sale := domain.Sale{
		Kind:           domain.SaleKindSale,
		IdempotencyKey: "idem-1",
		TotalCents:     1000,
		PaidCents:      400,
		DueCents:       600,
		Items:          []domain.SaleItem{{ProductID: "prd-1", Qty: decimal.NewFromInt(1)}},
	}
	if err := ValidateSale(sale); !errors.Is(err, ErrInvalidTransaction) {
		t.Fatalf("expected due without customer to be rejected, got %v", err)
	}
	sale.CustomerID = "cus-1"
	if err := ValidateSale(sale); err != nil {
		t.Fatalf("expected valid sale, got %v", err)
	}
	sale.PaidCents = 500
	if err := ValidateSale(sale); !errors.Is(err, ErrInvalidTransaction) {
		t.Fatalf("expected unbalanced split to be rejected, got %v", err)
	}
}

func TestValidateReturnNeedsNegativeLines(t *testing.T) {
	ret := domain.Sale{
		Kind:           domain.SaleKindReturn,
		OriginalSaleID: "sale-1",
		TotalCents:     -1000,
		PaidCents:      -1000,
		Items:          []domain.SaleItem{{ProductID: "prd-1", Qty: decimal.NewFromInt(1)}},
	}
	if err := ValidateReturn(ret, 0); !errors.Is(err, ErrInvalidTransaction) {
		t.Fatalf("expected positive return qty to be rejected, got %v", err)
	}
	ret.Items[0].Qty = decimal.NewFromInt(-1)
	if err := ValidateReturn(ret, 0); err != nil {
		t.Fatalf("expected valid return, got %v", err)
	}
}

func TestWeightedCostCents(t *testing.T) {
	got := WeightedCostCents(1000, decimal.NewFromInt(10), 1600, decimal.NewFromInt(5))
	if got != 1200 {
		t.Fatalf("expected weighted cost 1200, got %d", got)
	}
	if got := WeightedCostCents(0, decimal.Zero, 900, decimal.NewFromInt(3)); got != 900 {
		t.Fatalf("expected incoming cost when stock is empty, got %d", got)
	}
	if got := WeightedCostCents(700, decimal.NewFromInt(2), 900, decimal.Zero); got != 700 {
		t.Fatalf("expected old cost when nothing arrives, got %d", got)
	}
}
