package memory

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shopkeeper/backend/internal/domain"
	"shopkeeper/backend/internal/store"
)

func qty(v int64) decimal.Decimal {
	return decimal.NewFromInt(v)
}

func creditSale(key string, n int64) domain.Sale {
	total := 7200 * n
	return domain.Sale{
		InvoiceNumber:  "INV-" + key,
		Kind:           domain.SaleKindSale,
		CustomerID:     "cus-walkin-credit",
		IdempotencyKey: key,
		SubtotalCents:  total,
		TotalCents:     total,
		PaidCents:      0,
		DueCents:       total,
		PaymentMethod:  "cash",
		Items: []domain.SaleItem{{
			ProductID:      "prd-rice",
			Qty:            qty(n),
			UnitPriceCents: 7200,
			LineTotalCents: total,
		}},
	}
}

func TestCreateSaleDecrementsStockAndPostsDue(t *testing.T) {
	ctx := context.Background()
	s := NewSeeded()

	sale, err := s.CreateSale(ctx, creditSale("idem-1", 3))
	require.NoError(t, err)
	assert.Equal(t, int64(6400), sale.Items[0].UnitCostCents)

	product, err := s.GetProduct(ctx, "prd-rice")
	require.NoError(t, err)
	assert.True(t, product.StockQty.Equal(qty(97)), "stock %s", product.StockQty)

	customer, err := s.GetCustomer(ctx, "cus-walkin-credit")
	require.NoError(t, err)
	assert.Equal(t, int64(21600), customer.TotalDueCents)
	assert.Equal(t, int64(21600), customer.TotalPurchaseCents)

	entries, err := s.ListLedgerEntries(ctx, domain.PartyCustomer, "cus-walkin-credit")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, domain.EntryDue, entries[0].EntryType)
	assert.Equal(t, sale.ID, entries[0].ReferenceID)
	assert.Equal(t, int64(21600), entries[0].BalanceCents)
}

func TestCreateSaleIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := NewSeeded()

	first, err := s.CreateSale(ctx, creditSale("idem-dup", 1))
	require.NoError(t, err)
	second, err := s.CreateSale(ctx, creditSale("idem-dup", 1))
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	product, err := s.GetProduct(ctx, "prd-rice")
	require.NoError(t, err)
	assert.True(t, product.StockQty.Equal(qty(99)))
}

func TestCreateSaleInsufficientStockLeavesNothingWritten(t *testing.T) {
	ctx := context.Background()
	s := NewSeeded()

	sale := creditSale("idem-big", 1)
	sale.Items = append(sale.Items, domain.SaleItem{ProductID: "prd-egg", Qty: qty(101), UnitPriceCents: 1250, LineTotalCents: 126250})
	sale.SubtotalCents += 126250
	sale.TotalCents = sale.SubtotalCents
	sale.DueCents = sale.TotalCents

	_, err := s.CreateSale(ctx, sale)
	require.ErrorIs(t, err, store.ErrInsufficientStock)

	rice, err := s.GetProduct(ctx, "prd-rice")
	require.NoError(t, err)
	assert.True(t, rice.StockQty.Equal(qty(100)))
	customer, err := s.GetCustomer(ctx, "cus-walkin-credit")
	require.NoError(t, err)
	assert.Zero(t, customer.TotalDueCents)
	_, err = s.FindSaleByIdempotency(ctx, "idem-big")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestCreateSaleReturnBoundsQuantity(t *testing.T) {
	ctx := context.Background()
	s := NewSeeded()

	sale, err := s.CreateSale(ctx, creditSale("idem-ret", 2))
	require.NoError(t, err)

	ret := domain.Sale{
		InvoiceNumber:  "RET-" + sale.InvoiceNumber + "-1",
		Kind:           domain.SaleKindReturn,
		OriginalSaleID: sale.ID,
		CustomerID:     sale.CustomerID,
		SubtotalCents:  -7200,
		TotalCents:     -7200,
		DueCents:       -7200,
		Items:          []domain.SaleItem{{ProductID: "prd-rice", Qty: qty(-1), UnitPriceCents: 7200, LineTotalCents: -7200}},
	}
	_, err = s.CreateSaleReturn(ctx, ret, 7200)
	require.NoError(t, err)

	ret.InvoiceNumber = "RET-" + sale.InvoiceNumber + "-2"
	ret.Items[0].Qty = qty(-2)
	ret.TotalCents, ret.SubtotalCents, ret.DueCents = -14400, -14400, -7200
	ret.PaidCents = -7200
	_, err = s.CreateSaleReturn(ctx, ret, 7200)
	require.ErrorIs(t, err, store.ErrReturnExceedsSale)

	product, err := s.GetProduct(ctx, "prd-rice")
	require.NoError(t, err)
	assert.True(t, product.StockQty.Equal(qty(99)), "stock %s", product.StockQty)

	returns, err := s.ListReturnsForSale(ctx, sale.ID)
	require.NoError(t, err)
	assert.Len(t, returns, 1)

	customer, err := s.GetCustomer(ctx, sale.CustomerID)
	require.NoError(t, err)
	balance, err := s.LedgerBalance(ctx, domain.PartyCustomer, sale.CustomerID)
	require.NoError(t, err)
	assert.Equal(t, int64(7200), customer.TotalDueCents)
	assert.Equal(t, customer.TotalDueCents, balance)
}

func TestCreatePurchaseAveragesCostAndPostsSupplierDue(t *testing.T) {
	ctx := context.Background()
	s := NewSeeded()

	purchase, err := s.CreatePurchase(ctx, domain.Purchase{
		SupplierID: "sup-wholesale",
		Reference:  "CH-1001",
		TotalCents: 680000,
		PaidCents:  180000,
		DueCents:   500000,
		Items: []domain.PurchaseItem{{
			ProductID:      "prd-rice",
			Qty:            qty(100),
			UnitCostCents:  6800,
			LineTotalCents: 680000,
		}},
	})
	require.NoError(t, err)

	product, err := s.GetProduct(ctx, "prd-rice")
	require.NoError(t, err)
	assert.True(t, product.StockQty.Equal(qty(200)))
	assert.Equal(t, int64(6600), product.CostPriceCents)

	supplier, err := s.GetSupplier(ctx, "sup-wholesale")
	require.NoError(t, err)
	assert.Equal(t, int64(500000), supplier.TotalDueCents)
	assert.Equal(t, int64(680000), supplier.TotalPurchasedCents)
	assert.Equal(t, int64(180000), supplier.TotalPaidCents)

	purchases, err := s.ListPurchasesForSupplier(ctx, "sup-wholesale")
	require.NoError(t, err)
	require.Len(t, purchases, 1)
	assert.Equal(t, purchase.ID, purchases[0].ID)
}

func TestUpdateProductKeepsCostUnlessAsked(t *testing.T) {
	ctx := context.Background()
	s := NewSeeded()

	stale, err := s.GetProduct(ctx, "prd-rice")
	require.NoError(t, err)

	_, err = s.CreatePurchase(ctx, domain.Purchase{
		Reference:  "CH-1002",
		TotalCents: 680000,
		PaidCents:  680000,
		Items:      []domain.PurchaseItem{{ProductID: "prd-rice", Qty: qty(100), UnitCostCents: 6800, LineTotalCents: 680000}},
	})
	require.NoError(t, err)

	renamed := *stale
	renamed.Name = "Rice 5kg"
	updated, err := s.UpdateProduct(ctx, renamed, false)
	require.NoError(t, err)
	assert.Equal(t, "Rice 5kg", updated.Name)
	assert.Equal(t, int64(6600), updated.CostPriceCents)
	assert.True(t, updated.StockQty.Equal(qty(200)))

	renamed.CostPriceCents = 7000
	updated, err = s.UpdateProduct(ctx, renamed, true)
	require.NoError(t, err)
	assert.Equal(t, int64(7000), updated.CostPriceCents)
}

func TestPostLedgerEntryRejectsOverpayment(t *testing.T) {
	ctx := context.Background()
	s := NewSeeded()

	_, err := s.PostLedgerEntry(ctx, domain.LedgerEntry{
		PartyType:   domain.PartySupplier,
		PartyID:     "sup-wholesale",
		EntryType:   domain.EntryDue,
		AmountCents: 1000,
	})
	require.NoError(t, err)

	_, err = s.PostLedgerEntry(ctx, domain.LedgerEntry{
		PartyType:   domain.PartySupplier,
		PartyID:     "sup-wholesale",
		EntryType:   domain.EntryPayment,
		AmountCents: 1001,
	})
	require.ErrorIs(t, err, store.ErrOverpayment)

	paid, err := s.PostLedgerEntry(ctx, domain.LedgerEntry{
		PartyType:   domain.PartySupplier,
		PartyID:     "sup-wholesale",
		EntryType:   domain.EntryPayment,
		AmountCents: 1000,
	})
	require.NoError(t, err)
	assert.Zero(t, paid.BalanceCents)

	entries, err := s.ListLedgerEntries(ctx, domain.PartySupplier, "sup-wholesale")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, domain.EntryPayment, entries[0].EntryType)
}

func TestSetUserActive(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	require.NoError(t, s.SetUserActive(ctx, " Cashier ", false))
	users, err := s.ListUsers(ctx)
	require.NoError(t, err)
	for _, user := range users {
		if user.Username == "cashier" {
			assert.False(t, user.Active)
		}
	}

	assert.ErrorIs(t, s.SetUserActive(ctx, "nobody", true), store.ErrNotFound)
}
