package service

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"shopkeeper/backend/internal/cache"
	"shopkeeper/backend/internal/domain"
	"shopkeeper/backend/internal/store"
	"shopkeeper/backend/internal/store/memory"
)

func newTestService() *Service {
	return New(memory.NewSeeded(), cache.NewMemoryDashboardCache(), nil, Options{})
}

func adminCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{Username: "admin", Role: domain.RoleAdmin})
}

func cashierCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{Username: "cashier", Role: domain.RoleCashier})
}

func q(v int64) decimal.Decimal {
	return decimal.NewFromInt(v)
}

func stockOf(t *testing.T, svc *Service, id string) decimal.Decimal {
	t.Helper()
	product, err := svc.GetProduct(context.Background(), id)
	if err != nil {
		t.Fatalf("get product %s failed: %v", id, err)
	}
	return product.StockQty
}

func TestRecordSaleCashGivesChange(t *testing.T) {
	svc := newTestService()

	resp, err := svc.RecordSale(cashierCtx(), domain.SaleRequest{
		IdempotencyKey: "idem-cash",
		TenderedCents:  20000,
		Items:          []domain.CartItem{{ProductID: "prd-rice", Qty: q(2)}},
	})
	if err != nil {
		t.Fatalf("record sale failed: %v", err)
	}
	sale := resp.Sale
	if sale.TotalCents != 14400 || sale.PaidCents != 14400 || sale.DueCents != 0 {
		t.Fatalf("unexpected money split: total=%d paid=%d due=%d", sale.TotalCents, sale.PaidCents, sale.DueCents)
	}
	if sale.ChangeCents != 5600 {
		t.Fatalf("expected change 5600, got %d", sale.ChangeCents)
	}
	if sale.PaymentMethod != "cash" {
		t.Fatalf("expected default payment method cash, got %s", sale.PaymentMethod)
	}
	if !strings.HasPrefix(sale.InvoiceNumber, "INV-") {
		t.Fatalf("unexpected invoice number %s", sale.InvoiceNumber)
	}
	if sale.CreatedBy != "cashier" {
		t.Fatalf("expected created_by cashier, got %s", sale.CreatedBy)
	}
	if stock := stockOf(t, svc, "prd-rice"); !stock.Equal(q(98)) {
		t.Fatalf("expected stock 98, got %s", stock)
	}
}

func TestRecordSaleDropsZeroQuantityLines(t *testing.T) {
	svc := newTestService()

	resp, err := svc.RecordSale(cashierCtx(), domain.SaleRequest{
		TenderedCents: 5000,
		Items: []domain.CartItem{
			{ProductID: "prd-milk", Qty: q(1)},
			{ProductID: "prd-soap", Qty: q(0)},
		},
	})
	if err != nil {
		t.Fatalf("record sale failed: %v", err)
	}
	if len(resp.Sale.Items) != 1 || resp.Sale.Items[0].ProductID != "prd-milk" {
		t.Fatalf("expected only milk on the sale, got %+v", resp.Sale.Items)
	}

	_, err = svc.RecordSale(cashierCtx(), domain.SaleRequest{
		Items: []domain.CartItem{{ProductID: "prd-soap", Qty: q(0)}},
	})
	var verr *ValidationError
	if !errors.As(err, &verr) || verr.Field != "items" {
		t.Fatalf("expected items validation error, got %v", err)
	}

	_, err = svc.RecordSale(cashierCtx(), domain.SaleRequest{
		Items: []domain.CartItem{{ProductID: "prd-soap", Qty: q(-2)}},
	})
	if !errors.As(err, &verr) {
		t.Fatalf("expected validation error for negative qty, got %v", err)
	}
}

func TestRecordSaleMergesRepeatedProducts(t *testing.T) {
	svc := newTestService()

	resp, err := svc.RecordSale(cashierCtx(), domain.SaleRequest{
		TenderedCents: 100000,
		Items: []domain.CartItem{
			{ProductID: "prd-egg", Qty: q(6)},
			{ProductID: "prd-egg", Qty: q(6)},
			{ProductID: "prd-rice", Qty: decimal.RequireFromString("1.5")},
		},
	})
	if err != nil {
		t.Fatalf("record sale failed: %v", err)
	}
	if len(resp.Sale.Items) != 2 {
		t.Fatalf("expected 2 merged lines, got %d", len(resp.Sale.Items))
	}
	if resp.Sale.SubtotalCents != 15000+10800 {
		t.Fatalf("unexpected subtotal %d", resp.Sale.SubtotalCents)
	}
	if stock := stockOf(t, svc, "prd-rice"); !stock.Equal(decimal.RequireFromString("98.5")) {
		t.Fatalf("expected fractional stock 98.5, got %s", stock)
	}
}

func TestRecordSaleDueRequiresCustomer(t *testing.T) {
	svc := newTestService()

	_, err := svc.RecordSale(cashierCtx(), domain.SaleRequest{
		TenderedCents: 1000,
		Items:         []domain.CartItem{{ProductID: "prd-rice", Qty: q(1)}},
	})
	var verr *ValidationError
	if !errors.As(err, &verr) || verr.Field != "customer_id" {
		t.Fatalf("expected customer_id validation error, got %v", err)
	}
	if stock := stockOf(t, svc, "prd-rice"); !stock.Equal(q(100)) {
		t.Fatalf("stock must be untouched, got %s", stock)
	}
}

func TestRecordSaleCreditPostsCustomerDue(t *testing.T) {
	svc := newTestService()

	resp, err := svc.RecordSale(cashierCtx(), domain.SaleRequest{
		CustomerID:    "cus-walkin-credit",
		TenderedCents: 4000,
		Items:         []domain.CartItem{{ProductID: "prd-oil", Qty: q(2)}},
	})
	if err != nil {
		t.Fatalf("record sale failed: %v", err)
	}
	if resp.Sale.DueCents != 31000 {
		t.Fatalf("expected due 31000, got %d", resp.Sale.DueCents)
	}

	customer, err := svc.GetCustomer(context.Background(), "cus-walkin-credit")
	if err != nil {
		t.Fatalf("get customer failed: %v", err)
	}
	if customer.TotalDueCents != 31000 || customer.TotalPaidCents != 4000 || customer.TotalPurchaseCents != 35000 {
		t.Fatalf("unexpected customer totals: %+v", customer)
	}
}

func TestRecordSaleIdempotencyReturnsDuplicate(t *testing.T) {
	svc := newTestService()
	req := domain.SaleRequest{
		IdempotencyKey: "idem-repeat",
		TenderedCents:  12000,
		Items:          []domain.CartItem{{ProductID: "prd-tea", Qty: q(1)}},
	}

	first, err := svc.RecordSale(cashierCtx(), req)
	if err != nil {
		t.Fatalf("first sale failed: %v", err)
	}
	if first.Duplicate {
		t.Fatalf("first sale must not be a duplicate")
	}
	req.TenderedCents = 20000
	second, err := svc.RecordSale(cashierCtx(), req)
	if err != nil {
		t.Fatalf("second sale failed: %v", err)
	}
	if !second.Duplicate || second.Sale.ID != first.Sale.ID {
		t.Fatalf("expected duplicate of %s, got %+v", first.Sale.ID, second)
	}
	if stock := stockOf(t, svc, "prd-tea"); !stock.Equal(q(99)) {
		t.Fatalf("expected stock 99, got %s", stock)
	}
}

func TestRecordSaleKeyMatchingReturnIDIsNewSale(t *testing.T) {
	svc := newTestService()
	ctx := cashierCtx()

	resp, err := svc.RecordSale(ctx, domain.SaleRequest{
		TenderedCents: 14400,
		Items:         []domain.CartItem{{ProductID: "prd-rice", Qty: q(2)}},
	})
	if err != nil {
		t.Fatalf("record sale failed: %v", err)
	}
	ret, err := svc.ReturnSale(ctx, domain.SaleReturnRequest{
		SaleID: resp.Sale.ID,
		Items:  []domain.ReturnItem{{ProductID: "prd-rice", Qty: q(1)}},
	})
	if err != nil {
		t.Fatalf("return failed: %v", err)
	}

	next, err := svc.RecordSale(ctx, domain.SaleRequest{
		IdempotencyKey: ret.Return.ID,
		TenderedCents:  5000,
		Items:          []domain.CartItem{{ProductID: "prd-milk", Qty: q(1)}},
	})
	if err != nil {
		t.Fatalf("sale keyed by a return id failed: %v", err)
	}
	if next.Duplicate || next.Sale.Kind != domain.SaleKindSale || next.Sale.ID == ret.Return.ID {
		t.Fatalf("expected a fresh sale, got %+v", next)
	}
	if stock := stockOf(t, svc, "prd-milk"); !stock.Equal(q(99)) {
		t.Fatalf("expected milk stock 99, got %s", stock)
	}
}

func TestRecordSaleRejectsDiscountAboveSubtotal(t *testing.T) {
	svc := newTestService()

	_, err := svc.RecordSale(cashierCtx(), domain.SaleRequest{
		DiscountCents: 2001,
		TenderedCents: 5000,
		Items:         []domain.CartItem{{ProductID: "prd-biscuit", Qty: q(1)}},
	})
	var verr *ValidationError
	if !errors.As(err, &verr) || verr.Field != "discount_cents" {
		t.Fatalf("expected discount validation error, got %v", err)
	}
}

func TestRecordSaleInsufficientStock(t *testing.T) {
	svc := newTestService()

	_, err := svc.RecordSale(cashierCtx(), domain.SaleRequest{
		TenderedCents: 10000000,
		Items:         []domain.CartItem{{ProductID: "prd-soap", Qty: q(101)}},
	})
	if !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}
}

func TestRecordSaleRejectsInactiveProduct(t *testing.T) {
	svc := newTestService()
	if _, err := svc.DeactivateProduct(adminCtx(), "prd-milk"); err != nil {
		t.Fatalf("deactivate failed: %v", err)
	}

	_, err := svc.RecordSale(cashierCtx(), domain.SaleRequest{
		TenderedCents: 10000,
		Items:         []domain.CartItem{{ProductID: "prd-milk", Qty: q(1)}},
	})
	if !errors.Is(err, store.ErrInvalidTransaction) {
		t.Fatalf("expected ErrInvalidTransaction, got %v", err)
	}
}

func TestRecordSaleAppliesShopTax(t *testing.T) {
	svc := newTestService()
	rate := 5.0
	inclusive := false
	if _, err := svc.UpdateShop(adminCtx(), domain.ShopUpdateRequest{TaxRatePercent: &rate, TaxInclusive: &inclusive}); err != nil {
		t.Fatalf("update shop failed: %v", err)
	}

	resp, err := svc.RecordSale(cashierCtx(), domain.SaleRequest{
		TenderedCents: 10000,
		Items:         []domain.CartItem{{ProductID: "prd-rice", Qty: q(1)}},
	})
	if err != nil {
		t.Fatalf("record sale failed: %v", err)
	}
	if resp.Sale.TaxCents != 360 || resp.Sale.TotalCents != 7560 {
		t.Fatalf("expected tax 360 total 7560, got tax=%d total=%d", resp.Sale.TaxCents, resp.Sale.TotalCents)
	}
}

func TestReturnSaleSettlesDueBeforeRefund(t *testing.T) {
	svc := newTestService()
	ctx := cashierCtx()

	resp, err := svc.RecordSale(ctx, domain.SaleRequest{
		CustomerID:    "cus-walkin-credit",
		TenderedCents: 10000,
		Items:         []domain.CartItem{{ProductID: "prd-rice", Qty: q(2)}},
	})
	if err != nil {
		t.Fatalf("record sale failed: %v", err)
	}

	ret, err := svc.ReturnSale(ctx, domain.SaleReturnRequest{
		SaleID: resp.Sale.ID,
		Items:  []domain.ReturnItem{{ProductID: "prd-rice", Qty: q(1)}},
	})
	if err != nil {
		t.Fatalf("return failed: %v", err)
	}
	if ret.DueCreditCents != 4400 || ret.RefundCents != 2800 {
		t.Fatalf("expected credit 4400 refund 2800, got credit=%d refund=%d", ret.DueCreditCents, ret.RefundCents)
	}
	if ret.Return.Kind != domain.SaleKindReturn || ret.Return.TotalCents != -7200 {
		t.Fatalf("unexpected return sale: %+v", ret.Return)
	}
	if want := "RET-" + resp.Sale.InvoiceNumber + "-1"; ret.Return.InvoiceNumber != want {
		t.Fatalf("expected invoice %s, got %s", want, ret.Return.InvoiceNumber)
	}
	if !ret.Return.Items[0].Qty.Equal(q(-1)) {
		t.Fatalf("expected negative return qty, got %s", ret.Return.Items[0].Qty)
	}

	customer, err := svc.GetCustomer(context.Background(), "cus-walkin-credit")
	if err != nil {
		t.Fatalf("get customer failed: %v", err)
	}
	if customer.TotalDueCents != 0 {
		t.Fatalf("expected due cleared, got %d", customer.TotalDueCents)
	}
	if stock := stockOf(t, svc, "prd-rice"); !stock.Equal(q(99)) {
		t.Fatalf("expected stock 99, got %s", stock)
	}
}

func TestReturnSaleHonoursDiscountAndClosesExactly(t *testing.T) {
	svc := newTestService()
	ctx := cashierCtx()

	resp, err := svc.RecordSale(ctx, domain.SaleRequest{
		CustomerID:    "cus-walkin-credit",
		DiscountCents: 400,
		Items: []domain.CartItem{
			{ProductID: "prd-rice", Qty: q(2)},
			{ProductID: "prd-egg", Qty: q(4)},
		},
	})
	if err != nil {
		t.Fatalf("record sale failed: %v", err)
	}
	if resp.Sale.TotalCents != 19000 || resp.Sale.DueCents != 19000 {
		t.Fatalf("unexpected sale totals: %+v", resp.Sale)
	}

	first, err := svc.ReturnSale(ctx, domain.SaleReturnRequest{
		SaleID: resp.Sale.ID,
		Items:  []domain.ReturnItem{{ProductID: "prd-rice", Qty: q(1)}},
	})
	if err != nil {
		t.Fatalf("first return failed: %v", err)
	}
	if first.DueCreditCents != 7052 || first.RefundCents != 0 {
		t.Fatalf("expected prorated credit 7052, got credit=%d refund=%d", first.DueCreditCents, first.RefundCents)
	}

	second, err := svc.ReturnSale(ctx, domain.SaleReturnRequest{
		SaleID: resp.Sale.ID,
		Items: []domain.ReturnItem{
			{ProductID: "prd-rice", Qty: q(1)},
			{ProductID: "prd-egg", Qty: q(4)},
		},
	})
	if err != nil {
		t.Fatalf("second return failed: %v", err)
	}
	if second.DueCreditCents != 11948 {
		t.Fatalf("expected remaining credit 11948, got %d", second.DueCreditCents)
	}
	if second.Return.InvoiceNumber != "RET-"+resp.Sale.InvoiceNumber+"-2" {
		t.Fatalf("unexpected second return invoice %s", second.Return.InvoiceNumber)
	}

	customer, err := svc.GetCustomer(context.Background(), "cus-walkin-credit")
	if err != nil {
		t.Fatalf("get customer failed: %v", err)
	}
	if customer.TotalDueCents != 0 {
		t.Fatalf("expected due cleared, got %d", customer.TotalDueCents)
	}
	if stock := stockOf(t, svc, "prd-egg"); !stock.Equal(q(100)) {
		t.Fatalf("expected egg stock restored, got %s", stock)
	}
}

func TestReturnSaleRejectsOverReturn(t *testing.T) {
	svc := newTestService()
	ctx := cashierCtx()

	resp, err := svc.RecordSale(ctx, domain.SaleRequest{
		TenderedCents: 5000,
		Items:         []domain.CartItem{{ProductID: "prd-biscuit", Qty: q(2)}},
	})
	if err != nil {
		t.Fatalf("record sale failed: %v", err)
	}
	if _, err := svc.ReturnSale(ctx, domain.SaleReturnRequest{
		SaleID: resp.Sale.ID,
		Items:  []domain.ReturnItem{{ProductID: "prd-biscuit", Qty: q(2)}},
	}); err != nil {
		t.Fatalf("full return failed: %v", err)
	}

	_, err = svc.ReturnSale(ctx, domain.SaleReturnRequest{
		SaleID: resp.Sale.ID,
		Items:  []domain.ReturnItem{{ProductID: "prd-biscuit", Qty: q(1)}},
	})
	if !errors.Is(err, store.ErrReturnExceedsSale) {
		t.Fatalf("expected ErrReturnExceedsSale, got %v", err)
	}
}

func TestReturnSaleRejectsReturnOfReturn(t *testing.T) {
	svc := newTestService()
	ctx := cashierCtx()

	resp, err := svc.RecordSale(ctx, domain.SaleRequest{
		TenderedCents: 5000,
		Items:         []domain.CartItem{{ProductID: "prd-biscuit", Qty: q(1)}},
	})
	if err != nil {
		t.Fatalf("record sale failed: %v", err)
	}
	ret, err := svc.ReturnSale(ctx, domain.SaleReturnRequest{
		SaleID: resp.Sale.ID,
		Items:  []domain.ReturnItem{{ProductID: "prd-biscuit", Qty: q(1)}},
	})
	if err != nil {
		t.Fatalf("return failed: %v", err)
	}

	_, err = svc.ReturnSale(ctx, domain.SaleReturnRequest{
		SaleID: ret.Return.ID,
		Items:  []domain.ReturnItem{{ProductID: "prd-biscuit", Qty: q(1)}},
	})
	if !errors.Is(err, store.ErrInvalidTransaction) {
		t.Fatalf("expected ErrInvalidTransaction, got %v", err)
	}
}

func TestCreateProductAdminSuccess(t *testing.T) {
	svc := newTestService()

	product, err := svc.CreateProduct(adminCtx(), domain.ProductCreateRequest{
		Name:           "Mustard Oil",
		SalePriceCents: 26000,
		CostPriceCents: 23500,
		InitialStock:   q(12),
		Category:       "Grocery",
	})
	if err != nil {
		t.Fatalf("create product failed: %v", err)
	}
	if product.Unit != "pcs" || product.Category != "grocery" || !product.MinStockAlert.Equal(q(5)) {
		t.Fatalf("unexpected defaults: %+v", product)
	}
	if !product.Active {
		t.Fatalf("new product must be active")
	}
}

// restockOnRead lands a purchase right after the first product read, the way
// a purchase posted from another till would.
type restockOnRead struct {
	*memory.Store
	done bool
}

func (r *restockOnRead) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	product, err := r.Store.GetProduct(ctx, id)
	if err != nil || r.done {
		return product, err
	}
	r.done = true
	_, err = r.Store.CreatePurchase(ctx, domain.Purchase{
		Reference:  "CH-3001",
		TotalCents: 680000,
		PaidCents:  680000,
		Items:      []domain.PurchaseItem{{ProductID: id, Qty: q(100), UnitCostCents: 6800, LineTotalCents: 680000}},
	})
	return product, err
}

func TestUpdateProductKeepsCostAveragedByConcurrentPurchase(t *testing.T) {
	repo := &restockOnRead{Store: memory.NewSeeded()}
	svc := New(repo, cache.NewMemoryDashboardCache(), nil, Options{})

	price := int64(7500)
	updated, err := svc.UpdateProduct(adminCtx(), "prd-rice", domain.ProductUpdateRequest{SalePriceCents: &price})
	if err != nil {
		t.Fatalf("update product failed: %v", err)
	}
	if updated.SalePriceCents != 7500 {
		t.Fatalf("expected sale price 7500, got %d", updated.SalePriceCents)
	}
	if updated.CostPriceCents != 6600 {
		t.Fatalf("expected cost re-averaged by the purchase to survive, got %d", updated.CostPriceCents)
	}

	cost := int64(6900)
	updated, err = svc.UpdateProduct(adminCtx(), "prd-rice", domain.ProductUpdateRequest{CostPriceCents: &cost})
	if err != nil {
		t.Fatalf("update cost failed: %v", err)
	}
	if updated.CostPriceCents != 6900 {
		t.Fatalf("expected explicit cost 6900, got %d", updated.CostPriceCents)
	}
}

func TestCreateProductRequiresAdmin(t *testing.T) {
	svc := newTestService()

	_, err := svc.CreateProduct(cashierCtx(), domain.ProductCreateRequest{Name: "Salt", SalePriceCents: 4000})
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
}

func TestCorrectStockWritesAudit(t *testing.T) {
	svc := newTestService()
	ctx := adminCtx()

	product, err := svc.CorrectStock(ctx, "prd-sugar", domain.StockCorrectionRequest{Qty: q(97), Reason: "stock take"})
	if err != nil {
		t.Fatalf("correct stock failed: %v", err)
	}
	if !product.StockQty.Equal(q(97)) {
		t.Fatalf("expected stock 97, got %s", product.StockQty)
	}

	logs, err := svc.ListAuditLogs(ctx, "", 10)
	if err != nil {
		t.Fatalf("list audit failed: %v", err)
	}
	found := false
	for _, entry := range logs {
		if entry.Action == "stock_correction" && strings.Contains(entry.Detail, "delta=-3") {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected stock_correction audit entry, got %+v", logs)
	}
}

func TestCreateCustomerNormalizesPhone(t *testing.T) {
	svc := newTestService()

	customer, err := svc.CreateCustomer(cashierCtx(), domain.PartyRequest{Name: " Rahima Begum ", Phone: "01911-223344"})
	if err != nil {
		t.Fatalf("create customer failed: %v", err)
	}
	if customer.Phone != "+8801911223344" || customer.Name != "Rahima Begum" {
		t.Fatalf("unexpected customer: %+v", customer)
	}

	_, err = svc.CreateCustomer(cashierCtx(), domain.PartyRequest{Name: "Bad", Phone: "12"})
	var verr *ValidationError
	if !errors.As(err, &verr) || verr.Field != "phone" {
		t.Fatalf("expected phone validation error, got %v", err)
	}
}

func TestRecordPurchaseAddsStockAndSupplierDue(t *testing.T) {
	svc := newTestService()

	purchase, err := svc.RecordPurchase(adminCtx(), domain.PurchaseRequest{
		SupplierID: "sup-wholesale",
		Reference:  "CH-2001",
		PaidCents:  100000,
		Items:      []domain.PurchaseItem{{ProductID: "prd-rice", Qty: q(50), UnitCostCents: 6800}},
	})
	if err != nil {
		t.Fatalf("record purchase failed: %v", err)
	}
	if purchase.TotalCents != 340000 || purchase.DueCents != 240000 {
		t.Fatalf("unexpected purchase totals: %+v", purchase)
	}

	product, err := svc.GetProduct(context.Background(), "prd-rice")
	if err != nil {
		t.Fatalf("get product failed: %v", err)
	}
	if !product.StockQty.Equal(q(150)) || product.CostPriceCents != 6533 {
		t.Fatalf("expected stock 150 cost 6533, got %s %d", product.StockQty, product.CostPriceCents)
	}

	supplier, err := svc.GetSupplier(context.Background(), "sup-wholesale")
	if err != nil {
		t.Fatalf("get supplier failed: %v", err)
	}
	if supplier.TotalDueCents != 240000 {
		t.Fatalf("expected supplier due 240000, got %d", supplier.TotalDueCents)
	}
}

func TestRecordPurchaseDueRequiresSupplier(t *testing.T) {
	svc := newTestService()

	_, err := svc.RecordPurchase(adminCtx(), domain.PurchaseRequest{
		Items: []domain.PurchaseItem{{ProductID: "prd-rice", Qty: q(1), UnitCostCents: 6800}},
	})
	var verr *ValidationError
	if !errors.As(err, &verr) || verr.Field != "supplier_id" {
		t.Fatalf("expected supplier_id validation error, got %v", err)
	}
}

func TestInvoiceRendersSaleAndCustomer(t *testing.T) {
	svc := newTestService()

	resp, err := svc.RecordSale(cashierCtx(), domain.SaleRequest{
		CustomerID: "cus-walkin-credit",
		Items:      []domain.CartItem{{ProductID: "prd-tea", Qty: q(1)}},
		Note:       "<b>deliver</b>",
	})
	if err != nil {
		t.Fatalf("record sale failed: %v", err)
	}

	html, err := svc.RenderInvoice(context.Background(), resp.Sale.ID)
	if err != nil {
		t.Fatalf("render invoice failed: %v", err)
	}
	for _, want := range []string{resp.Sale.InvoiceNumber, "Karim Uddin", "Tea Leaves 200g", "120.00", "&lt;b&gt;deliver&lt;/b&gt;"} {
		if !strings.Contains(html, want) {
			t.Fatalf("invoice missing %q", want)
		}
	}
}

func TestInvoiceTaxLabelFollowsSaleNotCurrentSetting(t *testing.T) {
	svc := newTestService()
	rate := 5.0
	setInclusive := func(inclusive bool) {
		t.Helper()
		if _, err := svc.UpdateShop(adminCtx(), domain.ShopUpdateRequest{TaxRatePercent: &rate, TaxInclusive: &inclusive}); err != nil {
			t.Fatalf("update shop failed: %v", err)
		}
	}
	sellTea := func(tendered int64) domain.Sale {
		t.Helper()
		resp, err := svc.RecordSale(cashierCtx(), domain.SaleRequest{
			TenderedCents: tendered,
			Items:         []domain.CartItem{{ProductID: "prd-tea", Qty: q(1)}},
		})
		if err != nil {
			t.Fatalf("record sale failed: %v", err)
		}
		return resp.Sale
	}

	setInclusive(true)
	inclusiveSale := sellTea(12000)
	setInclusive(false)
	exclusiveSale := sellTea(12600)

	if !inclusiveSale.TaxIncluded() || exclusiveSale.TaxIncluded() {
		t.Fatalf("unexpected tax mode: inclusive=%+v exclusive=%+v", inclusiveSale, exclusiveSale)
	}

	html, err := svc.RenderInvoice(context.Background(), inclusiveSale.ID)
	if err != nil {
		t.Fatalf("render invoice failed: %v", err)
	}
	if !strings.Contains(html, "Tax (incl.)") {
		t.Fatalf("expected inclusive label on a sale rung up with inclusive tax")
	}

	setInclusive(true)
	html, err = svc.RenderInvoice(context.Background(), exclusiveSale.ID)
	if err != nil {
		t.Fatalf("render invoice failed: %v", err)
	}
	if strings.Contains(html, "(incl.)") {
		t.Fatalf("exclusive sale must not be labelled inclusive")
	}
}
