package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"shopkeeper/backend/internal/domain"
	"shopkeeper/backend/internal/lock"
	"shopkeeper/backend/internal/store"
	"shopkeeper/backend/internal/xid"
)

// RecordSale prices the cart from the catalogue, splits the total into paid
// and due, and persists it. A repeated idempotency key returns the sale that
// was stored first with Duplicate set.
func (s *Service) RecordSale(ctx context.Context, req domain.SaleRequest) (domain.SaleResponse, error) {
	if err := validateStruct(req); err != nil {
		return domain.SaleResponse{}, err
	}

	req.IdempotencyKey = strings.TrimSpace(req.IdempotencyKey)
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = xid.New("idem")
	} else if existing, err := s.repo.FindSaleByIdempotency(ctx, req.IdempotencyKey); err == nil {
		return domain.SaleResponse{Sale: *existing, Duplicate: true}, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return domain.SaleResponse{}, err
	}

	cart, err := normalizeCart(req.Items)
	if err != nil {
		return domain.SaleResponse{}, err
	}

	ids := make([]string, 0, len(cart))
	for _, item := range cart {
		ids = append(ids, item.ProductID)
	}
	products, err := s.repo.GetProductsByIDs(ctx, ids)
	if err != nil {
		return domain.SaleResponse{}, err
	}

	items := make([]domain.SaleItem, 0, len(cart))
	var subtotal int64
	for _, item := range cart {
		product, ok := products[item.ProductID]
		if !ok {
			return domain.SaleResponse{}, fmt.Errorf("%w: product %s not found", store.ErrInvalidTransaction, item.ProductID)
		}
		if !product.Active {
			return domain.SaleResponse{}, fmt.Errorf("%w: product %s is inactive", store.ErrInvalidTransaction, product.Name)
		}
		line := domain.LineCents(product.SalePriceCents, item.Qty)
		subtotal += line
		items = append(items, domain.SaleItem{
			ProductID:      product.ID,
			ProductName:    product.Name,
			Category:       product.Category,
			Qty:            item.Qty,
			UnitPriceCents: product.SalePriceCents,
			UnitCostCents:  product.CostPriceCents,
			LineTotalCents: line,
		})
	}
	if req.DiscountCents > subtotal {
		return domain.SaleResponse{}, fieldError("discount_cents", "must not exceed subtotal")
	}

	shop, err := s.repo.GetShop(ctx)
	if err != nil {
		return domain.SaleResponse{}, err
	}
	tax, total := domain.TaxSplit(subtotal-req.DiscountCents, shop.TaxRatePercent, shop.TaxInclusive)

	paid := req.TenderedCents
	if paid > total {
		paid = total
	}
	due := total - paid

	customerID := strings.TrimSpace(req.CustomerID)
	if due > 0 && customerID == "" {
		return domain.SaleResponse{}, fieldError("customer_id", "is required when the sale leaves a due")
	}
	if customerID != "" {
		if _, err := s.repo.GetCustomer(ctx, customerID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return domain.SaleResponse{}, fieldError("customer_id", "unknown customer")
			}
			return domain.SaleResponse{}, err
		}
	}

	now := s.now()
	sale := domain.Sale{
		ID:             xid.New("sale"),
		InvoiceNumber:  fmt.Sprintf("INV-%s-%s", now.Format("20060102"), xid.Short(6)),
		Kind:           domain.SaleKindSale,
		CustomerID:     customerID,
		IdempotencyKey: req.IdempotencyKey,
		SubtotalCents:  subtotal,
		DiscountCents:  req.DiscountCents,
		TaxCents:       tax,
		TotalCents:     total,
		PaidCents:      paid,
		DueCents:       due,
		TenderedCents:  req.TenderedCents,
		ChangeCents:    req.TenderedCents - paid,
		PaymentMethod:  defaultString(req.PaymentMethod, "cash"),
		Note:           strings.TrimSpace(req.Note),
		CreatedBy:      actorName(ctx),
		CreatedAt:      now,
		Items:          items,
	}

	var saved *domain.Sale
	err = s.withPartyLock(ctx, domain.PartyCustomer, customerID, func() error {
		var err error
		saved, err = s.repo.CreateSale(ctx, sale)
		return err
	})
	if err != nil {
		return domain.SaleResponse{}, err
	}
	if saved.ID != sale.ID {
		return domain.SaleResponse{Sale: *saved, Duplicate: true}, nil
	}

	s.logAudit(ctx, "sale_create", "sale", saved.ID, fmt.Sprintf("invoice=%s,total=%d,paid=%d,due=%d", saved.InvoiceNumber, saved.TotalCents, saved.PaidCents, saved.DueCents))
	s.invalidateDashboard(ctx)
	s.logger.WithFields(logrus.Fields{
		"sale_id": saved.ID,
		"invoice": saved.InvoiceNumber,
		"total":   saved.TotalCents,
		"due":     saved.DueCents,
	}).Info("sale recorded")
	return domain.SaleResponse{Sale: *saved}, nil
}

// normalizeCart merges repeated products and rejects non-positive quantities.
func normalizeCart(items []domain.CartItem) ([]domain.CartItem, error) {
	merged := make([]domain.CartItem, 0, len(items))
	index := make(map[string]int, len(items))
	for i, item := range items {
		item.ProductID = strings.TrimSpace(item.ProductID)
		if item.Qty.IsZero() {
			continue
		}
		if err := requirePositiveQty(fmt.Sprintf("items[%d].qty", i), item.Qty); err != nil {
			return nil, err
		}
		if at, ok := index[item.ProductID]; ok {
			merged[at].Qty = merged[at].Qty.Add(item.Qty)
			continue
		}
		index[item.ProductID] = len(merged)
		merged = append(merged, item)
	}
	if len(merged) == 0 {
		return nil, fieldError("items", "cart is empty")
	}
	return merged, nil
}

// ReturnSale records a return against a sale. Returned goods go back into
// stock. Their value first settles what the sale left unpaid and the rest is
// refunded in cash.
func (s *Service) ReturnSale(ctx context.Context, req domain.SaleReturnRequest) (domain.SaleReturnResponse, error) {
	if err := validateStruct(req); err != nil {
		return domain.SaleReturnResponse{}, err
	}

	original, err := s.repo.GetSale(ctx, strings.TrimSpace(req.SaleID))
	if err != nil {
		return domain.SaleReturnResponse{}, err
	}
	if original.Kind != domain.SaleKindSale {
		return domain.SaleReturnResponse{}, fmt.Errorf("%w: %s is already a return", store.ErrInvalidTransaction, original.InvoiceNumber)
	}

	key := lock.SaleKey(original.ID)
	if original.CustomerID != "" {
		key = lock.PartyKey(domain.PartyCustomer, original.CustomerID)
	}

	var resp domain.SaleReturnResponse
	err = s.withLock(ctx, key, func() error {
		var err error
		resp, err = s.returnSaleLocked(ctx, *original, req)
		return err
	})
	if err != nil {
		return domain.SaleReturnResponse{}, err
	}

	s.logAudit(ctx, "sale_return", "sale", original.ID, fmt.Sprintf("return=%s,value=%d,due_credit=%d,refund=%d", resp.Return.InvoiceNumber, -resp.Return.TotalCents, resp.DueCreditCents, resp.RefundCents))
	s.invalidateDashboard(ctx)
	s.logger.WithFields(logrus.Fields{
		"sale_id":    original.ID,
		"return_id":  resp.Return.ID,
		"due_credit": resp.DueCreditCents,
		"refund":     resp.RefundCents,
	}).Info("sale return recorded")
	return resp, nil
}

func (s *Service) returnSaleLocked(ctx context.Context, original domain.Sale, req domain.SaleReturnRequest) (domain.SaleReturnResponse, error) {
	priorReturns, err := s.repo.ListReturnsForSale(ctx, original.ID)
	if err != nil {
		return domain.SaleReturnResponse{}, err
	}

	soldLines := make(map[string]domain.SaleItem, len(original.Items))
	remaining := make(map[string]decimal.Decimal, len(original.Items))
	for _, item := range original.Items {
		if line, ok := soldLines[item.ProductID]; ok {
			line.Qty = line.Qty.Add(item.Qty)
			soldLines[item.ProductID] = line
		} else {
			soldLines[item.ProductID] = item
		}
		remaining[item.ProductID] = remaining[item.ProductID].Add(item.Qty)
	}

	remainingTotal := original.TotalCents
	outstanding := original.DueCents
	for _, prior := range priorReturns {
		remainingTotal += prior.TotalCents
		outstanding += prior.DueCents
		for _, item := range prior.Items {
			remaining[item.ProductID] = remaining[item.ProductID].Add(item.Qty)
		}
	}

	requested := make(map[string]decimal.Decimal, len(req.Items))
	order := make([]string, 0, len(req.Items))
	for i, item := range req.Items {
		productID := strings.TrimSpace(item.ProductID)
		if err := requirePositiveQty(fmt.Sprintf("items[%d].qty", i), item.Qty); err != nil {
			return domain.SaleReturnResponse{}, err
		}
		if _, ok := soldLines[productID]; !ok {
			return domain.SaleReturnResponse{}, fieldError(fmt.Sprintf("items[%d].product_id", i), "was not part of the sale")
		}
		if _, seen := requested[productID]; !seen {
			order = append(order, productID)
		}
		requested[productID] = requested[productID].Add(item.Qty)
		if requested[productID].GreaterThan(remaining[productID]) {
			return domain.SaleReturnResponse{}, fmt.Errorf("%w: %s", store.ErrReturnExceedsSale, soldLines[productID].ProductName)
		}
	}

	items := make([]domain.SaleItem, 0, len(order))
	var gross int64
	returnsEverything := true
	for _, productID := range order {
		line := soldLines[productID]
		qty := requested[productID]
		value := domain.LineCents(line.UnitPriceCents, qty)
		gross += value
		items = append(items, domain.SaleItem{
			ProductID:      productID,
			ProductName:    line.ProductName,
			Category:       line.Category,
			Qty:            qty.Neg(),
			UnitPriceCents: line.UnitPriceCents,
			UnitCostCents:  line.UnitCostCents,
			LineTotalCents: -value,
		})
	}
	for productID, left := range remaining {
		if !left.Equal(requested[productID]) {
			returnsEverything = false
			break
		}
	}

	value := domain.ScaleCents(gross, original.TotalCents, original.SubtotalCents)
	if returnsEverything || value > remainingTotal {
		value = remainingTotal
	}

	if original.CustomerID != "" {
		customer, err := s.repo.GetCustomer(ctx, original.CustomerID)
		if err != nil {
			return domain.SaleReturnResponse{}, err
		}
		if customer.TotalDueCents < outstanding {
			outstanding = customer.TotalDueCents
		}
	} else {
		outstanding = 0
	}
	if outstanding < 0 {
		outstanding = 0
	}
	dueCredit := value
	if dueCredit > outstanding {
		dueCredit = outstanding
	}
	refund := value - dueCredit

	taxShare := domain.ScaleCents(original.TaxCents, value, original.TotalCents)
	discount := gross - value
	if !original.TaxIncluded() {
		discount += taxShare
	}

	ret := domain.Sale{
		ID:             xid.New("ret"),
		InvoiceNumber:  fmt.Sprintf("RET-%s-%d", original.InvoiceNumber, len(priorReturns)+1),
		Kind:           domain.SaleKindReturn,
		OriginalSaleID: original.ID,
		CustomerID:     original.CustomerID,
		SubtotalCents:  -gross,
		DiscountCents:  -discount,
		TaxCents:       -taxShare,
		TotalCents:     -value,
		PaidCents:      -refund,
		DueCents:       -dueCredit,
		PaymentMethod:  original.PaymentMethod,
		Note:           strings.TrimSpace(req.Note),
		CreatedBy:      actorName(ctx),
		CreatedAt:      s.now(),
		Items:          items,
	}
	ret.IdempotencyKey = ret.ID

	saved, err := s.repo.CreateSaleReturn(ctx, ret, dueCredit)
	if err != nil {
		return domain.SaleReturnResponse{}, err
	}
	return domain.SaleReturnResponse{Return: *saved, DueCreditCents: dueCredit, RefundCents: refund}, nil
}

func (s *Service) GetSale(ctx context.Context, id string) (domain.Sale, error) {
	sale, err := s.repo.GetSale(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.Sale{}, err
	}
	return *sale, nil
}

func (s *Service) ListSales(ctx context.Context, fromRaw string, toRaw string) ([]domain.Sale, error) {
	from, to, err := s.parseRange(fromRaw, toRaw)
	if err != nil {
		return nil, err
	}
	return s.repo.ListSales(ctx, from, to)
}

func (s *Service) SearchSales(ctx context.Context, invoice string) ([]domain.Sale, error) {
	invoice = strings.TrimSpace(invoice)
	if invoice == "" {
		return nil, fieldError("invoice", "is required")
	}
	return s.repo.SearchSales(ctx, invoice)
}

func (s *Service) CustomerPurchaseHistory(ctx context.Context, customerID string) ([]domain.Sale, error) {
	customerID = strings.TrimSpace(customerID)
	if _, err := s.repo.GetCustomer(ctx, customerID); err != nil {
		return nil, err
	}
	return s.repo.ListSalesForCustomer(ctx, customerID)
}

// Invoice collects what a printable invoice shows for one sale or return.
func (s *Service) Invoice(ctx context.Context, saleID string) (domain.InvoiceView, error) {
	sale, err := s.repo.GetSale(ctx, strings.TrimSpace(saleID))
	if err != nil {
		return domain.InvoiceView{}, err
	}
	shop, err := s.repo.GetShop(ctx)
	if err != nil {
		return domain.InvoiceView{}, err
	}
	view := domain.InvoiceView{Shop: *shop, Sale: *sale}
	if sale.CustomerID != "" {
		customer, err := s.repo.GetCustomer(ctx, sale.CustomerID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return domain.InvoiceView{}, err
		}
		view.Customer = customer
	}
	if sale.Kind == domain.SaleKindSale {
		returns, err := s.repo.ListReturnsForSale(ctx, sale.ID)
		if err != nil {
			return domain.InvoiceView{}, err
		}
		view.Returns = returns
	}
	return view, nil
}
