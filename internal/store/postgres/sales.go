package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"shopkeeper/backend/internal/domain"
	"shopkeeper/backend/internal/store"
	"shopkeeper/backend/internal/xid"
)

const saleColumns = `id, invoice_number, kind, COALESCE(original_sale_id, ''), COALESCE(customer_id, ''),
	idempotency_key, subtotal_cents, discount_cents, tax_cents, total_cents, paid_cents, due_cents,
	tendered_cents, change_cents, payment_method, note, created_by, created_at`

func scanSale(row rowScanner) (domain.Sale, error) {
	var sale domain.Sale
	err := row.Scan(&sale.ID, &sale.InvoiceNumber, &sale.Kind, &sale.OriginalSaleID, &sale.CustomerID,
		&sale.IdempotencyKey, &sale.SubtotalCents, &sale.DiscountCents, &sale.TaxCents, &sale.TotalCents,
		&sale.PaidCents, &sale.DueCents, &sale.TenderedCents, &sale.ChangeCents, &sale.PaymentMethod,
		&sale.Note, &sale.CreatedBy, &sale.CreatedAt)
	if err != nil {
		return domain.Sale{}, err
	}
	sale.CreatedAt = sale.CreatedAt.UTC()
	return sale, nil
}

// querySales loads sale headers and then their lines with one extra query.
func (s *Store) querySales(ctx context.Context, query string, args ...any) ([]domain.Sale, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	sales := make([]domain.Sale, 0, 32)
	for rows.Next() {
		sale, err := scanSale(rows)
		if err != nil {
			_ = rows.Close()
			return nil, err
		}
		sales = append(sales, sale)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()
	if len(sales) == 0 {
		return sales, nil
	}

	ids := make([]string, 0, len(sales))
	index := make(map[string]int, len(sales))
	for i, sale := range sales {
		ids = append(ids, sale.ID)
		index[sale.ID] = i
		sales[i].Items = make([]domain.SaleItem, 0, 4)
	}

	itemRows, err := s.db.QueryContext(ctx, `
		SELECT sale_id, product_id, product_name, category, qty, unit_price_cents, unit_cost_cents, line_total_cents
		FROM sale_items
		WHERE sale_id = ANY($1)
		ORDER BY id ASC
	`, ids)
	if err != nil {
		return nil, err
	}
	defer itemRows.Close()
	for itemRows.Next() {
		var saleID string
		var item domain.SaleItem
		if err := itemRows.Scan(&saleID, &item.ProductID, &item.ProductName, &item.Category, &item.Qty,
			&item.UnitPriceCents, &item.UnitCostCents, &item.LineTotalCents); err != nil {
			return nil, err
		}
		i := index[saleID]
		sales[i].Items = append(sales[i].Items, item)
	}
	if err := itemRows.Err(); err != nil {
		return nil, err
	}
	return sales, nil
}

func (s *Store) GetSale(ctx context.Context, id string) (*domain.Sale, error) {
	sales, err := s.querySales(ctx, `SELECT `+saleColumns+` FROM sales WHERE id = $1`, id)
	if err != nil {
		return nil, err
	}
	if len(sales) == 0 {
		return nil, store.ErrNotFound
	}
	return &sales[0], nil
}

// FindSaleByIdempotency only matches sales. Returns carry their own id as the
// key and must never answer a sale replay.
func (s *Store) FindSaleByIdempotency(ctx context.Context, key string) (*domain.Sale, error) {
	sales, err := s.querySales(ctx, `
		SELECT `+saleColumns+`
		FROM sales
		WHERE idempotency_key = $1 AND kind = $2
	`, key, domain.SaleKindSale)
	if err != nil {
		return nil, err
	}
	if len(sales) == 0 {
		return nil, store.ErrNotFound
	}
	return &sales[0], nil
}

func (s *Store) ListSales(ctx context.Context, from time.Time, to time.Time) ([]domain.Sale, error) {
	return s.querySales(ctx, `
		SELECT `+saleColumns+`
		FROM sales
		WHERE created_at >= $1 AND created_at < $2
		ORDER BY created_at DESC, id DESC
	`, from, to)
}

func (s *Store) SearchSales(ctx context.Context, invoice string) ([]domain.Sale, error) {
	return s.querySales(ctx, `
		SELECT `+saleColumns+`
		FROM sales
		WHERE invoice_number ILIKE '%' || $1 || '%'
		ORDER BY created_at DESC, id DESC
		LIMIT 100
	`, invoice)
}

func (s *Store) ListSalesForCustomer(ctx context.Context, customerID string) ([]domain.Sale, error) {
	return s.querySales(ctx, `
		SELECT `+saleColumns+`
		FROM sales
		WHERE customer_id = $1
		ORDER BY created_at DESC, id DESC
	`, customerID)
}

func (s *Store) ListReturnsForSale(ctx context.Context, saleID string) ([]domain.Sale, error) {
	return s.querySales(ctx, `
		SELECT `+saleColumns+`
		FROM sales
		WHERE original_sale_id = $1
		ORDER BY created_at ASC, id ASC
	`, saleID)
}

func (s *Store) CreateSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error) {
	if err := store.ValidateSale(sale); err != nil {
		return nil, err
	}
	if sale.ID == "" {
		sale.ID = xid.New("sale")
	}
	if sale.CreatedAt.IsZero() {
		sale.CreatedAt = time.Now().UTC()
	}

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		return createSaleTx(ctx, tx, &sale)
	})
	if err != nil {
		if isUniqueViolation(err) && sale.IdempotencyKey != "" {
			if existing, lookupErr := s.FindSaleByIdempotency(ctx, sale.IdempotencyKey); lookupErr == nil {
				return existing, nil
			}
		}
		return nil, err
	}
	return &sale, nil
}

func createSaleTx(ctx context.Context, tx *sql.Tx, sale *domain.Sale) error {
	ids := make([]string, 0, len(sale.Items))
	for _, item := range sale.Items {
		ids = append(ids, item.ProductID)
	}
	products, err := lockProducts(ctx, tx, uniqueIDs(ids))
	if err != nil {
		return err
	}

	demand := make(map[string]decimal.Decimal, len(products))
	for i, item := range sale.Items {
		product, exists := products[item.ProductID]
		if !exists || !product.Active {
			return store.ErrInvalidTransaction
		}
		demand[item.ProductID] = demand[item.ProductID].Add(item.Qty)
		if product.StockQty.LessThan(demand[item.ProductID]) {
			return store.ErrInsufficientStock
		}
		sale.Items[i].ProductName = product.Name
		sale.Items[i].Category = product.Category
		sale.Items[i].UnitCostCents = product.CostPriceCents
	}

	if _, err := insertSale(ctx, tx, *sale); err != nil {
		return err
	}

	for productID, qty := range demand {
		if _, err := tx.ExecContext(ctx, `
			UPDATE products SET stock_qty = stock_qty - $2, updated_at = now() WHERE id = $1
		`, productID, qty); err != nil {
			return err
		}
	}

	if sale.CustomerID == "" {
		return nil
	}
	res, err := tx.ExecContext(ctx, `
		UPDATE customers
		SET total_purchase_cents = total_purchase_cents + $2, total_paid_cents = total_paid_cents + $3, updated_at = now()
		WHERE id = $1
	`, sale.CustomerID, sale.TotalCents, sale.PaidCents)
	if err != nil {
		return err
	}
	if affected, err := res.RowsAffected(); err != nil {
		return err
	} else if affected == 0 {
		return store.ErrNotFound
	}
	if sale.DueCents > 0 {
		if _, err := postLedgerTx(ctx, tx, domain.LedgerEntry{
			PartyType:     domain.PartyCustomer,
			PartyID:       sale.CustomerID,
			EntryType:     domain.EntryDue,
			AmountCents:   sale.DueCents,
			ReferenceType: domain.RefSale,
			ReferenceID:   sale.ID,
			Note:          sale.InvoiceNumber,
			CreatedBy:     sale.CreatedBy,
			CreatedAt:     sale.CreatedAt,
		}); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) CreateSaleReturn(ctx context.Context, ret domain.Sale, dueCreditCents int64) (*domain.Sale, error) {
	if err := store.ValidateReturn(ret, dueCreditCents); err != nil {
		return nil, err
	}
	if ret.ID == "" {
		ret.ID = xid.New("ret")
	}
	if ret.CreatedAt.IsZero() {
		ret.CreatedAt = time.Now().UTC()
	}
	if ret.IdempotencyKey == "" {
		ret.IdempotencyKey = ret.ID
	}

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		return createReturnTx(ctx, tx, ret, dueCreditCents)
	})
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrInvalidTransaction
		}
		return nil, err
	}
	return &ret, nil
}

func createReturnTx(ctx context.Context, tx *sql.Tx, ret domain.Sale, dueCreditCents int64) error {
	// Locking the original sale serializes concurrent returns against it.
	var kind string
	var customerID string
	err := tx.QueryRowContext(ctx, `
		SELECT kind, COALESCE(customer_id, '') FROM sales WHERE id = $1 FOR UPDATE
	`, ret.OriginalSaleID).Scan(&kind, &customerID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.ErrNotFound
		}
		return err
	}
	if kind != domain.SaleKindSale || customerID != ret.CustomerID {
		return store.ErrInvalidTransaction
	}

	remaining, err := netSoldQty(ctx, tx, ret.OriginalSaleID)
	if err != nil {
		return err
	}
	ids := make([]string, 0, len(ret.Items))
	for _, item := range ret.Items {
		remaining[item.ProductID] = remaining[item.ProductID].Add(item.Qty)
		if remaining[item.ProductID].IsNegative() {
			return store.ErrReturnExceedsSale
		}
		ids = append(ids, item.ProductID)
	}
	products, err := lockProducts(ctx, tx, uniqueIDs(ids))
	if err != nil {
		return err
	}
	for _, id := range ids {
		if _, ok := products[id]; !ok {
			return store.ErrNotFound
		}
	}

	if _, err := insertSale(ctx, tx, ret); err != nil {
		return err
	}

	for _, item := range ret.Items {
		if _, err := tx.ExecContext(ctx, `
			UPDATE products SET stock_qty = stock_qty + $2, updated_at = now() WHERE id = $1
		`, item.ProductID, item.Qty.Neg()); err != nil {
			return err
		}
	}

	if ret.CustomerID == "" {
		return nil
	}
	if dueCreditCents > 0 {
		if _, err := postLedgerTx(ctx, tx, domain.LedgerEntry{
			PartyType:     domain.PartyCustomer,
			PartyID:       ret.CustomerID,
			EntryType:     domain.EntryReturn,
			AmountCents:   dueCreditCents,
			ReferenceType: domain.RefReturn,
			ReferenceID:   ret.ID,
			Note:          ret.InvoiceNumber,
			CreatedBy:     ret.CreatedBy,
			CreatedAt:     ret.CreatedAt,
		}); err != nil {
			return err
		}
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE customers
		SET total_purchase_cents = total_purchase_cents + $2, total_paid_cents = total_paid_cents + $3, updated_at = now()
		WHERE id = $1
	`, ret.CustomerID, ret.TotalCents, ret.PaidCents)
	return err
}

// netSoldQty sums the quantities of a sale and all returns against it, per product.
func netSoldQty(ctx context.Context, tx *sql.Tx, saleID string) (map[string]decimal.Decimal, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT si.product_id, SUM(si.qty)
		FROM sale_items si
		JOIN sales s ON s.id = si.sale_id
		WHERE s.id = $1 OR s.original_sale_id = $1
		GROUP BY si.product_id
	`, saleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	remaining := make(map[string]decimal.Decimal, 8)
	for rows.Next() {
		var productID string
		var qty decimal.Decimal
		if err := rows.Scan(&productID, &qty); err != nil {
			return nil, err
		}
		remaining[productID] = qty
	}
	return remaining, rows.Err()
}

func insertSale(ctx context.Context, tx *sql.Tx, sale domain.Sale) (*domain.Sale, error) {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO sales (
			id, invoice_number, kind, original_sale_id, customer_id, idempotency_key,
			subtotal_cents, discount_cents, tax_cents, total_cents, paid_cents, due_cents,
			tendered_cents, change_cents, payment_method, note, created_by, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)
	`, sale.ID, sale.InvoiceNumber, sale.Kind, nullIfEmpty(sale.OriginalSaleID), nullIfEmpty(sale.CustomerID),
		sale.IdempotencyKey, sale.SubtotalCents, sale.DiscountCents, sale.TaxCents, sale.TotalCents,
		sale.PaidCents, sale.DueCents, sale.TenderedCents, sale.ChangeCents, sale.PaymentMethod,
		sale.Note, sale.CreatedBy, sale.CreatedAt)
	if err != nil {
		return nil, err
	}

	for _, item := range sale.Items {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO sale_items (sale_id, product_id, product_name, category, qty, unit_price_cents, unit_cost_cents, line_total_cents)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		`, sale.ID, item.ProductID, item.ProductName, item.Category, item.Qty, item.UnitPriceCents, item.UnitCostCents, item.LineTotalCents)
		if err != nil {
			return nil, err
		}
	}
	return &sale, nil
}
