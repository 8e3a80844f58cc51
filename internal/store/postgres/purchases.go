package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"shopkeeper/backend/internal/domain"
	"shopkeeper/backend/internal/store"
	"shopkeeper/backend/internal/xid"
)

func (s *Store) CreatePurchase(ctx context.Context, purchase domain.Purchase) (*domain.Purchase, error) {
	if err := store.ValidatePurchase(purchase); err != nil {
		return nil, err
	}
	if purchase.ID == "" {
		purchase.ID = xid.New("pur")
	}
	if purchase.CreatedAt.IsZero() {
		purchase.CreatedAt = time.Now().UTC()
	}

	if err := s.inTx(ctx, func(tx *sql.Tx) error {
		return createPurchaseTx(ctx, tx, purchase)
	}); err != nil {
		return nil, err
	}
	return &purchase, nil
}

func createPurchaseTx(ctx context.Context, tx *sql.Tx, purchase domain.Purchase) error {
	ids := make([]string, 0, len(purchase.Items))
	for _, item := range purchase.Items {
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

	_, err = tx.ExecContext(ctx, `
		INSERT INTO purchases (id, supplier_id, reference, total_cents, paid_cents, due_cents, note, created_by, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, purchase.ID, nullIfEmpty(purchase.SupplierID), purchase.Reference, purchase.TotalCents, purchase.PaidCents,
		purchase.DueCents, purchase.Note, purchase.CreatedBy, purchase.CreatedAt)
	if err != nil {
		return err
	}

	for _, item := range purchase.Items {
		product := products[item.ProductID]
		newCost := store.WeightedCostCents(product.CostPriceCents, product.StockQty, item.UnitCostCents, item.Qty)
		if _, err := tx.ExecContext(ctx, `
			UPDATE products
			SET stock_qty = stock_qty + $2, cost_price_cents = $3, updated_at = now()
			WHERE id = $1
		`, item.ProductID, item.Qty, newCost); err != nil {
			return err
		}
		product.StockQty = product.StockQty.Add(item.Qty)
		product.CostPriceCents = newCost
		products[item.ProductID] = product

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO purchase_items (purchase_id, product_id, qty, unit_cost_cents, line_total_cents)
			VALUES ($1,$2,$3,$4,$5)
		`, purchase.ID, item.ProductID, item.Qty, item.UnitCostCents, item.LineTotalCents); err != nil {
			return err
		}
	}

	if purchase.SupplierID == "" {
		return nil
	}
	res, err := tx.ExecContext(ctx, `
		UPDATE suppliers
		SET total_purchased_cents = total_purchased_cents + $2, total_paid_cents = total_paid_cents + $3, updated_at = now()
		WHERE id = $1
	`, purchase.SupplierID, purchase.TotalCents, purchase.PaidCents)
	if err != nil {
		return err
	}
	if affected, err := res.RowsAffected(); err != nil {
		return err
	} else if affected == 0 {
		return store.ErrNotFound
	}
	if purchase.DueCents > 0 {
		if _, err := postLedgerTx(ctx, tx, domain.LedgerEntry{
			PartyType:     domain.PartySupplier,
			PartyID:       purchase.SupplierID,
			EntryType:     domain.EntryDue,
			AmountCents:   purchase.DueCents,
			ReferenceType: domain.RefPurchase,
			ReferenceID:   purchase.ID,
			Note:          purchase.Reference,
			CreatedBy:     purchase.CreatedBy,
			CreatedAt:     purchase.CreatedAt,
		}); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) queryPurchases(ctx context.Context, query string, args ...any) ([]domain.Purchase, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	purchases := make([]domain.Purchase, 0, 16)
	for rows.Next() {
		var p domain.Purchase
		if err := rows.Scan(&p.ID, &p.SupplierID, &p.Reference, &p.TotalCents, &p.PaidCents, &p.DueCents, &p.Note, &p.CreatedBy, &p.CreatedAt); err != nil {
			_ = rows.Close()
			return nil, err
		}
		p.CreatedAt = p.CreatedAt.UTC()
		p.Items = make([]domain.PurchaseItem, 0, 4)
		purchases = append(purchases, p)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()
	if len(purchases) == 0 {
		return purchases, nil
	}

	ids := make([]string, 0, len(purchases))
	index := make(map[string]int, len(purchases))
	for i, p := range purchases {
		ids = append(ids, p.ID)
		index[p.ID] = i
	}
	itemRows, err := s.db.QueryContext(ctx, `
		SELECT purchase_id, product_id, qty, unit_cost_cents, line_total_cents
		FROM purchase_items
		WHERE purchase_id = ANY($1)
		ORDER BY id ASC
	`, ids)
	if err != nil {
		return nil, err
	}
	defer itemRows.Close()
	for itemRows.Next() {
		var purchaseID string
		var item domain.PurchaseItem
		if err := itemRows.Scan(&purchaseID, &item.ProductID, &item.Qty, &item.UnitCostCents, &item.LineTotalCents); err != nil {
			return nil, err
		}
		i := index[purchaseID]
		purchases[i].Items = append(purchases[i].Items, item)
	}
	if err := itemRows.Err(); err != nil {
		return nil, err
	}
	return purchases, nil
}

const purchaseColumns = `id, COALESCE(supplier_id, ''), reference, total_cents, paid_cents, due_cents, note, created_by, created_at`

func (s *Store) GetPurchase(ctx context.Context, id string) (*domain.Purchase, error) {
	purchases, err := s.queryPurchases(ctx, `SELECT `+purchaseColumns+` FROM purchases WHERE id = $1`, id)
	if err != nil {
		return nil, err
	}
	if len(purchases) == 0 {
		return nil, store.ErrNotFound
	}
	return &purchases[0], nil
}

func (s *Store) ListPurchases(ctx context.Context, from time.Time, to time.Time) ([]domain.Purchase, error) {
	return s.queryPurchases(ctx, `
		SELECT `+purchaseColumns+`
		FROM purchases
		WHERE created_at >= $1 AND created_at < $2
		ORDER BY created_at DESC, id DESC
	`, from, to)
}

func (s *Store) ListPurchasesForSupplier(ctx context.Context, supplierID string) ([]domain.Purchase, error) {
	return s.queryPurchases(ctx, `
		SELECT `+purchaseColumns+`
		FROM purchases
		WHERE supplier_id = $1
		ORDER BY created_at DESC, id DESC
	`, supplierID)
}

const expenseColumns = `id, expense_date, amount_cents, category, description, payment_method, created_at`

func scanExpense(row rowScanner) (domain.Expense, error) {
	var e domain.Expense
	if err := row.Scan(&e.ID, &e.Date, &e.AmountCents, &e.Category, &e.Description, &e.PaymentMethod, &e.CreatedAt); err != nil {
		return domain.Expense{}, err
	}
	e.Date = nowDateUTC(e.Date)
	e.CreatedAt = e.CreatedAt.UTC()
	return e, nil
}

func (s *Store) CreateExpense(ctx context.Context, expense domain.Expense) (*domain.Expense, error) {
	if expense.AmountCents < 1 || strings.TrimSpace(expense.Category) == "" {
		return nil, store.ErrInvalidTransaction
	}
	if expense.ID == "" {
		expense.ID = xid.New("exp")
	}
	if expense.CreatedAt.IsZero() {
		expense.CreatedAt = time.Now().UTC()
	}
	expense.Date = nowDateUTC(expense.Date)

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO expenses (id, expense_date, amount_cents, category, description, payment_method, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, expense.ID, expense.Date, expense.AmountCents, expense.Category, expense.Description, expense.PaymentMethod, expense.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &expense, nil
}

func (s *Store) UpdateExpense(ctx context.Context, expense domain.Expense) (*domain.Expense, error) {
	if expense.AmountCents < 1 || strings.TrimSpace(expense.Category) == "" {
		return nil, store.ErrInvalidTransaction
	}
	updated, err := scanExpense(s.db.QueryRowContext(ctx, `
		UPDATE expenses
		SET expense_date = $2, amount_cents = $3, category = $4, description = $5, payment_method = $6
		WHERE id = $1
		RETURNING `+expenseColumns,
		expense.ID, nowDateUTC(expense.Date), expense.AmountCents, expense.Category, expense.Description, expense.PaymentMethod))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &updated, nil
}

func (s *Store) GetExpense(ctx context.Context, id string) (*domain.Expense, error) {
	e, err := scanExpense(s.db.QueryRowContext(ctx, `SELECT `+expenseColumns+` FROM expenses WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &e, nil
}

func (s *Store) ListExpenses(ctx context.Context, from time.Time, to time.Time) ([]domain.Expense, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+expenseColumns+`
		FROM expenses
		WHERE expense_date >= $1 AND expense_date < $2
		ORDER BY expense_date DESC, id DESC
	`, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	expenses := make([]domain.Expense, 0, 32)
	for rows.Next() {
		e, err := scanExpense(rows)
		if err != nil {
			return nil, err
		}
		expenses = append(expenses, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return expenses, nil
}
