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

const customerColumns = `id, name, phone, address, total_due_cents, total_purchase_cents, total_paid_cents, created_at, updated_at`

func scanCustomer(row rowScanner) (domain.Customer, error) {
	var c domain.Customer
	if err := row.Scan(&c.ID, &c.Name, &c.Phone, &c.Address, &c.TotalDueCents, &c.TotalPurchaseCents, &c.TotalPaidCents, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return domain.Customer{}, err
	}
	c.CreatedAt = c.CreatedAt.UTC()
	c.UpdatedAt = c.UpdatedAt.UTC()
	return c, nil
}

func (s *Store) queryCustomers(ctx context.Context, query string, args ...any) ([]domain.Customer, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	customers := make([]domain.Customer, 0, 32)
	for rows.Next() {
		c, err := scanCustomer(rows)
		if err != nil {
			return nil, err
		}
		customers = append(customers, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return customers, nil
}

func (s *Store) ListCustomers(ctx context.Context) ([]domain.Customer, error) {
	return s.queryCustomers(ctx, `SELECT `+customerColumns+` FROM customers ORDER BY lower(name), id`)
}

func (s *Store) SearchCustomers(ctx context.Context, query string) ([]domain.Customer, error) {
	return s.queryCustomers(ctx, `
		SELECT `+customerColumns+`
		FROM customers
		WHERE $1 = '' OR name ILIKE '%' || $1 || '%' OR phone LIKE '%' || $1 || '%'
		ORDER BY lower(name), id
		LIMIT 100
	`, strings.TrimSpace(query))
}

func (s *Store) GetCustomer(ctx context.Context, id string) (*domain.Customer, error) {
	c, err := scanCustomer(s.db.QueryRowContext(ctx, `SELECT `+customerColumns+` FROM customers WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

func (s *Store) CreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error) {
	if strings.TrimSpace(customer.Name) == "" {
		return nil, store.ErrInvalidTransaction
	}
	if customer.ID == "" {
		customer.ID = xid.New("cus")
	}
	now := time.Now().UTC()
	customer.TotalDueCents = 0
	customer.TotalPaidCents = 0
	customer.TotalPurchaseCents = 0
	customer.CreatedAt = now
	customer.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO customers (id, name, phone, address, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, customer.ID, customer.Name, customer.Phone, customer.Address, customer.CreatedAt, customer.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrInvalidTransaction
		}
		return nil, err
	}
	return &customer, nil
}

func (s *Store) UpdateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error) {
	if strings.TrimSpace(customer.Name) == "" {
		return nil, store.ErrInvalidTransaction
	}
	updated, err := scanCustomer(s.db.QueryRowContext(ctx, `
		UPDATE customers
		SET name = $2, phone = $3, address = $4, updated_at = now()
		WHERE id = $1
		RETURNING `+customerColumns,
		customer.ID, customer.Name, customer.Phone, customer.Address))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &updated, nil
}

func (s *Store) TotalCustomerDue(ctx context.Context) (int64, error) {
	var total int64
	err := s.db.QueryRowContext(ctx, `SELECT COALESCE(SUM(total_due_cents), 0) FROM customers`).Scan(&total)
	return total, err
}

const supplierColumns = `id, name, phone, address, total_due_cents, total_purchased_cents, total_paid_cents, created_at, updated_at`

func scanSupplier(row rowScanner) (domain.Supplier, error) {
	var sup domain.Supplier
	if err := row.Scan(&sup.ID, &sup.Name, &sup.Phone, &sup.Address, &sup.TotalDueCents, &sup.TotalPurchasedCents, &sup.TotalPaidCents, &sup.CreatedAt, &sup.UpdatedAt); err != nil {
		return domain.Supplier{}, err
	}
	sup.CreatedAt = sup.CreatedAt.UTC()
	sup.UpdatedAt = sup.UpdatedAt.UTC()
	return sup, nil
}

func (s *Store) ListSuppliers(ctx context.Context) ([]domain.Supplier, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+supplierColumns+` FROM suppliers ORDER BY lower(name), id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	suppliers := make([]domain.Supplier, 0, 16)
	for rows.Next() {
		sup, err := scanSupplier(rows)
		if err != nil {
			return nil, err
		}
		suppliers = append(suppliers, sup)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return suppliers, nil
}

func (s *Store) GetSupplier(ctx context.Context, id string) (*domain.Supplier, error) {
	sup, err := scanSupplier(s.db.QueryRowContext(ctx, `SELECT `+supplierColumns+` FROM suppliers WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &sup, nil
}

func (s *Store) CreateSupplier(ctx context.Context, supplier domain.Supplier) (*domain.Supplier, error) {
	if strings.TrimSpace(supplier.Name) == "" {
		return nil, store.ErrInvalidTransaction
	}
	if supplier.ID == "" {
		supplier.ID = xid.New("sup")
	}
	now := time.Now().UTC()
	supplier.TotalDueCents = 0
	supplier.TotalPaidCents = 0
	supplier.TotalPurchasedCents = 0
	supplier.CreatedAt = now
	supplier.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO suppliers (id, name, phone, address, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, supplier.ID, supplier.Name, supplier.Phone, supplier.Address, supplier.CreatedAt, supplier.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrInvalidTransaction
		}
		return nil, err
	}
	return &supplier, nil
}

func (s *Store) UpdateSupplier(ctx context.Context, supplier domain.Supplier) (*domain.Supplier, error) {
	if strings.TrimSpace(supplier.Name) == "" {
		return nil, store.ErrInvalidTransaction
	}
	updated, err := scanSupplier(s.db.QueryRowContext(ctx, `
		UPDATE suppliers
		SET name = $2, phone = $3, address = $4, updated_at = now()
		WHERE id = $1
		RETURNING `+supplierColumns,
		supplier.ID, supplier.Name, supplier.Phone, supplier.Address))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &updated, nil
}

func (s *Store) TotalSupplierDue(ctx context.Context) (int64, error) {
	var total int64
	err := s.db.QueryRowContext(ctx, `SELECT COALESCE(SUM(total_due_cents), 0) FROM suppliers`).Scan(&total)
	return total, err
}

func (s *Store) PostLedgerEntry(ctx context.Context, entry domain.LedgerEntry) (*domain.LedgerEntry, error) {
	var posted domain.LedgerEntry
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var err error
		posted, err = postLedgerTx(ctx, tx, entry)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &posted, nil
}

// postLedgerTx locks the party row, applies the entry to its aggregate due and
// appends the entry to the log inside the caller's transaction.
func postLedgerTx(ctx context.Context, tx *sql.Tx, entry domain.LedgerEntry) (domain.LedgerEntry, error) {
	table, err := partyTable(entry.PartyType)
	if err != nil {
		return domain.LedgerEntry{}, err
	}
	if entry.ID == "" {
		entry.ID = xid.New("led")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	if entry.ReferenceType == "" {
		entry.ReferenceType = domain.RefManual
	}

	var current int64
	err = tx.QueryRowContext(ctx, `SELECT total_due_cents FROM `+table+` WHERE id = $1 FOR UPDATE`, entry.PartyID).Scan(&current)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.LedgerEntry{}, store.ErrNotFound
		}
		return domain.LedgerEntry{}, err
	}
	balance, err := store.NextBalance(current, entry.EntryType, entry.AmountCents)
	if err != nil {
		return domain.LedgerEntry{}, err
	}
	paid := int64(0)
	if entry.EntryType == domain.EntryPayment {
		paid = entry.AmountCents
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE `+table+`
		SET total_due_cents = $2, total_paid_cents = total_paid_cents + $3, updated_at = now()
		WHERE id = $1
	`, entry.PartyID, balance, paid); err != nil {
		return domain.LedgerEntry{}, err
	}
	entry.BalanceCents = balance

	_, err = tx.ExecContext(ctx, `
		INSERT INTO ledger_entries (
			id, party_type, party_id, entry_type, amount_cents, balance_cents,
			reference_type, reference_id, note, created_by, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`, entry.ID, entry.PartyType, entry.PartyID, entry.EntryType, entry.AmountCents, entry.BalanceCents,
		entry.ReferenceType, nullIfEmpty(entry.ReferenceID), entry.Note, entry.CreatedBy, entry.CreatedAt)
	if err != nil {
		return domain.LedgerEntry{}, err
	}
	return entry, nil
}

func (s *Store) ListLedgerEntries(ctx context.Context, partyType string, partyID string) ([]domain.LedgerEntry, error) {
	if err := s.ensureParty(ctx, partyType, partyID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, party_type, party_id, entry_type, amount_cents, balance_cents,
			reference_type, COALESCE(reference_id, ''), note, created_by, created_at
		FROM ledger_entries
		WHERE party_type = $1 AND party_id = $2
		ORDER BY seq DESC
	`, partyType, partyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]domain.LedgerEntry, 0, 32)
	for rows.Next() {
		var e domain.LedgerEntry
		if err := rows.Scan(&e.ID, &e.PartyType, &e.PartyID, &e.EntryType, &e.AmountCents, &e.BalanceCents,
			&e.ReferenceType, &e.ReferenceID, &e.Note, &e.CreatedBy, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.CreatedAt = e.CreatedAt.UTC()
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

func (s *Store) LedgerBalance(ctx context.Context, partyType string, partyID string) (int64, error) {
	if err := s.ensureParty(ctx, partyType, partyID); err != nil {
		return 0, err
	}
	var balance int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(CASE WHEN entry_type = 'DUE' THEN amount_cents ELSE -amount_cents END), 0)
		FROM ledger_entries
		WHERE party_type = $1 AND party_id = $2
	`, partyType, partyID).Scan(&balance)
	return balance, err
}

func (s *Store) ensureParty(ctx context.Context, partyType string, partyID string) error {
	table, err := partyTable(partyType)
	if err != nil {
		return err
	}
	var exists bool
	if err := s.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM `+table+` WHERE id = $1)`, partyID).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return store.ErrNotFound
	}
	return nil
}

func partyTable(partyType string) (string, error) {
	switch partyType {
	case domain.PartyCustomer:
		return "customers", nil
	case domain.PartySupplier:
		return "suppliers", nil
	}
	return "", store.ErrInvalidTransaction
}
