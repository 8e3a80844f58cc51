package memory

import (
	"context"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"shopkeeper/backend/internal/domain"
	"shopkeeper/backend/internal/store"
	"shopkeeper/backend/internal/xid"
)

type Store struct {
	mu              sync.RWMutex
	shop            domain.Shop
	products        map[string]domain.Product
	customers       map[string]domain.Customer
	suppliers       map[string]domain.Supplier
	ledger          map[string][]domain.LedgerEntry
	salesByID       map[string]*domain.Sale
	salesByIdem     map[string]string
	returnsBySale   map[string][]string
	purchasesByID   map[string]domain.Purchase
	expensesByID    map[string]domain.Expense
	auditLogs       []domain.AuditLog
	usersByUsername map[string]domain.UserAccount
}

// seedUsers builds the initial in-memory user accounts for dev/demo mode.
// Credentials are read from SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD.
// If unset, hardcoded dev defaults are used with a warning. These accounts
// never reach production, which runs on PostgreSQL when DATABASE_URL is set.
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	cashierPwd := envOr("SEED_CASHIER_PASSWORD", "cashier123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == "" {
		log.WithField("component", "memory-store").Warn("using default dev credentials; set SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD to override")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, domain.RoleAdmin},
		{"cashier", cashierPwd, domain.RoleCashier},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.WithField("component", "memory-store").Fatalf("failed to hash seed password for %s: %v", u.username, err)
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// New returns an empty store with default shop settings and the seed users.
func New() *Store {
	return &Store{
		shop: domain.Shop{
			Name:        "My Shop",
			Currency:    "৳",
			Language:    "en",
			PhoneRegion: "BD",
			UpdatedAt:   time.Now().UTC(),
		},
		products:        make(map[string]domain.Product),
		customers:       make(map[string]domain.Customer),
		suppliers:       make(map[string]domain.Supplier),
		ledger:          make(map[string][]domain.LedgerEntry),
		salesByID:       make(map[string]*domain.Sale),
		salesByIdem:     make(map[string]string),
		returnsBySale:   make(map[string][]string),
		purchasesByID:   make(map[string]domain.Purchase),
		expensesByID:    make(map[string]domain.Expense),
		auditLogs:       make([]domain.AuditLog, 0, 128),
		usersByUsername: seedUsers(),
	}
}

func NewSeeded() *Store {
	s := New()
	now := time.Now().UTC()

	products := []domain.Product{
		{ID: "prd-rice", Name: "Miniket Rice", LocalName: "মিনিকেট চাল", Unit: "kg", SalePriceCents: 7200, CostPriceCents: 6400, Category: "grocery"},
		{ID: "prd-lentil", Name: "Red Lentil", LocalName: "মসুর ডাল", Unit: "kg", SalePriceCents: 11000, CostPriceCents: 9800, Category: "grocery"},
		{ID: "prd-oil", Name: "Soybean Oil 1L", LocalName: "সয়াবিন তেল", Unit: "pcs", SalePriceCents: 17500, CostPriceCents: 16200, Category: "grocery"},
		{ID: "prd-sugar", Name: "Sugar", LocalName: "চিনি", Unit: "kg", SalePriceCents: 13000, CostPriceCents: 11800, Category: "grocery"},
		{ID: "prd-egg", Name: "Egg", LocalName: "ডিম", Unit: "pcs", SalePriceCents: 1250, CostPriceCents: 1050, Category: "dairy"},
		{ID: "prd-milk", Name: "Milk 500ml", LocalName: "দুধ", Unit: "pcs", SalePriceCents: 5000, CostPriceCents: 4300, Category: "dairy"},
		{ID: "prd-tea", Name: "Tea Leaves 200g", LocalName: "চা পাতা", Unit: "pcs", SalePriceCents: 12000, CostPriceCents: 9500, Category: "beverage"},
		{ID: "prd-biscuit", Name: "Biscuit", LocalName: "বিস্কুট", Unit: "pcs", SalePriceCents: 2000, CostPriceCents: 1500, Category: "snack"},
		{ID: "prd-soap", Name: "Bath Soap", LocalName: "সাবান", Unit: "pcs", SalePriceCents: 6000, CostPriceCents: 4800, Category: "household"},
	}
	for _, p := range products {
		p.StockQty = decimal.NewFromInt(100)
		p.MinStockAlert = decimal.NewFromInt(5)
		p.Active = true
		p.CreatedAt = now
		p.UpdatedAt = now
		s.products[p.ID] = p
	}

	s.customers["cus-walkin-credit"] = domain.Customer{ID: "cus-walkin-credit", Name: "Karim Uddin", Phone: "+8801712345678", CreatedAt: now, UpdatedAt: now}
	s.suppliers["sup-wholesale"] = domain.Supplier{ID: "sup-wholesale", Name: "Dhaka Wholesale", Phone: "+8801812345678", CreatedAt: now, UpdatedAt: now}
	return s
}

func (s *Store) GetShop(_ context.Context) (*domain.Shop, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	shop := s.shop
	return &shop, nil
}

func (s *Store) SaveShop(_ context.Context, shop domain.Shop) (*domain.Shop, error) {
	if strings.TrimSpace(shop.Name) == "" || shop.TaxRatePercent < 0 || shop.TaxRatePercent > 100 {
		return nil, store.ErrInvalidTransaction
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	shop.UpdatedAt = time.Now().UTC()
	s.shop = shop
	saved := shop
	return &saved, nil
}

func (s *Store) ListProducts(_ context.Context, includeInactive bool) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		if !p.Active && !includeInactive {
			continue
		}
		products = append(products, cloneProduct(p))
	}
	sortProducts(products)
	return products, nil
}

func (s *Store) SearchProducts(_ context.Context, query string) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	needle := strings.ToLower(strings.TrimSpace(query))
	products := make([]domain.Product, 0, 16)
	for _, p := range s.products {
		if !p.Active {
			continue
		}
		if needle == "" ||
			strings.Contains(strings.ToLower(p.Name), needle) ||
			strings.Contains(strings.ToLower(p.LocalName), needle) ||
			strings.EqualFold(p.Barcode, needle) {
			products = append(products, cloneProduct(p))
		}
	}
	sortProducts(products)
	return products, nil
}

func (s *Store) GetProduct(_ context.Context, id string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	product, exists := s.products[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyProduct := cloneProduct(product)
	return &copyProduct, nil
}

func (s *Store) GetProductsByIDs(_ context.Context, ids []string) (map[string]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string]domain.Product, len(ids))
	for _, id := range ids {
		if p, ok := s.products[id]; ok {
			result[id] = cloneProduct(p)
		}
	}
	return result, nil
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	if product.Name == "" || product.SalePriceCents < 0 || product.CostPriceCents < 0 || product.StockQty.IsNegative() {
		return nil, store.ErrInvalidTransaction
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if product.ID == "" {
		product.ID = xid.New("prd")
	}
	if _, exists := s.products[product.ID]; exists {
		return nil, store.ErrInvalidTransaction
	}
	if product.Barcode != "" {
		for _, existing := range s.products {
			if existing.Barcode == product.Barcode {
				return nil, store.ErrInvalidTransaction
			}
		}
	}
	now := time.Now().UTC()
	product.Active = true
	product.CreatedAt = now
	product.UpdatedAt = now
	s.products[product.ID] = product
	created := cloneProduct(product)
	return &created, nil
}

// UpdateProduct saves catalog fields. Stock is owned by sales, purchases and
// corrections and is left untouched.
func (s *Store) UpdateProduct(_ context.Context, product domain.Product, setCost bool) (*domain.Product, error) {
	if product.ID == "" || product.Name == "" || product.SalePriceCents < 0 || product.CostPriceCents < 0 {
		return nil, store.ErrInvalidTransaction
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.products[product.ID]
	if !exists {
		return nil, store.ErrNotFound
	}
	product.StockQty = existing.StockQty
	if !setCost {
		product.CostPriceCents = existing.CostPriceCents
	}
	product.CreatedAt = existing.CreatedAt
	product.UpdatedAt = time.Now().UTC()
	s.products[product.ID] = product
	updated := cloneProduct(product)
	return &updated, nil
}

func (s *Store) ListLowStockProducts(_ context.Context) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]domain.Product, 0, 16)
	for _, p := range s.products {
		if p.Active && p.LowStock() {
			products = append(products, cloneProduct(p))
		}
	}
	slices.SortFunc(products, func(a, b domain.Product) int {
		if c := a.StockQty.Cmp(b.StockQty); c != 0 {
			return c
		}
		return cmpString(a.Name, b.Name)
	})
	return products, nil
}

func (s *Store) ListExpiredProducts(_ context.Context, at time.Time) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]domain.Product, 0, 8)
	for _, p := range s.products {
		if p.Active && p.ExpiryDate != nil && !p.ExpiryDate.After(at) {
			products = append(products, cloneProduct(p))
		}
	}
	slices.SortFunc(products, func(a, b domain.Product) int {
		return a.ExpiryDate.Compare(*b.ExpiryDate)
	})
	return products, nil
}

func (s *Store) SetStock(_ context.Context, productID string, qty decimal.Decimal) (decimal.Decimal, error) {
	if qty.IsNegative() {
		return decimal.Zero, store.ErrInvalidTransaction
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	product, exists := s.products[productID]
	if !exists {
		return decimal.Zero, store.ErrNotFound
	}
	previous := product.StockQty
	product.StockQty = qty
	product.UpdatedAt = time.Now().UTC()
	s.products[productID] = product
	return previous, nil
}

func (s *Store) ListCustomers(_ context.Context) ([]domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	customers := make([]domain.Customer, 0, len(s.customers))
	for _, c := range s.customers {
		customers = append(customers, c)
	}
	slices.SortFunc(customers, func(a, b domain.Customer) int {
		return cmpString(strings.ToLower(a.Name), strings.ToLower(b.Name))
	})
	return customers, nil
}

func (s *Store) SearchCustomers(_ context.Context, query string) ([]domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	needle := strings.ToLower(strings.TrimSpace(query))
	customers := make([]domain.Customer, 0, 16)
	for _, c := range s.customers {
		if needle == "" || strings.Contains(strings.ToLower(c.Name), needle) || strings.Contains(c.Phone, needle) {
			customers = append(customers, c)
		}
	}
	slices.SortFunc(customers, func(a, b domain.Customer) int {
		return cmpString(strings.ToLower(a.Name), strings.ToLower(b.Name))
	})
	return customers, nil
}

func (s *Store) GetCustomer(_ context.Context, id string) (*domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	customer, exists := s.customers[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	return &customer, nil
}

func (s *Store) CreateCustomer(_ context.Context, customer domain.Customer) (*domain.Customer, error) {
	if strings.TrimSpace(customer.Name) == "" {
		return nil, store.ErrInvalidTransaction
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if customer.ID == "" {
		customer.ID = xid.New("cus")
	}
	if _, exists := s.customers[customer.ID]; exists {
		return nil, store.ErrInvalidTransaction
	}
	now := time.Now().UTC()
	customer.TotalDueCents = 0
	customer.TotalPaidCents = 0
	customer.TotalPurchaseCents = 0
	customer.CreatedAt = now
	customer.UpdatedAt = now
	s.customers[customer.ID] = customer
	return &customer, nil
}

// UpdateCustomer saves profile fields only; the totals belong to the ledger.
func (s *Store) UpdateCustomer(_ context.Context, customer domain.Customer) (*domain.Customer, error) {
	if strings.TrimSpace(customer.Name) == "" {
		return nil, store.ErrInvalidTransaction
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.customers[customer.ID]
	if !exists {
		return nil, store.ErrNotFound
	}
	existing.Name = customer.Name
	existing.Phone = customer.Phone
	existing.Address = customer.Address
	existing.UpdatedAt = time.Now().UTC()
	s.customers[customer.ID] = existing
	return &existing, nil
}

func (s *Store) TotalCustomerDue(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	total := int64(0)
	for _, c := range s.customers {
		total += c.TotalDueCents
	}
	return total, nil
}

func (s *Store) ListSuppliers(_ context.Context) ([]domain.Supplier, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	suppliers := make([]domain.Supplier, 0, len(s.suppliers))
	for _, sup := range s.suppliers {
		suppliers = append(suppliers, sup)
	}
	slices.SortFunc(suppliers, func(a, b domain.Supplier) int {
		return cmpString(strings.ToLower(a.Name), strings.ToLower(b.Name))
	})
	return suppliers, nil
}

func (s *Store) GetSupplier(_ context.Context, id string) (*domain.Supplier, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	supplier, exists := s.suppliers[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	return &supplier, nil
}

func (s *Store) CreateSupplier(_ context.Context, supplier domain.Supplier) (*domain.Supplier, error) {
	if strings.TrimSpace(supplier.Name) == "" {
		return nil, store.ErrInvalidTransaction
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if supplier.ID == "" {
		supplier.ID = xid.New("sup")
	}
	if _, exists := s.suppliers[supplier.ID]; exists {
		return nil, store.ErrInvalidTransaction
	}
	now := time.Now().UTC()
	supplier.TotalDueCents = 0
	supplier.TotalPaidCents = 0
	supplier.TotalPurchasedCents = 0
	supplier.CreatedAt = now
	supplier.UpdatedAt = now
	s.suppliers[supplier.ID] = supplier
	return &supplier, nil
}

func (s *Store) UpdateSupplier(_ context.Context, supplier domain.Supplier) (*domain.Supplier, error) {
	if strings.TrimSpace(supplier.Name) == "" {
		return nil, store.ErrInvalidTransaction
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.suppliers[supplier.ID]
	if !exists {
		return nil, store.ErrNotFound
	}
	existing.Name = supplier.Name
	existing.Phone = supplier.Phone
	existing.Address = supplier.Address
	existing.UpdatedAt = time.Now().UTC()
	s.suppliers[supplier.ID] = existing
	return &existing, nil
}

func (s *Store) TotalSupplierDue(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	total := int64(0)
	for _, sup := range s.suppliers {
		total += sup.TotalDueCents
	}
	return total, nil
}

func (s *Store) PostLedgerEntry(_ context.Context, entry domain.LedgerEntry) (*domain.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	posted, err := s.postLedgerLocked(entry)
	if err != nil {
		return nil, err
	}
	return &posted, nil
}

func (s *Store) ListLedgerEntries(_ context.Context, partyType string, partyID string) ([]domain.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.partyExistsLocked(partyType, partyID) {
		return nil, store.ErrNotFound
	}
	history := s.ledger[ledgerKey(partyType, partyID)]
	entries := make([]domain.LedgerEntry, 0, len(history))
	for i := len(history) - 1; i >= 0; i-- {
		entries = append(entries, history[i])
	}
	return entries, nil
}

func (s *Store) LedgerBalance(_ context.Context, partyType string, partyID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.partyExistsLocked(partyType, partyID) {
		return 0, store.ErrNotFound
	}
	balance := int64(0)
	for _, entry := range s.ledger[ledgerKey(partyType, partyID)] {
		switch entry.EntryType {
		case domain.EntryDue:
			balance += entry.AmountCents
		case domain.EntryPayment, domain.EntryReturn:
			balance -= entry.AmountCents
		}
	}
	return balance, nil
}

func (s *Store) CreateSale(_ context.Context, sale domain.Sale) (*domain.Sale, error) {
	if err := store.ValidateSale(sale); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existingID, ok := s.salesByIdem[sale.IdempotencyKey]; ok {
		return cloneSale(s.salesByID[existingID]), nil
	}

	var customer domain.Customer
	if sale.CustomerID != "" {
		c, exists := s.customers[sale.CustomerID]
		if !exists {
			return nil, store.ErrNotFound
		}
		customer = c
	}

	// Check every line before touching stock so a failure leaves nothing written.
	demand := make(map[string]decimal.Decimal, len(sale.Items))
	for i, item := range sale.Items {
		product, exists := s.products[item.ProductID]
		if !exists || !product.Active {
			return nil, store.ErrInvalidTransaction
		}
		demand[item.ProductID] = demand[item.ProductID].Add(item.Qty)
		if product.StockQty.LessThan(demand[item.ProductID]) {
			return nil, store.ErrInsufficientStock
		}
		sale.Items[i].ProductName = product.Name
		sale.Items[i].Category = product.Category
		sale.Items[i].UnitCostCents = product.CostPriceCents
	}

	if sale.ID == "" {
		sale.ID = xid.New("sale")
	}
	if sale.CreatedAt.IsZero() {
		sale.CreatedAt = time.Now().UTC()
	}

	now := time.Now().UTC()
	for productID, qty := range demand {
		product := s.products[productID]
		product.StockQty = product.StockQty.Sub(qty)
		product.UpdatedAt = now
		s.products[productID] = product
	}

	if sale.CustomerID != "" {
		customer.TotalPurchaseCents += sale.TotalCents
		customer.TotalPaidCents += sale.PaidCents
		customer.UpdatedAt = now
		s.customers[customer.ID] = customer
		if sale.DueCents > 0 {
			if _, err := s.postLedgerLocked(domain.LedgerEntry{
				PartyType:     domain.PartyCustomer,
				PartyID:       customer.ID,
				EntryType:     domain.EntryDue,
				AmountCents:   sale.DueCents,
				ReferenceType: domain.RefSale,
				ReferenceID:   sale.ID,
				Note:          sale.InvoiceNumber,
				CreatedBy:     sale.CreatedBy,
				CreatedAt:     sale.CreatedAt,
			}); err != nil {
				// DUE entries cannot fail once the customer exists.
				return nil, err
			}
		}
	}

	stored := cloneSale(&sale)
	s.salesByID[sale.ID] = stored
	s.salesByIdem[sale.IdempotencyKey] = sale.ID
	return cloneSale(stored), nil
}

func (s *Store) CreateSaleReturn(_ context.Context, ret domain.Sale, dueCreditCents int64) (*domain.Sale, error) {
	if err := store.ValidateReturn(ret, dueCreditCents); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, taken := s.salesByID[ret.ID]; taken && ret.ID != "" {
		return nil, store.ErrInvalidTransaction
	}
	original, exists := s.salesByID[ret.OriginalSaleID]
	if !exists {
		return nil, store.ErrNotFound
	}
	if original.Kind != domain.SaleKindSale || original.CustomerID != ret.CustomerID {
		return nil, store.ErrInvalidTransaction
	}

	sold := soldQtyByProduct(original.Items)
	returned := make(map[string]decimal.Decimal, len(sold))
	for _, id := range s.returnsBySale[original.ID] {
		for _, item := range s.salesByID[id].Items {
			returned[item.ProductID] = returned[item.ProductID].Add(item.Qty.Neg())
		}
	}
	for _, item := range ret.Items {
		returned[item.ProductID] = returned[item.ProductID].Add(item.Qty.Neg())
		if returned[item.ProductID].GreaterThan(sold[item.ProductID]) {
			return nil, store.ErrReturnExceedsSale
		}
		if _, ok := s.products[item.ProductID]; !ok {
			return nil, store.ErrNotFound
		}
	}

	var customer domain.Customer
	if ret.CustomerID != "" {
		c, ok := s.customers[ret.CustomerID]
		if !ok {
			return nil, store.ErrNotFound
		}
		customer = c
		if dueCreditCents > 0 {
			if _, err := store.NextBalance(customer.TotalDueCents, domain.EntryReturn, dueCreditCents); err != nil {
				return nil, err
			}
		}
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

	now := time.Now().UTC()
	for _, item := range ret.Items {
		product := s.products[item.ProductID]
		product.StockQty = product.StockQty.Add(item.Qty.Neg())
		product.UpdatedAt = now
		s.products[item.ProductID] = product
	}

	if ret.CustomerID != "" {
		customer.TotalPurchaseCents += ret.TotalCents
		customer.TotalPaidCents += ret.PaidCents
		customer.UpdatedAt = now
		s.customers[customer.ID] = customer
		if dueCreditCents > 0 {
			if _, err := s.postLedgerLocked(domain.LedgerEntry{
				PartyType:     domain.PartyCustomer,
				PartyID:       customer.ID,
				EntryType:     domain.EntryReturn,
				AmountCents:   dueCreditCents,
				ReferenceType: domain.RefReturn,
				ReferenceID:   ret.ID,
				Note:          ret.InvoiceNumber,
				CreatedBy:     ret.CreatedBy,
				CreatedAt:     ret.CreatedAt,
			}); err != nil {
				return nil, err
			}
		}
	}

	stored := cloneSale(&ret)
	s.salesByID[ret.ID] = stored
	s.returnsBySale[original.ID] = append(s.returnsBySale[original.ID], ret.ID)
	return cloneSale(stored), nil
}

func (s *Store) GetSale(_ context.Context, id string) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sale, exists := s.salesByID[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	return cloneSale(sale), nil
}

// FindSaleByIdempotency only knows sales; returns are never indexed by key.
func (s *Store) FindSaleByIdempotency(_ context.Context, key string) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, exists := s.salesByIdem[key]
	if !exists {
		return nil, store.ErrNotFound
	}
	return cloneSale(s.salesByID[id]), nil
}

func (s *Store) ListSales(_ context.Context, from time.Time, to time.Time) ([]domain.Sale, error) {
	return s.filterSales(func(sale *domain.Sale) bool {
		return !sale.CreatedAt.Before(from) && sale.CreatedAt.Before(to)
	}), nil
}

func (s *Store) SearchSales(_ context.Context, invoice string) ([]domain.Sale, error) {
	needle := strings.ToUpper(strings.TrimSpace(invoice))
	return s.filterSales(func(sale *domain.Sale) bool {
		return strings.Contains(strings.ToUpper(sale.InvoiceNumber), needle)
	}), nil
}

func (s *Store) ListSalesForCustomer(_ context.Context, customerID string) ([]domain.Sale, error) {
	return s.filterSales(func(sale *domain.Sale) bool {
		return sale.CustomerID == customerID
	}), nil
}

func (s *Store) ListReturnsForSale(_ context.Context, saleID string) ([]domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.returnsBySale[saleID]
	returns := make([]domain.Sale, 0, len(ids))
	for _, id := range ids {
		returns = append(returns, *cloneSale(s.salesByID[id]))
	}
	return returns, nil
}

func (s *Store) filterSales(keep func(*domain.Sale) bool) []domain.Sale {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sales := make([]domain.Sale, 0, 64)
	for _, sale := range s.salesByID {
		if keep(sale) {
			sales = append(sales, *cloneSale(sale))
		}
	}
	slices.SortFunc(sales, func(a, b domain.Sale) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmpString(b.ID, a.ID)
	})
	return sales
}

func (s *Store) CreatePurchase(_ context.Context, purchase domain.Purchase) (*domain.Purchase, error) {
	if err := store.ValidatePurchase(purchase); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var supplier domain.Supplier
	if purchase.SupplierID != "" {
		sup, exists := s.suppliers[purchase.SupplierID]
		if !exists {
			return nil, store.ErrNotFound
		}
		supplier = sup
	}
	for _, item := range purchase.Items {
		if _, exists := s.products[item.ProductID]; !exists {
			return nil, store.ErrNotFound
		}
	}

	if purchase.ID == "" {
		purchase.ID = xid.New("pur")
	}
	if purchase.CreatedAt.IsZero() {
		purchase.CreatedAt = time.Now().UTC()
	}

	now := time.Now().UTC()
	for _, item := range purchase.Items {
		product := s.products[item.ProductID]
		product.CostPriceCents = store.WeightedCostCents(product.CostPriceCents, product.StockQty, item.UnitCostCents, item.Qty)
		product.StockQty = product.StockQty.Add(item.Qty)
		product.UpdatedAt = now
		s.products[item.ProductID] = product
	}

	if purchase.SupplierID != "" {
		supplier.TotalPurchasedCents += purchase.TotalCents
		supplier.TotalPaidCents += purchase.PaidCents
		supplier.UpdatedAt = now
		s.suppliers[supplier.ID] = supplier
		if purchase.DueCents > 0 {
			if _, err := s.postLedgerLocked(domain.LedgerEntry{
				PartyType:     domain.PartySupplier,
				PartyID:       supplier.ID,
				EntryType:     domain.EntryDue,
				AmountCents:   purchase.DueCents,
				ReferenceType: domain.RefPurchase,
				ReferenceID:   purchase.ID,
				Note:          purchase.Reference,
				CreatedBy:     purchase.CreatedBy,
				CreatedAt:     purchase.CreatedAt,
			}); err != nil {
				return nil, err
			}
		}
	}

	stored := clonePurchase(purchase)
	s.purchasesByID[purchase.ID] = stored
	created := clonePurchase(stored)
	return &created, nil
}

func (s *Store) GetPurchase(_ context.Context, id string) (*domain.Purchase, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	purchase, exists := s.purchasesByID[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	dup := clonePurchase(purchase)
	return &dup, nil
}

func (s *Store) ListPurchases(_ context.Context, from time.Time, to time.Time) ([]domain.Purchase, error) {
	return s.filterPurchases(func(p domain.Purchase) bool {
		return !p.CreatedAt.Before(from) && p.CreatedAt.Before(to)
	}), nil
}

func (s *Store) ListPurchasesForSupplier(_ context.Context, supplierID string) ([]domain.Purchase, error) {
	return s.filterPurchases(func(p domain.Purchase) bool {
		return p.SupplierID == supplierID
	}), nil
}

func (s *Store) filterPurchases(keep func(domain.Purchase) bool) []domain.Purchase {
	s.mu.RLock()
	defer s.mu.RUnlock()

	purchases := make([]domain.Purchase, 0, 32)
	for _, p := range s.purchasesByID {
		if keep(p) {
			purchases = append(purchases, clonePurchase(p))
		}
	}
	slices.SortFunc(purchases, func(a, b domain.Purchase) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmpString(b.ID, a.ID)
	})
	return purchases
}

func (s *Store) CreateExpense(_ context.Context, expense domain.Expense) (*domain.Expense, error) {
	if expense.AmountCents < 1 || strings.TrimSpace(expense.Category) == "" {
		return nil, store.ErrInvalidTransaction
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if expense.ID == "" {
		expense.ID = xid.New("exp")
	}
	if expense.CreatedAt.IsZero() {
		expense.CreatedAt = time.Now().UTC()
	}
	s.expensesByID[expense.ID] = expense
	return &expense, nil
}

func (s *Store) UpdateExpense(_ context.Context, expense domain.Expense) (*domain.Expense, error) {
	if expense.AmountCents < 1 || strings.TrimSpace(expense.Category) == "" {
		return nil, store.ErrInvalidTransaction
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.expensesByID[expense.ID]
	if !exists {
		return nil, store.ErrNotFound
	}
	expense.CreatedAt = existing.CreatedAt
	s.expensesByID[expense.ID] = expense
	return &expense, nil
}

func (s *Store) GetExpense(_ context.Context, id string) (*domain.Expense, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	expense, exists := s.expensesByID[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	return &expense, nil
}

func (s *Store) ListExpenses(_ context.Context, from time.Time, to time.Time) ([]domain.Expense, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	expenses := make([]domain.Expense, 0, 32)
	for _, e := range s.expensesByID {
		if e.Date.Before(from) || !e.Date.Before(to) {
			continue
		}
		expenses = append(expenses, e)
	}
	slices.SortFunc(expenses, func(a, b domain.Expense) int {
		if c := b.Date.Compare(a.Date); c != 0 {
			return c
		}
		return cmpString(b.ID, a.ID)
	})
	return expenses, nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.AuditLog, 0, 64)
	for _, entry := range s.auditLogs {
		if entry.CreatedAt.Before(from) || !entry.CreatedAt.Before(to) {
			continue
		}
		result = append(result, entry)
	}

	slices.SortFunc(result, func(a, b domain.AuditLog) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return cmpString(b.ID, a.ID)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidTransaction
	}
	if _, exists := s.usersByUsername[username]; exists {
		return store.ErrInvalidTransaction
	}
	user.Username = username
	if user.Role == "" {
		user.Role = domain.RoleCashier
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.Active = true
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return cmpString(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidTransaction
	}
	user, exists := s.usersByUsername[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

func (s *Store) SetUserActive(_ context.Context, username string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username = strings.ToLower(strings.TrimSpace(username))
	user, exists := s.usersByUsername[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Active = active
	s.usersByUsername[username] = user
	return nil
}

// postLedgerLocked must be called with s.mu held for writing. It validates
// before mutating, so an error leaves the party untouched.
func (s *Store) postLedgerLocked(entry domain.LedgerEntry) (domain.LedgerEntry, error) {
	if entry.ID == "" {
		entry.ID = xid.New("led")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	if entry.ReferenceType == "" {
		entry.ReferenceType = domain.RefManual
	}

	switch entry.PartyType {
	case domain.PartyCustomer:
		customer, exists := s.customers[entry.PartyID]
		if !exists {
			return domain.LedgerEntry{}, store.ErrNotFound
		}
		balance, err := store.NextBalance(customer.TotalDueCents, entry.EntryType, entry.AmountCents)
		if err != nil {
			return domain.LedgerEntry{}, err
		}
		customer.TotalDueCents = balance
		if entry.EntryType == domain.EntryPayment {
			customer.TotalPaidCents += entry.AmountCents
		}
		customer.UpdatedAt = entry.CreatedAt
		s.customers[customer.ID] = customer
		entry.BalanceCents = balance
	case domain.PartySupplier:
		supplier, exists := s.suppliers[entry.PartyID]
		if !exists {
			return domain.LedgerEntry{}, store.ErrNotFound
		}
		balance, err := store.NextBalance(supplier.TotalDueCents, entry.EntryType, entry.AmountCents)
		if err != nil {
			return domain.LedgerEntry{}, err
		}
		supplier.TotalDueCents = balance
		if entry.EntryType == domain.EntryPayment {
			supplier.TotalPaidCents += entry.AmountCents
		}
		supplier.UpdatedAt = entry.CreatedAt
		s.suppliers[supplier.ID] = supplier
		entry.BalanceCents = balance
	default:
		return domain.LedgerEntry{}, store.ErrInvalidTransaction
	}

	key := ledgerKey(entry.PartyType, entry.PartyID)
	s.ledger[key] = append(s.ledger[key], entry)
	return entry, nil
}

func (s *Store) partyExistsLocked(partyType string, partyID string) bool {
	switch partyType {
	case domain.PartyCustomer:
		_, ok := s.customers[partyID]
		return ok
	case domain.PartySupplier:
		_, ok := s.suppliers[partyID]
		return ok
	}
	return false
}

func ledgerKey(partyType string, partyID string) string {
	return partyType + "::" + partyID
}

func soldQtyByProduct(items []domain.SaleItem) map[string]decimal.Decimal {
	sold := make(map[string]decimal.Decimal, len(items))
	for _, item := range items {
		sold[item.ProductID] = sold[item.ProductID].Add(item.Qty)
	}
	return sold
}

func sortProducts(products []domain.Product) {
	slices.SortFunc(products, func(a, b domain.Product) int {
		if a.Category == b.Category {
			return cmpString(a.Name, b.Name)
		}
		return cmpString(a.Category, b.Category)
	})
}

func cmpString(a string, b string) int {
	if a == b {
		return 0
	}
	if a < b {
		return -1
	}
	return 1
}

func cloneProduct(src domain.Product) domain.Product {
	dup := src
	if src.ExpiryDate != nil {
		expiry := src.ExpiryDate.UTC()
		dup.ExpiryDate = &expiry
	}
	return dup
}

func cloneSale(src *domain.Sale) *domain.Sale {
	if src == nil {
		return nil
	}
	dup := *src
	items := make([]domain.SaleItem, len(src.Items))
	copy(items, src.Items)
	dup.Items = items
	return &dup
}

func clonePurchase(src domain.Purchase) domain.Purchase {
	dup := src
	items := make([]domain.PurchaseItem, len(src.Items))
	copy(items, src.Items)
	dup.Items = items
	return dup
}
