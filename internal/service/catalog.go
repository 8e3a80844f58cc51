package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"shopkeeper/backend/internal/domain"
)

var defaultMinStock = decimal.NewFromInt(5)

func (s *Service) ListProducts(ctx context.Context, includeInactive bool) ([]domain.Product, error) {
	return s.repo.ListProducts(ctx, includeInactive)
}

func (s *Service) SearchProducts(ctx context.Context, query string) ([]domain.Product, error) {
	return s.repo.SearchProducts(ctx, query)
}

func (s *Service) GetProduct(ctx context.Context, id string) (domain.Product, error) {
	product, err := s.repo.GetProduct(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.Product{}, err
	}
	return *product, nil
}

func (s *Service) LowStockProducts(ctx context.Context) ([]domain.Product, error) {
	return s.repo.ListLowStockProducts(ctx)
}

func (s *Service) ExpiredProducts(ctx context.Context) ([]domain.Product, error) {
	return s.repo.ListExpiredProducts(ctx, startOfDay(s.now()))
}

func (s *Service) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (domain.Product, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return domain.Product{}, err
	}
	req.Name = strings.TrimSpace(req.Name)
	if err := validateStruct(req); err != nil {
		return domain.Product{}, err
	}
	if req.InitialStock.IsNegative() {
		return domain.Product{}, fieldError("initial_stock", "must not be negative")
	}

	product := domain.Product{
		Name:           req.Name,
		LocalName:      strings.TrimSpace(req.LocalName),
		Unit:           defaultString(strings.TrimSpace(req.Unit), "pcs"),
		SalePriceCents: req.SalePriceCents,
		CostPriceCents: req.CostPriceCents,
		StockQty:       req.InitialStock,
		Category:       strings.ToLower(defaultString(strings.TrimSpace(req.Category), "general")),
		MinStockAlert:  defaultMinStock,
		Barcode:        strings.TrimSpace(req.Barcode),
	}
	if req.MinStockAlert != nil {
		if req.MinStockAlert.IsNegative() {
			return domain.Product{}, fieldError("min_stock_alert", "must not be negative")
		}
		product.MinStockAlert = *req.MinStockAlert
	}
	if req.ExpiryDate != "" {
		expiry, _ := time.Parse("2006-01-02", req.ExpiryDate)
		product.ExpiryDate = &expiry
	}

	created, err := s.repo.CreateProduct(ctx, product)
	if err != nil {
		return domain.Product{}, err
	}
	s.logAudit(ctx, "product_create", "product", created.ID, fmt.Sprintf("name=%s,price=%d,stock=%s", created.Name, created.SalePriceCents, created.StockQty))
	s.invalidateDashboard(ctx)
	return *created, nil
}

func (s *Service) UpdateProduct(ctx context.Context, id string, req domain.ProductUpdateRequest) (domain.Product, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return domain.Product{}, err
	}
	if err := validateStruct(req); err != nil {
		return domain.Product{}, err
	}

	existing, err := s.repo.GetProduct(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.Product{}, err
	}

	updated := *existing
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return domain.Product{}, fieldError("name", "is required")
		}
		updated.Name = name
	}
	if req.LocalName != nil {
		updated.LocalName = strings.TrimSpace(*req.LocalName)
	}
	if req.Unit != nil {
		updated.Unit = strings.TrimSpace(*req.Unit)
	}
	if req.SalePriceCents != nil {
		updated.SalePriceCents = *req.SalePriceCents
	}
	if req.CostPriceCents != nil {
		updated.CostPriceCents = *req.CostPriceCents
	}
	if req.Category != nil {
		updated.Category = strings.ToLower(strings.TrimSpace(*req.Category))
	}
	if req.MinStockAlert != nil {
		if req.MinStockAlert.IsNegative() {
			return domain.Product{}, fieldError("min_stock_alert", "must not be negative")
		}
		updated.MinStockAlert = *req.MinStockAlert
	}
	if req.Barcode != nil {
		updated.Barcode = strings.TrimSpace(*req.Barcode)
	}
	if req.Active != nil {
		updated.Active = *req.Active
	}
	if req.ExpiryDate != nil {
		if *req.ExpiryDate == "" {
			updated.ExpiryDate = nil
		} else {
			expiry, _ := time.Parse("2006-01-02", *req.ExpiryDate)
			updated.ExpiryDate = &expiry
		}
	}

	saved, err := s.repo.UpdateProduct(ctx, updated, req.CostPriceCents != nil)
	if err != nil {
		return domain.Product{}, err
	}
	if existing.SalePriceCents != saved.SalePriceCents {
		s.logger.WithField("product_id", saved.ID).Infof("sale price changed %d -> %d", existing.SalePriceCents, saved.SalePriceCents)
	}
	s.logAudit(ctx, "product_update", "product", saved.ID, fmt.Sprintf("active=%t,price=%d,cost=%d", saved.Active, saved.SalePriceCents, saved.CostPriceCents))
	s.invalidateDashboard(ctx)
	return *saved, nil
}

func (s *Service) DeactivateProduct(ctx context.Context, id string) (domain.Product, error) {
	inactive := false
	return s.UpdateProduct(ctx, id, domain.ProductUpdateRequest{Active: &inactive})
}

// CorrectStock sets the counted quantity of a product after a stock take.
// The delta is written to the audit log so stock stays explainable.
func (s *Service) CorrectStock(ctx context.Context, id string, req domain.StockCorrectionRequest) (domain.Product, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return domain.Product{}, err
	}
	if err := validateStruct(req); err != nil {
		return domain.Product{}, err
	}
	if req.Qty.IsNegative() {
		return domain.Product{}, fieldError("qty", "must not be negative")
	}

	id = strings.TrimSpace(id)
	previous, err := s.repo.SetStock(ctx, id, req.Qty)
	if err != nil {
		return domain.Product{}, err
	}
	delta := req.Qty.Sub(previous)
	s.logAudit(ctx, "stock_correction", "product", id, fmt.Sprintf("from=%s,to=%s,delta=%s,reason=%s", previous, req.Qty, delta, strings.TrimSpace(req.Reason)))
	s.invalidateDashboard(ctx)

	product, err := s.repo.GetProduct(ctx, id)
	if err != nil {
		return domain.Product{}, err
	}
	return *product, nil
}

func (s *Service) ListCustomers(ctx context.Context, query string) ([]domain.Customer, error) {
	if strings.TrimSpace(query) != "" {
		return s.repo.SearchCustomers(ctx, query)
	}
	return s.repo.ListCustomers(ctx)
}

func (s *Service) GetCustomer(ctx context.Context, id string) (domain.Customer, error) {
	customer, err := s.repo.GetCustomer(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.Customer{}, err
	}
	return *customer, nil
}

func (s *Service) CreateCustomer(ctx context.Context, req domain.PartyRequest) (domain.Customer, error) {
	name, phone, address, err := s.normalizeParty(ctx, req)
	if err != nil {
		return domain.Customer{}, err
	}
	created, err := s.repo.CreateCustomer(ctx, domain.Customer{Name: name, Phone: phone, Address: address})
	if err != nil {
		return domain.Customer{}, err
	}
	s.logAudit(ctx, "customer_create", "customer", created.ID, created.Name)
	return *created, nil
}

func (s *Service) UpdateCustomer(ctx context.Context, id string, req domain.PartyRequest) (domain.Customer, error) {
	name, phone, address, err := s.normalizeParty(ctx, req)
	if err != nil {
		return domain.Customer{}, err
	}
	updated, err := s.repo.UpdateCustomer(ctx, domain.Customer{ID: strings.TrimSpace(id), Name: name, Phone: phone, Address: address})
	if err != nil {
		return domain.Customer{}, err
	}
	s.logAudit(ctx, "customer_update", "customer", updated.ID, updated.Name)
	return *updated, nil
}

func (s *Service) ListSuppliers(ctx context.Context) ([]domain.Supplier, error) {
	return s.repo.ListSuppliers(ctx)
}

func (s *Service) GetSupplier(ctx context.Context, id string) (domain.Supplier, error) {
	supplier, err := s.repo.GetSupplier(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.Supplier{}, err
	}
	return *supplier, nil
}

func (s *Service) CreateSupplier(ctx context.Context, req domain.PartyRequest) (domain.Supplier, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return domain.Supplier{}, err
	}
	name, phone, address, err := s.normalizeParty(ctx, req)
	if err != nil {
		return domain.Supplier{}, err
	}
	created, err := s.repo.CreateSupplier(ctx, domain.Supplier{Name: name, Phone: phone, Address: address})
	if err != nil {
		return domain.Supplier{}, err
	}
	s.logAudit(ctx, "supplier_create", "supplier", created.ID, created.Name)
	return *created, nil
}

func (s *Service) UpdateSupplier(ctx context.Context, id string, req domain.PartyRequest) (domain.Supplier, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return domain.Supplier{}, err
	}
	name, phone, address, err := s.normalizeParty(ctx, req)
	if err != nil {
		return domain.Supplier{}, err
	}
	updated, err := s.repo.UpdateSupplier(ctx, domain.Supplier{ID: strings.TrimSpace(id), Name: name, Phone: phone, Address: address})
	if err != nil {
		return domain.Supplier{}, err
	}
	s.logAudit(ctx, "supplier_update", "supplier", updated.ID, updated.Name)
	return *updated, nil
}

func (s *Service) normalizeParty(ctx context.Context, req domain.PartyRequest) (string, string, string, error) {
	req.Name = strings.TrimSpace(req.Name)
	if err := validateStruct(req); err != nil {
		return "", "", "", err
	}
	shop, err := s.repo.GetShop(ctx)
	if err != nil {
		shop = nil
	}
	phone, err := normalizePhone(req.Phone, s.regionFor(shop))
	if err != nil {
		return "", "", "", err
	}
	return req.Name, phone, strings.TrimSpace(req.Address), nil
}
