package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"shopkeeper/backend/internal/domain"
	"shopkeeper/backend/internal/store"
	"shopkeeper/backend/internal/xid"
)

// RecordPurchase books incoming stock from a supplier. Whatever is not paid
// now becomes a supplier due.
func (s *Service) RecordPurchase(ctx context.Context, req domain.PurchaseRequest) (domain.Purchase, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return domain.Purchase{}, err
	}
	if err := validateStruct(req); err != nil {
		return domain.Purchase{}, err
	}

	items := make([]domain.PurchaseItem, 0, len(req.Items))
	var total int64
	for i, item := range req.Items {
		item.ProductID = strings.TrimSpace(item.ProductID)
		if err := requirePositiveQty(fmt.Sprintf("items[%d].qty", i), item.Qty); err != nil {
			return domain.Purchase{}, err
		}
		item.LineTotalCents = domain.LineCents(item.UnitCostCents, item.Qty)
		total += item.LineTotalCents
		items = append(items, item)
	}

	paid := req.PaidCents
	if paid > total {
		paid = total
	}
	due := total - paid

	supplierID := strings.TrimSpace(req.SupplierID)
	if due > 0 && supplierID == "" {
		return domain.Purchase{}, fieldError("supplier_id", "is required when the purchase leaves a due")
	}
	if supplierID != "" {
		if _, err := s.repo.GetSupplier(ctx, supplierID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return domain.Purchase{}, fieldError("supplier_id", "unknown supplier")
			}
			return domain.Purchase{}, err
		}
	}

	purchase := domain.Purchase{
		ID:         xid.New("pur"),
		SupplierID: supplierID,
		Reference:  strings.TrimSpace(req.Reference),
		TotalCents: total,
		PaidCents:  paid,
		DueCents:   due,
		Note:       strings.TrimSpace(req.Note),
		CreatedBy:  actorName(ctx),
		CreatedAt:  s.now(),
		Items:      items,
	}

	var saved *domain.Purchase
	err := s.withPartyLock(ctx, domain.PartySupplier, supplierID, func() error {
		var err error
		saved, err = s.repo.CreatePurchase(ctx, purchase)
		return err
	})
	if err != nil {
		return domain.Purchase{}, err
	}

	s.logAudit(ctx, "purchase_create", "purchase", saved.ID, fmt.Sprintf("supplier=%s,total=%d,paid=%d,due=%d", saved.SupplierID, saved.TotalCents, saved.PaidCents, saved.DueCents))
	s.invalidateDashboard(ctx)
	s.logger.WithFields(logrus.Fields{
		"purchase_id": saved.ID,
		"supplier_id": saved.SupplierID,
		"total":       saved.TotalCents,
		"due":         saved.DueCents,
	}).Info("purchase recorded")
	return *saved, nil
}

func (s *Service) GetPurchase(ctx context.Context, id string) (domain.Purchase, error) {
	purchase, err := s.repo.GetPurchase(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.Purchase{}, err
	}
	return *purchase, nil
}

func (s *Service) ListPurchases(ctx context.Context, fromRaw string, toRaw string) ([]domain.Purchase, error) {
	from, to, err := s.parseRange(fromRaw, toRaw)
	if err != nil {
		return nil, err
	}
	return s.repo.ListPurchases(ctx, from, to)
}

func (s *Service) ListPurchasesForSupplier(ctx context.Context, supplierID string) ([]domain.Purchase, error) {
	supplierID = strings.TrimSpace(supplierID)
	if _, err := s.repo.GetSupplier(ctx, supplierID); err != nil {
		return nil, err
	}
	return s.repo.ListPurchasesForSupplier(ctx, supplierID)
}
