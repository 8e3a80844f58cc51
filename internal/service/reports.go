package service

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"shopkeeper/backend/internal/domain"
)

// ProfitSummary nets sales (returns count negative) against the cost of the
// goods sold and the expenses of the period.
func (s *Service) ProfitSummary(ctx context.Context, fromRaw string, toRaw string) (domain.ProfitSummary, error) {
	from, to, err := s.parseRange(fromRaw, toRaw)
	if err != nil {
		return domain.ProfitSummary{}, err
	}
	return s.profitBetween(ctx, from, to)
}

func (s *Service) profitBetween(ctx context.Context, from time.Time, to time.Time) (domain.ProfitSummary, error) {
	sales, err := s.repo.ListSales(ctx, from, to)
	if err != nil {
		return domain.ProfitSummary{}, err
	}
	expenses, err := s.repo.ListExpenses(ctx, startOfDay(from), to)
	if err != nil {
		return domain.ProfitSummary{}, err
	}

	summary := domain.ProfitSummary{From: from, To: to}
	for _, sale := range sales {
		summary.SalesCents += sale.TotalCents
		for _, item := range sale.Items {
			summary.COGSCents += domain.LineCents(item.UnitCostCents, item.Qty)
		}
		if sale.Kind == domain.SaleKindReturn {
			summary.ReturnCount++
		} else {
			summary.SaleCount++
		}
	}
	for _, expense := range expenses {
		summary.ExpensesCents += expense.AmountCents
	}
	summary.GrossCents = summary.SalesCents - summary.COGSCents
	summary.ProfitCents = summary.GrossCents - summary.ExpensesCents
	return summary, nil
}

func (s *Service) ProfitPerProduct(ctx context.Context, fromRaw string, toRaw string) ([]domain.ProductProfit, error) {
	from, to, err := s.parseRange(fromRaw, toRaw)
	if err != nil {
		return nil, err
	}
	sales, err := s.repo.ListSales(ctx, from, to)
	if err != nil {
		return nil, err
	}

	byProduct := make(map[string]*domain.ProductProfit)
	for _, sale := range sales {
		for _, item := range sale.Items {
			row, ok := byProduct[item.ProductID]
			if !ok {
				row = &domain.ProductProfit{
					ProductID:   item.ProductID,
					ProductName: item.ProductName,
					Category:    item.Category,
					Qty:         decimal.Zero,
				}
				byProduct[item.ProductID] = row
			}
			row.Qty = row.Qty.Add(item.Qty)
			row.RevenueCents += item.LineTotalCents
			row.CostCents += domain.LineCents(item.UnitCostCents, item.Qty)
		}
	}

	rows := make([]domain.ProductProfit, 0, len(byProduct))
	for _, row := range byProduct {
		row.ProfitCents = row.RevenueCents - row.CostCents
		rows = append(rows, *row)
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].ProfitCents == rows[j].ProfitCents {
			return rows[i].ProductName < rows[j].ProductName
		}
		return rows[i].ProfitCents > rows[j].ProfitCents
	})
	return rows, nil
}

func (s *Service) ProfitPerCategory(ctx context.Context, fromRaw string, toRaw string) ([]domain.CategoryProfit, error) {
	products, err := s.ProfitPerProduct(ctx, fromRaw, toRaw)
	if err != nil {
		return nil, err
	}

	byCategory := make(map[string]*domain.CategoryProfit)
	for _, p := range products {
		row, ok := byCategory[p.Category]
		if !ok {
			row = &domain.CategoryProfit{Category: p.Category}
			byCategory[p.Category] = row
		}
		row.RevenueCents += p.RevenueCents
		row.CostCents += p.CostCents
		row.ProfitCents += p.ProfitCents
	}

	rows := make([]domain.CategoryProfit, 0, len(byCategory))
	for _, row := range byCategory {
		rows = append(rows, *row)
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].ProfitCents == rows[j].ProfitCents {
			return rows[i].Category < rows[j].Category
		}
		return rows[i].ProfitCents > rows[j].ProfitCents
	})
	return rows, nil
}

func (s *Service) ExpenseVsIncome(ctx context.Context, fromRaw string, toRaw string) (domain.ExpenseVsIncome, error) {
	summary, err := s.ProfitSummary(ctx, fromRaw, toRaw)
	if err != nil {
		return domain.ExpenseVsIncome{}, err
	}
	return domain.ExpenseVsIncome{
		From:          summary.From,
		To:            summary.To,
		IncomeCents:   summary.SalesCents,
		ExpensesCents: summary.ExpensesCents,
		NetCents:      summary.SalesCents - summary.ExpensesCents,
	}, nil
}

func (s *Service) ExpenseReport(ctx context.Context, fromRaw string, toRaw string) (domain.ExpenseReport, error) {
	from, to, err := s.parseRange(fromRaw, toRaw)
	if err != nil {
		return domain.ExpenseReport{}, err
	}
	expenses, err := s.repo.ListExpenses(ctx, startOfDay(from), to)
	if err != nil {
		return domain.ExpenseReport{}, err
	}

	report := domain.ExpenseReport{From: from, To: to, Categories: make([]domain.ExpenseCategoryTotal, 0, 8)}
	index := make(map[string]int)
	for _, expense := range expenses {
		report.TotalCents += expense.AmountCents
		at, ok := index[expense.Category]
		if !ok {
			at = len(report.Categories)
			index[expense.Category] = at
			report.Categories = append(report.Categories, domain.ExpenseCategoryTotal{Category: expense.Category})
		}
		report.Categories[at].AmountCents += expense.AmountCents
		report.Categories[at].Count++
	}
	sort.Slice(report.Categories, func(i, j int) bool {
		return report.Categories[i].AmountCents > report.Categories[j].AmountCents
	})
	return report, nil
}

// Dashboard returns today's figures, cached per day until the next write.
func (s *Service) Dashboard(ctx context.Context) (domain.Dashboard, error) {
	now := s.now()
	today := startOfDay(now)
	key := today.Format("2006-01-02")

	if cached, ok, err := s.cache.Get(ctx, key); err == nil && ok && cached != nil {
		return *cached, nil
	} else if err != nil {
		s.logger.WithError(err).Warn("dashboard cache read failed")
	}
	gen := s.dashboardGen.Load()

	summary, err := s.profitBetween(ctx, today, today.Add(24*time.Hour))
	if err != nil {
		return domain.Dashboard{}, err
	}
	customerDue, err := s.repo.TotalCustomerDue(ctx)
	if err != nil {
		return domain.Dashboard{}, err
	}
	supplierDue, err := s.repo.TotalSupplierDue(ctx)
	if err != nil {
		return domain.Dashboard{}, err
	}
	lowStock, err := s.repo.ListLowStockProducts(ctx)
	if err != nil {
		return domain.Dashboard{}, err
	}
	expired, err := s.repo.ListExpiredProducts(ctx, today)
	if err != nil {
		return domain.Dashboard{}, err
	}

	dashboard := domain.Dashboard{
		Date:              key,
		TodaySalesCents:   summary.SalesCents,
		TodayExpenseCents: summary.ExpensesCents,
		TodayProfitCents:  summary.ProfitCents,
		CustomerDueCents:  customerDue,
		SupplierDueCents:  supplierDue,
		LowStock:          lowStock,
		Expired:           expired,
		GeneratedAt:       now,
	}
	if s.dashboardGen.Load() != gen {
		return dashboard, nil
	}
	if err := s.cache.Set(ctx, key, &dashboard, s.dashboardTTL); err != nil {
		s.logger.WithError(err).Warn("dashboard cache write failed")
	}
	return dashboard, nil
}
