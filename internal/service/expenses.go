package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"shopkeeper/backend/internal/domain"
)

func (s *Service) CreateExpense(ctx context.Context, req domain.ExpenseRequest) (domain.Expense, error) {
	expense, err := s.expenseFromRequest(req)
	if err != nil {
		return domain.Expense{}, err
	}
	expense.CreatedAt = s.now()

	created, err := s.repo.CreateExpense(ctx, expense)
	if err != nil {
		return domain.Expense{}, err
	}
	s.logAudit(ctx, "expense_create", "expense", created.ID, fmt.Sprintf("category=%s,amount=%d", created.Category, created.AmountCents))
	s.invalidateDashboard(ctx)
	return *created, nil
}

func (s *Service) UpdateExpense(ctx context.Context, id string, req domain.ExpenseRequest) (domain.Expense, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return domain.Expense{}, err
	}
	expense, err := s.expenseFromRequest(req)
	if err != nil {
		return domain.Expense{}, err
	}
	expense.ID = strings.TrimSpace(id)

	updated, err := s.repo.UpdateExpense(ctx, expense)
	if err != nil {
		return domain.Expense{}, err
	}
	s.logAudit(ctx, "expense_update", "expense", updated.ID, fmt.Sprintf("category=%s,amount=%d", updated.Category, updated.AmountCents))
	s.invalidateDashboard(ctx)
	return *updated, nil
}

func (s *Service) GetExpense(ctx context.Context, id string) (domain.Expense, error) {
	expense, err := s.repo.GetExpense(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.Expense{}, err
	}
	return *expense, nil
}

func (s *Service) ListExpenses(ctx context.Context, fromRaw string, toRaw string) ([]domain.Expense, error) {
	from, to, err := s.parseRange(fromRaw, toRaw)
	if err != nil {
		return nil, err
	}
	return s.repo.ListExpenses(ctx, startOfDay(from), to)
}

func (s *Service) expenseFromRequest(req domain.ExpenseRequest) (domain.Expense, error) {
	req.Category = strings.TrimSpace(req.Category)
	if err := validateStruct(req); err != nil {
		return domain.Expense{}, err
	}
	date := startOfDay(s.now())
	if req.Date != "" {
		parsed, err := time.Parse("2006-01-02", req.Date)
		if err != nil {
			return domain.Expense{}, fieldError("date", "must be YYYY-MM-DD")
		}
		date = parsed.UTC()
	}
	return domain.Expense{
		Date:          date,
		AmountCents:   req.AmountCents,
		Category:      strings.ToLower(req.Category),
		Description:   strings.TrimSpace(req.Description),
		PaymentMethod: defaultString(req.PaymentMethod, "cash"),
	}, nil
}
