package service

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/xuri/excelize/v2"

	"shopkeeper/backend/internal/domain"
	"shopkeeper/backend/internal/logging"
	"shopkeeper/backend/internal/store"
)

// ErrLedgerMismatch means a party's stored due no longer matches its log.
var ErrLedgerMismatch = errors.New("ledger balance mismatch")

func (s *Service) AddCustomerDue(ctx context.Context, customerID string, req domain.LedgerPostRequest) (domain.LedgerEntry, error) {
	return s.postManual(ctx, domain.PartyCustomer, customerID, domain.EntryDue, req)
}

func (s *Service) ReceiveCustomerPayment(ctx context.Context, customerID string, req domain.LedgerPostRequest) (domain.LedgerEntry, error) {
	return s.postManual(ctx, domain.PartyCustomer, customerID, domain.EntryPayment, req)
}

func (s *Service) AddSupplierDue(ctx context.Context, supplierID string, req domain.LedgerPostRequest) (domain.LedgerEntry, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return domain.LedgerEntry{}, err
	}
	return s.postManual(ctx, domain.PartySupplier, supplierID, domain.EntryDue, req)
}

func (s *Service) PaySupplier(ctx context.Context, supplierID string, req domain.LedgerPostRequest) (domain.LedgerEntry, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return domain.LedgerEntry{}, err
	}
	return s.postManual(ctx, domain.PartySupplier, supplierID, domain.EntryPayment, req)
}

func (s *Service) postManual(ctx context.Context, partyType string, partyID string, entryType string, req domain.LedgerPostRequest) (domain.LedgerEntry, error) {
	if err := validateStruct(req); err != nil {
		return domain.LedgerEntry{}, err
	}
	partyID = strings.TrimSpace(partyID)
	if partyID == "" {
		return domain.LedgerEntry{}, fieldError("party_id", "is required")
	}

	entry := domain.LedgerEntry{
		PartyType:     partyType,
		PartyID:       partyID,
		EntryType:     entryType,
		AmountCents:   req.AmountCents,
		ReferenceType: domain.RefManual,
		Note:          strings.TrimSpace(req.Note),
		CreatedBy:     actorName(ctx),
		CreatedAt:     s.now(),
	}

	var posted *domain.LedgerEntry
	err := s.withPartyLock(ctx, partyType, partyID, func() error {
		var err error
		posted, err = s.repo.PostLedgerEntry(ctx, entry)
		return err
	})
	if err != nil {
		if !errors.Is(err, store.ErrOverpayment) && !errors.Is(err, store.ErrNotFound) {
			logging.LogError(s.logger, "ledger", "postManual", "post ledger entry", entry, err)
		}
		return domain.LedgerEntry{}, err
	}

	s.logAudit(ctx, "ledger_"+strings.ToLower(entryType), partyType, partyID, fmt.Sprintf("amount=%d,balance=%d", posted.AmountCents, posted.BalanceCents))
	s.invalidateDashboard(ctx)
	s.logger.WithFields(logrus.Fields{
		"party":   partyType + "/" + partyID,
		"entry":   entryType,
		"amount":  posted.AmountCents,
		"balance": posted.BalanceCents,
	}).Info("ledger entry posted")
	return *posted, nil
}

func (s *Service) CustomerLedger(ctx context.Context, customerID string) (domain.LedgerStatement, error) {
	customer, err := s.repo.GetCustomer(ctx, strings.TrimSpace(customerID))
	if err != nil {
		return domain.LedgerStatement{}, err
	}
	entries, err := s.repo.ListLedgerEntries(ctx, domain.PartyCustomer, customer.ID)
	if err != nil {
		return domain.LedgerStatement{}, err
	}
	statement := buildStatement(domain.PartyCustomer, customer.ID, customer.Name, customer.TotalDueCents, entries)
	return statement, nil
}

func (s *Service) SupplierLedger(ctx context.Context, supplierID string) (domain.LedgerStatement, error) {
	supplier, err := s.repo.GetSupplier(ctx, strings.TrimSpace(supplierID))
	if err != nil {
		return domain.LedgerStatement{}, err
	}
	entries, err := s.repo.ListLedgerEntries(ctx, domain.PartySupplier, supplier.ID)
	if err != nil {
		return domain.LedgerStatement{}, err
	}
	purchases, err := s.repo.ListPurchasesForSupplier(ctx, supplier.ID)
	if err != nil {
		return domain.LedgerStatement{}, err
	}
	statement := buildStatement(domain.PartySupplier, supplier.ID, supplier.Name, supplier.TotalDueCents, entries)
	statement.Purchases = purchases
	return statement, nil
}

func buildStatement(partyType string, partyID string, name string, balance int64, entries []domain.LedgerEntry) domain.LedgerStatement {
	statement := domain.LedgerStatement{
		PartyType:    partyType,
		PartyID:      partyID,
		PartyName:    name,
		BalanceCents: balance,
		Entries:      entries,
	}
	for _, entry := range entries {
		switch entry.EntryType {
		case domain.EntryDue:
			statement.TotalDueCents += entry.AmountCents
		case domain.EntryPayment:
			statement.TotalPaid += entry.AmountCents
		case domain.EntryReturn:
			statement.TotalReturned += entry.AmountCents
		}
	}
	return statement
}

// VerifyLedger recomputes a party's balance from its log and compares it with
// the stored aggregate and the running balance of the latest entry. The reads
// run under the party lock so a posting in flight cannot skew them.
func (s *Service) VerifyLedger(ctx context.Context, partyType string, partyID string) (domain.LedgerCheck, error) {
	partyID = strings.TrimSpace(partyID)
	check := domain.LedgerCheck{PartyType: partyType, PartyID: partyID}
	if partyType != domain.PartyCustomer && partyType != domain.PartySupplier {
		return check, fieldError("party_type", "must be customer or supplier")
	}

	err := s.withPartyLock(ctx, partyType, partyID, func() error {
		var err error
		check, err = s.readLedgerCheck(ctx, check)
		return err
	})
	if err != nil {
		return check, err
	}

	check.Consistent = check.AggregateCents == check.RecomputedCents && check.RecomputedCents == check.LastBalanceCents
	if !check.Consistent {
		err := fmt.Errorf("%w: %s %s aggregate=%d recomputed=%d last=%d", ErrLedgerMismatch, partyType, partyID, check.AggregateCents, check.RecomputedCents, check.LastBalanceCents)
		logging.LogError(s.logger, "ledger", "VerifyLedger", "compare balances", check, err)
		return check, err
	}
	return check, nil
}

func (s *Service) readLedgerCheck(ctx context.Context, check domain.LedgerCheck) (domain.LedgerCheck, error) {
	if check.PartyType == domain.PartyCustomer {
		customer, err := s.repo.GetCustomer(ctx, check.PartyID)
		if err != nil {
			return check, err
		}
		check.AggregateCents = customer.TotalDueCents
	} else {
		supplier, err := s.repo.GetSupplier(ctx, check.PartyID)
		if err != nil {
			return check, err
		}
		check.AggregateCents = supplier.TotalDueCents
	}

	recomputed, err := s.repo.LedgerBalance(ctx, check.PartyType, check.PartyID)
	if err != nil {
		return check, err
	}
	check.RecomputedCents = recomputed

	entries, err := s.repo.ListLedgerEntries(ctx, check.PartyType, check.PartyID)
	if err != nil {
		return check, err
	}
	if len(entries) > 0 {
		check.LastBalanceCents = entries[0].BalanceCents
	}
	return check, nil
}

func (s *Service) statementFor(ctx context.Context, partyType string, partyID string) (domain.LedgerStatement, error) {
	switch partyType {
	case domain.PartyCustomer:
		return s.CustomerLedger(ctx, partyID)
	case domain.PartySupplier:
		return s.SupplierLedger(ctx, partyID)
	}
	return domain.LedgerStatement{}, fieldError("party_type", "must be customer or supplier")
}

var ledgerHeader = []string{"Date", "Type", "Amount", "Balance", "Reference", "Note"}

// ExportLedgerCSV writes the party's ledger oldest first. Supplier exports
// append a purchases section.
func (s *Service) ExportLedgerCSV(ctx context.Context, partyType string, partyID string) ([]byte, error) {
	statement, err := s.statementFor(ctx, partyType, partyID)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	rows := [][]string{ledgerHeader}
	for i := len(statement.Entries) - 1; i >= 0; i-- {
		entry := statement.Entries[i]
		rows = append(rows, []string{
			entry.CreatedAt.Format("2006-01-02 15:04"),
			entry.EntryType,
			formatCents(entry.AmountCents),
			formatCents(entry.BalanceCents),
			strings.TrimSpace(entry.ReferenceType + " " + entry.ReferenceID),
			entry.Note,
		})
	}
	if len(statement.Purchases) > 0 {
		rows = append(rows, []string{}, []string{"Purchase", "Reference", "Total", "Paid", "Due", "Date"})
		for _, p := range statement.Purchases {
			rows = append(rows, []string{
				p.ID,
				p.Reference,
				formatCents(p.TotalCents),
				formatCents(p.PaidCents),
				formatCents(p.DueCents),
				p.CreatedAt.Format("2006-01-02 15:04"),
			})
		}
	}
	if err := w.WriteAll(rows); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ExportLedgerXLSX renders the same statement as a workbook with a Ledger
// sheet and, for suppliers, a Purchases sheet.
func (s *Service) ExportLedgerXLSX(ctx context.Context, partyType string, partyID string) ([]byte, error) {
	statement, err := s.statementFor(ctx, partyType, partyID)
	if err != nil {
		return nil, err
	}

	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	const ledgerSheet = "Ledger"
	if err := f.SetSheetName("Sheet1", ledgerSheet); err != nil {
		return nil, err
	}
	for col, title := range ledgerHeader {
		if err := f.SetCellValue(ledgerSheet, cellName(col, 1), title); err != nil {
			return nil, err
		}
	}
	row := 2
	for i := len(statement.Entries) - 1; i >= 0; i-- {
		entry := statement.Entries[i]
		values := []any{
			entry.CreatedAt.Format("2006-01-02 15:04"),
			entry.EntryType,
			float64(entry.AmountCents) / 100,
			float64(entry.BalanceCents) / 100,
			strings.TrimSpace(entry.ReferenceType + " " + entry.ReferenceID),
			entry.Note,
		}
		for col, value := range values {
			if err := f.SetCellValue(ledgerSheet, cellName(col, row), value); err != nil {
				return nil, err
			}
		}
		row++
	}

	if len(statement.Purchases) > 0 {
		const purchaseSheet = "Purchases"
		if _, err := f.NewSheet(purchaseSheet); err != nil {
			return nil, err
		}
		for col, title := range []string{"Purchase", "Reference", "Total", "Paid", "Due", "Date"} {
			if err := f.SetCellValue(purchaseSheet, cellName(col, 1), title); err != nil {
				return nil, err
			}
		}
		for i, p := range statement.Purchases {
			values := []any{
				p.ID,
				p.Reference,
				float64(p.TotalCents) / 100,
				float64(p.PaidCents) / 100,
				float64(p.DueCents) / 100,
				p.CreatedAt.Format("2006-01-02 15:04"),
			}
			for col, value := range values {
				if err := f.SetCellValue(purchaseSheet, cellName(col, i+2), value); err != nil {
					return nil, err
				}
			}
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func cellName(col int, row int) string {
	name, err := excelize.CoordinatesToCellName(col+1, row)
	if err != nil {
		return "A" + strconv.Itoa(row)
	}
	return name
}

func formatCents(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s%d.%02d", sign, cents/100, cents%100)
}
