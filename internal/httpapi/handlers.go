package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"shopkeeper/backend/internal/domain"
	"shopkeeper/backend/internal/service"
	"shopkeeper/backend/internal/store"
)

const (
	contentTypeCSV  = "text/csv; charset=utf-8"
	contentTypeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

// saleReturnBody is the return request plus the manager PIN cashiers need.
type saleReturnBody struct {
	Items      []domain.ReturnItem `json:"items"`
	Note       string              `json:"note"`
	ManagerPIN string              `json:"manager_pin"`
}

type stockCorrectionBody struct {
	domain.StockCorrectionRequest
	ManagerPIN string `json:"manager_pin"`
}

func (a *API) handleShop(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		shop, err := a.service.GetShop(r.Context())
		if err != nil {
			a.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"shop": shop})
	case http.MethodPatch:
		var req domain.ShopUpdateRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		shop, err := a.service.UpdateShop(r.Context(), req)
		if err != nil {
			a.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"shop": shop})
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleProducts(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		query := r.URL.Query()
		var (
			products []domain.Product
			err      error
		)
		if q := strings.TrimSpace(query.Get("q")); q != "" {
			products, err = a.service.SearchProducts(r.Context(), q)
		} else {
			products, err = a.service.ListProducts(r.Context(), strings.EqualFold(query.Get("include_inactive"), "true"))
		}
		if err != nil {
			a.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"products": products})
	case http.MethodPost:
		var req domain.ProductCreateRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		product, err := a.service.CreateProduct(r.Context(), req)
		if err != nil {
			a.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"product": product})
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleProductActions(w http.ResponseWriter, r *http.Request) {
	parts := pathSegments(r.URL.Path, "/api/v1/products/")
	if len(parts) == 0 || parts[0] == "" {
		writeError(w, http.StatusBadRequest, errors.New("product id required"))
		return
	}

	switch {
	case len(parts) == 1 && parts[0] == "low-stock":
		if r.Method != http.MethodGet {
			writeMethodNotAllowed(w)
			return
		}
		products, err := a.service.LowStockProducts(r.Context())
		if err != nil {
			a.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"products": products})
	case len(parts) == 1 && parts[0] == "expired":
		if r.Method != http.MethodGet {
			writeMethodNotAllowed(w)
			return
		}
		products, err := a.service.ExpiredProducts(r.Context())
		if err != nil {
			a.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"products": products})
	case len(parts) == 1:
		a.handleProduct(w, r, parts[0])
	case len(parts) == 2 && parts[1] == "deactivate":
		if r.Method != http.MethodPost {
			writeMethodNotAllowed(w)
			return
		}
		product, err := a.service.DeactivateProduct(r.Context(), parts[0])
		if err != nil {
			a.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"product": product})
	case len(parts) == 2 && parts[1] == "stock":
		if r.Method != http.MethodPost {
			writeMethodNotAllowed(w)
			return
		}
		var body stockCorrectionBody
		if err := decodeJSON(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if !a.requireManagerPIN(w, r, "stock", body.ManagerPIN) {
			return
		}
		product, err := a.service.CorrectStock(r.Context(), parts[0], body.StockCorrectionRequest)
		if err != nil {
			a.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"product": product})
	default:
		writeError(w, http.StatusNotFound, errors.New("unknown product action"))
	}
}

func (a *API) handleProduct(w http.ResponseWriter, r *http.Request, id string) {
	switch r.Method {
	case http.MethodGet:
		product, err := a.service.GetProduct(r.Context(), id)
		if err != nil {
			a.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"product": product})
	case http.MethodPatch:
		var req domain.ProductUpdateRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		product, err := a.service.UpdateProduct(r.Context(), id, req)
		if err != nil {
			a.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"product": product})
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleCustomers(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		customers, err := a.service.ListCustomers(r.Context(), r.URL.Query().Get("q"))
		if err != nil {
			a.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"customers": customers})
	case http.MethodPost:
		var req domain.PartyRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		customer, err := a.service.CreateCustomer(r.Context(), req)
		if err != nil {
			a.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"customer": customer})
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleCustomerActions(w http.ResponseWriter, r *http.Request) {
	parts := pathSegments(r.URL.Path, "/api/v1/customers/")
	if len(parts) == 0 || parts[0] == "" {
		writeError(w, http.StatusBadRequest, errors.New("customer id required"))
		return
	}
	id := parts[0]

	switch {
	case len(parts) == 1:
		switch r.Method {
		case http.MethodGet:
			customer, err := a.service.GetCustomer(r.Context(), id)
			if err != nil {
				a.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"customer": customer})
		case http.MethodPatch:
			var req domain.PartyRequest
			if err := decodeJSON(r, &req); err != nil {
				writeError(w, http.StatusBadRequest, err)
				return
			}
			customer, err := a.service.UpdateCustomer(r.Context(), id, req)
			if err != nil {
				a.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"customer": customer})
		default:
			writeMethodNotAllowed(w)
		}
	case len(parts) == 2 && parts[1] == "sales":
		if r.Method != http.MethodGet {
			writeMethodNotAllowed(w)
			return
		}
		sales, err := a.service.CustomerPurchaseHistory(r.Context(), id)
		if err != nil {
			a.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"sales": sales})
	case parts[1] == "ledger":
		a.handleLedger(w, r, domain.PartyCustomer, id, parts[2:])
	default:
		writeError(w, http.StatusNotFound, errors.New("unknown customer action"))
	}
}

func (a *API) handleSuppliers(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		suppliers, err := a.service.ListSuppliers(r.Context())
		if err != nil {
			a.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"suppliers": suppliers})
	case http.MethodPost:
		var req domain.PartyRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		supplier, err := a.service.CreateSupplier(r.Context(), req)
		if err != nil {
			a.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"supplier": supplier})
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleSupplierActions(w http.ResponseWriter, r *http.Request) {
	parts := pathSegments(r.URL.Path, "/api/v1/suppliers/")
	if len(parts) == 0 || parts[0] == "" {
		writeError(w, http.StatusBadRequest, errors.New("supplier id required"))
		return
	}
	id := parts[0]

	switch {
	case len(parts) == 1:
		switch r.Method {
		case http.MethodGet:
			supplier, err := a.service.GetSupplier(r.Context(), id)
			if err != nil {
				a.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"supplier": supplier})
		case http.MethodPatch:
			var req domain.PartyRequest
			if err := decodeJSON(r, &req); err != nil {
				writeError(w, http.StatusBadRequest, err)
				return
			}
			supplier, err := a.service.UpdateSupplier(r.Context(), id, req)
			if err != nil {
				a.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"supplier": supplier})
		default:
			writeMethodNotAllowed(w)
		}
	case len(parts) == 2 && parts[1] == "purchases":
		if r.Method != http.MethodGet {
			writeMethodNotAllowed(w)
			return
		}
		purchases, err := a.service.ListPurchasesForSupplier(r.Context(), id)
		if err != nil {
			a.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"purchases": purchases})
	case parts[1] == "ledger":
		a.handleLedger(w, r, domain.PartySupplier, id, parts[2:])
	default:
		writeError(w, http.StatusNotFound, errors.New("unknown supplier action"))
	}
}

// handleLedger serves /{party}/{id}/ledger[/due|/payment|/verify].
func (a *API) handleLedger(w http.ResponseWriter, r *http.Request, partyType string, partyID string, rest []string) {
	action := ""
	if len(rest) > 0 {
		action = rest[0]
	}

	switch action {
	case "":
		if r.Method != http.MethodGet {
			writeMethodNotAllowed(w)
			return
		}
		a.writeLedger(w, r, partyType, partyID)
	case "verify":
		if r.Method != http.MethodGet {
			writeMethodNotAllowed(w)
			return
		}
		check, err := a.service.VerifyLedger(r.Context(), partyType, partyID)
		if err != nil && !errors.Is(err, service.ErrLedgerMismatch) {
			a.fail(w, r, err)
			return
		}
		status := http.StatusOK
		if err != nil {
			status = http.StatusConflict
		}
		writeJSON(w, status, map[string]any{"check": check})
	case "due", "payment":
		if r.Method != http.MethodPost {
			writeMethodNotAllowed(w)
			return
		}
		var req domain.LedgerPostRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		entry, err := a.postLedger(r, partyType, partyID, action, req)
		if err != nil {
			a.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"entry": entry})
	default:
		writeError(w, http.StatusNotFound, errors.New("unknown ledger action"))
	}
}

func (a *API) postLedger(r *http.Request, partyType string, partyID string, action string, req domain.LedgerPostRequest) (domain.LedgerEntry, error) {
	ctx := r.Context()
	switch {
	case partyType == domain.PartyCustomer && action == "due":
		return a.service.AddCustomerDue(ctx, partyID, req)
	case partyType == domain.PartyCustomer && action == "payment":
		return a.service.ReceiveCustomerPayment(ctx, partyID, req)
	case partyType == domain.PartySupplier && action == "due":
		return a.service.AddSupplierDue(ctx, partyID, req)
	case partyType == domain.PartySupplier && action == "payment":
		return a.service.PaySupplier(ctx, partyID, req)
	}
	return domain.LedgerEntry{}, &service.ValidationError{Field: "action", Message: "must be due or payment"}
}

func (a *API) writeLedger(w http.ResponseWriter, r *http.Request, partyType string, partyID string) {
	format := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("format")))
	filename := fmt.Sprintf("%s-%s-ledger", partyType, partyID)

	switch format {
	case "csv":
		body, err := a.service.ExportLedgerCSV(r.Context(), partyType, partyID)
		if err != nil {
			a.fail(w, r, err)
			return
		}
		writeAttachment(w, contentTypeCSV, filename+".csv", body)
	case "xlsx":
		body, err := a.service.ExportLedgerXLSX(r.Context(), partyType, partyID)
		if err != nil {
			a.fail(w, r, err)
			return
		}
		writeAttachment(w, contentTypeXLSX, filename+".xlsx", body)
	default:
		var (
			statement domain.LedgerStatement
			err       error
		)
		if partyType == domain.PartyCustomer {
			statement, err = a.service.CustomerLedger(r.Context(), partyID)
		} else {
			statement, err = a.service.SupplierLedger(r.Context(), partyID)
		}
		if err != nil {
			a.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ledger": statement})
	}
}

func (a *API) handleSales(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		query := r.URL.Query()
		var (
			sales []domain.Sale
			err   error
		)
		if invoice := strings.TrimSpace(query.Get("invoice")); invoice != "" {
			sales, err = a.service.SearchSales(r.Context(), invoice)
		} else {
			sales, err = a.service.ListSales(r.Context(), query.Get("from"), query.Get("to"))
		}
		if err != nil {
			a.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"sales": sales})
	case http.MethodPost:
		var req domain.SaleRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if req.IdempotencyKey == "" {
			req.IdempotencyKey = strings.TrimSpace(r.Header.Get("Idempotency-Key"))
		}
		resp, err := a.service.RecordSale(r.Context(), req)
		if err != nil {
			a.fail(w, r, err)
			return
		}
		status := http.StatusCreated
		if resp.Duplicate {
			status = http.StatusOK
		}
		writeJSON(w, status, resp)
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleSaleActions(w http.ResponseWriter, r *http.Request) {
	parts := pathSegments(r.URL.Path, "/api/v1/sales/")
	if len(parts) == 0 || parts[0] == "" {
		writeError(w, http.StatusBadRequest, errors.New("sale id required"))
		return
	}
	id := parts[0]

	switch {
	case len(parts) == 1:
		if r.Method != http.MethodGet {
			writeMethodNotAllowed(w)
			return
		}
		sale, err := a.service.GetSale(r.Context(), id)
		if err != nil {
			a.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"sale": sale})
	case len(parts) == 2 && parts[1] == "invoice":
		if r.Method != http.MethodGet {
			writeMethodNotAllowed(w)
			return
		}
		page, err := a.service.RenderInvoice(r.Context(), id)
		if err != nil {
			a.fail(w, r, err)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(page))
	case len(parts) == 2 && parts[1] == "returns":
		if r.Method != http.MethodPost {
			writeMethodNotAllowed(w)
			return
		}
		var body saleReturnBody
		if err := decodeJSON(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if !a.requireManagerPIN(w, r, "return", body.ManagerPIN) {
			return
		}
		resp, err := a.service.ReturnSale(r.Context(), domain.SaleReturnRequest{SaleID: id, Items: body.Items, Note: body.Note})
		if err != nil {
			a.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, resp)
	default:
		writeError(w, http.StatusNotFound, errors.New("unknown sale action"))
	}
}

func (a *API) handlePurchases(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		purchases, err := a.service.ListPurchases(r.Context(), r.URL.Query().Get("from"), r.URL.Query().Get("to"))
		if err != nil {
			a.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"purchases": purchases})
	case http.MethodPost:
		var req domain.PurchaseRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		purchase, err := a.service.RecordPurchase(r.Context(), req)
		if err != nil {
			a.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"purchase": purchase})
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handlePurchaseActions(w http.ResponseWriter, r *http.Request) {
	parts := pathSegments(r.URL.Path, "/api/v1/purchases/")
	if len(parts) != 1 || parts[0] == "" {
		writeError(w, http.StatusBadRequest, errors.New("purchase id required"))
		return
	}
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	purchase, err := a.service.GetPurchase(r.Context(), parts[0])
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"purchase": purchase})
}

func (a *API) handleExpenses(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		expenses, err := a.service.ListExpenses(r.Context(), r.URL.Query().Get("from"), r.URL.Query().Get("to"))
		if err != nil {
			a.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"expenses": expenses})
	case http.MethodPost:
		var req domain.ExpenseRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		expense, err := a.service.CreateExpense(r.Context(), req)
		if err != nil {
			a.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"expense": expense})
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleExpenseActions(w http.ResponseWriter, r *http.Request) {
	parts := pathSegments(r.URL.Path, "/api/v1/expenses/")
	if len(parts) != 1 || parts[0] == "" {
		writeError(w, http.StatusBadRequest, errors.New("expense id required"))
		return
	}

	switch r.Method {
	case http.MethodGet:
		expense, err := a.service.GetExpense(r.Context(), parts[0])
		if err != nil {
			a.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"expense": expense})
	case http.MethodPatch:
		var req domain.ExpenseRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		expense, err := a.service.UpdateExpense(r.Context(), parts[0], req)
		if err != nil {
			a.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"expense": expense})
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleDashboard(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	dashboard, err := a.service.Dashboard(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dashboard)
}

func (a *API) handleReports(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	from := r.URL.Query().Get("from")
	to := r.URL.Query().Get("to")

	var (
		payload any
		err     error
	)
	switch strings.Join(pathSegments(r.URL.Path, "/api/v1/reports/"), "/") {
	case "profit":
		payload, err = a.service.ProfitSummary(r.Context(), from, to)
	case "profit/products":
		var rows []domain.ProductProfit
		rows, err = a.service.ProfitPerProduct(r.Context(), from, to)
		payload = map[string]any{"products": rows}
	case "profit/categories":
		var rows []domain.CategoryProfit
		rows, err = a.service.ProfitPerCategory(r.Context(), from, to)
		payload = map[string]any{"categories": rows}
	case "expense-vs-income":
		payload, err = a.service.ExpenseVsIncome(r.Context(), from, to)
	case "expenses":
		payload, err = a.service.ExpenseReport(r.Context(), from, to)
	default:
		writeError(w, http.StatusNotFound, errors.New("unknown report"))
		return
	}
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

func (a *API) handleAuditLogs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	date := r.URL.Query().Get("date")
	limit := parsePositiveLimit(r.URL.Query().Get("limit"), 100, 500)

	logs, err := a.service.ListAuditLogs(r.Context(), date, limit)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"logs": logs})
}

func (a *API) handleCashiers(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]any{"cashiers": a.auth.ListCashiers(r.Context())})
	case http.MethodPost:
		var req domain.CashierCreateRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}

		cashier, err := a.auth.CreateCashier(r.Context(), req)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}

		writeJSON(w, http.StatusCreated, map[string]any{"cashier": cashier})
	default:
		writeMethodNotAllowed(w)
	}
}

// handleCashierStatus serves PATCH /api/v1/users/cashiers/{username}.
func (a *API) handleCashierStatus(w http.ResponseWriter, r *http.Request) {
	parts := pathSegments(r.URL.Path, "/api/v1/users/cashiers/")
	if len(parts) != 1 {
		writeError(w, http.StatusNotFound, errors.New("unknown cashier action"))
		return
	}
	if r.Method != http.MethodPatch {
		writeMethodNotAllowed(w)
		return
	}
	var req domain.CashierStatusRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Active == nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "active is required", "field": "active"})
		return
	}

	cashier, err := a.auth.SetCashierActive(r.Context(), parts[0], *req.Active)
	switch {
	case errors.Is(err, errUnknownCashier), errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
		return
	case err != nil:
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cashier": cashier})
}
