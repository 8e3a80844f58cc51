package httpapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"shopkeeper/backend/internal/domain"
	"shopkeeper/backend/internal/lock"
	"shopkeeper/backend/internal/service"
	"shopkeeper/backend/internal/store"
)

func q(v int64) decimal.Decimal {
	return decimal.NewFromInt(v)
}

func TestMiddlewareSetsSecurityHeaders(t *testing.T) {
	api := newTestAPI(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	res := httptest.NewRecorder()

	api.Handler().ServeHTTP(res, req)

	if got := res.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Fatalf("expected X-Content-Type-Options nosniff, got %q", got)
	}
	if got := res.Header().Get("X-Frame-Options"); got != "DENY" {
		t.Fatalf("expected X-Frame-Options DENY, got %q", got)
	}
	if got := res.Header().Get("Referrer-Policy"); got == "" {
		t.Fatalf("expected Referrer-Policy to be set")
	}
}

func TestLoginRateLimitReturns429(t *testing.T) {
	api := newTestAPI(t)
	body, _ := json.Marshal(domain.LoginRequest{Username: "admin", Password: "wrong-pass"})

	for i := 0; i < 6; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		req.RemoteAddr = "127.0.0.1:5000"
		res := httptest.NewRecorder()

		api.Handler().ServeHTTP(res, req)

		if i < 5 && res.Code != http.StatusUnauthorized {
			t.Fatalf("attempt %d expected 401 before limit, got %d", i+1, res.Code)
		}
		if i == 5 && res.Code != http.StatusTooManyRequests {
			t.Fatalf("attempt 6 expected 429, got %d", res.Code)
		}
	}
}

func TestJSONBodyTooLargeRejected(t *testing.T) {
	api := newTestAPI(t)
	veryLong := strings.Repeat("a", (1<<20)+1024)
	body := fmt.Sprintf(`{"username":"%s","password":"x"}`, veryLong)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	res := httptest.NewRecorder()

	api.Handler().ServeHTTP(res, req)

	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for too large body, got %d", res.Code)
	}
}

func TestWritesWithoutCSRFTokenRejected(t *testing.T) {
	api := newTestAPI(t)
	token := loginAsCashier(t, api)

	body, _ := json.Marshal(domain.ExpenseRequest{AmountCents: 500, Category: "tea"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/expenses", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	res := httptest.NewRecorder()

	api.Handler().ServeHTTP(res, req)

	if res.Code != http.StatusForbidden {
		t.Fatalf("expected 403 without csrf token, got %d", res.Code)
	}
}

func TestCSRFTokenEndpointIssuesValidToken(t *testing.T) {
	api := newTestAPI(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/csrf-token", nil)
	res := httptest.NewRecorder()
	api.Handler().ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("csrf-token endpoint returned status %d", res.Code)
	}
	var payload map[string]string
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		t.Fatalf("decode csrf-token response failed: %v", err)
	}
	if !api.validateCSRFToken(payload["csrf_token"]) {
		t.Fatalf("issued csrf token does not validate")
	}
	if api.validateCSRFToken("deadbeef") {
		t.Fatalf("arbitrary token must not validate")
	}
}

func TestManagerPINRateLimitReturns429(t *testing.T) {
	api := newTestAPI(t)
	token := loginAsCashier(t, api)

	for i := 0; i < 9; i++ {
		payload, _ := json.Marshal(map[string]any{
			"items":       []domain.ReturnItem{{ProductID: "prd-rice", Qty: q(1)}},
			"manager_pin": "000000",
		})
		req := httptest.NewRequest(http.MethodPost, "/api/v1/sales/sale-nonexistent/returns", bytes.NewReader(payload))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("X-CSRF-Token", api.generateCSRFToken())
		req.RemoteAddr = "127.0.0.1:5001"
		res := httptest.NewRecorder()

		api.Handler().ServeHTTP(res, req)

		if i < 8 && res.Code != http.StatusForbidden {
			t.Fatalf("attempt %d expected 403 before pin limit, got %d", i+1, res.Code)
		}
		if i == 8 && res.Code != http.StatusTooManyRequests {
			t.Fatalf("attempt 9 expected 429, got %d", res.Code)
		}
	}
}

func TestStatusForMapsDomainErrors(t *testing.T) {
	cases := map[error]int{
		store.ErrNotFound:                             http.StatusNotFound,
		store.ErrInvalidTransaction:                   http.StatusBadRequest,
		fmt.Errorf("wrap: %w", store.ErrOverpayment):  http.StatusConflict,
		store.ErrInsufficientStock:                    http.StatusConflict,
		store.ErrReturnExceedsSale:                    http.StatusConflict,
		service.ErrForbidden:                          http.StatusForbidden,
		lock.ErrBusy:                                  http.StatusLocked,
		&service.ValidationError{Field: "x"}:          http.StatusBadRequest,
		errors.New("pq: connection refused"):          http.StatusInternalServerError,
	}
	for err, want := range cases {
		if got := statusFor(err); got != want {
			t.Fatalf("statusFor(%v) = %d, want %d", err, got, want)
		}
	}
}

func TestServerErrorsHideDetails(t *testing.T) {
	res := httptest.NewRecorder()
	writeError(res, http.StatusInternalServerError, errors.New("pq: relation sales does not exist"))

	if strings.Contains(res.Body.String(), "relation") {
		t.Fatalf("internal error leaked: %s", res.Body.String())
	}
}

func TestParsePositiveLimitCaps(t *testing.T) {
	if got := parsePositiveLimit("9999", 50, 200); got != 200 {
		t.Fatalf("expected capped limit 200, got %d", got)
	}
	if got := parsePositiveLimit("", 50, 200); got != 50 {
		t.Fatalf("expected fallback limit 50, got %d", got)
	}
	if got := parsePositiveLimit("invalid", 50, 200); got != 50 {
		t.Fatalf("expected fallback on invalid input, got %d", got)
	}
}

func TestPathSegments(t *testing.T) {
	parts := pathSegments("/api/v1/customers/cus-1/ledger/due/", "/api/v1/customers/")
	if strings.Join(parts, ",") != "cus-1,ledger,due" {
		t.Fatalf("unexpected segments %v", parts)
	}
	if pathSegments("/api/v1/customers/", "/api/v1/customers/") != nil {
		t.Fatalf("expected no segments for bare prefix")
	}
}

func TestSuccessfulLoginClearsFailedAttempts(t *testing.T) {
	api := newTestAPI(t)
	attempt := func(password string) int {
		body, _ := json.Marshal(domain.LoginRequest{Username: "admin", Password: password})
		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		req.RemoteAddr = "127.0.0.1:5002"
		res := httptest.NewRecorder()
		api.Handler().ServeHTTP(res, req)
		return res.Code
	}

	for i := 0; i < 4; i++ {
		if code := attempt("wrong-pass"); code != http.StatusUnauthorized {
			t.Fatalf("attempt %d expected 401, got %d", i+1, code)
		}
	}
	if code := attempt("admin123"); code != http.StatusOK {
		t.Fatalf("expected successful login, got %d", code)
	}
	for i := 0; i < 5; i++ {
		if code := attempt("wrong-pass"); code != http.StatusUnauthorized {
			t.Fatalf("attempt %d after reset expected 401, got %d", i+1, code)
		}
	}
}

func TestRequestIDIsEchoedOrGenerated(t *testing.T) {
	api := newTestAPI(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "till-7-0042")
	res := httptest.NewRecorder()
	api.Handler().ServeHTTP(res, req)
	if got := res.Header().Get("X-Request-ID"); got != "till-7-0042" {
		t.Fatalf("expected caller request id to be echoed, got %q", got)
	}

	res = httptest.NewRecorder()
	api.Handler().ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if got := res.Header().Get("X-Request-ID"); !strings.HasPrefix(got, "req-") {
		t.Fatalf("expected generated request id, got %q", got)
	}
}

func TestAttemptLimiterSweepsExpiredKeys(t *testing.T) {
	limiter := newAttemptLimiter(2, time.Minute)
	limiter.sweepAt = 3
	stale := time.Now().Add(-2 * time.Minute)
	limiter.entries["10.0.0.1"] = []time.Time{stale}
	limiter.entries["10.0.0.2"] = []time.Time{stale, stale}
	limiter.entries["10.0.0.3"] = []time.Time{time.Now()}

	if !limiter.Allow("10.0.0.4") {
		t.Fatalf("expected first attempt to be allowed")
	}
	if _, ok := limiter.entries["10.0.0.1"]; ok {
		t.Fatalf("expected expired key to be swept")
	}
	if _, ok := limiter.entries["10.0.0.3"]; !ok {
		t.Fatalf("expected live key to survive the sweep")
	}
	if !limiter.Allow("10.0.0.4") || limiter.Allow("10.0.0.4") {
		t.Fatalf("expected the third attempt within the window to be refused")
	}
}
