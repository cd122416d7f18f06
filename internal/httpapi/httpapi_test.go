package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"beanpos/backend/internal/cart"
	"beanpos/backend/internal/domain"
	"beanpos/backend/internal/service"
	"beanpos/backend/internal/store/memory"
)

func newTestAPI(t *testing.T) (http.Handler, *AuthManager) {
	t.Helper()
	repo := memory.NewSeeded()
	register := cart.NewEngine(repo)
	svc := service.New(repo, register, nil, nil, nil, "branch-1")
	auth := NewAuthManager("test-secret", time.Hour, repo)
	return New(svc, auth, nil, "*").Handler(), auth
}

func login(t *testing.T, handler http.Handler, username string, password string) string {
	t.Helper()
	body, _ := json.Marshal(domain.LoginRequest{Username: username, Password: password})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("login status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp domain.LoginResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode login response: %v", err)
	}
	return resp.AccessToken
}

func doJSON(handler http.Handler, method string, path string, token string, payload any) *httptest.ResponseRecorder {
	var body *bytes.Reader
	if payload != nil {
		raw, _ := json.Marshal(payload)
		body = bytes.NewReader(raw)
	} else {
		body = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, body)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	handler, _ := newTestAPI(t)

	body, _ := json.Marshal(domain.LoginRequest{Username: "admin", Password: "wrong"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestProtectedRoutesNeedToken(t *testing.T) {
	handler, _ := newTestAPI(t)

	rec := doJSON(handler, http.MethodGet, "/api/v1/products", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}

	rec = doJSON(handler, http.MethodGet, "/api/v1/products", "not-a-jwt", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("garbage token status = %d, want 401", rec.Code)
	}
}

func TestProductListingAndFilters(t *testing.T) {
	handler, _ := newTestAPI(t)
	token := login(t, handler, "cashier1", "cashier123")

	rec := doJSON(handler, http.MethodGet, "/api/v1/products?category=Coffee&q=iced", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Products []domain.Product `json:"products"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Products) != 1 || resp.Products[0].Name != "Iced Coffee" {
		t.Fatalf("filter result: %+v", resp.Products)
	}
}

func TestRegisterFlowOverHTTP(t *testing.T) {
	handler, _ := newTestAPI(t)
	token := login(t, handler, "cashier1", "cashier123")

	rec := doJSON(handler, http.MethodPost, "/api/v1/register/items", token, map[string]string{"product_id": "p-1"})
	if rec.Code != http.StatusOK {
		t.Fatalf("add item status = %d: %s", rec.Code, rec.Body.String())
	}
	rec = doJSON(handler, http.MethodPut, "/api/v1/register/items/p-1", token, map[string]int{"quantity": 2})
	if rec.Code != http.StatusOK {
		t.Fatalf("set quantity status = %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(handler, http.MethodPost, "/api/v1/register/checkout", token, domain.CheckoutRequest{PaymentMethod: "cash"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("checkout status = %d: %s", rec.Code, rec.Body.String())
	}
	var resp domain.CheckoutResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Order.TotalCents != 540 {
		t.Fatalf("total = %d, want 540", resp.Order.TotalCents)
	}

	// The register view shows a single fresh tab after checkout.
	rec = doJSON(handler, http.MethodGet, "/api/v1/register", token, nil)
	var state domain.RegisterState
	if err := json.Unmarshal(rec.Body.Bytes(), &state); err != nil {
		t.Fatalf("decode state: %v", err)
	}
	if len(state.Sales) != 1 || len(state.Sales[0].Lines) != 0 {
		t.Fatalf("register not reset: %+v", state.Sales)
	}
}

func TestStockConflictCarriesAvailableQuantity(t *testing.T) {
	handler, _ := newTestAPI(t)
	token := login(t, handler, "cashier1", "cashier123")

	// Salad stock is 20.
	rec := doJSON(handler, http.MethodPost, "/api/v1/register/items", token, map[string]string{"product_id": "p-15"})
	if rec.Code != http.StatusOK {
		t.Fatalf("add status = %d", rec.Code)
	}
	rec = doJSON(handler, http.MethodPut, "/api/v1/register/items/p-15", token, map[string]int{"quantity": 25})
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409: %s", rec.Code, rec.Body.String())
	}
	var payload struct {
		Available int `json:"available"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload.Available != 20 {
		t.Fatalf("available = %d, want 20", payload.Available)
	}
}

func TestRoleEnforcement(t *testing.T) {
	handler, _ := newTestAPI(t)
	cashierToken := login(t, handler, "cashier1", "cashier123")
	adminToken := login(t, handler, "admin", "admin123")

	create := domain.ProductCreateRequest{Name: "Cortado", Category: "Coffee", PriceCents: 325, InitialStock: 10}

	rec := doJSON(handler, http.MethodPost, "/api/v1/products", cashierToken, create)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("cashier create status = %d, want 403", rec.Code)
	}

	rec = doJSON(handler, http.MethodPost, "/api/v1/products", adminToken, create)
	if rec.Code != http.StatusCreated {
		t.Fatalf("admin create status = %d: %s", rec.Code, rec.Body.String())
	}
}

func TestUnknownProductReturns404(t *testing.T) {
	handler, _ := newTestAPI(t)
	token := login(t, handler, "cashier1", "cashier123")

	rec := doJSON(handler, http.MethodGet, "/api/v1/products/ghost", token, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestInvalidDiscountReturns400(t *testing.T) {
	handler, _ := newTestAPI(t)
	token := login(t, handler, "cashier1", "cashier123")

	rec := doJSON(handler, http.MethodPost, "/api/v1/register/items", token, map[string]string{"product_id": "p-1"})
	if rec.Code != http.StatusOK {
		t.Fatalf("add status = %d", rec.Code)
	}
	rec = doJSON(handler, http.MethodPost, "/api/v1/register/discount", token, domain.Discount{Type: domain.DiscountPercentage, Percent: 150})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400: %s", rec.Code, rec.Body.String())
	}
}

func TestSettingsRoundTripOverHTTP(t *testing.T) {
	handler, _ := newTestAPI(t)
	adminToken := login(t, handler, "admin", "admin123")

	rec := doJSON(handler, http.MethodPut, "/api/v1/settings", adminToken, domain.Settings{TaxRatePercent: 10, CurrencyCode: "USD"})
	if rec.Code != http.StatusOK {
		t.Fatalf("update status = %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(handler, http.MethodGet, "/api/v1/settings", adminToken, nil)
	var settings domain.Settings
	if err := json.Unmarshal(rec.Body.Bytes(), &settings); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if settings.TaxRatePercent != 10 {
		t.Fatalf("tax rate = %v, want 10", settings.TaxRatePercent)
	}
}

func TestParseTokenRoundTrip(t *testing.T) {
	_, auth := newTestAPI(t)

	account := &domain.UserAccount{Username: "cashier1", Role: domain.RoleCashier, BranchID: "branch-1"}
	token, err := auth.sign(account, time.Now().UTC().Add(time.Hour))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	actor, err := auth.ParseToken(token)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if actor.Username != "cashier1" || actor.Role != domain.RoleCashier || actor.BranchID != "branch-1" {
		t.Fatalf("actor = %+v", actor)
	}

	expired, err := auth.sign(account, time.Now().UTC().Add(-time.Minute))
	if err != nil {
		t.Fatalf("sign expired: %v", err)
	}
	if _, err := auth.ParseToken(expired); err == nil {
		t.Fatalf("expired token accepted")
	}
}

func TestMixedCaseUsernameCanLogin(t *testing.T) {
	handler, _ := newTestAPI(t)
	adminToken := login(t, handler, "admin", "admin123")

	rec := doJSON(handler, http.MethodPost, "/api/v1/users", adminToken, domain.UserCreateRequest{
		Username: "Alice", Password: "wonder123", Role: domain.RoleCashier, BranchID: "branch-1",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create user status = %d: %s", rec.Code, rec.Body.String())
	}

	login(t, handler, "Alice", "wonder123")
}
