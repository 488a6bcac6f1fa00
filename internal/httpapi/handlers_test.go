package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"laundrypos/backend/internal/domain"
	"laundrypos/backend/internal/service"
	"laundrypos/backend/internal/store"
	"laundrypos/backend/internal/store/memory"
)

const testSecret = "test-secret-key-0123456789abcdef"

// newTestAPI builds the full API over a seeded memory store so handler tests
// exercise the complete request path.
func newTestAPI(t *testing.T) (*API, *memory.Store) {
	t.Helper()
	t.Setenv("SEED_OWNER_PASSWORD", "owner-pass")
	t.Setenv("SEED_CASHIER_PASSWORD", "kasir-pass")

	repo := memory.NewSeeded()
	return newAPIOver(repo), repo
}

func newAPIOver(repo store.Repository) *API {
	svc := service.New(repo, nil, nil)
	auth := NewAuthManager(testSecret, time.Hour, repo)
	return New(svc, auth, "*", memory.SeedBranchID)
}

// productLineFailingRepo is a memory store whose unit of work cannot store
// product lines.
type productLineFailingRepo struct {
	*memory.Store
}

type productLineFailingUnit struct {
	store.UnitOfWork
}

func (productLineFailingUnit) InsertProductLine(context.Context, domain.ProductLine) error {
	return errors.New("pq: disk full on tablespace laundry_data")
}

func (r productLineFailingRepo) InTx(ctx context.Context, fn func(uow store.UnitOfWork) error) error {
	return r.Store.InTx(ctx, func(uow store.UnitOfWork) error {
		return fn(productLineFailingUnit{uow})
	})
}

func tokenFor(t *testing.T, api *API, role domain.Role, branchID string) string {
	t.Helper()
	token, err := api.auth.sign(string(role)+"-user", role, branchID, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func doJSON(t *testing.T, handler http.Handler, method string, path string, token string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	if payload != nil {
		if err := json.NewEncoder(&body).Encode(payload); err != nil {
			t.Fatalf("encode payload: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, dest any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(dest); err != nil {
		t.Fatalf("decode body: %v (raw %s)", err, rec.Body.String())
	}
}

func TestHandleHealth(t *testing.T) {
	api, _ := newTestAPI(t)

	rec := doJSON(t, api.Handler(), http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]any
	decodeBody(t, rec, &body)
	if body["ok"] != true {
		t.Fatalf("expected ok:true, got %v", body["ok"])
	}
	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Fatalf("expected security headers on response")
	}
}

func TestHandleLoginIssuesUsableToken(t *testing.T) {
	api, _ := newTestAPI(t)
	handler := api.Handler()

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/auth/login", "", domain.LoginRequest{Username: "kasir", Password: "kasir-pass"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var login domain.LoginResponse
	decodeBody(t, rec, &login)
	if login.AccessToken == "" || login.Role != domain.RoleCashier || login.BranchID != memory.SeedBranchID {
		t.Fatalf("unexpected login response %+v", login)
	}

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/customers/cust-demo/loyalty", login.AccessToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with issued token, got %d", rec.Code)
	}
}

func TestHandleLoginRejectsBadPasswordAndUnknownFields(t *testing.T) {
	api, _ := newTestAPI(t)
	handler := api.Handler()

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/auth/login", "", domain.LoginRequest{Username: "kasir", Password: "salah"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/auth/login", "", map[string]string{"username": "kasir", "password": "kasir-pass", "role": "owner"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown field, got %d", rec.Code)
	}
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	api, _ := newTestAPI(t)
	handler := api.Handler()

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/transactions", "", map[string]any{})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}
	rec = doJSON(t, handler, http.MethodGet, "/api/v1/transactions/trx-1", "not-a-jwt", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with garbage token, got %d", rec.Code)
	}
}

func TestRecordTransactionEndpoint(t *testing.T) {
	api, _ := newTestAPI(t)
	handler := api.Handler()
	token := tokenFor(t, api, domain.RoleCashier, memory.SeedBranchID)

	req := domain.RecordTransactionRequest{
		CustomerID:     "cust-demo",
		Shift:          "pagi",
		IdempotencyKey: "idem-http-1",
		Services:       []domain.ServiceCartEntry{{CatalogID: "svc-cuci-kering", Quantity: 1}},
		Products:       []domain.ProductCartEntry{{CatalogID: "prd-deterjen", Quantity: 2}},
	}
	rec := doJSON(t, handler, http.MethodPost, "/api/v1/transactions", token, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var created domain.RecordTransactionResponse
	decodeBody(t, rec, &created)
	if created.TotalAmount != 20000 || created.Loyalty == nil || created.Loyalty.NewlyEarned != 1 {
		t.Fatalf("unexpected response %+v", created)
	}

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/transactions", token, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 on replay, got %d", rec.Code)
	}
	var replay domain.RecordTransactionResponse
	decodeBody(t, rec, &replay)
	if !replay.Duplicate || replay.TransactionID != created.TransactionID {
		t.Fatalf("expected duplicate of %s, got %+v", created.TransactionID, replay)
	}

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/transactions/"+created.TransactionID, token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 on lookup, got %d", rec.Code)
	}
	var fetched domain.RecordTransactionResponse
	decodeBody(t, rec, &fetched)
	if fetched.TotalAmount != created.TotalAmount || len(fetched.Services) != 1 {
		t.Fatalf("unexpected lookup %+v", fetched)
	}
}

func TestRecordTransactionErrorMapping(t *testing.T) {
	api, repo := newTestAPI(t)
	handler := api.Handler()
	token := tokenFor(t, api, domain.RoleCashier, memory.SeedBranchID)
	if err := repo.SetStock(context.Background(), domain.InventoryStock{BranchID: memory.SeedBranchID, ProductID: "prd-pewangi", Available: 3}); err != nil {
		t.Fatalf("set stock: %v", err)
	}

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/transactions", token, domain.RecordTransactionRequest{
		CustomerID: "cust-demo",
		Shift:      "pagi",
		Products:   []domain.ProductCartEntry{{CatalogID: "prd-pewangi", Quantity: 5}},
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var conflict struct {
		ProductID string `json:"product_id"`
		Requested int    `json:"requested"`
		Available int    `json:"available"`
	}
	decodeBody(t, rec, &conflict)
	if conflict.ProductID != "prd-pewangi" || conflict.Requested != 5 || conflict.Available != 3 {
		t.Fatalf("unexpected conflict detail %+v", conflict)
	}

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/transactions", token, domain.RecordTransactionRequest{
		CustomerID: "cust-demo",
		Shift:      "pagi",
		Services:   []domain.ServiceCartEntry{{CatalogID: "svc-tidak-ada", Quantity: 1}},
	})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown catalog entry, got %d", rec.Code)
	}

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/transactions", token, domain.RecordTransactionRequest{
		CustomerID: "cust-demo",
		Services:   []domain.ServiceCartEntry{{CatalogID: "svc-cuci-kering", Quantity: 1}},
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing shift, got %d", rec.Code)
	}

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/transactions/trx-missing", token, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown transaction, got %d", rec.Code)
	}
}

func TestRecordTransactionWriteFailureIsGeneric500WithTransactionID(t *testing.T) {
	t.Setenv("SEED_OWNER_PASSWORD", "owner-pass")
	t.Setenv("SEED_CASHIER_PASSWORD", "kasir-pass")
	repo := memory.NewSeeded()
	api := newAPIOver(productLineFailingRepo{repo})
	token := tokenFor(t, api, domain.RoleCashier, memory.SeedBranchID)

	rec := doJSON(t, api.Handler(), http.MethodPost, "/api/v1/transactions", token, domain.RecordTransactionRequest{
		CustomerID: "cust-demo",
		Shift:      "pagi",
		Products:   []domain.ProductCartEntry{{CatalogID: "prd-deterjen", Quantity: 2}},
	})
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	raw := rec.Body.String()
	if strings.Contains(raw, "disk full") || strings.Contains(raw, "laundry_data") {
		t.Fatalf("storage detail leaked: %s", raw)
	}
	var body struct {
		Error         string `json:"error"`
		TransactionID string `json:"transaction_id"`
	}
	decodeBody(t, rec, &body)
	if body.Error != "internal server error" || body.TransactionID == "" {
		t.Fatalf("unexpected error body %+v", body)
	}

	row, err := repo.GetStock(context.Background(), memory.SeedBranchID, "prd-deterjen")
	if err != nil {
		t.Fatalf("get stock: %v", err)
	}
	if row.Available != 50 {
		t.Fatalf("reserved stock must be restored, got %d", row.Available)
	}
}

func TestCrossBranchRecordingIsOwnerOnly(t *testing.T) {
	api, repo := newTestAPI(t)
	handler := api.Handler()
	if err := repo.SetStock(context.Background(), domain.InventoryStock{BranchID: "cabang-2", ProductID: "prd-plastik", Available: 10}); err != nil {
		t.Fatalf("set stock: %v", err)
	}

	req := domain.RecordTransactionRequest{
		CustomerID: "cust-demo",
		BranchID:   "cabang-2",
		Shift:      "sore",
		Products:   []domain.ProductCartEntry{{CatalogID: "prd-plastik", Quantity: 1}},
	}

	cashier := tokenFor(t, api, domain.RoleBackupCollector, memory.SeedBranchID)
	rec := doJSON(t, handler, http.MethodPost, "/api/v1/transactions", cashier, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for cross-branch backup collector, got %d", rec.Code)
	}

	owner := tokenFor(t, api, domain.RoleOwner, memory.SeedBranchID)
	rec = doJSON(t, handler, http.MethodPost, "/api/v1/transactions", owner, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected owner to record for another branch, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestRegisterCustomerAndLoyaltyEndpoints(t *testing.T) {
	api, _ := newTestAPI(t)
	handler := api.Handler()
	token := tokenFor(t, api, domain.RoleCashier, memory.SeedBranchID)

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/customers", token, domain.RegisterCustomerRequest{Name: "Sari", Phone: "0813"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var created struct {
		Customer domain.Customer `json:"customer"`
	}
	decodeBody(t, rec, &created)
	if created.Customer.ID == "" || created.Customer.BranchID != memory.SeedBranchID {
		t.Fatalf("unexpected customer %+v", created.Customer)
	}

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/customers/"+created.Customer.ID+"/loyalty", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var summary domain.CustomerLoyaltyResponse
	decodeBody(t, rec, &summary)
	if summary.TotalWashes != 0 || summary.WashesToNextReward != 10 {
		t.Fatalf("unexpected summary %+v", summary)
	}

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/customers/cust-missing/loyalty", token, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown customer, got %d", rec.Code)
	}
}

func TestTokenWithoutBranchFallsBackToDefault(t *testing.T) {
	api, _ := newTestAPI(t)
	token := tokenFor(t, api, domain.RoleCashier, "")

	rec := doJSON(t, api.Handler(), http.MethodPost, "/api/v1/transactions", token, domain.RecordTransactionRequest{
		CustomerID: "cust-demo",
		Shift:      "pagi",
		Products:   []domain.ProductCartEntry{{CatalogID: "prd-plastik", Quantity: 1}},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected default branch to be used, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}
