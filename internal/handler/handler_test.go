package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mmeshcher/academy-shop/internal/identity"
	"github.com/mmeshcher/academy-shop/internal/middleware"
	"github.com/mmeshcher/academy-shop/internal/model"
	"github.com/mmeshcher/academy-shop/internal/repository"
	"github.com/mmeshcher/academy-shop/internal/service"
)

type stubService struct {
	balanceResp model.Balance
	balanceErr  error

	addResp model.Balance
	addErr  error

	gotPrincipal   model.Principal
	gotUserID      uuid.UUID
	gotCoins       int64
	gotDescription *string

	txsResp []model.Transaction

	createResp string
	createErr  error

	captureResp model.Balance
	captureErr  error

	ordersResp []model.CoinOrder

	healthResp model.HealthStatus
}

func (s *stubService) GetBalance(ctx context.Context, p model.Principal, userID uuid.UUID) (model.Balance, error) {
	s.gotPrincipal, s.gotUserID = p, userID
	return s.balanceResp, s.balanceErr
}

func (s *stubService) AddCoins(ctx context.Context, p model.Principal, userID uuid.UUID, coins int64, description *string, creditNote *bool) (model.Balance, error) {
	s.gotPrincipal, s.gotUserID, s.gotCoins, s.gotDescription = p, userID, coins, description
	return s.addResp, s.addErr
}

func (s *stubService) ReleaseWithheld(ctx context.Context, p model.Principal, userID uuid.UUID) (model.Balance, error) {
	return s.balanceResp, s.balanceErr
}

func (s *stubService) ReconcileEligibility(ctx context.Context, p model.Principal, userID uuid.UUID) (model.Balance, error) {
	s.gotPrincipal, s.gotUserID = p, userID
	return s.balanceResp, s.balanceErr
}

func (s *stubService) ListTransactions(ctx context.Context, p model.Principal, userID uuid.UUID) ([]model.Transaction, error) {
	return s.txsResp, nil
}

func (s *stubService) PaypalClientID() string {
	return "client-id"
}

func (s *stubService) CreateCoinOrder(ctx context.Context, p model.Principal, coins int64) (string, error) {
	s.gotCoins = coins
	return s.createResp, s.createErr
}

func (s *stubService) CaptureCoinOrder(ctx context.Context, p model.Principal, orderID string) (model.Balance, error) {
	return s.captureResp, s.captureErr
}

func (s *stubService) ListCoinOrders(ctx context.Context, p model.Principal) ([]model.CoinOrder, error) {
	return s.ordersResp, nil
}

func (s *stubService) Health(ctx context.Context) model.HealthStatus {
	return s.healthResp
}

func newTestHandler(t *testing.T, svc Service) (http.Handler, *middleware.AuthMiddleware) {
	t.Helper()

	logger, err := zap.NewDevelopment()
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}

	auth := middleware.NewAuthMiddleware("test-secret")

	return NewHandler(svc, logger, auth).SetupRouter(), auth
}

func userToken(t *testing.T, auth *middleware.AuthMiddleware, userID uuid.UUID, admin bool) string {
	t.Helper()

	token, err := auth.IssueAccessToken(userID, admin, true, time.Hour)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return token
}

func do(t *testing.T, h http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}

	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func assertDetail(t *testing.T, w *httptest.ResponseRecorder, status int, detail string) {
	t.Helper()

	if w.Code != status {
		t.Fatalf("status = %d, want %d (body %s)", w.Code, status, w.Body.String())
	}

	var resp errorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if resp.Detail != detail {
		t.Fatalf("detail = %q, want %q", resp.Detail, detail)
	}
}

func TestGetBalance_Me(t *testing.T) {
	svc := &stubService{balanceResp: model.Balance{Coins: 1337, WithheldCoins: 42}}
	h, auth := newTestHandler(t, svc)
	userID := uuid.New()

	w := do(t, h, http.MethodGet, "/shop/coins/me", userToken(t, auth, userID, false), nil)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if svc.gotUserID != userID {
		t.Fatalf("user id = %s, want %s", svc.gotUserID, userID)
	}

	var resp model.Balance
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp != svc.balanceResp {
		t.Fatalf("balance = %+v, want %+v", resp, svc.balanceResp)
	}
}

func TestGetBalance_Unauthorized(t *testing.T) {
	h, _ := newTestHandler(t, &stubService{})

	w := do(t, h, http.MethodGet, "/shop/coins/me", "", nil)
	assertDetail(t, w, http.StatusUnauthorized, "Invalid token")
}

func TestGetBalance_InvalidUserID(t *testing.T) {
	h, auth := newTestHandler(t, &stubService{})

	w := do(t, h, http.MethodGet, "/shop/coins/not-a-uuid", userToken(t, auth, uuid.New(), true), nil)
	assertDetail(t, w, http.StatusUnprocessableEntity, "Unprocessable Entity")
}

func TestAddCoins_Admin(t *testing.T) {
	svc := &stubService{}
	h, auth := newTestHandler(t, svc)
	target := uuid.New()

	w := do(t, h, http.MethodPost, "/shop/coins/"+target.String(), userToken(t, auth, uuid.New(), true),
		map[string]any{"coins": 1337, "description": "test", "credit_note": true})

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if body := bytes.TrimSpace(w.Body.Bytes()); string(body) != "true" {
		t.Fatalf("body = %s, want true", body)
	}
	if svc.gotUserID != target || svc.gotCoins != 1337 {
		t.Fatalf("unexpected call: user %s coins %d", svc.gotUserID, svc.gotCoins)
	}
	if svc.gotDescription == nil || *svc.gotDescription != "test" {
		t.Fatalf("description = %v, want test", svc.gotDescription)
	}
}

func TestAddCoins_LongDescriptionPassedToService(t *testing.T) {
	svc := &stubService{addErr: service.ErrInvalidDescription}
	h, auth := newTestHandler(t, svc)

	long := strings.Repeat("x", 5000)
	w := do(t, h, http.MethodPost, "/shop/coins/me", userToken(t, auth, uuid.New(), true),
		map[string]any{"coins": 1, "description": long})

	assertDetail(t, w, http.StatusUnprocessableEntity, "Unprocessable Entity")
	if svc.gotDescription == nil || *svc.gotDescription != long {
		t.Fatalf("description was not passed to service")
	}
}

func TestAddCoins_NotAdmin(t *testing.T) {
	h, auth := newTestHandler(t, &stubService{})

	w := do(t, h, http.MethodPost, "/shop/coins/me", userToken(t, auth, uuid.New(), false), map[string]any{"coins": 1})
	assertDetail(t, w, http.StatusForbidden, "Permission denied")
}

func TestAddCoins_BadBody(t *testing.T) {
	h, auth := newTestHandler(t, &stubService{})

	w := do(t, h, http.MethodPost, "/shop/coins/me", userToken(t, auth, uuid.New(), true), "{not json")
	assertDetail(t, w, http.StatusBadRequest, "Bad Request")
}

func TestInternalAddCoins(t *testing.T) {
	svc := &stubService{addResp: model.Balance{WithheldCoins: 42}}
	h, auth := newTestHandler(t, svc)
	target := uuid.New()

	token, err := auth.InternalToken(service.InternalAudience)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	w := do(t, h, http.MethodPost, "/shop/_internal/coins/"+target.String(), token, map[string]any{"coins": 42})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	var resp model.Balance
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp != svc.addResp {
		t.Fatalf("balance = %+v, want %+v", resp, svc.addResp)
	}
	if !svc.gotPrincipal.IsInternal(service.InternalAudience) {
		t.Fatalf("principal = %+v, want internal", svc.gotPrincipal)
	}

	w = do(t, h, http.MethodPost, "/shop/_internal/coins/"+target.String(), userToken(t, auth, uuid.New(), true), map[string]any{"coins": 42})
	assertDetail(t, w, http.StatusForbidden, "Permission denied")
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		err    error
		status int
		detail string
	}{
		{err: service.ErrPermissionDenied, status: http.StatusForbidden, detail: "Permission denied"},
		{err: identity.ErrUserNotFound, status: http.StatusNotFound, detail: "User not found"},
		{err: repository.ErrNotEnoughCoins, status: http.StatusPreconditionFailed, detail: "Not enough coins"},
		{err: service.ErrInvalidAmount, status: http.StatusBadRequest, detail: "Invalid amount"},
		{err: service.ErrInvalidDescription, status: http.StatusUnprocessableEntity, detail: "Unprocessable Entity"},
		{err: context.DeadlineExceeded, status: http.StatusInternalServerError, detail: "Internal Server Error"},
	}

	for _, tt := range tests {
		t.Run(tt.detail, func(t *testing.T) {
			h, auth := newTestHandler(t, &stubService{addErr: tt.err})

			w := do(t, h, http.MethodPost, "/shop/coins/me", userToken(t, auth, uuid.New(), true), map[string]any{"coins": -5})
			assertDetail(t, w, tt.status, tt.detail)
		})
	}
}

func TestPaypalClientID_Public(t *testing.T) {
	h, _ := newTestHandler(t, &stubService{})

	w := do(t, h, http.MethodGet, "/shop/coins/paypal", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if body := bytes.TrimSpace(w.Body.Bytes()); string(body) != `"client-id"` {
		t.Fatalf("body = %s", body)
	}
}

func TestCreateCoinOrder(t *testing.T) {
	svc := &stubService{createResp: "ORDER-1"}
	h, auth := newTestHandler(t, svc)

	w := do(t, h, http.MethodPost, "/shop/coins/paypal/orders", userToken(t, auth, uuid.New(), false), map[string]any{"coins": 1337})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if body := bytes.TrimSpace(w.Body.Bytes()); string(body) != `"ORDER-1"` {
		t.Fatalf("body = %s", body)
	}
	if svc.gotCoins != 1337 {
		t.Fatalf("coins = %d, want 1337", svc.gotCoins)
	}

	svc.createErr = service.ErrEmailNotVerified
	w = do(t, h, http.MethodPost, "/shop/coins/paypal/orders", userToken(t, auth, uuid.New(), false), map[string]any{"coins": 1337})
	assertDetail(t, w, http.StatusForbidden, "Email not verified")

	svc.createErr = service.ErrCreateOrderFailed
	w = do(t, h, http.MethodPost, "/shop/coins/paypal/orders", userToken(t, auth, uuid.New(), false), map[string]any{"coins": 1337})
	assertDetail(t, w, http.StatusInternalServerError, "Could not create order")
}

func TestCaptureCoinOrder(t *testing.T) {
	svc := &stubService{captureResp: model.Balance{Coins: 1337}}
	h, auth := newTestHandler(t, svc)
	token := userToken(t, auth, uuid.New(), false)

	w := do(t, h, http.MethodPost, "/shop/coins/paypal/orders/ORDER-1/capture", token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	svc.captureErr = service.ErrCaptureFailed
	w = do(t, h, http.MethodPost, "/shop/coins/paypal/orders/ORDER-1/capture", token, nil)
	assertDetail(t, w, http.StatusBadRequest, "Could not capture order")

	svc.captureErr = repository.ErrOrderNotFound
	w = do(t, h, http.MethodPost, "/shop/coins/paypal/orders/ORDER-1/capture", token, nil)
	assertDetail(t, w, http.StatusNotFound, "Order not found")

	svc.captureErr = service.ErrUserInfoMissing
	w = do(t, h, http.MethodPost, "/shop/coins/paypal/orders/ORDER-1/capture", token, nil)
	assertDetail(t, w, http.StatusPreconditionFailed, "User Infos missing")
}

func TestListCoinOrders_JSONResponse(t *testing.T) {
	captured := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	svc := &stubService{ordersResp: []model.CoinOrder{{
		ID:            "ORDER-1",
		Coins:         1337,
		Status:        model.OrderStatusCaptured,
		InvoiceNumber: 7,
		CreatedAt:     captured.Add(-time.Minute),
		CapturedAt:    &captured,
	}}}
	h, auth := newTestHandler(t, svc)

	w := do(t, h, http.MethodGet, "/shop/coins/paypal/orders", userToken(t, auth, uuid.New(), false), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	var resp []coinOrderResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp) != 1 || resp[0].Status != "CAPTURED" || resp[0].InvoiceNumber != 7 {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if resp[0].CapturedAt == nil || *resp[0].CapturedAt != "2024-01-02T03:04:05Z" {
		t.Fatalf("captured_at = %v", resp[0].CapturedAt)
	}
	if resp[0].ConfirmedAt != nil {
		t.Fatalf("confirmed_at = %v, want nil", *resp[0].ConfirmedAt)
	}
}

func TestReconcileEligibility(t *testing.T) {
	svc := &stubService{balanceResp: model.Balance{Coins: 42}}
	h, auth := newTestHandler(t, svc)
	target := uuid.New()

	token, err := auth.InternalToken(service.InternalAudience)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	w := do(t, h, http.MethodPost, "/shop/_internal/coins/"+target.String()+"/reconcile", token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if svc.gotUserID != target {
		t.Fatalf("user id = %s, want %s", svc.gotUserID, target)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	h, _ := newTestHandler(t, &stubService{})

	w := do(t, h, http.MethodGet, "/metrics", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name   string
		status model.HealthStatus
		code   int
	}{
		{name: "healthy", status: model.HealthStatus{Database: true, Cache: true}, code: http.StatusOK},
		{name: "database down", status: model.HealthStatus{Cache: true}, code: http.StatusServiceUnavailable},
		{name: "cache down", status: model.HealthStatus{Database: true}, code: http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, _ := newTestHandler(t, &stubService{healthResp: tt.status})

			w := do(t, h, http.MethodGet, "/health", "", nil)
			if w.Code != tt.code {
				t.Fatalf("status = %d, want %d", w.Code, tt.code)
			}

			var resp model.HealthStatus
			if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if resp != tt.status {
				t.Fatalf("health = %+v, want %+v", resp, tt.status)
			}
		})
	}
}
