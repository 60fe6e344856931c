package paypal

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mmeshcher/academy-shop/internal/model"
)

func checkBasicAuth(t *testing.T, r *http.Request) {
	t.Helper()

	user, pass, ok := r.BasicAuth()
	if !ok || user != "client" || pass != "secret" {
		t.Fatalf("basic auth = %q/%q (%v), want client/secret", user, pass, ok)
	}
}

func TestPrice(t *testing.T) {
	tests := map[int64]string{
		1:      "0.01",
		42:     "0.42",
		1337:   "13.37",
		100:    "1.00",
		100000: "1000.00",
	}

	for coins, want := range tests {
		if got := Price(coins); got != want {
			t.Fatalf("Price(%d) = %s, want %s", coins, got, want)
		}
	}
}

func TestCreateOrder_OK(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Fatalf("method = %s, want POST", r.Method)
		}
		if r.URL.Path != "/v2/checkout/orders" {
			t.Fatalf("path = %s, want /v2/checkout/orders", r.URL.Path)
		}
		checkBasicAuth(t, r)

		var req createOrderRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if req.Intent != "CAPTURE" || len(req.PurchaseUnits) != 1 {
			t.Fatalf("unexpected request: %+v", req)
		}
		if got := req.PurchaseUnits[0].Amount; got.CurrencyCode != "EUR" || got.Value != "13.37" {
			t.Fatalf("unexpected amount: %+v", got)
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"ORDER-1","status":"CREATED"}`))
	}))
	defer ts.Close()

	client := NewClient(ts.URL, "client", "secret")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	id, err := client.CreateOrder(ctx, 1337)
	if err != nil {
		t.Fatalf("CreateOrder error: %v", err)
	}
	if id != "ORDER-1" {
		t.Fatalf("id = %s, want ORDER-1", id)
	}
}

func TestCreateOrder_ServerError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	client := NewClient(ts.URL, "client", "secret")

	_, err := client.CreateOrder(context.Background(), 10)
	if !errors.Is(err, ErrFailed) {
		t.Fatalf("err = %v, want ErrFailed", err)
	}
}

func TestGetOrderStatus(t *testing.T) {
	tests := []struct {
		upstream string
		want     model.OrderStatus
	}{
		{upstream: "CREATED", want: model.OrderStatusCreated},
		{upstream: "Created", want: model.OrderStatusCreated},
		{upstream: "APPROVED", want: model.OrderStatusConfirmed},
		{upstream: "Confirmed", want: model.OrderStatusConfirmed},
		{upstream: "COMPLETED", want: model.OrderStatusCaptured},
		{upstream: "Captured", want: model.OrderStatusCaptured},
	}

	for _, tt := range tests {
		t.Run(tt.upstream, func(t *testing.T) {
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Method != http.MethodGet {
					t.Fatalf("method = %s, want GET", r.Method)
				}
				if r.URL.Path != "/v2/checkout/orders/ORDER-1" {
					t.Fatalf("path = %s", r.URL.Path)
				}
				checkBasicAuth(t, r)
				_ = json.NewEncoder(w).Encode(orderResponse{ID: "ORDER-1", Status: tt.upstream})
			}))
			defer ts.Close()

			client := NewClient(ts.URL, "client", "secret")
			got, err := client.GetOrderStatus(context.Background(), "ORDER-1")
			if err != nil {
				t.Fatalf("GetOrderStatus error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("status = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestGetOrderStatus_TooManyRequests(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "5")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer ts.Close()

	client := NewClient(ts.URL, "client", "secret")

	_, err := client.GetOrderStatus(context.Background(), "ORDER-1")
	var rl *RateLimitError
	if !errors.As(err, &rl) {
		t.Fatalf("err = %v, want RateLimitError", err)
	}
	if rl.RetryAfter < 5*time.Second {
		t.Fatalf("retryAfter = %v, want at least 5s", rl.RetryAfter)
	}
}

func TestGetOrderStatus_NotFound(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	defer ts.Close()

	client := NewClient(ts.URL, "client", "secret")

	_, err := client.GetOrderStatus(context.Background(), "ORDER-1")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestCaptureOrder(t *testing.T) {
	tests := []struct {
		name    string
		code    int
		body    string
		wantErr bool
	}{
		{name: "completed", code: http.StatusCreated, body: `{"id":"ORDER-1","status":"COMPLETED"}`},
		{name: "not completed", code: http.StatusOK, body: `{"id":"ORDER-1","status":"APPROVED"}`, wantErr: true},
		{name: "unprocessable", code: http.StatusUnprocessableEntity, body: `{}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Method != http.MethodPost {
					t.Fatalf("method = %s, want POST", r.Method)
				}
				if r.URL.Path != "/v2/checkout/orders/ORDER-1/capture" {
					t.Fatalf("path = %s", r.URL.Path)
				}
				checkBasicAuth(t, r)
				w.WriteHeader(tt.code)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer ts.Close()

			client := NewClient(ts.URL, "client", "secret")
			err := client.CaptureOrder(context.Background(), "ORDER-1")
			if tt.wantErr && !errors.Is(err, ErrFailed) {
				t.Fatalf("err = %v, want ErrFailed", err)
			}
			if !tt.wantErr && err != nil {
				t.Fatalf("CaptureOrder error: %v", err)
			}
		})
	}
}

func TestClient_NotConfigured(t *testing.T) {
	client := NewClient("", "client", "secret")

	if _, err := client.CreateOrder(context.Background(), 1); err == nil {
		t.Fatalf("expected error for empty base url")
	}
}
