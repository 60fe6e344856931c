// Package paypal предоставляет клиент для PayPal Orders API v2.
package paypal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/academy-shop/internal/model"
)

var (
	// ErrFailed возвращается, если провайдер отклонил запрос.
	ErrFailed = errors.New("paypal request failed")
	// ErrNotFound возвращается, если провайдер не знает заказ.
	ErrNotFound = errors.New("paypal order not found")
)

// RateLimitError сообщает, что провайдер ограничил частоту запросов.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("paypal rate limited, retry after %s", e.RetryAfter)
}

const currencyCode = "EUR"

// Client инкапсулирует HTTP-взаимодействие с PayPal.
type Client struct {
	baseURL      string
	clientID     string
	clientSecret string
	httpClient   *http.Client
}

// NewClient создаёт клиент PayPal по адресу API и учётным данным приложения.
func NewClient(baseURL, clientID, clientSecret string) *Client {
	base := strings.TrimRight(baseURL, "/")
	if base != "" && !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}

	return &Client{
		baseURL:      base,
		clientID:     clientID,
		clientSecret: clientSecret,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// ClientID возвращает публичный идентификатор приложения для фронтенда.
func (c *Client) ClientID() string {
	return c.clientID
}

type amount struct {
	CurrencyCode string `json:"currency_code"`
	Value        string `json:"value"`
}

type purchaseUnit struct {
	Amount amount `json:"amount"`
}

type createOrderRequest struct {
	Intent        string         `json:"intent"`
	PurchaseUnits []purchaseUnit `json:"purchase_units"`
}

type orderResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// Price переводит количество монет в сумму в евро (100 монет = 1 EUR).
func Price(coins int64) string {
	return decimal.New(coins, -2).StringFixed(2)
}

// CreateOrder создаёт заказ на покупку монет и возвращает его идентификатор.
func (c *Client) CreateOrder(ctx context.Context, coins int64) (string, error) {
	body := createOrderRequest{
		Intent: "CAPTURE",
		PurchaseUnits: []purchaseUnit{{
			Amount: amount{CurrencyCode: currencyCode, Value: Price(coins)},
		}},
	}

	var result orderResponse
	if err := c.do(ctx, http.MethodPost, "/v2/checkout/orders", body, &result); err != nil {
		return "", err
	}
	if result.ID == "" {
		return "", fmt.Errorf("%w: empty order id", ErrFailed)
	}

	return result.ID, nil
}

// GetOrderStatus запрашивает текущий статус заказа у провайдера.
func (c *Client) GetOrderStatus(ctx context.Context, orderID string) (model.OrderStatus, error) {
	var result orderResponse
	if err := c.do(ctx, http.MethodGet, "/v2/checkout/orders/"+url.PathEscape(orderID), nil, &result); err != nil {
		return "", err
	}

	status, ok := parseStatus(result.Status)
	if !ok {
		return "", fmt.Errorf("%w: unknown order status %q", ErrFailed, result.Status)
	}

	return status, nil
}

// CaptureOrder списывает оплату по подтверждённому заказу.
func (c *Client) CaptureOrder(ctx context.Context, orderID string) error {
	var result orderResponse
	path := "/v2/checkout/orders/" + url.PathEscape(orderID) + "/capture"
	if err := c.do(ctx, http.MethodPost, path, struct{}{}, &result); err != nil {
		return err
	}
	if !strings.EqualFold(result.Status, "COMPLETED") {
		return fmt.Errorf("%w: capture status %q", ErrFailed, result.Status)
	}

	return nil
}

// parseStatus понимает как статусы PayPal, так и статусы песочницы.
func parseStatus(s string) (model.OrderStatus, bool) {
	switch strings.ToUpper(s) {
	case "CREATED", "SAVED", "PAYER_ACTION_REQUIRED":
		return model.OrderStatusCreated, true
	case "APPROVED", "CONFIRMED":
		return model.OrderStatusConfirmed, true
	case "COMPLETED", "CAPTURED":
		return model.OrderStatusCaptured, true
	default:
		return "", false
	}
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	if c == nil || c.baseURL == "" {
		return fmt.Errorf("paypal client not configured")
	}

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.SetBasicAuth(c.clientID, c.clientSecret)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		retryAfter := time.Duration(0)
		if v := resp.Header.Get("Retry-After"); v != "" {
			if seconds, parseErr := strconv.Atoi(v); parseErr == nil {
				retryAfter = time.Duration(seconds) * time.Second
			}
		}
		return &RateLimitError{RetryAfter: retryAfter}
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return fmt.Errorf("%w: unexpected status %d", ErrFailed, resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	return nil
}
