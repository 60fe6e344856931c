// Package identity предоставляет клиент внутреннего API сервиса учётных записей.
package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mmeshcher/academy-shop/internal/model"
)

// ErrUserNotFound возвращается, если сервис учётных записей не знает пользователя.
var ErrUserNotFound = errors.New("user not found")

// Audience задаёт аудиторию внутренних токенов для сервиса учётных записей.
const Audience = "auth"

// TokenSource выпускает внутренние токены для обращения к другим сервисам.
type TokenSource interface {
	InternalToken(audience string) (string, error)
}

// Client инкапсулирует HTTP-взаимодействие с сервисом учётных записей.
type Client struct {
	baseURL    string
	tokens     TokenSource
	httpClient *http.Client
}

// User описывает ответ внутреннего API по одному пользователю.
type User struct {
	ID          uuid.UUID         `json:"id"`
	InvoiceInfo model.InvoiceInfo `json:"invoice_info"`
}

// NewClient создаёт клиент сервиса учётных записей по указанному адресу.
func NewClient(baseURL string, tokens TokenSource) *Client {
	base := strings.TrimRight(baseURL, "/")
	if base != "" && !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}

	return &Client{
		baseURL: base,
		tokens:  tokens,
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

// GetUser запрашивает пользователя вместе с его платёжными данными.
func (c *Client) GetUser(ctx context.Context, userID uuid.UUID) (*User, error) {
	if c == nil || c.baseURL == "" {
		return nil, fmt.Errorf("identity client not configured")
	}

	token, err := c.tokens.InternalToken(Audience)
	if err != nil {
		return nil, fmt.Errorf("issue internal token: %w", err)
	}

	url := fmt.Sprintf("%s/auth/_internal/users/%s", c.baseURL, userID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrUserNotFound
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	var user User
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	return &user, nil
}

// Eligibility возвращает права пользователя на покупку и получение монет.
func (c *Client) Eligibility(ctx context.Context, userID uuid.UUID) (model.Eligibility, error) {
	user, err := c.GetUser(ctx, userID)
	if err != nil {
		return model.Eligibility{}, err
	}

	return user.InvoiceInfo.Eligibility(), nil
}
