// Package handler содержит HTTP-обработчики API магазина монет.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mmeshcher/academy-shop/internal/identity"
	"github.com/mmeshcher/academy-shop/internal/middleware"
	"github.com/mmeshcher/academy-shop/internal/model"
	"github.com/mmeshcher/academy-shop/internal/repository"
	"github.com/mmeshcher/academy-shop/internal/service"
	"github.com/mmeshcher/academy-shop/internal/validation"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	GetBalance(ctx context.Context, p model.Principal, userID uuid.UUID) (model.Balance, error)
	AddCoins(ctx context.Context, p model.Principal, userID uuid.UUID, coins int64, description *string, creditNote *bool) (model.Balance, error)
	ReleaseWithheld(ctx context.Context, p model.Principal, userID uuid.UUID) (model.Balance, error)
	ReconcileEligibility(ctx context.Context, p model.Principal, userID uuid.UUID) (model.Balance, error)
	ListTransactions(ctx context.Context, p model.Principal, userID uuid.UUID) ([]model.Transaction, error)
	PaypalClientID() string
	CreateCoinOrder(ctx context.Context, p model.Principal, coins int64) (string, error)
	CaptureCoinOrder(ctx context.Context, p model.Principal, orderID string) (model.Balance, error)
	ListCoinOrders(ctx context.Context, p model.Principal) ([]model.CoinOrder, error)
	Health(ctx context.Context) model.HealthStatus
}

// Handler реализует HTTP-обработчики API магазина монет.
type Handler struct {
	service        Service
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger, auth *middleware.AuthMiddleware) *Handler {
	return &Handler{
		service:        s,
		logger:         logger,
		authMiddleware: auth,
	}
}

type errorResponse struct {
	Detail string `json:"detail"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, errorResponse{Detail: detail})
}

func writeStatus(w http.ResponseWriter, status int) {
	writeDetail(w, status, http.StatusText(status))
}

// writeError переводит ошибки сервиса в HTTP-ответы.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, service.ErrPermissionDenied):
		writeDetail(w, http.StatusForbidden, "Permission denied")
	case errors.Is(err, service.ErrEmailNotVerified):
		writeDetail(w, http.StatusForbidden, "Email not verified")
	case errors.Is(err, identity.ErrUserNotFound):
		writeDetail(w, http.StatusNotFound, "User not found")
	case errors.Is(err, repository.ErrOrderNotFound):
		writeDetail(w, http.StatusNotFound, "Order not found")
	case errors.Is(err, repository.ErrNotEnoughCoins):
		writeDetail(w, http.StatusPreconditionFailed, "Not enough coins")
	case errors.Is(err, service.ErrUserInfoMissing):
		writeDetail(w, http.StatusPreconditionFailed, "User Infos missing")
	case errors.Is(err, service.ErrInvalidAmount):
		writeDetail(w, http.StatusBadRequest, "Invalid amount")
	case errors.Is(err, service.ErrInvalidDescription):
		writeStatus(w, http.StatusUnprocessableEntity)
	case errors.Is(err, service.ErrCaptureFailed):
		writeDetail(w, http.StatusBadRequest, "Could not capture order")
	case errors.Is(err, service.ErrCreateOrderFailed):
		writeDetail(w, http.StatusInternalServerError, "Could not create order")
	default:
		h.logger.Error("request failed", zap.Error(err), zap.String("method", r.Method), zap.String("path", r.URL.Path))
		writeStatus(w, http.StatusInternalServerError)
	}
}

func principal(r *http.Request) model.Principal {
	p, _ := middleware.GetPrincipalFromContext(r.Context())
	return p
}

// targetUser разбирает параметр user_id; значение "me" означает вызывающего пользователя.
func targetUser(r *http.Request) (uuid.UUID, bool) {
	raw := chi.URLParam(r, "user_id")
	if raw == "me" {
		p := principal(r)
		return p.UserID, p.IsUser()
	}

	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

type addCoinsRequest struct {
	Coins       int64   `json:"coins"`
	Description *string `json:"description"`
	CreditNote  *bool   `json:"credit_note"`
}

// GetBalance возвращает баланс пользователя.
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	userID, ok := targetUser(r)
	if !ok {
		writeStatus(w, http.StatusUnprocessableEntity)
		return
	}

	bal, err := h.service.GetBalance(r.Context(), principal(r), userID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, bal)
}

func (h *Handler) addCoins(w http.ResponseWriter, r *http.Request) (model.Balance, bool) {
	userID, ok := targetUser(r)
	if !ok {
		writeStatus(w, http.StatusUnprocessableEntity)
		return model.Balance{}, false
	}

	var req addCoinsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeStatus(w, http.StatusBadRequest)
		return model.Balance{}, false
	}

	bal, err := h.service.AddCoins(r.Context(), principal(r), userID, req.Coins, req.Description, req.CreditNote)
	if err != nil {
		h.writeError(w, r, err)
		return model.Balance{}, false
	}

	return bal, true
}

// AddCoins начисляет или списывает монеты от имени администратора.
func (h *Handler) AddCoins(w http.ResponseWriter, r *http.Request) {
	if !principal(r).Admin {
		writeDetail(w, http.StatusForbidden, "Permission denied")
		return
	}

	if _, ok := h.addCoins(w, r); ok {
		writeJSON(w, http.StatusOK, true)
	}
}

// InternalAddCoins начисляет или списывает монеты по запросу внутреннего сервиса.
func (h *Handler) InternalAddCoins(w http.ResponseWriter, r *http.Request) {
	if !principal(r).IsInternal(service.InternalAudience) {
		writeDetail(w, http.StatusForbidden, "Permission denied")
		return
	}

	if bal, ok := h.addCoins(w, r); ok {
		writeJSON(w, http.StatusOK, bal)
	}
}

// ReleaseWithheld переводит удержанные монеты пользователя в доступные.
func (h *Handler) ReleaseWithheld(w http.ResponseWriter, r *http.Request) {
	userID, ok := targetUser(r)
	if !ok {
		writeStatus(w, http.StatusUnprocessableEntity)
		return
	}

	bal, err := h.service.ReleaseWithheld(r.Context(), principal(r), userID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, bal)
}

// ReconcileEligibility пересчитывает удержание после изменения платёжных данных пользователя.
func (h *Handler) ReconcileEligibility(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(chi.URLParam(r, "user_id"))
	if err != nil {
		writeStatus(w, http.StatusUnprocessableEntity)
		return
	}

	bal, err := h.service.ReconcileEligibility(r.Context(), principal(r), userID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, bal)
}

type transactionResponse struct {
	ID           uuid.UUID     `json:"id"`
	UserID       uuid.UUID     `json:"user_id"`
	Coins        int64         `json:"coins"`
	Withheld     bool          `json:"withheld"`
	Kind         string        `json:"kind"`
	Description  *string       `json:"description"`
	CreditNote   bool          `json:"credit_note"`
	Actor        string        `json:"actor"`
	BalanceAfter model.Balance `json:"balance_after"`
	CreatedAt    string        `json:"created_at"`
}

// ListTransactions возвращает журнал операций пользователя.
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	userID, ok := targetUser(r)
	if !ok {
		writeStatus(w, http.StatusUnprocessableEntity)
		return
	}

	txs, err := h.service.ListTransactions(r.Context(), principal(r), userID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	resp := make([]transactionResponse, 0, len(txs))
	for _, t := range txs {
		resp = append(resp, transactionResponse{
			ID:           t.ID,
			UserID:       t.UserID,
			Coins:        t.Coins,
			Withheld:     t.Withheld,
			Kind:         string(t.Kind),
			Description:  t.Description,
			CreditNote:   t.CreditNote,
			Actor:        t.Actor,
			BalanceAfter: t.BalanceAfter,
			CreatedAt:    t.CreatedAt.Format(time.RFC3339),
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

// Health возвращает состояние зависимостей сервиса.
// Если какая-либо зависимость недоступна, отвечает 503.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := h.service.Health(r.Context())

	code := http.StatusOK
	if !status.OK() {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, status)
}

// PaypalClientID возвращает публичный идентификатор приложения PayPal.
func (h *Handler) PaypalClientID(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.service.PaypalClientID())
}

type createCoinOrderRequest struct {
	Coins int64 `json:"coins"`
}

// CreateCoinOrder создаёт заказ на покупку монет.
func (h *Handler) CreateCoinOrder(w http.ResponseWriter, r *http.Request) {
	var req createCoinOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeStatus(w, http.StatusBadRequest)
		return
	}

	orderID, err := h.service.CreateCoinOrder(r.Context(), principal(r), req.Coins)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, orderID)
}

// CaptureCoinOrder завершает оплату заказа и начисляет монеты.
func (h *Handler) CaptureCoinOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "order_id")
	if !validation.IsValidOrderID(orderID) {
		writeStatus(w, http.StatusUnprocessableEntity)
		return
	}

	bal, err := h.service.CaptureCoinOrder(r.Context(), principal(r), orderID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, bal)
}

type coinOrderResponse struct {
	ID            string  `json:"id"`
	Coins         int64   `json:"coins"`
	Status        string  `json:"status"`
	InvoiceNumber int64   `json:"invoice_number"`
	CreatedAt     string  `json:"created_at"`
	ConfirmedAt   *string `json:"confirmed_at,omitempty"`
	CapturedAt    *string `json:"captured_at,omitempty"`
}

func formatTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format(time.RFC3339)
	return &s
}

// ListCoinOrders возвращает заказы текущего пользователя.
func (h *Handler) ListCoinOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.service.ListCoinOrders(r.Context(), principal(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	resp := make([]coinOrderResponse, 0, len(orders))
	for _, o := range orders {
		resp = append(resp, coinOrderResponse{
			ID:            o.ID,
			Coins:         o.Coins,
			Status:        string(o.Status),
			InvoiceNumber: o.InvoiceNumber,
			CreatedAt:     o.CreatedAt.Format(time.RFC3339),
			ConfirmedAt:   formatTime(o.ConfirmedAt),
			CapturedAt:    formatTime(o.CapturedAt),
		})
	}

	writeJSON(w, http.StatusOK, resp)
}
