// Package handler содержит HTTP-обработчики API сервиса скупки драгметаллов.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/kmorozov/buyback-system/internal/middleware"
	"github.com/kmorozov/buyback-system/internal/model"
	"github.com/kmorozov/buyback-system/internal/pricing"
	"github.com/kmorozov/buyback-system/internal/repository"
	"github.com/kmorozov/buyback-system/internal/service"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	RegisterUser(ctx context.Context, login, password string) (int64, error)
	AuthenticateUser(ctx context.Context, login, password string) (*model.User, error)

	CreateProduct(ctx context.Context, p *model.Product) (int64, error)
	ListProducts(ctx context.Context) ([]model.Product, error)

	CreateOrder(ctx context.Context, userID int64, addressID *int64, items []service.NewItem, method model.PayoutMethod, payoutDetails string) (int64, error)
	GetOrder(ctx context.Context, orderID int64) (*model.PurchaseOrder, error)
	ListOrdersByUser(ctx context.Context, userID int64) ([]model.PurchaseOrder, error)
	PreviewTotal(ctx context.Context, orderID int64) (int64, error)

	AddItem(ctx context.Context, orderID int64, in service.NewItem) (int64, error)
	UpdateItem(ctx context.Context, orderID, itemID int64, in service.NewItem) error
	DeleteItem(ctx context.Context, orderID, itemID int64) error
	ConfirmItem(ctx context.Context, orderID, itemID int64, confirmed bool) error

	MarkReceived(ctx context.Context, orderID int64, actor string) error
	SendOffer(ctx context.Context, orderID int64, actor string) error
	ResendOffer(ctx context.Context, orderID int64, actor string) error
	LockSpots(ctx context.Context, orderID int64) error
	UnlockSpots(ctx context.Context, orderID int64) error
	GetOrderMetals(ctx context.Context, orderID int64) ([]model.OrderMetal, error)
	AcceptOffer(ctx context.Context, orderID int64, actor string) error
	RejectOffer(ctx context.Context, orderID int64, notes, actor string) error
	CancelOrder(ctx context.Context, orderID int64, withReturn bool, actor string) error
	ReopenOrder(ctx context.Context, orderID int64, actor string) error
	StartPayment(ctx context.Context, orderID int64, actor string) error
	CompleteOrder(ctx context.Context, orderID int64, actor string) error
}

// Handler реализует HTTP-обработчики API сервиса скупки.
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

type credentialsRequest struct {
	Login    string `json:"login"`
	Password string `json:"password"`
}

// Register обрабатывает регистрацию нового пользователя.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.Login == "" || req.Password == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	userID, err := h.service.RegisterUser(r.Context(), req.Login, req.Password)
	if err != nil {
		if errors.Is(err, repository.ErrUserExists) {
			http.Error(w, http.StatusText(http.StatusConflict), http.StatusConflict)
			return
		}
		h.logger.Error("register user error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.authMiddleware.SetAuthCookie(w, userID, false)
	w.WriteHeader(http.StatusOK)
}

// Login выполняет аутентификацию пользователя и установку cookie.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.Login == "" || req.Password == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	user, err := h.service.AuthenticateUser(r.Context(), req.Login, req.Password)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) || err.Error() == "invalid credentials" {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}
		h.logger.Error("login user error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.authMiddleware.SetAuthCookie(w, user.ID, user.IsAdmin)
	w.WriteHeader(http.StatusOK)
}

type scrapRequest struct {
	PreMelt  float64          `json:"pre_melt"`
	PostMelt *float64         `json:"post_melt,omitempty"`
	Unit     model.WeightUnit `json:"unit"`
	Purity   float64          `json:"purity"`
	Metal    model.Metal      `json:"metal"`
}

type itemRequest struct {
	Kind      model.ItemKind `json:"kind"`
	ProductID *int64         `json:"product_id,omitempty"`
	Quantity  int            `json:"quantity"`
	Premium   *float64       `json:"premium,omitempty"`
	Scrap     *scrapRequest  `json:"scrap,omitempty"`
}

func (ir itemRequest) toNewItem() service.NewItem {
	item := service.NewItem{
		Kind:      ir.Kind,
		ProductID: ir.ProductID,
		Quantity:  ir.Quantity,
		Premium:   ir.Premium,
	}
	if ir.Scrap != nil {
		item.Scrap = &service.NewScrap{
			PreMelt:  ir.Scrap.PreMelt,
			PostMelt: ir.Scrap.PostMelt,
			Unit:     ir.Scrap.Unit,
			Purity:   ir.Scrap.Purity,
			Metal:    ir.Scrap.Metal,
		}
	}
	return item
}

type createOrderRequest struct {
	AddressID     *int64             `json:"address_id,omitempty"`
	Items         []itemRequest      `json:"items"`
	PayoutMethod  model.PayoutMethod `json:"payout_method"`
	PayoutDetails string             `json:"payout_details"`
}

type createdResponse struct {
	ID int64 `json:"id"`
}

// CreateOrder создаёт заказ на выкуп от текущего пользователя.
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	items := make([]service.NewItem, 0, len(req.Items))
	for _, ir := range req.Items {
		items = append(items, ir.toNewItem())
	}

	id, err := h.service.CreateOrder(r.Context(), userID, req.AddressID, items, req.PayoutMethod, req.PayoutDetails)
	if err != nil {
		h.writeError(w, err, "create order")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	if err := json.NewEncoder(w).Encode(createdResponse{ID: id}); err != nil {
		h.logger.Error("encode response error", zap.Error(err))
	}
}

type itemResponse struct {
	ID         int64          `json:"id"`
	Kind       model.ItemKind `json:"kind"`
	ProductID  *int64         `json:"product_id,omitempty"`
	Quantity   int            `json:"quantity"`
	PriceCents *int64         `json:"price_cents,omitempty"`
	Premium    *float64       `json:"premium,omitempty"`
	Confirmed  bool           `json:"confirmed"`
	Scrap      *scrapRequest  `json:"scrap,omitempty"`
}

type orderResponse struct {
	ID              int64             `json:"id"`
	Status          model.OrderStatus `json:"status"`
	OfferStatus     model.OfferStatus `json:"offer_status,omitempty"`
	OfferSentAt     *string           `json:"offer_sent_at,omitempty"`
	OfferExpiresAt  *string           `json:"offer_expires_at,omitempty"`
	SpotsLocked     bool              `json:"spots_locked"`
	TotalPriceCents *int64            `json:"total_price_cents,omitempty"`
	NumRejections   int               `json:"num_rejections"`
	OfferNotes      string            `json:"offer_notes,omitempty"`
	CreatedAt       string            `json:"created_at"`
	Items           []itemResponse    `json:"items,omitempty"`
}

func toOrderResponse(o *model.PurchaseOrder) orderResponse {
	resp := orderResponse{
		ID:              o.ID,
		Status:          o.Status,
		OfferStatus:     o.OfferStatus,
		SpotsLocked:     o.SpotsLocked,
		TotalPriceCents: o.TotalPriceCents,
		NumRejections:   o.NumRejections,
		OfferNotes:      o.OfferNotes,
		CreatedAt:       o.CreatedAt.Format(time.RFC3339),
	}
	if o.OfferSentAt != nil {
		s := o.OfferSentAt.Format(time.RFC3339)
		resp.OfferSentAt = &s
	}
	if o.OfferExpiresAt != nil {
		s := o.OfferExpiresAt.Format(time.RFC3339)
		resp.OfferExpiresAt = &s
	}
	for _, item := range o.Items {
		ir := itemResponse{
			ID:         item.ID,
			Kind:       item.Kind,
			ProductID:  item.ProductID,
			Quantity:   item.Quantity,
			PriceCents: item.PriceCents,
			Premium:    item.Premium,
			Confirmed:  item.Confirmed,
		}
		if item.Scrap != nil {
			ir.Scrap = &scrapRequest{
				PreMelt:  item.Scrap.PreMelt,
				PostMelt: item.Scrap.PostMelt,
				Unit:     item.Scrap.Unit,
				Purity:   item.Scrap.Purity,
				Metal:    item.Scrap.Metal,
			}
		}
		resp.Items = append(resp.Items, ir)
	}
	return resp
}

// GetOrders возвращает список заказов текущего пользователя.
func (h *Handler) GetOrders(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	orders, err := h.service.ListOrdersByUser(r.Context(), userID)
	if err != nil {
		h.logger.Error("list orders error", zap.Error(err), zap.Int64("userID", userID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	if len(orders) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]orderResponse, 0, len(orders))
	for i := range orders {
		resp = append(resp, toOrderResponse(&orders[i]))
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
}

// GetOrder возвращает один заказ. Пользователь видит только свои заказы,
// администратор — любые.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	order, ok := h.ownedOrder(w, r)
	if !ok {
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(toOrderResponse(order)); err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
}

type totalResponse struct {
	TotalCents int64 `json:"total_cents"`
}

// PreviewTotal возвращает предварительный итог заказа по текущим котировкам.
func (h *Handler) PreviewTotal(w http.ResponseWriter, r *http.Request) {
	order, ok := h.ownedOrder(w, r)
	if !ok {
		return
	}

	total, err := h.service.PreviewTotal(r.Context(), order.ID)
	if err != nil {
		h.writeError(w, err, "preview total")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(totalResponse{TotalCents: total}); err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
}

// AddItem добавляет позицию в заказ текущего пользователя.
func (h *Handler) AddItem(w http.ResponseWriter, r *http.Request) {
	order, ok := h.ownedOrder(w, r)
	if !ok {
		return
	}

	var req itemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	id, err := h.service.AddItem(r.Context(), order.ID, req.toNewItem())
	if err != nil {
		h.writeError(w, err, "add item")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	if err := json.NewEncoder(w).Encode(createdResponse{ID: id}); err != nil {
		h.logger.Error("encode response error", zap.Error(err))
	}
}

// UpdateItem изменяет позицию заказа текущего пользователя.
func (h *Handler) UpdateItem(w http.ResponseWriter, r *http.Request) {
	order, ok := h.ownedOrder(w, r)
	if !ok {
		return
	}

	itemID, err := pathID(r, "itemID")
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	var req itemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if err := h.service.UpdateItem(r.Context(), order.ID, itemID, req.toNewItem()); err != nil {
		h.writeError(w, err, "update item")
		return
	}

	w.WriteHeader(http.StatusOK)
}

// DeleteItem удаляет позицию заказа текущего пользователя.
func (h *Handler) DeleteItem(w http.ResponseWriter, r *http.Request) {
	order, ok := h.ownedOrder(w, r)
	if !ok {
		return
	}

	itemID, err := pathID(r, "itemID")
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if err := h.service.DeleteItem(r.Context(), order.ID, itemID); err != nil {
		h.writeError(w, err, "delete item")
		return
	}

	w.WriteHeader(http.StatusOK)
}

type confirmRequest struct {
	Confirmed bool `json:"confirmed"`
}

// ConfirmItem подтверждает позицию заказа либо снимает подтверждение.
func (h *Handler) ConfirmItem(w http.ResponseWriter, r *http.Request) {
	order, ok := h.ownedOrder(w, r)
	if !ok {
		return
	}

	itemID, err := pathID(r, "itemID")
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	var req confirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if err := h.service.ConfirmItem(r.Context(), order.ID, itemID, req.Confirmed); err != nil {
		h.writeError(w, err, "confirm item")
		return
	}

	w.WriteHeader(http.StatusOK)
}

// AcceptOffer принимает предложение цены от имени текущего пользователя.
func (h *Handler) AcceptOffer(w http.ResponseWriter, r *http.Request) {
	order, ok := h.ownedOrder(w, r)
	if !ok {
		return
	}

	if err := h.service.AcceptOffer(r.Context(), order.ID, actorFromContext(r)); err != nil {
		h.writeError(w, err, "accept offer")
		return
	}

	w.WriteHeader(http.StatusOK)
}

type rejectRequest struct {
	Notes string `json:"notes"`
}

// RejectOffer отклоняет предложение цены с комментарием клиента.
func (h *Handler) RejectOffer(w http.ResponseWriter, r *http.Request) {
	order, ok := h.ownedOrder(w, r)
	if !ok {
		return
	}

	var req rejectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if err := h.service.RejectOffer(r.Context(), order.ID, req.Notes, actorFromContext(r)); err != nil {
		h.writeError(w, err, "reject offer")
		return
	}

	w.WriteHeader(http.StatusOK)
}

type productRequest struct {
	Name              string      `json:"name"`
	Metal             model.Metal `json:"metal"`
	Content           float64     `json:"content"`
	DefaultBidPremium float64     `json:"default_bid_premium"`
}

// CreateProduct добавляет изделие в каталог. Только для администратора.
func (h *Handler) CreateProduct(w http.ResponseWriter, r *http.Request) {
	var req productRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	id, err := h.service.CreateProduct(r.Context(), &model.Product{
		Name:              req.Name,
		Metal:             req.Metal,
		Content:           req.Content,
		DefaultBidPremium: req.DefaultBidPremium,
	})
	if err != nil {
		h.writeError(w, err, "create product")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	if err := json.NewEncoder(w).Encode(createdResponse{ID: id}); err != nil {
		h.logger.Error("encode response error", zap.Error(err))
	}
}

type productResponse struct {
	ID                int64       `json:"id"`
	Name              string      `json:"name"`
	Metal             model.Metal `json:"metal"`
	Content           float64     `json:"content"`
	DefaultBidPremium float64     `json:"default_bid_premium"`
}

// ListProducts возвращает каталог изделий.
func (h *Handler) ListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.service.ListProducts(r.Context())
	if err != nil {
		h.logger.Error("list products error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	resp := make([]productResponse, 0, len(products))
	for _, p := range products {
		resp = append(resp, productResponse{
			ID:                p.ID,
			Name:              p.Name,
			Metal:             p.Metal,
			Content:           p.Content,
			DefaultBidPremium: p.DefaultBidPremium,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
}

// MarkReceived фиксирует приёмку посылки заказа. Только для администратора.
func (h *Handler) MarkReceived(w http.ResponseWriter, r *http.Request) {
	h.adminTransition(w, r, "mark received", h.service.MarkReceived)
}

// SendOffer отправляет предложение цены по заказу. Только для администратора.
func (h *Handler) SendOffer(w http.ResponseWriter, r *http.Request) {
	h.adminTransition(w, r, "send offer", h.service.SendOffer)
}

// ResendOffer запускает пересогласование после отказа. Только для администратора.
func (h *Handler) ResendOffer(w http.ResponseWriter, r *http.Request) {
	h.adminTransition(w, r, "resend offer", h.service.ResendOffer)
}

// LockSpots фиксирует текущие котировки на заказе. Только для администратора.
func (h *Handler) LockSpots(w http.ResponseWriter, r *http.Request) {
	orderID, err := pathID(r, "orderID")
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if err := h.service.LockSpots(r.Context(), orderID); err != nil {
		h.writeError(w, err, "lock spots")
		return
	}

	w.WriteHeader(http.StatusOK)
}

// UnlockSpots возвращает заказ к живому ценообразованию. Только для администратора.
func (h *Handler) UnlockSpots(w http.ResponseWriter, r *http.Request) {
	orderID, err := pathID(r, "orderID")
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if err := h.service.UnlockSpots(r.Context(), orderID); err != nil {
		h.writeError(w, err, "unlock spots")
		return
	}

	w.WriteHeader(http.StatusOK)
}

type orderMetalResponse struct {
	Metal           model.Metal `json:"metal"`
	BidSpotCents    *int64      `json:"bid_spot_cents,omitempty"`
	ScrapPercentage *float64    `json:"scrap_percentage,omitempty"`
}

// GetOrderMetals возвращает снимок котировок заказа. Только для администратора.
func (h *Handler) GetOrderMetals(w http.ResponseWriter, r *http.Request) {
	orderID, err := pathID(r, "orderID")
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	metals, err := h.service.GetOrderMetals(r.Context(), orderID)
	if err != nil {
		h.writeError(w, err, "get order metals")
		return
	}

	resp := make([]orderMetalResponse, 0, len(metals))
	for _, m := range metals {
		resp = append(resp, orderMetalResponse{
			Metal:           m.Metal,
			BidSpotCents:    m.BidSpotCents,
			ScrapPercentage: m.ScrapPercentage,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
}

type cancelRequest struct {
	WithReturn bool `json:"with_return"`
}

// CancelOrder отменяет заказ, при необходимости с возвратной отправкой.
// Только для администратора.
func (h *Handler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	orderID, err := pathID(r, "orderID")
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	var req cancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if err := h.service.CancelOrder(r.Context(), orderID, req.WithReturn, actorFromContext(r)); err != nil {
		h.writeError(w, err, "cancel order")
		return
	}

	w.WriteHeader(http.StatusOK)
}

// ReopenOrder возвращает отменённый заказ в работу. Только для администратора.
func (h *Handler) ReopenOrder(w http.ResponseWriter, r *http.Request) {
	h.adminTransition(w, r, "reopen order", h.service.ReopenOrder)
}

// StartPayment переводит принятый заказ в обработку выплаты. Только для администратора.
func (h *Handler) StartPayment(w http.ResponseWriter, r *http.Request) {
	h.adminTransition(w, r, "start payment", h.service.StartPayment)
}

// CompleteOrder завершает заказ после выплаты. Только для администратора.
func (h *Handler) CompleteOrder(w http.ResponseWriter, r *http.Request) {
	h.adminTransition(w, r, "complete order", h.service.CompleteOrder)
}

// adminTransition выполняет общий для административных переходов статуса путь:
// идентификатор из URL, вызов сервиса, преобразование ошибки в статус-код.
func (h *Handler) adminTransition(w http.ResponseWriter, r *http.Request, op string, fn func(ctx context.Context, orderID int64, actor string) error) {
	orderID, err := pathID(r, "orderID")
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if err := fn(r.Context(), orderID, actorFromContext(r)); err != nil {
		h.writeError(w, err, op)
		return
	}

	w.WriteHeader(http.StatusOK)
}

// ownedOrder загружает заказ из URL и проверяет право доступа: пользователь
// работает только со своими заказами, администратор — с любыми.
func (h *Handler) ownedOrder(w http.ResponseWriter, r *http.Request) (*model.PurchaseOrder, bool) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return nil, false
	}

	orderID, err := pathID(r, "orderID")
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return nil, false
	}

	order, err := h.service.GetOrder(r.Context(), orderID)
	if err != nil {
		h.writeError(w, err, "get order")
		return nil, false
	}

	if order.UserID != userID && !middleware.IsAdminFromContext(r.Context()) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		return nil, false
	}

	return order, true
}

func pathID(r *http.Request, name string) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, name), 10, 64)
}

func actorFromContext(r *http.Request) string {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		return "unknown"
	}
	if middleware.IsAdminFromContext(r.Context()) {
		return fmt.Sprintf("admin:%d", userID)
	}
	return fmt.Sprintf("user:%d", userID)
}

// writeError преобразует ошибки бизнес-логики в HTTP-статусы.
func (h *Handler) writeError(w http.ResponseWriter, err error, op string) {
	switch {
	case errors.Is(err, repository.ErrOrderNotFound),
		errors.Is(err, repository.ErrItemNotFound),
		errors.Is(err, repository.ErrProductNotFound):
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	case errors.Is(err, repository.ErrPreconditionFailed),
		errors.Is(err, repository.ErrOrderImmutable):
		http.Error(w, http.StatusText(http.StatusConflict), http.StatusConflict)
	case errors.Is(err, service.ErrNoItems),
		errors.Is(err, service.ErrItemsNotConfirmed),
		errors.Is(err, service.ErrInvalidItem),
		errors.Is(err, service.ErrInvalidPayout),
		errors.Is(err, pricing.ErrMissingQuote):
		http.Error(w, http.StatusText(http.StatusUnprocessableEntity), http.StatusUnprocessableEntity)
	case errors.Is(err, service.ErrCollaborator):
		http.Error(w, http.StatusText(http.StatusBadGateway), http.StatusBadGateway)
	default:
		h.logger.Error(op+" error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}
