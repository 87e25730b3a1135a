package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"

	"github.com/kmorozov/buyback-system/internal/middleware"
	"github.com/kmorozov/buyback-system/internal/model"
	"github.com/kmorozov/buyback-system/internal/repository"
	"github.com/kmorozov/buyback-system/internal/service"
)

type stubService struct {
	registerUserID int64
	registerErr    error

	authUser *model.User
	authErr  error

	createOrderID  int64
	createOrderErr error

	order    *model.PurchaseOrder
	orderErr error

	orders    []model.PurchaseOrder
	ordersErr error

	previewTotal int64
	previewErr   error

	products   []model.Product
	productID  int64
	productErr error

	addItemID int64
	opErr     error

	metals    []model.OrderMetal
	metalsErr error
}

func (s *stubService) RegisterUser(ctx context.Context, login, password string) (int64, error) {
	return s.registerUserID, s.registerErr
}

func (s *stubService) AuthenticateUser(ctx context.Context, login, password string) (*model.User, error) {
	return s.authUser, s.authErr
}

func (s *stubService) CreateProduct(ctx context.Context, p *model.Product) (int64, error) {
	return s.productID, s.productErr
}

func (s *stubService) ListProducts(ctx context.Context) ([]model.Product, error) {
	return s.products, s.productErr
}

func (s *stubService) CreateOrder(ctx context.Context, userID int64, addressID *int64, items []service.NewItem, method model.PayoutMethod, details string) (int64, error) {
	return s.createOrderID, s.createOrderErr
}

func (s *stubService) GetOrder(ctx context.Context, orderID int64) (*model.PurchaseOrder, error) {
	return s.order, s.orderErr
}

func (s *stubService) ListOrdersByUser(ctx context.Context, userID int64) ([]model.PurchaseOrder, error) {
	return s.orders, s.ordersErr
}

func (s *stubService) PreviewTotal(ctx context.Context, orderID int64) (int64, error) {
	return s.previewTotal, s.previewErr
}

func (s *stubService) AddItem(ctx context.Context, orderID int64, in service.NewItem) (int64, error) {
	return s.addItemID, s.opErr
}

func (s *stubService) UpdateItem(ctx context.Context, orderID, itemID int64, in service.NewItem) error {
	return s.opErr
}

func (s *stubService) DeleteItem(ctx context.Context, orderID, itemID int64) error {
	return s.opErr
}

func (s *stubService) ConfirmItem(ctx context.Context, orderID, itemID int64, confirmed bool) error {
	return s.opErr
}

func (s *stubService) MarkReceived(ctx context.Context, orderID int64, actor string) error {
	return s.opErr
}

func (s *stubService) SendOffer(ctx context.Context, orderID int64, actor string) error {
	return s.opErr
}

func (s *stubService) ResendOffer(ctx context.Context, orderID int64, actor string) error {
	return s.opErr
}

func (s *stubService) LockSpots(ctx context.Context, orderID int64) error { return s.opErr }

func (s *stubService) UnlockSpots(ctx context.Context, orderID int64) error { return s.opErr }

func (s *stubService) GetOrderMetals(ctx context.Context, orderID int64) ([]model.OrderMetal, error) {
	return s.metals, s.metalsErr
}

func (s *stubService) AcceptOffer(ctx context.Context, orderID int64, actor string) error {
	return s.opErr
}

func (s *stubService) RejectOffer(ctx context.Context, orderID int64, notes, actor string) error {
	return s.opErr
}

func (s *stubService) CancelOrder(ctx context.Context, orderID int64, withReturn bool, actor string) error {
	return s.opErr
}

func (s *stubService) ReopenOrder(ctx context.Context, orderID int64, actor string) error {
	return s.opErr
}

func (s *stubService) StartPayment(ctx context.Context, orderID int64, actor string) error {
	return s.opErr
}

func (s *stubService) CompleteOrder(ctx context.Context, orderID int64, actor string) error {
	return s.opErr
}

func newTestHandler(t *testing.T, svc Service) *Handler {
	t.Helper()

	logger, err := zap.NewDevelopment()
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}

	auth := middleware.NewAuthMiddleware("test-secret")

	return NewHandler(svc, logger, auth)
}

func authCookie(h *Handler, userID int64, isAdmin bool) *http.Cookie {
	rec := httptest.NewRecorder()
	h.authMiddleware.SetAuthCookie(rec, userID, isAdmin)
	return rec.Result().Cookies()[0]
}

func TestRegister_Success(t *testing.T) {
	svc := &stubService{registerUserID: 42}
	h := newTestHandler(t, svc)

	body, _ := json.Marshal(credentialsRequest{Login: "user", Password: "pass"})

	req := httptest.NewRequest(http.MethodPost, "/api/user/register", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.Register(rec, req)

	res := rec.Result()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	if len(res.Cookies()) == 0 {
		t.Fatalf("auth cookie must be set on register")
	}
}

func TestRegister_Conflict(t *testing.T) {
	svc := &stubService{registerErr: repository.ErrUserExists}
	h := newTestHandler(t, svc)

	body, _ := json.Marshal(credentialsRequest{Login: "user", Password: "pass"})

	req := httptest.NewRequest(http.MethodPost, "/api/user/register", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.Register(rec, req)

	if rec.Result().StatusCode != http.StatusConflict {
		t.Fatalf("status = %d, want %d", rec.Result().StatusCode, http.StatusConflict)
	}
}

func TestLogin_UnauthorizedOnUnknownUser(t *testing.T) {
	svc := &stubService{authErr: repository.ErrUserNotFound}
	h := newTestHandler(t, svc)

	body, _ := json.Marshal(credentialsRequest{Login: "user", Password: "pass"})

	req := httptest.NewRequest(http.MethodPost, "/api/user/login", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.Login(rec, req)

	if rec.Result().StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", rec.Result().StatusCode, http.StatusUnauthorized)
	}
}

func TestCreateOrder_Created(t *testing.T) {
	svc := &stubService{createOrderID: 7}
	h := newTestHandler(t, svc)
	router := h.SetupRouter()

	body, _ := json.Marshal(createOrderRequest{
		Items: []itemRequest{{
			Kind:     model.ItemKindScrap,
			Quantity: 1,
			Scrap:    &scrapRequest{PreMelt: 10, Unit: model.UnitGram, Purity: 0.9, Metal: model.MetalGold},
		}},
		PayoutMethod:  model.PayoutMethodCheck,
		PayoutDetails: "mail",
	})

	req := httptest.NewRequest(http.MethodPost, "/api/user/orders", bytes.NewReader(body))
	req.AddCookie(authCookie(h, 1, false))
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	res := rec.Result()
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusCreated)
	}

	var resp createdResponse
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.ID != 7 {
		t.Fatalf("order id = %d, want 7", resp.ID)
	}
}

func TestCreateOrder_UnprocessableOnBadPayout(t *testing.T) {
	svc := &stubService{createOrderErr: service.ErrInvalidPayout}
	h := newTestHandler(t, svc)
	router := h.SetupRouter()

	body, _ := json.Marshal(createOrderRequest{PayoutMethod: model.PayoutMethodWire})

	req := httptest.NewRequest(http.MethodPost, "/api/user/orders", bytes.NewReader(body))
	req.AddCookie(authCookie(h, 1, false))
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	if rec.Result().StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want %d", rec.Result().StatusCode, http.StatusUnprocessableEntity)
	}
}

func TestGetOrders_NoContent(t *testing.T) {
	svc := &stubService{orders: []model.PurchaseOrder{}}
	h := newTestHandler(t, svc)
	router := h.SetupRouter()

	req := httptest.NewRequest(http.MethodGet, "/api/user/orders", nil)
	req.AddCookie(authCookie(h, 1, false))
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	if rec.Result().StatusCode != http.StatusNoContent {
		t.Fatalf("status = %d, want %d", rec.Result().StatusCode, http.StatusNoContent)
	}
}

func TestGetOrder_ForeignOrderHidden(t *testing.T) {
	svc := &stubService{
		order: &model.PurchaseOrder{ID: 5, UserID: 2, Status: model.OrderStatusInTransit},
	}
	h := newTestHandler(t, svc)
	router := h.SetupRouter()

	req := httptest.NewRequest(http.MethodGet, "/api/user/orders/5", nil)
	req.AddCookie(authCookie(h, 1, false))
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	if rec.Result().StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rec.Result().StatusCode, http.StatusNotFound)
	}
}

func TestGetOrder_AdminSeesAny(t *testing.T) {
	svc := &stubService{
		order: &model.PurchaseOrder{ID: 5, UserID: 2, Status: model.OrderStatusReceived},
	}
	h := newTestHandler(t, svc)
	router := h.SetupRouter()

	req := httptest.NewRequest(http.MethodGet, "/api/user/orders/5", nil)
	req.AddCookie(authCookie(h, 1, true))
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	res := rec.Result()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	if ct := res.Header.Get("Content-Type"); ct != "application/json" {
		t.Fatalf("content-type = %q, want application/json", ct)
	}
}

func TestAdminRoute_ForbiddenForUser(t *testing.T) {
	svc := &stubService{}
	h := newTestHandler(t, svc)
	router := h.SetupRouter()

	req := httptest.NewRequest(http.MethodPost, "/api/admin/orders/5/receive", nil)
	req.AddCookie(authCookie(h, 1, false))
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	if rec.Result().StatusCode != http.StatusForbidden {
		t.Fatalf("status = %d, want %d", rec.Result().StatusCode, http.StatusForbidden)
	}
}

func TestGetOrderMetals_AdminSeesSnapshot(t *testing.T) {
	spot := int64(200000)
	pct := 0.95
	svc := &stubService{
		metals: []model.OrderMetal{
			{OrderID: 5, Metal: model.MetalGold, BidSpotCents: &spot, ScrapPercentage: &pct},
			{OrderID: 5, Metal: model.MetalSilver},
		},
	}
	h := newTestHandler(t, svc)
	router := h.SetupRouter()

	req := httptest.NewRequest(http.MethodGet, "/api/admin/orders/5/spots", nil)
	req.AddCookie(authCookie(h, 1, true))
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	res := rec.Result()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}

	var resp []orderMetalResponse
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp) != 2 {
		t.Fatalf("metals = %d, want 2", len(resp))
	}
	if resp[0].BidSpotCents == nil || *resp[0].BidSpotCents != 200000 {
		t.Fatalf("gold snapshot not exposed: %+v", resp[0])
	}
	if resp[1].BidSpotCents != nil {
		t.Fatalf("silver must stay unlocked: %+v", resp[1])
	}
}

func TestSendOffer_ConflictOnStaleState(t *testing.T) {
	svc := &stubService{opErr: repository.ErrPreconditionFailed}
	h := newTestHandler(t, svc)
	router := h.SetupRouter()

	req := httptest.NewRequest(http.MethodPost, "/api/admin/orders/5/offer", nil)
	req.AddCookie(authCookie(h, 1, true))
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	if rec.Result().StatusCode != http.StatusConflict {
		t.Fatalf("status = %d, want %d", rec.Result().StatusCode, http.StatusConflict)
	}
}

func TestAcceptOffer_BadGatewayOnFeedFailure(t *testing.T) {
	svc := &stubService{
		order: &model.PurchaseOrder{ID: 5, UserID: 1, Status: model.OrderStatusOfferSent},
		opErr: service.ErrCollaborator,
	}
	h := newTestHandler(t, svc)
	router := h.SetupRouter()

	req := httptest.NewRequest(http.MethodPost, "/api/user/orders/5/accept", nil)
	req.AddCookie(authCookie(h, 1, false))
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	if rec.Result().StatusCode != http.StatusBadGateway {
		t.Fatalf("status = %d, want %d", rec.Result().StatusCode, http.StatusBadGateway)
	}
}

func TestPreviewTotal_JSONResponse(t *testing.T) {
	svc := &stubService{
		order:        &model.PurchaseOrder{ID: 5, UserID: 1, Status: model.OrderStatusReceived},
		previewTotal: 190000,
	}
	h := newTestHandler(t, svc)
	router := h.SetupRouter()

	req := httptest.NewRequest(http.MethodGet, "/api/user/orders/5/total", nil)
	req.AddCookie(authCookie(h, 1, false))
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	res := rec.Result()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}

	var resp totalResponse
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.TotalCents != 190000 {
		t.Fatalf("total = %d, want 190000", resp.TotalCents)
	}
}

func TestProtectedRoute_UnauthorizedWithoutCookie(t *testing.T) {
	svc := &stubService{}
	h := newTestHandler(t, svc)
	router := h.SetupRouter()

	req := httptest.NewRequest(http.MethodGet, "/api/user/orders", nil)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	if rec.Result().StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", rec.Result().StatusCode, http.StatusUnauthorized)
	}
}
