package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/jackc/pgx/v5"

	"github.com/aelleshop/aelle-api/internal/auth"
	"github.com/aelleshop/aelle-api/internal/cache"
	"github.com/aelleshop/aelle-api/internal/config"
	"github.com/aelleshop/aelle-api/internal/db"
	"github.com/aelleshop/aelle-api/internal/models"
	"github.com/aelleshop/aelle-api/internal/payment"
	"github.com/aelleshop/aelle-api/internal/pricing"
	"github.com/aelleshop/aelle-api/internal/services"
)

const testRazorpaySecret = "handler_test_secret"

type memOrderStore struct {
	orders map[uuid.UUID]*models.Order
}

func newMemOrderStore() *memOrderStore {
	return &memOrderStore{orders: make(map[uuid.UUID]*models.Order)}
}

func (s *memOrderStore) Create(_ context.Context, order *models.Order) error {
	order.ID = uuid.New()
	order.CreatedAt = time.Now()
	order.UpdatedAt = order.CreatedAt
	stored := *order
	s.orders[order.ID] = &stored
	return nil
}

func (s *memOrderStore) GetByID(_ context.Context, orderID uuid.UUID) (*models.Order, error) {
	order, ok := s.orders[orderID]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	copied := *order
	return &copied, nil
}

func (s *memOrderStore) ListByUser(_ context.Context, userID uuid.UUID) ([]*models.Order, error) {
	var out []*models.Order
	for _, order := range s.orders {
		if order.UserID == userID {
			copied := *order
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (s *memOrderStore) List(_ context.Context, filter db.OrderFilter) ([]*models.Order, int64, error) {
	var out []*models.Order
	for _, order := range s.orders {
		if filter.Status != "" && order.Status != filter.Status {
			continue
		}
		copied := *order
		out = append(out, &copied)
	}
	return out, int64(len(out)), nil
}

func (s *memOrderStore) ConfirmPayment(_ context.Context, orderID uuid.UUID, transactionID string) (bool, error) {
	order, ok := s.orders[orderID]
	if !ok {
		return false, pgx.ErrNoRows
	}
	if order.PaymentStatus == models.PaymentCompleted {
		if order.TransactionID == transactionID {
			return false, nil
		}
		return false, db.ErrTransactionMismatch
	}
	if order.PaymentStatus != models.PaymentPending || order.Status.Terminal() {
		return false, db.ErrInvalidStatusTransition
	}
	order.PaymentStatus = models.PaymentCompleted
	order.TransactionID = transactionID
	order.Status = models.StatusConfirmed
	return true, nil
}

func (s *memOrderStore) FailPayment(_ context.Context, orderID uuid.UUID) error {
	order, ok := s.orders[orderID]
	if !ok {
		return pgx.ErrNoRows
	}
	if order.PaymentStatus == models.PaymentPending {
		order.PaymentStatus = models.PaymentFailed
		order.Status = models.StatusCancelled
	}
	return nil
}

func (s *memOrderStore) UpdateStatus(_ context.Context, orderID uuid.UUID, status models.OrderStatus) (*models.Order, error) {
	order, ok := s.orders[orderID]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	if order.Status.Terminal() {
		return nil, db.ErrInvalidStatusTransition
	}
	order.Status = status
	copied := *order
	return &copied, nil
}

func (s *memOrderStore) Stats(context.Context) (db.OrderStats, error) {
	var stats db.OrderStats
	for _, order := range s.orders {
		stats.TotalOrders++
		stats.TotalRevenue += order.FinalAmount
	}
	return stats, nil
}

type allProducts struct{}

func (allProducts) Exists(context.Context, uuid.UUID) (bool, error) { return true, nil }

type fixture struct {
	handlers *Handlers
	router   *mux.Router
	authMW   *auth.Middleware
	store    *memOrderStore
	orderSvc *services.OrderService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	logger := slog.New(slog.DiscardHandler)
	cfg := &config.Config{
		JWTSecret:         strings.Repeat("s", 32),
		RazorpayKeySecret: testRazorpaySecret,
		Port:              "8080",
	}

	cacheProvider, err := cache.NewMemoryProvider()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = cacheProvider.Close() })

	authMW, err := auth.NewMiddleware(cfg.JWTSecret)
	if err != nil {
		t.Fatal(err)
	}

	store := newMemOrderStore()
	orderSvc := services.NewOrderService(store, allProducts{}, nil, nil, testRazorpaySecret, pricing.Default(), nil, logger)
	t.Cleanup(orderSvc.Close)
	otpSvc := services.NewOTPService(cacheProvider, services.NewLogSMSSender(logger), logger)

	h, err := New(Dependencies{
		Config:        cfg,
		CacheProvider: cacheProvider,
		AuthMW:        authMW,
		OrderService:  orderSvc,
		OTPService:    otpSvc,
		Logger:        logger,
	})
	if err != nil {
		t.Fatal(err)
	}

	r := mux.NewRouter()
	r.HandleFunc("/health", h.Health).Methods("GET")
	r.HandleFunc("/auth/otp/send", h.SendOTP).Methods("POST")
	r.HandleFunc("/auth/otp/verify", h.VerifyOTP).Methods("POST")

	admin := r.PathPrefix("/orders/admin").Subrouter()
	admin.Use(h.RequireUser, h.RequireAdmin)
	admin.HandleFunc("/all", h.AdminAllOrders).Methods("GET")
	admin.HandleFunc("/stats", h.AdminOrderStats).Methods("GET")
	admin.HandleFunc("/{id}/status", h.AdminUpdateOrderStatus).Methods("PUT")

	orders := r.PathPrefix("/orders").Subrouter()
	orders.Use(h.RequireUser)
	orders.HandleFunc("/create", h.CreateOrder).Methods("POST")
	orders.HandleFunc("/place", h.PlaceOrder).Methods("POST")
	orders.HandleFunc("/create-payment-intent", h.CreatePaymentIntent).Methods("POST")
	orders.HandleFunc("/verify-payment", h.VerifyPayment).Methods("POST")
	orders.HandleFunc("/my-orders", h.MyOrders).Methods("GET")
	orders.HandleFunc("/order/{id}", h.GetOrder).Methods("GET")
	orders.HandleFunc("/invoice/{id}", h.SendInvoice).Methods("POST")

	return &fixture{handlers: h, router: r, authMW: authMW, store: store, orderSvc: orderSvc}
}

func (fx *fixture) token(t *testing.T, identity auth.Identity) string {
	t.Helper()
	token, err := fx.authMW.IssueToken(identity, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	return token
}

func (fx *fixture) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	fx.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("response is not JSON: %v\n%s", err, rec.Body.String())
	}
	return body
}

func validOrderBody(method string) map[string]any {
	return map[string]any{
		"items": []map[string]any{
			{"productId": uuid.NewString(), "title": "Linen Kurta", "price": 1499.0, "quantity": 2},
		},
		"shippingAddress": map[string]any{
			"fullName": "Priya Sharma",
			"email":    "priya@example.com",
			"phone":    "+919876543210",
			"address":  "12 MG Road",
			"city":     "Bengaluru",
			"state":    "Karnataka",
			"zipCode":  "560001",
		},
		"paymentDetails": map[string]any{"method": method},
		"totalAmount":    2998.0,
		"shippingCost":   99.0,
		"tax":            0.0,
		"finalAmount":    3097.0,
	}
}

func TestHealth(t *testing.T) {
	t.Parallel()

	fx := newFixture(t)
	rec := fx.do(t, http.MethodGet, "/health", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if body := decodeBody(t, rec); body["status"] != "healthy" {
		t.Errorf("body = %v", body)
	}
}

func TestPlaceOrderEndpoint(t *testing.T) {
	t.Parallel()

	fx := newFixture(t)
	token := fx.token(t, auth.Identity{UserID: uuid.New()})

	rec := fx.do(t, http.MethodPost, "/orders/place", token, validOrderBody("cod"))
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201\n%s", rec.Code, rec.Body.String())
	}

	body := decodeBody(t, rec)
	if body["success"] != true {
		t.Errorf("success = %v", body["success"])
	}
	order, ok := body["order"].(map[string]any)
	if !ok {
		t.Fatalf("order missing from body: %v", body)
	}
	if order["orderStatus"] != "confirmed" {
		t.Errorf("orderStatus = %v, want confirmed", order["orderStatus"])
	}
	if order["paymentStatus"] != "pending" {
		t.Errorf("paymentStatus = %v, want pending", order["paymentStatus"])
	}
}

func TestPlaceOrderRequiresAuth(t *testing.T) {
	t.Parallel()

	fx := newFixture(t)
	rec := fx.do(t, http.MethodPost, "/orders/place", "", validOrderBody("cod"))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestCreateOrderRejectsBadAmounts(t *testing.T) {
	t.Parallel()

	fx := newFixture(t)
	token := fx.token(t, auth.Identity{UserID: uuid.New()})

	body := validOrderBody("razorpay")
	body["finalAmount"] = 1.0
	rec := fx.do(t, http.MethodPost, "/orders/create", token, body)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400\n%s", rec.Code, rec.Body.String())
	}
	resp := decodeBody(t, rec)
	if resp["success"] != false {
		t.Errorf("success = %v, want false", resp["success"])
	}
}

func TestCreateOrderRejectsMalformedJSON(t *testing.T) {
	t.Parallel()

	fx := newFixture(t)
	token := fx.token(t, auth.Identity{UserID: uuid.New()})

	req := httptest.NewRequest(http.MethodPost, "/orders/create", strings.NewReader("{not json"))
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	fx.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestVerifyPaymentEndpoint(t *testing.T) {
	t.Parallel()

	fx := newFixture(t)
	userID := uuid.New()
	token := fx.token(t, auth.Identity{UserID: userID})

	rec := fx.do(t, http.MethodPost, "/orders/create", token, validOrderBody("razorpay"))
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d\n%s", rec.Code, rec.Body.String())
	}
	orderID := decodeBody(t, rec)["order"].(map[string]any)["id"].(string)

	verifyBody := map[string]any{
		"orderId":             orderID,
		"razorpay_order_id":   "order_xyz",
		"razorpay_payment_id": "pay_xyz",
		"razorpay_signature":  payment.Signature(testRazorpaySecret, "order_xyz", "pay_xyz"),
	}
	rec = fx.do(t, http.MethodPost, "/orders/verify-payment", token, verifyBody)
	if rec.Code != http.StatusOK {
		t.Fatalf("verify status = %d\n%s", rec.Code, rec.Body.String())
	}
	order := decodeBody(t, rec)["order"].(map[string]any)
	if order["paymentStatus"] != "completed" || order["orderStatus"] != "confirmed" {
		t.Errorf("order = %v/%v, want confirmed/completed", order["orderStatus"], order["paymentStatus"])
	}

	// Forged signature is a 400 and cancels the order.
	verifyBody["razorpay_signature"] = strings.Repeat("0", 64)
	otherOrder := fx.do(t, http.MethodPost, "/orders/create", token, validOrderBody("razorpay"))
	verifyBody["orderId"] = decodeBody(t, otherOrder)["order"].(map[string]any)["id"]
	rec = fx.do(t, http.MethodPost, "/orders/verify-payment", token, verifyBody)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("forged verify status = %d, want 400", rec.Code)
	}
}

func TestGetOrderOwnershipEndpoint(t *testing.T) {
	t.Parallel()

	fx := newFixture(t)
	owner := uuid.New()
	ownerToken := fx.token(t, auth.Identity{UserID: owner})
	strangerToken := fx.token(t, auth.Identity{UserID: uuid.New()})
	adminToken := fx.token(t, auth.Identity{UserID: uuid.New(), Admin: true})

	rec := fx.do(t, http.MethodPost, "/orders/place", ownerToken, validOrderBody("cod"))
	orderID := decodeBody(t, rec)["order"].(map[string]any)["id"].(string)

	path := "/orders/order/" + orderID
	if rec := fx.do(t, http.MethodGet, path, ownerToken, nil); rec.Code != http.StatusOK {
		t.Errorf("owner status = %d, want 200", rec.Code)
	}
	if rec := fx.do(t, http.MethodGet, path, strangerToken, nil); rec.Code != http.StatusForbidden {
		t.Errorf("stranger status = %d, want 403", rec.Code)
	}
	if rec := fx.do(t, http.MethodGet, path, adminToken, nil); rec.Code != http.StatusOK {
		t.Errorf("admin status = %d, want 200", rec.Code)
	}
	if rec := fx.do(t, http.MethodGet, "/orders/order/"+uuid.NewString(), ownerToken, nil); rec.Code != http.StatusNotFound {
		t.Errorf("unknown order status = %d, want 404", rec.Code)
	}
}

func TestAdminEndpoints(t *testing.T) {
	t.Parallel()

	fx := newFixture(t)
	userToken := fx.token(t, auth.Identity{UserID: uuid.New()})
	adminToken := fx.token(t, auth.Identity{UserID: uuid.New(), Admin: true})

	rec := fx.do(t, http.MethodPost, "/orders/place", userToken, validOrderBody("cod"))
	orderID := decodeBody(t, rec)["order"].(map[string]any)["id"].(string)

	if rec := fx.do(t, http.MethodGet, "/orders/admin/all", userToken, nil); rec.Code != http.StatusForbidden {
		t.Errorf("plain user on admin list: status = %d, want 403", rec.Code)
	}

	rec = fx.do(t, http.MethodGet, "/orders/admin/all?status=confirmed", adminToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("admin list status = %d\n%s", rec.Code, rec.Body.String())
	}
	if body := decodeBody(t, rec); body["total"] != float64(1) {
		t.Errorf("total = %v, want 1", body["total"])
	}

	if rec := fx.do(t, http.MethodGet, "/orders/admin/all?page=zero", adminToken, nil); rec.Code != http.StatusBadRequest {
		t.Errorf("bad pagination status = %d, want 400", rec.Code)
	}

	rec = fx.do(t, http.MethodGet, "/orders/admin/stats", adminToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("stats status = %d", rec.Code)
	}
	stats := decodeBody(t, rec)["stats"].(map[string]any)
	if stats["totalOrders"] != float64(1) {
		t.Errorf("totalOrders = %v, want 1", stats["totalOrders"])
	}

	statusPath := fmt.Sprintf("/orders/admin/%s/status", orderID)
	rec = fx.do(t, http.MethodPut, statusPath, adminToken, map[string]string{"status": "delivered"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status update = %d\n%s", rec.Code, rec.Body.String())
	}

	// Terminal orders cannot move again.
	rec = fx.do(t, http.MethodPut, statusPath, adminToken, map[string]string{"status": "processing"})
	if rec.Code != http.StatusConflict {
		t.Errorf("terminal update status = %d, want 409", rec.Code)
	}

	rec = fx.do(t, http.MethodPut, statusPath, adminToken, map[string]string{"status": "warehouse"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bogus status update = %d, want 400", rec.Code)
	}
}

func TestOTPFlow(t *testing.T) {
	t.Parallel()

	fx := newFixture(t)
	const mobile = "+919876543210"

	rec := fx.do(t, http.MethodPost, "/auth/otp/send", "", map[string]string{"mobile": mobile})
	if rec.Code != http.StatusOK {
		t.Fatalf("send status = %d\n%s", rec.Code, rec.Body.String())
	}

	// The dev sender only logs the code, so read it from the store the
	// same way verification does.
	code, err := fx.handlers.cacheProvider.Get(context.Background(), cache.OTPKey(mobile))
	if err != nil {
		t.Fatal(err)
	}

	rec = fx.do(t, http.MethodPost, "/auth/otp/verify", "", map[string]string{"mobile": mobile, "otp": code})
	if rec.Code != http.StatusOK {
		t.Fatalf("verify status = %d\n%s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	token, _ := body["token"].(string)
	if token == "" {
		t.Fatal("no token in verify response")
	}

	// The issued token works against protected routes.
	if rec := fx.do(t, http.MethodGet, "/orders/my-orders", token, nil); rec.Code != http.StatusOK {
		t.Errorf("my-orders with otp token: status = %d, want 200", rec.Code)
	}

	rec = fx.do(t, http.MethodPost, "/auth/otp/verify", "", map[string]string{"mobile": mobile, "otp": code})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("replayed otp status = %d, want 400", rec.Code)
	}
}
