package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/velora-atelier/api/internal/auth"
	"github.com/velora-atelier/api/internal/database"
	"github.com/velora-atelier/api/internal/enum"
	"github.com/velora-atelier/api/internal/middleware"
	"github.com/velora-atelier/api/internal/service"
)

const testSecret = "test-secret"

type mockOrderService struct {
	createOrder   func(ctx context.Context, req service.CreateOrderRequest) (*service.CreateOrderResult, error)
	updateStatus  func(ctx context.Context, orderID uuid.UUID, newStatus string) (database.Order, error)
	addTracking   func(ctx context.Context, orderID uuid.UUID, carrier, trackingNumber string) (database.Order, error)
	requestReturn func(ctx context.Context, orderID, userID uuid.UUID, reason string) (database.Order, error)
}

func (m *mockOrderService) CreateOrder(ctx context.Context, req service.CreateOrderRequest) (*service.CreateOrderResult, error) {
	return m.createOrder(ctx, req)
}
func (m *mockOrderService) UpdateStatus(ctx context.Context, orderID uuid.UUID, newStatus string) (database.Order, error) {
	return m.updateStatus(ctx, orderID, newStatus)
}
func (m *mockOrderService) AddTracking(ctx context.Context, orderID uuid.UUID, carrier, trackingNumber string) (database.Order, error) {
	return m.addTracking(ctx, orderID, carrier, trackingNumber)
}
func (m *mockOrderService) RequestReturn(ctx context.Context, orderID, userID uuid.UUID, reason string) (database.Order, error) {
	return m.requestReturn(ctx, orderID, userID, reason)
}

type mockOrderReadStore struct {
	getOrder                  func(ctx context.Context, id uuid.UUID) (database.Order, error)
	listOrdersByUser          func(ctx context.Context, arg database.ListOrdersByUserParams) ([]database.Order, error)
	listOrders                func(ctx context.Context, arg database.ListOrdersParams) ([]database.Order, error)
	listOrderItemsByOrder     func(ctx context.Context, orderID uuid.UUID) ([]database.OrderItem, error)
	listCustomOrderIDsByOrder func(ctx context.Context, orderID uuid.UUID) ([]uuid.UUID, error)
}

func (m *mockOrderReadStore) GetOrder(ctx context.Context, id uuid.UUID) (database.Order, error) {
	return m.getOrder(ctx, id)
}
func (m *mockOrderReadStore) ListOrdersByUser(ctx context.Context, arg database.ListOrdersByUserParams) ([]database.Order, error) {
	return m.listOrdersByUser(ctx, arg)
}
func (m *mockOrderReadStore) ListOrders(ctx context.Context, arg database.ListOrdersParams) ([]database.Order, error) {
	return m.listOrders(ctx, arg)
}
func (m *mockOrderReadStore) ListOrderItemsByOrder(ctx context.Context, orderID uuid.UUID) ([]database.OrderItem, error) {
	return m.listOrderItemsByOrder(ctx, orderID)
}
func (m *mockOrderReadStore) ListCustomOrderIDsByOrder(ctx context.Context, orderID uuid.UUID) ([]uuid.UUID, error) {
	return m.listCustomOrderIDsByOrder(ctx, orderID)
}

func emptyReadStore() *mockOrderReadStore {
	return &mockOrderReadStore{
		getOrder: func(ctx context.Context, id uuid.UUID) (database.Order, error) {
			return database.Order{}, pgx.ErrNoRows
		},
		listOrdersByUser: func(ctx context.Context, arg database.ListOrdersByUserParams) ([]database.Order, error) {
			return nil, nil
		},
		listOrders: func(ctx context.Context, arg database.ListOrdersParams) ([]database.Order, error) {
			return nil, nil
		},
		listOrderItemsByOrder: func(ctx context.Context, orderID uuid.UUID) ([]database.OrderItem, error) {
			return nil, nil
		},
		listCustomOrderIDsByOrder: func(ctx context.Context, orderID uuid.UUID) ([]uuid.UUID, error) {
			return nil, nil
		},
	}
}

// ordersRouter mirrors the production wiring: auth on everything, staff
// routes behind a role check.
func ordersRouter(h *OrderHandler) *chi.Mux {
	r := chi.NewRouter()
	r.Route("/orders", func(r chi.Router) {
		r.Use(middleware.Authenticate(testSecret))
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireRole(enum.UserRoleAdmin, enum.UserRoleDesigner))
			h.RegisterStaffRoutes(r)
		})
		h.RegisterRoutes(r)
	})
	return r
}

func bearerToken(t *testing.T, userID uuid.UUID, role string) string {
	t.Helper()
	token, err := auth.GenerateToken(testSecret, userID, role)
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}
	return "Bearer " + token
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	if err := json.NewDecoder(rec.Body).Decode(&env); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return env
}

func validCreateBody() map[string]any {
	return map[string]any{
		"items": []map[string]any{
			{"product_id": uuid.NewString(), "quantity": 1, "price": "100.00", "size": "M", "color": "navy"},
		},
		"shipping_address": map[string]any{
			"address": "12 Rue de la Mode", "city": "Paris", "postal_code": "75003", "country": "FR",
		},
		"payment_method": "CARD",
		"payment_result": map[string]any{"id": "pay_123", "amount": "120.00"},
		"items_price":    "100.00",
		"shipping_price": "10.00",
		"tax_price":      "10.00",
		"total_price":    "120.00",
	}
}

func postJSON(t *testing.T, router http.Handler, path, authz string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	if authz != "" {
		req.Header.Set("Authorization", authz)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestCreateOrderHandler(t *testing.T) {
	userID := uuid.New()

	var captured service.CreateOrderRequest
	svc := &mockOrderService{
		createOrder: func(ctx context.Context, req service.CreateOrderRequest) (*service.CreateOrderResult, error) {
			captured = req
			return &service.CreateOrderResult{
				Order: database.Order{ID: uuid.New(), OrderNumber: "ATL-20260831120000-0001", UserID: req.UserID, Status: enum.OrderStatusConfirmed},
			}, nil
		},
	}
	router := ordersRouter(NewOrderHandler(svc, emptyReadStore(), nil))

	rec := postJSON(t, router, "/orders", bearerToken(t, userID, enum.UserRoleCustomer), validCreateBody(),
		map[string]string{"Idempotency-Key": "key-1"})

	if rec.Code != http.StatusCreated {
		t.Fatalf("status %d, body %s", rec.Code, rec.Body.String())
	}
	env := decodeEnvelope(t, rec)
	if !env.Success {
		t.Fatalf("expected success envelope, got %s", rec.Body.String())
	}
	if captured.UserID != userID {
		t.Fatal("order must be created for the authenticated user")
	}
	if captured.IdempotencyKey != "key-1" {
		t.Fatalf("idempotency key not forwarded, got %q", captured.IdempotencyKey)
	}
}

func TestCreateOrderRejectsMismatchedUserID(t *testing.T) {
	called := false
	svc := &mockOrderService{
		createOrder: func(ctx context.Context, req service.CreateOrderRequest) (*service.CreateOrderResult, error) {
			called = true
			return nil, nil
		},
	}
	router := ordersRouter(NewOrderHandler(svc, emptyReadStore(), nil))

	body := validCreateBody()
	body["user_id"] = uuid.NewString()
	rec := postJSON(t, router, "/orders", bearerToken(t, uuid.New(), enum.UserRoleCustomer), body, nil)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("status %d, want 403", rec.Code)
	}
	if called {
		t.Fatal("service must not be called")
	}
}

func TestCreateOrderRequiresAuth(t *testing.T) {
	router := ordersRouter(NewOrderHandler(&mockOrderService{}, emptyReadStore(), nil))
	rec := postJSON(t, router, "/orders", "", validCreateBody(), nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status %d, want 401", rec.Code)
	}
}

func TestCreateOrderErrorMapping(t *testing.T) {
	userID := uuid.New()

	tests := []struct {
		name     string
		err      error
		wantCode int
	}{
		{"validation", service.ErrEmptyOrder, http.StatusBadRequest},
		{"out of stock", &service.OutOfStockError{ProductID: uuid.New(), Available: 1, Requested: 3}, http.StatusConflict},
		{"ref not found", &service.CustomOrderNotFoundError{ID: uuid.New()}, http.StatusNotFound},
		{"ref ownership", &service.CustomOrderOwnershipError{ID: uuid.New()}, http.StatusForbidden},
		{"ref not bindable", service.ErrCustomOrderNotBindable, http.StatusConflict},
		{"product gone", service.ErrProductNotFound, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockOrderService{
				createOrder: func(ctx context.Context, req service.CreateOrderRequest) (*service.CreateOrderResult, error) {
					return nil, tt.err
				},
			}
			router := ordersRouter(NewOrderHandler(svc, emptyReadStore(), nil))

			rec := postJSON(t, router, "/orders", bearerToken(t, userID, enum.UserRoleCustomer), validCreateBody(), nil)
			if rec.Code != tt.wantCode {
				t.Fatalf("status %d, want %d (body %s)", rec.Code, tt.wantCode, rec.Body.String())
			}
			if env := decodeEnvelope(t, rec); env.Success || env.Error == "" {
				t.Fatalf("expected error envelope, got %s", rec.Body.String())
			}
		})
	}
}

func TestGetOrderOwnership(t *testing.T) {
	ownerID := uuid.New()
	orderID := uuid.New()

	store := emptyReadStore()
	store.getOrder = func(ctx context.Context, id uuid.UUID) (database.Order, error) {
		return database.Order{ID: orderID, UserID: ownerID}, nil
	}
	router := ordersRouter(NewOrderHandler(&mockOrderService{}, store, nil))

	get := func(authz string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/orders/"+orderID.String(), nil)
		req.Header.Set("Authorization", authz)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec
	}

	if rec := get(bearerToken(t, ownerID, enum.UserRoleCustomer)); rec.Code != http.StatusOK {
		t.Fatalf("owner should see the order, got %d", rec.Code)
	}
	if rec := get(bearerToken(t, uuid.New(), enum.UserRoleCustomer)); rec.Code != http.StatusForbidden {
		t.Fatalf("stranger must get 403, got %d", rec.Code)
	}
	if rec := get(bearerToken(t, uuid.New(), enum.UserRoleAdmin)); rec.Code != http.StatusOK {
		t.Fatalf("staff should see any order, got %d", rec.Code)
	}
}

func TestStaffRoutesRequireRole(t *testing.T) {
	orderID := uuid.New()
	svc := &mockOrderService{
		updateStatus: func(ctx context.Context, id uuid.UUID, status string) (database.Order, error) {
			return database.Order{ID: id, Status: status}, nil
		},
	}
	router := ordersRouter(NewOrderHandler(svc, emptyReadStore(), nil))

	body := map[string]string{"status": "PROCESSING"}
	raw, _ := json.Marshal(body)

	put := func(authz string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPut, "/orders/"+orderID.String()+"/status", bytes.NewReader(raw))
		req.Header.Set("Authorization", authz)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec
	}

	if rec := put(bearerToken(t, uuid.New(), enum.UserRoleCustomer)); rec.Code != http.StatusForbidden {
		t.Fatalf("customer must not update status, got %d", rec.Code)
	}
	if rec := put(bearerToken(t, uuid.New(), enum.UserRoleDesigner)); rec.Code != http.StatusOK {
		t.Fatalf("designer should update status, got %d (body %s)", rec.Code, rec.Body.String())
	}
}

func TestAddTrackingHandler(t *testing.T) {
	orderID := uuid.New()
	var gotCarrier, gotNumber string
	svc := &mockOrderService{
		addTracking: func(ctx context.Context, id uuid.UUID, carrier, trackingNumber string) (database.Order, error) {
			gotCarrier, gotNumber = carrier, trackingNumber
			return database.Order{ID: id, Status: enum.OrderStatusShipped}, nil
		},
	}
	router := ordersRouter(NewOrderHandler(svc, emptyReadStore(), nil))

	raw, _ := json.Marshal(map[string]string{"carrier": "DHL", "tracking_number": "TRK42"})
	req := httptest.NewRequest(http.MethodPut, "/orders/"+orderID.String()+"/tracking", bytes.NewReader(raw))
	req.Header.Set("Authorization", bearerToken(t, uuid.New(), enum.UserRoleAdmin))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status %d, body %s", rec.Code, rec.Body.String())
	}
	if gotCarrier != "DHL" || gotNumber != "TRK42" {
		t.Fatalf("tracking not forwarded: %q %q", gotCarrier, gotNumber)
	}
}

func TestRequestReturnHandler(t *testing.T) {
	orderID := uuid.New()
	ownerID := uuid.New()

	svc := &mockOrderService{
		requestReturn: func(ctx context.Context, id, userID uuid.UUID, reason string) (database.Order, error) {
			if userID != ownerID {
				return database.Order{}, service.ErrNotOrderOwner
			}
			return database.Order{ID: id, UserID: userID, ReturnRequested: true}, nil
		},
	}
	router := ordersRouter(NewOrderHandler(svc, emptyReadStore(), nil))

	post := func(authz string) *httptest.ResponseRecorder {
		raw, _ := json.Marshal(map[string]string{"reason": "wrong size"})
		req := httptest.NewRequest(http.MethodPost, "/orders/"+orderID.String()+"/return", bytes.NewReader(raw))
		req.Header.Set("Authorization", authz)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec
	}

	if rec := post(bearerToken(t, ownerID, enum.UserRoleCustomer)); rec.Code != http.StatusOK {
		t.Fatalf("owner return failed: %d %s", rec.Code, rec.Body.String())
	}
	if rec := post(bearerToken(t, uuid.New(), enum.UserRoleCustomer)); rec.Code != http.StatusForbidden {
		t.Fatalf("stranger return must 403, got %d", rec.Code)
	}
}

func TestListMinePassesFilters(t *testing.T) {
	userID := uuid.New()

	var captured database.ListOrdersByUserParams
	store := emptyReadStore()
	store.listOrdersByUser = func(ctx context.Context, arg database.ListOrdersByUserParams) ([]database.Order, error) {
		captured = arg
		return []database.Order{{ID: uuid.New(), UserID: userID}}, nil
	}
	router := ordersRouter(NewOrderHandler(&mockOrderService{}, store, nil))

	req := httptest.NewRequest(http.MethodGet, "/orders/mine?status=SHIPPED&type=STANDARD&limit=500", nil)
	req.Header.Set("Authorization", bearerToken(t, userID, enum.UserRoleCustomer))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status %d, body %s", rec.Code, rec.Body.String())
	}
	if captured.UserID != userID {
		t.Fatal("must list the authenticated user's orders")
	}
	if captured.Status.String != "SHIPPED" || captured.OrderType.String != "STANDARD" {
		t.Fatalf("filters not forwarded: %+v", captured)
	}
	if captured.Limit != 100 {
		t.Fatalf("limit must be capped at 100, got %d", captured.Limit)
	}
}
