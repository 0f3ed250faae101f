//go:build integration

package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/velora-atelier/api/internal/database"
	"github.com/velora-atelier/api/internal/enum"
	"github.com/velora-atelier/api/internal/middleware"
	"github.com/velora-atelier/api/internal/service"

	"github.com/go-chi/chi/v5"
)

func setupTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("atelier_test"),
		tcpostgres.WithUsername("atelier"),
		tcpostgres.WithPassword("atelier"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).WithStartupTimeout(60*time.Second)),
	)
	if err != nil {
		t.Fatalf("start postgres: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("connection string: %v", err)
	}

	_, thisFile, _, _ := runtime.Caller(0)
	migrationsPath := filepath.Join(filepath.Dir(thisFile), "..", "..", "migrations")

	m, err := migrate.New("file://"+migrationsPath, dsn)
	if err != nil {
		t.Fatalf("migrate init: %v", err)
	}
	if err := m.Up(); err != nil {
		t.Fatalf("migrate up: %v", err)
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("pgx pool: %v", err)
	}
	t.Cleanup(pool.Close)
	return pool
}

func testRouter(pool *pgxpool.Pool) *chi.Mux {
	queries := database.New(pool)
	svc := service.NewOrderService(pool, queries, func(db database.DBTX) service.OrderStore {
		return database.New(db)
	}, nil)

	r := chi.NewRouter()
	r.Route("/orders", func(r chi.Router) {
		r.Use(middleware.Authenticate(testSecret))
		h := NewOrderHandler(svc, queries, nil)
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireRole(enum.UserRoleAdmin, enum.UserRoleDesigner))
			h.RegisterStaffRoutes(r)
		})
		h.RegisterRoutes(r)
	})
	return r
}

func mustNumeric(t *testing.T, s string) pgtype.Numeric {
	t.Helper()
	var n pgtype.Numeric
	if err := n.Scan(s); err != nil {
		t.Fatalf("numeric %q: %v", s, err)
	}
	return n
}

func TestOrderCreationEndToEnd(t *testing.T) {
	pool := setupTestDB(t)
	queries := database.New(pool)
	ctx := context.Background()

	user, err := queries.CreateUser(ctx, database.CreateUserParams{
		Email:        "ana@example.com",
		PasswordHash: "x",
		FullName:     "Ana Costa",
		Role:         enum.UserRoleCustomer,
	})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}

	product, err := queries.CreateProduct(ctx, database.CreateProductParams{
		Name:         "Silk Wrap Dress",
		Price:        mustNumeric(t, "100.00"),
		CountInStock: 5,
		Sizes:        []string{"M"},
		Colors:       []string{"navy"},
	})
	if err != nil {
		t.Fatalf("create product: %v", err)
	}

	consultation, err := queries.CreateCustomOrder(ctx, database.CreateCustomOrderParams{
		UserID:      user.ID,
		Description: "Emerald silk gown",
	})
	if err != nil {
		t.Fatalf("create custom order: %v", err)
	}

	router := testRouter(pool)
	authz := bearerToken(t, user.ID, enum.UserRoleCustomer)

	body := map[string]any{
		"items": []map[string]any{
			{"product_id": product.ID.String(), "quantity": 2, "price": "100.00", "size": "M", "color": "navy"},
		},
		"custom_order_refs": []string{consultation.ID.String()},
		"shipping_address": map[string]any{
			"address": "12 Rue de la Mode", "city": "Paris", "postal_code": "75003", "country": "FR",
		},
		"payment_method":      "CARD",
		"payment_result":      map[string]any{"id": "pay_123", "amount": "520.00"},
		"items_price":         "200.00",
		"custom_orders_price": "300.00",
		"shipping_price":      "10.00",
		"tax_price":           "10.00",
		"total_price":         "520.00",
	}

	doCreate := func(idempotencyKey string) *httptest.ResponseRecorder {
		raw, _ := json.Marshal(body)
		req := httptest.NewRequest(http.MethodPost, "/orders", bytes.NewReader(raw))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", authz)
		if idempotencyKey != "" {
			req.Header.Set("Idempotency-Key", idempotencyKey)
		}
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec
	}

	rec := doCreate("submit-1")
	if rec.Code != http.StatusCreated {
		t.Fatalf("create order: %d %s", rec.Code, rec.Body.String())
	}

	var env envelope
	if err := json.NewDecoder(rec.Body).Decode(&env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	data := env.Data.(map[string]any)
	orderID := uuid.MustParse(data["id"].(string))

	if data["order_type"] != enum.OrderTypeMixed {
		t.Fatalf("order type %v, want MIXED", data["order_type"])
	}
	if data["status"] != enum.OrderStatusConfirmed {
		t.Fatalf("status %v, want CONFIRMED", data["status"])
	}

	// Stock decremented exactly.
	updatedProduct, err := queries.GetProduct(ctx, product.ID)
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	if updatedProduct.CountInStock != 3 {
		t.Fatalf("stock %d, want 3", updatedProduct.CountInStock)
	}

	// Consultation confirmed.
	updatedConsultation, err := queries.GetCustomOrder(ctx, consultation.ID)
	if err != nil {
		t.Fatalf("get custom order: %v", err)
	}
	if updatedConsultation.Status != enum.CustomOrderStatusConfirmed {
		t.Fatalf("custom order status %s, want CONFIRMED", updatedConsultation.Status)
	}

	// Order id appended to the user's list.
	updatedUser, err := queries.GetUserByID(ctx, user.ID)
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if len(updatedUser.OrderIds) != 1 || updatedUser.OrderIds[0] != orderID {
		t.Fatalf("order ids %v, want [%s]", updatedUser.OrderIds, orderID)
	}

	// Confirmed timestamp is stamped.
	order, err := queries.GetOrder(ctx, orderID)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if !order.ConfirmedAt.Valid {
		t.Fatal("confirmed_at must be set on creation")
	}

	// Replayed submission returns the same order without decrementing again.
	rec2 := doCreate("submit-1")
	if rec2.Code != http.StatusCreated {
		t.Fatalf("replay: %d %s", rec2.Code, rec2.Body.String())
	}
	var env2 envelope
	if err := json.NewDecoder(rec2.Body).Decode(&env2); err != nil {
		t.Fatalf("decode replay: %v", err)
	}
	if env2.Data.(map[string]any)["id"] != orderID.String() {
		t.Fatal("replay must return the original order")
	}
	productAfterReplay, _ := queries.GetProduct(ctx, product.ID)
	if productAfterReplay.CountInStock != 3 {
		t.Fatalf("replay decremented stock to %d", productAfterReplay.CountInStock)
	}

	// The consultation cannot be bound a second time.
	rec3 := doCreate("submit-2")
	if rec3.Code != http.StatusConflict {
		t.Fatalf("rebinding a confirmed consultation should 409, got %d %s", rec3.Code, rec3.Body.String())
	}
}

func TestOversellRejectedEndToEnd(t *testing.T) {
	pool := setupTestDB(t)
	queries := database.New(pool)
	ctx := context.Background()

	user, err := queries.CreateUser(ctx, database.CreateUserParams{
		Email:        "leo@example.com",
		PasswordHash: "x",
		FullName:     "Leo Brandt",
		Role:         enum.UserRoleCustomer,
	})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}

	product, err := queries.CreateProduct(ctx, database.CreateProductParams{
		Name:         "Tailored Wool Blazer",
		Price:        mustNumeric(t, "445.00"),
		CountInStock: 1,
		Sizes:        []string{"M"},
		Colors:       []string{"charcoal"},
	})
	if err != nil {
		t.Fatalf("create product: %v", err)
	}

	router := testRouter(pool)

	total := decimal.NewFromInt(890)
	raw, _ := json.Marshal(map[string]any{
		"items": []map[string]any{
			{"product_id": product.ID.String(), "quantity": 2, "price": "445.00", "size": "M", "color": "charcoal"},
		},
		"shipping_address": map[string]any{"address": "1 Hafenstrasse"},
		"payment_method":   "CARD",
		"payment_result":   map[string]any{"id": "pay_9", "amount": total.StringFixed(2)},
		"items_price":      "890.00",
		"total_price":      total.StringFixed(2),
	})

	req := httptest.NewRequest(http.MethodPost, "/orders", bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", bearerToken(t, user.ID, enum.UserRoleCustomer))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("oversell should 409, got %d %s", rec.Code, rec.Body.String())
	}

	// Nothing was written.
	unchanged, _ := queries.GetProduct(ctx, product.ID)
	if unchanged.CountInStock != 1 {
		t.Fatalf("stock %d, want 1", unchanged.CountInStock)
	}
	orders, _ := queries.ListOrdersByUser(ctx, database.ListOrdersByUserParams{UserID: user.ID, Limit: 10})
	if len(orders) != 0 {
		t.Fatalf("no order should exist, found %d", len(orders))
	}
	updatedUser, _ := queries.GetUserByID(ctx, user.ID)
	if len(updatedUser.OrderIds) != 0 {
		t.Fatalf("user order list should be empty, got %v", updatedUser.OrderIds)
	}
}

func TestShippedTimestampSetOnce(t *testing.T) {
	pool := setupTestDB(t)
	queries := database.New(pool)
	ctx := context.Background()

	user, err := queries.CreateUser(ctx, database.CreateUserParams{
		Email:        "mira@example.com",
		PasswordHash: "x",
		FullName:     "Mira Sato",
		Role:         enum.UserRoleCustomer,
	})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}

	product, err := queries.CreateProduct(ctx, database.CreateProductParams{
		Name:         "Pleated Midi Skirt",
		Price:        mustNumeric(t, "120.00"),
		CountInStock: 3,
		Sizes:        []string{"S"},
		Colors:       []string{"ivory"},
	})
	if err != nil {
		t.Fatalf("create product: %v", err)
	}

	router := testRouter(pool)

	raw, _ := json.Marshal(map[string]any{
		"items": []map[string]any{
			{"product_id": product.ID.String(), "quantity": 1, "price": "120.00", "size": "S", "color": "ivory"},
		},
		"shipping_address": map[string]any{"address": "4 Calle Mayor"},
		"payment_method":   "CARD",
		"payment_result":   map[string]any{"id": "pay_77", "amount": "120.00"},
		"items_price":      "120.00",
		"total_price":      "120.00",
	})
	req := httptest.NewRequest(http.MethodPost, "/orders", bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", bearerToken(t, user.ID, enum.UserRoleCustomer))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create order: %d %s", rec.Code, rec.Body.String())
	}

	var env envelope
	if err := json.NewDecoder(rec.Body).Decode(&env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	orderID := uuid.MustParse(env.Data.(map[string]any)["id"].(string))

	staffAuthz := bearerToken(t, uuid.New(), enum.UserRoleAdmin)
	ship := func() *httptest.ResponseRecorder {
		raw, _ := json.Marshal(map[string]any{"status": enum.OrderStatusShipped})
		req := httptest.NewRequest(http.MethodPut, "/orders/"+orderID.String()+"/status", bytes.NewReader(raw))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", staffAuthz)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec
	}

	if rec := ship(); rec.Code != http.StatusOK {
		t.Fatalf("ship: %d %s", rec.Code, rec.Body.String())
	}
	first, err := queries.GetOrder(ctx, orderID)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if !first.ShippedAt.Valid {
		t.Fatal("shipped_at must be set on the first transition")
	}

	time.Sleep(50 * time.Millisecond)

	if rec := ship(); rec.Code != http.StatusOK {
		t.Fatalf("ship again: %d %s", rec.Code, rec.Body.String())
	}
	second, err := queries.GetOrder(ctx, orderID)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if !second.ShippedAt.Time.Equal(first.ShippedAt.Time) {
		t.Fatalf("shipped_at moved from %v to %v on a repeated transition", first.ShippedAt.Time, second.ShippedAt.Time)
	}
	if second.Status != enum.OrderStatusShipped {
		t.Fatalf("status %s, want SHIPPED", second.Status)
	}
}

func TestConcurrentCreatesSellExactlyOneUnit(t *testing.T) {
	pool := setupTestDB(t)
	queries := database.New(pool)
	ctx := context.Background()

	user, err := queries.CreateUser(ctx, database.CreateUserParams{
		Email:        "iris@example.com",
		PasswordHash: "x",
		FullName:     "Iris Lindqvist",
		Role:         enum.UserRoleCustomer,
	})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}

	product, err := queries.CreateProduct(ctx, database.CreateProductParams{
		Name:         "Hand-Beaded Clutch",
		Price:        mustNumeric(t, "260.00"),
		CountInStock: 1,
		Sizes:        []string{"OS"},
		Colors:       []string{"gold"},
	})
	if err != nil {
		t.Fatalf("create product: %v", err)
	}

	router := testRouter(pool)
	authz := bearerToken(t, user.ID, enum.UserRoleCustomer)

	const attempts = 8
	codes := make(chan int, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			raw, _ := json.Marshal(map[string]any{
				"items": []map[string]any{
					{"product_id": product.ID.String(), "quantity": 1, "price": "260.00", "size": "OS", "color": "gold"},
				},
				"shipping_address": map[string]any{"address": "9 Strandvejen"},
				"payment_method":   "CARD",
				"payment_result":   map[string]any{"id": "pay_race", "amount": "260.00"},
				"items_price":      "260.00",
				"total_price":      "260.00",
			})
			req := httptest.NewRequest(http.MethodPost, "/orders", bytes.NewReader(raw))
			req.Header.Set("Content-Type", "application/json")
			req.Header.Set("Authorization", authz)
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)
			codes <- rec.Code
		}()
	}
	wg.Wait()
	close(codes)

	created, rejected := 0, 0
	for code := range codes {
		switch code {
		case http.StatusCreated:
			created++
		case http.StatusConflict:
			rejected++
		default:
			t.Errorf("unexpected status %d", code)
		}
	}
	if created != 1 {
		t.Fatalf("%d orders created, want exactly 1", created)
	}
	if rejected != attempts-1 {
		t.Fatalf("%d rejections, want %d", rejected, attempts-1)
	}

	unchanged, err := queries.GetProduct(ctx, product.ID)
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	if unchanged.CountInStock != 0 {
		t.Fatalf("stock %d, want 0", unchanged.CountInStock)
	}
	updatedUser, err := queries.GetUserByID(ctx, user.ID)
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if len(updatedUser.OrderIds) != 1 {
		t.Fatalf("user has %d orders, want 1", len(updatedUser.OrderIds))
	}
}
