package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
	"github.com/velora-atelier/api/internal/database"
	"github.com/velora-atelier/api/internal/enum"
)

const maxOrderNumberRetries = 3

// priceTolerance absorbs client-side rounding when checking that the price
// components add up to total_price.
var priceTolerance = decimal.New(1, -2) // 0.01

// Errors returned by the order service.
var (
	ErrEmptyOrder             = errors.New("order must contain items or custom order references")
	ErrInvalidProductID       = errors.New("invalid product_id")
	ErrInvalidQuantity        = errors.New("quantity must be > 0")
	ErrMissingSize            = errors.New("size is required")
	ErrMissingColor           = errors.New("color is required")
	ErrNegativePrice          = errors.New("must be a non-negative number")
	ErrInvalidCustomOrderID   = errors.New("invalid custom order id")
	ErrMissingShippingAddress = errors.New("shipping_address is required")
	ErrMissingPaymentMethod   = errors.New("payment_method is required")
	ErrMissingPaymentID       = errors.New("payment_result.id is required")
	ErrTotalMismatch          = errors.New("total_price does not match the sum of price components")
	ErrProductNotFound        = errors.New("product not found")
	ErrCustomOrderNotBindable = errors.New("custom order cannot be added to an order in its current state")
	ErrInvalidStatus          = errors.New("invalid status")
	ErrOrderNotFound          = errors.New("order not found")
	ErrNotOrderOwner          = errors.New("order belongs to another user")
	ErrMissingCarrier         = errors.New("carrier is required")
	ErrMissingTrackingNumber  = errors.New("tracking_number is required")
	ErrMissingReturnReason    = errors.New("reason is required")
)

// OutOfStockError reports a requested quantity exceeding available stock.
// Requested aggregates duplicate items for the same product.
type OutOfStockError struct {
	ProductID uuid.UUID
	Available int32
	Requested int32
}

func (e *OutOfStockError) Error() string {
	return fmt.Sprintf("product %s out of stock: available %d, requested %d", e.ProductID, e.Available, e.Requested)
}

// CustomOrderNotFoundError reports a reference to a custom order that does not exist.
type CustomOrderNotFoundError struct {
	ID uuid.UUID
}

func (e *CustomOrderNotFoundError) Error() string {
	return fmt.Sprintf("custom order %s not found", e.ID)
}

// CustomOrderOwnershipError reports a custom order owned by a different user.
type CustomOrderOwnershipError struct {
	ID uuid.UUID
}

func (e *CustomOrderOwnershipError) Error() string {
	return fmt.Sprintf("custom order %s belongs to another user", e.ID)
}

// TxBeginner starts a new database transaction.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// OrderStore defines the DB methods needed by the order service.
// Satisfied by *database.Queries (and its WithTx variant).
type OrderStore interface {
	GetProductForUpdate(ctx context.Context, id uuid.UUID) (database.Product, error)
	DecrementProductStock(ctx context.Context, arg database.DecrementProductStockParams) (database.Product, error)
	GetCustomOrderForUpdate(ctx context.Context, id uuid.UUID) (database.CustomOrder, error)
	UpdateCustomOrderStatus(ctx context.Context, arg database.UpdateCustomOrderStatusParams) (database.CustomOrder, error)
	CreateOrder(ctx context.Context, arg database.CreateOrderParams) (database.Order, error)
	CreateOrderItem(ctx context.Context, arg database.CreateOrderItemParams) (database.OrderItem, error)
	AddOrderCustomOrderRef(ctx context.Context, arg database.AddOrderCustomOrderRefParams) error
	AppendUserOrderID(ctx context.Context, arg database.AppendUserOrderIDParams) (database.User, error)
	GetOrder(ctx context.Context, id uuid.UUID) (database.Order, error)
	GetOrderByIdempotencyKey(ctx context.Context, key pgtype.Text) (database.Order, error)
	ListOrderItemsByOrder(ctx context.Context, orderID uuid.UUID) ([]database.OrderItem, error)
	ListCustomOrderIDsByOrder(ctx context.Context, orderID uuid.UUID) ([]uuid.UUID, error)
	UpdateOrderStatus(ctx context.Context, arg database.UpdateOrderStatusParams) (database.Order, error)
	SetOrderTracking(ctx context.Context, arg database.SetOrderTrackingParams) (database.Order, error)
	SetOrderReturn(ctx context.Context, arg database.SetOrderReturnParams) (database.Order, error)
}

// NewOrderStore creates an OrderStore from a DBTX (pool or tx).
// This allows the service to create store instances from transactions.
type NewOrderStore func(db database.DBTX) OrderStore

// Notifier delivers the post-commit order confirmation. Failures are logged,
// never surfaced to the caller.
type Notifier interface {
	SendOrderConfirmation(ctx context.Context, order database.Order, items []database.OrderItem) error
}

// CreateOrderRequest is the validated input for creating an order.
// UserID is the authenticated principal, never a client-supplied field.
type CreateOrderRequest struct {
	UserID            uuid.UUID
	Items             []OrderItemRequest
	CustomOrderRefs   []string
	ShippingAddress   ShippingAddressRequest
	PaymentMethod     string
	PaymentResult     PaymentResultRequest
	ItemsPrice        decimal.Decimal
	CustomOrdersPrice decimal.Decimal
	ShippingPrice     decimal.Decimal
	TaxPrice          decimal.Decimal
	DiscountAmount    decimal.Decimal
	TotalPrice        decimal.Decimal
	IdempotencyKey    string
}

// OrderItemRequest is a single catalog item in the order.
type OrderItemRequest struct {
	ProductID string
	Quantity  int32
	Price     decimal.Decimal
	Size      string
	Color     string
}

// ShippingAddressRequest is where the order ships to.
type ShippingAddressRequest struct {
	Address    string
	City       string
	PostalCode string
	Country    string
}

// PaymentResultRequest is the opaque record of an externally-verified
// payment. This service never talks to a payment gateway.
type PaymentResultRequest struct {
	ID     string
	Amount decimal.Decimal
}

// CreateOrderResult is the persisted order with its items and custom order refs.
type CreateOrderResult struct {
	Order           database.Order
	Items           []database.OrderItem
	CustomOrderRefs []uuid.UUID
}

// OrderService handles order business logic.
type OrderService struct {
	pool     TxBeginner
	store    OrderStore
	newStore NewOrderStore
	notifier Notifier
}

// NewOrderService creates a new OrderService. store is pool-backed and used
// for single-statement operations; newStore builds transaction-scoped stores.
func NewOrderService(pool TxBeginner, store OrderStore, newStore NewOrderStore, notifier Notifier) *OrderService {
	return &OrderService{pool: pool, store: store, newStore: newStore, notifier: notifier}
}

// validatedOrder carries the parsed form of a create request.
type validatedOrder struct {
	orderType  string
	productIDs []uuid.UUID // parsed, parallel to req.Items
	refIDs     []uuid.UUID // parsed, deduplicated
}

// CreateOrder validates the request, then atomically decrements stock,
// confirms referenced custom orders, persists the order, and appends the
// order id to the user's order list. After commit it dispatches a
// confirmation notification without blocking the caller.
func (s *OrderService) CreateOrder(ctx context.Context, req CreateOrderRequest) (*CreateOrderResult, error) {
	v, err := validateCreateOrder(req)
	if err != nil {
		return nil, err
	}

	// A replayed submission with a known idempotency key returns the
	// already-created order instead of creating a duplicate.
	if req.IdempotencyKey != "" {
		existing, err := s.loadByIdempotencyKey(ctx, req.IdempotencyKey)
		if err == nil {
			return existing, nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("idempotency lookup: %w", err)
		}
	}

	// Retry loop: handles the order_number unique constraint race where
	// concurrent transactions generate the same number.
	var lastErr error
	for attempt := 0; attempt < maxOrderNumberRetries; attempt++ {
		result, err := s.createOrderTx(ctx, req, v)
		if err == nil {
			s.dispatchConfirmation(result)
			return result, nil
		}
		if isUniqueViolation(err, "orders_order_number_key") {
			lastErr = err
			continue
		}
		if req.IdempotencyKey != "" && isUniqueViolation(err, "orders_idempotency_key_key") {
			// Lost a race against a concurrent retry of the same submission.
			return s.loadByIdempotencyKey(ctx, req.IdempotencyKey)
		}
		return nil, err
	}
	return nil, lastErr
}

func validateCreateOrder(req CreateOrderRequest) (*validatedOrder, error) {
	if len(req.Items) == 0 && len(req.CustomOrderRefs) == 0 {
		return nil, ErrEmptyOrder
	}

	v := &validatedOrder{orderType: deriveOrderType(len(req.Items), len(req.CustomOrderRefs))}

	for i, item := range req.Items {
		productID, err := uuid.Parse(item.ProductID)
		if err != nil {
			return nil, fmt.Errorf("items[%d]: %w", i, ErrInvalidProductID)
		}
		if item.Quantity <= 0 {
			return nil, fmt.Errorf("items[%d]: %w", i, ErrInvalidQuantity)
		}
		if item.Size == "" {
			return nil, fmt.Errorf("items[%d]: %w", i, ErrMissingSize)
		}
		if item.Color == "" {
			return nil, fmt.Errorf("items[%d]: %w", i, ErrMissingColor)
		}
		if item.Price.IsNegative() {
			return nil, fmt.Errorf("items[%d].price: %w", i, ErrNegativePrice)
		}
		v.productIDs = append(v.productIDs, productID)
	}

	seen := make(map[uuid.UUID]bool)
	for i, ref := range req.CustomOrderRefs {
		refID, err := uuid.Parse(ref)
		if err != nil {
			return nil, fmt.Errorf("custom_order_refs[%d]: %w", i, ErrInvalidCustomOrderID)
		}
		if !seen[refID] {
			seen[refID] = true
			v.refIDs = append(v.refIDs, refID)
		}
	}

	if req.ShippingAddress.Address == "" {
		return nil, ErrMissingShippingAddress
	}
	if req.PaymentMethod == "" {
		return nil, ErrMissingPaymentMethod
	}
	if req.PaymentResult.ID == "" {
		return nil, ErrMissingPaymentID
	}

	// Every declared price field must be non-negative; the error names the field.
	prices := []struct {
		name  string
		value decimal.Decimal
	}{
		{"items_price", req.ItemsPrice},
		{"custom_orders_price", req.CustomOrdersPrice},
		{"shipping_price", req.ShippingPrice},
		{"tax_price", req.TaxPrice},
		{"discount_amount", req.DiscountAmount},
		{"total_price", req.TotalPrice},
		{"payment_result.amount", req.PaymentResult.Amount},
	}
	for _, p := range prices {
		if p.value.IsNegative() {
			return nil, fmt.Errorf("%s: %w", p.name, ErrNegativePrice)
		}
	}

	sum := req.ItemsPrice.Add(req.CustomOrdersPrice).Add(req.ShippingPrice).Add(req.TaxPrice).Sub(req.DiscountAmount)
	if sum.Sub(req.TotalPrice).Abs().GreaterThan(priceTolerance) {
		return nil, fmt.Errorf("total_price: %w", ErrTotalMismatch)
	}

	return v, nil
}

// deriveOrderType classifies the order from its contents. A client-supplied
// order type is never consulted.
func deriveOrderType(itemCount, refCount int) string {
	switch {
	case itemCount > 0 && refCount > 0:
		return enum.OrderTypeMixed
	case refCount > 0:
		return enum.OrderTypeCustom
	default:
		return enum.OrderTypeStandard
	}
}

// createOrderTx executes the full order creation in a single transaction,
// all reads before any write.
func (s *OrderService) createOrderTx(ctx context.Context, req CreateOrderRequest, v *validatedOrder) (*CreateOrderResult, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	store := s.newStore(tx)

	// --- Read and lock products; aggregate duplicate ids ---
	requested := make(map[uuid.UUID]int32)
	var distinct []uuid.UUID
	for i, item := range req.Items {
		pid := v.productIDs[i]
		if _, ok := requested[pid]; !ok {
			distinct = append(distinct, pid)
		}
		requested[pid] += item.Quantity
	}

	for _, pid := range distinct {
		product, err := store.GetProductForUpdate(ctx, pid)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil, fmt.Errorf("product %s: %w", pid, ErrProductNotFound)
			}
			return nil, fmt.Errorf("get product %s: %w", pid, err)
		}
		if product.CountInStock < requested[pid] {
			return nil, &OutOfStockError{
				ProductID: pid,
				Available: product.CountInStock,
				Requested: requested[pid],
			}
		}
	}

	// --- Read and lock custom orders; check ownership ---
	for _, refID := range v.refIDs {
		ref, err := store.GetCustomOrderForUpdate(ctx, refID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil, &CustomOrderNotFoundError{ID: refID}
			}
			return nil, fmt.Errorf("get custom order %s: %w", refID, err)
		}
		if ref.UserID != req.UserID {
			return nil, &CustomOrderOwnershipError{ID: refID}
		}
		if ref.Status != enum.CustomOrderStatusConsultation {
			return nil, fmt.Errorf("custom order %s: %w", refID, ErrCustomOrderNotBindable)
		}
	}

	// --- All invariants hold; now write ---
	for _, pid := range distinct {
		if _, err := store.DecrementProductStock(ctx, database.DecrementProductStockParams{
			ID:       pid,
			Quantity: requested[pid],
		}); err != nil {
			return nil, fmt.Errorf("decrement stock %s: %w", pid, err)
		}
	}

	for _, refID := range v.refIDs {
		if _, err := store.UpdateCustomOrderStatus(ctx, database.UpdateCustomOrderStatusParams{
			ID:     refID,
			Status: enum.CustomOrderStatusConfirmed,
		}); err != nil {
			return nil, fmt.Errorf("confirm custom order %s: %w", refID, err)
		}
	}

	idempotencyKey := pgtype.Text{}
	if req.IdempotencyKey != "" {
		idempotencyKey = pgtype.Text{String: req.IdempotencyKey, Valid: true}
	}

	order, err := store.CreateOrder(ctx, database.CreateOrderParams{
		OrderNumber:        generateOrderNumber(),
		UserID:             req.UserID,
		OrderType:          v.orderType,
		Status:             enum.OrderStatusConfirmed,
		ShippingAddress:    req.ShippingAddress.Address,
		ShippingCity:       req.ShippingAddress.City,
		ShippingPostalCode: req.ShippingAddress.PostalCode,
		ShippingCountry:    req.ShippingAddress.Country,
		PaymentMethod:      req.PaymentMethod,
		PaymentID:          req.PaymentResult.ID,
		PaymentAmount:      decimalToNumeric(req.PaymentResult.Amount),
		ItemsPrice:         decimalToNumeric(req.ItemsPrice),
		CustomOrdersPrice:  decimalToNumeric(req.CustomOrdersPrice),
		ShippingPrice:      decimalToNumeric(req.ShippingPrice),
		TaxPrice:           decimalToNumeric(req.TaxPrice),
		DiscountAmount:     decimalToNumeric(req.DiscountAmount),
		TotalPrice:         decimalToNumeric(req.TotalPrice),
		IdempotencyKey:     idempotencyKey,
	})
	if err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}

	var items []database.OrderItem
	for i, item := range req.Items {
		created, err := store.CreateOrderItem(ctx, database.CreateOrderItemParams{
			OrderID:   order.ID,
			ProductID: v.productIDs[i],
			Quantity:  item.Quantity,
			Price:     decimalToNumeric(item.Price),
			Size:      item.Size,
			Color:     item.Color,
		})
		if err != nil {
			return nil, fmt.Errorf("create order item: %w", err)
		}
		items = append(items, created)
	}

	for _, refID := range v.refIDs {
		if err := store.AddOrderCustomOrderRef(ctx, database.AddOrderCustomOrderRefParams{
			OrderID:       order.ID,
			CustomOrderID: refID,
		}); err != nil {
			return nil, fmt.Errorf("add custom order ref: %w", err)
		}
	}

	if _, err := store.AppendUserOrderID(ctx, database.AppendUserOrderIDParams{
		ID:      req.UserID,
		OrderID: order.ID,
	}); err != nil {
		return nil, fmt.Errorf("append order to user: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}

	return &CreateOrderResult{
		Order:           order,
		Items:           items,
		CustomOrderRefs: v.refIDs,
	}, nil
}

// dispatchConfirmation sends the confirmation notification outside the
// transaction. The caller never waits on it and it can never fail the order.
func (s *OrderService) dispatchConfirmation(result *CreateOrderResult) {
	if s.notifier == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.notifier.SendOrderConfirmation(ctx, result.Order, result.Items); err != nil {
			log.Printf("WARN: order confirmation for %s failed: %v", result.Order.OrderNumber, err)
		}
	}()
}

func (s *OrderService) loadByIdempotencyKey(ctx context.Context, key string) (*CreateOrderResult, error) {
	order, err := s.store.GetOrderByIdempotencyKey(ctx, pgtype.Text{String: key, Valid: true})
	if err != nil {
		return nil, err
	}
	items, err := s.store.ListOrderItemsByOrder(ctx, order.ID)
	if err != nil {
		return nil, fmt.Errorf("list order items: %w", err)
	}
	refs, err := s.store.ListCustomOrderIDsByOrder(ctx, order.ID)
	if err != nil {
		return nil, fmt.Errorf("list custom order refs: %w", err)
	}
	return &CreateOrderResult{Order: order, Items: items, CustomOrderRefs: refs}, nil
}

// UpdateStatus sets the order status. The transition timestamp for the new
// state is stamped on first entry only; repeated transitions never overwrite
// it. Role checks happen at the HTTP layer.
func (s *OrderService) UpdateStatus(ctx context.Context, orderID uuid.UUID, newStatus string) (database.Order, error) {
	if !isValidOrderStatus(newStatus) {
		return database.Order{}, fmt.Errorf("status %q: %w", newStatus, ErrInvalidStatus)
	}
	order, err := s.store.UpdateOrderStatus(ctx, database.UpdateOrderStatusParams{
		ID:     orderID,
		Status: newStatus,
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return database.Order{}, ErrOrderNotFound
		}
		return database.Order{}, fmt.Errorf("update order status: %w", err)
	}
	return order, nil
}

// AddTracking records the carrier and tracking number and moves the order to
// SHIPPED, stamping shipped_at if this is the first entry into that state.
func (s *OrderService) AddTracking(ctx context.Context, orderID uuid.UUID, carrier, trackingNumber string) (database.Order, error) {
	if carrier == "" {
		return database.Order{}, ErrMissingCarrier
	}
	if trackingNumber == "" {
		return database.Order{}, ErrMissingTrackingNumber
	}
	order, err := s.store.SetOrderTracking(ctx, database.SetOrderTrackingParams{
		ID:              orderID,
		ShippingCarrier: carrier,
		TrackingNumber:  trackingNumber,
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return database.Order{}, ErrOrderNotFound
		}
		return database.Order{}, fmt.Errorf("set order tracking: %w", err)
	}
	return order, nil
}

// RequestReturn flags the order for return. Only the owning user may request
// one; the order status itself is unchanged.
func (s *OrderService) RequestReturn(ctx context.Context, orderID, userID uuid.UUID, reason string) (database.Order, error) {
	if reason == "" {
		return database.Order{}, ErrMissingReturnReason
	}
	order, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return database.Order{}, ErrOrderNotFound
		}
		return database.Order{}, fmt.Errorf("get order: %w", err)
	}
	if order.UserID != userID {
		return database.Order{}, ErrNotOrderOwner
	}
	updated, err := s.store.SetOrderReturn(ctx, database.SetOrderReturnParams{
		ID:           orderID,
		ReturnReason: reason,
	})
	if err != nil {
		return database.Order{}, fmt.Errorf("set order return: %w", err)
	}
	return updated, nil
}

// --- Helpers ---

func isValidOrderStatus(s string) bool {
	switch s {
	case enum.OrderStatusPending, enum.OrderStatusConfirmed, enum.OrderStatusProcessing,
		enum.OrderStatusReadyToShip, enum.OrderStatusShipped, enum.OrderStatusDelivered,
		enum.OrderStatusCancelled, enum.OrderStatusReturned:
		return true
	}
	return false
}

// generateOrderNumber builds a human-readable order number from a timestamp
// and a random suffix. Uniqueness is enforced by the DB; collisions retry.
func generateOrderNumber() string {
	return fmt.Sprintf("ATL-%s-%04d", time.Now().UTC().Format("20060102150405"), rand.Intn(10000))
}

// isUniqueViolation checks for a unique constraint violation on the named
// constraint (pgconn error code 23505).
func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" && pgErr.ConstraintName == constraint
	}
	return false
}

func decimalToNumeric(d decimal.Decimal) pgtype.Numeric {
	var n pgtype.Numeric
	_ = n.Scan(d.StringFixed(2))
	return n
}
