package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"

	"github.com/velora-atelier/api/internal/database"
	"github.com/velora-atelier/api/internal/enum"
	"github.com/velora-atelier/api/internal/middleware"
	"github.com/velora-atelier/api/internal/service"
	"github.com/velora-atelier/api/internal/ws"
)

// OrderServicer is the business-logic surface the order handlers call.
// Satisfied by *service.OrderService.
type OrderServicer interface {
	CreateOrder(ctx context.Context, req service.CreateOrderRequest) (*service.CreateOrderResult, error)
	UpdateStatus(ctx context.Context, orderID uuid.UUID, newStatus string) (database.Order, error)
	AddTracking(ctx context.Context, orderID uuid.UUID, carrier, trackingNumber string) (database.Order, error)
	RequestReturn(ctx context.Context, orderID, userID uuid.UUID, reason string) (database.Order, error)
}

// OrderReadStore covers the read-only order queries the handlers use directly.
type OrderReadStore interface {
	GetOrder(ctx context.Context, id uuid.UUID) (database.Order, error)
	ListOrdersByUser(ctx context.Context, arg database.ListOrdersByUserParams) ([]database.Order, error)
	ListOrders(ctx context.Context, arg database.ListOrdersParams) ([]database.Order, error)
	ListOrderItemsByOrder(ctx context.Context, orderID uuid.UUID) ([]database.OrderItem, error)
	ListCustomOrderIDsByOrder(ctx context.Context, orderID uuid.UUID) ([]uuid.UUID, error)
}

type OrderHandler struct {
	svc   OrderServicer
	store OrderReadStore
	hub   *ws.Hub
}

func NewOrderHandler(svc OrderServicer, store OrderReadStore, hub *ws.Hub) *OrderHandler {
	return &OrderHandler{svc: svc, store: store, hub: hub}
}

func (h *OrderHandler) RegisterRoutes(r chi.Router) {
	r.Post("/", h.Create)
	r.Get("/mine", h.ListMine)
	r.Get("/{id}", h.Get)
	r.Post("/{id}/return", h.RequestReturn)
}

func (h *OrderHandler) RegisterStaffRoutes(r chi.Router) {
	r.Get("/", h.List)
	r.Put("/{id}/status", h.UpdateStatus)
	r.Put("/{id}/tracking", h.AddTracking)
	r.Put("/{id}/deliver", h.MarkDelivered)
}

type createOrderItemRequest struct {
	ProductID string          `json:"product_id"`
	Quantity  int32           `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
	Size      string          `json:"size"`
	Color     string          `json:"color"`
}

type shippingAddressRequest struct {
	Address    string `json:"address"`
	City       string `json:"city"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
}

type paymentResultRequest struct {
	ID     string          `json:"id"`
	Amount decimal.Decimal `json:"amount"`
}

type createOrderRequest struct {
	UserID            string                   `json:"user_id"`
	Items             []createOrderItemRequest `json:"items"`
	CustomOrderRefs   []string                 `json:"custom_order_refs"`
	ShippingAddress   shippingAddressRequest   `json:"shipping_address"`
	PaymentMethod     string                   `json:"payment_method"`
	PaymentResult     paymentResultRequest     `json:"payment_result"`
	ItemsPrice        decimal.Decimal          `json:"items_price"`
	CustomOrdersPrice decimal.Decimal          `json:"custom_orders_price"`
	ShippingPrice     decimal.Decimal          `json:"shipping_price"`
	TaxPrice          decimal.Decimal          `json:"tax_price"`
	DiscountAmount    decimal.Decimal          `json:"discount_amount"`
	TotalPrice        decimal.Decimal          `json:"total_price"`
}

type updateStatusRequest struct {
	Status string `json:"status"`
}

type addTrackingRequest struct {
	Carrier        string `json:"carrier"`
	TrackingNumber string `json:"tracking_number"`
}

type requestReturnRequest struct {
	Reason string `json:"reason"`
}

type orderItemResponse struct {
	ID        uuid.UUID `json:"id"`
	ProductID uuid.UUID `json:"product_id"`
	Quantity  int32     `json:"quantity"`
	Price     string    `json:"price"`
	Size      string    `json:"size"`
	Color     string    `json:"color"`
}

type shippingAddressResponse struct {
	Address    string `json:"address"`
	City       string `json:"city"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
}

type orderResponse struct {
	ID                uuid.UUID               `json:"id"`
	OrderNumber       string                  `json:"order_number"`
	UserID            uuid.UUID               `json:"user_id"`
	OrderType         string                  `json:"order_type"`
	Status            string                  `json:"status"`
	ShippingAddress   shippingAddressResponse `json:"shipping_address"`
	PaymentMethod     string                  `json:"payment_method"`
	PaymentID         string                  `json:"payment_id"`
	PaymentAmount     string                  `json:"payment_amount"`
	ItemsPrice        string                  `json:"items_price"`
	CustomOrdersPrice string                  `json:"custom_orders_price"`
	ShippingPrice     string                  `json:"shipping_price"`
	TaxPrice          string                  `json:"tax_price"`
	DiscountAmount    string                  `json:"discount_amount"`
	TotalPrice        string                  `json:"total_price"`
	TrackingNumber    string                  `json:"tracking_number,omitempty"`
	ShippingCarrier   string                  `json:"shipping_carrier,omitempty"`
	ReturnRequested   bool                    `json:"return_requested"`
	ReturnReason      string                  `json:"return_reason,omitempty"`
	ReturnStatus      string                  `json:"return_status,omitempty"`
	ConfirmedAt       *time.Time              `json:"confirmed_at,omitempty"`
	ShippedAt         *time.Time              `json:"shipped_at,omitempty"`
	DeliveredAt       *time.Time              `json:"delivered_at,omitempty"`
	CancelledAt       *time.Time              `json:"cancelled_at,omitempty"`
	CreatedAt         time.Time               `json:"created_at"`
	UpdatedAt         time.Time               `json:"updated_at"`
	Items             []orderItemResponse     `json:"items"`
	CustomOrderRefs   []uuid.UUID             `json:"custom_order_refs"`
}

func toOrderItemResponse(it database.OrderItem) orderItemResponse {
	return orderItemResponse{
		ID:        it.ID,
		ProductID: it.ProductID,
		Quantity:  it.Quantity,
		Price:     numericToString(it.Price),
		Size:      it.Size,
		Color:     it.Color,
	}
}

func toOrderResponse(o database.Order, items []database.OrderItem, refs []uuid.UUID) orderResponse {
	resp := orderResponse{
		ID:          o.ID,
		OrderNumber: o.OrderNumber,
		UserID:      o.UserID,
		OrderType:   o.OrderType,
		Status:      o.Status,
		ShippingAddress: shippingAddressResponse{
			Address:    o.ShippingAddress,
			City:       o.ShippingCity,
			PostalCode: o.ShippingPostalCode,
			Country:    o.ShippingCountry,
		},
		PaymentMethod:     o.PaymentMethod,
		PaymentID:         o.PaymentID,
		PaymentAmount:     numericToString(o.PaymentAmount),
		ItemsPrice:        numericToString(o.ItemsPrice),
		CustomOrdersPrice: numericToString(o.CustomOrdersPrice),
		ShippingPrice:     numericToString(o.ShippingPrice),
		TaxPrice:          numericToString(o.TaxPrice),
		DiscountAmount:    numericToString(o.DiscountAmount),
		TotalPrice:        numericToString(o.TotalPrice),
		TrackingNumber:    o.TrackingNumber.String,
		ShippingCarrier:   o.ShippingCarrier.String,
		ReturnRequested:   o.ReturnRequested,
		ReturnReason:      o.ReturnReason.String,
		ReturnStatus:      o.ReturnStatus.String,
		ConfirmedAt:       timestampPtr(o.ConfirmedAt),
		ShippedAt:         timestampPtr(o.ShippedAt),
		DeliveredAt:       timestampPtr(o.DeliveredAt),
		CancelledAt:       timestampPtr(o.CancelledAt),
		CreatedAt:         o.CreatedAt,
		UpdatedAt:         o.UpdatedAt,
		Items:             []orderItemResponse{},
		CustomOrderRefs:   refs,
	}
	for _, it := range items {
		resp.Items = append(resp.Items, toOrderItemResponse(it))
	}
	if resp.CustomOrderRefs == nil {
		resp.CustomOrderRefs = []uuid.UUID{}
	}
	return resp
}

func timestampPtr(ts pgtype.Timestamptz) *time.Time {
	if !ts.Valid {
		return nil
	}
	t := ts.Time
	return &t
}

func (h *OrderHandler) Create(w http.ResponseWriter, r *http.Request) {
	claims := middleware.ClaimsFromContext(r.Context())
	if claims == nil {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	// The order always belongs to the authenticated user. A mismatched
	// user_id in the body is rejected rather than silently overridden.
	if req.UserID != "" && req.UserID != claims.UserID.String() {
		writeError(w, http.StatusForbidden, "cannot create an order for another user")
		return
	}

	svcReq := service.CreateOrderRequest{
		UserID:          claims.UserID,
		CustomOrderRefs: req.CustomOrderRefs,
		ShippingAddress: service.ShippingAddressRequest{
			Address:    strings.TrimSpace(req.ShippingAddress.Address),
			City:       strings.TrimSpace(req.ShippingAddress.City),
			PostalCode: strings.TrimSpace(req.ShippingAddress.PostalCode),
			Country:    strings.TrimSpace(req.ShippingAddress.Country),
		},
		PaymentMethod: req.PaymentMethod,
		PaymentResult: service.PaymentResultRequest{
			ID:     req.PaymentResult.ID,
			Amount: req.PaymentResult.Amount,
		},
		ItemsPrice:        req.ItemsPrice,
		CustomOrdersPrice: req.CustomOrdersPrice,
		ShippingPrice:     req.ShippingPrice,
		TaxPrice:          req.TaxPrice,
		DiscountAmount:    req.DiscountAmount,
		TotalPrice:        req.TotalPrice,
		IdempotencyKey:    strings.TrimSpace(r.Header.Get("Idempotency-Key")),
	}
	for _, item := range req.Items {
		svcReq.Items = append(svcReq.Items, service.OrderItemRequest{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			Price:     item.Price,
			Size:      item.Size,
			Color:     item.Color,
		})
	}

	result, err := h.svc.CreateOrder(r.Context(), svcReq)
	if err != nil {
		h.writeCreateError(w, err)
		return
	}

	h.broadcast(result.Order, "order.created")
	writeData(w, http.StatusCreated, toOrderResponse(result.Order, result.Items, result.CustomOrderRefs))
}

func (h *OrderHandler) writeCreateError(w http.ResponseWriter, err error) {
	var outOfStock *service.OutOfStockError
	var refNotFound *service.CustomOrderNotFoundError
	var refOwnership *service.CustomOrderOwnershipError
	switch {
	case errors.As(err, &outOfStock):
		writeError(w, http.StatusConflict, outOfStock.Error())
	case errors.As(err, &refNotFound):
		writeError(w, http.StatusNotFound, refNotFound.Error())
	case errors.As(err, &refOwnership):
		writeError(w, http.StatusForbidden, refOwnership.Error())
	case errors.Is(err, service.ErrProductNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, service.ErrCustomOrderNotBindable):
		writeError(w, http.StatusConflict, err.Error())
	case isValidationError(err):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		log.Printf("ERROR: create order: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to create order")
	}
}

// isValidationError reports whether err is one of the request-shape errors
// that map to a 400.
func isValidationError(err error) bool {
	for _, target := range []error{
		service.ErrEmptyOrder,
		service.ErrInvalidProductID,
		service.ErrInvalidQuantity,
		service.ErrMissingSize,
		service.ErrMissingColor,
		service.ErrNegativePrice,
		service.ErrInvalidCustomOrderID,
		service.ErrMissingShippingAddress,
		service.ErrMissingPaymentMethod,
		service.ErrMissingPaymentID,
		service.ErrTotalMismatch,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func (h *OrderHandler) Get(w http.ResponseWriter, r *http.Request) {
	claims := middleware.ClaimsFromContext(r.Context())
	if claims == nil {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid order id")
		return
	}

	order, err := h.store.GetOrder(r.Context(), id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeError(w, http.StatusNotFound, "order not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to load order")
		return
	}

	if order.UserID != claims.UserID && !requireStaff(r) {
		writeError(w, http.StatusForbidden, "order belongs to another user")
		return
	}

	h.respondWithOrder(w, r, http.StatusOK, order)
}

func (h *OrderHandler) ListMine(w http.ResponseWriter, r *http.Request) {
	claims := middleware.ClaimsFromContext(r.Context())
	if claims == nil {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	filters, msg := parseOrderFilters(r)
	if msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	orders, err := h.store.ListOrdersByUser(r.Context(), database.ListOrdersByUserParams{
		UserID:    claims.UserID,
		Status:    filters.status,
		OrderType: filters.orderType,
		StartDate: filters.startDate,
		EndDate:   filters.endDate,
		Limit:     filters.limit,
		Offset:    filters.offset,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list orders")
		return
	}

	h.respondWithOrderList(w, r, orders)
}

func (h *OrderHandler) List(w http.ResponseWriter, r *http.Request) {
	filters, msg := parseOrderFilters(r)
	if msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	orders, err := h.store.ListOrders(r.Context(), database.ListOrdersParams{
		Status:    filters.status,
		OrderType: filters.orderType,
		StartDate: filters.startDate,
		EndDate:   filters.endDate,
		Limit:     filters.limit,
		Offset:    filters.offset,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list orders")
		return
	}

	h.respondWithOrderList(w, r, orders)
}

func (h *OrderHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid order id")
		return
	}

	var req updateStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	order, err := h.svc.UpdateStatus(r.Context(), id, req.Status)
	if err != nil {
		h.writeMutationError(w, err)
		return
	}

	h.broadcast(order, "order.status_updated")
	h.respondWithOrder(w, r, http.StatusOK, order)
}

func (h *OrderHandler) AddTracking(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid order id")
		return
	}

	var req addTrackingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	order, err := h.svc.AddTracking(r.Context(), id, strings.TrimSpace(req.Carrier), strings.TrimSpace(req.TrackingNumber))
	if err != nil {
		h.writeMutationError(w, err)
		return
	}

	h.broadcast(order, "order.status_updated")
	h.respondWithOrder(w, r, http.StatusOK, order)
}

func (h *OrderHandler) MarkDelivered(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid order id")
		return
	}

	order, err := h.svc.UpdateStatus(r.Context(), id, enum.OrderStatusDelivered)
	if err != nil {
		h.writeMutationError(w, err)
		return
	}

	h.broadcast(order, "order.status_updated")
	h.respondWithOrder(w, r, http.StatusOK, order)
}

func (h *OrderHandler) RequestReturn(w http.ResponseWriter, r *http.Request) {
	claims := middleware.ClaimsFromContext(r.Context())
	if claims == nil {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid order id")
		return
	}

	var req requestReturnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	order, err := h.svc.RequestReturn(r.Context(), id, claims.UserID, strings.TrimSpace(req.Reason))
	if err != nil {
		h.writeMutationError(w, err)
		return
	}

	h.broadcast(order, "order.return_requested")
	h.respondWithOrder(w, r, http.StatusOK, order)
}

func (h *OrderHandler) writeMutationError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrOrderNotFound):
		writeError(w, http.StatusNotFound, "order not found")
	case errors.Is(err, service.ErrNotOrderOwner):
		writeError(w, http.StatusForbidden, "order belongs to another user")
	case errors.Is(err, service.ErrInvalidStatus),
		errors.Is(err, service.ErrMissingCarrier),
		errors.Is(err, service.ErrMissingTrackingNumber),
		errors.Is(err, service.ErrMissingReturnReason):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		log.Printf("ERROR: order mutation: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to update order")
	}
}

func (h *OrderHandler) respondWithOrder(w http.ResponseWriter, r *http.Request, status int, order database.Order) {
	items, err := h.store.ListOrderItemsByOrder(r.Context(), order.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load order items")
		return
	}
	refs, err := h.store.ListCustomOrderIDsByOrder(r.Context(), order.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load order references")
		return
	}
	writeData(w, status, toOrderResponse(order, items, refs))
}

// respondWithOrderList returns summaries without per-order item lookups.
func (h *OrderHandler) respondWithOrderList(w http.ResponseWriter, r *http.Request, orders []database.Order) {
	out := make([]orderResponse, 0, len(orders))
	for _, o := range orders {
		out = append(out, toOrderResponse(o, nil, nil))
	}
	writeData(w, http.StatusOK, out)
}

type orderFilters struct {
	status    pgtype.Text
	orderType pgtype.Text
	startDate pgtype.Timestamptz
	endDate   pgtype.Timestamptz
	limit     int32
	offset    int32
}

func parseOrderFilters(r *http.Request) (orderFilters, string) {
	q := r.URL.Query()
	var f orderFilters

	if raw := strings.TrimSpace(q.Get("status")); raw != "" {
		f.status = pgtype.Text{String: raw, Valid: true}
	}
	if raw := strings.TrimSpace(q.Get("type")); raw != "" {
		f.orderType = pgtype.Text{String: raw, Valid: true}
	}
	if raw := q.Get("start_date"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return f, "start_date must be RFC 3339"
		}
		f.startDate = pgtype.Timestamptz{Time: t, Valid: true}
	}
	if raw := q.Get("end_date"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return f, "end_date must be RFC 3339"
		}
		f.endDate = pgtype.Timestamptz{Time: t, Valid: true}
	}
	f.limit, f.offset = parsePagination(q, 20)
	return f, ""
}

type orderEventPayload struct {
	OrderID     uuid.UUID `json:"order_id"`
	OrderNumber string    `json:"order_number"`
	Status      string    `json:"status"`
}

func (h *OrderHandler) broadcast(order database.Order, eventType string) {
	if h.hub == nil {
		return
	}
	payload, err := json.Marshal(orderEventPayload{
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		Status:      order.Status,
	})
	if err != nil {
		return
	}
	h.hub.BroadcastOrderEvent(order.UserID, ws.Event{Type: eventType, Payload: payload})
}
