package handler

import (
	"context"
	"encoding/json"
	"errors"
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
)

// CustomOrderStore covers the consultation queries the custom-order handlers need.
type CustomOrderStore interface {
	CreateCustomOrder(ctx context.Context, arg database.CreateCustomOrderParams) (database.CustomOrder, error)
	GetCustomOrder(ctx context.Context, id uuid.UUID) (database.CustomOrder, error)
	ListCustomOrdersByUser(ctx context.Context, userID uuid.UUID) ([]database.CustomOrder, error)
	ListCustomOrders(ctx context.Context, arg database.ListCustomOrdersParams) ([]database.CustomOrder, error)
	UpdateCustomOrderStatus(ctx context.Context, arg database.UpdateCustomOrderStatusParams) (database.CustomOrder, error)
}

type CustomOrderHandler struct {
	store CustomOrderStore
}

func NewCustomOrderHandler(store CustomOrderStore) *CustomOrderHandler {
	return &CustomOrderHandler{store: store}
}

func (h *CustomOrderHandler) RegisterRoutes(r chi.Router) {
	r.Post("/", h.Create)
	r.Get("/mine", h.ListMine)
	r.Get("/{id}", h.Get)
}

func (h *CustomOrderHandler) RegisterStaffRoutes(r chi.Router) {
	r.Get("/", h.List)
	r.Patch("/{id}/status", h.UpdateStatus)
}

// customOrderTransitions maps each status to the statuses it may move to.
// Transitions only move forward; COMPLETED and CANCELLED are terminal.
var customOrderTransitions = map[string][]string{
	enum.CustomOrderStatusConsultation: {enum.CustomOrderStatusConfirmed, enum.CustomOrderStatusCancelled},
	enum.CustomOrderStatusConfirmed:    {enum.CustomOrderStatusInProgress, enum.CustomOrderStatusCancelled},
	enum.CustomOrderStatusInProgress:   {enum.CustomOrderStatusCompleted, enum.CustomOrderStatusCancelled},
}

func canTransitionCustomOrder(from, to string) bool {
	for _, allowed := range customOrderTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

func isValidCustomOrderStatus(s string) bool {
	switch s {
	case enum.CustomOrderStatusConsultation, enum.CustomOrderStatusConfirmed,
		enum.CustomOrderStatusInProgress, enum.CustomOrderStatusCompleted,
		enum.CustomOrderStatusCancelled:
		return true
	}
	return false
}

type createCustomOrderRequest struct {
	Description  string `json:"description"`
	Measurements string `json:"measurements"`
	FabricNotes  string `json:"fabric_notes"`
}

type updateCustomOrderStatusRequest struct {
	Status      string `json:"status"`
	QuotedPrice string `json:"quoted_price"`
}

type customOrderResponse struct {
	ID           uuid.UUID `json:"id"`
	UserID       uuid.UUID `json:"user_id"`
	Status       string    `json:"status"`
	Description  string    `json:"description"`
	Measurements string    `json:"measurements,omitempty"`
	FabricNotes  string    `json:"fabric_notes,omitempty"`
	QuotedPrice  string    `json:"quoted_price,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func toCustomOrderResponse(c database.CustomOrder) customOrderResponse {
	resp := customOrderResponse{
		ID:           c.ID,
		UserID:       c.UserID,
		Status:       c.Status,
		Description:  c.Description,
		Measurements: c.Measurements.String,
		FabricNotes:  c.FabricNotes.String,
		CreatedAt:    c.CreatedAt,
		UpdatedAt:    c.UpdatedAt,
	}
	if c.QuotedPrice.Valid {
		resp.QuotedPrice = numericToString(c.QuotedPrice)
	}
	return resp
}

func (h *CustomOrderHandler) Create(w http.ResponseWriter, r *http.Request) {
	claims := middleware.ClaimsFromContext(r.Context())
	if claims == nil {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var req createCustomOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Description) == "" {
		writeError(w, http.StatusBadRequest, "description is required")
		return
	}

	created, err := h.store.CreateCustomOrder(r.Context(), database.CreateCustomOrderParams{
		UserID:       claims.UserID,
		Description:  strings.TrimSpace(req.Description),
		Measurements: optionalText(req.Measurements),
		FabricNotes:  optionalText(req.FabricNotes),
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create custom order")
		return
	}

	writeData(w, http.StatusCreated, toCustomOrderResponse(created))
}

func (h *CustomOrderHandler) ListMine(w http.ResponseWriter, r *http.Request) {
	claims := middleware.ClaimsFromContext(r.Context())
	if claims == nil {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	orders, err := h.store.ListCustomOrdersByUser(r.Context(), claims.UserID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list custom orders")
		return
	}

	out := make([]customOrderResponse, 0, len(orders))
	for _, c := range orders {
		out = append(out, toCustomOrderResponse(c))
	}
	writeData(w, http.StatusOK, out)
}

func (h *CustomOrderHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var status pgtype.Text
	if raw := strings.TrimSpace(q.Get("status")); raw != "" {
		if !isValidCustomOrderStatus(raw) {
			writeError(w, http.StatusBadRequest, "unknown status filter")
			return
		}
		status = pgtype.Text{String: raw, Valid: true}
	}

	limit, offset := parsePagination(q, 20)

	orders, err := h.store.ListCustomOrders(r.Context(), database.ListCustomOrdersParams{
		Status: status,
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list custom orders")
		return
	}

	out := make([]customOrderResponse, 0, len(orders))
	for _, c := range orders {
		out = append(out, toCustomOrderResponse(c))
	}
	writeData(w, http.StatusOK, out)
}

func (h *CustomOrderHandler) Get(w http.ResponseWriter, r *http.Request) {
	claims := middleware.ClaimsFromContext(r.Context())
	if claims == nil {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid custom order id")
		return
	}

	order, err := h.store.GetCustomOrder(r.Context(), id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeError(w, http.StatusNotFound, "custom order not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to load custom order")
		return
	}

	if order.UserID != claims.UserID && !requireStaff(r) {
		writeError(w, http.StatusForbidden, "custom order belongs to another user")
		return
	}

	writeData(w, http.StatusOK, toCustomOrderResponse(order))
}

func (h *CustomOrderHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid custom order id")
		return
	}

	var req updateCustomOrderStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if !isValidCustomOrderStatus(req.Status) {
		writeError(w, http.StatusBadRequest, "unknown status")
		return
	}

	var quoted pgtype.Numeric
	if req.QuotedPrice != "" {
		price, err := decimal.NewFromString(req.QuotedPrice)
		if err != nil || price.IsNegative() {
			writeError(w, http.StatusBadRequest, "quoted_price must be a non-negative decimal string")
			return
		}
		quoted = decimalToNumeric(price)
	}

	current, err := h.store.GetCustomOrder(r.Context(), id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeError(w, http.StatusNotFound, "custom order not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to load custom order")
		return
	}

	if !canTransitionCustomOrder(current.Status, req.Status) {
		writeError(w, http.StatusConflict, "cannot move custom order from "+current.Status+" to "+req.Status)
		return
	}

	updated, err := h.store.UpdateCustomOrderStatus(r.Context(), database.UpdateCustomOrderStatusParams{
		ID:          id,
		Status:      req.Status,
		QuotedPrice: quoted,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to update custom order")
		return
	}

	writeData(w, http.StatusOK, toCustomOrderResponse(updated))
}
