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

// ProductStore covers the catalog queries the product handlers need.
type ProductStore interface {
	CreateProduct(ctx context.Context, arg database.CreateProductParams) (database.Product, error)
	GetProduct(ctx context.Context, id uuid.UUID) (database.Product, error)
	ListProducts(ctx context.Context, arg database.ListProductsParams) ([]database.Product, error)
	UpdateProduct(ctx context.Context, arg database.UpdateProductParams) (database.Product, error)
	DeactivateProduct(ctx context.Context, id uuid.UUID) (database.Product, error)
}

type ProductHandler struct {
	store ProductStore
}

func NewProductHandler(store ProductStore) *ProductHandler {
	return &ProductHandler{store: store}
}

func (h *ProductHandler) RegisterRoutes(r chi.Router) {
	r.Get("/", h.List)
	r.Get("/{id}", h.Get)
}

func (h *ProductHandler) RegisterStaffRoutes(r chi.Router) {
	r.Post("/", h.Create)
	r.Put("/{id}", h.Update)
	r.Delete("/{id}", h.Delete)
}

type productRequest struct {
	Name         string   `json:"name"`
	Description  string   `json:"description"`
	Category     string   `json:"category"`
	ImageURL     string   `json:"image_url"`
	Price        string   `json:"price"`
	CountInStock int32    `json:"count_in_stock"`
	Sizes        []string `json:"sizes"`
	Colors       []string `json:"colors"`
}

type productResponse struct {
	ID           uuid.UUID `json:"id"`
	Name         string    `json:"name"`
	Description  string    `json:"description,omitempty"`
	Category     string    `json:"category,omitempty"`
	ImageURL     string    `json:"image_url,omitempty"`
	Price        string    `json:"price"`
	CountInStock int32     `json:"count_in_stock"`
	Sizes        []string  `json:"sizes"`
	Colors       []string  `json:"colors"`
	IsActive     bool      `json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func toProductResponse(p database.Product) productResponse {
	return productResponse{
		ID:           p.ID,
		Name:         p.Name,
		Description:  p.Description.String,
		Category:     p.Category.String,
		ImageURL:     p.ImageUrl.String,
		Price:        numericToString(p.Price),
		CountInStock: p.CountInStock,
		Sizes:        p.Sizes,
		Colors:       p.Colors,
		IsActive:     p.IsActive,
		CreatedAt:    p.CreatedAt,
		UpdatedAt:    p.UpdatedAt,
	}
}

func (h *ProductHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, offset := parsePagination(q, 20)

	var category pgtype.Text
	if raw := strings.TrimSpace(q.Get("category")); raw != "" {
		category = pgtype.Text{String: raw, Valid: true}
	}

	products, err := h.store.ListProducts(r.Context(), database.ListProductsParams{
		Category: category,
		Limit:    limit,
		Offset:   offset,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list products")
		return
	}

	out := make([]productResponse, 0, len(products))
	for _, p := range products {
		out = append(out, toProductResponse(p))
	}
	writeData(w, http.StatusOK, out)
}

func (h *ProductHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid product id")
		return
	}

	product, err := h.store.GetProduct(r.Context(), id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeError(w, http.StatusNotFound, "product not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to load product")
		return
	}

	writeData(w, http.StatusOK, toProductResponse(product))
}

func (h *ProductHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req productRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	price, msg := validateProductRequest(req)
	if msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	product, err := h.store.CreateProduct(r.Context(), database.CreateProductParams{
		Name:         strings.TrimSpace(req.Name),
		Description:  optionalText(req.Description),
		Category:     optionalText(req.Category),
		ImageUrl:     optionalText(req.ImageURL),
		Price:        decimalToNumeric(price),
		CountInStock: req.CountInStock,
		Sizes:        req.Sizes,
		Colors:       req.Colors,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create product")
		return
	}

	writeData(w, http.StatusCreated, toProductResponse(product))
}

func (h *ProductHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid product id")
		return
	}

	var req productRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	price, msg := validateProductRequest(req)
	if msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	product, err := h.store.UpdateProduct(r.Context(), database.UpdateProductParams{
		ID:           id,
		Name:         strings.TrimSpace(req.Name),
		Description:  optionalText(req.Description),
		Category:     optionalText(req.Category),
		ImageUrl:     optionalText(req.ImageURL),
		Price:        decimalToNumeric(price),
		CountInStock: req.CountInStock,
		Sizes:        req.Sizes,
		Colors:       req.Colors,
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeError(w, http.StatusNotFound, "product not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to update product")
		return
	}

	writeData(w, http.StatusOK, toProductResponse(product))
}

func (h *ProductHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid product id")
		return
	}

	if _, err := h.store.DeactivateProduct(r.Context(), id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeError(w, http.StatusNotFound, "product not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to deactivate product")
		return
	}

	writeData(w, http.StatusOK, map[string]string{"status": "deactivated"})
}

func validateProductRequest(req productRequest) (decimal.Decimal, string) {
	if strings.TrimSpace(req.Name) == "" {
		return decimal.Zero, "name is required"
	}
	price, err := decimal.NewFromString(req.Price)
	if err != nil {
		return decimal.Zero, "price must be a decimal string"
	}
	if price.IsNegative() {
		return decimal.Zero, "price must not be negative"
	}
	if req.CountInStock < 0 {
		return decimal.Zero, "count_in_stock must not be negative"
	}
	return price, ""
}

func optionalText(s string) pgtype.Text {
	s = strings.TrimSpace(s)
	if s == "" {
		return pgtype.Text{}
	}
	return pgtype.Text{String: s, Valid: true}
}

func decimalToNumeric(d decimal.Decimal) pgtype.Numeric {
	var n pgtype.Numeric
	if err := n.Scan(d.String()); err != nil {
		return pgtype.Numeric{}
	}
	return n
}

func requireStaff(r *http.Request) bool {
	claims := middleware.ClaimsFromContext(r.Context())
	if claims == nil {
		return false
	}
	return claims.Role == enum.UserRoleAdmin || claims.Role == enum.UserRoleDesigner
}
