package database

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

const productColumns = `id, name, description, category, price, count_in_stock, sizes, colors, image_url, is_active, created_at, updated_at`

func scanProduct(row interface{ Scan(dest ...any) error }) (Product, error) {
	var p Product
	err := row.Scan(
		&p.ID,
		&p.Name,
		&p.Description,
		&p.Category,
		&p.Price,
		&p.CountInStock,
		&p.Sizes,
		&p.Colors,
		&p.ImageUrl,
		&p.IsActive,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	return p, err
}

type CreateProductParams struct {
	Name         string
	Description  pgtype.Text
	Category     pgtype.Text
	Price        pgtype.Numeric
	CountInStock int32
	Sizes        []string
	Colors       []string
	ImageUrl     pgtype.Text
}

func (q *Queries) CreateProduct(ctx context.Context, arg CreateProductParams) (Product, error) {
	row := q.db.QueryRow(ctx, `
		INSERT INTO products (name, description, category, price, count_in_stock, sizes, colors, image_url)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING `+productColumns,
		arg.Name, arg.Description, arg.Category, arg.Price,
		arg.CountInStock, arg.Sizes, arg.Colors, arg.ImageUrl,
	)
	return scanProduct(row)
}

func (q *Queries) GetProduct(ctx context.Context, id uuid.UUID) (Product, error) {
	row := q.db.QueryRow(ctx, `
		SELECT `+productColumns+` FROM products WHERE id = $1 AND is_active`, id)
	return scanProduct(row)
}

// GetProductForUpdate locks the product row for the rest of the transaction.
// Concurrent order creations touching the same product serialize here, which
// is what keeps count_in_stock from being oversold.
func (q *Queries) GetProductForUpdate(ctx context.Context, id uuid.UUID) (Product, error) {
	row := q.db.QueryRow(ctx, `
		SELECT `+productColumns+` FROM products WHERE id = $1 AND is_active FOR UPDATE`, id)
	return scanProduct(row)
}

type ListProductsParams struct {
	Category pgtype.Text
	Limit    int32
	Offset   int32
}

func (q *Queries) ListProducts(ctx context.Context, arg ListProductsParams) ([]Product, error) {
	rows, err := q.db.Query(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE is_active AND ($1::text IS NULL OR category = $1)
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`,
		arg.Category, arg.Limit, arg.Offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var products []Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

type UpdateProductParams struct {
	ID           uuid.UUID
	Name         string
	Description  pgtype.Text
	Category     pgtype.Text
	Price        pgtype.Numeric
	CountInStock int32
	Sizes        []string
	Colors       []string
	ImageUrl     pgtype.Text
}

func (q *Queries) UpdateProduct(ctx context.Context, arg UpdateProductParams) (Product, error) {
	row := q.db.QueryRow(ctx, `
		UPDATE products
		SET name = $2, description = $3, category = $4, price = $5,
		    count_in_stock = $6, sizes = $7, colors = $8, image_url = $9,
		    updated_at = now()
		WHERE id = $1 AND is_active
		RETURNING `+productColumns,
		arg.ID, arg.Name, arg.Description, arg.Category, arg.Price,
		arg.CountInStock, arg.Sizes, arg.Colors, arg.ImageUrl,
	)
	return scanProduct(row)
}

func (q *Queries) DeactivateProduct(ctx context.Context, id uuid.UUID) (Product, error) {
	row := q.db.QueryRow(ctx, `
		UPDATE products SET is_active = false, updated_at = now()
		WHERE id = $1 AND is_active
		RETURNING `+productColumns, id)
	return scanProduct(row)
}

type DecrementProductStockParams struct {
	ID       uuid.UUID
	Quantity int32
}

// DecrementProductStock reduces count_in_stock. The schema carries a
// CHECK (count_in_stock >= 0) so an overshoot fails the transaction even if
// the service-level check were bypassed.
func (q *Queries) DecrementProductStock(ctx context.Context, arg DecrementProductStockParams) (Product, error) {
	row := q.db.QueryRow(ctx, `
		UPDATE products
		SET count_in_stock = count_in_stock - $2, updated_at = now()
		WHERE id = $1
		RETURNING `+productColumns,
		arg.ID, arg.Quantity,
	)
	return scanProduct(row)
}
