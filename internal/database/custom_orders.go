package database

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

const customOrderColumns = `id, user_id, status, description, measurements, fabric_notes, quoted_price, created_at, updated_at`

func scanCustomOrder(row interface{ Scan(dest ...any) error }) (CustomOrder, error) {
	var c CustomOrder
	err := row.Scan(
		&c.ID,
		&c.UserID,
		&c.Status,
		&c.Description,
		&c.Measurements,
		&c.FabricNotes,
		&c.QuotedPrice,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	return c, err
}

type CreateCustomOrderParams struct {
	UserID       uuid.UUID
	Description  string
	Measurements pgtype.Text
	FabricNotes  pgtype.Text
	QuotedPrice  pgtype.Numeric
}

func (q *Queries) CreateCustomOrder(ctx context.Context, arg CreateCustomOrderParams) (CustomOrder, error) {
	row := q.db.QueryRow(ctx, `
		INSERT INTO custom_orders (user_id, description, measurements, fabric_notes, quoted_price)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+customOrderColumns,
		arg.UserID, arg.Description, arg.Measurements, arg.FabricNotes, arg.QuotedPrice,
	)
	return scanCustomOrder(row)
}

func (q *Queries) GetCustomOrder(ctx context.Context, id uuid.UUID) (CustomOrder, error) {
	row := q.db.QueryRow(ctx, `SELECT `+customOrderColumns+` FROM custom_orders WHERE id = $1`, id)
	return scanCustomOrder(row)
}

// GetCustomOrderForUpdate locks the custom order row so a concurrent order
// creation or staff status change cannot interleave with this transaction.
func (q *Queries) GetCustomOrderForUpdate(ctx context.Context, id uuid.UUID) (CustomOrder, error) {
	row := q.db.QueryRow(ctx, `SELECT `+customOrderColumns+` FROM custom_orders WHERE id = $1 FOR UPDATE`, id)
	return scanCustomOrder(row)
}

func (q *Queries) ListCustomOrdersByUser(ctx context.Context, userID uuid.UUID) ([]CustomOrder, error) {
	rows, err := q.db.Query(ctx, `
		SELECT `+customOrderColumns+` FROM custom_orders
		WHERE user_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []CustomOrder
	for rows.Next() {
		c, err := scanCustomOrder(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, c)
	}
	return result, rows.Err()
}

type ListCustomOrdersParams struct {
	Status pgtype.Text
	Limit  int32
	Offset int32
}

func (q *Queries) ListCustomOrders(ctx context.Context, arg ListCustomOrdersParams) ([]CustomOrder, error) {
	rows, err := q.db.Query(ctx, `
		SELECT `+customOrderColumns+` FROM custom_orders
		WHERE ($1::text IS NULL OR status = $1)
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`,
		arg.Status, arg.Limit, arg.Offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []CustomOrder
	for rows.Next() {
		c, err := scanCustomOrder(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, c)
	}
	return result, rows.Err()
}

type UpdateCustomOrderStatusParams struct {
	ID          uuid.UUID
	Status      string
	QuotedPrice pgtype.Numeric
}

func (q *Queries) UpdateCustomOrderStatus(ctx context.Context, arg UpdateCustomOrderStatusParams) (CustomOrder, error) {
	row := q.db.QueryRow(ctx, `
		UPDATE custom_orders
		SET status = $2,
		    quoted_price = COALESCE($3, quoted_price),
		    updated_at = now()
		WHERE id = $1
		RETURNING `+customOrderColumns,
		arg.ID, arg.Status, arg.QuotedPrice,
	)
	return scanCustomOrder(row)
}
