package database

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

const orderColumns = `id, order_number, user_id, order_type, status,
	shipping_address, shipping_city, shipping_postal_code, shipping_country,
	payment_method, payment_id, payment_amount,
	items_price, custom_orders_price, shipping_price, tax_price, discount_amount, total_price,
	tracking_number, shipping_carrier,
	return_requested, return_reason, return_status,
	idempotency_key,
	confirmed_at, shipped_at, delivered_at, cancelled_at, created_at, updated_at`

func scanOrder(row interface{ Scan(dest ...any) error }) (Order, error) {
	var o Order
	err := row.Scan(
		&o.ID,
		&o.OrderNumber,
		&o.UserID,
		&o.OrderType,
		&o.Status,
		&o.ShippingAddress,
		&o.ShippingCity,
		&o.ShippingPostalCode,
		&o.ShippingCountry,
		&o.PaymentMethod,
		&o.PaymentID,
		&o.PaymentAmount,
		&o.ItemsPrice,
		&o.CustomOrdersPrice,
		&o.ShippingPrice,
		&o.TaxPrice,
		&o.DiscountAmount,
		&o.TotalPrice,
		&o.TrackingNumber,
		&o.ShippingCarrier,
		&o.ReturnRequested,
		&o.ReturnReason,
		&o.ReturnStatus,
		&o.IdempotencyKey,
		&o.ConfirmedAt,
		&o.ShippedAt,
		&o.DeliveredAt,
		&o.CancelledAt,
		&o.CreatedAt,
		&o.UpdatedAt,
	)
	return o, err
}

type CreateOrderParams struct {
	OrderNumber        string
	UserID             uuid.UUID
	OrderType          string
	Status             string
	ShippingAddress    string
	ShippingCity       string
	ShippingPostalCode string
	ShippingCountry    string
	PaymentMethod      string
	PaymentID          string
	PaymentAmount      pgtype.Numeric
	ItemsPrice         pgtype.Numeric
	CustomOrdersPrice  pgtype.Numeric
	ShippingPrice      pgtype.Numeric
	TaxPrice           pgtype.Numeric
	DiscountAmount     pgtype.Numeric
	TotalPrice         pgtype.Numeric
	IdempotencyKey     pgtype.Text
}

func (q *Queries) CreateOrder(ctx context.Context, arg CreateOrderParams) (Order, error) {
	row := q.db.QueryRow(ctx, `
		INSERT INTO orders (
			order_number, user_id, order_type, status,
			shipping_address, shipping_city, shipping_postal_code, shipping_country,
			payment_method, payment_id, payment_amount,
			items_price, custom_orders_price, shipping_price, tax_price, discount_amount, total_price,
			idempotency_key, confirmed_at
		) VALUES (
			$1, $2, $3, $4,
			$5, $6, $7, $8,
			$9, $10, $11,
			$12, $13, $14, $15, $16, $17,
			$18, CASE WHEN $4 = 'CONFIRMED' THEN now() END
		)
		RETURNING `+orderColumns,
		arg.OrderNumber, arg.UserID, arg.OrderType, arg.Status,
		arg.ShippingAddress, arg.ShippingCity, arg.ShippingPostalCode, arg.ShippingCountry,
		arg.PaymentMethod, arg.PaymentID, arg.PaymentAmount,
		arg.ItemsPrice, arg.CustomOrdersPrice, arg.ShippingPrice, arg.TaxPrice, arg.DiscountAmount, arg.TotalPrice,
		arg.IdempotencyKey,
	)
	return scanOrder(row)
}

func (q *Queries) GetOrder(ctx context.Context, id uuid.UUID) (Order, error) {
	row := q.db.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
	return scanOrder(row)
}

func (q *Queries) GetOrderByIdempotencyKey(ctx context.Context, key pgtype.Text) (Order, error) {
	row := q.db.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE idempotency_key = $1`, key)
	return scanOrder(row)
}

type ListOrdersByUserParams struct {
	UserID    uuid.UUID
	Status    pgtype.Text
	OrderType pgtype.Text
	StartDate pgtype.Timestamptz
	EndDate   pgtype.Timestamptz
	Limit     int32
	Offset    int32
}

func (q *Queries) ListOrdersByUser(ctx context.Context, arg ListOrdersByUserParams) ([]Order, error) {
	rows, err := q.db.Query(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE user_id = $1
		  AND ($2::text IS NULL OR status = $2)
		  AND ($3::text IS NULL OR order_type = $3)
		  AND ($4::timestamptz IS NULL OR created_at >= $4)
		  AND ($5::timestamptz IS NULL OR created_at < $5)
		ORDER BY created_at DESC
		LIMIT $6 OFFSET $7`,
		arg.UserID, arg.Status, arg.OrderType, arg.StartDate, arg.EndDate, arg.Limit, arg.Offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectOrders(rows)
}

type ListOrdersParams struct {
	Status    pgtype.Text
	OrderType pgtype.Text
	StartDate pgtype.Timestamptz
	EndDate   pgtype.Timestamptz
	Limit     int32
	Offset    int32
}

func (q *Queries) ListOrders(ctx context.Context, arg ListOrdersParams) ([]Order, error) {
	rows, err := q.db.Query(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE ($1::text IS NULL OR status = $1)
		  AND ($2::text IS NULL OR order_type = $2)
		  AND ($3::timestamptz IS NULL OR created_at >= $3)
		  AND ($4::timestamptz IS NULL OR created_at < $4)
		ORDER BY created_at DESC
		LIMIT $5 OFFSET $6`,
		arg.Status, arg.OrderType, arg.StartDate, arg.EndDate, arg.Limit, arg.Offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectOrders(rows)
}

func collectOrders(rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}) ([]Order, error) {
	var orders []Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

type CreateOrderItemParams struct {
	OrderID   uuid.UUID
	ProductID uuid.UUID
	Quantity  int32
	Price     pgtype.Numeric
	Size      string
	Color     string
}

func (q *Queries) CreateOrderItem(ctx context.Context, arg CreateOrderItemParams) (OrderItem, error) {
	row := q.db.QueryRow(ctx, `
		INSERT INTO order_items (order_id, product_id, quantity, price, size, color)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, order_id, product_id, quantity, price, size, color`,
		arg.OrderID, arg.ProductID, arg.Quantity, arg.Price, arg.Size, arg.Color,
	)
	var it OrderItem
	err := row.Scan(&it.ID, &it.OrderID, &it.ProductID, &it.Quantity, &it.Price, &it.Size, &it.Color)
	return it, err
}

func (q *Queries) ListOrderItemsByOrder(ctx context.Context, orderID uuid.UUID) ([]OrderItem, error) {
	rows, err := q.db.Query(ctx, `
		SELECT id, order_id, product_id, quantity, price, size, color
		FROM order_items WHERE order_id = $1 ORDER BY id`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []OrderItem
	for rows.Next() {
		var it OrderItem
		if err := rows.Scan(&it.ID, &it.OrderID, &it.ProductID, &it.Quantity, &it.Price, &it.Size, &it.Color); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

type AddOrderCustomOrderRefParams struct {
	OrderID       uuid.UUID
	CustomOrderID uuid.UUID
}

func (q *Queries) AddOrderCustomOrderRef(ctx context.Context, arg AddOrderCustomOrderRefParams) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO order_custom_orders (order_id, custom_order_id)
		VALUES ($1, $2)`,
		arg.OrderID, arg.CustomOrderID,
	)
	return err
}

func (q *Queries) ListCustomOrderIDsByOrder(ctx context.Context, orderID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := q.db.Query(ctx, `
		SELECT custom_order_id FROM order_custom_orders
		WHERE order_id = $1 ORDER BY custom_order_id`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

type UpdateOrderStatusParams struct {
	ID     uuid.UUID
	Status string
}

// UpdateOrderStatus sets the status and stamps the matching transition
// timestamp on first entry only. COALESCE keeps an already-set timestamp
// from being overwritten by a repeated transition.
func (q *Queries) UpdateOrderStatus(ctx context.Context, arg UpdateOrderStatusParams) (Order, error) {
	row := q.db.QueryRow(ctx, `
		UPDATE orders SET
			status = $2,
			confirmed_at = CASE WHEN $2 = 'CONFIRMED' THEN COALESCE(confirmed_at, now()) ELSE confirmed_at END,
			shipped_at   = CASE WHEN $2 = 'SHIPPED'   THEN COALESCE(shipped_at, now())   ELSE shipped_at END,
			delivered_at = CASE WHEN $2 = 'DELIVERED' THEN COALESCE(delivered_at, now()) ELSE delivered_at END,
			cancelled_at = CASE WHEN $2 = 'CANCELLED' THEN COALESCE(cancelled_at, now()) ELSE cancelled_at END,
			updated_at = now()
		WHERE id = $1
		RETURNING `+orderColumns,
		arg.ID, arg.Status,
	)
	return scanOrder(row)
}

type SetOrderTrackingParams struct {
	ID              uuid.UUID
	ShippingCarrier string
	TrackingNumber  string
}

func (q *Queries) SetOrderTracking(ctx context.Context, arg SetOrderTrackingParams) (Order, error) {
	row := q.db.QueryRow(ctx, `
		UPDATE orders SET
			shipping_carrier = $2,
			tracking_number = $3,
			status = 'SHIPPED',
			shipped_at = COALESCE(shipped_at, now()),
			updated_at = now()
		WHERE id = $1
		RETURNING `+orderColumns,
		arg.ID, arg.ShippingCarrier, arg.TrackingNumber,
	)
	return scanOrder(row)
}

type SetOrderReturnParams struct {
	ID           uuid.UUID
	ReturnReason string
}

func (q *Queries) SetOrderReturn(ctx context.Context, arg SetOrderReturnParams) (Order, error) {
	row := q.db.QueryRow(ctx, `
		UPDATE orders SET
			return_requested = true,
			return_reason = $2,
			return_status = 'REQUESTED',
			updated_at = now()
		WHERE id = $1
		RETURNING `+orderColumns,
		arg.ID, arg.ReturnReason,
	)
	return scanOrder(row)
}
