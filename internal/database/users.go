package database

import (
	"context"

	"github.com/google/uuid"
)

const userColumns = `id, email, password_hash, full_name, role, order_ids, created_at, updated_at`

func scanUser(row interface{ Scan(dest ...any) error }) (User, error) {
	var u User
	err := row.Scan(
		&u.ID,
		&u.Email,
		&u.PasswordHash,
		&u.FullName,
		&u.Role,
		&u.OrderIds,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	return u, err
}

type CreateUserParams struct {
	Email        string
	PasswordHash string
	FullName     string
	Role         string
}

func (q *Queries) CreateUser(ctx context.Context, arg CreateUserParams) (User, error) {
	row := q.db.QueryRow(ctx, `
		INSERT INTO users (email, password_hash, full_name, role)
		VALUES ($1, $2, $3, $4)
		RETURNING `+userColumns,
		arg.Email, arg.PasswordHash, arg.FullName, arg.Role,
	)
	return scanUser(row)
}

func (q *Queries) GetUserByEmail(ctx context.Context, email string) (User, error) {
	row := q.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email)
	return scanUser(row)
}

func (q *Queries) GetUserByID(ctx context.Context, id uuid.UUID) (User, error) {
	row := q.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	return scanUser(row)
}

type AppendUserOrderIDParams struct {
	ID      uuid.UUID
	OrderID uuid.UUID
}

// AppendUserOrderID adds an order id to the user's order list. Part of the
// order creation transaction.
func (q *Queries) AppendUserOrderID(ctx context.Context, arg AppendUserOrderIDParams) (User, error) {
	row := q.db.QueryRow(ctx, `
		UPDATE users
		SET order_ids = array_append(order_ids, $2), updated_at = now()
		WHERE id = $1
		RETURNING `+userColumns,
		arg.ID, arg.OrderID,
	)
	return scanUser(row)
}
