package database

import (
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

type User struct {
	ID           uuid.UUID
	Email        string
	PasswordHash string
	FullName     string
	Role         string
	OrderIds     []uuid.UUID
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type Product struct {
	ID           uuid.UUID
	Name         string
	Description  pgtype.Text
	Category     pgtype.Text
	Price        pgtype.Numeric
	CountInStock int32
	Sizes        []string
	Colors       []string
	ImageUrl     pgtype.Text
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type CustomOrder struct {
	ID           uuid.UUID
	UserID       uuid.UUID
	Status       string
	Description  string
	Measurements pgtype.Text
	FabricNotes  pgtype.Text
	QuotedPrice  pgtype.Numeric
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type Order struct {
	ID                 uuid.UUID
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
	TrackingNumber     pgtype.Text
	ShippingCarrier    pgtype.Text
	ReturnRequested    bool
	ReturnReason       pgtype.Text
	ReturnStatus       pgtype.Text
	IdempotencyKey     pgtype.Text
	ConfirmedAt        pgtype.Timestamptz
	ShippedAt          pgtype.Timestamptz
	DeliveredAt        pgtype.Timestamptz
	CancelledAt        pgtype.Timestamptz
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

type OrderItem struct {
	ID        uuid.UUID
	OrderID   uuid.UUID
	ProductID uuid.UUID
	Quantity  int32
	Price     pgtype.Numeric
	Size      string
	Color     string
}
