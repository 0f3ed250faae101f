// Package notify delivers best-effort order confirmations. Delivery is
// fire-and-forget: the order service logs failures and never retries inline.
package notify

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
	"github.com/velora-atelier/api/internal/database"
	"github.com/velora-atelier/api/internal/service"
)

// OrderConfirmation is the message published for a newly confirmed order.
type OrderConfirmation struct {
	OrderID     uuid.UUID               `json:"order_id"`
	OrderNumber string                  `json:"order_number"`
	UserID      uuid.UUID               `json:"user_id"`
	OrderType   string                  `json:"order_type"`
	TotalPrice  string                  `json:"total_price"`
	Items       []OrderConfirmationItem `json:"items"`
	ConfirmedAt time.Time               `json:"confirmed_at"`
}

// OrderConfirmationItem is one purchased catalog item.
type OrderConfirmationItem struct {
	ProductID uuid.UUID `json:"product_id"`
	Quantity  int32     `json:"quantity"`
	Size      string    `json:"size"`
	Color     string    `json:"color"`
}

func buildConfirmation(order database.Order, items []database.OrderItem) OrderConfirmation {
	msg := OrderConfirmation{
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		UserID:      order.UserID,
		OrderType:   order.OrderType,
		TotalPrice:  numericToString(order.TotalPrice),
		ConfirmedAt: time.Now(),
	}
	if order.ConfirmedAt.Valid {
		msg.ConfirmedAt = order.ConfirmedAt.Time
	}
	for _, it := range items {
		msg.Items = append(msg.Items, OrderConfirmationItem{
			ProductID: it.ProductID,
			Quantity:  it.Quantity,
			Size:      it.Size,
			Color:     it.Color,
		})
	}
	return msg
}

// LogNotifier writes confirmations to the log. Used when no broker is
// configured (local development, tests).
type LogNotifier struct{}

var _ service.Notifier = (*LogNotifier)(nil)

func NewLogNotifier() *LogNotifier {
	return &LogNotifier{}
}

func (n *LogNotifier) SendOrderConfirmation(_ context.Context, order database.Order, items []database.OrderItem) error {
	log.Printf("order confirmation: number=%s user=%s items=%d total=%s",
		order.OrderNumber, order.UserID, len(items), numericToString(order.TotalPrice))
	return nil
}

func numericToString(n pgtype.Numeric) string {
	if !n.Valid {
		return "0.00"
	}
	val, err := n.Value()
	if err != nil || val == nil {
		return "0.00"
	}
	d, err := decimal.NewFromString(val.(string))
	if err != nil {
		return "0.00"
	}
	return d.StringFixed(2)
}
