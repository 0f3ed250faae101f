package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/streadway/amqp"
	"github.com/velora-atelier/api/internal/database"
	"github.com/velora-atelier/api/internal/service"
)

const (
	exchangeName    = "atelier.notifications"
	confirmationKey = "order.confirmed"

	connectRetries = 3
	connectDelay   = 2 * time.Second
)

// AMQPNotifier publishes order confirmations to a RabbitMQ topic exchange.
// A downstream worker turns them into customer email/SMS; this process only
// hands the message to the broker.
type AMQPNotifier struct {
	url     string
	mu      sync.Mutex
	conn    *amqp.Connection
	channel *amqp.Channel
}

var _ service.Notifier = (*AMQPNotifier)(nil)

// NewAMQPNotifier connects to the broker and declares the exchange.
func NewAMQPNotifier(url string) (*AMQPNotifier, error) {
	n := &AMQPNotifier{url: url}
	if err := n.connect(); err != nil {
		return nil, err
	}
	return n, nil
}

func (n *AMQPNotifier) connect() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	var err error
	for attempt := 1; attempt <= connectRetries; attempt++ {
		n.conn, err = amqp.Dial(n.url)
		if err != nil {
			log.Printf("amqp connect (attempt %d/%d): %v", attempt, connectRetries, err)
			time.Sleep(connectDelay)
			continue
		}
		n.channel, err = n.conn.Channel()
		if err != nil {
			n.conn.Close()
			return fmt.Errorf("open channel: %w", err)
		}
		if err := n.channel.ExchangeDeclare(
			exchangeName, // name
			"topic",      // type
			true,         // durable
			false,        // auto-deleted
			false,        // internal
			false,        // no-wait
			nil,          // arguments
		); err != nil {
			n.channel.Close()
			n.conn.Close()
			return fmt.Errorf("declare exchange: %w", err)
		}
		return nil
	}
	return fmt.Errorf("connect to amqp: %w", err)
}

func (n *AMQPNotifier) SendOrderConfirmation(ctx context.Context, order database.Order, items []database.OrderItem) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	body, err := json.Marshal(buildConfirmation(order, items))
	if err != nil {
		return fmt.Errorf("marshal confirmation: %w", err)
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if n.channel == nil {
		return fmt.Errorf("amqp channel not open")
	}
	return n.channel.Publish(
		exchangeName,
		confirmationKey,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
			MessageId:    order.ID.String(),
			Timestamp:    time.Now(),
		},
	)
}

func (n *AMQPNotifier) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.channel != nil {
		n.channel.Close()
	}
	if n.conn != nil {
		return n.conn.Close()
	}
	return nil
}
