package notify

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
)

// AMQPNotifier publishes reply events to a topic exchange with the user id
// as routing key, so consumers can bind per user or with wildcards.
type AMQPNotifier struct {
	url      string
	exchange string

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

func NewAMQPNotifier(url, exchange string) (*AMQPNotifier, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, errors.New("amqp url required")
	}
	exchange = strings.TrimSpace(exchange)
	if exchange == "" {
		exchange = "studypal.replies"
	}
	return &AMQPNotifier{url: url, exchange: exchange}, nil
}

func (n *AMQPNotifier) Notify(ctx context.Context, event ReplyEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	ch, err := n.channel()
	if err != nil {
		return err
	}
	err = ch.PublishWithContext(ctx, n.exchange, event.UserID, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         payload,
	})
	if err != nil {
		// Drop the broken channel so the next publish reconnects.
		n.mu.Lock()
		n.closeLocked()
		n.mu.Unlock()
	}
	return err
}

func (n *AMQPNotifier) channel() (*amqp.Channel, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.ch != nil && !n.ch.IsClosed() {
		return n.ch, nil
	}
	n.closeLocked()
	conn, err := amqp.Dial(n.url)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	if err := ch.ExchangeDeclare(n.exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}
	n.conn = conn
	n.ch = ch
	return ch, nil
}

func (n *AMQPNotifier) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.closeLocked()
	return nil
}

func (n *AMQPNotifier) closeLocked() {
	if n.ch != nil {
		_ = n.ch.Close()
		n.ch = nil
	}
	if n.conn != nil {
		_ = n.conn.Close()
		n.conn = nil
	}
}
