package messaging

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rabbitmq/amqp091-go"
)

type Message struct {
	ID         string
	RoutingKey string
	Payload    []byte
}

type Publisher interface {
	Publish(ctx context.Context, msg Message) error
	Close() error
}

func declareExchange(ch *amqp091.Channel, exchange string) error {
	return ch.ExchangeDeclare(
		exchange,
		"topic",
		true,
		false,
		false,
		false,
		nil,
	)
}

// RabbitPublisher publishes persistent messages to a topic exchange and waits
// for the broker to confirm each one.
type RabbitPublisher struct {
	conn     *amqp091.Connection
	exchange string

	mu sync.Mutex
	ch *amqp091.Channel
}

func NewRabbitPublisher(url, exchange string) (*RabbitPublisher, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connect rabbitmq: %w", err)
	}

	p := &RabbitPublisher{conn: conn, exchange: exchange}
	if _, err := p.channel(); err != nil {
		conn.Close()
		return nil, err
	}
	return p, nil
}

// channel returns the confirm-mode channel, reopening it after the broker
// closed it.
func (p *RabbitPublisher) channel() (*amqp091.Channel, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch != nil && !p.ch.IsClosed() {
		return p.ch, nil
	}

	ch, err := p.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := declareExchange(ch, p.exchange); err != nil {
		ch.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}
	if err := ch.Confirm(false); err != nil {
		ch.Close()
		return nil, fmt.Errorf("enable confirms: %w", err)
	}
	p.ch = ch
	return ch, nil
}

func (p *RabbitPublisher) Publish(ctx context.Context, msg Message) error {
	ch, err := p.channel()
	if err != nil {
		return err
	}

	confirm, err := ch.PublishWithDeferredConfirmWithContext(ctx, p.exchange, msg.RoutingKey, false, false, amqp091.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp091.Persistent,
		MessageId:    msg.ID,
		Type:         msg.RoutingKey,
		Timestamp:    time.Now().UTC(),
		Body:         msg.Payload,
	})
	if err != nil {
		return fmt.Errorf("publish %s: %w", msg.RoutingKey, err)
	}
	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("await confirm: %w", err)
	}
	if !acked {
		return fmt.Errorf("broker rejected message %s", msg.ID)
	}
	return nil
}

func (p *RabbitPublisher) Close() error {
	p.mu.Lock()
	if p.ch != nil {
		p.ch.Close()
	}
	p.mu.Unlock()
	return p.conn.Close()
}
