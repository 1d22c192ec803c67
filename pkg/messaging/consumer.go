package messaging

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/rabbitmq/amqp091-go"
)

// Handler processes one delivery. A nil error acks it; an error drops it.
type Handler func(ctx context.Context, msg amqp091.Delivery) error

type Consumer struct {
	conn   *amqp091.Connection
	queue  string
	logger *slog.Logger
}

// NewRabbitConsumer binds queue to exchange for every routing key pattern in
// bindings. An empty queue name declares a server-named queue that lives only
// as long as this consumer, so every replica receives every message.
func NewRabbitConsumer(url, exchange, queue string, bindings []string, logger *slog.Logger) (*Consumer, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connect rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close()

	if err := declareExchange(ch, exchange); err != nil {
		conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}

	durable, exclusive := true, false
	if queue == "" {
		durable, exclusive = false, true
	}
	q, err := ch.QueueDeclare(
		queue,
		durable,
		!durable,
		exclusive,
		false,
		nil,
	)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("declare queue: %w", err)
	}

	if len(bindings) == 0 {
		bindings = []string{"#"}
	}
	for _, key := range bindings {
		if err := ch.QueueBind(q.Name, key, exchange, false, nil); err != nil {
			conn.Close()
			return nil, fmt.Errorf("bind queue %s to %s: %w", q.Name, key, err)
		}
	}

	return &Consumer{
		conn:   conn,
		queue:  q.Name,
		logger: logger,
	}, nil
}

// Start consumes until ctx is done or the broker closes the channel.
func (c *Consumer) Start(ctx context.Context, handler Handler) error {
	ch, err := c.conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}

	if err := ch.Qos(32, 0, false); err != nil {
		ch.Close()
		return fmt.Errorf("set qos: %w", err)
	}

	msgs, err := ch.Consume(c.queue, "", false, false, false, false, nil)
	if err != nil {
		ch.Close()
		return fmt.Errorf("consume queue: %w", err)
	}

	go func() {
		<-ctx.Done()
		_ = ch.Cancel("", false)
		ch.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				c.logger.Info("consumer channel closed", "queue", c.queue)
				return nil
			}
			if err := handler(ctx, msg); err != nil {
				c.logger.Warn("dropping message", "queue", c.queue, "routing_key", msg.RoutingKey, "message_id", msg.MessageId, "err", err)
				_ = msg.Nack(false, false)
				continue
			}
			_ = msg.Ack(false)
		}
	}
}

func (c *Consumer) Close() error {
	return c.conn.Close()
}
