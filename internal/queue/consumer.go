package queue

import (
	"context"
	"fmt"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/cuongbtq/panel-one/shared/rabbitmq"
)

// Message is a raw queue delivery stripped of its transport type
type Message struct {
	Body        []byte
	DeliveryTag uint64
	Redelivered bool
}

// Consumer adapts a RabbitMQ client into a stream of Messages with explicit ack handles
type Consumer struct {
	client *rabbitmq.Client
	logger *slog.Logger
}

// NewConsumer creates a Consumer for client
func NewConsumer(client *rabbitmq.Client, logger *slog.Logger) *Consumer {
	return &Consumer{client: client, logger: logger}
}

// Consume starts delivery; the returned channel closes when ctx ends or the broker channel closes
func (c *Consumer) Consume(ctx context.Context, consumerTag string) (<-chan Message, error) {
	deliveries, err := c.client.Consume(consumerTag)
	if err != nil {
		return nil, fmt.Errorf("failed to start consuming: %w", err)
	}

	out := make(chan Message)
	go c.pump(ctx, deliveries, out)
	return out, nil
}

func (c *Consumer) pump(ctx context.Context, deliveries <-chan amqp.Delivery, out chan<- Message) {
	defer close(out)

	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-deliveries:
			if !ok {
				c.logger.Warn("RabbitMQ delivery channel closed")
				return
			}

			msg := Message{Body: d.Body, DeliveryTag: d.DeliveryTag, Redelivered: d.Redelivered}
			select {
			case out <- msg:
			case <-ctx.Done():
				if err := c.client.Nack(d.DeliveryTag, true); err != nil {
					c.logger.Error("Failed to NACK message on shutdown",
						slog.Any("error", err),
					)
				}
				return
			}
		}
	}
}

// Ack acknowledges a processed message
func (c *Consumer) Ack(deliveryTag uint64) error {
	return c.client.Ack(deliveryTag)
}

// Nack rejects a message, optionally requeueing it
func (c *Consumer) Nack(deliveryTag uint64, requeue bool) error {
	return c.client.Nack(deliveryTag, requeue)
}
