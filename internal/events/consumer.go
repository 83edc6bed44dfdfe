package events

import (
	"context"
	"fmt"
	"log"

	amqp "github.com/rabbitmq/amqp091-go"
)

const paymentQueueSuffix = "payment.v1"

// StartPaymentEventsConsumer binds one durable queue to the payment routing
// keys and dispatches deliveries to the handler in a background goroutine.
// Handler errors NACK without requeue; the broker's dead-letter policy owns
// poisoned messages.
func StartPaymentEventsConsumer(ctx context.Context, conn *amqp.Connection, handler HandlerFunc, logger *log.Logger) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}

	if err := declareEventsExchange(ch); err != nil {
		return fmt.Errorf("declare events exchange: %w", err)
	}

	queueName := serviceQueue(paymentQueueSuffix)
	if _, err := ch.QueueDeclare(
		queueName,
		true,  // durable
		false, // autoDelete
		false, // exclusive
		false, // noWait
		nil,
	); err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}

	routingKeys := []string{
		PaymentSucceededRoutingKey,
		PaymentFailedRoutingKey,
		PaymentCanceledRoutingKey,
	}
	for _, key := range routingKeys {
		if err := ch.QueueBind(queueName, key, EventsExchange, false, nil); err != nil {
			return fmt.Errorf("bind %s: %w", key, err)
		}
	}

	msgs, err := ch.Consume(
		queueName,
		serviceName, // consumer tag
		false,       // autoAck
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("consume: %w", err)
	}

	go func() {
		defer func() { _ = ch.Close() }()
		for {
			select {
			case <-ctx.Done():
				logger.Println("stopping payment events consumer")
				return
			case msg, ok := <-msgs:
				if !ok {
					logger.Println("payment messages channel closed")
					return
				}

				if err := handler(ctx, msg.RoutingKey, msg.Body); err != nil {
					logger.Printf("handle %s: %v", msg.RoutingKey, err)
					_ = msg.Nack(false, false)
					continue
				}
				_ = msg.Ack(false)
			}
		}
	}()

	return nil
}
