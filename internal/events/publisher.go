package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/WDP301-BKS/reservation-service-go/internal/sequence"
	"github.com/WDP301-BKS/reservation-service-go/internal/slot"
	"github.com/google/uuid"
)

type Publisher struct {
	ch       *amqp.Channel
	seqRepo  *sequence.Repository
	producer string
}

func NewPublisher(conn *amqp.Connection, seqRepo *sequence.Repository) (*Publisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := declareEventsExchange(ch); err != nil {
		return nil, fmt.Errorf("declare events exchange: %w", err)
	}
	return &Publisher{ch: ch, seqRepo: seqRepo, producer: serviceName}, nil
}

func (p *Publisher) Close() error {
	return p.ch.Close()
}

// PublishOccupancyChanged emits the post-commit occupancy event for one
// (field, date). Events for the same key carry increasing sequence numbers
// so consumers can order and dedupe them.
func (p *Publisher) PublishOccupancyChanged(ctx context.Context, fieldID string, date time.Time, ranges []slot.Range, status slot.Status) error {
	timestamp := time.Now().UTC()
	day := date.Format("2006-01-02")
	partitionKey := fieldID + ":" + day

	payload := OccupancyChangedPayload{
		FieldID:   fieldID,
		Date:      day,
		Status:    string(status),
		Timestamp: timestamp,
	}
	for _, r := range ranges {
		payload.Ranges = append(payload.Ranges, PayloadRange{Start: r.Start, End: r.End})
	}

	seq, err := p.seqRepo.NextSequence(ctx, partitionKey)
	if err != nil {
		return fmt.Errorf("occupancy sequence: %w", err)
	}

	env := OccupancyChangedEvent{
		EventEnvelope: EventEnvelope{
			EventName:    EventTypeOccupancyChanged,
			EventVersion: 1,
			EventID:      uuid.NewString(),
			Producer:     p.producer,
			PartitionKey: partitionKey,
			Sequence:     seq,
			OccurredAt:   timestamp,
			Schema:       occupancyChangedSchema,
		},
		Payload: payload,
	}
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", EventTypeOccupancyChanged, err)
	}
	return p.publishJSON(ctx, OccupancyChangedRoutingKey, body)
}

func (p *Publisher) publishJSON(ctx context.Context, routingKey string, body []byte) error {
	pubCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	return p.ch.PublishWithContext(
		pubCtx,
		EventsExchange,
		routingKey,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         body,
		},
	)
}
