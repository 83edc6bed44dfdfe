package events

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/jackc/pgx/v5"

	"github.com/WDP301-BKS/reservation-service-go/internal/booking"
	"github.com/WDP301-BKS/reservation-service-go/internal/dedup"
)

// Releaser frees a booking's slots and cancels it; the reservation service
// implements it. Release is idempotent, which keeps redeliveries harmless.
type Releaser interface {
	Release(ctx context.Context, bookingID string) (booking.Booking, error)
}

// HandlerFunc processes one delivery. Returning an error NACKs the message.
type HandlerFunc func(ctx context.Context, routingKey string, body []byte) error

const PaymentConsumerName = "reservation-payment-events"

// PaymentEventsHandler reacts to the payment collaborator's events:
// success confirms the booking, failure or cancellation releases its slots
// exactly as the expiry sweeper would.
func PaymentEventsHandler(bookings booking.TxRepository, dedupRepo *dedup.Repository, releaser Releaser, logger *log.Logger, consumerName string) HandlerFunc {
	return func(ctx context.Context, routingKey string, body []byte) error {
		switch routingKey {
		case PaymentSucceededRoutingKey:
			return handlePaymentSucceeded(ctx, bookings, dedupRepo, logger, consumerName, body)
		case PaymentFailedRoutingKey:
			return handlePaymentTerminated(ctx, dedupRepo, releaser, logger, consumerName, EventTypePaymentFailed, body)
		case PaymentCanceledRoutingKey:
			return handlePaymentTerminated(ctx, dedupRepo, releaser, logger, consumerName, EventTypePaymentCanceled, body)
		default:
			return fmt.Errorf("unexpected routing key %q", routingKey)
		}
	}
}

func handlePaymentSucceeded(ctx context.Context, bookings booking.TxRepository, dedupRepo *dedup.Repository, logger *log.Logger, consumerName string, body []byte) error {
	msg, err := parsePaymentEvent(body, EventTypePaymentSucceeded)
	if err != nil {
		return err
	}
	if msg.Payload.BookingID == "" {
		return fmt.Errorf("missing bookingId")
	}

	tx, err := bookings.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if skip, err := checkDedup(ctx, dedupRepo.WithExecutor(tx), consumerName, msg, logger); err != nil {
		return err
	} else if skip {
		return nil
	}

	if err := bookings.ConfirmPayment(ctx, tx, msg.Payload.BookingID); err != nil {
		if errors.Is(err, booking.ErrNotFound) {
			// Unknown or already-cancelled booking: the payment arrived after
			// the expiry sweep. Nothing to confirm; refunding is the payment
			// collaborator's side of the contract.
			logger.Printf("payment succeeded for unknown/cancelled booking=%s, skipping", msg.Payload.BookingID)
			return advanceDedup(ctx, dedupRepo.WithExecutor(tx), consumerName, msg, tx.Commit)
		}
		return err
	}

	if err := advanceDedup(ctx, dedupRepo.WithExecutor(tx), consumerName, msg, tx.Commit); err != nil {
		return err
	}
	logger.Printf("booking confirmed on payment success booking=%s", msg.Payload.BookingID)
	return nil
}

func handlePaymentTerminated(ctx context.Context, dedupRepo *dedup.Repository, releaser Releaser, logger *log.Logger, consumerName, eventName string, body []byte) error {
	msg, err := parsePaymentEvent(body, eventName)
	if err != nil {
		return err
	}
	if msg.Payload.BookingID == "" {
		return fmt.Errorf("missing bookingId")
	}

	if skip, err := checkDedup(ctx, dedupRepo, consumerName, msg, logger); err != nil {
		return err
	} else if skip {
		return nil
	}

	b, err := releaser.Release(ctx, msg.Payload.BookingID)
	if err != nil {
		if errors.Is(err, booking.ErrNotFound) {
			logger.Printf("%s for unknown booking=%s, skipping", eventName, msg.Payload.BookingID)
			return advanceDedup(ctx, dedupRepo, consumerName, msg, nil)
		}
		return fmt.Errorf("release booking %s: %w", msg.Payload.BookingID, err)
	}

	if err := advanceDedup(ctx, dedupRepo, consumerName, msg, nil); err != nil {
		return err
	}
	logger.Printf("booking released on %s booking=%s status=%s", eventName, b.ID, b.Status)
	return nil
}

func checkDedup(ctx context.Context, repo *dedup.Repository, consumerName string, msg paymentMessage, logger *log.Logger) (skip bool, err error) {
	if msg.Envelope == nil || msg.Envelope.Sequence == 0 {
		return false, nil
	}
	lastSeq, ok, err := repo.GetLastSequence(ctx, consumerName, msg.Envelope.PartitionKey)
	if err != nil {
		return false, err
	}
	if ok && msg.Envelope.Sequence <= lastSeq {
		logger.Printf("skip duplicate booking=%s partition=%s seq=%d last=%d",
			msg.Payload.BookingID, msg.Envelope.PartitionKey, msg.Envelope.Sequence, lastSeq)
		return true, nil
	}
	if ok && msg.Envelope.Sequence > lastSeq+1 {
		logger.Printf("warning: sequence gap for partition=%s seq=%d last=%d",
			msg.Envelope.PartitionKey, msg.Envelope.Sequence, lastSeq)
	}
	return false, nil
}

func advanceDedup(ctx context.Context, repo *dedup.Repository, consumerName string, msg paymentMessage, commit func(context.Context) error) error {
	if msg.Envelope != nil && msg.Envelope.Sequence != 0 {
		if err := repo.UpsertLastSequence(ctx, consumerName, msg.Envelope.PartitionKey, msg.Envelope.Sequence); err != nil {
			return err
		}
	}
	if commit != nil {
		if err := commit(ctx); err != nil {
			return fmt.Errorf("commit: %w", err)
		}
	}
	return nil
}
