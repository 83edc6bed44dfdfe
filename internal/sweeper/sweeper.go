package sweeper

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/WDP301-BKS/reservation-service-go/internal/booking"
)

const (
	// DefaultTimeout is how long a booking may sit awaiting payment before
	// its slots are reclaimed.
	DefaultTimeout = 10 * time.Minute
	// DefaultInterval is the sweep cadence.
	DefaultInterval = 2 * time.Minute

	batchSize = 100
)

type Store interface {
	FindExpired(ctx context.Context, cutoff time.Time, limit int) ([]booking.Booking, error)
}

// Releaser cancels a booking and frees its slots atomically; the
// reservation service implements it.
type Releaser interface {
	Release(ctx context.Context, bookingID string) (booking.Booking, error)
}

// Sweeper reclaims slots held by bookings that never completed payment. Each
// booking is released in its own transaction, so a failure mid-sweep cannot
// leave a slot freed while its booking still reads payment_pending.
type Sweeper struct {
	bookings Store
	releaser Releaser
	timeout  time.Duration
	interval time.Duration
	logger   *log.Logger
	now      func() time.Time
}

func New(bookings Store, releaser Releaser, timeout, interval time.Duration, logger *log.Logger) *Sweeper {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Sweeper{
		bookings: bookings,
		releaser: releaser,
		timeout:  timeout,
		interval: interval,
		logger:   logger,
		now:      time.Now,
	}
}

// Run sweeps once immediately, then on a fixed ticker until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	if n, err := s.SweepOnce(ctx); err != nil {
		s.logger.Printf("startup sweep: %v", err)
	} else if n > 0 {
		s.logger.Printf("startup sweep released %d expired bookings", n)
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Println("stopping expiry sweeper")
			return
		case <-ticker.C:
			if n, err := s.SweepOnce(ctx); err != nil {
				s.logger.Printf("sweep: %v", err)
			} else if n > 0 {
				s.logger.Printf("sweep released %d expired bookings", n)
			}
		}
	}
}

// SweepOnce releases every expired booking found in one batch and returns
// how many it released. A release that fails is retried once; a booking
// that still fails is left for the next sweep.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.timeout)
	expired, err := s.bookings.FindExpired(ctx, cutoff, batchSize)
	if err != nil {
		return 0, err
	}

	released := 0
	for _, b := range expired {
		if err := s.release(ctx, b.ID); err != nil {
			if errors.Is(err, booking.ErrNotFound) {
				continue
			}
			s.logger.Printf("release expired booking %s: %v", b.ID, err)
			continue
		}
		released++
	}
	return released, nil
}

func (s *Sweeper) release(ctx context.Context, bookingID string) error {
	_, err := s.releaser.Release(ctx, bookingID)
	if err == nil {
		return nil
	}
	// One internal retry for transient store errors (lock timeout, deadlock,
	// dropped connection); there is no interactive caller to resubmit.
	_, retryErr := s.releaser.Release(ctx, bookingID)
	if retryErr != nil {
		return err
	}
	return nil
}
