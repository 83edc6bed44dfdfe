package reservation

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/WDP301-BKS/reservation-service-go/internal/availability"
	"github.com/WDP301-BKS/reservation-service-go/internal/booking"
	"github.com/WDP301-BKS/reservation-service-go/internal/slot"
)

// ErrValidation marks requests rejected before any lock is taken.
var ErrValidation = errors.New("invalid reservation request")

// Conflict names the first requested range that overlaps an occupied slot,
// and the booking already holding it (empty for maintenance or when the
// conflict only surfaced as a constraint violation at commit).
type Conflict struct {
	SubFieldID string      `json:"subFieldId"`
	Range      slot.Range  `json:"range"`
	Occupied   slot.Range  `json:"occupied"`
	Status     slot.Status `json:"status"`
	BookingID  string      `json:"bookingId,omitempty"`
}

type ReserveRequest struct {
	FieldID      string
	Date         time.Time
	Ranges       []slot.RequestedRange
	Customer     booking.Customer
	TotalPrice   float64
	OwnerBooking bool
}

// ReserveResult carries either the committed booking or a conflict, never
// both. Resubmitted is set when the duplicate guard matched an existing
// booking instead of creating a new one.
type ReserveResult struct {
	Booking     *booking.Booking
	Slots       []slot.Slot
	Conflict    *Conflict
	Resubmitted bool
}

// OccupancyNotifier fans "slot occupancy changed" out to the realtime
// collaborator after a committed write.
type OccupancyNotifier interface {
	PublishOccupancyChanged(ctx context.Context, fieldID string, date time.Time, ranges []slot.Range, status slot.Status) error
}

const (
	// DedupWindow is how long a resubmission of the same logical booking is
	// absorbed instead of re-reserved.
	DedupWindow = 30 * time.Second
	// PriceTolerance is the relative total-price slack for duplicate matching.
	PriceTolerance = 0.01
)

// Service is the reservation write path: duplicate guard, then a
// serializable transaction that locks the implicated sub-fields, re-checks
// conflicts under lock, and creates the booking with its slots as one unit
// of work. The database transaction manager is the only mutual exclusion;
// nothing here relies on in-process locking, so the service stays correct
// across multiple instances.
type Service struct {
	slots    slot.TxRepository
	bookings booking.TxRepository
	cache    *availability.Cache
	notifier OccupancyNotifier
	logger   *log.Logger
	now      func() time.Time
}

func NewService(slots slot.TxRepository, bookings booking.TxRepository, cache *availability.Cache, notifier OccupancyNotifier, logger *log.Logger) *Service {
	return &Service{
		slots:    slots,
		bookings: bookings,
		cache:    cache,
		notifier: notifier,
		logger:   logger,
		now:      time.Now,
	}
}

func (s *Service) Reserve(ctx context.Context, req ReserveRequest) (ReserveResult, error) {
	if err := validate(req); err != nil {
		return ReserveResult{}, err
	}

	// Best-effort resubmission absorption. The authoritative protection
	// against double occupancy is the locked conflict check below; this only
	// prevents a second successful booking for the same intent.
	if !req.OwnerBooking && req.Customer.Email != "" {
		existing, found, err := s.bookings.FindRecentDuplicate(ctx,
			req.Customer.Email, req.FieldID, req.Date, req.TotalPrice,
			s.now().Add(-DedupWindow), PriceTolerance)
		if err != nil {
			s.logger.Printf("duplicate guard lookup failed, proceeding: %v", err)
		} else if found {
			s.logger.Printf("absorbed resubmission booking=%s email=%s", existing.ID, existing.Customer.Email)
			return ReserveResult{Booking: &existing, Resubmitted: true}, nil
		}
	}

	res, err := s.reserveTx(ctx, req)
	if err != nil {
		if slot.IsConflictError(err) {
			// Lost a race the locking reads could not see (constraint
			// violation, serialization failure, deadlock, lock timeout).
			// The caller can resubmit, so this is a conflict, not a failure.
			first := req.Ranges[0]
			return ReserveResult{Conflict: &Conflict{
				SubFieldID: first.SubFieldID,
				Range:      first.Range,
				Occupied:   first.Range,
				Status:     slot.StatusBooked,
			}}, nil
		}
		return ReserveResult{}, err
	}

	if res.Conflict == nil {
		s.cache.Invalidate(req.FieldID, req.Date)
		s.publish(ctx, req.FieldID, req.Date, bookedRanges(res.Slots), slot.StatusBooked)
	}
	return res, nil
}

func (s *Service) reserveTx(ctx context.Context, req ReserveRequest) (ReserveResult, error) {
	tx, err := s.slots.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return ReserveResult{}, fmt.Errorf("begin reservation tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	bySubField := groupBySubField(req.Ranges)
	subFieldIDs := sortedKeys(bySubField)

	if _, err := s.slots.LockSubFields(ctx, tx, req.FieldID, subFieldIDs); err != nil {
		return ReserveResult{}, err
	}

	// Authoritative conflict check, under lock, against the slot store.
	for _, sfID := range subFieldIDs {
		occupied, err := s.slots.OccupiedForUpdate(ctx, tx, sfID, req.Date)
		if err != nil {
			return ReserveResult{}, err
		}
		for _, rr := range bySubField[sfID] {
			if occ, found := slot.FirstConflict(rr.Range, occupied); found {
				return ReserveResult{Conflict: &Conflict{
					SubFieldID: sfID,
					Range:      rr.Range,
					Occupied:   occ.Range,
					Status:     occ.Status,
					BookingID:  occ.BookingID,
				}}, nil
			}
		}
	}

	b := &booking.Booking{
		ID:            uuid.NewString(),
		FieldID:       req.FieldID,
		Customer:      req.Customer,
		Status:        booking.StatusPaymentPending,
		PaymentStatus: booking.PaymentPending,
		TotalPrice:    req.TotalPrice,
		OwnerBooking:  req.OwnerBooking,
	}
	if req.OwnerBooking {
		// Owner bookings have no payment step: confirmed immediately.
		b.Status = booking.StatusConfirmed
		b.PaymentStatus = booking.PaymentPaid
	}

	if err := s.bookings.Insert(ctx, tx, b); err != nil {
		return ReserveResult{}, err
	}
	slots, err := s.slots.InsertBooked(ctx, tx, b.ID, req.Date, req.Ranges)
	if err != nil {
		return ReserveResult{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return ReserveResult{}, fmt.Errorf("commit reservation: %w", err)
	}
	return ReserveResult{Booking: b, Slots: slots}, nil
}

// Release cancels a booking and deletes its slot rows in one transaction, so
// the slots can never be free while the booking still counts as live. The
// booking row itself is kept as audit trail. Releasing an already-cancelled
// booking is a no-op.
func (s *Service) Release(ctx context.Context, bookingID string) (booking.Booking, error) {
	tx, err := s.slots.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return booking.Booking{}, fmt.Errorf("begin release tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	b, err := s.bookings.GetForUpdate(ctx, tx, bookingID)
	if err != nil {
		return booking.Booking{}, err
	}
	if b.Status == booking.StatusCancelled {
		return b, nil
	}

	released, err := s.slots.DeleteByBooking(ctx, tx, bookingID)
	if err != nil {
		return booking.Booking{}, err
	}

	payment := b.PaymentStatus
	if payment == booking.PaymentPaid {
		payment = booking.PaymentRefunded
	} else {
		payment = booking.PaymentFailed
	}
	if err := s.bookings.Cancel(ctx, tx, bookingID, payment); err != nil {
		return booking.Booking{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return booking.Booking{}, fmt.Errorf("commit release: %w", err)
	}

	b.Status = booking.StatusCancelled
	b.PaymentStatus = payment

	for date, ranges := range rangesByDate(released) {
		s.cache.Invalidate(b.FieldID, date)
		s.publish(ctx, b.FieldID, date, ranges, slot.StatusAvailable)
	}
	return b, nil
}

// Occupied returns the occupied ranges for a field and date through the
// read cache. Not authoritative: the write path never consults it.
func (s *Service) Occupied(ctx context.Context, fieldID string, date time.Time) ([]slot.Occupied, error) {
	if occupied, ok := s.cache.Get(fieldID, date); ok {
		return occupied, nil
	}
	occupied, err := s.slots.OccupiedByField(ctx, fieldID, date)
	if err != nil {
		return nil, err
	}
	s.cache.Put(fieldID, date, occupied)
	return occupied, nil
}

func (s *Service) publish(ctx context.Context, fieldID string, date time.Time, ranges []slot.Range, status slot.Status) {
	if s.notifier == nil || len(ranges) == 0 {
		return
	}
	if err := s.notifier.PublishOccupancyChanged(ctx, fieldID, date, ranges, status); err != nil {
		s.logger.Printf("publish occupancy change field=%s date=%s: %v", fieldID, date.Format("2006-01-02"), err)
	}
}

func validate(req ReserveRequest) error {
	if req.FieldID == "" {
		return fmt.Errorf("%w: field id is required", ErrValidation)
	}
	if req.Date.IsZero() {
		return fmt.Errorf("%w: date is required", ErrValidation)
	}
	if len(req.Ranges) == 0 {
		return fmt.Errorf("%w: at least one range is required", ErrValidation)
	}
	for _, rr := range req.Ranges {
		if rr.SubFieldID == "" {
			return fmt.Errorf("%w: sub-field id is required", ErrValidation)
		}
		if !rr.Range.Valid() {
			return fmt.Errorf("%w: range %s-%s is empty or reversed", ErrValidation,
				rr.Range.Start.Format("15:04"), rr.Range.End.Format("15:04"))
		}
	}
	if i, j, found := slot.FirstConflictAmong(req.Ranges); found {
		return fmt.Errorf("%w: requested ranges %d and %d overlap each other", ErrValidation, i, j)
	}
	if !req.OwnerBooking && req.Customer.Email == "" {
		return fmt.Errorf("%w: customer email is required", ErrValidation)
	}
	if req.TotalPrice < 0 {
		return fmt.Errorf("%w: total price must not be negative", ErrValidation)
	}
	return nil
}

func groupBySubField(ranges []slot.RequestedRange) map[string][]slot.RequestedRange {
	out := make(map[string][]slot.RequestedRange)
	for _, rr := range ranges {
		out[rr.SubFieldID] = append(out[rr.SubFieldID], rr)
	}
	return out
}

func sortedKeys(m map[string][]slot.RequestedRange) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func bookedRanges(slots []slot.Slot) []slot.Range {
	out := make([]slot.Range, 0, len(slots))
	for _, s := range slots {
		out = append(out, s.Range)
	}
	return out
}

func rangesByDate(released []slot.Released) map[time.Time][]slot.Range {
	out := make(map[time.Time][]slot.Range)
	for _, rel := range released {
		out[rel.Date] = append(out[rel.Date], rel.Range)
	}
	return out
}
