package maintenance

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/WDP301-BKS/reservation-service-go/internal/availability"
	"github.com/WDP301-BKS/reservation-service-go/internal/slot"
)

var (
	// ErrSlotBooked rejects any maintenance transition on a booked slot.
	// Booked is a sink: maintenance never overrides an active booking.
	ErrSlotBooked = errors.New("cannot change maintenance status of booked slot")

	ErrReasonRequired = errors.New("maintenance reason is required")
	ErrInvalidRange   = errors.New("invalid maintenance range")
)

type Notifier interface {
	PublishOccupancyChanged(ctx context.Context, fieldID string, date time.Time, ranges []slot.Range, status slot.Status) error
}

// SetRequest blocks a daily time window on one or more sub-fields across an
// inclusive date range. Start and End are offsets from midnight.
type SetRequest struct {
	SubFieldIDs []string
	FromDate    time.Time
	ToDate      time.Time
	Start       time.Duration
	End         time.Duration
	Reason      string
	Until       time.Time // estimated completion, optional
}

// SkippedUnit is a (sub-field, date) the set operation left untouched
// because an overlapping slot is already occupied.
type SkippedUnit struct {
	SubFieldID string      `json:"subFieldId"`
	Date       time.Time   `json:"date"`
	Occupied   slot.Range  `json:"occupied"`
	Status     slot.Status `json:"status"`
}

type SetResult struct {
	Created []slot.Slot   `json:"created"`
	Skipped []SkippedUnit `json:"skipped"`
}

// Service toggles slots between available and maintenance. All writes run
// under the same sub-field locking discipline as the reservation path, so a
// slot cannot flip to booked in one transaction while another is setting it
// to maintenance.
type Service struct {
	slots    slot.TxRepository
	cache    *availability.Cache
	notifier Notifier
	logger   *log.Logger
}

func NewService(slots slot.TxRepository, cache *availability.Cache, notifier Notifier, logger *log.Logger) *Service {
	return &Service{slots: slots, cache: cache, notifier: notifier, logger: logger}
}

// Set creates maintenance slots for every (sub-field, date) unit in the
// request that has no overlapping occupied slot. Units already overlapped by
// a booked or maintenance slot are skipped, never overridden.
func (s *Service) Set(ctx context.Context, req SetRequest) (SetResult, error) {
	if req.Reason == "" {
		return SetResult{}, ErrReasonRequired
	}
	if len(req.SubFieldIDs) == 0 {
		return SetResult{}, fmt.Errorf("%w: no sub-fields given", ErrInvalidRange)
	}
	if req.Start < 0 || req.End <= req.Start {
		return SetResult{}, fmt.Errorf("%w: window is empty or reversed", ErrInvalidRange)
	}
	if req.ToDate.Before(req.FromDate) {
		return SetResult{}, fmt.Errorf("%w: date range is reversed", ErrInvalidRange)
	}

	tx, err := s.slots.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return SetResult{}, fmt.Errorf("begin maintenance tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	locked, err := s.slots.LockSubFields(ctx, tx, "", req.SubFieldIDs)
	if err != nil {
		return SetResult{}, err
	}
	fieldOf := make(map[string]string, len(locked))
	for _, sf := range locked {
		fieldOf[sf.ID] = sf.FieldID
	}

	var res SetResult
	for date := req.FromDate; !date.After(req.ToDate); date = date.AddDate(0, 0, 1) {
		window := slot.Range{Start: date.Add(req.Start), End: date.Add(req.End)}
		for _, sfID := range req.SubFieldIDs {
			occupied, err := s.slots.OccupiedForUpdate(ctx, tx, sfID, date)
			if err != nil {
				return SetResult{}, err
			}
			if occ, found := slot.FirstConflict(window, occupied); found {
				res.Skipped = append(res.Skipped, SkippedUnit{
					SubFieldID: sfID,
					Date:       date,
					Occupied:   occ.Range,
					Status:     occ.Status,
				})
				continue
			}
			created, err := s.slots.InsertMaintenance(ctx, tx, sfID, date, window, req.Reason, req.Until)
			if err != nil {
				return SetResult{}, err
			}
			res.Created = append(res.Created, created)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return SetResult{}, fmt.Errorf("commit maintenance: %w", err)
	}

	for _, created := range res.Created {
		fieldID := fieldOf[created.SubFieldID]
		s.cache.Invalidate(fieldID, created.Date)
		s.publish(ctx, fieldID, created.Date, []slot.Range{created.Range}, slot.StatusMaintenance)
	}
	return res, nil
}

// Toggle flips a maintenance slot back to available (the row is deleted:
// absence of a row is availability). Toggling a booked slot fails with
// ErrSlotBooked and leaves it unchanged.
func (s *Service) Toggle(ctx context.Context, slotID string) (slot.Slot, error) {
	current, err := s.slots.Get(ctx, slotID)
	if err != nil {
		return slot.Slot{}, err
	}

	tx, err := s.slots.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return slot.Slot{}, fmt.Errorf("begin toggle tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// Sub-field lock first, then the slot row, in the same order as the
	// reservation path.
	locked, err := s.slots.LockSubFields(ctx, tx, "", []string{current.SubFieldID})
	if err != nil {
		return slot.Slot{}, err
	}
	current, err = s.slots.GetForUpdate(ctx, tx, slotID)
	if err != nil {
		return slot.Slot{}, err
	}
	if current.Status == slot.StatusBooked {
		return slot.Slot{}, ErrSlotBooked
	}
	if err := s.slots.DeleteMaintenance(ctx, tx, slotID); err != nil {
		return slot.Slot{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return slot.Slot{}, fmt.Errorf("commit toggle: %w", err)
	}

	fieldID := locked[0].FieldID
	current.Status = slot.StatusAvailable
	current.MaintenanceReason = ""
	current.MaintenanceUntil = time.Time{}

	s.cache.Invalidate(fieldID, current.Date)
	s.publish(ctx, fieldID, current.Date, []slot.Range{current.Range}, slot.StatusAvailable)
	return current, nil
}

// Remove deletes the given maintenance slots. Slots in any other status are
// reported back untouched.
func (s *Service) Remove(ctx context.Context, slotIDs []string) (removed []slot.Slot, skipped []string, err error) {
	for _, slotID := range slotIDs {
		freed, toggleErr := s.Toggle(ctx, slotID)
		switch {
		case toggleErr == nil:
			removed = append(removed, freed)
		case errors.Is(toggleErr, ErrSlotBooked), errors.Is(toggleErr, slot.ErrNotFound):
			skipped = append(skipped, slotID)
		default:
			return removed, skipped, toggleErr
		}
	}
	return removed, skipped, nil
}

func (s *Service) publish(ctx context.Context, fieldID string, date time.Time, ranges []slot.Range, status slot.Status) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.PublishOccupancyChanged(ctx, fieldID, date, ranges, status); err != nil {
		s.logger.Printf("publish occupancy change field=%s date=%s: %v", fieldID, date.Format("2006-01-02"), err)
	}
}
