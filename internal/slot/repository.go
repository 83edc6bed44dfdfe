package slot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var ErrNotFound = errors.New("not found")

// DBPool matches the methods from *pgxpool.Pool that we use.
// This allows us to mock the database in tests.
type DBPool interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

// Querier is the subset shared by the pool and pgx.Tx, so the same queries
// run inside and outside a transaction.
type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

type SubField struct {
	ID      string
	FieldID string
}

type Repository interface {
	Get(ctx context.Context, slotID string) (Slot, error)
	OccupiedByField(ctx context.Context, fieldID string, date time.Time) ([]Occupied, error)
}

// TxRepository exposes the transactional surface used by the reservation and
// maintenance write paths.
type TxRepository interface {
	Repository
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
	LockSubFields(ctx context.Context, tx pgx.Tx, fieldID string, subFieldIDs []string) ([]SubField, error)
	OccupiedForUpdate(ctx context.Context, tx pgx.Tx, subFieldID string, date time.Time) ([]Occupied, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, slotID string) (Slot, error)
	InsertBooked(ctx context.Context, tx pgx.Tx, bookingID string, date time.Time, ranges []RequestedRange) ([]Slot, error)
	InsertMaintenance(ctx context.Context, tx pgx.Tx, subFieldID string, date time.Time, rng Range, reason string, until time.Time) (Slot, error)
	DeleteByBooking(ctx context.Context, tx pgx.Tx, bookingID string) ([]Released, error)
	DeleteMaintenance(ctx context.Context, tx pgx.Tx, slotID string) error
}

type PostgresRepository struct {
	pool DBPool
}

func NewPostgresRepository(pool DBPool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

func (r *PostgresRepository) BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error) {
	return r.pool.BeginTx(ctx, txOptions)
}

func (r *PostgresRepository) Get(ctx context.Context, slotID string) (Slot, error) {
	return scanSlot(r.pool.QueryRow(ctx, selectSlotSQL+` WHERE id=$1`, slotID))
}

// GetForUpdate locks the slot row for the remainder of the transaction.
func (r *PostgresRepository) GetForUpdate(ctx context.Context, tx pgx.Tx, slotID string) (Slot, error) {
	return scanSlot(tx.QueryRow(ctx, selectSlotSQL+` WHERE id=$1 FOR UPDATE`, slotID))
}

const selectSlotSQL = `
	SELECT id, sub_field_id, slot_date, start_ts, end_ts, status,
	       COALESCE(booking_id::text, ''), COALESCE(maintenance_reason, ''),
	       COALESCE(maintenance_until, 'epoch'::timestamptz),
	       price_multiplier, created_at, updated_at
	FROM slots`

func scanSlot(row pgx.Row) (Slot, error) {
	var s Slot
	err := row.Scan(
		&s.ID, &s.SubFieldID, &s.Date, &s.Range.Start, &s.Range.End, &s.Status,
		&s.BookingID, &s.MaintenanceReason, &s.MaintenanceUntil,
		&s.PriceMultiplier, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Slot{}, ErrNotFound
		}
		return Slot{}, err
	}
	return s, nil
}

// LockSubFields takes exclusive row locks on the sub-fields implicated by a
// write, in a stable order so two concurrent writers cannot deadlock on each
// other's lock sets. It also verifies every sub-field exists and belongs to
// the given field.
func (r *PostgresRepository) LockSubFields(ctx context.Context, tx pgx.Tx, fieldID string, subFieldIDs []string) ([]SubField, error) {
	rows, err := tx.Query(ctx, `
		SELECT id, field_id
		FROM sub_fields
		WHERE id = ANY($1)
		ORDER BY id
		FOR UPDATE
	`, subFieldIDs)
	if err != nil {
		return nil, fmt.Errorf("lock sub-fields: %w", err)
	}
	defer rows.Close()

	locked := make([]SubField, 0, len(subFieldIDs))
	for rows.Next() {
		var sf SubField
		if err := rows.Scan(&sf.ID, &sf.FieldID); err != nil {
			return nil, fmt.Errorf("scan sub-field: %w", err)
		}
		locked = append(locked, sf)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(locked))
	for _, sf := range locked {
		if fieldID != "" && sf.FieldID != fieldID {
			return nil, fmt.Errorf("sub-field %s does not belong to field %s: %w", sf.ID, fieldID, ErrNotFound)
		}
		seen[sf.ID] = true
	}
	for _, id := range subFieldIDs {
		if !seen[id] {
			return nil, fmt.Errorf("sub-field %s: %w", id, ErrNotFound)
		}
	}
	return locked, nil
}

// OccupiedForUpdate is the authoritative occupancy read: it locks the
// matching slot rows so a concurrent reservation for the same sub-field/date
// blocks until this transaction finishes. Slots whose booking was cancelled
// do not count as occupied.
func (r *PostgresRepository) OccupiedForUpdate(ctx context.Context, tx pgx.Tx, subFieldID string, date time.Time) ([]Occupied, error) {
	rows, err := tx.Query(ctx, `
		SELECT s.id, s.start_ts, s.end_ts, s.status, COALESCE(s.booking_id::text, '')
		FROM slots s
		LEFT JOIN bookings b ON b.id = s.booking_id
		WHERE s.sub_field_id=$1 AND s.slot_date=$2
		  AND (s.booking_id IS NULL OR b.status <> 'cancelled')
		ORDER BY s.start_ts
		FOR UPDATE OF s
	`, subFieldID, date)
	if err != nil {
		return nil, fmt.Errorf("occupied for update: %w", err)
	}
	return collectOccupied(rows)
}

// OccupiedByField is the unlocked read behind the availability cache. It is
// never used for conflict decisions on the write path.
func (r *PostgresRepository) OccupiedByField(ctx context.Context, fieldID string, date time.Time) ([]Occupied, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT s.id, s.start_ts, s.end_ts, s.status, COALESCE(s.booking_id::text, '')
		FROM slots s
		JOIN sub_fields sf ON sf.id = s.sub_field_id
		LEFT JOIN bookings b ON b.id = s.booking_id
		WHERE sf.field_id=$1 AND s.slot_date=$2
		  AND (s.booking_id IS NULL OR b.status <> 'cancelled')
		ORDER BY s.sub_field_id, s.start_ts
	`, fieldID, date)
	if err != nil {
		return nil, fmt.Errorf("occupied by field: %w", err)
	}
	return collectOccupied(rows)
}

func collectOccupied(rows pgx.Rows) ([]Occupied, error) {
	defer rows.Close()
	var out []Occupied
	for rows.Next() {
		var occ Occupied
		if err := rows.Scan(&occ.SlotID, &occ.Start, &occ.End, &occ.Status, &occ.BookingID); err != nil {
			return nil, fmt.Errorf("scan occupied range: %w", err)
		}
		out = append(out, occ)
	}
	return out, rows.Err()
}

// InsertBooked creates one booked slot row per requested range. The unique
// constraint on (sub_field_id, slot_date, start_ts, end_ts) is the last line
// of defense against a race the locking reads missed; the caller classifies
// the resulting unique violation as a conflict.
func (r *PostgresRepository) InsertBooked(ctx context.Context, tx pgx.Tx, bookingID string, date time.Time, ranges []RequestedRange) ([]Slot, error) {
	slots := make([]Slot, 0, len(ranges))
	for _, req := range ranges {
		multiplier := req.PriceMultiplier
		if multiplier == 0 {
			multiplier = 1
		}
		s := Slot{
			ID:              uuid.NewString(),
			SubFieldID:      req.SubFieldID,
			Date:            date,
			Range:           req.Range,
			Status:          StatusBooked,
			BookingID:       bookingID,
			PriceMultiplier: multiplier,
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO slots (id, sub_field_id, slot_date, start_ts, end_ts, status, booking_id, price_multiplier)
			VALUES ($1, $2, $3, $4, $5, 'booked', $6, $7)
		`, s.ID, s.SubFieldID, s.Date, s.Range.Start, s.Range.End, bookingID, multiplier)
		if err != nil {
			return nil, fmt.Errorf("insert booked slot: %w", err)
		}
		slots = append(slots, s)
	}
	return slots, nil
}

func (r *PostgresRepository) InsertMaintenance(ctx context.Context, tx pgx.Tx, subFieldID string, date time.Time, rng Range, reason string, until time.Time) (Slot, error) {
	s := Slot{
		ID:                uuid.NewString(),
		SubFieldID:        subFieldID,
		Date:              date,
		Range:             rng,
		Status:            StatusMaintenance,
		MaintenanceReason: reason,
		MaintenanceUntil:  until,
		PriceMultiplier:   1,
	}
	var untilArg any
	if !until.IsZero() {
		untilArg = until
	}
	_, err := tx.Exec(ctx, `
		INSERT INTO slots (id, sub_field_id, slot_date, start_ts, end_ts, status, maintenance_reason, maintenance_until)
		VALUES ($1, $2, $3, $4, $5, 'maintenance', $6, $7)
	`, s.ID, s.SubFieldID, s.Date, s.Range.Start, s.Range.End, reason, untilArg)
	if err != nil {
		return Slot{}, fmt.Errorf("insert maintenance slot: %w", err)
	}
	return s, nil
}

// DeleteByBooking releases every slot a booking holds. Rows are deleted, not
// flipped to a status: an absent row is the representation of "available".
// The released ranges are returned so the caller can invalidate caches and
// publish occupancy events.
func (r *PostgresRepository) DeleteByBooking(ctx context.Context, tx pgx.Tx, bookingID string) ([]Released, error) {
	rows, err := tx.Query(ctx, `
		DELETE FROM slots
		WHERE booking_id=$1
		RETURNING sub_field_id, slot_date, start_ts, end_ts
	`, bookingID)
	if err != nil {
		return nil, fmt.Errorf("delete slots for booking: %w", err)
	}
	defer rows.Close()

	var out []Released
	for rows.Next() {
		var rel Released
		if err := rows.Scan(&rel.SubFieldID, &rel.Date, &rel.Start, &rel.End); err != nil {
			return nil, fmt.Errorf("scan released slot: %w", err)
		}
		out = append(out, rel)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) DeleteMaintenance(ctx context.Context, tx pgx.Tx, slotID string) error {
	tag, err := tx.Exec(ctx, `
		DELETE FROM slots WHERE id=$1 AND status='maintenance'
	`, slotID)
	if err != nil {
		return fmt.Errorf("delete maintenance slot: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
