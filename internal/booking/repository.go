package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var ErrNotFound = errors.New("not found")

// DBPool matches the methods from *pgxpool.Pool that we use.
type DBPool interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

type Repository interface {
	Get(ctx context.Context, bookingID string) (Booking, error)
	FindRecentDuplicate(ctx context.Context, email, fieldID string, date time.Time, totalPrice float64, since time.Time, tolerance float64) (Booking, bool, error)
	FindExpired(ctx context.Context, cutoff time.Time, limit int) ([]Booking, error)
	SetPayment(ctx context.Context, bookingID string, status Status, payment PaymentStatus) error
}

type TxRepository interface {
	Repository
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
	Insert(ctx context.Context, tx pgx.Tx, b *Booking) error
	GetForUpdate(ctx context.Context, tx pgx.Tx, bookingID string) (Booking, error)
	Cancel(ctx context.Context, tx pgx.Tx, bookingID string, payment PaymentStatus) error
	ConfirmPayment(ctx context.Context, tx pgx.Tx, bookingID string) error
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

const selectBookingSQL = `
	SELECT id, field_id, COALESCE(customer_id::text, ''), customer_name, customer_email,
	       COALESCE(customer_phone, ''), status, payment_status, total_price,
	       is_owner_booking, created_at, updated_at
	FROM bookings`

func scanBooking(row pgx.Row) (Booking, error) {
	var b Booking
	err := row.Scan(
		&b.ID, &b.FieldID, &b.Customer.ID, &b.Customer.Name, &b.Customer.Email,
		&b.Customer.Phone, &b.Status, &b.PaymentStatus, &b.TotalPrice,
		&b.OwnerBooking, &b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Booking{}, ErrNotFound
		}
		return Booking{}, err
	}
	return b, nil
}

func (r *PostgresRepository) Get(ctx context.Context, bookingID string) (Booking, error) {
	return scanBooking(r.pool.QueryRow(ctx, selectBookingSQL+` WHERE id=$1`, bookingID))
}

func (r *PostgresRepository) GetForUpdate(ctx context.Context, tx pgx.Tx, bookingID string) (Booking, error) {
	return scanBooking(tx.QueryRow(ctx, selectBookingSQL+` WHERE id=$1 FOR UPDATE`, bookingID))
}

func (r *PostgresRepository) Insert(ctx context.Context, tx pgx.Tx, b *Booking) error {
	var customerID any
	if b.Customer.ID != "" {
		customerID = b.Customer.ID
	}
	row := tx.QueryRow(ctx, `
		INSERT INTO bookings (id, field_id, customer_id, customer_name, customer_email,
		                      customer_phone, status, payment_status, total_price, is_owner_booking)
		VALUES ($1, $2, $3, $4, lower($5), $6, $7, $8, $9, $10)
		RETURNING created_at, updated_at
	`, b.ID, b.FieldID, customerID, b.Customer.Name, b.Customer.Email,
		b.Customer.Phone, b.Status, b.PaymentStatus, b.TotalPrice, b.OwnerBooking)
	if err := row.Scan(&b.CreatedAt, &b.UpdatedAt); err != nil {
		return fmt.Errorf("insert booking: %w", err)
	}
	return nil
}

// FindRecentDuplicate looks for a live booking with the same normalized
// customer email, same field, a slot on the same date, and a total price
// within tolerance, created after the given instant. Matching is indexed
// equality on customer_email, not a fuzzy payload search.
func (r *PostgresRepository) FindRecentDuplicate(ctx context.Context, email, fieldID string, date time.Time, totalPrice float64, since time.Time, tolerance float64) (Booking, bool, error) {
	b, err := scanBooking(r.pool.QueryRow(ctx, selectBookingSQL+`
		WHERE customer_email = lower($1)
		  AND field_id = $2
		  AND status <> 'cancelled'
		  AND created_at >= $3
		  AND abs(total_price - $4) <= $5
		  AND EXISTS (
			SELECT 1 FROM slots s WHERE s.booking_id = bookings.id AND s.slot_date = $6
		  )
		ORDER BY created_at DESC
		LIMIT 1
	`, email, fieldID, since, totalPrice, totalPrice*tolerance, date))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Booking{}, false, nil
		}
		return Booking{}, false, fmt.Errorf("find duplicate booking: %w", err)
	}
	return b, true, nil
}

// FindExpired returns customer bookings whose payment never completed within
// the timeout. Owner bookings have no payment step and are never swept.
func (r *PostgresRepository) FindExpired(ctx context.Context, cutoff time.Time, limit int) ([]Booking, error) {
	rows, err := r.pool.Query(ctx, selectBookingSQL+`
		WHERE status IN ('pending', 'payment_pending')
		  AND payment_status = 'pending'
		  AND NOT is_owner_booking
		  AND created_at < $1
		ORDER BY created_at
		LIMIT $2
	`, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("find expired bookings: %w", err)
	}
	defer rows.Close()

	var out []Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// SetPayment records a payment outcome on a booking.
func (r *PostgresRepository) SetPayment(ctx context.Context, bookingID string, status Status, payment PaymentStatus) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE bookings SET status=$2, payment_status=$3, updated_at=now()
		WHERE id=$1
	`, bookingID, status, payment)
	if err != nil {
		return fmt.Errorf("set payment status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ConfirmPayment moves a booking to confirmed/paid inside the caller's
// transaction. Cancelled bookings stay cancelled: a payment-success event
// arriving after the expiry sweep must not resurrect released slots.
func (r *PostgresRepository) ConfirmPayment(ctx context.Context, tx pgx.Tx, bookingID string) error {
	tag, err := tx.Exec(ctx, `
		UPDATE bookings SET status='confirmed', payment_status='paid', updated_at=now()
		WHERE id=$1 AND status <> 'cancelled'
	`, bookingID)
	if err != nil {
		return fmt.Errorf("confirm payment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Cancel marks the booking cancelled inside the caller's transaction. The
// row is kept: cancelled bookings stay behind as audit trail.
func (r *PostgresRepository) Cancel(ctx context.Context, tx pgx.Tx, bookingID string, payment PaymentStatus) error {
	tag, err := tx.Exec(ctx, `
		UPDATE bookings SET status='cancelled', payment_status=$2, updated_at=now()
		WHERE id=$1
	`, bookingID, payment)
	if err != nil {
		return fmt.Errorf("cancel booking: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
