package booking

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
)

var testDate = time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC)

func newMock(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	t.Cleanup(mock.Close)
	return mock
}

func bookingRow(id string, status Status, payment PaymentStatus, total float64, createdAt time.Time) *pgxmock.Rows {
	return pgxmock.NewRows([]string{
		"id", "field_id", "customer_id", "customer_name", "customer_email",
		"customer_phone", "status", "payment_status", "total_price",
		"is_owner_booking", "created_at", "updated_at",
	}).AddRow(id, "field-1", "", "Jane", "jane@example.com", "", status, payment, total, false, createdAt, createdAt)
}

func TestFindRecentDuplicate(t *testing.T) {
	ctx := context.Background()
	since := testDate.Add(-30 * time.Second)

	t.Run("match returns the existing booking", func(t *testing.T) {
		mock := newMock(t)
		repo := NewPostgresRepository(mock)

		mock.ExpectQuery(`WHERE customer_email = lower`).
			WithArgs("Jane@Example.com", "field-1", since, 500.0, 5.0, testDate).
			WillReturnRows(bookingRow("bk-1", StatusPaymentPending, PaymentPending, 500, testDate))

		b, found, err := repo.FindRecentDuplicate(ctx, "Jane@Example.com", "field-1", testDate, 500, since, 0.01)
		if err != nil {
			t.Fatalf("find duplicate: %v", err)
		}
		if !found || b.ID != "bk-1" {
			t.Fatalf("expected bk-1, got found=%v %+v", found, b)
		}
	})

	t.Run("no match is not an error", func(t *testing.T) {
		mock := newMock(t)
		repo := NewPostgresRepository(mock)

		mock.ExpectQuery(`WHERE customer_email = lower`).
			WithArgs("jane@example.com", "field-1", since, 500.0, 5.0, testDate).
			WillReturnError(pgx.ErrNoRows)

		_, found, err := repo.FindRecentDuplicate(ctx, "jane@example.com", "field-1", testDate, 500, since, 0.01)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if found {
			t.Fatal("expected no duplicate")
		}
	})
}

func TestFindExpired(t *testing.T) {
	ctx := context.Background()
	mock := newMock(t)
	repo := NewPostgresRepository(mock)

	cutoff := testDate.Add(-10 * time.Minute)
	mock.ExpectQuery(`WHERE status IN`).
		WithArgs(cutoff, 100).
		WillReturnRows(bookingRow("bk-old", StatusPaymentPending, PaymentPending, 300, cutoff.Add(-time.Minute)))

	expired, err := repo.FindExpired(ctx, cutoff, 100)
	if err != nil {
		t.Fatalf("find expired: %v", err)
	}
	if len(expired) != 1 || expired[0].ID != "bk-old" {
		t.Fatalf("unexpected expired set: %+v", expired)
	}
}

func TestConfirmPayment(t *testing.T) {
	ctx := context.Background()

	t.Run("confirms a live booking", func(t *testing.T) {
		mock := newMock(t)
		repo := NewPostgresRepository(mock)

		mock.ExpectBegin()
		mock.ExpectExec(`UPDATE bookings SET status='confirmed'`).
			WithArgs("bk-1").
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))

		tx, _ := repo.BeginTx(ctx, pgx.TxOptions{})
		if err := repo.ConfirmPayment(ctx, tx, "bk-1"); err != nil {
			t.Fatalf("confirm payment: %v", err)
		}
	})

	t.Run("cancelled booking is not resurrected", func(t *testing.T) {
		mock := newMock(t)
		repo := NewPostgresRepository(mock)

		mock.ExpectBegin()
		mock.ExpectExec(`UPDATE bookings SET status='confirmed'`).
			WithArgs("bk-cancelled").
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))

		tx, _ := repo.BeginTx(ctx, pgx.TxOptions{})
		if err := repo.ConfirmPayment(ctx, tx, "bk-cancelled"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestCancel(t *testing.T) {
	ctx := context.Background()
	mock := newMock(t)
	repo := NewPostgresRepository(mock)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE bookings SET status='cancelled'`).
		WithArgs("bk-1", PaymentFailed).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	tx, _ := repo.BeginTx(ctx, pgx.TxOptions{})
	if err := repo.Cancel(ctx, tx, "bk-1", PaymentFailed); err != nil {
		t.Fatalf("cancel: %v", err)
	}
}

func TestInsert(t *testing.T) {
	ctx := context.Background()
	mock := newMock(t)
	repo := NewPostgresRepository(mock)

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO bookings`).
		WithArgs("bk-1", "field-1", nil, "Jane", "Jane@Example.com", "", StatusPaymentPending, PaymentPending, 500.0, false).
		WillReturnRows(pgxmock.NewRows([]string{"created_at", "updated_at"}).AddRow(testDate, testDate))

	tx, _ := repo.BeginTx(ctx, pgx.TxOptions{})
	b := &Booking{
		ID:            "bk-1",
		FieldID:       "field-1",
		Customer:      Customer{Name: "Jane", Email: "Jane@Example.com"},
		Status:        StatusPaymentPending,
		PaymentStatus: PaymentPending,
		TotalPrice:    500,
	}
	if err := repo.Insert(ctx, tx, b); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if !b.CreatedAt.Equal(testDate) {
		t.Fatalf("created_at not scanned back: %v", b.CreatedAt)
	}
}
