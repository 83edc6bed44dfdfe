package booking

import "time"

type Status string

const (
	StatusPending        Status = "pending"
	StatusPaymentPending Status = "payment_pending"
	StatusConfirmed      Status = "confirmed"
	StatusCancelled      Status = "cancelled"
	StatusCompleted      Status = "completed"
)

type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "pending"
	PaymentPaid     PaymentStatus = "paid"
	PaymentFailed   PaymentStatus = "failed"
	PaymentRefunded PaymentStatus = "refunded"
)

// Customer is the contact snapshot stored with a booking. CustomerID is
// empty for owner-created bookings.
type Customer struct {
	ID    string `json:"customerId,omitempty"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone,omitempty"`
}

type Booking struct {
	ID            string        `json:"bookingId"`
	FieldID       string        `json:"fieldId"`
	Customer      Customer      `json:"customer"`
	Status        Status        `json:"status"`
	PaymentStatus PaymentStatus `json:"paymentStatus"`
	TotalPrice    float64       `json:"totalPrice"`
	OwnerBooking  bool          `json:"ownerBooking"`
	CreatedAt     time.Time     `json:"createdAt"`
	UpdatedAt     time.Time     `json:"updatedAt"`
}

// Active reports whether the booking still occupies its slots.
func (b Booking) Active() bool {
	return b.Status != StatusCancelled
}
