package slot

import "time"

type Status string

const (
	// StatusAvailable is never stored: a slot row exists only while a
	// time range is occupied. Absence of a row means available.
	StatusAvailable   Status = "available"
	StatusBooked      Status = "booked"
	StatusMaintenance Status = "maintenance"
)

// Range is a half-open time interval [Start, End) on a single date.
type Range struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Overlaps reports whether two half-open ranges intersect.
// Touching endpoints ([10:00,11:00) and [11:00,12:00)) do not overlap.
func (r Range) Overlaps(other Range) bool {
	return r.Start.Before(other.End) && other.Start.Before(r.End)
}

// Valid reports whether the range is non-empty and well ordered.
func (r Range) Valid() bool {
	return r.Start.Before(r.End)
}

type Slot struct {
	ID                string    `json:"slotId"`
	SubFieldID        string    `json:"subFieldId"`
	Date              time.Time `json:"date"`
	Range             Range     `json:"range"`
	Status            Status    `json:"status"`
	BookingID         string    `json:"bookingId,omitempty"`
	MaintenanceReason string    `json:"maintenanceReason,omitempty"`
	MaintenanceUntil  time.Time `json:"maintenanceUntil,omitempty"`
	PriceMultiplier   float64   `json:"priceMultiplier"`
	CreatedAt         time.Time `json:"createdAt"`
	UpdatedAt         time.Time `json:"updatedAt"`
}

// Occupied is one occupied range on a (sub-field, date), as returned by the
// availability queries. BookingID is empty for maintenance slots.
type Occupied struct {
	SlotID    string `json:"slotId"`
	Range
	Status    Status `json:"status"`
	BookingID string `json:"bookingId,omitempty"`
}

// Released is a slot row freed back to implicit availability.
type Released struct {
	SubFieldID string
	Date       time.Time
	Range
}

// RequestedRange is one unit of a reservation request.
type RequestedRange struct {
	SubFieldID      string
	Range           Range
	PriceMultiplier float64
}
