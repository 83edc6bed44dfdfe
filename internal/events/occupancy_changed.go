package events

import "time"

const (
	EventTypeOccupancyChanged = "SlotOccupancyChanged"

	occupancyChangedSchema = "fieldbook.events.slot-occupancy-changed.v1"
)

// OccupancyChangedPayload announces that the occupied ranges of a field
// changed on one date. Fan-out to connected clients is the realtime
// collaborator's job; this service only reports committed writes.
type OccupancyChangedPayload struct {
	FieldID   string         `json:"fieldId"`
	Date      string         `json:"date"` // YYYY-MM-DD
	Status    string         `json:"status"`
	Ranges    []PayloadRange `json:"ranges"`
	Timestamp time.Time      `json:"timestamp"`
}

type PayloadRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

type OccupancyChangedEvent struct {
	EventEnvelope
	Payload OccupancyChangedPayload `json:"payload"`
}
