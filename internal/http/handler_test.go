package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/WDP301-BKS/reservation-service-go/internal/booking"
	"github.com/WDP301-BKS/reservation-service-go/internal/maintenance"
	"github.com/WDP301-BKS/reservation-service-go/internal/reservation"
	"github.com/WDP301-BKS/reservation-service-go/internal/slot"
)

const testFieldID = "7b2e4a1c-9f3d-4e5b-8a6c-1d2e3f4a5b6c"

type fakeReservations struct {
	reserveFunc  func(ctx context.Context, req reservation.ReserveRequest) (reservation.ReserveResult, error)
	releaseFunc  func(ctx context.Context, bookingID string) (booking.Booking, error)
	occupiedFunc func(ctx context.Context, fieldID string, date time.Time) ([]slot.Occupied, error)
}

func (f *fakeReservations) Reserve(ctx context.Context, req reservation.ReserveRequest) (reservation.ReserveResult, error) {
	if f.reserveFunc != nil {
		return f.reserveFunc(ctx, req)
	}
	return reservation.ReserveResult{}, nil
}

func (f *fakeReservations) Release(ctx context.Context, bookingID string) (booking.Booking, error) {
	if f.releaseFunc != nil {
		return f.releaseFunc(ctx, bookingID)
	}
	return booking.Booking{}, nil
}

func (f *fakeReservations) Occupied(ctx context.Context, fieldID string, date time.Time) ([]slot.Occupied, error) {
	if f.occupiedFunc != nil {
		return f.occupiedFunc(ctx, fieldID, date)
	}
	return nil, nil
}

type fakeMaintenance struct {
	setFunc    func(ctx context.Context, req maintenance.SetRequest) (maintenance.SetResult, error)
	toggleFunc func(ctx context.Context, slotID string) (slot.Slot, error)
	removeFunc func(ctx context.Context, slotIDs []string) ([]slot.Slot, []string, error)
}

func (f *fakeMaintenance) Set(ctx context.Context, req maintenance.SetRequest) (maintenance.SetResult, error) {
	if f.setFunc != nil {
		return f.setFunc(ctx, req)
	}
	return maintenance.SetResult{}, nil
}

func (f *fakeMaintenance) Toggle(ctx context.Context, slotID string) (slot.Slot, error) {
	if f.toggleFunc != nil {
		return f.toggleFunc(ctx, slotID)
	}
	return slot.Slot{}, nil
}

func (f *fakeMaintenance) Remove(ctx context.Context, slotIDs []string) ([]slot.Slot, []string, error) {
	if f.removeFunc != nil {
		return f.removeFunc(ctx, slotIDs)
	}
	return nil, nil, nil
}

func serve(t *testing.T, reservations ReservationService, maint MaintenanceService, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	rr := httptest.NewRecorder()
	NewRouter(NewHandler(reservations, maint)).ServeHTTP(rr, req)
	return rr
}

func validReserveBody() map[string]any {
	return map[string]any{
		"fieldId": testFieldID,
		"date":    "2026-09-01",
		"ranges": []map[string]any{
			{"subFieldId": "sf-1", "start": "10:00", "end": "11:00", "priceMultiplier": 1.0},
		},
		"customer":   map[string]any{"name": "Ane Larsen", "email": "ane@example.com", "phone": "12345678"},
		"totalPrice": 250.0,
	}
}

func TestReserve_Created(t *testing.T) {
	reservations := &fakeReservations{
		reserveFunc: func(ctx context.Context, req reservation.ReserveRequest) (reservation.ReserveResult, error) {
			require.Equal(t, testFieldID, req.FieldID)
			require.Len(t, req.Ranges, 1)
			assert.Equal(t, "sf-1", req.Ranges[0].SubFieldID)
			assert.Equal(t, time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC), req.Ranges[0].Range.Start)
			assert.Equal(t, time.Date(2026, 9, 1, 11, 0, 0, 0, time.UTC), req.Ranges[0].Range.End)
			return reservation.ReserveResult{
				Booking: &booking.Booking{ID: "bk-1", FieldID: req.FieldID, Status: booking.StatusPaymentPending},
				Slots:   []slot.Slot{{ID: "slot-1", SubFieldID: "sf-1", Status: slot.StatusBooked}},
			}, nil
		},
	}

	rr := serve(t, reservations, &fakeMaintenance{}, http.MethodPost, "/api/reservations", validReserveBody())

	require.Equal(t, http.StatusCreated, rr.Code)

	var resp reserveResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	require.NotNil(t, resp.Booking)
	assert.Equal(t, "bk-1", resp.Booking.ID)
	assert.Len(t, resp.Slots, 1)
	assert.False(t, resp.Resubmitted)
}

func TestReserve_ResubmissionReturnsOK(t *testing.T) {
	reservations := &fakeReservations{
		reserveFunc: func(ctx context.Context, req reservation.ReserveRequest) (reservation.ReserveResult, error) {
			return reservation.ReserveResult{
				Booking:     &booking.Booking{ID: "bk-1"},
				Resubmitted: true,
			}, nil
		},
	}

	rr := serve(t, reservations, &fakeMaintenance{}, http.MethodPost, "/api/reservations", validReserveBody())

	require.Equal(t, http.StatusOK, rr.Code)

	var resp reserveResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	assert.True(t, resp.Resubmitted)
}

func TestReserve_Conflict(t *testing.T) {
	occupied := slot.Range{
		Start: time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC),
		End:   time.Date(2026, 9, 1, 11, 0, 0, 0, time.UTC),
	}
	reservations := &fakeReservations{
		reserveFunc: func(ctx context.Context, req reservation.ReserveRequest) (reservation.ReserveResult, error) {
			return reservation.ReserveResult{
				Conflict: &reservation.Conflict{
					SubFieldID: "sf-1",
					Range:      req.Ranges[0].Range,
					Occupied:   occupied,
					Status:     slot.StatusBooked,
					BookingID:  "bk-other",
				},
			}, nil
		},
	}

	rr := serve(t, reservations, &fakeMaintenance{}, http.MethodPost, "/api/reservations", validReserveBody())

	require.Equal(t, http.StatusConflict, rr.Code)

	var resp conflictResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	require.NotNil(t, resp.Conflict)
	assert.Equal(t, "sf-1", resp.Conflict.SubFieldID)
	assert.Equal(t, "bk-other", resp.Conflict.BookingID)
	assert.NotEmpty(t, resp.Error)
}

func TestReserve_InvalidJSON(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/reservations", bytes.NewBufferString("{not json"))
	rr := httptest.NewRecorder()
	NewRouter(NewHandler(&fakeReservations{}, &fakeMaintenance{})).ServeHTTP(rr, req)

	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestReserve_ValidationRejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(body map[string]any)
	}{
		{"missing fieldId", func(body map[string]any) { delete(body, "fieldId") }},
		{"fieldId not a uuid", func(body map[string]any) { body["fieldId"] = "not-a-uuid" }},
		{"bad date", func(body map[string]any) { body["date"] = "01-09-2026" }},
		{"no ranges", func(body map[string]any) { body["ranges"] = []map[string]any{} }},
		{"bad start time", func(body map[string]any) {
			body["ranges"] = []map[string]any{{"subFieldId": "sf-1", "start": "25:99", "end": "11:00"}}
		}},
		{"negative price", func(body map[string]any) { body["totalPrice"] = -1.0 }},
		{"bad email", func(body map[string]any) {
			body["customer"] = map[string]any{"name": "x", "email": "not-an-email"}
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			body := validReserveBody()
			tc.mutate(body)

			rr := serve(t, &fakeReservations{}, &fakeMaintenance{}, http.MethodPost, "/api/reservations", body)

			require.Equal(t, http.StatusBadRequest, rr.Code)
		})
	}
}

func TestReserve_ServiceValidationError(t *testing.T) {
	reservations := &fakeReservations{
		reserveFunc: func(ctx context.Context, req reservation.ReserveRequest) (reservation.ReserveResult, error) {
			return reservation.ReserveResult{}, reservation.ErrValidation
		},
	}

	rr := serve(t, reservations, &fakeMaintenance{}, http.MethodPost, "/api/reservations", validReserveBody())

	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestRelease_Success(t *testing.T) {
	reservations := &fakeReservations{
		releaseFunc: func(ctx context.Context, bookingID string) (booking.Booking, error) {
			require.Equal(t, "bk-1", bookingID)
			return booking.Booking{ID: bookingID, Status: booking.StatusCancelled, PaymentStatus: booking.PaymentFailed}, nil
		},
	}

	rr := serve(t, reservations, &fakeMaintenance{}, http.MethodDelete, "/api/reservations/bk-1", nil)

	require.Equal(t, http.StatusOK, rr.Code)

	var resp booking.Booking
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	assert.Equal(t, booking.StatusCancelled, resp.Status)
}

func TestRelease_NotFound(t *testing.T) {
	reservations := &fakeReservations{
		releaseFunc: func(ctx context.Context, bookingID string) (booking.Booking, error) {
			return booking.Booking{}, booking.ErrNotFound
		},
	}

	rr := serve(t, reservations, &fakeMaintenance{}, http.MethodDelete, "/api/reservations/nope", nil)

	require.Equal(t, http.StatusNotFound, rr.Code)
}

func TestGetAvailability_Success(t *testing.T) {
	reservations := &fakeReservations{
		occupiedFunc: func(ctx context.Context, fieldID string, date time.Time) ([]slot.Occupied, error) {
			require.Equal(t, testFieldID, fieldID)
			require.Equal(t, time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC), date)
			return []slot.Occupied{{SlotID: "slot-1", Status: slot.StatusBooked}}, nil
		},
	}

	rr := serve(t, reservations, &fakeMaintenance{}, http.MethodGet, "/api/fields/"+testFieldID+"/availability?date=2026-09-01", nil)

	require.Equal(t, http.StatusOK, rr.Code)

	var resp struct {
		FieldID  string          `json:"fieldId"`
		Date     string          `json:"date"`
		Occupied []slot.Occupied `json:"occupied"`
	}
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	assert.Equal(t, testFieldID, resp.FieldID)
	assert.Equal(t, "2026-09-01", resp.Date)
	assert.Len(t, resp.Occupied, 1)
}

func TestGetAvailability_BadDate(t *testing.T) {
	rr := serve(t, &fakeReservations{}, &fakeMaintenance{}, http.MethodGet, "/api/fields/"+testFieldID+"/availability?date=yesterday", nil)

	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestSetMaintenance_Success(t *testing.T) {
	maint := &fakeMaintenance{
		setFunc: func(ctx context.Context, req maintenance.SetRequest) (maintenance.SetResult, error) {
			require.Equal(t, []string{"sf-1", "sf-2"}, req.SubFieldIDs)
			assert.Equal(t, 8*time.Hour, req.Start)
			assert.Equal(t, 10*time.Hour, req.End)
			assert.Equal(t, "pitch resurfacing", req.Reason)
			return maintenance.SetResult{
				Created: []slot.Slot{{ID: "slot-1", Status: slot.StatusMaintenance}},
				Skipped: []maintenance.SkippedUnit{},
			}, nil
		},
	}

	rr := serve(t, &fakeReservations{}, maint, http.MethodPost, "/api/maintenance", map[string]any{
		"subFieldIds": []string{"sf-1", "sf-2"},
		"fromDate":    "2026-09-01",
		"toDate":      "2026-09-03",
		"start":       "08:00",
		"end":         "10:00",
		"reason":      "pitch resurfacing",
	})

	require.Equal(t, http.StatusOK, rr.Code)

	var resp maintenance.SetResult
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	assert.Len(t, resp.Created, 1)
}

func TestSetMaintenance_MissingReason(t *testing.T) {
	rr := serve(t, &fakeReservations{}, &fakeMaintenance{}, http.MethodPost, "/api/maintenance", map[string]any{
		"subFieldIds": []string{"sf-1"},
		"fromDate":    "2026-09-01",
		"toDate":      "2026-09-01",
		"start":       "08:00",
		"end":         "10:00",
	})

	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestSetMaintenance_BadEstimatedCompletion(t *testing.T) {
	rr := serve(t, &fakeReservations{}, &fakeMaintenance{}, http.MethodPost, "/api/maintenance", map[string]any{
		"subFieldIds":         []string{"sf-1"},
		"fromDate":            "2026-09-01",
		"toDate":              "2026-09-01",
		"start":               "08:00",
		"end":                 "10:00",
		"reason":              "mowing",
		"estimatedCompletion": "tomorrow",
	})

	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestToggleMaintenance_Success(t *testing.T) {
	maint := &fakeMaintenance{
		toggleFunc: func(ctx context.Context, slotID string) (slot.Slot, error) {
			require.Equal(t, "slot-1", slotID)
			return slot.Slot{ID: slotID, Status: slot.StatusAvailable}, nil
		},
	}

	rr := serve(t, &fakeReservations{}, maint, http.MethodPost, "/api/maintenance/slots/slot-1/toggle", nil)

	require.Equal(t, http.StatusOK, rr.Code)

	var resp slot.Slot
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	assert.Equal(t, slot.StatusAvailable, resp.Status)
}

func TestToggleMaintenance_BookedSlot(t *testing.T) {
	maint := &fakeMaintenance{
		toggleFunc: func(ctx context.Context, slotID string) (slot.Slot, error) {
			return slot.Slot{}, maintenance.ErrSlotBooked
		},
	}

	rr := serve(t, &fakeReservations{}, maint, http.MethodPost, "/api/maintenance/slots/slot-1/toggle", nil)

	require.Equal(t, http.StatusConflict, rr.Code)
}

func TestToggleMaintenance_UnknownSlot(t *testing.T) {
	maint := &fakeMaintenance{
		toggleFunc: func(ctx context.Context, slotID string) (slot.Slot, error) {
			return slot.Slot{}, slot.ErrNotFound
		},
	}

	rr := serve(t, &fakeReservations{}, maint, http.MethodPost, "/api/maintenance/slots/missing/toggle", nil)

	require.Equal(t, http.StatusNotFound, rr.Code)
}

func TestRemoveMaintenance_Success(t *testing.T) {
	maint := &fakeMaintenance{
		removeFunc: func(ctx context.Context, slotIDs []string) ([]slot.Slot, []string, error) {
			require.Equal(t, []string{"slot-1", "slot-2"}, slotIDs)
			return []slot.Slot{{ID: "slot-1"}}, []string{"slot-2"}, nil
		},
	}

	rr := serve(t, &fakeReservations{}, maint, http.MethodDelete, "/api/maintenance", map[string]any{
		"slotIds": []string{"slot-1", "slot-2"},
	})

	require.Equal(t, http.StatusOK, rr.Code)

	var resp struct {
		Removed []slot.Slot `json:"removed"`
		Skipped []string    `json:"skipped"`
	}
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	assert.Len(t, resp.Removed, 1)
	assert.Equal(t, []string{"slot-2"}, resp.Skipped)
}

func TestRemoveMaintenance_EmptyList(t *testing.T) {
	rr := serve(t, &fakeReservations{}, &fakeMaintenance{}, http.MethodDelete, "/api/maintenance", map[string]any{
		"slotIds": []string{},
	})

	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestHealth(t *testing.T) {
	rr := serve(t, &fakeReservations{}, &fakeMaintenance{}, http.MethodGet, "/health", nil)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "ok", rr.Body.String())
}
