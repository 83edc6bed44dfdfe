package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/WDP301-BKS/reservation-service-go/internal/booking"
	"github.com/WDP301-BKS/reservation-service-go/internal/maintenance"
	"github.com/WDP301-BKS/reservation-service-go/internal/reservation"
	"github.com/WDP301-BKS/reservation-service-go/internal/slot"
)

type ReservationService interface {
	Reserve(ctx context.Context, req reservation.ReserveRequest) (reservation.ReserveResult, error)
	Release(ctx context.Context, bookingID string) (booking.Booking, error)
	Occupied(ctx context.Context, fieldID string, date time.Time) ([]slot.Occupied, error)
}

type MaintenanceService interface {
	Set(ctx context.Context, req maintenance.SetRequest) (maintenance.SetResult, error)
	Toggle(ctx context.Context, slotID string) (slot.Slot, error)
	Remove(ctx context.Context, slotIDs []string) ([]slot.Slot, []string, error)
}

type Handler struct {
	reservations ReservationService
	maintenance  MaintenanceService
	validate     *validator.Validate
}

func NewHandler(reservations ReservationService, maint MaintenanceService) *Handler {
	return &Handler{
		reservations: reservations,
		maintenance:  maint,
		validate:     validator.New(),
	}
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

type reserveRange struct {
	SubFieldID      string  `json:"subFieldId" validate:"required"`
	Start           string  `json:"start" validate:"required,datetime=15:04"`
	End             string  `json:"end" validate:"required,datetime=15:04"`
	PriceMultiplier float64 `json:"priceMultiplier" validate:"gte=0"`
}

type customerPayload struct {
	ID    string `json:"customerId" validate:"omitempty,uuid"`
	Name  string `json:"name"`
	Email string `json:"email" validate:"omitempty,email"`
	Phone string `json:"phone"`
}

type reserveRequest struct {
	FieldID      string          `json:"fieldId" validate:"required,uuid"`
	Date         string          `json:"date" validate:"required,datetime=2006-01-02"`
	Ranges       []reserveRange  `json:"ranges" validate:"required,min=1,dive"`
	Customer     customerPayload `json:"customer"`
	TotalPrice   float64         `json:"totalPrice" validate:"gte=0"`
	OwnerBooking bool            `json:"ownerBooking"`
}

type reserveResponse struct {
	Booking     *booking.Booking `json:"booking,omitempty"`
	Slots       []slot.Slot      `json:"slots,omitempty"`
	Resubmitted bool             `json:"resubmitted,omitempty"`
}

type conflictResponse struct {
	Error    string                `json:"error"`
	Conflict *reservation.Conflict `json:"conflict"`
}

func (h *Handler) Reserve(w http.ResponseWriter, r *http.Request) {
	var req reserveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	date, err := parseDate(req.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ranges := make([]slot.RequestedRange, 0, len(req.Ranges))
	for _, rr := range req.Ranges {
		rng, err := parseRange(date, rr.Start, rr.End)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		ranges = append(ranges, slot.RequestedRange{
			SubFieldID:      rr.SubFieldID,
			Range:           rng,
			PriceMultiplier: rr.PriceMultiplier,
		})
	}

	res, err := h.reservations.Reserve(r.Context(), reservation.ReserveRequest{
		FieldID: req.FieldID,
		Date:    date,
		Ranges:  ranges,
		Customer: booking.Customer{
			ID:    req.Customer.ID,
			Name:  req.Customer.Name,
			Email: req.Customer.Email,
			Phone: req.Customer.Phone,
		},
		TotalPrice:   req.TotalPrice,
		OwnerBooking: req.OwnerBooking,
	})
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	if res.Conflict != nil {
		writeJSON(w, http.StatusConflict, conflictResponse{
			Error:    "slot already taken, please retry with a different time",
			Conflict: res.Conflict,
		})
		return
	}
	status := http.StatusCreated
	if res.Resubmitted {
		status = http.StatusOK
	}
	writeJSON(w, status, reserveResponse{
		Booking:     res.Booking,
		Slots:       res.Slots,
		Resubmitted: res.Resubmitted,
	})
}

func (h *Handler) Release(w http.ResponseWriter, r *http.Request) {
	bookingID := chi.URLParam(r, "bookingId")
	b, err := h.reservations.Release(r.Context(), bookingID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (h *Handler) GetAvailability(w http.ResponseWriter, r *http.Request) {
	fieldID := chi.URLParam(r, "fieldId")
	date, err := parseDate(r.URL.Query().Get("date"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	occupied, err := h.reservations.Occupied(r.Context(), fieldID, date)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"fieldId":  fieldID,
		"date":     date.Format("2006-01-02"),
		"occupied": occupied,
	})
}

type setMaintenanceRequest struct {
	SubFieldIDs []string `json:"subFieldIds" validate:"required,min=1,dive,required"`
	FromDate    string   `json:"fromDate" validate:"required,datetime=2006-01-02"`
	ToDate      string   `json:"toDate" validate:"required,datetime=2006-01-02"`
	Start       string   `json:"start" validate:"required,datetime=15:04"`
	End         string   `json:"end" validate:"required,datetime=15:04"`
	Reason      string   `json:"reason" validate:"required"`
	Until       string   `json:"estimatedCompletion" validate:"omitempty"`
}

func (h *Handler) SetMaintenance(w http.ResponseWriter, r *http.Request) {
	var req setMaintenanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	fromDate, err := parseDate(req.FromDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	toDate, err := parseDate(req.ToDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	start, err := parseClock(req.Start)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	end, err := parseClock(req.End)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var until time.Time
	if req.Until != "" {
		until, err = time.Parse(time.RFC3339, req.Until)
		if err != nil {
			writeError(w, http.StatusBadRequest, "estimatedCompletion must be RFC 3339")
			return
		}
	}

	res, err := h.maintenance.Set(r.Context(), maintenance.SetRequest{
		SubFieldIDs: req.SubFieldIDs,
		FromDate:    fromDate,
		ToDate:      toDate,
		Start:       start,
		End:         end,
		Reason:      req.Reason,
		Until:       until,
	})
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) ToggleMaintenance(w http.ResponseWriter, r *http.Request) {
	slotID := chi.URLParam(r, "slotId")
	s, err := h.maintenance.Toggle(r.Context(), slotID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

type removeMaintenanceRequest struct {
	SlotIDs []string `json:"slotIds" validate:"required,min=1,dive,required"`
}

func (h *Handler) RemoveMaintenance(w http.ResponseWriter, r *http.Request) {
	var req removeMaintenanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	removed, skipped, err := h.maintenance.Remove(r.Context(), req.SlotIDs)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"removed": removed,
		"skipped": skipped,
	})
}

func (h *Handler) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, reservation.ErrValidation),
		errors.Is(err, maintenance.ErrReasonRequired),
		errors.Is(err, maintenance.ErrInvalidRange):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, maintenance.ErrSlotBooked):
		writeError(w, http.StatusConflict, err.Error())
	case slot.IsConflictError(err):
		writeError(w, http.StatusConflict, "slot already taken, please retry with a different time")
	case errors.Is(err, slot.ErrNotFound), errors.Is(err, booking.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func parseDate(raw string) (time.Time, error) {
	date, err := time.ParseInLocation("2006-01-02", raw, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("date must be YYYY-MM-DD")
	}
	return date, nil
}

func parseClock(raw string) (time.Duration, error) {
	t, err := time.Parse("15:04", raw)
	if err != nil {
		return 0, fmt.Errorf("time must be HH:MM")
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}

func parseRange(date time.Time, start, end string) (slot.Range, error) {
	startOff, err := parseClock(start)
	if err != nil {
		return slot.Range{}, err
	}
	endOff, err := parseClock(end)
	if err != nil {
		return slot.Range{}, err
	}
	return slot.Range{Start: date.Add(startOff), End: date.Add(endOff)}, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
