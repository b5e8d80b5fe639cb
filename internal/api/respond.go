package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/hackgods/doctor-appointment-booking/internal/appointment"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}

// errorMessages holds the per-operation wording for outcomes whose text
// depends on which request produced them.
type errorMessages struct {
	notFound  string
	slotTaken string
}

var defaultMessages = errorMessages{
	notFound:  "Appointment not found.",
	slotTaken: "Time slot is already booked for this doctor.",
}

func respondServiceError(w http.ResponseWriter, err error, msgs errorMessages) {
	if msgs.notFound == "" {
		msgs.notFound = defaultMessages.notFound
	}
	if msgs.slotTaken == "" {
		msgs.slotTaken = defaultMessages.slotTaken
	}

	switch {
	case errors.Is(err, appointment.ErrMissingField):
		writeError(w, http.StatusBadRequest, "missing_field", "All fields are required.")
	case errors.Is(err, appointment.ErrInvalidDoctor):
		writeError(w, http.StatusBadRequest, "invalid_doctor", "Invalid doctor name.")
	case errors.Is(err, appointment.ErrSlotTaken):
		writeError(w, http.StatusBadRequest, "slot_taken", msgs.slotTaken)
	case errors.Is(err, appointment.ErrAppointmentNotFound):
		writeError(w, http.StatusNotFound, "appointment_not_found", msgs.notFound)
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", "Internal server error.")
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return false
	}
	return true
}
