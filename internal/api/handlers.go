package api

import (
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"github.com/hackgods/doctor-appointment-booking/internal/appointment"
)

func bookAppointmentHandler(svc BookingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req BookAppointmentRequest
		if !decodeBody(w, r, &req) {
			return
		}

		appt, err := svc.Book(r.Context(), appointment.BookRequest{
			FirstName:  req.FirstName,
			LastName:   req.LastName,
			Email:      req.Email,
			TimeSlot:   req.TimeSlot,
			DoctorName: req.DoctorName,
		})
		if err != nil {
			respondServiceError(w, err, errorMessages{})
			return
		}

		writeJSON(w, http.StatusCreated, AppointmentMessageResponse{
			Message:     "Appointment booked successfully.",
			Appointment: toAppointmentResponse(*appt),
		})
	}
}

func listPatientAppointmentsHandler(svc BookingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := svc.ListByPatient(r.Context(), urlParam(r, "email"))
		if err != nil {
			respondServiceError(w, err, errorMessages{notFound: "No appointments found."})
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentList(list))
	}
}

func listDoctorAppointmentsHandler(svc BookingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := svc.ListByDoctor(r.Context(), urlParam(r, "doctorName"))
		if err != nil {
			respondServiceError(w, err, errorMessages{})
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentList(list))
	}
}

func cancelAppointmentHandler(svc BookingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CancelAppointmentRequest
		if !decodeBody(w, r, &req) {
			return
		}

		appt, err := svc.Cancel(r.Context(), req.Email, req.TimeSlot)
		if err != nil {
			respondServiceError(w, err, errorMessages{})
			return
		}

		writeJSON(w, http.StatusOK, AppointmentMessageResponse{
			Message:     "Appointment cancelled successfully.",
			Appointment: toAppointmentResponse(*appt),
		})
	}
}

func rescheduleAppointmentHandler(svc BookingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req RescheduleAppointmentRequest
		if !decodeBody(w, r, &req) {
			return
		}

		appt, err := svc.Reschedule(r.Context(), req.Email, req.OriginalTimeSlot, req.NewTimeSlot)
		if err != nil {
			respondServiceError(w, err, errorMessages{
				notFound:  "Original appointment not found.",
				slotTaken: "New time slot is already booked for this doctor.",
			})
			return
		}

		writeJSON(w, http.StatusOK, AppointmentMessageResponse{
			Message:     "Appointment updated successfully.",
			Appointment: toAppointmentResponse(*appt),
		})
	}
}

func listDoctorsHandler(doctors DoctorLister) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, DoctorListResponse{Doctors: doctors.Names()})
	}
}

// urlParam returns the decoded path parameter. chi hands back the escaped
// form when the request carried a RawPath.
func urlParam(r *http.Request, key string) string {
	raw := chi.URLParam(r, key)
	if r.URL.RawPath == "" {
		return raw
	}
	if v, err := url.PathUnescape(raw); err == nil {
		return v
	}
	return raw
}
