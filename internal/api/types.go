package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/doctor-appointment-booking/internal/appointment"
)

type BookAppointmentRequest struct {
	FirstName  string `json:"firstName"`
	LastName   string `json:"lastName"`
	Email      string `json:"email"`
	TimeSlot   string `json:"timeSlot"`
	DoctorName string `json:"doctorName"`
}

type CancelAppointmentRequest struct {
	Email    string `json:"email"`
	TimeSlot string `json:"timeSlot"`
}

type RescheduleAppointmentRequest struct {
	Email            string `json:"email"`
	OriginalTimeSlot string `json:"originalTimeSlot"`
	NewTimeSlot      string `json:"newTimeSlot"`
}

type PatientResponse struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email"`
}

type AppointmentResponse struct {
	ID         uuid.UUID       `json:"id"`
	Patient    PatientResponse `json:"patient"`
	TimeSlot   string          `json:"timeSlot"`
	DoctorName string          `json:"doctorName"`
	CreatedAt  time.Time       `json:"createdAt"`
	UpdatedAt  time.Time       `json:"updatedAt"`
}

type AppointmentMessageResponse struct {
	Message     string              `json:"message"`
	Appointment AppointmentResponse `json:"appointment"`
}

type AppointmentListResponse struct {
	Appointments []AppointmentResponse `json:"appointments"`
}

type DoctorListResponse struct {
	Doctors []string `json:"doctors"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func toAppointmentResponse(a appointment.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID: a.ID,
		Patient: PatientResponse{
			FirstName: a.Patient.FirstName,
			LastName:  a.Patient.LastName,
			Email:     a.Patient.Email,
		},
		TimeSlot:   a.TimeSlot,
		DoctorName: a.DoctorName,
		CreatedAt:  a.CreatedAt,
		UpdatedAt:  a.UpdatedAt,
	}
}

func toAppointmentList(list []appointment.Appointment) AppointmentListResponse {
	out := make([]AppointmentResponse, 0, len(list))
	for _, a := range list {
		out = append(out, toAppointmentResponse(a))
	}
	return AppointmentListResponse{Appointments: out}
}
