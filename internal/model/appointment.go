package model

import (
	"time"

	"github.com/google/uuid"
)

type AppointmentStatus string

const (
	AppointmentStatusScheduled  AppointmentStatus = "scheduled"
	AppointmentStatusConfirmed  AppointmentStatus = "confirmed"
	AppointmentStatusInProgress AppointmentStatus = "in-progress"
	AppointmentStatusCompleted  AppointmentStatus = "completed"
	AppointmentStatusCancelled  AppointmentStatus = "cancelled"
	AppointmentStatusNoShow     AppointmentStatus = "no-show"
)

var validAppointmentStatuses = map[AppointmentStatus]bool{
	AppointmentStatusScheduled: true, AppointmentStatusConfirmed: true, AppointmentStatusInProgress: true,
	AppointmentStatusCompleted: true, AppointmentStatusCancelled: true, AppointmentStatusNoShow: true,
}

func ParseAppointmentStatus(s string) (AppointmentStatus, error) {
	return parseEnum("appointment status", validAppointmentStatuses, s)
}

func (s *AppointmentStatus) Scan(src interface{}) error {
	return scanEnum("appointment status", validAppointmentStatuses, s, src)
}

func (s *AppointmentStatus) UnmarshalJSON(data []byte) error {
	return unmarshalEnum("appointment status", validAppointmentStatuses, s, data)
}

// Blocking reports whether the appointment still occupies the doctor's slot.
func (s AppointmentStatus) Blocking() bool {
	return s == AppointmentStatusScheduled || s == AppointmentStatusConfirmed || s == AppointmentStatusInProgress
}

type Appointment struct {
	Base
	PatientID    uuid.UUID         `db:"patient_id" json:"patient_id"`
	DoctorID     uuid.UUID         `db:"doctor_id" json:"doctor_id"`
	StartTime    time.Time         `db:"start_time" json:"start_time"`
	EndTime      time.Time         `db:"end_time" json:"end_time"`
	Reason       string            `db:"reason" json:"reason"`
	Status       AppointmentStatus `db:"status" json:"status"`
	Notes        *string           `db:"notes" json:"notes,omitempty"`
	CancelReason *string           `db:"cancel_reason" json:"cancel_reason,omitempty"`
}

// Overlaps reports whether two appointments share any time.
func (a Appointment) Overlaps(start, end time.Time) bool {
	return a.StartTime.Before(end) && start.Before(a.EndTime)
}

type CreateAppointmentRequest struct {
	PatientID uuid.UUID `json:"patient_id" binding:"required"`
	DoctorID  uuid.UUID `json:"doctor_id" binding:"required"`
	StartTime time.Time `json:"start_time" binding:"required"`
	EndTime   time.Time `json:"end_time" binding:"required,gtfield=StartTime"`
	Reason    string    `json:"reason" binding:"required,max=500"`
	Notes     *string   `json:"notes" binding:"omitempty,max=1000"`
}

type UpdateAppointmentRequest struct {
	StartTime    *time.Time         `json:"start_time"`
	EndTime      *time.Time         `json:"end_time"`
	Reason       *string            `json:"reason" binding:"omitempty,max=500"`
	Status       *AppointmentStatus `json:"status"`
	Notes        *string            `json:"notes" binding:"omitempty,max=1000"`
	CancelReason *string            `json:"cancel_reason" binding:"omitempty,max=500"`
}

func (r UpdateAppointmentRequest) Apply(a Appointment) Appointment {
	if r.StartTime != nil {
		a.StartTime = *r.StartTime
	}
	if r.EndTime != nil {
		a.EndTime = *r.EndTime
	}
	if r.Reason != nil {
		a.Reason = *r.Reason
	}
	if r.Status != nil {
		a.Status = *r.Status
	}
	if r.Notes != nil {
		a.Notes = r.Notes
	}
	if r.CancelReason != nil {
		a.CancelReason = r.CancelReason
	}
	return a
}

type AppointmentFilters struct {
	DoctorID  *uuid.UUID
	PatientID *uuid.UUID
	Status    AppointmentStatus
	Range     DateRange
}

func (f AppointmentFilters) Matches(a Appointment) bool {
	if f.DoctorID != nil && a.DoctorID != *f.DoctorID {
		return false
	}
	if f.PatientID != nil && a.PatientID != *f.PatientID {
		return false
	}
	if f.Status != "" && a.Status != f.Status {
		return false
	}
	return f.Range.Contains(a.StartTime)
}

func (f AppointmentFilters) CacheParams() []string {
	var out []string
	if f.DoctorID != nil {
		out = append(out, "doctor_id="+f.DoctorID.String())
	}
	if f.PatientID != nil {
		out = append(out, "patient_id="+f.PatientID.String())
	}
	if f.Status != "" {
		out = append(out, "status="+string(f.Status))
	}
	return append(out, f.Range.params()...)
}
