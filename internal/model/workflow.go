package model

import (
	"time"

	"github.com/google/uuid"
)

type WorkflowStatus string

const (
	WorkflowPaymentPending    WorkflowStatus = "payment-pending"
	WorkflowPaymentCompleted  WorkflowStatus = "payment-completed"
	WorkflowVitalsPending     WorkflowStatus = "vitals-pending"
	WorkflowDoctorAssignment  WorkflowStatus = "doctor-assignment"
	WorkflowConsultationReady WorkflowStatus = "consultation-ready"
	WorkflowInProgress        WorkflowStatus = "in-progress"
	WorkflowCompleted         WorkflowStatus = "completed"
)

// WorkflowStatuses lists every status in path order.
var WorkflowStatuses = []WorkflowStatus{
	WorkflowPaymentPending,
	WorkflowPaymentCompleted,
	WorkflowVitalsPending,
	WorkflowDoctorAssignment,
	WorkflowConsultationReady,
	WorkflowInProgress,
	WorkflowCompleted,
}

var validWorkflowStatuses = map[WorkflowStatus]bool{
	WorkflowPaymentPending: true, WorkflowPaymentCompleted: true, WorkflowVitalsPending: true,
	WorkflowDoctorAssignment: true, WorkflowConsultationReady: true, WorkflowInProgress: true,
	WorkflowCompleted: true,
}

func ParseWorkflowStatus(s string) (WorkflowStatus, error) {
	return parseEnum("workflow status", validWorkflowStatuses, s)
}

func (s WorkflowStatus) Valid() bool { return validWorkflowStatuses[s] }

func (s *WorkflowStatus) Scan(src interface{}) error {
	return scanEnum("workflow status", validWorkflowStatuses, s, src)
}

func (s *WorkflowStatus) UnmarshalJSON(data []byte) error {
	return unmarshalEnum("workflow status", validWorkflowStatuses, s, data)
}

type ConsultationType string

const (
	ConsultationGeneral    ConsultationType = "general"
	ConsultationSpecialist ConsultationType = "specialist"
	ConsultationEmergency  ConsultationType = "emergency"
	ConsultationFollowup   ConsultationType = "followup"
	ConsultationPreventive ConsultationType = "preventive"
	ConsultationOther      ConsultationType = "other"
)

var validConsultationTypes = map[ConsultationType]bool{
	ConsultationGeneral: true, ConsultationSpecialist: true, ConsultationEmergency: true,
	ConsultationFollowup: true, ConsultationPreventive: true, ConsultationOther: true,
}

func ParseConsultationType(s string) (ConsultationType, error) {
	return parseEnum("consultation type", validConsultationTypes, s)
}

func (t ConsultationType) Valid() bool { return validConsultationTypes[t] }

func (t *ConsultationType) Scan(src interface{}) error {
	return scanEnum("consultation type", validConsultationTypes, t, src)
}

func (t *ConsultationType) UnmarshalJSON(data []byte) error {
	return unmarshalEnum("consultation type", validConsultationTypes, t, data)
}

// ConsultationWorkflow tracks one patient visit from payment to a completed
// consultation.
type ConsultationWorkflow struct {
	Base
	PatientID        uuid.UUID        `db:"patient_id" json:"patient_id"`
	InvoiceID        uuid.UUID        `db:"invoice_id" json:"invoice_id"`
	VitalSignsID     *uuid.UUID       `db:"vital_signs_id" json:"vital_signs_id,omitempty"`
	DoctorID         *uuid.UUID       `db:"doctor_id" json:"doctor_id,omitempty"`
	ConsultationType ConsultationType `db:"consultation_type" json:"consultation_type"`
	Status           WorkflowStatus   `db:"status" json:"status"`
	Notes            *string          `db:"notes" json:"notes,omitempty"`
	CreatedBy        uuid.UUID        `db:"created_by" json:"created_by"`
}

// WorkflowPayload carries the fields a transition may set.
type WorkflowPayload struct {
	VitalSignsID *uuid.UUID `json:"vital_signs_id,omitempty"`
	DoctorID     *uuid.UUID `json:"doctor_id,omitempty"`
	Notes        *string    `json:"notes,omitempty"`
}

type AdvanceWorkflowRequest struct {
	Status       WorkflowStatus `json:"status" binding:"required"`
	VitalSignsID *uuid.UUID     `json:"vital_signs_id"`
	DoctorID     *uuid.UUID     `json:"doctor_id"`
	Notes        *string        `json:"notes" binding:"omitempty,max=2000"`
	Override     bool           `json:"override"`
}

func (r AdvanceWorkflowRequest) Payload() WorkflowPayload {
	return WorkflowPayload{VitalSignsID: r.VitalSignsID, DoctorID: r.DoctorID, Notes: r.Notes}
}

type WorkflowFilters struct {
	Status     WorkflowStatus
	PatientID  *uuid.UUID
	DoctorID   *uuid.UUID
	ActiveOnly bool
}

// Matches applies the filters to a single row.
func (f WorkflowFilters) Matches(w ConsultationWorkflow) bool {
	if f.Status != "" && w.Status != f.Status {
		return false
	}
	if f.PatientID != nil && w.PatientID != *f.PatientID {
		return false
	}
	if f.DoctorID != nil && (w.DoctorID == nil || *w.DoctorID != *f.DoctorID) {
		return false
	}
	if f.ActiveOnly && w.Status == WorkflowCompleted {
		return false
	}
	return true
}

func (f WorkflowFilters) CacheParams() []string {
	var out []string
	if f.Status != "" {
		out = append(out, "status="+string(f.Status))
	}
	if f.PatientID != nil {
		out = append(out, "patient_id="+f.PatientID.String())
	}
	if f.DoctorID != nil {
		out = append(out, "doctor_id="+f.DoctorID.String())
	}
	if f.ActiveOnly {
		out = append(out, "active_only=true")
	}
	return out
}

// WorkflowStats feeds the pending-action badges.
type WorkflowStats struct {
	PaymentPending    int `json:"paymentPending"`
	PaymentCompleted  int `json:"paymentCompleted"`
	VitalsPending     int `json:"vitalsPending"`
	DoctorAssignment  int `json:"doctorAssignment"`
	ConsultationReady int `json:"consultationReady"`
	InProgress        int `json:"inProgress"`
	Completed         int `json:"completed"`
	Total             int `json:"total"`
}

// VitalSigns recorded during intake.
type VitalSigns struct {
	Base
	PatientID        uuid.UUID `db:"patient_id" json:"patient_id"`
	WorkflowID       uuid.UUID `db:"workflow_id" json:"workflow_id"`
	TemperatureC     *float64  `db:"temperature_c" json:"temperature_c,omitempty" validate:"omitempty,gte=30,lte=45"`
	SystolicBP       *int      `db:"systolic_bp" json:"systolic_bp,omitempty" validate:"omitempty,gte=50,lte=260"`
	DiastolicBP      *int      `db:"diastolic_bp" json:"diastolic_bp,omitempty" validate:"omitempty,gte=30,lte=160"`
	PulseBPM         *int      `db:"pulse_bpm" json:"pulse_bpm,omitempty" validate:"omitempty,gte=20,lte=250"`
	RespiratoryRate  *int      `db:"respiratory_rate" json:"respiratory_rate,omitempty" validate:"omitempty,gte=4,lte=60"`
	WeightKg         *float64  `db:"weight_kg" json:"weight_kg,omitempty" validate:"omitempty,gt=0,lte=500"`
	HeightCm         *float64  `db:"height_cm" json:"height_cm,omitempty" validate:"omitempty,gt=0,lte=260"`
	OxygenSaturation *int      `db:"oxygen_saturation" json:"oxygen_saturation,omitempty" validate:"omitempty,gte=50,lte=100"`
	RecordedBy       uuid.UUID `db:"recorded_by" json:"recorded_by"`
	RecordedAt       time.Time `db:"recorded_at" json:"recorded_at"`
}
