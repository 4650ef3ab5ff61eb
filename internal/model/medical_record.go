package model

import (
	"encoding/json"

	"github.com/google/uuid"
)

type RecordType string

const (
	RecordConsultation RecordType = "consultation"
	RecordDiagnosis    RecordType = "diagnosis"
	RecordPrescription RecordType = "prescription"
	RecordLabResult    RecordType = "lab-result"
	RecordImaging      RecordType = "imaging"
	RecordNote         RecordType = "note"
)

var validRecordTypes = map[RecordType]bool{
	RecordConsultation: true, RecordDiagnosis: true, RecordPrescription: true,
	RecordLabResult: true, RecordImaging: true, RecordNote: true,
}

func ParseRecordType(s string) (RecordType, error) {
	return parseEnum("record type", validRecordTypes, s)
}

func (t *RecordType) Scan(src interface{}) error {
	return scanEnum("record type", validRecordTypes, t, src)
}

func (t *RecordType) UnmarshalJSON(data []byte) error {
	return unmarshalEnum("record type", validRecordTypes, t, data)
}

type MedicalRecord struct {
	Base
	PatientID   uuid.UUID       `db:"patient_id" json:"patient_id"`
	WorkflowID  *uuid.UUID      `db:"workflow_id" json:"workflow_id,omitempty"`
	DoctorID    uuid.UUID       `db:"doctor_id" json:"doctor_id"`
	Type        RecordType      `db:"record_type" json:"record_type"`
	Title       string          `db:"title" json:"title"`
	Description string          `db:"description" json:"description"`
	Diagnosis   *string         `db:"diagnosis" json:"diagnosis,omitempty"`
	Medications json.RawMessage `db:"medications" json:"medications,omitempty"`
}

type Medication struct {
	Name     string `json:"name" binding:"required"`
	Dosage   string `json:"dosage" binding:"required"`
	Schedule string `json:"schedule"`
}

type CreateMedicalRecordRequest struct {
	WorkflowID  *uuid.UUID   `json:"workflow_id"`
	DoctorID    uuid.UUID    `json:"doctor_id" binding:"required"`
	Type        RecordType   `json:"record_type" binding:"required"`
	Title       string       `json:"title" binding:"required,max=200"`
	Description string       `json:"description" binding:"max=10000"`
	Diagnosis   *string      `json:"diagnosis" binding:"omitempty,max=2000"`
	Medications []Medication `json:"medications" binding:"omitempty,dive"`
}

type RecordFilters struct {
	Type RecordType
}

func (f RecordFilters) CacheParams() []string {
	if f.Type == "" {
		return nil
	}
	return []string{"type=" + string(f.Type)}
}
