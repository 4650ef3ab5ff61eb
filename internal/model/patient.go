package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

type PatientStatus string

const (
	PatientStatusActive   PatientStatus = "active"
	PatientStatusInactive PatientStatus = "inactive"
)

var validPatientStatuses = map[PatientStatus]bool{
	PatientStatusActive: true, PatientStatusInactive: true,
}

func ParsePatientStatus(s string) (PatientStatus, error) {
	return parseEnum("patient status", validPatientStatuses, s)
}

func (s *PatientStatus) Scan(src interface{}) error {
	return scanEnum("patient status", validPatientStatuses, s, src)
}

func (s *PatientStatus) UnmarshalJSON(data []byte) error {
	return unmarshalEnum("patient status", validPatientStatuses, s, data)
}

type Patient struct {
	Base
	FirstName   string        `db:"first_name" json:"first_name"`
	LastName    string        `db:"last_name" json:"last_name"`
	Email       *string       `db:"email" json:"email,omitempty"`
	Phone       string        `db:"phone" json:"phone"`
	Gender      string        `db:"gender" json:"gender"`
	DateOfBirth time.Time     `db:"date_of_birth" json:"date_of_birth"`
	Address     *string       `db:"address" json:"address,omitempty"`
	BloodType   *string       `db:"blood_type" json:"blood_type,omitempty"`
	Status      PatientStatus `db:"status" json:"status"`
}

func (p Patient) FullName() string {
	return strings.TrimSpace(p.FirstName + " " + p.LastName)
}

type CreatePatientRequest struct {
	FirstName   string    `json:"first_name" binding:"required,max=100"`
	LastName    string    `json:"last_name" binding:"required,max=100"`
	Email       *string   `json:"email" binding:"omitempty,email"`
	Phone       string    `json:"phone" binding:"required,max=30"`
	Gender      string    `json:"gender" binding:"required,oneof=male female other"`
	DateOfBirth time.Time `json:"date_of_birth" binding:"required"`
	Address     *string   `json:"address" binding:"omitempty,max=500"`
	BloodType   *string   `json:"blood_type" binding:"omitempty,oneof=A+ A- B+ B- AB+ AB- O+ O-"`
}

type UpdatePatientRequest struct {
	FirstName   *string        `json:"first_name" binding:"omitempty,max=100"`
	LastName    *string        `json:"last_name" binding:"omitempty,max=100"`
	Email       *string        `json:"email" binding:"omitempty,email"`
	Phone       *string        `json:"phone" binding:"omitempty,max=30"`
	Gender      *string        `json:"gender" binding:"omitempty,oneof=male female other"`
	DateOfBirth *time.Time     `json:"date_of_birth"`
	Address     *string        `json:"address" binding:"omitempty,max=500"`
	BloodType   *string        `json:"blood_type" binding:"omitempty,oneof=A+ A- B+ B- AB+ AB- O+ O-"`
	Status      *PatientStatus `json:"status"`
}

// Apply patches a patient copy.
func (r UpdatePatientRequest) Apply(p Patient) Patient {
	if r.FirstName != nil {
		p.FirstName = *r.FirstName
	}
	if r.LastName != nil {
		p.LastName = *r.LastName
	}
	if r.Email != nil {
		p.Email = r.Email
	}
	if r.Phone != nil {
		p.Phone = *r.Phone
	}
	if r.Gender != nil {
		p.Gender = *r.Gender
	}
	if r.DateOfBirth != nil {
		p.DateOfBirth = *r.DateOfBirth
	}
	if r.Address != nil {
		p.Address = r.Address
	}
	if r.BloodType != nil {
		p.BloodType = r.BloodType
	}
	if r.Status != nil {
		p.Status = *r.Status
	}
	return p
}

type PatientFilters struct {
	Status PatientStatus
	Search string
}

func (f PatientFilters) Matches(p Patient) bool {
	if f.Status != "" && p.Status != f.Status {
		return false
	}
	if f.Search != "" {
		needle := strings.ToLower(f.Search)
		hay := strings.ToLower(p.FullName() + " " + p.Phone)
		if p.Email != nil {
			hay += " " + strings.ToLower(*p.Email)
		}
		return strings.Contains(hay, needle)
	}
	return true
}

func (f PatientFilters) CacheParams() []string {
	var out []string
	if f.Status != "" {
		out = append(out, "status="+string(f.Status))
	}
	if f.Search != "" {
		out = append(out, "q="+strings.ToLower(f.Search))
	}
	return out
}

// PatientID is a convenience used by filters that scope to one patient.
func PatientID(id uuid.UUID) *uuid.UUID { return &id }
