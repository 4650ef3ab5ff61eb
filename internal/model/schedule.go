package model

import (
	"time"

	"github.com/google/uuid"
)

type ShiftType string

const (
	ShiftMorning   ShiftType = "morning"
	ShiftAfternoon ShiftType = "afternoon"
	ShiftNight     ShiftType = "night"
	ShiftOnCall    ShiftType = "on-call"
)

var validShiftTypes = map[ShiftType]bool{
	ShiftMorning: true, ShiftAfternoon: true, ShiftNight: true, ShiftOnCall: true,
}

func (t ShiftType) Valid() bool { return validShiftTypes[t] }

// Overnight shifts may end on the following day.
func (t ShiftType) Overnight() bool { return t == ShiftNight || t == ShiftOnCall }

func (t *ShiftType) Scan(src interface{}) error {
	return scanEnum("shift type", validShiftTypes, t, src)
}

func (t *ShiftType) UnmarshalJSON(data []byte) error {
	return unmarshalEnum("shift type", validShiftTypes, t, data)
}

type ScheduleStatus string

const (
	ScheduleScheduled ScheduleStatus = "scheduled"
	ScheduleConfirmed ScheduleStatus = "confirmed"
	ScheduleCancelled ScheduleStatus = "cancelled"
)

var validScheduleStatuses = map[ScheduleStatus]bool{
	ScheduleScheduled: true, ScheduleConfirmed: true, ScheduleCancelled: true,
}

func (s ScheduleStatus) Valid() bool { return validScheduleStatuses[s] }

func (s *ScheduleStatus) Scan(src interface{}) error {
	return scanEnum("schedule status", validScheduleStatuses, s, src)
}

func (s *ScheduleStatus) UnmarshalJSON(data []byte) error {
	return unmarshalEnum("schedule status", validScheduleStatuses, s, data)
}

type StaffSchedule struct {
	Base
	StaffID   uuid.UUID      `db:"staff_id" json:"staff_id"`
	ShiftDate time.Time      `db:"shift_date" json:"shift_date"`
	Shift     ShiftType      `db:"shift" json:"shift"`
	StartTime string         `db:"start_time" json:"start_time"`
	EndTime   string         `db:"end_time" json:"end_time"`
	Status    ScheduleStatus `db:"status" json:"status"`
	Notes     *string        `db:"notes" json:"notes,omitempty"`
}

type CreateScheduleRequest struct {
	StaffID   uuid.UUID `json:"staff_id" binding:"required"`
	ShiftDate time.Time `json:"shift_date" binding:"required"`
	Shift     ShiftType `json:"shift" binding:"required"`
	StartTime string    `json:"start_time" binding:"required,datetime=15:04"`
	EndTime   string    `json:"end_time" binding:"required,datetime=15:04"`
	Notes     *string   `json:"notes" binding:"omitempty,max=500"`
}

type UpdateScheduleRequest struct {
	Shift     *ShiftType      `json:"shift"`
	StartTime *string         `json:"start_time" binding:"omitempty,datetime=15:04"`
	EndTime   *string         `json:"end_time" binding:"omitempty,datetime=15:04"`
	Status    *ScheduleStatus `json:"status"`
	Notes     *string         `json:"notes" binding:"omitempty,max=500"`
}

func (r UpdateScheduleRequest) Apply(s StaffSchedule) StaffSchedule {
	if r.Shift != nil {
		s.Shift = *r.Shift
	}
	if r.StartTime != nil {
		s.StartTime = *r.StartTime
	}
	if r.EndTime != nil {
		s.EndTime = *r.EndTime
	}
	if r.Status != nil {
		s.Status = *r.Status
	}
	if r.Notes != nil {
		s.Notes = r.Notes
	}
	return s
}

type ScheduleFilters struct {
	StaffID *uuid.UUID
	Range   DateRange
}

func (f ScheduleFilters) Matches(s StaffSchedule) bool {
	if f.StaffID != nil && s.StaffID != *f.StaffID {
		return false
	}
	return f.Range.Contains(s.ShiftDate)
}

func (f ScheduleFilters) CacheParams() []string {
	var out []string
	if f.StaffID != nil {
		out = append(out, "staff_id="+f.StaffID.String())
	}
	return append(out, f.Range.params()...)
}
