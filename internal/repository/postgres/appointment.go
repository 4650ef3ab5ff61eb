package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/clinic-api/internal/analytics"
	"github.com/jwalitptl/clinic-api/internal/model"
)

const appointmentColumns = `id, patient_id, doctor_id, start_time, end_time, reason, status,
	notes, cancel_reason, created_at, updated_at`

func (r *appointmentRepository) List(ctx context.Context, filters model.AppointmentFilters) ([]model.Appointment, error) {
	var f filter
	if filters.DoctorID != nil {
		f.add("doctor_id = $%d", *filters.DoctorID)
	}
	if filters.PatientID != nil {
		f.add("patient_id = $%d", *filters.PatientID)
	}
	if filters.Status != "" {
		f.add("status = $%d", filters.Status)
	}
	if !filters.Range.From.IsZero() {
		f.add("start_time >= $%d", filters.Range.From)
	}
	if !filters.Range.To.IsZero() {
		f.add("start_time < $%d", filters.Range.To.AddDate(0, 0, 1))
	}
	query := `SELECT ` + appointmentColumns + ` FROM appointments` + f.where() + ` ORDER BY start_time ASC`

	appointments := []model.Appointment{}
	if err := r.db.SelectContext(ctx, &appointments, query, f.args...); err != nil {
		return nil, fmt.Errorf("failed to list appointments: %w", err)
	}
	return appointments, nil
}

func (r *appointmentRepository) Get(ctx context.Context, id uuid.UUID) (*model.Appointment, error) {
	var appointment model.Appointment
	err := r.db.GetContext(ctx, &appointment, `SELECT `+appointmentColumns+` FROM appointments WHERE id = $1`, id)
	if err != nil {
		return nil, wrapErr(err, "get", "appointment")
	}
	return &appointment, nil
}

func (r *appointmentRepository) Create(ctx context.Context, appointment *model.Appointment) error {
	query := `
		INSERT INTO appointments (` + appointmentColumns + `) VALUES (
			:id, :patient_id, :doctor_id, :start_time, :end_time, :reason, :status,
			:notes, :cancel_reason, :created_at, :updated_at
		)
	`
	appointment.ID = uuid.New()
	appointment.CreatedAt = time.Now()
	appointment.UpdatedAt = appointment.CreatedAt
	if appointment.Status == "" {
		appointment.Status = model.AppointmentStatusScheduled
	}

	if _, err := r.db.NamedExecContext(ctx, query, appointment); err != nil {
		return fmt.Errorf("failed to create appointment: %w", err)
	}
	return nil
}

func (r *appointmentRepository) Update(ctx context.Context, appointment *model.Appointment) error {
	query := `
		UPDATE appointments
		SET start_time = :start_time, end_time = :end_time, reason = :reason, status = :status,
			notes = :notes, cancel_reason = :cancel_reason, updated_at = :updated_at
		WHERE id = :id
	`
	appointment.UpdatedAt = time.Now()
	res, err := r.db.NamedExecContext(ctx, query, appointment)
	if err != nil {
		return fmt.Errorf("failed to update appointment: %w", err)
	}
	return expectOne(res, "appointment")
}

func (r *appointmentRepository) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM appointments WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete appointment: %w", err)
	}
	return expectOne(res, "appointment")
}

func (r *appointmentRepository) HasConflict(ctx context.Context, doctorID uuid.UUID, start, end time.Time, excludeID *uuid.UUID) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM appointments
			WHERE doctor_id = $1
			  AND status IN ('scheduled', 'confirmed', 'in-progress')
			  AND start_time < $3 AND $2 < end_time
			  AND ($4::uuid IS NULL OR id <> $4)
		)
	`
	var exists bool
	if err := r.db.GetContext(ctx, &exists, query, doctorID, start, end, excludeID); err != nil {
		return false, fmt.Errorf("failed to check appointment conflicts: %w", err)
	}
	return exists, nil
}

func (r *appointmentRepository) Stats(ctx context.Context, now time.Time) (*model.AppointmentStats, error) {
	appointments, err := r.List(ctx, model.AppointmentFilters{})
	if err != nil {
		return nil, err
	}
	stats := analytics.Appointments(appointments, now)
	return &stats, nil
}
