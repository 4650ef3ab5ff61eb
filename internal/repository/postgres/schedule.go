package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/clinic-api/internal/model"
)

const scheduleColumns = `id, staff_id, shift_date, shift, start_time, end_time, status, notes,
	created_at, updated_at`

func (r *scheduleRepository) List(ctx context.Context, filters model.ScheduleFilters) ([]model.StaffSchedule, error) {
	var f filter
	if filters.StaffID != nil {
		f.add("staff_id = $%d", *filters.StaffID)
	}
	if !filters.Range.From.IsZero() {
		f.add("shift_date >= $%d", filters.Range.From)
	}
	if !filters.Range.To.IsZero() {
		f.add("shift_date <= $%d", filters.Range.To)
	}
	query := `SELECT ` + scheduleColumns + ` FROM staff_schedules` + f.where() + ` ORDER BY shift_date, start_time`

	schedules := []model.StaffSchedule{}
	if err := r.db.SelectContext(ctx, &schedules, query, f.args...); err != nil {
		return nil, fmt.Errorf("failed to list schedules: %w", err)
	}
	return schedules, nil
}

func (r *scheduleRepository) Get(ctx context.Context, id uuid.UUID) (*model.StaffSchedule, error) {
	var schedule model.StaffSchedule
	err := r.db.GetContext(ctx, &schedule, `SELECT `+scheduleColumns+` FROM staff_schedules WHERE id = $1`, id)
	if err != nil {
		return nil, wrapErr(err, "get", "schedule")
	}
	return &schedule, nil
}

func (r *scheduleRepository) Create(ctx context.Context, schedule *model.StaffSchedule) error {
	query := `
		INSERT INTO staff_schedules (` + scheduleColumns + `) VALUES (
			:id, :staff_id, :shift_date, :shift, :start_time, :end_time, :status, :notes,
			:created_at, :updated_at
		)
	`
	schedule.ID = uuid.New()
	schedule.CreatedAt = time.Now()
	schedule.UpdatedAt = schedule.CreatedAt
	if schedule.Status == "" {
		schedule.Status = model.ScheduleScheduled
	}

	if _, err := r.db.NamedExecContext(ctx, query, schedule); err != nil {
		return fmt.Errorf("failed to create schedule: %w", err)
	}
	return nil
}

func (r *scheduleRepository) Update(ctx context.Context, schedule *model.StaffSchedule) error {
	query := `
		UPDATE staff_schedules
		SET shift = :shift, start_time = :start_time, end_time = :end_time, status = :status,
			notes = :notes, updated_at = :updated_at
		WHERE id = :id
	`
	schedule.UpdatedAt = time.Now()
	res, err := r.db.NamedExecContext(ctx, query, schedule)
	if err != nil {
		return fmt.Errorf("failed to update schedule: %w", err)
	}
	return expectOne(res, "schedule")
}

func (r *scheduleRepository) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM staff_schedules WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete schedule: %w", err)
	}
	return expectOne(res, "schedule")
}
