package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/jwalitptl/clinic-api/internal/model"
	apperrors "github.com/jwalitptl/clinic-api/pkg/errors"
)

const workflowColumns = `id, patient_id, invoice_id, vital_signs_id, doctor_id, consultation_type,
	status, notes, created_by, created_at, updated_at`

// uniqueViolation is the postgres error code for a unique index clash.
const uniqueViolation = "23505"

func (r *workflowRepository) List(ctx context.Context, filters model.WorkflowFilters) ([]model.ConsultationWorkflow, error) {
	var f filter
	if filters.Status != "" {
		f.add("status = $%d", filters.Status)
	}
	if filters.PatientID != nil {
		f.add("patient_id = $%d", *filters.PatientID)
	}
	if filters.DoctorID != nil {
		f.add("doctor_id = $%d", *filters.DoctorID)
	}
	if filters.ActiveOnly {
		f.add("status <> $%d", model.WorkflowCompleted)
	}
	query := `SELECT ` + workflowColumns + ` FROM consultation_workflows` + f.where() + ` ORDER BY created_at ASC`

	workflows := []model.ConsultationWorkflow{}
	if err := r.db.SelectContext(ctx, &workflows, query, f.args...); err != nil {
		return nil, fmt.Errorf("failed to list workflows: %w", err)
	}
	return workflows, nil
}

func (r *workflowRepository) Get(ctx context.Context, id uuid.UUID) (*model.ConsultationWorkflow, error) {
	var w model.ConsultationWorkflow
	err := r.db.GetContext(ctx, &w, `SELECT `+workflowColumns+` FROM consultation_workflows WHERE id = $1`, id)
	if err != nil {
		return nil, wrapErr(err, "get", "workflow")
	}
	return &w, nil
}

func (r *workflowRepository) GetByInvoice(ctx context.Context, invoiceID uuid.UUID) (*model.ConsultationWorkflow, error) {
	query := `SELECT ` + workflowColumns + ` FROM consultation_workflows
		WHERE invoice_id = $1 ORDER BY created_at DESC LIMIT 1`
	var w model.ConsultationWorkflow
	if err := r.db.GetContext(ctx, &w, query, invoiceID); err != nil {
		return nil, wrapErr(err, "get", "workflow")
	}
	return &w, nil
}

func (r *workflowRepository) Create(ctx context.Context, workflow *model.ConsultationWorkflow) error {
	query := `
		INSERT INTO consultation_workflows (
			id, patient_id, invoice_id, vital_signs_id, doctor_id, consultation_type,
			status, notes, created_by, created_at, updated_at
		) VALUES (
			:id, :patient_id, :invoice_id, :vital_signs_id, :doctor_id, :consultation_type,
			:status, :notes, :created_by, :created_at, :updated_at
		)
	`
	workflow.ID = uuid.New()
	workflow.CreatedAt = time.Now()
	workflow.UpdatedAt = workflow.CreatedAt

	if _, err := r.db.NamedExecContext(ctx, query, workflow); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation {
			return apperrors.Conflict("invoice already has an open workflow")
		}
		return fmt.Errorf("failed to create workflow: %w", err)
	}
	return nil
}

func (r *workflowRepository) Update(ctx context.Context, workflow *model.ConsultationWorkflow, from model.WorkflowStatus) error {
	query := `
		UPDATE consultation_workflows
		SET vital_signs_id = $1, doctor_id = $2, status = $3, notes = $4, updated_at = $5
		WHERE id = $6 AND status = $7
	`
	workflow.UpdatedAt = time.Now()
	res, err := r.db.ExecContext(ctx, query, workflow.VitalSignsID, workflow.DoctorID, workflow.Status,
		workflow.Notes, workflow.UpdatedAt, workflow.ID, from)
	if err != nil {
		return fmt.Errorf("failed to update workflow: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return apperrors.Conflict(fmt.Sprintf("workflow is no longer %s", from))
	}
	return nil
}

const vitalsColumns = `id, patient_id, workflow_id, temperature_c, systolic_bp, diastolic_bp, pulse_bpm,
	respiratory_rate, weight_kg, height_cm, oxygen_saturation, recorded_by, recorded_at,
	created_at, updated_at`

func (r *workflowRepository) CreateVitals(ctx context.Context, vitals *model.VitalSigns) error {
	query := `
		INSERT INTO vital_signs (` + vitalsColumns + `) VALUES (
			:id, :patient_id, :workflow_id, :temperature_c, :systolic_bp, :diastolic_bp, :pulse_bpm,
			:respiratory_rate, :weight_kg, :height_cm, :oxygen_saturation, :recorded_by, :recorded_at,
			:created_at, :updated_at
		)
	`
	vitals.ID = uuid.New()
	vitals.CreatedAt = time.Now()
	vitals.UpdatedAt = vitals.CreatedAt
	if vitals.RecordedAt.IsZero() {
		vitals.RecordedAt = vitals.CreatedAt
	}
	if _, err := r.db.NamedExecContext(ctx, query, vitals); err != nil {
		return fmt.Errorf("failed to create vital signs: %w", err)
	}
	return nil
}

func (r *workflowRepository) GetVitals(ctx context.Context, id uuid.UUID) (*model.VitalSigns, error) {
	var v model.VitalSigns
	if err := r.db.GetContext(ctx, &v, `SELECT `+vitalsColumns+` FROM vital_signs WHERE id = $1`, id); err != nil {
		return nil, wrapErr(err, "get", "vital signs")
	}
	return &v, nil
}
