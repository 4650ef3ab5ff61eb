package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/clinic-api/internal/model"
)

const recordColumns = `id, patient_id, workflow_id, doctor_id, record_type, title, description,
	diagnosis, medications, created_at, updated_at`

func (r *medicalRecordRepository) List(ctx context.Context, patientID uuid.UUID, filters model.RecordFilters) ([]model.MedicalRecord, error) {
	f := filter{}
	f.add("patient_id = $%d", patientID)
	if filters.Type != "" {
		f.add("record_type = $%d", filters.Type)
	}
	query := `SELECT ` + recordColumns + ` FROM medical_records` + f.where() + ` ORDER BY created_at DESC`

	records := []model.MedicalRecord{}
	if err := r.db.SelectContext(ctx, &records, query, f.args...); err != nil {
		return nil, fmt.Errorf("failed to list medical records: %w", err)
	}
	return records, nil
}

func (r *medicalRecordRepository) Get(ctx context.Context, id uuid.UUID) (*model.MedicalRecord, error) {
	var record model.MedicalRecord
	err := r.db.GetContext(ctx, &record, `SELECT `+recordColumns+` FROM medical_records WHERE id = $1`, id)
	if err != nil {
		return nil, wrapErr(err, "get", "medical record")
	}
	return &record, nil
}

func (r *medicalRecordRepository) Create(ctx context.Context, record *model.MedicalRecord) error {
	query := `
		INSERT INTO medical_records (` + recordColumns + `) VALUES (
			:id, :patient_id, :workflow_id, :doctor_id, :record_type, :title, :description,
			:diagnosis, :medications, :created_at, :updated_at
		)
	`
	record.ID = uuid.New()
	record.CreatedAt = time.Now()
	record.UpdatedAt = record.CreatedAt
	if len(record.Medications) == 0 {
		record.Medications = []byte("[]")
	}

	if _, err := r.db.NamedExecContext(ctx, query, record); err != nil {
		return fmt.Errorf("failed to create medical record: %w", err)
	}
	return nil
}

func (r *medicalRecordRepository) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM medical_records WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete medical record: %w", err)
	}
	return expectOne(res, "medical record")
}
