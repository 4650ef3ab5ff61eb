package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/clinic-api/internal/model"
)

const patientColumns = `id, first_name, last_name, email, phone, gender, date_of_birth,
	address, blood_type, status, created_at, updated_at`

func (r *patientRepository) List(ctx context.Context, filters model.PatientFilters) ([]model.Patient, error) {
	var f filter
	if filters.Status != "" {
		f.add("status = $%d", filters.Status)
	}
	if filters.Search != "" {
		f.add("(first_name || ' ' || last_name ILIKE $%[1]d OR phone ILIKE $%[1]d OR email ILIKE $%[1]d)",
			"%"+filters.Search+"%")
	}
	query := `SELECT ` + patientColumns + ` FROM patients` + f.where() + ` ORDER BY created_at DESC`

	patients := []model.Patient{}
	if err := r.db.SelectContext(ctx, &patients, query, f.args...); err != nil {
		return nil, fmt.Errorf("failed to list patients: %w", err)
	}
	return patients, nil
}

func (r *patientRepository) Get(ctx context.Context, id uuid.UUID) (*model.Patient, error) {
	query := `SELECT ` + patientColumns + ` FROM patients WHERE id = $1`
	var patient model.Patient
	if err := r.db.GetContext(ctx, &patient, query, id); err != nil {
		return nil, wrapErr(err, "get", "patient")
	}
	return &patient, nil
}

func (r *patientRepository) Create(ctx context.Context, patient *model.Patient) error {
	query := `
		INSERT INTO patients (
			id, first_name, last_name, email, phone, gender, date_of_birth,
			address, blood_type, status, created_at, updated_at
		) VALUES (
			:id, :first_name, :last_name, :email, :phone, :gender, :date_of_birth,
			:address, :blood_type, :status, :created_at, :updated_at
		)
	`
	patient.ID = uuid.New()
	patient.CreatedAt = time.Now()
	patient.UpdatedAt = patient.CreatedAt
	if patient.Status == "" {
		patient.Status = model.PatientStatusActive
	}

	if _, err := r.db.NamedExecContext(ctx, query, patient); err != nil {
		return fmt.Errorf("failed to create patient: %w", err)
	}
	return nil
}

func (r *patientRepository) Update(ctx context.Context, patient *model.Patient) error {
	query := `
		UPDATE patients
		SET first_name = :first_name, last_name = :last_name, email = :email, phone = :phone,
			gender = :gender, date_of_birth = :date_of_birth, address = :address,
			blood_type = :blood_type, status = :status, updated_at = :updated_at
		WHERE id = :id
	`
	patient.UpdatedAt = time.Now()
	res, err := r.db.NamedExecContext(ctx, query, patient)
	if err != nil {
		return fmt.Errorf("failed to update patient: %w", err)
	}
	return expectOne(res, "patient")
}

func (r *patientRepository) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM patients WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete patient: %w", err)
	}
	return expectOne(res, "patient")
}
