package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/clinic-api/internal/model"
)

// All repository interfaces in one file. Implementations return
// pkg/errors.NotFound for missing rows so callers can tell a lookup miss
// from a transport failure.
type (
	PatientRepository interface {
		List(ctx context.Context, filters model.PatientFilters) ([]model.Patient, error)
		Get(ctx context.Context, id uuid.UUID) (*model.Patient, error)
		Create(ctx context.Context, patient *model.Patient) error
		Update(ctx context.Context, patient *model.Patient) error
		Delete(ctx context.Context, id uuid.UUID) error
	}

	InvoiceRepository interface {
		List(ctx context.Context, filters model.InvoiceFilters) ([]model.Invoice, error)
		Get(ctx context.Context, id uuid.UUID) (*model.Invoice, error)
		// Create assigns the id and invoice number.
		Create(ctx context.Context, invoice *model.Invoice) error
		Update(ctx context.Context, invoice *model.Invoice) error
		Delete(ctx context.Context, id uuid.UUID) error
		Stats(ctx context.Context) (*model.BillingStats, error)
	}

	PaymentRepository interface {
		List(ctx context.Context, invoiceID *uuid.UUID) ([]model.Payment, error)
		// Record stores the payment and applies it to the invoice atomically.
		Record(ctx context.Context, payment *model.Payment) (*model.PaymentResult, error)
	}

	WorkflowRepository interface {
		List(ctx context.Context, filters model.WorkflowFilters) ([]model.ConsultationWorkflow, error)
		Get(ctx context.Context, id uuid.UUID) (*model.ConsultationWorkflow, error)
		GetByInvoice(ctx context.Context, invoiceID uuid.UUID) (*model.ConsultationWorkflow, error)
		Create(ctx context.Context, workflow *model.ConsultationWorkflow) error
		// Update writes workflow only while the stored status is still from,
		// otherwise it returns a conflict.
		Update(ctx context.Context, workflow *model.ConsultationWorkflow, from model.WorkflowStatus) error
		CreateVitals(ctx context.Context, vitals *model.VitalSigns) error
		GetVitals(ctx context.Context, id uuid.UUID) (*model.VitalSigns, error)
	}

	AppointmentRepository interface {
		List(ctx context.Context, filters model.AppointmentFilters) ([]model.Appointment, error)
		Get(ctx context.Context, id uuid.UUID) (*model.Appointment, error)
		Create(ctx context.Context, appointment *model.Appointment) error
		Update(ctx context.Context, appointment *model.Appointment) error
		Delete(ctx context.Context, id uuid.UUID) error
		HasConflict(ctx context.Context, doctorID uuid.UUID, start, end time.Time, excludeID *uuid.UUID) (bool, error)
		Stats(ctx context.Context, now time.Time) (*model.AppointmentStats, error)
	}

	MedicalRecordRepository interface {
		List(ctx context.Context, patientID uuid.UUID, filters model.RecordFilters) ([]model.MedicalRecord, error)
		Get(ctx context.Context, id uuid.UUID) (*model.MedicalRecord, error)
		Create(ctx context.Context, record *model.MedicalRecord) error
		Delete(ctx context.Context, id uuid.UUID) error
	}

	ScheduleRepository interface {
		List(ctx context.Context, filters model.ScheduleFilters) ([]model.StaffSchedule, error)
		Get(ctx context.Context, id uuid.UUID) (*model.StaffSchedule, error)
		Create(ctx context.Context, schedule *model.StaffSchedule) error
		Update(ctx context.Context, schedule *model.StaffSchedule) error
		Delete(ctx context.Context, id uuid.UUID) error
	}

	InventoryRepository interface {
		List(ctx context.Context) ([]model.InventoryItem, error)
		Get(ctx context.Context, id uuid.UUID) (*model.InventoryItem, error)
		Create(ctx context.Context, item *model.InventoryItem) error
		Update(ctx context.Context, item *model.InventoryItem) error
		Delete(ctx context.Context, id uuid.UUID) error
		// AdjustStock applies delta and returns the updated row; the quantity
		// never goes below zero.
		AdjustStock(ctx context.Context, id uuid.UUID, delta int) (*model.InventoryItem, error)
		Stats(ctx context.Context, now time.Time) (*model.InventoryStats, error)
	}

	Pinger interface {
		Ping(ctx context.Context) error
	}
)

// Gateway bundles every repository behind one handle.
type Gateway struct {
	Patients     PatientRepository
	Invoices     InvoiceRepository
	Payments     PaymentRepository
	Workflows    WorkflowRepository
	Appointments AppointmentRepository
	Records      MedicalRecordRepository
	Schedules    ScheduleRepository
	Inventory    InventoryRepository
	Health       Pinger
}
