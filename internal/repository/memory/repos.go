package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/clinic-api/internal/analytics"
	"github.com/jwalitptl/clinic-api/internal/model"
	apperrors "github.com/jwalitptl/clinic-api/pkg/errors"
)

var errOffline = errors.New("gateway offline")

func isWrite(op string) bool {
	for _, suffix := range []string{".create", ".update", ".delete", ".record", ".adjust"} {
		if strings.HasSuffix(op, suffix) {
			return true
		}
	}
	return false
}

type patientRepo struct{ s *Store }

func (r *patientRepo) List(ctx context.Context, filters model.PatientFilters) ([]model.Patient, error) {
	if err := r.s.enter(ctx, OpPatientsList); err != nil {
		return nil, err
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := []model.Patient{}
	for _, p := range r.s.patients.newestFirst() {
		if filters.Matches(p) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (r *patientRepo) Get(ctx context.Context, id uuid.UUID) (*model.Patient, error) {
	if err := r.s.enter(ctx, OpPatientsGet); err != nil {
		return nil, err
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	p, ok := r.s.patients.get(id)
	if !ok {
		return nil, apperrors.NotFound("patient", nil)
	}
	return &p, nil
}

func (r *patientRepo) Create(ctx context.Context, patient *model.Patient) error {
	if err := r.s.enter(ctx, OpPatientsCreate); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.stamp(&patient.Base, true)
	if patient.Status == "" {
		patient.Status = model.PatientStatusActive
	}
	r.s.patients.put(patient.ID, *patient)
	return nil
}

func (r *patientRepo) Update(ctx context.Context, patient *model.Patient) error {
	if err := r.s.enter(ctx, OpPatientsUpdate); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.patients.get(patient.ID); !ok {
		return apperrors.NotFound("patient", nil)
	}
	r.s.stamp(&patient.Base, false)
	r.s.patients.put(patient.ID, *patient)
	return nil
}

func (r *patientRepo) Delete(ctx context.Context, id uuid.UUID) error {
	if err := r.s.enter(ctx, OpPatientsDelete); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if !r.s.patients.del(id) {
		return apperrors.NotFound("patient", nil)
	}
	return nil
}

type invoiceRepo struct{ s *Store }

func cloneInvoice(inv model.Invoice) model.Invoice {
	inv.Items = append(model.InvoiceItems(nil), inv.Items...)
	return inv
}

func (r *invoiceRepo) List(ctx context.Context, filters model.InvoiceFilters) ([]model.Invoice, error) {
	if err := r.s.enter(ctx, OpInvoicesList); err != nil {
		return nil, err
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := []model.Invoice{}
	for _, inv := range r.s.invoices.newestFirst() {
		if filters.Matches(inv) {
			out = append(out, cloneInvoice(inv))
		}
	}
	return out, nil
}

func (r *invoiceRepo) Get(ctx context.Context, id uuid.UUID) (*model.Invoice, error) {
	if err := r.s.enter(ctx, OpInvoicesGet); err != nil {
		return nil, err
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	inv, ok := r.s.invoices.get(id)
	if !ok {
		return nil, apperrors.NotFound("invoice", nil)
	}
	inv = cloneInvoice(inv)
	return &inv, nil
}

func (r *invoiceRepo) Create(ctx context.Context, invoice *model.Invoice) error {
	if err := r.s.enter(ctx, OpInvoicesCreate); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	invoice.ID = uuid.New()
	r.s.stamp(&invoice.Base, true)
	r.s.invoiceSeq++
	invoice.InvoiceNumber = fmt.Sprintf("INV-%06d", r.s.invoiceSeq)
	if invoice.Status == "" {
		invoice.Status = model.InvoiceStatusPending
	}
	invoice.AmountPaid = 0
	invoice.PaidAt = nil
	invoice.Recalculate()
	r.s.invoices.put(invoice.ID, cloneInvoice(*invoice))
	return nil
}

func (r *invoiceRepo) Update(ctx context.Context, invoice *model.Invoice) error {
	if err := r.s.enter(ctx, OpInvoicesUpdate); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	current, ok := r.s.invoices.get(invoice.ID)
	if !ok {
		return apperrors.NotFound("invoice", nil)
	}
	if current.IsPaid() {
		return apperrors.Conflict("invoice is already paid")
	}
	invoice.InvoiceNumber = current.InvoiceNumber
	invoice.AmountPaid = current.AmountPaid
	invoice.CreatedAt = current.CreatedAt
	invoice.Recalculate()
	r.s.stamp(&invoice.Base, false)
	r.s.invoices.put(invoice.ID, cloneInvoice(*invoice))
	return nil
}

func (r *invoiceRepo) Delete(ctx context.Context, id uuid.UUID) error {
	if err := r.s.enter(ctx, OpInvoicesDelete); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	inv, ok := r.s.invoices.get(id)
	if !ok {
		return apperrors.NotFound("invoice", nil)
	}
	if inv.AmountPaid > 0 {
		return apperrors.Conflict("invoice has payments")
	}
	r.s.invoices.del(id)
	return nil
}

func (r *invoiceRepo) Stats(ctx context.Context) (*model.BillingStats, error) {
	if err := r.s.enter(ctx, OpInvoicesStats); err != nil {
		return nil, err
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	stats := analytics.Billing(r.s.invoices.all())
	return &stats, nil
}

type paymentRepo struct{ s *Store }

func (r *paymentRepo) List(ctx context.Context, invoiceID *uuid.UUID) ([]model.Payment, error) {
	if err := r.s.enter(ctx, OpPaymentsList); err != nil {
		return nil, err
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := []model.Payment{}
	for _, p := range r.s.payments.newestFirst() {
		if invoiceID == nil || p.InvoiceID == *invoiceID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (r *paymentRepo) Record(ctx context.Context, payment *model.Payment) (*model.PaymentResult, error) {
	if err := r.s.enter(ctx, OpPaymentsRecord); err != nil {
		return nil, err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	inv, ok := r.s.invoices.get(payment.InvoiceID)
	if !ok {
		return nil, apperrors.NotFound("invoice", nil)
	}
	switch inv.Status {
	case model.InvoiceStatusPaid:
		return nil, apperrors.Conflict("invoice is already paid")
	case model.InvoiceStatusCancelled:
		return nil, apperrors.Conflict("invoice is cancelled")
	}
	if payment.Amount-inv.Balance() > 0.005 {
		return nil, apperrors.Conflict("payment exceeds outstanding balance")
	}

	now := r.s.now()
	payment.ID = uuid.New()
	payment.PaidAt = now
	r.s.payments.put(payment.ID, *payment)

	inv = cloneInvoice(inv)
	inv.AmountPaid += payment.Amount
	if inv.Balance() <= 0 {
		inv.Status = model.InvoiceStatusPaid
		inv.PaidAt = &now
	} else {
		inv.Status = model.InvoiceStatusPartiallyPaid
	}
	inv.UpdatedAt = now
	r.s.invoices.put(inv.ID, inv)

	return &model.PaymentResult{Payment: *payment, Invoice: cloneInvoice(inv)}, nil
}

type workflowRepo struct{ s *Store }

// List returns workflows oldest first, which is queue order.
func (r *workflowRepo) List(ctx context.Context, filters model.WorkflowFilters) ([]model.ConsultationWorkflow, error) {
	if err := r.s.enter(ctx, OpWorkflowsList); err != nil {
		return nil, err
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := []model.ConsultationWorkflow{}
	for _, w := range r.s.workflows.all() {
		if filters.Matches(w) {
			out = append(out, w)
		}
	}
	return out, nil
}

func (r *workflowRepo) Get(ctx context.Context, id uuid.UUID) (*model.ConsultationWorkflow, error) {
	if err := r.s.enter(ctx, OpWorkflowsGet); err != nil {
		return nil, err
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	w, ok := r.s.workflows.get(id)
	if !ok {
		return nil, apperrors.NotFound("workflow", nil)
	}
	return &w, nil
}

func (r *workflowRepo) GetByInvoice(ctx context.Context, invoiceID uuid.UUID) (*model.ConsultationWorkflow, error) {
	if err := r.s.enter(ctx, OpWorkflowsGetByInvoice); err != nil {
		return nil, err
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	for _, w := range r.s.workflows.newestFirst() {
		if w.InvoiceID == invoiceID {
			return &w, nil
		}
	}
	return nil, apperrors.NotFound("workflow", nil)
}

func (r *workflowRepo) Create(ctx context.Context, workflow *model.ConsultationWorkflow) error {
	if err := r.s.enter(ctx, OpWorkflowsCreate); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, w := range r.s.workflows.all() {
		if w.InvoiceID == workflow.InvoiceID && w.Status != model.WorkflowCompleted {
			return apperrors.Conflict("invoice already has an open workflow")
		}
	}
	workflow.ID = uuid.New()
	r.s.stamp(&workflow.Base, true)
	r.s.workflows.put(workflow.ID, *workflow)
	return nil
}

func (r *workflowRepo) Update(ctx context.Context, workflow *model.ConsultationWorkflow, from model.WorkflowStatus) error {
	if err := r.s.enter(ctx, OpWorkflowsUpdate); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	current, ok := r.s.workflows.get(workflow.ID)
	if !ok {
		return apperrors.NotFound("workflow", nil)
	}
	if current.Status != from {
		return apperrors.Conflict(fmt.Sprintf("workflow is no longer %s", from))
	}
	workflow.CreatedAt = current.CreatedAt
	r.s.stamp(&workflow.Base, false)
	r.s.workflows.put(workflow.ID, *workflow)
	return nil
}

func (r *workflowRepo) CreateVitals(ctx context.Context, vitals *model.VitalSigns) error {
	if err := r.s.enter(ctx, OpVitalsCreate); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	vitals.ID = uuid.New()
	r.s.stamp(&vitals.Base, true)
	if vitals.RecordedAt.IsZero() {
		vitals.RecordedAt = vitals.CreatedAt
	}
	r.s.vitals.put(vitals.ID, *vitals)
	return nil
}

func (r *workflowRepo) GetVitals(ctx context.Context, id uuid.UUID) (*model.VitalSigns, error) {
	if err := r.s.enter(ctx, OpVitalsGet); err != nil {
		return nil, err
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	v, ok := r.s.vitals.get(id)
	if !ok {
		return nil, apperrors.NotFound("vital signs", nil)
	}
	return &v, nil
}

type appointmentRepo struct{ s *Store }

func (r *appointmentRepo) List(ctx context.Context, filters model.AppointmentFilters) ([]model.Appointment, error) {
	if err := r.s.enter(ctx, OpAppointmentsList); err != nil {
		return nil, err
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := []model.Appointment{}
	for _, a := range r.s.appointments.all() {
		if filters.Matches(a) {
			out = append(out, a)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out, nil
}

func (r *appointmentRepo) Get(ctx context.Context, id uuid.UUID) (*model.Appointment, error) {
	if err := r.s.enter(ctx, OpAppointmentsGet); err != nil {
		return nil, err
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	a, ok := r.s.appointments.get(id)
	if !ok {
		return nil, apperrors.NotFound("appointment", nil)
	}
	return &a, nil
}

func (r *appointmentRepo) Create(ctx context.Context, appointment *model.Appointment) error {
	if err := r.s.enter(ctx, OpAppointmentsCreate); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	appointment.ID = uuid.New()
	r.s.stamp(&appointment.Base, true)
	if appointment.Status == "" {
		appointment.Status = model.AppointmentStatusScheduled
	}
	r.s.appointments.put(appointment.ID, *appointment)
	return nil
}

func (r *appointmentRepo) Update(ctx context.Context, appointment *model.Appointment) error {
	if err := r.s.enter(ctx, OpAppointmentsUpdate); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	current, ok := r.s.appointments.get(appointment.ID)
	if !ok {
		return apperrors.NotFound("appointment", nil)
	}
	appointment.CreatedAt = current.CreatedAt
	r.s.stamp(&appointment.Base, false)
	r.s.appointments.put(appointment.ID, *appointment)
	return nil
}

func (r *appointmentRepo) Delete(ctx context.Context, id uuid.UUID) error {
	if err := r.s.enter(ctx, OpAppointmentsDelete); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if !r.s.appointments.del(id) {
		return apperrors.NotFound("appointment", nil)
	}
	return nil
}

func (r *appointmentRepo) HasConflict(ctx context.Context, doctorID uuid.UUID, start, end time.Time, excludeID *uuid.UUID) (bool, error) {
	if err := r.s.enter(ctx, OpAppointmentsConflict); err != nil {
		return false, err
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	for _, a := range r.s.appointments.all() {
		if excludeID != nil && a.ID == *excludeID {
			continue
		}
		if a.DoctorID == doctorID && a.Status.Blocking() && a.Overlaps(start, end) {
			return true, nil
		}
	}
	return false, nil
}

func (r *appointmentRepo) Stats(ctx context.Context, now time.Time) (*model.AppointmentStats, error) {
	if err := r.s.enter(ctx, OpAppointmentsStats); err != nil {
		return nil, err
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	stats := analytics.Appointments(r.s.appointments.all(), now)
	return &stats, nil
}

type recordRepo struct{ s *Store }

func cloneRecord(rec model.MedicalRecord) model.MedicalRecord {
	rec.Medications = append(json.RawMessage(nil), rec.Medications...)
	return rec
}

func (r *recordRepo) List(ctx context.Context, patientID uuid.UUID, filters model.RecordFilters) ([]model.MedicalRecord, error) {
	if err := r.s.enter(ctx, OpRecordsList); err != nil {
		return nil, err
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := []model.MedicalRecord{}
	for _, rec := range r.s.records.newestFirst() {
		if rec.PatientID != patientID {
			continue
		}
		if filters.Type != "" && rec.Type != filters.Type {
			continue
		}
		out = append(out, cloneRecord(rec))
	}
	return out, nil
}

func (r *recordRepo) Get(ctx context.Context, id uuid.UUID) (*model.MedicalRecord, error) {
	if err := r.s.enter(ctx, OpRecordsGet); err != nil {
		return nil, err
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	rec, ok := r.s.records.get(id)
	if !ok {
		return nil, apperrors.NotFound("medical record", nil)
	}
	rec = cloneRecord(rec)
	return &rec, nil
}

func (r *recordRepo) Create(ctx context.Context, record *model.MedicalRecord) error {
	if err := r.s.enter(ctx, OpRecordsCreate); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	record.ID = uuid.New()
	r.s.stamp(&record.Base, true)
	r.s.records.put(record.ID, cloneRecord(*record))
	return nil
}

func (r *recordRepo) Delete(ctx context.Context, id uuid.UUID) error {
	if err := r.s.enter(ctx, OpRecordsDelete); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if !r.s.records.del(id) {
		return apperrors.NotFound("medical record", nil)
	}
	return nil
}

type scheduleRepo struct{ s *Store }

func (r *scheduleRepo) List(ctx context.Context, filters model.ScheduleFilters) ([]model.StaffSchedule, error) {
	if err := r.s.enter(ctx, OpSchedulesList); err != nil {
		return nil, err
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := []model.StaffSchedule{}
	for _, sch := range r.s.schedules.all() {
		if filters.Matches(sch) {
			out = append(out, sch)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].ShiftDate.Equal(out[j].ShiftDate) {
			return out[i].ShiftDate.Before(out[j].ShiftDate)
		}
		return out[i].StartTime < out[j].StartTime
	})
	return out, nil
}

func (r *scheduleRepo) Get(ctx context.Context, id uuid.UUID) (*model.StaffSchedule, error) {
	if err := r.s.enter(ctx, OpSchedulesGet); err != nil {
		return nil, err
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	sch, ok := r.s.schedules.get(id)
	if !ok {
		return nil, apperrors.NotFound("schedule", nil)
	}
	return &sch, nil
}

func (r *scheduleRepo) Create(ctx context.Context, schedule *model.StaffSchedule) error {
	if err := r.s.enter(ctx, OpSchedulesCreate); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	schedule.ID = uuid.New()
	r.s.stamp(&schedule.Base, true)
	if schedule.Status == "" {
		schedule.Status = model.ScheduleScheduled
	}
	r.s.schedules.put(schedule.ID, *schedule)
	return nil
}

func (r *scheduleRepo) Update(ctx context.Context, schedule *model.StaffSchedule) error {
	if err := r.s.enter(ctx, OpSchedulesUpdate); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	current, ok := r.s.schedules.get(schedule.ID)
	if !ok {
		return apperrors.NotFound("schedule", nil)
	}
	schedule.CreatedAt = current.CreatedAt
	r.s.stamp(&schedule.Base, false)
	r.s.schedules.put(schedule.ID, *schedule)
	return nil
}

func (r *scheduleRepo) Delete(ctx context.Context, id uuid.UUID) error {
	if err := r.s.enter(ctx, OpSchedulesDelete); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if !r.s.schedules.del(id) {
		return apperrors.NotFound("schedule", nil)
	}
	return nil
}

type inventoryRepo struct{ s *Store }

func (r *inventoryRepo) List(ctx context.Context) ([]model.InventoryItem, error) {
	if err := r.s.enter(ctx, OpInventoryList); err != nil {
		return nil, err
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := r.s.inventory.all()
	sort.SliceStable(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r *inventoryRepo) Get(ctx context.Context, id uuid.UUID) (*model.InventoryItem, error) {
	if err := r.s.enter(ctx, OpInventoryGet); err != nil {
		return nil, err
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	item, ok := r.s.inventory.get(id)
	if !ok {
		return nil, apperrors.NotFound("inventory item", nil)
	}
	return &item, nil
}

func (r *inventoryRepo) Create(ctx context.Context, item *model.InventoryItem) error {
	if err := r.s.enter(ctx, OpInventoryCreate); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	item.ID = uuid.New()
	r.s.stamp(&item.Base, true)
	r.s.inventory.put(item.ID, *item)
	return nil
}

func (r *inventoryRepo) Update(ctx context.Context, item *model.InventoryItem) error {
	if err := r.s.enter(ctx, OpInventoryUpdate); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	current, ok := r.s.inventory.get(item.ID)
	if !ok {
		return apperrors.NotFound("inventory item", nil)
	}
	item.CreatedAt = current.CreatedAt
	item.Quantity = current.Quantity
	r.s.stamp(&item.Base, false)
	r.s.inventory.put(item.ID, *item)
	return nil
}

func (r *inventoryRepo) Delete(ctx context.Context, id uuid.UUID) error {
	if err := r.s.enter(ctx, OpInventoryDelete); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if !r.s.inventory.del(id) {
		return apperrors.NotFound("inventory item", nil)
	}
	return nil
}

func (r *inventoryRepo) AdjustStock(ctx context.Context, id uuid.UUID, delta int) (*model.InventoryItem, error) {
	if err := r.s.enter(ctx, OpInventoryAdjust); err != nil {
		return nil, err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	item, ok := r.s.inventory.get(id)
	if !ok {
		return nil, apperrors.NotFound("inventory item", nil)
	}
	if item.Quantity+delta < 0 {
		return nil, apperrors.Conflict("insufficient stock")
	}
	item.Quantity += delta
	r.s.stamp(&item.Base, false)
	r.s.inventory.put(id, item)
	return &item, nil
}

func (r *inventoryRepo) Stats(ctx context.Context, now time.Time) (*model.InventoryStats, error) {
	if err := r.s.enter(ctx, OpInventoryStats); err != nil {
		return nil, err
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	stats := analytics.Inventory(r.s.inventory.all(), now)
	return &stats, nil
}
