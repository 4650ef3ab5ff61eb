// Package memory is an in-process gateway. It backs demo runs with
// database.driver=memory and gives tests call counters and failure injection.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/clinic-api/internal/model"
	"github.com/jwalitptl/clinic-api/internal/repository"
	apperrors "github.com/jwalitptl/clinic-api/pkg/errors"
)

// Operation names used by Calls and FailNext.
const (
	OpPatientsList   = "patients.list"
	OpPatientsGet    = "patients.get"
	OpPatientsCreate = "patients.create"
	OpPatientsUpdate = "patients.update"
	OpPatientsDelete = "patients.delete"

	OpInvoicesList   = "invoices.list"
	OpInvoicesGet    = "invoices.get"
	OpInvoicesCreate = "invoices.create"
	OpInvoicesUpdate = "invoices.update"
	OpInvoicesDelete = "invoices.delete"
	OpInvoicesStats  = "invoices.stats"

	OpPaymentsList   = "payments.list"
	OpPaymentsRecord = "payments.record"

	OpWorkflowsList         = "workflows.list"
	OpWorkflowsGet          = "workflows.get"
	OpWorkflowsGetByInvoice = "workflows.get_by_invoice"
	OpWorkflowsCreate       = "workflows.create"
	OpWorkflowsUpdate       = "workflows.update"
	OpVitalsCreate          = "vitals.create"
	OpVitalsGet             = "vitals.get"

	OpAppointmentsList     = "appointments.list"
	OpAppointmentsGet      = "appointments.get"
	OpAppointmentsCreate   = "appointments.create"
	OpAppointmentsUpdate   = "appointments.update"
	OpAppointmentsDelete   = "appointments.delete"
	OpAppointmentsConflict = "appointments.conflict"
	OpAppointmentsStats    = "appointments.stats"

	OpRecordsList   = "records.list"
	OpRecordsGet    = "records.get"
	OpRecordsCreate = "records.create"
	OpRecordsDelete = "records.delete"

	OpSchedulesList   = "schedules.list"
	OpSchedulesGet    = "schedules.get"
	OpSchedulesCreate = "schedules.create"
	OpSchedulesUpdate = "schedules.update"
	OpSchedulesDelete = "schedules.delete"

	OpInventoryList   = "inventory.list"
	OpInventoryGet    = "inventory.get"
	OpInventoryCreate = "inventory.create"
	OpInventoryUpdate = "inventory.update"
	OpInventoryDelete = "inventory.delete"
	OpInventoryAdjust = "inventory.adjust"
	OpInventoryStats  = "inventory.stats"

	OpPing = "ping"
)

// Hook runs before every operation; a non-nil error fails it.
type Hook func(ctx context.Context, op string) error

type Store struct {
	mu           sync.RWMutex
	patients     *table[model.Patient]
	invoices     *table[model.Invoice]
	payments     *table[model.Payment]
	workflows    *table[model.ConsultationWorkflow]
	vitals       *table[model.VitalSigns]
	appointments *table[model.Appointment]
	records      *table[model.MedicalRecord]
	schedules    *table[model.StaffSchedule]
	inventory    *table[model.InventoryItem]
	invoiceSeq   int
	now          func() time.Time

	ctlMu    sync.Mutex
	calls    map[string]int
	failures map[string][]error
	hook     Hook
	offline  bool
}

func New() *Store {
	return &Store{
		patients:     newTable[model.Patient](),
		invoices:     newTable[model.Invoice](),
		payments:     newTable[model.Payment](),
		workflows:    newTable[model.ConsultationWorkflow](),
		vitals:       newTable[model.VitalSigns](),
		appointments: newTable[model.Appointment](),
		records:      newTable[model.MedicalRecord](),
		schedules:    newTable[model.StaffSchedule](),
		inventory:    newTable[model.InventoryItem](),
		now:          time.Now,
		calls:        make(map[string]int),
		failures:     make(map[string][]error),
	}
}

// Gateway exposes the store through the repository interfaces.
func (s *Store) Gateway() *repository.Gateway {
	return &repository.Gateway{
		Patients:     &patientRepo{s},
		Invoices:     &invoiceRepo{s},
		Payments:     &paymentRepo{s},
		Workflows:    &workflowRepo{s},
		Appointments: &appointmentRepo{s},
		Records:      &recordRepo{s},
		Schedules:    &scheduleRepo{s},
		Inventory:    &inventoryRepo{s},
		Health:       s,
	}
}

func (s *Store) SetNow(fn func() time.Time) {
	s.mu.Lock()
	s.now = fn
	s.mu.Unlock()
}

// SetHook installs a hook that runs before every operation.
func (s *Store) SetHook(h Hook) {
	s.ctlMu.Lock()
	s.hook = h
	s.ctlMu.Unlock()
}

// FailNext queues errors returned by the next calls of op, one per call.
func (s *Store) FailNext(op string, errs ...error) {
	s.ctlMu.Lock()
	s.failures[op] = append(s.failures[op], errs...)
	s.ctlMu.Unlock()
}

// SetOffline makes every operation fail as unavailable.
func (s *Store) SetOffline(offline bool) {
	s.ctlMu.Lock()
	s.offline = offline
	s.ctlMu.Unlock()
}

// Calls reports how many times op was attempted.
func (s *Store) Calls(op string) int {
	s.ctlMu.Lock()
	defer s.ctlMu.Unlock()
	return s.calls[op]
}

// Writes counts attempted create, update, delete, record and adjust calls.
func (s *Store) Writes() int {
	s.ctlMu.Lock()
	defer s.ctlMu.Unlock()
	n := 0
	for op, c := range s.calls {
		if isWrite(op) {
			n += c
		}
	}
	return n
}

func (s *Store) ResetCalls() {
	s.ctlMu.Lock()
	s.calls = make(map[string]int)
	s.ctlMu.Unlock()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.enter(ctx, OpPing)
}

func (s *Store) enter(ctx context.Context, op string) error {
	s.ctlMu.Lock()
	s.calls[op]++
	hook, offline := s.hook, s.offline
	var queued error
	if errs := s.failures[op]; len(errs) > 0 {
		queued, s.failures[op] = errs[0], errs[1:]
	}
	s.ctlMu.Unlock()

	if offline {
		return apperrors.Unavailable(errOffline)
	}
	if hook != nil {
		if err := hook(ctx, op); err != nil {
			return err
		}
	}
	if queued != nil {
		return queued
	}
	return ctx.Err()
}

func (s *Store) stamp(b *model.Base, create bool) {
	now := s.now()
	if create {
		if b.ID == uuid.Nil {
			b.ID = uuid.New()
		}
		b.CreatedAt = now
	}
	b.UpdatedAt = now
}

type table[T any] struct {
	rows  map[uuid.UUID]T
	order []uuid.UUID
}

func newTable[T any]() *table[T] {
	return &table[T]{rows: make(map[uuid.UUID]T)}
}

func (t *table[T]) put(id uuid.UUID, row T) {
	if _, ok := t.rows[id]; !ok {
		t.order = append(t.order, id)
	}
	t.rows[id] = row
}

func (t *table[T]) get(id uuid.UUID) (T, bool) {
	row, ok := t.rows[id]
	return row, ok
}

func (t *table[T]) del(id uuid.UUID) bool {
	if _, ok := t.rows[id]; !ok {
		return false
	}
	delete(t.rows, id)
	for i, o := range t.order {
		if o == id {
			t.order = append(t.order[:i:i], t.order[i+1:]...)
			break
		}
	}
	return true
}

// all returns rows in insertion order.
func (t *table[T]) all() []T {
	out := make([]T, 0, len(t.order))
	for _, id := range t.order {
		out = append(out, t.rows[id])
	}
	return out
}

// newestFirst returns rows in reverse insertion order.
func (t *table[T]) newestFirst() []T {
	out := make([]T, 0, len(t.order))
	for i := len(t.order) - 1; i >= 0; i-- {
		out = append(out, t.rows[t.order[i]])
	}
	return out
}
