package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/clinic-api/internal/model"
	apperrors "github.com/jwalitptl/clinic-api/pkg/errors"
)

func newInvoice(total float64) *model.Invoice {
	return &model.Invoice{
		PatientID: uuid.New(),
		Type:      model.InvoiceTypeConsultation,
		Items:     model.InvoiceItems{{Description: "Consultation", Quantity: 1, UnitPrice: total}},
	}
}

func TestInvoiceCreateAssignsServerFields(t *testing.T) {
	gw := New().Gateway()
	ctx := context.Background()

	first := newInvoice(100)
	require.NoError(t, gw.Invoices.Create(ctx, first))
	second := newInvoice(250)
	require.NoError(t, gw.Invoices.Create(ctx, second))

	assert.NotEqual(t, uuid.Nil, first.ID)
	assert.Equal(t, "INV-000001", first.InvoiceNumber)
	assert.Equal(t, "INV-000002", second.InvoiceNumber)
	assert.Equal(t, model.InvoiceStatusPending, first.Status)
	assert.Equal(t, 250.0, second.Total)

	list, err := gw.Invoices.List(ctx, model.InvoiceFilters{})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, second.ID, list[0].ID, "newest first")
}

func TestPaymentsMoveInvoiceToPaid(t *testing.T) {
	gw := New().Gateway()
	ctx := context.Background()
	inv := newInvoice(300)
	require.NoError(t, gw.Invoices.Create(ctx, inv))

	res, err := gw.Payments.Record(ctx, &model.Payment{InvoiceID: inv.ID, Amount: 100, Method: model.PaymentCash})
	require.NoError(t, err)
	assert.Equal(t, model.InvoiceStatusPartiallyPaid, res.Invoice.Status)
	assert.Nil(t, res.Invoice.PaidAt)

	_, err = gw.Payments.Record(ctx, &model.Payment{InvoiceID: inv.ID, Amount: 500, Method: model.PaymentCash})
	assert.True(t, apperrors.Is(err, apperrors.ErrConflict), "overpayment")

	res, err = gw.Payments.Record(ctx, &model.Payment{InvoiceID: inv.ID, Amount: 200, Method: model.PaymentCard})
	require.NoError(t, err)
	assert.Equal(t, model.InvoiceStatusPaid, res.Invoice.Status)
	assert.NotNil(t, res.Invoice.PaidAt)
	assert.Equal(t, 300.0, res.Invoice.AmountPaid)

	paid := res.Invoice
	paid.Notes = new(string)
	assert.True(t, apperrors.Is(gw.Invoices.Update(ctx, &paid), apperrors.ErrConflict))

	payments, err := gw.Payments.List(ctx, &inv.ID)
	require.NoError(t, err)
	assert.Len(t, payments, 2)
}

func TestFailureInjectionAndCounters(t *testing.T) {
	store := New()
	gw := store.Gateway()
	ctx := context.Background()
	boom := errors.New("boom")

	store.FailNext(OpPatientsList, boom)
	_, err := gw.Patients.List(ctx, model.PatientFilters{})
	assert.ErrorIs(t, err, boom)
	_, err = gw.Patients.List(ctx, model.PatientFilters{})
	assert.NoError(t, err)
	assert.Equal(t, 2, store.Calls(OpPatientsList))
	assert.Equal(t, 0, store.Writes())

	store.SetOffline(true)
	err = gw.Health.Ping(ctx)
	assert.True(t, apperrors.Is(err, apperrors.ErrUnavailable))
	store.SetOffline(false)
	assert.NoError(t, gw.Health.Ping(ctx))

	require.NoError(t, gw.Patients.Create(ctx, &model.Patient{FirstName: "Ada"}))
	assert.Equal(t, 1, store.Writes())
}

func TestAppointmentConflicts(t *testing.T) {
	gw := New().Gateway()
	ctx := context.Background()
	doctor := uuid.New()
	start := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	appt := &model.Appointment{PatientID: uuid.New(), DoctorID: doctor, StartTime: start, EndTime: start.Add(30 * time.Minute)}
	require.NoError(t, gw.Appointments.Create(ctx, appt))

	clash, err := gw.Appointments.HasConflict(ctx, doctor, start.Add(15*time.Minute), start.Add(45*time.Minute), nil)
	require.NoError(t, err)
	assert.True(t, clash)

	clash, err = gw.Appointments.HasConflict(ctx, doctor, start.Add(30*time.Minute), start.Add(time.Hour), nil)
	require.NoError(t, err)
	assert.False(t, clash, "back-to-back slots do not overlap")

	clash, err = gw.Appointments.HasConflict(ctx, doctor, start, start.Add(30*time.Minute), &appt.ID)
	require.NoError(t, err)
	assert.False(t, clash)
}

func TestAdjustStockNeverNegative(t *testing.T) {
	gw := New().Gateway()
	ctx := context.Background()
	item := &model.InventoryItem{Name: "Gloves", Quantity: 3}
	require.NoError(t, gw.Inventory.Create(ctx, item))

	_, err := gw.Inventory.AdjustStock(ctx, item.ID, -4)
	assert.True(t, apperrors.Is(err, apperrors.ErrConflict))

	updated, err := gw.Inventory.AdjustStock(ctx, item.ID, -3)
	require.NoError(t, err)
	assert.Equal(t, 0, updated.Quantity)
}

func TestOneOpenWorkflowPerInvoice(t *testing.T) {
	gw := New().Gateway()
	ctx := context.Background()
	invoiceID := uuid.New()

	require.NoError(t, gw.Workflows.Create(ctx, &model.ConsultationWorkflow{InvoiceID: invoiceID, Status: model.WorkflowPaymentPending}))
	err := gw.Workflows.Create(ctx, &model.ConsultationWorkflow{InvoiceID: invoiceID, Status: model.WorkflowPaymentPending})
	assert.True(t, apperrors.Is(err, apperrors.ErrConflict))

	w, err := gw.Workflows.GetByInvoice(ctx, invoiceID)
	require.NoError(t, err)
	assert.Equal(t, model.WorkflowPaymentPending, w.Status)
}

func TestWorkflowUpdateRequiresExpectedStatus(t *testing.T) {
	gw := New().Gateway()
	ctx := context.Background()
	w := &model.ConsultationWorkflow{InvoiceID: uuid.New(), Status: model.WorkflowPaymentPending}
	require.NoError(t, gw.Workflows.Create(ctx, w))

	next := *w
	next.Status = model.WorkflowPaymentCompleted
	require.NoError(t, gw.Workflows.Update(ctx, &next, model.WorkflowPaymentPending))

	stale := *w
	stale.Status = model.WorkflowVitalsPending
	err := gw.Workflows.Update(ctx, &stale, model.WorkflowPaymentPending)
	assert.True(t, apperrors.Is(err, apperrors.ErrConflict))

	stored, err := gw.Workflows.Get(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, model.WorkflowPaymentCompleted, stored.Status)
}
