package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/clinic-api/internal/model"
	"github.com/jwalitptl/clinic-api/internal/querycache"
	"github.com/jwalitptl/clinic-api/internal/repository"
	apperrors "github.com/jwalitptl/clinic-api/pkg/errors"
	"github.com/jwalitptl/clinic-api/pkg/logger"
)

// Workflows is the part of the workflow service billing drives.
type Workflows interface {
	CreateForInvoice(ctx context.Context, actor model.Actor, invoice model.Invoice) (*model.ConsultationWorkflow, error)
	OnPaymentRecorded(ctx context.Context, invoice model.Invoice) (*model.ConsultationWorkflow, error)
}

// Receipts is told about every recorded payment.
type Receipts interface {
	PaymentRecorded(ctx context.Context, result model.PaymentResult, patientEmail *string)
}

type BillingService interface {
	List(ctx context.Context, filters model.InvoiceFilters) ([]model.Invoice, error)
	Get(ctx context.Context, id uuid.UUID) (*model.Invoice, error)
	Create(ctx context.Context, actor model.Actor, req model.CreateInvoiceRequest) (*model.Invoice, error)
	Update(ctx context.Context, actor model.Actor, id uuid.UUID, req model.UpdateInvoiceRequest) (*model.Invoice, error)
	Cancel(ctx context.Context, actor model.Actor, id uuid.UUID) (*model.Invoice, error)
	Delete(ctx context.Context, actor model.Actor, id uuid.UUID) error
	Payments(ctx context.Context, invoiceID *uuid.UUID) ([]model.Payment, error)
	RecordPayment(ctx context.Context, actor model.Actor, invoiceID uuid.UUID, req model.RecordPaymentRequest) (*model.PaymentResult, error)
	Stats(ctx context.Context) model.BillingStats
}

type Service struct {
	invoices  repository.InvoiceRepository
	payments  repository.PaymentRepository
	patients  repository.PatientRepository
	workflows Workflows
	receipts  Receipts
	cache     *querycache.Cache
	log       *logger.Logger
	now       func() time.Time
}

func NewService(gw *repository.Gateway, workflows Workflows, receipts Receipts, cache *querycache.Cache, log *logger.Logger) *Service {
	return &Service{
		invoices:  gw.Invoices,
		payments:  gw.Payments,
		patients:  gw.Patients,
		workflows: workflows,
		receipts:  receipts,
		cache:     cache,
		log:       log.Component("billing"),
		now:       time.Now,
	}
}

var invoiceKeys = []querycache.Key{querycache.KindKey(querycache.KindInvoices)}

var dependents = []querycache.Key{
	querycache.KindKey(querycache.KindBillingStats),
	querycache.KindKey(querycache.KindDashboard),
}

// paymentDependents covers everything a payment can move: the workflow it
// may advance and the aggregates derived from invoices and workflows.
var paymentDependents = []querycache.Key{
	querycache.KindKey(querycache.KindWorkflows),
	querycache.KindKey(querycache.KindWorkflowStats),
	querycache.KindKey(querycache.KindBillingStats),
	querycache.KindKey(querycache.KindDashboard),
}

func listKey() querycache.Key { return querycache.NewKey(querycache.KindInvoices) }

func itemKey(id uuid.UUID) querycache.Key {
	return querycache.NewKey(querycache.KindInvoices, "id="+id.String())
}

func byID(id uuid.UUID) func(model.Invoice) bool {
	return func(inv model.Invoice) bool { return inv.ID == id }
}

func (s *Service) List(ctx context.Context, filters model.InvoiceFilters) ([]model.Invoice, error) {
	key := querycache.NewKey(querycache.KindInvoices, filters.CacheParams()...)
	return querycache.Query(ctx, s.cache, key, func(ctx context.Context) ([]model.Invoice, error) {
		return s.invoices.List(ctx, filters)
	})
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*model.Invoice, error) {
	inv, err := querycache.Query(ctx, s.cache, itemKey(id), func(ctx context.Context) (model.Invoice, error) {
		inv, err := s.invoices.Get(ctx, id)
		if err != nil {
			return model.Invoice{}, err
		}
		return *inv, nil
	})
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

// current returns the invoice as the cache last saw it, reading through to
// the gateway only when nothing is cached.
func (s *Service) current(ctx context.Context, id uuid.UUID) (model.Invoice, error) {
	if inv, ok := querycache.Peek[model.Invoice](s.cache, itemKey(id)); ok {
		return inv, nil
	}
	if list, ok := querycache.Peek[[]model.Invoice](s.cache, listKey()); ok {
		for _, inv := range list {
			if inv.ID == id {
				return inv, nil
			}
		}
	}
	inv, err := s.Get(ctx, id)
	if err != nil {
		return model.Invoice{}, err
	}
	return *inv, nil
}

// Create issues an invoice. A clinical invoice also opens a consultation
// workflow; a failure there is reported but does not undo the invoice.
func (s *Service) Create(ctx context.Context, actor model.Actor, req model.CreateInvoiceRequest) (*model.Invoice, error) {
	now := s.now()
	draft := model.Invoice{
		Base:      model.Base{ID: uuid.New(), CreatedAt: now, UpdatedAt: now},
		PatientID: req.PatientID,
		Type:      req.Type,
		Status:    req.Status,
		Items:     append(model.InvoiceItems(nil), req.Items...),
		Discount:  req.Discount,
		Tax:       req.Tax,
		DueDate:   req.DueDate,
		Notes:     req.Notes,
		CreatedBy: actor.UserID,
	}
	if draft.Status == "" {
		draft.Status = model.InvoiceStatusPending
	}
	draft.Recalculate()

	created, err := querycache.Mutate(ctx, s.cache, querycache.MutationSpec[*model.Invoice]{
		Name: "create-invoice",
		Validate: func() error {
			if !draft.Type.Valid() {
				return apperrors.Validation(fmt.Sprintf("unknown invoice type %q", draft.Type))
			}
			switch draft.Status {
			case model.InvoiceStatusDraft, model.InvoiceStatusPending:
			default:
				return apperrors.Validation("new invoices must be draft or pending")
			}
			if len(draft.Items) == 0 {
				return apperrors.Validation("an invoice needs at least one line item")
			}
			if draft.Total < 0 {
				return apperrors.Validation("discount exceeds the invoice subtotal")
			}
			return nil
		},
		Optimistic: []querycache.Update{querycache.Optimistic(listKey(), querycache.Prepend(draft))},
		Do: func(ctx context.Context) (*model.Invoice, error) {
			inv := draft
			if err := s.invoices.Create(ctx, &inv); err != nil {
				return nil, fmt.Errorf("failed to create invoice: %w", err)
			}
			return &inv, nil
		},
		Invalidate: invoiceKeys,
		Dependents: dependents,
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("invoice created", "invoice_id", created.ID.String(), "invoice_number", created.InvoiceNumber)
	if _, err := s.workflows.CreateForInvoice(ctx, actor, *created); err != nil {
		s.log.Error(err, "failed to open workflow for invoice", "invoice_id", created.ID.String())
	}
	return created, nil
}

// Update edits an unpaid invoice. Paid invoices are refused before any
// gateway call.
func (s *Service) Update(ctx context.Context, actor model.Actor, id uuid.UUID, req model.UpdateInvoiceRequest) (*model.Invoice, error) {
	var next model.Invoice
	patch := func(model.Invoice) model.Invoice { return next }

	return querycache.Mutate(ctx, s.cache, querycache.MutationSpec[*model.Invoice]{
		Name: "update-invoice",
		Validate: func() error {
			cur, err := s.current(ctx, id)
			if err != nil {
				return err
			}
			if err := checkEditable(cur); err != nil {
				return err
			}
			if req.Status != nil {
				switch *req.Status {
				case model.InvoiceStatusPaid, model.InvoiceStatusPartiallyPaid:
					return apperrors.Validation("invoice payment status changes only through payments")
				}
			}
			next = req.Apply(cur)
			next.UpdatedAt = s.now()
			if next.Total < next.AmountPaid {
				return apperrors.Validation("invoice total cannot drop below the amount already paid")
			}
			return nil
		},
		Optimistic: []querycache.Update{
			querycache.Optimistic(listKey(), querycache.UpdateWhere(byID(id), patch)),
			querycache.Optimistic(itemKey(id), patch),
		},
		Do: func(ctx context.Context) (*model.Invoice, error) {
			fresh, err := s.invoices.Get(ctx, id)
			if err != nil {
				return nil, fmt.Errorf("failed to load invoice: %w", err)
			}
			if err := checkEditable(*fresh); err != nil {
				return nil, err
			}
			inv := req.Apply(*fresh)
			inv.UpdatedAt = s.now()
			if inv.Total < inv.AmountPaid {
				return nil, apperrors.Validation("invoice total cannot drop below the amount already paid")
			}
			if err := s.invoices.Update(ctx, &inv); err != nil {
				return nil, fmt.Errorf("failed to update invoice: %w", err)
			}
			return &inv, nil
		},
		Invalidate: invoiceKeys,
		Dependents: dependents,
	})
}

// Cancel voids an unpaid invoice.
func (s *Service) Cancel(ctx context.Context, actor model.Actor, id uuid.UUID) (*model.Invoice, error) {
	status := model.InvoiceStatusCancelled
	return s.Update(ctx, actor, id, model.UpdateInvoiceRequest{Status: &status})
}

func (s *Service) Delete(ctx context.Context, actor model.Actor, id uuid.UUID) error {
	_, err := querycache.Mutate(ctx, s.cache, querycache.MutationSpec[struct{}]{
		Name: "delete-invoice",
		Validate: func() error {
			cur, err := s.current(ctx, id)
			if err != nil {
				return err
			}
			if err := checkEditable(cur); err != nil {
				return err
			}
			if cur.AmountPaid > 0 {
				return apperrors.Validation("an invoice with payments cannot be deleted, cancel it instead")
			}
			return nil
		},
		Optimistic: []querycache.Update{
			querycache.Optimistic(listKey(), querycache.RemoveWhere(byID(id))),
		},
		Do: func(ctx context.Context) (struct{}, error) {
			if err := s.invoices.Delete(ctx, id); err != nil {
				return struct{}{}, fmt.Errorf("failed to delete invoice: %w", err)
			}
			return struct{}{}, nil
		},
		Invalidate: invoiceKeys,
		Dependents: dependents,
	})
	if err == nil {
		s.log.Info("invoice deleted", "invoice_id", id.String(), "user_id", actor.UserID.String())
	}
	return err
}

func (s *Service) Payments(ctx context.Context, invoiceID *uuid.UUID) ([]model.Payment, error) {
	var params []string
	if invoiceID != nil {
		params = append(params, "invoice_id="+invoiceID.String())
	}
	key := querycache.NewKey(querycache.KindPayments, params...)
	return querycache.Query(ctx, s.cache, key, func(ctx context.Context) ([]model.Payment, error) {
		return s.payments.List(ctx, invoiceID)
	})
}

// RecordPayment applies a payment to an invoice. Once the invoice is paid in
// full its workflow moves to payment-completed.
func (s *Service) RecordPayment(ctx context.Context, actor model.Actor, invoiceID uuid.UUID, req model.RecordPaymentRequest) (*model.PaymentResult, error) {
	var next model.Invoice
	patch := func(model.Invoice) model.Invoice { return next }
	payment := model.Payment{
		ID:         uuid.New(),
		InvoiceID:  invoiceID,
		Amount:     req.Amount,
		Method:     req.Method,
		Reference:  req.Reference,
		ReceivedBy: actor.UserID,
		PaidAt:     s.now(),
	}

	result, err := querycache.Mutate(ctx, s.cache, querycache.MutationSpec[*model.PaymentResult]{
		Name: "record-payment",
		Validate: func() error {
			if req.Amount <= 0 {
				return apperrors.Validation("payment amount must be positive")
			}
			cur, err := s.current(ctx, invoiceID)
			if err != nil {
				return err
			}
			if err := checkEditable(cur); err != nil {
				return err
			}
			if req.Amount > cur.Balance() {
				return apperrors.Validation(fmt.Sprintf("payment of %.2f exceeds the outstanding balance of %.2f", req.Amount, cur.Balance()))
			}
			next = applyPayment(cur, req.Amount, payment.PaidAt)
			return nil
		},
		Optimistic: []querycache.Update{
			querycache.Optimistic(listKey(), querycache.UpdateWhere(byID(invoiceID), patch)),
			querycache.Optimistic(itemKey(invoiceID), patch),
			querycache.Optimistic(querycache.NewKey(querycache.KindPayments), querycache.Prepend(payment)),
		},
		Do: func(ctx context.Context) (*model.PaymentResult, error) {
			p := payment
			res, err := s.payments.Record(ctx, &p)
			if err != nil {
				return nil, fmt.Errorf("failed to record payment: %w", err)
			}
			return res, nil
		},
		Invalidate: []querycache.Key{
			querycache.KindKey(querycache.KindInvoices),
			querycache.KindKey(querycache.KindPayments),
		},
		Dependents: paymentDependents,
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("payment recorded",
		"invoice_id", invoiceID.String(), "amount", result.Payment.Amount, "status", string(result.Invoice.Status))
	if _, err := s.workflows.OnPaymentRecorded(ctx, result.Invoice); err != nil {
		s.log.Error(err, "failed to advance workflow after payment", "invoice_id", invoiceID.String())
	}
	if s.receipts != nil {
		s.receipts.PaymentRecorded(ctx, *result, s.patientEmail(ctx, result.Invoice.PatientID))
	}
	return result, nil
}

// Stats summarises billing. A gateway failure is logged and yields zero
// values.
func (s *Service) Stats(ctx context.Context) model.BillingStats {
	stats, err := querycache.Query(ctx, s.cache, querycache.NewKey(querycache.KindBillingStats),
		func(ctx context.Context) (model.BillingStats, error) {
			stats, err := s.invoices.Stats(ctx)
			if err != nil {
				return model.BillingStats{}, err
			}
			return *stats, nil
		})
	if err != nil {
		s.log.Error(err, "failed to load billing stats")
		return model.BillingStats{ByStatus: map[model.InvoiceStatus]int{}}
	}
	return stats
}

func (s *Service) patientEmail(ctx context.Context, id uuid.UUID) *string {
	p, err := s.patients.Get(ctx, id)
	if err != nil {
		s.log.Warn("no patient for receipt", "patient_id", id.String(), "error", err.Error())
		return nil
	}
	return p.Email
}

func checkEditable(inv model.Invoice) error {
	switch inv.Status {
	case model.InvoiceStatusPaid:
		return apperrors.Validation(fmt.Sprintf("invoice %s is paid and can no longer be changed", inv.InvoiceNumber))
	case model.InvoiceStatusCancelled:
		return apperrors.Validation(fmt.Sprintf("invoice %s is cancelled", inv.InvoiceNumber))
	}
	return nil
}

func applyPayment(inv model.Invoice, amount float64, at time.Time) model.Invoice {
	inv.AmountPaid += amount
	if inv.Balance() <= 0 {
		inv.Status = model.InvoiceStatusPaid
		inv.PaidAt = &at
	} else {
		inv.Status = model.InvoiceStatusPartiallyPaid
	}
	inv.UpdatedAt = at
	return inv
}
