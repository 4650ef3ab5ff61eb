package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/clinic-api/internal/model"
	apperrors "github.com/jwalitptl/clinic-api/pkg/errors"
)

func (r *paymentRepository) List(ctx context.Context, invoiceID *uuid.UUID) ([]model.Payment, error) {
	var f filter
	if invoiceID != nil {
		f.add("invoice_id = $%d", *invoiceID)
	}
	query := `SELECT id, invoice_id, amount, method, reference, received_by, paid_at FROM payments` +
		f.where() + ` ORDER BY paid_at DESC`

	payments := []model.Payment{}
	if err := r.db.SelectContext(ctx, &payments, query, f.args...); err != nil {
		return nil, fmt.Errorf("failed to list payments: %w", err)
	}
	return payments, nil
}

// Record inserts the payment and updates the invoice in one transaction. The
// invoice row is locked so concurrent payments cannot overshoot the total.
func (r *paymentRepository) Record(ctx context.Context, payment *model.Payment) (*model.PaymentResult, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var invoice model.Invoice
	err = tx.GetContext(ctx, &invoice, `SELECT `+invoiceColumns+` FROM invoices WHERE id = $1 FOR UPDATE`, payment.InvoiceID)
	if err != nil {
		return nil, wrapErr(err, "lock", "invoice")
	}
	switch invoice.Status {
	case model.InvoiceStatusPaid:
		return nil, apperrors.Conflict("invoice is already paid")
	case model.InvoiceStatusCancelled:
		return nil, apperrors.Conflict("invoice is cancelled")
	}
	if payment.Amount-invoice.Balance() > 0.005 {
		return nil, apperrors.Conflict("payment exceeds outstanding balance")
	}

	now := time.Now()
	payment.ID = uuid.New()
	payment.PaidAt = now
	_, err = tx.NamedExecContext(ctx, `
		INSERT INTO payments (id, invoice_id, amount, method, reference, received_by, paid_at)
		VALUES (:id, :invoice_id, :amount, :method, :reference, :received_by, :paid_at)
	`, payment)
	if err != nil {
		return nil, fmt.Errorf("failed to insert payment: %w", err)
	}

	invoice.AmountPaid += payment.Amount
	if invoice.Balance() <= 0 {
		invoice.Status = model.InvoiceStatusPaid
		invoice.PaidAt = &now
	} else {
		invoice.Status = model.InvoiceStatusPartiallyPaid
	}
	invoice.UpdatedAt = now
	_, err = tx.ExecContext(ctx, `
		UPDATE invoices SET amount_paid = $1, status = $2, paid_at = $3, updated_at = $4 WHERE id = $5
	`, invoice.AmountPaid, invoice.Status, invoice.PaidAt, invoice.UpdatedAt, invoice.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to apply payment to invoice: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit payment: %w", err)
	}
	return &model.PaymentResult{Payment: *payment, Invoice: invoice}, nil
}
