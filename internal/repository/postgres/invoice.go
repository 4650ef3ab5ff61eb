package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/clinic-api/internal/analytics"
	"github.com/jwalitptl/clinic-api/internal/model"
	apperrors "github.com/jwalitptl/clinic-api/pkg/errors"
)

const invoiceColumns = `id, invoice_number, patient_id, invoice_type, status, items, subtotal,
	discount, tax, total, amount_paid, due_date, paid_at, notes, created_by, created_at, updated_at`

func (r *invoiceRepository) List(ctx context.Context, filters model.InvoiceFilters) ([]model.Invoice, error) {
	var f filter
	if filters.Status != "" {
		f.add("status = $%d", filters.Status)
	}
	if filters.PatientID != nil {
		f.add("patient_id = $%d", *filters.PatientID)
	}
	if !filters.Range.From.IsZero() {
		f.add("created_at >= $%d", filters.Range.From)
	}
	if !filters.Range.To.IsZero() {
		f.add("created_at < $%d", filters.Range.To.AddDate(0, 0, 1))
	}
	query := `SELECT ` + invoiceColumns + ` FROM invoices` + f.where() + ` ORDER BY created_at DESC`

	invoices := []model.Invoice{}
	if err := r.db.SelectContext(ctx, &invoices, query, f.args...); err != nil {
		return nil, fmt.Errorf("failed to list invoices: %w", err)
	}
	return invoices, nil
}

func (r *invoiceRepository) Get(ctx context.Context, id uuid.UUID) (*model.Invoice, error) {
	query := `SELECT ` + invoiceColumns + ` FROM invoices WHERE id = $1`
	var invoice model.Invoice
	if err := r.db.GetContext(ctx, &invoice, query, id); err != nil {
		return nil, wrapErr(err, "get", "invoice")
	}
	return &invoice, nil
}

// Create lets the database generate the invoice number from its sequence.
func (r *invoiceRepository) Create(ctx context.Context, invoice *model.Invoice) error {
	query := `
		INSERT INTO invoices (
			id, invoice_number, patient_id, invoice_type, status, items, subtotal,
			discount, tax, total, amount_paid, due_date, notes, created_by, created_at, updated_at
		) VALUES (
			$1, 'INV-' || lpad(nextval('invoice_number_seq')::text, 6, '0'), $2, $3, $4, $5, $6,
			$7, $8, $9, 0, $10, $11, $12, $13, $13
		)
		RETURNING invoice_number
	`
	invoice.ID = uuid.New()
	invoice.CreatedAt = time.Now()
	invoice.UpdatedAt = invoice.CreatedAt
	invoice.AmountPaid = 0
	if invoice.Status == "" {
		invoice.Status = model.InvoiceStatusPending
	}
	invoice.Recalculate()

	err := r.db.QueryRowxContext(ctx, query,
		invoice.ID,
		invoice.PatientID,
		invoice.Type,
		invoice.Status,
		invoice.Items,
		invoice.Subtotal,
		invoice.Discount,
		invoice.Tax,
		invoice.Total,
		invoice.DueDate,
		invoice.Notes,
		invoice.CreatedBy,
		invoice.CreatedAt,
	).Scan(&invoice.InvoiceNumber)
	if err != nil {
		return fmt.Errorf("failed to create invoice: %w", err)
	}
	return nil
}

// Update refuses to touch a paid invoice even if the caller skipped the check.
func (r *invoiceRepository) Update(ctx context.Context, invoice *model.Invoice) error {
	query := `
		UPDATE invoices
		SET status = $1, items = $2, subtotal = $3, discount = $4, tax = $5, total = $6,
			due_date = $7, notes = $8, updated_at = $9
		WHERE id = $10 AND status <> 'paid'
	`
	invoice.Recalculate()
	invoice.UpdatedAt = time.Now()
	res, err := r.db.ExecContext(ctx, query,
		invoice.Status,
		invoice.Items,
		invoice.Subtotal,
		invoice.Discount,
		invoice.Tax,
		invoice.Total,
		invoice.DueDate,
		invoice.Notes,
		invoice.UpdatedAt,
		invoice.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update invoice: %w", err)
	}
	if err := expectOne(res, "invoice"); err != nil {
		if _, getErr := r.Get(ctx, invoice.ID); getErr == nil {
			return apperrors.Conflict("invoice is already paid")
		}
		return err
	}
	return nil
}

func (r *invoiceRepository) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM invoices WHERE id = $1 AND amount_paid = 0`, id)
	if err != nil {
		return fmt.Errorf("failed to delete invoice: %w", err)
	}
	return expectOne(res, "invoice")
}

func (r *invoiceRepository) Stats(ctx context.Context) (*model.BillingStats, error) {
	invoices, err := r.List(ctx, model.InvoiceFilters{})
	if err != nil {
		return nil, err
	}
	stats := analytics.Billing(invoices)
	return &stats, nil
}
