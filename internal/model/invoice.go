package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
)

type InvoiceStatus string

const (
	InvoiceStatusDraft         InvoiceStatus = "draft"
	InvoiceStatusPending       InvoiceStatus = "pending"
	InvoiceStatusPartiallyPaid InvoiceStatus = "partially-paid"
	InvoiceStatusPaid          InvoiceStatus = "paid"
	InvoiceStatusOverdue       InvoiceStatus = "overdue"
	InvoiceStatusCancelled     InvoiceStatus = "cancelled"
)

var validInvoiceStatuses = map[InvoiceStatus]bool{
	InvoiceStatusDraft: true, InvoiceStatusPending: true, InvoiceStatusPartiallyPaid: true,
	InvoiceStatusPaid: true, InvoiceStatusOverdue: true, InvoiceStatusCancelled: true,
}

func ParseInvoiceStatus(s string) (InvoiceStatus, error) {
	return parseEnum("invoice status", validInvoiceStatuses, s)
}

func (s InvoiceStatus) Valid() bool { return validInvoiceStatuses[s] }

func (s *InvoiceStatus) Scan(src interface{}) error {
	return scanEnum("invoice status", validInvoiceStatuses, s, src)
}

func (s *InvoiceStatus) UnmarshalJSON(data []byte) error {
	return unmarshalEnum("invoice status", validInvoiceStatuses, s, data)
}

type InvoiceType string

const (
	InvoiceTypeConsultation InvoiceType = "consultation"
	InvoiceTypeProcedure    InvoiceType = "procedure"
	InvoiceTypeEmergency    InvoiceType = "emergency"
	InvoiceTypeFollowup     InvoiceType = "followup"
	InvoiceTypePharmacy     InvoiceType = "pharmacy"
	InvoiceTypeLaboratory   InvoiceType = "laboratory"
	InvoiceTypeOther        InvoiceType = "other"
)

var validInvoiceTypes = map[InvoiceType]bool{
	InvoiceTypeConsultation: true, InvoiceTypeProcedure: true, InvoiceTypeEmergency: true,
	InvoiceTypeFollowup: true, InvoiceTypePharmacy: true, InvoiceTypeLaboratory: true, InvoiceTypeOther: true,
}

func ParseInvoiceType(s string) (InvoiceType, error) {
	return parseEnum("invoice type", validInvoiceTypes, s)
}

func (t InvoiceType) Valid() bool { return validInvoiceTypes[t] }

func (t *InvoiceType) Scan(src interface{}) error {
	return scanEnum("invoice type", validInvoiceTypes, t, src)
}

func (t *InvoiceType) UnmarshalJSON(data []byte) error {
	return unmarshalEnum("invoice type", validInvoiceTypes, t, data)
}

// IsClinical reports whether issuing the invoice opens a consultation workflow.
func (t InvoiceType) IsClinical() bool {
	switch t {
	case InvoiceTypeConsultation, InvoiceTypeProcedure, InvoiceTypeEmergency, InvoiceTypeFollowup:
		return true
	}
	return false
}

// ConsultationType maps a clinical invoice type onto the workflow's
// consultation type.
func (t InvoiceType) ConsultationType() ConsultationType {
	switch t {
	case InvoiceTypeConsultation:
		return ConsultationGeneral
	case InvoiceTypeEmergency:
		return ConsultationEmergency
	case InvoiceTypeFollowup:
		return ConsultationFollowup
	case InvoiceTypeProcedure:
		return ConsultationSpecialist
	}
	return ConsultationOther
}

type InvoiceItem struct {
	Description string  `json:"description" binding:"required"`
	Quantity    int     `json:"quantity" binding:"required,gt=0"`
	UnitPrice   float64 `json:"unit_price" binding:"gte=0"`
}

func (i InvoiceItem) Amount() float64 {
	return float64(i.Quantity) * i.UnitPrice
}

// InvoiceItems is stored as a jsonb column.
type InvoiceItems []InvoiceItem

func (items InvoiceItems) Value() (driver.Value, error) {
	if items == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(items)
}

func (items *InvoiceItems) Scan(src interface{}) error {
	var data []byte
	switch s := src.(type) {
	case []byte:
		data = s
	case string:
		data = []byte(s)
	case nil:
		*items = InvoiceItems{}
		return nil
	default:
		return fmt.Errorf("unsupported invoice items type %T", src)
	}
	return json.Unmarshal(data, items)
}

type Invoice struct {
	Base
	InvoiceNumber string        `db:"invoice_number" json:"invoice_number"`
	PatientID     uuid.UUID     `db:"patient_id" json:"patient_id"`
	Type          InvoiceType   `db:"invoice_type" json:"invoice_type"`
	Status        InvoiceStatus `db:"status" json:"status"`
	Items         InvoiceItems  `db:"items" json:"items"`
	Subtotal      float64       `db:"subtotal" json:"subtotal"`
	Discount      float64       `db:"discount" json:"discount"`
	Tax           float64       `db:"tax" json:"tax"`
	Total         float64       `db:"total" json:"total"`
	AmountPaid    float64       `db:"amount_paid" json:"amount_paid"`
	DueDate       *time.Time    `db:"due_date" json:"due_date,omitempty"`
	PaidAt        *time.Time    `db:"paid_at" json:"paid_at,omitempty"`
	Notes         *string       `db:"notes" json:"notes,omitempty"`
	CreatedBy     uuid.UUID     `db:"created_by" json:"created_by"`
}

// Recalculate derives subtotal and total from the line items.
func (inv *Invoice) Recalculate() {
	var subtotal float64
	for _, item := range inv.Items {
		subtotal += item.Amount()
	}
	inv.Subtotal = roundCents(subtotal)
	inv.Total = roundCents(subtotal - inv.Discount + inv.Tax)
}

// Balance is what remains to be collected.
func (inv Invoice) Balance() float64 {
	return roundCents(inv.Total - inv.AmountPaid)
}

func (inv Invoice) IsPaid() bool {
	return inv.Status == InvoiceStatusPaid
}

func roundCents(v float64) float64 {
	return math.Round(v*100) / 100
}

type CreateInvoiceRequest struct {
	PatientID uuid.UUID     `json:"patient_id" binding:"required"`
	Type      InvoiceType   `json:"invoice_type" binding:"required"`
	Status    InvoiceStatus `json:"status"`
	Items     []InvoiceItem `json:"items" binding:"required,min=1,dive"`
	Discount  float64       `json:"discount" binding:"gte=0"`
	Tax       float64       `json:"tax" binding:"gte=0"`
	DueDate   *time.Time    `json:"due_date"`
	Notes     *string       `json:"notes" binding:"omitempty,max=2000"`
}

type UpdateInvoiceRequest struct {
	Items    []InvoiceItem  `json:"items" binding:"omitempty,dive"`
	Discount *float64       `json:"discount" binding:"omitempty,gte=0"`
	Tax      *float64       `json:"tax" binding:"omitempty,gte=0"`
	DueDate  *time.Time     `json:"due_date"`
	Notes    *string        `json:"notes" binding:"omitempty,max=2000"`
	Status   *InvoiceStatus `json:"status"`
}

// Apply patches an invoice copy; the receiver row is left untouched.
func (r UpdateInvoiceRequest) Apply(inv Invoice) Invoice {
	if r.Items != nil {
		inv.Items = append(InvoiceItems(nil), r.Items...)
	}
	if r.Discount != nil {
		inv.Discount = *r.Discount
	}
	if r.Tax != nil {
		inv.Tax = *r.Tax
	}
	if r.DueDate != nil {
		inv.DueDate = r.DueDate
	}
	if r.Notes != nil {
		inv.Notes = r.Notes
	}
	if r.Status != nil {
		inv.Status = *r.Status
	}
	inv.Recalculate()
	return inv
}

type InvoiceFilters struct {
	Status    InvoiceStatus
	PatientID *uuid.UUID
	Range     DateRange
}

func (f InvoiceFilters) Matches(inv Invoice) bool {
	if f.Status != "" && inv.Status != f.Status {
		return false
	}
	if f.PatientID != nil && inv.PatientID != *f.PatientID {
		return false
	}
	return f.Range.Contains(inv.CreatedAt)
}

func (f InvoiceFilters) CacheParams() []string {
	var out []string
	if f.Status != "" {
		out = append(out, "status="+string(f.Status))
	}
	if f.PatientID != nil {
		out = append(out, "patient_id="+f.PatientID.String())
	}
	return append(out, f.Range.params()...)
}

type PaymentMethod string

const (
	PaymentCash      PaymentMethod = "cash"
	PaymentCard      PaymentMethod = "card"
	PaymentTransfer  PaymentMethod = "transfer"
	PaymentInsurance PaymentMethod = "insurance"
	PaymentMobile    PaymentMethod = "mobile"
)

var validPaymentMethods = map[PaymentMethod]bool{
	PaymentCash: true, PaymentCard: true, PaymentTransfer: true, PaymentInsurance: true, PaymentMobile: true,
}

func ParsePaymentMethod(s string) (PaymentMethod, error) {
	return parseEnum("payment method", validPaymentMethods, s)
}

func (m *PaymentMethod) Scan(src interface{}) error {
	return scanEnum("payment method", validPaymentMethods, m, src)
}

func (m *PaymentMethod) UnmarshalJSON(data []byte) error {
	return unmarshalEnum("payment method", validPaymentMethods, m, data)
}

type Payment struct {
	ID         uuid.UUID     `db:"id" json:"id"`
	InvoiceID  uuid.UUID     `db:"invoice_id" json:"invoice_id"`
	Amount     float64       `db:"amount" json:"amount"`
	Method     PaymentMethod `db:"method" json:"method"`
	Reference  *string       `db:"reference" json:"reference,omitempty"`
	ReceivedBy uuid.UUID     `db:"received_by" json:"received_by"`
	PaidAt     time.Time     `db:"paid_at" json:"paid_at"`
}

type RecordPaymentRequest struct {
	Amount    float64       `json:"amount" binding:"required,gt=0"`
	Method    PaymentMethod `json:"method" binding:"required"`
	Reference *string       `json:"reference" binding:"omitempty,max=120"`
}

// PaymentResult is what the gateway returns after persisting a payment: the
// payment row and the invoice as it stands afterwards.
type PaymentResult struct {
	Payment Payment `json:"payment"`
	Invoice Invoice `json:"invoice"`
}
