package analytics

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/clinic-api/internal/model"
)

// ExpiryWindow is how far ahead an inventory item counts as expiring soon.
const ExpiryWindow = 30 * 24 * time.Hour

// MaxStockAlerts caps the alert list shown on the dashboard.
const MaxStockAlerts = 10

func Billing(invoices []model.Invoice) model.BillingStats {
	stats := model.BillingStats{ByStatus: make(map[model.InvoiceStatus]int)}
	for _, inv := range invoices {
		stats.ByStatus[inv.Status]++
		if inv.Status == model.InvoiceStatusCancelled || inv.Status == model.InvoiceStatusDraft {
			continue
		}
		stats.InvoiceCount++
		stats.TotalBilled += inv.Total
		stats.TotalCollected += inv.AmountPaid
	}
	stats.TotalBilled = round2(stats.TotalBilled)
	stats.TotalCollected = round2(stats.TotalCollected)
	stats.Outstanding = round2(stats.TotalBilled - stats.TotalCollected)
	stats.CollectionRate = Percentage(stats.TotalCollected, stats.TotalBilled)
	return stats
}

func Inventory(items []model.InventoryItem, now time.Time) model.InventoryStats {
	stats := model.InventoryStats{AlertItemIDs: []uuid.UUID{}}
	for _, item := range StockAlerts(items) {
		stats.AlertItemIDs = append(stats.AlertItemIDs, item.ID)
	}
	horizon := now.Add(ExpiryWindow)
	for _, item := range items {
		stats.TotalItems++
		stats.StockValue += float64(item.Quantity) * item.UnitCost
		switch {
		case item.OutOfStock():
			stats.OutOfStock++
		case item.LowStock():
			stats.LowStock++
		}
		if item.ExpiryDate != nil && !item.ExpiryDate.After(horizon) {
			stats.ExpiringSoon++
		}
	}
	stats.StockValue = round2(stats.StockValue)
	return stats
}

// StockAlerts returns low or out of stock items, emptiest first.
func StockAlerts(items []model.InventoryItem) []model.InventoryItem {
	alerts := make([]model.InventoryItem, 0)
	for _, item := range items {
		if item.OutOfStock() || item.LowStock() {
			alerts = append(alerts, item)
		}
	}
	sort.SliceStable(alerts, func(i, j int) bool {
		if alerts[i].Quantity != alerts[j].Quantity {
			return alerts[i].Quantity < alerts[j].Quantity
		}
		return alerts[i].Name < alerts[j].Name
	})
	return alerts
}

func Appointments(appts []model.Appointment, now time.Time) model.AppointmentStats {
	stats := model.AppointmentStats{ByStatus: make(map[model.AppointmentStatus]int)}
	var confirmed, noShow int
	for _, a := range appts {
		stats.Total++
		stats.ByStatus[a.Status]++
		if sameDay(a.StartTime, now) {
			stats.Today++
		}
		if a.StartTime.After(now) && a.Status.Blocking() {
			stats.Upcoming++
		}
		switch a.Status {
		case model.AppointmentStatusConfirmed, model.AppointmentStatusInProgress, model.AppointmentStatusCompleted:
			confirmed++
		case model.AppointmentStatusNoShow:
			noShow++
		}
	}
	stats.ConfirmationRate = Percentage(float64(confirmed), float64(stats.Total))
	stats.NoShowRate = Percentage(float64(noShow), float64(stats.Total))
	return stats
}

func Workflows(workflows []model.ConsultationWorkflow) model.WorkflowStats {
	var stats model.WorkflowStats
	for _, w := range workflows {
		switch w.Status {
		case model.WorkflowPaymentPending:
			stats.PaymentPending++
		case model.WorkflowPaymentCompleted:
			stats.PaymentCompleted++
		case model.WorkflowVitalsPending:
			stats.VitalsPending++
		case model.WorkflowDoctorAssignment:
			stats.DoctorAssignment++
		case model.WorkflowConsultationReady:
			stats.ConsultationReady++
		case model.WorkflowInProgress:
			stats.InProgress++
		case model.WorkflowCompleted:
			stats.Completed++
			continue
		}
		stats.Total++
	}
	return stats
}

// DashboardInput is the set of raw collections the dashboard rolls up.
type DashboardInput struct {
	Patients     []model.Patient
	Invoices     []model.Invoice
	Payments     []model.Payment
	Appointments []model.Appointment
	Inventory    []model.InventoryItem
	Workflows    []model.ConsultationWorkflow
}

func Dashboard(in DashboardInput, now time.Time) model.DashboardStats {
	thisMonth := monthStart(now)
	prevMonth := thisMonth.AddDate(0, -1, 0)

	var stats model.DashboardStats
	for _, p := range in.Payments {
		stats.TotalRevenue += p.Amount
		switch {
		case !p.PaidAt.Before(thisMonth):
			stats.RevenueThisMonth += p.Amount
		case !p.PaidAt.Before(prevMonth):
			stats.RevenuePreviousMonth += p.Amount
		}
	}
	stats.TotalRevenue = round2(stats.TotalRevenue)
	stats.RevenueThisMonth = round2(stats.RevenueThisMonth)
	stats.RevenuePreviousMonth = round2(stats.RevenuePreviousMonth)
	stats.RevenueGrowth = GrowthRate(stats.RevenuePreviousMonth, stats.RevenueThisMonth)
	stats.Outstanding = Billing(in.Invoices).Outstanding

	for _, p := range in.Patients {
		stats.TotalPatients++
		switch {
		case !p.CreatedAt.Before(thisMonth):
			stats.NewPatientsThisMonth++
		case !p.CreatedAt.Before(prevMonth):
			stats.NewPatientsPrevious++
		}
	}
	stats.PatientGrowth = GrowthRate(float64(stats.NewPatientsPrevious), float64(stats.NewPatientsThisMonth))

	stats.Appointments = Appointments(in.Appointments, now)
	stats.Workflows = Workflows(in.Workflows)

	alerts := StockAlerts(in.Inventory)
	if len(alerts) > MaxStockAlerts {
		alerts = alerts[:MaxStockAlerts]
	}
	stats.LowStockAlerts = alerts
	return stats
}

// StaffPerformance aggregates per-doctor consultation and appointment counts,
// ordered by doctor id.
func StaffPerformance(workflows []model.ConsultationWorkflow, appts []model.Appointment) []model.StaffPerformance {
	byDoctor := make(map[uuid.UUID]*model.StaffPerformance)
	get := func(id uuid.UUID) *model.StaffPerformance {
		p, ok := byDoctor[id]
		if !ok {
			p = &model.StaffPerformance{DoctorID: id}
			byDoctor[id] = p
		}
		return p
	}
	for _, w := range workflows {
		if w.DoctorID == nil {
			continue
		}
		p := get(*w.DoctorID)
		if w.Status == model.WorkflowCompleted {
			p.CompletedConsultations++
		} else {
			p.ActiveQueue++
		}
	}
	for _, a := range appts {
		p := get(a.DoctorID)
		p.Appointments++
		if a.Status == model.AppointmentStatusCompleted {
			p.CompletedAppointments++
		}
	}

	out := make([]model.StaffPerformance, 0, len(byDoctor))
	for _, p := range byDoctor {
		p.CompletionRate = Percentage(float64(p.CompletedAppointments), float64(p.Appointments))
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].DoctorID.String() < out[j].DoctorID.String()
	})
	return out
}

func monthStart(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
}

func sameDay(a, b time.Time) bool {
	a = a.In(b.Location())
	return a.Year() == b.Year() && a.YearDay() == b.YearDay()
}
