package model

import "github.com/google/uuid"

type BillingStats struct {
	TotalBilled    float64               `json:"total_billed"`
	TotalCollected float64               `json:"total_collected"`
	Outstanding    float64               `json:"outstanding"`
	CollectionRate float64               `json:"collection_rate"`
	InvoiceCount   int                   `json:"invoice_count"`
	ByStatus       map[InvoiceStatus]int `json:"by_status"`
}

type InventoryStats struct {
	TotalItems   int         `json:"total_items"`
	StockValue   float64     `json:"stock_value"`
	LowStock     int         `json:"low_stock"`
	OutOfStock   int         `json:"out_of_stock"`
	ExpiringSoon int         `json:"expiring_soon"`
	AlertItemIDs []uuid.UUID `json:"alert_item_ids"`
}

type AppointmentStats struct {
	Total            int                       `json:"total"`
	Today            int                       `json:"today"`
	Upcoming         int                       `json:"upcoming"`
	ByStatus         map[AppointmentStatus]int `json:"by_status"`
	ConfirmationRate float64                   `json:"confirmation_rate"`
	NoShowRate       float64                   `json:"no_show_rate"`
}

type DashboardStats struct {
	RevenueThisMonth     float64          `json:"revenue_this_month"`
	RevenuePreviousMonth float64          `json:"revenue_previous_month"`
	RevenueGrowth        float64          `json:"revenue_growth"`
	TotalRevenue         float64          `json:"total_revenue"`
	Outstanding          float64          `json:"outstanding"`
	TotalPatients        int              `json:"total_patients"`
	NewPatientsThisMonth int              `json:"new_patients_this_month"`
	NewPatientsPrevious  int              `json:"new_patients_previous_month"`
	PatientGrowth        float64          `json:"patient_growth"`
	Appointments         AppointmentStats `json:"appointments"`
	Workflows            WorkflowStats    `json:"workflows"`
	LowStockAlerts       []InventoryItem  `json:"low_stock_alerts"`
}

type StaffPerformance struct {
	DoctorID               uuid.UUID `json:"doctor_id"`
	CompletedConsultations int       `json:"completed_consultations"`
	ActiveQueue            int       `json:"active_queue"`
	Appointments           int       `json:"appointments"`
	CompletedAppointments  int       `json:"completed_appointments"`
	CompletionRate         float64   `json:"completion_rate"`
}
