package model

import (
	"time"

	"github.com/google/uuid"
)

// Base contains common fields for all models
type Base struct {
	ID        uuid.UUID `json:"id" db:"id"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Pagination represents common pagination parameters
type Pagination struct {
	Page     int `json:"page" form:"page"`
	PageSize int `json:"page_size" form:"page_size"`
}

// DateRange bounds list queries on a time column.
type DateRange struct {
	From time.Time `json:"from" form:"from" time_format:"2006-01-02"`
	To   time.Time `json:"to" form:"to" time_format:"2006-01-02"`
}

// Contains reports whether t falls inside the range; zero bounds are open.
func (r DateRange) Contains(t time.Time) bool {
	if !r.From.IsZero() && t.Before(r.From) {
		return false
	}
	if !r.To.IsZero() && !t.Before(r.To.AddDate(0, 0, 1)) {
		return false
	}
	return true
}

func (r DateRange) params() []string {
	var out []string
	if !r.From.IsZero() {
		out = append(out, "from="+r.From.Format("2006-01-02"))
	}
	if !r.To.IsZero() {
		out = append(out, "to="+r.To.Format("2006-01-02"))
	}
	return out
}

// Actor is the authenticated caller performing an operation.
type Actor struct {
	UserID uuid.UUID `json:"user_id"`
	Role   Role      `json:"role"`
}

type Role string

const (
	RoleAdmin        Role = "admin"
	RoleDoctor       Role = "doctor"
	RoleNurse        Role = "nurse"
	RoleReceptionist Role = "receptionist"
	RoleCashier      Role = "cashier"
)

var validRoles = map[Role]bool{
	RoleAdmin: true, RoleDoctor: true, RoleNurse: true, RoleReceptionist: true, RoleCashier: true,
}

func ParseRole(s string) (Role, error) { return parseEnum("role", validRoles, s) }

func (a Actor) IsAdmin() bool { return a.Role == RoleAdmin }
