package postgres

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/clinic-api/internal/repository"
	apperrors "github.com/jwalitptl/clinic-api/pkg/errors"
)

type patientRepository struct {
	db *sqlx.DB
}

type invoiceRepository struct {
	db *sqlx.DB
}

type paymentRepository struct {
	db *sqlx.DB
}

type workflowRepository struct {
	db *sqlx.DB
}

type appointmentRepository struct {
	db *sqlx.DB
}

type medicalRecordRepository struct {
	db *sqlx.DB
}

type scheduleRepository struct {
	db *sqlx.DB
}

type inventoryRepository struct {
	db *sqlx.DB
}

// NewGateway wires every repository onto one connection pool.
func NewGateway(db *sqlx.DB) *repository.Gateway {
	return &repository.Gateway{
		Patients:     &patientRepository{db: db},
		Invoices:     &invoiceRepository{db: db},
		Payments:     &paymentRepository{db: db},
		Workflows:    &workflowRepository{db: db},
		Appointments: &appointmentRepository{db: db},
		Records:      &medicalRecordRepository{db: db},
		Schedules:    &scheduleRepository{db: db},
		Inventory:    &inventoryRepository{db: db},
		Health:       &healthCheck{db: db},
	}
}

// wrapErr turns sql.ErrNoRows into a NotFound error and wraps the rest.
func wrapErr(err error, action, resource string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return apperrors.NotFound(resource, err)
	}
	return fmt.Errorf("failed to %s %s: %w", action, resource, err)
}

func expectOne(res sql.Result, resource string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return apperrors.NotFound(resource, nil)
	}
	return nil
}

// filter accumulates WHERE conditions with positional args.
type filter struct {
	conds []string
	args  []interface{}
}

func (f *filter) add(cond string, arg interface{}) {
	f.args = append(f.args, arg)
	f.conds = append(f.conds, fmt.Sprintf(cond, len(f.args)))
}

func (f *filter) where() string {
	if len(f.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(f.conds, " AND ")
}
