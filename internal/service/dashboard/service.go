// Package dashboard rolls the clinic's collections up into the overview
// aggregates. Each aggregate is cached under its own kind so that mutations
// elsewhere can invalidate it as a dependent.
package dashboard

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jwalitptl/clinic-api/internal/analytics"
	"github.com/jwalitptl/clinic-api/internal/model"
	"github.com/jwalitptl/clinic-api/internal/querycache"
	"github.com/jwalitptl/clinic-api/internal/repository"
	"github.com/jwalitptl/clinic-api/pkg/logger"
)

type DashboardService interface {
	Stats(ctx context.Context) model.DashboardStats
	StaffPerformance(ctx context.Context) []model.StaffPerformance
}

type Service struct {
	gw    *repository.Gateway
	cache *querycache.Cache
	log   *logger.Logger
	now   func() time.Time
}

func NewService(gw *repository.Gateway, cache *querycache.Cache, log *logger.Logger) *Service {
	return &Service{gw: gw, cache: cache, log: log.Component("dashboard"), now: time.Now}
}

func emptyStats() model.DashboardStats {
	return model.DashboardStats{
		Appointments:   model.AppointmentStats{ByStatus: map[model.AppointmentStatus]int{}},
		LowStockAlerts: []model.InventoryItem{},
	}
}

// Stats returns the overview aggregates. A failed source is logged and
// contributes nothing; when every source fails the result is all zero values.
func (s *Service) Stats(ctx context.Context) model.DashboardStats {
	stats, err := querycache.Query(ctx, s.cache, querycache.NewKey(querycache.KindDashboard), s.loadStats)
	if err != nil {
		s.log.Error(err, "failed to load dashboard stats")
		return emptyStats()
	}
	return stats
}

// sourceErrors collects the sources that failed during one load.
type sourceErrors struct {
	mu   sync.Mutex
	errs []error
}

func (e *sourceErrors) add(err error) {
	e.mu.Lock()
	e.errs = append(e.errs, err)
	e.mu.Unlock()
}

// orEmpty logs a failed source and substitutes an empty collection for it.
func orEmpty[T any](s *Service, failed *sourceErrors, source string, items []T, err error) []T {
	if err != nil {
		s.log.Error(err, "dashboard source unavailable", "source", source)
		failed.add(err)
		return []T{}
	}
	return items
}

const dashboardSources = 6

// loadStats degrades per source. It fails only when every source failed.
func (s *Service) loadStats(ctx context.Context) (model.DashboardStats, error) {
	var (
		in     analytics.DashboardInput
		failed sourceErrors
		g      errgroup.Group
	)
	g.Go(func() error {
		items, err := s.gw.Patients.List(ctx, model.PatientFilters{})
		in.Patients = orEmpty(s, &failed, "patients", items, err)
		return nil
	})
	g.Go(func() error {
		items, err := s.gw.Invoices.List(ctx, model.InvoiceFilters{})
		in.Invoices = orEmpty(s, &failed, "invoices", items, err)
		return nil
	})
	g.Go(func() error {
		items, err := s.gw.Payments.List(ctx, nil)
		in.Payments = orEmpty(s, &failed, "payments", items, err)
		return nil
	})
	g.Go(func() error {
		items, err := s.gw.Appointments.List(ctx, model.AppointmentFilters{})
		in.Appointments = orEmpty(s, &failed, "appointments", items, err)
		return nil
	})
	g.Go(func() error {
		items, err := s.gw.Inventory.List(ctx)
		in.Inventory = orEmpty(s, &failed, "inventory", items, err)
		return nil
	})
	g.Go(func() error {
		items, err := s.gw.Workflows.List(ctx, model.WorkflowFilters{})
		in.Workflows = orEmpty(s, &failed, "workflows", items, err)
		return nil
	})
	_ = g.Wait()
	if len(failed.errs) == dashboardSources {
		return model.DashboardStats{}, errors.Join(failed.errs...)
	}
	return analytics.Dashboard(in, s.now()), nil
}

// StaffPerformance returns per-doctor counts ordered by doctor id. A failed
// source counts as empty; the list is empty when neither source loads.
func (s *Service) StaffPerformance(ctx context.Context) []model.StaffPerformance {
	perf, err := querycache.Query(ctx, s.cache, querycache.NewKey(querycache.KindStaffPerformance),
		func(ctx context.Context) ([]model.StaffPerformance, error) {
			var (
				workflows []model.ConsultationWorkflow
				appts     []model.Appointment
				failed    sourceErrors
				g         errgroup.Group
			)
			g.Go(func() error {
				items, err := s.gw.Workflows.List(ctx, model.WorkflowFilters{})
				workflows = orEmpty(s, &failed, "workflows", items, err)
				return nil
			})
			g.Go(func() error {
				items, err := s.gw.Appointments.List(ctx, model.AppointmentFilters{})
				appts = orEmpty(s, &failed, "appointments", items, err)
				return nil
			})
			_ = g.Wait()
			if len(failed.errs) == 2 {
				return nil, errors.Join(failed.errs...)
			}
			return analytics.StaffPerformance(workflows, appts), nil
		})
	if err != nil {
		s.log.Error(err, "failed to load staff performance")
		return []model.StaffPerformance{}
	}
	return perf
}
