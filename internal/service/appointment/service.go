package appointment

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

// Booking rules
const (
	MinAppointmentDuration = 15 * time.Minute
	MaxAppointmentDuration = 4 * time.Hour
	MaxAdvanceBooking      = 90 * 24 * time.Hour
)

type AppointmentService interface {
	List(ctx context.Context, filters model.AppointmentFilters) ([]model.Appointment, error)
	Get(ctx context.Context, id uuid.UUID) (*model.Appointment, error)
	Create(ctx context.Context, actor model.Actor, req model.CreateAppointmentRequest) (*model.Appointment, error)
	Update(ctx context.Context, actor model.Actor, id uuid.UUID, req model.UpdateAppointmentRequest) (*model.Appointment, error)
	Cancel(ctx context.Context, actor model.Actor, id uuid.UUID, reason string) (*model.Appointment, error)
	Delete(ctx context.Context, actor model.Actor, id uuid.UUID) error
	Stats(ctx context.Context) model.AppointmentStats
}

type Service struct {
	repo  repository.AppointmentRepository
	cache *querycache.Cache
	log   *logger.Logger
	now   func() time.Time
}

func NewService(repo repository.AppointmentRepository, cache *querycache.Cache, log *logger.Logger) *Service {
	return &Service{repo: repo, cache: cache, log: log.Component("appointment"), now: time.Now}
}

var (
	appointmentKeys = []querycache.Key{querycache.KindKey(querycache.KindAppointments)}
	dependents      = []querycache.Key{
		querycache.KindKey(querycache.KindAppointmentStats),
		querycache.KindKey(querycache.KindDashboard),
		querycache.KindKey(querycache.KindStaffPerformance),
	}
)

func listKey() querycache.Key { return querycache.NewKey(querycache.KindAppointments) }

func itemKey(id uuid.UUID) querycache.Key {
	return querycache.NewKey(querycache.KindAppointments, "id="+id.String())
}

func byID(id uuid.UUID) func(model.Appointment) bool {
	return func(a model.Appointment) bool { return a.ID == id }
}

func (s *Service) validateTime(start, end time.Time) error {
	now := s.now()
	duration := end.Sub(start)
	switch {
	case start.Before(now):
		return apperrors.Validation("appointment cannot be scheduled in the past")
	case start.After(now.Add(MaxAdvanceBooking)):
		return apperrors.Validation("appointment is too far ahead")
	case duration < MinAppointmentDuration:
		return apperrors.Validation(fmt.Sprintf("appointment duration must be at least %v", MinAppointmentDuration))
	case duration > MaxAppointmentDuration:
		return apperrors.Validation(fmt.Sprintf("appointment duration cannot exceed %v", MaxAppointmentDuration))
	}
	return nil
}

func (s *Service) List(ctx context.Context, filters model.AppointmentFilters) ([]model.Appointment, error) {
	key := querycache.NewKey(querycache.KindAppointments, filters.CacheParams()...)
	return querycache.Query(ctx, s.cache, key, func(ctx context.Context) ([]model.Appointment, error) {
		return s.repo.List(ctx, filters)
	})
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*model.Appointment, error) {
	a, err := querycache.Query(ctx, s.cache, itemKey(id), func(ctx context.Context) (model.Appointment, error) {
		a, err := s.repo.Get(ctx, id)
		if err != nil {
			return model.Appointment{}, err
		}
		return *a, nil
	})
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// Create books a slot. Overlapping bookings for the same doctor are refused
// by the gateway check.
func (s *Service) Create(ctx context.Context, actor model.Actor, req model.CreateAppointmentRequest) (*model.Appointment, error) {
	now := s.now()
	draft := model.Appointment{
		Base:      model.Base{ID: uuid.New(), CreatedAt: now, UpdatedAt: now},
		PatientID: req.PatientID,
		DoctorID:  req.DoctorID,
		StartTime: req.StartTime,
		EndTime:   req.EndTime,
		Reason:    req.Reason,
		Status:    model.AppointmentStatusScheduled,
		Notes:     req.Notes,
	}

	a, err := querycache.Mutate(ctx, s.cache, querycache.MutationSpec[*model.Appointment]{
		Name:       "create-appointment",
		Validate:   func() error { return s.validateTime(draft.StartTime, draft.EndTime) },
		Optimistic: []querycache.Update{querycache.Optimistic(listKey(), querycache.Prepend(draft))},
		Do: func(ctx context.Context) (*model.Appointment, error) {
			if err := s.checkSlot(ctx, draft.DoctorID, draft.StartTime, draft.EndTime, nil); err != nil {
				return nil, err
			}
			a := draft
			if err := s.repo.Create(ctx, &a); err != nil {
				return nil, fmt.Errorf("failed to create appointment: %w", err)
			}
			return &a, nil
		},
		Invalidate: appointmentKeys,
		Dependents: dependents,
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("appointment booked", "appointment_id", a.ID.String(), "doctor_id", a.DoctorID.String(), "user_id", actor.UserID.String())
	return a, nil
}

func (s *Service) Update(ctx context.Context, actor model.Actor, id uuid.UUID, req model.UpdateAppointmentRequest) (*model.Appointment, error) {
	var next model.Appointment
	patch := func(model.Appointment) model.Appointment { return next }

	return querycache.Mutate(ctx, s.cache, querycache.MutationSpec[*model.Appointment]{
		Name: "update-appointment",
		Validate: func() error {
			cur, err := s.Get(ctx, id)
			if err != nil {
				return err
			}
			if !cur.Status.Blocking() {
				return apperrors.Validation(fmt.Sprintf("a %s appointment can no longer be changed", cur.Status))
			}
			next = req.Apply(*cur)
			next.UpdatedAt = s.now()
			if !next.StartTime.Equal(cur.StartTime) || !next.EndTime.Equal(cur.EndTime) {
				return s.validateTime(next.StartTime, next.EndTime)
			}
			return nil
		},
		Optimistic: []querycache.Update{
			querycache.Optimistic(listKey(), querycache.UpdateWhere(byID(id), patch)),
			querycache.Optimistic(itemKey(id), patch),
		},
		Do: func(ctx context.Context) (*model.Appointment, error) {
			fresh, err := s.repo.Get(ctx, id)
			if err != nil {
				return nil, fmt.Errorf("failed to load appointment: %w", err)
			}
			if !fresh.Status.Blocking() {
				return nil, apperrors.Validation(fmt.Sprintf("a %s appointment can no longer be changed", fresh.Status))
			}
			a := req.Apply(*fresh)
			a.UpdatedAt = s.now()
			moved := !a.StartTime.Equal(fresh.StartTime) || !a.EndTime.Equal(fresh.EndTime)
			if moved && a.Status.Blocking() {
				if err := s.checkSlot(ctx, a.DoctorID, a.StartTime, a.EndTime, &id); err != nil {
					return nil, err
				}
			}
			if err := s.repo.Update(ctx, &a); err != nil {
				return nil, fmt.Errorf("failed to update appointment: %w", err)
			}
			return &a, nil
		},
		Invalidate: appointmentKeys,
		Dependents: dependents,
	})
}

func (s *Service) Cancel(ctx context.Context, actor model.Actor, id uuid.UUID, reason string) (*model.Appointment, error) {
	status := model.AppointmentStatusCancelled
	req := model.UpdateAppointmentRequest{Status: &status}
	if reason != "" {
		req.CancelReason = &reason
	}
	return s.Update(ctx, actor, id, req)
}

func (s *Service) Delete(ctx context.Context, actor model.Actor, id uuid.UUID) error {
	_, err := querycache.Mutate(ctx, s.cache, querycache.MutationSpec[struct{}]{
		Name:       "delete-appointment",
		Optimistic: []querycache.Update{querycache.Optimistic(listKey(), querycache.RemoveWhere(byID(id)))},
		Do: func(ctx context.Context) (struct{}, error) {
			if err := s.repo.Delete(ctx, id); err != nil {
				return struct{}{}, fmt.Errorf("failed to delete appointment: %w", err)
			}
			return struct{}{}, nil
		},
		Invalidate: appointmentKeys,
		Dependents: dependents,
	})
	if err == nil {
		s.log.Info("appointment deleted", "appointment_id", id.String(), "user_id", actor.UserID.String())
	}
	return err
}

// Stats summarises appointments. A gateway failure is logged and yields zero
// values.
func (s *Service) Stats(ctx context.Context) model.AppointmentStats {
	stats, err := querycache.Query(ctx, s.cache, querycache.NewKey(querycache.KindAppointmentStats),
		func(ctx context.Context) (model.AppointmentStats, error) {
			stats, err := s.repo.Stats(ctx, s.now())
			if err != nil {
				return model.AppointmentStats{}, err
			}
			return *stats, nil
		})
	if err != nil {
		s.log.Error(err, "failed to load appointment stats")
		return model.AppointmentStats{ByStatus: map[model.AppointmentStatus]int{}}
	}
	return stats
}

func (s *Service) checkSlot(ctx context.Context, doctorID uuid.UUID, start, end time.Time, exclude *uuid.UUID) error {
	clash, err := s.repo.HasConflict(ctx, doctorID, start, end, exclude)
	if err != nil {
		return fmt.Errorf("failed to check doctor availability: %w", err)
	}
	if clash {
		return apperrors.Conflict("the doctor already has an appointment in that slot")
	}
	return nil
}
