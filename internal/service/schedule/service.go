package schedule

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

const clockLayout = "15:04"

type ScheduleService interface {
	List(ctx context.Context, filters model.ScheduleFilters) ([]model.StaffSchedule, error)
	Get(ctx context.Context, id uuid.UUID) (*model.StaffSchedule, error)
	Create(ctx context.Context, actor model.Actor, req model.CreateScheduleRequest) (*model.StaffSchedule, error)
	Update(ctx context.Context, actor model.Actor, id uuid.UUID, req model.UpdateScheduleRequest) (*model.StaffSchedule, error)
	Delete(ctx context.Context, actor model.Actor, id uuid.UUID) error
}

type Service struct {
	repo  repository.ScheduleRepository
	cache *querycache.Cache
	log   *logger.Logger
	now   func() time.Time
}

func NewService(repo repository.ScheduleRepository, cache *querycache.Cache, log *logger.Logger) *Service {
	return &Service{repo: repo, cache: cache, log: log.Component("schedule"), now: time.Now}
}

var scheduleKeys = []querycache.Key{querycache.KindKey(querycache.KindSchedules)}

func listKey() querycache.Key { return querycache.NewKey(querycache.KindSchedules) }

func itemKey(id uuid.UUID) querycache.Key {
	return querycache.NewKey(querycache.KindSchedules, "id="+id.String())
}

func byID(id uuid.UUID) func(model.StaffSchedule) bool {
	return func(s model.StaffSchedule) bool { return s.ID == id }
}

// validateShift checks the shift type and its clock times. Only overnight
// shifts may end before they start.
func validateShift(s model.StaffSchedule) error {
	if !s.Shift.Valid() {
		return apperrors.Validation(fmt.Sprintf("unknown shift %q", s.Shift))
	}
	if !s.Status.Valid() {
		return apperrors.Validation(fmt.Sprintf("unknown schedule status %q", s.Status))
	}
	start, err := time.Parse(clockLayout, s.StartTime)
	if err != nil {
		return apperrors.Validation("start time must be HH:MM")
	}
	end, err := time.Parse(clockLayout, s.EndTime)
	if err != nil {
		return apperrors.Validation("end time must be HH:MM")
	}
	switch {
	case start.Equal(end):
		return apperrors.Validation("shift cannot start and end at the same time")
	case end.Before(start) && !s.Shift.Overnight():
		return apperrors.Validation(fmt.Sprintf("a %s shift must end after it starts", s.Shift))
	}
	return nil
}

func (s *Service) List(ctx context.Context, filters model.ScheduleFilters) ([]model.StaffSchedule, error) {
	key := querycache.NewKey(querycache.KindSchedules, filters.CacheParams()...)
	return querycache.Query(ctx, s.cache, key, func(ctx context.Context) ([]model.StaffSchedule, error) {
		return s.repo.List(ctx, filters)
	})
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*model.StaffSchedule, error) {
	sch, err := querycache.Query(ctx, s.cache, itemKey(id), func(ctx context.Context) (model.StaffSchedule, error) {
		sch, err := s.repo.Get(ctx, id)
		if err != nil {
			return model.StaffSchedule{}, err
		}
		return *sch, nil
	})
	if err != nil {
		return nil, err
	}
	return &sch, nil
}

func (s *Service) Create(ctx context.Context, actor model.Actor, req model.CreateScheduleRequest) (*model.StaffSchedule, error) {
	now := s.now()
	draft := model.StaffSchedule{
		Base:      model.Base{ID: uuid.New(), CreatedAt: now, UpdatedAt: now},
		StaffID:   req.StaffID,
		ShiftDate: req.ShiftDate,
		Shift:     req.Shift,
		StartTime: req.StartTime,
		EndTime:   req.EndTime,
		Status:    model.ScheduleScheduled,
		Notes:     req.Notes,
	}
	return querycache.Mutate(ctx, s.cache, querycache.MutationSpec[*model.StaffSchedule]{
		Name: "create-schedule",
		Validate: func() error {
			if draft.StaffID == uuid.Nil {
				return apperrors.Validation("staff id is required")
			}
			return validateShift(draft)
		},
		Optimistic: []querycache.Update{querycache.Optimistic(listKey(), querycache.Prepend(draft))},
		Do: func(ctx context.Context) (*model.StaffSchedule, error) {
			sch := draft
			if err := s.repo.Create(ctx, &sch); err != nil {
				return nil, fmt.Errorf("failed to create schedule: %w", err)
			}
			return &sch, nil
		},
		Invalidate: scheduleKeys,
	})
}

func (s *Service) Update(ctx context.Context, actor model.Actor, id uuid.UUID, req model.UpdateScheduleRequest) (*model.StaffSchedule, error) {
	var next model.StaffSchedule
	patch := func(model.StaffSchedule) model.StaffSchedule { return next }

	return querycache.Mutate(ctx, s.cache, querycache.MutationSpec[*model.StaffSchedule]{
		Name: "update-schedule",
		Validate: func() error {
			cur, err := s.Get(ctx, id)
			if err != nil {
				return err
			}
			if cur.Status == model.ScheduleCancelled {
				return apperrors.Validation("a cancelled shift can no longer be changed")
			}
			next = req.Apply(*cur)
			next.UpdatedAt = s.now()
			return validateShift(next)
		},
		Optimistic: []querycache.Update{
			querycache.Optimistic(listKey(), querycache.UpdateWhere(byID(id), patch)),
			querycache.Optimistic(itemKey(id), patch),
		},
		Do: func(ctx context.Context) (*model.StaffSchedule, error) {
			fresh, err := s.repo.Get(ctx, id)
			if err != nil {
				return nil, fmt.Errorf("failed to load schedule: %w", err)
			}
			if fresh.Status == model.ScheduleCancelled {
				return nil, apperrors.Validation("a cancelled shift can no longer be changed")
			}
			sch := req.Apply(*fresh)
			sch.UpdatedAt = s.now()
			if err := validateShift(sch); err != nil {
				return nil, err
			}
			if err := s.repo.Update(ctx, &sch); err != nil {
				return nil, fmt.Errorf("failed to update schedule: %w", err)
			}
			return &sch, nil
		},
		Invalidate: scheduleKeys,
	})
}

func (s *Service) Delete(ctx context.Context, actor model.Actor, id uuid.UUID) error {
	_, err := querycache.Mutate(ctx, s.cache, querycache.MutationSpec[struct{}]{
		Name:       "delete-schedule",
		Optimistic: []querycache.Update{querycache.Optimistic(listKey(), querycache.RemoveWhere(byID(id)))},
		Do: func(ctx context.Context) (struct{}, error) {
			if err := s.repo.Delete(ctx, id); err != nil {
				return struct{}{}, fmt.Errorf("failed to delete schedule: %w", err)
			}
			return struct{}{}, nil
		},
		Invalidate: scheduleKeys,
	})
	if err == nil {
		s.log.Info("schedule deleted", "schedule_id", id.String(), "user_id", actor.UserID.String())
	}
	return err
}
