package patient

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/clinic-api/internal/model"
	"github.com/jwalitptl/clinic-api/internal/querycache"
	"github.com/jwalitptl/clinic-api/internal/repository"
	"github.com/jwalitptl/clinic-api/pkg/logger"
)

type PatientService interface {
	List(ctx context.Context, filters model.PatientFilters) ([]model.Patient, error)
	Get(ctx context.Context, id uuid.UUID) (*model.Patient, error)
	Create(ctx context.Context, actor model.Actor, req model.CreatePatientRequest) (*model.Patient, error)
	Update(ctx context.Context, actor model.Actor, id uuid.UUID, req model.UpdatePatientRequest) (*model.Patient, error)
	Delete(ctx context.Context, actor model.Actor, id uuid.UUID) error
}

type Service struct {
	repo  repository.PatientRepository
	cache *querycache.Cache
	log   *logger.Logger
	now   func() time.Time
}

func NewService(repo repository.PatientRepository, cache *querycache.Cache, log *logger.Logger) *Service {
	return &Service{repo: repo, cache: cache, log: log.Component("patient"), now: time.Now}
}

var (
	patientKeys = []querycache.Key{querycache.KindKey(querycache.KindPatients)}
	dependents  = []querycache.Key{querycache.KindKey(querycache.KindDashboard)}
)

func listKey() querycache.Key { return querycache.NewKey(querycache.KindPatients) }

func itemKey(id uuid.UUID) querycache.Key {
	return querycache.NewKey(querycache.KindPatients, "id="+id.String())
}

func byID(id uuid.UUID) func(model.Patient) bool {
	return func(p model.Patient) bool { return p.ID == id }
}

func (s *Service) List(ctx context.Context, filters model.PatientFilters) ([]model.Patient, error) {
	key := querycache.NewKey(querycache.KindPatients, filters.CacheParams()...)
	return querycache.Query(ctx, s.cache, key, func(ctx context.Context) ([]model.Patient, error) {
		return s.repo.List(ctx, filters)
	})
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*model.Patient, error) {
	p, err := querycache.Query(ctx, s.cache, itemKey(id), func(ctx context.Context) (model.Patient, error) {
		p, err := s.repo.Get(ctx, id)
		if err != nil {
			return model.Patient{}, err
		}
		return *p, nil
	})
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Service) Create(ctx context.Context, actor model.Actor, req model.CreatePatientRequest) (*model.Patient, error) {
	now := s.now()
	draft := model.Patient{
		Base:        model.Base{ID: uuid.New(), CreatedAt: now, UpdatedAt: now},
		FirstName:   req.FirstName,
		LastName:    req.LastName,
		Email:       req.Email,
		Phone:       req.Phone,
		Gender:      req.Gender,
		DateOfBirth: req.DateOfBirth,
		Address:     req.Address,
		BloodType:   req.BloodType,
		Status:      model.PatientStatusActive,
	}

	p, err := querycache.Mutate(ctx, s.cache, querycache.MutationSpec[*model.Patient]{
		Name:       "create-patient",
		Optimistic: []querycache.Update{querycache.Optimistic(listKey(), querycache.Prepend(draft))},
		Do: func(ctx context.Context) (*model.Patient, error) {
			p := draft
			if err := s.repo.Create(ctx, &p); err != nil {
				return nil, fmt.Errorf("failed to create patient: %w", err)
			}
			return &p, nil
		},
		Invalidate: patientKeys,
		Dependents: dependents,
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("patient registered", "patient_id", p.ID.String(), "user_id", actor.UserID.String())
	return p, nil
}

func (s *Service) Update(ctx context.Context, actor model.Actor, id uuid.UUID, req model.UpdatePatientRequest) (*model.Patient, error) {
	var next model.Patient
	patch := func(model.Patient) model.Patient { return next }

	return querycache.Mutate(ctx, s.cache, querycache.MutationSpec[*model.Patient]{
		Name: "update-patient",
		Validate: func() error {
			cur, err := s.Get(ctx, id)
			if err != nil {
				return err
			}
			next = req.Apply(*cur)
			next.UpdatedAt = s.now()
			return nil
		},
		Optimistic: []querycache.Update{
			querycache.Optimistic(listKey(), querycache.UpdateWhere(byID(id), patch)),
			querycache.Optimistic(itemKey(id), patch),
		},
		Do: func(ctx context.Context) (*model.Patient, error) {
			// The patch lands on the stored row, not the cached copy.
			fresh, err := s.repo.Get(ctx, id)
			if err != nil {
				return nil, fmt.Errorf("failed to load patient: %w", err)
			}
			p := req.Apply(*fresh)
			p.UpdatedAt = s.now()
			if err := s.repo.Update(ctx, &p); err != nil {
				return nil, fmt.Errorf("failed to update patient: %w", err)
			}
			return &p, nil
		},
		Invalidate: patientKeys,
		Dependents: dependents,
	})
}

func (s *Service) Delete(ctx context.Context, actor model.Actor, id uuid.UUID) error {
	_, err := querycache.Mutate(ctx, s.cache, querycache.MutationSpec[struct{}]{
		Name:       "delete-patient",
		Optimistic: []querycache.Update{querycache.Optimistic(listKey(), querycache.RemoveWhere(byID(id)))},
		Do: func(ctx context.Context) (struct{}, error) {
			if err := s.repo.Delete(ctx, id); err != nil {
				return struct{}{}, fmt.Errorf("failed to delete patient: %w", err)
			}
			return struct{}{}, nil
		},
		Invalidate: patientKeys,
		Dependents: dependents,
	})
	if err == nil {
		s.log.Info("patient deleted", "patient_id", id.String(), "user_id", actor.UserID.String())
	}
	return err
}
