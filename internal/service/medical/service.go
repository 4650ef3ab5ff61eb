package medical

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/clinic-api/internal/model"
	"github.com/jwalitptl/clinic-api/internal/querycache"
	"github.com/jwalitptl/clinic-api/internal/repository"
	apperrors "github.com/jwalitptl/clinic-api/pkg/errors"
	"github.com/jwalitptl/clinic-api/pkg/logger"
	"github.com/jwalitptl/clinic-api/pkg/security"
)

type RecordService interface {
	List(ctx context.Context, patientID uuid.UUID, filters model.RecordFilters) ([]model.MedicalRecord, error)
	Get(ctx context.Context, id uuid.UUID) (*model.MedicalRecord, error)
	Create(ctx context.Context, actor model.Actor, patientID uuid.UUID, req model.CreateMedicalRecordRequest) (*model.MedicalRecord, error)
	Delete(ctx context.Context, actor model.Actor, patientID, id uuid.UUID) error
}

// Service keeps diagnoses encrypted at rest when an encryptor is set; the
// cache only ever holds plaintext.
type Service struct {
	repo      repository.MedicalRecordRepository
	encryptor security.Encryptor
	cache     *querycache.Cache
	log       *logger.Logger
	now       func() time.Time
}

func NewService(repo repository.MedicalRecordRepository, encryptor security.Encryptor, cache *querycache.Cache, log *logger.Logger) *Service {
	return &Service{repo: repo, encryptor: encryptor, cache: cache, log: log.Component("medical"), now: time.Now}
}

func patientKey(patientID uuid.UUID, params ...string) querycache.Key {
	return querycache.NewKey(querycache.KindRecords, append(params, "patient_id="+patientID.String())...)
}

func itemKey(id uuid.UUID) querycache.Key {
	return querycache.NewKey(querycache.KindRecords, "id="+id.String())
}

func (s *Service) List(ctx context.Context, patientID uuid.UUID, filters model.RecordFilters) ([]model.MedicalRecord, error) {
	key := patientKey(patientID, filters.CacheParams()...)
	return querycache.Query(ctx, s.cache, key, func(ctx context.Context) ([]model.MedicalRecord, error) {
		records, err := s.repo.List(ctx, patientID, filters)
		if err != nil {
			return nil, err
		}
		for i := range records {
			if err := s.open(&records[i]); err != nil {
				return nil, fmt.Errorf("failed to decrypt record %s: %w", records[i].ID, err)
			}
		}
		return records, nil
	})
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*model.MedicalRecord, error) {
	rec, err := querycache.Query(ctx, s.cache, itemKey(id), func(ctx context.Context) (model.MedicalRecord, error) {
		rec, err := s.repo.Get(ctx, id)
		if err != nil {
			return model.MedicalRecord{}, err
		}
		if err := s.open(rec); err != nil {
			return model.MedicalRecord{}, fmt.Errorf("failed to decrypt record: %w", err)
		}
		return *rec, nil
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *Service) Create(ctx context.Context, actor model.Actor, patientID uuid.UUID, req model.CreateMedicalRecordRequest) (*model.MedicalRecord, error) {
	now := s.now()
	draft := model.MedicalRecord{
		Base:        model.Base{ID: uuid.New(), CreatedAt: now, UpdatedAt: now},
		PatientID:   patientID,
		WorkflowID:  req.WorkflowID,
		DoctorID:    req.DoctorID,
		Type:        req.Type,
		Title:       req.Title,
		Description: req.Description,
		Diagnosis:   req.Diagnosis,
	}

	rec, err := querycache.Mutate(ctx, s.cache, querycache.MutationSpec[*model.MedicalRecord]{
		Name: "create-medical-record",
		Validate: func() error {
			if patientID == uuid.Nil {
				return apperrors.Validation("patient id is required")
			}
			if _, err := model.ParseRecordType(string(draft.Type)); err != nil {
				return apperrors.Validation(err.Error())
			}
			if req.Medications != nil {
				meds, err := json.Marshal(req.Medications)
				if err != nil {
					return apperrors.BadRequest("invalid medications", err)
				}
				draft.Medications = meds
			}
			return nil
		},
		Optimistic: []querycache.Update{
			querycache.Optimistic(patientKey(patientID), querycache.Prepend(draft)),
		},
		Do: func(ctx context.Context) (*model.MedicalRecord, error) {
			stored := draft
			if err := s.seal(&stored); err != nil {
				return nil, fmt.Errorf("failed to encrypt record: %w", err)
			}
			if err := s.repo.Create(ctx, &stored); err != nil {
				return nil, fmt.Errorf("failed to create medical record: %w", err)
			}
			out := draft
			out.Base = stored.Base
			return &out, nil
		},
		Invalidate: []querycache.Key{querycache.KindKey(querycache.KindRecords)},
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("medical record created", "record_id", rec.ID.String(), "patient_id", patientID.String(), "user_id", actor.UserID.String())
	return rec, nil
}

func (s *Service) Delete(ctx context.Context, actor model.Actor, patientID, id uuid.UUID) error {
	_, err := querycache.Mutate(ctx, s.cache, querycache.MutationSpec[struct{}]{
		Name: "delete-medical-record",
		Validate: func() error {
			if !actor.IsAdmin() && actor.Role != model.RoleDoctor {
				return apperrors.Forbidden("only doctors can delete medical records")
			}
			return nil
		},
		Optimistic: []querycache.Update{
			querycache.Optimistic(patientKey(patientID), querycache.RemoveWhere(func(r model.MedicalRecord) bool { return r.ID == id })),
		},
		Do: func(ctx context.Context) (struct{}, error) {
			if err := s.repo.Delete(ctx, id); err != nil {
				return struct{}{}, fmt.Errorf("failed to delete medical record: %w", err)
			}
			return struct{}{}, nil
		},
		Invalidate: []querycache.Key{querycache.KindKey(querycache.KindRecords)},
	})
	return err
}

func (s *Service) seal(rec *model.MedicalRecord) error {
	if s.encryptor == nil || rec.Diagnosis == nil {
		return nil
	}
	sealed, err := security.SealString(s.encryptor, *rec.Diagnosis)
	if err != nil {
		return err
	}
	rec.Diagnosis = &sealed
	return nil
}

func (s *Service) open(rec *model.MedicalRecord) error {
	if s.encryptor == nil || rec.Diagnosis == nil {
		return nil
	}
	plain, err := security.OpenString(s.encryptor, *rec.Diagnosis)
	if err != nil {
		return err
	}
	rec.Diagnosis = &plain
	return nil
}
