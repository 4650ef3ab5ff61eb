// Package workflow drives a consultation from payment to completion. The
// allowed moves live in the transitions table; every write goes through the
// query cache so lists and badges update optimistically.
package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/clinic-api/internal/analytics"
	"github.com/jwalitptl/clinic-api/internal/model"
	"github.com/jwalitptl/clinic-api/internal/querycache"
	"github.com/jwalitptl/clinic-api/internal/repository"
	apperrors "github.com/jwalitptl/clinic-api/pkg/errors"
	"github.com/jwalitptl/clinic-api/pkg/logger"
	"github.com/jwalitptl/clinic-api/pkg/validator"
)

// dependents are the aggregates derived from workflow rows.
var dependents = []querycache.Key{
	querycache.KindKey(querycache.KindWorkflowStats),
	querycache.KindKey(querycache.KindDashboard),
	querycache.KindKey(querycache.KindStaffPerformance),
}

type WorkflowService interface {
	List(ctx context.Context, filters model.WorkflowFilters) ([]model.ConsultationWorkflow, error)
	Get(ctx context.Context, id uuid.UUID) (*model.ConsultationWorkflow, error)
	DoctorQueue(ctx context.Context, doctorID uuid.UUID) ([]model.ConsultationWorkflow, error)
	ComputeStats(ctx context.Context) model.WorkflowStats
	Advance(ctx context.Context, actor model.Actor, id uuid.UUID, target model.WorkflowStatus, payload model.WorkflowPayload, opts AdvanceOptions) (*model.ConsultationWorkflow, error)
	RecordVitals(ctx context.Context, actor model.Actor, id uuid.UUID, vitals model.VitalSigns) (*model.ConsultationWorkflow, error)
	GetVitals(ctx context.Context, id uuid.UUID) (*model.VitalSigns, error)
}

type Service struct {
	repo     repository.WorkflowRepository
	cache    *querycache.Cache
	validate *validator.Validator
	log      *logger.Logger
	now      func() time.Time
}

func NewService(repo repository.WorkflowRepository, cache *querycache.Cache, log *logger.Logger) *Service {
	return &Service{
		repo:     repo,
		cache:    cache,
		validate: validator.New(),
		log:      log.Component("workflow"),
		now:      time.Now,
	}
}

// AdvanceOptions modify how Advance validates a move.
type AdvanceOptions struct {
	// Override lets an administrator skip or revisit steps.
	Override bool
}

func listKey() querycache.Key {
	return querycache.NewKey(querycache.KindWorkflows)
}

func itemKey(id uuid.UUID) querycache.Key {
	return querycache.NewKey(querycache.KindWorkflows, "id="+id.String())
}

func (s *Service) List(ctx context.Context, filters model.WorkflowFilters) ([]model.ConsultationWorkflow, error) {
	key := querycache.NewKey(querycache.KindWorkflows, filters.CacheParams()...)
	return querycache.Query(ctx, s.cache, key, func(ctx context.Context) ([]model.ConsultationWorkflow, error) {
		return s.repo.List(ctx, filters)
	})
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*model.ConsultationWorkflow, error) {
	w, err := querycache.Query(ctx, s.cache, itemKey(id), func(ctx context.Context) (model.ConsultationWorkflow, error) {
		w, err := s.repo.Get(ctx, id)
		if err != nil {
			return model.ConsultationWorkflow{}, err
		}
		return *w, nil
	})
	if err != nil {
		return nil, err
	}
	return &w, nil
}

// DoctorQueue lists the doctor's workflows that are ready or in progress,
// oldest first.
func (s *Service) DoctorQueue(ctx context.Context, doctorID uuid.UUID) ([]model.ConsultationWorkflow, error) {
	all, err := s.List(ctx, model.WorkflowFilters{DoctorID: &doctorID, ActiveOnly: true})
	if err != nil {
		return nil, err
	}
	queue := make([]model.ConsultationWorkflow, 0, len(all))
	for _, w := range all {
		if queueStatuses[w.Status] {
			queue = append(queue, w)
		}
	}
	return queue, nil
}

// ComputeStats counts workflows per status. A gateway failure is logged and
// yields zero counts.
func (s *Service) ComputeStats(ctx context.Context) model.WorkflowStats {
	stats, err := querycache.Query(ctx, s.cache, querycache.NewKey(querycache.KindWorkflowStats),
		func(ctx context.Context) (model.WorkflowStats, error) {
			rows, err := s.repo.List(ctx, model.WorkflowFilters{})
			if err != nil {
				return model.WorkflowStats{}, err
			}
			return analytics.Workflows(rows), nil
		})
	if err != nil {
		s.log.Error(err, "failed to compute workflow stats")
		return model.WorkflowStats{}
	}
	return stats
}

// CreateForInvoice opens a workflow for a clinical invoice. Other invoice
// types return nil.
func (s *Service) CreateForInvoice(ctx context.Context, actor model.Actor, invoice model.Invoice) (*model.ConsultationWorkflow, error) {
	if !invoice.Type.IsClinical() {
		return nil, nil
	}
	draft := model.ConsultationWorkflow{
		Base:             model.Base{ID: uuid.New(), CreatedAt: s.now(), UpdatedAt: s.now()},
		PatientID:        invoice.PatientID,
		InvoiceID:        invoice.ID,
		ConsultationType: invoice.Type.ConsultationType(),
		Status:           model.WorkflowPaymentPending,
		CreatedBy:        actor.UserID,
	}

	return querycache.Mutate(ctx, s.cache, querycache.MutationSpec[*model.ConsultationWorkflow]{
		Name:       "create-workflow",
		Optimistic: []querycache.Update{querycache.Optimistic(listKey(), querycache.Prepend(draft))},
		Do: func(ctx context.Context) (*model.ConsultationWorkflow, error) {
			w := draft
			w.ID = uuid.Nil
			if err := s.repo.Create(ctx, &w); err != nil {
				return nil, fmt.Errorf("failed to create workflow: %w", err)
			}
			return &w, nil
		},
		Invalidate: []querycache.Key{querycache.KindKey(querycache.KindWorkflows)},
		Dependents: dependents,
	})
}

// Advance moves a workflow to target. Skipped steps are refused with an
// InvalidTransition error unless an administrator sets Override. Entering
// payment-completed is reserved for OnPaymentRecorded.
func (s *Service) Advance(ctx context.Context, actor model.Actor, id uuid.UUID, target model.WorkflowStatus, payload model.WorkflowPayload, opts AdvanceOptions) (*model.ConsultationWorkflow, error) {
	// from and next are filled in by Validate before the optimistic updates run.
	var from model.WorkflowStatus
	var next model.ConsultationWorkflow
	patch := func(model.ConsultationWorkflow) model.ConsultationWorkflow { return next }
	isTarget := func(w model.ConsultationWorkflow) bool { return w.ID == id }

	return querycache.Mutate(ctx, s.cache, querycache.MutationSpec[*model.ConsultationWorkflow]{
		Name: "advance-workflow",
		Validate: func() error {
			current, err := s.Get(ctx, id)
			if err != nil {
				return err
			}
			if err := checkTransition(actor, *current, target, payload, opts); err != nil {
				return err
			}
			from = current.Status
			next = applyPayload(*current, target, payload, s.now())
			return nil
		},
		Optimistic: []querycache.Update{
			querycache.Optimistic(listKey(), querycache.UpdateWhere(isTarget, patch)),
			querycache.Optimistic(itemKey(id), patch),
		},
		Do: func(ctx context.Context) (*model.ConsultationWorkflow, error) {
			return s.persist(ctx, id, from, next)
		},
		Invalidate: []querycache.Key{querycache.KindKey(querycache.KindWorkflows)},
		Dependents: dependents,
	})
}

// OnPaymentRecorded moves the invoice's workflow to payment-completed once the
// invoice is fully paid. It is the only way into that status.
func (s *Service) OnPaymentRecorded(ctx context.Context, invoice model.Invoice) (*model.ConsultationWorkflow, error) {
	if !invoice.IsPaid() {
		return nil, nil
	}
	current, err := s.repo.GetByInvoice(ctx, invoice.ID)
	if apperrors.Is(err, apperrors.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load workflow for invoice %s: %w", invoice.InvoiceNumber, err)
	}
	if current.Status != model.WorkflowPaymentPending {
		return current, nil
	}

	next := applyPayload(*current, model.WorkflowPaymentCompleted, model.WorkflowPayload{}, s.now())
	patch := querycache.Replace(next)
	return querycache.Mutate(ctx, s.cache, querycache.MutationSpec[*model.ConsultationWorkflow]{
		Name: "complete-workflow-payment",
		Optimistic: []querycache.Update{
			querycache.Optimistic(listKey(), querycache.UpdateWhere(
				func(w model.ConsultationWorkflow) bool { return w.ID == current.ID }, patch)),
			querycache.Optimistic(itemKey(current.ID), patch),
		},
		Do: func(ctx context.Context) (*model.ConsultationWorkflow, error) {
			return s.persist(ctx, current.ID, model.WorkflowPaymentPending, next)
		},
		Invalidate: []querycache.Key{querycache.KindKey(querycache.KindWorkflows)},
		Dependents: dependents,
	})
}

// RecordVitals stores vital signs for a workflow waiting on them and moves it
// on to doctor assignment.
func (s *Service) RecordVitals(ctx context.Context, actor model.Actor, id uuid.UUID, vitals model.VitalSigns) (*model.ConsultationWorkflow, error) {
	var current model.ConsultationWorkflow
	var stored *uuid.UUID

	return querycache.Mutate(ctx, s.cache, querycache.MutationSpec[*model.ConsultationWorkflow]{
		Name: "record-vitals",
		Validate: func() error {
			if err := s.validate.Struct(vitals); err != nil {
				return err
			}
			w, err := s.Get(ctx, id)
			if err != nil {
				return err
			}
			if w.Status != model.WorkflowVitalsPending {
				return apperrors.InvalidTransition(string(w.Status), string(model.WorkflowDoctorAssignment))
			}
			current = *w
			return nil
		},
		Do: func(ctx context.Context) (*model.ConsultationWorkflow, error) {
			// A retry must not store the same reading twice.
			if stored == nil {
				v := vitals
				v.ID = uuid.Nil
				v.WorkflowID = id
				v.PatientID = current.PatientID
				v.RecordedBy = actor.UserID
				if err := s.repo.CreateVitals(ctx, &v); err != nil {
					return nil, fmt.Errorf("failed to record vital signs: %w", err)
				}
				stored = &v.ID
			}
			next := applyPayload(current, model.WorkflowDoctorAssignment, model.WorkflowPayload{VitalSignsID: stored}, s.now())
			return s.persist(ctx, id, current.Status, next)
		},
		Invalidate: []querycache.Key{
			querycache.KindKey(querycache.KindWorkflows),
			querycache.KindKey(querycache.KindVitals),
		},
		Dependents: dependents,
	})
}

func (s *Service) GetVitals(ctx context.Context, id uuid.UUID) (*model.VitalSigns, error) {
	key := querycache.NewKey(querycache.KindVitals, "id="+id.String())
	v, err := querycache.Query(ctx, s.cache, key, func(ctx context.Context) (model.VitalSigns, error) {
		v, err := s.repo.GetVitals(ctx, id)
		if err != nil {
			return model.VitalSigns{}, err
		}
		return *v, nil
	})
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// persist writes next if the stored row is still at from, which the repository
// re-checks in the same write. A row already at next means an earlier attempt
// landed.
func (s *Service) persist(ctx context.Context, id uuid.UUID, from model.WorkflowStatus, next model.ConsultationWorkflow) (*model.ConsultationWorkflow, error) {
	stored, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load workflow: %w", err)
	}
	switch stored.Status {
	case next.Status:
		return stored, nil
	case from:
	default:
		return nil, apperrors.Conflict(fmt.Sprintf("workflow moved to %s in the meantime", stored.Status))
	}
	w := *stored
	w.Status = next.Status
	w.VitalSignsID = next.VitalSignsID
	w.DoctorID = next.DoctorID
	w.Notes = next.Notes
	if err := s.repo.Update(ctx, &w, from); err != nil {
		return nil, fmt.Errorf("failed to update workflow: %w", err)
	}
	s.log.Info("workflow advanced", "workflow_id", id.String(), "from", string(stored.Status), "to", string(w.Status))
	return &w, nil
}

func checkTransition(actor model.Actor, current model.ConsultationWorkflow, target model.WorkflowStatus, payload model.WorkflowPayload, opts AdvanceOptions) error {
	from, to := string(current.Status), string(target)
	if !target.Valid() {
		return apperrors.Validation(fmt.Sprintf("unknown workflow status %q", target))
	}
	if paymentOnly[target] || Terminal(current.Status) || target == current.Status {
		return apperrors.InvalidTransition(from, to)
	}
	if !CanTransition(current.Status, target) {
		if !opts.Override {
			return apperrors.InvalidTransition(from, to)
		}
		if !actor.IsAdmin() {
			return apperrors.Forbidden("only administrators can override the workflow order")
		}
	}

	switch target {
	case model.WorkflowDoctorAssignment:
		if payload.VitalSignsID == nil && current.VitalSignsID == nil {
			return apperrors.Validation("vital signs must be recorded before doctor assignment")
		}
	case model.WorkflowConsultationReady:
		if payload.DoctorID == nil && current.DoctorID == nil {
			return apperrors.Validation("a doctor must be assigned before the consultation is ready")
		}
	}
	return nil
}

func applyPayload(w model.ConsultationWorkflow, target model.WorkflowStatus, payload model.WorkflowPayload, now time.Time) model.ConsultationWorkflow {
	w.Status = target
	if payload.VitalSignsID != nil {
		w.VitalSignsID = payload.VitalSignsID
	}
	if payload.DoctorID != nil {
		w.DoctorID = payload.DoctorID
	}
	if payload.Notes != nil {
		w.Notes = payload.Notes
	}
	w.UpdatedAt = now
	return w
}
