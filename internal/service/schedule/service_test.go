package schedule

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/clinic-api/internal/model"
	"github.com/jwalitptl/clinic-api/internal/querycache"
	"github.com/jwalitptl/clinic-api/internal/service/servicetest"
	apperrors "github.com/jwalitptl/clinic-api/pkg/errors"
	"github.com/jwalitptl/clinic-api/pkg/logger"
)

var (
	admin = model.Actor{UserID: uuid.New(), Role: model.RoleAdmin}
	day   = time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)
)

func setup(t *testing.T) (*servicetest.Env, *Service) {
	env := servicetest.New(t)
	return env, NewService(env.Gateway.Schedules, env.Cache, logger.Nop())
}

func shift(staff uuid.UUID, kind model.ShiftType, start, end string) model.CreateScheduleRequest {
	return model.CreateScheduleRequest{StaffID: staff, ShiftDate: day, Shift: kind, StartTime: start, EndTime: end}
}

func TestValidateShift(t *testing.T) {
	tests := []struct {
		name  string
		shift model.ShiftType
		start string
		end   string
		ok    bool
	}{
		{"morning", model.ShiftMorning, "08:00", "14:00", true},
		{"night wraps", model.ShiftNight, "22:00", "06:00", true},
		{"morning cannot wrap", model.ShiftMorning, "14:00", "08:00", false},
		{"zero length", model.ShiftAfternoon, "14:00", "14:00", false},
		{"bad clock", model.ShiftMorning, "8am", "14:00", false},
		{"unknown shift", "siesta", "13:00", "15:00", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateShift(model.StaffSchedule{Shift: tt.shift, StartTime: tt.start, EndTime: tt.end, Status: model.ScheduleScheduled})
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.True(t, apperrors.Is(err, apperrors.ErrValidation))
			}
		})
	}
}

func TestCreateAndFilterByStaff(t *testing.T) {
	env, svc := setup(t)
	ctx := context.Background()
	alice, bob := uuid.New(), uuid.New()

	sch, err := svc.Create(ctx, admin, shift(alice, model.ShiftMorning, "08:00", "14:00"))
	require.NoError(t, err)
	assert.Equal(t, model.ScheduleScheduled, sch.Status)
	_, err = svc.Create(ctx, admin, shift(bob, model.ShiftNight, "22:00", "06:00"))
	require.NoError(t, err)

	_, err = svc.Create(ctx, admin, shift(bob, model.ShiftMorning, "14:00", "08:00"))
	assert.True(t, apperrors.Is(err, apperrors.ErrValidation))
	assert.Equal(t, 1, env.Notices.Count())

	mine, err := svc.List(ctx, model.ScheduleFilters{StaffID: &alice})
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, "08:00", mine[0].StartTime)

	all, err := svc.List(ctx, model.ScheduleFilters{Range: model.DateRange{From: day, To: day}})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestConfirmThenCancel(t *testing.T) {
	env, svc := setup(t)
	ctx := context.Background()
	sch, err := svc.Create(ctx, admin, shift(uuid.New(), model.ShiftAfternoon, "14:00", "20:00"))
	require.NoError(t, err)
	_, err = svc.List(ctx, model.ScheduleFilters{})
	require.NoError(t, err)

	confirmed := model.ScheduleConfirmed
	updated, err := svc.Update(ctx, admin, sch.ID, model.UpdateScheduleRequest{Status: &confirmed})
	require.NoError(t, err)
	assert.Equal(t, model.ScheduleConfirmed, updated.Status)

	list, _ := querycache.Peek[[]model.StaffSchedule](env.Cache, listKey())
	require.Len(t, list, 1)
	assert.Equal(t, model.ScheduleConfirmed, list[0].Status)

	cancelled := model.ScheduleCancelled
	_, err = svc.Update(ctx, admin, sch.ID, model.UpdateScheduleRequest{Status: &cancelled})
	require.NoError(t, err)

	later := "21:00"
	_, err = svc.Update(ctx, admin, sch.ID, model.UpdateScheduleRequest{EndTime: &later})
	assert.True(t, apperrors.Is(err, apperrors.ErrValidation))

	require.NoError(t, svc.Delete(ctx, admin, sch.ID))
	_, err = env.Gateway.Schedules.Get(ctx, sch.ID)
	assert.True(t, apperrors.Is(err, apperrors.ErrNotFound))
	list, _ = querycache.Peek[[]model.StaffSchedule](env.Cache, listKey())
	assert.Empty(t, list)
}

func TestGetAfterDeleteIsNotFound(t *testing.T) {
	_, svc := setup(t)
	ctx := context.Background()
	sch, err := svc.Create(ctx, admin, shift(uuid.New(), model.ShiftMorning, "08:00", "14:00"))
	require.NoError(t, err)
	_, err = svc.Get(ctx, sch.ID)
	require.NoError(t, err)

	require.NoError(t, svc.Delete(ctx, admin, sch.ID))
	for i := 0; i < 2; i++ {
		_, err = svc.Get(ctx, sch.ID)
		assert.True(t, apperrors.Is(err, apperrors.ErrNotFound))
	}
}
