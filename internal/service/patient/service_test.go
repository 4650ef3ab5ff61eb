package patient

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/clinic-api/internal/model"
	"github.com/jwalitptl/clinic-api/internal/querycache"
	"github.com/jwalitptl/clinic-api/internal/repository/memory"
	"github.com/jwalitptl/clinic-api/internal/service/servicetest"
	apperrors "github.com/jwalitptl/clinic-api/pkg/errors"
	"github.com/jwalitptl/clinic-api/pkg/logger"
)

var receptionist = model.Actor{UserID: uuid.New(), Role: model.RoleReceptionist}

func newPatient(first, last string) model.CreatePatientRequest {
	return model.CreatePatientRequest{
		FirstName:   first,
		LastName:    last,
		Phone:       "+15550100",
		Gender:      "female",
		DateOfBirth: time.Date(1985, 6, 1, 0, 0, 0, 0, time.UTC),
	}
}

func setup(t *testing.T) (*servicetest.Env, *Service) {
	env := servicetest.New(t)
	return env, NewService(env.Gateway.Patients, env.Cache, logger.Nop())
}

func TestCreateAndSearch(t *testing.T) {
	env, svc := setup(t)
	ctx := context.Background()

	ada, err := svc.Create(ctx, receptionist, newPatient("Ada", "Lovelace"))
	require.NoError(t, err)
	_, err = svc.Create(ctx, receptionist, newPatient("Grace", "Hopper"))
	require.NoError(t, err)
	assert.Equal(t, model.PatientStatusActive, ada.Status)

	found, err := svc.List(ctx, model.PatientFilters{Search: "love"})
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, ada.ID, found[0].ID)

	got, err := svc.Get(ctx, ada.ID)
	require.NoError(t, err)
	assert.Equal(t, "Ada Lovelace", got.FullName())
	assert.Equal(t, 1, env.Store.Calls(memory.OpPatientsGet))

	_, err = svc.Get(ctx, ada.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, env.Store.Calls(memory.OpPatientsGet), "fresh reads come from the cache")
}

func TestFailedUpdateRevertsListExactly(t *testing.T) {
	env, svc := setup(t)
	ctx := context.Background()
	ada, err := svc.Create(ctx, receptionist, newPatient("Ada", "Lovelace"))
	require.NoError(t, err)
	_, err = svc.Create(ctx, receptionist, newPatient("Grace", "Hopper"))
	require.NoError(t, err)

	before, err := svc.List(ctx, model.PatientFilters{})
	require.NoError(t, err)

	// Fail the first attempt and its retry.
	env.Store.FailNext(memory.OpPatientsUpdate, errors.New("connection reset"), errors.New("connection reset"))
	phone := "+15550199"
	_, err = svc.Update(ctx, receptionist, ada.ID, model.UpdatePatientRequest{Phone: &phone})
	require.Error(t, err)

	after, ok := querycache.Peek[[]model.Patient](env.Cache, listKey())
	require.True(t, ok)
	assert.Equal(t, before, after)
	assert.Equal(t, 1, env.Notices.Count())
	assert.Equal(t, []string{"update-patient"}, env.Notices.Names())

	stored, err := env.Gateway.Patients.Get(ctx, ada.ID)
	require.NoError(t, err)
	assert.Equal(t, "+15550100", stored.Phone)
}

func TestUpdateAppliesPatch(t *testing.T) {
	_, svc := setup(t)
	ctx := context.Background()
	ada, err := svc.Create(ctx, receptionist, newPatient("Ada", "Lovelace"))
	require.NoError(t, err)
	_, err = svc.List(ctx, model.PatientFilters{})
	require.NoError(t, err)

	inactive := model.PatientStatusInactive
	updated, err := svc.Update(ctx, receptionist, ada.ID, model.UpdatePatientRequest{Status: &inactive})
	require.NoError(t, err)
	assert.Equal(t, model.PatientStatusInactive, updated.Status)
	assert.Equal(t, "Ada", updated.FirstName)

	active, err := svc.List(ctx, model.PatientFilters{Status: model.PatientStatusActive})
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestDeleteRemovesFromList(t *testing.T) {
	_, svc := setup(t)
	ctx := context.Background()
	ada, err := svc.Create(ctx, receptionist, newPatient("Ada", "Lovelace"))
	require.NoError(t, err)
	_, err = svc.List(ctx, model.PatientFilters{})
	require.NoError(t, err)

	require.NoError(t, svc.Delete(ctx, receptionist, ada.ID))
	list, err := svc.List(ctx, model.PatientFilters{})
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestGetAfterDeleteIsNotFound(t *testing.T) {
	env, svc := setup(t)
	ctx := context.Background()
	ada, err := svc.Create(ctx, receptionist, newPatient("Ada", "Lovelace"))
	require.NoError(t, err)
	_, err = svc.Get(ctx, ada.ID)
	require.NoError(t, err)

	require.NoError(t, svc.Delete(ctx, receptionist, ada.ID))
	for i := 0; i < 3; i++ {
		_, err = svc.Get(ctx, ada.ID)
		require.Error(t, err)
		assert.True(t, apperrors.Is(err, apperrors.ErrNotFound))
	}
	env.Cache.Wait()
}

func TestUpdateKeepsFieldsChangedElsewhere(t *testing.T) {
	env, svc := setup(t)
	ctx := context.Background()

	ada, err := svc.Create(ctx, receptionist, newPatient("Ada", "Lovelace"))
	require.NoError(t, err)
	_, err = svc.Get(ctx, ada.ID)
	require.NoError(t, err)

	// Another instance changes the address while this cache still holds the old row.
	stored, err := env.Gateway.Patients.Get(ctx, ada.ID)
	require.NoError(t, err)
	address := "12 St James's Square"
	stored.Address = &address
	require.NoError(t, env.Gateway.Patients.Update(ctx, stored))

	phone := "+15550199"
	updated, err := svc.Update(ctx, receptionist, ada.ID, model.UpdatePatientRequest{Phone: &phone})
	require.NoError(t, err)
	assert.Equal(t, phone, updated.Phone)
	require.NotNil(t, updated.Address)
	assert.Equal(t, address, *updated.Address)

	stored, err = env.Gateway.Patients.Get(ctx, ada.ID)
	require.NoError(t, err)
	assert.Equal(t, phone, stored.Phone)
	require.NotNil(t, stored.Address)
	assert.Equal(t, address, *stored.Address)
}
