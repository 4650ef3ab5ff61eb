package medical

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/clinic-api/internal/model"
	"github.com/jwalitptl/clinic-api/internal/querycache"
	"github.com/jwalitptl/clinic-api/internal/service/servicetest"
	apperrors "github.com/jwalitptl/clinic-api/pkg/errors"
	"github.com/jwalitptl/clinic-api/pkg/logger"
	"github.com/jwalitptl/clinic-api/pkg/security"
)

const testKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

var doctor = model.Actor{UserID: uuid.New(), Role: model.RoleDoctor}

func setup(t *testing.T) (*servicetest.Env, *Service) {
	env := servicetest.New(t)
	key, err := security.ParseHexKey(testKey)
	require.NoError(t, err)
	enc, err := security.NewAESEncryptor(key)
	require.NoError(t, err)
	return env, NewService(env.Gateway.Records, enc, env.Cache, logger.Nop())
}

func consultation(diagnosis string) model.CreateMedicalRecordRequest {
	return model.CreateMedicalRecordRequest{
		DoctorID:    doctor.UserID,
		Type:        model.RecordConsultation,
		Title:       "Follow-up",
		Diagnosis:   &diagnosis,
		Medications: []model.Medication{{Name: "Amoxicillin", Dosage: "500mg", Schedule: "3x daily"}},
	}
}

func TestDiagnosisIsEncryptedAtRest(t *testing.T) {
	env, svc := setup(t)
	ctx := context.Background()
	patientID := uuid.New()

	rec, err := svc.Create(ctx, doctor, patientID, consultation("acute sinusitis"))
	require.NoError(t, err)
	require.NotNil(t, rec.Diagnosis)
	assert.Equal(t, "acute sinusitis", *rec.Diagnosis)

	stored, err := env.Gateway.Records.Get(ctx, rec.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.Diagnosis)
	assert.NotEqual(t, "acute sinusitis", *stored.Diagnosis)

	var meds []model.Medication
	require.NoError(t, json.Unmarshal(stored.Medications, &meds))
	assert.Equal(t, "Amoxicillin", meds[0].Name)

	list, err := svc.List(ctx, patientID, model.RecordFilters{})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "acute sinusitis", *list[0].Diagnosis)

	got, err := svc.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "acute sinusitis", *got.Diagnosis)
}

func TestCreateRejectsUnknownType(t *testing.T) {
	env, svc := setup(t)
	req := consultation("flu")
	req.Type = "horoscope"

	_, err := svc.Create(context.Background(), doctor, uuid.New(), req)
	assert.True(t, apperrors.Is(err, apperrors.ErrValidation))
	assert.Zero(t, env.Store.Writes())
	assert.Equal(t, 1, env.Notices.Count())
}

func TestListFiltersByType(t *testing.T) {
	_, svc := setup(t)
	ctx := context.Background()
	patientID := uuid.New()

	_, err := svc.Create(ctx, doctor, patientID, consultation("flu"))
	require.NoError(t, err)
	note := model.CreateMedicalRecordRequest{DoctorID: doctor.UserID, Type: model.RecordNote, Title: "Called patient"}
	_, err = svc.Create(ctx, doctor, patientID, note)
	require.NoError(t, err)

	all, err := svc.List(ctx, patientID, model.RecordFilters{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	notes, err := svc.List(ctx, patientID, model.RecordFilters{Type: model.RecordNote})
	require.NoError(t, err)
	require.Len(t, notes, 1)
	assert.Nil(t, notes[0].Diagnosis)

	others, err := svc.List(ctx, uuid.New(), model.RecordFilters{})
	require.NoError(t, err)
	assert.Empty(t, others)
}

func TestDeleteRequiresClinician(t *testing.T) {
	env, svc := setup(t)
	ctx := context.Background()
	patientID := uuid.New()
	rec, err := svc.Create(ctx, doctor, patientID, consultation("flu"))
	require.NoError(t, err)
	_, err = svc.List(ctx, patientID, model.RecordFilters{})
	require.NoError(t, err)

	cashier := model.Actor{UserID: uuid.New(), Role: model.RoleCashier}
	err = svc.Delete(ctx, cashier, patientID, rec.ID)
	assert.True(t, apperrors.Is(err, apperrors.ErrForbidden))

	require.NoError(t, svc.Delete(ctx, doctor, patientID, rec.ID))
	list, _ := querycache.Peek[[]model.MedicalRecord](env.Cache, patientKey(patientID))
	assert.Empty(t, list)
}

func TestGetAfterDeleteIsNotFound(t *testing.T) {
	_, svc := setup(t)
	ctx := context.Background()
	patientID := uuid.New()
	rec, err := svc.Create(ctx, doctor, patientID, consultation("flu"))
	require.NoError(t, err)
	_, err = svc.Get(ctx, rec.ID)
	require.NoError(t, err)

	require.NoError(t, svc.Delete(ctx, doctor, patientID, rec.ID))
	for i := 0; i < 2; i++ {
		_, err = svc.Get(ctx, rec.ID)
		assert.True(t, apperrors.Is(err, apperrors.ErrNotFound))
	}
}
