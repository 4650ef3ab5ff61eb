package record

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/clinic-api/internal/handler"
	"github.com/jwalitptl/clinic-api/internal/model"
	"github.com/jwalitptl/clinic-api/internal/service/medical"
	apperrors "github.com/jwalitptl/clinic-api/pkg/errors"
)

// Handler serves medical records nested under their patient.
type Handler struct {
	service medical.RecordService
}

func NewHandler(service medical.RecordService) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	records := r.Group("/patients/:id/records")
	{
		records.POST("", h.AddMedicalRecord)
		records.GET("", h.ListMedicalRecords)
		records.GET("/:recordId", h.GetMedicalRecord)
		records.DELETE("/:recordId", h.DeleteMedicalRecord)
	}
}

func (h *Handler) AddMedicalRecord(c *gin.Context) {
	patientID, ok := handler.ParamID(c, "id")
	if !ok {
		return
	}
	var req model.CreateMedicalRecordRequest
	if !handler.BindJSON(c, &req) {
		return
	}

	rec, err := h.service.Create(c.Request.Context(), handler.MustActor(c), patientID, req)
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, handler.NewSuccessResponse(rec))
}

func (h *Handler) ListMedicalRecords(c *gin.Context) {
	patientID, ok := handler.ParamID(c, "id")
	if !ok {
		return
	}
	recordType, ok := handler.QueryEnum(c, "type", model.ParseRecordType)
	if !ok {
		return
	}

	records, err := h.service.List(c.Request.Context(), patientID, model.RecordFilters{Type: recordType})
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(records))
}

func (h *Handler) GetMedicalRecord(c *gin.Context) {
	patientID, ok := handler.ParamID(c, "id")
	if !ok {
		return
	}
	id, ok := handler.ParamID(c, "recordId")
	if !ok {
		return
	}

	rec, err := h.service.Get(c.Request.Context(), id)
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	if rec.PatientID != patientID {
		handler.RespondError(c, apperrors.NotFound("medical record", nil))
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(rec))
}

func (h *Handler) DeleteMedicalRecord(c *gin.Context) {
	patientID, ok := handler.ParamID(c, "id")
	if !ok {
		return
	}
	id, ok := handler.ParamID(c, "recordId")
	if !ok {
		return
	}

	if err := h.service.Delete(c.Request.Context(), handler.MustActor(c), patientID, id); err != nil {
		handler.RespondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
