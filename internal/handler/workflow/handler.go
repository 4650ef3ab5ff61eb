package workflow

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/clinic-api/internal/handler"
	"github.com/jwalitptl/clinic-api/internal/model"
	"github.com/jwalitptl/clinic-api/internal/service/workflow"
	apperrors "github.com/jwalitptl/clinic-api/pkg/errors"
)

type Handler struct {
	service workflow.WorkflowService
}

func NewHandler(service workflow.WorkflowService) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	workflows := r.Group("/workflows")
	{
		workflows.GET("", h.ListWorkflows)
		workflows.GET("/stats", h.GetStats)
		workflows.GET("/:id", h.GetWorkflow)
		workflows.POST("/:id/advance", h.AdvanceWorkflow)
		workflows.GET("/:id/vitals", h.GetVitals)
		workflows.POST("/:id/vitals", h.RecordVitals)
	}
	r.GET("/doctors/:id/queue", h.DoctorQueue)
}

func (h *Handler) ListWorkflows(c *gin.Context) {
	var filters model.WorkflowFilters
	var ok bool
	if filters.Status, ok = handler.QueryEnum(c, "status", model.ParseWorkflowStatus); !ok {
		return
	}
	if filters.PatientID, ok = handler.QueryID(c, "patient_id"); !ok {
		return
	}
	if filters.DoctorID, ok = handler.QueryID(c, "doctor_id"); !ok {
		return
	}
	if raw := c.Query("active"); raw != "" {
		active, err := strconv.ParseBool(raw)
		if err != nil {
			handler.RespondError(c, apperrors.BadRequest("invalid active", err))
			return
		}
		filters.ActiveOnly = active
	}

	workflows, err := h.service.List(c.Request.Context(), filters)
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(workflows))
}

func (h *Handler) GetStats(c *gin.Context) {
	c.JSON(http.StatusOK, handler.NewSuccessResponse(h.service.ComputeStats(c.Request.Context())))
}

func (h *Handler) GetWorkflow(c *gin.Context) {
	id, ok := handler.ParamID(c, "id")
	if !ok {
		return
	}

	w, err := h.service.Get(c.Request.Context(), id)
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(w))
}

func (h *Handler) AdvanceWorkflow(c *gin.Context) {
	id, ok := handler.ParamID(c, "id")
	if !ok {
		return
	}
	var req model.AdvanceWorkflowRequest
	if !handler.BindJSON(c, &req) {
		return
	}

	opts := workflow.AdvanceOptions{Override: req.Override}
	w, err := h.service.Advance(c.Request.Context(), handler.MustActor(c), id, req.Status, req.Payload(), opts)
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(w))
}

func (h *Handler) RecordVitals(c *gin.Context) {
	id, ok := handler.ParamID(c, "id")
	if !ok {
		return
	}
	var vitals model.VitalSigns
	if !handler.BindJSON(c, &vitals) {
		return
	}

	w, err := h.service.RecordVitals(c.Request.Context(), handler.MustActor(c), id, vitals)
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, handler.NewSuccessResponse(w))
}

func (h *Handler) GetVitals(c *gin.Context) {
	id, ok := handler.ParamID(c, "id")
	if !ok {
		return
	}

	w, err := h.service.Get(c.Request.Context(), id)
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	if w.VitalSignsID == nil {
		handler.RespondError(c, apperrors.NotFound("vital signs", nil))
		return
	}
	v, err := h.service.GetVitals(c.Request.Context(), *w.VitalSignsID)
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(v))
}

func (h *Handler) DoctorQueue(c *gin.Context) {
	id, ok := handler.ParamID(c, "id")
	if !ok {
		return
	}

	queue, err := h.service.DoctorQueue(c.Request.Context(), id)
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(queue))
}
