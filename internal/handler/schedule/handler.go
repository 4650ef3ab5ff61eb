package schedule

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/clinic-api/internal/handler"
	"github.com/jwalitptl/clinic-api/internal/model"
	"github.com/jwalitptl/clinic-api/internal/service/schedule"
)

type Handler struct {
	service schedule.ScheduleService
}

func NewHandler(service schedule.ScheduleService) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	schedules := r.Group("/schedules")
	{
		schedules.POST("", h.CreateSchedule)
		schedules.GET("", h.ListSchedules)
		schedules.GET("/:id", h.GetSchedule)
		schedules.PUT("/:id", h.UpdateSchedule)
		schedules.DELETE("/:id", h.DeleteSchedule)
	}
}

func (h *Handler) CreateSchedule(c *gin.Context) {
	var req model.CreateScheduleRequest
	if !handler.BindJSON(c, &req) {
		return
	}

	s, err := h.service.Create(c.Request.Context(), handler.MustActor(c), req)
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, handler.NewSuccessResponse(s))
}

func (h *Handler) ListSchedules(c *gin.Context) {
	var filters model.ScheduleFilters
	var ok bool
	if filters.StaffID, ok = handler.QueryID(c, "staff_id"); !ok {
		return
	}
	if filters.Range, ok = handler.QueryRange(c); !ok {
		return
	}

	schedules, err := h.service.List(c.Request.Context(), filters)
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(schedules))
}

func (h *Handler) GetSchedule(c *gin.Context) {
	id, ok := handler.ParamID(c, "id")
	if !ok {
		return
	}

	s, err := h.service.Get(c.Request.Context(), id)
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(s))
}

func (h *Handler) UpdateSchedule(c *gin.Context) {
	id, ok := handler.ParamID(c, "id")
	if !ok {
		return
	}
	var req model.UpdateScheduleRequest
	if !handler.BindJSON(c, &req) {
		return
	}

	s, err := h.service.Update(c.Request.Context(), handler.MustActor(c), id, req)
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(s))
}

func (h *Handler) DeleteSchedule(c *gin.Context) {
	id, ok := handler.ParamID(c, "id")
	if !ok {
		return
	}

	if err := h.service.Delete(c.Request.Context(), handler.MustActor(c), id); err != nil {
		handler.RespondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
