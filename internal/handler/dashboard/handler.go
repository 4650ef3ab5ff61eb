package dashboard

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/clinic-api/internal/handler"
	"github.com/jwalitptl/clinic-api/internal/service/dashboard"
)

type Handler struct {
	service dashboard.DashboardService
}

func NewHandler(service dashboard.DashboardService) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	d := r.Group("/dashboard")
	{
		d.GET("/stats", h.GetStats)
		d.GET("/staff-performance", h.GetStaffPerformance)
	}
}

func (h *Handler) GetStats(c *gin.Context) {
	c.JSON(http.StatusOK, handler.NewSuccessResponse(h.service.Stats(c.Request.Context())))
}

func (h *Handler) GetStaffPerformance(c *gin.Context) {
	c.JSON(http.StatusOK, handler.NewSuccessResponse(h.service.StaffPerformance(c.Request.Context())))
}
