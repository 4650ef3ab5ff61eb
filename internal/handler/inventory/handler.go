package inventory

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/clinic-api/internal/handler"
	"github.com/jwalitptl/clinic-api/internal/model"
	"github.com/jwalitptl/clinic-api/internal/service/inventory"
)

type Handler struct {
	service inventory.InventoryService
}

func NewHandler(service inventory.InventoryService) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	items := r.Group("/inventory")
	{
		items.POST("", h.CreateItem)
		items.GET("", h.ListItems)
		items.GET("/alerts", h.ListAlerts)
		items.GET("/stats", h.GetStats)
		items.GET("/:id", h.GetItem)
		items.PUT("/:id", h.UpdateItem)
		items.POST("/:id/adjust", h.AdjustStock)
		items.DELETE("/:id", h.DeleteItem)
	}
}

func (h *Handler) CreateItem(c *gin.Context) {
	var req model.CreateInventoryItemRequest
	if !handler.BindJSON(c, &req) {
		return
	}

	item, err := h.service.Create(c.Request.Context(), handler.MustActor(c), req)
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, handler.NewSuccessResponse(item))
}

func (h *Handler) ListItems(c *gin.Context) {
	items, err := h.service.List(c.Request.Context())
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(items))
}

func (h *Handler) ListAlerts(c *gin.Context) {
	items, err := h.service.Alerts(c.Request.Context())
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(items))
}

func (h *Handler) GetStats(c *gin.Context) {
	c.JSON(http.StatusOK, handler.NewSuccessResponse(h.service.Stats(c.Request.Context())))
}

func (h *Handler) GetItem(c *gin.Context) {
	id, ok := handler.ParamID(c, "id")
	if !ok {
		return
	}

	item, err := h.service.Get(c.Request.Context(), id)
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(item))
}

func (h *Handler) UpdateItem(c *gin.Context) {
	id, ok := handler.ParamID(c, "id")
	if !ok {
		return
	}
	var req model.UpdateInventoryItemRequest
	if !handler.BindJSON(c, &req) {
		return
	}

	item, err := h.service.Update(c.Request.Context(), handler.MustActor(c), id, req)
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(item))
}

func (h *Handler) AdjustStock(c *gin.Context) {
	id, ok := handler.ParamID(c, "id")
	if !ok {
		return
	}
	var req model.AdjustStockRequest
	if !handler.BindJSON(c, &req) {
		return
	}

	item, err := h.service.AdjustStock(c.Request.Context(), handler.MustActor(c), id, req)
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(item))
}

func (h *Handler) DeleteItem(c *gin.Context) {
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
