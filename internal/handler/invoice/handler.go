package invoice

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/clinic-api/internal/handler"
	"github.com/jwalitptl/clinic-api/internal/model"
	"github.com/jwalitptl/clinic-api/internal/service/billing"
)

type Handler struct {
	service billing.BillingService
}

func NewHandler(service billing.BillingService) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	invoices := r.Group("/invoices")
	{
		invoices.POST("", h.CreateInvoice)
		invoices.GET("", h.ListInvoices)
		invoices.GET("/stats", h.GetStats)
		invoices.GET("/:id", h.GetInvoice)
		invoices.PUT("/:id", h.UpdateInvoice)
		invoices.POST("/:id/cancel", h.CancelInvoice)
		invoices.DELETE("/:id", h.DeleteInvoice)

		invoices.GET("/:id/payments", h.ListInvoicePayments)
		invoices.POST("/:id/payments", h.RecordPayment)
	}
	r.GET("/payments", h.ListPayments)
}

func (h *Handler) CreateInvoice(c *gin.Context) {
	var req model.CreateInvoiceRequest
	if !handler.BindJSON(c, &req) {
		return
	}

	inv, err := h.service.Create(c.Request.Context(), handler.MustActor(c), req)
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, handler.NewSuccessResponse(inv))
}

func (h *Handler) ListInvoices(c *gin.Context) {
	var filters model.InvoiceFilters
	var ok bool
	if filters.Status, ok = handler.QueryEnum(c, "status", model.ParseInvoiceStatus); !ok {
		return
	}
	if filters.PatientID, ok = handler.QueryID(c, "patient_id"); !ok {
		return
	}
	if filters.Range, ok = handler.QueryRange(c); !ok {
		return
	}

	invoices, err := h.service.List(c.Request.Context(), filters)
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(invoices))
}

// GetStats never fails; gateway errors yield zero totals.
func (h *Handler) GetStats(c *gin.Context) {
	c.JSON(http.StatusOK, handler.NewSuccessResponse(h.service.Stats(c.Request.Context())))
}

func (h *Handler) GetInvoice(c *gin.Context) {
	id, ok := handler.ParamID(c, "id")
	if !ok {
		return
	}

	inv, err := h.service.Get(c.Request.Context(), id)
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(inv))
}

func (h *Handler) UpdateInvoice(c *gin.Context) {
	id, ok := handler.ParamID(c, "id")
	if !ok {
		return
	}
	var req model.UpdateInvoiceRequest
	if !handler.BindJSON(c, &req) {
		return
	}

	inv, err := h.service.Update(c.Request.Context(), handler.MustActor(c), id, req)
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(inv))
}

func (h *Handler) CancelInvoice(c *gin.Context) {
	id, ok := handler.ParamID(c, "id")
	if !ok {
		return
	}

	inv, err := h.service.Cancel(c.Request.Context(), handler.MustActor(c), id)
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(inv))
}

func (h *Handler) DeleteInvoice(c *gin.Context) {
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

func (h *Handler) ListInvoicePayments(c *gin.Context) {
	id, ok := handler.ParamID(c, "id")
	if !ok {
		return
	}

	payments, err := h.service.Payments(c.Request.Context(), &id)
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(payments))
}

func (h *Handler) ListPayments(c *gin.Context) {
	payments, err := h.service.Payments(c.Request.Context(), nil)
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(payments))
}

func (h *Handler) RecordPayment(c *gin.Context) {
	id, ok := handler.ParamID(c, "id")
	if !ok {
		return
	}
	var req model.RecordPaymentRequest
	if !handler.BindJSON(c, &req) {
		return
	}

	result, err := h.service.RecordPayment(c.Request.Context(), handler.MustActor(c), id, req)
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, handler.NewSuccessResponse(result))
}
