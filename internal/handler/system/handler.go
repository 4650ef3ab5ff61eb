// Package system exposes the cache refresh signals and the notification
// feed.
package system

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/clinic-api/internal/handler"
	"github.com/jwalitptl/clinic-api/internal/notification"
	"github.com/jwalitptl/clinic-api/internal/querycache"
	apperrors "github.com/jwalitptl/clinic-api/pkg/errors"
)

const (
	defaultNoticeLimit = 20
	maxNoticeLimit     = 100
)

type Refetcher interface {
	Refetch(ctx context.Context, sig querycache.Signal) (int, error)
}

type Notices interface {
	Recent(limit int) []notification.Notice
}

type Handler struct {
	cache   Refetcher
	notices Notices
}

func NewHandler(cache Refetcher, notices Notices) *Handler {
	return &Handler{cache: cache, notices: notices}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/cache/focus", h.signal(querycache.SignalFocus))
	r.POST("/cache/reconnect", h.signal(querycache.SignalReconnect))
	r.GET("/notifications", h.ListNotifications)
}

func (h *Handler) signal(sig querycache.Signal) gin.HandlerFunc {
	return func(c *gin.Context) {
		n, err := h.cache.Refetch(c.Request.Context(), sig)
		if err != nil {
			handler.RespondError(c, err)
			return
		}
		c.JSON(http.StatusOK, handler.NewSuccessResponse(gin.H{
			"signal":    sig,
			"refetched": n,
		}))
	}
}

func (h *Handler) ListNotifications(c *gin.Context) {
	limit := defaultNoticeLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			handler.RespondError(c, apperrors.BadRequest("invalid limit", err))
			return
		}
		limit = min(n, maxNoticeLimit)
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(h.notices.Recent(limit)))
}
