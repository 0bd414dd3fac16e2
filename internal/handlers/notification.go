package handlers

import (
	"strconv"

	"newsrank/internal/apperrors"
	"newsrank/internal/services"

	"github.com/gin-gonic/gin"
)

type NotificationHandler struct {
	engine *services.Engine
}

func NewNotificationHandler(engine *services.Engine) *NotificationHandler {
	return &NotificationHandler{engine: engine}
}

func (h *NotificationHandler) List(c *gin.Context) {
	list, unread, err := h.engine.Notifications(c.Request.Context(), currentActor(c).ID)
	if err != nil {
		Fail(c, err)
		return
	}
	OK(c, gin.H{"notifications": list, "unread": unread})
}

func (h *NotificationHandler) Read(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		Fail(c, apperrors.Invalid("invalid notification id"))
		return
	}
	if err := h.engine.MarkNotificationRead(c.Request.Context(), currentActor(c).ID, uint(id)); err != nil {
		Fail(c, err)
		return
	}
	OK(c, gin.H{"id": id})
}

func (h *NotificationHandler) ReadAll(c *gin.Context) {
	n, err := h.engine.MarkAllNotificationsRead(c.Request.Context(), currentActor(c).ID)
	if err != nil {
		Fail(c, err)
		return
	}
	OK(c, gin.H{"marked": n})
}
