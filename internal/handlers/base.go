package handlers

import (
	"log/slog"

	"newsrank/internal/apperrors"
	"newsrank/internal/middleware"
	"newsrank/internal/services"

	"github.com/gin-gonic/gin"
)

// OK writes {"status":"ok", ...}
func OK(c *gin.Context, obj gin.H) {
	if obj == nil {
		obj = gin.H{}
	}
	obj["status"] = "ok"
	c.JSON(200, obj)
}

// Fail 按错误类型返回对应状态码；内部错误只记录日志，不把细节暴露给客户端
func Fail(c *gin.Context, err error) {
	e := apperrors.As(err)
	if e.Type == apperrors.TypeInternal {
		slog.ErrorContext(c.Request.Context(), "Request failed",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"error", err,
		)
	}
	c.JSON(e.HTTPStatus(), e.ToResponse())
}

// bind 支持表单和 JSON 两种请求体
func bind(c *gin.Context, req any) bool {
	if err := c.ShouldBind(req); err != nil {
		Fail(c, apperrors.Invalid(err.Error()))
		return false
	}
	return true
}

// currentActor 仅用于 AuthRequired 之后的路由
func currentActor(c *gin.Context) services.Actor {
	actor, _ := middleware.CurrentActor(c)
	return actor
}
