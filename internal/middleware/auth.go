package middleware

import (
	"context"
	"log/slog"

	"newsrank/internal/apperrors"
	"newsrank/internal/services"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
)

const (
	ActorKey       = "actor"
	SessionUserKey = "user_id"
)

// ActorLoader 按用户 ID 读取积分快照
type ActorLoader interface {
	Actor(ctx context.Context, userID uint) (services.Actor, error)
}

// LoadUser retrieves the session user and stores an Actor snapshot in the context
func LoadUser(loader ActorLoader) gin.HandlerFunc {
	return func(c *gin.Context) {
		session := sessions.Default(c)
		if userID, ok := sessionUserID(session.Get(SessionUserKey)); ok {
			actor, err := loader.Actor(c.Request.Context(), userID)
			switch {
			case err == nil:
				c.Set(ActorKey, actor)
			case apperrors.ReasonOf(err) == apperrors.ReasonUserNotFound:
				// 用户不存在时清掉失效的 session
				session.Delete(SessionUserKey)
				_ = session.Save()
			default:
				// 临时故障保留 session，本次请求失败
				slog.ErrorContext(c.Request.Context(), "Failed to load session user", "user_id", userID, "error", err)
				e := apperrors.As(err)
				c.AbortWithStatusJSON(e.HTTPStatus(), e.ToResponse())
				return
			}
		}
		c.Next()
	}
}

// AuthRequired ensures a user is logged in
func AuthRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := CurrentActor(c); !ok {
			e := apperrors.LoginRequired()
			c.AbortWithStatusJSON(e.HTTPStatus(), e.ToResponse())
			return
		}
		c.Next()
	}
}

func CurrentActor(c *gin.Context) (services.Actor, bool) {
	v, ok := c.Get(ActorKey)
	if !ok {
		return services.Actor{}, false
	}
	actor, ok := v.(services.Actor)
	return actor, ok
}

// sessionUserID cookie 里的数值经 gob 编码后类型可能不同
func sessionUserID(v any) (uint, bool) {
	switch id := v.(type) {
	case uint:
		return id, id > 0
	case int:
		return uint(id), id > 0
	case int64:
		return uint(id), id > 0
	case uint64:
		return uint(id), id > 0
	}
	return 0, false
}
