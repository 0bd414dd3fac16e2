package handlers

import (
	"newsrank/internal/middleware"
	"newsrank/internal/services"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
)

type AuthHandler struct {
	engine *services.Engine
}

func NewAuthHandler(engine *services.Engine) *AuthHandler {
	return &AuthHandler{engine: engine}
}

type credentials struct {
	Username string `form:"username" json:"username" binding:"required"`
	Password string `form:"password" json:"password" binding:"required"`
}

// CreateAccount 注册后直接登录
func (h *AuthHandler) CreateAccount(c *gin.Context) {
	var req credentials
	if !bind(c, &req) {
		return
	}
	user, err := h.engine.CreateUser(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		Fail(c, err)
		return
	}
	if err := h.startSession(c, user.ID); err != nil {
		Fail(c, err)
		return
	}
	OK(c, gin.H{"user_id": user.ID, "karma": user.Karma})
}

func (h *AuthHandler) Login(c *gin.Context) {
	var req credentials
	if !bind(c, &req) {
		return
	}
	user, err := h.engine.Authenticate(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		Fail(c, err)
		return
	}
	if err := h.startSession(c, user.ID); err != nil {
		Fail(c, err)
		return
	}
	OK(c, gin.H{"user_id": user.ID, "karma": user.Karma})
}

func (h *AuthHandler) Logout(c *gin.Context) {
	session := sessions.Default(c)
	session.Clear()
	if err := session.Save(); err != nil {
		Fail(c, err)
		return
	}
	OK(c, nil)
}

// Me 当前用户的积分与权限
func (h *AuthHandler) Me(c *gin.Context) {
	actor := currentActor(c)
	policy := h.engine.Policy()
	OK(c, gin.H{
		"user_id":      actor.ID,
		"karma":        actor.Karma,
		"can_submit":   policy.CanPost(actor.Karma),
		"can_comment":  policy.CanComment(actor.Karma),
		"upvote_min":   policy.UpvoteMin,
		"downvote_min": policy.DownvoteMin,
	})
}

func (h *AuthHandler) startSession(c *gin.Context, userID uint) error {
	session := sessions.Default(c)
	session.Set(middleware.SessionUserKey, userID)
	return session.Save()
}
