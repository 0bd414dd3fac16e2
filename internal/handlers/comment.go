package handlers

import (
	"strings"

	"newsrank/internal/models"
	"newsrank/internal/services"

	"github.com/gin-gonic/gin"
)

type postCommentForm struct {
	NewsID    uint   `form:"news_id" json:"news_id" binding:"required"`
	CommentID uint   `form:"comment_id" json:"comment_id"`
	ParentID  uint   `form:"parent_id" json:"parent_id"`
	Comment   string `form:"comment" json:"comment"`
}

// PostComment 一个入口三种操作：
// comment_id 为 0 时新建；comment_id 有值且内容为空时删除；否则修改
func (h *StoryHandler) PostComment(c *gin.Context) {
	var req postCommentForm
	if !bind(c, &req) {
		return
	}
	ctx := c.Request.Context()
	actor := currentActor(c)

	switch {
	case req.CommentID == 0:
		var parent *uint
		if req.ParentID > 0 {
			parent = &req.ParentID
		}
		comment, err := h.engine.Comment(ctx, services.CommentRequest{
			Actor:    actor,
			ItemID:   req.NewsID,
			ParentID: parent,
			Text:     req.Comment,
		})
		if err != nil {
			Fail(c, err)
			return
		}
		h.commentOK(c, "insert", comment)

	case strings.TrimSpace(req.Comment) == "":
		if err := h.engine.DeleteComment(ctx, actor, req.CommentID); err != nil {
			Fail(c, err)
			return
		}
		OK(c, gin.H{"op": "delete", "news_id": req.NewsID, "comment_id": req.CommentID})

	default:
		comment, err := h.engine.EditComment(ctx, actor, req.CommentID, req.Comment)
		if err != nil {
			Fail(c, err)
			return
		}
		h.commentOK(c, "update", comment)
	}
}

func (h *StoryHandler) commentOK(c *gin.Context, op string, comment *models.Comment) {
	OK(c, gin.H{
		"op":         op,
		"news_id":    comment.ItemID,
		"comment_id": comment.ID,
		"parent_id":  comment.ParentID,
	})
}
