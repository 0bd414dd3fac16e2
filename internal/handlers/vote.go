package handlers

import (
	"newsrank/internal/apperrors"
	"newsrank/internal/services"
	"newsrank/internal/utils"

	"github.com/gin-gonic/gin"
)

type VoteHandler struct {
	engine *services.Engine
}

func NewVoteHandler(engine *services.Engine) *VoteHandler {
	return &VoteHandler{engine: engine}
}

type voteNewsForm struct {
	NewsID   uint   `form:"news_id" json:"news_id" binding:"required"`
	VoteType string `form:"vote_type" json:"vote_type" binding:"required"`
}

type voteCommentForm struct {
	CommentID uint   `form:"comment_id" json:"comment_id" binding:"required"`
	VoteType  string `form:"vote_type" json:"vote_type" binding:"required"`
}

// VoteNews 对新闻点赞/点踩
func (h *VoteHandler) VoteNews(c *gin.Context) {
	var req voteNewsForm
	if !bind(c, &req) {
		return
	}
	h.vote(c, services.TargetItem, req.NewsID, req.VoteType)
}

// VoteComment 对评论点赞/点踩
func (h *VoteHandler) VoteComment(c *gin.Context) {
	var req voteCommentForm
	if !bind(c, &req) {
		return
	}
	h.vote(c, services.TargetComment, req.CommentID, req.VoteType)
}

func (h *VoteHandler) vote(c *gin.Context, target services.TargetKind, id uint, voteType string) {
	dir, err := utils.ParseDirection(voteType)
	if err != nil {
		Fail(c, apperrors.Invalid(err.Error()))
		return
	}
	out, err := h.engine.Vote(c.Request.Context(), services.VoteRequest{
		Actor:     currentActor(c),
		Target:    target,
		ID:        id,
		Direction: dir,
	})
	if err != nil {
		Fail(c, err)
		return
	}
	OK(c, gin.H{
		"result": out.Result,
		"weight": out.Weight,
		"up":     out.UpVotes,
		"down":   out.DownVotes,
		"score":  out.Score,
	})
}
