package handlers

import (
	"strconv"
	"time"

	"newsrank/internal/apperrors"
	"newsrank/internal/models"
	"newsrank/internal/rankindex"
	"newsrank/internal/services"
	"newsrank/internal/utils"

	"github.com/gin-gonic/gin"
)

type StoryHandler struct {
	engine *services.Engine
}

func NewStoryHandler(engine *services.Engine) *StoryHandler {
	return &StoryHandler{engine: engine}
}

// newsView 列表和详情共用的新闻 JSON
type newsView struct {
	ID        uint      `json:"id"`
	Title     string    `json:"title"`
	URL       string    `json:"url,omitempty"`
	Domain    string    `json:"domain,omitempty"`
	NodeID    uint      `json:"node_id"`
	UserID    uint      `json:"user_id"`
	Username  string    `json:"username"`
	Up        int       `json:"up"`
	Down      int       `json:"down"`
	Score     float64   `json:"score"`
	Comments  int       `json:"comments"`
	CreatedAt time.Time `json:"created_at"`
	TextHTML  string    `json:"text_html,omitempty"`
}

func toNewsView(item *models.Item) newsView {
	return newsView{
		ID:        item.ID,
		Title:     item.Title,
		URL:       item.URL,
		Domain:    utils.Domain(item.URL),
		NodeID:    item.NodeID,
		UserID:    item.UserID,
		Username:  item.User.Username,
		Up:        item.UpVotes,
		Down:      item.DownVotes,
		Score:     item.Score,
		Comments:  item.CommentCount,
		CreatedAt: item.CreatedAt,
	}
}

type submitForm struct {
	NewsID uint   `form:"news_id" json:"news_id"`
	Title  string `form:"title" json:"title"`
	URL    string `form:"url" json:"url"`
	Text   string `form:"text" json:"text"`
	NodeID uint   `form:"node_id" json:"node_id"`
}

// Submit news_id 为 0 时新建，否则编辑
func (h *StoryHandler) Submit(c *gin.Context) {
	var req submitForm
	if !bind(c, &req) {
		return
	}
	ctx := c.Request.Context()
	actor := currentActor(c)

	var (
		item *models.Item
		err  error
	)
	if req.NewsID > 0 {
		item, err = h.engine.EditItem(ctx, services.EditItemRequest{
			Actor: actor, ID: req.NewsID, Title: req.Title, URL: req.URL, Text: req.Text,
		})
	} else {
		item, err = h.engine.SubmitItem(ctx, services.SubmitRequest{
			Actor: actor, Title: req.Title, URL: req.URL, Text: req.Text, NodeID: req.NodeID,
		})
	}
	if err != nil {
		Fail(c, err)
		return
	}
	OK(c, gin.H{"news_id": item.ID})
}

type newsIDForm struct {
	NewsID uint `form:"news_id" json:"news_id" binding:"required"`
}

func (h *StoryHandler) DeleteNews(c *gin.Context) {
	var req newsIDForm
	if !bind(c, &req) {
		return
	}
	if err := h.engine.DeleteItem(c.Request.Context(), currentActor(c), req.NewsID); err != nil {
		Fail(c, err)
		return
	}
	OK(c, gin.H{"news_id": req.NewsID})
}

func (h *StoryHandler) Top(c *gin.Context) {
	h.list(c, rankindex.ViewTop)
}

func (h *StoryHandler) Latest(c *gin.Context) {
	h.list(c, rankindex.ViewLatest)
}

func (h *StoryHandler) list(c *gin.Context, view rankindex.View) {
	size := 0
	if s := c.Query("size"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			Fail(c, apperrors.Invalid("size must be a number"))
			return
		}
		size = n
	}

	ctx := c.Request.Context()
	page, err := h.engine.List(ctx, services.ListRequest{View: view, Cursor: c.Query("cursor"), Size: size})
	if err != nil {
		Fail(c, err)
		return
	}
	items, err := h.engine.Items(ctx, page.IDs)
	if err != nil {
		Fail(c, err)
		return
	}

	news := make([]newsView, 0, len(items))
	for _, item := range items {
		news = append(news, toNewsView(item))
	}
	OK(c, gin.H{"news": news, "next_cursor": page.NextCursor})
}

// commentView 评论树展开后的一行
type commentView struct {
	ID        uint       `json:"id"`
	ParentID  *uint      `json:"parent_id"`
	Depth     int        `json:"depth"`
	UserID    uint       `json:"user_id,omitempty"`
	Username  string     `json:"username,omitempty"`
	HTML      string     `json:"html"`
	Up        int        `json:"up"`
	Down      int        `json:"down"`
	Score     float64    `json:"score"`
	Deleted   bool       `json:"deleted"`
	CreatedAt time.Time  `json:"created_at"`
	EditedAt  *time.Time `json:"edited_at,omitempty"`
}

// News 新闻详情 + 排好序的评论
func (h *StoryHandler) News(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		Fail(c, apperrors.Invalid("invalid news id"))
		return
	}
	ctx := c.Request.Context()

	item, err := h.engine.Item(ctx, uint(id))
	if err != nil {
		Fail(c, err)
		return
	}
	forest, err := h.engine.CommentView(ctx, item.ID)
	if err != nil {
		Fail(c, err)
		return
	}

	news := toNewsView(item)
	if item.IsText() {
		news.TextHTML = utils.RenderMarkdown(item.Text)
	}

	nodes := services.Flatten(forest)
	comments := make([]commentView, 0, len(nodes))
	for _, n := range nodes {
		cv := commentView{
			ID:        n.Comment.ID,
			ParentID:  n.Comment.ParentID,
			Depth:     n.Depth,
			Up:        n.Comment.UpVotes,
			Down:      n.Comment.DownVotes,
			Score:     n.Comment.Score,
			Deleted:   n.Tombstone,
			CreatedAt: n.Comment.CreatedAt,
			EditedAt:  n.Comment.EditedAt,
		}
		if n.Tombstone {
			cv.HTML = models.TombstoneText
		} else {
			cv.UserID = n.Comment.UserID
			cv.Username = n.Comment.User.Username
			cv.HTML = utils.RenderMarkdown(n.Comment.Text)
		}
		comments = append(comments, cv)
	}
	OK(c, gin.H{"news": news, "comments": comments})
}
