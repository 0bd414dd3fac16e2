package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"unicode/utf8"

	"newsrank/internal/apperrors"
	"newsrank/internal/metrics"
	"newsrank/internal/models"
	"newsrank/internal/utils"

	"github.com/jonboulle/clockwork"
	"gorm.io/gorm"
)

type CommentRequest struct {
	Actor    Actor
	ItemID   uint
	ParentID *uint
	Text     string
}

// CommentNode 展示用的评论树节点
type CommentNode struct {
	Comment   models.Comment `json:"comment"`
	Depth     int            `json:"depth"`
	Tombstone bool           `json:"tombstone"`
	Children  []*CommentNode `json:"children"`
}

// Flatten 按深度优先顺序展开
func Flatten(nodes []*CommentNode) []*CommentNode {
	var out []*CommentNode
	var walk func([]*CommentNode)
	walk = func(ns []*CommentNode) {
		for _, n := range ns {
			out = append(out, n)
			walk(n.Children)
		}
	}
	walk(nodes)
	return out
}

// CommentTree 每条新闻一片评论森林。存储为平铺记录 + parent id
type CommentTree struct {
	db         *gorm.DB
	policy     utils.KarmaPolicy
	clock      clockwork.Clock
	limits     Limits
	log        *slog.Logger
	metrics    *metrics.Metrics
	invalidate func(itemID uint)

	notifyWG sync.WaitGroup
}

func (c *CommentTree) validateText(text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", apperrors.Invalid("comment text is required")
	}
	if utf8.RuneCountInString(text) > c.limits.CommentMaxLength {
		return "", apperrors.Invalid(fmt.Sprintf("comment is longer than %d characters", c.limits.CommentMaxLength))
	}
	return text, nil
}

func (c *CommentTree) count(op string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = outcomeLabel(err)
	}
	c.metrics.CommentsTotal.WithLabelValues(op, outcome).Inc()
}

func (c *CommentTree) Insert(ctx context.Context, req CommentRequest) (*models.Comment, error) {
	comment, err := c.insert(ctx, req)
	c.count("insert", err)
	return comment, err
}

func (c *CommentTree) insert(ctx context.Context, req CommentRequest) (*models.Comment, error) {
	if req.Actor.ID == 0 {
		return nil, apperrors.Invalid("actor is required")
	}
	if req.ItemID == 0 {
		return nil, apperrors.Invalid("news id is required")
	}
	text, err := c.validateText(req.Text)
	if err != nil {
		return nil, err
	}
	if !c.policy.CanComment(req.Actor.Karma) {
		return nil, apperrors.InsufficientKarma("not enough karma to comment")
	}

	var (
		comment   *models.Comment
		recipient uint
		kind      models.NotificationType
	)
	err = c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var item models.Item
		err := tx.Select("id", "user_id", "deleted").First(&item, req.ItemID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) || (err == nil && item.Deleted) {
			return apperrors.ItemNotFound()
		}
		if err != nil {
			return err
		}
		recipient, kind = item.UserID, models.NotificationTypeCommentItem

		if req.ParentID != nil {
			var parent models.Comment
			err := tx.Select("id", "item_id", "user_id", "deleted").First(&parent, *req.ParentID).Error
			if errors.Is(err, gorm.ErrRecordNotFound) || (err == nil && (parent.Deleted || parent.ItemID != req.ItemID)) {
				return apperrors.CommentNotFound()
			}
			if err != nil {
				return err
			}
			recipient, kind = parent.UserID, models.NotificationTypeReplyComment
		}

		comment = &models.Comment{
			ItemID:    req.ItemID,
			ParentID:  req.ParentID,
			UserID:    req.Actor.ID,
			Text:      text,
			CreatedAt: c.clock.Now(),
		}
		if err := tx.Create(comment).Error; err != nil {
			return err
		}
		return tx.Model(&models.Item{}).Where("id = ?", req.ItemID).
			UpdateColumn("comment_count", gorm.Expr("comment_count + ?", 1)).Error
	})
	if err != nil {
		var appErr *apperrors.Error
		if errors.As(err, &appErr) {
			return nil, err
		}
		return nil, fmt.Errorf("insert comment: %w", err)
	}
	c.invalidate(req.ItemID)

	if recipient != req.Actor.ID {
		c.notify(models.Notification{
			UserID:    recipient,
			ActorID:   req.Actor.ID,
			ItemID:    req.ItemID,
			CommentID: comment.ID,
			Type:      kind,
		})
	}
	return comment, nil
}

// notify 异步写通知，失败只记录日志
func (c *CommentTree) notify(n models.Notification) {
	c.notifyWG.Add(1)
	go func() {
		defer c.notifyWG.Done()
		n.CreatedAt = c.clock.Now()
		if err := c.db.Create(&n).Error; err != nil {
			c.log.Error("Failed to create notification", "user_id", n.UserID, "comment_id", n.CommentID, "error", err)
		}
	}()
}

// Wait 等待尚未写完的通知
func (c *CommentTree) Wait() {
	c.notifyWG.Wait()
}

// loadOwned 加载评论并检查作者与编辑窗口
func (c *CommentTree) loadOwned(ctx context.Context, actor Actor, id uint) (*models.Comment, error) {
	var comment models.Comment
	err := c.db.WithContext(ctx).First(&comment, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) || (err == nil && comment.Deleted) {
		return nil, apperrors.CommentNotFound()
	}
	if err != nil {
		return nil, fmt.Errorf("load comment: %w", err)
	}
	if comment.UserID != actor.ID {
		return nil, apperrors.NotAuthor()
	}
	if c.clock.Since(comment.CreatedAt) > c.limits.CommentEditWindow {
		return nil, apperrors.EditWindowExpired()
	}
	return &comment, nil
}

func (c *CommentTree) Edit(ctx context.Context, actor Actor, id uint, text string) (*models.Comment, error) {
	comment, err := c.edit(ctx, actor, id, text)
	c.count("update", err)
	return comment, err
}

func (c *CommentTree) edit(ctx context.Context, actor Actor, id uint, text string) (*models.Comment, error) {
	text, err := c.validateText(text)
	if err != nil {
		return nil, err
	}
	comment, err := c.loadOwned(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	now := c.clock.Now()
	err = c.db.WithContext(ctx).Model(&models.Comment{}).Where("id = ?", id).
		Updates(map[string]any{"text": text, "edited_at": now}).Error
	if err != nil {
		return nil, fmt.Errorf("update comment: %w", err)
	}
	comment.Text, comment.EditedAt = text, &now
	return comment, nil
}

// Delete 变成墓碑：文本替换，节点保留，子评论不动
func (c *CommentTree) Delete(ctx context.Context, actor Actor, id uint) error {
	err := c.delete(ctx, actor, id)
	c.count("delete", err)
	return err
}

func (c *CommentTree) delete(ctx context.Context, actor Actor, id uint) error {
	comment, err := c.loadOwned(ctx, actor, id)
	if err != nil {
		return err
	}
	err = c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Comment{}).Where("id = ? AND deleted = ?", id, false).
			Updates(map[string]any{"text": models.TombstoneText, "deleted": true})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		return tx.Model(&models.Item{}).Where("id = ? AND comment_count > 0", comment.ItemID).
			UpdateColumn("comment_count", gorm.Expr("comment_count - ?", 1)).Error
	})
	if err != nil {
		return fmt.Errorf("delete comment: %w", err)
	}
	c.invalidate(comment.ItemID)
	return nil
}

// OrderedView 深度优先；同级按分数降序，其次创建时间升序，再按 id。
// 没有存活后代的墓碑不展示
func (c *CommentTree) OrderedView(ctx context.Context, itemID uint) ([]*CommentNode, error) {
	var item models.Item
	err := c.db.WithContext(ctx).Select("id", "deleted").First(&item, itemID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) || (err == nil && item.Deleted) {
		return nil, apperrors.ItemNotFound()
	}
	if err != nil {
		return nil, fmt.Errorf("load item: %w", err)
	}

	var comments []models.Comment
	if err := c.db.WithContext(ctx).Preload("User").Where("item_id = ?", itemID).Find(&comments).Error; err != nil {
		return nil, fmt.Errorf("load comments: %w", err)
	}
	return buildForest(comments), nil
}

// buildForest 平铺记录 -> 嵌套节点
func buildForest(comments []models.Comment) []*CommentNode {
	byID := make(map[uint]int, len(comments))
	for i := range comments {
		byID[comments[i].ID] = i
	}

	children := make(map[uint][]int, len(comments))
	var roots []int
	for i := range comments {
		p := comments[i].ParentID
		if p == nil {
			roots = append(roots, i)
			continue
		}
		if _, ok := byID[*p]; !ok {
			// 父评论不在这条新闻下，按顶层处理
			roots = append(roots, i)
			continue
		}
		children[*p] = append(children[*p], i)
	}

	order := func(idx []int) {
		sort.Slice(idx, func(a, b int) bool {
			x, y := &comments[idx[a]], &comments[idx[b]]
			if x.Score != y.Score {
				return x.Score > y.Score
			}
			if !x.CreatedAt.Equal(y.CreatedAt) {
				return x.CreatedAt.Before(y.CreatedAt)
			}
			return x.ID < y.ID
		})
	}

	var build func(idx []int, depth int) []*CommentNode
	build = func(idx []int, depth int) []*CommentNode {
		order(idx)
		nodes := make([]*CommentNode, 0, len(idx))
		for _, i := range idx {
			cm := comments[i]
			node := &CommentNode{
				Comment:   cm,
				Depth:     depth,
				Tombstone: cm.Deleted,
				Children:  build(children[cm.ID], depth+1),
			}
			if node.Tombstone && len(node.Children) == 0 {
				continue
			}
			if node.Tombstone {
				node.Comment.Text = models.TombstoneText
			}
			nodes = append(nodes, node)
		}
		return nodes
	}
	return build(roots, 0)
}
