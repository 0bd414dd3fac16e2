package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"newsrank/internal/apperrors"
	"newsrank/internal/metrics"
	"newsrank/internal/models"
	"newsrank/internal/rankindex"
	"newsrank/internal/ratelimit"
	"newsrank/internal/utils"

	"github.com/jonboulle/clockwork"
	"gorm.io/gorm"
)

// Limits 内容长度与时间窗口
type Limits struct {
	TitleMaxLength    int
	URLMaxLength      int
	TextMaxLength     int
	CommentMaxLength  int
	RepostWindow      time.Duration
	ItemEditWindow    time.Duration
	CommentEditWindow time.Duration
	TopPageSize       int
	MaxPageSize       int
}

var DefaultLimits = Limits{
	TitleMaxLength:    80,
	URLMaxLength:      256,
	TextMaxLength:     4096,
	CommentMaxLength:  4096,
	RepostWindow:      48 * time.Hour,
	ItemEditWindow:    15 * time.Minute,
	CommentEditWindow: 2 * time.Hour,
	TopPageSize:       30,
	MaxPageSize:       100,
}

// SubmitRequest 提交链接或文本帖，二者只能选一个
type SubmitRequest struct {
	Actor  Actor
	Title  string
	URL    string
	Text   string
	NodeID uint
}

// EditItemRequest 作者在编辑窗口内修改
type EditItemRequest struct {
	Actor Actor
	ID    uint
	Title string
	URL   string
	Text  string
}

// validatePayload 校验并返回 URL 的去重键（文本帖为空）
func validatePayload(l Limits, title, rawURL, text string) (string, error) {
	if title == "" {
		return "", apperrors.Invalid("title is required")
	}
	if utf8.RuneCountInString(title) > l.TitleMaxLength {
		return "", apperrors.Invalid(fmt.Sprintf("title is longer than %d characters", l.TitleMaxLength))
	}
	if rawURL != "" && text != "" {
		return "", apperrors.Invalid("submit either a URL or a text, not both")
	}
	if rawURL == "" && text == "" {
		return "", apperrors.Invalid("a URL or a text is required")
	}
	if text != "" {
		if utf8.RuneCountInString(text) > l.TextMaxLength {
			return "", apperrors.Invalid(fmt.Sprintf("text is longer than %d characters", l.TextMaxLength))
		}
		return "", nil
	}
	if len(rawURL) > l.URLMaxLength {
		return "", apperrors.Invalid(fmt.Sprintf("URL is longer than %d characters", l.URLMaxLength))
	}
	key, err := utils.NormalizeURL(rawURL)
	if err != nil {
		return "", apperrors.Invalid(err.Error())
	}
	return key, nil
}

// ItemStore 新闻的提交、编辑、删除与读取
type ItemStore struct {
	db      *gorm.DB
	policy  utils.KarmaPolicy
	index   rankindex.Index
	limiter ratelimit.Limiter
	locks   *utils.StripedMutex // 按新闻加锁，和投票、扫描共用
	urlLock *utils.StripedMutex // 按 URL 键加锁；持有时不再获取 locks
	cache   *utils.Cache[uint, models.Item]
	clock   clockwork.Clock
	limits  Limits
	log     *slog.Logger
	metrics *metrics.Metrics
}

func (s *ItemStore) Submit(ctx context.Context, req SubmitRequest) (*models.Item, error) {
	item, err := s.submit(ctx, req)
	if err != nil {
		s.metrics.SubmissionsTotal.WithLabelValues(outcomeLabel(err)).Inc()
		return nil, err
	}
	s.metrics.SubmissionsTotal.WithLabelValues("accepted").Inc()
	return item, nil
}

func (s *ItemStore) submit(ctx context.Context, req SubmitRequest) (*models.Item, error) {
	if req.Actor.ID == 0 {
		return nil, apperrors.Invalid("actor is required")
	}
	title := strings.TrimSpace(req.Title)
	rawURL := strings.TrimSpace(req.URL)
	text := strings.TrimSpace(req.Text)
	urlKey, err := validatePayload(s.limits, title, rawURL, text)
	if err != nil {
		return nil, err
	}
	if !s.policy.CanPost(req.Actor.Karma) {
		return nil, apperrors.InsufficientKarma("not enough karma to submit news")
	}

	nodeID := req.NodeID
	if nodeID == 0 {
		nodeID = 1
	}
	var node models.Node
	if err := s.db.WithContext(ctx).Select("id").First(&node, nodeID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.Invalid("unknown node")
		}
		return nil, fmt.Errorf("load node: %w", err)
	}

	// 同一个 URL 的检查和写入串行
	if urlKey != "" {
		unlock := s.urlLock.Lock(urlKey)
		defer unlock()
		if err := s.checkRepost(ctx, urlKey, 0); err != nil {
			return nil, err
		}
	}

	reservation, err := s.limiter.Reserve(ctx, "submit:"+strconv.FormatUint(uint64(req.Actor.ID), 10))
	if errors.Is(err, ratelimit.ErrLimited) {
		return nil, apperrors.RateLimited("you submitted news recently, please wait before submitting again")
	}
	if err != nil {
		return nil, fmt.Errorf("submit rate limit: %w", err)
	}
	defer reservation.RollbackUnlessCommitted(ctx)

	now := s.clock.Now()
	item := &models.Item{
		UserID:    req.Actor.ID,
		NodeID:    nodeID,
		Title:     title,
		URL:       rawURL,
		URLKey:    urlKey,
		Text:      text,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.db.WithContext(ctx).Create(item).Error; err != nil {
		return nil, fmt.Errorf("create item: %w", err)
	}
	reservation.Commit()

	if err := s.index.Upsert(ctx, rankindex.Entry{ID: item.ID, Score: item.Score, CreatedAt: item.CreatedAt}); err != nil {
		s.log.ErrorContext(ctx, "Failed to add item to rank index", "item_id", item.ID, "error", err)
	}
	s.log.InfoContext(ctx, "Item submitted", "item_id", item.ID, "user_id", item.UserID)
	return item, nil
}

// checkRepost 重复提交检测：窗口内未删除的同一 URL
func (s *ItemStore) checkRepost(ctx context.Context, urlKey string, selfID uint) error {
	var existing models.Item
	err := s.db.WithContext(ctx).
		Select("id").
		Where("url_key = ? AND deleted = ? AND created_at > ? AND id <> ?", urlKey, false, s.clock.Now().Add(-s.limits.RepostWindow), selfID).
		Order("id DESC").
		Take(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("check repost: %w", err)
	}
	return apperrors.DuplicateURL(existing.ID)
}

// loadOwned 加载新闻并检查作者与编辑窗口
func (s *ItemStore) loadOwned(ctx context.Context, actor Actor, id uint) (*models.Item, error) {
	var item models.Item
	err := s.db.WithContext(ctx).First(&item, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) || (err == nil && item.Deleted) {
		return nil, apperrors.ItemNotFound()
	}
	if err != nil {
		return nil, fmt.Errorf("load item: %w", err)
	}
	if item.UserID != actor.ID {
		return nil, apperrors.NotAuthor()
	}
	if s.clock.Since(item.CreatedAt) > s.limits.ItemEditWindow {
		return nil, apperrors.EditWindowExpired()
	}
	return &item, nil
}

func (s *ItemStore) Edit(ctx context.Context, req EditItemRequest) (*models.Item, error) {
	title := strings.TrimSpace(req.Title)
	rawURL := strings.TrimSpace(req.URL)
	text := strings.TrimSpace(req.Text)
	urlKey, err := validatePayload(s.limits, title, rawURL, text)
	if err != nil {
		return nil, err
	}

	// 先新闻锁，后 URL 锁
	unlock := s.locks.Lock(lockKey(TargetItem, req.ID))
	defer unlock()

	item, err := s.loadOwned(ctx, req.Actor, req.ID)
	if err != nil {
		return nil, err
	}
	if urlKey != "" && urlKey != item.URLKey {
		unlockURL := s.urlLock.Lock(urlKey)
		defer unlockURL()
		if err := s.checkRepost(ctx, urlKey, item.ID); err != nil {
			return nil, err
		}
	}

	item.Title, item.URL, item.URLKey, item.Text = title, rawURL, urlKey, text
	err = s.db.WithContext(ctx).Model(&models.Item{}).Where("id = ?", item.ID).Updates(map[string]any{
		"title":      title,
		"url":        rawURL,
		"url_key":    urlKey,
		"text":       text,
		"updated_at": s.clock.Now(),
	}).Error
	if err != nil {
		return nil, fmt.Errorf("update item: %w", err)
	}
	s.cache.Delete(item.ID)
	return item, nil
}

// Delete 软删除：保留记录和投票，移出两个排行视图
func (s *ItemStore) Delete(ctx context.Context, actor Actor, id uint) error {
	unlock := s.locks.Lock(lockKey(TargetItem, id))
	defer unlock()

	item, err := s.loadOwned(ctx, actor, id)
	if err != nil {
		return err
	}
	now := s.clock.Now()
	err = s.db.WithContext(ctx).Model(&models.Item{}).Where("id = ?", item.ID).Updates(map[string]any{
		"deleted":    true,
		"deleted_at": now,
		"updated_at": now,
	}).Error
	if err != nil {
		return fmt.Errorf("delete item: %w", err)
	}
	s.cache.Delete(item.ID)
	if err := s.index.Remove(ctx, item.ID); err != nil {
		s.log.ErrorContext(ctx, "Failed to remove item from rank index", "item_id", item.ID, "error", err)
	}
	s.log.InfoContext(ctx, "Item deleted", "item_id", item.ID)
	return nil
}

// Get 读取单条新闻（包括已删除的，由调用方决定是否展示）
func (s *ItemStore) Get(ctx context.Context, id uint) (*models.Item, error) {
	if item, ok := s.cache.Get(id); ok {
		return &item, nil
	}
	since := s.cache.Version()
	var item models.Item
	err := s.db.WithContext(ctx).Preload("User").First(&item, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.ItemNotFound()
	}
	if err != nil {
		return nil, fmt.Errorf("load item: %w", err)
	}
	s.cache.SetSince(id, item, since)
	return &item, nil
}

// Items 按 ids 顺序返回未删除的新闻，缺失的跳过
func (s *ItemStore) Items(ctx context.Context, ids []uint) ([]*models.Item, error) {
	out := make([]*models.Item, 0, len(ids))
	var missing []uint
	found := make(map[uint]*models.Item, len(ids))
	for _, id := range ids {
		if item, ok := s.cache.Get(id); ok {
			found[id] = &item
			continue
		}
		missing = append(missing, id)
	}

	if len(missing) > 0 {
		// 读库期间有投票提交时，不把旧行放回缓存
		since := s.cache.Version()
		var rows []models.Item
		if err := s.db.WithContext(ctx).Preload("User").Where("id IN ?", missing).Find(&rows).Error; err != nil {
			return nil, fmt.Errorf("load items: %w", err)
		}
		for i := range rows {
			s.cache.SetSince(rows[i].ID, rows[i], since)
			found[rows[i].ID] = &rows[i]
		}
	}

	for _, id := range ids {
		if item, ok := found[id]; ok && !item.Deleted {
			out = append(out, item)
		}
	}
	return out, nil
}

func (s *ItemStore) invalidate(id uint) {
	s.cache.Delete(id)
}
