package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"newsrank/internal/apperrors"
	"newsrank/internal/logging"
	"newsrank/internal/metrics"
	"newsrank/internal/models"
	"newsrank/internal/rankindex"
	"newsrank/internal/ratelimit"
	"newsrank/internal/utils"

	"github.com/jonboulle/clockwork"
	"gorm.io/gorm"
)

// Options wires the engine. Zero values fall back to defaults, except the
// limiters which default to in-memory sliding windows.
type Options struct {
	Rank             utils.RankConfig
	Karma            utils.KarmaPolicy
	Limits           Limits
	Rewards          Rewards
	Retry            RetryConfig
	Index            rankindex.Index
	VoteLimiter      ratelimit.Limiter
	SubmitLimiter    ratelimit.Limiter
	Clock            clockwork.Clock
	Logger           *slog.Logger
	Metrics          *metrics.Metrics
	CacheSize        int
	CacheTTL         time.Duration
	SweepConcurrency int
	LockStripes      int
}

// Engine 排名与投票引擎，对外暴露的全部操作
type Engine struct {
	db       *gorm.DB
	clock    clockwork.Clock
	limits   Limits
	index    rankindex.Index
	log      *slog.Logger
	metrics  *metrics.Metrics
	ledger   *KarmaLedger
	karma    *KarmaQueue
	votes    *VoteLedger
	items    *ItemStore
	comments *CommentTree
	sweeper  *Sweeper
}

func New(db *gorm.DB, opts Options) (*Engine, error) {
	if opts.Rank == (utils.RankConfig{}) {
		opts.Rank = utils.DefaultRankConfig
	}
	if opts.Karma.UpWeights == nil {
		opts.Karma = utils.DefaultKarmaPolicy
	}
	if err := opts.Karma.Validate(); err != nil {
		return nil, fmt.Errorf("karma policy: %w", err)
	}
	if opts.Limits == (Limits{}) {
		opts.Limits = DefaultLimits
	}
	if opts.Retry == (RetryConfig{}) {
		opts.Retry = DefaultRetryConfig
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	opts.Logger = logging.OrDiscard(opts.Logger)
	if opts.Metrics == nil {
		opts.Metrics = metrics.New(nil)
	}
	if opts.Index == nil {
		opts.Index = rankindex.NewMemoryIndex()
	}
	if opts.VoteLimiter == nil {
		opts.VoteLimiter = ratelimit.NewSlidingWindow(60, 10*time.Minute, opts.Clock)
	}
	if opts.SubmitLimiter == nil {
		opts.SubmitLimiter = ratelimit.NewSlidingWindow(1, 15*time.Minute, opts.Clock)
	}
	if opts.CacheSize <= 0 {
		opts.CacheSize = 2048
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = time.Minute
	}
	if opts.SweepConcurrency <= 0 {
		opts.SweepConcurrency = 8
	}
	if opts.LockStripes <= 0 {
		opts.LockStripes = 256
	}

	cache, err := utils.NewCache[uint, models.Item](opts.CacheSize, opts.CacheTTL, opts.Clock)
	if err != nil {
		return nil, err
	}
	locks := utils.NewStripedMutex(opts.LockStripes)
	log := opts.Logger

	ledger := NewKarmaLedger(db, opts.Karma, opts.Clock, log)
	queue := NewKarmaQueue(ledger, opts.Clock, log, opts.Metrics)
	items := &ItemStore{
		db:      db,
		policy:  opts.Karma,
		index:   opts.Index,
		limiter: opts.SubmitLimiter,
		locks:   locks,
		urlLock: utils.NewStripedMutex(opts.LockStripes),
		cache:   cache,
		clock:   opts.Clock,
		limits:  opts.Limits,
		log:     log,
		metrics: opts.Metrics,
	}

	e := &Engine{
		db:      db,
		clock:   opts.Clock,
		limits:  opts.Limits,
		index:   opts.Index,
		log:     log,
		metrics: opts.Metrics,
		ledger:  ledger,
		karma:   queue,
		items:   items,
		votes: &VoteLedger{
			db:         db,
			policy:     opts.Karma,
			rank:       opts.Rank,
			index:      opts.Index,
			limiter:    opts.VoteLimiter,
			locks:      locks,
			clock:      opts.Clock,
			karma:      queue,
			rewards:    opts.Rewards,
			retry:      newRetrier(opts.Retry, log),
			log:        log,
			metrics:    opts.Metrics,
			invalidate: items.invalidate,
		},
		comments: &CommentTree{
			db:         db,
			policy:     opts.Karma,
			clock:      opts.Clock,
			limits:     opts.Limits,
			log:        log,
			metrics:    opts.Metrics,
			invalidate: items.invalidate,
		},
		sweeper: &Sweeper{
			db:          db,
			rank:        opts.Rank,
			index:       opts.Index,
			locks:       locks,
			clock:       opts.Clock,
			karma:       queue,
			rewards:     opts.Rewards,
			concurrency: opts.SweepConcurrency,
			log:         log,
			metrics:     opts.Metrics,
			invalidate:  items.invalidate,
		},
	}
	return e, nil
}

// Start 启动积分队列和定时衰减扫描（schedule 为空时不调度）
func (e *Engine) Start(schedule string) error {
	e.karma.Start()
	if schedule == "" {
		return nil
	}
	return e.sweeper.Start(schedule)
}

// Close 停止后台任务，处理完排队中的积分变动
func (e *Engine) Close() {
	e.sweeper.Stop()
	e.comments.Wait()
	e.karma.Stop()
}

func (e *Engine) Policy() utils.KarmaPolicy {
	return e.ledger.Policy()
}

// SubmitItem 提交新闻并加入两个排行视图
func (e *Engine) SubmitItem(ctx context.Context, req SubmitRequest) (*models.Item, error) {
	return e.items.Submit(ctx, req)
}

func (e *Engine) EditItem(ctx context.Context, req EditItemRequest) (*models.Item, error) {
	return e.items.Edit(ctx, req)
}

func (e *Engine) DeleteItem(ctx context.Context, actor Actor, id uint) error {
	return e.items.Delete(ctx, actor, id)
}

// Vote 对新闻或评论投票
func (e *Engine) Vote(ctx context.Context, req VoteRequest) (VoteOutcome, error) {
	return e.votes.Apply(ctx, req)
}

type ListRequest struct {
	View   rankindex.View
	Cursor string
	Size   int
}

type ListPage struct {
	IDs        []uint `json:"ids"`
	NextCursor string `json:"next_cursor"`
}

// List 从排行索引读取一页；只读，没有副作用
func (e *Engine) List(ctx context.Context, req ListRequest) (ListPage, error) {
	if _, err := rankindex.ParseView(string(req.View)); err != nil {
		return ListPage{}, apperrors.Invalid(err.Error())
	}
	size := req.Size
	switch {
	case size == 0:
		size = e.limits.TopPageSize
	case size < 0:
		return ListPage{}, apperrors.Invalid("page size must be positive")
	case size > e.limits.MaxPageSize:
		size = e.limits.MaxPageSize
	}

	ids, next, err := e.index.Page(ctx, req.View, req.Cursor, size)
	if errors.Is(err, rankindex.ErrInvalidCursor) {
		return ListPage{}, apperrors.Invalid("invalid page cursor")
	}
	if err != nil {
		return ListPage{}, fmt.Errorf("list %s: %w", req.View, err)
	}
	return ListPage{IDs: ids, NextCursor: next}, nil
}

// Items 按 ids 顺序取回新闻正文
func (e *Engine) Items(ctx context.Context, ids []uint) ([]*models.Item, error) {
	return e.items.Items(ctx, ids)
}

// Item 单条新闻，已删除视为不存在
func (e *Engine) Item(ctx context.Context, id uint) (*models.Item, error) {
	item, err := e.items.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if item.Deleted {
		return nil, apperrors.ItemNotFound()
	}
	return item, nil
}

func (e *Engine) Comment(ctx context.Context, req CommentRequest) (*models.Comment, error) {
	return e.comments.Insert(ctx, req)
}

func (e *Engine) EditComment(ctx context.Context, actor Actor, id uint, text string) (*models.Comment, error) {
	return e.comments.Edit(ctx, actor, id, text)
}

func (e *Engine) DeleteComment(ctx context.Context, actor Actor, id uint) error {
	return e.comments.Delete(ctx, actor, id)
}

func (e *Engine) CommentView(ctx context.Context, itemID uint) ([]*CommentNode, error) {
	return e.comments.OrderedView(ctx, itemID)
}

// CreateUser 以初始积分创建用户
func (e *Engine) CreateUser(ctx context.Context, username, password string) (*models.User, error) {
	return e.ledger.CreateUser(ctx, username, password)
}

func (e *Engine) Authenticate(ctx context.Context, username, password string) (*models.User, error) {
	return e.ledger.Authenticate(ctx, username, password)
}

func (e *Engine) Karma(ctx context.Context, userID uint) (int, error) {
	return e.ledger.Karma(ctx, userID)
}

// AdjustKarma 管理操作，同步执行
func (e *Engine) AdjustKarma(ctx context.Context, userID uint, delta int, reason string) (int, error) {
	if reason == "" {
		reason = KarmaReasonModeration
	}
	return e.ledger.Adjust(ctx, userID, delta, reason)
}

// Actor 读取用户当前积分作为本次请求的快照
func (e *Engine) Actor(ctx context.Context, userID uint) (Actor, error) {
	karma, err := e.ledger.Karma(ctx, userID)
	if err != nil {
		return Actor{}, err
	}
	return Actor{ID: userID, Karma: karma}, nil
}

func (e *Engine) Tally(ctx context.Context, kind TargetKind, id uint) (Tally, error) {
	return e.votes.Tally(ctx, kind, id)
}

func (e *Engine) Reconcile(ctx context.Context) (ReconcileReport, error) {
	return e.votes.Reconcile(ctx)
}

// Sweep 立即执行一次衰减扫描
func (e *Engine) Sweep(ctx context.Context) (SweepReport, error) {
	return e.sweeper.Sweep(ctx)
}

// RebuildIndex 启动时从数据库重建排行索引
func (e *Engine) RebuildIndex(ctx context.Context) (int, error) {
	return e.sweeper.Rebuild(ctx)
}
