package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"newsrank/internal/metrics"
	"newsrank/internal/models"
	"newsrank/internal/rankindex"
	"newsrank/internal/utils"

	"github.com/jonboulle/clockwork"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const sweepBatchSize = 500

// SweepReport 一次衰减扫描的结果
type SweepReport struct {
	Updated  int `json:"updated"`
	Failed   int `json:"failed"`
	Rewarded int `json:"rewarded"`
}

// Sweeper 定时重算所有存活新闻的分数，让没有新投票的新闻也随时间下沉
type Sweeper struct {
	db          *gorm.DB
	rank        utils.RankConfig
	index       rankindex.Index
	locks       *utils.StripedMutex
	clock       clockwork.Clock
	karma       *KarmaQueue
	rewards     Rewards
	concurrency int
	log         *slog.Logger
	metrics     *metrics.Metrics
	invalidate  func(itemID uint)

	mu   sync.Mutex
	cron *cron.Cron
}

// Start 按 cron 表达式（如 "@every 5m"）定时执行 Sweep
func (s *Sweeper) Start(schedule string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return nil
	}

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	_, err := c.AddFunc(schedule, func() {
		if _, err := s.Sweep(context.Background()); err != nil {
			s.log.Error("Decay sweep aborted", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", schedule, err)
	}
	c.Start()
	s.cron = c
	s.log.Info("Decay sweep scheduled", "schedule", schedule)
	return nil
}

// Stop 停止调度并等待正在执行的扫描结束
func (s *Sweeper) Stop() {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()
	if c != nil {
		<-c.Stop().Done()
	}
}

// Sweep 分批遍历存活新闻并行重算，单条失败记录后跳过
func (s *Sweeper) Sweep(ctx context.Context) (SweepReport, error) {
	start := s.clock.Now()
	var updated, failed, rewarded atomic.Int64

	var lastID uint
	for {
		var ids []uint
		err := s.db.WithContext(ctx).Model(&models.Item{}).
			Where("deleted = ? AND id > ?", false, lastID).
			Order("id").Limit(sweepBatchSize).
			Pluck("id", &ids).Error
		if err != nil {
			return s.report(&updated, &failed, &rewarded), fmt.Errorf("list items: %w", err)
		}
		if len(ids) == 0 {
			break
		}
		lastID = ids[len(ids)-1]

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(s.concurrency)
		for _, id := range ids {
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				n, err := s.refresh(gctx, id)
				if err != nil {
					failed.Add(1)
					s.metrics.SweepItemsTotal.WithLabelValues("failed").Inc()
					s.log.WarnContext(gctx, "Failed to refresh item score", "item_id", id, "error", err)
					return nil
				}
				updated.Add(1)
				rewarded.Add(int64(n))
				s.metrics.SweepItemsTotal.WithLabelValues("updated").Inc()
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return s.report(&updated, &failed, &rewarded), err
		}
		if len(ids) < sweepBatchSize {
			break
		}
	}

	report := s.report(&updated, &failed, &rewarded)
	s.metrics.SweepDuration.Observe(s.clock.Since(start).Seconds())
	if n, err := s.index.Len(ctx); err == nil {
		s.metrics.RankIndexSize.Set(float64(n))
	}
	s.log.Info("Decay sweep finished", "updated", report.Updated, "failed", report.Failed, "rewarded", report.Rewarded)
	return report, nil
}

func (s *Sweeper) report(updated, failed, rewarded *atomic.Int64) SweepReport {
	return SweepReport{Updated: int(updated.Load()), Failed: int(failed.Load()), Rewarded: int(rewarded.Load())}
}

// refresh 重算一条新闻的分数并同步索引；返回发放的可信度奖励数
func (s *Sweeper) refresh(ctx context.Context, id uint) (int, error) {
	unlock := s.locks.Lock(lockKey(TargetItem, id))
	defer unlock()

	var item models.Item
	if err := s.db.WithContext(ctx).First(&item, id).Error; err != nil {
		return 0, err
	}
	if item.Deleted {
		return 0, nil
	}

	score := s.rank.ItemScore(item.VoteWeight, item.CreatedAt, s.clock.Now())
	if err := s.db.WithContext(ctx).Model(&models.Item{}).Where("id = ?", id).UpdateColumn("score", score).Error; err != nil {
		return 0, err
	}
	if s.invalidate != nil {
		s.invalidate(id)
	}
	if err := s.index.Upsert(ctx, rankindex.Entry{ID: id, Score: score, CreatedAt: item.CreatedAt}); err != nil {
		return 0, err
	}

	if s.rewards.RewardBonus <= 0 || score < s.rewards.RewardScoreThreshold {
		return 0, nil
	}
	return s.reward(ctx, id)
}

// reward 给高分新闻的点赞者发放一次性奖励（每张票只发一次）
func (s *Sweeper) reward(ctx context.Context, itemID uint) (int, error) {
	var votes []models.Vote
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("item_id = ? AND direction = ? AND rewarded = ?", itemID, 1, false).
			Find(&votes).Error
		if err != nil || len(votes) == 0 {
			return err
		}
		ids := make([]uint, len(votes))
		for i, v := range votes {
			ids[i] = v.ID
		}
		return tx.Model(&models.Vote{}).Where("id IN ?", ids).UpdateColumn("rewarded", true).Error
	})
	if err != nil {
		return 0, fmt.Errorf("reward voters of item %d: %w", itemID, err)
	}
	for _, v := range votes {
		s.karma.Enqueue(KarmaAdjustment{UserID: v.UserID, Delta: s.rewards.RewardBonus, Reason: KarmaReasonCredibility})
	}
	return len(votes), nil
}

// Rebuild 清空索引并从数据库重新载入所有存活新闻
func (s *Sweeper) Rebuild(ctx context.Context) (int, error) {
	if err := s.index.Reset(ctx); err != nil {
		return 0, err
	}
	total := 0
	var batch []models.Item
	res := s.db.WithContext(ctx).
		Select("id", "score", "created_at").
		Where("deleted = ?", false).
		FindInBatches(&batch, sweepBatchSize, func(tx *gorm.DB, _ int) error {
			for _, item := range batch {
				e := rankindex.Entry{ID: item.ID, Score: item.Score, CreatedAt: item.CreatedAt}
				if err := s.index.Upsert(ctx, e); err != nil {
					return err
				}
				total++
			}
			return nil
		})
	if res.Error != nil {
		return total, fmt.Errorf("rebuild rank index: %w", res.Error)
	}
	s.metrics.RankIndexSize.Set(float64(total))
	s.log.Info("Rank index rebuilt", "items", total)
	return total, nil
}
