package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"newsrank/internal/apperrors"
	"newsrank/internal/metrics"
	"newsrank/internal/models"
	"newsrank/internal/rankindex"
	"newsrank/internal/ratelimit"
	"newsrank/internal/utils"

	"github.com/jonboulle/clockwork"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// TargetKind 投票对象
type TargetKind string

const (
	TargetItem    TargetKind = "item"
	TargetComment TargetKind = "comment"
)

// Actor 发起请求的用户及其积分快照
type Actor struct {
	ID    uint
	Karma int
}

type VoteRequest struct {
	Actor     Actor
	Target    TargetKind
	ID        uint
	Direction utils.Direction
}

func (r VoteRequest) Validate() error {
	if r.Actor.ID == 0 {
		return apperrors.Invalid("actor is required")
	}
	if r.Target != TargetItem && r.Target != TargetComment {
		return apperrors.Invalid(fmt.Sprintf("unknown vote target %q", r.Target))
	}
	if r.ID == 0 {
		return apperrors.Invalid("target id is required")
	}
	if !r.Direction.Valid() {
		return apperrors.Invalid("vote direction must be up or down")
	}
	return nil
}

// VoteResult 投票对账本的影响
type VoteResult string

const (
	VoteInserted  VoteResult = "inserted"
	VoteSwitched  VoteResult = "switched"
	VoteUnchanged VoteResult = "unchanged"
)

// VoteOutcome is returned for every accepted vote.
type VoteOutcome struct {
	Result    VoteResult `json:"result"`
	Weight    int        `json:"weight"`
	UpVotes   int        `json:"up"`
	DownVotes int        `json:"down"`
	Score     float64    `json:"score"`
}

// Tally 由投票记录重新统计出的计数
type Tally struct {
	Up     int
	Down   int
	Weight int
}

// Rewards 投票引起的积分变动
type Rewards struct {
	UpvoteAuthorBonus    int
	DownvoteVoterCost    int
	RewardScoreThreshold float64
	RewardBonus          int
}

// voteTarget 被投票对象中与计分有关的字段
type voteTarget struct {
	authorID  uint
	createdAt time.Time
	up        int
	down      int
	weight    int
}

// priorVote 用户已有的一票
type priorVote struct {
	rowID     uint
	direction int
	weight    int
}

// VoteLedger 每个用户对每个对象最多一票；改投是原地替换
type VoteLedger struct {
	db         *gorm.DB
	policy     utils.KarmaPolicy
	rank       utils.RankConfig
	index      rankindex.Index
	limiter    ratelimit.Limiter
	locks      *utils.StripedMutex
	clock      clockwork.Clock
	karma      *KarmaQueue
	rewards    Rewards
	retry      *retrier
	log        *slog.Logger
	metrics    *metrics.Metrics
	invalidate func(itemID uint)
}

func lockKey(kind TargetKind, id uint) string {
	return string(kind) + ":" + strconv.FormatUint(uint64(id), 10)
}

func notFound(kind TargetKind) *apperrors.Error {
	if kind == TargetComment {
		return apperrors.CommentNotFound()
	}
	return apperrors.ItemNotFound()
}

// Apply 按顺序检查：对象存在 → 不是作者 → 积分允许 → 频率限制，然后写入账本并重新计分
func (v *VoteLedger) Apply(ctx context.Context, req VoteRequest) (VoteOutcome, error) {
	out, err := v.apply(ctx, req)
	if err != nil {
		v.metrics.VotesTotal.WithLabelValues(string(req.Target), outcomeLabel(err)).Inc()
		return VoteOutcome{}, err
	}
	v.metrics.VotesTotal.WithLabelValues(string(req.Target), string(out.Result)).Inc()
	return out, nil
}

func (v *VoteLedger) apply(ctx context.Context, req VoteRequest) (VoteOutcome, error) {
	if err := req.Validate(); err != nil {
		return VoteOutcome{}, err
	}

	unlock := v.locks.Lock(lockKey(req.Target, req.ID))
	defer unlock()

	var reservation *ratelimit.Compensator
	defer func() { reservation.RollbackUnlessCommitted(ctx) }()

	var (
		out       VoteOutcome
		target    voteTarget
		firstVote bool
	)
	err := v.retry.run(ctx, func() error {
		out, firstVote = VoteOutcome{}, false
		return v.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var err error
			target, err = v.loadTarget(tx, req.Target, req.ID)
			if err != nil {
				return err
			}
			if target.authorID == req.Actor.ID {
				return apperrors.AlreadyAuthor()
			}
			weight := v.policy.WeightFor(req.Actor.Karma, req.Direction)
			if weight <= 0 {
				return apperrors.InsufficientKarma(fmt.Sprintf("%s votes require more karma", req.Direction))
			}
			// 重试时沿用同一次计数
			if reservation == nil {
				reservation, err = v.limiter.Reserve(ctx, "vote:"+strconv.FormatUint(uint64(req.Actor.ID), 10))
				if errors.Is(err, ratelimit.ErrLimited) {
					return apperrors.RateLimited("too many votes, try again later")
				}
				if err != nil {
					return fmt.Errorf("vote rate limit: %w", err)
				}
			}

			prior, found, err := v.findVote(tx, req.Target, req.Actor.ID, req.ID)
			if err != nil {
				return err
			}

			dir := int(req.Direction)
			switch {
			case found && prior.direction == dir:
				out = v.outcome(req.Target, VoteUnchanged, prior.weight, target)
				return nil
			case found:
				target.up, target.down = bump(target.up, target.down, prior.direction, -1)
				target.weight -= prior.direction * prior.weight
				out.Result = VoteSwitched
				if err := v.updateVote(tx, req.Target, prior.rowID, dir, weight); err != nil {
					return err
				}
			default:
				out.Result = VoteInserted
				firstVote = true
				if err := v.insertVote(tx, req.Target, req.Actor.ID, req.ID, dir, weight); err != nil {
					return err
				}
			}
			target.up, target.down = bump(target.up, target.down, dir, 1)
			target.weight += dir * weight

			out = v.outcome(req.Target, out.Result, weight, target)
			return v.saveTarget(tx, req.Target, req.ID, target, out.Score)
		})
	})
	if err != nil {
		return VoteOutcome{}, err
	}
	reservation.Commit()

	if out.Result != VoteUnchanged && req.Target == TargetItem {
		v.syncIndex(ctx, req.ID, out.Score, target.createdAt)
	}
	if firstVote {
		v.scheduleKarma(req, target.authorID)
	}
	return out, nil
}

func bump(up, down, dir, delta int) (int, int) {
	if dir > 0 {
		return up + delta, down
	}
	return up, down + delta
}

func (v *VoteLedger) outcome(kind TargetKind, result VoteResult, weight int, t voteTarget) VoteOutcome {
	return VoteOutcome{
		Result:    result,
		Weight:    weight,
		UpVotes:   t.up,
		DownVotes: t.down,
		Score:     v.score(kind, t),
	}
}

func (v *VoteLedger) score(kind TargetKind, t voteTarget) float64 {
	if kind == TargetComment {
		return utils.CommentScore(t.weight)
	}
	return v.rank.ItemScore(t.weight, t.createdAt, v.clock.Now())
}

// syncIndex 提交后更新排行索引；失败由下一次 sweep 修复
func (v *VoteLedger) syncIndex(ctx context.Context, itemID uint, score float64, createdAt time.Time) {
	if v.invalidate != nil {
		v.invalidate(itemID)
	}
	err := v.index.Upsert(ctx, rankindex.Entry{ID: itemID, Score: score, CreatedAt: createdAt})
	if err != nil {
		v.log.ErrorContext(ctx, "Failed to update rank index after vote", "item_id", itemID, "error", err)
	}
}

func (v *VoteLedger) scheduleKarma(req VoteRequest, authorID uint) {
	switch req.Direction {
	case utils.Up:
		v.karma.Enqueue(KarmaAdjustment{UserID: authorID, Delta: v.rewards.UpvoteAuthorBonus, Reason: KarmaReasonUpvoteReceived})
	case utils.Down:
		v.karma.Enqueue(KarmaAdjustment{UserID: req.Actor.ID, Delta: -v.rewards.DownvoteVoterCost, Reason: KarmaReasonDownvoteCast})
	}
}

func (v *VoteLedger) loadTarget(tx *gorm.DB, kind TargetKind, id uint) (voteTarget, error) {
	locked := tx.Clauses(clause.Locking{Strength: "UPDATE"})
	switch kind {
	case TargetItem:
		var item models.Item
		err := locked.First(&item, id).Error
		if errors.Is(err, gorm.ErrRecordNotFound) || (err == nil && item.Deleted) {
			return voteTarget{}, apperrors.ItemNotFound()
		}
		if err != nil {
			return voteTarget{}, err
		}
		return voteTarget{authorID: item.UserID, createdAt: item.CreatedAt, up: item.UpVotes, down: item.DownVotes, weight: item.VoteWeight}, nil
	default:
		var c models.Comment
		err := locked.First(&c, id).Error
		if errors.Is(err, gorm.ErrRecordNotFound) || (err == nil && c.Deleted) {
			return voteTarget{}, apperrors.CommentNotFound()
		}
		if err != nil {
			return voteTarget{}, err
		}
		return voteTarget{authorID: c.UserID, createdAt: c.CreatedAt, up: c.UpVotes, down: c.DownVotes, weight: c.VoteWeight}, nil
	}
}

func (v *VoteLedger) findVote(tx *gorm.DB, kind TargetKind, userID, id uint) (priorVote, bool, error) {
	var (
		p   priorVote
		err error
	)
	if kind == TargetItem {
		var row models.Vote
		err = tx.Where("user_id = ? AND item_id = ?", userID, id).Take(&row).Error
		p = priorVote{rowID: row.ID, direction: row.Direction, weight: row.Weight}
	} else {
		var row models.CommentVote
		err = tx.Where("user_id = ? AND comment_id = ?", userID, id).Take(&row).Error
		p = priorVote{rowID: row.ID, direction: row.Direction, weight: row.Weight}
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return priorVote{}, false, nil
	}
	if err != nil {
		return priorVote{}, false, err
	}
	return p, true, nil
}

func (v *VoteLedger) insertVote(tx *gorm.DB, kind TargetKind, userID, id uint, dir, weight int) error {
	if kind == TargetItem {
		return tx.Create(&models.Vote{UserID: userID, ItemID: id, Direction: dir, Weight: weight}).Error
	}
	return tx.Create(&models.CommentVote{UserID: userID, CommentID: id, Direction: dir, Weight: weight}).Error
}

func (v *VoteLedger) updateVote(tx *gorm.DB, kind TargetKind, rowID uint, dir, weight int) error {
	updates := map[string]any{"direction": dir, "weight": weight, "updated_at": v.clock.Now()}
	if kind == TargetItem {
		// 改投后重新计算可信度奖励
		updates["rewarded"] = false
		return tx.Model(&models.Vote{}).Where("id = ?", rowID).Updates(updates).Error
	}
	return tx.Model(&models.CommentVote{}).Where("id = ?", rowID).Updates(updates).Error
}

func (v *VoteLedger) saveTarget(tx *gorm.DB, kind TargetKind, id uint, t voteTarget, score float64) error {
	updates := map[string]any{
		"up_votes":    t.up,
		"down_votes":  t.down,
		"vote_weight": t.weight,
		"score":       score,
	}
	if kind == TargetItem {
		return tx.Model(&models.Item{}).Where("id = ?", id).UpdateColumns(updates).Error
	}
	return tx.Model(&models.Comment{}).Where("id = ?", id).UpdateColumns(updates).Error
}

// Tally 从投票记录重新统计
func (v *VoteLedger) Tally(ctx context.Context, kind TargetKind, id uint) (Tally, error) {
	return v.tally(v.db.WithContext(ctx), kind, id)
}

func (v *VoteLedger) tally(tx *gorm.DB, kind TargetKind, id uint) (Tally, error) {
	var t Tally
	q := tx.Select(
		"COUNT(CASE WHEN direction = 1 THEN 1 END) AS up, " +
			"COUNT(CASE WHEN direction = -1 THEN 1 END) AS down, " +
			"COALESCE(SUM(direction * weight), 0) AS weight")
	var err error
	if kind == TargetItem {
		err = q.Model(&models.Vote{}).Where("item_id = ?", id).Scan(&t).Error
	} else {
		err = q.Model(&models.CommentVote{}).Where("comment_id = ?", id).Scan(&t).Error
	}
	if err != nil {
		return Tally{}, fmt.Errorf("tally %s %d: %w", kind, id, err)
	}
	return t, nil
}

// ReconcileReport 缓存计数与账本的核对结果
type ReconcileReport struct {
	Items    int    `json:"items"`
	Comments int    `json:"comments"`
	Repaired []uint `json:"repaired_items"`
	Fixed    []uint `json:"repaired_comments"`
}

// Reconcile 用账本修正漂移的缓存计数（含已删除对象）
func (v *VoteLedger) Reconcile(ctx context.Context) (ReconcileReport, error) {
	var report ReconcileReport

	var itemIDs []uint
	if err := v.db.WithContext(ctx).Model(&models.Item{}).Order("id").Pluck("id", &itemIDs).Error; err != nil {
		return report, fmt.Errorf("list items: %w", err)
	}
	for _, id := range itemIDs {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Items++
		repaired, err := v.reconcileOne(ctx, TargetItem, id)
		if err != nil {
			return report, err
		}
		if repaired {
			report.Repaired = append(report.Repaired, id)
		}
	}

	var commentIDs []uint
	if err := v.db.WithContext(ctx).Model(&models.Comment{}).Order("id").Pluck("id", &commentIDs).Error; err != nil {
		return report, fmt.Errorf("list comments: %w", err)
	}
	for _, id := range commentIDs {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Comments++
		repaired, err := v.reconcileOne(ctx, TargetComment, id)
		if err != nil {
			return report, err
		}
		if repaired {
			report.Fixed = append(report.Fixed, id)
		}
	}
	return report, nil
}

func (v *VoteLedger) reconcileOne(ctx context.Context, kind TargetKind, id uint) (bool, error) {
	unlock := v.locks.Lock(lockKey(kind, id))
	defer unlock()

	var (
		repaired bool
		t        voteTarget
		deleted  bool
		score    float64
	)
	err := v.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		switch kind {
		case TargetItem:
			var item models.Item
			if err = tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&item, id).Error; err != nil {
				return err
			}
			t = voteTarget{createdAt: item.CreatedAt, up: item.UpVotes, down: item.DownVotes, weight: item.VoteWeight}
			deleted = item.Deleted
		default:
			var c models.Comment
			if err = tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&c, id).Error; err != nil {
				return err
			}
			t = voteTarget{createdAt: c.CreatedAt, up: c.UpVotes, down: c.DownVotes, weight: c.VoteWeight}
		}

		tally, err := v.tally(tx, kind, id)
		if err != nil {
			return err
		}
		if tally.Up == t.up && tally.Down == t.down && tally.Weight == t.weight {
			return nil
		}
		v.log.Warn("Vote counters drifted from ledger", "target", kind, "id", id,
			"cached_up", t.up, "cached_down", t.down, "cached_weight", t.weight,
			"ledger_up", tally.Up, "ledger_down", tally.Down, "ledger_weight", tally.Weight)

		t.up, t.down, t.weight = tally.Up, tally.Down, tally.Weight
		score = v.score(kind, t)
		repaired = true
		return v.saveTarget(tx, kind, id, t, score)
	})
	if err != nil {
		return false, fmt.Errorf("reconcile %s %d: %w", kind, id, err)
	}
	if repaired && kind == TargetItem && !deleted {
		v.syncIndex(ctx, id, score, t.createdAt)
	}
	return repaired, nil
}

// outcomeLabel 指标标签：拒绝原因或 error
func outcomeLabel(err error) string {
	if reason := apperrors.ReasonOf(err); reason != "" {
		return string(reason)
	}
	return "error"
}
