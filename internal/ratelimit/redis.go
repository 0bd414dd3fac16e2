package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	goredis "github.com/redis/go-redis/v9"
)

// RedisSlidingWindow keeps one sorted set per key: member = hit id,
// score = hit time in unix micro.
type RedisSlidingWindow struct {
	rdb    *goredis.Client
	prefix string
	limit  int
	window time.Duration
	clock  clockwork.Clock
}

func NewRedisSlidingWindow(rdb *goredis.Client, prefix string, limit int, window time.Duration, clock clockwork.Clock) *RedisSlidingWindow {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &RedisSlidingWindow{
		rdb:    rdb,
		prefix: prefix,
		limit:  limit,
		window: window,
		clock:  clock,
	}
}

func (r *RedisSlidingWindow) Reserve(ctx context.Context, key string) (*Compensator, error) {
	zkey := r.prefix + ":" + key
	now := r.clock.Now()
	minScore := now.Add(-r.window).UnixMicro()
	memberID := uuid.NewString()

	pipe := r.rdb.TxPipeline()
	// a. 移除窗口外的记录
	pipe.ZRemRangeByScore(ctx, zkey, "-inf", fmt.Sprintf("%d", minScore))
	// b. 添加本次记录
	pipe.ZAdd(ctx, zkey, goredis.Z{Score: float64(now.UnixMicro()), Member: memberID})
	// c. 刷新过期时间，比窗口稍长
	pipe.Expire(ctx, zkey, r.window+time.Minute)
	countCmd := pipe.ZCard(ctx, zkey)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("rate limit %s: %w", key, err)
	}

	rollback := func(ctx context.Context) error {
		return r.rdb.ZRem(ctx, zkey, memberID).Err()
	}
	count, err := countCmd.Result()
	if err != nil {
		_ = rollback(ctx)
		return nil, fmt.Errorf("rate limit %s: %w", key, err)
	}
	if count > int64(r.limit) {
		// 超限的这一次不计入
		if err := rollback(ctx); err != nil {
			return nil, fmt.Errorf("rate limit %s: %w", key, err)
		}
		return nil, ErrLimited
	}
	return newCompensator(rollback), nil
}
