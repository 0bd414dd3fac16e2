package rankindex

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// pageScript 在一次原子读取里定位游标并取下一页。
// 排在游标前面的 = 分数更高的 + 同分且 member 字典序不小于游标的。
// KEYS[1]=zset ARGV: [1]=cursor score ("" = first page), [2]=cursor member, [3]=count
var pageScript = goredis.NewScript(`
local offset = 0
if ARGV[1] ~= '' then
  offset = redis.call('ZCOUNT', KEYS[1], '(' .. ARGV[1], '+inf')
  local ties = redis.call('ZRANGE', KEYS[1], ARGV[1], ARGV[1], 'BYSCORE')
  for _, m in ipairs(ties) do
    if m >= ARGV[2] then
      offset = offset + 1
    end
  end
end
return redis.call('ZRANGE', KEYS[1], offset, offset + tonumber(ARGV[3]) - 1, 'REV', 'WITHSCORES')
`)

// RedisIndex stores the views as two sorted sets sharing one member format,
// "<created unix micro>:<id>" zero padded, so that reverse lexical order on
// ties is newest first, then highest id.
type RedisIndex struct {
	rdb    *goredis.Client
	prefix string
}

func NewRedisIndex(rdb *goredis.Client, prefix string) *RedisIndex {
	if prefix == "" {
		prefix = "newsrank"
	}
	return &RedisIndex{rdb: rdb, prefix: prefix}
}

func (r *RedisIndex) topKey() string     { return r.prefix + ":rank:top" }
func (r *RedisIndex) latestKey() string  { return r.prefix + ":rank:latest" }
func (r *RedisIndex) membersKey() string { return r.prefix + ":rank:members" }

func member(e Entry) string {
	return fmt.Sprintf("%020d:%020d", e.CreatedAt.UnixMicro(), e.ID)
}

func parseMember(m string) (created int64, id uint, err error) {
	createdPart, idPart, ok := strings.Cut(m, ":")
	if !ok {
		return 0, 0, fmt.Errorf("malformed rank member %q", m)
	}
	created, err = strconv.ParseInt(createdPart, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("malformed rank member %q: %w", m, err)
	}
	n, err := strconv.ParseUint(idPart, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("malformed rank member %q: %w", m, err)
	}
	return created, uint(n), nil
}

func (r *RedisIndex) Upsert(ctx context.Context, e Entry) error {
	e = e.normalize()
	m := member(e)
	_, err := r.rdb.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.ZAdd(ctx, r.topKey(), goredis.Z{Score: e.Score, Member: m})
		pipe.ZAdd(ctx, r.latestKey(), goredis.Z{Score: float64(e.CreatedAt.UnixMicro()), Member: m})
		pipe.HSet(ctx, r.membersKey(), strconv.FormatUint(uint64(e.ID), 10), m)
		return nil
	})
	if err != nil {
		return fmt.Errorf("rank index upsert %d: %w", e.ID, err)
	}
	return nil
}

func (r *RedisIndex) Remove(ctx context.Context, id uint) error {
	field := strconv.FormatUint(uint64(id), 10)
	m, err := r.rdb.HGet(ctx, r.membersKey(), field).Result()
	if errors.Is(err, goredis.Nil) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("rank index lookup %d: %w", id, err)
	}
	_, err = r.rdb.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.ZRem(ctx, r.topKey(), m)
		pipe.ZRem(ctx, r.latestKey(), m)
		pipe.HDel(ctx, r.membersKey(), field)
		return nil
	})
	if err != nil {
		return fmt.Errorf("rank index remove %d: %w", id, err)
	}
	return nil
}

func (r *RedisIndex) Page(ctx context.Context, view View, cur string, limit int) ([]uint, string, error) {
	var key string
	switch view {
	case ViewTop:
		key = r.topKey()
	case ViewLatest:
		key = r.latestKey()
	default:
		return nil, "", ErrInvalidView
	}
	if limit <= 0 {
		return []uint{}, "", nil
	}

	cursorScore, cursorMember := "", ""
	if cur != "" {
		c, err := decodeCursor(view, cur)
		if err != nil {
			return nil, "", err
		}
		e := c.entry()
		score := e.Score
		if view == ViewLatest {
			score = float64(c.Created)
		}
		cursorScore = strconv.FormatFloat(score, 'g', -1, 64)
		cursorMember = member(e)
	}

	raw, err := pageScript.Run(ctx, r.rdb, []string{key}, cursorScore, cursorMember, limit+1).StringSlice()
	if err != nil {
		return nil, "", fmt.Errorf("rank index page %s: %w", view, err)
	}

	page := make([]Entry, 0, len(raw)/2)
	for i := 0; i+1 < len(raw); i += 2 {
		created, id, err := parseMember(raw[i])
		if err != nil {
			return nil, "", err
		}
		score, err := strconv.ParseFloat(raw[i+1], 64)
		if err != nil {
			return nil, "", fmt.Errorf("rank index score %q: %w", raw[i+1], err)
		}
		e := Entry{ID: id, Score: score, CreatedAt: time.UnixMicro(created).UTC()}
		if view == ViewLatest {
			// latest 的 zset 分数是创建时间，游标不需要热度分
			e.Score = 0
		}
		page = append(page, e)
	}
	return finishPage(view, page, limit)
}

func (r *RedisIndex) Len(ctx context.Context) (int, error) {
	n, err := r.rdb.ZCard(ctx, r.topKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("rank index len: %w", err)
	}
	return int(n), nil
}

func (r *RedisIndex) Reset(ctx context.Context) error {
	if err := r.rdb.Del(ctx, r.topKey(), r.latestKey(), r.membersKey()).Err(); err != nil {
		return fmt.Errorf("rank index reset: %w", err)
	}
	return nil
}
