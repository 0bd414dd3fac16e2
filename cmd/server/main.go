package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"newsrank/internal/config"
	"newsrank/internal/db"
	"newsrank/internal/logging"
	"newsrank/internal/metrics"
	"newsrank/internal/rankindex"
	"newsrank/internal/ratelimit"
	"newsrank/internal/services"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

const (
	programName = "newsrank"
	redisPrefix = "newsrank"
)

// app 每个子命令共用的依赖
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	db      *gorm.DB
	redis   *goredis.Client
	metrics *metrics.Metrics
	engine  *services.Engine
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	logger := logging.Init(cfg.LogLevel, cfg.LogFormat)

	gdb, err := db.Open(cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(gdb); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	a := &app{
		cfg:     cfg,
		logger:  logger,
		db:      gdb,
		metrics: metrics.New(prometheus.DefaultRegisterer),
	}

	clock := clockwork.NewRealClock()
	opts := services.Options{
		Rank:  cfg.RankConfig(),
		Karma: cfg.Karma,
		Limits: services.Limits{
			TitleMaxLength:    cfg.TitleMaxLength,
			URLMaxLength:      cfg.URLMaxLength,
			TextMaxLength:     cfg.TextMaxLength,
			CommentMaxLength:  cfg.CommentMaxLength,
			RepostWindow:      cfg.RepostWindow,
			ItemEditWindow:    cfg.ItemEditWindow,
			CommentEditWindow: cfg.CommentEditWindow,
			TopPageSize:       cfg.TopPageSize,
			MaxPageSize:       cfg.MaxPageSize,
		},
		Rewards: services.Rewards{
			UpvoteAuthorBonus:    cfg.UpvoteAuthorBonus,
			DownvoteVoterCost:    cfg.DownvoteVoterCost,
			RewardScoreThreshold: cfg.RewardScoreThreshold,
			RewardBonus:          cfg.RewardBonus,
		},
		Clock:            clock,
		Logger:           logger,
		Metrics:          a.metrics,
		CacheSize:        cfg.CacheSize,
		CacheTTL:         cfg.CacheTTL,
		SweepConcurrency: cfg.SweepConcurrency,
	}

	// 配置了 Redis 时，排行索引和限流在多个实例间共享
	if cfg.RedisURL != "" {
		redisOpts, err := goredis.ParseURL(cfg.RedisURL)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("parse REDIS_URL: %w", err)
		}
		a.redis = goredis.NewClient(redisOpts)
		if err := a.redis.Ping(ctx).Err(); err != nil {
			a.Close()
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		opts.Index = rankindex.NewRedisIndex(a.redis, redisPrefix)
		opts.VoteLimiter = ratelimit.NewRedisSlidingWindow(a.redis, redisPrefix+":vote", cfg.VoteRateLimit, cfg.VoteRateWindow, clock)
		opts.SubmitLimiter = ratelimit.NewRedisSlidingWindow(a.redis, redisPrefix+":submit", cfg.SubmitRateLimit, cfg.SubmitRateWindow, clock)
		logger.Info("Using redis rank index and rate limiter")
	} else {
		opts.VoteLimiter = ratelimit.NewSlidingWindow(cfg.VoteRateLimit, cfg.VoteRateWindow, clock)
		opts.SubmitLimiter = ratelimit.NewSlidingWindow(cfg.SubmitRateLimit, cfg.SubmitRateWindow, clock)
	}

	engine, err := services.New(gdb, opts)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.engine = engine
	return a, nil
}

// Close 先停引擎，再断开存储连接
func (a *app) Close() {
	if a.engine != nil {
		a.engine.Close()
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("Failed to close redis", "error", err)
		}
	}
	if sqlDB, err := a.db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}

func main() {
	rootCmd := &cobra.Command{
		Use:           programName,
		Short:         "Ranking and voting engine for a social news site",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(serveCommand())
	rootCmd.AddCommand(sweepCommand())
	rootCmd.AddCommand(reindexCommand())
	rootCmd.AddCommand(reconcileCommand())
	rootCmd.AddCommand(karmaCommand())

	if err := rootCmd.Execute(); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}
