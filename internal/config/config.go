// Package config loads runtime settings from the environment (.env is
// honored) and an optional YAML karma policy file.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"newsrank/internal/utils"

	"github.com/joho/godotenv"
	"go-simpler.org/env"
	"gopkg.in/yaml.v3"
)

// Settings 全部来自环境变量
type Settings struct {
	AppEnv         string `env:"APP_ENV" default:"development"`
	Port           string `env:"PORT" default:"8080"`
	DatabaseDriver string `env:"DATABASE_DRIVER" default:"postgres"`
	DatabaseURL    string `env:"DATABASE_URL"`
	RedisURL       string `env:"REDIS_URL"` // 为空时排行索引与限流使用内存实现
	SessionSecret  string `env:"SESSION_SECRET" default:"newsrank-dev-secret"`
	LogLevel       string `env:"LOG_LEVEL" default:"info"`
	LogFormat      string `env:"LOG_FORMAT" default:"text"`

	Gravity     float64 `env:"RANK_GRAVITY" default:"1.8"`
	ScoreOffset float64 `env:"RANK_OFFSET" default:"2"`

	VoteRateLimit    int           `env:"VOTE_RATE_LIMIT" default:"60"`
	VoteRateWindow   time.Duration `env:"VOTE_RATE_WINDOW" default:"10m"`
	SubmitRateLimit  int           `env:"SUBMIT_RATE_LIMIT" default:"1"`
	SubmitRateWindow time.Duration `env:"SUBMIT_RATE_WINDOW" default:"15m"`

	RepostWindow      time.Duration `env:"REPOST_WINDOW" default:"48h"`
	ItemEditWindow    time.Duration `env:"ITEM_EDIT_WINDOW" default:"15m"`
	CommentEditWindow time.Duration `env:"COMMENT_EDIT_WINDOW" default:"2h"`

	TitleMaxLength   int `env:"TITLE_MAX_LENGTH" default:"80"`
	URLMaxLength     int `env:"URL_MAX_LENGTH" default:"256"`
	TextMaxLength    int `env:"TEXT_MAX_LENGTH" default:"4096"`
	CommentMaxLength int `env:"COMMENT_MAX_LENGTH" default:"4096"`

	TopPageSize int `env:"TOP_PAGE_SIZE" default:"30"`
	MaxPageSize int `env:"MAX_PAGE_SIZE" default:"100"`

	SweepSchedule    string `env:"SWEEP_SCHEDULE" default:"@every 5m"`
	SweepConcurrency int    `env:"SWEEP_CONCURRENCY" default:"8"`

	UpvoteAuthorBonus    int     `env:"UPVOTE_AUTHOR_BONUS" default:"1"`
	DownvoteVoterCost    int     `env:"DOWNVOTE_VOTER_COST" default:"1"`
	RewardScoreThreshold float64 `env:"REWARD_SCORE_THRESHOLD" default:"1.5"`
	RewardBonus          int     `env:"REWARD_BONUS" default:"1"`
	KarmaPolicyFile      string  `env:"KARMA_POLICY_FILE"`

	CacheSize int           `env:"ITEM_CACHE_SIZE" default:"2048"`
	CacheTTL  time.Duration `env:"ITEM_CACHE_TTL" default:"1m"`

	HTTPRateLimit float64 `env:"HTTP_RATE_LIMIT" default:"20"` // 每个 IP 每秒请求数
	HTTPRateBurst int     `env:"HTTP_RATE_BURST" default:"40"`
}

type Config struct {
	Settings
	Karma utils.KarmaPolicy
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	var s Settings
	if err := env.Load(&s, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := &Config{Settings: s, Karma: utils.DefaultKarmaPolicy}
	if s.KarmaPolicyFile != "" {
		policy, err := LoadKarmaPolicy(s.KarmaPolicyFile)
		if err != nil {
			return nil, err
		}
		cfg.Karma = policy
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadKarmaPolicy 读取 YAML，未出现的字段沿用默认值
func LoadKarmaPolicy(path string) (utils.KarmaPolicy, error) {
	policy := utils.DefaultKarmaPolicy
	data, err := os.ReadFile(path)
	if err != nil {
		return policy, fmt.Errorf("read karma policy: %w", err)
	}
	if err := yaml.Unmarshal(data, &policy); err != nil {
		return policy, fmt.Errorf("parse karma policy %s: %w", path, err)
	}
	if err := policy.Validate(); err != nil {
		return policy, fmt.Errorf("karma policy %s: %w", path, err)
	}
	return policy, nil
}

func (c *Config) RankConfig() utils.RankConfig {
	return utils.RankConfig{Gravity: c.Gravity, Offset: c.ScoreOffset}
}

func validate(cfg *Config) error {
	switch cfg.DatabaseDriver {
	case "postgres":
		if cfg.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required")
		}
	case "sqlite":
		if cfg.DatabaseURL == "" {
			cfg.DatabaseURL = "newsrank.db"
		}
	default:
		return fmt.Errorf("DATABASE_DRIVER must be postgres or sqlite, got %q", cfg.DatabaseDriver)
	}

	if cfg.Gravity <= 1 {
		return fmt.Errorf("RANK_GRAVITY must be greater than 1, got %v", cfg.Gravity)
	}
	if cfg.ScoreOffset <= 0 {
		return fmt.Errorf("RANK_OFFSET must be positive, got %v", cfg.ScoreOffset)
	}
	if cfg.VoteRateLimit < 1 || cfg.VoteRateWindow <= 0 {
		return errors.New("VOTE_RATE_LIMIT and VOTE_RATE_WINDOW must be positive")
	}
	if cfg.SubmitRateLimit < 1 || cfg.SubmitRateWindow <= 0 {
		return errors.New("SUBMIT_RATE_LIMIT and SUBMIT_RATE_WINDOW must be positive")
	}
	if cfg.TopPageSize < 1 || cfg.MaxPageSize < cfg.TopPageSize {
		return errors.New("TOP_PAGE_SIZE must be positive and not exceed MAX_PAGE_SIZE")
	}
	if cfg.SweepConcurrency < 1 {
		return errors.New("SWEEP_CONCURRENCY must be positive")
	}
	return cfg.Karma.Validate()
}
