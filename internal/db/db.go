package db

import (
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"time"

	"newsrank/internal/models"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// newGormLogger 只记录慢查询和错误；未找到记录是正常分支，不记录
func newGormLogger(w io.Writer) gormlogger.Interface {
	return gormlogger.New(log.New(w, "\r\n", log.LstdFlags), gormlogger.Config{
		SlowThreshold:             200 * time.Millisecond,
		LogLevel:                  gormlogger.Warn,
		IgnoreRecordNotFoundError: true,
		Colorful:                  false,
	})
}

// Open 连接数据库。sqlite 只允许一个连接，写入天然串行
func Open(driver, dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch driver {
	case DriverPostgres, "":
		dialector = postgres.Open(dsn)
	case DriverSQLite:
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	gdb, err := gorm.Open(dialector, &gorm.Config{
		TranslateError: true,
		Logger:         newGormLogger(os.Stdout),
	})
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", driver, err)
	}

	if driver == DriverSQLite {
		sqlDB, err := gdb.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
		if err := gdb.Exec("PRAGMA foreign_keys = ON").Error; err != nil {
			return nil, fmt.Errorf("enable foreign keys: %w", err)
		}
	}

	slog.Info("Database connection established", "driver", driver)
	return gdb, nil
}

// Migrate 建表并写入默认节点
func Migrate(gdb *gorm.DB) error {
	err := gdb.AutoMigrate(
		&models.User{},
		&models.Node{},
		&models.Item{},
		&models.Vote{},
		&models.Comment{},
		&models.CommentVote{},
		&models.KarmaLog{},
		&models.Notification{},
	)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return seedNodes(gdb)
}

func seedNodes(gdb *gorm.DB) error {
	// 检查是否已有节点数据
	var count int64
	if err := gdb.Model(&models.Node{}).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	nodes := []models.Node{
		{Slug: "news", Name: "News", Description: "Links to interesting stuff"},
		{Slug: "ask", Name: "Ask", Description: "Questions for the community"},
		{Slug: "show", Name: "Show", Description: "Things you made"},
	}
	if err := gdb.Create(&nodes).Error; err != nil {
		return fmt.Errorf("seed nodes: %w", err)
	}
	slog.Info("Initial nodes created", "count", len(nodes))
	return nil
}
