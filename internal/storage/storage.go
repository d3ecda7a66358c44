package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var errNotInitialized = errors.New("storage not initialized")

const (
	defaultBusyTimeout = 5 * time.Second
	defaultSlowQuery   = 200 * time.Millisecond
)

// Config 控制审计库的位置与 SQLite 连接参数
type Config struct {
	Enabled     bool          `mapstructure:"enabled"`
	Path        string        `mapstructure:"path"`
	InMemory    bool          `mapstructure:"in_memory"`
	EnableWAL   bool          `mapstructure:"enable_wal"`
	BusyTimeout time.Duration `mapstructure:"busy_timeout"`
	// SlowQuery 超过该耗时的 SQL 以 warn 级别写入 Logger
	SlowQuery time.Duration `mapstructure:"slow_query"`
	// Logger 为空时 SQL 日志全部丢弃
	Logger *slog.Logger `mapstructure:"-"`
}

// Storage 持有审计记录与轮次日志所在的数据库
type Storage struct {
	db    *gorm.DB
	sqlDB *sql.DB
}

// models 为需要自动迁移的表
var models = []any{&AuditRecord{}, &TurnRecord{}}

// Open 打开（必要时创建）数据库并迁移表结构。
// 文件库的父目录不存在时会一并创建，例如 ~/.mcpagent/mcpagent.db
func Open(ctx context.Context, cfg Config) (*Storage, error) {
	dsn, err := dsnFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	if !cfg.InMemory {
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
			return nil, fmt.Errorf("create storage dir: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: gormLogger(cfg)})
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql db: %w", err)
	}
	s := &Storage{db: db, sqlDB: sqlDB}

	if err := sqlDB.PingContext(ctx); err != nil {
		return nil, s.closeWith(fmt.Errorf("ping sqlite: %w", err))
	}
	if err := db.WithContext(ctx).AutoMigrate(models...); err != nil {
		return nil, s.closeWith(fmt.Errorf("auto migrate: %w", err))
	}
	return s, nil
}

func (s *Storage) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

func (s *Storage) closeWith(err error) error {
	return errors.Join(err, s.Close())
}

// gormLogger 把 gorm 的慢查询与错误转发到 slog
func gormLogger(cfg Config) logger.Interface {
	if cfg.Logger == nil {
		return logger.Discard
	}
	slow := cfg.SlowQuery
	if slow <= 0 {
		slow = defaultSlowQuery
	}
	return logger.NewSlogLogger(cfg.Logger.With(slog.String("component", "storage")), logger.Config{
		SlowThreshold:             slow,
		LogLevel:                  logger.Warn,
		IgnoreRecordNotFoundError: true,
	})
}

// dsnFromConfig 把连接参数写成 pragma，使连接池中的每个连接都生效
func dsnFromConfig(cfg Config) (string, error) {
	timeout := cfg.BusyTimeout
	if timeout <= 0 {
		timeout = defaultBusyTimeout
	}

	q := url.Values{}
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", timeout.Milliseconds()))
	if cfg.InMemory {
		q.Set("mode", "memory")
		q.Set("cache", "shared")
		return "file:mcpagent?" + q.Encode(), nil
	}

	if cfg.Path == "" {
		return "", errors.New("sqlite path is required when InMemory=false")
	}
	if cfg.EnableWAL {
		q.Add("_pragma", "journal_mode(WAL)")
		q.Add("_pragma", "synchronous(NORMAL)")
	}
	return "file:" + cfg.Path + "?" + q.Encode(), nil
}
