// Package db 提供 GORM 初始化、连接池配置与日志适配
package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	pkgLogger "github.com/wyfcoding/jewelrycart/pkg/logger"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/plugin/opentelemetry/tracing"
)

// Config 数据库配置
type Config struct {
	Driver             string
	DSN                string
	MaxOpenConns       int
	MaxIdleConns       int
	ConnMaxLifetime    int
	LogEnabled         bool
	SlowQueryThreshold int
	// 为每条 SQL 创建 otel span
	Tracing bool
}

// DB 数据库实例包装
type DB struct {
	*gorm.DB
	config Config
}

// Init 初始化数据库连接
func Init(ctx context.Context, cfg Config) (*DB, error) {
	var dialector gorm.Dialector

	switch cfg.Driver {
	case "mysql", "":
		dialector = mysql.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Driver)
	}

	d, err := Open(dialector, cfg)
	if err != nil {
		return nil, err
	}

	sqlDB, err := d.DB.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	pkgLogger.Info(ctx, "Database connected successfully", "driver", cfg.Driver)
	return d, nil
}

// Open 使用给定方言打开连接并配置连接池
func Open(dialector gorm.Dialector, cfg Config) (*DB, error) {
	gormLogger := NewGormLogger(cfg.LogEnabled, time.Duration(cfg.SlowQueryThreshold)*time.Millisecond)

	gdb, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormLogger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if cfg.Tracing {
		if err := gdb.Use(tracing.NewPlugin(tracing.WithoutMetrics())); err != nil {
			return nil, fmt.Errorf("failed to enable gorm tracing: %w", err)
		}
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetime) * time.Second)
	}

	return &DB{
		DB:     gdb,
		config: cfg,
	}, nil
}

// Close 关闭数据库连接
func (d *DB) Close() error {
	sqlDB, err := d.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// GormLogger GORM 日志记录器实现
type GormLogger struct {
	enabled            bool
	slowQueryThreshold time.Duration
}

// NewGormLogger 创建 GORM 日志记录器
func NewGormLogger(enabled bool, slowQueryThreshold time.Duration) *GormLogger {
	return &GormLogger{
		enabled:            enabled,
		slowQueryThreshold: slowQueryThreshold,
	}
}

// LogMode 设置日志模式
func (l *GormLogger) LogMode(level logger.LogLevel) logger.Interface {
	return l
}

// Info 记录信息日志
func (l *GormLogger) Info(ctx context.Context, msg string, data ...interface{}) {
	if l.enabled {
		pkgLogger.Info(ctx, msg, "data", data)
	}
}

// Warn 记录警告日志
func (l *GormLogger) Warn(ctx context.Context, msg string, data ...interface{}) {
	pkgLogger.Warn(ctx, msg, "data", data)
}

// Error 记录错误日志
func (l *GormLogger) Error(ctx context.Context, msg string, data ...interface{}) {
	pkgLogger.Error(ctx, msg, "data", data)
}

// Trace 记录 SQL 执行日志，记录未找到不视为错误
func (l *GormLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if !l.enabled {
		return
	}

	elapsed := time.Since(begin)
	sqlStr, rows := fc()

	args := []interface{}{
		"duration", elapsed,
		"rows", rows,
		"sql", sqlStr,
	}

	switch {
	case err != nil && !errors.Is(err, gorm.ErrRecordNotFound):
		args = append(args, "error", err)
		pkgLogger.Error(ctx, "SQL execution failed", args...)
	case l.slowQueryThreshold > 0 && elapsed > l.slowQueryThreshold:
		pkgLogger.Warn(ctx, "Slow query detected", args...)
	default:
		pkgLogger.Debug(ctx, "SQL executed", args...)
	}
}
