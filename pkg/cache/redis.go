// Package cache 提供 Redis 客户端初始化与连接就绪检查
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/wyfcoding/jewelrycart/pkg/logger"
)

// Config Redis 配置
type Config struct {
	Host         string
	Port         int
	Password     string
	DB           int
	MaxPoolSize  int
	ConnTimeout  int
	ReadTimeout  int
	WriteTimeout int
	// 连接重试次数，0 表示只尝试一次
	MaxAttempts int
}

// Addr 返回 host:port 形式的地址
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// NewClient 创建 Redis 客户端并等待连接就绪
func NewClient(ctx context.Context, cfg Config) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:            cfg.Addr(),
		Password:        cfg.Password,
		DB:              cfg.DB,
		PoolSize:        cfg.MaxPoolSize,
		DialTimeout:     time.Duration(cfg.ConnTimeout) * time.Second,
		ConnMaxIdleTime: 180 * time.Second,
		ReadTimeout:     time.Duration(cfg.ReadTimeout) * time.Second,
		WriteTimeout:    time.Duration(cfg.WriteTimeout) * time.Second,
	})

	if err := WaitReady(ctx, client, cfg.MaxAttempts); err != nil {
		_ = client.Close()
		return nil, err
	}

	logger.Info(ctx, "Redis connected successfully", "addr", cfg.Addr())
	return client, nil
}

// WaitReady 以指数退避方式 Ping，直到成功、次数耗尽或 ctx 取消
func WaitReady(ctx context.Context, client redis.UniversalClient, maxAttempts int) error {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	var lastErr error
	for i := 0; i < maxAttempts; i++ {
		if lastErr = Ping(ctx, client); lastErr == nil {
			return nil
		}

		backoff := time.Duration(1<<uint(i)) * 100 * time.Millisecond
		if backoff > 30*time.Second {
			backoff = 30 * time.Second
		}
		logger.Warn(ctx, "Redis ping failed, retrying",
			"attempt", i+1,
			"max_attempts", maxAttempts,
			"backoff", backoff,
			"error", lastErr,
		)
		if i == maxAttempts-1 {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
	return fmt.Errorf("failed to connect to Redis after %d attempts: %w", maxAttempts, lastErr)
}

// Ping 带超时的连通性检查
func Ping(ctx context.Context, client redis.UniversalClient) error {
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return client.Ping(pingCtx).Err()
}
