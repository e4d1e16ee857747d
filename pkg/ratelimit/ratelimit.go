// Package ratelimit 提供基于 Redis（多实例共享）与进程内令牌桶两种限流实现
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis_rate/v10"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

// RateLimiter 限流器接口
type RateLimiter interface {
	// Allow 判断 key 在给定规则下是否允许一次请求
	Allow(ctx context.Context, key string, limit Limit) (*Result, error)
}

// Limit 限流规则
type Limit struct {
	Rate   int
	Period time.Duration
	Burst  int
}

// Result 限流判定结果
type Result struct {
	Allowed    bool
	Remaining  int
	ResetAfter time.Duration
	RetryAfter time.Duration
}

// RedisRateLimiter 基于 Redis GCRA 的限流器
type RedisRateLimiter struct {
	limiter *redis_rate.Limiter
}

// NewRedisRateLimiter 创建 Redis 限流器
func NewRedisRateLimiter(rdb redis.UniversalClient) *RedisRateLimiter {
	return &RedisRateLimiter{
		limiter: redis_rate.NewLimiter(rdb),
	}
}

// Allow 判断是否放行
func (r *RedisRateLimiter) Allow(ctx context.Context, key string, limit Limit) (*Result, error) {
	res, err := r.limiter.Allow(ctx, key, redis_rate.Limit{
		Rate:   limit.Rate,
		Period: limit.Period,
		Burst:  limit.Burst,
	})
	if err != nil {
		return nil, fmt.Errorf("rate limit check failed: %w", err)
	}

	return &Result{
		Allowed:    res.Allowed > 0,
		Remaining:  res.Remaining,
		ResetAfter: res.ResetAfter,
		RetryAfter: res.RetryAfter,
	}, nil
}

// LocalRateLimiter 进程内限流器，每个 key 一个令牌桶
type LocalRateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewLocalRateLimiter 创建进程内限流器
func NewLocalRateLimiter() *LocalRateLimiter {
	return &LocalRateLimiter{limiters: make(map[string]*rate.Limiter)}
}

// Allow 判断是否放行；同一 key 首次使用时的规则生效
func (l *LocalRateLimiter) Allow(ctx context.Context, key string, limit Limit) (*Result, error) {
	l.mu.Lock()
	lim, ok := l.limiters[key]
	if !ok {
		every := rate.Every(limit.Period / time.Duration(max(limit.Rate, 1)))
		lim = rate.NewLimiter(every, limit.Burst)
		l.limiters[key] = lim
	}
	l.mu.Unlock()

	now := time.Now()
	r := lim.ReserveN(now, 1)
	if !r.OK() {
		return &Result{Allowed: false}, nil
	}
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		return &Result{Allowed: false, RetryAfter: delay}, nil
	}
	return &Result{
		Allowed:   true,
		Remaining: int(lim.TokensAt(now)),
	}, nil
}
