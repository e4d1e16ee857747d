package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/wyfcoding/jewelrycart/pkg/config"
	"github.com/wyfcoding/jewelrycart/pkg/logger"
	"github.com/wyfcoding/jewelrycart/pkg/ratelimit"
)

// SubjectFunc 返回请求所属的限流主体（如用户 ID）；返回空串时按客户端 IP 计数
type SubjectFunc func(c *gin.Context) string

// RateLimitOption 限流中间件选项
type RateLimitOption func(*rateLimitOptions)

type rateLimitOptions struct {
	subject SubjectFunc
	skip    map[string]struct{}
}

// WithSubject 按登录主体限流，同一用户在多个 IP 上共享配额
func WithSubject(fn SubjectFunc) RateLimitOption {
	return func(o *rateLimitOptions) { o.subject = fn }
}

// WithSkipPaths 不参与限流的路由模板，例如指标抓取
func WithSkipPaths(paths ...string) RateLimitOption {
	return func(o *rateLimitOptions) {
		for _, p := range paths {
			o.skip[p] = struct{}{}
		}
	}
}

// RateLimitKey 计算限流键：有主体时为 ratelimit:user:<id>，否则为 ratelimit:ip:<ip>
func RateLimitKey(c *gin.Context, subject SubjectFunc) string {
	if subject != nil {
		if id := subject(c); id != "" {
			return "ratelimit:user:" + id
		}
	}
	return "ratelimit:ip:" + c.ClientIP()
}

// RateLimitMiddleware 按主体或客户端 IP 限流；限流器故障时放行
func RateLimitMiddleware(limiter ratelimit.RateLimiter, cfg config.RateLimitConfig, opts ...RateLimitOption) gin.HandlerFunc {
	o := rateLimitOptions{skip: make(map[string]struct{})}
	for _, opt := range opts {
		opt(&o)
	}
	limit := ratelimit.Limit{Rate: cfg.QPS, Period: time.Second, Burst: cfg.Burst}
	limitHeader := strconv.Itoa(limit.Burst)

	return func(c *gin.Context) {
		if !cfg.Enabled {
			c.Next()
			return
		}
		if _, ok := o.skip[c.FullPath()]; ok {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		key := RateLimitKey(c, o.subject)
		res, err := limiter.Allow(ctx, key, limit)
		if err != nil {
			logger.Warn(ctx, "rate limiter unavailable", "key", key, "error", err)
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", limitHeader)
		c.Header("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
		if res.Allowed {
			c.Next()
			return
		}

		retry := int64(res.RetryAfter / time.Second)
		if res.RetryAfter%time.Second != 0 {
			retry++
		}
		c.Header("Retry-After", strconv.FormatInt(retry, 10))
		logger.Debug(ctx, "request rate limited", "key", key, "path", c.FullPath())
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"error":       "too many requests",
			"retry_after": res.RetryAfter.String(),
		})
	}
}
