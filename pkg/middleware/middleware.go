// Package middleware 提供 Gin 与 gRPC 的通用中间件（日志、指标、panic recover、限流）
package middleware

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/wyfcoding/jewelrycart/pkg/logger"
	"github.com/wyfcoding/jewelrycart/pkg/metrics"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// RequestIDKey gin context 中的请求 ID
const RequestIDKey = "request_id"

// RequestIDHeader 请求 ID 头
const RequestIDHeader = "X-Request-ID"

// GinLoggingMiddleware Gin 日志中间件，trace_id/span_id 由 logger 从 otel span 中提取
func GinLoggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.New().String()
		}
		c.Set(RequestIDKey, requestID)
		c.Header(RequestIDHeader, requestID)

		start := time.Now()
		path := c.Request.URL.Path
		method := c.Request.Method

		c.Next()

		ctx := c.Request.Context()
		args := []any{
			"request_id", requestID,
			"method", method,
			"path", path,
			"client_ip", c.ClientIP(),
			"status_code", c.Writer.Status(),
			"response_size", c.Writer.Size(),
			"duration", time.Since(start),
		}
		if len(c.Errors) > 0 {
			args = append(args, "errors", c.Errors.String())
		}
		if c.Writer.Status() >= 500 {
			logger.Error(ctx, "HTTP request completed", args...)
			return
		}
		logger.Info(ctx, "HTTP request completed", args...)
	}
}

// GinRecoveryMiddleware Gin panic 恢复中间件
func GinRecoveryMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				requestID, _ := c.Get(RequestIDKey)
				logger.Error(c.Request.Context(), "HTTP request panicked",
					"request_id", requestID,
					"panic", err,
				)
				c.AbortWithStatusJSON(500, gin.H{
					"error":      "Internal server error",
					"request_id": requestID,
				})
			}
		}()
		c.Next()
	}
}

// GinMetricsMiddleware 记录请求计数与耗时，path 使用路由模板避免高基数
func GinMetricsMiddleware(collector metrics.Collector) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		collector.RecordHTTPRequest(c.Request.Method, path, c.Writer.Status(), time.Since(start))
	}
}

// GinCORSMiddleware Gin CORS 中间件
func GinCORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With, X-Request-ID")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE, PATCH")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}

// GRPCLoggingInterceptor gRPC 日志拦截器
func GRPCLoggingInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)

		if err != nil {
			st, _ := status.FromError(err)
			logger.Error(ctx, "gRPC request failed",
				"method", info.FullMethod,
				"error_code", st.Code().String(),
				"error_message", st.Message(),
				"duration", time.Since(start),
			)
			return resp, err
		}
		logger.Debug(ctx, "gRPC request completed",
			"method", info.FullMethod,
			"duration", time.Since(start),
		)
		return resp, nil
	}
}

// GRPCRecoveryInterceptor gRPC panic 恢复拦截器
func GRPCRecoveryInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error(ctx, "gRPC request panicked",
					"method", info.FullMethod,
					"panic", r,
				)
				err = status.Error(codes.Internal, "internal server error")
			}
		}()
		return handler(ctx, req)
	}
}
