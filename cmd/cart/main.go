package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/wyfcoding/jewelrycart/internal/cart/application"
	"github.com/wyfcoding/jewelrycart/internal/cart/domain"
	"github.com/wyfcoding/jewelrycart/internal/cart/infrastructure/gateway"
	"github.com/wyfcoding/jewelrycart/internal/cart/infrastructure/identity"
	"github.com/wyfcoding/jewelrycart/internal/cart/infrastructure/messaging"
	"github.com/wyfcoding/jewelrycart/internal/cart/infrastructure/persistence/memory"
	"github.com/wyfcoding/jewelrycart/internal/cart/infrastructure/persistence/mysql"
	redisstore "github.com/wyfcoding/jewelrycart/internal/cart/infrastructure/persistence/redis"
	grpcserver "github.com/wyfcoding/jewelrycart/internal/cart/interfaces/grpc"
	httpserver "github.com/wyfcoding/jewelrycart/internal/cart/interfaces/http"
	"github.com/wyfcoding/jewelrycart/pkg/cache"
	"github.com/wyfcoding/jewelrycart/pkg/config"
	"github.com/wyfcoding/jewelrycart/pkg/db"
	"github.com/wyfcoding/jewelrycart/pkg/logger"
	"github.com/wyfcoding/jewelrycart/pkg/metrics"
	"github.com/wyfcoding/jewelrycart/pkg/middleware"
	"github.com/wyfcoding/jewelrycart/pkg/mq"
	"github.com/wyfcoding/jewelrycart/pkg/ratelimit"
	"github.com/wyfcoding/jewelrycart/pkg/tracing"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/reflection"
)

const shutdownTimeout = 10 * time.Second

var configPath = flag.String("config", config.GetEnv("APP_CONFIG", "configs/cart/config.toml"), "config file path")

func main() {
	flag.Parse()

	// 1. 初始化配置
	cfg, err := config.Load(*configPath)
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	// 2. 初始化日志
	if err := logger.Init(logger.Config{
		Level:      cfg.Logger.Level,
		Format:     cfg.Logger.Format,
		Output:     cfg.Logger.Output,
		FilePath:   cfg.Logger.FilePath,
		MaxSize:    cfg.Logger.MaxSize,
		MaxBackups: cfg.Logger.MaxBackups,
		MaxAge:     cfg.Logger.MaxAge,
		Compress:   cfg.Logger.Compress,
		WithCaller: cfg.Logger.WithCaller,
	}); err != nil {
		panic(fmt.Sprintf("failed to init logger: %v", err))
	}
	ctx := context.Background()
	logger.Info(ctx, "starting service", "service", cfg.ServiceName, "version", cfg.Version, "backend", cfg.Cart.Backend)

	// run 返回后所有 defer 的清理（存储、Kafka、追踪）都已执行
	if err := run(ctx, cfg); err != nil {
		logger.Error(ctx, "service exited with error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	// 3. 初始化追踪
	if cfg.Tracing.Enabled {
		tp, err := tracing.Init(ctx, tracing.Config{
			ServiceName:    cfg.ServiceName,
			ServiceVersion: cfg.Version,
			Endpoint:       cfg.Tracing.CollectorEndpoint,
			SamplingRate:   cfg.Tracing.SamplingRate,
		})
		if err != nil {
			return fmt.Errorf("init tracing: %w", err)
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			tp.Shutdown(sctx)
		}()
	}

	taxRate, err := decimal.NewFromString(cfg.Checkout.TaxRate)
	if err != nil {
		return fmt.Errorf("invalid checkout.tax_rate %q: %w", cfg.Checkout.TaxRate, err)
	}
	shippingFee, err := decimal.NewFromString(cfg.Checkout.ShippingFee)
	if err != nil {
		return fmt.Errorf("invalid checkout.shipping_fee %q: %w", cfg.Checkout.ShippingFee, err)
	}

	// 4. 初始化指标
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(cfg.ServiceName)
	if err := m.Register(registry); err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}
	var collector metrics.Collector = metrics.NopCollector{}
	if cfg.Metrics.Enabled {
		collector = metrics.NewCollector(m)
	}

	// 5. 初始化持久化存储
	store, rdb, closeStore, err := newDurableStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("init %s store: %w", cfg.Cart.Backend, err)
	}
	defer closeStore()

	// 6. 初始化事件发布
	var publisher domain.EventPublisher = messaging.NopPublisher{}
	if len(cfg.Kafka.Brokers) > 0 {
		producer, err := mq.NewProducer(mq.KafkaConfig{
			Brokers:      cfg.Kafka.Brokers,
			MaxRetries:   cfg.Kafka.MaxRetries,
			RetryBackoff: cfg.Kafka.RetryBackoff,
		})
		if err != nil {
			return fmt.Errorf("init kafka producer: %w", err)
		}
		kp := messaging.NewKafkaPublisher(producer, cfg.Kafka.Topic)
		defer kp.Close()
		publisher = kp
	}

	// 7. 初始化会话与应用服务
	session := identity.NewSession(store, identity.NewTokenParser(cfg.Session.JWTSecret))
	if err := session.Restore(ctx); err != nil {
		logger.Warn(ctx, "failed to restore session, starting as guest", "error", err)
	}

	cartStore := application.NewCartStore(session, store,
		application.WithPublisher(publisher),
		application.WithMetrics(collector),
		application.WithKeyPrefix(cfg.Cart.KeyPrefix),
		application.WithSaveTimeout(cfg.Cart.SaveTimeout()),
		application.WithClearOnLogout(cfg.Cart.ClearOnLogout),
	)
	cartStore.Start(ctx)

	orderGateway := gateway.NewBreakerGateway(
		gateway.NewOrderClient(cfg.Checkout.OrderAPIURL, cfg.Checkout.Timeout(), session),
		cfg.Checkout.BreakerMaxFailures,
		time.Duration(cfg.Checkout.BreakerOpenSeconds)*time.Second,
	)
	checkout := application.NewCheckoutService(cartStore, session, orderGateway, taxRate, shippingFee, collector)

	// 8. 初始化接口层
	// gRPC
	grpcSrv := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(
			middleware.GRPCRecoveryInterceptor(),
			middleware.GRPCLoggingInterceptor(),
		),
	)
	grpcserver.NewHealthServer(grpcSrv, store)
	reflection.Register(grpcSrv)

	// HTTP
	gin.SetMode(gin.ReleaseMode)
	if cfg.Environment == "dev" {
		gin.SetMode(gin.DebugMode)
	}
	r := gin.New()
	r.Use(
		otelgin.Middleware(cfg.ServiceName),
		middleware.GinRecoveryMiddleware(),
		middleware.GinLoggingMiddleware(),
		middleware.GinMetricsMiddleware(collector),
		middleware.GinCORSMiddleware(),
	)
	if cfg.RateLimit.Enabled {
		var limiter ratelimit.RateLimiter = ratelimit.NewLocalRateLimiter()
		if rdb != nil {
			limiter = ratelimit.NewRedisRateLimiter(rdb)
		}
		r.Use(middleware.RateLimitMiddleware(limiter, cfg.RateLimit,
			middleware.WithSubject(func(c *gin.Context) string {
				if id, ok, err := session.CurrentUserID(c.Request.Context()); err == nil && ok {
					return id
				}
				return ""
			}),
			middleware.WithSkipPaths(cfg.Metrics.Path),
		))
	}
	if cfg.Metrics.Enabled {
		r.GET(cfg.Metrics.Path, gin.WrapH(metrics.Handler(registry)))
	}
	httpserver.NewCartHandler(cartStore, checkout, session).RegisterRoutes(r)

	httpSrv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port),
		Handler:      r,
		ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeout) * time.Second,
	}

	// 9. 启动服务
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		addr := fmt.Sprintf("%s:%d", cfg.GRPC.Host, cfg.GRPC.Port)
		lis, err := net.Listen("tcp", addr)
		if err != nil {
			return err
		}
		logger.Info(ctx, "gRPC server starting", "addr", addr)
		return grpcSrv.Serve(lis)
	})

	g.Go(func() error {
		logger.Info(ctx, "HTTP server starting", "addr", httpSrv.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	// 10. 优雅关闭：先停接口，再写完剩余的购物车快照
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		select {
		case <-quit:
			logger.Info(ctx, "shutting down servers...")
		case <-gctx.Done():
			logger.Info(ctx, "context cancelled, shutting down...")
		}

		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := httpSrv.Shutdown(sctx); err != nil {
			logger.Error(sctx, "HTTP server shutdown failed", "error", err)
		}
		grpcSrv.GracefulStop()
		if err := cartStore.Close(sctx); err != nil {
			logger.Error(sctx, "cart store did not drain", "error", err)
		}
		return nil
	})

	return g.Wait()
}

// newDurableStore 按 cart.backend 选择持久化后端；Redis 后端同时返回客户端供限流复用
func newDurableStore(ctx context.Context, cfg *config.Config) (domain.DurableStore, redis.UniversalClient, func(), error) {
	switch cfg.Cart.Backend {
	case config.BackendRedis:
		client, err := cache.NewClient(ctx, cache.Config{
			Host:         cfg.Redis.Host,
			Port:         cfg.Redis.Port,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			MaxPoolSize:  cfg.Redis.MaxPoolSize,
			ConnTimeout:  cfg.Redis.ConnTimeout,
			ReadTimeout:  cfg.Redis.ReadTimeout,
			WriteTimeout: cfg.Redis.WriteTimeout,
			MaxAttempts:  5,
		})
		if err != nil {
			return nil, nil, nil, err
		}
		store := redisstore.NewKVStore(client, cfg.ServiceName+":", 0)
		return store, client, func() { client.Close() }, nil

	case config.BackendMySQL:
		database, err := db.Init(ctx, db.Config{
			Driver:             cfg.Database.Driver,
			DSN:                cfg.Database.DSN,
			MaxOpenConns:       cfg.Database.MaxOpenConns,
			MaxIdleConns:       cfg.Database.MaxIdleConns,
			ConnMaxLifetime:    cfg.Database.ConnMaxLifetime,
			LogEnabled:         cfg.Database.LogEnabled,
			SlowQueryThreshold: cfg.Database.SlowQueryThreshold,
			Tracing:            cfg.Tracing.Enabled,
		})
		if err != nil {
			return nil, nil, nil, err
		}
		store := mysql.NewKVStore(database.DB)
		if err := store.Migrate(ctx); err != nil {
			database.Close()
			return nil, nil, nil, fmt.Errorf("migrate kv_records: %w", err)
		}
		return store, nil, func() { database.Close() }, nil

	default:
		logger.Warn(ctx, "using in-memory store, carts will not survive restarts")
		return memory.NewKVStore(), nil, func() {}, nil
	}
}
