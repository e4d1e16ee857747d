// Package config 提供 TOML 配置加载、环境变量覆盖与校验
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// 购物车持久化后端
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendMySQL  = "mysql"
)

// Config 基础配置结构
type Config struct {
	// 服务名称
	ServiceName string `mapstructure:"service_name"`
	// 服务版本
	Version string `mapstructure:"version"`
	// 环境：dev, staging, prod
	Environment string `mapstructure:"environment"`
	// HTTP 服务配置
	HTTP HTTPConfig `mapstructure:"http"`
	// gRPC 服务配置
	GRPC GRPCConfig `mapstructure:"grpc"`
	// 数据库配置
	Database DatabaseConfig `mapstructure:"database"`
	// Redis 配置
	Redis RedisConfig `mapstructure:"redis"`
	// Kafka 配置
	Kafka KafkaConfig `mapstructure:"kafka"`
	// 日志配置
	Logger LoggerConfig `mapstructure:"logger"`
	// 追踪配置
	Tracing TracingConfig `mapstructure:"tracing"`
	// 指标配置
	Metrics MetricsConfig `mapstructure:"metrics"`
	// 购物车配置
	Cart CartConfig `mapstructure:"cart"`
	// 会话配置
	Session SessionConfig `mapstructure:"session"`
	// 结算配置
	Checkout CheckoutConfig `mapstructure:"checkout"`
	// 限流配置
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
}

// HTTPConfig HTTP 服务配置
type HTTPConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"read_timeout"`
	WriteTimeout int    `mapstructure:"write_timeout"`
}

// GRPCConfig gRPC 服务配置（仅承载健康检查）
type GRPCConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	// 驱动：目前仅支持 mysql
	Driver string `mapstructure:"driver"`
	// 数据源名称
	DSN string `mapstructure:"dsn"`
	// 最大连接数
	MaxOpenConns int `mapstructure:"max_open_conns"`
	// 最大空闲连接数
	MaxIdleConns int `mapstructure:"max_idle_conns"`
	// 连接最大生命周期（秒）
	ConnMaxLifetime int `mapstructure:"conn_max_lifetime"`
	// 是否启用日志
	LogEnabled bool `mapstructure:"log_enabled"`
	// 慢查询阈值（毫秒）
	SlowQueryThreshold int `mapstructure:"slow_query_threshold"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Password     string `mapstructure:"password"`
	DB           int    `mapstructure:"db"`
	MaxPoolSize  int    `mapstructure:"max_pool_size"`
	ConnTimeout  int    `mapstructure:"conn_timeout"`
	ReadTimeout  int    `mapstructure:"read_timeout"`
	WriteTimeout int    `mapstructure:"write_timeout"`
}

// KafkaConfig Kafka 配置，Brokers 为空时不发布购物车事件
type KafkaConfig struct {
	Brokers      []string `mapstructure:"brokers"`
	Topic        string   `mapstructure:"topic"`
	MaxRetries   int      `mapstructure:"max_retries"`
	RetryBackoff int      `mapstructure:"retry_backoff"`
}

// LoggerConfig 日志配置
type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	FilePath   string `mapstructure:"file_path"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
	WithCaller bool   `mapstructure:"with_caller"`
}

// TracingConfig 追踪配置
type TracingConfig struct {
	Enabled           bool    `mapstructure:"enabled"`
	CollectorEndpoint string  `mapstructure:"collector_endpoint"`
	SamplingRate      float64 `mapstructure:"sampling_rate"`
}

// MetricsConfig 指标配置
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// CartConfig 购物车存储配置
type CartConfig struct {
	// 持久化后端：memory, redis, mysql
	Backend string `mapstructure:"backend"`
	// 身份键前缀
	KeyPrefix string `mapstructure:"key_prefix"`
	// 单次持久化超时（毫秒）
	SaveTimeoutMS int `mapstructure:"save_timeout_ms"`
	// 登出时是否清空该用户的购物车
	ClearOnLogout bool `mapstructure:"clear_on_logout"`
}

// SaveTimeout 单次持久化超时
func (c CartConfig) SaveTimeout() time.Duration {
	return time.Duration(c.SaveTimeoutMS) * time.Millisecond
}

// SessionConfig 会话配置
type SessionConfig struct {
	// 用于校验访问令牌的 HMAC 密钥，为空时只解析不校验
	JWTSecret string `mapstructure:"jwt_secret"`
}

// CheckoutConfig 结算配置
type CheckoutConfig struct {
	TaxRate     string `mapstructure:"tax_rate"`
	ShippingFee string `mapstructure:"shipping_fee"`
	OrderAPIURL string `mapstructure:"order_api_url"`
	TimeoutMS   int    `mapstructure:"timeout_ms"`
	// 连续失败多少次后熔断订单服务调用
	BreakerMaxFailures int `mapstructure:"breaker_max_failures"`
	// 熔断打开持续时间（秒）
	BreakerOpenSeconds int `mapstructure:"breaker_open_seconds"`
}

// Timeout 订单服务调用超时
func (c CheckoutConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMS) * time.Millisecond
}

// RateLimitConfig HTTP 限流配置，按客户端 IP 计数
type RateLimitConfig struct {
	Enabled bool `mapstructure:"enabled"`
	QPS     int  `mapstructure:"qps"`
	Burst   int  `mapstructure:"burst"`
}

// Load 从 TOML 文件加载配置，支持环境变量覆盖；文件不存在时使用默认值
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.Is(err, fs.ErrNotExist) && !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	// 设置环境变量前缀，APP_CART_BACKEND 覆盖 cart.backend
	v.SetEnvPrefix("APP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// Validate 验证配置的有效性
func (c *Config) Validate() error {
	if c.ServiceName == "" {
		return fmt.Errorf("service_name is required")
	}
	if c.Environment == "" {
		c.Environment = "dev"
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTP.Port)
	}
	if c.GRPC.Port <= 0 || c.GRPC.Port > 65535 {
		return fmt.Errorf("invalid gRPC port: %d", c.GRPC.Port)
	}
	switch c.Cart.Backend {
	case BackendMemory, BackendRedis:
	case BackendMySQL:
		if c.Database.DSN == "" {
			return fmt.Errorf("database DSN is required for %s backend", c.Cart.Backend)
		}
	default:
		return fmt.Errorf("unsupported cart backend: %q", c.Cart.Backend)
	}
	if c.Cart.KeyPrefix == "" {
		return fmt.Errorf("cart.key_prefix is required")
	}
	return nil
}

// setDefaults 设置默认值
func setDefaults(v *viper.Viper) {
	v.SetDefault("service_name", "cart")
	v.SetDefault("version", "v1.0.0")
	v.SetDefault("environment", "dev")

	v.SetDefault("http.host", "0.0.0.0")
	v.SetDefault("http.port", 8080)
	v.SetDefault("http.read_timeout", 30)
	v.SetDefault("http.write_timeout", 30)

	v.SetDefault("grpc.host", "0.0.0.0")
	v.SetDefault("grpc.port", 50051)

	v.SetDefault("database.driver", "mysql")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 300)
	v.SetDefault("database.log_enabled", false)
	v.SetDefault("database.slow_query_threshold", 1000)

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.max_pool_size", 10)
	v.SetDefault("redis.conn_timeout", 5)
	v.SetDefault("redis.read_timeout", 3)
	v.SetDefault("redis.write_timeout", 3)

	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic", "cart-events")
	v.SetDefault("kafka.max_retries", 3)
	v.SetDefault("kafka.retry_backoff", 100)

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "json")
	v.SetDefault("logger.output", "stdout")
	v.SetDefault("logger.file_path", "logs/cart.log")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 10)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.with_caller", true)

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.collector_endpoint", "localhost:4317")
	v.SetDefault("tracing.sampling_rate", 1.0)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")

	v.SetDefault("cart.backend", BackendMemory)
	v.SetDefault("cart.key_prefix", "cart_")
	v.SetDefault("cart.save_timeout_ms", 3000)
	v.SetDefault("cart.clear_on_logout", false)

	v.SetDefault("session.jwt_secret", "")

	v.SetDefault("checkout.tax_rate", "0.12")
	v.SetDefault("checkout.shipping_fee", "50")
	v.SetDefault("checkout.order_api_url", "http://localhost:5000")
	v.SetDefault("checkout.timeout_ms", 10000)
	v.SetDefault("checkout.breaker_max_failures", 5)
	v.SetDefault("checkout.breaker_open_seconds", 30)

	v.SetDefault("rate_limit.enabled", false)
	v.SetDefault("rate_limit.qps", 20)
	v.SetDefault("rate_limit.burst", 40)
}

// GetEnv 获取环境变量，支持默认值
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
