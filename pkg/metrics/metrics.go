// Package metrics 提供 Prometheus 指标定义与采集器
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 购物车加载结果
const (
	LoadHit     = "hit"
	LoadMiss    = "miss"
	LoadCorrupt = "corrupt"
	LoadError   = "error"
	LoadPending = "pending"
)

// Metrics 指标集合
type Metrics struct {
	// HTTP 请求计数
	HTTPRequestsTotal *prometheus.CounterVec
	// HTTP 请求耗时
	HTTPRequestDuration *prometheus.HistogramVec

	// 购物车变更计数（add/decrease/clear）
	CartMutationsTotal *prometheus.CounterVec
	// 购物车加载计数
	CartLoadsTotal *prometheus.CounterVec
	// 当前购物车行数
	CartLines prometheus.Gauge

	// 持久化存储操作计数
	StoreOpsTotal *prometheus.CounterVec
	// 持久化存储操作耗时
	StoreOpDuration *prometheus.HistogramVec
	// 被合并（未写入）的快照数
	SavesCoalescedTotal prometheus.Counter

	// 下单计数
	CheckoutTotal *prometheus.CounterVec
}

// New 创建指标实例
func New(serviceName string) *Metrics {
	return &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "jewelry",
			Subsystem: serviceName,
			Name:      "http_requests_total",
			Help:      "Total HTTP requests",
		}, []string{"method", "path", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "jewelry",
			Subsystem: serviceName,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),

		CartMutationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "jewelry",
			Subsystem: serviceName,
			Name:      "cart_mutations_total",
			Help:      "Total in-memory cart mutations",
		}, []string{"op"}),
		CartLoadsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "jewelry",
			Subsystem: serviceName,
			Name:      "cart_loads_total",
			Help:      "Total cart loads by result",
		}, []string{"result"}),
		CartLines: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "jewelry",
			Subsystem: serviceName,
			Name:      "cart_lines",
			Help:      "Number of lines in the active cart",
		}),

		StoreOpsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "jewelry",
			Subsystem: serviceName,
			Name:      "store_ops_total",
			Help:      "Total durable store operations",
		}, []string{"op", "result"}),
		StoreOpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "jewelry",
			Subsystem: serviceName,
			Name:      "store_op_duration_seconds",
			Help:      "Durable store operation duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
		SavesCoalescedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "jewelry",
			Subsystem: serviceName,
			Name:      "saves_coalesced_total",
			Help:      "Cart snapshots superseded before being written",
		}),

		CheckoutTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "jewelry",
			Subsystem: serviceName,
			Name:      "checkout_total",
			Help:      "Total checkout attempts by result",
		}, []string{"result"}),
	}
}

// Register 注册所有指标
func (m *Metrics) Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.CartMutationsTotal,
		m.CartLoadsTotal,
		m.CartLines,
		m.StoreOpsTotal,
		m.StoreOpDuration,
		m.SavesCoalescedTotal,
		m.CheckoutTotal,
	}

	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// Handler 返回 Prometheus 抓取处理器
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// Collector 指标收集器接口
type Collector interface {
	// 记录 HTTP 请求
	RecordHTTPRequest(method, path string, statusCode int, duration time.Duration)
	// 记录购物车变更
	RecordMutation(op string)
	// 记录购物车加载结果
	RecordLoad(result string)
	// 更新当前购物车行数
	SetCartLines(n int)
	// 记录持久化存储操作
	RecordStoreOp(op string, duration time.Duration, err error)
	// 记录被合并的快照
	RecordSaveCoalesced()
	// 记录下单结果
	RecordCheckout(result string)
}

// DefaultCollector 默认指标收集器实现
type DefaultCollector struct {
	metrics *Metrics
}

// NewCollector 创建默认指标收集器
func NewCollector(m *Metrics) *DefaultCollector {
	return &DefaultCollector{metrics: m}
}

// RecordHTTPRequest 记录 HTTP 请求
func (c *DefaultCollector) RecordHTTPRequest(method, path string, statusCode int, duration time.Duration) {
	c.metrics.HTTPRequestsTotal.WithLabelValues(method, path, strconv.Itoa(statusCode)).Inc()
	c.metrics.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordMutation 记录购物车变更
func (c *DefaultCollector) RecordMutation(op string) {
	c.metrics.CartMutationsTotal.WithLabelValues(op).Inc()
}

// RecordLoad 记录购物车加载结果
func (c *DefaultCollector) RecordLoad(result string) {
	c.metrics.CartLoadsTotal.WithLabelValues(result).Inc()
}

// SetCartLines 更新当前购物车行数
func (c *DefaultCollector) SetCartLines(n int) {
	c.metrics.CartLines.Set(float64(n))
}

// RecordStoreOp 记录持久化存储操作
func (c *DefaultCollector) RecordStoreOp(op string, duration time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	c.metrics.StoreOpsTotal.WithLabelValues(op, result).Inc()
	c.metrics.StoreOpDuration.WithLabelValues(op).Observe(duration.Seconds())
}

// RecordSaveCoalesced 记录被合并的快照
func (c *DefaultCollector) RecordSaveCoalesced() {
	c.metrics.SavesCoalescedTotal.Inc()
}

// RecordCheckout 记录下单结果
func (c *DefaultCollector) RecordCheckout(result string) {
	c.metrics.CheckoutTotal.WithLabelValues(result).Inc()
}

// NopCollector 不记录任何指标
type NopCollector struct{}

func (NopCollector) RecordHTTPRequest(string, string, int, time.Duration) {}
func (NopCollector) RecordMutation(string)                               {}
func (NopCollector) RecordLoad(string)                                   {}
func (NopCollector) SetCartLines(int)                                    {}
func (NopCollector) RecordStoreOp(string, time.Duration, error)          {}
func (NopCollector) RecordSaveCoalesced()                                {}
func (NopCollector) RecordCheckout(string)                               {}
