package metrics

import (
	"fmt"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"
)

var (
	// API 请求计数器
	apiRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "path", "status"},
	)

	// API 请求响应时间
	apiRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// 申请创建数
	requestsCreatedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "requests_created_total",
			Help: "Total number of requests created",
		},
		[]string{"kind"},
	)

	// 状态转换数
	transitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "request_transitions_total",
			Help: "Total number of request state transitions",
		},
		[]string{"kind", "to", "source"}, // source: user, sync
	)

	// 生成的单据数
	documentsGeneratedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "documents_generated_total",
			Help: "Total number of generated transfers and purchase orders",
		},
		[]string{"type"},
	)

	// 生成的序列号数
	serialsGeneratedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "serials_generated_total",
			Help: "Total number of serial numbers generated",
		},
		[]string{"type"},
	)

	// 扫描记录数
	serialMovementsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "serial_movements_total",
			Help: "Total number of serial movements by result",
		},
		[]string{"direction", "result"}, // result: accepted, rejected
	)

	// 轮询执行情况
	pollRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "poll_runs_total",
			Help: "Total number of synchronizer poll runs",
		},
		[]string{"result"},
	)

	pollRecordFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "poll_record_failures_total",
			Help: "Total number of records that failed during a poll run",
		},
	)

	// Webhook 推送
	webhookDeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_deliveries_total",
			Help: "Total number of webhook deliveries by result",
		},
		[]string{"result"},
	)

	// 数据库连接数
	databaseConnectionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "database_connections_active",
			Help: "Number of active database connections",
		},
	)

	databaseConnectionsIdle = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "database_connections_idle",
			Help: "Number of idle database connections",
		},
	)

	databaseConnectionsMax = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "database_connections_max",
			Help: "Maximum number of database connections",
		},
	)

	// 申请状态分布
	requestsByState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "requests_by_state",
			Help: "Number of requests by kind and state",
		},
		[]string{"kind", "state"},
	)
)

var (
	once sync.Once
)

func init() {
	prometheus.MustRegister(apiRequestsTotal)
	prometheus.MustRegister(apiRequestDuration)
	prometheus.MustRegister(requestsCreatedTotal)
	prometheus.MustRegister(transitionsTotal)
	prometheus.MustRegister(documentsGeneratedTotal)
	prometheus.MustRegister(serialsGeneratedTotal)
	prometheus.MustRegister(serialMovementsTotal)
	prometheus.MustRegister(pollRunsTotal)
	prometheus.MustRegister(pollRecordFailuresTotal)
	prometheus.MustRegister(webhookDeliveriesTotal)
	prometheus.MustRegister(databaseConnectionsActive)
	prometheus.MustRegister(databaseConnectionsIdle)
	prometheus.MustRegister(databaseConnectionsMax)
	prometheus.MustRegister(requestsByState)

	// Go 运行时指标只注册一次,已注册时忽略错误
	once.Do(func() {
		_ = prometheus.Register(prometheus.NewGoCollector())
		_ = prometheus.Register(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	})
}

// Handler 返回 Prometheus 指标处理器
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordAPIRequest 记录 API 请求
func RecordAPIRequest(method, path string, status int, duration float64) {
	statusText := http.StatusText(status)
	if statusText == "" {
		statusText = fmt.Sprintf("%d", status)
	}
	apiRequestsTotal.WithLabelValues(method, path, statusText).Inc()
	apiRequestDuration.WithLabelValues(method, path).Observe(duration)
}

// RecordRequestCreated 记录申请创建
func RecordRequestCreated(kind string) {
	requestsCreatedTotal.WithLabelValues(kind).Inc()
}

// RecordTransition 记录状态转换
func RecordTransition(kind, to, source string) {
	transitionsTotal.WithLabelValues(kind, to, source).Inc()
}

// RecordDocumentGenerated 记录单据生成
func RecordDocumentGenerated(docType string) {
	documentsGeneratedTotal.WithLabelValues(docType).Inc()
}

// RecordSerialsGenerated 记录序列号生成
func RecordSerialsGenerated(serialType string, count int) {
	serialsGeneratedTotal.WithLabelValues(serialType).Add(float64(count))
}

// RecordSerialMovement 记录扫描结果
func RecordSerialMovement(direction string, accepted bool) {
	result := "accepted"
	if !accepted {
		result = "rejected"
	}
	serialMovementsTotal.WithLabelValues(direction, result).Inc()
}

// RecordPollRun 记录一次轮询,failures 为失败的记录数
func RecordPollRun(failures int) {
	result := "success"
	if failures > 0 {
		result = "partial"
	}
	pollRunsTotal.WithLabelValues(result).Inc()
	pollRecordFailuresTotal.Add(float64(failures))
}

// RecordWebhookDelivery 记录 Webhook 推送结果
func RecordWebhookDelivery(success bool) {
	result := "success"
	if !success {
		result = "failed"
	}
	webhookDeliveriesTotal.WithLabelValues(result).Inc()
}

// UpdateDatabaseConnections 更新数据库连接数指标
func UpdateDatabaseConnections(db *gorm.DB) error {
	if db == nil {
		return fmt.Errorf("database connection is nil")
	}

	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get sql.DB: %w", err)
	}

	stats := sqlDB.Stats()
	databaseConnectionsActive.Set(float64(stats.OpenConnections - stats.Idle))
	databaseConnectionsIdle.Set(float64(stats.Idle))
	databaseConnectionsMax.Set(float64(stats.MaxOpenConnections))

	return nil
}

// UpdateRequestsByState 更新申请状态分布指标
func UpdateRequestsByState(kind, state string, count float64) {
	requestsByState.WithLabelValues(kind, state).Set(count)
}
