package container

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mautops/branch-ops/internal/api"
	"github.com/mautops/branch-ops/internal/auth"
	"github.com/mautops/branch-ops/internal/config"
	"github.com/mautops/branch-ops/internal/database"
	"github.com/mautops/branch-ops/internal/integration"
	"github.com/mautops/branch-ops/internal/metrics"
	"github.com/mautops/branch-ops/internal/service"
	"github.com/mautops/branch-ops/internal/storage"
	"github.com/mautops/branch-ops/internal/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// metricsInterval 状态分布指标的采集间隔
const metricsInterval = 30 * time.Second

// Container 依赖注入容器
// 管理数据库、外部客户端、领域服务和后台任务
type Container struct {
	cfg *config.Config

	db        *gorm.DB
	redis     *redis.Client
	fgaClient *auth.OpenFGAClient
	validator auth.TokenValidator
	hub       *websocket.Hub
	notifier  *integration.Notifier
	collector *metrics.Collector

	permissions auth.PermissionChecker
	services    api.Services
	poller      *service.RequestPoller

	started   bool
	closeOnce sync.Once
}

// NewContainer 创建依赖注入容器
// Redis、OpenFGA 和 Keycloak 未配置时分别退化为进程内锁、角色审批和请求头身份
func NewContainer(ctx context.Context, cfg *config.Config) (*Container, error) {
	c := &Container{cfg: cfg}

	// 1. 数据库（带重试机制）
	db, err := database.ConnectWithRetry(ctx, cfg.Database, 3, time.Second)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	c.db = db
	if err := database.Migrate(db); err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	// 2. 序列号锁
	locker := service.NewLocalLocker()
	if cfg.Redis.Addr != "" {
		rdb, err := database.ConnectRedis(ctx, cfg.Redis, 3, time.Second)
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("failed to initialize redis: %w", err)
		}
		c.redis = rdb
		locker = service.NewRedisLocker(rdb, cfg.Serial.LockTTL, cfg.Serial.LockWait)
	} else {
		logrus.Warn("redis not configured, serial generation uses an in-process lock")
	}

	// 3. 实时推送与事件通知
	c.hub = websocket.NewHub()
	c.notifier = integration.NewNotifier(db, cfg.Notification, c.hub)

	// 4. OpenFGA
	policy := service.ApproverPolicy(service.NewRolePolicy(map[service.ApprovalAction]string{
		service.ActionApproveBranchRequest:      cfg.Workflow.BranchApproverRole,
		service.ActionApproveTransferRequest:    cfg.Workflow.StockManagerRole,
		service.ActionOfficerApproveRequisition: cfg.Workflow.ProcurementOfficerRole,
	}))
	var relations service.RelationWriter
	if cfg.OpenFGA.StoreID != "" {
		fgaClient, err := auth.NewOpenFGAClientWithRetry(cfg.OpenFGA.APIURL, cfg.OpenFGA.StoreID, cfg.OpenFGA.ModelID, 3, time.Second)
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("failed to initialize OpenFGA client: %w", err)
		}
		c.fgaClient = fgaClient
		cached := auth.NewCachedOpenFGAClient(fgaClient, auth.NewPermissionCache(cfg.Workflow.PermissionCacheTTL))
		c.permissions = cached
		relations = cached
		if cfg.Workflow.UseOpenFGAForApprovers {
			policy = service.AnyPolicy{policy, service.NewFGAPolicy(cached)}
		}
	}

	// 5. Keycloak
	if cfg.Keycloak.Issuer != "" {
		c.validator = auth.NewKeycloakTokenValidator(cfg.Keycloak.Issuer, cfg.Keycloak.JWKSURL, cfg.Keycloak.CompanyClaim)
	} else {
		logrus.Warn("keycloak issuer not configured, actors are read from X-User-* headers")
	}

	// 6. 报表归档存储
	store, err := storage.New(ctx, cfg.Storage)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	// 7. 领域服务
	clock := service.SystemClock
	audit := service.NewAuditLogService(db)
	sequences := service.NewSequenceGenerator(db)
	synchronizer := service.NewStatusSynchronizer(db, audit, clock, c.notifier)
	serials := service.NewSerialService(db, cfg.Serial, sequences, locker, audit, clock, c.notifier)
	documents := service.NewDocumentService(db, sequences, synchronizer, audit, clock, c.notifier, serials)
	branches := service.NewBranchRequestService(db, sequences, documents, policy, audit, clock, c.notifier)
	transfers := service.NewTransferRequestService(db, sequences, documents, policy, audit, clock, c.notifier)
	requisitions := service.NewRequisitionService(db, sequences, documents, policy, audit, clock, c.notifier)

	c.services = api.Services{
		Branches:     branches,
		Transfers:    transfers,
		Requisitions: requisitions,
		Documents:    documents,
		Serials:      serials,
		Catalog:      service.NewCatalogService(db, sequences, audit, clock, relations, cfg.Security.EncryptionKey),
		Reports:      service.NewReportService(serials, branches, transfers, requisitions, store, clock),
		Query:        service.NewQueryService(db, audit),
		Statistics:   service.NewStatisticsService(db),
	}

	// 8. 后台任务
	c.poller = service.NewRequestPoller(db, synchronizer, cfg.Workflow.PollInterval)
	c.collector = metrics.NewCollector(db, metricsInterval)

	return c, nil
}

// RouterOptions 路由需要的基础设施
func (c *Container) RouterOptions() api.RouterOptions {
	return api.RouterOptions{
		Config:      c.cfg,
		DB:          c.db,
		Redis:       c.redis,
		FGA:         c.fgaClient,
		Permissions: c.permissions,
		Validator:   c.validator,
		Hub:         c.hub,
	}
}

// Services 获取领域服务
func (c *Container) Services() api.Services {
	return c.services
}

// DB 获取数据库连接
func (c *Container) DB() *gorm.DB {
	return c.db
}

// Poller 获取申请状态轮询器
func (c *Container) Poller() *service.RequestPoller {
	return c.poller
}

// Start 启动后台任务,并补发上次退出时未完成推送的事件
func (c *Container) Start(ctx context.Context) {
	c.started = true
	go c.hub.Run()
	c.collector.Start()
	c.poller.Start()

	n, err := c.notifier.RetryPending(ctx, 1000)
	if err != nil {
		logrus.WithError(err).Warn("failed to requeue pending events")
	} else if n > 0 {
		logrus.WithField("count", n).Info("requeued pending events")
	}
}

// Close 停止后台任务并释放连接
func (c *Container) Close() error {
	c.closeOnce.Do(func() {
		if c.started {
			c.poller.Stop()
			c.collector.Stop()
			c.hub.Stop()
		}
		if c.notifier != nil {
			c.notifier.Stop()
		}
		if c.redis != nil {
			if err := c.redis.Close(); err != nil {
				logrus.WithError(err).Warn("failed to close redis client")
			}
		}
		if c.db != nil {
			sqlDB, err := c.db.DB()
			if err == nil {
				sqlDB.Close()
			}
		}
	})
	return nil
}
