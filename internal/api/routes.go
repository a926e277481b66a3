package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mautops/branch-ops/internal/auth"
	"github.com/mautops/branch-ops/internal/config"
	"github.com/mautops/branch-ops/internal/service"
	"github.com/mautops/branch-ops/internal/websocket"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Services 路由需要的领域服务
type Services struct {
	Branches     service.BranchRequestService
	Transfers    service.TransferRequestService
	Requisitions service.RequisitionService
	Documents    service.DocumentService
	Serials      service.SerialService
	Catalog      service.CatalogService
	Reports      service.ReportService
	Query        service.QueryService
	Statistics   service.StatisticsService
}

// RouterOptions 基础设施依赖,除 DB 外均可为空
type RouterOptions struct {
	Config      *config.Config
	DB          *gorm.DB
	Redis       *redis.Client
	FGA         *auth.OpenFGAClient
	Permissions auth.PermissionChecker // 非空时维护分支库位需要 manager 关系
	Validator   auth.TokenValidator
	Hub         *websocket.Hub
}

// SetupRoutes 配置中间件和路由
func SetupRoutes(opts RouterOptions, svc Services) *gin.Engine {
	cfg := opts.Config
	if cfg == nil {
		cfg = &config.Config{}
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(RequestIDMiddleware())
	router.Use(RequestLogMiddleware())
	if cfg.Server.ForceHTTPS {
		router.Use(HTTPSRedirectMiddleware())
	}
	router.Use(SecurityHeadersMiddleware(cfg.Server.ForceHTTPS))
	router.Use(CORSMiddleware(cfg.CORS))
	if cfg.Tracing.Enabled {
		router.Use(TracingMiddleware(cfg.Tracing.ServiceName))
	}
	if cfg.RateLimit.Enabled {
		router.Use(RateLimitMiddleware(cfg.RateLimit.RPS, cfg.RateLimit.Burst))
	}

	var fga FGAHealthChecker
	if opts.FGA != nil {
		fga = opts.FGA
	}
	health := NewHealthController(opts.DB, opts.Redis, fga)
	router.GET("/health", health.Check)
	router.GET("/metrics", MetricsHandler)

	if opts.Hub != nil && opts.Validator != nil {
		router.GET("/ws/requests", websocket.WebSocketHandler(opts.Hub, opts.Validator, cfg.CORS.AllowedOrigins))
	}

	v1 := router.Group("/api/v1")
	if opts.Validator != nil {
		v1.Use(auth.KeycloakAuthMiddleware(opts.Validator), ActorMiddleware())
	} else {
		v1.Use(HeaderActorMiddleware())
	}

	registerCatalogRoutes(v1, NewCatalogController(svc.Catalog), opts.Permissions)
	registerRequestRoutes(v1, svc)
	registerDocumentRoutes(v1, NewDocumentController(svc.Documents, svc.Serials))
	registerSerialRoutes(v1, NewSerialController(svc.Serials))

	reports := NewReportController(svc.Reports)
	v1.GET("/reports/serials", reports.ExportSerials)
	v1.POST("/reports/serials/archive", reports.ArchiveSerials)
	v1.GET("/reports/requests/:kind", reports.ExportRequests)

	query := NewQueryController(svc.Query, svc.Statistics)
	v1.GET("/audit-logs", query.ListAuditLogs)
	v1.GET("/statistics/requests", query.RequestsByState)
	v1.GET("/statistics/requests/:kind/dates", query.RequestsByDate)
	v1.GET("/statistics/serials", query.SerialsByStatus)

	router.NoRoute(func(c *gin.Context) {
		Error(c, http.StatusNotFound, "route not found", "the requested route does not exist")
	})

	return router
}

func registerCatalogRoutes(v1 *gin.RouterGroup, c *CatalogController, permissions auth.PermissionChecker) {
	branches := v1.Group("/branches")
	{
		branches.POST("", c.CreateBranch)
		branches.GET("", c.ListBranches)
		branches.PUT("/:id/manager", c.SetBranchManager)
		branches.GET("/:id/locations", c.ListLocations)
		if permissions != nil {
			branches.POST("/:id/locations", auth.PermissionMiddleware(permissions, "branch", "manager", "id"), c.AddLocation)
		} else {
			branches.POST("/:id/locations", c.AddLocation)
		}
	}

	v1.POST("/departments", c.CreateDepartment)
	v1.GET("/departments", c.ListDepartments)

	products := v1.Group("/products")
	{
		products.POST("", c.CreateProduct)
		products.GET("", c.ListProducts)
		products.GET("/barcode/:barcode", c.LookupByBarcode)
		products.GET("/:id", c.GetProduct)
	}

	partners := v1.Group("/partners")
	{
		partners.POST("", c.CreatePartner)
		partners.GET("", c.ListPartners)
		partners.GET("/:id", c.GetPartner)
		partners.PUT("/:id/supplier-status", c.SetSupplierStatus)
		partners.POST("/:id/verify-national-id", c.VerifyNationalID)
	}
}

func registerRequestRoutes(v1 *gin.RouterGroup, svc Services) {
	br := NewBranchRequestController(svc.Branches)
	branchRequests := v1.Group("/branch-requests")
	{
		branchRequests.POST("", br.Create)
		branchRequests.GET("", br.List)
		branchRequests.GET("/:id", br.Get)
		branchRequests.PUT("/:id/lines", br.UpdateLines)
		branchRequests.POST("/:id/submit", br.Submit)
		branchRequests.POST("/:id/approve", br.Approve)
		branchRequests.POST("/:id/reject", br.Reject)
		branchRequests.POST("/:id/cancel", br.Cancel)
		branchRequests.POST("/:id/reset", br.Reset)
		branchRequests.GET("/:id/history", br.History)
	}

	tr := NewTransferRequestController(svc.Transfers)
	transferRequests := v1.Group("/transfer-requests")
	{
		transferRequests.POST("", tr.Create)
		transferRequests.GET("", tr.List)
		transferRequests.GET("/:id", tr.Get)
		transferRequests.PUT("/:id/lines", tr.UpdateLines)
		transferRequests.POST("/:id/submit", tr.Submit)
		transferRequests.POST("/:id/approve", tr.Approve)
		transferRequests.POST("/:id/reject", tr.Reject)
		transferRequests.POST("/:id/cancel", tr.Cancel)
		transferRequests.POST("/:id/put-away", tr.PutAway)
		transferRequests.POST("/:id/reset", tr.Reset)
		transferRequests.GET("/:id/history", tr.History)
	}

	rq := NewRequisitionController(svc.Requisitions)
	requisitions := v1.Group("/requisitions")
	{
		requisitions.POST("", rq.Create)
		requisitions.GET("", rq.List)
		requisitions.GET("/:id", rq.Get)
		requisitions.POST("/:id/submit", rq.Submit)
		requisitions.POST("/:id/officer-approve", rq.OfficerApprove)
		requisitions.POST("/:id/approve", rq.Approve)
		requisitions.POST("/:id/reject", rq.Reject)
		requisitions.POST("/:id/cancel", rq.Cancel)
		requisitions.POST("/:id/reset", rq.Reset)
		requisitions.POST("/:id/purchase-order", rq.CreatePurchaseOrder)
		requisitions.GET("/:id/history", rq.History)
	}
}

func registerDocumentRoutes(v1 *gin.RouterGroup, c *DocumentController) {
	transfers := v1.Group("/transfers")
	{
		transfers.GET("/:id", c.GetTransfer)
		transfers.POST("/:id/dispatch", c.Dispatch)
		transfers.POST("/:id/receive", c.Receive)
		transfers.POST("/:id/validate", c.Validate)
		transfers.POST("/:id/cancel", c.CancelTransfer)
		transfers.GET("/:id/scan-status", c.ScanStatus)
		transfers.POST("/:id/labels", c.Labels)
	}

	orders := v1.Group("/purchase-orders")
	{
		orders.GET("/:id", c.GetPurchaseOrder)
		orders.POST("/:id/confirm", c.ConfirmPurchaseOrder)
		orders.POST("/:id/cancel", c.CancelPurchaseOrder)
	}
}

func registerSerialRoutes(v1 *gin.RouterGroup, c *SerialController) {
	serials := v1.Group("/serials")
	{
		serials.POST("", c.Generate)
		serials.GET("", c.List)
		serials.GET("/preview", c.Preview)
		serials.GET("/:code", c.Get)
		serials.GET("/:code/qr", c.QRCode)
		serials.GET("/:code/movements", c.Movements)
	}
	v1.POST("/serial-movements", c.RecordMovement)
}
