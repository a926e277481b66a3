package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// FGAHealthChecker OpenFGA 健康检查
type FGAHealthChecker interface {
	CheckHealth(ctx context.Context) bool
}

// HealthController 健康检查控制器
type HealthController struct {
	db        *gorm.DB
	redis     *redis.Client
	fgaClient FGAHealthChecker
}

// NewHealthController 创建健康检查控制器,redis 和 fgaClient 可以为空
func NewHealthController(db *gorm.DB, rdb *redis.Client, fgaClient FGAHealthChecker) *HealthController {
	return &HealthController{
		db:        db,
		redis:     rdb,
		fgaClient: fgaClient,
	}
}

// Check 健康检查
func (c *HealthController) Check(ctx *gin.Context) {
	reqCtx, cancel := context.WithTimeout(ctx.Request.Context(), 5*time.Second)
	defer cancel()

	status := "healthy"
	checks := make(map[string]string)

	if c.db != nil {
		if err := c.checkDatabase(reqCtx); err != nil {
			status = "unhealthy"
			checks["database"] = "unhealthy: " + err.Error()
		} else {
			checks["database"] = "healthy"
		}
	} else {
		checks["database"] = "not configured"
	}

	// Redis 只用于分布式锁,不可用时降级而不是下线
	if c.redis != nil {
		if err := c.redis.Ping(reqCtx).Err(); err != nil {
			if status == "healthy" {
				status = "degraded"
			}
			checks["redis"] = "unhealthy: " + err.Error()
		} else {
			checks["redis"] = "healthy"
		}
	} else {
		checks["redis"] = "not configured"
	}

	if c.fgaClient != nil {
		if !c.fgaClient.CheckHealth(reqCtx) {
			if status == "healthy" {
				status = "degraded"
			}
			checks["openfga"] = "unhealthy"
		} else {
			checks["openfga"] = "healthy"
		}
	} else {
		checks["openfga"] = "not configured"
	}

	httpStatus := http.StatusOK
	if status == "unhealthy" {
		httpStatus = http.StatusServiceUnavailable
	}

	ctx.JSON(httpStatus, gin.H{
		"status":    status,
		"timestamp": time.Now().Unix(),
		"checks":    checks,
	})
}

// checkDatabase 检查数据库连接
func (c *HealthController) checkDatabase(ctx context.Context) error {
	sqlDB, err := c.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}
