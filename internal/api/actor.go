package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/mautops/branch-ops/internal/auth"
	"github.com/mautops/branch-ops/internal/service"
)

const actorKey = "actor"

// ActorMiddleware 根据 Keycloak claims 构建操作人,必须放在 KeycloakAuthMiddleware 之后
func ActorMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := auth.ClaimsFromContext(c)
		if !ok {
			Error(c, http.StatusUnauthorized, "unauthenticated", "")
			c.Abort()
			return
		}
		name := claims.Name
		if name == "" {
			name = claims.PreferredUsername
		}
		c.Set(actorKey, service.Actor{
			ID:        claims.Sub,
			Name:      name,
			Roles:     claims.RealmAccess.Roles,
			CompanyID: claims.CompanyID,
		})
		c.Next()
	}
}

// HeaderActorMiddleware 开发环境未配置 Keycloak 时从请求头读取操作人
// X-User-ID 必填,X-User-Roles 以逗号分隔
func HeaderActorMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := strings.TrimSpace(c.GetHeader("X-User-ID"))
		if userID == "" {
			Error(c, http.StatusUnauthorized, "missing X-User-ID header", "")
			c.Abort()
			return
		}
		var roles []string
		for _, r := range strings.Split(c.GetHeader("X-User-Roles"), ",") {
			if r = strings.TrimSpace(r); r != "" {
				roles = append(roles, r)
			}
		}
		c.Set("user_id", userID)
		c.Set(actorKey, service.Actor{
			ID:        userID,
			Name:      c.GetHeader("X-User-Name"),
			Roles:     roles,
			CompanyID: c.GetHeader("X-Company-ID"),
		})
		c.Next()
	}
}

// actorFrom 返回当前操作人
func actorFrom(c *gin.Context) service.Actor {
	if v, ok := c.Get(actorKey); ok {
		if actor, ok := v.(service.Actor); ok {
			return actor
		}
	}
	return service.Actor{}
}

// requestContext 附带请求 ID 和客户端 IP,供审计日志使用
func requestContext(c *gin.Context) context.Context {
	return service.WithRequestMeta(c.Request.Context(), c.GetString("request_id"), c.ClientIP())
}
