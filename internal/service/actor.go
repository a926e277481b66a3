package service

import (
	"context"
	"time"
)

// SystemActorID 后台任务（轮询、同步）使用的操作人
const SystemActorID = "system"

// Actor 当前操作人,由认证中间件根据 token 构建
type Actor struct {
	ID        string
	Name      string
	Roles     []string
	CompanyID string
}

// HasRole 是否拥有指定角色
func (a Actor) HasRole(role string) bool {
	if role == "" {
		return false
	}
	for _, r := range a.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// IsSystem 是否为系统操作人
func (a Actor) IsSystem() bool {
	return a.ID == SystemActorID
}

// SystemActor 返回系统操作人,CompanyID 为空表示不限公司
func SystemActor() Actor {
	return Actor{ID: SystemActorID, Name: "System"}
}

// ownsCompany 记录是否属于操作人所在公司
func (a Actor) ownsCompany(companyID string) bool {
	return a.CompanyID == "" || a.CompanyID == companyID
}

// Clock 时间来源
type Clock interface {
	Now() time.Time
}

// ClockFunc 函数形式的 Clock
type ClockFunc func() time.Time

// Now 返回当前时间
func (f ClockFunc) Now() time.Time {
	return f()
}

// SystemClock 系统时间
var SystemClock Clock = ClockFunc(time.Now)

type ctxKey string

const (
	ctxKeyRequestID ctxKey = "request_id"
	ctxKeyClientIP  ctxKey = "ip"
)

// WithRequestMeta 把请求 ID 和客户端 IP 写入 context,供审计日志使用
func WithRequestMeta(ctx context.Context, requestID, ip string) context.Context {
	ctx = context.WithValue(ctx, ctxKeyRequestID, requestID)
	return context.WithValue(ctx, ctxKeyClientIP, ip)
}

// GetRequestID 从 context 获取请求 ID
func GetRequestID(ctx context.Context) string {
	if v, ok := ctx.Value(ctxKeyRequestID).(string); ok {
		return v
	}
	return ""
}

// GetClientIP 从 context 获取客户端 IP
func GetClientIP(ctx context.Context) string {
	if v, ok := ctx.Value(ctxKeyClientIP).(string); ok {
		return v
	}
	return ""
}
