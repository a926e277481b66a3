package service

import (
	"context"
	"fmt"
)

// ApprovalAction 需要授权的审批动作
type ApprovalAction string

const (
	ActionApproveBranchRequest      ApprovalAction = "branch_request.approve"
	ActionApproveTransferRequest    ApprovalAction = "transfer_request.approve"
	ActionOfficerApproveRequisition ApprovalAction = "requisition.officer_approve"
)

// PermissionChecker 关系授权检查（OpenFGA 客户端实现）
type PermissionChecker interface {
	CheckPermission(ctx context.Context, userID string, relation string, objectType string, objectID string) (bool, error)
}

// ApproverPolicy 判断操作人能否在指定范围（分支、部门）执行审批动作
type ApproverPolicy interface {
	CanApprove(ctx context.Context, actor Actor, action ApprovalAction, scopeID string) (bool, error)
}

// RolePolicy 基于 Keycloak 角色的审批策略
type RolePolicy struct {
	roles map[ApprovalAction]string
}

// NewRolePolicy 创建角色审批策略
func NewRolePolicy(roles map[ApprovalAction]string) *RolePolicy {
	return &RolePolicy{roles: roles}
}

// CanApprove 操作人拥有动作对应的角色即可审批
func (p *RolePolicy) CanApprove(ctx context.Context, actor Actor, action ApprovalAction, scopeID string) (bool, error) {
	role, ok := p.roles[action]
	if !ok {
		return false, nil
	}
	return actor.HasRole(role), nil
}

// FGAPolicy 基于 OpenFGA 关系的审批策略
// 分支审批检查 user approver branch:<id>,采购审批检查 user officer department:<id>
type FGAPolicy struct {
	checker PermissionChecker
}

// NewFGAPolicy 创建 OpenFGA 审批策略
func NewFGAPolicy(checker PermissionChecker) *FGAPolicy {
	return &FGAPolicy{checker: checker}
}

// CanApprove 查询 OpenFGA 关系
func (p *FGAPolicy) CanApprove(ctx context.Context, actor Actor, action ApprovalAction, scopeID string) (bool, error) {
	var relation, objectType string
	switch action {
	case ActionApproveBranchRequest:
		relation, objectType = "approver", "branch"
	case ActionApproveTransferRequest:
		relation, objectType = "stock_manager", "branch"
	case ActionOfficerApproveRequisition:
		relation, objectType = "officer", "department"
	default:
		return false, nil
	}
	allowed, err := p.checker.CheckPermission(ctx, actor.ID, relation, objectType, scopeID)
	if err != nil {
		return false, fmt.Errorf("failed to check approver permission: %w", err)
	}
	return allowed, nil
}

// AnyPolicy 任一策略允许即可
type AnyPolicy []ApproverPolicy

// CanApprove 依次检查各策略
func (p AnyPolicy) CanApprove(ctx context.Context, actor Actor, action ApprovalAction, scopeID string) (bool, error) {
	for _, policy := range p {
		ok, err := policy.CanApprove(ctx, actor, action, scopeID)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}
