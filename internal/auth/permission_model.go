package auth

// GetPermissionModel 获取 OpenFGA 权限模型定义
// 分支经理默认拥有审批与库管权限,部门采购专员由显式关系授予
func GetPermissionModel() string {
	return `model
  schema 1.1

type user

type branch
  relations
    define manager: [user]
    define approver: [user] or manager
    define stock_manager: [user] or manager
    define viewer: [user] or approver or stock_manager

type department
  relations
    define manager: [user]
    define officer: [user]
    define member: [user] or manager or officer`
}
