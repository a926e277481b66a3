package repository

import (
	"github.com/mautops/branch-ops/internal/model"
	"gorm.io/gorm"
)

// BranchRepository 分支及其仓库配置仓储接口
type BranchRepository interface {
	WithTx(tx *gorm.DB) BranchRepository
	SaveBranch(branch *model.BranchModel) error
	FindBranchByID(id string) (*model.BranchModel, error)
	FindBranchByCode(code string) (*model.BranchModel, error)
	ListBranches(companyID string) ([]*model.BranchModel, error)
	SaveLocation(location *model.LocationModel) error
	FindLocationByID(id string) (*model.LocationModel, error)
	FindDefaultLocation(branchID string, usage string) (*model.LocationModel, error)
	ListLocations(branchID string) ([]*model.LocationModel, error)
	SaveOperationType(opType *model.OperationTypeModel) error
	FindOperationType(branchID string, code string) (*model.OperationTypeModel, error)
	SaveDepartment(dept *model.DepartmentModel) error
	FindDepartmentByID(id string) (*model.DepartmentModel, error)
	ListDepartments(companyID string) ([]*model.DepartmentModel, error)
}

// branchRepository 分支仓储实现
type branchRepository struct {
	db *gorm.DB
}

// NewBranchRepository 创建分支仓储
func NewBranchRepository(db *gorm.DB) BranchRepository {
	return &branchRepository{db: db}
}

// WithTx 返回绑定到事务的仓储
func (r *branchRepository) WithTx(tx *gorm.DB) BranchRepository {
	return &branchRepository{db: tx}
}

// SaveBranch 保存分支
func (r *branchRepository) SaveBranch(branch *model.BranchModel) error {
	return r.db.Save(branch).Error
}

// FindBranchByID 根据 ID 查找分支
func (r *branchRepository) FindBranchByID(id string) (*model.BranchModel, error) {
	var branch model.BranchModel
	if err := r.db.Where("id = ?", id).First(&branch).Error; err != nil {
		return nil, err
	}
	return &branch, nil
}

// FindBranchByCode 根据编码查找分支
func (r *branchRepository) FindBranchByCode(code string) (*model.BranchModel, error) {
	var branch model.BranchModel
	if err := r.db.Where("code = ?", code).First(&branch).Error; err != nil {
		return nil, err
	}
	return &branch, nil
}

// ListBranches 列出公司下的分支
func (r *branchRepository) ListBranches(companyID string) ([]*model.BranchModel, error) {
	var branches []*model.BranchModel
	query := r.db.Order("code ASC")
	if companyID != "" {
		query = query.Where("company_id = ?", companyID)
	}
	err := query.Find(&branches).Error
	return branches, err
}

// SaveLocation 保存库位
func (r *branchRepository) SaveLocation(location *model.LocationModel) error {
	return r.db.Save(location).Error
}

// FindLocationByID 根据 ID 查找库位
func (r *branchRepository) FindLocationByID(id string) (*model.LocationModel, error) {
	var location model.LocationModel
	if err := r.db.Where("id = ?", id).First(&location).Error; err != nil {
		return nil, err
	}
	return &location, nil
}

// FindDefaultLocation 查找分支指定用途的库位,优先返回默认库位
func (r *branchRepository) FindDefaultLocation(branchID string, usage string) (*model.LocationModel, error) {
	var location model.LocationModel
	err := r.db.Where("branch_id = ? AND usage = ?", branchID, usage).
		Order("is_default DESC, created_at ASC").
		First(&location).Error
	if err != nil {
		return nil, err
	}
	return &location, nil
}

// ListLocations 列出分支的库位
func (r *branchRepository) ListLocations(branchID string) ([]*model.LocationModel, error) {
	var locations []*model.LocationModel
	err := r.db.Where("branch_id = ?", branchID).Order("created_at ASC").Find(&locations).Error
	return locations, err
}

// SaveOperationType 保存作业类型
func (r *branchRepository) SaveOperationType(opType *model.OperationTypeModel) error {
	return r.db.Save(opType).Error
}

// FindOperationType 查找分支的作业类型
func (r *branchRepository) FindOperationType(branchID string, code string) (*model.OperationTypeModel, error) {
	var opType model.OperationTypeModel
	err := r.db.Where("branch_id = ? AND code = ?", branchID, code).
		Order("created_at ASC").
		First(&opType).Error
	if err != nil {
		return nil, err
	}
	return &opType, nil
}

// SaveDepartment 保存部门
func (r *branchRepository) SaveDepartment(dept *model.DepartmentModel) error {
	return r.db.Save(dept).Error
}

// FindDepartmentByID 根据 ID 查找部门
func (r *branchRepository) FindDepartmentByID(id string) (*model.DepartmentModel, error) {
	var dept model.DepartmentModel
	if err := r.db.Where("id = ?", id).First(&dept).Error; err != nil {
		return nil, err
	}
	return &dept, nil
}

// ListDepartments 列出公司下的部门
func (r *branchRepository) ListDepartments(companyID string) ([]*model.DepartmentModel, error) {
	var depts []*model.DepartmentModel
	query := r.db.Order("name ASC")
	if companyID != "" {
		query = query.Where("company_id = ?", companyID)
	}
	err := query.Find(&depts).Error
	return depts, err
}
