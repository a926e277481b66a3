package repository

import (
	"fmt"
	"strings"
	"time"

	"github.com/mautops/branch-ops/internal/model"
	"github.com/mautops/branch-ops/internal/utils"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// RequestFilter 申请列表查询过滤器
type RequestFilter struct {
	CompanyID   string
	State       *string
	RequesterID *string
	BranchID    *string // 匹配来源或目标分支
	StartTime   *time.Time
	EndTime     *time.Time
	Page        int
	PageSize    int
	SortBy      string
	Order       string
}

// filterRequests 应用公共过滤条件
func filterRequests(query *gorm.DB, filter *RequestFilter, branchColumns ...string) *gorm.DB {
	if filter == nil {
		return query
	}
	if filter.CompanyID != "" {
		query = query.Where("company_id = ?", filter.CompanyID)
	}
	if filter.State != nil {
		query = query.Where("state = ?", *filter.State)
	}
	if filter.RequesterID != nil {
		query = query.Where("requester_id = ?", *filter.RequesterID)
	}
	if filter.BranchID != nil && len(branchColumns) > 0 {
		conds := make([]string, 0, len(branchColumns))
		args := make([]interface{}, 0, len(branchColumns))
		for _, col := range branchColumns {
			conds = append(conds, col+" = ?")
			args = append(args, *filter.BranchID)
		}
		query = query.Where("("+strings.Join(conds, " OR ")+")", args...)
	}
	if filter.StartTime != nil {
		query = query.Where("request_date >= ?", *filter.StartTime)
	}
	if filter.EndTime != nil {
		query = query.Where("request_date <= ?", *filter.EndTime)
	}
	return query
}

// pageRequests 应用排序与分页（校验排序字段,防止 SQL 注入）
func pageRequests(query *gorm.DB, filter *RequestFilter) (*gorm.DB, error) {
	if filter == nil {
		filter = &RequestFilter{}
	}
	sortBy := filter.SortBy
	if sortBy == "" {
		sortBy = "created_at"
	}
	if err := utils.ValidateSortField(sortBy); err != nil {
		return nil, fmt.Errorf("invalid sort field: %w", err)
	}
	order := filter.Order
	if order == "" {
		order = "desc"
	}
	if err := utils.ValidateSortOrder(order); err != nil {
		return nil, fmt.Errorf("invalid sort order: %w", err)
	}

	page, pageSize := normalizePage(filter.Page, filter.PageSize)
	return query.Order(fmt.Sprintf("%s %s", sortBy, strings.ToUpper(order))).
		Offset((page - 1) * pageSize).
		Limit(pageSize), nil
}

// BranchRequestRepository 分支调拨申请仓储接口
type BranchRequestRepository interface {
	WithTx(tx *gorm.DB) BranchRequestRepository
	Create(req *model.BranchRequestModel) error
	Update(req *model.BranchRequestModel) error
	ReplaceLines(requestID string, lines []model.BranchRequestLineModel) error
	FindByID(id string) (*model.BranchRequestModel, error)
	FindByIDForUpdate(id string) (*model.BranchRequestModel, error)
	FindByTransferID(transferID string) (*model.BranchRequestModel, error)
	FindByFilter(filter *RequestFilter) ([]*model.BranchRequestModel, int64, error)
	FindByStates(states []string, afterID string, limit int) ([]*model.BranchRequestModel, error)
}

// branchRequestRepository 分支调拨申请仓储实现
type branchRequestRepository struct {
	db *gorm.DB
}

// NewBranchRequestRepository 创建分支调拨申请仓储
func NewBranchRequestRepository(db *gorm.DB) BranchRequestRepository {
	return &branchRequestRepository{db: db}
}

func (r *branchRequestRepository) WithTx(tx *gorm.DB) BranchRequestRepository {
	return &branchRequestRepository{db: tx}
}

// Create 创建申请及明细
func (r *branchRequestRepository) Create(req *model.BranchRequestModel) error {
	return r.db.Create(req).Error
}

// Update 更新申请表头,不处理明细
func (r *branchRequestRepository) Update(req *model.BranchRequestModel) error {
	return r.db.Omit(clause.Associations).Save(req).Error
}

// ReplaceLines 替换申请明细
func (r *branchRequestRepository) ReplaceLines(requestID string, lines []model.BranchRequestLineModel) error {
	if err := r.db.Where("request_id = ?", requestID).Delete(&model.BranchRequestLineModel{}).Error; err != nil {
		return err
	}
	if len(lines) == 0 {
		return nil
	}
	return r.db.Create(&lines).Error
}

func (r *branchRequestRepository) FindByID(id string) (*model.BranchRequestModel, error) {
	var req model.BranchRequestModel
	if err := r.db.Preload("Lines").Where("id = ?", id).First(&req).Error; err != nil {
		return nil, err
	}
	return &req, nil
}

// FindByIDForUpdate 加行锁读取申请
func (r *branchRequestRepository) FindByIDForUpdate(id string) (*model.BranchRequestModel, error) {
	var req model.BranchRequestModel
	err := r.db.Clauses(clause.Locking{Strength: "UPDATE"}).
		Preload("Lines").
		Where("id = ?", id).
		First(&req).Error
	if err != nil {
		return nil, err
	}
	return &req, nil
}

func (r *branchRequestRepository) FindByTransferID(transferID string) (*model.BranchRequestModel, error) {
	var req model.BranchRequestModel
	if err := r.db.Preload("Lines").Where("transfer_id = ?", transferID).First(&req).Error; err != nil {
		return nil, err
	}
	return &req, nil
}

func (r *branchRequestRepository) FindByFilter(filter *RequestFilter) ([]*model.BranchRequestModel, int64, error) {
	query := filterRequests(r.db.Model(&model.BranchRequestModel{}), filter, "source_branch_id", "destination_branch_id")
	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	paged, err := pageRequests(query, filter)
	if err != nil {
		return nil, 0, err
	}
	var reqs []*model.BranchRequestModel
	err = paged.Preload("Lines").Find(&reqs).Error
	return reqs, total, err
}

// statePage 按 id 游标分页查询指定状态的记录,afterID 为空时从头开始
func statePage(db *gorm.DB, states []string, afterID string, limit int) *gorm.DB {
	query := db.Where("state IN ?", states)
	if afterID != "" {
		query = query.Where("id > ?", afterID)
	}
	query = query.Order("id ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	return query
}

// FindByStates 查找处于指定状态的申请,按 id 升序分页
func (r *branchRequestRepository) FindByStates(states []string, afterID string, limit int) ([]*model.BranchRequestModel, error) {
	var reqs []*model.BranchRequestModel
	err := statePage(r.db, states, afterID, limit).Find(&reqs).Error
	return reqs, err
}

// TransferRequestRepository 内部调拨申请仓储接口
type TransferRequestRepository interface {
	WithTx(tx *gorm.DB) TransferRequestRepository
	Create(req *model.TransferRequestModel) error
	Update(req *model.TransferRequestModel) error
	ReplaceLines(requestID string, lines []model.TransferRequestLineModel) error
	FindByID(id string) (*model.TransferRequestModel, error)
	FindByIDForUpdate(id string) (*model.TransferRequestModel, error)
	FindByTransferID(transferID string) (*model.TransferRequestModel, error)
	FindByFilter(filter *RequestFilter) ([]*model.TransferRequestModel, int64, error)
	FindByStates(states []string, afterID string, limit int) ([]*model.TransferRequestModel, error)
}

// transferRequestRepository 内部调拨申请仓储实现
type transferRequestRepository struct {
	db *gorm.DB
}

// NewTransferRequestRepository 创建内部调拨申请仓储
func NewTransferRequestRepository(db *gorm.DB) TransferRequestRepository {
	return &transferRequestRepository{db: db}
}

func (r *transferRequestRepository) WithTx(tx *gorm.DB) TransferRequestRepository {
	return &transferRequestRepository{db: tx}
}

func (r *transferRequestRepository) Create(req *model.TransferRequestModel) error {
	return r.db.Create(req).Error
}

func (r *transferRequestRepository) Update(req *model.TransferRequestModel) error {
	return r.db.Omit(clause.Associations).Save(req).Error
}

func (r *transferRequestRepository) ReplaceLines(requestID string, lines []model.TransferRequestLineModel) error {
	if err := r.db.Where("request_id = ?", requestID).Delete(&model.TransferRequestLineModel{}).Error; err != nil {
		return err
	}
	if len(lines) == 0 {
		return nil
	}
	return r.db.Create(&lines).Error
}

func (r *transferRequestRepository) FindByID(id string) (*model.TransferRequestModel, error) {
	var req model.TransferRequestModel
	if err := r.db.Preload("Lines").Where("id = ?", id).First(&req).Error; err != nil {
		return nil, err
	}
	return &req, nil
}

func (r *transferRequestRepository) FindByIDForUpdate(id string) (*model.TransferRequestModel, error) {
	var req model.TransferRequestModel
	err := r.db.Clauses(clause.Locking{Strength: "UPDATE"}).
		Preload("Lines").
		Where("id = ?", id).
		First(&req).Error
	if err != nil {
		return nil, err
	}
	return &req, nil
}

func (r *transferRequestRepository) FindByTransferID(transferID string) (*model.TransferRequestModel, error) {
	var req model.TransferRequestModel
	if err := r.db.Preload("Lines").Where("transfer_id = ?", transferID).First(&req).Error; err != nil {
		return nil, err
	}
	return &req, nil
}

func (r *transferRequestRepository) FindByFilter(filter *RequestFilter) ([]*model.TransferRequestModel, int64, error) {
	query := filterRequests(r.db.Model(&model.TransferRequestModel{}), filter, "source_branch_id", "destination_branch_id")
	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	paged, err := pageRequests(query, filter)
	if err != nil {
		return nil, 0, err
	}
	var reqs []*model.TransferRequestModel
	err = paged.Preload("Lines").Find(&reqs).Error
	return reqs, total, err
}

func (r *transferRequestRepository) FindByStates(states []string, afterID string, limit int) ([]*model.TransferRequestModel, error) {
	var reqs []*model.TransferRequestModel
	err := statePage(r.db, states, afterID, limit).Find(&reqs).Error
	return reqs, err
}

// RequisitionRepository 采购申请仓储接口
type RequisitionRepository interface {
	WithTx(tx *gorm.DB) RequisitionRepository
	Create(req *model.PurchaseRequisitionModel) error
	Update(req *model.PurchaseRequisitionModel) error
	ReplaceLines(requisitionID string, lines []model.PurchaseRequisitionLineModel) error
	FindByID(id string) (*model.PurchaseRequisitionModel, error)
	FindByIDForUpdate(id string) (*model.PurchaseRequisitionModel, error)
	FindByPurchaseOrderID(orderID string) (*model.PurchaseRequisitionModel, error)
	FindByFilter(filter *RequestFilter) ([]*model.PurchaseRequisitionModel, int64, error)
	FindByStates(states []string, afterID string, limit int) ([]*model.PurchaseRequisitionModel, error)
}

// requisitionRepository 采购申请仓储实现
type requisitionRepository struct {
	db *gorm.DB
}

// NewRequisitionRepository 创建采购申请仓储
func NewRequisitionRepository(db *gorm.DB) RequisitionRepository {
	return &requisitionRepository{db: db}
}

func (r *requisitionRepository) WithTx(tx *gorm.DB) RequisitionRepository {
	return &requisitionRepository{db: tx}
}

func (r *requisitionRepository) Create(req *model.PurchaseRequisitionModel) error {
	return r.db.Create(req).Error
}

func (r *requisitionRepository) Update(req *model.PurchaseRequisitionModel) error {
	return r.db.Omit(clause.Associations).Save(req).Error
}

func (r *requisitionRepository) ReplaceLines(requisitionID string, lines []model.PurchaseRequisitionLineModel) error {
	if err := r.db.Where("requisition_id = ?", requisitionID).Delete(&model.PurchaseRequisitionLineModel{}).Error; err != nil {
		return err
	}
	if len(lines) == 0 {
		return nil
	}
	return r.db.Create(&lines).Error
}

func (r *requisitionRepository) FindByID(id string) (*model.PurchaseRequisitionModel, error) {
	var req model.PurchaseRequisitionModel
	if err := r.db.Preload("Lines").Where("id = ?", id).First(&req).Error; err != nil {
		return nil, err
	}
	return &req, nil
}

func (r *requisitionRepository) FindByIDForUpdate(id string) (*model.PurchaseRequisitionModel, error) {
	var req model.PurchaseRequisitionModel
	err := r.db.Clauses(clause.Locking{Strength: "UPDATE"}).
		Preload("Lines").
		Where("id = ?", id).
		First(&req).Error
	if err != nil {
		return nil, err
	}
	return &req, nil
}

func (r *requisitionRepository) FindByPurchaseOrderID(orderID string) (*model.PurchaseRequisitionModel, error) {
	var req model.PurchaseRequisitionModel
	if err := r.db.Preload("Lines").Where("purchase_order_id = ?", orderID).First(&req).Error; err != nil {
		return nil, err
	}
	return &req, nil
}

func (r *requisitionRepository) FindByFilter(filter *RequestFilter) ([]*model.PurchaseRequisitionModel, int64, error) {
	query := filterRequests(r.db.Model(&model.PurchaseRequisitionModel{}), filter, "branch_id")
	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	paged, err := pageRequests(query, filter)
	if err != nil {
		return nil, 0, err
	}
	var reqs []*model.PurchaseRequisitionModel
	err = paged.Preload("Lines").Find(&reqs).Error
	return reqs, total, err
}

func (r *requisitionRepository) FindByStates(states []string, afterID string, limit int) ([]*model.PurchaseRequisitionModel, error) {
	var reqs []*model.PurchaseRequisitionModel
	err := statePage(r.db, states, afterID, limit).Find(&reqs).Error
	return reqs, err
}
