package repository

import (
	"database/sql"

	"github.com/mautops/branch-ops/internal/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SerialFilter 序列号查询过滤器
type SerialFilter struct {
	CompanyID string
	ProductID *string
	Type      *string
	Status    *string
	BatchID   *string
	Page      int
	PageSize  int
}

// SerialRepository 序列号仓储接口
type SerialRepository interface {
	WithTx(tx *gorm.DB) SerialRepository
	CreateBatch(serials []*model.SerialNumberModel) error
	Update(serial *model.SerialNumberModel) error
	FindByCode(code string) (*model.SerialNumberModel, error)
	FindByCodeForUpdate(code string) (*model.SerialNumberModel, error)
	FindByIDs(ids []string) ([]*model.SerialNumberModel, error)
	ExistingCodes(codes []string) (map[string]bool, error)
	MaxSequence(serialType string, yearCode string) (int, error)
	FindByFilter(filter *SerialFilter) ([]*model.SerialNumberModel, int64, error)
	SaveMovement(movement *model.SerialMovementModel) error
	FindMovements(serialID string) ([]*model.SerialMovementModel, error)
	FindMovementsByDocument(documentID string) ([]*model.SerialMovementModel, error)
	CreateLabels(labels []*model.QRLabelModel) error
	FindLabelsByDocument(documentID string) ([]*model.QRLabelModel, error)
}

// serialRepository 序列号仓储实现
type serialRepository struct {
	db *gorm.DB
}

// NewSerialRepository 创建序列号仓储
func NewSerialRepository(db *gorm.DB) SerialRepository {
	return &serialRepository{db: db}
}

// WithTx 返回绑定到事务的仓储
func (r *serialRepository) WithTx(tx *gorm.DB) SerialRepository {
	return &serialRepository{db: tx}
}

// CreateBatch 批量创建序列号
func (r *serialRepository) CreateBatch(serials []*model.SerialNumberModel) error {
	if len(serials) == 0 {
		return nil
	}
	return r.db.CreateInBatches(serials, 200).Error
}

// Update 更新序列号
func (r *serialRepository) Update(serial *model.SerialNumberModel) error {
	return r.db.Save(serial).Error
}

// FindByCode 根据编码查找序列号
func (r *serialRepository) FindByCode(code string) (*model.SerialNumberModel, error) {
	var serial model.SerialNumberModel
	if err := r.db.Where("code = ?", code).First(&serial).Error; err != nil {
		return nil, err
	}
	return &serial, nil
}

// FindByCodeForUpdate 加行锁读取序列号,同一序列号的出入库登记串行执行
func (r *serialRepository) FindByCodeForUpdate(code string) (*model.SerialNumberModel, error) {
	var serial model.SerialNumberModel
	err := r.db.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("code = ?", code).
		First(&serial).Error
	if err != nil {
		return nil, err
	}
	return &serial, nil
}

// FindByIDs 批量查找序列号
func (r *serialRepository) FindByIDs(ids []string) ([]*model.SerialNumberModel, error) {
	var serials []*model.SerialNumberModel
	if len(ids) == 0 {
		return serials, nil
	}
	err := r.db.Where("id IN ?", ids).Order("sequence ASC").Find(&serials).Error
	return serials, err
}

// ExistingCodes 返回已存在的编码集合
func (r *serialRepository) ExistingCodes(codes []string) (map[string]bool, error) {
	existing := make(map[string]bool)
	if len(codes) == 0 {
		return existing, nil
	}
	var found []string
	if err := r.db.Model(&model.SerialNumberModel{}).Where("code IN ?", codes).Pluck("code", &found).Error; err != nil {
		return nil, err
	}
	for _, c := range found {
		existing[c] = true
	}
	return existing, nil
}

// MaxSequence 返回 (类型, 年份) 范围内的最大序号,没有记录时返回 0
func (r *serialRepository) MaxSequence(serialType string, yearCode string) (int, error) {
	var last sql.NullInt64
	err := r.db.Model(&model.SerialNumberModel{}).
		Where("type = ? AND year_code = ?", serialType, yearCode).
		Select("MAX(sequence)").
		Row().
		Scan(&last)
	if err != nil {
		return 0, err
	}
	return int(last.Int64), nil
}

// FindByFilter 根据过滤器查找序列号
func (r *serialRepository) FindByFilter(filter *SerialFilter) ([]*model.SerialNumberModel, int64, error) {
	query := r.db.Model(&model.SerialNumberModel{})
	if filter != nil {
		if filter.CompanyID != "" {
			query = query.Where("company_id = ?", filter.CompanyID)
		}
		if filter.ProductID != nil {
			query = query.Where("product_id = ?", *filter.ProductID)
		}
		if filter.Type != nil {
			query = query.Where("type = ?", *filter.Type)
		}
		if filter.Status != nil {
			query = query.Where("status = ?", *filter.Status)
		}
		if filter.BatchID != nil {
			query = query.Where("batch_id = ?", *filter.BatchID)
		}
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	page, pageSize := 1, DefaultPageSize
	if filter != nil {
		page, pageSize = normalizePage(filter.Page, filter.PageSize)
	}
	var serials []*model.SerialNumberModel
	err := query.Order("year_code DESC, type ASC, sequence DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&serials).Error
	return serials, total, err
}

// SaveMovement 保存扫描记录
func (r *serialRepository) SaveMovement(movement *model.SerialMovementModel) error {
	return r.db.Create(movement).Error
}

// FindMovements 查找序列号的扫描记录
func (r *serialRepository) FindMovements(serialID string) ([]*model.SerialMovementModel, error) {
	var movements []*model.SerialMovementModel
	err := r.db.Where("serial_id = ?", serialID).Order("id ASC").Find(&movements).Error
	return movements, err
}

// FindMovementsByDocument 查找单据上的扫描记录
func (r *serialRepository) FindMovementsByDocument(documentID string) ([]*model.SerialMovementModel, error) {
	var movements []*model.SerialMovementModel
	err := r.db.Where("document_id = ?", documentID).Order("id ASC").Find(&movements).Error
	return movements, err
}

// CreateLabels 批量创建二维码标签
func (r *serialRepository) CreateLabels(labels []*model.QRLabelModel) error {
	if len(labels) == 0 {
		return nil
	}
	return r.db.CreateInBatches(labels, 200).Error
}

// FindLabelsByDocument 查找单据的二维码标签
func (r *serialRepository) FindLabelsByDocument(documentID string) ([]*model.QRLabelModel, error) {
	var labels []*model.QRLabelModel
	err := r.db.Where("document_id = ?", documentID).Order("code ASC").Find(&labels).Error
	return labels, err
}
