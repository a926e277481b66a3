package repository

import (
	"github.com/mautops/branch-ops/internal/model"
	"gorm.io/gorm"
)

// PartnerFilter 合作伙伴查询过滤器
type PartnerFilter struct {
	CompanyID      string
	IsCustomer     *bool
	IsSupplier     *bool
	SupplierStatus *string
	Keyword        *string
	Page           int
	PageSize       int
}

// PartnerRepository 合作伙伴仓储接口
type PartnerRepository interface {
	WithTx(tx *gorm.DB) PartnerRepository
	Save(partner *model.PartnerModel) error
	FindByID(id string) (*model.PartnerModel, error)
	FindByFilter(filter *PartnerFilter) ([]*model.PartnerModel, int64, error)
}

// partnerRepository 合作伙伴仓储实现
type partnerRepository struct {
	db *gorm.DB
}

// NewPartnerRepository 创建合作伙伴仓储
func NewPartnerRepository(db *gorm.DB) PartnerRepository {
	return &partnerRepository{db: db}
}

// WithTx 返回绑定到事务的仓储
func (r *partnerRepository) WithTx(tx *gorm.DB) PartnerRepository {
	return &partnerRepository{db: tx}
}

// Save 保存合作伙伴
func (r *partnerRepository) Save(partner *model.PartnerModel) error {
	return r.db.Save(partner).Error
}

// FindByID 根据 ID 查找合作伙伴
func (r *partnerRepository) FindByID(id string) (*model.PartnerModel, error) {
	var partner model.PartnerModel
	if err := r.db.Where("id = ?", id).First(&partner).Error; err != nil {
		return nil, err
	}
	return &partner, nil
}

// FindByFilter 根据过滤器查找合作伙伴
func (r *partnerRepository) FindByFilter(filter *PartnerFilter) ([]*model.PartnerModel, int64, error) {
	query := r.db.Model(&model.PartnerModel{})
	if filter != nil {
		if filter.CompanyID != "" {
			query = query.Where("company_id = ?", filter.CompanyID)
		}
		if filter.IsCustomer != nil {
			query = query.Where("is_customer = ?", *filter.IsCustomer)
		}
		if filter.IsSupplier != nil {
			query = query.Where("is_supplier = ?", *filter.IsSupplier)
		}
		if filter.SupplierStatus != nil {
			query = query.Where("supplier_status = ?", *filter.SupplierStatus)
		}
		if filter.Keyword != nil && *filter.Keyword != "" {
			like := "%" + *filter.Keyword + "%"
			query = query.Where("name LIKE ? OR customer_code LIKE ? OR supplier_code LIKE ?", like, like, like)
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
	var partners []*model.PartnerModel
	err := query.Order("name ASC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&partners).Error
	return partners, total, err
}
