package repository

import (
	"github.com/mautops/branch-ops/internal/model"
	"gorm.io/gorm"
)

// ProductFilter 产品查询过滤器
type ProductFilter struct {
	Keyword     *string
	TrackSerial *bool
	IsArticle   *bool
	Page        int
	PageSize    int
}

// ProductRepository 产品仓储接口
type ProductRepository interface {
	WithTx(tx *gorm.DB) ProductRepository
	Save(product *model.ProductModel) error
	FindByID(id string) (*model.ProductModel, error)
	FindByIDs(ids []string) ([]*model.ProductModel, error)
	FindByCode(code string) (*model.ProductModel, error)
	FindByBarcode(barcode string) (*model.ProductModel, error)
	FindByFilter(filter *ProductFilter) ([]*model.ProductModel, int64, error)
}

// productRepository 产品仓储实现
type productRepository struct {
	db *gorm.DB
}

// NewProductRepository 创建产品仓储
func NewProductRepository(db *gorm.DB) ProductRepository {
	return &productRepository{db: db}
}

// WithTx 返回绑定到事务的仓储
func (r *productRepository) WithTx(tx *gorm.DB) ProductRepository {
	return &productRepository{db: tx}
}

// Save 保存产品
func (r *productRepository) Save(product *model.ProductModel) error {
	return r.db.Save(product).Error
}

// FindByID 根据 ID 查找产品
func (r *productRepository) FindByID(id string) (*model.ProductModel, error) {
	var product model.ProductModel
	if err := r.db.Where("id = ?", id).First(&product).Error; err != nil {
		return nil, err
	}
	return &product, nil
}

// FindByIDs 批量查找产品
func (r *productRepository) FindByIDs(ids []string) ([]*model.ProductModel, error) {
	var products []*model.ProductModel
	if len(ids) == 0 {
		return products, nil
	}
	err := r.db.Where("id IN ?", ids).Find(&products).Error
	return products, err
}

// FindByCode 根据货号查找产品
func (r *productRepository) FindByCode(code string) (*model.ProductModel, error) {
	var product model.ProductModel
	if err := r.db.Where("default_code = ?", code).First(&product).Error; err != nil {
		return nil, err
	}
	return &product, nil
}

// FindByBarcode 根据条码查找产品
func (r *productRepository) FindByBarcode(barcode string) (*model.ProductModel, error) {
	var product model.ProductModel
	if err := r.db.Where("barcode = ?", barcode).First(&product).Error; err != nil {
		return nil, err
	}
	return &product, nil
}

// FindByFilter 根据过滤器查找产品
func (r *productRepository) FindByFilter(filter *ProductFilter) ([]*model.ProductModel, int64, error) {
	query := r.db.Model(&model.ProductModel{})
	if filter != nil {
		if filter.Keyword != nil && *filter.Keyword != "" {
			like := "%" + *filter.Keyword + "%"
			query = query.Where("name LIKE ? OR default_code LIKE ? OR barcode LIKE ?", like, like, like)
		}
		if filter.TrackSerial != nil {
			query = query.Where("track_serial = ?", *filter.TrackSerial)
		}
		if filter.IsArticle != nil {
			query = query.Where("is_article = ?", *filter.IsArticle)
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
	var products []*model.ProductModel
	err := query.Order("default_code ASC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&products).Error
	return products, total, err
}
