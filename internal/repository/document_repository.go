package repository

import (
	"github.com/mautops/branch-ops/internal/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DocumentRepository 调拨单与采购单仓储接口
type DocumentRepository interface {
	WithTx(tx *gorm.DB) DocumentRepository
	CreateTransfer(doc *model.TransferDocumentModel) error
	UpdateTransfer(doc *model.TransferDocumentModel) error
	UpdateMove(move *model.TransferMoveModel) error
	FindTransferByID(id string) (*model.TransferDocumentModel, error)
	FindTransferByReference(reference string) (*model.TransferDocumentModel, error)
	FindTransfersByRequest(requestType string, requestID string) ([]*model.TransferDocumentModel, error)
	CreatePurchaseOrder(order *model.PurchaseOrderModel) error
	UpdatePurchaseOrder(order *model.PurchaseOrderModel) error
	FindPurchaseOrderByID(id string) (*model.PurchaseOrderModel, error)
	FindPurchaseOrdersByRequisition(requisitionID string) ([]*model.PurchaseOrderModel, error)
}

// documentRepository 单据仓储实现
type documentRepository struct {
	db *gorm.DB
}

// NewDocumentRepository 创建单据仓储
func NewDocumentRepository(db *gorm.DB) DocumentRepository {
	return &documentRepository{db: db}
}

// WithTx 返回绑定到事务的仓储
func (r *documentRepository) WithTx(tx *gorm.DB) DocumentRepository {
	return &documentRepository{db: tx}
}

// CreateTransfer 创建调拨单及明细
func (r *documentRepository) CreateTransfer(doc *model.TransferDocumentModel) error {
	return r.db.Create(doc).Error
}

// UpdateTransfer 更新调拨单表头
func (r *documentRepository) UpdateTransfer(doc *model.TransferDocumentModel) error {
	return r.db.Omit(clause.Associations).Save(doc).Error
}

// UpdateMove 更新调拨明细
func (r *documentRepository) UpdateMove(move *model.TransferMoveModel) error {
	return r.db.Save(move).Error
}

// FindTransferByID 根据 ID 查找调拨单
func (r *documentRepository) FindTransferByID(id string) (*model.TransferDocumentModel, error) {
	var doc model.TransferDocumentModel
	if err := r.db.Preload("Moves").Where("id = ?", id).First(&doc).Error; err != nil {
		return nil, err
	}
	return &doc, nil
}

// FindTransferByReference 根据单号查找调拨单
func (r *documentRepository) FindTransferByReference(reference string) (*model.TransferDocumentModel, error) {
	var doc model.TransferDocumentModel
	if err := r.db.Preload("Moves").Where("reference = ?", reference).First(&doc).Error; err != nil {
		return nil, err
	}
	return &doc, nil
}

// FindTransfersByRequest 查找申请生成的所有调拨单
func (r *documentRepository) FindTransfersByRequest(requestType string, requestID string) ([]*model.TransferDocumentModel, error) {
	var docs []*model.TransferDocumentModel
	err := r.db.Preload("Moves").
		Where("request_type = ? AND request_id = ?", requestType, requestID).
		Order("created_at ASC").
		Find(&docs).Error
	return docs, err
}

// CreatePurchaseOrder 创建采购单及明细
func (r *documentRepository) CreatePurchaseOrder(order *model.PurchaseOrderModel) error {
	return r.db.Create(order).Error
}

// UpdatePurchaseOrder 更新采购单表头
func (r *documentRepository) UpdatePurchaseOrder(order *model.PurchaseOrderModel) error {
	return r.db.Omit(clause.Associations).Save(order).Error
}

// FindPurchaseOrderByID 根据 ID 查找采购单
func (r *documentRepository) FindPurchaseOrderByID(id string) (*model.PurchaseOrderModel, error) {
	var order model.PurchaseOrderModel
	if err := r.db.Preload("Lines").Where("id = ?", id).First(&order).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

// FindPurchaseOrdersByRequisition 查找采购申请生成的采购单
func (r *documentRepository) FindPurchaseOrdersByRequisition(requisitionID string) ([]*model.PurchaseOrderModel, error) {
	var orders []*model.PurchaseOrderModel
	err := r.db.Preload("Lines").
		Where("requisition_id = ?", requisitionID).
		Order("created_at ASC").
		Find(&orders).Error
	return orders, err
}
