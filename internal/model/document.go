package model

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// 调拨单状态
const (
	TransferDraft     = "draft"
	TransferConfirmed = "confirmed"
	TransferInTransit = "in_transit"
	TransferDone      = "done"
	TransferCancelled = "cancelled"
)

// 采购单状态
const (
	PurchaseOrderDraft     = "draft"
	PurchaseOrderPurchase  = "purchase"
	PurchaseOrderCancelled = "cancelled"
)

// TransferDocumentModel 调拨单（库存作业单据）
// RequestType/RequestID 指向生成该单据的申请
type TransferDocumentModel struct {
	ID               string              `gorm:"primaryKey;type:varchar(64)" json:"id"`
	Reference        string              `gorm:"type:varchar(64);not null;uniqueIndex" json:"reference"`
	CompanyID        string              `gorm:"type:varchar(64);not null;index" json:"company_id"`
	OperationTypeID  string              `gorm:"type:varchar(64);not null" json:"operation_type_id"`
	SourceLocationID string              `gorm:"type:varchar(64);not null" json:"source_location_id"`
	DestLocationID   string              `gorm:"type:varchar(64);not null" json:"dest_location_id"`
	RequestType      string              `gorm:"type:varchar(32);not null;index:idx_transfer_request" json:"request_type"`
	RequestID        string              `gorm:"type:varchar(64);not null;index:idx_transfer_request" json:"request_id"`
	State            string              `gorm:"type:varchar(32);not null;index" json:"state"`
	ScheduledDate    time.Time           `gorm:"not null" json:"scheduled_date"`
	DispatchedAt     *time.Time          `json:"dispatched_at"`
	DoneAt           *time.Time          `json:"done_at"`
	Origin           string              `gorm:"type:varchar(64)" json:"origin"` // 来源申请编号
	Moves            []TransferMoveModel `gorm:"foreignKey:TransferID;constraint:OnDelete:CASCADE" json:"moves"`
	CreatedAt        time.Time           `gorm:"not null" json:"created_at"`
	UpdatedAt        time.Time           `gorm:"not null" json:"updated_at"`
}

// TableName 指定表名
func (TransferDocumentModel) TableName() string {
	return "transfer_documents"
}

// Validate 验证调拨单
func (d *TransferDocumentModel) Validate() error {
	if d.ID == "" {
		return errors.New("transfer ID is required")
	}
	if d.Reference == "" {
		return errors.New("reference is required")
	}
	if d.SourceLocationID == "" || d.DestLocationID == "" {
		return errors.New("source and destination location are required")
	}
	if d.RequestType == "" || d.RequestID == "" {
		return errors.New("originating request is required")
	}
	if len(d.Moves) == 0 {
		return errors.New("transfer has no moves")
	}
	return nil
}

// TransferMoveModel 调拨单明细
type TransferMoveModel struct {
	ID           string          `gorm:"primaryKey;type:varchar(64)" json:"id"`
	TransferID   string          `gorm:"type:varchar(64);not null;index" json:"transfer_id"`
	ProductID    string          `gorm:"type:varchar(64);not null;index" json:"product_id"`
	Quantity     decimal.Decimal `gorm:"type:numeric(16,4);not null" json:"quantity"`
	QuantityDone decimal.Decimal `gorm:"type:numeric(16,4);not null;default:0" json:"quantity_done"`
	Uom          string          `gorm:"type:varchar(32);not null" json:"uom"`
}

// TableName 指定表名
func (TransferMoveModel) TableName() string {
	return "transfer_moves"
}

// PurchaseOrderModel 采购单
type PurchaseOrderModel struct {
	ID            string                   `gorm:"primaryKey;type:varchar(64)" json:"id"`
	Reference     string                   `gorm:"type:varchar(64);not null;uniqueIndex" json:"reference"`
	CompanyID     string                   `gorm:"type:varchar(64);not null;index" json:"company_id"`
	VendorID      string                   `gorm:"type:varchar(64)" json:"vendor_id"`
	RequisitionID string                   `gorm:"type:varchar(64);not null;index" json:"requisition_id"`
	State         string                   `gorm:"type:varchar(32);not null;index" json:"state"`
	OrderDate     time.Time                `gorm:"not null" json:"order_date"`
	ConfirmedAt   *time.Time               `json:"confirmed_at"`
	AmountTotal   decimal.Decimal          `gorm:"type:numeric(16,2);not null;default:0" json:"amount_total"`
	Origin        string                   `gorm:"type:varchar(64)" json:"origin"`
	Lines         []PurchaseOrderLineModel `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE" json:"lines"`
	CreatedAt     time.Time                `gorm:"not null" json:"created_at"`
	UpdatedAt     time.Time                `gorm:"not null" json:"updated_at"`
}

// TableName 指定表名
func (PurchaseOrderModel) TableName() string {
	return "purchase_orders"
}

// Validate 验证采购单
func (o *PurchaseOrderModel) Validate() error {
	if o.ID == "" {
		return errors.New("purchase order ID is required")
	}
	if o.Reference == "" {
		return errors.New("reference is required")
	}
	if o.RequisitionID == "" {
		return errors.New("requisition is required")
	}
	if len(o.Lines) == 0 {
		return errors.New("purchase order has no lines")
	}
	return nil
}

// PurchaseOrderLineModel 采购单明细
type PurchaseOrderLineModel struct {
	ID          string          `gorm:"primaryKey;type:varchar(64)" json:"id"`
	OrderID     string          `gorm:"type:varchar(64);not null;index" json:"order_id"`
	ProductID   string          `gorm:"type:varchar(64);not null" json:"product_id"`
	Description string          `gorm:"type:text" json:"description"`
	Quantity    decimal.Decimal `gorm:"type:numeric(16,4);not null" json:"quantity"`
	Uom         string          `gorm:"type:varchar(32);not null" json:"uom"`
	UnitPrice   decimal.Decimal `gorm:"type:numeric(16,2);not null;default:0" json:"unit_price"`
	Subtotal    decimal.Decimal `gorm:"type:numeric(16,2);not null;default:0" json:"subtotal"`
}

// TableName 指定表名
func (PurchaseOrderLineModel) TableName() string {
	return "purchase_order_lines"
}
