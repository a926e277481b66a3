package model

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// 调拨申请优先级
const (
	PriorityNormal = "normal"
	PriorityUrgent = "urgent"
)

// RequestLine 申请明细公共字段
type RequestLine struct {
	ProductID string          `gorm:"type:varchar(64);not null;index" json:"product_id"`
	Quantity  decimal.Decimal `gorm:"type:numeric(16,4);not null" json:"quantity"`
	Uom       string          `gorm:"type:varchar(32);not null" json:"uom"`
	Note      string          `gorm:"type:text" json:"note"`
}

// Validate 验证明细
func (l *RequestLine) Validate() error {
	if l.ProductID == "" {
		return errors.New("product ID is required")
	}
	if l.Uom == "" {
		return errors.New("unit of measure is required")
	}
	return nil
}

// BranchRequestModel 分支调拨申请
// SourceBranchID 为供货分支,DestinationBranchID 为申请分支
type BranchRequestModel struct {
	ID                  string                   `gorm:"primaryKey;type:varchar(64)" json:"id"`
	Reference           string                   `gorm:"type:varchar(64);not null;uniqueIndex" json:"reference"`
	CompanyID           string                   `gorm:"type:varchar(64);not null;index" json:"company_id"`
	RequesterID         string                   `gorm:"type:varchar(64);not null;index" json:"requester_id"`
	SourceBranchID      string                   `gorm:"type:varchar(64);not null" json:"source_branch_id"`
	DestinationBranchID string                   `gorm:"type:varchar(64);not null" json:"destination_branch_id"`
	State               string                   `gorm:"type:varchar(32);not null;index" json:"state"`
	RequestDate         time.Time                `gorm:"not null" json:"request_date"`
	ExpectedDate        *time.Time               `json:"expected_date"`
	Note                string                   `gorm:"type:text" json:"note"`
	ApprovedBy          string                   `gorm:"type:varchar(64)" json:"approved_by"`
	ApprovedAt          *time.Time               `json:"approved_at"`
	RejectionReason     string                   `gorm:"type:text" json:"rejection_reason"`
	TransferID          string                   `gorm:"type:varchar(64);index" json:"transfer_id"` // 生成的调拨单
	Lines               []BranchRequestLineModel `gorm:"foreignKey:RequestID;constraint:OnDelete:CASCADE" json:"lines"`
	CreatedAt           time.Time                `gorm:"not null" json:"created_at"`
	UpdatedAt           time.Time                `gorm:"not null" json:"updated_at"`
}

// TableName 指定表名
func (BranchRequestModel) TableName() string {
	return "branch_requests"
}

// Validate 验证分支调拨申请
func (r *BranchRequestModel) Validate() error {
	if r.ID == "" {
		return errors.New("request ID is required")
	}
	if r.Reference == "" {
		return errors.New("reference is required")
	}
	if r.SourceBranchID == "" || r.DestinationBranchID == "" {
		return errors.New("source and destination branch are required")
	}
	if r.SourceBranchID == r.DestinationBranchID {
		return errors.New("source and destination branch must differ")
	}
	if r.RequesterID == "" {
		return errors.New("requester is required")
	}
	for i := range r.Lines {
		if err := r.Lines[i].Validate(); err != nil {
			return err
		}
	}
	return nil
}

// BranchRequestLineModel 分支调拨申请明细
type BranchRequestLineModel struct {
	ID          string            `gorm:"primaryKey;type:varchar(64)" json:"id"`
	RequestID   string            `gorm:"type:varchar(64);not null;index" json:"request_id"`
	RequestLine `gorm:"embedded"`
}

// TableName 指定表名
func (BranchRequestLineModel) TableName() string {
	return "branch_request_lines"
}

// TransferRequestModel 内部调拨申请
type TransferRequestModel struct {
	ID                  string                     `gorm:"primaryKey;type:varchar(64)" json:"id"`
	Reference           string                     `gorm:"type:varchar(64);not null;uniqueIndex" json:"reference"`
	CompanyID           string                     `gorm:"type:varchar(64);not null;index" json:"company_id"`
	RequesterID         string                     `gorm:"type:varchar(64);not null;index" json:"requester_id"`
	SourceBranchID      string                     `gorm:"type:varchar(64);not null" json:"source_branch_id"`
	DestinationBranchID string                     `gorm:"type:varchar(64);not null" json:"destination_branch_id"`
	SourceLocationID    string                     `gorm:"type:varchar(64)" json:"source_location_id"`
	DestLocationID      string                     `gorm:"type:varchar(64)" json:"dest_location_id"`
	Priority            string                     `gorm:"type:varchar(16);not null;default:'normal'" json:"priority"`
	State               string                     `gorm:"type:varchar(32);not null;index" json:"state"`
	RequestDate         time.Time                  `gorm:"not null" json:"request_date"`
	ScheduledDate       *time.Time                 `json:"scheduled_date"`
	Note                string                     `gorm:"type:text" json:"note"`
	ApprovedBy          string                     `gorm:"type:varchar(64)" json:"approved_by"`
	ApprovedAt          *time.Time                 `json:"approved_at"`
	RejectionReason     string                     `gorm:"type:text" json:"rejection_reason"`
	PutAwayBy           string                     `gorm:"type:varchar(64)" json:"put_away_by"`
	PutAwayAt           *time.Time                 `json:"put_away_at"`
	TransferID          string                     `gorm:"type:varchar(64);index" json:"transfer_id"`
	Lines               []TransferRequestLineModel `gorm:"foreignKey:RequestID;constraint:OnDelete:CASCADE" json:"lines"`
	CreatedAt           time.Time                  `gorm:"not null" json:"created_at"`
	UpdatedAt           time.Time                  `gorm:"not null" json:"updated_at"`
}

// TableName 指定表名
func (TransferRequestModel) TableName() string {
	return "transfer_requests"
}

// Validate 验证内部调拨申请
func (r *TransferRequestModel) Validate() error {
	if r.ID == "" {
		return errors.New("request ID is required")
	}
	if r.Reference == "" {
		return errors.New("reference is required")
	}
	if r.SourceBranchID == "" || r.DestinationBranchID == "" {
		return errors.New("source and destination branch are required")
	}
	if r.Priority != PriorityNormal && r.Priority != PriorityUrgent {
		return errors.New("invalid priority")
	}
	for i := range r.Lines {
		if err := r.Lines[i].Validate(); err != nil {
			return err
		}
	}
	return nil
}

// TransferRequestLineModel 内部调拨申请明细
type TransferRequestLineModel struct {
	ID          string            `gorm:"primaryKey;type:varchar(64)" json:"id"`
	RequestID   string            `gorm:"type:varchar(64);not null;index" json:"request_id"`
	RequestLine `gorm:"embedded"`
}

// TableName 指定表名
func (TransferRequestLineModel) TableName() string {
	return "transfer_request_lines"
}

// PurchaseRequisitionModel 内部采购申请
type PurchaseRequisitionModel struct {
	ID                string                         `gorm:"primaryKey;type:varchar(64)" json:"id"`
	Reference         string                         `gorm:"type:varchar(64);not null;uniqueIndex" json:"reference"`
	CompanyID         string                         `gorm:"type:varchar(64);not null;index" json:"company_id"`
	RequesterID       string                         `gorm:"type:varchar(64);not null;index" json:"requester_id"`
	DepartmentID      string                         `gorm:"type:varchar(64);not null" json:"department_id"`
	BranchID          string                         `gorm:"type:varchar(64)" json:"branch_id"` // 收货分支
	VendorID          string                         `gorm:"type:varchar(64)" json:"vendor_id"`
	State             string                         `gorm:"type:varchar(32);not null;index" json:"state"`
	RequestDate       time.Time                      `gorm:"not null" json:"request_date"`
	RequiredDate      *time.Time                     `json:"required_date"`
	Note              string                         `gorm:"type:text" json:"note"`
	OfficerApprovedBy string                         `gorm:"type:varchar(64)" json:"officer_approved_by"`
	OfficerApprovedAt *time.Time                     `json:"officer_approved_at"`
	ApprovedBy        string                         `gorm:"type:varchar(64)" json:"approved_by"`
	ApprovedAt        *time.Time                     `json:"approved_at"`
	RejectedBy        string                         `gorm:"type:varchar(64)" json:"rejected_by"`
	RejectionReason   string                         `gorm:"type:text" json:"rejection_reason"`
	PurchaseOrderID   string                         `gorm:"type:varchar(64);index" json:"purchase_order_id"`
	Lines             []PurchaseRequisitionLineModel `gorm:"foreignKey:RequisitionID;constraint:OnDelete:CASCADE" json:"lines"`
	CreatedAt         time.Time                      `gorm:"not null" json:"created_at"`
	UpdatedAt         time.Time                      `gorm:"not null" json:"updated_at"`
}

// TableName 指定表名
func (PurchaseRequisitionModel) TableName() string {
	return "purchase_requisitions"
}

// Validate 验证采购申请
func (r *PurchaseRequisitionModel) Validate() error {
	if r.ID == "" {
		return errors.New("requisition ID is required")
	}
	if r.Reference == "" {
		return errors.New("reference is required")
	}
	if r.DepartmentID == "" {
		return errors.New("department is required")
	}
	for i := range r.Lines {
		if err := r.Lines[i].Validate(); err != nil {
			return err
		}
		if r.Lines[i].UnitPrice.IsNegative() {
			return errors.New("unit price cannot be negative")
		}
	}
	return nil
}

// PurchaseRequisitionLineModel 采购申请明细
type PurchaseRequisitionLineModel struct {
	ID            string            `gorm:"primaryKey;type:varchar(64)" json:"id"`
	RequisitionID string            `gorm:"type:varchar(64);not null;index" json:"requisition_id"`
	RequestLine   `gorm:"embedded"`
	UnitPrice     decimal.Decimal   `gorm:"type:numeric(16,2);not null;default:0" json:"unit_price"`
	Description   string            `gorm:"type:text" json:"description"`
}

// TableName 指定表名
func (PurchaseRequisitionLineModel) TableName() string {
	return "purchase_requisition_lines"
}
